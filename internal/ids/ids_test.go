package ids

import (
	"sort"
	"sync"
	"testing"
)

func TestUUIDv7_Monotonic(t *testing.T) {
	g := NewUUIDv7()

	prev := ""
	for i := 0; i < 10000; i++ {
		id := g.New()
		if !Newer(id, prev) {
			t.Fatalf("id %d (%s) not greater than previous %s", i, id, prev)
		}
		if !Valid(id) {
			t.Fatalf("id %s does not parse", id)
		}
		prev = id
	}
}

func TestUUIDv7_ConcurrentUnique(t *testing.T) {
	g := NewUUIDv7()

	const workers, perWorker = 8, 500
	var mu sync.Mutex
	seen := make(map[string]struct{}, workers*perWorker)
	var all []string

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				id := g.New()
				mu.Lock()
				seen[id] = struct{}{}
				all = append(all, id)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != workers*perWorker {
		t.Fatalf("expected %d unique ids, got %d", workers*perWorker, len(seen))
	}
	if !sort.StringsAreSorted(all) {
		t.Error("ids were not handed out in ascending order")
	}
}

func TestValid(t *testing.T) {
	if Valid("not-an-id") {
		t.Error("expected invalid id to be rejected")
	}
}
