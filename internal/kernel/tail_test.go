package kernel

import (
	"fmt"
	"strings"
	"testing"
)

func TestTail(t *testing.T) {
	b := NewTail(8)
	b.Write([]byte("first line\nlast"))
	if got := b.LastLine(); got != "last" {
		t.Errorf("expected last, got %q", got)
	}
	if got := b.String(); got != "ine\nlast" {
		t.Errorf("expected the last 8 bytes, got %q", got)
	}
}

func TestTail_ManySmallWrites(t *testing.T) {
	b := NewTail(MaxOutput)
	for i := 0; i < 20000; i++ {
		fmt.Fprintf(b, "line %05d\n", i)
	}
	out := b.String()
	if len(out) != MaxOutput {
		t.Fatalf("expected %d bytes kept, got %d", MaxOutput, len(out))
	}
	if !strings.HasSuffix(out, "line 19999\n") {
		t.Errorf("newest output dropped: %q", out[len(out)-20:])
	}
	if b.LastLine() != "line 19999" {
		t.Errorf("unexpected last line %q", b.LastLine())
	}
}
