// Package ids mints the identifiers used for runtimes and executions.
//
// Identifiers are UUIDv7 strings: the leading 48 bits carry a millisecond timestamp,
// so the canonical hex form sorts lexicographically in generation order.
package ids

import (
	"sync"

	"github.com/google/uuid"
)

// Generator produces unique identifiers that increase monotonically.
type Generator interface {
	New() string
}

// UUIDv7 is the default Generator.
type UUIDv7 struct {
	mu   sync.Mutex
	last string
}

// NewUUIDv7 creates a generator.
func NewUUIDv7() *UUIDv7 {
	return &UUIDv7{}
}

// New returns an identifier strictly greater than every identifier this generator returned before.
func (g *UUIDv7) New() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	for {
		id := uuid.Must(uuid.NewV7()).String()
		if id > g.last {
			g.last = id
			return id
		}
	}
}

// Newer reports whether a was generated after b. The empty string sorts first.
func Newer(a, b string) bool {
	return a > b
}

// Valid reports whether s parses as an identifier.
func Valid(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
