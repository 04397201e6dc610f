package exec

import (
	"sync"

	"github.com/google/uuid"
)

// KeyGenerator produces execution keys for callers that do not choose
// their own. Implemented by UUIDv7Generator (production) and
// FixedGenerator (tests).
type KeyGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 execution keys.
// Stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 as a hyphenated string.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedGenerator returns predetermined keys for deterministic tests and
// golden trace comparison. Panics when exhausted, which fails fast on a
// test creating more executions than it declared.
type FixedGenerator struct {
	mu   sync.Mutex
	keys []string
	idx  int
}

// NewFixedGenerator creates a generator that returns keys in order.
func NewFixedGenerator(keys ...string) *FixedGenerator {
	return &FixedGenerator{keys: keys}
}

// Generate returns the next predetermined key.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.idx >= len(g.keys) {
		panic("FixedGenerator: all keys exhausted")
	}
	k := g.keys[g.idx]
	g.idx++
	return k
}

// ChildKey derives a child execution key from its parent's key. The slash
// separator keeps child histories in a distinct namespace that never
// interleaves with the parent's.
func ChildKey(parent, suffix string) string {
	return parent + "/" + suffix
}
