package engine

import (
	"sync"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// IDGenerator produces client-side identities for optimistic creates.
// Implementations must be safe for concurrent use.
type IDGenerator interface {
	Generate() string
}

// UUIDGenerator generates random (version 4) UUIDs, hyphenated.
//
// Format: "550e8400-e29b-41d4-a716-446655440000" (36 characters)
type UUIDGenerator struct{}

// Generate returns a new UUID string.
func (UUIDGenerator) Generate() string {
	return uuid.NewString()
}

// ULIDGenerator generates short identifiers: 26-character ULIDs, sortable
// by creation time and monotonic within the process.
type ULIDGenerator struct{}

// Generate returns a new ULID string.
func (ULIDGenerator) Generate() string {
	return ulid.Make().String()
}

// GeneratorFor returns the identifier generator for the short-vs-long
// mode toggle.
func GeneratorFor(short bool) IDGenerator {
	if short {
		return ULIDGenerator{}
	}
	return UUIDGenerator{}
}

// FixedGenerator returns predetermined identities for testing.
//
// Thread-safety: FixedGenerator is safe for concurrent use via internal mutex.
type FixedGenerator struct {
	mu     sync.Mutex
	tokens []string
	idx    int
}

// NewFixedGenerator creates a generator that returns tokens in order.
//
// Example:
//
//	gen := NewFixedGenerator("u-1", "u-2")
//	gen.Generate() // "u-1"
//	gen.Generate() // "u-2"
//	gen.Generate() // panic: all tokens exhausted
func NewFixedGenerator(tokens ...string) *FixedGenerator {
	return &FixedGenerator{tokens: tokens}
}

// Generate returns the next predetermined token.
//
// Panics if all tokens have been consumed, which catches tests creating
// more records than they declared.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.tokens) {
		panic("FixedGenerator: all tokens exhausted")
	}
	token := g.tokens[g.idx]
	g.idx++
	return token
}
