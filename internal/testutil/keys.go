package testutil

import (
	"fmt"
	"sync"
)

// SequenceKeyGenerator produces deterministic guard keys "<prefix>-1",
// "<prefix>-2", ... for tests.
//
// Unlike jit.UUIDv7Generator it can be reset, so the same scenario run twice
// yields identical keys.
//
// Thread-safety: all methods are safe for concurrent use via internal mutex.
type SequenceKeyGenerator struct {
	mu     sync.Mutex
	prefix string
	seq    int64
}

// NewSequenceKeyGenerator creates a generator. Empty prefix defaults to "key".
func NewSequenceKeyGenerator(prefix string) *SequenceKeyGenerator {
	if prefix == "" {
		prefix = "key"
	}
	return &SequenceKeyGenerator{prefix: prefix}
}

// Generate returns the next key. Implements jit.KeyGenerator.
func (g *SequenceKeyGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	return fmt.Sprintf("%s-%d", g.prefix, g.seq)
}

// Reset restarts the sequence. The next Generate returns "<prefix>-1".
func (g *SequenceKeyGenerator) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq = 0
}
