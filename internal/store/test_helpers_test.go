package store

import (
	"path/filepath"
	"testing"
)

// createTestStore opens a fresh store in a per-test temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "keys.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// testKey builds a variant key with minimal required fields.
func testKey(guardKey string, graphID, priority uint32, forked ...uint32) VariantKey {
	return VariantKey{
		GuardKey:        guardKey,
		CompiledGraphID: graphID,
		Priority:        priority,
		ForkedIDs:       forked,
	}
}
