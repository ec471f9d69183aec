package jit

import (
	"github.com/google/uuid"
)

// KeyGenerator assigns guard lookup keys to compiled variants.
// Implemented by UUIDv7Generator (production) and testutil.SequenceKeyGenerator (tests).
type KeyGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 guard keys.
//
// Sortable keys keep graphs/<key>.json listings in compilation order, which
// helps when inspecting a cache directory by hand.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
//
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// ValidKey reports whether key is safe to use as an artifact file name.
// Keys must be non-empty and limited to [A-Za-z0-9._-], not starting with '.'.
func ValidKey(key string) bool {
	if key == "" || key[0] == '.' || len(key) > 128 {
		return false
	}
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '.':
		default:
			return false
		}
	}
	return true
}
