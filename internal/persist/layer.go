package persist

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/roach88/guardcache/internal/store"
)

// File and directory names under Dir().
const (
	DescriptorFile = "slicing.yaml"
	KeysDBFile     = "keys.db"
	SlicesDir      = "slices"
	GraphsDir      = "graphs"
)

// ErrDisabled is returned by the inspection operations when the root
// directory or the cache key is unset.
var ErrDisabled = errors.New("persistence disabled: root or cache key unset")

// dirLocks serialises save/restore per cache directory within the process.
// Other processes are kept consistent by SQLite locking and atomic renames.
var dirLocks sync.Map // map[string]*sync.Mutex

func lockDir(dir string) func() {
	m, _ := dirLocks.LoadOrStore(dir, &sync.Mutex{})
	mu := m.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Layer maps an execution order to one cache directory.
// It implements jit.Persister.
type Layer struct {
	root   string
	key    string
	dir    string
	logger *slog.Logger
}

// LayerOption configures a Layer.
type LayerOption func(*Layer)

// WithLogger sets the logger (default slog.Default()).
func WithLogger(l *slog.Logger) LayerOption {
	return func(p *Layer) {
		if l != nil {
			p.logger = l
		}
	}
}

// New creates a layer for the cache identified by cacheKey under root.
func New(root, cacheKey string, opts ...LayerOption) *Layer {
	p := &Layer{
		root:   root,
		key:    cacheKey,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.Enabled() {
		p.dir = filepath.Join(root, "jit", SanitizeKey(cacheKey))
	}
	p.logger = p.logger.With("cache_key", cacheKey)
	return p
}

// Enabled reports whether both root and cache key are set.
func (p *Layer) Enabled() bool {
	return p.root != "" && p.key != ""
}

// Dir returns the cache directory ("" when disabled).
func (p *Layer) Dir() string { return p.dir }

// CacheKey returns the caller-supplied cache key.
func (p *Layer) CacheKey() string { return p.key }

func (p *Layer) path(elem ...string) string {
	return filepath.Join(append([]string{p.dir}, elem...)...)
}

func (p *Layer) openStore() (*store.Store, error) {
	return store.Open(p.path(KeysDBFile))
}

// SanitizeKey maps a cache key to a single path element.
//
// Characters outside [A-Za-z0-9._-] become '_' and a leading '.' is replaced.
// When anything was rewritten a short hash of the original key is appended
// so distinct keys never share a directory.
func SanitizeKey(key string) string {
	var b strings.Builder
	changed := false
	for i, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-', r == '_':
			b.WriteRune(r)
		case r == '.' && i > 0:
			b.WriteRune(r)
		default:
			b.WriteByte('_')
			changed = true
		}
	}
	if !changed {
		return b.String()
	}
	sum := sha256.Sum256([]byte(key))
	return b.String() + "-" + hex.EncodeToString(sum[:4])
}
