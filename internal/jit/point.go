package jit

import (
	"fmt"
	"log/slog"

	"github.com/roach88/guardcache/internal/graph"
	"github.com/roach88/guardcache/internal/guard"
)

// DefaultMaxCacheCount is the default per-point bound on cached variants.
const DefaultMaxCacheCount = 10

// ExecutionPoint owns one slice of a larger computation graph, the optional
// remainder after it, and the guard cache of compiled variants for the slice.
//
// Thread-safety: an ExecutionPoint is not safe for concurrent use. Callers
// serialise access with a lock scoped to the point or the session (see Session).
type ExecutionPoint struct {
	id        int64
	sliced    *graph.Graph
	remaining *graph.Graph
	cache     *GuardCache

	loader guard.Loader
	keys   KeyGenerator
	logger *slog.Logger
}

type pointConfig struct {
	maxCacheCount uint32
	loader        guard.Loader
	keys          KeyGenerator
	retryFind     bool
	logger        *slog.Logger
}

// Option configures an ExecutionPoint.
type Option func(*pointConfig)

// WithMaxCacheCount sets the cache bound. Zero selects DefaultMaxCacheCount.
func WithMaxCacheCount(n uint32) Option {
	return func(c *pointConfig) {
		c.maxCacheCount = n
	}
}

// WithLoader sets the guard loader (default guard.NativeLoader).
func WithLoader(l guard.Loader) Option {
	return func(c *pointConfig) {
		c.loader = l
	}
}

// WithKeyGenerator sets the guard key generator (default UUIDv7Generator).
func WithKeyGenerator(g KeyGenerator) Option {
	return func(c *pointConfig) {
		c.keys = g
	}
}

// WithRetryFind makes FindOrCreateGuarded scan the cache a second time after
// a miss before creating a new variant.
func WithRetryFind(retry bool) Option {
	return func(c *pointConfig) {
		c.retryFind = retry
	}
}

// WithLogger sets the logger (default slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(c *pointConfig) {
		c.logger = l
	}
}

// NewExecutionPoint creates a point for a slice. remaining is nil for the
// terminal slice.
func NewExecutionPoint(id int64, sliced, remaining *graph.Graph, opts ...Option) *ExecutionPoint {
	cfg := pointConfig{
		maxCacheCount: DefaultMaxCacheCount,
		keys:          UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.maxCacheCount == 0 {
		cfg.maxCacheCount = DefaultMaxCacheCount
	}
	if cfg.loader == nil {
		cfg.loader = guard.NativeLoader{}
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}

	ep := &ExecutionPoint{
		id:        id,
		sliced:    sliced,
		remaining: remaining,
		loader:    cfg.loader,
		keys:      cfg.keys,
		logger:    cfg.logger,
	}
	ep.cache = newGuardCache(ep, cfg.maxCacheCount, cfg.retryFind, cfg.logger)
	return ep
}

// ID returns the slice id.
func (ep *ExecutionPoint) ID() int64 { return ep.id }

// IsLast reports whether this is the terminal slice (no remaining graph).
func (ep *ExecutionPoint) IsLast() bool { return ep.remaining == nil }

// SlicedGraph returns the canonical slice template.
func (ep *ExecutionPoint) SlicedGraph() *graph.Graph { return ep.sliced }

// RemainingGraph returns the graph after the slice, nil for the terminal slice.
func (ep *ExecutionPoint) RemainingGraph() *graph.Graph { return ep.remaining }

// MaxCacheCount returns the cache bound.
func (ep *ExecutionPoint) MaxCacheCount() uint32 { return ep.cache.Max() }

// Cache returns the point's guard cache.
func (ep *ExecutionPoint) Cache() *GuardCache { return ep.cache }

// FindGuarded returns the cached variant matching inputs, or nil.
// It never creates a variant and never fails.
func (ep *ExecutionPoint) FindGuarded(inputs []graph.Tensor) *GuardedVariant {
	return ep.cache.Find(inputs)
}

// FindOrCreateGuarded returns a matching variant or registers a new
// uncompiled one for out-of-band compilation. The only error is a
// GRAPH_COPY_FAILED from materializing the new variant.
func (ep *ExecutionPoint) FindOrCreateGuarded(inputs []graph.Tensor) (*GuardedVariant, error) {
	return ep.cache.FindOrCreate(inputs)
}

// SavedCacheNum returns current cache occupancy.
func (ep *ExecutionPoint) SavedCacheNum() int { return ep.cache.Len() }

// NewVariant creates an uncompiled variant owned by this point.
// It is not cached until passed to Cache().Add.
func (ep *ExecutionPoint) NewVariant() *GuardedVariant {
	return NewGuardedVariant(ep)
}

// Close unloads every cached guard and empties the cache.
func (ep *ExecutionPoint) Close() error {
	return ep.cache.RemoveAll()
}

func (ep *ExecutionPoint) String() string {
	return fmt.Sprintf("ep(%d, last=%t, cached=%d/%d)", ep.id, ep.IsLast(), ep.cache.Len(), ep.cache.Max())
}
