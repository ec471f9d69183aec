package jit

import (
	"fmt"

	"github.com/roach88/guardcache/internal/graph"
	"github.com/roach88/guardcache/internal/guard"
)

// GuardedVariant is one guard-protected candidate implementation of an
// execution point's slice.
//
// A variant starts uncompiled with its own deep copy of the slice template
// (materialized when it is added to a cache). An external compiler lowers
// that copy and hands the result back through SetCompiled, which loads the
// guard embedded in it. Until then, or if loading fails, the variant is inert:
// Matches always reports false.
type GuardedVariant struct {
	owner *ExecutionPoint // non-owning; template lookup and diagnostics only
	cache *GuardCache     // set while the variant is cached
	guard *guard.Caller

	priority        uint32
	compiled        bool
	compiledGraphID uint32
	compiledGraph   *graph.Graph
	forkedIDs       []uint32
	key             string

	// seq is the insertion order within the cache, used to break priority ties.
	seq uint64
}

// NewGuardedVariant creates an uncompiled variant for owner.
// owner may be nil, in which case CopySlicedGraph is a no-op and the native
// loader is used.
func NewGuardedVariant(owner *ExecutionPoint) *GuardedVariant {
	var (
		loader guard.Loader
		opts   []guard.CallerOption
	)
	if owner != nil {
		loader = owner.loader
		opts = append(opts,
			guard.WithLogger(owner.logger),
			guard.WithLabel(fmt.Sprintf("ep=%d", owner.id)),
		)
	}
	return &GuardedVariant{
		owner: owner,
		guard: guard.NewCaller(loader, opts...),
	}
}

// Owner returns the execution point this variant belongs to (may be nil).
func (v *GuardedVariant) Owner() *ExecutionPoint { return v.owner }

// Priority returns the hit count used for ranking.
func (v *GuardedVariant) Priority() uint32 { return v.priority }

// SetPriority overrides the ranking priority. A cached variant's cache is
// re-sorted immediately.
func (v *GuardedVariant) SetPriority(p uint32) {
	v.priority = p
	if v.cache != nil {
		v.cache.sort()
	}
}

// Compiled reports whether a guard was successfully loaded via SetCompiled.
func (v *GuardedVariant) Compiled() bool { return v.compiled }

// CompiledGraphID is meaningful only when Compiled is true.
func (v *GuardedVariant) CompiledGraphID() uint32 { return v.compiledGraphID }

// CompiledGraph returns the variant's private graph: the slice copy before
// compilation, the compiled graph after.
func (v *GuardedVariant) CompiledGraph() *graph.Graph { return v.compiledGraph }

// ForkedIDs returns the ids of graphs forked from this variant.
func (v *GuardedVariant) ForkedIDs() []uint32 {
	return append([]uint32(nil), v.forkedIDs...)
}

// AddForkedID records a graph forked from this variant.
func (v *GuardedVariant) AddForkedID(id uint32) {
	v.forkedIDs = append(v.forkedIDs, id)
}

// Key returns the guard lookup key used by persistence ("" until compiled).
func (v *GuardedVariant) Key() string { return v.key }

// SetKey sets the guard lookup key. Used when restoring persisted variants.
func (v *GuardedVariant) SetKey(key string) { v.key = key }

// Matches reports whether the variant's guard accepts the inputs.
func (v *GuardedVariant) Matches(inputs []graph.Tensor) bool {
	return v.guard.Matches(inputs)
}

// SetCompiled loads the guard embedded in g and marks the variant compiled.
// The variant keeps its own deep copy of g.
//
// On failure the variant stays uncompiled (and inert, any previous guard
// unloaded) and a GUARD_LOAD_FAILED or GRAPH_COPY_FAILED error is returned;
// it keeps its cache slot until evicted or removed.
func (v *GuardedVariant) SetCompiled(compiledGraphID uint32, g *graph.Graph) error {
	if err := v.guard.Load(g); err != nil {
		v.compiled = false
		return newGuardLoadError(v.pointID(), err)
	}
	cp, err := g.Clone()
	if err != nil {
		v.compiled = false
		_ = v.guard.Unload()
		return newGraphCopyError(v.pointID(), err)
	}
	v.compiled = true
	v.compiledGraphID = compiledGraphID
	v.compiledGraph = cp
	if v.key == "" && v.owner != nil && v.owner.keys != nil {
		v.key = v.owner.keys.Generate()
	}
	return nil
}

// Remove unloads the guard and releases its OS resources. Idempotent.
func (v *GuardedVariant) Remove() error {
	v.compiled = false
	return v.guard.Unload()
}

// CopySlicedGraph deep-copies the owner's slice template into the variant's
// private graph. No owner means nothing to copy.
func (v *GuardedVariant) CopySlicedGraph() error {
	if v.owner == nil {
		return nil
	}
	cp, err := v.owner.sliced.Clone()
	if err != nil {
		return newGraphCopyError(v.owner.id, err)
	}
	v.compiledGraph = cp
	return nil
}

func (v *GuardedVariant) pointID() int64 {
	if v.owner == nil {
		return 0
	}
	return v.owner.id
}

func (v *GuardedVariant) String() string {
	key := v.key
	if key == "" {
		key = "-"
	}
	return fmt.Sprintf("variant(ep=%d key=%s prio=%d compiled=%t)", v.pointID(), key, v.priority, v.compiled)
}
