package jit

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/roach88/guardcache/internal/graph"
)

// GuardCache is the bounded, priority-ordered collection of variants of one
// execution point.
//
// INVARIANTS (hold after every exported mutation):
//   - Len() <= Max()
//   - entries sorted by priority descending, ties by insertion order
//   - a variant's guard is unloaded exactly once, when it leaves the cache
//
// Matching is first-match over the current order, not best-match: when
// several guards accept the same input, the one ranked highest (most hits so
// far) wins. The ranking is an approximate LFU.
type GuardCache struct {
	owner     *ExecutionPoint
	max       uint32
	retryFind bool
	logger    *slog.Logger

	entries []*GuardedVariant
	nextSeq uint64
}

func newGuardCache(owner *ExecutionPoint, maxCount uint32, retryFind bool, logger *slog.Logger) *GuardCache {
	return &GuardCache{
		owner:     owner,
		max:       maxCount,
		retryFind: retryFind,
		logger:    logger,
	}
}

// Len returns the number of cached variants.
func (c *GuardCache) Len() int { return len(c.entries) }

// Max returns the capacity bound.
func (c *GuardCache) Max() uint32 { return c.max }

// Entries returns a snapshot of the cached variants in rank order.
func (c *GuardCache) Entries() []*GuardedVariant {
	return append([]*GuardedVariant(nil), c.entries...)
}

// Find returns the first variant, in rank order, whose guard accepts inputs.
// A hit bumps that variant's priority by one and re-sorts. A miss is logged
// and returns nil.
func (c *GuardCache) Find(inputs []graph.Tensor) *GuardedVariant {
	for _, v := range c.entries {
		if !v.Matches(inputs) {
			continue
		}
		if v.priority < math.MaxUint32 {
			v.priority++
		}
		c.sort()
		return v
	}
	c.logger.Debug("guard miss",
		"ep", c.pointID(),
		"entries", len(c.entries),
		"inputs", describe(inputs),
	)
	return nil
}

// Add materializes v's private slice copy and inserts it, evicting the
// lowest-priority entry first when the cache is full.
//
// A graph copy failure leaves the cache untouched and is returned as a
// GRAPH_COPY_FAILED error.
func (c *GuardCache) Add(v *GuardedVariant) error {
	if v.cache != nil {
		return fmt.Errorf("add variant: already cached (ep=%d)", v.cache.pointID())
	}
	if err := v.CopySlicedGraph(); err != nil {
		return err
	}

	for c.max > 0 && uint32(len(c.entries)) >= c.max {
		c.evictOne()
	}

	v.seq = c.nextSeq
	c.nextSeq++
	v.cache = c
	c.entries = append(c.entries, v)
	c.sort()
	return nil
}

// FindOrCreate returns a matching variant or, on a miss, a freshly added
// uncompiled one. It fails only if the new variant's graph copy fails.
func (c *GuardCache) FindOrCreate(inputs []graph.Tensor) (*GuardedVariant, error) {
	if v := c.Find(inputs); v != nil {
		return v, nil
	}
	if c.retryFind {
		if v := c.Find(inputs); v != nil {
			return v, nil
		}
	}

	v := NewGuardedVariant(c.owner)
	if err := c.Add(v); err != nil {
		return nil, err
	}
	c.logger.Debug("guarded variant created", "ep", c.pointID(), "entries", len(c.entries))
	return v, nil
}

// Remove takes v out of the cache and unloads its guard.
// A variant not held by this cache is left alone.
func (c *GuardCache) Remove(v *GuardedVariant) error {
	if v.cache != c {
		return nil
	}
	for i, e := range c.entries {
		if e == v {
			c.entries = append(c.entries[:i], c.entries[i+1:]...)
			break
		}
	}
	v.cache = nil
	return v.Remove()
}

// RemoveAll unloads every guard and empties the cache.
// All unload errors are returned joined; the cache is emptied regardless.
func (c *GuardCache) RemoveAll() error {
	var errs []error
	for _, v := range c.entries {
		v.cache = nil
		if err := v.Remove(); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", v, err))
		}
	}
	c.entries = nil
	return errors.Join(errs...)
}

// evictOne removes the lowest-priority entry, earliest inserted on ties.
// Entries are sorted, so the victim is the first entry of the trailing
// lowest-priority run.
func (c *GuardCache) evictOne() {
	if len(c.entries) == 0 {
		return
	}
	idx := len(c.entries) - 1
	lowest := c.entries[idx].priority
	for idx > 0 && c.entries[idx-1].priority == lowest {
		idx--
	}

	victim := c.entries[idx]
	c.entries = append(c.entries[:idx], c.entries[idx+1:]...)
	victim.cache = nil
	if err := victim.Remove(); err != nil {
		c.logger.Warn("guard unload failed during eviction", "ep", c.pointID(), "variant", victim.String(), "error", err)
	}
	c.logger.Info("guarded variant evicted",
		"ep", c.pointID(),
		"key", victim.key,
		"priority", victim.priority,
	)
}

func (c *GuardCache) sort() {
	sort.SliceStable(c.entries, func(i, j int) bool {
		a, b := c.entries[i], c.entries[j]
		if a.priority != b.priority {
			return a.priority > b.priority
		}
		return a.seq < b.seq
	})
}

func (c *GuardCache) pointID() int64 {
	if c.owner == nil {
		return 0
	}
	return c.owner.id
}

func describe(inputs []graph.Tensor) []string {
	descs := graph.Describe(inputs)
	out := make([]string, len(descs))
	for i, d := range descs {
		out[i] = d.String()
	}
	return out
}
