package persist

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/roach88/guardcache/internal/graph"
	"github.com/roach88/guardcache/internal/jit"
	"github.com/roach88/guardcache/internal/store"
)

// RestoreCache rebuilds the persisted execution points into order.
//
// Points are built in a scratch order created with order's options and only
// adopted once every slice loaded, so on error order is left exactly as it
// was. A cache directory that was never saved restores nothing and is not an
// error. Variants whose dump is missing, corrupt or whose guard fails to load
// are skipped with a warning.
func (p *Layer) RestoreCache(ctx context.Context, order *jit.Order) error {
	if !p.Enabled() {
		return nil
	}
	unlock := lockDir(p.dir)
	defer unlock()

	desc, err := readDescriptor(p.path(DescriptorFile))
	if errors.Is(err, errNoDescriptor) {
		p.logger.Debug("no persisted cache", "dir", p.dir)
		return nil
	}
	if err != nil {
		return jit.NewPersistenceError("load descriptor", err)
	}
	if desc.CacheKey != p.key {
		return jit.NewPersistenceError("load descriptor",
			fmt.Errorf("descriptor belongs to cache key %q", desc.CacheKey))
	}

	st, err := p.openStore()
	if err != nil {
		return jit.NewPersistenceError("open key store", err)
	}
	defer st.Close()

	scratch := jit.NewOrder(order.Options()...)
	variants := 0
	for _, entry := range desc.Slices {
		if err := ctx.Err(); err != nil {
			_ = scratch.Close()
			return jit.NewPersistenceError("restore cancelled", err)
		}
		n, err := p.restorePoint(ctx, st, scratch, entry)
		if err != nil {
			_ = scratch.Close()
			return &jit.CacheError{
				Code:    jit.ErrCodePersistenceFailed,
				Message: "restore execution point",
				PointID: entry.ID,
				Err:     err,
			}
		}
		variants += n
	}

	points := scratch.Len()
	if err := order.Adopt(scratch); err != nil {
		_ = scratch.Close()
		return jit.NewPersistenceError("adopt restored points", err)
	}
	p.logger.Info("cache loaded", "dir", p.dir, "points", points, "variants", variants)
	return nil
}

func (p *Layer) restorePoint(ctx context.Context, st *store.Store, scratch *jit.Order, entry SliceEntry) (int, error) {
	data, err := os.ReadFile(p.path(sliceFile(entry.ID)))
	if err != nil {
		return 0, fmt.Errorf("read slice dump: %w", err)
	}
	sliced, remaining, err := decodeSlice(data)
	if err != nil {
		return 0, err
	}
	if entry.Last != (remaining == nil) {
		return 0, fmt.Errorf("descriptor last=%t disagrees with slice dump", entry.Last)
	}

	ep, err := scratch.NewPoint(entry.ID, sliced, remaining, jit.WithMaxCacheCount(entry.MaxCacheCount))
	if err != nil {
		return 0, err
	}

	keys, err := st.SliceKeys(ctx, entry.ID)
	if err != nil {
		return 0, err
	}
	restored := 0
	for _, k := range keys {
		if err := p.restoreVariant(ctx, st, ep, k); err != nil {
			p.logger.Warn("persisted variant skipped",
				"ep", entry.ID,
				"key", k.GuardKey,
				"error", err,
			)
			continue
		}
		restored++
	}
	return restored, nil
}

func (p *Layer) restoreVariant(ctx context.Context, st *store.Store, ep *jit.ExecutionPoint, k store.VariantKey) error {
	if !jit.ValidKey(k.GuardKey) {
		return fmt.Errorf("invalid guard key")
	}
	g, err := p.readArtifact(ctx, st, k.GuardKey)
	if err != nil {
		return err
	}

	v := ep.NewVariant()
	v.SetKey(k.GuardKey)
	for _, id := range k.ForkedIDs {
		v.AddForkedID(id)
	}
	if err := ep.Cache().Add(v); err != nil {
		return err
	}
	if err := v.SetCompiled(k.CompiledGraphID, g); err != nil {
		_ = ep.Cache().Remove(v)
		return err
	}
	v.SetPriority(k.Priority)
	return nil
}

// readArtifact loads and verifies the compiled-graph dump of a guard key.
func (p *Layer) readArtifact(ctx context.Context, st *store.Store, guardKey string) (*graph.Graph, error) {
	a, err := st.Artifact(ctx, guardKey)
	if err != nil {
		return nil, err
	}
	rel := filepath.FromSlash(a.File)
	if !filepath.IsLocal(rel) {
		return nil, fmt.Errorf("artifact path %q escapes cache directory", a.File)
	}
	data, err := os.ReadFile(p.path(rel))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("dump %s missing", a.File)
	}
	if err != nil {
		return nil, fmt.Errorf("read dump: %w", err)
	}
	if got := graph.DumpHash(data); got != a.ContentHash {
		return nil, fmt.Errorf("dump %s: content hash %s, want %s", a.File, got, a.ContentHash)
	}
	return graph.Unmarshal(data)
}
