package persist

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/roach88/guardcache/internal/graph"
	"github.com/roach88/guardcache/internal/jit"
	"github.com/roach88/guardcache/internal/store"
)

// SaveCache writes order to the cache directory.
//
// Only compiled variants carrying a valid guard key are persisted. Slice and
// graph dumps are written first, then the key lists (one transaction per
// slice), then stale slices and artifacts are pruned, and the descriptor is
// written last. A crash part-way leaves the previous descriptor in place.
func (p *Layer) SaveCache(ctx context.Context, order *jit.Order) error {
	if !p.Enabled() {
		return nil
	}
	unlock := lockDir(p.dir)
	defer unlock()

	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return jit.NewPersistenceError("create cache directory", err)
	}
	st, err := p.openStore()
	if err != nil {
		return jit.NewPersistenceError("open key store", err)
	}
	defer st.Close()

	desc := &Descriptor{Version: DescriptorVersion, CacheKey: p.key}
	keep := make([]int64, 0, order.Len())
	saved := 0

	for _, ep := range order.Points() {
		if err := ctx.Err(); err != nil {
			return jit.NewPersistenceError("save cancelled", err)
		}
		n, err := p.savePoint(ctx, st, ep)
		if err != nil {
			return &jit.CacheError{
				Code:    jit.ErrCodePersistenceFailed,
				Message: "save execution point",
				PointID: ep.ID(),
				Err:     err,
			}
		}
		saved += n
		keep = append(keep, ep.ID())
		desc.Slices = append(desc.Slices, SliceEntry{
			ID:            ep.ID(),
			MaxCacheCount: ep.MaxCacheCount(),
			Last:          ep.IsLast(),
		})
	}

	if err := p.prune(ctx, st, keep); err != nil {
		return jit.NewPersistenceError("prune stale entries", err)
	}
	if err := writeDescriptor(p.path(DescriptorFile), desc); err != nil {
		return jit.NewPersistenceError("write descriptor", err)
	}

	p.logger.Info("cache saved", "dir", p.dir, "points", len(keep), "variants", saved)
	return nil
}

func (p *Layer) savePoint(ctx context.Context, st *store.Store, ep *jit.ExecutionPoint) (int, error) {
	data, err := encodeSlice(ep.SlicedGraph(), ep.RemainingGraph())
	if err != nil {
		return 0, err
	}
	if err := writeFileAtomic(p.path(sliceFile(ep.ID())), data); err != nil {
		return 0, err
	}

	var keys []store.VariantKey
	for _, v := range ep.Cache().Entries() {
		if !v.Compiled() || v.CompiledGraph() == nil {
			continue
		}
		if !jit.ValidKey(v.Key()) {
			p.logger.Warn("variant not saved: invalid guard key", "ep", ep.ID(), "key", v.Key())
			continue
		}
		dump, err := v.CompiledGraph().MarshalCanonical()
		if err != nil {
			return 0, fmt.Errorf("dump %s: %w", v, err)
		}
		file := graphFile(v.Key())
		if err := writeFileAtomic(p.path(file), dump); err != nil {
			return 0, err
		}
		err = st.PutArtifact(ctx, store.Artifact{
			GuardKey:    v.Key(),
			SliceID:     ep.ID(),
			File:        filepath.ToSlash(file),
			ContentHash: graph.DumpHash(dump),
		})
		if err != nil {
			return 0, err
		}
		keys = append(keys, store.VariantKey{
			GuardKey:        v.Key(),
			CompiledGraphID: v.CompiledGraphID(),
			Priority:        v.Priority(),
			ForkedIDs:       v.ForkedIDs(),
		})
	}

	if err := st.ReplaceSliceKeys(ctx, ep.ID(), keys); err != nil {
		return 0, err
	}
	return len(keys), nil
}

// prune drops key lists, slice dumps and artifacts that the saved order no
// longer references. File removal failures are logged only.
func (p *Layer) prune(ctx context.Context, st *store.Store, keep []int64) error {
	if _, err := st.PruneSlices(ctx, keep); err != nil {
		return err
	}

	orphans, err := st.OrphanArtifacts(ctx)
	if err != nil {
		return err
	}
	for _, a := range orphans {
		if err := st.DeleteArtifact(ctx, a.GuardKey); err != nil {
			return err
		}
		p.removeFile(filepath.FromSlash(a.File))
	}

	kept := make(map[string]bool, len(keep))
	for _, id := range keep {
		kept[strconv.FormatInt(id, 10)+".json"] = true
	}
	entries, err := os.ReadDir(p.path(SlicesDir))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	for _, e := range entries {
		if e.IsDir() || kept[e.Name()] || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		p.removeFile(filepath.Join(SlicesDir, e.Name()))
	}
	return nil
}

func (p *Layer) removeFile(rel string) {
	if err := os.Remove(p.path(rel)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		p.logger.Warn("failed to remove stale file", "file", rel, "error", err)
	}
}
