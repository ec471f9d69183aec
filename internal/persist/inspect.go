package persist

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/roach88/guardcache/internal/store"
)

// Topology is a read-only view of a persisted cache directory.
type Topology struct {
	Dir      string          `json:"dir"`
	CacheKey string          `json:"cache_key"`
	Version  int             `json:"version"`
	Slices   []SliceTopology `json:"slices"`
}

// SliceTopology describes one persisted execution point.
type SliceTopology struct {
	ID            int64             `json:"id"`
	MaxCacheCount uint32            `json:"max_cache_count"`
	Last          bool              `json:"last"`
	Variants      []VariantTopology `json:"variants"`
}

// VariantTopology describes one persisted guarded variant.
type VariantTopology struct {
	Key             string   `json:"key"`
	Priority        uint32   `json:"priority"`
	CompiledGraphID uint32   `json:"compiled_graph_id"`
	ForkedIDs       []uint32 `json:"forked_ids,omitempty"`
	File            string   `json:"file,omitempty"`
}

// VariantCount returns the number of variants across all slices.
func (t *Topology) VariantCount() int {
	n := 0
	for _, s := range t.Slices {
		n += len(s.Variants)
	}
	return n
}

// Inspect reads the persisted topology without loading any guard.
// Returns an error wrapping fs.ErrNotExist if the cache was never saved.
func (p *Layer) Inspect(ctx context.Context) (*Topology, error) {
	if !p.Enabled() {
		return nil, ErrDisabled
	}
	unlock := lockDir(p.dir)
	defer unlock()

	desc, st, err := p.openExisting()
	if err != nil {
		return nil, err
	}
	defer st.Close()

	topo := &Topology{
		Dir:      p.dir,
		CacheKey: desc.CacheKey,
		Version:  desc.Version,
		Slices:   []SliceTopology{},
	}
	for _, entry := range desc.Slices {
		keys, err := st.SliceKeys(ctx, entry.ID)
		if err != nil {
			return nil, err
		}
		slice := SliceTopology{
			ID:            entry.ID,
			MaxCacheCount: entry.MaxCacheCount,
			Last:          entry.Last,
			Variants:      []VariantTopology{},
		}
		for _, k := range keys {
			vt := VariantTopology{
				Key:             k.GuardKey,
				Priority:        k.Priority,
				CompiledGraphID: k.CompiledGraphID,
				ForkedIDs:       k.ForkedIDs,
			}
			a, err := st.Artifact(ctx, k.GuardKey)
			if err == nil {
				vt.File = a.File
			} else if !errors.Is(err, store.ErrNotFound) {
				return nil, err
			}
			slice.Variants = append(slice.Variants, vt)
		}
		topo.Slices = append(topo.Slices, slice)
	}
	return topo, nil
}

// Problem is one integrity failure found by Verify.
type Problem struct {
	SliceID  int64  `json:"slice_id"`
	GuardKey string `json:"guard_key,omitempty"`
	File     string `json:"file,omitempty"`
	Reason   string `json:"reason"`
}

// VerifyReport summarises an integrity check of a cache directory.
type VerifyReport struct {
	Slices   int       `json:"slices"`
	Variants int       `json:"variants"`
	Problems []Problem `json:"problems"`
}

// OK reports whether no problem was found.
func (r *VerifyReport) OK() bool { return len(r.Problems) == 0 }

// Verify checks that every slice dump parses and every persisted variant has
// an artifact whose content hash matches. It never loads guards and never
// modifies the directory.
func (p *Layer) Verify(ctx context.Context) (*VerifyReport, error) {
	if !p.Enabled() {
		return nil, ErrDisabled
	}
	unlock := lockDir(p.dir)
	defer unlock()

	desc, st, err := p.openExisting()
	if err != nil {
		return nil, err
	}
	defer st.Close()

	report := &VerifyReport{Problems: []Problem{}}
	for _, entry := range desc.Slices {
		report.Slices++
		if data, err := os.ReadFile(p.path(sliceFile(entry.ID))); err != nil {
			report.add(entry.ID, "", filepath.ToSlash(sliceFile(entry.ID)), err)
		} else if _, _, err := decodeSlice(data); err != nil {
			report.add(entry.ID, "", filepath.ToSlash(sliceFile(entry.ID)), err)
		}

		keys, err := st.SliceKeys(ctx, entry.ID)
		if err != nil {
			return nil, err
		}
		for _, k := range keys {
			report.Variants++
			if _, err := p.readArtifact(ctx, st, k.GuardKey); err != nil {
				report.add(entry.ID, k.GuardKey, filepath.ToSlash(graphFile(k.GuardKey)), err)
			}
		}
	}

	known := make(map[int64]bool, len(desc.Slices))
	for _, entry := range desc.Slices {
		known[entry.ID] = true
	}
	ids, err := st.SliceIDs(ctx)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if !known[id] {
			report.add(id, "", KeysDBFile, fmt.Errorf("variant keys for slice missing from %s", DescriptorFile))
		}
	}

	orphans, err := st.OrphanArtifacts(ctx)
	if err != nil {
		return nil, err
	}
	for _, a := range orphans {
		report.add(a.SliceID, a.GuardKey, a.File, fmt.Errorf("artifact not referenced by any variant"))
	}
	return report, nil
}

func (r *VerifyReport) add(sliceID int64, key, file string, err error) {
	r.Problems = append(r.Problems, Problem{
		SliceID:  sliceID,
		GuardKey: key,
		File:     file,
		Reason:   err.Error(),
	})
}

// Clear deletes the cache directory. Clearing a missing directory succeeds.
func (p *Layer) Clear() error {
	if !p.Enabled() {
		return ErrDisabled
	}
	unlock := lockDir(p.dir)
	defer unlock()

	if err := os.RemoveAll(p.dir); err != nil {
		return fmt.Errorf("clear %s: %w", p.dir, err)
	}
	p.logger.Info("cache cleared", "dir", p.dir)
	return nil
}

// openExisting loads the descriptor and opens the key store of a cache
// directory that must already exist.
func (p *Layer) openExisting() (*Descriptor, *store.Store, error) {
	if _, err := os.Stat(p.dir); err != nil {
		return nil, nil, fmt.Errorf("cache %s: %w", p.dir, err)
	}
	desc, err := readDescriptor(p.path(DescriptorFile))
	if errors.Is(err, errNoDescriptor) {
		return nil, nil, fmt.Errorf("cache %s: %w", p.dir, fs.ErrNotExist)
	}
	if err != nil {
		return nil, nil, err
	}
	st, err := p.openStore()
	if err != nil {
		return nil, nil, fmt.Errorf("open key store: %w", err)
	}
	return desc, st, nil
}
