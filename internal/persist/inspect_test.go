package persist

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/guardcache/internal/store"
	"github.com/roach88/guardcache/internal/testutil"
)

func savedLayer(t *testing.T) *Layer {
	t.Helper()
	layer := newLayer(t)
	order := newOrder(t, testutil.NewRecordingLoader())
	buildFixture(t, order)
	require.NoError(t, layer.SaveCache(context.Background(), order))
	return layer
}

func TestInspect_Topology(t *testing.T) {
	layer := savedLayer(t)

	topo, err := layer.Inspect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, layer.Dir(), topo.Dir)
	assert.Equal(t, "model-abc", topo.CacheKey)
	assert.Equal(t, DescriptorVersion, topo.Version)
	require.Len(t, topo.Slices, 2)
	assert.Equal(t, 3, topo.VariantCount())

	s1 := topo.Slices[0]
	assert.Equal(t, int64(1), s1.ID)
	assert.Equal(t, uint32(4), s1.MaxCacheCount)
	assert.False(t, s1.Last)
	require.Len(t, s1.Variants, 2)
	assert.Equal(t, VariantTopology{
		Key:             "k-1",
		Priority:        3,
		CompiledGraphID: 101,
		ForkedIDs:       []uint32{40},
		File:            "graphs/k-1.json",
	}, s1.Variants[0])

	assert.True(t, topo.Slices[1].Last)
}

func TestInspect_NeverSaved(t *testing.T) {
	layer := newLayer(t)

	_, err := layer.Inspect(context.Background())
	assert.ErrorIs(t, err, fs.ErrNotExist)

	_, err = layer.Verify(context.Background())
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestVerify_CleanCache(t *testing.T) {
	layer := savedLayer(t)

	report, err := layer.Verify(context.Background())
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.Equal(t, 2, report.Slices)
	assert.Equal(t, 3, report.Variants)
	assert.Empty(t, report.Problems)
}

func TestVerify_ReportsProblems(t *testing.T) {
	ctx := context.Background()
	layer := savedLayer(t)
	dir := layer.Dir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, graphFile("k-1")), []byte(`{"tampered":true}`), 0o644))
	require.NoError(t, os.Remove(filepath.Join(dir, sliceFile(2))))

	st, err := store.Open(filepath.Join(dir, KeysDBFile))
	require.NoError(t, err)
	require.NoError(t, st.PutArtifact(ctx, store.Artifact{GuardKey: "stray", SliceID: 1, File: "graphs/stray.json", ContentHash: "x"}))
	require.NoError(t, st.Close())

	report, err := layer.Verify(ctx)
	require.NoError(t, err)
	assert.False(t, report.OK())

	var found []string
	for _, p := range report.Problems {
		found = append(found, p.File)
	}
	assert.ElementsMatch(t, []string{"graphs/k-1.json", "slices/2.json", "graphs/stray.json"}, found)
}

func TestVerify_KeysForUnknownSlice(t *testing.T) {
	ctx := context.Background()
	layer := savedLayer(t)

	st, err := store.Open(filepath.Join(layer.Dir(), KeysDBFile))
	require.NoError(t, err)
	require.NoError(t, st.ReplaceSliceKeys(ctx, 99, []store.VariantKey{{GuardKey: "ghost", CompiledGraphID: 1}}))
	require.NoError(t, st.Close())

	report, err := layer.Verify(ctx)
	require.NoError(t, err)
	require.False(t, report.OK())
	require.Len(t, report.Problems, 1)
	assert.Equal(t, int64(99), report.Problems[0].SliceID)
	assert.Equal(t, KeysDBFile, report.Problems[0].File)
	assert.Contains(t, report.Problems[0].Reason, "missing from slicing.yaml")
}

func TestClear(t *testing.T) {
	layer := savedLayer(t)
	require.DirExists(t, layer.Dir())

	require.NoError(t, layer.Clear())
	assert.NoDirExists(t, layer.Dir())

	// Clearing again is fine.
	require.NoError(t, layer.Clear())

	order := newOrder(t, testutil.NewRecordingLoader())
	require.NoError(t, layer.RestoreCache(context.Background(), order))
	assert.Equal(t, 0, order.Len())
}
