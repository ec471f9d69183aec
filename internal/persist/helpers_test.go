package persist

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/guardcache/internal/graph"
	"github.com/roach88/guardcache/internal/jit"
	"github.com/roach88/guardcache/internal/testutil"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newLayer(t *testing.T) *Layer {
	t.Helper()
	return New(t.TempDir(), "model-abc", WithLogger(quietLogger()))
}

// newOrder creates an order whose points use loader and sequential "k-N" keys.
func newOrder(t *testing.T, loader *testutil.RecordingLoader) *jit.Order {
	t.Helper()
	o := jit.NewOrder(
		jit.WithLoader(loader),
		jit.WithKeyGenerator(testutil.NewSequenceKeyGenerator("k")),
		jit.WithLogger(quietLogger()),
	)
	t.Cleanup(func() { _ = o.Close() })
	return o
}

func in(specs ...string) []graph.Tensor {
	return testutil.Inputs(specs...)
}

// addCompiled registers a variant for spec at ep, compiles it, and hits it
// hits times.
func addCompiled(t *testing.T, ep *jit.ExecutionPoint, graphID uint32, spec string, hits int) *jit.GuardedVariant {
	t.Helper()
	v, err := ep.FindOrCreateGuarded(in(spec))
	require.NoError(t, err)
	require.False(t, v.Compiled(), "fixture spec %s already matched", spec)
	require.NoError(t, v.SetCompiled(graphID, testutil.CompiledGraph(v.CompiledGraph(), spec)))
	for i := 0; i < hits; i++ {
		require.Same(t, v, ep.FindGuarded(in(spec)))
	}
	return v
}

// buildFixture fills order with two points:
//
//	ep 1 (max 4): k-1 f32[1] prio 3 forked [40], k-2 f32[2] prio 1, one uncompiled
//	ep 2 (last):  k-3 "*" prio 0
func buildFixture(t *testing.T, order *jit.Order) {
	t.Helper()
	ep1, err := order.NewPoint(1, testutil.SliceGraph("s1"), testutil.SliceGraph("r1"), jit.WithMaxCacheCount(4))
	require.NoError(t, err)
	a := addCompiled(t, ep1, 101, "f32[1]", 3)
	a.AddForkedID(40)
	addCompiled(t, ep1, 102, "f32[2]", 1)
	_, err = ep1.FindOrCreateGuarded(in("i64[7]"))
	require.NoError(t, err)

	ep2, err := order.NewPoint(2, testutil.SliceGraph("s2"), nil)
	require.NoError(t, err)
	addCompiled(t, ep2, 201, "*", 0)
}

func keysOf(ep *jit.ExecutionPoint) []string {
	var keys []string
	for _, v := range ep.Cache().Entries() {
		keys = append(keys, v.Key())
	}
	return keys
}

func pointIDs(o *jit.Order) []int64 {
	var ids []int64
	for _, ep := range o.Points() {
		ids = append(ids, ep.ID())
	}
	return ids
}
