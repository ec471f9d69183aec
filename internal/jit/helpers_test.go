package jit

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/guardcache/internal/graph"
	"github.com/roach88/guardcache/internal/testutil"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestPoint creates a point backed by a recording loader and sequential keys.
func newTestPoint(t *testing.T, id int64, opts ...Option) (*ExecutionPoint, *testutil.RecordingLoader) {
	t.Helper()
	loader := testutil.NewRecordingLoader()
	base := []Option{
		WithLoader(loader),
		WithKeyGenerator(testutil.NewSequenceKeyGenerator("gep")),
		WithLogger(quietLogger()),
	}
	ep := NewExecutionPoint(id, testutil.SliceGraph("slice"), testutil.SliceGraph("rest"), append(base, opts...)...)
	t.Cleanup(func() { _ = ep.Close() })
	return ep, loader
}

// compile marks v compiled with a guard accepting spec.
func compile(t *testing.T, v *GuardedVariant, id uint32, spec string) {
	t.Helper()
	require.NoError(t, v.SetCompiled(id, testutil.CompiledGraph(v.CompiledGraph(), spec)))
}

func in(specs ...string) []graph.Tensor {
	return testutil.Inputs(specs...)
}

// requireSorted asserts priority-descending order with insertion-ordered ties.
func requireSorted(t *testing.T, c *GuardCache) {
	t.Helper()
	entries := c.Entries()
	for i := 1; i < len(entries); i++ {
		prev, cur := entries[i-1], entries[i]
		require.GreaterOrEqual(t, prev.Priority(), cur.Priority(), "entries %d/%d out of priority order", i-1, i)
		if prev.Priority() == cur.Priority() {
			require.Less(t, prev.seq, cur.seq, "tie at %d/%d not in insertion order", i-1, i)
		}
	}
}
