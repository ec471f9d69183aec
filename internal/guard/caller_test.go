package guard_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/guardcache/internal/graph"
	"github.com/roach88/guardcache/internal/guard"
	"github.com/roach88/guardcache/internal/testutil"
)

func TestCaller_NotLoadedNeverMatches(t *testing.T) {
	c := guard.NewCaller(testutil.NewRecordingLoader())
	assert.False(t, c.Loaded())
	assert.False(t, c.Matches(testutil.Inputs("f32[2x3]")))
}

func TestCaller_LoadAndMatch(t *testing.T) {
	loader := testutil.NewRecordingLoader()
	c := guard.NewCaller(loader, guard.WithLabel("ep=1"))

	g := testutil.CompiledGraph(testutil.SliceGraph("s"), "f32[2x3]")
	require.NoError(t, c.Load(g))
	assert.True(t, c.Loaded())

	assert.True(t, c.Matches(testutil.Inputs("f32[2x3]")))
	assert.False(t, c.Matches(testutil.Inputs("f16[2x3]")))
	assert.False(t, c.Matches(nil))
}

func TestCaller_MissingPayload(t *testing.T) {
	loader := testutil.NewRecordingLoader()
	c := guard.NewCaller(loader)

	err := c.Load(testutil.SliceGraph("s"))
	require.Error(t, err)
	assert.True(t, guard.IsMissingPayload(err))

	var le *guard.LoadError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, guard.StagePayload, le.Stage)
	assert.Contains(t, err.Error(), "missing guard payload")

	assert.False(t, c.Loaded())
	assert.Equal(t, 0, loader.Opens())
}

func TestCaller_EmptyPayload(t *testing.T) {
	c := guard.NewCaller(testutil.NewRecordingLoader())
	g := testutil.SliceGraph("s")
	g.SetAttr(guard.PayloadAttr, nil)

	err := c.Load(g)
	assert.True(t, guard.IsMissingPayload(err))
}

func TestCaller_LoaderFailure(t *testing.T) {
	loader := testutil.NewRecordingLoader()
	loader.FailOpen = errors.New("dlopen exploded")
	c := guard.NewCaller(loader)

	err := c.Load(testutil.CompiledGraph(testutil.SliceGraph("s"), "*"))
	require.Error(t, err)

	var le *guard.LoadError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, guard.StageOpen, le.Stage)
	assert.False(t, c.Loaded())
	assert.False(t, c.Matches(testutil.Inputs("f32[1]")))
}

func TestCaller_UnloadIdempotent(t *testing.T) {
	loader := testutil.NewRecordingLoader()
	c := guard.NewCaller(loader)
	require.NoError(t, c.Load(testutil.CompiledGraph(testutil.SliceGraph("s"), "*")))

	require.NoError(t, c.Unload())
	require.NoError(t, c.Unload())
	require.NoError(t, c.Unload())

	assert.False(t, c.Loaded())
	assert.Equal(t, 0, loader.Live())
	assert.Equal(t, 0, loader.DoubleCloses())
}

func TestCaller_ReloadReleasesPrevious(t *testing.T) {
	loader := testutil.NewRecordingLoader()
	c := guard.NewCaller(loader)
	base := testutil.SliceGraph("s")

	require.NoError(t, c.Load(testutil.CompiledGraph(base, "f32[1]")))
	require.NoError(t, c.Load(testutil.CompiledGraph(base, "f32[2]")))

	assert.Equal(t, 2, loader.Opens())
	assert.Equal(t, 1, loader.Live())
	assert.True(t, loader.Modules()[0].Closed())
	assert.True(t, c.Matches(testutil.Inputs("f32[2]")))
	assert.False(t, c.Matches(testutil.Inputs("f32[1]")))
}

func TestCaller_FailedReloadLeavesUnloaded(t *testing.T) {
	loader := testutil.NewRecordingLoader()
	c := guard.NewCaller(loader)

	require.NoError(t, c.Load(testutil.CompiledGraph(testutil.SliceGraph("s"), "f32[1]")))
	require.True(t, c.Matches(testutil.Inputs("f32[1]")))

	err := c.Load(testutil.SliceGraph("no-payload"))
	assert.True(t, guard.IsMissingPayload(err))
	assert.False(t, c.Loaded())
	assert.False(t, c.Matches(testutil.Inputs("f32[1]")))
	assert.Equal(t, 0, loader.Live())
}

func TestCaller_OnlyMetadataReachesGuard(t *testing.T) {
	loader := testutil.NewRecordingLoader()
	c := guard.NewCaller(loader)
	require.NoError(t, c.Load(testutil.CompiledGraph(testutil.SliceGraph("s"), "i32[3]")))

	in := contentTensor{desc: graph.TensorDesc{Type: graph.Int32, Dims: []int64{3}}, data: []int32{1, 2, 3}}
	assert.True(t, c.Matches([]graph.Tensor{in}))
	assert.Equal(t, 1, loader.Modules()[0].Checks())
}

type contentTensor struct {
	desc graph.TensorDesc
	data []int32
}

func (c contentTensor) Shape() []int64     { return c.desc.Dims }
func (c contentTensor) DType() graph.DType { return c.desc.Type }

func TestNativeLoader_RejectsNonELFPayload(t *testing.T) {
	_, err := guard.NativeLoader{}.Open([]byte("definitely not a shared object"))
	require.Error(t, err)

	var le *guard.LoadError
	require.True(t, errors.As(err, &le))
	// memfd/dlopen on linux+cgo, unsupported elsewhere
	assert.Contains(t, []string{guard.StageMemfd, guard.StageDlopen, guard.StageOpen}, le.Stage)
}
