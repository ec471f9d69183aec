package jit

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/guardcache/internal/graph"
	"github.com/roach88/guardcache/internal/testutil"
)

func TestFindOrCreate_MissCreatesUncompiledVariant(t *testing.T) {
	ep, _ := newTestPoint(t, 1)

	v, err := ep.FindOrCreateGuarded(in("f32[2x3]"))
	require.NoError(t, err)
	require.NotNil(t, v)

	assert.False(t, v.Compiled())
	assert.Equal(t, uint32(0), v.Priority())
	assert.Same(t, ep, v.Owner())
	assert.Equal(t, 1, ep.SavedCacheNum())
	require.NotNil(t, v.CompiledGraph())
	assert.NotSame(t, ep.SlicedGraph(), v.CompiledGraph(), "variant must own a private copy")
	assert.Equal(t, ep.SlicedGraph(), v.CompiledGraph())
}

func TestFindOrCreate_ReturnsExistingMatch(t *testing.T) {
	ep, _ := newTestPoint(t, 1)

	v, err := ep.FindOrCreateGuarded(in("f32[2x3]"))
	require.NoError(t, err)
	compile(t, v, 7, "f32[2x3]")

	again, err := ep.FindOrCreateGuarded(in("f32[2x3]"))
	require.NoError(t, err)
	assert.Same(t, v, again)
	assert.Equal(t, 1, ep.SavedCacheNum())
}

func TestFindOrCreate_UncompiledVariantNeverMatches(t *testing.T) {
	ep, _ := newTestPoint(t, 1)

	first, err := ep.FindOrCreateGuarded(in("f32[2]"))
	require.NoError(t, err)
	second, err := ep.FindOrCreateGuarded(in("f32[2]"))
	require.NoError(t, err)

	assert.NotSame(t, first, second)
	assert.Equal(t, 2, ep.SavedCacheNum())
}

func TestFind_MissReturnsNil(t *testing.T) {
	ep, _ := newTestPoint(t, 1)
	assert.Nil(t, ep.FindGuarded(in("f32[1]")))

	v, err := ep.FindOrCreateGuarded(in("f32[1]"))
	require.NoError(t, err)
	compile(t, v, 1, "f32[1]")

	assert.Nil(t, ep.FindGuarded(in("i64[1]")))
	assert.Equal(t, uint32(0), v.Priority(), "miss must not bump priority")
}

func TestFind_HitBumpsPriorityByOneAndNeverWorsensRank(t *testing.T) {
	ep, _ := newTestPoint(t, 1)
	specs := []string{"f32[1]", "f32[2]", "f32[3]"}
	variants := make([]*GuardedVariant, len(specs))
	for i, s := range specs {
		v, err := ep.FindOrCreateGuarded(in(s))
		require.NoError(t, err)
		compile(t, v, uint32(i), s)
		variants[i] = v
	}

	rank := func(v *GuardedVariant) int {
		for i, e := range ep.Cache().Entries() {
			if e == v {
				return i
			}
		}
		return -1
	}

	target := variants[2]
	before := rank(target)
	prio := target.Priority()

	hit := ep.FindGuarded(in("f32[3]"))
	require.Same(t, target, hit)
	assert.Equal(t, prio+1, target.Priority())
	assert.LessOrEqual(t, rank(target), before)
	assert.Equal(t, 0, rank(target), "sole priority-1 entry ranks first")
	requireSorted(t, ep.Cache())
}

func TestFind_FirstMatchNotBestMatch(t *testing.T) {
	ep, _ := newTestPoint(t, 1)

	wildcard := ep.NewVariant()
	require.NoError(t, ep.Cache().Add(wildcard))
	compile(t, wildcard, 1, "*")
	require.Same(t, wildcard, ep.FindGuarded(in("i64[9]")))

	specific := ep.NewVariant()
	require.NoError(t, ep.Cache().Add(specific))
	compile(t, specific, 2, "f32[4]")

	// Both guards accept f32[4]; the higher-ranked one wins
	hit := ep.FindGuarded(in("f32[4]"))
	assert.Same(t, wildcard, hit)
	assert.Equal(t, uint32(2), wildcard.Priority())
	assert.Equal(t, uint32(0), specific.Priority())
}

func TestScenario_FullCacheEvictsLowestPriority(t *testing.T) {
	ep, loader := newTestPoint(t, 1, WithMaxCacheCount(2))

	a, err := ep.FindOrCreateGuarded(in("f32[1]"))
	require.NoError(t, err)
	compile(t, a, 1, "f32[1]")
	for i := 0; i < 3; i++ {
		require.Same(t, a, ep.FindGuarded(in("f32[1]")))
	}
	require.Equal(t, uint32(3), a.Priority())

	b := ep.NewVariant()
	b.SetPriority(1)
	require.NoError(t, ep.Cache().Add(b))
	compile(t, b, 2, "f32[2]")
	bModule := loader.Modules()[1]

	c, err := ep.FindOrCreateGuarded(in("f32[3]"))
	require.NoError(t, err)
	assert.Equal(t, uint32(0), c.Priority())
	assert.False(t, c.Compiled())

	assert.Equal(t, []*GuardedVariant{a, c}, ep.Cache().Entries())
	assert.True(t, bModule.Closed(), "evicted guard must be unloaded")
	assert.False(t, b.Compiled())
	assert.Equal(t, 0, loader.DoubleCloses())

	// Evicted variant's own Remove is a no-op now
	require.NoError(t, b.Remove())
	assert.Equal(t, 0, loader.DoubleCloses())
}

func TestEvict_TieBreaksOnEarliestInserted(t *testing.T) {
	ep, _ := newTestPoint(t, 1, WithMaxCacheCount(2))

	first, err := ep.FindOrCreateGuarded(in("f32[1]"))
	require.NoError(t, err)
	second, err := ep.FindOrCreateGuarded(in("f32[1]"))
	require.NoError(t, err)
	third, err := ep.FindOrCreateGuarded(in("f32[1]"))
	require.NoError(t, err)

	assert.Equal(t, []*GuardedVariant{second, third}, ep.Cache().Entries())
	assert.NotContains(t, ep.Cache().Entries(), first)
}

func TestScenario_MissingPayloadLeavesVariantInert(t *testing.T) {
	ep, loader := newTestPoint(t, 1, WithMaxCacheCount(3))

	v, err := ep.FindOrCreateGuarded(in("f32[2]"))
	require.NoError(t, err)

	err = v.SetCompiled(9, testutil.SliceGraph("no-payload"))
	require.Error(t, err)
	assert.True(t, IsGuardLoadError(err))
	assert.False(t, v.Compiled())
	assert.Equal(t, "", v.Key(), "no key for an uncompiled variant")
	assert.Equal(t, 0, loader.Opens())

	for i := 0; i < 3; i++ {
		assert.False(t, v.Matches(in("f32[2]")))
	}
	assert.Equal(t, 1, ep.SavedCacheNum(), "inert variant still occupies its slot")

	// It is evicted like any other entry once the cache fills
	_, err = ep.FindOrCreateGuarded(in("f32[2]"))
	require.NoError(t, err)
	_, err = ep.FindOrCreateGuarded(in("f32[2]"))
	require.NoError(t, err)
	_, err = ep.FindOrCreateGuarded(in("f32[2]"))
	require.NoError(t, err)
	assert.NotContains(t, ep.Cache().Entries(), v)
	assert.Equal(t, 3, ep.SavedCacheNum())
}

func TestFindOrCreate_GraphCopyFailureIsFatal(t *testing.T) {
	broken := graph.New("broken").AddNode(1, "add", 42)
	ep := NewExecutionPoint(5, broken, nil,
		WithLoader(testutil.NewRecordingLoader()),
		WithLogger(quietLogger()),
	)

	v, err := ep.FindOrCreateGuarded(in("f32[1]"))
	require.Error(t, err)
	assert.Nil(t, v)
	assert.True(t, IsGraphCopyError(err))
	assert.Contains(t, err.Error(), "ep=5")
	assert.Equal(t, 0, ep.SavedCacheNum())
}

func TestAdd_GraphCopyFailureLeavesCacheUntouched(t *testing.T) {
	loader := testutil.NewRecordingLoader()
	good := NewExecutionPoint(1, testutil.SliceGraph("s"), nil, WithLoader(loader), WithMaxCacheCount(1), WithLogger(quietLogger()))
	v, err := good.FindOrCreateGuarded(in("f32[1]"))
	require.NoError(t, err)

	bad := NewExecutionPoint(2, graph.New("broken").AddNode(1, "x", 9), nil, WithLoader(loader), WithLogger(quietLogger()))
	orphan := bad.NewVariant()
	// Adding a variant whose template cannot be copied must not evict v
	err = good.Cache().Add(orphan)
	require.Error(t, err)
	assert.Equal(t, []*GuardedVariant{v}, good.Cache().Entries())
}

func TestAdd_RejectsAlreadyCachedVariant(t *testing.T) {
	ep, _ := newTestPoint(t, 1)
	v, err := ep.FindOrCreateGuarded(in("f32[1]"))
	require.NoError(t, err)

	err = ep.Cache().Add(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already cached")
	assert.Equal(t, 1, ep.SavedCacheNum())
}

func TestFindOrCreate_RetryFindScansTwice(t *testing.T) {
	for _, tc := range []struct {
		name   string
		retry  bool
		checks int
	}{
		{"single find", false, 1},
		{"retry find", true, 2},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ep, loader := newTestPoint(t, 1, WithRetryFind(tc.retry))
			v, err := ep.FindOrCreateGuarded(in("f32[1]"))
			require.NoError(t, err)
			compile(t, v, 1, "never")

			_, err = ep.FindOrCreateGuarded(in("f32[1]"))
			require.NoError(t, err)
			assert.Equal(t, tc.checks, loader.Modules()[0].Checks())
		})
	}
}

func TestRemoveAll_UnloadsEveryGuardOnce(t *testing.T) {
	ep, loader := newTestPoint(t, 1)
	for i, s := range []string{"f32[1]", "f32[2]", "f32[3]"} {
		v, err := ep.FindOrCreateGuarded(in(s))
		require.NoError(t, err)
		compile(t, v, uint32(i), s)
	}
	require.Equal(t, 3, loader.Live())

	require.NoError(t, ep.Cache().RemoveAll())
	assert.Equal(t, 0, ep.SavedCacheNum())
	assert.Equal(t, 0, loader.Live())

	require.NoError(t, ep.Cache().RemoveAll())
	assert.Equal(t, 0, loader.DoubleCloses())
}

func TestRemove_SingleVariant(t *testing.T) {
	ep, loader := newTestPoint(t, 1)
	a, err := ep.FindOrCreateGuarded(in("f32[1]"))
	require.NoError(t, err)
	compile(t, a, 1, "f32[1]")
	b, err := ep.FindOrCreateGuarded(in("f32[2]"))
	require.NoError(t, err)
	compile(t, b, 2, "f32[2]")

	require.NoError(t, ep.Cache().Remove(a))
	assert.Equal(t, []*GuardedVariant{b}, ep.Cache().Entries())
	assert.Equal(t, 1, loader.Live())
	assert.False(t, a.Compiled())

	// Not cached any more: no-op.
	require.NoError(t, ep.Cache().Remove(a))
	assert.Equal(t, 0, loader.DoubleCloses())

	other, _ := newTestPoint(t, 2)
	require.NoError(t, other.Cache().Remove(b))
	assert.Equal(t, 1, ep.SavedCacheNum(), "foreign cache must not touch b")
}

func TestSetPriority_ResortsCache(t *testing.T) {
	ep, _ := newTestPoint(t, 1)
	a, _ := ep.FindOrCreateGuarded(in("f32[1]"))
	b, _ := ep.FindOrCreateGuarded(in("f32[1]"))
	require.Equal(t, []*GuardedVariant{a, b}, ep.Cache().Entries())

	b.SetPriority(5)
	assert.Equal(t, []*GuardedVariant{b, a}, ep.Cache().Entries())
	requireSorted(t, ep.Cache())
}

// Randomised operation sequences must keep the bound and the ordering, and
// every guard must be released exactly once by the end.
func TestCacheInvariants_RandomSequences(t *testing.T) {
	specs := []string{"f32[1]", "f32[2]", "f32[3]", "f32[4]", "f32[5]", "i64[1]", "i64[2]"}

	for seed := int64(1); seed <= 20; seed++ {
		rng := rand.New(rand.NewSource(seed))
		maxCount := uint32(1 + rng.Intn(4))
		loader := testutil.NewRecordingLoader()
		ep := NewExecutionPoint(seed, testutil.SliceGraph("s"), nil,
			WithLoader(loader),
			WithMaxCacheCount(maxCount),
			WithKeyGenerator(testutil.NewSequenceKeyGenerator("k")),
			WithLogger(quietLogger()),
		)

		for step := 0; step < 200; step++ {
			spec := specs[rng.Intn(len(specs))]
			v, err := ep.FindOrCreateGuarded(in(spec))
			require.NoError(t, err)
			if !v.Compiled() && rng.Intn(4) != 0 {
				compile(t, v, uint32(step), spec)
			}

			require.LessOrEqual(t, ep.SavedCacheNum(), int(maxCount), "seed %d step %d", seed, step)
			requireSorted(t, ep.Cache())
		}

		require.NoError(t, ep.Close())
		assert.Equal(t, 0, loader.Live(), "seed %d leaked guards", seed)
		assert.Equal(t, 0, loader.DoubleCloses(), "seed %d double-freed guards", seed)
	}
}
