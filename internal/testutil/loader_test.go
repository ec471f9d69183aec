package testutil

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/guardcache/internal/graph"
)

func TestRecordingLoader_ShapeMatch(t *testing.T) {
	l := NewRecordingLoader()
	m, err := l.Open(Payload("f32[2x3]"))
	require.NoError(t, err)

	ok, _ := m.Check(graph.Describe(Inputs("f32[2x3]")), 64)
	assert.True(t, ok)

	ok, reason := m.Check(graph.Describe(Inputs("f32[4x3]")), 64)
	assert.False(t, ok)
	assert.Equal(t, "input 0: want f32[2x3], got f32[4x3]", reason)
}

func TestRecordingLoader_WildcardAndNever(t *testing.T) {
	l := NewRecordingLoader()
	wildcard, err := l.Open(Payload("*"))
	require.NoError(t, err)
	never, err := l.Open(Payload("never"))
	require.NoError(t, err)

	ok, _ := wildcard.Check(nil, 64)
	assert.True(t, ok)
	ok, _ = never.Check(graph.Describe(Inputs("f32[1]")), 64)
	assert.False(t, ok)
}

func TestRecordingLoader_ReasonTruncated(t *testing.T) {
	l := NewRecordingLoader()
	m, err := l.Open(Payload("never"))
	require.NoError(t, err)

	_, reason := m.Check(nil, 5)
	assert.Equal(t, "never", reason)
	_, reason = m.Check(nil, 3)
	assert.Equal(t, "nev", reason)
}

func TestRecordingLoader_CountsCloses(t *testing.T) {
	l := NewRecordingLoader()
	m1, _ := l.Open(Payload("*"))
	_, _ = l.Open(Payload("*"))

	assert.Equal(t, 2, l.Opens())
	assert.Equal(t, 2, l.Live())

	require.NoError(t, m1.Close())
	assert.Equal(t, 1, l.Live())
	assert.Equal(t, 0, l.DoubleCloses())

	require.NoError(t, m1.Close())
	assert.Equal(t, 1, l.DoubleCloses())

	ok, reason := m1.Check(nil, 64)
	assert.False(t, ok)
	assert.Equal(t, "module closed", reason)
}

func TestRecordingLoader_Failures(t *testing.T) {
	l := NewRecordingLoader()

	_, err := l.Open([]byte("\x7fELF"))
	assert.Error(t, err)

	_, err = l.Open(Payload("f32[2xq]"))
	assert.Error(t, err)

	l.FailOpen = errors.New("boom")
	_, err = l.Open(Payload("*"))
	assert.EqualError(t, err, "boom")
	assert.Equal(t, 0, l.Opens())
}

func TestParseDesc(t *testing.T) {
	d, err := ParseDesc("i64[]")
	require.NoError(t, err)
	assert.Equal(t, graph.Int64, d.Type)
	assert.Empty(t, d.Dims)

	d, err = ParseDesc("bf16[1x2x3]")
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, d.Dims)

	_, err = ParseDesc("f32")
	assert.Error(t, err)
}
