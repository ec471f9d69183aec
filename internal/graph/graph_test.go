package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleGraph() *Graph {
	g := New("slice-0")
	g.AddNode(1, "parameter").AddNode(2, "parameter").AddNode(3, "matmul", 1, 2)
	g.Nodes[2].Attrs = map[string]string{"transpose_b": "true"}
	g.SetAttr("guard_so", []byte{0x7f, 'E', 'L', 'F'})
	return g
}

func TestClone_DeepCopy(t *testing.T) {
	g := sampleGraph()

	cp, err := g.Clone()
	require.NoError(t, err)
	assert.Equal(t, g, cp)

	// Mutating the copy must not reach the template
	cp.Nodes[2].Inputs[0] = 99
	cp.Nodes[2].Attrs["transpose_b"] = "false"
	cp.Attrs["guard_so"][0] = 0
	cp.Name = "changed"

	assert.Equal(t, uint32(1), g.Nodes[2].Inputs[0])
	assert.Equal(t, "true", g.Nodes[2].Attrs["transpose_b"])
	assert.Equal(t, byte(0x7f), g.Attrs["guard_so"][0])
	assert.Equal(t, "slice-0", g.Name)
}

func TestClone_NilGraph(t *testing.T) {
	var g *Graph
	_, err := g.Clone()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNilGraph)
}

func TestClone_DanglingInput(t *testing.T) {
	g := New("broken").AddNode(1, "add", 7)
	_, err := g.Clone()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown input 7")
}

func TestValidate_DuplicateNodeID(t *testing.T) {
	g := New("dup").AddNode(1, "a").AddNode(1, "b")
	err := g.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate node id 1")
}

func TestAttr(t *testing.T) {
	g := sampleGraph()

	blob, ok := g.Attr("guard_so")
	require.True(t, ok)
	assert.Equal(t, []byte{0x7f, 'E', 'L', 'F'}, blob)

	_, ok = g.Attr("missing")
	assert.False(t, ok)

	var nilGraph *Graph
	_, ok = nilGraph.Attr("guard_so")
	assert.False(t, ok)
}

func TestSetAttr_CopiesBlob(t *testing.T) {
	src := []byte("payload")
	g := New("g")
	g.SetAttr("blob", src)
	src[0] = 'X'

	blob, _ := g.Attr("blob")
	assert.Equal(t, "payload", string(blob))
}

func TestAttrNames_Sorted(t *testing.T) {
	g := New("g")
	g.SetAttr("b", nil)
	g.SetAttr("a", nil)
	g.SetAttr("c", nil)
	assert.Equal(t, []string{"a", "b", "c"}, g.AttrNames())
}
