package graph

import (
	"errors"
	"fmt"
	"sort"
)

// ErrNilGraph is returned when an operation needs a graph and got nil.
var ErrNilGraph = errors.New("graph: nil graph")

// Node is one operation in a graph slice.
type Node struct {
	ID     uint32            `json:"id"`
	Op     string            `json:"op"`
	Inputs []uint32          `json:"inputs,omitempty"`
	Attrs  map[string]string `json:"attrs,omitempty"`
}

// Graph is a slice of a larger computation graph.
//
// Attrs holds named byte blobs. The compiler attaches the native guard
// shared object to a compiled graph through one of these.
type Graph struct {
	Name  string
	Nodes []Node
	Attrs map[string][]byte
}

// New creates an empty named graph.
func New(name string) *Graph {
	return &Graph{Name: name, Attrs: make(map[string][]byte)}
}

// AddNode appends a node and returns the graph for chaining.
func (g *Graph) AddNode(id uint32, op string, inputs ...uint32) *Graph {
	g.Nodes = append(g.Nodes, Node{ID: id, Op: op, Inputs: inputs})
	return g
}

// SetAttr stores a byte-blob attribute. The blob is copied.
func (g *Graph) SetAttr(name string, blob []byte) {
	if g.Attrs == nil {
		g.Attrs = make(map[string][]byte)
	}
	g.Attrs[name] = append([]byte(nil), blob...)
}

// Attr returns a byte-blob attribute.
// The second result is false when the attribute is absent.
func (g *Graph) Attr(name string) ([]byte, bool) {
	if g == nil || g.Attrs == nil {
		return nil, false
	}
	blob, ok := g.Attrs[name]
	return blob, ok
}

// AttrNames returns attribute names in sorted order.
func (g *Graph) AttrNames() []string {
	names := make([]string, 0, len(g.Attrs))
	for name := range g.Attrs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NodeCount returns the number of nodes in the graph.
func (g *Graph) NodeCount() int {
	if g == nil {
		return 0
	}
	return len(g.Nodes)
}

// Validate checks structural integrity: node IDs are unique and every input
// edge references a node of the same graph.
func (g *Graph) Validate() error {
	if g == nil {
		return ErrNilGraph
	}
	seen := make(map[uint32]struct{}, len(g.Nodes))
	for _, n := range g.Nodes {
		if _, dup := seen[n.ID]; dup {
			return fmt.Errorf("graph %q: duplicate node id %d", g.Name, n.ID)
		}
		seen[n.ID] = struct{}{}
	}
	for _, n := range g.Nodes {
		for _, in := range n.Inputs {
			if _, ok := seen[in]; !ok {
				return fmt.Errorf("graph %q: node %d references unknown input %d", g.Name, n.ID, in)
			}
		}
	}
	return nil
}

// Clone returns a deep copy of the graph. The copy shares no slices or maps
// with the receiver, so concurrently materialized copies never alias.
//
// Clone refuses to copy a structurally invalid graph.
func (g *Graph) Clone() (*Graph, error) {
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("clone: %w", err)
	}

	out := &Graph{
		Name:  g.Name,
		Nodes: make([]Node, len(g.Nodes)),
		Attrs: make(map[string][]byte, len(g.Attrs)),
	}
	for i, n := range g.Nodes {
		cp := Node{ID: n.ID, Op: n.Op}
		if n.Inputs != nil {
			cp.Inputs = append([]uint32(nil), n.Inputs...)
		}
		if n.Attrs != nil {
			cp.Attrs = make(map[string]string, len(n.Attrs))
			for k, v := range n.Attrs {
				cp.Attrs[k] = v
			}
		}
		out.Nodes[i] = cp
	}
	for k, v := range g.Attrs {
		out.Attrs[k] = append([]byte(nil), v...)
	}
	return out, nil
}
