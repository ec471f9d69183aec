package testutil

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/guardcache/internal/graph"
	"github.com/roach88/guardcache/internal/guard"
)

// SliceGraph returns a small valid graph slice.
func SliceGraph(name string) *graph.Graph {
	return graph.New(name).
		AddNode(1, "parameter").
		AddNode(2, "parameter").
		AddNode(3, "add", 1, 2)
}

// Payload builds a RecordingLoader payload for the given descriptor spec.
func Payload(spec string) []byte {
	return []byte(PayloadPrefix + spec)
}

// CompiledGraph returns a copy of base carrying a guard payload for spec.
func CompiledGraph(base *graph.Graph, spec string) *graph.Graph {
	g, err := base.Clone()
	if err != nil {
		panic(err)
	}
	g.SetAttr(guard.PayloadAttr, Payload(spec))
	return g
}

// ParseDesc parses "f32[2x3]" into a tensor descriptor. "i64[]" is a scalar.
func ParseDesc(s string) (graph.TensorDesc, error) {
	name, rest, ok := strings.Cut(s, "[")
	if !ok || !strings.HasSuffix(rest, "]") {
		return graph.TensorDesc{}, fmt.Errorf("bad tensor descriptor %q", s)
	}
	dtype, err := graph.ParseDType(name)
	if err != nil {
		return graph.TensorDesc{}, err
	}
	desc := graph.TensorDesc{Type: dtype}
	dims := strings.TrimSuffix(rest, "]")
	if dims == "" {
		return desc, nil
	}
	for _, part := range strings.Split(dims, "x") {
		d, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return graph.TensorDesc{}, fmt.Errorf("bad dimension %q in %q", part, s)
		}
		desc.Dims = append(desc.Dims, d)
	}
	return desc, nil
}

// Inputs builds tensor inputs from descriptor specs. Panics on a bad spec.
func Inputs(specs ...string) []graph.Tensor {
	out := make([]graph.Tensor, len(specs))
	for i, s := range specs {
		d, err := ParseDesc(s)
		if err != nil {
			panic(err)
		}
		out[i] = d
	}
	return out
}
