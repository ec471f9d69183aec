package graph

import (
	"fmt"
	"strings"
)

// DType identifies the element type of a tensor.
// Values are part of the native guard ABI and must not be renumbered.
type DType int32

const (
	DTypeInvalid DType = iota
	Float32
	Float16
	BFloat16
	Float64
	Int8
	Int32
	Int64
	Uint8
	Bool
)

var dtypeNames = map[DType]string{
	DTypeInvalid: "invalid",
	Float32:      "f32",
	Float16:      "f16",
	BFloat16:     "bf16",
	Float64:      "f64",
	Int8:         "i8",
	Int32:        "i32",
	Int64:        "i64",
	Uint8:        "u8",
	Bool:         "bool",
}

func (d DType) String() string {
	if name, ok := dtypeNames[d]; ok {
		return name
	}
	return fmt.Sprintf("dtype(%d)", int32(d))
}

// ParseDType maps a short dtype name ("f32", "i64", ...) back to a DType.
func ParseDType(s string) (DType, error) {
	for d, name := range dtypeNames {
		if name == s && d != DTypeInvalid {
			return d, nil
		}
	}
	return DTypeInvalid, fmt.Errorf("unknown dtype %q", s)
}

// Tensor is the view of a runtime tensor the cache needs.
// Implementations may carry device buffers; only metadata is ever read.
type Tensor interface {
	Shape() []int64
	DType() DType
}

// TensorDesc is the shape+dtype descriptor handed to guard predicates.
type TensorDesc struct {
	Type DType
	Dims []int64
}

// Shape implements Tensor.
func (d TensorDesc) Shape() []int64 { return d.Dims }

// DType implements Tensor.
func (d TensorDesc) DType() DType { return d.Type }

// Rank returns the number of dimensions.
func (d TensorDesc) Rank() int { return len(d.Dims) }

// String renders the descriptor as "f32[2x3]".
func (d TensorDesc) String() string {
	parts := make([]string, len(d.Dims))
	for i, dim := range d.Dims {
		parts[i] = fmt.Sprintf("%d", dim)
	}
	return fmt.Sprintf("%s[%s]", d.Type, strings.Join(parts, "x"))
}

// Describe reduces runtime tensors to descriptors.
// Dims are copied so a guard can never observe later mutation of the input.
func Describe(inputs []Tensor) []TensorDesc {
	descs := make([]TensorDesc, len(inputs))
	for i, t := range inputs {
		if t == nil {
			continue
		}
		shape := t.Shape()
		dims := make([]int64, len(shape))
		copy(dims, shape)
		descs[i] = TensorDesc{Type: t.DType(), Dims: dims}
	}
	return descs
}
