package tensor

import (
	"fmt"

	gt "gorgonia.org/tensor"
)

type DType int

const (
	Float64 DType = iota
	Int
	Bool
)

func (d DType) String() string {
	switch d {
	case Float64:
		return "Float64"
	case Int:
		return "Int"
	case Bool:
		return "Bool"
	default:
		return "Unknown"
	}
}

func (d DType) dtype() gt.Dtype {
	switch d {
	case Float64:
		return gt.Float64
	case Int:
		return gt.Int
	case Bool:
		return gt.Bool
	default:
		panic(fmt.Sprintf("unknown dtype %d", int(d)))
	}
}

// Operation is a node in the autograd graph. Forward stores the inputs on the
// operation and returns a result whose creator is the operation; Backward maps
// the gradient of the result to one gradient per input, aligned with Inputs.
type Operation interface {
	Forward(inputs ...*Tensor) *Tensor
	Backward(gradOut *Tensor) []*Tensor
	Inputs() []*Tensor
}

// Tensor couples dense storage with reverse-mode autograd state. Storage is a
// gorgonia dense array; gradients are accumulated into grad by Backward.
type Tensor struct {
	dense        *gt.Dense
	dtype        DType
	requiresGrad bool
	grad         *Tensor
	creator      Operation
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v, dtype=%s, elements=%d)", t.Shape(), t.dtype, t.Size())
}

// Shape returns a copy of the tensor's dimensions.
func (t *Tensor) Shape() []int {
	s := t.dense.Shape()
	out := make([]int, len(s))
	copy(out, s)
	return out
}

// Size returns the total number of elements.
func (t *Tensor) Size() int {
	return t.dense.Shape().TotalSize()
}

func (t *Tensor) DType() DType {
	return t.dtype
}

// Float64s returns the backing slice of a Float64 tensor.
func (t *Tensor) Float64s() []float64 {
	return t.dense.Data().([]float64)
}

// Ints returns the backing slice of an Int tensor.
func (t *Tensor) Ints() []int {
	return t.dense.Data().([]int)
}

// Bools returns the backing slice of a Bool tensor.
func (t *Tensor) Bools() []bool {
	return t.dense.Data().([]bool)
}

func (t *Tensor) RequiresGrad() bool {
	return t.requiresGrad
}

func (t *Tensor) SetRequiresGrad(requires bool) {
	t.requiresGrad = requires
}

func (t *Tensor) Grad() *Tensor {
	return t.grad
}

// ZeroGrad clears the accumulated gradient.
func (t *Tensor) ZeroGrad() {
	t.grad = nil
}

// Item extracts the value of a single-element Float64 tensor.
func (t *Tensor) Item() (float64, error) {
	if t.dtype != Float64 {
		return 0, fmt.Errorf("Item requires a Float64 tensor, got %s", t.dtype)
	}
	if t.Size() != 1 {
		return 0, fmt.Errorf("Item requires a single-element tensor, got %d elements", t.Size())
	}
	return t.Float64s()[0], nil
}

// At reads one element of a Float64 tensor by coordinates.
func (t *Tensor) At(coords ...int) (float64, error) {
	if t.dtype != Float64 {
		return 0, fmt.Errorf("At requires a Float64 tensor, got %s", t.dtype)
	}
	v, err := t.dense.At(coords...)
	if err != nil {
		return 0, fmt.Errorf("invalid coordinates %v for shape %v: %v", coords, t.Shape(), err)
	}
	return v.(float64), nil
}

// Clone copies the storage. Autograd state is not carried over.
func (t *Tensor) Clone() (*Tensor, error) {
	d, ok := t.dense.Clone().(*gt.Dense)
	if !ok {
		return nil, fmt.Errorf("clone did not produce a dense tensor")
	}
	return &Tensor{dense: d, dtype: t.dtype}, nil
}

func shapesEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
