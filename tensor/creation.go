package tensor

import (
	"fmt"

	gt "gorgonia.org/tensor"
)

func validateShape(shape []int) error {
	if len(shape) == 0 {
		return fmt.Errorf("invalid shape: must have at least one dimension")
	}
	for i, dim := range shape {
		if dim <= 0 {
			return fmt.Errorf("invalid shape: dimension %d has size %d, must be positive", i, dim)
		}
	}
	return nil
}

func numElements(shape []int) int {
	n := 1
	for _, dim := range shape {
		n *= dim
	}
	return n
}

// NewTensor builds a tensor of the given shape and dtype. data may be a slice
// of the matching element type, a single value to fill with, or nil for
// zero-valued storage.
func NewTensor(shape []int, dtype DType, data interface{}) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}

	n := numElements(shape)
	backing, err := makeBacking(dtype, n, data)
	if err != nil {
		return nil, err
	}

	dims := make([]int, len(shape))
	copy(dims, shape)
	dense := gt.New(gt.WithShape(dims...), gt.WithBacking(backing))
	return &Tensor{dense: dense, dtype: dtype}, nil
}

func makeBacking(dtype DType, n int, data interface{}) (interface{}, error) {
	switch dtype {
	case Float64:
		switch d := data.(type) {
		case nil:
			return make([]float64, n), nil
		case []float64:
			if len(d) != n {
				return nil, fmt.Errorf("data length %d does not match tensor size %d", len(d), n)
			}
			return d, nil
		case float64:
			slice := make([]float64, n)
			for i := range slice {
				slice[i] = d
			}
			return slice, nil
		default:
			return nil, fmt.Errorf("unsupported data type for Float64 tensor: %T", data)
		}
	case Int:
		switch d := data.(type) {
		case nil:
			return make([]int, n), nil
		case []int:
			if len(d) != n {
				return nil, fmt.Errorf("data length %d does not match tensor size %d", len(d), n)
			}
			return d, nil
		case int:
			slice := make([]int, n)
			for i := range slice {
				slice[i] = d
			}
			return slice, nil
		default:
			return nil, fmt.Errorf("unsupported data type for Int tensor: %T", data)
		}
	case Bool:
		switch d := data.(type) {
		case nil:
			return make([]bool, n), nil
		case []bool:
			if len(d) != n {
				return nil, fmt.Errorf("data length %d does not match tensor size %d", len(d), n)
			}
			return d, nil
		default:
			return nil, fmt.Errorf("unsupported data type for Bool tensor: %T", data)
		}
	default:
		return nil, fmt.Errorf("unsupported dtype: %s", dtype)
	}
}

func Zeros(shape []int, dtype DType) (*Tensor, error) {
	return NewTensor(shape, dtype, nil)
}

func Ones(shape []int, dtype DType) (*Tensor, error) {
	switch dtype {
	case Float64:
		return NewTensor(shape, dtype, 1.0)
	case Int:
		return NewTensor(shape, dtype, 1)
	default:
		return nil, fmt.Errorf("unsupported dtype for Ones: %s", dtype)
	}
}

func Full(shape []int, value float64) (*Tensor, error) {
	return NewTensor(shape, Float64, value)
}

// FromScalar wraps a single value as a one-element Float64 tensor.
func FromScalar(value float64) *Tensor {
	t, err := NewTensor([]int{1}, Float64, []float64{value})
	if err != nil {
		panic(fmt.Sprintf("FromScalar: %v", err))
	}
	return t
}

// newFloat64 builds a Float64 result tensor for operation forward passes. The
// backing slice is adopted, not copied. Shape errors here are programmer
// errors inside an operation, hence the panic.
func newFloat64(shape []int, backing []float64) *Tensor {
	t, err := NewTensor(shape, Float64, backing)
	if err != nil {
		panic(fmt.Sprintf("operation produced invalid tensor: %v", err))
	}
	return t
}
