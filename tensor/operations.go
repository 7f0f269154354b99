package tensor

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

func ensureFloat64(opName string, tensors ...*Tensor) error {
	for _, t := range tensors {
		if t == nil {
			return fmt.Errorf("%s: nil tensor", opName)
		}
		if t.dtype != Float64 {
			return fmt.Errorf("%s requires Float64 tensors, got %s", opName, t.dtype)
		}
	}
	return nil
}

// SumOp reduces a tensor to the sum of its elements.
type SumOp struct {
	inputs []*Tensor
}

func (op *SumOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("SumOp requires exactly 1 input")
	}
	op.inputs = inputs

	a := inputs[0]
	result := newFloat64([]int{1}, []float64{floats.Sum(a.Float64s())})
	result.creator = op
	result.requiresGrad = a.requiresGrad
	return result
}

func (op *SumOp) Backward(gradOut *Tensor) []*Tensor {
	// d(sum)/d(a_i) = 1 for every element.
	a := op.inputs[0]
	g := gradOut.Float64s()[0]
	grad := make([]float64, a.Size())
	for i := range grad {
		grad[i] = g
	}
	return []*Tensor{newFloat64(a.Shape(), grad)}
}

func (op *SumOp) Inputs() []*Tensor { return op.inputs }

// MeanOp reduces a tensor to the mean of its elements.
type MeanOp struct {
	inputs []*Tensor
}

func (op *MeanOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("MeanOp requires exactly 1 input")
	}
	op.inputs = inputs

	a := inputs[0]
	n := float64(a.Size())
	result := newFloat64([]int{1}, []float64{floats.Sum(a.Float64s()) / n})
	result.creator = op
	result.requiresGrad = a.requiresGrad
	return result
}

func (op *MeanOp) Backward(gradOut *Tensor) []*Tensor {
	a := op.inputs[0]
	g := gradOut.Float64s()[0] / float64(a.Size())
	grad := make([]float64, a.Size())
	for i := range grad {
		grad[i] = g
	}
	return []*Tensor{newFloat64(a.Shape(), grad)}
}

func (op *MeanOp) Inputs() []*Tensor { return op.inputs }

// ScaleOp multiplies every element by a constant factor.
type ScaleOp struct {
	inputs []*Tensor
	factor float64
}

func (op *ScaleOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("ScaleOp requires exactly 1 input")
	}
	op.inputs = inputs

	a := inputs[0]
	out := make([]float64, a.Size())
	copy(out, a.Float64s())
	floats.Scale(op.factor, out)

	result := newFloat64(a.Shape(), out)
	result.creator = op
	result.requiresGrad = a.requiresGrad
	return result
}

func (op *ScaleOp) Backward(gradOut *Tensor) []*Tensor {
	grad := make([]float64, gradOut.Size())
	copy(grad, gradOut.Float64s())
	floats.Scale(op.factor, grad)
	return []*Tensor{newFloat64(op.inputs[0].Shape(), grad)}
}

func (op *ScaleOp) Inputs() []*Tensor { return op.inputs }

// AddOp adds two tensors elementwise. A single-element operand broadcasts
// against the other operand's shape.
type AddOp struct {
	inputs []*Tensor
}

func (op *AddOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 2 {
		panic("AddOp requires exactly 2 inputs")
	}
	op.inputs = inputs

	a, b := inputs[0], inputs[1]
	out := broadcastPair(a, b, func(x, y float64) float64 { return x + y })

	result := newFloat64(broadcastShape(a, b), out)
	result.creator = op
	result.requiresGrad = a.requiresGrad || b.requiresGrad
	return result
}

func (op *AddOp) Backward(gradOut *Tensor) []*Tensor {
	// Gradient flows unchanged to both inputs; a broadcast operand collapses
	// back to its own shape.
	gradA := reduceToShape(gradOut, op.inputs[0].Shape())
	gradB := reduceToShape(gradOut, op.inputs[1].Shape())
	return []*Tensor{gradA, gradB}
}

func (op *AddOp) Inputs() []*Tensor { return op.inputs }

// MulOp multiplies two tensors elementwise. A single-element operand
// broadcasts against the other operand's shape.
type MulOp struct {
	inputs []*Tensor
}

func (op *MulOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 2 {
		panic("MulOp requires exactly 2 inputs")
	}
	op.inputs = inputs

	a, b := inputs[0], inputs[1]
	out := broadcastPair(a, b, func(x, y float64) float64 { return x * y })

	result := newFloat64(broadcastShape(a, b), out)
	result.creator = op
	result.requiresGrad = a.requiresGrad || b.requiresGrad
	return result
}

func (op *MulOp) Backward(gradOut *Tensor) []*Tensor {
	// d(a*b)/da = b and d(a*b)/db = a, evaluated at the broadcast size.
	a, b := op.inputs[0], op.inputs[1]
	g := gradOut.Float64s()

	gradA := make([]float64, len(g))
	gradB := make([]float64, len(g))
	av, bv := a.Float64s(), b.Float64s()
	for i := range g {
		gradA[i] = g[i] * elemAt(bv, i)
		gradB[i] = g[i] * elemAt(av, i)
	}

	shape := gradOut.Shape()
	return []*Tensor{
		reduceToShape(newFloat64(shape, gradA), a.Shape()),
		reduceToShape(newFloat64(shape, gradB), b.Shape()),
	}
}

func (op *MulOp) Inputs() []*Tensor { return op.inputs }

// elemAt reads v[i] with single-element broadcast semantics.
func elemAt(v []float64, i int) float64 {
	if len(v) == 1 {
		return v[0]
	}
	return v[i]
}

func broadcastShape(a, b *Tensor) []int {
	if a.Size() == 1 && b.Size() > 1 {
		return b.Shape()
	}
	return a.Shape()
}

func broadcastPair(a, b *Tensor, f func(x, y float64) float64) []float64 {
	av, bv := a.Float64s(), b.Float64s()
	if len(av) != len(bv) && len(av) != 1 && len(bv) != 1 {
		panic(fmt.Sprintf("operands of shape %v and %v do not broadcast", a.Shape(), b.Shape()))
	}
	n := len(av)
	if len(bv) > n {
		n = len(bv)
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = f(elemAt(av, i), elemAt(bv, i))
	}
	return out
}

// ConcatOp joins one-dimensional tensors end to end.
type ConcatOp struct {
	inputs []*Tensor
}

func (op *ConcatOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) == 0 {
		panic("ConcatOp requires at least 1 input")
	}
	op.inputs = inputs

	total := 0
	requiresGrad := false
	for _, in := range inputs {
		total += in.Size()
		requiresGrad = requiresGrad || in.requiresGrad
	}

	out := make([]float64, 0, total)
	for _, in := range inputs {
		out = append(out, in.Float64s()...)
	}

	result := newFloat64([]int{total}, out)
	result.creator = op
	result.requiresGrad = requiresGrad
	return result
}

func (op *ConcatOp) Backward(gradOut *Tensor) []*Tensor {
	g := gradOut.Float64s()
	grads := make([]*Tensor, len(op.inputs))
	offset := 0
	for i, in := range op.inputs {
		n := in.Size()
		seg := make([]float64, n)
		copy(seg, g[offset:offset+n])
		grads[i] = newFloat64(in.Shape(), seg)
		offset += n
	}
	return grads
}

func (op *ConcatOp) Inputs() []*Tensor { return op.inputs }

// Sum reduces t to a single-element tensor holding the sum of its elements.
func Sum(t *Tensor) (*Tensor, error) {
	if err := ensureFloat64("Sum", t); err != nil {
		return nil, err
	}
	op := &SumOp{}
	return op.Forward(t), nil
}

// Mean reduces t to a single-element tensor holding the mean of its elements.
func Mean(t *Tensor) (*Tensor, error) {
	if err := ensureFloat64("Mean", t); err != nil {
		return nil, err
	}
	op := &MeanOp{}
	return op.Forward(t), nil
}

// Scale multiplies every element of t by factor.
func Scale(t *Tensor, factor float64) (*Tensor, error) {
	if err := ensureFloat64("Scale", t); err != nil {
		return nil, err
	}
	op := &ScaleOp{factor: factor}
	return op.Forward(t), nil
}

// Add computes a + b elementwise. One operand may be a single-element tensor,
// which broadcasts against the other.
func Add(a, b *Tensor) (*Tensor, error) {
	if err := ensureFloat64("Add", a, b); err != nil {
		return nil, err
	}
	if !shapesEqual(a.Shape(), b.Shape()) && a.Size() != 1 && b.Size() != 1 {
		return nil, fmt.Errorf("Add requires matching shapes or a single-element operand, got %v and %v", a.Shape(), b.Shape())
	}
	op := &AddOp{}
	return op.Forward(a, b), nil
}

// Mul computes a * b elementwise. One operand may be a single-element tensor,
// which broadcasts against the other.
func Mul(a, b *Tensor) (*Tensor, error) {
	if err := ensureFloat64("Mul", a, b); err != nil {
		return nil, err
	}
	if !shapesEqual(a.Shape(), b.Shape()) && a.Size() != 1 && b.Size() != 1 {
		return nil, fmt.Errorf("Mul requires matching shapes or a single-element operand, got %v and %v", a.Shape(), b.Shape())
	}
	op := &MulOp{}
	return op.Forward(a, b), nil
}

// Concat joins one-dimensional tensors along their only axis.
func Concat(tensors ...*Tensor) (*Tensor, error) {
	if len(tensors) == 0 {
		return nil, fmt.Errorf("Concat requires at least one tensor")
	}
	if err := ensureFloat64("Concat", tensors...); err != nil {
		return nil, err
	}
	for _, t := range tensors {
		if len(t.Shape()) != 1 {
			return nil, fmt.Errorf("Concat requires one-dimensional tensors, got shape %v", t.Shape())
		}
	}
	op := &ConcatOp{}
	return op.Forward(tensors...), nil
}
