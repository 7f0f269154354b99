package tensor

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

const logClamp = 1e-10

// SmoothL1Op computes the per-element smooth L1 (Huber) loss between the
// input and a constant target, with the quadratic-to-linear switch at 1.
type SmoothL1Op struct {
	inputs []*Tensor
	target []float64
}

func (op *SmoothL1Op) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("SmoothL1Op requires exactly 1 input")
	}
	op.inputs = inputs

	a := inputs[0]
	pred := a.Float64s()

	out := make([]float64, len(pred))
	for i := range out {
		d := pred[i] - op.target[i]
		if math.Abs(d) < 1 {
			out[i] = 0.5 * d * d
		} else {
			out[i] = math.Abs(d) - 0.5
		}
	}

	result := newFloat64(a.Shape(), out)
	result.creator = op
	result.requiresGrad = a.requiresGrad
	return result
}

func (op *SmoothL1Op) Backward(gradOut *Tensor) []*Tensor {
	// d(loss)/d(pred) = pred - target inside the quadratic region,
	// sign(pred - target) outside it.
	a := op.inputs[0]
	pred := a.Float64s()
	g := gradOut.Float64s()

	grad := make([]float64, len(pred))
	for i := range grad {
		d := pred[i] - op.target[i]
		if d > 1 {
			d = 1
		} else if d < -1 {
			d = -1
		}
		grad[i] = g[i] * d
	}
	return []*Tensor{newFloat64(a.Shape(), grad)}
}

func (op *SmoothL1Op) Inputs() []*Tensor { return op.inputs }

// CrossEntropyRowsOp computes the per-row softmax cross-entropy of a [P,C]
// logit matrix against constant integer labels. The softmax probabilities are
// kept for the backward pass.
type CrossEntropyRowsOp struct {
	inputs []*Tensor
	labels []int
	probs  []float64
}

func (op *CrossEntropyRowsOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("CrossEntropyRowsOp requires exactly 1 input")
	}
	op.inputs = inputs

	a := inputs[0]
	shape := a.Shape()
	rows, cols := shape[0], shape[1]
	logits := a.Float64s()

	op.probs = make([]float64, rows*cols)
	out := make([]float64, rows)
	for i := 0; i < rows; i++ {
		row := logits[i*cols : (i+1)*cols]
		prow := op.probs[i*cols : (i+1)*cols]
		softmaxRow(row, prow)

		p := prow[op.labels[i]]
		if p < logClamp {
			p = logClamp
		}
		out[i] = -math.Log(p)
	}

	result := newFloat64([]int{rows}, out)
	result.creator = op
	result.requiresGrad = a.requiresGrad
	return result
}

func (op *CrossEntropyRowsOp) Backward(gradOut *Tensor) []*Tensor {
	if op.probs == nil {
		panic("CrossEntropyRowsOp: softmax not stored for backward pass")
	}

	// d(ce_i)/d(logit_ic) = softmax_ic - 1{c == label_i}
	a := op.inputs[0]
	shape := a.Shape()
	rows, cols := shape[0], shape[1]
	g := gradOut.Float64s()

	grad := make([]float64, rows*cols)
	for i := 0; i < rows; i++ {
		for c := 0; c < cols; c++ {
			delta := 0.0
			if c == op.labels[i] {
				delta = 1.0
			}
			grad[i*cols+c] = g[i] * (op.probs[i*cols+c] - delta)
		}
	}
	return []*Tensor{newFloat64(shape, grad)}
}

func (op *CrossEntropyRowsOp) Inputs() []*Tensor { return op.inputs }

// softmaxRow writes the softmax of row into out. The max is subtracted before
// exponentiation to keep the values in range.
func softmaxRow(row, out []float64) {
	max := floats.Max(row)
	sum := 0.0
	for i, v := range row {
		out[i] = math.Exp(v - max)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
}

// RowDotConstOp computes the per-row dot product of a [P,C] tensor with a
// constant coefficient matrix of the same size.
type RowDotConstOp struct {
	inputs []*Tensor
	coef   []float64
}

func (op *RowDotConstOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("RowDotConstOp requires exactly 1 input")
	}
	op.inputs = inputs

	a := inputs[0]
	shape := a.Shape()
	rows, cols := shape[0], shape[1]
	data := a.Float64s()

	out := make([]float64, rows)
	for i := 0; i < rows; i++ {
		s := 0.0
		for c := 0; c < cols; c++ {
			s += data[i*cols+c] * op.coef[i*cols+c]
		}
		out[i] = s
	}

	result := newFloat64([]int{rows}, out)
	result.creator = op
	result.requiresGrad = a.requiresGrad
	return result
}

func (op *RowDotConstOp) Backward(gradOut *Tensor) []*Tensor {
	a := op.inputs[0]
	shape := a.Shape()
	rows, cols := shape[0], shape[1]
	g := gradOut.Float64s()

	grad := make([]float64, rows*cols)
	for i := 0; i < rows; i++ {
		for c := 0; c < cols; c++ {
			grad[i*cols+c] = g[i] * op.coef[i*cols+c]
		}
	}
	return []*Tensor{newFloat64(shape, grad)}
}

func (op *RowDotConstOp) Inputs() []*Tensor { return op.inputs }

// SmoothL1 computes the elementwise smooth L1 loss of t against a constant
// target slice of the same length. No reduction is applied.
func SmoothL1(t *Tensor, target []float64) (*Tensor, error) {
	if err := ensureFloat64("SmoothL1", t); err != nil {
		return nil, err
	}
	if len(target) != t.Size() {
		return nil, fmt.Errorf("SmoothL1 requires matching sizes: %d targets for %d elements", len(target), t.Size())
	}
	op := &SmoothL1Op{target: target}
	return op.Forward(t), nil
}

// CrossEntropyRows computes the per-row softmax cross-entropy of a [P,C]
// logit tensor against integer labels. No reduction is applied.
func CrossEntropyRows(t *Tensor, labels []int) (*Tensor, error) {
	if err := ensureFloat64("CrossEntropyRows", t); err != nil {
		return nil, err
	}
	shape := t.Shape()
	if len(shape) != 2 {
		return nil, fmt.Errorf("CrossEntropyRows requires a 2-D tensor, got shape %v", shape)
	}
	if len(labels) != shape[0] {
		return nil, fmt.Errorf("CrossEntropyRows requires one label per row: %d labels for %d rows", len(labels), shape[0])
	}
	for i, l := range labels {
		if l < 0 || l >= shape[1] {
			return nil, fmt.Errorf("CrossEntropyRows: label %d at row %d out of range [0,%d)", l, i, shape[1])
		}
	}
	op := &CrossEntropyRowsOp{labels: labels}
	return op.Forward(t), nil
}

// RowDotConst computes the per-row dot product of a [P,C] tensor with a
// constant coefficient matrix given as a flat row-major slice.
func RowDotConst(t *Tensor, coef []float64) (*Tensor, error) {
	if err := ensureFloat64("RowDotConst", t); err != nil {
		return nil, err
	}
	shape := t.Shape()
	if len(shape) != 2 {
		return nil, fmt.Errorf("RowDotConst requires a 2-D tensor, got shape %v", shape)
	}
	if len(coef) != t.Size() {
		return nil, fmt.Errorf("RowDotConst requires matching sizes: %d coefficients for %d elements", len(coef), t.Size())
	}
	op := &RowDotConstOp{coef: coef}
	return op.Forward(t), nil
}
