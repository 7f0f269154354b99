package tensor

import (
	"fmt"
)

// SelectRowsOp picks slices of a tensor along its first axis by index.
type SelectRowsOp struct {
	inputs  []*Tensor
	indices []int
}

func (op *SelectRowsOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("SelectRowsOp requires exactly 1 input")
	}
	op.inputs = inputs

	a := inputs[0]
	shape := a.Shape()
	data := a.Float64s()
	rowLen := a.Size() / shape[0]

	out := make([]float64, len(op.indices)*rowLen)
	for i, idx := range op.indices {
		copy(out[i*rowLen:(i+1)*rowLen], data[idx*rowLen:(idx+1)*rowLen])
	}

	outShape := append([]int{len(op.indices)}, shape[1:]...)

	result := newFloat64(outShape, out)
	result.creator = op
	result.requiresGrad = a.requiresGrad
	return result
}

func (op *SelectRowsOp) Backward(gradOut *Tensor) []*Tensor {
	// Selected rows scatter-add back; rows may repeat in the index list.
	a := op.inputs[0]
	shape := a.Shape()
	rowLen := a.Size() / shape[0]

	g := gradOut.Float64s()
	grad := make([]float64, a.Size())
	for i, idx := range op.indices {
		for j := 0; j < rowLen; j++ {
			grad[idx*rowLen+j] += g[i*rowLen+j]
		}
	}
	return []*Tensor{newFloat64(shape, grad)}
}

func (op *SelectRowsOp) Inputs() []*Tensor { return op.inputs }

// SelectColumnPerRowOp picks one column from every row of a 2-D tensor, a
// different column per row.
type SelectColumnPerRowOp struct {
	inputs  []*Tensor
	columns []int
}

func (op *SelectColumnPerRowOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("SelectColumnPerRowOp requires exactly 1 input")
	}
	op.inputs = inputs

	a := inputs[0]
	cols := a.Shape()[1]
	data := a.Float64s()

	out := make([]float64, len(op.columns))
	for i, c := range op.columns {
		out[i] = data[i*cols+c]
	}

	result := newFloat64([]int{len(op.columns)}, out)
	result.creator = op
	result.requiresGrad = a.requiresGrad
	return result
}

func (op *SelectColumnPerRowOp) Backward(gradOut *Tensor) []*Tensor {
	a := op.inputs[0]
	cols := a.Shape()[1]
	g := gradOut.Float64s()

	grad := make([]float64, a.Size())
	for i, c := range op.columns {
		grad[i*cols+c] += g[i]
	}
	return []*Tensor{newFloat64(a.Shape(), grad)}
}

func (op *SelectColumnPerRowOp) Inputs() []*Tensor { return op.inputs }

// PixelsToRowsOp reorders a [K,C,H,W] tensor into a [K*H*W, C] matrix with
// one row per pixel, channels along the row.
type PixelsToRowsOp struct {
	inputs []*Tensor
}

func (op *PixelsToRowsOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("PixelsToRowsOp requires exactly 1 input")
	}
	op.inputs = inputs

	a := inputs[0]
	shape := a.Shape()
	k, c, h, w := shape[0], shape[1], shape[2], shape[3]
	data := a.Float64s()

	out := make([]float64, k*h*w*c)
	for ki := 0; ki < k; ki++ {
		for ci := 0; ci < c; ci++ {
			for yi := 0; yi < h; yi++ {
				for xi := 0; xi < w; xi++ {
					row := (ki*h+yi)*w + xi
					out[row*c+ci] = data[((ki*c+ci)*h+yi)*w+xi]
				}
			}
		}
	}

	result := newFloat64([]int{k * h * w, c}, out)
	result.creator = op
	result.requiresGrad = a.requiresGrad
	return result
}

func (op *PixelsToRowsOp) Backward(gradOut *Tensor) []*Tensor {
	a := op.inputs[0]
	shape := a.Shape()
	k, c, h, w := shape[0], shape[1], shape[2], shape[3]
	g := gradOut.Float64s()

	grad := make([]float64, a.Size())
	for ki := 0; ki < k; ki++ {
		for ci := 0; ci < c; ci++ {
			for yi := 0; yi < h; yi++ {
				for xi := 0; xi < w; xi++ {
					row := (ki*h+yi)*w + xi
					grad[((ki*c+ci)*h+yi)*w+xi] = g[row*c+ci]
				}
			}
		}
	}
	return []*Tensor{newFloat64(shape, grad)}
}

func (op *PixelsToRowsOp) Inputs() []*Tensor { return op.inputs }

// BilinearPoints holds, for each sample point on a [N,C,H,W] tensor, the
// batch row it reads from, the two neighboring pixel coordinates per axis,
// and the four corner weights. Corner naming is (y,x): WLoHi weights the
// (YLo, XHi) corner.
type BilinearPoints struct {
	Rows []int
	YLo  []int
	YHi  []int
	XLo  []int
	XHi  []int

	WLoLo []float64
	WLoHi []float64
	WHiLo []float64
	WHiHi []float64
}

// Len returns the number of sample points.
func (p *BilinearPoints) Len() int {
	return len(p.Rows)
}

func (p *BilinearPoints) validate(n, h, w int) error {
	count := len(p.Rows)
	sameLen := len(p.YLo) == count && len(p.YHi) == count &&
		len(p.XLo) == count && len(p.XHi) == count &&
		len(p.WLoLo) == count && len(p.WLoHi) == count &&
		len(p.WHiLo) == count && len(p.WHiHi) == count
	if !sameLen {
		return fmt.Errorf("bilinear point arrays have inconsistent lengths")
	}
	for i := 0; i < count; i++ {
		if p.Rows[i] < 0 || p.Rows[i] >= n {
			return fmt.Errorf("point %d: batch row %d out of range [0,%d)", i, p.Rows[i], n)
		}
		if p.YLo[i] < 0 || p.YHi[i] >= h || p.YLo[i] > p.YHi[i] {
			return fmt.Errorf("point %d: y indices (%d,%d) out of range [0,%d)", i, p.YLo[i], p.YHi[i], h)
		}
		if p.XLo[i] < 0 || p.XHi[i] >= w || p.XLo[i] > p.XHi[i] {
			return fmt.Errorf("point %d: x indices (%d,%d) out of range [0,%d)", i, p.XLo[i], p.XHi[i], w)
		}
	}
	return nil
}

// BilinearGatherOp samples one channel per point from a [N,C,H,W] tensor with
// bilinear corner weights.
type BilinearGatherOp struct {
	inputs   []*Tensor
	points   *BilinearPoints
	channels []int
}

func (op *BilinearGatherOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("BilinearGatherOp requires exactly 1 input")
	}
	op.inputs = inputs

	a := inputs[0]
	shape := a.Shape()
	c, h, w := shape[1], shape[2], shape[3]
	data := a.Float64s()
	p := op.points

	out := make([]float64, p.Len())
	for i := range out {
		base := (p.Rows[i]*c + op.channels[i]) * h
		out[i] = p.WLoLo[i]*data[(base+p.YLo[i])*w+p.XLo[i]] +
			p.WLoHi[i]*data[(base+p.YLo[i])*w+p.XHi[i]] +
			p.WHiLo[i]*data[(base+p.YHi[i])*w+p.XLo[i]] +
			p.WHiHi[i]*data[(base+p.YHi[i])*w+p.XHi[i]]
	}

	result := newFloat64([]int{p.Len()}, out)
	result.creator = op
	result.requiresGrad = a.requiresGrad
	return result
}

func (op *BilinearGatherOp) Backward(gradOut *Tensor) []*Tensor {
	// Each sampled point scatter-adds its corner weights; overlapping
	// points accumulate.
	a := op.inputs[0]
	shape := a.Shape()
	c, h, w := shape[1], shape[2], shape[3]
	g := gradOut.Float64s()
	p := op.points

	grad := make([]float64, a.Size())
	for i := range g {
		base := (p.Rows[i]*c + op.channels[i]) * h
		grad[(base+p.YLo[i])*w+p.XLo[i]] += g[i] * p.WLoLo[i]
		grad[(base+p.YLo[i])*w+p.XHi[i]] += g[i] * p.WLoHi[i]
		grad[(base+p.YHi[i])*w+p.XLo[i]] += g[i] * p.WHiLo[i]
		grad[(base+p.YHi[i])*w+p.XHi[i]] += g[i] * p.WHiHi[i]
	}
	return []*Tensor{newFloat64(shape, grad)}
}

func (op *BilinearGatherOp) Inputs() []*Tensor { return op.inputs }

// BilinearGatherAllOp samples every channel at each point from a [N,C,H,W]
// tensor, producing one row of channel values per point.
type BilinearGatherAllOp struct {
	inputs []*Tensor
	points *BilinearPoints
}

func (op *BilinearGatherAllOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("BilinearGatherAllOp requires exactly 1 input")
	}
	op.inputs = inputs

	a := inputs[0]
	shape := a.Shape()
	c, h, w := shape[1], shape[2], shape[3]
	data := a.Float64s()
	p := op.points

	out := make([]float64, p.Len()*c)
	for i := 0; i < p.Len(); i++ {
		for ci := 0; ci < c; ci++ {
			base := (p.Rows[i]*c + ci) * h
			out[i*c+ci] = p.WLoLo[i]*data[(base+p.YLo[i])*w+p.XLo[i]] +
				p.WLoHi[i]*data[(base+p.YLo[i])*w+p.XHi[i]] +
				p.WHiLo[i]*data[(base+p.YHi[i])*w+p.XLo[i]] +
				p.WHiHi[i]*data[(base+p.YHi[i])*w+p.XHi[i]]
		}
	}

	result := newFloat64([]int{p.Len(), c}, out)
	result.creator = op
	result.requiresGrad = a.requiresGrad
	return result
}

func (op *BilinearGatherAllOp) Backward(gradOut *Tensor) []*Tensor {
	a := op.inputs[0]
	shape := a.Shape()
	c, h, w := shape[1], shape[2], shape[3]
	g := gradOut.Float64s()
	p := op.points

	grad := make([]float64, a.Size())
	for i := 0; i < p.Len(); i++ {
		for ci := 0; ci < c; ci++ {
			base := (p.Rows[i]*c + ci) * h
			gi := g[i*c+ci]
			grad[(base+p.YLo[i])*w+p.XLo[i]] += gi * p.WLoLo[i]
			grad[(base+p.YLo[i])*w+p.XHi[i]] += gi * p.WLoHi[i]
			grad[(base+p.YHi[i])*w+p.XLo[i]] += gi * p.WHiLo[i]
			grad[(base+p.YHi[i])*w+p.XHi[i]] += gi * p.WHiHi[i]
		}
	}
	return []*Tensor{newFloat64(shape, grad)}
}

func (op *BilinearGatherAllOp) Inputs() []*Tensor { return op.inputs }

// SelectRows picks slices along the first axis of a tensor. Indices may
// repeat; the backward pass accumulates over repeats.
func SelectRows(t *Tensor, indices []int) (*Tensor, error) {
	if err := ensureFloat64("SelectRows", t); err != nil {
		return nil, err
	}
	shape := t.Shape()
	if len(indices) == 0 {
		return nil, fmt.Errorf("SelectRows requires at least one index")
	}
	for i, idx := range indices {
		if idx < 0 || idx >= shape[0] {
			return nil, fmt.Errorf("SelectRows: index %d at position %d out of range [0,%d)", idx, i, shape[0])
		}
	}
	op := &SelectRowsOp{indices: indices}
	return op.Forward(t), nil
}

// SelectColumnPerRow picks columns[i] from row i of a 2-D tensor. The column
// list length must equal the number of rows.
func SelectColumnPerRow(t *Tensor, columns []int) (*Tensor, error) {
	if err := ensureFloat64("SelectColumnPerRow", t); err != nil {
		return nil, err
	}
	shape := t.Shape()
	if len(shape) != 2 {
		return nil, fmt.Errorf("SelectColumnPerRow requires a 2-D tensor, got shape %v", shape)
	}
	if len(columns) != shape[0] {
		return nil, fmt.Errorf("SelectColumnPerRow requires one column per row: %d columns for %d rows", len(columns), shape[0])
	}
	for i, c := range columns {
		if c < 0 || c >= shape[1] {
			return nil, fmt.Errorf("SelectColumnPerRow: column %d at row %d out of range [0,%d)", c, i, shape[1])
		}
	}
	op := &SelectColumnPerRowOp{columns: columns}
	return op.Forward(t), nil
}

// PixelsToRows flattens a [K,C,H,W] tensor into a [K*H*W, C] matrix, one row
// per pixel in batch-major, row-major pixel order.
func PixelsToRows(t *Tensor) (*Tensor, error) {
	if err := ensureFloat64("PixelsToRows", t); err != nil {
		return nil, err
	}
	if len(t.Shape()) != 4 {
		return nil, fmt.Errorf("PixelsToRows requires a 4-D tensor, got shape %v", t.Shape())
	}
	op := &PixelsToRowsOp{}
	return op.Forward(t), nil
}

// BilinearGather samples channels[i] at point i from a [N,C,H,W] tensor.
func BilinearGather(t *Tensor, points *BilinearPoints, channels []int) (*Tensor, error) {
	if err := ensureFloat64("BilinearGather", t); err != nil {
		return nil, err
	}
	shape := t.Shape()
	if len(shape) != 4 {
		return nil, fmt.Errorf("BilinearGather requires a 4-D tensor, got shape %v", shape)
	}
	if points.Len() == 0 {
		return nil, fmt.Errorf("BilinearGather requires at least one point")
	}
	if err := points.validate(shape[0], shape[2], shape[3]); err != nil {
		return nil, fmt.Errorf("BilinearGather: %v", err)
	}
	if len(channels) != points.Len() {
		return nil, fmt.Errorf("BilinearGather requires one channel per point: %d channels for %d points", len(channels), points.Len())
	}
	for i, c := range channels {
		if c < 0 || c >= shape[1] {
			return nil, fmt.Errorf("BilinearGather: channel %d at point %d out of range [0,%d)", c, i, shape[1])
		}
	}
	op := &BilinearGatherOp{points: points, channels: channels}
	return op.Forward(t), nil
}

// BilinearGatherAll samples all channels at each point from a [N,C,H,W]
// tensor, returning a [P,C] matrix.
func BilinearGatherAll(t *Tensor, points *BilinearPoints) (*Tensor, error) {
	if err := ensureFloat64("BilinearGatherAll", t); err != nil {
		return nil, err
	}
	shape := t.Shape()
	if len(shape) != 4 {
		return nil, fmt.Errorf("BilinearGatherAll requires a 4-D tensor, got shape %v", shape)
	}
	if points.Len() == 0 {
		return nil, fmt.Errorf("BilinearGatherAll requires at least one point")
	}
	if err := points.validate(shape[0], shape[2], shape[3]); err != nil {
		return nil, fmt.Errorf("BilinearGatherAll: %v", err)
	}
	op := &BilinearGatherAllOp{points: points}
	return op.Forward(t), nil
}
