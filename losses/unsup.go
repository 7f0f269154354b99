package losses

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/visionkit/go-densepose/annotations"
	"github.com/visionkit/go-densepose/resample"
	"github.com/visionkit/go-densepose/structures"
	"github.com/visionkit/go-densepose/tensor"
)

// oneHotFloor keeps the reverse cross-entropy finite on the zero entries of
// a one-hot label row.
const oneHotFloor = 1e-4

// unsupLosses adds the pseudo-label terms. Teacher probability maps travel
// with the annotations in ground-truth box geometry; they are resampled onto
// the predicted boxes, restricted to pixels the resampled coarse ground
// truth marks as foreground, and gated by teacher confidence. Batches
// without pseudo labels, without foreground pixels, or with nothing past the
// confidence gate fall back to zero-valued terms.
func (l *ChartLoss) unsupLosses(losses LossMap, outputs *structures.ChartPredictorOutput, packed *annotations.PackedAnnotations) error {
	if !packed.HasPseudo() {
		return l.fakeUnsupLosses(losses, outputs)
	}

	h, w := outputs.SpatialSize()
	posIdx, err := l.foregroundPixels(packed, h, w)
	if err != nil {
		return fmt.Errorf("%s: %v", KeyPseudoSegm, err)
	}
	if len(posIdx) == 0 {
		return l.fakeUnsupLosses(losses, outputs)
	}

	pseudoSegm, err := l.resampledPseudoRows(packed.FineSegmPseudo, packed, h, w, posIdx)
	if err != nil {
		return fmt.Errorf("%s: %v", KeyPseudoSegm, err)
	}

	// Per-pixel teacher confidence is the maximum channel value; the top-K
	// channels drive both the pseudo label and the U/V channel picks.
	c := l.cfg.NumChannels
	m := len(posIdx)
	topChannels := make([][]int, m)
	var kept []int
	for i := 0; i < m; i++ {
		row := pseudoSegm[i*c : (i+1)*c]
		topChannels[i] = topChannelIndices(row, l.cfg.UVLossChannels)
		if floats.Max(row) >= l.cfg.PseudoThreshold {
			kept = append(kept, i)
		}
	}
	if len(kept) == 0 {
		return l.fakeUnsupLosses(losses, outputs)
	}

	estSegm, err := l.studentRows(outputs.FineSegm, packed, posIdx)
	if err != nil {
		return fmt.Errorf("%s: %v", KeyPseudoSegm, err)
	}
	estKept, err := tensor.SelectRows(estSegm, kept)
	if err != nil {
		return fmt.Errorf("%s: %v", KeyPseudoSegm, err)
	}
	top1 := make([]int, len(kept))
	for i, ki := range kept {
		top1[i] = topChannels[ki][0]
	}

	if losses[KeyPseudoSegm], err = l.pseudoSegmLoss(estKept, top1); err != nil {
		return fmt.Errorf("%s: %v", KeyPseudoSegm, err)
	}
	if losses[KeyPseudoU], err = l.pseudoCoordinateLoss(outputs.U, packed.UPseudo, packed, h, w, posIdx, kept, topChannels); err != nil {
		return fmt.Errorf("%s: %v", KeyPseudoU, err)
	}
	if losses[KeyPseudoV], err = l.pseudoCoordinateLoss(outputs.V, packed.VPseudo, packed, h, w, posIdx, kept, topChannels); err != nil {
		return fmt.Errorf("%s: %v", KeyPseudoV, err)
	}
	return nil
}

// foregroundPixels resamples the stacked coarse ground-truth rasters onto
// the predicted boxes and returns the flat indices of pixels with a positive
// label. The flat order matches the row order of studentRows.
func (l *ChartLoss) foregroundPixels(packed *annotations.PackedAnnotations, h, w int) ([]int, error) {
	shape := packed.CoarseSegmGT.Shape()
	if len(shape) != 3 {
		return nil, fmt.Errorf("stacked coarse rasters must be [K,S,S], got %v", shape)
	}
	asGrid, err := tensor.NewTensor([]int{shape[0], 1, shape[1], shape[2]}, tensor.Float64, packed.CoarseSegmGT.Float64s())
	if err != nil {
		return nil, fmt.Errorf("viewing coarse rasters as a grid: %v", err)
	}
	resampled, err := resample.Resample(asGrid, packed.BBoxXYWHGT, packed.BBoxXYWHEst, h, w,
		resample.ModeNearest, resample.PaddingZeros)
	if err != nil {
		return nil, fmt.Errorf("resampling coarse rasters: %v", err)
	}

	var pos []int
	for i, v := range resampled.Float64s() {
		if v > 0 {
			pos = append(pos, i)
		}
	}
	return pos, nil
}

// studentRows selects the predictor rows covered by annotated instances,
// flattens their pixels to rows, and keeps the rows at the given pixel
// indices. m is [N,C,H,W]; the result is [len(pixels),C].
func (l *ChartLoss) studentRows(m *tensor.Tensor, packed *annotations.PackedAnnotations, pixels []int) (*tensor.Tensor, error) {
	sel, err := tensor.SelectRows(m, packed.BBoxIndices)
	if err != nil {
		return nil, err
	}
	rows, err := tensor.PixelsToRows(sel)
	if err != nil {
		return nil, err
	}
	return tensor.SelectRows(rows, pixels)
}

// resampledPseudoRows resamples one stacked pseudo map [K,C,S,S] onto the
// predicted boxes and gathers the channel rows at the given pixel indices
// into a flat [len(pixels)*C] slice. Pseudo maps are teacher constants and
// never join the computation graph.
func (l *ChartLoss) resampledPseudoRows(pseudo *tensor.Tensor, packed *annotations.PackedAnnotations, h, w int, pixels []int) ([]float64, error) {
	resampled, err := resample.Resample(pseudo, packed.BBoxXYWHGT, packed.BBoxXYWHEst, h, w,
		resample.ModeNearest, resample.PaddingZeros)
	if err != nil {
		return nil, fmt.Errorf("resampling pseudo map: %v", err)
	}
	c := resampled.Shape()[1]
	if c != l.cfg.NumChannels {
		return nil, fmt.Errorf("pseudo map has %d channels, configured for %d", c, l.cfg.NumChannels)
	}

	vals := resampled.Float64s()
	out := make([]float64, len(pixels)*c)
	for i, r := range pixels {
		ki := r / (h * w)
		rem := r % (h * w)
		yi := rem / w
		xi := rem % w
		for ci := 0; ci < c; ci++ {
			out[i*c+ci] = vals[((ki*c+ci)*h+yi)*w+xi]
		}
	}
	return out, nil
}

// pseudoSegmLoss classifies the student rows against the teacher's top-1
// channel. The "ce" variant is a plain mean cross-entropy. The "sce" variant
// reduces a reverse cross-entropy instead: past the confidence gate the mask
// is all ones, which zeroes the forward term (keeping it in the graph) and
// makes the weights uniform over the kept points.
func (l *ChartLoss) pseudoSegmLoss(estKept *tensor.Tensor, top1 []int) (*tensor.Tensor, error) {
	ceVec, err := tensor.CrossEntropyRows(estKept, top1)
	if err != nil {
		return nil, err
	}

	switch l.cfg.PseudoLossType {
	case PseudoLossCE:
		mean, err := tensor.Mean(ceVec)
		if err != nil {
			return nil, err
		}
		return tensor.Scale(mean, l.cfg.PseudoSegmWeight)

	case PseudoLossSCE:
		kept := len(top1)
		c := l.cfg.NumChannels

		// Reverse CE: -sum_c est[c] * log(onehot[c]) with the one-hot
		// clamped away from zero.
		offLabel := -math.Log(oneHotFloor)
		coef := make([]float64, kept*c)
		for i, label := range top1 {
			for ci := 0; ci < c; ci++ {
				if ci != label {
					coef[i*c+ci] = offLabel
				}
			}
		}
		rceVec, err := tensor.RowDotConst(estKept, coef)
		if err != nil {
			return nil, err
		}
		rceMean, err := tensor.Mean(rceVec)
		if err != nil {
			return nil, err
		}

		zeros, err := tensor.Zeros([]int{kept}, tensor.Float64)
		if err != nil {
			return nil, err
		}
		gatedCE, err := tensor.Mul(ceVec, zeros)
		if err != nil {
			return nil, err
		}
		blended, err := tensor.Add(gatedCE, rceMean)
		if err != nil {
			return nil, err
		}
		weights, err := tensor.Full([]int{kept}, 1/float64(kept))
		if err != nil {
			return nil, err
		}
		weighted, err := tensor.Mul(blended, weights)
		if err != nil {
			return nil, err
		}
		sum, err := tensor.Sum(weighted)
		if err != nil {
			return nil, err
		}
		return tensor.Scale(sum, l.cfg.PseudoSegmWeight)
	}
	return nil, fmt.Errorf("unknown pseudo loss type %d", int(l.cfg.PseudoLossType))
}

// pseudoCoordinateLoss regresses one student coordinate map against the
// teacher's, on the top-K teacher channels of each kept pixel. Picks are
// concatenated channel-major: all kept pixels for the best channel, then for
// the second best, and so on.
func (l *ChartLoss) pseudoCoordinateLoss(estMap, pseudoMap *tensor.Tensor, packed *annotations.PackedAnnotations, h, w int, posIdx, kept []int, topChannels [][]int) (*tensor.Tensor, error) {
	estRows, err := l.studentRows(estMap, packed, posIdx)
	if err != nil {
		return nil, err
	}
	estKept, err := tensor.SelectRows(estRows, kept)
	if err != nil {
		return nil, err
	}
	pseudoRows, err := l.resampledPseudoRows(pseudoMap, packed, h, w, posIdx)
	if err != nil {
		return nil, err
	}

	k := l.cfg.UVLossChannels
	c := l.cfg.NumChannels
	picks := make([]*tensor.Tensor, k)
	targets := make([]float64, 0, k*len(kept))
	for i := 0; i < k; i++ {
		cols := make([]int, len(kept))
		for j, kj := range kept {
			cols[j] = topChannels[kj][i]
			targets = append(targets, pseudoRows[kj*c+cols[j]])
		}
		if picks[i], err = tensor.SelectColumnPerRow(estKept, cols); err != nil {
			return nil, err
		}
	}
	estCat, err := tensor.Concat(picks...)
	if err != nil {
		return nil, err
	}

	perPoint, err := tensor.SmoothL1(estCat, targets)
	if err != nil {
		return nil, err
	}

	switch l.cfg.PseudoLossType {
	case PseudoLossCE:
		mean, err := tensor.Mean(perPoint)
		if err != nil {
			return nil, err
		}
		return tensor.Scale(mean, l.cfg.PseudoPointsWeight)

	case PseudoLossSCE:
		// The segmentation confidence-mask weights carry over: uniform over
		// the kept pixels, tiled across the K channel picks.
		weights, err := tensor.Full([]int{k * len(kept)}, 1/float64(len(kept)))
		if err != nil {
			return nil, err
		}
		weighted, err := tensor.Mul(perPoint, weights)
		if err != nil {
			return nil, err
		}
		sum, err := tensor.Sum(weighted)
		if err != nil {
			return nil, err
		}
		return tensor.Scale(sum, l.cfg.PseudoPointsWeight)
	}
	return nil, fmt.Errorf("unknown pseudo loss type %d", int(l.cfg.PseudoLossType))
}

// topChannelIndices returns the indices of the k largest values of row in
// descending value order.
func topChannelIndices(row []float64, k int) []int {
	tmp := make([]float64, len(row))
	copy(tmp, row)
	order := make([]int, len(row))
	floats.Argsort(tmp, order)

	top := make([]int, k)
	for i := 0; i < k; i++ {
		top[i] = order[len(order)-1-i]
	}
	return top
}
