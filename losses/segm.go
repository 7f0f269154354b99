package losses

import (
	"fmt"

	"gonum.org/v1/gonum/floats"

	"github.com/visionkit/go-densepose/annotations"
	"github.com/visionkit/go-densepose/interp"
	"github.com/visionkit/go-densepose/structures"
	"github.com/visionkit/go-densepose/tensor"
)

// segmLosses adds the fine segmentation cross-entropy at validly aligned
// points, the delegated coarse segmentation term, and the correction
// classification term when a correction head is present. Unlike the U/V
// terms, background points participate here with label 0.
func (l *ChartLoss) segmLosses(losses LossMap, outputs *structures.ChartPredictorOutput, packed *annotations.PackedAnnotations, ip *interp.Interpolator, valid []int, corrections *structures.CorrectionOutput) error {
	estAll, err := ip.ExtractAtPointsAllChannels(outputs.FineSegm)
	if err != nil {
		return fmt.Errorf("%s: %v", KeyFineSegm, err)
	}
	estValid, err := tensor.SelectRows(estAll, valid)
	if err != nil {
		return fmt.Errorf("%s: %v", KeyFineSegm, err)
	}
	labels := make([]int, len(valid))
	for i, idx := range valid {
		labels[i] = packed.FineSegmLabelsGT[idx]
	}

	perPoint, err := tensor.CrossEntropyRows(estValid, labels)
	if err != nil {
		return fmt.Errorf("%s: %v", KeyFineSegm, err)
	}
	mean, err := tensor.Mean(perPoint)
	if err != nil {
		return fmt.Errorf("%s: %v", KeyFineSegm, err)
	}
	if losses[KeyFineSegm], err = tensor.Scale(mean, l.cfg.PartWeight); err != nil {
		return fmt.Errorf("%s: %v", KeyFineSegm, err)
	}

	coarse, err := l.segmLoss.Value(outputs, packed)
	if err != nil {
		return fmt.Errorf("%s: %v", KeyCoarseSegm, err)
	}
	if losses[KeyCoarseSegm], err = tensor.Scale(coarse, l.cfg.SegmWeight); err != nil {
		return fmt.Errorf("%s: %v", KeyCoarseSegm, err)
	}

	if corrections == nil {
		return nil
	}
	if losses[KeyCorrectionFineSegm], err = l.segmCorrectionLoss(corrections, ip, valid, estValid, labels); err != nil {
		return fmt.Errorf("%s: %v", KeyCorrectionFineSegm, err)
	}
	return nil
}

// segmCorrectionLoss classifies each point into the fine channels plus an
// abstain class. Points where the base prediction already agrees with the
// ground truth target the abstain class and count twice; disagreeing points
// target their true label at single weight. The base scores enter only as
// constants through the argmax.
func (l *ChartLoss) segmCorrectionLoss(corrections *structures.CorrectionOutput, ip *interp.Interpolator, valid []int, baseEst *tensor.Tensor, labels []int) (*tensor.Tensor, error) {
	crtAll, err := ip.ExtractAtPointsAllChannels(corrections.FineSegm)
	if err != nil {
		return nil, err
	}
	crtValid, err := tensor.SelectRows(crtAll, valid)
	if err != nil {
		return nil, err
	}

	c := l.cfg.NumChannels
	baseVals := baseEst.Float64s()
	targets := make([]int, len(valid))
	weights := make([]float64, len(valid))
	for i := range valid {
		predicted := floats.MaxIdx(baseVals[i*c : (i+1)*c])
		if predicted == labels[i] {
			targets[i] = c
			weights[i] = 2
		} else {
			targets[i] = labels[i]
			weights[i] = 1
		}
	}

	perPoint, err := tensor.CrossEntropyRows(crtValid, targets)
	if err != nil {
		return nil, err
	}
	weightsT, err := tensor.NewTensor([]int{len(weights)}, tensor.Float64, weights)
	if err != nil {
		return nil, err
	}
	weighted, err := tensor.Mul(perPoint, weightsT)
	if err != nil {
		return nil, err
	}
	mean, err := tensor.Mean(weighted)
	if err != nil {
		return nil, err
	}
	return tensor.Scale(mean, l.cfg.CorrectionSegmWeight)
}
