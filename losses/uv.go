package losses

import (
	"fmt"

	"github.com/visionkit/go-densepose/annotations"
	"github.com/visionkit/go-densepose/interp"
	"github.com/visionkit/go-densepose/structures"
	"github.com/visionkit/go-densepose/tensor"
)

// uvLosses adds the supervised U/V smooth L1 terms, plus the correction U/V
// terms when a correction head is present. Only validly aligned foreground
// points participate.
func (l *ChartLoss) uvLosses(losses LossMap, outputs *structures.ChartPredictorOutput, packed *annotations.PackedAnnotations, ip *interp.Interpolator, validFg []int, corrections *structures.CorrectionOutput) error {
	uLoss, uEst, uGT, err := l.coordinateLoss(outputs.U, packed.UGT, ip, validFg)
	if err != nil {
		return fmt.Errorf("%s: %v", KeyU, err)
	}
	vLoss, vEst, vGT, err := l.coordinateLoss(outputs.V, packed.VGT, ip, validFg)
	if err != nil {
		return fmt.Errorf("%s: %v", KeyV, err)
	}
	losses[KeyU] = uLoss
	losses[KeyV] = vLoss

	if corrections == nil {
		return nil
	}
	if losses[KeyCorrectionU], err = l.coordinateCorrectionLoss(corrections.U, uEst, uGT, ip, validFg); err != nil {
		return fmt.Errorf("%s: %v", KeyCorrectionU, err)
	}
	if losses[KeyCorrectionV], err = l.coordinateCorrectionLoss(corrections.V, vEst, vGT, ip, validFg); err != nil {
		return fmt.Errorf("%s: %v", KeyCorrectionV, err)
	}
	return nil
}

// coordinateLoss regresses one coordinate map against its point annotations
// with a summed smooth L1. The foreground estimates and targets are returned
// for reuse by the correction term.
func (l *ChartLoss) coordinateLoss(estMap *tensor.Tensor, gt []float64, ip *interp.Interpolator, validFg []int) (*tensor.Tensor, *tensor.Tensor, []float64, error) {
	est, err := ip.ExtractAtPoints(estMap)
	if err != nil {
		return nil, nil, nil, err
	}
	estFg, err := tensor.SelectRows(est, validFg)
	if err != nil {
		return nil, nil, nil, err
	}
	gtFg := make([]float64, len(validFg))
	for i, idx := range validFg {
		gtFg[i] = gt[idx]
	}

	perPoint, err := tensor.SmoothL1(estFg, gtFg)
	if err != nil {
		return nil, nil, nil, err
	}
	sum, err := tensor.Sum(perPoint)
	if err != nil {
		return nil, nil, nil, err
	}
	loss, err := tensor.Scale(sum, l.cfg.PointWeight)
	if err != nil {
		return nil, nil, nil, err
	}
	return loss, estFg, gtFg, nil
}

// coordinateCorrectionLoss regresses the correction estimates against the
// residual the base prediction leaves behind. The residual is computed from
// the base estimate clamped to [0,1] and enters as a constant target, so
// gradients reach the correction head only.
func (l *ChartLoss) coordinateCorrectionLoss(crtMap *tensor.Tensor, baseEst *tensor.Tensor, gt []float64, ip *interp.Interpolator, validFg []int) (*tensor.Tensor, error) {
	crtEst, err := ip.ExtractAtPoints(crtMap)
	if err != nil {
		return nil, err
	}
	crtFg, err := tensor.SelectRows(crtEst, validFg)
	if err != nil {
		return nil, err
	}

	baseVals := baseEst.Float64s()
	targets := make([]float64, len(gt))
	for i, g := range gt {
		base := baseVals[i]
		if base < 0 {
			base = 0
		}
		if base > 1 {
			base = 1
		}
		targets[i] = g - base
	}

	perPoint, err := tensor.SmoothL1(crtFg, targets)
	if err != nil {
		return nil, err
	}
	sum, err := tensor.Sum(perPoint)
	if err != nil {
		return nil, err
	}
	return tensor.Scale(sum, l.cfg.CorrectionPointsWeight)
}
