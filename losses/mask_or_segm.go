package losses

import (
	"fmt"

	"github.com/visionkit/go-densepose/annotations"
	"github.com/visionkit/go-densepose/resample"
	"github.com/visionkit/go-densepose/structures"
	"github.com/visionkit/go-densepose/tensor"
)

// MaskOrSegmentationLoss produces the coarse segmentation term. Coarse
// ground truth rasters are resampled from ground-truth boxes onto the
// predicted boxes and compared with the coarse estimates by per-pixel
// cross-entropy. When coarse segmentation is trained from instance masks
// instead (SegmTrainedByMasks), the term degrades to a graph-preserving
// zero and the mask pipeline outside this package supplies the supervision.
type MaskOrSegmentationLoss struct {
	cfg Config
}

// NewMaskOrSegmentationLoss validates the configuration and builds the loss.
func NewMaskOrSegmentationLoss(cfg Config) (*MaskOrSegmentationLoss, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("mask or segmentation loss config: %v", err)
	}
	return &MaskOrSegmentationLoss{cfg: cfg}, nil
}

// Compute implements the Loss interface for standalone use. corrections are
// not part of this term and are ignored.
func (l *MaskOrSegmentationLoss) Compute(proposals []*structures.Instances, outputs *structures.ChartPredictorOutput, corrections *structures.CorrectionOutput) (LossMap, error) {
	if outputs == nil {
		return nil, fmt.Errorf("nil predictor outputs")
	}
	if err := outputs.Validate(); err != nil {
		return nil, fmt.Errorf("predictor outputs: %v", err)
	}

	if len(proposals) == 0 {
		fake, err := l.FakeValue(outputs)
		if err != nil {
			return nil, err
		}
		return LossMap{KeyCoarseSegm: fake}, nil
	}
	packed, err := annotations.Pack(proposals)
	if err != nil {
		return nil, err
	}

	value, err := l.Value(outputs, packed)
	if err != nil {
		return nil, err
	}
	scaled, err := tensor.Scale(value, l.cfg.SegmWeight)
	if err != nil {
		return nil, err
	}
	return LossMap{KeyCoarseSegm: scaled}, nil
}

// Value returns the unweighted coarse segmentation scalar. packed may be
// nil; batches without coarse ground truth yield the fake value.
func (l *MaskOrSegmentationLoss) Value(outputs *structures.ChartPredictorOutput, packed *annotations.PackedAnnotations) (*tensor.Tensor, error) {
	if l.cfg.SegmTrainedByMasks || packed == nil || packed.CoarseSegmGT == nil {
		return l.FakeValue(outputs)
	}

	h, w := outputs.SpatialSize()
	est, err := tensor.SelectRows(outputs.CoarseSegm, packed.BBoxIndices)
	if err != nil {
		return nil, fmt.Errorf("selecting coarse estimates: %v", err)
	}
	estRows, err := tensor.PixelsToRows(est)
	if err != nil {
		return nil, err
	}

	labels, err := l.resampledCoarseLabels(packed, h, w)
	if err != nil {
		return nil, err
	}

	perPixel, err := tensor.CrossEntropyRows(estRows, labels)
	if err != nil {
		return nil, fmt.Errorf("coarse segmentation cross-entropy: %v", err)
	}
	return tensor.Mean(perPixel)
}

// resampledCoarseLabels moves the stacked [K,Sg,Sg] coarse rasters onto the
// predicted boxes at h by w resolution and converts pixel values to class
// labels. Two coarse channels binarize the raster; more channels read the
// raster values as labels directly.
func (l *MaskOrSegmentationLoss) resampledCoarseLabels(packed *annotations.PackedAnnotations, h, w int) ([]int, error) {
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

	values := resampled.Float64s()
	labels := make([]int, len(values))
	for i, v := range values {
		if l.cfg.NumCoarseChannels == 2 {
			if v > 0 {
				labels[i] = 1
			}
			continue
		}
		labels[i] = int(v)
	}
	return labels, nil
}

// FakeValue returns a zero scalar connected to the coarse estimates.
func (l *MaskOrSegmentationLoss) FakeValue(outputs *structures.ChartPredictorOutput) (*tensor.Tensor, error) {
	return fakeScalar(outputs.CoarseSegm)
}
