// Package losses computes training losses for chart-based dense pose
// estimation. A body surface is split into charts; every annotated point
// carries a chart label I and chart coordinates U and V, and every instance
// carries a coarse segmentation raster. Predictions are dense maps; sparse
// ground truth is coupled to them through bilinear point extraction and
// box-to-box resampling.
//
// Every loss term is returned as a single-element tensor connected to the
// prediction graph, so calling Backward on a term (or on LossMap.Total)
// propagates gradients into the predictor outputs. Degenerate batches are
// not errors: branches without usable ground truth emit zero-valued losses
// that still reference the predictions, keeping the key set and the graph
// shape identical across batches.
package losses

import (
	"fmt"
	"sort"

	"github.com/visionkit/go-densepose/structures"
	"github.com/visionkit/go-densepose/tensor"
)

// LossMap maps a loss name to its scalar value.
type LossMap map[string]*tensor.Tensor

// Loss term keys.
const (
	KeyU          = "loss_densepose_U"
	KeyV          = "loss_densepose_V"
	KeyFineSegm   = "loss_densepose_I"
	KeyCoarseSegm = "loss_densepose_S"

	KeyPseudoSegm = "loss_unsup_segm"
	KeyPseudoU    = "loss_u_p"
	KeyPseudoV    = "loss_v_p"

	KeyCorrectionU        = "loss_correction_U"
	KeyCorrectionV        = "loss_correction_V"
	KeyCorrectionFineSegm = "loss_correction_I"
)

// Keys returns the loss names in sorted order.
func (m LossMap) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Total sums every term into one scalar. Terms are added in sorted key
// order, so the resulting graph is deterministic.
func (m LossMap) Total() (*tensor.Tensor, error) {
	if len(m) == 0 {
		return nil, fmt.Errorf("empty loss map")
	}
	var total *tensor.Tensor
	for _, k := range m.Keys() {
		v := m[k]
		if v == nil {
			return nil, fmt.Errorf("loss %q has no value", k)
		}
		if total == nil {
			total = v
			continue
		}
		sum, err := tensor.Add(total, v)
		if err != nil {
			return nil, fmt.Errorf("adding loss %q: %v", k, err)
		}
		total = sum
	}
	return total, nil
}

// Loss computes a map of named loss terms from detections with ground truth
// and the predictor outputs for those detections. corrections may be nil;
// when present, correction terms are added to the map.
type Loss interface {
	Compute(proposals []*structures.Instances, outputs *structures.ChartPredictorOutput, corrections *structures.CorrectionOutput) (LossMap, error)
}

// Type enumerates the loss computations this package provides.
type Type int

const (
	// Chart produces the full chart-based loss family: supervised U/V and
	// segmentation terms, pseudo-label terms, and optional corrections.
	Chart Type = iota
	// MaskOrSegm produces only the coarse segmentation term.
	MaskOrSegm
)

func (t Type) String() string {
	switch t {
	case Chart:
		return "chart"
	case MaskOrSegm:
		return "mask_or_segm"
	default:
		return fmt.Sprintf("Type(%d)", int(t))
	}
}

// New builds the loss computation of the given type from the configuration.
func New(cfg Config, t Type) (Loss, error) {
	switch t {
	case Chart:
		return NewChartLoss(cfg)
	case MaskOrSegm:
		return NewMaskOrSegmentationLoss(cfg)
	default:
		return nil, fmt.Errorf("unknown loss type %v", t)
	}
}
