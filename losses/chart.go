package losses

import (
	"fmt"

	"github.com/visionkit/go-densepose/annotations"
	"github.com/visionkit/go-densepose/interp"
	"github.com/visionkit/go-densepose/structures"
)

// ChartLoss produces the chart-based loss family:
//
//   - smooth L1 losses for U and V coordinates at annotated foreground points
//   - cross-entropy for fine segmentation scores at annotated points
//   - the delegated coarse segmentation term
//   - pseudo-label losses driven by teacher probability maps
//   - optional correction-head losses
//
// The returned key set depends only on whether corrections are supplied,
// never on the batch content.
type ChartLoss struct {
	cfg      Config
	segmLoss *MaskOrSegmentationLoss
}

// NewChartLoss validates the configuration and builds the loss.
func NewChartLoss(cfg Config) (*ChartLoss, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("chart loss config: %v", err)
	}
	return &ChartLoss{
		cfg:      cfg,
		segmLoss: &MaskOrSegmentationLoss{cfg: cfg},
	}, nil
}

// Compute produces every loss term for one batch. proposals carry the
// per-image detections with ground truth; outputs holds the predictor maps
// for all detections of the batch in proposal order. corrections may be nil.
func (l *ChartLoss) Compute(proposals []*structures.Instances, outputs *structures.ChartPredictorOutput, corrections *structures.CorrectionOutput) (LossMap, error) {
	if outputs == nil {
		return nil, fmt.Errorf("nil predictor outputs")
	}
	if err := outputs.Validate(); err != nil {
		return nil, fmt.Errorf("predictor outputs: %v", err)
	}
	if err := l.checkOutputsAgainstConfig(outputs); err != nil {
		return nil, err
	}
	if corrections != nil {
		if err := corrections.Validate(outputs); err != nil {
			return nil, fmt.Errorf("correction outputs: %v", err)
		}
	}

	if len(proposals) == 0 {
		return l.fakeLosses(outputs, corrections)
	}
	packed, err := annotations.Pack(proposals)
	if err != nil {
		return nil, err
	}
	if packed == nil {
		return l.fakeLosses(outputs, corrections)
	}

	h, w := outputs.SpatialSize()
	ip, err := interp.New(packed, h, w)
	if err != nil {
		return nil, fmt.Errorf("aligning points: %v", err)
	}
	valid, validFg := splitValid(ip.JValid, packed.FineSegmLabelsGT)
	if len(validFg) == 0 {
		return l.fakeLosses(outputs, corrections)
	}

	losses := LossMap{}
	if err := l.uvLosses(losses, outputs, packed, ip, validFg, corrections); err != nil {
		return nil, err
	}
	if err := l.segmLosses(losses, outputs, packed, ip, valid, corrections); err != nil {
		return nil, err
	}
	if err := l.unsupLosses(losses, outputs, packed); err != nil {
		return nil, err
	}
	return losses, nil
}

func (l *ChartLoss) checkOutputsAgainstConfig(outputs *structures.ChartPredictorOutput) error {
	h, w := outputs.SpatialSize()
	if h != l.cfg.HeatmapSize || w != l.cfg.HeatmapSize {
		return fmt.Errorf("predictor output size %dx%d does not match configured heatmap size %d", h, w, l.cfg.HeatmapSize)
	}
	if outputs.Channels() != l.cfg.NumChannels {
		return fmt.Errorf("predictor output has %d fine channels, configured for %d", outputs.Channels(), l.cfg.NumChannels)
	}
	if d := outputs.CoarseSegm.Shape()[1]; d != l.cfg.NumCoarseChannels {
		return fmt.Errorf("predictor output has %d coarse channels, configured for %d", d, l.cfg.NumCoarseChannels)
	}
	return nil
}

// splitValid collects the indices of points inside their estimated box, and
// the subset of those whose part label is foreground.
func splitValid(jValid []bool, labels []int) (valid, validFg []int) {
	for i, ok := range jValid {
		if !ok {
			continue
		}
		valid = append(valid, i)
		if labels[i] > 0 {
			validFg = append(validFg, i)
		}
	}
	return valid, validFg
}
