package losses

import (
	"encoding/json"
	"fmt"
)

// PseudoLossType selects how pseudo-label losses are reduced.
type PseudoLossType int

const (
	// PseudoLossCE reduces the pseudo segmentation and UV losses by a plain
	// unweighted mean over the gated points.
	PseudoLossCE PseudoLossType = iota
	// PseudoLossSCE replaces the forward cross-entropy value with a reverse
	// cross-entropy term and reduces with confidence-mask weights. The same
	// weights are shared by the segmentation and UV terms.
	PseudoLossSCE
)

func (t PseudoLossType) String() string {
	switch t {
	case PseudoLossCE:
		return "ce"
	case PseudoLossSCE:
		return "sce"
	default:
		return fmt.Sprintf("PseudoLossType(%d)", int(t))
	}
}

// ParsePseudoLossType converts the configuration string form ("ce" or "sce").
func ParsePseudoLossType(s string) (PseudoLossType, error) {
	switch s {
	case "ce":
		return PseudoLossCE, nil
	case "sce":
		return PseudoLossSCE, nil
	default:
		return 0, fmt.Errorf("unknown pseudo loss type %q", s)
	}
}

// MarshalJSON encodes the type as its string form.
func (t PseudoLossType) MarshalJSON() ([]byte, error) {
	switch t {
	case PseudoLossCE, PseudoLossSCE:
		return json.Marshal(t.String())
	default:
		return nil, fmt.Errorf("unknown pseudo loss type %d", int(t))
	}
}

// UnmarshalJSON decodes the string form.
func (t *PseudoLossType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParsePseudoLossType(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Config holds every scalar knob of the chart-based losses. All loss values
// scale linearly with their weight; a zero weight keeps the term in the
// result with value zero.
type Config struct {
	// HeatmapSize is the spatial side S of every predictor output map.
	HeatmapSize int `json:"heatmap_size"`
	// NumChannels is the number of fine segmentation channels C (background
	// plus body parts). U and V maps carry the same channel count.
	NumChannels int `json:"num_channels"`
	// NumCoarseChannels is the number of coarse segmentation channels D.
	// With D == 2 the coarse ground truth is binarized to background and
	// foreground.
	NumCoarseChannels int `json:"num_coarse_channels"`
	// SegmTrainedByMasks marks that coarse segmentation supervision comes
	// from instance masks outside this package; the coarse term then only
	// keeps the computation graph alive.
	SegmTrainedByMasks bool `json:"segm_trained_by_masks"`

	PointWeight float64 `json:"point_weight"`
	PartWeight  float64 `json:"part_weight"`
	SegmWeight  float64 `json:"segm_weight"`

	PseudoSegmWeight   float64        `json:"pseudo_segm_weight"`
	PseudoPointsWeight float64        `json:"pseudo_points_weight"`
	PseudoThreshold    float64        `json:"pseudo_threshold"`
	PseudoLossType     PseudoLossType `json:"pseudo_loss_type"`
	// UVLossChannels is the number of top-scoring pseudo channels K whose
	// U/V estimates participate in the pseudo point losses.
	UVLossChannels int `json:"uv_loss_channels"`

	CorrectionPointsWeight float64 `json:"correction_points_weight"`
	CorrectionSegmWeight   float64 `json:"correction_segm_weight"`
}

// DefaultConfig returns the standard 112x112, 25-channel configuration.
func DefaultConfig() Config {
	return Config{
		HeatmapSize:        112,
		NumChannels:        25,
		NumCoarseChannels:  2,
		SegmTrainedByMasks: false,

		PointWeight: 0.01,
		PartWeight:  1.0,
		SegmWeight:  5.0,

		PseudoSegmWeight:   1.0,
		PseudoPointsWeight: 1.0,
		PseudoThreshold:    0.9,
		PseudoLossType:     PseudoLossSCE,
		UVLossChannels:     1,

		CorrectionPointsWeight: 1.0,
		CorrectionSegmWeight:   1.0,
	}
}

// Validate reports the first configuration problem found.
func (c Config) Validate() error {
	if c.HeatmapSize < 1 {
		return fmt.Errorf("heatmap size must be positive, got %d", c.HeatmapSize)
	}
	if c.NumChannels < 2 {
		return fmt.Errorf("number of fine channels must be at least 2, got %d", c.NumChannels)
	}
	if c.NumCoarseChannels < 2 {
		return fmt.Errorf("number of coarse channels must be at least 2, got %d", c.NumCoarseChannels)
	}
	for _, w := range []struct {
		name  string
		value float64
	}{
		{"point weight", c.PointWeight},
		{"part weight", c.PartWeight},
		{"segm weight", c.SegmWeight},
		{"pseudo segm weight", c.PseudoSegmWeight},
		{"pseudo points weight", c.PseudoPointsWeight},
		{"correction points weight", c.CorrectionPointsWeight},
		{"correction segm weight", c.CorrectionSegmWeight},
	} {
		if w.value < 0 {
			return fmt.Errorf("%s must be non-negative, got %f", w.name, w.value)
		}
	}
	if c.PseudoThreshold < 0 || c.PseudoThreshold > 1 {
		return fmt.Errorf("pseudo threshold must be in [0,1], got %f", c.PseudoThreshold)
	}
	if c.PseudoLossType != PseudoLossCE && c.PseudoLossType != PseudoLossSCE {
		return fmt.Errorf("unknown pseudo loss type %d", int(c.PseudoLossType))
	}
	if c.UVLossChannels < 1 || c.UVLossChannels > c.NumChannels {
		return fmt.Errorf("uv loss channels must be in [1,%d], got %d", c.NumChannels, c.UVLossChannels)
	}
	return nil
}
