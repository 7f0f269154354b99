package structures

import (
	"fmt"

	"github.com/visionkit/go-densepose/tensor"
)

// ChartPredictorOutput bundles the dense per-region predictions of a
// chart-based estimator: CoarseSegm is [N,D,S,S], FineSegm, U and V are
// [N,C,S,S]. N is the number of proposed regions across the batch, S the
// spatial size of the prediction grid.
type ChartPredictorOutput struct {
	CoarseSegm *tensor.Tensor
	FineSegm   *tensor.Tensor
	U          *tensor.Tensor
	V          *tensor.Tensor
}

// SpatialSize returns the prediction grid height and width.
func (o *ChartPredictorOutput) SpatialSize() (h, w int) {
	s := o.U.Shape()
	return s[2], s[3]
}

// Regions returns N, the number of predicted regions.
func (o *ChartPredictorOutput) Regions() int {
	return o.U.Shape()[0]
}

// Channels returns C, the number of fine part channels.
func (o *ChartPredictorOutput) Channels() int {
	return o.U.Shape()[1]
}

// Validate checks tensor presence, rank and cross-tensor shape consistency.
func (o *ChartPredictorOutput) Validate() error {
	fields := []struct {
		name string
		t    *tensor.Tensor
	}{
		{"coarse_segm", o.CoarseSegm},
		{"fine_segm", o.FineSegm},
		{"u", o.U},
		{"v", o.V},
	}
	for _, f := range fields {
		if f.t == nil {
			return fmt.Errorf("predictor output %s is missing", f.name)
		}
		if f.t.DType() != tensor.Float64 {
			return fmt.Errorf("predictor output %s must be Float64, got %s", f.name, f.t.DType())
		}
		if got := len(f.t.Shape()); got != 4 {
			return fmt.Errorf("predictor output %s must be 4-D, got %d dimensions", f.name, got)
		}
	}

	us := o.U.Shape()
	for _, f := range fields[1:] {
		s := f.t.Shape()
		if s[0] != us[0] || s[2] != us[2] || s[3] != us[3] {
			return fmt.Errorf("predictor output %s shape %v does not align with u shape %v", f.name, s, us)
		}
	}
	if s := o.FineSegm.Shape(); s[1] != us[1] {
		return fmt.Errorf("fine_segm has %d channels but u has %d", s[1], us[1])
	}
	cs := o.CoarseSegm.Shape()
	if cs[0] != us[0] || cs[2] != us[2] || cs[3] != us[3] {
		return fmt.Errorf("coarse_segm shape %v does not align with u shape %v", cs, us)
	}
	return nil
}

// CorrectionOutput bundles the auxiliary correction head's predictions. U and
// V are residual maps shaped like the base U; FineSegm carries one channel
// more than the base fine segmentation, the extra channel being the abstain
// class.
type CorrectionOutput struct {
	U        *tensor.Tensor
	V        *tensor.Tensor
	FineSegm *tensor.Tensor
}

// Validate checks the correction tensors against the base predictor output.
func (c *CorrectionOutput) Validate(base *ChartPredictorOutput) error {
	us := base.U.Shape()

	for _, f := range []struct {
		name string
		t    *tensor.Tensor
	}{
		{"u", c.U},
		{"v", c.V},
		{"fine_segm", c.FineSegm},
	} {
		if f.t == nil {
			return fmt.Errorf("correction output %s is missing", f.name)
		}
		if f.t.DType() != tensor.Float64 {
			return fmt.Errorf("correction output %s must be Float64, got %s", f.name, f.t.DType())
		}
		if got := len(f.t.Shape()); got != 4 {
			return fmt.Errorf("correction output %s must be 4-D, got %d dimensions", f.name, got)
		}
	}

	for _, f := range []struct {
		name string
		t    *tensor.Tensor
	}{{"u", c.U}, {"v", c.V}} {
		if s := f.t.Shape(); s[0] != us[0] || s[1] != us[1] || s[2] != us[2] || s[3] != us[3] {
			return fmt.Errorf("correction output %s shape %v does not match base shape %v", f.name, s, us)
		}
	}

	fs := c.FineSegm.Shape()
	if fs[0] != us[0] || fs[2] != us[2] || fs[3] != us[3] {
		return fmt.Errorf("correction fine_segm shape %v does not align with base shape %v", fs, us)
	}
	if fs[1] != us[1]+1 {
		return fmt.Errorf("correction fine_segm must carry %d channels (base plus abstain), got %d", us[1]+1, fs[1])
	}
	return nil
}
