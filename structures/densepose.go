package structures

import (
	"fmt"

	"github.com/visionkit/go-densepose/tensor"
)

// DensePoseAnnotation carries the dense-correspondence ground truth of one
// region: sparse annotated surface points plus a rasterized coarse
// segmentation, and optionally teacher-generated pseudo-label maps.
//
// Point coordinates X, Y are normalized to [0,1] within the ground-truth box;
// U, V are surface coordinates in [0,1]; PartLabels are fine part indices
// with 0 meaning background. CoarseSegm is a [S,S] Float64 raster whose
// values are coarse region labels, 0 meaning background. The pseudo maps,
// when present, are [C,S,S] teacher outputs in the ground-truth box geometry.
type DensePoseAnnotation struct {
	X          []float64
	Y          []float64
	U          []float64
	V          []float64
	PartLabels []int

	CoarseSegm *tensor.Tensor

	FineSegmPseudo *tensor.Tensor
	UPseudo        *tensor.Tensor
	VPseudo        *tensor.Tensor
}

// PointCount returns the number of annotated points.
func (a *DensePoseAnnotation) PointCount() int {
	return len(a.X)
}

// HasPseudo reports whether all three teacher pseudo maps are present.
func (a *DensePoseAnnotation) HasPseudo() bool {
	return a.FineSegmPseudo != nil && a.UPseudo != nil && a.VPseudo != nil
}

// Validate checks the point lists are aligned, labels are non-negative, and
// the dense rasters have the expected ranks.
func (a *DensePoseAnnotation) Validate() error {
	n := len(a.X)
	if len(a.Y) != n || len(a.U) != n || len(a.V) != n || len(a.PartLabels) != n {
		return fmt.Errorf("point lists are not aligned: x=%d y=%d u=%d v=%d labels=%d",
			len(a.X), len(a.Y), len(a.U), len(a.V), len(a.PartLabels))
	}
	for i, l := range a.PartLabels {
		if l < 0 {
			return fmt.Errorf("point %d has negative part label %d", i, l)
		}
	}

	if a.CoarseSegm == nil {
		return fmt.Errorf("missing coarse segmentation raster")
	}
	if got := len(a.CoarseSegm.Shape()); got != 2 {
		return fmt.Errorf("coarse segmentation must be 2-D, got %d dimensions", got)
	}
	if a.CoarseSegm.DType() != tensor.Float64 {
		return fmt.Errorf("coarse segmentation must be Float64, got %s", a.CoarseSegm.DType())
	}

	for name, m := range map[string]*tensor.Tensor{
		"fine segmentation pseudo map": a.FineSegmPseudo,
		"u pseudo map":                 a.UPseudo,
		"v pseudo map":                 a.VPseudo,
	} {
		if m == nil {
			continue
		}
		if got := len(m.Shape()); got != 3 {
			return fmt.Errorf("%s must be 3-D, got %d dimensions", name, got)
		}
		if m.DType() != tensor.Float64 {
			return fmt.Errorf("%s must be Float64, got %s", name, m.DType())
		}
	}
	return nil
}
