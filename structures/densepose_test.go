package structures

import (
	"testing"

	"github.com/visionkit/go-densepose/tensor"
)

func testRaster(t *testing.T, shape []int) *tensor.Tensor {
	t.Helper()
	r, err := tensor.Zeros(shape, tensor.Float64)
	if err != nil {
		t.Fatalf("Zeros failed: %v", err)
	}
	return r
}

func validAnnotation(t *testing.T) *DensePoseAnnotation {
	t.Helper()
	return &DensePoseAnnotation{
		X:          []float64{0.5},
		Y:          []float64{0.5},
		U:          []float64{0.25},
		V:          []float64{0.75},
		PartLabels: []int{3},
		CoarseSegm: testRaster(t, []int{4, 4}),
	}
}

func TestAnnotationValidate(t *testing.T) {
	if err := validAnnotation(t).Validate(); err != nil {
		t.Fatalf("valid annotation rejected: %v", err)
	}

	t.Run("Pseudo maps accepted", func(t *testing.T) {
		ann := validAnnotation(t)
		ann.FineSegmPseudo = testRaster(t, []int{3, 4, 4})
		ann.UPseudo = testRaster(t, []int{3, 4, 4})
		ann.VPseudo = testRaster(t, []int{3, 4, 4})
		if err := ann.Validate(); err != nil {
			t.Errorf("annotation with pseudo maps rejected: %v", err)
		}
		if !ann.HasPseudo() {
			t.Error("expected HasPseudo to be true")
		}
	})

	tests := []struct {
		name   string
		mutate func(*DensePoseAnnotation)
	}{
		{"Misaligned point lists", func(a *DensePoseAnnotation) { a.Y = nil }},
		{"Misaligned labels", func(a *DensePoseAnnotation) { a.PartLabels = []int{1, 2} }},
		{"Negative part label", func(a *DensePoseAnnotation) { a.PartLabels = []int{-1} }},
		{"Missing coarse raster", func(a *DensePoseAnnotation) { a.CoarseSegm = nil }},
		{"Coarse raster with wrong rank", func(a *DensePoseAnnotation) {
			a.CoarseSegm = testRaster(t, []int{2, 4, 4})
		}},
		{"Pseudo map with wrong rank", func(a *DensePoseAnnotation) {
			a.FineSegmPseudo = testRaster(t, []int{4, 4})
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ann := validAnnotation(t)
			tt.mutate(ann)
			if err := ann.Validate(); err == nil {
				t.Error("expected a validation error")
			}
		})
	}
}

func TestAnnotationHasPseudo(t *testing.T) {
	ann := validAnnotation(t)
	if ann.HasPseudo() {
		t.Error("expected HasPseudo to be false without maps")
	}
	ann.FineSegmPseudo = testRaster(t, []int{3, 4, 4})
	ann.UPseudo = testRaster(t, []int{3, 4, 4})
	if ann.HasPseudo() {
		t.Error("expected HasPseudo to be false with a missing map")
	}
	ann.VPseudo = testRaster(t, []int{3, 4, 4})
	if !ann.HasPseudo() {
		t.Error("expected HasPseudo to be true with all three maps")
	}
}
