// Package resample moves rasterized maps between box-relative coordinate
// frames. Each raster spans its source box; the output raster spans the
// destination box on a fixed output grid, with samples taken at pixel
// centers. Samples that fall outside the source raster read as padding.
package resample

import (
	"fmt"
	"math"

	"github.com/visionkit/go-densepose/structures"
	"github.com/visionkit/go-densepose/tensor"
)

// Mode selects how source pixels are sampled.
type Mode int

const (
	// ModeNearest picks the source pixel whose center is closest.
	ModeNearest Mode = iota
)

func (m Mode) String() string {
	switch m {
	case ModeNearest:
		return "nearest"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Padding selects the value read for samples outside the source raster.
type Padding int

const (
	// PaddingZeros reads 0 outside the source raster.
	PaddingZeros Padding = iota
)

func (p Padding) String() string {
	switch p {
	case PaddingZeros:
		return "zeros"
	default:
		return fmt.Sprintf("Padding(%d)", int(p))
	}
}

// Resample re-rasterizes src from per-region source boxes onto per-region
// destination boxes. src is [K,C,H,W] with srcBoxes[i] covering region i;
// the result is [K,C,outH,outW] covering dstBoxes[i]. The output carries no
// gradient history. When source and destination boxes coincide and the
// output grid matches the source grid, the result reproduces src exactly.
func Resample(src *tensor.Tensor, srcBoxes, dstBoxes []structures.BoxXYWH, outH, outW int, mode Mode, padding Padding) (*tensor.Tensor, error) {
	if src == nil {
		return nil, fmt.Errorf("nil source tensor")
	}
	if src.DType() != tensor.Float64 {
		return nil, fmt.Errorf("source must be Float64, got %v", src.DType())
	}
	shape := src.Shape()
	if len(shape) != 4 {
		return nil, fmt.Errorf("source must be 4-dimensional [K,C,H,W], got %v", shape)
	}
	k, c, h, w := shape[0], shape[1], shape[2], shape[3]
	if len(srcBoxes) != k || len(dstBoxes) != k {
		return nil, fmt.Errorf("box counts (%d source, %d destination) must match %d regions",
			len(srcBoxes), len(dstBoxes), k)
	}
	if outH < 1 || outW < 1 {
		return nil, fmt.Errorf("output size must be positive, got %dx%d", outH, outW)
	}
	if mode != ModeNearest {
		return nil, fmt.Errorf("unsupported sampling mode %v", mode)
	}
	if padding != PaddingZeros {
		return nil, fmt.Errorf("unsupported padding %v", padding)
	}

	data := src.Float64s()
	out := make([]float64, k*c*outH*outW)
	for ki := 0; ki < k; ki++ {
		sb, db := srcBoxes[ki], dstBoxes[ki]
		xs := nearestIndices(db.X, db.W, outW, sb.X, sb.W, w)
		ys := nearestIndices(db.Y, db.H, outH, sb.Y, sb.H, h)
		for ci := 0; ci < c; ci++ {
			for yi := 0; yi < outH; yi++ {
				sy := ys[yi]
				if sy < 0 {
					continue
				}
				srcRow := ((ki*c+ci)*h + sy) * w
				dstRow := ((ki*c+ci)*outH + yi) * outW
				for xi := 0; xi < outW; xi++ {
					if sx := xs[xi]; sx >= 0 {
						out[dstRow+xi] = data[srcRow+sx]
					}
				}
			}
		}
	}

	res, err := tensor.NewTensor([]int{k, c, outH, outW}, tensor.Float64, out)
	if err != nil {
		return nil, fmt.Errorf("building resampled tensor: %v", err)
	}
	return res, nil
}

// nearestIndices maps each of n destination pixel centers along one axis to
// its nearest source pixel index, or -1 when the sample falls outside the
// source raster. Degenerate source boxes produce no in-range samples.
func nearestIndices(dstOff, dstSize float64, n int, srcOff, srcSize float64, size int) []int {
	idx := make([]int, n)
	for j := 0; j < n; j++ {
		abs := dstOff + (float64(j)+0.5)*dstSize/float64(n)
		g := (abs-srcOff)*float64(size)/srcSize - 0.5
		nearest := math.Floor(g + 0.5)
		if nearest >= 0 && nearest <= float64(size-1) {
			idx[j] = int(nearest)
		} else {
			idx[j] = -1
		}
	}
	return idx
}
