package interp

import (
	"fmt"
	"math"

	"github.com/visionkit/go-densepose/annotations"
	"github.com/visionkit/go-densepose/tensor"
)

// Interpolator aligns sparse annotated points with a dense prediction grid.
// It is built once per loss call from packed annotations and the grid size,
// and is read-only afterward. JValid marks the points that fall inside their
// region's estimated box; points outside it carry zero weights so nothing
// flows through them even before filtering.
type Interpolator struct {
	JValid []bool

	points *tensor.BilinearPoints
	labels []int
}

// New derives per-point bilinear corner indices and weights on an h by w
// grid. A point's annotated position is normalized within its ground-truth
// box; the grid spans the estimated box.
func New(packed *annotations.PackedAnnotations, h, w int) (*Interpolator, error) {
	if packed == nil {
		return nil, fmt.Errorf("nil packed annotations")
	}
	if h < 1 || w < 1 {
		return nil, fmt.Errorf("grid size must be positive, got %dx%d", h, w)
	}

	count := packed.PointCount()
	pts := &tensor.BilinearPoints{
		Rows:  make([]int, count),
		YLo:   make([]int, count),
		YHi:   make([]int, count),
		XLo:   make([]int, count),
		XHi:   make([]int, count),
		WLoLo: make([]float64, count),
		WLoHi: make([]float64, count),
		WHiLo: make([]float64, count),
		WHiHi: make([]float64, count),
	}
	jValid := make([]bool, count)

	for i := 0; i < count; i++ {
		inst := packed.PointInstanceIndices[i]
		if inst < 0 || inst >= packed.InstanceCount() {
			return nil, fmt.Errorf("point %d references instance %d of %d", i, inst, packed.InstanceCount())
		}
		gt := packed.BBoxXYWHGT[inst]
		est := packed.BBoxXYWHEst[inst]

		xImg := gt.X + packed.XGT[i]*gt.W
		yImg := gt.Y + packed.YGT[i]*gt.H

		pts.Rows[i] = packed.PointBBoxIndices[i]
		if !est.Contains(xImg, yImg) {
			// Outside points keep zero weights and corner (0,0); they are
			// filtered by JValid and must not leak values or gradients.
			continue
		}
		jValid[i] = true

		gx := (xImg - est.X) / est.W * float64(w)
		gy := (yImg - est.Y) / est.H * float64(h)

		xLo, xHi, fx := gridCell(gx, w)
		yLo, yHi, fy := gridCell(gy, h)

		pts.XLo[i], pts.XHi[i] = xLo, xHi
		pts.YLo[i], pts.YHi[i] = yLo, yHi
		pts.WLoLo[i] = (1 - fy) * (1 - fx)
		pts.WLoHi[i] = (1 - fy) * fx
		pts.WHiLo[i] = fy * (1 - fx)
		pts.WHiHi[i] = fy * fx
	}

	return &Interpolator{
		JValid: jValid,
		points: pts,
		labels: packed.FineSegmLabelsGT,
	}, nil
}

// gridCell maps a continuous grid coordinate to its two neighboring cell
// indices and the fraction toward the higher one.
func gridCell(g float64, size int) (lo, hi int, frac float64) {
	lo = int(math.Floor(g))
	if lo < 0 {
		lo = 0
	}
	if lo > size-1 {
		lo = size - 1
	}
	hi = lo + 1
	if hi > size-1 {
		hi = size - 1
	}

	if g < float64(lo) {
		g = float64(lo)
	}
	if g > float64(hi) {
		g = float64(hi)
	}
	return lo, hi, g - float64(lo)
}

// PointCount returns the number of aligned points.
func (ip *Interpolator) PointCount() int {
	return ip.points.Len()
}

// ExtractAtPoints samples dense at every point, reading the channel given by
// the point's ground-truth part label. dense is [N,C,H,W]; the result is one
// value per point.
func (ip *Interpolator) ExtractAtPoints(dense *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.BilinearGather(dense, ip.points, ip.labels)
}

// ExtractAtPointsAllChannels samples every channel of dense at every point,
// returning a [P,C] matrix.
func (ip *Interpolator) ExtractAtPointsAllChannels(dense *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.BilinearGatherAll(dense, ip.points)
}
