package annotations

import (
	"fmt"

	"github.com/visionkit/go-densepose/structures"
	"github.com/visionkit/go-densepose/tensor"
)

// PackedAnnotations holds the usable ground truth of a whole batch in flat,
// region-aligned arrays. Per-point arrays are aligned with each other;
// PointInstanceIndices addresses the packed per-instance arrays while
// PointBBoxIndices addresses predictor output rows. Per-instance arrays are
// aligned with each other and with the rows of the stacked rasters.
type PackedAnnotations struct {
	XGT                  []float64
	YGT                  []float64
	UGT                  []float64
	VGT                  []float64
	FineSegmLabelsGT     []int
	PointInstanceIndices []int
	PointBBoxIndices     []int

	BBoxXYWHGT  []structures.BoxXYWH
	BBoxXYWHEst []structures.BoxXYWH
	BBoxIndices []int

	CoarseSegmGT   *tensor.Tensor
	FineSegmPseudo *tensor.Tensor
	UPseudo        *tensor.Tensor
	VPseudo        *tensor.Tensor
}

// PointCount returns the number of packed annotated points.
func (p *PackedAnnotations) PointCount() int {
	return len(p.XGT)
}

// InstanceCount returns the number of packed annotated instances.
func (p *PackedAnnotations) InstanceCount() int {
	return len(p.BBoxIndices)
}

// HasPseudo reports whether teacher pseudo maps were packed for every
// instance.
func (p *PackedAnnotations) HasPseudo() bool {
	return p.FineSegmPseudo != nil && p.UPseudo != nil && p.VPseudo != nil
}

// Accumulator collects annotated instances across the images of a batch.
// Predictor output rows are assumed to stack all proposals image by image in
// accumulation order; instances without annotations keep their row but
// contribute nothing.
type Accumulator struct {
	offset int

	x, y, u, v    []float64
	labels        []int
	pointInstance []int
	pointBBox     []int

	gtBoxes     []structures.BoxXYWH
	estBoxes    []structures.BoxXYWH
	bboxIndices []int

	coarse      []*tensor.Tensor
	coarseShape []int

	finePseudo    []*tensor.Tensor
	uPseudo       []*tensor.Tensor
	vPseudo       []*tensor.Tensor
	pseudoShape   []int
	pseudoMissing bool
}

// Accumulate folds one image's instances into the batch. Shape checks run
// over the whole image before anything is packed, so a failed call does not
// pack a partial image.
func (a *Accumulator) Accumulate(in *structures.Instances) error {
	if in == nil {
		return fmt.Errorf("nil instances")
	}
	if err := in.Validate(); err != nil {
		return err
	}

	for i, ann := range in.Annotations {
		if ann == nil {
			continue
		}
		if err := a.checkShapes(ann); err != nil {
			return fmt.Errorf("instance %d: %v", i, err)
		}
	}

	for i, ann := range in.Annotations {
		if ann == nil {
			continue
		}
		a.addInstance(in, i, ann)
	}
	a.offset += in.Len()
	return nil
}

// checkShapes verifies an annotation's rasters against those accumulated so
// far. Raster geometry must agree across the whole batch so the packed
// tensors stack.
func (a *Accumulator) checkShapes(ann *structures.DensePoseAnnotation) error {
	cs := ann.CoarseSegm.Shape()
	if a.coarseShape == nil {
		a.coarseShape = cs
	} else if cs[0] != a.coarseShape[0] || cs[1] != a.coarseShape[1] {
		return fmt.Errorf("coarse segmentation shape %v does not match batch shape %v", cs, a.coarseShape)
	}

	if !ann.HasPseudo() {
		a.pseudoMissing = true
		return nil
	}
	for _, m := range []*tensor.Tensor{ann.FineSegmPseudo, ann.UPseudo, ann.VPseudo} {
		s := m.Shape()
		if a.pseudoShape == nil {
			a.pseudoShape = s
			continue
		}
		if s[0] != a.pseudoShape[0] || s[1] != a.pseudoShape[1] || s[2] != a.pseudoShape[2] {
			return fmt.Errorf("pseudo map shape %v does not match batch shape %v", s, a.pseudoShape)
		}
	}
	return nil
}

func (a *Accumulator) addInstance(in *structures.Instances, i int, ann *structures.DensePoseAnnotation) {
	instanceIdx := len(a.bboxIndices)
	row := a.offset + i

	for p := 0; p < ann.PointCount(); p++ {
		a.x = append(a.x, ann.X[p])
		a.y = append(a.y, ann.Y[p])
		a.u = append(a.u, ann.U[p])
		a.v = append(a.v, ann.V[p])
		a.labels = append(a.labels, ann.PartLabels[p])
		a.pointInstance = append(a.pointInstance, instanceIdx)
		a.pointBBox = append(a.pointBBox, row)
	}

	a.gtBoxes = append(a.gtBoxes, in.GTBoxes[i])
	a.estBoxes = append(a.estBoxes, in.ProposalBoxes[i])
	a.bboxIndices = append(a.bboxIndices, row)

	a.coarse = append(a.coarse, ann.CoarseSegm)
	if ann.HasPseudo() {
		a.finePseudo = append(a.finePseudo, ann.FineSegmPseudo)
		a.uPseudo = append(a.uPseudo, ann.UPseudo)
		a.vPseudo = append(a.vPseudo, ann.VPseudo)
	}
}

// Pack assembles the accumulated annotations. It returns nil when no instance
// carried an annotation; callers switch to the fake-loss path on nil.
func (a *Accumulator) Pack() *PackedAnnotations {
	if len(a.bboxIndices) == 0 {
		return nil
	}

	packed := &PackedAnnotations{
		XGT:                  a.x,
		YGT:                  a.y,
		UGT:                  a.u,
		VGT:                  a.v,
		FineSegmLabelsGT:     a.labels,
		PointInstanceIndices: a.pointInstance,
		PointBBoxIndices:     a.pointBBox,
		BBoxXYWHGT:           a.gtBoxes,
		BBoxXYWHEst:          a.estBoxes,
		BBoxIndices:          a.bboxIndices,
		CoarseSegmGT:         stackRasters(a.coarse, a.coarseShape),
	}

	// Pseudo maps pack only when every instance carries them; a partially
	// covered batch degrades to the supervised losses alone.
	if !a.pseudoMissing && len(a.finePseudo) == len(a.bboxIndices) && len(a.finePseudo) > 0 {
		packed.FineSegmPseudo = stackRasters(a.finePseudo, a.pseudoShape)
		packed.UPseudo = stackRasters(a.uPseudo, a.pseudoShape)
		packed.VPseudo = stackRasters(a.vPseudo, a.pseudoShape)
	}
	return packed
}

// stackRasters concatenates per-instance rasters of identical shape into one
// tensor with a leading instance axis.
func stackRasters(rasters []*tensor.Tensor, shape []int) *tensor.Tensor {
	if len(rasters) == 0 {
		return nil
	}
	rowLen := 1
	for _, d := range shape {
		rowLen *= d
	}

	backing := make([]float64, 0, len(rasters)*rowLen)
	for _, r := range rasters {
		backing = append(backing, r.Float64s()...)
	}

	outShape := append([]int{len(rasters)}, shape...)
	t, err := tensor.NewTensor(outShape, tensor.Float64, backing)
	if err != nil {
		panic(fmt.Sprintf("stacking validated rasters failed: %v", err))
	}
	return t
}

// Pack runs a fresh accumulator over the batch and returns the packed result,
// nil when the batch carries no annotations.
func Pack(proposals []*structures.Instances) (*PackedAnnotations, error) {
	acc := &Accumulator{}
	for i, in := range proposals {
		if err := acc.Accumulate(in); err != nil {
			return nil, fmt.Errorf("image %d: %v", i, err)
		}
	}
	return acc.Pack(), nil
}
