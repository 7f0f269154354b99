// Package snapshot persists packed batch annotations between processes.
// Teacher-student pipelines run the teacher ahead of time and materialize
// its pseudo labels; a Snapshot carries one packed batch together with
// provenance metadata, in either a hand-encoded protobuf wire format or
// plain JSON.
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/visionkit/go-densepose/annotations"
	"github.com/visionkit/go-densepose/structures"
	"github.com/visionkit/go-densepose/tensor"
)

// Format defines the serialization format.
type Format int

const (
	FormatBinary Format = iota
	FormatJSON
)

func (f Format) String() string {
	switch f {
	case FormatBinary:
		return "Binary"
	case FormatJSON:
		return "JSON"
	default:
		return "Unknown"
	}
}

// Snapshot represents one packed batch of annotations with its provenance.
type Snapshot struct {
	Annotations *annotations.PackedAnnotations
	Metadata    Metadata
}

// Metadata contains snapshot provenance.
type Metadata struct {
	Version     string    `json:"version"`
	Producer    string    `json:"producer"`
	CreatedAt   time.Time `json:"created_at"`
	Description string    `json:"description,omitempty"`
}

// TensorData is the serialized form of a dense raster.
type TensorData struct {
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

func tensorData(t *tensor.Tensor) *TensorData {
	if t == nil {
		return nil
	}
	return &TensorData{Shape: t.Shape(), Data: t.Float64s()}
}

func (d *TensorData) tensor() (*tensor.Tensor, error) {
	if d == nil {
		return nil, nil
	}
	return tensor.NewTensor(d.Shape, tensor.Float64, d.Data)
}

// Validate checks array alignment, index ranges, and raster shapes. Both
// load paths run it before returning a snapshot.
func (s *Snapshot) Validate() error {
	if s.Annotations == nil {
		return fmt.Errorf("snapshot has no annotations")
	}
	p := s.Annotations

	n := len(p.XGT)
	if len(p.YGT) != n || len(p.UGT) != n || len(p.VGT) != n ||
		len(p.FineSegmLabelsGT) != n || len(p.PointInstanceIndices) != n || len(p.PointBBoxIndices) != n {
		return fmt.Errorf("point arrays are not aligned: x=%d y=%d u=%d v=%d labels=%d instance=%d bbox=%d",
			len(p.XGT), len(p.YGT), len(p.UGT), len(p.VGT),
			len(p.FineSegmLabelsGT), len(p.PointInstanceIndices), len(p.PointBBoxIndices))
	}

	k := len(p.BBoxIndices)
	if k == 0 {
		return fmt.Errorf("snapshot has no instances")
	}
	if len(p.BBoxXYWHGT) != k || len(p.BBoxXYWHEst) != k {
		return fmt.Errorf("instance arrays are not aligned: gt=%d est=%d indices=%d",
			len(p.BBoxXYWHGT), len(p.BBoxXYWHEst), k)
	}
	for i, row := range p.BBoxIndices {
		if row < 0 {
			return fmt.Errorf("instance %d has negative predictor row %d", i, row)
		}
	}
	for i, idx := range p.PointInstanceIndices {
		if idx < 0 || idx >= k {
			return fmt.Errorf("point %d references instance %d of %d", i, idx, k)
		}
	}
	for i, row := range p.PointBBoxIndices {
		if row < 0 {
			return fmt.Errorf("point %d has negative predictor row %d", i, row)
		}
	}
	for i, l := range p.FineSegmLabelsGT {
		if l < 0 {
			return fmt.Errorf("point %d has negative part label %d", i, l)
		}
	}

	if p.CoarseSegmGT == nil {
		return fmt.Errorf("snapshot has no coarse segmentation rasters")
	}
	cs := p.CoarseSegmGT.Shape()
	if len(cs) != 3 {
		return fmt.Errorf("stacked coarse rasters must be [K,S,S], got %v", cs)
	}
	if cs[0] != k {
		return fmt.Errorf("coarse rasters cover %d instances, snapshot has %d", cs[0], k)
	}

	pseudo := 0
	for _, m := range []*tensor.Tensor{p.FineSegmPseudo, p.UPseudo, p.VPseudo} {
		if m != nil {
			pseudo++
		}
	}
	if pseudo == 0 {
		return nil
	}
	if pseudo != 3 {
		return fmt.Errorf("pseudo maps must be present together, got %d of 3", pseudo)
	}
	fs := p.FineSegmPseudo.Shape()
	if len(fs) != 4 {
		return fmt.Errorf("stacked pseudo maps must be [K,C,S,S], got %v", fs)
	}
	if fs[0] != k {
		return fmt.Errorf("pseudo maps cover %d instances, snapshot has %d", fs[0], k)
	}
	for name, m := range map[string]*tensor.Tensor{"u": p.UPseudo, "v": p.VPseudo} {
		s := m.Shape()
		if len(s) != 4 || s[0] != fs[0] || s[1] != fs[1] || s[2] != fs[2] || s[3] != fs[3] {
			return fmt.Errorf("%s pseudo map shape %v does not match fine pseudo shape %v", name, s, fs)
		}
	}
	return nil
}

// Saver handles saving and loading snapshots in one format.
type Saver struct {
	format Format
}

// NewSaver creates a saver for the specified format.
func NewSaver(format Format) *Saver {
	return &Saver{format: format}
}

// Save writes a snapshot to path. Missing metadata fields are filled in.
func (s *Saver) Save(snap *Snapshot, path string) error {
	if snap == nil {
		return fmt.Errorf("nil snapshot")
	}
	if snap.Metadata.Producer == "" {
		snap.Metadata.Producer = "go-densepose"
		snap.Metadata.Version = "1.0.0"
		snap.Metadata.CreatedAt = time.Now()
	}
	if err := snap.Validate(); err != nil {
		return fmt.Errorf("invalid snapshot: %v", err)
	}

	switch s.format {
	case FormatBinary:
		return s.saveBinary(snap, path)
	case FormatJSON:
		return s.saveJSON(snap, path)
	default:
		return fmt.Errorf("unsupported snapshot format: %s", s.format.String())
	}
}

// Load reads a snapshot from path and validates it.
func (s *Saver) Load(path string) (*Snapshot, error) {
	var snap *Snapshot
	var err error
	switch s.format {
	case FormatBinary:
		snap, err = s.loadBinary(path)
	case FormatJSON:
		snap, err = s.loadJSON(path)
	default:
		return nil, fmt.Errorf("unsupported snapshot format: %s", s.format.String())
	}
	if err != nil {
		return nil, err
	}
	if err := snap.Validate(); err != nil {
		return nil, fmt.Errorf("invalid snapshot: %v", err)
	}
	return snap, nil
}

// payload is the JSON document layout.
type payload struct {
	Metadata Metadata `json:"metadata"`

	X                    []float64 `json:"x"`
	Y                    []float64 `json:"y"`
	U                    []float64 `json:"u"`
	V                    []float64 `json:"v"`
	PartLabels           []int     `json:"part_labels"`
	PointInstanceIndices []int     `json:"point_instance_indices"`
	PointBBoxIndices     []int     `json:"point_bbox_indices"`

	GTBoxes     []structures.BoxXYWH `json:"gt_boxes"`
	EstBoxes    []structures.BoxXYWH `json:"est_boxes"`
	BBoxIndices []int                `json:"bbox_indices"`

	CoarseSegm     *TensorData `json:"coarse_segm,omitempty"`
	FineSegmPseudo *TensorData `json:"fine_segm_pseudo,omitempty"`
	UPseudo        *TensorData `json:"u_pseudo,omitempty"`
	VPseudo        *TensorData `json:"v_pseudo,omitempty"`
}

func toPayload(snap *Snapshot) *payload {
	p := snap.Annotations
	return &payload{
		Metadata:             snap.Metadata,
		X:                    p.XGT,
		Y:                    p.YGT,
		U:                    p.UGT,
		V:                    p.VGT,
		PartLabels:           p.FineSegmLabelsGT,
		PointInstanceIndices: p.PointInstanceIndices,
		PointBBoxIndices:     p.PointBBoxIndices,
		GTBoxes:              p.BBoxXYWHGT,
		EstBoxes:             p.BBoxXYWHEst,
		BBoxIndices:          p.BBoxIndices,
		CoarseSegm:           tensorData(p.CoarseSegmGT),
		FineSegmPseudo:       tensorData(p.FineSegmPseudo),
		UPseudo:              tensorData(p.UPseudo),
		VPseudo:              tensorData(p.VPseudo),
	}
}

func fromPayload(p *payload) (*Snapshot, error) {
	packed := &annotations.PackedAnnotations{
		XGT:                  p.X,
		YGT:                  p.Y,
		UGT:                  p.U,
		VGT:                  p.V,
		FineSegmLabelsGT:     p.PartLabels,
		PointInstanceIndices: p.PointInstanceIndices,
		PointBBoxIndices:     p.PointBBoxIndices,
		BBoxXYWHGT:           p.GTBoxes,
		BBoxXYWHEst:          p.EstBoxes,
		BBoxIndices:          p.BBoxIndices,
	}
	var err error
	if packed.CoarseSegmGT, err = p.CoarseSegm.tensor(); err != nil {
		return nil, fmt.Errorf("coarse rasters: %v", err)
	}
	if packed.FineSegmPseudo, err = p.FineSegmPseudo.tensor(); err != nil {
		return nil, fmt.Errorf("fine pseudo map: %v", err)
	}
	if packed.UPseudo, err = p.UPseudo.tensor(); err != nil {
		return nil, fmt.Errorf("u pseudo map: %v", err)
	}
	if packed.VPseudo, err = p.VPseudo.tensor(); err != nil {
		return nil, fmt.Errorf("v pseudo map: %v", err)
	}
	return &Snapshot{Annotations: packed, Metadata: p.Metadata}, nil
}

func (s *Saver) saveJSON(snap *Snapshot, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create snapshot file: %v", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(toPayload(snap)); err != nil {
		return fmt.Errorf("failed to encode snapshot: %v", err)
	}
	return nil
}

func (s *Saver) loadJSON(path string) (*Snapshot, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot file: %v", err)
	}
	defer file.Close()

	var p payload
	if err := json.NewDecoder(file).Decode(&p); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %v", err)
	}
	return fromPayload(&p)
}

func (s *Saver) saveBinary(snap *Snapshot, path string) error {
	if err := os.WriteFile(path, encodeSnapshot(snap), 0644); err != nil {
		return fmt.Errorf("failed to write snapshot file: %v", err)
	}
	return nil
}

func (s *Saver) loadBinary(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot file: %v", err)
	}
	snap, err := decodeSnapshot(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %v", err)
	}
	return snap, nil
}
