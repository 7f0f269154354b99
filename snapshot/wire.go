package snapshot

// The binary format is the protobuf wire encoding of this schema:
//
//	message Snapshot {
//	  Metadata metadata = 1;
//	  repeated double x = 2;
//	  repeated double y = 3;
//	  repeated double u = 4;
//	  repeated double v = 5;
//	  repeated int64 part_labels = 6;
//	  repeated int64 point_instance_indices = 7;
//	  repeated int64 point_bbox_indices = 8;
//	  repeated Box gt_boxes = 9;
//	  repeated Box est_boxes = 10;
//	  repeated int64 bbox_indices = 11;
//	  Tensor coarse_segm = 12;
//	  Tensor fine_segm_pseudo = 13;
//	  Tensor u_pseudo = 14;
//	  Tensor v_pseudo = 15;
//	}
//	message Metadata {
//	  string version = 1;
//	  string producer = 2;
//	  sint64 created_at_unix_nano = 3;
//	  string description = 4;
//	}
//	message Box { double x = 1; double y = 2; double w = 3; double h = 4; }
//	message Tensor { repeated int64 shape = 1; repeated double data = 2; }
//
// Unknown fields are skipped on decode, so the format can grow.

import (
	"fmt"
	"math"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/visionkit/go-densepose/annotations"
	"github.com/visionkit/go-densepose/structures"
	"github.com/visionkit/go-densepose/tensor"
)

const (
	fieldMetadata protowire.Number = 1 + iota
	fieldX
	fieldY
	fieldU
	fieldV
	fieldPartLabels
	fieldPointInstance
	fieldPointBBox
	fieldGTBoxes
	fieldEstBoxes
	fieldBBoxIndices
	fieldCoarseSegm
	fieldFinePseudo
	fieldUPseudo
	fieldVPseudo
)

const (
	metaVersion protowire.Number = 1 + iota
	metaProducer
	metaCreatedAt
	metaDescription
)

const (
	boxFieldX protowire.Number = 1 + iota
	boxFieldY
	boxFieldW
	boxFieldH
)

const (
	tensorFieldShape protowire.Number = 1 + iota
	tensorFieldData
)

func encodeSnapshot(snap *Snapshot) []byte {
	p := snap.Annotations

	buf := appendMetadata(nil, fieldMetadata, snap.Metadata)
	buf = appendPackedFloat64s(buf, fieldX, p.XGT)
	buf = appendPackedFloat64s(buf, fieldY, p.YGT)
	buf = appendPackedFloat64s(buf, fieldU, p.UGT)
	buf = appendPackedFloat64s(buf, fieldV, p.VGT)
	buf = appendPackedInts(buf, fieldPartLabels, p.FineSegmLabelsGT)
	buf = appendPackedInts(buf, fieldPointInstance, p.PointInstanceIndices)
	buf = appendPackedInts(buf, fieldPointBBox, p.PointBBoxIndices)
	for _, b := range p.BBoxXYWHGT {
		buf = appendBox(buf, fieldGTBoxes, b)
	}
	for _, b := range p.BBoxXYWHEst {
		buf = appendBox(buf, fieldEstBoxes, b)
	}
	buf = appendPackedInts(buf, fieldBBoxIndices, p.BBoxIndices)
	buf = appendTensor(buf, fieldCoarseSegm, p.CoarseSegmGT)
	buf = appendTensor(buf, fieldFinePseudo, p.FineSegmPseudo)
	buf = appendTensor(buf, fieldUPseudo, p.UPseudo)
	buf = appendTensor(buf, fieldVPseudo, p.VPseudo)
	return buf
}

func decodeSnapshot(b []byte) (*Snapshot, error) {
	snap := &Snapshot{Annotations: &annotations.PackedAnnotations{}}
	p := snap.Annotations

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]

		var err error
		switch num {
		case fieldMetadata:
			var msg []byte
			if msg, n, err = consumeMessage(b, typ); err == nil {
				snap.Metadata, err = decodeMetadata(msg)
			}
		case fieldX:
			p.XGT, n, err = consumeFloat64s(b, typ, p.XGT)
		case fieldY:
			p.YGT, n, err = consumeFloat64s(b, typ, p.YGT)
		case fieldU:
			p.UGT, n, err = consumeFloat64s(b, typ, p.UGT)
		case fieldV:
			p.VGT, n, err = consumeFloat64s(b, typ, p.VGT)
		case fieldPartLabels:
			p.FineSegmLabelsGT, n, err = consumeInts(b, typ, p.FineSegmLabelsGT)
		case fieldPointInstance:
			p.PointInstanceIndices, n, err = consumeInts(b, typ, p.PointInstanceIndices)
		case fieldPointBBox:
			p.PointBBoxIndices, n, err = consumeInts(b, typ, p.PointBBoxIndices)
		case fieldGTBoxes:
			var msg []byte
			if msg, n, err = consumeMessage(b, typ); err == nil {
				var box structures.BoxXYWH
				if box, err = decodeBox(msg); err == nil {
					p.BBoxXYWHGT = append(p.BBoxXYWHGT, box)
				}
			}
		case fieldEstBoxes:
			var msg []byte
			if msg, n, err = consumeMessage(b, typ); err == nil {
				var box structures.BoxXYWH
				if box, err = decodeBox(msg); err == nil {
					p.BBoxXYWHEst = append(p.BBoxXYWHEst, box)
				}
			}
		case fieldBBoxIndices:
			p.BBoxIndices, n, err = consumeInts(b, typ, p.BBoxIndices)
		case fieldCoarseSegm:
			var msg []byte
			if msg, n, err = consumeMessage(b, typ); err == nil {
				p.CoarseSegmGT, err = decodeTensor(msg)
			}
		case fieldFinePseudo:
			var msg []byte
			if msg, n, err = consumeMessage(b, typ); err == nil {
				p.FineSegmPseudo, err = decodeTensor(msg)
			}
		case fieldUPseudo:
			var msg []byte
			if msg, n, err = consumeMessage(b, typ); err == nil {
				p.UPseudo, err = decodeTensor(msg)
			}
		case fieldVPseudo:
			var msg []byte
			if msg, n, err = consumeMessage(b, typ); err == nil {
				p.VPseudo, err = decodeTensor(msg)
			}
		default:
			if n = protowire.ConsumeFieldValue(num, typ, b); n < 0 {
				err = protowire.ParseError(n)
			}
		}
		if err != nil {
			return nil, fmt.Errorf("field %d: %v", num, err)
		}
		b = b[n:]
	}
	return snap, nil
}

func appendMetadata(buf []byte, num protowire.Number, meta Metadata) []byte {
	var msg []byte
	if meta.Version != "" {
		msg = protowire.AppendTag(msg, metaVersion, protowire.BytesType)
		msg = protowire.AppendString(msg, meta.Version)
	}
	if meta.Producer != "" {
		msg = protowire.AppendTag(msg, metaProducer, protowire.BytesType)
		msg = protowire.AppendString(msg, meta.Producer)
	}
	if !meta.CreatedAt.IsZero() {
		msg = protowire.AppendTag(msg, metaCreatedAt, protowire.VarintType)
		msg = protowire.AppendVarint(msg, protowire.EncodeZigZag(meta.CreatedAt.UnixNano()))
	}
	if meta.Description != "" {
		msg = protowire.AppendTag(msg, metaDescription, protowire.BytesType)
		msg = protowire.AppendString(msg, meta.Description)
	}
	buf = protowire.AppendTag(buf, num, protowire.BytesType)
	return protowire.AppendBytes(buf, msg)
}

func decodeMetadata(msg []byte) (Metadata, error) {
	var meta Metadata
	for len(msg) > 0 {
		num, typ, n := protowire.ConsumeTag(msg)
		if n < 0 {
			return meta, protowire.ParseError(n)
		}
		msg = msg[n:]

		// Fields with an unexpected wire type are skipped as unknown.
		switch {
		case num == metaCreatedAt && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(msg)
			if m < 0 {
				return meta, protowire.ParseError(m)
			}
			meta.CreatedAt, n = time.Unix(0, protowire.DecodeZigZag(v)), m
		case typ == protowire.BytesType && (num == metaVersion || num == metaProducer || num == metaDescription):
			v, m := protowire.ConsumeString(msg)
			if m < 0 {
				return meta, protowire.ParseError(m)
			}
			switch num {
			case metaVersion:
				meta.Version = v
			case metaProducer:
				meta.Producer = v
			case metaDescription:
				meta.Description = v
			}
			n = m
		default:
			if n = protowire.ConsumeFieldValue(num, typ, msg); n < 0 {
				return meta, protowire.ParseError(n)
			}
		}
		msg = msg[n:]
	}
	return meta, nil
}

func appendBox(buf []byte, num protowire.Number, box structures.BoxXYWH) []byte {
	var msg []byte
	for i, v := range []float64{box.X, box.Y, box.W, box.H} {
		msg = protowire.AppendTag(msg, boxFieldX+protowire.Number(i), protowire.Fixed64Type)
		msg = protowire.AppendFixed64(msg, math.Float64bits(v))
	}
	buf = protowire.AppendTag(buf, num, protowire.BytesType)
	return protowire.AppendBytes(buf, msg)
}

func decodeBox(msg []byte) (structures.BoxXYWH, error) {
	var box structures.BoxXYWH
	for len(msg) > 0 {
		num, typ, n := protowire.ConsumeTag(msg)
		if n < 0 {
			return box, protowire.ParseError(n)
		}
		msg = msg[n:]

		if typ == protowire.Fixed64Type && num >= boxFieldX && num <= boxFieldH {
			v, m := protowire.ConsumeFixed64(msg)
			if m < 0 {
				return box, protowire.ParseError(m)
			}
			f := math.Float64frombits(v)
			switch num {
			case boxFieldX:
				box.X = f
			case boxFieldY:
				box.Y = f
			case boxFieldW:
				box.W = f
			case boxFieldH:
				box.H = f
			}
			n = m
		} else if n = protowire.ConsumeFieldValue(num, typ, msg); n < 0 {
			return box, protowire.ParseError(n)
		}
		msg = msg[n:]
	}
	return box, nil
}

func appendTensor(buf []byte, num protowire.Number, t *tensor.Tensor) []byte {
	if t == nil {
		return buf
	}
	msg := appendPackedInts(nil, tensorFieldShape, t.Shape())
	msg = appendPackedFloat64s(msg, tensorFieldData, t.Float64s())
	buf = protowire.AppendTag(buf, num, protowire.BytesType)
	return protowire.AppendBytes(buf, msg)
}

func decodeTensor(msg []byte) (*tensor.Tensor, error) {
	var shape []int
	var data []float64
	for len(msg) > 0 {
		num, typ, n := protowire.ConsumeTag(msg)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		msg = msg[n:]

		var err error
		switch num {
		case tensorFieldShape:
			shape, n, err = consumeInts(msg, typ, shape)
		case tensorFieldData:
			data, n, err = consumeFloat64s(msg, typ, data)
		default:
			if n = protowire.ConsumeFieldValue(num, typ, msg); n < 0 {
				err = protowire.ParseError(n)
			}
		}
		if err != nil {
			return nil, err
		}
		msg = msg[n:]
	}
	return tensor.NewTensor(shape, tensor.Float64, data)
}

func appendPackedFloat64s(buf []byte, num protowire.Number, values []float64) []byte {
	if len(values) == 0 {
		return buf
	}
	packed := make([]byte, 0, len(values)*8)
	for _, v := range values {
		packed = protowire.AppendFixed64(packed, math.Float64bits(v))
	}
	buf = protowire.AppendTag(buf, num, protowire.BytesType)
	return protowire.AppendBytes(buf, packed)
}

func appendPackedInts(buf []byte, num protowire.Number, values []int) []byte {
	if len(values) == 0 {
		return buf
	}
	var packed []byte
	for _, v := range values {
		packed = protowire.AppendVarint(packed, uint64(v))
	}
	buf = protowire.AppendTag(buf, num, protowire.BytesType)
	return protowire.AppendBytes(buf, packed)
}

// consumeMessage reads one length-delimited submessage.
func consumeMessage(b []byte, typ protowire.Type) ([]byte, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, fmt.Errorf("unexpected wire type %d for a message field", typ)
	}
	msg, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, protowire.ParseError(n)
	}
	return msg, n, nil
}

// consumeFloat64s reads a repeated double field in either the packed or the
// unpacked encoding.
func consumeFloat64s(b []byte, typ protowire.Type, dst []float64) ([]float64, int, error) {
	switch typ {
	case protowire.Fixed64Type:
		v, n := protowire.ConsumeFixed64(b)
		if n < 0 {
			return dst, 0, protowire.ParseError(n)
		}
		return append(dst, math.Float64frombits(v)), n, nil
	case protowire.BytesType:
		packed, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return dst, 0, protowire.ParseError(n)
		}
		for len(packed) > 0 {
			v, m := protowire.ConsumeFixed64(packed)
			if m < 0 {
				return dst, 0, protowire.ParseError(m)
			}
			dst = append(dst, math.Float64frombits(v))
			packed = packed[m:]
		}
		return dst, n, nil
	default:
		return dst, 0, fmt.Errorf("unexpected wire type %d for a double field", typ)
	}
}

// consumeInts reads a repeated int64 field in either the packed or the
// unpacked encoding.
func consumeInts(b []byte, typ protowire.Type, dst []int) ([]int, int, error) {
	switch typ {
	case protowire.VarintType:
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return dst, 0, protowire.ParseError(n)
		}
		return append(dst, int(v)), n, nil
	case protowire.BytesType:
		packed, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return dst, 0, protowire.ParseError(n)
		}
		for len(packed) > 0 {
			v, m := protowire.ConsumeVarint(packed)
			if m < 0 {
				return dst, 0, protowire.ParseError(m)
			}
			dst = append(dst, int(v))
			packed = packed[m:]
		}
		return dst, n, nil
	default:
		return dst, 0, fmt.Errorf("unexpected wire type %d for an integer field", typ)
	}
}
