// Package payload implements the binary encoding of an object's field
// values. Given a (payload bytes, schema, field position) tuple it returns
// a holder.Holder, and can produce a new payload with a single field
// replaced, matching the "payload access" component described for the
// engine: flatbuffer-style fixed slots for scalars, with a trailing
// variable-length area for strings.
package payload

import (
	"encoding/binary"
	"math"

	"github.com/cuemby/corestore/pkg/holder"
)

// FieldDesc describes one field of a table's binary schema.
type FieldDesc struct {
	Name     string
	Kind     holder.Kind
	Position uint16
	// Repeated is carried for catalog completeness (spec: "repeated
	// count") but arrays are not implemented by this module; every field
	// currently encoded is scalar.
	Repeated bool
	Active   bool
}

// Schema is the ordered, compact description of a table's payload layout.
// Position indexes directly into Fields; Fields[i].Position == i for every
// active schema produced by pkg/catalog.
type Schema struct {
	Fields []FieldDesc
}

func (s Schema) field(pos uint16) (FieldDesc, bool) {
	if int(pos) >= len(s.Fields) {
		return FieldDesc{}, false
	}
	fd := s.Fields[int(pos)]
	if !fd.Active {
		return FieldDesc{}, false
	}
	return fd, true
}

// fixedWidth returns the number of bytes a scalar kind occupies in the
// fixed slot area. Strings store an 8-byte (offset,length) pair into the
// variable area instead of the value itself.
func fixedWidth(k holder.Kind) int {
	switch k {
	case holder.KindBool, holder.KindInt8, holder.KindUint8:
		return 1
	case holder.KindInt16, holder.KindUint16:
		return 2
	case holder.KindInt32, holder.KindUint32, holder.KindFloat32:
		return 4
	case holder.KindInt64, holder.KindUint64, holder.KindFloat64, holder.KindString:
		return 8
	case holder.KindNull:
		return 0
	default:
		return 8
	}
}

// nullBitmapBytes returns how many bytes the leading null bitmap occupies
// for n fields.
func nullBitmapBytes(n int) int {
	return (n + 7) / 8
}

// Encode serializes values (keyed by field position) into a payload blob
// laid out as: null bitmap, fixed-size slots in schema order, then a
// variable-length area holding string bytes referenced by (offset,length)
// pairs from the fixed area. Fields absent from values encode as null.
func Encode(schema Schema, values map[uint16]holder.Holder) []byte {
	n := len(schema.Fields)
	bitmapLen := nullBitmapBytes(n)
	fixedLen := 0
	for _, fd := range schema.Fields {
		fixedLen += fixedWidth(fd.Kind)
	}

	var varArea []byte
	bitmap := make([]byte, bitmapLen)
	fixed := make([]byte, fixedLen)

	off := 0
	for i, fd := range schema.Fields {
		width := fixedWidth(fd.Kind)
		v, ok := values[fd.Position]
		if !ok || v.IsNull() {
			bitmap[i/8] |= 1 << uint(i%8)
			off += width
			continue
		}
		slot := fixed[off : off+width]
		switch fd.Kind {
		case holder.KindBool:
			if v.Bool() {
				slot[0] = 1
			}
		case holder.KindInt8:
			slot[0] = byte(v.Int())
		case holder.KindUint8:
			slot[0] = byte(v.Uint())
		case holder.KindInt16:
			binary.LittleEndian.PutUint16(slot, uint16(v.Int()))
		case holder.KindUint16:
			binary.LittleEndian.PutUint16(slot, uint16(v.Uint()))
		case holder.KindInt32:
			binary.LittleEndian.PutUint32(slot, uint32(v.Int()))
		case holder.KindUint32:
			binary.LittleEndian.PutUint32(slot, uint32(v.Uint()))
		case holder.KindFloat32:
			binary.LittleEndian.PutUint32(slot, math.Float32bits(float32(v.Float())))
		case holder.KindInt64:
			binary.LittleEndian.PutUint64(slot, uint64(v.Int()))
		case holder.KindUint64:
			binary.LittleEndian.PutUint64(slot, v.Uint())
		case holder.KindFloat64:
			binary.LittleEndian.PutUint64(slot, math.Float64bits(v.Float()))
		case holder.KindString:
			s := v.Str()
			binary.LittleEndian.PutUint32(slot[0:4], uint32(len(varArea)))
			binary.LittleEndian.PutUint32(slot[4:8], uint32(len(s)))
			varArea = append(varArea, s...)
		}
		off += width
	}

	buf := make([]byte, 0, bitmapLen+fixedLen+len(varArea))
	buf = append(buf, bitmap...)
	buf = append(buf, fixed...)
	buf = append(buf, varArea...)
	return buf
}

// decodeField extracts the field at schema position pos from a payload
// blob previously produced by Encode.
func decodeField(schema Schema, payload []byte, pos uint16) holder.Holder {
	fd, ok := schema.field(pos)
	if !ok {
		return holder.Null()
	}
	bitmapLen := nullBitmapBytes(len(schema.Fields))
	i := int(pos)
	if bitmapLen > 0 && payload[i/8]&(1<<uint(i%8)) != 0 {
		return holder.Null()
	}

	off := bitmapLen
	for j := 0; j < i; j++ {
		off += fixedWidth(schema.Fields[j].Kind)
	}
	width := fixedWidth(fd.Kind)
	slot := payload[off : off+width]

	switch fd.Kind {
	case holder.KindBool:
		return holder.FromBool(slot[0] != 0)
	case holder.KindInt8:
		return holder.FromInt8(int8(slot[0]))
	case holder.KindUint8:
		return holder.FromUint8(slot[0])
	case holder.KindInt16:
		return holder.FromInt16(int16(binary.LittleEndian.Uint16(slot)))
	case holder.KindUint16:
		return holder.FromUint16(binary.LittleEndian.Uint16(slot))
	case holder.KindInt32:
		return holder.FromInt32(int32(binary.LittleEndian.Uint32(slot)))
	case holder.KindUint32:
		return holder.FromUint32(binary.LittleEndian.Uint32(slot))
	case holder.KindFloat32:
		return holder.FromFloat32(math.Float32frombits(binary.LittleEndian.Uint32(slot)))
	case holder.KindInt64:
		return holder.FromInt64(int64(binary.LittleEndian.Uint64(slot)))
	case holder.KindUint64:
		return holder.FromUint64(binary.LittleEndian.Uint64(slot))
	case holder.KindFloat64:
		return holder.FromFloat64(math.Float64frombits(binary.LittleEndian.Uint64(slot)))
	case holder.KindString:
		varOff := binary.LittleEndian.Uint32(slot[0:4])
		varLen := binary.LittleEndian.Uint32(slot[4:8])
		varArea := payload[bitmapLen+fixedTotalWidth(schema):]
		return holder.FromString(string(varArea[varOff : varOff+varLen]))
	default:
		return holder.Null()
	}
}

func fixedTotalWidth(schema Schema) int {
	total := 0
	for _, fd := range schema.Fields {
		total += fixedWidth(fd.Kind)
	}
	return total
}

// Get returns the value stored at field position pos in payload, decoded
// according to schema. Returns a null holder if pos names an inactive or
// out-of-range field.
func Get(schema Schema, payload []byte, pos uint16) holder.Holder {
	return decodeField(schema, payload, pos)
}

// WithField returns a new payload blob equal to payload except that field
// pos now holds value. The original payload is never mutated, matching
// the engine's immutable-record contract.
func WithField(schema Schema, payload []byte, pos uint16, value holder.Holder) []byte {
	values := make(map[uint16]holder.Holder, len(schema.Fields))
	for _, fd := range schema.Fields {
		values[fd.Position] = decodeField(schema, payload, fd.Position)
	}
	values[pos] = value
	return Encode(schema, values)
}

// Diff returns the field positions whose decoded value differs between
// old and new, comparing with holder.Equal. A position that is null on
// both sides is not reported, even though holder.Equal never matches two
// nulls.
func Diff(schema Schema, old, next []byte) []uint16 {
	var changed []uint16
	for _, fd := range schema.Fields {
		a := decodeField(schema, old, fd.Position)
		b := decodeField(schema, next, fd.Position)
		if a.IsNull() && b.IsNull() {
			continue
		}
		if !a.Equal(b) {
			changed = append(changed, fd.Position)
		}
	}
	return changed
}
