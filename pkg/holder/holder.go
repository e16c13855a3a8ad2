// Package holder implements the tagged-union scalar value used as the
// atomic unit of comparison throughout the engine: index keys, predicate
// constants, and field values all resolve to a Holder.
package holder

import (
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"
)

// Kind tags which variant of Holder is populated.
type Kind uint8

const (
	// KindNull represents SQL-style null: Equal never reports it equal to
	// any holder, including another null, regardless of underlying type.
	KindNull Kind = iota
	KindBool
	KindInt8
	KindInt16
	KindInt32
	KindInt64
	KindUint8
	KindUint16
	KindUint32
	KindUint64
	KindFloat32
	KindFloat64
	KindString
)

// Holder is a small tagged union over the scalar types the engine indexes
// and compares. The zero value is a typed null (KindNull).
type Holder struct {
	kind Kind
	i    int64
	u    uint64
	f    float64
	s    string
}

// Null returns the null holder.
func Null() Holder { return Holder{kind: KindNull} }

// IsNull reports whether h is null.
func (h Holder) IsNull() bool { return h.kind == KindNull }

// Kind returns h's tag.
func (h Holder) Kind() Kind { return h.kind }

func FromBool(v bool) Holder {
	var i int64
	if v {
		i = 1
	}
	return Holder{kind: KindBool, i: i}
}

func FromInt8(v int8) Holder   { return Holder{kind: KindInt8, i: int64(v)} }
func FromInt16(v int16) Holder { return Holder{kind: KindInt16, i: int64(v)} }
func FromInt32(v int32) Holder { return Holder{kind: KindInt32, i: int64(v)} }
func FromInt64(v int64) Holder { return Holder{kind: KindInt64, i: v} }

func FromUint8(v uint8) Holder   { return Holder{kind: KindUint8, u: uint64(v)} }
func FromUint16(v uint16) Holder { return Holder{kind: KindUint16, u: uint64(v)} }
func FromUint32(v uint32) Holder { return Holder{kind: KindUint32, u: uint64(v)} }
func FromUint64(v uint64) Holder { return Holder{kind: KindUint64, u: v} }

func FromFloat32(v float32) Holder { return Holder{kind: KindFloat32, f: float64(v)} }
func FromFloat64(v float64) Holder { return Holder{kind: KindFloat64, f: v} }

func FromString(v string) Holder { return Holder{kind: KindString, s: v} }

// Bool returns the underlying value. Panics if Kind() != KindBool.
func (h Holder) Bool() bool {
	h.mustKind(KindBool)
	return h.i != 0
}

// Int returns the underlying value widened to int64 for any signed
// integer kind. Panics otherwise.
func (h Holder) Int() int64 {
	switch h.kind {
	case KindInt8, KindInt16, KindInt32, KindInt64:
		return h.i
	default:
		panic(fmt.Sprintf("holder: Int() called on %v", h.kind))
	}
}

// Uint returns the underlying value widened to uint64 for any unsigned
// integer kind. Panics otherwise.
func (h Holder) Uint() uint64 {
	switch h.kind {
	case KindUint8, KindUint16, KindUint32, KindUint64:
		return h.u
	default:
		panic(fmt.Sprintf("holder: Uint() called on %v", h.kind))
	}
}

// Float returns the underlying value widened to float64. Panics unless
// Kind() is KindFloat32 or KindFloat64.
func (h Holder) Float() float64 {
	switch h.kind {
	case KindFloat32, KindFloat64:
		return h.f
	default:
		panic(fmt.Sprintf("holder: Float() called on %v", h.kind))
	}
}

// Str returns the underlying value. Panics if Kind() != KindString.
//
// Named Str rather than String to avoid colliding with fmt.Stringer: a
// Holder formatted with %v must not panic just because it holds a
// non-string kind.
func (h Holder) Str() string {
	h.mustKind(KindString)
	return h.s
}

// GoString implements a safe, panic-free textual form for %v/%#v.
func (h Holder) GoString() string {
	if h.kind == KindNull {
		return "null"
	}
	return fmt.Sprintf("holder(%v)", h.kind)
}

func (h Holder) mustKind(k Kind) {
	if h.kind != k {
		panic(fmt.Sprintf("holder: expected %v, got %v", k, h.kind))
	}
}

// Compare orders two holders of the same kind: negative if h < other, zero
// if equal, positive if h > other. Two nulls compare equal to each other
// for ordering purposes (range-index traversal), even though Equal treats
// null as never equal to anything, including another null — this mirrors
// the original index's two-phase null handling: nulls sort together but
// never satisfy equality predicates. Panics if the kinds differ.
func (h Holder) Compare(other Holder) int {
	if h.kind != other.kind {
		panic(fmt.Sprintf("holder: Compare between mismatched kinds %v and %v", h.kind, other.kind))
	}
	switch h.kind {
	case KindNull:
		return 0
	case KindBool, KindInt8, KindInt16, KindInt32, KindInt64:
		return cmpInt64(h.i, other.i)
	case KindUint8, KindUint16, KindUint32, KindUint64:
		return cmpUint64(h.u, other.u)
	case KindFloat32, KindFloat64:
		return cmpFloat64(h.f, other.f)
	case KindString:
		switch {
		case h.s < other.s:
			return -1
		case h.s > other.s:
			return 1
		default:
			return 0
		}
	default:
		panic(fmt.Sprintf("holder: Compare on unknown kind %v", h.kind))
	}
}

// Equal reports whether h and other hold the same kind and value. A null
// holder is never equal to anything, including another null, matching the
// original key comparator's nullity rule.
func (h Holder) Equal(other Holder) bool {
	if h.kind == KindNull || other.kind == KindNull {
		return false
	}
	if h.kind != other.kind {
		return false
	}
	return h.Compare(other) == 0
}

// Hash returns a hash of h such that k1.Equal(k2) implies
// k1.Hash() == k2.Hash(). Distinct nulls deliberately share a hash (they
// are never equal, but grouping them keeps hash-index bucket counts
// sane when many rows carry a null in an indexed field).
func (h Holder) Hash() uint64 {
	var buf [9]byte
	buf[0] = byte(h.kind)
	switch h.kind {
	case KindNull:
		return xxhash.Sum64(buf[:1])
	case KindBool, KindInt8, KindInt16, KindInt32, KindInt64:
		putUint64(buf[1:], uint64(h.i))
	case KindUint8, KindUint16, KindUint32, KindUint64:
		putUint64(buf[1:], h.u)
	case KindFloat32, KindFloat64:
		putUint64(buf[1:], math.Float64bits(h.f))
	case KindString:
		return xxhash.Sum64String(h.s) ^ uint64(h.kind)
	}
	return xxhash.Sum64(buf[:])
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpUint64(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpFloat64(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt8:
		return "int8"
	case KindInt16:
		return "int16"
	case KindInt32:
		return "int32"
	case KindInt64:
		return "int64"
	case KindUint8:
		return "uint8"
	case KindUint16:
		return "uint16"
	case KindUint32:
		return "uint32"
	case KindUint64:
		return "uint64"
	case KindFloat32:
		return "float32"
	case KindFloat64:
		return "float64"
	case KindString:
		return "string"
	default:
		return "unknown"
	}
}
