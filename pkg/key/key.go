// Package key implements the composite index key: an ordered tuple of
// holder.Holder values used both as the logical key stored in a secondary
// index and as the bound value of a range/point scan predicate.
package key

import (
	"github.com/cespare/xxhash/v2"

	"github.com/cuemby/corestore/pkg/holder"
)

// Key is an ordered tuple of scalar values. A single-field index has a
// one-element Key; a composite index has one element per indexed field,
// in field declaration order.
type Key struct {
	values []holder.Holder
}

// New builds a Key from the given holders, in order.
func New(values ...holder.Holder) Key {
	cp := make([]holder.Holder, len(values))
	copy(cp, values)
	return Key{values: cp}
}

// Empty reports whether k carries no values, or carries only all-null
// holders (spec.md: "Keys with all-null holders are considered 'empty'").
func (k Key) Empty() bool {
	for _, v := range k.values {
		if !v.IsNull() {
			return false
		}
	}
	return true
}

// Len returns the number of values in k.
func (k Key) Len() int { return len(k.values) }

// At returns the i'th value.
func (k Key) At(i int) holder.Holder { return k.values[i] }

// Values returns the underlying tuple. The caller must not mutate it.
func (k Key) Values() []holder.Holder { return k.values }

// Compare orders two keys lexicographically, element by element. Keys of
// different length are compared element-by-element up to the shorter
// length, with the shorter key ordering first on a tie (consistent with
// range-scan bound semantics where a shorter prefix key acts as an open
// bound). Panics if corresponding elements carry mismatched holder kinds.
func (k Key) Compare(other Key) int {
	n := len(k.values)
	if len(other.values) < n {
		n = len(other.values)
	}
	for i := 0; i < n; i++ {
		if c := k.values[i].Compare(other.values[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(k.values) < len(other.values):
		return -1
	case len(k.values) > len(other.values):
		return 1
	default:
		return 0
	}
}

// Equal reports whether k and other hold the same length and every
// corresponding element is holder.Equal (so a null anywhere makes the
// whole key compare unequal, including to itself).
func (k Key) Equal(other Key) bool {
	if len(k.values) != len(other.values) {
		return false
	}
	for i := range k.values {
		if !k.values[i].Equal(other.values[i]) {
			return false
		}
	}
	return true
}

// Hash combines the per-element hashes of k such that k1.Equal(k2)
// implies k1.Hash() == k2.Hash().
func (k Key) Hash() uint64 {
	h := xxhash.New()
	var buf [8]byte
	for _, v := range k.values {
		vh := v.Hash()
		for i := 0; i < 8; i++ {
			buf[i] = byte(vh >> (8 * i))
		}
		_, _ = h.Write(buf[:])
	}
	return h.Sum64()
}
