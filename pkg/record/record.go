// Package record implements the bit-exact object record layout and the
// append-only arena records live in: a fixed header {id, type,
// num_references, payload_size}, followed by num_references object ids,
// followed by payload_size bytes of payload. Records are immutable once
// written; an update produces a new record at a new offset.
package record

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/cuemby/corestore/pkg/errs"
	"github.com/cuemby/corestore/pkg/ids"
)

const headerSize = 8 + 4 + 4 + 4 // id, type, num_references, payload_size

// Record is the decoded, in-memory form of an object record.
type Record struct {
	ID         ids.ObjectID
	Type       ids.TypeID
	References []ids.ObjectID
	Payload    []byte
}

// Encode serializes r into the bit-exact on-disk layout.
func Encode(r Record) []byte {
	size := headerSize + len(r.References)*8 + len(r.Payload)
	buf := make([]byte, size)

	binary.LittleEndian.PutUint64(buf[0:8], uint64(r.ID))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(r.Type))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(len(r.References)))
	binary.LittleEndian.PutUint32(buf[16:20], uint32(len(r.Payload)))

	off := headerSize
	for _, ref := range r.References {
		binary.LittleEndian.PutUint64(buf[off:off+8], uint64(ref))
		off += 8
	}
	copy(buf[off:], r.Payload)
	return buf
}

// Decode reads a single Record starting at buf[0], returning the number
// of bytes consumed.
func Decode(buf []byte) (Record, int, error) {
	if len(buf) < headerSize {
		return Record{}, 0, errs.New(errs.KindInvalidObjectID, "truncated record header")
	}
	id := ids.ObjectID(binary.LittleEndian.Uint64(buf[0:8]))
	typ := ids.TypeID(binary.LittleEndian.Uint32(buf[8:12]))
	numRefs := binary.LittleEndian.Uint32(buf[12:16])
	payloadSize := binary.LittleEndian.Uint32(buf[16:20])

	need := headerSize + int(numRefs)*8 + int(payloadSize)
	if len(buf) < need {
		return Record{}, 0, errs.New(errs.KindInvalidObjectID, "truncated record body")
	}

	refs := make([]ids.ObjectID, numRefs)
	off := headerSize
	for i := range refs {
		refs[i] = ids.ObjectID(binary.LittleEndian.Uint64(buf[off : off+8]))
		off += 8
	}
	payload := append([]byte(nil), buf[off:off+int(payloadSize)]...)

	return Record{ID: id, Type: typ, References: refs, Payload: payload}, need, nil
}

// Arena is the shared, append-only byte store object records are written
// into. Offsets are 1-based byte positions so that 0 continues to mean
// ids.InvalidOffset.
type Arena struct {
	mu  sync.Mutex
	buf []byte
	max uint64 // 0 means unbounded
}

// NewArena returns an empty arena capped at maxBytes total bytes.
func NewArena(maxBytes uint64) *Arena {
	return &Arena{max: maxBytes}
}

// Append writes a new record to the arena and returns its offset. Fails
// with errs.KindOutOfMemory if the write would exceed the arena's cap.
func (a *Arena) Append(r Record) (ids.Offset, error) {
	encoded := Encode(r)

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.max != 0 && uint64(len(a.buf)+len(encoded)) > a.max {
		return ids.InvalidOffset, errs.New(errs.KindOutOfMemory, "object arena exhausted (max %d bytes)", a.max)
	}

	offset := ids.Offset(len(a.buf)) + 1
	a.buf = append(a.buf, encoded...)
	return offset, nil
}

// Get returns the record stored at offset.
func (a *Arena) Get(offset ids.Offset) (Record, error) {
	if offset == ids.InvalidOffset {
		return Record{}, errs.New(errs.KindInvalidObjectID, "offset 0 names no record")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	pos := int(offset) - 1
	if pos < 0 || pos >= len(a.buf) {
		return Record{}, errs.New(errs.KindInvalidObjectID, "offset %d out of range", offset)
	}
	rec, _, err := Decode(a.buf[pos:])
	if err != nil {
		return Record{}, fmt.Errorf("record: decode at offset %d: %w", offset, err)
	}
	return rec, nil
}

// Len returns the number of bytes currently appended, for diagnostics.
func (a *Arena) Len() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return uint64(len(a.buf))
}
