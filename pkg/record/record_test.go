package record

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/corestore/pkg/errs"
	"github.com/cuemby/corestore/pkg/ids"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	r := Record{
		ID:         42,
		Type:       7,
		References: []ids.ObjectID{1, 2, 3},
		Payload:    []byte("hello"),
	}
	buf := Encode(r)
	got, n, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, len(buf), n)
	assert.Equal(t, r, got)
}

func TestDecode_TruncatedHeaderFails(t *testing.T) {
	_, _, err := Decode([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestArena_AppendGet(t *testing.T) {
	a := NewArena(0)
	r := Record{ID: 1, Type: 1, References: nil, Payload: []byte("x")}
	off, err := a.Append(r)
	require.NoError(t, err)

	got, err := a.Get(off)
	require.NoError(t, err)
	assert.Equal(t, r, got)
}

func TestArena_MultipleAppendsDistinctOffsets(t *testing.T) {
	a := NewArena(0)
	off1, err := a.Append(Record{ID: 1, Type: 1, Payload: []byte("a")})
	require.NoError(t, err)
	off2, err := a.Append(Record{ID: 2, Type: 1, Payload: []byte("bb")})
	require.NoError(t, err)
	assert.NotEqual(t, off1, off2)

	r1, err := a.Get(off1)
	require.NoError(t, err)
	assert.Equal(t, ids.ObjectID(1), r1.ID)

	r2, err := a.Get(off2)
	require.NoError(t, err)
	assert.Equal(t, ids.ObjectID(2), r2.ID)
}

func TestArena_GetInvalidOffsetFails(t *testing.T) {
	a := NewArena(0)
	_, err := a.Get(ids.InvalidOffset)
	require.Error(t, err)
	assert.Equal(t, errs.KindInvalidObjectID, errs.OfKind(err))
}

func TestArena_RespectsMaxBytes(t *testing.T) {
	a := NewArena(10)
	_, err := a.Append(Record{ID: 1, Type: 1, Payload: []byte("0123456789012345")})
	require.Error(t, err)
	assert.Equal(t, errs.KindOutOfMemory, errs.OfKind(err))
}
