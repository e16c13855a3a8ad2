package key

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/corestore/pkg/holder"
)

func TestEqual(t *testing.T) {
	a := New(holder.FromInt64(1), holder.FromString("x"))
	b := New(holder.FromInt64(1), holder.FromString("x"))
	c := New(holder.FromInt64(1), holder.FromString("y"))

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

func TestEqual_NullElementNeverEqual(t *testing.T) {
	a := New(holder.Null())
	b := New(holder.Null())
	assert.False(t, a.Equal(b))
}

func TestHash_EqualImpliesSameHash(t *testing.T) {
	a := New(holder.FromInt64(7), holder.FromUint32(9))
	b := New(holder.FromInt64(7), holder.FromUint32(9))
	require.True(t, a.Equal(b))
	assert.Equal(t, a.Hash(), b.Hash())
}

func TestCompare_Lexicographic(t *testing.T) {
	a := New(holder.FromInt64(1), holder.FromInt64(2))
	b := New(holder.FromInt64(1), holder.FromInt64(3))
	assert.Negative(t, a.Compare(b))
	assert.Positive(t, b.Compare(a))
	assert.Zero(t, a.Compare(a))
}

func TestCompare_ShorterPrefixOrdersFirst(t *testing.T) {
	prefix := New(holder.FromInt64(1))
	full := New(holder.FromInt64(1), holder.FromInt64(2))
	assert.Negative(t, prefix.Compare(full))
	assert.Positive(t, full.Compare(prefix))
}

func TestEmpty(t *testing.T) {
	assert.True(t, New().Empty())
	assert.False(t, New(holder.FromInt64(1)).Empty())
}

func TestEmpty_AllNullHoldersIsEmpty(t *testing.T) {
	assert.True(t, New(holder.Null(), holder.Null()).Empty())
	assert.False(t, New(holder.Null(), holder.FromInt64(1)).Empty())
}
