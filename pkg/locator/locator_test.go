package locator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/corestore/pkg/errs"
	"github.com/cuemby/corestore/pkg/ids"
)

func TestAllocate_Monotonic(t *testing.T) {
	tbl := New(0)
	a, err := tbl.Allocate()
	require.NoError(t, err)
	b, err := tbl.Allocate()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.Greater(t, uint32(b), uint32(a))
}

func TestAllocate_RespectsMax(t *testing.T) {
	tbl := New(1)
	_, err := tbl.Allocate()
	require.NoError(t, err)

	_, err = tbl.Allocate()
	require.Error(t, err)
	assert.Equal(t, errs.KindOutOfMemory, errs.OfKind(err))
}

func TestSnapshot_IsolatedFromLaterCommits(t *testing.T) {
	tbl := New(0)
	l, err := tbl.Allocate()
	require.NoError(t, err)
	tbl.Apply(map[ids.Locator]ids.Offset{l: 100})

	snap := tbl.Snapshot()
	assert.Equal(t, ids.Offset(100), snap.Get(l))

	tbl.Apply(map[ids.Locator]ids.Offset{l: 200})
	assert.Equal(t, ids.Offset(100), snap.Get(l), "snapshot must not see commits made after it was taken")
	assert.Equal(t, ids.Offset(200), tbl.CommittedOffset(l))
}

func TestSnapshot_WriteOnlyVisibleLocally(t *testing.T) {
	tbl := New(0)
	l, err := tbl.Allocate()
	require.NoError(t, err)

	snap := tbl.Snapshot()
	snap.Set(l, 50)

	assert.Equal(t, ids.Offset(50), snap.Get(l))
	assert.Equal(t, ids.Offset(0), tbl.CommittedOffset(l), "uncommitted snapshot write must not leak to shared table")
}

func TestSnapshot_BaseOffsetForValidation(t *testing.T) {
	tbl := New(0)
	l, err := tbl.Allocate()
	require.NoError(t, err)
	tbl.Apply(map[ids.Locator]ids.Offset{l: 10})

	snap := tbl.Snapshot()
	assert.Equal(t, ids.Offset(10), snap.BaseOffset(l))
	snap.Set(l, 20)
	assert.Equal(t, ids.Offset(10), snap.BaseOffset(l), "BaseOffset must reflect snapshot time, not overlay writes")
}
