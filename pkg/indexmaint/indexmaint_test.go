package indexmaint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/corestore/pkg/catalog"
	"github.com/cuemby/corestore/pkg/errs"
	"github.com/cuemby/corestore/pkg/holder"
	"github.com/cuemby/corestore/pkg/ids"
	"github.com/cuemby/corestore/pkg/payload"
	"github.com/cuemby/corestore/pkg/record"
	"github.com/cuemby/corestore/pkg/txnlog"
)

const studentIDPos ids.FieldPosition = 0

func newFixture(t *testing.T, unique bool) (*Registry, *record.Arena, ids.TypeID, ids.IndexID, payload.Schema) {
	t.Helper()
	cat := catalog.New()
	typeID, err := cat.CreateTable("student", false, []catalog.Field{
		{Name: "student_id", Kind: holder.KindString, Position: studentIDPos, Active: true},
	})
	require.NoError(t, err)

	arena := record.NewArena(0)
	reg := NewRegistry(cat, arena)
	indexID, err := reg.CreateIndex("student_id_idx", typeID, []ids.FieldPosition{studentIDPos}, catalog.IndexKindHash, unique)
	require.NoError(t, err)

	table, err := cat.Table(typeID)
	require.NoError(t, err)
	return reg, arena, typeID, indexID, table.Schema()
}

func makeRecord(t *testing.T, arena *record.Arena, typeID ids.TypeID, schema payload.Schema, studentID string) ids.Offset {
	t.Helper()
	p := payload.Encode(schema, map[uint16]holder.Holder{uint16(studentIDPos): holder.FromString(studentID)})
	off, err := arena.Append(record.Record{ID: 1, Type: typeID, Payload: p})
	require.NoError(t, err)
	return off
}

func TestValidate_UniqueIndex_SameTxnDuplicateFails(t *testing.T) {
	reg, arena, typeID, _, schema := newFixture(t, true)

	off1 := makeRecord(t, arena, typeID, schema, "00002217")
	off2 := makeRecord(t, arena, typeID, schema, "00002217")

	records := []txnlog.LogRecord{
		{Locator: 1, OldOffset: ids.InvalidOffset, NewOffset: off1, Op: txnlog.OpCreate},
		{Locator: 2, OldOffset: ids.InvalidOffset, NewOffset: off2, Op: txnlog.OpCreate},
	}

	err := reg.Validate(records)
	require.Error(t, err)
	assert.Equal(t, errs.KindUniqueConstraintViolation, errs.OfKind(err))
}

func TestValidate_UniqueIndex_CrossTxnDuplicateFails(t *testing.T) {
	reg, arena, typeID, _, schema := newFixture(t, true)

	off1 := makeRecord(t, arena, typeID, schema, "X")
	require.NoError(t, reg.Validate([]txnlog.LogRecord{
		{Locator: 1, OldOffset: ids.InvalidOffset, NewOffset: off1, Op: txnlog.OpCreate},
	}))
	reg.OnCommit(1, []txnlog.LogRecord{
		{Locator: 1, OldOffset: ids.InvalidOffset, NewOffset: off1, Op: txnlog.OpCreate},
	})

	off2 := makeRecord(t, arena, typeID, schema, "X")
	err := reg.Validate([]txnlog.LogRecord{
		{Locator: 2, OldOffset: ids.InvalidOffset, NewOffset: off2, Op: txnlog.OpCreate},
	})
	require.Error(t, err)
	assert.Equal(t, errs.KindUniqueConstraintViolation, errs.OfKind(err))
}

func TestOnCommit_MergesInsertsAndRemoves(t *testing.T) {
	reg, arena, typeID, indexID, schema := newFixture(t, false)

	off1 := makeRecord(t, arena, typeID, schema, "A")
	reg.OnCommit(1, []txnlog.LogRecord{
		{Locator: 1, OldOffset: ids.InvalidOffset, NewOffset: off1, Op: txnlog.OpCreate},
	})

	idx, err := reg.Index(indexID)
	require.NoError(t, err)
	assert.Equal(t, 1, idx.Len())

	reg.OnCommit(2, []txnlog.LogRecord{
		{Locator: 1, OldOffset: off1, NewOffset: ids.InvalidOffset, Op: txnlog.OpRemove},
	})
	assert.Equal(t, 0, idx.Len())
}

func TestDeltas_ReflectsLogWithoutMutatingCommittedIndex(t *testing.T) {
	reg, arena, typeID, indexID, schema := newFixture(t, false)

	off := makeRecord(t, arena, typeID, schema, "Z")
	deltas, err := reg.Deltas([]txnlog.LogRecord{
		{Locator: 9, OldOffset: ids.InvalidOffset, NewOffset: off, Op: txnlog.OpCreate},
	})
	require.NoError(t, err)
	require.Len(t, deltas, 1)
	assert.Equal(t, indexID, deltas[0].IndexID)
	assert.False(t, deltas[0].Remove)
	assert.Equal(t, ids.Locator(9), deltas[0].Locator)

	idx, err := reg.Index(indexID)
	require.NoError(t, err)
	assert.Equal(t, 0, idx.Len(), "Deltas must not merge into the committed index")
}

func TestPopulate_RebuildsFromLiveObjects(t *testing.T) {
	reg, arena, typeID, indexID, schema := newFixture(t, false)

	off1 := makeRecord(t, arena, typeID, schema, "A")
	off2 := makeRecord(t, arena, typeID, schema, "B")

	rec1, err := arena.Get(off1)
	require.NoError(t, err)
	rec2, err := arena.Get(off2)
	require.NoError(t, err)

	require.NoError(t, reg.Populate(indexID, []LiveObject{
		{Locator: 1, Offset: off1, Record: rec1},
		{Locator: 2, Offset: off2, Record: rec2},
	}))

	idx, err := reg.Index(indexID)
	require.NoError(t, err)
	assert.Equal(t, 2, idx.Len())
}
