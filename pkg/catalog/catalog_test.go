package catalog

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/corestore/pkg/errs"
	"github.com/cuemby/corestore/pkg/holder"
	"github.com/cuemby/corestore/pkg/ids"
)

func TestCreateTable_DuplicateNameFails(t *testing.T) {
	c := New()
	_, err := c.CreateTable("student", false, nil)
	require.NoError(t, err)

	_, err = c.CreateTable("student", false, nil)
	require.Error(t, err)
	assert.Equal(t, errs.KindDuplicateTable, errs.OfKind(err))
}

func TestTableByName(t *testing.T) {
	c := New()
	typeID, err := c.CreateTable("doctor", false, []Field{
		{Name: "name", Kind: holder.KindString, Position: 0, Active: true},
	})
	require.NoError(t, err)

	got, err := c.TableByName("doctor")
	require.NoError(t, err)
	assert.Equal(t, typeID, got)

	_, err = c.TableByName("missing")
	assert.True(t, errors.Is(err, errs.ErrTableNotFound))
}

func TestCreateRelationship_UnknownTypeFails(t *testing.T) {
	c := New()
	parent, err := c.CreateTable("doctor", false, nil)
	require.NoError(t, err)

	err = c.CreateRelationship(Relationship{
		ParentType: parent,
		ChildType:  ids.TypeID(999),
	})
	assert.True(t, errors.Is(err, errs.ErrTableNotFound))
}

func TestRelationshipLookup(t *testing.T) {
	c := New()
	parent, err := c.CreateTable("doctor", false, nil)
	require.NoError(t, err)
	child, err := c.CreateTable("patient", false, nil)
	require.NoError(t, err)

	rel := Relationship{
		Name:           "doctor_patient",
		ParentType:     parent,
		ChildType:      child,
		Cardinality:    CardinalityMany,
		FirstChildSlot: 0,
		ParentSlot:     0,
		NextChildSlot:  1,
		PrevChildSlot:  2,
	}
	require.NoError(t, c.CreateRelationship(rel))

	found, err := c.RelationshipAtParentSlot(parent, 0)
	require.NoError(t, err)
	assert.Equal(t, "doctor_patient", found.Name)

	found, err = c.RelationshipAtChildSlot(child, 0)
	require.NoError(t, err)
	assert.Equal(t, "doctor_patient", found.Name)

	assert.Len(t, c.ListRelationshipsFrom(parent), 1)
	assert.Len(t, c.ListRelationshipsTo(child), 1)
}

func TestCreateIndex_AndLookup(t *testing.T) {
	c := New()
	typeID, err := c.CreateTable("student", false, []Field{
		{Name: "student_id", Kind: holder.KindString, Position: 0, Active: true},
	})
	require.NoError(t, err)

	idxID, err := c.CreateIndex("student_id_idx", typeID, []ids.FieldPosition{0}, IndexKindHash, true)
	require.NoError(t, err)

	idx, err := c.Index(idxID)
	require.NoError(t, err)
	assert.True(t, idx.IsUnique)
	assert.Equal(t, IndexKindHash, idx.Kind)

	assert.Len(t, c.ListIndexes(typeID), 1)
}

func TestTable_Schema(t *testing.T) {
	c := New()
	typeID, err := c.CreateTable("student", false, []Field{
		{Name: "age", Kind: holder.KindInt32, Position: 0, Active: true},
	})
	require.NoError(t, err)

	tbl, err := c.Table(typeID)
	require.NoError(t, err)
	schema := tbl.Schema()
	require.Len(t, schema.Fields, 1)
	assert.Equal(t, "age", schema.Fields[0].Name)
}
