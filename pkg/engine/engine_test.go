package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/corestore/pkg/catalog"
	"github.com/cuemby/corestore/pkg/errs"
	"github.com/cuemby/corestore/pkg/holder"
	"github.com/cuemby/corestore/pkg/ids"
	"github.com/cuemby/corestore/pkg/key"
	"github.com/cuemby/corestore/pkg/payload"
	"github.com/cuemby/corestore/pkg/scan"
)

const (
	nameField ids.FieldPosition = 0
	ageField  ids.FieldPosition = 1
)

func patientSchema() payload.Schema {
	return payload.Schema{Fields: []payload.FieldDesc{
		{Name: "name", Kind: holder.KindString, Position: uint16(nameField), Active: true},
		{Name: "age", Kind: holder.KindInt64, Position: uint16(ageField), Active: true},
	}}
}

func encodePatient(name string, age int64) []byte {
	return payload.Encode(patientSchema(), map[uint16]holder.Holder{
		uint16(nameField): holder.FromString(name),
		uint16(ageField):  holder.FromInt64(age),
	})
}

type fixture struct {
	db         *Database
	doctorType ids.TypeID
	patientType ids.TypeID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := New(Options{MaxObjects: 1 << 20, MaxLocators: 1 << 16, MaxLogRecords: 0})

	doctorType, err := db.CreateTable("doctor", nil)
	require.NoError(t, err)
	patientType, err := db.CreateTable("patient", []catalog.Field{
		{Name: "name", Kind: holder.KindString, Position: nameField, Active: true},
		{Name: "age", Kind: holder.KindInt64, Position: ageField, Active: true},
	})
	require.NoError(t, err)

	require.NoError(t, db.CreateRelationship(catalog.Relationship{
		Name:           "treats",
		ParentType:     doctorType,
		ChildType:      patientType,
		Cardinality:    catalog.CardinalityMany,
		FirstChildSlot: 0,
		ParentSlot:     0,
		NextChildSlot:  1,
		PrevChildSlot:  2,
	}))

	return &fixture{db: db, doctorType: doctorType, patientType: patientType}
}

func (f *fixture) beginTxn(t *testing.T) *Txn {
	t.Helper()
	sess := f.db.BeginSession()
	txn, err := f.db.Begin(sess)
	require.NoError(t, err)
	return txn
}

func TestObjectCRUD(t *testing.T) {
	f := newFixture(t)
	txn := f.beginTxn(t)

	id, err := txn.Create(f.patientType, encodePatient("Ada", 30))
	require.NoError(t, err)

	rec, err := txn.Get(id)
	require.NoError(t, err)
	assert.Equal(t, int64(30), payload.Get(patientSchema(), rec.Payload, uint16(ageField)).Int())

	require.NoError(t, txn.UpdatePayload(id, encodePatient("Ada", 31)))
	rec, err = txn.Get(id)
	require.NoError(t, err)
	assert.Equal(t, int64(31), payload.Get(patientSchema(), rec.Payload, uint16(ageField)).Int())

	require.NoError(t, txn.Remove(id, false))
	_, err = txn.Get(id)
	assert.Error(t, err)

	ok, err := txn.Commit()
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCreateWithID_RejectsDuplicate(t *testing.T) {
	f := newFixture(t)
	txn := f.beginTxn(t)

	explicit := ids.ObjectID(9001)
	require.NoError(t, txn.CreateWithID(explicit, f.patientType, encodePatient("Bo", 40)))
	err := txn.CreateWithID(explicit, f.patientType, encodePatient("Cy", 12))
	assert.Equal(t, errs.KindDuplicateID, errs.OfKind(err))
}

func TestFindAll_Cursor(t *testing.T) {
	f := newFixture(t)
	txn := f.beginTxn(t)

	for _, p := range []struct {
		name string
		age  int64
	}{{"Ada", 30}, {"Bo", 50}, {"Cy", 12}} {
		_, err := txn.Create(f.patientType, encodePatient(p.name, p.age))
		require.NoError(t, err)
	}
	ok, err := txn.Commit()
	require.NoError(t, err)
	require.True(t, ok)

	txn2 := f.beginTxn(t)
	cur, err := txn2.FindAll(f.patientType)
	require.NoError(t, err)
	var count int
	for {
		_, more := cur.Next()
		if !more {
			break
		}
		count++
	}
	assert.Equal(t, 3, count)
}

func TestReferenceGraph_InsertChildrenDelete(t *testing.T) {
	f := newFixture(t)
	txn := f.beginTxn(t)

	doctor, err := txn.Create(f.doctorType, nil)
	require.NoError(t, err)
	p1, err := txn.Create(f.patientType, encodePatient("Ada", 30))
	require.NoError(t, err)
	p2, err := txn.Create(f.patientType, encodePatient("Bo", 50))
	require.NoError(t, err)

	_, err = txn.InsertIntoContainer(doctor, p1, 0)
	require.NoError(t, err)
	_, err = txn.InsertIntoContainer(doctor, p2, 0)
	require.NoError(t, err)

	children, err := txn.Children(doctor, 0)
	require.NoError(t, err)
	assert.Len(t, children, 2)

	// Deleting the doctor without force fails while patients remain attached.
	err = txn.Remove(doctor, false)
	assert.Equal(t, errs.KindObjectStillReferenced, errs.OfKind(err))

	// With force, the chain is detached and the doctor is removed.
	require.NoError(t, txn.Remove(doctor, true))

	ok, err := txn.Commit()
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestUniqueIndex_RejectsDuplicateInSameTransaction(t *testing.T) {
	f := newFixture(t)
	_, err := f.db.CreateIndex("patient_name", f.patientType, []ids.FieldPosition{nameField}, catalog.IndexKindHash, true)
	require.NoError(t, err)

	txn := f.beginTxn(t)
	_, err = txn.Create(f.patientType, encodePatient("Ada", 30))
	require.NoError(t, err)
	_, err = txn.Create(f.patientType, encodePatient("Ada", 99))
	require.NoError(t, err)

	ok, err := txn.Commit()
	assert.False(t, ok)
	assert.Equal(t, errs.KindUniqueConstraintViolation, errs.OfKind(err))
}

func TestUniqueIndex_RejectsDuplicateAcrossTransactions(t *testing.T) {
	f := newFixture(t)
	_, err := f.db.CreateIndex("patient_name", f.patientType, []ids.FieldPosition{nameField}, catalog.IndexKindHash, true)
	require.NoError(t, err)

	txn1 := f.beginTxn(t)
	_, err = txn1.Create(f.patientType, encodePatient("Ada", 30))
	require.NoError(t, err)
	ok, err := txn1.Commit()
	require.NoError(t, err)
	require.True(t, ok)

	txn2 := f.beginTxn(t)
	_, err = txn2.Create(f.patientType, encodePatient("Ada", 99))
	require.NoError(t, err)
	ok, err = txn2.Commit()
	assert.False(t, ok)
	assert.Equal(t, errs.KindUniqueConstraintViolation, errs.OfKind(err))
}

func TestRangeScan_InclusiveExclusiveBounds(t *testing.T) {
	f := newFixture(t)
	indexID, err := f.db.CreateIndex("patient_age", f.patientType, []ids.FieldPosition{ageField}, catalog.IndexKindRange, false)
	require.NoError(t, err)

	txn := f.beginTxn(t)
	for _, age := range []int64{10, 20, 30, 40} {
		_, err := txn.Create(f.patientType, encodePatient("p", age))
		require.NoError(t, err)
	}
	ok, err := txn.Commit()
	require.NoError(t, err)
	require.True(t, ok)

	txn2 := f.beginTxn(t)
	rows, err := txn2.Scan(indexID, scan.Spec{
		Kind:  scan.KindRange,
		Lower: scan.Bound{Key: key.New(holder.FromInt64(20)), HasKey: true, Inclusive: true},
		Upper: scan.Bound{Key: key.New(holder.FromInt64(40)), HasKey: true, Inclusive: false},
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(20), payload.Get(patientSchema(), rows[0].Payload, uint16(ageField)).Int())
	assert.Equal(t, int64(30), payload.Get(patientSchema(), rows[1].Payload, uint16(ageField)).Int())
}

func TestRangeScan_RejectsHashIndex(t *testing.T) {
	f := newFixture(t)
	indexID, err := f.db.CreateIndex("patient_name", f.patientType, []ids.FieldPosition{nameField}, catalog.IndexKindHash, false)
	require.NoError(t, err)

	txn := f.beginTxn(t)
	_, err = txn.Scan(indexID, scan.Spec{Kind: scan.KindRange})
	assert.Equal(t, errs.KindIndexOperationNotSupported, errs.OfKind(err))
}

func TestScan_PopulatesIndexLazilyOnFirstTouch(t *testing.T) {
	f := newFixture(t)

	// Rows exist before the index does.
	txn := f.beginTxn(t)
	_, err := txn.Create(f.patientType, encodePatient("Ada", 30))
	require.NoError(t, err)
	_, err = txn.Create(f.patientType, encodePatient("Bo", 50))
	require.NoError(t, err)
	ok, err := txn.Commit()
	require.NoError(t, err)
	require.True(t, ok)

	indexID, err := f.db.CreateIndex("patient_name", f.patientType, []ids.FieldPosition{nameField}, catalog.IndexKindHash, false)
	require.NoError(t, err)

	txn2 := f.beginTxn(t)
	rows, err := txn2.Scan(indexID, scan.Spec{
		Kind: scan.KindEqualRange,
		Key:  key.New(holder.FromString("Ada")),
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Ada", payload.Get(patientSchema(), rows[0].Payload, uint16(nameField)).Str())
}

func TestTxnConflict_ConcurrentUpdateToSameObjectFailsAtCommit(t *testing.T) {
	f := newFixture(t)

	setup := f.beginTxn(t)
	id, err := setup.Create(f.patientType, encodePatient("Ada", 30))
	require.NoError(t, err)
	ok, err := setup.Commit()
	require.NoError(t, err)
	require.True(t, ok)

	txnA := f.beginTxn(t)
	txnB := f.beginTxn(t)

	require.NoError(t, txnA.UpdatePayload(id, encodePatient("Ada", 31)))
	require.NoError(t, txnB.UpdatePayload(id, encodePatient("Ada", 32)))

	ok, err = txnA.Commit()
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = txnB.Commit()
	assert.False(t, ok)
	assert.Equal(t, errs.KindTxUpdateConflict, errs.OfKind(err))
}

// valueLinkedFixture builds a doctor/patient pair connected by a
// value-linked relationship keyed on a shared clinic id field, distinct
// from fixture's plain "treats" relationship.
type valueLinkedFixture struct {
	db          *Database
	doctorType  ids.TypeID
	patientType ids.TypeID
}

const clinicField ids.FieldPosition = 0

func clinicSchema() payload.Schema {
	return payload.Schema{Fields: []payload.FieldDesc{
		{Name: "clinic_id", Kind: holder.KindInt64, Position: uint16(clinicField), Active: true},
	}}
}

func encodeClinic(id int64) []byte {
	return payload.Encode(clinicSchema(), map[uint16]holder.Holder{uint16(clinicField): holder.FromInt64(id)})
}

func newValueLinkedFixture(t *testing.T) *valueLinkedFixture {
	t.Helper()
	db := New(Options{MaxObjects: 1 << 20, MaxLocators: 1 << 16, MaxLogRecords: 0})

	doctorType, err := db.CreateTable("vlr_doctor", []catalog.Field{
		{Name: "clinic_id", Kind: holder.KindInt64, Position: clinicField, Active: true},
	})
	require.NoError(t, err)
	patientType, err := db.CreateTable("vlr_patient", []catalog.Field{
		{Name: "clinic_id", Kind: holder.KindInt64, Position: clinicField, Active: true},
	})
	require.NoError(t, err)

	require.NoError(t, db.CreateRelationship(catalog.Relationship{
		Name:           "same_clinic",
		ParentType:     doctorType,
		ChildType:      patientType,
		Cardinality:    catalog.CardinalityOne,
		FirstChildSlot: 0,
		ParentSlot:     0,
		NextChildSlot:  1,
		PrevChildSlot:  2,
		IsValueLinked:  true,
		ParentFieldPos: clinicField,
		ChildFieldPos:  clinicField,
	}))

	_, err = db.CreateIndex("doctor_clinic", doctorType, []ids.FieldPosition{clinicField}, catalog.IndexKindHash, false)
	require.NoError(t, err)
	_, err = db.CreateIndex("patient_clinic", patientType, []ids.FieldPosition{clinicField}, catalog.IndexKindHash, false)
	require.NoError(t, err)

	return &valueLinkedFixture{db: db, doctorType: doctorType, patientType: patientType}
}

func (f *valueLinkedFixture) beginTxnVLR(t *testing.T) *Txn {
	t.Helper()
	sess := f.db.BeginSession()
	txn, err := f.db.Begin(sess)
	require.NoError(t, err)
	return txn
}

// Value-linked auto-connect matches against the *committed* index, not a
// transaction's own in-flight writes (pkg/vlr looks up matches through the
// committed index structure directly, unlike a scan which additionally
// merges local deltas). So the parent side of a match must already be
// committed by the time the child side is written.

func TestVLR_ChildConnectsToExistingParentOnCreate(t *testing.T) {
	f := newValueLinkedFixture(t)

	setup := f.beginTxnVLR(t)
	doctor, err := setup.Create(f.doctorType, encodeClinic(7))
	require.NoError(t, err)
	ok, err := setup.Commit()
	require.NoError(t, err)
	require.True(t, ok)

	txn := f.beginTxnVLR(t)
	patient, err := txn.Create(f.patientType, encodeClinic(7))
	require.NoError(t, err)

	children, err := txn.Children(doctor, 0)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, patient, children[0])

	ok, err = txn.Commit()
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVLR_ChildSideReconnectsOnFieldUpdate(t *testing.T) {
	f := newValueLinkedFixture(t)

	setup := f.beginTxnVLR(t)
	doctorA, err := setup.Create(f.doctorType, encodeClinic(1))
	require.NoError(t, err)
	doctorB, err := setup.Create(f.doctorType, encodeClinic(2))
	require.NoError(t, err)
	ok, err := setup.Commit()
	require.NoError(t, err)
	require.True(t, ok)

	txn := f.beginTxnVLR(t)
	patient, err := txn.Create(f.patientType, encodeClinic(1))
	require.NoError(t, err)

	childrenA, err := txn.Children(doctorA, 0)
	require.NoError(t, err)
	require.Len(t, childrenA, 1)

	require.NoError(t, txn.UpdatePayload(patient, encodeClinic(2)))

	childrenA, err = txn.Children(doctorA, 0)
	require.NoError(t, err)
	assert.Empty(t, childrenA)

	childrenB, err := txn.Children(doctorB, 0)
	require.NoError(t, err)
	require.Len(t, childrenB, 1)
	assert.Equal(t, patient, childrenB[0])

	ok, err = txn.Commit()
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSink_ReceivesCommittedRecords(t *testing.T) {
	f := newFixture(t)

	var captured []SinkRecord
	f.db.SetSink(sinkFunc(func(commitTS ids.TxnID, records []SinkRecord) error {
		captured = append(captured, records...)
		return nil
	}))

	txn := f.beginTxn(t)
	_, err := txn.Create(f.patientType, encodePatient("Ada", 30))
	require.NoError(t, err)
	ok, err := txn.Commit()
	require.NoError(t, err)
	require.True(t, ok)

	require.Len(t, captured, 1)
	assert.Equal(t, "Ada", payload.Get(patientSchema(), captured[0].Object.Payload, uint16(nameField)).Str())
}

type sinkFunc func(commitTS ids.TxnID, records []SinkRecord) error

func (f sinkFunc) Accept(commitTS ids.TxnID, records []SinkRecord) error { return f(commitTS, records) }
