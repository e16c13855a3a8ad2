package engine

import (
	"github.com/cuemby/corestore/pkg/errs"
	"github.com/cuemby/corestore/pkg/ids"
	"github.com/cuemby/corestore/pkg/metrics"
	"github.com/cuemby/corestore/pkg/payload"
	"github.com/cuemby/corestore/pkg/record"
	"github.com/cuemby/corestore/pkg/refgraph"
	"github.com/cuemby/corestore/pkg/scan"
	"github.com/cuemby/corestore/pkg/session"
	"github.com/cuemby/corestore/pkg/txnlog"
	"github.com/cuemby/corestore/pkg/vlr"
)

// Txn is a single transaction's view of a Database: it owns a session
// transaction's snapshot and log, and the reference graph / value-linked
// connector bound to read and write through that view. Every object,
// reference, and scan operation in spec.md §6 is a method of Txn.
type Txn struct {
	db    *Database
	txn   *session.Txn
	store *txnStore
	graph *refgraph.Graph
	conn  *vlr.Connector
}

func newTxn(db *Database, st *session.Txn) *Txn {
	t := &Txn{db: db, txn: st}
	t.store = &txnStore{owner: t}
	t.graph = refgraph.New(db.cat, t.store)
	t.conn = vlr.New(db.cat, t.store, t.graph, db.idx, db.arena)
	return t
}

// Create allocates a new object id and stores a fresh row of typeID with
// the given encoded payload, running value-linked auto-connect for every
// non-null field (spec.md §4.I treats object creation the same as an
// update of every field from null).
func (t *Txn) Create(typeID ids.TypeID, payloadBytes []byte) (ids.ObjectID, error) {
	return t.createWithID(t.db.allocID(), typeID, payloadBytes)
}

// CreateWithID stores a new row of typeID at caller-chosen id. Fails with
// errs.KindDuplicateID if id already names a live object.
func (t *Txn) CreateWithID(id ids.ObjectID, typeID ids.TypeID, payloadBytes []byte) error {
	if _, exists := t.db.locatorOf(id); exists {
		return errs.New(errs.KindDuplicateID, "object %d already exists", id)
	}
	_, err := t.createWithID(id, typeID, payloadBytes)
	return err
}

func (t *Txn) createWithID(id ids.ObjectID, typeID ids.TypeID, payloadBytes []byte) (ids.ObjectID, error) {
	table, err := t.db.cat.Table(typeID)
	if err != nil {
		return 0, err
	}

	loc, err := t.db.locators.Allocate()
	if err != nil {
		return 0, err
	}
	rec := record.Record{
		ID:         id,
		Type:       typeID,
		References: make([]ids.ObjectID, t.db.refSlotCount(typeID)),
		Payload:    payloadBytes,
	}
	off, err := t.db.arena.Append(rec)
	if err != nil {
		return 0, err
	}
	if err := t.txn.RecordWrite(loc, ids.InvalidOffset, off, txnlog.OpCreate); err != nil {
		return 0, err
	}
	t.db.registerID(id, typeID, loc)

	schema := table.Schema()
	baseline := payload.Encode(schema, nil)
	if err := t.runVLR(id, typeID, schema, baseline, payloadBytes); err != nil {
		return 0, err
	}
	return id, nil
}

// UpdatePayload replaces id's stored payload, running value-linked
// auto-connect for every field position the new payload changes.
func (t *Txn) UpdatePayload(id ids.ObjectID, payloadBytes []byte) error {
	loc, ok := t.db.locatorOf(id)
	if !ok {
		return errs.New(errs.KindInvalidObjectID, "object %d not found", id)
	}
	oldOff := t.txn.Snapshot().Get(loc)
	if oldOff == ids.InvalidOffset {
		return errs.New(errs.KindInvalidObjectID, "object %d not found", id)
	}
	oldRec, err := t.db.arena.Get(oldOff)
	if err != nil {
		return err
	}

	newRec := oldRec
	newRec.Payload = payloadBytes
	newOff, err := t.db.arena.Append(newRec)
	if err != nil {
		return err
	}
	if err := t.txn.RecordWrite(loc, oldOff, newOff, txnlog.OpUpdate); err != nil {
		return err
	}

	table, err := t.db.cat.Table(oldRec.Type)
	if err != nil {
		return err
	}
	return t.runVLR(id, oldRec.Type, table.Schema(), oldRec.Payload, payloadBytes)
}

// runVLR triggers parent- and child-side auto-connect for every field
// position that differs between oldPayload and newPayload. Both sides are
// always tried: a relationship's parent and child field positions can
// collide across different relationships, and each Connector method
// already filters to the relationships actually keyed on fieldPos.
func (t *Txn) runVLR(id ids.ObjectID, typeID ids.TypeID, schema payload.Schema, oldPayload, newPayload []byte) error {
	for _, pos := range payload.Diff(schema, oldPayload, newPayload) {
		fieldPos := ids.FieldPosition(pos)
		val := payload.Get(schema, newPayload, pos)
		if err := t.conn.ParentSideAutoConnect(id, typeID, fieldPos, val); err != nil {
			return err
		}
		if err := t.conn.ChildSideAutoConnect(id, typeID, fieldPos, val); err != nil {
			return err
		}
	}
	return nil
}

// Remove deletes id. force detaches any children first instead of failing
// with object_still_referenced (spec.md §4.H).
func (t *Txn) Remove(id ids.ObjectID, force bool) error {
	if err := t.graph.Delete(id, force); err != nil {
		return err
	}
	return t.store.Delete(id, force)
}

// Get returns the current row for id.
func (t *Txn) Get(id ids.ObjectID) (record.Record, error) {
	rec, ok := t.store.Get(id)
	if !ok {
		return record.Record{}, errs.New(errs.KindInvalidObjectID, "object %d not found", id)
	}
	return rec, nil
}

// FindAll returns a Cursor over every live object of typeID currently
// visible to this transaction.
func (t *Txn) FindAll(typeID ids.TypeID) (*Cursor, error) {
	rows, err := t.store.ScanType(typeID)
	if err != nil {
		return nil, err
	}
	return &Cursor{rows: rows}, nil
}

// Cursor is a lazy sequence over a set of rows materialized ahead of time
// but yielded one at a time, matching spec.md §6's find_all contract.
type Cursor struct {
	rows []record.Record
	pos  int
}

// Next returns the next row, or ok=false once the cursor is exhausted.
func (c *Cursor) Next() (record.Record, bool) {
	if c.pos >= len(c.rows) {
		return record.Record{}, false
	}
	r := c.rows[c.pos]
	c.pos++
	return r, true
}

// Scan runs an index scan (spec.md §4.L), lazily populating indexID on its
// first use in this Database.
func (t *Txn) Scan(indexID ids.IndexID, spec scan.Spec) ([]record.Record, error) {
	if err := t.db.ensurePopulated(indexID); err != nil {
		return nil, err
	}
	return t.db.scanner.Run(indexID, spec, t.txn.Snapshot(), t.txn.Log().Peek())
}

// InsertIntoContainer attaches childID to parentID's chain at parentSlot.
func (t *Txn) InsertIntoContainer(parentID, childID ids.ObjectID, parentSlot ids.RefOffset) (bool, error) {
	return t.graph.InsertIntoContainer(parentID, childID, parentSlot)
}

// RemoveFromContainerByParent detaches childID from parentID's chain.
func (t *Txn) RemoveFromContainerByParent(parentID, childID ids.ObjectID, parentSlot ids.RefOffset) (bool, error) {
	return t.graph.RemoveFromContainerByParent(parentID, childID, parentSlot)
}

// RemoveFromContainerByChild detaches childID from whatever chain it
// currently belongs to, addressed by its own anchor slot.
func (t *Txn) RemoveFromContainerByChild(childID ids.ObjectID, childSlot ids.RefOffset) (bool, error) {
	return t.graph.RemoveFromContainerByChild(childID, childSlot)
}

// UpdateParentReference moves childID to newParentID's chain.
func (t *Txn) UpdateParentReference(childID, newParentID ids.ObjectID, parentOffset ids.RefOffset) (bool, error) {
	return t.graph.UpdateParentReference(childID, newParentID, parentOffset)
}

// Children returns parentID's sibling chain at parentSlot in chain order.
func (t *Txn) Children(parentID ids.ObjectID, parentSlot ids.RefOffset) ([]ids.ObjectID, error) {
	return t.graph.Children(parentID, parentSlot)
}

// Commit validates and applies the transaction, then offers the committed
// writes to the installed persistence sink, if any.
func (t *Txn) Commit() (bool, error) {
	ok, err := t.txn.Commit()
	if err != nil || !ok {
		return ok, err
	}
	t.db.notifySink(t.txn.CommitTS(), t.txn.Log().Seal())
	return true, nil
}

// Rollback discards the transaction without applying any of its writes.
func (t *Txn) Rollback() error {
	return t.txn.Rollback()
}

// txnStore implements refgraph.Store and dac.Store against a single
// transaction's snapshot, so every reference-graph and direct-access
// operation sees this transaction's own uncommitted writes layered over
// the committed state, exactly like a plain Get/UpdatePayload call would.
type txnStore struct {
	owner *Txn
}

func (ts *txnStore) resolve(id ids.ObjectID) (ids.Locator, ids.Offset, bool) {
	loc, ok := ts.owner.db.locatorOf(id)
	if !ok {
		return 0, ids.InvalidOffset, false
	}
	off := ts.owner.txn.Snapshot().Get(loc)
	if off == ids.InvalidOffset {
		return loc, ids.InvalidOffset, false
	}
	return loc, off, true
}

// Get implements refgraph.Store.
func (ts *txnStore) Get(id ids.ObjectID) (record.Record, bool) {
	_, off, ok := ts.resolve(id)
	if !ok {
		return record.Record{}, false
	}
	rec, err := ts.owner.db.arena.Get(off)
	if err != nil {
		return record.Record{}, false
	}
	return rec, true
}

// SetReferences implements refgraph.Store: it rewrites id's reference
// array and appends a new record version, logged as OpClone since the
// payload itself is unchanged (matching txnlog.OpClone's documented use
// for reference-only rewrites like anchor splices).
func (ts *txnStore) SetReferences(id ids.ObjectID, updates map[ids.RefOffset]ids.ObjectID) error {
	loc, off, ok := ts.resolve(id)
	if !ok {
		return errs.New(errs.KindInvalidObjectID, "object %d not found", id)
	}
	rec, err := ts.owner.db.arena.Get(off)
	if err != nil {
		return err
	}

	refs := append([]ids.ObjectID(nil), rec.References...)
	for slot, target := range updates {
		for int(slot) >= len(refs) {
			refs = append(refs, ids.InvalidObjectID)
		}
		refs[slot] = target
	}
	newRec := rec
	newRec.References = refs

	newOff, err := ts.owner.db.arena.Append(newRec)
	if err != nil {
		return err
	}
	return ts.owner.txn.RecordWrite(loc, off, newOff, txnlog.OpClone)
}

// CreateAnchor implements refgraph.Store, materializing a synthetic
// two-slot object under the reserved anchor type id.
func (ts *txnStore) CreateAnchor(parentID, firstChildID ids.ObjectID) (ids.ObjectID, error) {
	id := ts.owner.db.allocID()
	loc, err := ts.owner.db.locators.Allocate()
	if err != nil {
		return 0, err
	}
	rec := record.Record{
		ID:         id,
		Type:       anchorTypeID,
		References: []ids.ObjectID{parentID, firstChildID},
	}
	off, err := ts.owner.db.arena.Append(rec)
	if err != nil {
		return 0, err
	}
	if err := ts.owner.txn.RecordWrite(loc, ids.InvalidOffset, off, txnlog.OpCreate); err != nil {
		return 0, err
	}
	ts.owner.db.registerID(id, anchorTypeID, loc)
	return id, nil
}

// DeleteAnchor implements refgraph.Store.
func (ts *txnStore) DeleteAnchor(id ids.ObjectID) error {
	loc, off, ok := ts.resolve(id)
	if !ok {
		return nil
	}
	if err := ts.owner.txn.RecordWrite(loc, off, ids.InvalidOffset, txnlog.OpRemove); err != nil {
		return err
	}
	metrics.ObjectsLive.WithLabelValues(labelType(anchorTypeID)).Dec()
	return nil
}

// Insert implements dac.Store by delegating to the owning transaction's
// Create, so the direct-access facade and the plain object API share one
// code path for VLR triggering and id registration.
func (ts *txnStore) Insert(typeID ids.TypeID, p []byte) (ids.ObjectID, error) {
	return ts.owner.Create(typeID, p)
}

// Update implements dac.Store.
func (ts *txnStore) Update(id ids.ObjectID, p []byte) error {
	return ts.owner.UpdatePayload(id, p)
}

// Delete implements both refgraph-adjacent cleanup and dac.Store: it
// removes the row itself. Referential-integrity enforcement and anchor
// detachment already happened in the caller's graph.Delete step (Txn.Remove,
// dac.Object.Delete), so this only needs to retire the row.
func (ts *txnStore) Delete(id ids.ObjectID, force bool) error {
	loc, off, ok := ts.resolve(id)
	if !ok {
		return errs.New(errs.KindInvalidObjectID, "object %d not found", id)
	}
	rec, err := ts.owner.db.arena.Get(off)
	if err != nil {
		return err
	}
	if err := ts.owner.txn.RecordWrite(loc, off, ids.InvalidOffset, txnlog.OpRemove); err != nil {
		return err
	}
	metrics.ObjectsLive.WithLabelValues(labelType(rec.Type)).Dec()
	return nil
}

// ScanType implements dac.Store, resolving every registered id of typeID
// through this transaction's own snapshot so in-flight writes are visible.
func (ts *txnStore) ScanType(typeID ids.TypeID) ([]record.Record, error) {
	var out []record.Record
	for _, id := range ts.owner.db.membersOf(typeID) {
		_, off, ok := ts.resolve(id)
		if !ok {
			continue
		}
		rec, err := ts.owner.db.arena.Get(off)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}
