package engine

import (
	"github.com/cuemby/corestore/pkg/errs"
	"github.com/cuemby/corestore/pkg/ids"
	"github.com/cuemby/corestore/pkg/metrics"
	"github.com/cuemby/corestore/pkg/record"
	"github.com/cuemby/corestore/pkg/txnlog"
)

// Restore re-applies one already-committed write recovered from a
// persistence sink, preserving the write's original id, type, references,
// and payload exactly as sealed, instead of running it through Create/
// UpdatePayload/Remove. Those run value-linked auto-connect and derive a
// fresh reference-slot count; a restored write must not re-trigger either,
// since the original commit already did and the persisted references are
// its outcome, not its input.
//
// Restore opens and commits its own single-write transaction directly
// against the session manager, bypassing Txn.Commit so a sink replaying
// into this same db is never handed its own output to persist again.
func (db *Database) Restore(rec record.Record, op txnlog.Op) error {
	sess := db.BeginSession()
	defer sess.End()
	st, err := sess.BeginTxn()
	if err != nil {
		return err
	}

	switch op {
	case txnlog.OpCreate:
		loc, err := db.locators.Allocate()
		if err != nil {
			return err
		}
		off, err := db.arena.Append(rec)
		if err != nil {
			return err
		}
		if err := st.RecordWrite(loc, ids.InvalidOffset, off, txnlog.OpCreate); err != nil {
			return err
		}
		db.registerID(rec.ID, rec.Type, loc)

	case txnlog.OpUpdate, txnlog.OpClone:
		loc, ok := db.locatorOf(rec.ID)
		if !ok {
			return errs.New(errs.KindInvalidObjectID, "replay: object %d not found for %s", rec.ID, op)
		}
		oldOff := st.Snapshot().Get(loc)
		newOff, err := db.arena.Append(rec)
		if err != nil {
			return err
		}
		if err := st.RecordWrite(loc, oldOff, newOff, op); err != nil {
			return err
		}

	case txnlog.OpRemove:
		loc, ok := db.locatorOf(rec.ID)
		if !ok {
			return errs.New(errs.KindInvalidObjectID, "replay: object %d not found for remove", rec.ID)
		}
		oldOff := st.Snapshot().Get(loc)
		if err := st.RecordWrite(loc, oldOff, ids.InvalidOffset, txnlog.OpRemove); err != nil {
			return err
		}
		metrics.ObjectsLive.WithLabelValues(labelType(rec.Type)).Dec()

	default:
		return errs.New(errs.KindInvalidSchema, "replay: unrecognized op %v", op)
	}

	ok, err := st.Commit()
	if err != nil {
		return err
	}
	if !ok {
		return errs.New(errs.KindTxUpdateConflict, "replay: commit failed for object %d", rec.ID)
	}
	return nil
}
