// Package indexmaint builds per-transaction index deltas from a sealed
// transaction log and merges them into the committed indexes at commit.
// A Registry implements pkg/session's Integrator interface: Validate runs
// before the transaction's writes become visible (so a unique-index
// collision rolls back the whole transaction, per spec.md §8 scenario 1),
// and OnCommit performs the actual merge once the transaction is known to
// have committed.
package indexmaint

import (
	"fmt"
	"sync"

	"github.com/cuemby/corestore/pkg/catalog"
	"github.com/cuemby/corestore/pkg/errs"
	"github.com/cuemby/corestore/pkg/holder"
	"github.com/cuemby/corestore/pkg/ids"
	"github.com/cuemby/corestore/pkg/index"
	"github.com/cuemby/corestore/pkg/key"
	"github.com/cuemby/corestore/pkg/log"
	"github.com/cuemby/corestore/pkg/metrics"
	"github.com/cuemby/corestore/pkg/payload"
	"github.com/cuemby/corestore/pkg/record"
	"github.com/cuemby/corestore/pkg/txnlog"
)

// Arena resolves an arena offset to the record stored there; satisfied
// by *record.Arena.
type Arena interface {
	Get(offset ids.Offset) (record.Record, error)
}

// LiveObject is one row Populate indexes: its current locator, the
// offset its record lives at, and the decoded record itself.
type LiveObject struct {
	Locator ids.Locator
	Offset  ids.Offset
	Record  record.Record
}

// Delta is one key-level index operation a transaction's log implies:
// either an insert of key->(locator,offset) or a removal of key at
// locator. Exported so pkg/scan can merge a transaction's own in-flight
// writes into a committed index scan via Deltas.
type Delta struct {
	IndexID ids.IndexID
	Key     key.Key
	Locator ids.Locator
	Offset  ids.Offset
	Remove  bool
}

// Registry owns every committed Index and derives the deltas a
// transaction's log implies for them.
type Registry struct {
	cat   *catalog.Catalog
	arena Arena

	mu      sync.RWMutex
	indexes map[ids.IndexID]index.Index
}

// NewRegistry returns an empty Registry bound to cat and arena.
func NewRegistry(cat *catalog.Catalog, arena Arena) *Registry {
	return &Registry{cat: cat, arena: arena, indexes: make(map[ids.IndexID]index.Index)}
}

// CreateIndex registers a new index in the catalog and allocates its
// backing structure.
func (r *Registry) CreateIndex(name string, typeID ids.TypeID, fields []ids.FieldPosition, kind catalog.IndexKind, unique bool) (ids.IndexID, error) {
	id, err := r.cat.CreateIndex(name, typeID, fields, kind, unique)
	if err != nil {
		return 0, err
	}
	idx, err := index.NewIndex(id, kind, unique)
	if err != nil {
		return 0, err
	}
	r.mu.Lock()
	r.indexes[id] = idx
	r.mu.Unlock()
	return id, nil
}

// Index resolves indexID to its backing structure.
func (r *Registry) Index(indexID ids.IndexID) (index.Index, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, ok := r.indexes[indexID]
	if !ok {
		return nil, errs.New(errs.KindIndexNotFound, "index %d not found", indexID)
	}
	return idx, nil
}

func (r *Registry) buildKey(schema payload.Schema, rec record.Record, fields []ids.FieldPosition) key.Key {
	values := make([]holder.Holder, len(fields))
	for i, pos := range fields {
		values[i] = payload.Get(schema, rec.Payload, uint16(pos))
	}
	return key.New(values...)
}

// Populate rebuilds indexID from scratch given every live row of its
// table, as observed by the caller's object store. Used when a scan
// first touches an index created after objects already existed.
func (r *Registry) Populate(indexID ids.IndexID, objects []LiveObject) error {
	idx, err := r.Index(indexID)
	if err != nil {
		return err
	}
	meta, err := r.cat.Index(indexID)
	if err != nil {
		return err
	}
	table, err := r.cat.Table(meta.TypeID)
	if err != nil {
		return err
	}

	timer := metrics.NewTimer()
	schema := table.Schema()
	idx.Clear()
	for _, obj := range objects {
		k := r.buildKey(schema, obj.Record, meta.Fields)
		idx.Insert(k, index.Entry{Locator: obj.Locator, Offset: obj.Offset})
	}
	timer.ObserveDurationVec(metrics.IndexPopulateDuration, label(indexID))
	return nil
}

// buildDeltas derives, for every index declared on an affected table, the
// key-level insert/remove operations a transaction's log records imply.
func (r *Registry) buildDeltas(records []txnlog.LogRecord) ([]Delta, error) {
	var out []Delta
	for _, lr := range records {
		var oldRec, newRec record.Record
		var haveOld, haveNew bool

		if lr.OldOffset != ids.InvalidOffset {
			rec, err := r.arena.Get(lr.OldOffset)
			if err != nil {
				return nil, err
			}
			oldRec, haveOld = rec, true
		}
		if lr.NewOffset != ids.InvalidOffset {
			rec, err := r.arena.Get(lr.NewOffset)
			if err != nil {
				return nil, err
			}
			newRec, haveNew = rec, true
		}
		if !haveOld && !haveNew {
			continue
		}

		typeID := newRec.Type
		if !haveNew {
			typeID = oldRec.Type
		}
		idxs := r.cat.ListIndexes(typeID)
		if len(idxs) == 0 {
			continue
		}
		table, err := r.cat.Table(typeID)
		if err != nil {
			return nil, err
		}
		schema := table.Schema()

		for _, idx := range idxs {
			if haveOld {
				out = append(out, Delta{
					IndexID: idx.ID,
					Key:     r.buildKey(schema, oldRec, idx.Fields),
					Locator: lr.Locator,
					Offset:  lr.OldOffset,
					Remove:  true,
				})
			}
			if haveNew {
				out = append(out, Delta{
					IndexID: idx.ID,
					Key:     r.buildKey(schema, newRec, idx.Fields),
					Locator: lr.Locator,
					Offset:  lr.NewOffset,
				})
			}
		}
	}
	return out, nil
}

// Validate implements session.Integrator. It checks every insert this
// transaction would make into a unique index against both the already
// committed index and the rest of this transaction's own batch, so a
// same-transaction duplicate (spec.md §8 scenario 1) and a cross-
// transaction duplicate (scenario 2) both fail the same way.
func (r *Registry) Validate(records []txnlog.LogRecord) error {
	deltas, err := r.buildDeltas(records)
	if err != nil {
		return err
	}

	type seenKey struct {
		key     key.Key
		locator ids.Locator
	}
	batch := make(map[ids.IndexID][]seenKey)

	for _, d := range deltas {
		if d.Remove {
			continue
		}
		idx, err := r.Index(d.IndexID)
		if err != nil {
			return err
		}
		if !idx.IsUnique() {
			continue
		}
		for _, e := range idx.Find(d.Key) {
			if e.Locator != d.Locator {
				metrics.ReferenceIntegrityViolations.WithLabelValues(errs.KindUniqueConstraintViolation.String()).Inc()
				return errs.New(errs.KindUniqueConstraintViolation, "index %d already has an entry for this key", d.IndexID)
			}
		}
		for _, s := range batch[d.IndexID] {
			if s.locator != d.Locator && s.key.Equal(d.Key) {
				metrics.ReferenceIntegrityViolations.WithLabelValues(errs.KindUniqueConstraintViolation.String()).Inc()
				return errs.New(errs.KindUniqueConstraintViolation, "index %d has two rows with the same key in this transaction", d.IndexID)
			}
		}
		batch[d.IndexID] = append(batch[d.IndexID], seenKey{key: d.Key, locator: d.Locator})
	}
	return nil
}

// Deltas derives the per-index key-level insert/remove operations that
// records (typically a transaction's own in-flight log, via Log.Peek)
// implies, without touching any committed index. Used by pkg/scan to
// merge a transaction's own writes into an otherwise-committed index
// scan so a session sees its own uncommitted changes.
func (r *Registry) Deltas(records []txnlog.LogRecord) ([]Delta, error) {
	return r.buildDeltas(records)
}

// OnCommit implements session.Integrator, merging the transaction's
// key-level deltas into each affected committed index.
func (r *Registry) OnCommit(commitTS ids.TxnID, records []txnlog.LogRecord) {
	deltas, err := r.buildDeltas(records)
	if err != nil {
		log.WithComponent("indexmaint").Error().Err(err).Uint64("commit_ts", uint64(commitTS)).
			Msg("failed to rebuild index deltas at commit; affected indexes may be stale")
		return
	}
	for _, d := range deltas {
		idx, err := r.Index(d.IndexID)
		if err != nil {
			continue
		}
		if d.Remove {
			idx.Remove(d.Key, d.Locator)
		} else {
			idx.Insert(d.Key, index.Entry{Locator: d.Locator, Offset: d.Offset})
		}
	}
}

func label(id ids.IndexID) string {
	return fmt.Sprintf("%d", id)
}
