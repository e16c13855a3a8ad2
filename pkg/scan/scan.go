// Package scan implements the index-scan query operator: point, equal-
// range, and bounded range iteration over a secondary index, merging the
// already-committed index with the scanning transaction's own in-flight
// writes so a session observes its own uncommitted changes.
package scan

import (
	"github.com/cuemby/corestore/pkg/catalog"
	"github.com/cuemby/corestore/pkg/errs"
	"github.com/cuemby/corestore/pkg/holder"
	"github.com/cuemby/corestore/pkg/ids"
	"github.com/cuemby/corestore/pkg/index"
	"github.com/cuemby/corestore/pkg/indexmaint"
	"github.com/cuemby/corestore/pkg/key"
	"github.com/cuemby/corestore/pkg/metrics"
	"github.com/cuemby/corestore/pkg/payload"
	"github.com/cuemby/corestore/pkg/record"
	"github.com/cuemby/corestore/pkg/txnlog"
)

// Kind selects the predicate shape a scan runs with.
type Kind int

const (
	// KindNone is a full, unpredicated scan of the index.
	KindNone Kind = iota
	// KindPointRead returns at most one row; an implicit limit of 1.
	KindPointRead
	// KindEqualRange returns every row whose key equals Spec.Key.
	KindEqualRange
	// KindRange returns rows between Spec.Lower and Spec.Upper. Only a
	// range-kind index supports this; a hash index fails with
	// errs.KindIndexOperationNotSupported.
	KindRange
)

func (k Kind) label() string {
	switch k {
	case KindPointRead:
		return "point_read"
	case KindEqualRange:
		return "equal_range"
	case KindRange:
		return "range"
	default:
		return "none"
	}
}

// Bound is one side of a range scan: an optional key and whether it is
// inclusive. A zero-value Bound (HasKey false) means unbounded on that
// side.
type Bound struct {
	Key       key.Key
	HasKey    bool
	Inclusive bool
}

// Filter is an additional per-row predicate evaluated after index-level
// and visibility filtering, e.g. the expression algebra's evaluator.
type Filter func(record.Record) bool

// Spec describes one scan: the predicate shape, its bound(s), an optional
// additional Filter, and an optional row Limit (0 means unlimited, except
// KindPointRead which always behaves as limit 1).
type Spec struct {
	Kind   Kind
	Key    key.Key // KindPointRead, KindEqualRange
	Lower  Bound   // KindRange
	Upper  Bound   // KindRange
	Limit  int
	Filter Filter
}

// Snapshot resolves the offset a locator currently names from the
// scanning transaction's point of view; satisfied by *locator.Snapshot.
type Snapshot interface {
	Get(l ids.Locator) ids.Offset
}

// Arena resolves an arena offset to the record stored there; satisfied by
// *record.Arena.
type Arena interface {
	Get(offset ids.Offset) (record.Record, error)
}

// Indexes resolves an index id to its backing structure; satisfied by
// *indexmaint.Registry.
type Indexes interface {
	Index(indexID ids.IndexID) (index.Index, error)
}

// Deltas derives a transaction's own in-flight key-level index operations;
// satisfied by *indexmaint.Registry.
type Deltas interface {
	Deltas(records []txnlog.LogRecord) ([]indexmaint.Delta, error)
}

// Scanner runs scans against a catalog of index metadata, the committed
// indexes, and the deltas a transaction's own log implies.
type Scanner struct {
	cat    *catalog.Catalog
	idx    Indexes
	deltas Deltas
	arena  Arena
}

// New returns a Scanner bound to cat, idx, deltas, and arena.
func New(cat *catalog.Catalog, idx Indexes, deltas Deltas, arena Arena) *Scanner {
	return &Scanner{cat: cat, idx: idx, deltas: deltas, arena: arena}
}

// Run executes spec against indexID, merging the committed index with
// localLog (the scanning transaction's own log, typically via
// session.Txn.Log().Peek()) and resolving visibility through snap (the
// transaction's locator snapshot). Results are returned in index order
// for a range index; order is unspecified for a hash index.
func (s *Scanner) Run(indexID ids.IndexID, spec Spec, snap Snapshot, localLog []txnlog.LogRecord) ([]record.Record, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.ScanDuration, labelID(indexID), spec.Kind.label())

	idxObj, err := s.idx.Index(indexID)
	if err != nil {
		return nil, err
	}

	var committed []index.Entry
	switch spec.Kind {
	case KindNone:
		committed = idxObj.All()
	case KindPointRead, KindEqualRange:
		committed = idxObj.Find(spec.Key)
	case KindRange:
		ri, ok := idxObj.(*index.RangeIndex)
		if !ok || idxObj.Kind() == catalog.IndexKindHash {
			return nil, errs.New(errs.KindIndexOperationNotSupported, "range scan requires a range index, index %d is %v", indexID, idxObj.Kind())
		}
		var lowerPtr, upperPtr *key.Key
		if spec.Lower.HasKey {
			lowerPtr = &spec.Lower.Key
		}
		if spec.Upper.HasKey {
			upperPtr = &spec.Upper.Key
		}
		committed = ri.Range(lowerPtr, upperPtr, spec.Lower.Inclusive, spec.Upper.Inclusive)
	default:
		return nil, errs.New(errs.KindInvalidPredicate, "unknown scan predicate kind %d", spec.Kind)
	}

	localDeltas, err := s.deltas.Deltas(localLog)
	if err != nil {
		return nil, err
	}

	candidates := append([]index.Entry(nil), committed...)
	for _, d := range localDeltas {
		if d.IndexID != indexID || d.Remove || !matches(spec, d.Key) {
			continue
		}
		candidates = append(candidates, index.Entry{Locator: d.Locator, Offset: d.Offset})
	}

	limit := spec.Limit
	if spec.Kind == KindPointRead {
		limit = 1
	}

	seen := make(map[ids.Locator]bool)
	var out []record.Record
	for _, e := range candidates {
		if limit > 0 && len(out) >= limit {
			break
		}
		if seen[e.Locator] {
			continue
		}
		if snap.Get(e.Locator) != e.Offset {
			continue // superseded by a later write in this snapshot, or removed
		}
		rec, err := s.arena.Get(e.Offset)
		if err != nil {
			return nil, err
		}
		if spec.Filter != nil && !spec.Filter(rec) {
			continue
		}
		seen[e.Locator] = true
		out = append(out, rec)
		metrics.ScanRowsYielded.WithLabelValues(labelID(indexID), spec.Kind.label()).Inc()
	}

	if idxObj.Kind() == catalog.IndexKindRange && len(out) > 1 {
		s.sortByIndexKey(indexID, out)
	}
	return out, nil
}

// matches reports whether k would satisfy spec's predicate, used to admit
// a local (uncommitted) delta into the merge the same way the committed
// index's own Find/Range call already restricted its results.
func matches(spec Spec, k key.Key) bool {
	switch spec.Kind {
	case KindNone:
		return true
	case KindPointRead, KindEqualRange:
		return k.Equal(spec.Key)
	case KindRange:
		if spec.Lower.HasKey {
			c := k.Compare(spec.Lower.Key)
			if c < 0 || (c == 0 && !spec.Lower.Inclusive) {
				return false
			}
		}
		if spec.Upper.HasKey {
			c := k.Compare(spec.Upper.Key)
			if c > 0 || (c == 0 && !spec.Upper.Inclusive) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// sortByIndexKey orders rows by the value(s) indexID is keyed on, so a
// range index scan's local writes (appended after the committed, already-
// ordered entries) don't leave the merged result out of order.
func (s *Scanner) sortByIndexKey(indexID ids.IndexID, rows []record.Record) {
	meta, err := s.cat.Index(indexID)
	if err != nil {
		return
	}
	table, err := s.cat.Table(meta.TypeID)
	if err != nil {
		return
	}
	schema := table.Schema()
	keyOf := func(r record.Record) key.Key {
		values := make([]holder.Holder, len(meta.Fields))
		for i, pos := range meta.Fields {
			values[i] = payload.Get(schema, r.Payload, uint16(pos))
		}
		return key.New(values...)
	}
	for i := 1; i < len(rows); i++ {
		for j := i; j > 0 && keyOf(rows[j-1]).Compare(keyOf(rows[j])) > 0; j-- {
			rows[j-1], rows[j] = rows[j], rows[j-1]
		}
	}
}

func labelID(id ids.IndexID) string {
	return strconvUint(uint64(id))
}

func strconvUint(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
