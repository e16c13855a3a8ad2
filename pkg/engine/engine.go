// Package engine wires every storage-engine component into a single live
// object store: the catalog, locator table, object arena, reference graph,
// value-linked connector, index registry, and scan operator. It is the
// engine's external API surface (spec.md §6): callers open a session,
// begin a transaction against a Database, and drive object, reference, and
// index operations through the returned Txn.
package engine

import (
	"sync"
	"sync/atomic"

	"github.com/cuemby/corestore/pkg/catalog"
	"github.com/cuemby/corestore/pkg/ids"
	"github.com/cuemby/corestore/pkg/indexmaint"
	"github.com/cuemby/corestore/pkg/locator"
	"github.com/cuemby/corestore/pkg/log"
	"github.com/cuemby/corestore/pkg/metrics"
	"github.com/cuemby/corestore/pkg/record"
	"github.com/cuemby/corestore/pkg/scan"
	"github.com/cuemby/corestore/pkg/session"
	"github.com/cuemby/corestore/pkg/txnlog"
)

// anchorTypeID marks the synthetic relationship-anchor objects refgraph
// materializes. catalog.Catalog allocates real table type ids starting at
// 1, so 0 can never collide with a caller's table.
const anchorTypeID ids.TypeID = 0

// Options configures a Database's fixed resource caps, matching the five
// recognized configuration options of spec.md §6 that bound the engine
// itself (data_directory and log_level are consumed by the persistence
// sink and logging setup, not the engine).
type Options struct {
	MaxObjects    uint64
	MaxLocators   uint32
	MaxLogRecords int
}

// Database owns every shared, process-wide piece of engine state: the
// catalog, the committed locator table, the object arena, the index
// registry, the scan operator, and the session manager. A Database has no
// notion of "the current transaction" itself — callers obtain a *Txn from
// BeginSession/Begin and operate through it.
type Database struct {
	cat      *catalog.Catalog
	locators *locator.Table
	arena    *record.Arena
	idx      *indexmaint.Registry
	scanner  *scan.Scanner
	sessions *session.Manager

	mu        sync.RWMutex
	sink      Sink
	byID      map[ids.ObjectID]ids.Locator
	byType    map[ids.TypeID][]ids.ObjectID
	populated map[ids.IndexID]bool

	nextID uint64 // atomic; ids.ObjectID counter, never reused
}

// New returns a Database ready to accept sessions, with an empty catalog.
func New(opts Options) *Database {
	cat := catalog.New()
	locators := locator.New(opts.MaxLocators)
	arena := record.NewArena(opts.MaxObjects)
	idxReg := indexmaint.NewRegistry(cat, arena)
	scanner := scan.New(cat, idxReg, idxReg, arena)
	sessions := session.NewManager(locators, opts.MaxLogRecords)
	sessions.SetIntegrator(idxReg)

	db := &Database{
		cat:       cat,
		locators:  locators,
		arena:     arena,
		idx:       idxReg,
		scanner:   scanner,
		sessions:  sessions,
		byID:      make(map[ids.ObjectID]ids.Locator),
		byType:    make(map[ids.TypeID][]ids.ObjectID),
		populated: make(map[ids.IndexID]bool),
	}
	log.WithComponent("engine").Info().
		Uint64("max_objects", opts.MaxObjects).Uint32("max_locators", opts.MaxLocators).
		Msg("database opened")
	return db
}

// SetSink installs the optional persistence sink driven from the commit
// path (spec.md §6). Passing nil disables persistence; the engine then
// behaves exactly as an in-memory-only store.
func (db *Database) SetSink(s Sink) {
	db.mu.Lock()
	db.sink = s
	db.mu.Unlock()
}

// Catalog returns the database's table/field/relationship/index metadata
// store, for read-only catalog accessors (spec.md §4.C).
func (db *Database) Catalog() *catalog.Catalog { return db.cat }

// CreateTable registers a new table. DDL is not itself transactional
// (catalog mutations take effect immediately under the catalog's own
// lock, per pkg/catalog's design), matching spec.md's framing of DDL as a
// catalog-level operation distinct from row-level object writes.
func (db *Database) CreateTable(name string, fields []catalog.Field) (ids.TypeID, error) {
	return db.cat.CreateTable(name, false, fields)
}

// CreateRelationship registers a parent/child relationship between two
// already-created tables.
func (db *Database) CreateRelationship(rel catalog.Relationship) error {
	return db.cat.CreateRelationship(rel)
}

// CreateIndex registers a secondary index over a table. The index starts
// empty; it is populated from existing rows lazily, the first time a scan
// touches it (spec.md §4.L step 1), so creating an index over a table that
// already has rows never blocks on a bulk rebuild here.
func (db *Database) CreateIndex(name string, typeID ids.TypeID, fields []ids.FieldPosition, kind catalog.IndexKind, unique bool) (ids.IndexID, error) {
	return db.idx.CreateIndex(name, typeID, fields, kind, unique)
}

// BeginSession opens a new session handle on this database.
func (db *Database) BeginSession() *session.Session {
	return db.sessions.BeginSession()
}

// Begin starts a transaction on sess and returns a Txn bound to this
// database's shared state, ready to run object, reference, and scan
// operations.
func (db *Database) Begin(sess *session.Session) (*Txn, error) {
	st, err := sess.BeginTxn()
	if err != nil {
		return nil, err
	}
	return newTxn(db, st), nil
}

func (db *Database) allocID() ids.ObjectID {
	return ids.ObjectID(atomic.AddUint64(&db.nextID, 1))
}

// registerID publishes a freshly allocated (id, locator) pair and records
// typeID's membership for later full-table scans (FindAll, container<T>)
// and index population. Publication happens unconditionally at creation,
// not at commit: a concurrent transaction resolving this id through its
// own snapshot still sees no offset for the locator until the creating
// transaction actually commits, so nothing becomes prematurely visible.
func (db *Database) registerID(id ids.ObjectID, typeID ids.TypeID, loc ids.Locator) {
	db.mu.Lock()
	db.byID[id] = loc
	db.byType[typeID] = append(db.byType[typeID], id)
	db.mu.Unlock()
	metrics.LocatorsAllocated.Inc()
	metrics.ObjectsLive.WithLabelValues(labelType(typeID)).Inc()
}

func (db *Database) locatorOf(id ids.ObjectID) (ids.Locator, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	l, ok := db.byID[id]
	return l, ok
}

func (db *Database) membersOf(typeID ids.TypeID) []ids.ObjectID {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return append([]ids.ObjectID(nil), db.byType[typeID]...)
}

// ensurePopulated runs populate_index (spec.md §4.L step 1) the first time
// any scan touches indexID, rebuilding it from every object of its table
// that is currently committed. Populated once per index for the life of
// the Database: every commit after that point keeps the index current
// through indexmaint.Registry.OnCommit, so a second rebuild is never
// needed unless the index itself is dropped and recreated.
func (db *Database) ensurePopulated(indexID ids.IndexID) error {
	db.mu.Lock()
	if db.populated[indexID] {
		db.mu.Unlock()
		return nil
	}
	db.populated[indexID] = true
	db.mu.Unlock()

	meta, err := db.cat.Index(indexID)
	if err != nil {
		return err
	}

	objects := make([]indexmaint.LiveObject, 0)
	for _, id := range db.membersOf(meta.TypeID) {
		loc, ok := db.locatorOf(id)
		if !ok {
			continue
		}
		off := db.locators.CommittedOffset(loc)
		if off == ids.InvalidOffset {
			continue
		}
		rec, err := db.arena.Get(off)
		if err != nil {
			return err
		}
		objects = append(objects, indexmaint.LiveObject{Locator: loc, Offset: off, Record: rec})
	}
	return db.idx.Populate(indexID, objects)
}

// PopulateIndex forces indexID's lazy rebuild (spec.md §4.L step 1) to run
// now instead of waiting for the first scan that touches it. Exported for
// the admin CLI's inspect command, which needs an index's true committed
// entry count even when nothing has scanned it yet this process.
func (db *Database) PopulateIndex(indexID ids.IndexID) error {
	return db.ensurePopulated(indexID)
}

// IndexLen reports the number of (key, entry) pairs indexID currently
// holds. Callers that need a freshly opened database's true count should
// call PopulateIndex first.
func (db *Database) IndexLen(indexID ids.IndexID) (int, error) {
	idx, err := db.idx.Index(indexID)
	if err != nil {
		return 0, err
	}
	return idx.Len(), nil
}

// notifySink resolves a committed transaction's sealed log into logical
// records and hands them to the installed sink, if any. A sink failure is
// logged and swallowed: the transaction has already committed in memory,
// and persistence is an optional side effect of that commit, not a
// precondition for it.
func (db *Database) notifySink(commitTS ids.TxnID, logRecords []txnlog.LogRecord) {
	db.mu.RLock()
	sink := db.sink
	db.mu.RUnlock()
	if sink == nil {
		return
	}

	out := make([]SinkRecord, 0, len(logRecords))
	for _, lr := range logRecords {
		sr := SinkRecord{Locator: lr.Locator, Op: lr.Op}
		if lr.NewOffset != ids.InvalidOffset {
			rec, err := db.arena.Get(lr.NewOffset)
			if err != nil {
				log.WithComponent("engine").Error().Err(err).Msg("failed to resolve committed record for sink")
				continue
			}
			sr.Object = rec
		}
		out = append(out, sr)
	}
	if err := sink.Accept(commitTS, out); err != nil {
		log.WithComponent("engine").Error().Err(err).Uint64("commit_ts", uint64(commitTS)).
			Msg("persistence sink rejected committed transaction")
	}
}

// refSlotCount returns how many reference slots a newly created object of
// typeID needs: one past the highest slot index any relationship assigns
// it, whether typeID is the parent or the child side. A type with no
// relationships at all gets zero slots.
func (db *Database) refSlotCount(typeID ids.TypeID) int {
	max := -1
	for _, rel := range db.cat.ListRelationshipsFrom(typeID) {
		if int(rel.FirstChildSlot) > max {
			max = int(rel.FirstChildSlot)
		}
	}
	for _, rel := range db.cat.ListRelationshipsTo(typeID) {
		for _, slot := range []ids.RefOffset{rel.ParentSlot, rel.NextChildSlot, rel.PrevChildSlot} {
			if int(slot) > max {
				max = int(slot)
			}
		}
	}
	return max + 1
}

func labelType(typeID ids.TypeID) string {
	return itoa(uint64(typeID))
}

// itoa avoids importing strconv's full surface for a single call site,
// matching the tiny unexported helper of the same shape already used by
// pkg/index and pkg/scan.
func itoa(v uint64) string {
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
