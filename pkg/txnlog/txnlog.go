// Package txnlog implements the per-transaction log: an ordered, capped,
// append-only list of log records describing every object write a
// transaction has made. The log is private to its owning session until
// commit, at which point it is sealed (made read-only) and handed to the
// commit manager and index maintenance.
package txnlog

import (
	"sync"

	"github.com/cuemby/corestore/pkg/errs"
	"github.com/cuemby/corestore/pkg/ids"
)

// Op classifies the kind of write a LogRecord describes.
type Op uint8

const (
	// OpCreate: old_offset == 0, new_offset != 0.
	OpCreate Op = iota
	// OpUpdate: both offsets nonzero.
	OpUpdate
	// OpRemove: new_offset == 0.
	OpRemove
	// OpClone: a same-value copy used by reference rewrites (e.g. anchor
	// splices), which must still produce a fresh offset and index entry.
	OpClone
)

func (o Op) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpUpdate:
		return "update"
	case OpRemove:
		return "remove"
	case OpClone:
		return "clone"
	default:
		return "unknown"
	}
}

// LogRecord describes a single object write within a transaction.
type LogRecord struct {
	Locator   ids.Locator
	OldOffset ids.Offset
	NewOffset ids.Offset
	Op        Op
	TxnID     ids.TxnID
}

// Log is a single transaction's append-only record list.
type Log struct {
	mu      sync.Mutex
	txnID   ids.TxnID
	records []LogRecord
	max     int
	sealed  bool
}

// New returns an empty log for txnID, capped at maxRecords entries (0
// means unbounded).
func New(txnID ids.TxnID, maxRecords int) *Log {
	return &Log{txnID: txnID, max: maxRecords}
}

// TxnID returns the owning transaction's id.
func (l *Log) TxnID() ids.TxnID { return l.txnID }

// Append adds a record to the log. Fails with errs.KindOutOfMemory once
// maxRecords entries have been appended, and with errs.KindTxNotOpen-style
// misuse guarded by the caller — Append itself only enforces capacity and
// the seal boundary.
func (l *Log) Append(locator ids.Locator, oldOffset, newOffset ids.Offset, op Op) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.sealed {
		return errs.New(errs.KindTxNotOpen, "cannot append to a sealed transaction log")
	}
	if l.max != 0 && len(l.records) >= l.max {
		return errs.New(errs.KindOutOfMemory, "transaction log exhausted (max %d records)", l.max)
	}

	l.records = append(l.records, LogRecord{
		Locator:   locator,
		OldOffset: oldOffset,
		NewOffset: newOffset,
		Op:        op,
		TxnID:     l.txnID,
	})
	return nil
}

// Seal marks the log read-only and returns its final, ordered record
// list. Calling Seal more than once returns the same snapshot.
func (l *Log) Seal() []LogRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sealed = true
	out := make([]LogRecord, len(l.records))
	copy(out, l.records)
	return out
}

// Peek returns a copy of the records appended so far without sealing the
// log, so commit-time validation (e.g. unique index checks) can inspect
// the prospective record set before the transaction is known to commit.
func (l *Log) Peek() []LogRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]LogRecord, len(l.records))
	copy(out, l.records)
	return out
}

// Sealed reports whether the log has been sealed.
func (l *Log) Sealed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sealed
}

// Len returns the number of records currently appended.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}
