// Package session implements session and transaction lifecycle: begin and
// end a session, begin/commit/rollback a transaction, commit-time
// validation against the committed locator mapping, and the lifecycle
// hooks a caller may install on transaction state transitions.
//
// Unlike the source this engine is modeled on, a Session here is an
// explicit Go value the caller holds and passes around, not an implicit
// per-OS-thread singleton: session_exists (attempting to open a second
// session on a thread that already has one) has no equivalent failure
// mode once the handle is explicit, so that error is never raised here;
// operating on an already-ended session fails with no_session_active.
package session

import (
	"sync"
	"sync/atomic"

	"github.com/cuemby/corestore/pkg/errs"
	"github.com/cuemby/corestore/pkg/ids"
	"github.com/cuemby/corestore/pkg/locator"
	"github.com/cuemby/corestore/pkg/log"
	"github.com/cuemby/corestore/pkg/metrics"
	"github.com/cuemby/corestore/pkg/txnlog"
)

// Integrator lets index maintenance participate in the commit protocol.
// Implemented by pkg/indexmaint's Registry; kept as an
// interface here so pkg/session never imports pkg/indexmaint.
type Integrator interface {
	// Validate runs before the locator table is updated, so a
	// constraint violation (e.g. a unique index collision) aborts the
	// whole transaction exactly like a locator conflict: nothing the
	// transaction wrote becomes visible.
	Validate(records []txnlog.LogRecord) error
	// OnCommit merges the transaction's index deltas into the committed
	// indexes, called after the locator table has been updated and the
	// log sealed.
	OnCommit(commitTS ids.TxnID, records []txnlog.LogRecord)
}

// Hook is a caller-supplied callback run on a transaction state
// transition. Hooks must never panic; any panic is recovered, logged, and
// swallowed, per the engine's error-handling policy.
type Hook func(txnID ids.TxnID)

// Manager owns the process-wide committed locator mapping, the monotonic
// transaction timestamp counter, and the single exclusive commit lock.
type Manager struct {
	locators *locator.Table

	commitMu sync.Mutex
	nextTS   uint64 // atomic; ids.TxnID counter, begin_ts/commit_ts share one source

	maxLogRecords int
	integrator    Integrator

	hookMu      sync.Mutex
	beginHook   Hook
	commitHook  Hook
	rollbackHook Hook
}

// NewManager returns a Manager bound to the given committed locator table.
func NewManager(locators *locator.Table, maxLogRecords int) *Manager {
	return &Manager{locators: locators, maxLogRecords: maxLogRecords, nextTS: 1}
}

// SetIntegrator installs the index-maintenance hook run at every commit.
func (m *Manager) SetIntegrator(in Integrator) {
	m.integrator = in
}

// SetBeginHook installs the hook run when a transaction begins. Fails if a
// hook is already installed unless overwrite is true.
func (m *Manager) SetBeginHook(h Hook, overwrite bool) error {
	return m.setHook(&m.beginHook, h, overwrite)
}

// SetCommitHook installs the hook run when a transaction commits.
func (m *Manager) SetCommitHook(h Hook, overwrite bool) error {
	return m.setHook(&m.commitHook, h, overwrite)
}

// SetRollbackHook installs the hook run when a transaction rolls back.
func (m *Manager) SetRollbackHook(h Hook, overwrite bool) error {
	return m.setHook(&m.rollbackHook, h, overwrite)
}

func (m *Manager) setHook(slot *Hook, h Hook, overwrite bool) error {
	m.hookMu.Lock()
	defer m.hookMu.Unlock()
	if *slot != nil && !overwrite {
		return errs.New(errs.KindTxInProgress, "a hook is already installed")
	}
	*slot = h
	return nil
}

func (m *Manager) runHook(h Hook, txnID ids.TxnID) {
	if h == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.WithComponent("session").Error().
				Interface("panic", r).
				Uint64("txn_id", uint64(txnID)).
				Msg("transaction hook panicked; recovered and swallowed")
		}
	}()
	h(txnID)
}

func (m *Manager) allocTS() ids.TxnID {
	return ids.TxnID(atomic.AddUint64(&m.nextTS, 1) - 1)
}

// BeginSession opens a new session handle.
func (m *Manager) BeginSession() *Session {
	metrics.SessionsOpen.Inc()
	return &Session{mgr: m}
}

// Session is a caller-held handle for a sequence of transactions. The zero
// value is not usable; obtain one from Manager.BeginSession.
type Session struct {
	mgr *Manager

	mu     sync.Mutex
	closed bool
	txn    *Txn
}

// End releases the session. Fails with errs.KindNoSessionActive if already
// ended.
func (s *Session) End() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errs.New(errs.KindNoSessionActive, "session already ended")
	}
	s.closed = true
	metrics.SessionsOpen.Dec()
	return nil
}

// BeginTxn starts a new transaction on s. Fails with errs.KindTxInProgress
// if one is already open, or errs.KindNoSessionActive if the session has
// ended.
func (s *Session) BeginTxn() (*Txn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errs.New(errs.KindNoSessionActive, "session has ended")
	}
	if s.txn != nil && s.txn.active {
		return nil, errs.New(errs.KindTxInProgress, "a transaction is already open on this session")
	}

	beginTS := s.mgr.allocTS()
	txn := &Txn{
		mgr:      s.mgr,
		session:  s,
		beginTS:  beginTS,
		snapshot: s.mgr.locators.Snapshot(),
		log:      txnlog.New(beginTS, s.mgr.maxLogRecords),
		active:   true,
	}
	s.txn = txn

	metrics.TxnsBegun.Inc()
	s.mgr.runHook(s.mgr.beginHook, beginTS)
	log.WithTxn(uint64(beginTS)).Debug().Msg("transaction begun")
	return txn, nil
}

// IsTxnActive reports whether s currently has an open transaction.
func (s *Session) IsTxnActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txn != nil && s.txn.active
}

// Txn is a single transaction's private state: its begin timestamp, its
// copy-on-write locator snapshot, and its append-only log.
type Txn struct {
	mgr     *Manager
	session *Session

	beginTS  ids.TxnID
	commitTS ids.TxnID
	snapshot *locator.Snapshot
	log      *txnlog.Log
	active   bool
}

// BeginTS returns the transaction's begin timestamp.
func (t *Txn) BeginTS() ids.TxnID { return t.beginTS }

// CommitTS returns the transaction's commit timestamp. Zero until Commit
// has returned true; a persistence sink uses this to key durable records
// in commit order, distinct from begin-timestamp order.
func (t *Txn) CommitTS() ids.TxnID { return t.commitTS }

// Snapshot returns the transaction's copy-on-write locator view.
func (t *Txn) Snapshot() *locator.Snapshot { return t.snapshot }

// Log returns the transaction's append-only log.
func (t *Txn) Log() *txnlog.Log { return t.log }

func (t *Txn) requireActive() error {
	if !t.active {
		return errs.New(errs.KindTxNotOpen, "no transaction is open")
	}
	return nil
}

// RecordWrite appends a write to the transaction log and updates the
// snapshot so that subsequent reads within the same transaction observe
// it. Returns errs.KindTxNotOpen if the transaction is not active.
func (t *Txn) RecordWrite(l ids.Locator, oldOffset, newOffset ids.Offset, op txnlog.Op) error {
	if err := t.requireActive(); err != nil {
		return err
	}
	if err := t.log.Append(l, oldOffset, newOffset, op); err != nil {
		return err
	}
	t.snapshot.Set(l, newOffset)
	return nil
}

// Rollback discards the transaction's log and snapshot.
func (t *Txn) Rollback() error {
	if err := t.requireActive(); err != nil {
		return err
	}
	t.active = false
	metrics.TxnsRolledBack.WithLabelValues("explicit").Inc()
	t.mgr.runHook(t.mgr.rollbackHook, t.beginTS)
	log.WithTxn(uint64(t.beginTS)).Debug().Msg("transaction rolled back")
	return nil
}

// Commit validates and applies the transaction. It acquires the manager's
// exclusive commit lock, checks that every locator the transaction wrote
// still has the offset it had when the snapshot was taken, and if so
// applies the writes to the committed mapping and hands the sealed log to
// the configured Integrator. Fails with errs.KindTxUpdateConflict (and
// rolls back) on a validation mismatch.
func (t *Txn) Commit() (bool, error) {
	if err := t.requireActive(); err != nil {
		return false, err
	}

	timer := metrics.NewTimer()
	t.mgr.commitMu.Lock()
	defer t.mgr.commitMu.Unlock()

	overlay := t.snapshot.Overlay()
	for l := range overlay {
		if t.mgr.locators.CommittedOffset(l) != t.snapshot.BaseOffset(l) {
			t.active = false
			metrics.TxnConflicts.Inc()
			metrics.TxnsRolledBack.WithLabelValues("conflict").Inc()
			t.mgr.runHook(t.mgr.rollbackHook, t.beginTS)
			log.WithTxn(uint64(t.beginTS)).Warn().Msg("commit validation failed: tx_update_conflict")
			return false, errs.New(errs.KindTxUpdateConflict, "locator %d was modified by a concurrent committed transaction", l)
		}
	}

	if t.mgr.integrator != nil {
		if err := t.mgr.integrator.Validate(t.log.Peek()); err != nil {
			t.active = false
			metrics.TxnsRolledBack.WithLabelValues("constraint_violation").Inc()
			t.mgr.runHook(t.mgr.rollbackHook, t.beginTS)
			log.WithTxn(uint64(t.beginTS)).Warn().Err(err).Msg("commit validation failed: constraint violation")
			return false, err
		}
	}

	commitTS := t.mgr.allocTS()
	t.commitTS = commitTS
	t.mgr.locators.Apply(overlay)

	records := t.log.Seal()
	if t.mgr.integrator != nil {
		t.mgr.integrator.OnCommit(commitTS, records)
	}

	t.active = false
	metrics.TxnsCommitted.Inc()
	timer.ObserveDuration(metrics.CommitDuration)
	t.mgr.runHook(t.mgr.commitHook, t.beginTS)
	log.WithTxn(uint64(t.beginTS)).Debug().Uint64("commit_ts", uint64(commitTS)).Msg("transaction committed")
	return true, nil
}
