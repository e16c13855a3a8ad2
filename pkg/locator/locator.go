// Package locator implements the shared committed locator→offset mapping
// and the per-session copy-on-write snapshot taken of it at begin_txn.
package locator

import (
	"sync"
	"sync/atomic"

	"github.com/cuemby/corestore/pkg/errs"
	"github.com/cuemby/corestore/pkg/ids"
)

// Table is the shared, process-wide committed locator→offset mapping.
// Locator allocation is monotonic and bounded by maxLocators; allocation
// itself requires no lock beyond an atomic counter, since a freshly
// allocated locator is invisible to every snapshot until its owning txn
// commits.
type Table struct {
	mu        sync.RWMutex
	committed map[ids.Locator]ids.Offset

	next ids.Locator
	max  uint32
}

// New returns an empty committed table capped at maxLocators allocations.
func New(maxLocators uint32) *Table {
	return &Table{
		committed: make(map[ids.Locator]ids.Offset),
		next:      ids.InvalidLocator + 1,
		max:       maxLocators,
	}
}

// Allocate reserves the next locator. Fails with errs.KindOutOfMemory once
// maxLocators allocations have been made.
func (t *Table) Allocate() (ids.Locator, error) {
	for {
		cur := atomic.LoadUint32((*uint32)(&t.next))
		if t.max != 0 && cur > t.max {
			return ids.InvalidLocator, errs.New(errs.KindOutOfMemory, "locator table exhausted (max %d)", t.max)
		}
		if atomic.CompareAndSwapUint32((*uint32)(&t.next), cur, cur+1) {
			return ids.Locator(cur), nil
		}
	}
}

// CommittedOffset returns the offset currently recorded for locator in the
// shared committed mapping.
func (t *Table) CommittedOffset(l ids.Locator) ids.Offset {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.committed[l]
}

// Apply installs a batch of (locator, new_offset) updates atomically. The
// caller is responsible for holding the engine-wide commit lock; Apply
// additionally takes the table's own lock so readers snapshotting
// concurrently never observe a partial batch.
func (t *Table) Apply(updates map[ids.Locator]ids.Offset) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for l, off := range updates {
		if off == ids.InvalidOffset {
			delete(t.committed, l)
			continue
		}
		t.committed[l] = off
	}
}

// Snapshot takes a copy-on-write view of the committed mapping as of the
// call, for use by a single session/txn.
func (t *Table) Snapshot() *Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	base := make(map[ids.Locator]ids.Offset, len(t.committed))
	for l, off := range t.committed {
		base[l] = off
	}
	return &Snapshot{base: base, overlay: make(map[ids.Locator]ids.Offset)}
}

// Snapshot is a session-private, copy-on-write view of the locator table
// taken at begin_txn. Reads consult the overlay first, falling back to the
// base captured at snapshot time; writes only ever touch the overlay.
type Snapshot struct {
	base    map[ids.Locator]ids.Offset
	overlay map[ids.Locator]ids.Offset
}

// Get returns the offset visible to this snapshot for l.
func (s *Snapshot) Get(l ids.Locator) ids.Offset {
	if off, ok := s.overlay[l]; ok {
		return off
	}
	return s.base[l]
}

// Set records a write to l in the overlay, never touching the base.
func (s *Snapshot) Set(l ids.Locator, off ids.Offset) {
	s.overlay[l] = off
}

// Overlay returns the set of locators this snapshot has written, mapped to
// their new offsets. Used to build the commit-time validation set and the
// final Apply batch.
func (s *Snapshot) Overlay() map[ids.Locator]ids.Offset {
	return s.overlay
}

// BaseOffset returns the offset l had in the base mapping at snapshot
// time, used by commit validation to detect a concurrent committed write.
func (s *Snapshot) BaseOffset(l ids.Locator) ids.Offset {
	return s.base[l]
}
