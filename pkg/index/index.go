// Package index implements the committed index structures: a hash index
// for equality lookups and a range index for ordered/bounded scans. Both
// are multimaps from a composite key.Key to one or more Entry values,
// since a non-unique index may have several live objects sharing a key.
//
// Entries only ever enter a committed Index through a transaction's
// merge at commit (pkg/indexmaint); an index never holds a row belonging
// to a still-open or aborted transaction, so readers need no additional
// begin_ts/commit_ts visibility filter once an entry is present here.
package index

import (
	"sync"

	"github.com/google/btree"

	"github.com/cuemby/corestore/pkg/catalog"
	"github.com/cuemby/corestore/pkg/errs"
	"github.com/cuemby/corestore/pkg/ids"
	"github.com/cuemby/corestore/pkg/key"
	"github.com/cuemby/corestore/pkg/metrics"
)

// Entry is the physical location an index key currently resolves to.
type Entry struct {
	Locator ids.Locator
	Offset  ids.Offset
}

// Index is the common surface both implementations expose.
type Index interface {
	ID() ids.IndexID
	Kind() catalog.IndexKind
	IsUnique() bool
	// Insert adds k->e. The caller (pkg/indexmaint) is responsible for
	// enforcing IsUnique before calling Insert.
	Insert(k key.Key, e Entry)
	// Remove deletes the entry for k at locator, if present.
	Remove(k key.Key, locator ids.Locator)
	// Find returns every live entry for k (equal_range).
	Find(k key.Key) []Entry
	// All returns every entry currently stored, for a full (unpredicated)
	// scan. A RangeIndex returns them in key order; a HashIndex's order is
	// unspecified, matching the spec's "order is irrelevant for hash".
	All() []Entry
	// Len returns the number of (key, entry) pairs currently stored.
	Len() int
	// Clear empties the index, used before Populate rebuilds it.
	Clear()
}

func labelID(id ids.IndexID) string {
	return strconvUint(uint64(id))
}

// strconvUint avoids importing strconv's full surface for a single call
// site; kept tiny and unexported.
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

// HashIndex is an equality-only index backed by a bucket map keyed by the
// key's hash, with linear scan inside a bucket to resolve collisions and
// to implement the multimap semantics plain Go maps don't give keys with
// slice fields.
type HashIndex struct {
	id     ids.IndexID
	unique bool

	mu      sync.RWMutex
	buckets map[uint64][]hashSlot
	count   int
}

type hashSlot struct {
	key   key.Key
	entry Entry
}

// NewHashIndex returns an empty hash index.
func NewHashIndex(id ids.IndexID, unique bool) *HashIndex {
	return &HashIndex{id: id, unique: unique, buckets: make(map[uint64][]hashSlot)}
}

func (h *HashIndex) ID() ids.IndexID           { return h.id }
func (h *HashIndex) Kind() catalog.IndexKind   { return catalog.IndexKindHash }
func (h *HashIndex) IsUnique() bool            { return h.unique }

func (h *HashIndex) Insert(k key.Key, e Entry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	bucket := k.Hash()
	h.buckets[bucket] = append(h.buckets[bucket], hashSlot{key: k, entry: e})
	h.count++
	metrics.IndexEntriesInserted.WithLabelValues(labelID(h.id)).Inc()
}

func (h *HashIndex) Remove(k key.Key, locator ids.Locator) {
	h.mu.Lock()
	defer h.mu.Unlock()
	bucket := k.Hash()
	slots := h.buckets[bucket]
	for i, s := range slots {
		if s.entry.Locator != locator || s.key.Len() != k.Len() {
			continue
		}
		// key.Equal never matches a null element, so nulls are matched by
		// nullity here; otherwise a null-keyed entry could never be removed.
		same := true
		for j := 0; same && j < k.Len(); j++ {
			a, b := s.key.At(j), k.At(j)
			same = a.Equal(b) || (a.IsNull() && b.IsNull())
		}
		if same {
			h.buckets[bucket] = append(slots[:i], slots[i+1:]...)
			h.count--
			metrics.IndexEntriesRemoved.WithLabelValues(labelID(h.id)).Inc()
			return
		}
	}
}

func (h *HashIndex) Find(k key.Key) []Entry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []Entry
	for _, s := range h.buckets[k.Hash()] {
		if s.key.Equal(k) {
			out = append(out, s.entry)
		}
	}
	return out
}

func (h *HashIndex) All() []Entry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Entry, 0, h.count)
	for _, slots := range h.buckets {
		for _, s := range slots {
			out = append(out, s.entry)
		}
	}
	return out
}

func (h *HashIndex) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

func (h *HashIndex) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.buckets = make(map[uint64][]hashSlot)
	h.count = 0
}

// rangeItem is the element type stored in the backing B-tree: ordered by
// key first, then by locator so that several rows sharing a key (a
// non-unique index) sort deterministically instead of colliding. Inserting
// an item with the same key and locator as a stored one replaces it.
type rangeItem struct {
	key   key.Key
	entry Entry
}

func rangeLess(a, b rangeItem) bool {
	if c := a.key.Compare(b.key); c != 0 {
		return c < 0
	}
	return a.entry.Locator < b.entry.Locator
}

// RangeIndex is an ordered index over key.Key backed by google/btree,
// supporting equality lookup plus inclusive/exclusive bounded scans.
type RangeIndex struct {
	id     ids.IndexID
	unique bool

	mu   sync.RWMutex
	tree *btree.BTreeG[rangeItem]
}

// NewRangeIndex returns an empty range index.
func NewRangeIndex(id ids.IndexID, unique bool) *RangeIndex {
	return &RangeIndex{id: id, unique: unique, tree: btree.NewG(32, rangeLess)}
}

func (r *RangeIndex) ID() ids.IndexID         { return r.id }
func (r *RangeIndex) Kind() catalog.IndexKind { return catalog.IndexKindRange }
func (r *RangeIndex) IsUnique() bool          { return r.unique }

func (r *RangeIndex) Insert(k key.Key, e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tree.ReplaceOrInsert(rangeItem{key: k, entry: e})
	metrics.IndexEntriesInserted.WithLabelValues(labelID(r.id)).Inc()
}

func (r *RangeIndex) Remove(k key.Key, locator ids.Locator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tree.Delete(rangeItem{key: k, entry: Entry{Locator: locator}}); ok {
		metrics.IndexEntriesRemoved.WithLabelValues(labelID(r.id)).Inc()
	}
}

func (r *RangeIndex) Find(k key.Key) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Entry
	lo := rangeItem{key: k, entry: Entry{Locator: 0}}
	r.tree.AscendGreaterOrEqual(lo, func(item rangeItem) bool {
		if item.key.Compare(k) != 0 {
			return false
		}
		out = append(out, item.entry)
		return true
	})
	return out
}

// Range returns every entry whose key falls between lower and upper,
// inclusive/exclusive per the given flags. A nil lower means "from the
// start"; a nil upper means "to the end".
func (r *RangeIndex) Range(lower, upper *key.Key, lowerInclusive, upperInclusive bool) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Entry
	visit := func(item rangeItem) bool {
		if upper != nil {
			c := item.key.Compare(*upper)
			if c > 0 || (c == 0 && !upperInclusive) {
				return false
			}
		}
		if lower != nil && !lowerInclusive && item.key.Compare(*lower) == 0 {
			return true
		}
		out = append(out, item.entry)
		return true
	}

	if lower != nil {
		r.tree.AscendGreaterOrEqual(rangeItem{key: *lower, entry: Entry{Locator: 0}}, visit)
	} else {
		r.tree.Ascend(visit)
	}
	return out
}

func (r *RangeIndex) All() []Entry {
	return r.Range(nil, nil, true, true)
}

func (r *RangeIndex) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tree.Len()
}

func (r *RangeIndex) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tree = btree.NewG(32, rangeLess)
}

// NewIndex constructs the implementation matching kind.
func NewIndex(id ids.IndexID, kind catalog.IndexKind, unique bool) (Index, error) {
	switch kind {
	case catalog.IndexKindHash:
		return NewHashIndex(id, unique), nil
	case catalog.IndexKindRange:
		return NewRangeIndex(id, unique), nil
	default:
		return nil, errs.New(errs.KindInvalidIndexType, "unknown index kind %d", kind)
	}
}
