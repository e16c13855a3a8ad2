// Package dac implements the direct-access facade: typed object handles
// and writers, a container<T> over every live object of a type, and a
// reference_container<T> over a relationship's sibling chain. It is
// generic over the caller's Go struct T, replacing the source's
// per-table code-generated subclasses with a single Codec[T] describing
// how to project T to and from a catalog-described payload.
package dac

import (
	"github.com/cuemby/corestore/pkg/catalog"
	"github.com/cuemby/corestore/pkg/errs"
	"github.com/cuemby/corestore/pkg/ids"
	"github.com/cuemby/corestore/pkg/payload"
	"github.com/cuemby/corestore/pkg/record"
	"github.com/cuemby/corestore/pkg/refgraph"
)

// Store is the object-storage surface the facade needs: the reference
// engine's own Store, plus whole-object CRUD and a full-table scan.
// Implemented by the engine's object table.
type Store interface {
	refgraph.Store
	// Insert creates a new object of typeID with the given encoded
	// payload and returns its allocated id.
	Insert(typeID ids.TypeID, payload []byte) (ids.ObjectID, error)
	// Update replaces id's payload with a new encoded version.
	Update(id ids.ObjectID, payload []byte) error
	// Delete removes id, subject to the same referential-integrity
	// rules as refgraph.Graph.Delete (force detaches children first).
	Delete(id ids.ObjectID, force bool) error
	// ScanType returns every live object currently stored under typeID.
	ScanType(typeID ids.TypeID) ([]record.Record, error)
}

// Codec describes how T maps onto one catalog table's payload.
type Codec[T any] struct {
	TypeID ids.TypeID
	Schema payload.Schema
	Encode func(T) []byte
	Decode func(record.Record) T
}

// Handle is a materialized row: its id and decoded value.
type Handle[T any] struct {
	ID    ids.ObjectID
	Value T
}

// Object is the typed facade over one table: Get/Delete single rows,
// obtain a Writer to insert or update, and open a Container or
// ReferenceContainer to iterate many rows.
type Object[T any] struct {
	store Store
	graph *refgraph.Graph
	cat   *catalog.Catalog
	codec Codec[T]
}

// New returns an Object facade over store and graph for the table codec
// describes. graph and cat must be the same catalog/graph pair the
// relationships referenced through this Object were registered in.
func New[T any](store Store, graph *refgraph.Graph, cat *catalog.Catalog, codec Codec[T]) *Object[T] {
	return &Object[T]{store: store, graph: graph, cat: cat, codec: codec}
}

// Get returns the current row for id, failing if id does not name a live
// object of this Object's type.
func (o *Object[T]) Get(id ids.ObjectID) (Handle[T], error) {
	rec, ok := o.store.Get(id)
	if !ok {
		return Handle[T]{}, errs.New(errs.KindInvalidObjectID, "object %d not found", id)
	}
	if rec.Type != o.codec.TypeID {
		return Handle[T]{}, errs.New(errs.KindInvalidObjectType, "object %d is type %d, not %d", id, rec.Type, o.codec.TypeID)
	}
	return Handle[T]{ID: id, Value: o.codec.Decode(rec)}, nil
}

// Delete removes id, forcing detachment of any children when force is
// true (matching refgraph.Graph.Delete's semantics exactly, since this
// simply delegates to it before the row itself is removed from storage).
func (o *Object[T]) Delete(id ids.ObjectID, force bool) error {
	if err := o.graph.Delete(id, force); err != nil {
		return err
	}
	return o.store.Delete(id, force)
}

// Writer returns a fresh, zero-valued writer for building a new row or
// updating an existing one.
func (o *Object[T]) Writer() *Writer[T] {
	return &Writer[T]{object: o}
}

// Writer accumulates a value of T and commits it as either a new object
// (InsertRow) or a replacement for an existing one (UpdateRow), mirroring
// the source's dac_writer_t: populate fields, then insert_row/update_row.
type Writer[T any] struct {
	object *Object[T]
	Value  T
}

// InsertRow encodes w.Value and creates a new object of the writer's
// type, returning its allocated id.
func (w *Writer[T]) InsertRow() (ids.ObjectID, error) {
	return w.object.store.Insert(w.object.codec.TypeID, w.object.codec.Encode(w.Value))
}

// UpdateRow encodes w.Value and replaces id's stored payload.
func (w *Writer[T]) UpdateRow(id ids.ObjectID) error {
	return w.object.store.Update(id, w.object.codec.Encode(w.Value))
}

// Predicate filters a decoded T, used by Container.Where and
// ReferenceContainer.Where. Matches the source's
// `function<optional<bool>(const T&)>` shape by simply returning bool;
// the expression algebra's EvalBool composes into this type directly.
type Predicate[T any] func(T) bool

// Container iterates every live object of one type, optionally narrowed
// by a filter predicate.
type Container[T any] struct {
	object *Object[T]
	filter Predicate[T]
}

// Containing returns a Container over every live row of o's type.
func (o *Object[T]) Containing() Container[T] {
	return Container[T]{object: o}
}

// Where returns a new Container narrowed to rows matching pred, composing
// with any filter already applied.
func (c Container[T]) Where(pred Predicate[T]) Container[T] {
	prev := c.filter
	c.filter = func(v T) bool {
		if prev != nil && !prev(v) {
			return false
		}
		return pred(v)
	}
	return c
}

// All materializes every row the container currently selects.
func (c Container[T]) All() ([]Handle[T], error) {
	recs, err := c.object.store.ScanType(c.object.codec.TypeID)
	if err != nil {
		return nil, err
	}
	out := make([]Handle[T], 0, len(recs))
	for _, rec := range recs {
		v := c.object.codec.Decode(rec)
		if c.filter != nil && !c.filter(v) {
			continue
		}
		out = append(out, Handle[T]{ID: rec.ID, Value: v})
	}
	return out, nil
}

// ReferenceContainer iterates, inserts into, and removes from a single
// parent's sibling chain under one relationship, mirroring the source's
// reference_container_t.
type ReferenceContainer[T any] struct {
	object     *Object[T]
	parentID   ids.ObjectID
	parentSlot ids.RefOffset
	filter     Predicate[T]
}

// References opens a ReferenceContainer over parentID's children at
// parentSlot (the relationship's parent-side anchor slot).
func (o *Object[T]) References(parentID ids.ObjectID, parentSlot ids.RefOffset) ReferenceContainer[T] {
	return ReferenceContainer[T]{object: o, parentID: parentID, parentSlot: parentSlot}
}

// Where narrows the container to children matching pred.
func (rc ReferenceContainer[T]) Where(pred Predicate[T]) ReferenceContainer[T] {
	prev := rc.filter
	rc.filter = func(v T) bool {
		if prev != nil && !prev(v) {
			return false
		}
		return pred(v)
	}
	return rc
}

// All materializes every child currently selected, in chain order.
func (rc ReferenceContainer[T]) All() ([]Handle[T], error) {
	children, err := rc.object.graph.Children(rc.parentID, rc.parentSlot)
	if err != nil {
		return nil, err
	}
	out := make([]Handle[T], 0, len(children))
	for _, id := range children {
		h, err := rc.object.Get(id)
		if err != nil {
			return nil, err
		}
		if rc.filter != nil && !rc.filter(h.Value) {
			continue
		}
		out = append(out, h)
	}
	return out, nil
}

// Len returns the number of children currently selected.
func (rc ReferenceContainer[T]) Len() int {
	all, err := rc.All()
	if err != nil {
		return 0
	}
	return len(all)
}

// Insert attaches childID to the container's parent/slot. Fails if
// childID already belongs to any chain (see errs.ErrChildAlreadyReferenced).
func (rc ReferenceContainer[T]) Insert(childID ids.ObjectID) error {
	_, err := rc.object.graph.InsertIntoContainer(rc.parentID, childID, rc.parentSlot)
	return err
}

// Connect attaches childID to the container's parent/slot, first
// detaching it from whatever chain it currently belongs to if the plain
// Insert would otherwise fail with child_already_referenced. This is the
// same detach-then-retry fallback pkg/vlr uses to reattach a
// value-linked match found in a stale chain.
func (rc ReferenceContainer[T]) Connect(childID ids.ObjectID) error {
	_, err := rc.object.graph.InsertIntoContainer(rc.parentID, childID, rc.parentSlot)
	if err == nil {
		return nil
	}
	if errs.OfKind(err) != errs.KindChildAlreadyReferenced {
		return err
	}
	if _, err := rc.object.graph.RemoveFromContainerByChild(childID, rc.childSlot()); err != nil {
		return err
	}
	_, err = rc.object.graph.InsertIntoContainer(rc.parentID, childID, rc.parentSlot)
	return err
}

// Disconnect detaches childID from whatever chain it belongs to, so long
// as that chain is the one this container addresses. Returns false if
// childID is in no chain; fails with invalid_child_reference if it belongs
// to another parent's chain.
func (rc ReferenceContainer[T]) Disconnect(childID ids.ObjectID) (bool, error) {
	return rc.object.graph.RemoveFromContainerByParent(rc.parentID, childID, rc.parentSlot)
}

// Erase detaches childID exactly like Disconnect, but errors (rather than
// returning false) if childID was not a member, matching the source's
// iterator-erase semantics where the caller already holds a valid
// position in the chain.
func (rc ReferenceContainer[T]) Erase(childID ids.ObjectID) error {
	ok, err := rc.Disconnect(childID)
	if err != nil {
		return err
	}
	if !ok {
		return errs.New(errs.KindInvalidChildReference, "child %d is not a member of this container", childID)
	}
	return nil
}

// Clear detaches every child currently in the chain.
func (rc ReferenceContainer[T]) Clear() error {
	children, err := rc.object.graph.Children(rc.parentID, rc.parentSlot)
	if err != nil {
		return err
	}
	for _, id := range children {
		if _, err := rc.object.graph.RemoveFromContainerByParent(rc.parentID, id, rc.parentSlot); err != nil {
			return err
		}
	}
	return nil
}

// childSlot resolves the relationship's child-side anchor slot (needed
// by Connect's detach step, which addresses a child by its own anchor
// slot rather than by its current parent).
func (rc ReferenceContainer[T]) childSlot() ids.RefOffset {
	rec, ok := rc.object.store.Get(rc.parentID)
	if !ok {
		return 0
	}
	rel, err := rc.object.cat.RelationshipAtParentSlot(rec.Type, rc.parentSlot)
	if err != nil {
		return 0
	}
	return rel.ParentSlot
}
