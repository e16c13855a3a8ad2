// Package refgraph implements the reference engine: inserting and removing
// children from a parent's relationship chain, re-parenting a child, and
// the referential-integrity checks run on delete. Relationships are
// materialized through a synthetic anchor object per spec.md's reference
// graph design; refgraph never creates or inspects table rows directly,
// only the reference slots of records handed to it through Store.
package refgraph

import (
	"github.com/cuemby/corestore/pkg/catalog"
	"github.com/cuemby/corestore/pkg/errs"
	"github.com/cuemby/corestore/pkg/ids"
	"github.com/cuemby/corestore/pkg/log"
	"github.com/cuemby/corestore/pkg/metrics"
	"github.com/cuemby/corestore/pkg/record"
)

// An anchor is a synthetic two-slot object: slot 0 holds the parent's id
// (invalid if the parent side has been detached), slot 1 holds the id of
// the first child in the sibling chain (invalid if the chain is empty).
const (
	AnchorParentSlot     ids.RefOffset = 0
	AnchorFirstChildSlot ids.RefOffset = 1
)

// Store is the object-storage facade the reference engine needs: look up
// a record by id, replace one or more of its reference slots in place
// (producing a new record version at the same id under MVCC), and create
// or delete the synthetic anchor objects a relationship is materialized
// through. Implemented by the engine's object table so that refgraph
// never depends on locators, offsets, or the arena directly.
type Store interface {
	Get(id ids.ObjectID) (record.Record, bool)
	SetReferences(id ids.ObjectID, updates map[ids.RefOffset]ids.ObjectID) error
	CreateAnchor(parentID, firstChildID ids.ObjectID) (ids.ObjectID, error)
	DeleteAnchor(id ids.ObjectID) error
}

// Graph runs reference-engine operations against a catalog of relationship
// metadata and a Store of live objects.
type Graph struct {
	cat   *catalog.Catalog
	store Store
}

// New returns a Graph bound to cat and store.
func New(cat *catalog.Catalog, store Store) *Graph {
	return &Graph{cat: cat, store: store}
}

func refAt(obj record.Record, slot ids.RefOffset) ids.ObjectID {
	if int(slot) >= len(obj.References) {
		return ids.InvalidObjectID
	}
	return obj.References[slot]
}

func (g *Graph) get(id ids.ObjectID) (record.Record, error) {
	obj, ok := g.store.Get(id)
	if !ok {
		return record.Record{}, errs.New(errs.KindInvalidObjectID, "object %d not found", id)
	}
	return obj, nil
}

func (g *Graph) violation(kind errs.Kind, format string, args ...any) error {
	metrics.ReferenceIntegrityViolations.WithLabelValues(kind.String()).Inc()
	return errs.New(kind, format, args...)
}

// InsertIntoContainer attaches childID to parentID's relationship chain at
// parentAnchorSlot. Returns false without error if childID is already the
// chain's member (idempotent no-op).
func (g *Graph) InsertIntoContainer(parentID, childID ids.ObjectID, parentAnchorSlot ids.RefOffset) (bool, error) {
	parent, err := g.get(parentID)
	if err != nil {
		return false, err
	}
	rel, err := g.cat.RelationshipAtParentSlot(parent.Type, parentAnchorSlot)
	if err != nil {
		return false, g.violation(errs.KindInvalidReferenceOffset, "slot %d of type %d is not a parent slot", parentAnchorSlot, parent.Type)
	}
	child, err := g.get(childID)
	if err != nil {
		return false, err
	}
	if parent.Type != rel.ParentType || child.Type != rel.ChildType {
		return false, g.violation(errs.KindInvalidRelationshipType, "relationship %q does not connect type %d to type %d", rel.Name, parent.Type, child.Type)
	}

	anchorID := refAt(parent, parentAnchorSlot)
	var anchor record.Record
	if anchorID != ids.InvalidObjectID {
		anchor, err = g.get(anchorID)
		if err != nil {
			return false, err
		}
		if refAt(child, rel.ParentSlot) == anchorID {
			return false, nil
		}
		if rel.Cardinality == catalog.CardinalityOne && refAt(anchor, AnchorFirstChildSlot) != ids.InvalidObjectID {
			return false, g.violation(errs.KindSingleCardinalityViolation, "relationship %q is single-cardinality at slot %d", rel.Name, parentAnchorSlot)
		}
	}
	if refAt(child, rel.ParentSlot) != ids.InvalidObjectID {
		return false, g.violation(errs.KindChildAlreadyReferenced, "child %d already belongs to a chain", childID)
	}

	if anchorID == ids.InvalidObjectID {
		anchorID, err = g.store.CreateAnchor(parentID, childID)
		if err != nil {
			return false, err
		}
		if err := g.store.SetReferences(parentID, map[ids.RefOffset]ids.ObjectID{parentAnchorSlot: anchorID}); err != nil {
			return false, err
		}
		if err := g.store.SetReferences(childID, map[ids.RefOffset]ids.ObjectID{
			rel.ParentSlot:    anchorID,
			rel.NextChildSlot: ids.InvalidObjectID,
			rel.PrevChildSlot: ids.InvalidObjectID,
		}); err != nil {
			return false, err
		}
	} else {
		oldHead := refAt(anchor, AnchorFirstChildSlot)
		if err := g.store.SetReferences(childID, map[ids.RefOffset]ids.ObjectID{
			rel.ParentSlot:    anchorID,
			rel.NextChildSlot: oldHead,
			rel.PrevChildSlot: ids.InvalidObjectID,
		}); err != nil {
			return false, err
		}
		if err := g.store.SetReferences(anchorID, map[ids.RefOffset]ids.ObjectID{AnchorFirstChildSlot: childID}); err != nil {
			return false, err
		}
		if oldHead != ids.InvalidObjectID {
			if err := g.store.SetReferences(oldHead, map[ids.RefOffset]ids.ObjectID{rel.PrevChildSlot: childID}); err != nil {
				return false, err
			}
		}
	}

	log.WithComponent("refgraph").Debug().
		Uint64("parent", uint64(parentID)).Uint64("child", uint64(childID)).
		Str("relationship", rel.Name).Msg("inserted into container")
	return true, nil
}

// RemoveFromContainerByParent detaches childID from parentID's chain at
// parentAnchorSlot. Returns false if childID was not a member of any
// chain. Fails with invalid_child_reference if childID belongs to a
// different parent's chain under this relationship.
func (g *Graph) RemoveFromContainerByParent(parentID, childID ids.ObjectID, parentAnchorSlot ids.RefOffset) (bool, error) {
	parent, err := g.get(parentID)
	if err != nil {
		return false, err
	}
	rel, err := g.cat.RelationshipAtParentSlot(parent.Type, parentAnchorSlot)
	if err != nil {
		return false, g.violation(errs.KindInvalidReferenceOffset, "slot %d of type %d is not a parent slot", parentAnchorSlot, parent.Type)
	}
	child, err := g.get(childID)
	if err != nil {
		return false, err
	}
	if refAt(child, rel.ParentSlot) == ids.InvalidObjectID {
		return false, nil
	}
	if refAt(child, rel.ParentSlot) != refAt(parent, parentAnchorSlot) {
		return false, g.violation(errs.KindInvalidChildReference, "child %d does not belong to parent %d's chain", childID, parentID)
	}
	return g.RemoveFromContainerByChild(childID, rel.ParentSlot)
}

// RemoveFromContainerByChild detaches childID from whatever chain it
// currently belongs to, addressed by the anchor slot in the child's own
// reference array. Deletes the anchor if the chain becomes empty and the
// anchor is no longer connected to its parent side.
func (g *Graph) RemoveFromContainerByChild(childID ids.ObjectID, childAnchorSlot ids.RefOffset) (bool, error) {
	child, err := g.get(childID)
	if err != nil {
		return false, err
	}
	rel, err := g.cat.RelationshipAtChildSlot(child.Type, childAnchorSlot)
	if err != nil {
		return false, g.violation(errs.KindInvalidReferenceOffset, "slot %d of type %d is not a child slot", childAnchorSlot, child.Type)
	}

	anchorID := refAt(child, childAnchorSlot)
	next := refAt(child, rel.NextChildSlot)
	prev := refAt(child, rel.PrevChildSlot)

	if next != ids.InvalidObjectID {
		if err := g.store.SetReferences(next, map[ids.RefOffset]ids.ObjectID{rel.PrevChildSlot: prev}); err != nil {
			return false, err
		}
	}
	if prev != ids.InvalidObjectID {
		if err := g.store.SetReferences(prev, map[ids.RefOffset]ids.ObjectID{rel.NextChildSlot: next}); err != nil {
			return false, err
		}
	} else if anchorID != ids.InvalidObjectID {
		anchor, err := g.get(anchorID)
		if err != nil {
			return false, err
		}
		if next == ids.InvalidObjectID {
			if refAt(anchor, AnchorParentSlot) == ids.InvalidObjectID {
				if err := g.store.DeleteAnchor(anchorID); err != nil {
					return false, err
				}
			} else if err := g.store.SetReferences(anchorID, map[ids.RefOffset]ids.ObjectID{AnchorFirstChildSlot: ids.InvalidObjectID}); err != nil {
				return false, err
			}
		} else if err := g.store.SetReferences(anchorID, map[ids.RefOffset]ids.ObjectID{AnchorFirstChildSlot: next}); err != nil {
			return false, err
		}
	}

	if err := g.store.SetReferences(childID, map[ids.RefOffset]ids.ObjectID{
		childAnchorSlot:   ids.InvalidObjectID,
		rel.NextChildSlot: ids.InvalidObjectID,
		rel.PrevChildSlot: ids.InvalidObjectID,
	}); err != nil {
		return false, err
	}

	log.WithComponent("refgraph").Debug().Uint64("child", uint64(childID)).Str("relationship", rel.Name).Msg("removed from container")
	return true, nil
}

// UpdateParentReference moves childID from its current chain (if any) to
// newParentID's chain at parentOffset, the child-side anchor slot.
// Single-cardinality is enforced on newParentID.
func (g *Graph) UpdateParentReference(childID, newParentID ids.ObjectID, parentOffset ids.RefOffset) (bool, error) {
	child, err := g.get(childID)
	if err != nil {
		return false, err
	}
	rel, err := g.cat.RelationshipAtChildSlot(child.Type, parentOffset)
	if err != nil {
		return false, g.violation(errs.KindInvalidReferenceOffset, "slot %d of type %d is not a child slot", parentOffset, child.Type)
	}

	newParent, err := g.get(newParentID)
	if err != nil {
		return false, err
	}
	if newAnchorID := refAt(newParent, rel.FirstChildSlot); newAnchorID != ids.InvalidObjectID && rel.Cardinality == catalog.CardinalityOne {
		anchor, err := g.get(newAnchorID)
		if err != nil {
			return false, err
		}
		if refAt(anchor, AnchorFirstChildSlot) != ids.InvalidObjectID {
			return false, g.violation(errs.KindSingleCardinalityViolation, "relationship %q is single-cardinality at slot %d", rel.Name, rel.FirstChildSlot)
		}
	}

	if anchorID := refAt(child, parentOffset); anchorID != ids.InvalidObjectID {
		anchor, err := g.get(anchorID)
		if err != nil {
			return false, err
		}
		oldParentID := refAt(anchor, AnchorParentSlot)
		if _, err := g.RemoveFromContainerByParent(oldParentID, childID, rel.FirstChildSlot); err != nil {
			return false, err
		}
	}

	return g.InsertIntoContainer(newParentID, childID, rel.FirstChildSlot)
}

// Children walks parentID's sibling chain at parentAnchorSlot and returns
// every member in chain order (head to tail), for the direct-access
// facade's reference_container iteration.
func (g *Graph) Children(parentID ids.ObjectID, parentAnchorSlot ids.RefOffset) ([]ids.ObjectID, error) {
	parent, err := g.get(parentID)
	if err != nil {
		return nil, err
	}
	rel, err := g.cat.RelationshipAtParentSlot(parent.Type, parentAnchorSlot)
	if err != nil {
		return nil, g.violation(errs.KindInvalidReferenceOffset, "slot %d of type %d is not a parent slot", parentAnchorSlot, parent.Type)
	}

	anchorID := refAt(parent, parentAnchorSlot)
	if anchorID == ids.InvalidObjectID {
		return nil, nil
	}
	anchor, err := g.get(anchorID)
	if err != nil {
		return nil, err
	}

	var out []ids.ObjectID
	for cur := refAt(anchor, AnchorFirstChildSlot); cur != ids.InvalidObjectID; {
		out = append(out, cur)
		child, err := g.get(cur)
		if err != nil {
			return nil, err
		}
		cur = refAt(child, rel.NextChildSlot)
	}
	return out, nil
}

// Delete unlinks id from every relationship it takes part in; it does not
// remove id's own record, which the caller retires afterwards. Walks every
// reference slot looking
// for anchors: if id is the parent side of a relationship with a
// nonempty chain, deletion fails with object_still_referenced unless
// force is true, in which case the chain is detached first. If id is a
// child, it is unlinked from its sibling chain. The RI check runs over
// every slot before any mutation, so a violation on a later slot never
// leaves an earlier slot's chain half-detached.
func (g *Graph) Delete(id ids.ObjectID, force bool) error {
	obj, err := g.get(id)
	if err != nil {
		return err
	}

	for slot := ids.RefOffset(0); int(slot) < len(obj.References); slot++ {
		anchorID := obj.References[slot]
		if anchorID == ids.InvalidObjectID {
			continue
		}
		anchor, err := g.get(anchorID)
		if err != nil {
			continue // stale/foreign reference slot, not an anchor
		}
		if refAt(anchor, AnchorParentSlot) != id {
			continue
		}
		if refAt(anchor, AnchorFirstChildSlot) == ids.InvalidObjectID {
			continue
		}
		if !force {
			return g.violation(errs.KindObjectStillReferenced, "object %d still has children under relationship anchor %d", id, anchorID)
		}
	}

	for slot := ids.RefOffset(0); int(slot) < len(obj.References); slot++ {
		anchorID := obj.References[slot]
		if anchorID == ids.InvalidObjectID {
			continue
		}
		anchor, err := g.get(anchorID)
		if err != nil {
			continue
		}

		if refAt(anchor, AnchorParentSlot) == id {
			if err := g.store.SetReferences(anchorID, map[ids.RefOffset]ids.ObjectID{AnchorParentSlot: ids.InvalidObjectID}); err != nil {
				return err
			}
			if refAt(anchor, AnchorFirstChildSlot) == ids.InvalidObjectID {
				if err := g.store.DeleteAnchor(anchorID); err != nil {
					return err
				}
			}
			continue
		}

		if _, relErr := g.cat.RelationshipAtChildSlot(obj.Type, slot); relErr != nil {
			continue
		}
		if _, err := g.RemoveFromContainerByChild(id, slot); err != nil {
			return err
		}
		slot += 2 // skip the next/prev slots just cleared on this object
	}

	log.WithComponent("refgraph").Debug().Uint64("object", uint64(id)).Bool("force", force).Msg("object deleted")
	return nil
}
