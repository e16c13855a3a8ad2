// Package vlr implements value-linked relationship auto-connect and
// auto-disconnect: when a field that backs a value-linked relationship is
// written, the affected side looks up a matching row on the other side
// through that row's index and reattaches the reference-graph chain
// accordingly, without the caller ever calling InsertIntoContainer itself.
package vlr

import (
	"github.com/cuemby/corestore/pkg/catalog"
	"github.com/cuemby/corestore/pkg/errs"
	"github.com/cuemby/corestore/pkg/holder"
	"github.com/cuemby/corestore/pkg/ids"
	"github.com/cuemby/corestore/pkg/index"
	"github.com/cuemby/corestore/pkg/key"
	"github.com/cuemby/corestore/pkg/log"
	"github.com/cuemby/corestore/pkg/metrics"
	"github.com/cuemby/corestore/pkg/record"
	"github.com/cuemby/corestore/pkg/refgraph"
)

// Arena resolves an arena offset to the record stored there; satisfied by
// *record.Arena. A matching index entry only carries an offset, so
// resolving it to the object id the reference graph addresses needs this.
type Arena interface {
	Get(offset ids.Offset) (record.Record, error)
}

// Indexes resolves an index id to its backing structure; satisfied by
// *indexmaint.Registry.
type Indexes interface {
	Index(indexID ids.IndexID) (index.Index, error)
}

// Connector runs auto-connect/auto-disconnect for value-linked
// relationships against a catalog of relationship metadata, the reference
// graph that materializes them, and the indexes used to find a match.
type Connector struct {
	cat   *catalog.Catalog
	store refgraph.Store
	graph *refgraph.Graph
	idx   Indexes
	arena Arena
}

// New returns a Connector bound to cat, store, graph, idx, and arena.
func New(cat *catalog.Catalog, store refgraph.Store, graph *refgraph.Graph, idx Indexes, arena Arena) *Connector {
	return &Connector{cat: cat, store: store, graph: graph, idx: idx, arena: arena}
}

func refAt(obj record.Record, slot ids.RefOffset) ids.ObjectID {
	if int(slot) >= len(obj.References) {
		return ids.InvalidObjectID
	}
	return obj.References[slot]
}

// indexForField finds the single-field index declared over typeID's field
// pos, if one exists. A value-linked relationship with no such index on
// either side can never auto-connect; that is a catalog configuration
// error surfaced only when a write actually tries to use it.
func (c *Connector) indexForField(typeID ids.TypeID, pos ids.FieldPosition) (ids.IndexID, bool) {
	for _, ix := range c.cat.ListIndexes(typeID) {
		if len(ix.Fields) == 1 && ix.Fields[0] == pos {
			return ix.ID, true
		}
	}
	return 0, false
}

// findOne returns the id of one row of typeID whose field at pos equals
// val, using that field's index. Returns found=false if no such index
// exists yet or no row currently matches.
func (c *Connector) findOne(typeID ids.TypeID, pos ids.FieldPosition, val holder.Holder) (ids.ObjectID, bool, error) {
	indexID, ok := c.indexForField(typeID, pos)
	if !ok {
		return 0, false, nil
	}
	idx, err := c.idx.Index(indexID)
	if err != nil {
		return 0, false, err
	}
	entries := idx.Find(key.New(val))
	if len(entries) == 0 {
		return 0, false, nil
	}
	rec, err := c.arena.Get(entries[0].Offset)
	if err != nil {
		return 0, false, err
	}
	return rec.ID, true, nil
}

// findOneExcluding is findOne restricted to matches other than excludeID,
// for a same-table sibling search where the row doing the search is
// itself indexed under val and must not match itself.
func (c *Connector) findOneExcluding(typeID ids.TypeID, pos ids.FieldPosition, val holder.Holder, excludeID ids.ObjectID) (ids.ObjectID, bool, error) {
	indexID, ok := c.indexForField(typeID, pos)
	if !ok {
		return 0, false, nil
	}
	idx, err := c.idx.Index(indexID)
	if err != nil {
		return 0, false, err
	}
	for _, e := range idx.Find(key.New(val)) {
		rec, err := c.arena.Get(e.Offset)
		if err != nil {
			return 0, false, err
		}
		if rec.ID == excludeID {
			continue
		}
		return rec.ID, true, nil
	}
	return 0, false, nil
}

// currentChild returns the head of parentID's sibling chain at
// firstChildSlot, or ids.InvalidObjectID if the parent has no anchor or
// the anchor's chain is empty.
func (c *Connector) currentChild(parentID ids.ObjectID, firstChildSlot ids.RefOffset) ids.ObjectID {
	parent, ok := c.store.Get(parentID)
	if !ok {
		return ids.InvalidObjectID
	}
	anchorID := refAt(parent, firstChildSlot)
	if anchorID == ids.InvalidObjectID {
		return ids.InvalidObjectID
	}
	anchor, ok := c.store.Get(anchorID)
	if !ok {
		return ids.InvalidObjectID
	}
	return refAt(anchor, refgraph.AnchorFirstChildSlot)
}

// connect attaches childID under parentID at rel's parent slot. If childID
// already belongs to a different chain (a stale value-linked connection
// to some other parent), it is detached first so the new connection can
// be made; InsertIntoContainer itself stays a no-op if childID is already
// exactly where it belongs.
func (c *Connector) connect(parentID, childID ids.ObjectID, rel *catalog.Relationship) error {
	_, err := c.graph.InsertIntoContainer(parentID, childID, rel.FirstChildSlot)
	if err == nil {
		return nil
	}
	if errs.OfKind(err) != errs.KindChildAlreadyReferenced {
		return err
	}
	if _, derr := c.graph.RemoveFromContainerByChild(childID, rel.ParentSlot); derr != nil {
		return derr
	}
	_, err = c.graph.InsertIntoContainer(parentID, childID, rel.FirstChildSlot)
	return err
}

// ParentSideAutoConnect runs when fieldPos of parentID (of type
// parentType) has just been written with newVal. For every value-linked
// relationship whose parent field is fieldPos, the head of parentID's
// current chain (if any) is disconnected and, if some row of the child
// table now has a matching value in its linked field, that one row is
// detached from whatever chain it is in and connected under parentID's own
// anchor. Other rows in the matched row's former chain, and that chain's
// anchor, are not adopted.
func (c *Connector) ParentSideAutoConnect(parentID ids.ObjectID, parentType ids.TypeID, fieldPos ids.FieldPosition, newVal holder.Holder) error {
	for _, rel := range c.cat.ListRelationshipsFrom(parentType) {
		if !rel.IsValueLinked || rel.ParentFieldPos != fieldPos {
			continue
		}
		if oldHead := c.currentChild(parentID, rel.FirstChildSlot); oldHead != ids.InvalidObjectID {
			if _, err := c.graph.RemoveFromContainerByChild(oldHead, rel.ParentSlot); err != nil {
				return err
			}
		}

		childID, found, err := c.findOne(rel.ChildType, rel.ChildFieldPos, newVal)
		if err != nil {
			return err
		}
		if !found {
			continue
		}
		if err := c.connect(parentID, childID, rel); err != nil {
			return err
		}
		metrics.AutoConnectOperations.WithLabelValues("parent_side").Inc()
		log.WithComponent("vlr").Debug().
			Uint64("parent", uint64(parentID)).Uint64("child", uint64(childID)).
			Str("relationship", rel.Name).Msg("parent-side auto-connect")
	}
	return nil
}

// ChildSideAutoConnect runs when fieldPos of childID (of type childType)
// has just been written with newVal. For every value-linked relationship
// whose child field is fieldPos, childID is disconnected from its current
// chain (if any), then reattached by a three-way search: a parent row
// with a matching field wins first; failing that, another child row with
// the same field value (spliced into that row's existing anchor chain,
// parent or not); failing that too, childID gets a new anchor of its own
// with no parent side. A later matching parent write does not adopt that
// anchor; see ParentSideAutoConnect.
func (c *Connector) ChildSideAutoConnect(childID ids.ObjectID, childType ids.TypeID, fieldPos ids.FieldPosition, newVal holder.Holder) error {
	for _, rel := range c.cat.ListRelationshipsTo(childType) {
		if !rel.IsValueLinked || rel.ChildFieldPos != fieldPos {
			continue
		}
		if child, ok := c.store.Get(childID); ok && refAt(child, rel.ParentSlot) != ids.InvalidObjectID {
			if _, err := c.graph.RemoveFromContainerByChild(childID, rel.ParentSlot); err != nil {
				return err
			}
		}

		parentID, found, err := c.findOne(rel.ParentType, rel.ParentFieldPos, newVal)
		if err != nil {
			return err
		}
		if found {
			if err := c.connect(parentID, childID, rel); err != nil {
				return err
			}
			metrics.AutoConnectOperations.WithLabelValues("child_side").Inc()
			log.WithComponent("vlr").Debug().
				Uint64("child", uint64(childID)).Uint64("parent", uint64(parentID)).
				Str("relationship", rel.Name).Msg("child-side auto-connect: matched parent")
			continue
		}

		siblingID, found, err := c.findOneExcluding(rel.ChildType, rel.ChildFieldPos, newVal, childID)
		if err != nil {
			return err
		}
		if found {
			if err := c.attachSibling(childID, siblingID, rel); err != nil {
				return err
			}
			metrics.AutoConnectOperations.WithLabelValues("child_side").Inc()
			log.WithComponent("vlr").Debug().
				Uint64("child", uint64(childID)).Uint64("sibling", uint64(siblingID)).
				Str("relationship", rel.Name).Msg("child-side auto-connect: joined sibling anchor")
			continue
		}

		if err := c.createLoneAnchor(childID, rel); err != nil {
			return err
		}
		metrics.AutoConnectOperations.WithLabelValues("child_side").Inc()
		log.WithComponent("vlr").Debug().
			Uint64("child", uint64(childID)).
			Str("relationship", rel.Name).Msg("child-side auto-connect: created lone anchor")
	}
	return nil
}

// attachSibling splices childID into siblingID's existing anchor chain as
// the new head, without requiring siblingID's anchor to have a live
// parent side. Mirrors refgraph.Graph.InsertIntoContainer's chain-prepend
// logic, but addresses the anchor through an already-connected sibling
// instead of through a parent row, since no parent match exists here.
func (c *Connector) attachSibling(childID, siblingID ids.ObjectID, rel *catalog.Relationship) error {
	sibling, ok := c.store.Get(siblingID)
	if !ok {
		return errs.New(errs.KindInvalidObjectID, "object %d not found", siblingID)
	}
	anchorID := refAt(sibling, rel.ParentSlot)
	if anchorID == ids.InvalidObjectID {
		return errs.New(errs.KindInvalidReferenceOffset, "object %d has no anchor at slot %d", siblingID, rel.ParentSlot)
	}
	anchor, ok := c.store.Get(anchorID)
	if !ok {
		return errs.New(errs.KindInvalidObjectID, "anchor %d not found", anchorID)
	}
	oldHead := refAt(anchor, refgraph.AnchorFirstChildSlot)
	if err := c.store.SetReferences(childID, map[ids.RefOffset]ids.ObjectID{
		rel.ParentSlot:    anchorID,
		rel.NextChildSlot: oldHead,
		rel.PrevChildSlot: ids.InvalidObjectID,
	}); err != nil {
		return err
	}
	if err := c.store.SetReferences(anchorID, map[ids.RefOffset]ids.ObjectID{refgraph.AnchorFirstChildSlot: childID}); err != nil {
		return err
	}
	if oldHead != ids.InvalidObjectID {
		if err := c.store.SetReferences(oldHead, map[ids.RefOffset]ids.ObjectID{rel.PrevChildSlot: childID}); err != nil {
			return err
		}
	}
	return nil
}

// createLoneAnchor gives childID a fresh anchor with no parent side, so it
// still has a chain a later ChildSideAutoConnect call for another row with
// the same value can join through attachSibling. ParentSideAutoConnect
// never attaches this anchor to a parent.
func (c *Connector) createLoneAnchor(childID ids.ObjectID, rel *catalog.Relationship) error {
	anchorID, err := c.store.CreateAnchor(ids.InvalidObjectID, childID)
	if err != nil {
		return err
	}
	return c.store.SetReferences(childID, map[ids.RefOffset]ids.ObjectID{rel.ParentSlot: anchorID})
}
