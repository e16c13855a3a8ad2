package refgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/corestore/pkg/catalog"
	"github.com/cuemby/corestore/pkg/errs"
	"github.com/cuemby/corestore/pkg/ids"
	"github.com/cuemby/corestore/pkg/record"
)

// memStore is a minimal in-memory Store used only to exercise Graph; it
// keeps one record version per id and never reclaims ids.
type memStore struct {
	objs   map[ids.ObjectID]record.Record
	nextID ids.ObjectID
}

func newMemStore() *memStore {
	return &memStore{objs: make(map[ids.ObjectID]record.Record), nextID: 1}
}

func (s *memStore) alloc() ids.ObjectID {
	id := s.nextID
	s.nextID++
	return id
}

func (s *memStore) put(typ ids.TypeID, numRefs int) ids.ObjectID {
	id := s.alloc()
	s.objs[id] = record.Record{ID: id, Type: typ, References: make([]ids.ObjectID, numRefs)}
	return id
}

func (s *memStore) Get(id ids.ObjectID) (record.Record, bool) {
	r, ok := s.objs[id]
	return r, ok
}

func (s *memStore) SetReferences(id ids.ObjectID, updates map[ids.RefOffset]ids.ObjectID) error {
	r, ok := s.objs[id]
	if !ok {
		return errs.New(errs.KindInvalidObjectID, "no such object %d", id)
	}
	refs := append([]ids.ObjectID(nil), r.References...)
	for slot, target := range updates {
		for int(slot) >= len(refs) {
			refs = append(refs, ids.InvalidObjectID)
		}
		refs[slot] = target
	}
	r.References = refs
	s.objs[id] = r
	return nil
}

const anchorTypeID ids.TypeID = 999

func (s *memStore) CreateAnchor(parentID, firstChildID ids.ObjectID) (ids.ObjectID, error) {
	id := s.put(anchorTypeID, 2)
	_ = s.SetReferences(id, map[ids.RefOffset]ids.ObjectID{
		AnchorParentSlot:     parentID,
		AnchorFirstChildSlot: firstChildID,
	})
	return id, nil
}

func (s *memStore) DeleteAnchor(id ids.ObjectID) error {
	delete(s.objs, id)
	return nil
}

// testFixture builds a doctor(parent)/patient(child) one-to-many
// relationship: parent slot 0 is the anchor (first_child) slot, child
// slots are [0]=parent anchor, [1]=next, [2]=prev.
func testFixture(t *testing.T, cardinality catalog.Cardinality) (*Graph, *memStore, ids.TypeID, ids.TypeID) {
	t.Helper()
	cat := catalog.New()
	parentType, err := cat.CreateTable("doctor", false, nil)
	require.NoError(t, err)
	childType, err := cat.CreateTable("patient", false, nil)
	require.NoError(t, err)

	require.NoError(t, cat.CreateRelationship(catalog.Relationship{
		Name:           "treats",
		ParentType:     parentType,
		ChildType:      childType,
		Cardinality:    cardinality,
		FirstChildSlot: 0,
		ParentSlot:     0,
		NextChildSlot:  1,
		PrevChildSlot:  2,
	}))

	store := newMemStore()
	return New(cat, store), store, parentType, childType
}

func TestInsertIntoContainer_CreatesAnchorOnFirstChild(t *testing.T) {
	g, store, parentType, childType := testFixture(t, catalog.CardinalityMany)
	parent := store.put(parentType, 1)
	child := store.put(childType, 3)

	ok, err := g.InsertIntoContainer(parent, child, 0)
	require.NoError(t, err)
	assert.True(t, ok)

	p, _ := store.Get(parent)
	anchorID := p.References[0]
	assert.NotEqual(t, ids.InvalidObjectID, anchorID)

	c, _ := store.Get(child)
	assert.Equal(t, anchorID, c.References[0])
}

func TestInsertIntoContainer_IdempotentOnSameChild(t *testing.T) {
	g, store, parentType, childType := testFixture(t, catalog.CardinalityMany)
	parent := store.put(parentType, 1)
	child := store.put(childType, 3)

	_, err := g.InsertIntoContainer(parent, child, 0)
	require.NoError(t, err)

	ok, err := g.InsertIntoContainer(parent, child, 0)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInsertIntoContainer_ChildAlreadyReferencedFails(t *testing.T) {
	g, store, parentType, childType := testFixture(t, catalog.CardinalityMany)
	parent1 := store.put(parentType, 1)
	parent2 := store.put(parentType, 1)
	child := store.put(childType, 3)

	_, err := g.InsertIntoContainer(parent1, child, 0)
	require.NoError(t, err)

	_, err = g.InsertIntoContainer(parent2, child, 0)
	require.Error(t, err)
	assert.Equal(t, errs.KindChildAlreadyReferenced, errs.OfKind(err))
}

func TestInsertIntoContainer_SingleCardinalityViolation(t *testing.T) {
	g, store, parentType, childType := testFixture(t, catalog.CardinalityOne)
	parent := store.put(parentType, 1)
	child1 := store.put(childType, 3)
	child2 := store.put(childType, 3)

	_, err := g.InsertIntoContainer(parent, child1, 0)
	require.NoError(t, err)

	_, err = g.InsertIntoContainer(parent, child2, 0)
	require.Error(t, err)
	assert.Equal(t, errs.KindSingleCardinalityViolation, errs.OfKind(err))
}

func TestRemoveFromContainerByParent_UnlinksMiddleChild(t *testing.T) {
	g, store, parentType, childType := testFixture(t, catalog.CardinalityMany)
	parent := store.put(parentType, 1)
	c1 := store.put(childType, 3)
	c2 := store.put(childType, 3)
	c3 := store.put(childType, 3)

	for _, c := range []ids.ObjectID{c1, c2, c3} {
		_, err := g.InsertIntoContainer(parent, c, 0)
		require.NoError(t, err)
	}
	// chain head is c3 -> c2 -> c1 (each insert prepends)

	ok, err := g.RemoveFromContainerByParent(parent, c2, 0)
	require.NoError(t, err)
	assert.True(t, ok)

	c3rec, _ := store.Get(c3)
	assert.Equal(t, c1, c3rec.References[1]) // next

	c1rec, _ := store.Get(c1)
	assert.Equal(t, c3, c1rec.References[2]) // prev

	c2rec, _ := store.Get(c2)
	assert.Equal(t, ids.InvalidObjectID, c2rec.References[0])
}

func TestChildren_ReturnsChainInHeadToTailOrder(t *testing.T) {
	g, store, parentType, childType := testFixture(t, catalog.CardinalityMany)
	parent := store.put(parentType, 1)
	c1 := store.put(childType, 3)
	c2 := store.put(childType, 3)
	c3 := store.put(childType, 3)

	for _, c := range []ids.ObjectID{c1, c2, c3} {
		_, err := g.InsertIntoContainer(parent, c, 0)
		require.NoError(t, err)
	}
	// each insert prepends, so chain head is c3 -> c2 -> c1

	got, err := g.Children(parent, 0)
	require.NoError(t, err)
	assert.Equal(t, []ids.ObjectID{c3, c2, c1}, got)
}

func TestChildren_EmptyChainReturnsNil(t *testing.T) {
	g, store, parentType, _ := testFixture(t, catalog.CardinalityMany)
	parent := store.put(parentType, 1)

	got, err := g.Children(parent, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRemoveFromContainerByParent_LastChildDeletesAnchor(t *testing.T) {
	g, store, parentType, childType := testFixture(t, catalog.CardinalityMany)
	parent := store.put(parentType, 1)
	child := store.put(childType, 3)

	_, err := g.InsertIntoContainer(parent, child, 0)
	require.NoError(t, err)
	p, _ := store.Get(parent)
	anchorID := p.References[0]
	// Detach the parent side first so the anchor has no parent.
	require.NoError(t, g.Delete(parent, true))

	_, err = g.RemoveFromContainerByParent(parent, child, 0)
	require.NoError(t, err)

	_, exists := store.Get(anchorID)
	assert.False(t, exists, "anchor should be deleted once its only child is removed and it has no parent")
}

func TestDelete_FailsWhenChildrenExist(t *testing.T) {
	g, store, parentType, childType := testFixture(t, catalog.CardinalityMany)
	parent := store.put(parentType, 1)
	child := store.put(childType, 3)
	_, err := g.InsertIntoContainer(parent, child, 0)
	require.NoError(t, err)

	err = g.Delete(parent, false)
	require.Error(t, err)
	assert.Equal(t, errs.KindObjectStillReferenced, errs.OfKind(err))
}

func TestDelete_ForceDetachesChildren(t *testing.T) {
	g, store, parentType, childType := testFixture(t, catalog.CardinalityMany)
	parent := store.put(parentType, 1)
	child1 := store.put(childType, 3)
	child2 := store.put(childType, 3)
	_, err := g.InsertIntoContainer(parent, child1, 0)
	require.NoError(t, err)
	_, err = g.InsertIntoContainer(parent, child2, 0)
	require.NoError(t, err)

	require.NoError(t, g.Delete(parent, true))

	c1, _ := store.Get(child1)
	c2, _ := store.Get(child2)
	assert.NotEqual(t, ids.InvalidObjectID, c1.References[0], "children remain attached to their (now parentless) anchor")
	assert.NotEqual(t, ids.InvalidObjectID, c2.References[0])
}

func TestUpdateParentReference_MovesChildBetweenParents(t *testing.T) {
	g, store, parentType, childType := testFixture(t, catalog.CardinalityMany)
	p1 := store.put(parentType, 1)
	p2 := store.put(parentType, 1)
	child := store.put(childType, 3)

	_, err := g.InsertIntoContainer(p1, child, 0)
	require.NoError(t, err)

	ok, err := g.UpdateParentReference(child, p2, 0)
	require.NoError(t, err)
	assert.True(t, ok)

	p2rec, _ := store.Get(p2)
	c, _ := store.Get(child)
	assert.Equal(t, p2rec.References[0], c.References[0])
}
