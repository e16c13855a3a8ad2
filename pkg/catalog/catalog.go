// Package catalog holds the table/field/relationship/index metadata that
// describes every table in the engine. It is itself bootstrapped data
// shared by every session rather than object-store rows: mutations take
// effect immediately under a package-level lock, not through MVCC, since
// no §8 testable scenario requires catalog metadata to be index-scannable
// and the spec's own Non-goals exclude a DDL parser front-end, not a
// lighter-weight in-memory catalog.
package catalog

import (
	"sync"

	"github.com/cuemby/corestore/pkg/errs"
	"github.com/cuemby/corestore/pkg/holder"
	"github.com/cuemby/corestore/pkg/ids"
	"github.com/cuemby/corestore/pkg/log"
	"github.com/cuemby/corestore/pkg/payload"
)

// Cardinality constrains the length of a relationship's child chain.
type Cardinality uint8

const (
	CardinalityOne Cardinality = iota
	CardinalityMany
)

// IndexKind selects the index implementation backing an Index.
type IndexKind uint8

const (
	IndexKindHash IndexKind = iota
	IndexKindRange
)

// Field describes one column of a table's binary schema.
type Field struct {
	Name     string
	Kind     holder.Kind
	Optional bool
	Repeated bool
	Position ids.FieldPosition
	Active   bool
}

// Table describes a table (and the objects of its type).
type Table struct {
	Name     string
	TypeID   ids.TypeID
	IsSystem bool
	Fields   []Field
}

// Schema projects t's fields into the payload package's compact schema
// representation for encode/decode.
func (t Table) Schema() payload.Schema {
	fields := make([]payload.FieldDesc, len(t.Fields))
	for i, f := range t.Fields {
		fields[i] = payload.FieldDesc{
			Name:     f.Name,
			Kind:     f.Kind,
			Position: uint16(f.Position),
			Repeated: f.Repeated,
			Active:   f.Active,
		}
	}
	return payload.Schema{Fields: fields}
}

// Relationship describes a one-to-one or one-to-many edge between a
// parent and child table, materialized via an anchor object.
type Relationship struct {
	Name            string
	ParentType      ids.TypeID
	ChildType       ids.TypeID
	Cardinality     Cardinality
	FirstChildSlot  ids.RefOffset // in parent's references
	ParentSlot      ids.RefOffset // in child's references: anchor id
	NextChildSlot   ids.RefOffset // in child's references
	PrevChildSlot   ids.RefOffset // in child's references
	IsValueLinked   bool
	ParentFieldPos  ids.FieldPosition // valid iff IsValueLinked
	ChildFieldPos   ids.FieldPosition // valid iff IsValueLinked
}

// Index describes a secondary index over one or more fields of a table.
type Index struct {
	ID       ids.IndexID
	Name     string
	TypeID   ids.TypeID
	Fields   []ids.FieldPosition
	Kind     IndexKind
	IsUnique bool
}

// Catalog is the shared, process-wide metadata store. The zero value is
// not usable; construct with New.
type Catalog struct {
	mu sync.RWMutex

	tables        map[ids.TypeID]*Table
	tablesByName  map[string]ids.TypeID
	relationships map[ids.TypeID][]*Relationship // keyed by parent type
	relByChild    map[ids.TypeID][]*Relationship // keyed by child type
	indexes       map[ids.TypeID][]*Index
	indexByID     map[ids.IndexID]*Index

	nextType  ids.TypeID
	nextIndex ids.IndexID
}

// New returns an empty Catalog.
func New() *Catalog {
	return &Catalog{
		tables:        make(map[ids.TypeID]*Table),
		tablesByName:  make(map[string]ids.TypeID),
		relationships: make(map[ids.TypeID][]*Relationship),
		relByChild:    make(map[ids.TypeID][]*Relationship),
		indexes:       make(map[ids.TypeID][]*Index),
		indexByID:     make(map[ids.IndexID]*Index),
		nextType:      1,
		nextIndex:     1,
	}
}

// CreateTable registers a new table and returns its allocated TypeID.
// Fails with errs.KindDuplicateTable if name is already registered.
func (c *Catalog) CreateTable(name string, isSystem bool, fields []Field) (ids.TypeID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.tablesByName[name]; exists {
		return 0, errs.New(errs.KindDuplicateTable, "table %q already exists", name)
	}

	typeID := c.nextType
	c.nextType++

	cp := make([]Field, len(fields))
	copy(cp, fields)

	t := &Table{Name: name, TypeID: typeID, IsSystem: isSystem, Fields: cp}
	c.tables[typeID] = t
	c.tablesByName[name] = typeID

	log.WithComponent("catalog").Debug().Str("table", name).Uint32("type_id", uint32(typeID)).Msg("table created")
	return typeID, nil
}

// Table returns the table registered under typeID.
func (c *Catalog) Table(typeID ids.TypeID) (*Table, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tables[typeID]
	if !ok {
		return nil, errs.New(errs.KindTableNotFound, "type %d not found", typeID)
	}
	return t, nil
}

// TableByName resolves a table name to its TypeID.
func (c *Catalog) TableByName(name string) (ids.TypeID, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	typeID, ok := c.tablesByName[name]
	if !ok {
		return 0, errs.New(errs.KindTableNotFound, "table %q not found", name)
	}
	return typeID, nil
}

// ListTables returns every registered table.
func (c *Catalog) ListTables() []*Table {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Table, 0, len(c.tables))
	for _, t := range c.tables {
		out = append(out, t)
	}
	return out
}

// ListFields returns the fields of typeID's table.
func (c *Catalog) ListFields(typeID ids.TypeID) ([]Field, error) {
	t, err := c.Table(typeID)
	if err != nil {
		return nil, err
	}
	return t.Fields, nil
}

// CreateRelationship registers a parent/child relationship. The caller
// supplies slot assignments; the catalog does not allocate them since they
// must match the slots already compiled into each table's reference
// array layout.
func (c *Catalog) CreateRelationship(rel Relationship) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.tables[rel.ParentType]; !ok {
		return errs.New(errs.KindTableNotFound, "parent type %d not found", rel.ParentType)
	}
	if _, ok := c.tables[rel.ChildType]; !ok {
		return errs.New(errs.KindTableNotFound, "child type %d not found", rel.ChildType)
	}

	r := rel
	c.relationships[rel.ParentType] = append(c.relationships[rel.ParentType], &r)
	c.relByChild[rel.ChildType] = append(c.relByChild[rel.ChildType], &r)
	return nil
}

// ListRelationshipsFrom returns relationships where typeID is the parent.
func (c *Catalog) ListRelationshipsFrom(typeID ids.TypeID) []*Relationship {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]*Relationship(nil), c.relationships[typeID]...)
}

// ListRelationshipsTo returns relationships where typeID is the child.
func (c *Catalog) ListRelationshipsTo(typeID ids.TypeID) []*Relationship {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]*Relationship(nil), c.relByChild[typeID]...)
}

// RelationshipAtParentSlot finds the relationship whose FirstChildSlot is
// slot in the parent table typeID.
func (c *Catalog) RelationshipAtParentSlot(typeID ids.TypeID, slot ids.RefOffset) (*Relationship, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, r := range c.relationships[typeID] {
		if r.FirstChildSlot == slot {
			return r, nil
		}
	}
	return nil, errs.New(errs.KindInvalidRelationshipType, "no relationship at parent slot %d of type %d", slot, typeID)
}

// RelationshipAtChildSlot finds the relationship whose ParentSlot is slot
// in the child table typeID.
func (c *Catalog) RelationshipAtChildSlot(typeID ids.TypeID, slot ids.RefOffset) (*Relationship, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, r := range c.relByChild[typeID] {
		if r.ParentSlot == slot {
			return r, nil
		}
	}
	return nil, errs.New(errs.KindInvalidRelationshipType, "no relationship at child slot %d of type %d", slot, typeID)
}

// CreateIndex registers a secondary index and returns its allocated
// IndexID.
func (c *Catalog) CreateIndex(name string, typeID ids.TypeID, fields []ids.FieldPosition, kind IndexKind, unique bool) (ids.IndexID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.tables[typeID]; !ok {
		return 0, errs.New(errs.KindTableNotFound, "type %d not found", typeID)
	}

	idxID := c.nextIndex
	c.nextIndex++

	cp := make([]ids.FieldPosition, len(fields))
	copy(cp, fields)

	idx := &Index{ID: idxID, Name: name, TypeID: typeID, Fields: cp, Kind: kind, IsUnique: unique}
	c.indexes[typeID] = append(c.indexes[typeID], idx)
	c.indexByID[idxID] = idx
	return idxID, nil
}

// ListIndexes returns the indexes declared over typeID.
func (c *Catalog) ListIndexes(typeID ids.TypeID) []*Index {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]*Index(nil), c.indexes[typeID]...)
}

// Index resolves an IndexID to its descriptor.
func (c *Catalog) Index(indexID ids.IndexID) (*Index, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	idx, ok := c.indexByID[indexID]
	if !ok {
		return nil, errs.New(errs.KindIndexNotFound, "index %d not found", indexID)
	}
	return idx, nil
}
