// Package ids defines the small integer identity types shared across the
// storage engine: object ids, locators, arena offsets, transaction ids,
// type ids, and the positional types used to address fields and reference
// slots within an object record.
package ids

// ObjectID is a stable, process-unique, monotonically allocated object
// identity. Deleted ids are never reused.
type ObjectID uint64

// InvalidObjectID marks the absence of an object reference.
const InvalidObjectID ObjectID = 0

// Locator names an object independently of where its current record lives.
// It is a process-local small integer; locator 0 is never allocated.
type Locator uint32

// InvalidLocator marks the absence of a locator.
const InvalidLocator Locator = 0

// Offset is a position in the shared object arena where a specific record
// version lives. Offset 0 means "no current record".
type Offset uint64

// InvalidOffset means the locator currently names no record (deleted, or
// never materialized).
const InvalidOffset Offset = 0

// TxnID is a monotonically increasing transaction timestamp, used both as
// begin_ts and commit_ts. Commit order is total.
type TxnID uint64

// TypeID identifies a table (and the type of objects stored in it).
type TypeID uint32

// RefOffset addresses a single reference slot within an object record's
// references array.
type RefOffset uint16

// InvalidRefOffset marks "no such slot".
const InvalidRefOffset RefOffset = ^RefOffset(0)

// FieldPosition addresses a single field within a table's binary schema.
type FieldPosition uint16

// InvalidFieldPosition marks "no such field".
const InvalidFieldPosition FieldPosition = ^FieldPosition(0)

// IndexID identifies a secondary index.
type IndexID uint64
