// Package errs defines the error vocabulary shared across the storage
// engine. Instead of a distinct Go type per failure mode, every failure is
// represented by a single Error value carrying a Kind; callers use
// errors.Is against the exported sentinel values to discriminate.
package errs

import (
	"errors"
	"fmt"
)

// Kind enumerates the error categories raised by the engine.
type Kind int

const (
	// KindUnknown is the zero value; never returned by the engine itself.
	KindUnknown Kind = iota

	// Session/transaction lifecycle.
	KindSessionExists
	KindNoSessionActive
	KindTxInProgress
	KindTxNotOpen
	KindTxUpdateConflict

	// Identity.
	KindInvalidObjectID
	KindDuplicateID
	KindInvalidObjectType

	// Schema.
	KindInvalidFieldPosition
	KindInvalidReferenceOffset
	KindInvalidRelationshipType

	// Referential integrity.
	KindObjectStillReferenced
	KindChildAlreadyReferenced
	KindInvalidChildReference
	KindSingleCardinalityViolation

	// Index.
	KindIndexNotFound
	KindInvalidIndexType
	KindUniqueConstraintViolation
	KindIndexOperationNotSupported

	// Resource.
	KindOutOfMemory
	KindOOM

	// Optional values.
	KindOptionalValueNotFound

	// Catalog lookups not named directly by the source taxonomy but
	// needed by a DDL surface; kept distinct from invalid_object_type so
	// "no such table" and "wrong type for this slot" don't collide.
	KindTableNotFound
	KindFieldNotFound
	KindDuplicateTable
	KindInvalidSchema

	// Direct-access / predicate errors.
	KindInvalidPredicate
	KindTypeMismatch
)

// String returns a short lower_snake_case label matching the engine's error
// names, suitable for logs and metric labels.
func (k Kind) String() string {
	switch k {
	case KindSessionExists:
		return "session_exists"
	case KindNoSessionActive:
		return "no_session_active"
	case KindTxInProgress:
		return "tx_in_progress"
	case KindTxNotOpen:
		return "tx_not_open"
	case KindTxUpdateConflict:
		return "tx_update_conflict"
	case KindInvalidObjectID:
		return "invalid_object_id"
	case KindDuplicateID:
		return "duplicate_id"
	case KindInvalidObjectType:
		return "invalid_object_type"
	case KindInvalidFieldPosition:
		return "invalid_field_position"
	case KindInvalidReferenceOffset:
		return "invalid_reference_offset"
	case KindInvalidRelationshipType:
		return "invalid_relationship_type"
	case KindObjectStillReferenced:
		return "object_still_referenced"
	case KindChildAlreadyReferenced:
		return "child_already_referenced"
	case KindInvalidChildReference:
		return "invalid_child_reference"
	case KindSingleCardinalityViolation:
		return "single_cardinality_violation"
	case KindIndexNotFound:
		return "index_not_found"
	case KindInvalidIndexType:
		return "invalid_index_type"
	case KindUniqueConstraintViolation:
		return "unique_constraint_violation"
	case KindIndexOperationNotSupported:
		return "index_operation_not_supported"
	case KindOutOfMemory:
		return "out_of_memory"
	case KindOOM:
		return "oom"
	case KindOptionalValueNotFound:
		return "optional_value_not_found"
	case KindTableNotFound:
		return "table_not_found"
	case KindFieldNotFound:
		return "field_not_found"
	case KindDuplicateTable:
		return "duplicate_table"
	case KindInvalidSchema:
		return "invalid_schema"
	case KindInvalidPredicate:
		return "invalid_predicate"
	case KindTypeMismatch:
		return "type_mismatch"
	default:
		return "unknown"
	}
}

// Error is the single error type returned by the engine. Kind classifies
// the failure; Msg carries human-readable detail; Err wraps an underlying
// cause when one exists (e.g. a persistence sink failure).
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Kind.String()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Unwrap exposes the wrapped cause, if any, to errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same Kind, which is how
// callers test against the sentinel values below:
//
//	if errors.Is(err, errs.ErrInvalidObjectID) { ... }
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New builds an *Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error of the given kind that wraps cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: cause}
}

// OfKind reports the Kind of err if err is (or wraps) an *Error, and
// KindUnknown otherwise.
func OfKind(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Sentinel values for errors.Is comparisons. Only Kind is compared, so the
// Msg/Err fields on these values are never populated or inspected.
var (
	ErrSessionExists              = &Error{Kind: KindSessionExists}
	ErrNoSessionActive            = &Error{Kind: KindNoSessionActive}
	ErrTxInProgress               = &Error{Kind: KindTxInProgress}
	ErrTxNotOpen                  = &Error{Kind: KindTxNotOpen}
	ErrTxUpdateConflict           = &Error{Kind: KindTxUpdateConflict}
	ErrInvalidObjectID            = &Error{Kind: KindInvalidObjectID}
	ErrDuplicateID                = &Error{Kind: KindDuplicateID}
	ErrInvalidObjectType          = &Error{Kind: KindInvalidObjectType}
	ErrInvalidFieldPosition       = &Error{Kind: KindInvalidFieldPosition}
	ErrInvalidReferenceOffset     = &Error{Kind: KindInvalidReferenceOffset}
	ErrInvalidRelationshipType    = &Error{Kind: KindInvalidRelationshipType}
	ErrObjectStillReferenced      = &Error{Kind: KindObjectStillReferenced}
	ErrChildAlreadyReferenced     = &Error{Kind: KindChildAlreadyReferenced}
	ErrInvalidChildReference      = &Error{Kind: KindInvalidChildReference}
	ErrSingleCardinalityViolation = &Error{Kind: KindSingleCardinalityViolation}
	ErrIndexNotFound              = &Error{Kind: KindIndexNotFound}
	ErrInvalidIndexType           = &Error{Kind: KindInvalidIndexType}
	ErrUniqueConstraintViolation  = &Error{Kind: KindUniqueConstraintViolation}
	ErrIndexOperationNotSupported = &Error{Kind: KindIndexOperationNotSupported}
	ErrOutOfMemory                = &Error{Kind: KindOutOfMemory}
	ErrOOM                        = &Error{Kind: KindOOM}
	ErrOptionalValueNotFound      = &Error{Kind: KindOptionalValueNotFound}
	ErrTableNotFound              = &Error{Kind: KindTableNotFound}
	ErrFieldNotFound              = &Error{Kind: KindFieldNotFound}
	ErrDuplicateTable             = &Error{Kind: KindDuplicateTable}
	ErrInvalidSchema              = &Error{Kind: KindInvalidSchema}
	ErrInvalidPredicate           = &Error{Kind: KindInvalidPredicate}
	ErrTypeMismatch               = &Error{Kind: KindTypeMismatch}
)
