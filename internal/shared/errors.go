package shared

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies domain errors so the transport layer can map them
// to status codes without inspecting messages.
type Kind string

const (
	// KindNotFound indicates the entity id is absent from its family.
	KindNotFound Kind = "not_found"
	// KindReferentialIntegrity indicates a delete would orphan downstream records.
	KindReferentialIntegrity Kind = "referential_integrity"
	// KindInvariantViolation indicates a conservation or arithmetic invariant broke.
	KindInvariantViolation Kind = "invariant_violation"
	// KindInvalidReading indicates the roll-weight resolver rejected its input.
	KindInvalidReading Kind = "invalid_reading"
	// KindInsufficientStock indicates a debit would drive a remainder below zero.
	KindInsufficientStock Kind = "insufficient_stock"
	// KindInvalidTransition indicates a lifecycle transition is not allowed.
	KindInvalidTransition Kind = "invalid_transition"
	// KindConflictingIdentifier indicates the id generator could not resolve a collision.
	KindConflictingIdentifier Kind = "conflicting_identifier"
)

// Error is the structured error surfaced by every service mutation.
type Error struct {
	Kind      Kind
	Entity    string
	EntityID  string
	Invariant string
	Offenders []string
	Msg       string
	Err       error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Entity != "" {
		b.WriteString(": ")
		b.WriteString(e.Entity)
		if e.EntityID != "" {
			b.WriteString(" ")
			b.WriteString(e.EntityID)
		}
	}
	if e.Invariant != "" {
		b.WriteString(": ")
		b.WriteString(e.Invariant)
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if len(e.Offenders) > 0 {
		b.WriteString(" (cited by ")
		b.WriteString(strings.Join(e.Offenders, ", "))
		b.WriteString(")")
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches two shared errors by kind, so sentinel checks like
// errors.Is(err, shared.ErrNotFound) work regardless of detail fields.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinels for errors.Is checks.
var (
	ErrNotFound              = &Error{Kind: KindNotFound}
	ErrReferentialIntegrity  = &Error{Kind: KindReferentialIntegrity}
	ErrInvariantViolation    = &Error{Kind: KindInvariantViolation}
	ErrInvalidReading        = &Error{Kind: KindInvalidReading}
	ErrInsufficientStock     = &Error{Kind: KindInsufficientStock}
	ErrInvalidTransition     = &Error{Kind: KindInvalidTransition}
	ErrConflictingIdentifier = &Error{Kind: KindConflictingIdentifier}
)

// NotFound builds a not-found error for an entity family.
func NotFound(entity, id string) *Error {
	return &Error{Kind: KindNotFound, Entity: entity, EntityID: id}
}

// ReferentialIntegrity builds a delete-refusal error listing the offenders.
func ReferentialIntegrity(entity, id string, offenders []string) *Error {
	return &Error{Kind: KindReferentialIntegrity, Entity: entity, EntityID: id, Offenders: offenders}
}

// InvariantViolation names the first violated invariant.
func InvariantViolation(invariant, format string, args ...any) *Error {
	return &Error{Kind: KindInvariantViolation, Invariant: invariant, Msg: fmt.Sprintf(format, args...)}
}

// InvalidReading rejects a scale-reading vector.
func InvalidReading(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidReading, Msg: fmt.Sprintf(format, args...)}
}

// InsufficientStock rejects a debit that would go below zero.
func InsufficientStock(entity, id, format string, args ...any) *Error {
	return &Error{Kind: KindInsufficientStock, Entity: entity, EntityID: id, Msg: fmt.Sprintf(format, args...)}
}

// InvalidTransition rejects a lifecycle transition.
func InvalidTransition(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidTransition, Msg: fmt.Sprintf(format, args...)}
}

// ConflictingIdentifier reports an unresolvable generator collision.
func ConflictingIdentifier(family, id string) *Error {
	return &Error{Kind: KindConflictingIdentifier, Entity: family, EntityID: id}
}

// KindOf extracts the kind from any error chain, or "" for non-domain errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
