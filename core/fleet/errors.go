package fleet

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kilianp07/yardfleet/core/events"
	"github.com/kilianp07/yardfleet/core/store"
)

// Kind classifies an error for callers.
type Kind string

const (
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindValidation Kind = "validation"
	KindInternal   Kind = "internal"
)

// Reason narrows a Kind to the rule that was violated.
type Reason string

const (
	ReasonDuplicatePlate        Reason = "duplicate_plate"
	ReasonNoSlotAvailable       Reason = "no_slot_available"
	ReasonVehicleAlreadyLinked  Reason = "vehicle_already_linked"
	ReasonDuplicateYard         Reason = "duplicate_yard"
	ReasonDuplicateUsername     Reason = "duplicate_username"
	ReasonYardNotEmpty          Reason = "yard_not_empty"
	ReasonMalformedPlate        Reason = "malformed_plate"
	ReasonStaffNotInYard        Reason = "staff_not_in_target_yard"
	ReasonCapacityBelowOccupied Reason = "capacity_below_occupied"
	ReasonInvalidInput          Reason = "invalid_input"
)

// Entity names the record an error refers to.
type Entity string

const (
	EntityVehicle Entity = "vehicle"
	EntityYard    Entity = "yard"
	EntityStaff   Entity = "staff"
	EntityClient  Entity = "client"
)

// Error is returned by every Coordinator operation that fails. Validation and
// business-rule violations carry a Reason; storage faults are KindInternal and
// wrap the underlying error.
type Error struct {
	Kind   Kind
	Reason Reason
	Entity Entity
	ID     string
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(string(e.Reason))
	}
	if e.Entity != "" {
		fmt.Fprintf(&b, " (%s %q)", e.Entity, e.ID)
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error on the fields the target sets, so the package
// sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return (t.Kind == "" || t.Kind == e.Kind) &&
		(t.Reason == "" || t.Reason == e.Reason) &&
		(t.Entity == "" || t.Entity == e.Entity)
}

// Sentinels for errors.Is.
var (
	ErrNotFound              = &Error{Kind: KindNotFound}
	ErrVehicleNotFound       = &Error{Kind: KindNotFound, Entity: EntityVehicle}
	ErrYardNotFound          = &Error{Kind: KindNotFound, Entity: EntityYard}
	ErrStaffNotFound         = &Error{Kind: KindNotFound, Entity: EntityStaff}
	ErrClientNotFound        = &Error{Kind: KindNotFound, Entity: EntityClient}
	ErrDuplicatePlate        = &Error{Kind: KindConflict, Reason: ReasonDuplicatePlate}
	ErrNoSlotAvailable       = &Error{Kind: KindConflict, Reason: ReasonNoSlotAvailable}
	ErrVehicleAlreadyLinked  = &Error{Kind: KindConflict, Reason: ReasonVehicleAlreadyLinked}
	ErrDuplicateYard         = &Error{Kind: KindConflict, Reason: ReasonDuplicateYard}
	ErrDuplicateUsername     = &Error{Kind: KindConflict, Reason: ReasonDuplicateUsername}
	ErrYardNotEmpty          = &Error{Kind: KindConflict, Reason: ReasonYardNotEmpty}
	ErrMalformedPlate        = &Error{Kind: KindValidation, Reason: ReasonMalformedPlate}
	ErrStaffNotInYard        = &Error{Kind: KindValidation, Reason: ReasonStaffNotInYard}
	ErrCapacityBelowOccupied = &Error{Kind: KindValidation, Reason: ReasonCapacityBelowOccupied}
	ErrInvalidInput          = &Error{Kind: KindValidation, Reason: ReasonInvalidInput}
	ErrInternal              = &Error{Kind: KindInternal}
)

// KindOf returns the Kind of err, KindInternal for foreign errors and ""
// for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindInternal
}

func IsNotFound(err error) bool   { return KindOf(err) == KindNotFound }
func IsConflict(err error) bool   { return KindOf(err) == KindConflict }
func IsValidation(err error) bool { return KindOf(err) == KindValidation }
func IsInternal(err error) bool   { return KindOf(err) == KindInternal }

// Outcome is the short label used in events and metrics: "ok", the reason
// of a rule violation, or the kind.
func Outcome(err error) string {
	if err == nil {
		return events.OutcomeOK
	}
	var fe *Error
	if errors.As(err, &fe) {
		if fe.Reason != "" {
			return string(fe.Reason)
		}
		return string(fe.Kind)
	}
	return string(KindInternal)
}

func notFound(entity Entity, id string) *Error {
	return &Error{Kind: KindNotFound, Entity: entity, ID: id}
}

func conflict(reason Reason, entity Entity, id, msg string) *Error {
	return &Error{Kind: KindConflict, Reason: reason, Entity: entity, ID: id, Msg: msg}
}

func invalid(reason Reason, msg string) *Error {
	return &Error{Kind: KindValidation, Reason: reason, Msg: msg}
}

func internal(op string, err error) *Error {
	return &Error{Kind: KindInternal, Msg: op, Err: err}
}

// lookup maps a store read error. Only store.ErrNotFound becomes NotFound;
// anything else is a storage fault.
func lookup(err error, entity Entity, id string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return notFound(entity, id)
	}
	return internal(fmt.Sprintf("load %s %s", entity, id), err)
}
