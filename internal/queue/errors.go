package queue

import (
	"errors"
	"fmt"
)

// Kind classifies a failed command.
type Kind string

const (
	KindNotFound              Kind = "not_found"
	KindInvalidState          Kind = "invalid_state"
	KindValidationFailure     Kind = "validation_failure"
	KindConflict              Kind = "conflict"
	KindInfrastructureFailure Kind = "infrastructure_failure"
)

// Sentinels for errors.Is against a *Error of the matching kind.
var (
	ErrNotFound              = &Error{Kind: KindNotFound}
	ErrInvalidState          = &Error{Kind: KindInvalidState}
	ErrValidationFailure     = &Error{Kind: KindValidationFailure}
	ErrConflict              = &Error{Kind: KindConflict}
	ErrInfrastructureFailure = &Error{Kind: KindInfrastructureFailure}
)

// Error is the typed result of a rejected command. Reason is a stable
// machine-checkable code; Message is shown to staff.
type Error struct {
	Kind    Kind
	Reason  string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("queue: %s: %v", msg, e.Err)
	}
	return "queue: " + msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrConflict)
// works regardless of reason.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Reason == "" || t.Reason == e.Reason)
}

// KindOf returns the kind of err, or KindInfrastructureFailure for errors
// that did not originate in the engine.
func KindOf(err error) Kind {
	var qe *Error
	if errors.As(err, &qe) {
		return qe.Kind
	}
	return KindInfrastructureFailure
}

// ReasonOf returns the reason code of err, if any.
func ReasonOf(err error) string {
	var qe *Error
	if errors.As(err, &qe) {
		return qe.Reason
	}
	return ""
}

func notFound(reason, msg string) *Error {
	return &Error{Kind: KindNotFound, Reason: reason, Message: msg}
}

func invalidState(reason, msg string) *Error {
	return &Error{Kind: KindInvalidState, Reason: reason, Message: msg}
}

func validation(reason, msg string) *Error {
	return &Error{Kind: KindValidationFailure, Reason: reason, Message: msg}
}

func conflict(reason, msg string) *Error {
	return &Error{Kind: KindConflict, Reason: reason, Message: msg}
}

func infra(msg string, err error) *Error {
	return &Error{Kind: KindInfrastructureFailure, Reason: "infrastructure_failure", Message: msg, Err: err}
}

// Reason codes.
const (
	ReasonAppointmentNotFound = "appointment_not_found"
	ReasonPatientNotFound     = "patient_not_found"
	ReasonTenantNotFound      = "tenant_not_found"
	ReasonDocumentNotFound    = "document_not_found"
	ReasonCancelled           = "appointment_cancelled"
	ReasonAlreadyCompleted    = "appointment_already_completed"
	ReasonNotCheckedIn        = "appointment_not_checked_in"
	ReasonFutureAppointment   = "appointment_in_future"
	ReasonNotPending          = "appointment_not_pending"
	ReasonDateInPast          = "date_in_past"
	ReasonSameDay             = "reschedule_same_day"
	ReasonDateConflict        = "patient_date_conflict"
	ReasonPatientExists       = "patient_exists"
	ReasonInvalidStatus       = "invalid_status"
	ReasonInvalidFees         = "invalid_fees"
	ReasonInvalidExtraFees    = "invalid_extra_fees"
	ReasonInvalidFollowUp     = "invalid_follow_up"
	ReasonInvalidPaymentMode  = "invalid_payment_mode"
	ReasonInvalidPrescription = "invalid_prescription"
	ReasonInvalidDocument     = "invalid_document"
	ReasonInvalidParameters   = "invalid_parameters"
	ReasonInvalidPatient      = "invalid_patient"
	ReasonMissingActor        = "missing_actor"
)
