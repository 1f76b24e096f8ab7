package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound               = errors.New("resource not found")
	ErrInvalidConfig          = errors.New("invalid configuration")
	ErrInvalidInput           = errors.New("invalid input")
	ErrNonNumeric             = errors.New("value is not numeric")
	ErrUnauthorized           = errors.New("actor is not authorized")
	ErrOverrideDeclined       = errors.New("override declined")
	ErrSignatureCancelled     = errors.New("signature cancelled")
	ErrInvalidTransition      = errors.New("invalid status transition")
	ErrSequenceViolation      = errors.New("step sequence violation")
	ErrConcurrentModification = errors.New("batch modified concurrently")
	ErrInvariantViolation     = errors.New("batch invariant violation")
	ErrAuditEmission          = errors.New("audit emission failed")
	ErrDeviationHandoff       = errors.New("deviation hand-off failed")
	ErrClosed                 = errors.New("store closed")
)

// InputError is a local validation failure reported back to the operator.
// It never reaches the state machine.
type InputError struct {
	StepID string
	Field  string
	Reason string
	Err    error
}

func (e *InputError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("step %s: %s", e.StepID, e.Reason)
	}
	return fmt.Sprintf("step %s: field %s: %s", e.StepID, e.Field, e.Reason)
}

func (e *InputError) Unwrap() []error {
	if e.Err != nil && !errors.Is(e.Err, ErrInvalidInput) {
		return []error{ErrInvalidInput, e.Err}
	}
	return []error{ErrInvalidInput}
}

func NewInputError(stepID, field, reason string) *InputError {
	return &InputError{StepID: stepID, Field: field, Reason: reason}
}

func NewNonNumericError(stepID, field, raw string) *InputError {
	return &InputError{
		StepID: stepID,
		Field:  field,
		Reason: fmt.Sprintf("%q is not a number", raw),
		Err:    ErrNonNumeric,
	}
}

type TransitionError struct {
	BatchID string
	From    BatchStatus
	To      BatchStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("batch %s: cannot move from %s to %s", e.BatchID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// SequenceError reports an attempt to execute a step other than the current one,
// or any step on a batch that is not in progress.
type SequenceError struct {
	BatchID       string
	StepID        string
	ExpectedStep  string
	CurrentIndex  int
	Status        BatchStatus
	NotInProgress bool
}

func (e *SequenceError) Error() string {
	if e.NotInProgress {
		return fmt.Sprintf("batch %s is %s; step %s cannot be executed", e.BatchID, e.Status, e.StepID)
	}
	if e.ExpectedStep == "" {
		return fmt.Sprintf("batch %s: step %s requested but no step remains at index %d", e.BatchID, e.StepID, e.CurrentIndex)
	}
	return fmt.Sprintf("batch %s: step %s requested but current step is %s (index %d)", e.BatchID, e.StepID, e.ExpectedStep, e.CurrentIndex)
}

func (e *SequenceError) Unwrap() []error {
	if e.NotInProgress {
		return []error{ErrSequenceViolation, ErrInvalidTransition}
	}
	return []error{ErrSequenceViolation}
}

type AuthorizationError struct {
	Actor         string
	WorkStationID string
	Err           error
}

func (e *AuthorizationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authorization check for %s at work station %s failed: %v", e.Actor, e.WorkStationID, e.Err)
	}
	return fmt.Sprintf("%s has no access to work station %s", e.Actor, e.WorkStationID)
}

func (e *AuthorizationError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrUnauthorized, e.Err}
	}
	return []error{ErrUnauthorized}
}

// SignatureError describes a signature that was returned but cannot authorize
// the action. It is treated as a cancellation.
type SignatureError struct {
	Action string
	Reason string
}

func (e *SignatureError) Error() string {
	return fmt.Sprintf("signature for %s rejected: %s", e.Action, e.Reason)
}

func (e *SignatureError) Unwrap() error {
	return ErrSignatureCancelled
}

type AuditError struct {
	Action string
	Err    error
}

func (e *AuditError) Error() string {
	return fmt.Sprintf("audit entry %s: %v", e.Action, e.Err)
}

func (e *AuditError) Unwrap() []error {
	return []error{ErrAuditEmission, e.Err}
}

// PostCommitError is returned together with a committed result when a side
// effect after the commit failed. The committed mutation stands.
type PostCommitError struct {
	BatchID string
	Errs    []error
}

func (e *PostCommitError) Error() string {
	parts := make([]string, 0, len(e.Errs))
	for _, err := range e.Errs {
		parts = append(parts, err.Error())
	}
	return fmt.Sprintf("batch %s committed; post-commit failures: %s", e.BatchID, strings.Join(parts, "; "))
}

func (e *PostCommitError) Unwrap() []error {
	return e.Errs
}

type InvariantError struct {
	BatchID    string
	Violations []InvariantViolation
}

func (e *InvariantError) Error() string {
	codes := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		codes = append(codes, v.Code)
	}
	return fmt.Sprintf("batch %s violates invariants: %s", e.BatchID, strings.Join(codes, ", "))
}

func (e *InvariantError) Unwrap() error {
	return ErrInvariantViolation
}

type VersionMismatchError struct {
	BatchID  string
	Expected int64
	Actual   int64
}

func (e *VersionMismatchError) Error() string {
	return fmt.Sprintf("version mismatch for batch %s: expected %d, got %d", e.BatchID, e.Expected, e.Actual)
}

func (e *VersionMismatchError) Unwrap() error {
	return ErrConcurrentModification
}

func NewNotFoundError(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

func IsSequenceViolation(err error) bool {
	return errors.Is(err, ErrSequenceViolation)
}

func IsInvalidTransition(err error) bool {
	return errors.Is(err, ErrInvalidTransition)
}

// IsAbandoned reports whether the attempt ended without side effects because
// the operator declined an override or did not sign.
func IsAbandoned(err error) bool {
	return errors.Is(err, ErrOverrideDeclined) || errors.Is(err, ErrSignatureCancelled)
}

func IsAuditFailure(err error) bool {
	return errors.Is(err, ErrAuditEmission)
}

func IsInvalidConfig(err error) bool {
	return errors.Is(err, ErrInvalidConfig)
}
