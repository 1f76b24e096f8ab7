// Package mesbatch executes pharmaceutical production batches step by step.
//
// A batch runs an ordered workflow of dispensing, weighing, process, mixing
// and QC steps. Every step is validated against the formula's tolerance window
// or the QC acceptance range, confirmed by the operator when out of window,
// signed electronically and committed together with its derived state
// (progress, material consumption, genealogy). Each committed mutation leaves
// one audit entry; accepted out-of-specification values leave a deviation.
//
// Basic usage:
//
//	manager, err := mesbatch.New(logger)
//	manager.LoadReference("reference.yaml")
//	manager.OnSignatureRequested(func(req mesbatch.SignatureRequest) {
//	    manager.Sign(req.ID, mesbatch.Signature{SignedBy: req.Actor, Reason: "per SOP"})
//	})
//
//	batch, err := manager.CreateBatch(ctx, mesbatch.NewBatch{
//	    FormulaID:      "F-100",
//	    WorkflowID:     "W-100",
//	    TargetQuantity: decimal.NewFromInt(100),
//	    CreatedBy:      "planner",
//	})
//	manager.StartBatch(ctx, batch.ID, "alice")
//	manager.ExecuteStep(ctx, mesbatch.ExecuteStepRequest{...})
package mesbatch

import (
	"log/slog"

	"github.com/eleven-am/mesbatch/internal/adapters/engine"
	"github.com/eleven-am/mesbatch/internal/core"
	"github.com/eleven-am/mesbatch/internal/domain"
	"github.com/eleven-am/mesbatch/internal/ports"
)

// Manager owns the batch engine and its built-in stores, reference catalog,
// signature broker and event fan-out.
type Manager = core.Manager

// Option replaces a built-in collaborator such as the authorizer or the
// audit sink.
type Option = core.Option

// MetricsSnapshot is a point-in-time copy of the engine counters.
type MetricsSnapshot = engine.MetricsSnapshot

// Batch records

type Batch = domain.Batch
type NewBatch = domain.NewBatch
type BatchFilter = domain.BatchFilter
type BatchStatus = domain.BatchStatus
type Priority = domain.Priority
type StepCompletion = domain.StepCompletion
type RecordedValue = domain.RecordedValue
type ConsumptionEntry = domain.ConsumptionEntry
type GenealogyEntry = domain.GenealogyEntry
type Deviation = domain.Deviation
type AuditEntry = domain.AuditEntry

// Reference data

type Workflow = domain.Workflow
type Step = domain.Step
type StepType = domain.StepType
type StepParams = domain.StepParams
type MaterialParams = domain.MaterialParams
type ProcessParams = domain.ProcessParams
type MixingParams = domain.MixingParams
type QCParams = domain.QCParams
type Formula = domain.Formula
type BOMItem = domain.BOMItem

// Step execution

type ExecuteStepRequest = domain.ExecuteStepRequest
type StepOutcome = domain.StepOutcome
type StepInput = domain.StepInput
type DispensingInput = domain.DispensingInput
type WeighingInput = domain.WeighingInput
type ProcessInput = domain.ProcessInput
type MixingInput = domain.MixingInput
type QCInput = domain.QCInput
type Classification = domain.Classification
type ClassificationResult = domain.ClassificationResult
type OverridePrompt = domain.OverridePrompt
type Signature = domain.Signature
type SignatureRequest = domain.SignatureRequest

// Lifecycle events

type BatchStartedEvent = domain.BatchStartedEvent
type StepCompletedEvent = domain.StepCompletedEvent
type BatchCompletedEvent = domain.BatchCompletedEvent
type BatchRejectedEvent = domain.BatchRejectedEvent
type DeviationRecordedEvent = domain.DeviationRecordedEvent

// Collaborator interfaces

type Authorizer = ports.Authorizer
type SignatureProvider = ports.SignatureProvider
type PendingSignature = ports.PendingSignature
type OverrideConfirmer = ports.OverrideConfirmer
type AuditSink = ports.AuditSink
type DeviationSink = ports.DeviationSink
type Clock = ports.Clock

const (
	BatchStatusReady      = domain.BatchStatusReady
	BatchStatusInProgress = domain.BatchStatusInProgress
	BatchStatusCompleted  = domain.BatchStatusCompleted
	BatchStatusRejected   = domain.BatchStatusRejected
)

const (
	StepTypeDispensing = domain.StepTypeDispensing
	StepTypeWeighing   = domain.StepTypeWeighing
	StepTypeProcess    = domain.StepTypeProcess
	StepTypeMixing     = domain.StepTypeMixing
	StepTypeQC         = domain.StepTypeQC
)

const (
	ClassificationInSpec         = domain.ClassificationInSpec
	ClassificationOutOfTolerance = domain.ClassificationOutOfTolerance
	ClassificationOutOfSpec      = domain.ClassificationOutOfSpec
)

// ProcessConfirmationToken is what an operator enters to confirm a process step.
const ProcessConfirmationToken = domain.ProcessConfirmationToken

var (
	ErrNotFound               = domain.ErrNotFound
	ErrInvalidConfig          = domain.ErrInvalidConfig
	ErrInvalidInput           = domain.ErrInvalidInput
	ErrNonNumeric             = domain.ErrNonNumeric
	ErrUnauthorized           = domain.ErrUnauthorized
	ErrOverrideDeclined       = domain.ErrOverrideDeclined
	ErrSignatureCancelled     = domain.ErrSignatureCancelled
	ErrInvalidTransition      = domain.ErrInvalidTransition
	ErrSequenceViolation      = domain.ErrSequenceViolation
	ErrConcurrentModification = domain.ErrConcurrentModification
	ErrInvariantViolation     = domain.ErrInvariantViolation
	ErrAuditEmission          = domain.ErrAuditEmission
	ErrDeviationHandoff       = domain.ErrDeviationHandoff
)

// PostCommitError comes back alongside a committed result when the deviation
// hand-off or an audit entry failed after the commit.
type PostCommitError = domain.PostCommitError

// IsAbandoned reports whether a step attempt ended without any effect because
// the override was declined or the signature was not given.
func IsAbandoned(err error) bool {
	return domain.IsAbandoned(err)
}

func IsAuditFailure(err error) bool {
	return domain.IsAuditFailure(err)
}

func IsSequenceViolation(err error) bool {
	return domain.IsSequenceViolation(err)
}

// New creates a manager with the default configuration: in-memory storage,
// no signature timeout and tolerance overrides without deviations.
func New(logger *slog.Logger, opts ...Option) (*Manager, error) {
	return core.New(logger, opts...)
}

// NewWithConfig creates a manager from a full configuration, typically one
// returned by LoadConfig or ConfigBuilder.Build.
func NewWithConfig(config *Config, opts ...Option) (*Manager, error) {
	return core.NewWithConfig(config, opts...)
}

func WithAuthorizer(a Authorizer) Option {
	return core.WithAuthorizer(a)
}

func WithSignatureProvider(p SignatureProvider) Option {
	return core.WithSignatureProvider(p)
}

// WithOverrideConfirmer sets who is asked to accept out-of-window values.
// Without one every override is declined.
func WithOverrideConfirmer(c OverrideConfirmer) Option {
	return core.WithOverrideConfirmer(c)
}

func WithAuditSink(s AuditSink) Option {
	return core.WithAuditSink(s)
}

func WithDeviationSink(s DeviationSink) Option {
	return core.WithDeviationSink(s)
}

func WithClock(c Clock) Option {
	return core.WithClock(c)
}
