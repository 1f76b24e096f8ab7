package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/eleven-am/mesbatch/internal/adapters/audit"
	"github.com/eleven-am/mesbatch/internal/adapters/collector"
	"github.com/eleven-am/mesbatch/internal/adapters/deviation"
	"github.com/eleven-am/mesbatch/internal/adapters/signature"
	"github.com/eleven-am/mesbatch/internal/adapters/specification"
	"github.com/eleven-am/mesbatch/internal/domain"
	"github.com/eleven-am/mesbatch/internal/ports"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Dependencies are the collaborators the engine talks to. Store, Catalog,
// Authorizer, Signatures and Audit are required.
type Dependencies struct {
	Store      ports.BatchStore
	Catalog    ports.ReferenceCatalog
	Authorizer ports.Authorizer
	Signatures ports.SignatureProvider
	Confirmer  ports.OverrideConfirmer
	Audit      ports.AuditSink
	Deviations ports.DeviationSink
	Events     ports.EventPublisher
	Clock      ports.Clock
}

// Engine is the single writer for batch progression. Every mutation runs
// under the batch's lock, is validated against the stored version and is
// audited after commit.
type Engine struct {
	config domain.Config
	deps   Dependencies

	collector *collector.Collector
	validator *specification.Validator
	gate      *signature.Gate
	recorder  *deviation.Recorder
	auditor   *audit.Emitter

	locks   *batchLocks
	metrics *MetricsTracker
	nowFn   func() time.Time
	logger  *slog.Logger
}

func NewEngine(config domain.Config, deps Dependencies) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	switch {
	case deps.Store == nil:
		return nil, domain.NewConfigError("store", domain.ErrInvalidConfig)
	case deps.Catalog == nil:
		return nil, domain.NewConfigError("catalog", domain.ErrInvalidConfig)
	case deps.Authorizer == nil:
		return nil, domain.NewConfigError("authorizer", domain.ErrInvalidConfig)
	case deps.Signatures == nil:
		return nil, domain.NewConfigError("signatures", domain.ErrInvalidConfig)
	case deps.Audit == nil:
		return nil, domain.NewConfigError("audit", domain.ErrInvalidConfig)
	case deps.Deviations == nil:
		return nil, domain.NewConfigError("deviations", domain.ErrInvalidConfig)
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	nowFn := time.Now
	if deps.Clock != nil {
		nowFn = deps.Clock.Now
	}

	return &Engine{
		config:    config,
		deps:      deps,
		collector: collector.New(logger),
		validator: specification.NewValidator(logger),
		gate:      signature.NewGate(deps.Signatures, config.Engine.SignatureTimeout, logger).WithClock(nowFn),
		recorder:  deviation.NewRecorder(deps.Deviations, logger),
		auditor:   audit.NewEmitter(deps.Audit, logger),
		locks:     newBatchLocks(config.Engine.LockTimeout),
		metrics:   NewMetricsTracker(config.Engine.DurationSamples),
		nowFn:     nowFn,
		logger:    logger.With("component", "engine"),
	}, nil
}

// CreateBatch registers a ready batch against an existing workflow and
// formula. Every BOM link in the workflow must resolve in the formula.
func (e *Engine) CreateBatch(ctx context.Context, req domain.NewBatch) (domain.Batch, error) {
	if err := validateNewBatch(req); err != nil {
		e.metrics.RecordFailure(err)
		return domain.Batch{}, err
	}

	workflow, err := e.deps.Catalog.Workflow(ctx, req.WorkflowID)
	if err != nil {
		return domain.Batch{}, err
	}
	if err := workflow.Validate(); err != nil {
		return domain.Batch{}, err
	}
	formula, err := e.deps.Catalog.Formula(ctx, req.FormulaID)
	if err != nil {
		return domain.Batch{}, err
	}
	for _, step := range workflow.Steps {
		if step.FormulaBOMID == "" {
			continue
		}
		if _, ok := formula.Item(step.FormulaBOMID); !ok {
			return domain.Batch{}, fmt.Errorf("step %s links bom item %s missing from formula %s: %w",
				step.ID, step.FormulaBOMID, formula.ID, domain.ErrInvalidInput)
		}
	}

	id := req.ID
	if id == "" {
		id = uuid.New().String()
	}
	priority := req.Priority
	if priority == "" {
		priority = domain.PriorityNormal
	}

	batch := domain.Batch{
		ID:             id,
		BatchNumber:    req.BatchNumber,
		FormulaID:      req.FormulaID,
		WorkflowID:     req.WorkflowID,
		TargetQuantity: req.TargetQuantity,
		Unit:           req.Unit,
		Status:         domain.BatchStatusReady,
		Priority:       priority,
		TotalSteps:     len(workflow.Steps),
		CreatedAt:      e.nowFn(),
		CreatedBy:      req.CreatedBy,
	}

	created, err := e.deps.Store.Create(ctx, batch)
	if err != nil {
		e.logger.Error("failed to create batch", errorLogAttrs(err)...)
		return domain.Batch{}, err
	}
	e.metrics.RecordBatchCreated()
	e.logger.Info("batch created", "batch_id", created.ID, "workflow_id", created.WorkflowID, "steps", created.TotalSteps)

	details := fmt.Sprintf("batch %s created for formula %s, workflow %s, target %s%s",
		created.ID, created.FormulaID, created.WorkflowID, created.TargetQuantity, unitSuffix(created.Unit))
	if err := e.auditor.Emit(ctx, domain.AuditActionBatchCreated, details, req.CreatedBy, created.ID, created.CreatedAt); err != nil {
		return created, e.postCommit(created.ID, err)
	}
	return created, nil
}

// StartBatch moves a ready batch to in_progress.
func (e *Engine) StartBatch(ctx context.Context, batchID, actor string) (domain.Batch, error) {
	if strings.TrimSpace(actor) == "" {
		return domain.Batch{}, domain.NewInputError("", "actor", "actor is required")
	}

	release, err := e.locks.acquire(ctx, batchID)
	if err != nil {
		return domain.Batch{}, err
	}
	defer release()

	batch, err := e.deps.Store.Get(ctx, batchID)
	if err != nil {
		return domain.Batch{}, err
	}
	if batch.Status != domain.BatchStatusReady {
		err := &domain.TransitionError{BatchID: batchID, From: batch.Status, To: domain.BatchStatusInProgress}
		e.metrics.RecordFailure(err)
		e.logger.Warn("start rejected", errorLogAttrs(err)...)
		return domain.Batch{}, err
	}

	now := e.timestamp(batch.CreatedAt)
	next := batch.Clone()
	next.Status = domain.BatchStatusInProgress
	next.StartedAt = &now
	next.StartedBy = actor

	saved, err := e.deps.Store.Save(ctx, next, batch.Version)
	if err != nil {
		e.metrics.RecordFailure(err)
		return domain.Batch{}, err
	}
	e.metrics.RecordBatchStarted()
	e.logger.Info("batch started", "batch_id", batchID, "actor", actor)

	if e.deps.Events != nil {
		e.deps.Events.PublishBatchStarted(&domain.BatchStartedEvent{BatchID: batchID, StartedBy: actor, StartedAt: now})
	}

	if err := e.auditor.Emit(ctx, domain.AuditActionBatchStarted, fmt.Sprintf("batch %s started", batchID), actor, batchID, now); err != nil {
		return saved, e.postCommit(batchID, err)
	}
	return saved, nil
}

// RejectBatch ends an in-progress batch. The rejection is signature gated
// and the reason is mandatory.
func (e *Engine) RejectBatch(ctx context.Context, batchID, actor, reason string) (domain.Batch, error) {
	if strings.TrimSpace(actor) == "" {
		return domain.Batch{}, domain.NewInputError("", "actor", "actor is required")
	}
	if strings.TrimSpace(reason) == "" {
		return domain.Batch{}, domain.NewInputError("", "reason", "a rejection reason is required")
	}

	release, err := e.locks.acquire(ctx, batchID)
	if err != nil {
		return domain.Batch{}, err
	}
	defer release()

	batch, err := e.deps.Store.Get(ctx, batchID)
	if err != nil {
		return domain.Batch{}, err
	}
	if !batch.Status.CanTransition(domain.BatchStatusRejected) {
		err := &domain.TransitionError{BatchID: batchID, From: batch.Status, To: domain.BatchStatusRejected}
		e.metrics.RecordFailure(err)
		return domain.Batch{}, err
	}

	sig, err := e.gate.Acquire(ctx, domain.SignatureRequest{
		Action:          domain.SignatureActionBatchRejection,
		Title:           fmt.Sprintf("Reject batch %s", batchID),
		Description:     fmt.Sprintf("Rejecting batch %s at step %d of %d: %s", batchID, batch.CurrentStepIndex, batch.TotalSteps, reason),
		Actor:           actor,
		BatchID:         batchID,
		RequiresReason:  true,
		SuggestedReason: reason,
	})
	if err != nil {
		e.metrics.RecordFailure(err)
		return domain.Batch{}, err
	}

	now := e.timestamp(startedAt(batch), batch.LastTimestamp(), sig.Timestamp)
	next := batch.Clone()
	next.Status = domain.BatchStatusRejected
	next.RejectedAt = &now
	next.RejectedBy = actor
	next.RejectionReason = reason
	next.RejectionSignature = &sig

	saved, err := e.deps.Store.Save(ctx, next, batch.Version)
	if err != nil {
		e.metrics.RecordFailure(err)
		return domain.Batch{}, err
	}
	e.metrics.RecordBatchRejected()
	e.logger.Info("batch rejected", "batch_id", batchID, "actor", actor, "step_index", saved.CurrentStepIndex)

	if e.deps.Events != nil {
		e.deps.Events.PublishBatchRejected(&domain.BatchRejectedEvent{BatchID: batchID, RejectedBy: actor, RejectedAt: now, Reason: reason})
	}

	details := fmt.Sprintf("batch %s rejected at step %d of %d: %s", batchID, saved.CurrentStepIndex, saved.TotalSteps, reason)
	if err := e.auditor.Emit(ctx, domain.AuditActionBatchRejected, details, actor, batchID, now); err != nil {
		return saved, e.postCommit(batchID, err)
	}
	return saved, nil
}

func (e *Engine) Batch(ctx context.Context, batchID string) (domain.Batch, error) {
	return e.deps.Store.Get(ctx, batchID)
}

// CurrentStep returns the step the batch is waiting on. ok is false when the
// batch is not in progress.
func (e *Engine) CurrentStep(ctx context.Context, batchID string) (step domain.Step, ok bool, err error) {
	batch, err := e.deps.Store.Get(ctx, batchID)
	if err != nil {
		return domain.Step{}, false, err
	}
	if batch.Status != domain.BatchStatusInProgress {
		return domain.Step{}, false, nil
	}
	workflow, err := e.deps.Catalog.Workflow(ctx, batch.WorkflowID)
	if err != nil {
		return domain.Step{}, false, err
	}
	step, ok = workflow.StepAt(batch.CurrentStepIndex)
	return step, ok, nil
}

func (e *Engine) Genealogy(ctx context.Context, batchID string) ([]domain.GenealogyEntry, error) {
	batch, err := e.deps.Store.Get(ctx, batchID)
	if err != nil {
		return nil, err
	}
	return batch.Genealogy(), nil
}

func (e *Engine) ListBatches(ctx context.Context, filter domain.BatchFilter) ([]domain.Batch, error) {
	return e.deps.Store.List(ctx, filter)
}

func (e *Engine) Metrics() MetricsSnapshot {
	return e.metrics.Snapshot()
}

// timestamp returns the clock reading raised to the latest floor, keeping
// recorded times non-decreasing when the clock steps backwards.
func (e *Engine) timestamp(floors ...time.Time) time.Time {
	now := e.nowFn()
	for _, floor := range floors {
		if now.Before(floor) {
			now = floor
		}
	}
	return now
}

func (e *Engine) postCommit(batchID string, errs ...error) error {
	var failures []error
	for _, err := range errs {
		if err != nil {
			failures = append(failures, err)
		}
	}
	if len(failures) == 0 {
		return nil
	}
	err := &domain.PostCommitError{BatchID: batchID, Errs: failures}
	e.metrics.RecordFailure(err)
	e.logger.Error("post-commit side effects failed", append([]any{"batch_id", batchID}, errorLogAttrs(err)...)...)
	return err
}

func validateNewBatch(req domain.NewBatch) error {
	switch {
	case strings.TrimSpace(req.WorkflowID) == "":
		return domain.NewInputError("", "workflow_id", "workflow is required")
	case strings.TrimSpace(req.FormulaID) == "":
		return domain.NewInputError("", "formula_id", "formula is required")
	case strings.TrimSpace(req.CreatedBy) == "":
		return domain.NewInputError("", "created_by", "creator is required")
	case !req.TargetQuantity.GreaterThan(decimal.Zero):
		return domain.NewInputError("", "target_quantity", "target quantity must be positive")
	}
	return nil
}

func startedAt(b domain.Batch) time.Time {
	if b.StartedAt == nil {
		return b.CreatedAt
	}
	return *b.StartedAt
}

func unitSuffix(unit string) string {
	if unit == "" {
		return ""
	}
	return " " + unit
}
