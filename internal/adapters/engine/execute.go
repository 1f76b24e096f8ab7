package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/eleven-am/mesbatch/internal/adapters/specification"
	"github.com/eleven-am/mesbatch/internal/domain"
	"github.com/shopspring/decimal"
)

// ExecuteStep runs one attempt at the batch's current step. Until the save
// succeeds nothing is written: declined overrides, missing signatures and
// failed preconditions leave the batch exactly as it was. After the save the
// deviation hand-off and audit entries are attempted; their failures come
// back as *domain.PostCommitError alongside the committed outcome.
func (e *Engine) ExecuteStep(ctx context.Context, req domain.ExecuteStepRequest) (*domain.StepOutcome, error) {
	if strings.TrimSpace(req.Actor) == "" {
		return nil, domain.NewInputError(req.StepID, "actor", "actor is required")
	}

	release, err := e.locks.acquire(ctx, req.BatchID)
	if err != nil {
		return nil, err
	}
	defer release()

	outcome, err := e.executeLocked(ctx, req)
	if err != nil && outcome == nil {
		e.metrics.RecordFailure(err)
		if domain.IsAbandoned(err) {
			e.logger.Warn("step attempt abandoned", append([]any{"batch_id", req.BatchID, "step_id", req.StepID, "actor", req.Actor}, errorLogAttrs(err)...)...)
		} else {
			e.logger.Debug("step attempt rejected", append([]any{"batch_id", req.BatchID, "step_id", req.StepID, "actor", req.Actor}, errorLogAttrs(err)...)...)
		}
	}
	return outcome, err
}

func (e *Engine) executeLocked(ctx context.Context, req domain.ExecuteStepRequest) (*domain.StepOutcome, error) {
	batch, err := e.deps.Store.Get(ctx, req.BatchID)
	if err != nil {
		return nil, err
	}
	workflow, err := e.deps.Catalog.Workflow(ctx, batch.WorkflowID)
	if err != nil {
		return nil, err
	}

	step, err := e.currentStep(batch, workflow, req.StepID)
	if err != nil {
		return nil, err
	}
	if err := e.authorize(ctx, req.Actor, step); err != nil {
		return nil, err
	}

	collected, err := e.collector.Collect(step, req.Input)
	if err != nil {
		return nil, err
	}

	plan, err := e.classify(ctx, batch, step, collected)
	if err != nil {
		return nil, err
	}

	if plan.result != nil && plan.result.Classification.RequiresOverride() {
		if err := e.confirmOverride(ctx, batch, step, req.Actor, plan); err != nil {
			return nil, err
		}
		plan.overridden = true
		plan.deviation = plan.result.Classification == domain.ClassificationOutOfSpec ||
			e.config.Policy.DeviationOnToleranceOverride
	}

	sig, err := e.gate.Acquire(ctx, e.signatureRequest(batch, step, req.Actor, collected, plan))
	if err != nil {
		return nil, err
	}

	previous := startedAt(batch)
	if last := batch.LastTimestamp(); last.After(previous) {
		previous = last
	}
	now := e.timestamp(previous)

	completion := domain.StepCompletion{
		StepID:             step.ID,
		StepName:           step.Name,
		StepType:           step.Type,
		Value:              collected.Value,
		LotNumber:          collected.LotNumber,
		CompletedBy:        req.Actor,
		Timestamp:          now,
		WorkStation:        step.WorkStationID,
		Overridden:         plan.overridden,
		Signature:          sig,
		CalculatedQuantity: plan.calculated,
	}
	if plan.result != nil {
		completion.Classification = plan.result.Classification
	}

	var dev *domain.Deviation
	if plan.deviation {
		built := e.recorder.Build(batch, step, *plan.result, req.Actor, sig.Reason, now)
		dev = &built
		completion.HasDeviation = true
		completion.DeviationID = built.ID
		completion.DeviationDescription = built.Description
	}

	next := batch.Clone()
	next.History = append(next.History, completion)

	var consumption *domain.ConsumptionEntry
	if plan.item != nil && collected.Numeric != nil {
		entry := domain.ConsumptionEntry{
			StepID:          step.ID,
			MaterialArticle: plan.item.MaterialArticle,
			Quantity:        *collected.Numeric,
			Unit:            plan.item.Unit,
			LotNumber:       collected.LotNumber,
			Timestamp:       now,
		}
		next.MaterialConsumption = append(next.MaterialConsumption, entry)
		consumption = &entry
	}

	next.CurrentStepIndex++
	next.Progress = domain.ComputeProgress(next.CurrentStepIndex, next.TotalSteps)
	completed := next.CurrentStepIndex == next.TotalSteps
	if completed {
		next.Status = domain.BatchStatusCompleted
		next.CompletedAt = &now
	}

	saved, err := e.deps.Store.Save(ctx, next, batch.Version)
	if err != nil {
		return nil, err
	}

	e.metrics.RecordStep(now.Sub(previous), now, plan.deviation, completed)
	e.logger.Info("step completed",
		"batch_id", saved.ID,
		"step_id", step.ID,
		"step_type", step.Type,
		"actor", req.Actor,
		"progress", saved.Progress,
		"classification", completion.Classification,
		"has_deviation", completion.HasDeviation)

	outcome := &domain.StepOutcome{
		Batch:          saved,
		Completion:     completion,
		Consumption:    consumption,
		Classification: plan.result,
		Deviation:      dev,
		BatchCompleted: completed,
	}

	return outcome, e.afterCommit(ctx, saved, outcome, req.Actor)
}

// afterCommit runs the side effects of a committed step in order: deviation
// hand-off, step audit, completion audit, then event publication.
func (e *Engine) afterCommit(ctx context.Context, saved domain.Batch, outcome *domain.StepOutcome, actor string) error {
	var errs []error
	completion := outcome.Completion

	if outcome.Deviation != nil {
		if err := e.recorder.Submit(ctx, *outcome.Deviation); err != nil {
			errs = append(errs, err)
		}
	}

	if err := e.auditor.Emit(ctx, domain.AuditActionStepCompleted, stepAuditDetails(saved, completion), actor, saved.ID, completion.Timestamp); err != nil {
		errs = append(errs, err)
	}

	if outcome.BatchCompleted {
		e.logger.Info("batch completed", "batch_id", saved.ID, "steps", saved.TotalSteps)
		details := fmt.Sprintf("batch %s completed after %d steps", saved.ID, saved.TotalSteps)
		if err := e.auditor.Emit(ctx, domain.AuditActionBatchCompleted, details, actor, saved.ID, completion.Timestamp); err != nil {
			errs = append(errs, err)
		}
	}

	if e.deps.Events != nil {
		if outcome.Deviation != nil {
			e.deps.Events.PublishDeviationRecorded(&domain.DeviationRecordedEvent{Deviation: *outcome.Deviation})
		}
		e.deps.Events.PublishStepCompleted(&domain.StepCompletedEvent{
			BatchID:    saved.ID,
			Completion: completion,
			StepIndex:  saved.CurrentStepIndex - 1,
			Progress:   saved.Progress,
		})
		if outcome.BatchCompleted {
			var duration time.Duration
			if saved.StartedAt != nil {
				duration = completion.Timestamp.Sub(*saved.StartedAt)
			}
			e.deps.Events.PublishBatchCompleted(&domain.BatchCompletedEvent{
				BatchID:     saved.ID,
				CompletedAt: completion.Timestamp,
				Duration:    duration,
				Deviations:  countDeviations(saved),
			})
		}
	}

	return e.postCommit(saved.ID, errs...)
}

type stepPlan struct {
	item       *domain.BOMItem
	calculated *decimal.Decimal
	result     *domain.ClassificationResult
	overridden bool
	deviation  bool
}

func (e *Engine) currentStep(batch domain.Batch, workflow domain.Workflow, stepID string) (domain.Step, error) {
	if batch.Status != domain.BatchStatusInProgress {
		return domain.Step{}, &domain.SequenceError{
			BatchID:       batch.ID,
			StepID:        stepID,
			CurrentIndex:  batch.CurrentStepIndex,
			Status:        batch.Status,
			NotInProgress: true,
		}
	}
	if len(workflow.Steps) != batch.TotalSteps {
		return domain.Step{}, fmt.Errorf("workflow %s has %d steps but batch %s was planned with %d: %w",
			workflow.ID, len(workflow.Steps), batch.ID, batch.TotalSteps, domain.ErrInvariantViolation)
	}
	step, ok := workflow.StepAt(batch.CurrentStepIndex)
	if !ok || step.ID != stepID {
		return domain.Step{}, &domain.SequenceError{
			BatchID:      batch.ID,
			StepID:       stepID,
			ExpectedStep: step.ID,
			CurrentIndex: batch.CurrentStepIndex,
			Status:       batch.Status,
		}
	}
	return step, nil
}

func (e *Engine) authorize(ctx context.Context, actor string, step domain.Step) error {
	allowed, err := e.deps.Authorizer.CanAccessWorkStation(ctx, actor, step.WorkStationID)
	if err != nil {
		return &domain.AuthorizationError{Actor: actor, WorkStationID: step.WorkStationID, Err: err}
	}
	if !allowed {
		return &domain.AuthorizationError{Actor: actor, WorkStationID: step.WorkStationID}
	}
	return nil
}

// classify resolves the BOM line and judges the collected value. Material
// steps without a BOM link and mixing or process steps are recorded as is.
func (e *Engine) classify(ctx context.Context, batch domain.Batch, step domain.Step, collected domain.CollectedInput) (stepPlan, error) {
	var plan stepPlan

	switch {
	case step.Type.ConsumesMaterial() && step.FormulaBOMID != "":
		formula, err := e.deps.Catalog.Formula(ctx, batch.FormulaID)
		if err != nil {
			return plan, err
		}
		item, ok := formula.Item(step.FormulaBOMID)
		if !ok {
			return plan, domain.NewNotFoundError("bom item", step.FormulaBOMID)
		}
		target := item.CalculatedQuantity(batch.TargetQuantity)
		result, err := e.validator.Classify(specification.Request{
			StepID:   step.ID,
			StepType: step.Type,
			Value:    collected.Numeric,
			Target:   target,
			BOMItem:  &item,
		})
		if err != nil {
			return plan, err
		}
		plan.item = &item
		plan.calculated = &target
		plan.result = &result

	case step.Type == domain.StepTypeQC:
		result, err := e.validator.Classify(specification.Request{
			StepID:   step.ID,
			StepType: step.Type,
			Value:    collected.Numeric,
			QC:       step.Params.QC,
		})
		if err != nil {
			return plan, err
		}
		plan.result = &result
	}

	return plan, nil
}

func (e *Engine) confirmOverride(ctx context.Context, batch domain.Batch, step domain.Step, actor string, plan stepPlan) error {
	result := *plan.result
	deviates := result.Classification == domain.ClassificationOutOfSpec || e.config.Policy.DeviationOnToleranceOverride

	prompt := domain.OverridePrompt{
		BatchID:   batch.ID,
		StepID:    step.ID,
		StepName:  step.Name,
		Actor:     actor,
		Result:    result,
		Deviation: deviates,
		Message:   overrideMessage(step, result, deviates),
	}

	if e.deps.Confirmer == nil {
		e.metrics.RecordOverride(false)
		return fmt.Errorf("no override confirmer configured: %w", domain.ErrOverrideDeclined)
	}

	accepted, err := e.deps.Confirmer.ConfirmOverride(ctx, prompt)
	if err != nil {
		e.metrics.RecordOverride(false)
		return fmt.Errorf("%w: %w", domain.ErrOverrideDeclined, err)
	}
	if !accepted {
		e.metrics.RecordOverride(false)
		return fmt.Errorf("step %s value %s outside %s: %w", step.ID, result.Value, result.Window, domain.ErrOverrideDeclined)
	}
	e.metrics.RecordOverride(true)
	return nil
}

func (e *Engine) signatureRequest(batch domain.Batch, step domain.Step, actor string, collected domain.CollectedInput, plan stepPlan) domain.SignatureRequest {
	description := fmt.Sprintf("Batch %s, step %d of %d (%s): %s",
		batch.ID, batch.CurrentStepIndex+1, batch.TotalSteps, step.Type, describeValue(collected.Value))
	if plan.result != nil {
		description += fmt.Sprintf(" [%s, window %s]", plan.result.Classification, plan.result.Window)
	}

	return domain.SignatureRequest{
		Action:         domain.SignatureActionStepCompletion,
		Title:          fmt.Sprintf("Complete step %s", step.Name),
		Description:    description,
		Actor:          actor,
		BatchID:        batch.ID,
		StepID:         step.ID,
		RequiresReason: e.config.Policy.RequireStepSignatureReason || plan.overridden,
	}
}

func overrideMessage(step domain.Step, result domain.ClassificationResult, deviates bool) string {
	var b strings.Builder
	switch result.Classification {
	case domain.ClassificationOutOfSpec:
		fmt.Fprintf(&b, "%s is out of specification (%s%s, range %s).", step.Name, result.Value, unitSuffix(result.Unit), result.Window)
	default:
		fmt.Fprintf(&b, "%s is outside the tolerance window (%s%s, target %s, window %s).",
			step.Name, result.Value, unitSuffix(result.Unit), result.Target, result.Window)
	}
	if deviates {
		b.WriteString(" Accepting will record a deviation.")
	}
	b.WriteString(" Proceed?")
	return b.String()
}

func describeValue(v domain.RecordedValue) string {
	switch {
	case v.Quantity != nil:
		s := v.Quantity.String() + unitSuffix(v.Unit)
		if v.BalanceID != "" {
			s += " on " + v.BalanceID
		}
		return s
	case v.Measurement != nil:
		return v.Measurement.String() + unitSuffix(v.Unit)
	case v.Mixing != nil:
		return fmt.Sprintf("%s min at %s rpm, %s C", v.Mixing.Duration, v.Mixing.RPM, v.Mixing.Temperature)
	case v.Confirmation != "":
		return v.Confirmation
	}
	return v.Raw
}

func stepAuditDetails(batch domain.Batch, c domain.StepCompletion) string {
	details := fmt.Sprintf("batch %s step %s (%s) completed: %s; progress %d%%",
		batch.ID, c.StepID, c.StepType, describeValue(c.Value), batch.Progress)
	if c.LotNumber != "" {
		details += "; lot " + c.LotNumber
	}
	if c.Classification != "" {
		details += "; " + string(c.Classification)
	}
	if c.Overridden {
		details += "; overridden"
	}
	if c.HasDeviation {
		details += "; deviation " + c.DeviationID
	}
	return details
}

func countDeviations(b domain.Batch) int {
	n := 0
	for _, c := range b.History {
		if c.HasDeviation {
			n++
		}
	}
	return n
}
