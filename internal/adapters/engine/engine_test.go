package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/eleven-am/mesbatch/internal/adapters/signature"
	"github.com/eleven-am/mesbatch/internal/domain"
	"github.com/eleven-am/mesbatch/internal/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestEngine_FullRunCompletesBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	batch := f.startedBatch()

	var completedEvents []*domain.BatchCompletedEvent
	var mu sync.Mutex
	require.NoError(t, f.events.OnBatchCompleted(func(e *domain.BatchCompletedEvent) {
		mu.Lock()
		defer mu.Unlock()
		completedEvents = append(completedEvents, e)
	}))

	reqs := []domain.ExecuteStepRequest{
		dispense(batch.ID, "248", "LOT-A"),
		weigh(batch.ID, "100.5"),
		confirmProcess(batch.ID),
		mix(batch.ID),
		assay(batch.ID, "96"),
	}
	wantProgress := []int{20, 40, 60, 80, 100}

	for i, req := range reqs {
		outcome, err := f.engine.ExecuteStep(ctx, req)
		require.NoError(t, err, req.StepID)
		require.NotNil(t, outcome)
		requireConsistent(t, outcome.Batch)
		assert.Equal(t, i+1, outcome.Batch.CurrentStepIndex)
		assert.Equal(t, wantProgress[i], outcome.Batch.Progress)
		assert.Equal(t, req.StepID, outcome.Completion.StepID)
		assert.Equal(t, req.Actor, outcome.Completion.Signature.SignedBy)
		assert.False(t, outcome.Completion.Signature.Timestamp.IsZero())
		assert.False(t, outcome.Completion.HasDeviation)
		assert.Equal(t, i == len(reqs)-1, outcome.BatchCompleted)
	}

	final, err := f.engine.Batch(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchStatusCompleted, final.Status)
	require.NotNil(t, final.CompletedAt)
	assert.True(t, final.CompletedAt.Equal(final.History[4].Timestamp))
	requireConsistent(t, final)

	for i := 1; i < len(final.History); i++ {
		assert.False(t, final.History[i].Timestamp.Before(final.History[i-1].Timestamp))
	}

	require.NotNil(t, final.History[0].CalculatedQuantity)
	assert.True(t, dec("250").Equal(*final.History[0].CalculatedQuantity))
	assert.Equal(t, "LOT-A", final.History[0].LotNumber)
	assert.Equal(t, domain.ClassificationInSpec, final.History[0].Classification)
	assert.Nil(t, final.History[2].CalculatedQuantity)

	require.Len(t, final.MaterialConsumption, 2)
	assert.Equal(t, "SUGAR-01", final.MaterialConsumption[0].MaterialArticle)
	assert.True(t, dec("248").Equal(final.MaterialConsumption[0].Quantity))
	assert.Equal(t, "WATER-01", final.MaterialConsumption[1].MaterialArticle)

	genealogy, err := f.engine.Genealogy(ctx, batch.ID)
	require.NoError(t, err)
	require.Len(t, genealogy, 2)
	assert.Equal(t, "LOT-A", genealogy[0].LotNumber)

	assert.Equal(t, []string{
		domain.AuditActionBatchCreated,
		domain.AuditActionBatchStarted,
		domain.AuditActionStepCompleted,
		domain.AuditActionStepCompleted,
		domain.AuditActionStepCompleted,
		domain.AuditActionStepCompleted,
		domain.AuditActionStepCompleted,
		domain.AuditActionBatchCompleted,
	}, f.auditActions(batch.ID))

	_, ok, err := f.engine.CurrentStep(ctx, batch.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	f.events.Wait()
	mu.Lock()
	require.Len(t, completedEvents, 1)
	assert.Equal(t, 0, completedEvents[0].Deviations)
	mu.Unlock()

	snap := f.engine.Metrics()
	assert.Equal(t, int64(5), snap.StepsExecuted)
	assert.Equal(t, int64(1), snap.BatchesCompleted)
	assert.Equal(t, 0, f.engine.locks.size())
}

func TestEngine_DispensingInSpecNeedsNoOverride(t *testing.T) {
	f := newFixture(t)
	batch := f.startedBatch()

	outcome, err := f.engine.ExecuteStep(context.Background(), dispense(batch.ID, "248", "LOT-A"))
	require.NoError(t, err)
	assert.Equal(t, 0, f.promptCount())
	require.NotNil(t, outcome.Classification)
	assert.Equal(t, domain.ClassificationInSpec, outcome.Classification.Classification)
	assert.Equal(t, "240-260", outcome.Classification.Window.String())
	assert.False(t, outcome.Completion.Overridden)
}

func TestEngine_ToleranceOverrideDeclinedLeavesBatchUnchanged(t *testing.T) {
	f := newFixture(t)
	batch := f.startedBatch()
	auditBefore := f.auditActions(batch.ID)

	outcome, err := f.engine.ExecuteStep(context.Background(), dispense(batch.ID, "235", "LOT-A"))
	require.Error(t, err)
	assert.Nil(t, outcome)
	assert.ErrorIs(t, err, domain.ErrOverrideDeclined)
	assert.True(t, domain.IsAbandoned(err))

	require.Equal(t, 1, f.promptCount())
	prompt := f.prompts[0]
	assert.Equal(t, domain.ClassificationOutOfTolerance, prompt.Result.Classification)
	assert.Equal(t, "240-260", prompt.Result.Window.String())
	assert.False(t, prompt.Deviation)

	assert.Equal(t, int32(0), f.signCalls.Load())
	f.requireUnchanged(batch)
	assert.Equal(t, auditBefore, f.auditActions(batch.ID))
	assert.Equal(t, int64(1), f.engine.Metrics().OverridesDeclined)
}

func TestEngine_ToleranceOverrideAcceptedIsNotADeviationByDefault(t *testing.T) {
	f := newFixture(t)
	f.acceptOverrides()
	batch := f.startedBatch()

	outcome, err := f.engine.ExecuteStep(context.Background(), dispense(batch.ID, "235", "LOT-A"))
	require.NoError(t, err)
	assert.Equal(t, domain.ClassificationOutOfTolerance, outcome.Completion.Classification)
	assert.True(t, outcome.Completion.Overridden)
	assert.False(t, outcome.Completion.HasDeviation)
	assert.Empty(t, outcome.Completion.DeviationID)
	assert.Nil(t, outcome.Deviation)

	devs, err := f.store.Deviations(context.Background(), batch.ID)
	require.NoError(t, err)
	assert.Empty(t, devs)

	require.Len(t, outcome.Batch.MaterialConsumption, 1)
	assert.True(t, dec("235").Equal(outcome.Batch.MaterialConsumption[0].Quantity))
}

func TestEngine_ToleranceOverrideDeviationPolicy(t *testing.T) {
	f := newFixture(t, withPolicy(domain.PolicyConfig{DeviationOnToleranceOverride: true}))
	f.acceptOverrides()
	batch := f.startedBatch()

	outcome, err := f.engine.ExecuteStep(context.Background(), dispense(batch.ID, "235", "LOT-A"))
	require.NoError(t, err)
	assert.True(t, f.prompts[0].Deviation)
	assert.True(t, outcome.Completion.HasDeviation)
	require.NotNil(t, outcome.Deviation)
	assert.Equal(t, domain.DeviationSeverityMinor, outcome.Deviation.Severity)
	assert.Equal(t, outcome.Deviation.ID, outcome.Completion.DeviationID)
	assert.Equal(t, outcome.Deviation.Description, outcome.Completion.DeviationDescription)

	devs, err := f.store.Deviations(context.Background(), batch.ID)
	require.NoError(t, err)
	assert.Len(t, devs, 1)
}

func TestEngine_QCInSpec(t *testing.T) {
	f := newFixture(t)
	batch := f.startedBatch()
	f.runTo(batch.ID, 4)

	outcome, err := f.engine.ExecuteStep(context.Background(), assay(batch.ID, "96"))
	require.NoError(t, err)
	assert.Equal(t, 0, f.promptCount())
	assert.Equal(t, domain.ClassificationInSpec, outcome.Completion.Classification)
	assert.False(t, outcome.Completion.HasDeviation)
	assert.True(t, outcome.BatchCompleted)
}

func TestEngine_QCOutOfSpecAcceptedYieldsExactlyOneDeviation(t *testing.T) {
	f := newFixture(t)
	batch := f.startedBatch()
	f.runTo(batch.ID, 4)
	f.acceptOverrides()

	var mu sync.Mutex
	var recorded []domain.Deviation
	require.NoError(t, f.events.OnDeviationRecorded(func(e *domain.DeviationRecordedEvent) {
		mu.Lock()
		defer mu.Unlock()
		recorded = append(recorded, e.Deviation)
	}))

	outcome, err := f.engine.ExecuteStep(context.Background(), assay(batch.ID, "90"))
	require.NoError(t, err)
	require.Equal(t, 1, f.promptCount())
	assert.True(t, f.prompts[0].Deviation)

	c := outcome.Completion
	assert.Equal(t, domain.ClassificationOutOfSpec, c.Classification)
	assert.True(t, c.Overridden)
	assert.True(t, c.HasDeviation)
	assert.NotEmpty(t, c.DeviationDescription)
	assert.True(t, outcome.BatchCompleted)

	devs, err := f.store.Deviations(context.Background(), batch.ID)
	require.NoError(t, err)
	require.Len(t, devs, 1)
	assert.Equal(t, c.DeviationID, devs[0].ID)
	assert.Equal(t, "s5", devs[0].StepID)
	assert.Equal(t, domain.DeviationSeverityMajor, devs[0].Severity)
	assert.Equal(t, domain.DeviationStatusOpen, devs[0].Status)

	f.events.Wait()
	mu.Lock()
	assert.Len(t, recorded, 1)
	mu.Unlock()
	assert.Equal(t, int64(1), f.engine.Metrics().DeviationsRaised)
}

func TestEngine_QCOutOfSpecDeclined(t *testing.T) {
	f := newFixture(t)
	batch := f.startedBatch()
	f.runTo(batch.ID, 4)
	before, err := f.store.Get(context.Background(), batch.ID)
	require.NoError(t, err)

	_, err = f.engine.ExecuteStep(context.Background(), assay(batch.ID, "90"))
	assert.ErrorIs(t, err, domain.ErrOverrideDeclined)
	f.requireUnchanged(before)

	devs, err := f.store.Deviations(context.Background(), batch.ID)
	require.NoError(t, err)
	assert.Empty(t, devs)
}

func TestEngine_SignatureAbandonmentIsIdempotentAtEveryStep(t *testing.T) {
	f := newFixture(t)
	batch := f.startedBatch()
	reqs := []domain.ExecuteStepRequest{
		dispense(batch.ID, "248", "LOT-A"),
		weigh(batch.ID, "100.5"),
		confirmProcess(batch.ID),
		mix(batch.ID),
		assay(batch.ID, "96"),
	}

	signOK := f.sign
	for _, req := range reqs {
		before, err := f.store.Get(context.Background(), batch.ID)
		require.NoError(t, err)
		auditBefore := f.auditActions(batch.ID)

		f.sign = func(domain.SignatureRequest) (domain.Signature, error) {
			return domain.Signature{}, domain.ErrSignatureCancelled
		}
		_, err = f.engine.ExecuteStep(context.Background(), req)
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrSignatureCancelled, req.StepID)
		f.requireUnchanged(before)
		assert.Equal(t, auditBefore, f.auditActions(batch.ID))

		f.sign = signOK
		_, err = f.engine.ExecuteStep(context.Background(), req)
		require.NoError(t, err, req.StepID)
	}

	assert.Equal(t, int64(5), f.engine.Metrics().SignaturesCancelled)
}

func TestEngine_ForeignSignerIsRejected(t *testing.T) {
	f := newFixture(t)
	batch := f.startedBatch()
	f.sign = func(domain.SignatureRequest) (domain.Signature, error) {
		return domain.Signature{SignedBy: "mallory", Reason: "x"}, nil
	}

	_, err := f.engine.ExecuteStep(context.Background(), dispense(batch.ID, "248", "LOT-A"))
	assert.ErrorIs(t, err, domain.ErrSignatureCancelled)
	f.requireUnchanged(batch)
}

func TestEngine_ContextCancelledDuringSignature(t *testing.T) {
	broker := signature.NewBroker(nil)
	f := newFixture(t, withSignatures(broker))
	batch := f.startedBatch()

	ctx, cancel := context.WithCancel(context.Background())
	broker.OnRequest(func(domain.SignatureRequest) { cancel() })

	_, err := f.engine.ExecuteStep(ctx, dispense(batch.ID, "248", "LOT-A"))
	assert.ErrorIs(t, err, domain.ErrSignatureCancelled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, broker.Outstanding())
	f.requireUnchanged(batch)
}

func TestEngine_SequenceViolations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	batch := f.startedBatch()

	_, err := f.engine.ExecuteStep(ctx, weigh(batch.ID, "100"))
	require.Error(t, err)
	assert.True(t, domain.IsSequenceViolation(err))
	var seqErr *domain.SequenceError
	require.ErrorAs(t, err, &seqErr)
	assert.Equal(t, "s1", seqErr.ExpectedStep)
	f.requireUnchanged(batch)

	f.runTo(batch.ID, 1)
	_, err = f.engine.ExecuteStep(ctx, dispense(batch.ID, "248", "LOT-A"))
	assert.True(t, domain.IsSequenceViolation(err))

	unknown := dispense(batch.ID, "248", "LOT-A")
	unknown.StepID = "s99"
	_, err = f.engine.ExecuteStep(ctx, unknown)
	assert.True(t, domain.IsSequenceViolation(err))
	assert.Equal(t, int32(1), f.signCalls.Load())
}

func TestEngine_ExecuteRequiresInProgress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ready, err := f.engine.CreateBatch(ctx, domain.NewBatch{FormulaID: "F-1", WorkflowID: "W-1", TargetQuantity: dec("100"), CreatedBy: "planner"})
	require.NoError(t, err)
	_, err = f.engine.ExecuteStep(ctx, dispense(ready.ID, "248", "LOT-A"))
	assert.True(t, domain.IsSequenceViolation(err))
	assert.True(t, domain.IsInvalidTransition(err))

	done := f.startedBatch()
	f.runTo(done.ID, 5)
	_, err = f.engine.ExecuteStep(ctx, assay(done.ID, "96"))
	assert.True(t, domain.IsInvalidTransition(err))

	_, err = f.engine.StartBatch(ctx, done.ID, "alice")
	assert.True(t, domain.IsInvalidTransition(err))
}

func TestEngine_AuthorizationBlocksBeforeSignature(t *testing.T) {
	f := newFixture(t)
	batch := f.startedBatch()

	req := dispense(batch.ID, "248", "LOT-A")
	req.Actor = "bob"
	_, err := f.engine.ExecuteStep(context.Background(), req)
	require.Error(t, err)
	assert.True(t, domain.IsUnauthorized(err))
	var authErr *domain.AuthorizationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "WS-1", authErr.WorkStationID)
	assert.Equal(t, int32(0), f.signCalls.Load())
	f.requireUnchanged(batch)
}

func TestEngine_AuthorizerFailureBlocks(t *testing.T) {
	authz := new(mocks.MockAuthorizer)
	authz.On("CanAccessWorkStation", mock.Anything, "alice", "WS-1").Return(false, errors.New("directory down"))

	f := newFixture(t, func(_ *domain.Config, deps *Dependencies) { deps.Authorizer = authz })
	batch := f.startedBatch()

	_, err := f.engine.ExecuteStep(context.Background(), dispense(batch.ID, "248", "LOT-A"))
	assert.True(t, domain.IsUnauthorized(err))
	assert.ErrorContains(t, err, "directory down")
	authz.AssertExpectations(t)
}

func TestEngine_InputErrorsAreLocal(t *testing.T) {
	f := newFixture(t)
	batch := f.startedBatch()
	auditBefore := f.auditActions(batch.ID)

	for _, req := range []domain.ExecuteStepRequest{
		dispense(batch.ID, "abc", "LOT-A"),
		dispense(batch.ID, "248", ""),
		{BatchID: batch.ID, StepID: "s1", Actor: "alice"},
	} {
		_, err := f.engine.ExecuteStep(context.Background(), req)
		require.Error(t, err)
		assert.True(t, domain.IsInvalidInput(err))
	}

	_, err := f.engine.ExecuteStep(context.Background(), dispense(batch.ID, "12kg", "LOT-A"))
	assert.ErrorIs(t, err, domain.ErrNonNumeric)

	assert.Equal(t, 0, f.promptCount())
	assert.Equal(t, int32(0), f.signCalls.Load())
	f.requireUnchanged(batch)
	assert.Equal(t, auditBefore, f.auditActions(batch.ID))
	assert.Equal(t, int64(4), f.engine.Metrics().InputRejections)
}

func TestEngine_AuditFailureSurfacesWithoutRollback(t *testing.T) {
	sink := new(mocks.MockAuditSink)
	cause := errors.New("audit store unavailable")
	sink.On("AppendAudit", mock.Anything, mock.MatchedBy(func(e domain.AuditEntry) bool {
		return e.Action != domain.AuditActionStepCompleted
	})).Return(nil)
	sink.On("AppendAudit", mock.Anything, mock.Anything).Return(cause)

	f := newFixture(t, withAudit(sink))
	batch := f.startedBatch()

	outcome, err := f.engine.ExecuteStep(context.Background(), dispense(batch.ID, "248", "LOT-A"))
	require.Error(t, err)
	require.NotNil(t, outcome)
	assert.True(t, domain.IsAuditFailure(err))
	assert.ErrorIs(t, err, cause)
	var postErr *domain.PostCommitError
	require.ErrorAs(t, err, &postErr)
	assert.Equal(t, batch.ID, postErr.BatchID)

	stored, getErr := f.store.Get(context.Background(), batch.ID)
	require.NoError(t, getErr)
	assert.Equal(t, 1, stored.CurrentStepIndex)
	assert.Equal(t, outcome.Batch.Version, stored.Version)
	assert.Equal(t, int64(1), f.engine.Metrics().AuditFailures)
}

func TestEngine_DeviationHandoffFailureSurfacesWithoutRollback(t *testing.T) {
	sink := new(mocks.MockDeviationSink)
	sink.On("SubmitDeviation", mock.Anything, mock.Anything).Return(errors.New("qms offline")).Once()

	f := newFixture(t, withDeviationSink(sink))
	batch := f.startedBatch()
	f.runTo(batch.ID, 4)
	f.acceptOverrides()

	outcome, err := f.engine.ExecuteStep(context.Background(), assay(batch.ID, "90"))
	require.Error(t, err)
	require.NotNil(t, outcome)
	assert.ErrorIs(t, err, domain.ErrDeviationHandoff)
	assert.False(t, domain.IsAuditFailure(err))
	assert.True(t, outcome.BatchCompleted)

	stored, getErr := f.store.Get(context.Background(), batch.ID)
	require.NoError(t, getErr)
	assert.Equal(t, domain.BatchStatusCompleted, stored.Status)
	assert.True(t, stored.History[4].HasDeviation)
	sink.AssertExpectations(t)
}

func TestEngine_ConcurrentAttemptsOnOneBatchSerialize(t *testing.T) {
	f := newFixture(t)
	batch := f.startedBatch()

	const attempts = 8
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.ExecuteStep(context.Background(), dispense(batch.ID, "248", "LOT-A"))
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, domain.IsSequenceViolation(err), err)
	}
	assert.Equal(t, 1, succeeded)

	stored, err := f.store.Get(context.Background(), batch.ID)
	require.NoError(t, err)
	requireConsistent(t, stored)
	assert.Len(t, stored.History, 1)
	assert.Len(t, stored.MaterialConsumption, 1)
	assert.Equal(t, 0, f.engine.locks.size())
}

func TestEngine_PendingSignatureHoldsOnlyItsBatch(t *testing.T) {
	broker := signature.NewBroker(nil)
	f := newFixture(t, withSignatures(broker), withLockTimeout(50*time.Millisecond))
	held := f.startedBatch()
	other := f.startedBatch()

	type result struct {
		outcome *domain.StepOutcome
		err     error
	}
	done := make(chan result, 1)
	go func() {
		outcome, err := f.engine.ExecuteStep(context.Background(), dispense(held.ID, "248", "LOT-A"))
		done <- result{outcome, err}
	}()

	require.Eventually(t, func() bool { return len(broker.Outstanding()) == 1 }, time.Second, 5*time.Millisecond)
	pending := broker.Outstanding()[0]

	_, err := f.engine.ExecuteStep(context.Background(), dispense(held.ID, "248", "LOT-A"))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	otherReq := dispense(other.ID, "248", "LOT-B")
	otherDone := make(chan error, 1)
	go func() {
		_, err := f.engine.ExecuteStep(context.Background(), otherReq)
		otherDone <- err
	}()
	require.Eventually(t, func() bool { return len(broker.Outstanding()) == 2 }, time.Second, 5*time.Millisecond)

	for _, req := range broker.Outstanding() {
		require.NoError(t, broker.Sign(req.ID, domain.Signature{SignedBy: req.Actor, Reason: "ok"}))
	}

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, held.ID, res.outcome.Batch.ID)
	assert.Equal(t, pending.BatchID, held.ID)
	require.NoError(t, <-otherDone)
}

func TestEngine_TimestampsStayOrderedWhenClockStepsBack(t *testing.T) {
	f := newFixture(t)
	batch := f.startedBatch()
	f.runTo(batch.ID, 1)

	first, err := f.store.Get(context.Background(), batch.ID)
	require.NoError(t, err)
	f.clock.Set(first.History[0].Timestamp.Add(-time.Hour))

	outcome, err := f.engine.ExecuteStep(context.Background(), weigh(batch.ID, "100"))
	require.NoError(t, err)
	assert.False(t, outcome.Completion.Timestamp.Before(first.History[0].Timestamp))
	requireConsistent(t, outcome.Batch)
}

func TestEngine_StartBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var started []*domain.BatchStartedEvent
	var mu sync.Mutex
	require.NoError(t, f.events.OnBatchStarted(func(e *domain.BatchStartedEvent) {
		mu.Lock()
		defer mu.Unlock()
		started = append(started, e)
	}))

	batch, err := f.engine.CreateBatch(ctx, domain.NewBatch{FormulaID: "F-1", WorkflowID: "W-1", TargetQuantity: dec("100"), CreatedBy: "planner"})
	require.NoError(t, err)
	assert.Equal(t, domain.BatchStatusReady, batch.Status)
	assert.Equal(t, 0, batch.Progress)
	assert.Equal(t, 5, batch.TotalSteps)
	assert.Equal(t, domain.PriorityNormal, batch.Priority)

	_, err = f.engine.StartBatch(ctx, batch.ID, "")
	assert.True(t, domain.IsInvalidInput(err))

	running, err := f.engine.StartBatch(ctx, batch.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.BatchStatusInProgress, running.Status)
	assert.Equal(t, "alice", running.StartedBy)
	require.NotNil(t, running.StartedAt)
	assert.False(t, running.StartedAt.Before(batch.CreatedAt))

	_, err = f.engine.StartBatch(ctx, batch.ID, "alice")
	var trErr *domain.TransitionError
	require.ErrorAs(t, err, &trErr)
	assert.Equal(t, domain.BatchStatusInProgress, trErr.From)

	step, ok, err := f.engine.CurrentStep(ctx, batch.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "s1", step.ID)

	_, err = f.engine.StartBatch(ctx, "missing", "alice")
	assert.True(t, domain.IsNotFound(err))

	f.events.Wait()
	mu.Lock()
	assert.Len(t, started, 1)
	mu.Unlock()
}

func TestEngine_CreateBatchValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.CreateBatch(ctx, domain.NewBatch{FormulaID: "F-1", WorkflowID: "W-1", CreatedBy: "planner"})
	assert.True(t, domain.IsInvalidInput(err))

	_, err = f.engine.CreateBatch(ctx, domain.NewBatch{FormulaID: "F-1", WorkflowID: "W-404", TargetQuantity: dec("1"), CreatedBy: "planner"})
	assert.True(t, domain.IsNotFound(err))

	require.NoError(t, f.catalog.RegisterFormula(domain.Formula{ID: "F-2", Items: []domain.BOMItem{{ID: "other", Min: dec("1"), Max: dec("2")}}}))
	_, err = f.engine.CreateBatch(ctx, domain.NewBatch{FormulaID: "F-2", WorkflowID: "W-1", TargetQuantity: dec("1"), CreatedBy: "planner"})
	assert.True(t, domain.IsInvalidInput(err))

	batch, err := f.engine.CreateBatch(ctx, domain.NewBatch{ID: "B-42", FormulaID: "F-1", WorkflowID: "W-1", TargetQuantity: dec("1"), CreatedBy: "planner", Priority: domain.PriorityUrgent})
	require.NoError(t, err)
	assert.Equal(t, "B-42", batch.ID)
	assert.Equal(t, domain.PriorityUrgent, batch.Priority)

	_, err = f.engine.CreateBatch(ctx, domain.NewBatch{ID: "B-42", FormulaID: "F-1", WorkflowID: "W-1", TargetQuantity: dec("1"), CreatedBy: "planner"})
	assert.Error(t, err)
}

func TestEngine_RejectBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	batch := f.startedBatch()
	f.runTo(batch.ID, 2)

	_, err := f.engine.RejectBatch(ctx, batch.ID, "qa", " ")
	assert.True(t, domain.IsInvalidInput(err))

	var requested domain.SignatureRequest
	f.sign = func(req domain.SignatureRequest) (domain.Signature, error) {
		requested = req
		return domain.Signature{SignedBy: req.Actor, Reason: req.SuggestedReason}, nil
	}

	rejected, err := f.engine.RejectBatch(ctx, batch.ID, "qa", "contaminated raw material")
	require.NoError(t, err)
	assert.Equal(t, domain.SignatureActionBatchRejection, requested.Action)
	assert.True(t, requested.RequiresReason)
	assert.Equal(t, domain.BatchStatusRejected, rejected.Status)
	assert.Equal(t, "qa", rejected.RejectedBy)
	require.NotNil(t, rejected.RejectionSignature)
	assert.Equal(t, "contaminated raw material", rejected.RejectionSignature.Reason)
	require.NotNil(t, rejected.RejectedAt)
	assert.Len(t, rejected.History, 2)
	requireConsistent(t, rejected)

	_, err = f.engine.ExecuteStep(ctx, confirmProcess(batch.ID))
	assert.True(t, domain.IsInvalidTransition(err))
	_, err = f.engine.RejectBatch(ctx, batch.ID, "qa", "again")
	assert.True(t, domain.IsInvalidTransition(err))

	actions := f.auditActions(batch.ID)
	assert.Equal(t, domain.AuditActionBatchRejected, actions[len(actions)-1])

	list, err := f.engine.ListBatches(ctx, domain.BatchFilter{Statuses: []domain.BatchStatus{domain.BatchStatusRejected}})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, batch.ID, list[0].ID)
}

func TestEngine_RejectBatchAbandoned(t *testing.T) {
	f := newFixture(t)
	batch := f.startedBatch()
	f.sign = func(domain.SignatureRequest) (domain.Signature, error) {
		return domain.Signature{}, domain.ErrSignatureCancelled
	}

	_, err := f.engine.RejectBatch(context.Background(), batch.ID, "qa", "contaminated")
	assert.True(t, domain.IsAbandoned(err))
	f.requireUnchanged(batch)
}

func TestEngine_OverrideRequiresSignatureReason(t *testing.T) {
	f := newFixture(t)
	f.acceptOverrides()
	batch := f.startedBatch()

	f.sign = func(req domain.SignatureRequest) (domain.Signature, error) {
		assert.True(t, req.RequiresReason)
		return domain.Signature{SignedBy: req.Actor}, nil
	}
	_, err := f.engine.ExecuteStep(context.Background(), dispense(batch.ID, "235", "LOT-A"))
	assert.ErrorIs(t, err, domain.ErrSignatureCancelled)
	f.requireUnchanged(batch)
}

func TestNewEngine_RequiresDeviationSink(t *testing.T) {
	f := newFixture(t)
	_, err := NewEngine(*domain.DefaultConfig(), Dependencies{
		Store:      f.store,
		Catalog:    f.catalog,
		Authorizer: f.access,
		Signatures: signature.Func(func(ctx context.Context, req domain.SignatureRequest) (domain.Signature, error) {
			return domain.Signature{SignedBy: req.Actor}, nil
		}),
		Audit: f.store,
	})
	var cfgErr *domain.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "deviations", cfgErr.Field)
}

func TestEngine_EditedStepCopyDoesNotLoosenQCRange(t *testing.T) {
	f := newFixture(t)
	f.acceptOverrides()
	batch := f.startedBatch()
	f.runTo(batch.ID, 4)

	step, ok, err := f.engine.CurrentStep(context.Background(), batch.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, step.Params.QC)
	step.Params.QC.Min = dec("0")

	outcome, err := f.engine.ExecuteStep(context.Background(), assay(batch.ID, "90"))
	require.NoError(t, err)
	assert.Equal(t, domain.ClassificationOutOfSpec, outcome.Completion.Classification)
	assert.Equal(t, "95-100", outcome.Classification.Window.String())
	assert.True(t, outcome.Completion.HasDeviation)
	require.NotNil(t, outcome.Deviation)
	assert.Equal(t, domain.DeviationSeverityMajor, outcome.Deviation.Severity)
}

func TestEngine_RunningWorkflowCannotBeReplaced(t *testing.T) {
	f := newFixture(t)
	batch := f.startedBatch()

	swapped := syrupWorkflow()
	swapped.Steps[0], swapped.Steps[1] = swapped.Steps[1], swapped.Steps[0]
	assert.ErrorIs(t, f.catalog.RegisterWorkflow(swapped), domain.ErrInvalidInput)

	loosened := syrupFormula()
	loosened.Items[0].Min = dec("0")
	assert.ErrorIs(t, f.catalog.RegisterFormula(loosened), domain.ErrInvalidInput)

	_, err := f.engine.ExecuteStep(context.Background(), weigh(batch.ID, "100"))
	assert.ErrorIs(t, err, domain.ErrSequenceViolation)
	f.requireUnchanged(batch)

	step, ok, err := f.engine.CurrentStep(context.Background(), batch.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "s1", step.ID)
}

func TestNewEngine_RequiresCollaborators(t *testing.T) {
	cfg := domain.DefaultConfig()
	_, err := NewEngine(*cfg, Dependencies{})
	assert.True(t, domain.IsInvalidConfig(err))

	bad := domain.DefaultConfig()
	bad.Engine.DurationSamples = 0
	_, err = NewEngine(*bad, Dependencies{})
	var cfgErr *domain.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "engine.duration_samples", cfgErr.Field)
}
