package mesbatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type confirmer func(OverridePrompt) bool

func (f confirmer) ConfirmOverride(_ context.Context, prompt OverridePrompt) (bool, error) {
	return f(prompt), nil
}

func qcLine() (Formula, Workflow) {
	formula := Formula{
		ID: "F-QC",
		Items: []BOMItem{{
			ID: "api", MaterialArticle: "API-7", Quantity: decimal.NewFromInt(1), Unit: "kg",
			Min: decimal.RequireFromString("0.95"), Max: decimal.RequireFromString("1.05"),
		}},
	}
	workflow := Workflow{
		ID: "W-QC",
		Steps: []Step{
			{ID: "weigh", Name: "Weigh API", Type: StepTypeWeighing, WorkStationID: "WS-1", FormulaBOMID: "api"},
			{ID: "assay", Name: "Assay", Type: StepTypeQC, RequiresQC: true,
				Params: StepParams{QC: &QCParams{Parameter: "assay", Min: decimal.NewFromInt(98), Max: decimal.NewFromInt(102), Unit: "%"}}},
		},
	}
	return formula, workflow
}

func TestManager_EndToEndWithDeviation(t *testing.T) {
	var prompts []OverridePrompt
	clock := &fixedClock{now: time.Date(2026, 5, 1, 6, 0, 0, 0, time.UTC)}

	config, err := NewConfigBuilder().WithSignatureTimeout(time.Second).Build()
	require.NoError(t, err)
	manager, err := NewWithConfig(config,
		WithClock(clock),
		WithOverrideConfirmer(confirmer(func(p OverridePrompt) bool {
			prompts = append(prompts, p)
			return true
		})))
	require.NoError(t, err)
	defer manager.Close()

	formula, workflow := qcLine()
	require.NoError(t, manager.RegisterFormula(formula))
	require.NoError(t, manager.RegisterWorkflow(workflow))
	manager.GrantStationAccess("op", "WS-1")
	manager.OnSignatureRequested(func(req SignatureRequest) {
		_ = manager.Sign(req.ID, Signature{SignedBy: req.Actor, Reason: "assay repeated, confirmed"})
	})

	var deviations []DeviationRecordedEvent
	var mu sync.Mutex
	require.NoError(t, manager.OnDeviationRecorded(func(e *DeviationRecordedEvent) {
		mu.Lock()
		defer mu.Unlock()
		deviations = append(deviations, *e)
	}))

	ctx := context.Background()
	batch, err := manager.CreateBatch(ctx, NewBatch{FormulaID: "F-QC", WorkflowID: "W-QC", TargetQuantity: decimal.NewFromInt(10), Unit: "kg", CreatedBy: "planner"})
	require.NoError(t, err)
	_, err = manager.StartBatch(ctx, batch.ID, "op")
	require.NoError(t, err)

	outcome, err := manager.ExecuteStep(ctx, ExecuteStepRequest{
		BatchID: batch.ID, StepID: "weigh", Actor: "op",
		Input: StepInput{Weighing: &WeighingInput{Weight: "10.02", BalanceID: "BAL-2"}},
	})
	require.NoError(t, err)
	assert.Equal(t, ClassificationInSpec, outcome.Completion.Classification)
	assert.Equal(t, 50, outcome.Batch.Progress)

	outcome, err = manager.ExecuteStep(ctx, ExecuteStepRequest{
		BatchID: batch.ID, StepID: "assay", Actor: "op",
		Input: StepInput{QC: &QCInput{Measurement: "97.1"}},
	})
	require.NoError(t, err)
	require.Len(t, prompts, 1)
	assert.True(t, prompts[0].Deviation)
	assert.True(t, outcome.BatchCompleted)
	assert.True(t, outcome.Completion.HasDeviation)

	devs, err := manager.Deviations(ctx, batch.ID)
	require.NoError(t, err)
	require.Len(t, devs, 1)
	assert.Equal(t, "assay", devs[0].StepID)

	require.NoError(t, manager.Close())
	mu.Lock()
	assert.Len(t, deviations, 1)
	mu.Unlock()

	completed, err := manager.ListBatches(ctx, BatchFilter{Statuses: []BatchStatus{BatchStatusCompleted}})
	assert.Error(t, err)
	assert.Empty(t, completed)
}

func TestManager_UnsignedStepTimesOut(t *testing.T) {
	config, err := NewConfigBuilder().WithSignatureTimeout(20 * time.Millisecond).Build()
	require.NoError(t, err)
	manager, err := NewWithConfig(config)
	require.NoError(t, err)
	defer manager.Close()

	formula, workflow := qcLine()
	require.NoError(t, manager.RegisterFormula(formula))
	require.NoError(t, manager.RegisterWorkflow(workflow))
	manager.GrantStationAccess("op", "WS-1")

	ctx := context.Background()
	batch, err := manager.CreateBatch(ctx, NewBatch{FormulaID: "F-QC", WorkflowID: "W-QC", TargetQuantity: decimal.NewFromInt(10), CreatedBy: "planner"})
	require.NoError(t, err)
	_, err = manager.StartBatch(ctx, batch.ID, "op")
	require.NoError(t, err)

	_, err = manager.ExecuteStep(ctx, ExecuteStepRequest{
		BatchID: batch.ID, StepID: "weigh", Actor: "op",
		Input: StepInput{Weighing: &WeighingInput{Weight: "10", BalanceID: "BAL-2"}},
	})
	assert.True(t, IsAbandoned(err))
	assert.Empty(t, manager.PendingSignatures())

	stored, err := manager.GetBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.CurrentStepIndex)
	assert.Empty(t, stored.History)
}
