package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/eleven-am/mesbatch/internal/adapters/events"
	"github.com/eleven-am/mesbatch/internal/adapters/reference"
	"github.com/eleven-am/mesbatch/internal/adapters/signature"
	"github.com/eleven-am/mesbatch/internal/adapters/storage"
	"github.com/eleven-am/mesbatch/internal/domain"
	"github.com/eleven-am/mesbatch/internal/ports"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// stepClock advances one minute per reading unless frozen.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
	inc time.Duration
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC), inc: time.Minute}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.inc)
	return c.now
}

func (c *stepClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type confirmFunc func(ctx context.Context, prompt domain.OverridePrompt) (bool, error)

func (f confirmFunc) ConfirmOverride(ctx context.Context, prompt domain.OverridePrompt) (bool, error) {
	return f(ctx, prompt)
}

type fixture struct {
	t       *testing.T
	engine  *Engine
	store   *storage.MemoryStore
	catalog *reference.Catalog
	access  *reference.StationAccess
	events  *events.Manager
	clock   *stepClock

	signCalls atomic.Int32
	sign      func(req domain.SignatureRequest) (domain.Signature, error)

	mu      sync.Mutex
	prompts []domain.OverridePrompt
	confirm func(prompt domain.OverridePrompt) (bool, error)
}

type fixtureOption func(*domain.Config, *Dependencies)

func withPolicy(p domain.PolicyConfig) fixtureOption {
	return func(cfg *domain.Config, _ *Dependencies) { cfg.Policy = p }
}

func withAudit(sink ports.AuditSink) fixtureOption {
	return func(_ *domain.Config, deps *Dependencies) { deps.Audit = sink }
}

func withDeviationSink(sink ports.DeviationSink) fixtureOption {
	return func(_ *domain.Config, deps *Dependencies) { deps.Deviations = sink }
}

func withSignatures(provider ports.SignatureProvider) fixtureOption {
	return func(_ *domain.Config, deps *Dependencies) { deps.Signatures = provider }
}

func withLockTimeout(d time.Duration) fixtureOption {
	return func(cfg *domain.Config, _ *Dependencies) { cfg.Engine.LockTimeout = d }
}

func syrupFormula() domain.Formula {
	return domain.Formula{
		ID:   "F-1",
		Name: "Syrup",
		Items: []domain.BOMItem{
			{ID: "bom-sugar", MaterialArticle: "SUGAR-01", Quantity: dec("2.5"), Unit: "g", Min: dec("245"), Max: dec("255")},
			{ID: "bom-water", MaterialArticle: "WATER-01", Quantity: dec("1"), Unit: "mL", Min: dec("99"), Max: dec("101")},
		},
	}
}

func syrupWorkflow() domain.Workflow {
	return domain.Workflow{
		ID:   "W-1",
		Name: "Syrup line",
		Steps: []domain.Step{
			{ID: "s1", Name: "Dispense sugar", Type: domain.StepTypeDispensing, WorkStationID: "WS-1", FormulaBOMID: "bom-sugar",
				Params: domain.StepParams{Dispensing: &domain.MaterialParams{Unit: "g"}}},
			{ID: "s2", Name: "Weigh water", Type: domain.StepTypeWeighing, WorkStationID: "WS-1", FormulaBOMID: "bom-water"},
			{ID: "s3", Name: "Heat", Type: domain.StepTypeProcess, WorkStationID: "WS-2"},
			{ID: "s4", Name: "Blend", Type: domain.StepTypeMixing, WorkStationID: "WS-2"},
			{ID: "s5", Name: "Assay", Type: domain.StepTypeQC, RequiresQC: true,
				Params: domain.StepParams{QC: &domain.QCParams{Parameter: "assay", Min: dec("95"), Max: dec("100"), Unit: "%"}}},
		},
	}
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	f := &fixture{
		t:       t,
		store:   storage.NewMemoryStore(nil),
		catalog: reference.NewCatalog(nil),
		access:  reference.NewStationAccess(),
		events:  events.NewManager(nil),
		clock:   newStepClock(),
	}
	f.sign = func(req domain.SignatureRequest) (domain.Signature, error) {
		return domain.Signature{SignedBy: req.Actor, Reason: "performed per SOP"}, nil
	}
	f.confirm = func(domain.OverridePrompt) (bool, error) { return false, nil }

	require.NoError(t, f.catalog.RegisterFormula(syrupFormula()))
	require.NoError(t, f.catalog.RegisterWorkflow(syrupWorkflow()))
	f.access.Grant("alice", "WS-1", "WS-2")
	f.access.Grant("qa", reference.AnyStation)

	cfg := domain.DefaultConfig()
	deps := Dependencies{
		Store:      f.store,
		Catalog:    f.catalog,
		Authorizer: f.access,
		Signatures: signature.Func(func(ctx context.Context, req domain.SignatureRequest) (domain.Signature, error) {
			f.signCalls.Add(1)
			return f.sign(req)
		}),
		Confirmer: confirmFunc(func(ctx context.Context, prompt domain.OverridePrompt) (bool, error) {
			f.mu.Lock()
			f.prompts = append(f.prompts, prompt)
			confirm := f.confirm
			f.mu.Unlock()
			return confirm(prompt)
		}),
		Audit:      f.store,
		Deviations: f.store,
		Events:     f.events,
		Clock:      f.clock,
	}
	for _, opt := range opts {
		opt(cfg, &deps)
	}

	engine, err := NewEngine(*cfg, deps)
	require.NoError(t, err)
	f.engine = engine
	return f
}

func (f *fixture) acceptOverrides() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirm = func(domain.OverridePrompt) (bool, error) { return true, nil }
}

func (f *fixture) promptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

func (f *fixture) startedBatch() domain.Batch {
	f.t.Helper()
	ctx := context.Background()
	batch, err := f.engine.CreateBatch(ctx, domain.NewBatch{
		FormulaID:      "F-1",
		WorkflowID:     "W-1",
		TargetQuantity: dec("100"),
		Unit:           "L",
		CreatedBy:      "planner",
	})
	require.NoError(f.t, err)
	batch, err = f.engine.StartBatch(ctx, batch.ID, "alice")
	require.NoError(f.t, err)
	return batch
}

func dispense(batchID, weight, lot string) domain.ExecuteStepRequest {
	return domain.ExecuteStepRequest{
		BatchID: batchID, StepID: "s1", Actor: "alice",
		Input: domain.StepInput{Dispensing: &domain.DispensingInput{Weight: weight, LotNumber: lot}},
	}
}

func weigh(batchID, weight string) domain.ExecuteStepRequest {
	return domain.ExecuteStepRequest{
		BatchID: batchID, StepID: "s2", Actor: "alice",
		Input: domain.StepInput{Weighing: &domain.WeighingInput{Weight: weight, BalanceID: "BAL-1", LotNumber: "W-LOT"}},
	}
}

func confirmProcess(batchID string) domain.ExecuteStepRequest {
	return domain.ExecuteStepRequest{
		BatchID: batchID, StepID: "s3", Actor: "alice",
		Input: domain.StepInput{Process: &domain.ProcessInput{Confirmation: "confirmed"}},
	}
}

func mix(batchID string) domain.ExecuteStepRequest {
	return domain.ExecuteStepRequest{
		BatchID: batchID, StepID: "s4", Actor: "alice",
		Input: domain.StepInput{Mixing: &domain.MixingInput{Duration: "15", RPM: "120", Temperature: "40"}},
	}
}

func assay(batchID, value string) domain.ExecuteStepRequest {
	return domain.ExecuteStepRequest{
		BatchID: batchID, StepID: "s5", Actor: "qa",
		Input: domain.StepInput{QC: &domain.QCInput{Measurement: value}},
	}
}

// runTo executes the in-spec path up to, not including, step index stop.
func (f *fixture) runTo(batchID string, stop int) {
	f.t.Helper()
	reqs := []domain.ExecuteStepRequest{
		dispense(batchID, "248", "LOT-A"),
		weigh(batchID, "100.5"),
		confirmProcess(batchID),
		mix(batchID),
		assay(batchID, "96"),
	}
	for _, req := range reqs[:stop] {
		_, err := f.engine.ExecuteStep(context.Background(), req)
		require.NoError(f.t, err, req.StepID)
	}
}

func (f *fixture) requireUnchanged(before domain.Batch) {
	f.t.Helper()
	after, err := f.store.Get(context.Background(), before.ID)
	require.NoError(f.t, err)
	require.Equal(f.t, before.History, after.History)
	require.Equal(f.t, before.MaterialConsumption, after.MaterialConsumption)
	require.Equal(f.t, before.CurrentStepIndex, after.CurrentStepIndex)
	require.Equal(f.t, before.Status, after.Status)
	require.Equal(f.t, before.Progress, after.Progress)
	require.Equal(f.t, before.Version, after.Version)
}

func (f *fixture) auditActions(batchID string) []string {
	f.t.Helper()
	trail, err := f.store.AuditTrail(context.Background(), batchID)
	require.NoError(f.t, err)
	actions := make([]string, 0, len(trail))
	for _, e := range trail {
		actions = append(actions, e.Action)
	}
	return actions
}

func requireConsistent(t *testing.T, b domain.Batch) {
	t.Helper()
	require.Len(t, b.History, b.CurrentStepIndex)
	require.Equal(t, domain.ComputeProgress(b.CurrentStepIndex, b.TotalSteps), b.Progress)
	require.NoError(t, domain.CheckBatchInvariants(b))
}
