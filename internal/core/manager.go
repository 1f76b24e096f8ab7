package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/eleven-am/mesbatch/internal/adapters/engine"
	"github.com/eleven-am/mesbatch/internal/adapters/events"
	"github.com/eleven-am/mesbatch/internal/adapters/reference"
	"github.com/eleven-am/mesbatch/internal/adapters/signature"
	"github.com/eleven-am/mesbatch/internal/adapters/storage"
	"github.com/eleven-am/mesbatch/internal/domain"
	"github.com/eleven-am/mesbatch/internal/ports"
)

// recordStore is what the built-in stores provide: batches plus the audit and
// deviation records they keep next to them.
type recordStore interface {
	ports.BatchStore
	ports.AuditSink
	ports.AuditReader
	ports.DeviationSink
	ports.DeviationReader
	io.Closer
}

// Manager wires the engine to its stores, the reference catalog, the
// signature broker and the event fan-out.
type Manager struct {
	engine  *engine.Engine
	store   recordStore
	catalog *reference.Catalog
	access  *reference.StationAccess
	broker  *signature.Broker
	events  *events.Manager

	auditReader     ports.AuditReader
	deviationReader ports.DeviationReader

	config *domain.Config
	logger *slog.Logger
}

func New(logger *slog.Logger, opts ...Option) (*Manager, error) {
	config := domain.DefaultConfig()
	config.Logger = logger
	return NewWithConfig(config, opts...)
}

func NewWithConfig(config *domain.Config, opts ...Option) (*Manager, error) {
	if config == nil {
		config = domain.DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	logger := config.Logger.With("component", "mesbatch")

	store, err := openStore(config.Storage, config.Logger)
	if err != nil {
		logger.Error("failed to open store", "driver", config.Storage.Driver, "error", err)
		return nil, err
	}

	m := &Manager{
		store:           store,
		catalog:         reference.NewCatalog(config.Logger),
		access:          reference.NewStationAccess(),
		broker:          signature.NewBroker(config.Logger),
		events:          events.NewManager(config.Logger),
		auditReader:     store,
		deviationReader: store,
		config:          config,
		logger:          logger,
	}

	deps := engine.Dependencies{
		Store:      store,
		Catalog:    m.catalog,
		Authorizer: m.access,
		Signatures: m.broker,
		Confirmer:  o.confirmer,
		Audit:      store,
		Deviations: store,
		Events:     m.events,
		Clock:      o.clock,
	}
	if o.authorizer != nil {
		deps.Authorizer = o.authorizer
	}
	if o.signatures != nil {
		deps.Signatures = o.signatures
	}
	if o.audit != nil {
		deps.Audit = o.audit
		m.auditReader, _ = o.audit.(ports.AuditReader)
	}
	if o.deviations != nil {
		deps.Deviations = o.deviations
		m.deviationReader, _ = o.deviations.(ports.DeviationReader)
	}

	m.engine, err = engine.NewEngine(*config, deps)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	logger.Info("batch engine ready", "storage", config.Storage.Driver)
	return m, nil
}

func openStore(cfg domain.StorageConfig, logger *slog.Logger) (recordStore, error) {
	switch cfg.Driver {
	case domain.StorageBadger:
		store, err := storage.OpenBadger(cfg, logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return storage.NewMemoryStore(logger), nil
	}
}

func (m *Manager) Config() domain.Config {
	return *m.config
}

func (m *Manager) RegisterWorkflow(workflow domain.Workflow) error {
	return m.catalog.RegisterWorkflow(workflow)
}

func (m *Manager) RegisterFormula(formula domain.Formula) error {
	return m.catalog.RegisterFormula(formula)
}

// LoadReference reads a YAML reference file and registers its formulas,
// workflows and station assignments.
func (m *Manager) LoadReference(path string) error {
	file, err := reference.ReadFile(path)
	if err != nil {
		return err
	}
	return m.loadReferenceFile(file)
}

func (m *Manager) LoadReferenceData(data []byte) error {
	file, err := reference.ParseFile(data)
	if err != nil {
		return err
	}
	return m.loadReferenceFile(file)
}

func (m *Manager) loadReferenceFile(file *reference.File) error {
	if err := file.Validate(); err != nil {
		return err
	}
	if err := file.Load(m.catalog, m.access); err != nil {
		return err
	}
	m.logger.Info("reference data loaded",
		"workflows", len(file.Workflows),
		"formulas", len(file.Formulas),
		"actors", len(file.Stations))
	return nil
}

// GrantStationAccess only affects the built-in authorizer.
func (m *Manager) GrantStationAccess(actor string, stations ...string) {
	m.access.Grant(actor, stations...)
}

func (m *Manager) RevokeStationAccess(actor string, stations ...string) {
	m.access.Revoke(actor, stations...)
}

func (m *Manager) CreateBatch(ctx context.Context, req domain.NewBatch) (domain.Batch, error) {
	return m.engine.CreateBatch(ctx, req)
}

func (m *Manager) StartBatch(ctx context.Context, batchID, actor string) (domain.Batch, error) {
	return m.engine.StartBatch(ctx, batchID, actor)
}

// ExecuteStep blocks while the step's signature is outstanding. With the
// built-in broker the signature is supplied through Sign or DeclineSignature.
func (m *Manager) ExecuteStep(ctx context.Context, req domain.ExecuteStepRequest) (*domain.StepOutcome, error) {
	return m.engine.ExecuteStep(ctx, req)
}

func (m *Manager) RejectBatch(ctx context.Context, batchID, actor, reason string) (domain.Batch, error) {
	return m.engine.RejectBatch(ctx, batchID, actor, reason)
}

func (m *Manager) GetBatch(ctx context.Context, batchID string) (domain.Batch, error) {
	return m.engine.Batch(ctx, batchID)
}

func (m *Manager) CurrentStep(ctx context.Context, batchID string) (domain.Step, bool, error) {
	return m.engine.CurrentStep(ctx, batchID)
}

func (m *Manager) ListBatches(ctx context.Context, filter domain.BatchFilter) ([]domain.Batch, error) {
	return m.engine.ListBatches(ctx, filter)
}

func (m *Manager) Genealogy(ctx context.Context, batchID string) ([]domain.GenealogyEntry, error) {
	return m.engine.Genealogy(ctx, batchID)
}

var errNoReader = errors.New("configured sink cannot be read back")

func (m *Manager) AuditTrail(ctx context.Context, batchID string) ([]domain.AuditEntry, error) {
	if m.auditReader == nil {
		return nil, fmt.Errorf("audit trail for batch %s: %w", batchID, errNoReader)
	}
	return m.auditReader.AuditTrail(ctx, batchID)
}

func (m *Manager) Deviations(ctx context.Context, batchID string) ([]domain.Deviation, error) {
	if m.deviationReader == nil {
		return nil, fmt.Errorf("deviations for batch %s: %w", batchID, errNoReader)
	}
	return m.deviationReader.Deviations(ctx, batchID)
}

// OnSignatureRequested registers a handler called for every request raised
// through the built-in broker.
func (m *Manager) OnSignatureRequested(handler func(domain.SignatureRequest)) {
	m.broker.OnRequest(handler)
}

func (m *Manager) PendingSignatures() []domain.SignatureRequest {
	return m.broker.Outstanding()
}

func (m *Manager) Sign(requestID string, sig domain.Signature) error {
	return m.broker.Sign(requestID, sig)
}

func (m *Manager) DeclineSignature(requestID string) error {
	return m.broker.Decline(requestID)
}

func (m *Manager) OnBatchStarted(handler func(*domain.BatchStartedEvent)) error {
	return m.events.OnBatchStarted(handler)
}

func (m *Manager) OnStepCompleted(handler func(*domain.StepCompletedEvent)) error {
	return m.events.OnStepCompleted(handler)
}

func (m *Manager) OnBatchCompleted(handler func(*domain.BatchCompletedEvent)) error {
	return m.events.OnBatchCompleted(handler)
}

func (m *Manager) OnBatchRejected(handler func(*domain.BatchRejectedEvent)) error {
	return m.events.OnBatchRejected(handler)
}

func (m *Manager) OnDeviationRecorded(handler func(*domain.DeviationRecordedEvent)) error {
	return m.events.OnDeviationRecorded(handler)
}

func (m *Manager) Subscribe(pattern string, handler func(string, interface{})) (string, error) {
	return m.events.Subscribe(pattern, handler)
}

func (m *Manager) Unsubscribe(id string) error {
	return m.events.Unsubscribe(id)
}

func (m *Manager) Metrics() engine.MetricsSnapshot {
	return m.engine.Metrics()
}

// Close waits for in-flight event handlers and closes the store.
func (m *Manager) Close() error {
	m.events.Wait()
	if err := m.store.Close(); err != nil {
		m.logger.Error("failed to close store", "error", err)
		return err
	}
	m.logger.Info("batch engine stopped")
	return nil
}
