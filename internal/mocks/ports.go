package mocks

import (
	"context"
	"time"

	"github.com/eleven-am/mesbatch/internal/domain"
	"github.com/eleven-am/mesbatch/internal/ports"
	"github.com/stretchr/testify/mock"
)

type MockBatchStore struct {
	mock.Mock
}

func (m *MockBatchStore) Create(ctx context.Context, batch domain.Batch) (domain.Batch, error) {
	args := m.Called(ctx, batch)
	return args.Get(0).(domain.Batch), args.Error(1)
}

func (m *MockBatchStore) Get(ctx context.Context, id string) (domain.Batch, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(domain.Batch), args.Error(1)
}

func (m *MockBatchStore) Save(ctx context.Context, batch domain.Batch, expectedVersion int64) (domain.Batch, error) {
	args := m.Called(ctx, batch, expectedVersion)
	return args.Get(0).(domain.Batch), args.Error(1)
}

func (m *MockBatchStore) List(ctx context.Context, filter domain.BatchFilter) ([]domain.Batch, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Batch), args.Error(1)
}

type MockAuthorizer struct {
	mock.Mock
}

func (m *MockAuthorizer) CanAccessWorkStation(ctx context.Context, actor, workStationID string) (bool, error) {
	args := m.Called(ctx, actor, workStationID)
	return args.Bool(0), args.Error(1)
}

type MockOverrideConfirmer struct {
	mock.Mock
}

func (m *MockOverrideConfirmer) ConfirmOverride(ctx context.Context, prompt domain.OverridePrompt) (bool, error) {
	args := m.Called(ctx, prompt)
	return args.Bool(0), args.Error(1)
}

type MockSignatureProvider struct {
	mock.Mock
}

func (m *MockSignatureProvider) RequestSignature(ctx context.Context, req domain.SignatureRequest) (ports.PendingSignature, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(ports.PendingSignature), args.Error(1)
}

type MockPendingSignature struct {
	mock.Mock
}

func (m *MockPendingSignature) ID() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockPendingSignature) Await(ctx context.Context) (domain.Signature, error) {
	args := m.Called(ctx)
	return args.Get(0).(domain.Signature), args.Error(1)
}

func (m *MockPendingSignature) Cancel() {
	m.Called()
}

type MockAuditSink struct {
	mock.Mock
}

func (m *MockAuditSink) AppendAudit(ctx context.Context, entry domain.AuditEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

type MockDeviationSink struct {
	mock.Mock
}

func (m *MockDeviationSink) SubmitDeviation(ctx context.Context, deviation domain.Deviation) error {
	args := m.Called(ctx, deviation)
	return args.Error(0)
}

type MockReferenceCatalog struct {
	mock.Mock
}

func (m *MockReferenceCatalog) Workflow(ctx context.Context, id string) (domain.Workflow, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(domain.Workflow), args.Error(1)
}

func (m *MockReferenceCatalog) Formula(ctx context.Context, id string) (domain.Formula, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(domain.Formula), args.Error(1)
}

type MockClock struct {
	mock.Mock
}

func (m *MockClock) Now() time.Time {
	args := m.Called()
	return args.Get(0).(time.Time)
}

var (
	_ ports.BatchStore        = (*MockBatchStore)(nil)
	_ ports.Authorizer        = (*MockAuthorizer)(nil)
	_ ports.OverrideConfirmer = (*MockOverrideConfirmer)(nil)
	_ ports.SignatureProvider = (*MockSignatureProvider)(nil)
	_ ports.PendingSignature  = (*MockPendingSignature)(nil)
	_ ports.AuditSink         = (*MockAuditSink)(nil)
	_ ports.DeviationSink     = (*MockDeviationSink)(nil)
	_ ports.ReferenceCatalog  = (*MockReferenceCatalog)(nil)
	_ ports.Clock             = (*MockClock)(nil)
)
