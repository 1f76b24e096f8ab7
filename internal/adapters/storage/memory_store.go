package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/eleven-am/mesbatch/internal/domain"
)

// MemoryStore keeps batches, audit entries and deviations in process memory.
// Every read returns a deep copy.
type MemoryStore struct {
	logger *slog.Logger

	mu         sync.RWMutex
	batches    map[string]domain.Batch
	audit      map[string][]domain.AuditEntry
	deviations map[string][]domain.Deviation
	closed     bool
}

func NewMemoryStore(logger *slog.Logger) *MemoryStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryStore{
		logger:     logger.With("component", "memory-store"),
		batches:    make(map[string]domain.Batch),
		audit:      make(map[string][]domain.AuditEntry),
		deviations: make(map[string][]domain.Deviation),
	}
}

func (s *MemoryStore) Create(ctx context.Context, batch domain.Batch) (domain.Batch, error) {
	next, err := prepareCreate(batch)
	if err != nil {
		return domain.Batch{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.Batch{}, domain.ErrClosed
	}
	if _, exists := s.batches[batch.ID]; exists {
		return domain.Batch{}, fmt.Errorf("batch %s already exists: %w", batch.ID, domain.ErrInvalidInput)
	}
	s.batches[batch.ID] = next
	return next.Clone(), nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (domain.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return domain.Batch{}, domain.ErrClosed
	}
	batch, ok := s.batches[id]
	if !ok {
		return domain.Batch{}, domain.NewNotFoundError("batch", id)
	}
	return batch.Clone(), nil
}

func (s *MemoryStore) Save(ctx context.Context, batch domain.Batch, expectedVersion int64) (domain.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.Batch{}, domain.ErrClosed
	}
	current, ok := s.batches[batch.ID]
	if !ok {
		return domain.Batch{}, domain.NewNotFoundError("batch", batch.ID)
	}

	next, err := prepareSave(current, batch, expectedVersion)
	if err != nil {
		s.logger.Warn("batch save rejected", "batch_id", batch.ID, "error", err)
		return domain.Batch{}, err
	}
	s.batches[batch.ID] = next
	return next.Clone(), nil
}

func (s *MemoryStore) List(ctx context.Context, filter domain.BatchFilter) ([]domain.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, domain.ErrClosed
	}
	out := make([]domain.Batch, 0, len(s.batches))
	for _, batch := range s.batches {
		if filter.Matches(batch) {
			out = append(out, batch.Clone())
		}
	}
	sortBatches(out)
	return out, nil
}

func (s *MemoryStore) AppendAudit(ctx context.Context, entry domain.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.ErrClosed
	}
	s.audit[entry.BatchID] = append(s.audit[entry.BatchID], entry)
	return nil
}

func (s *MemoryStore) AuditTrail(ctx context.Context, batchID string) ([]domain.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, domain.ErrClosed
	}
	return append([]domain.AuditEntry(nil), s.audit[batchID]...), nil
}

func (s *MemoryStore) SubmitDeviation(ctx context.Context, deviation domain.Deviation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.ErrClosed
	}
	for _, existing := range s.deviations[deviation.BatchID] {
		if existing.ID == deviation.ID {
			return nil
		}
	}
	s.deviations[deviation.BatchID] = append(s.deviations[deviation.BatchID], deviation)
	return nil
}

func (s *MemoryStore) Deviations(ctx context.Context, batchID string) ([]domain.Deviation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, domain.ErrClosed
	}
	return append([]domain.Deviation(nil), s.deviations[batchID]...), nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
