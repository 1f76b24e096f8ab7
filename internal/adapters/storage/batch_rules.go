package storage

import (
	"fmt"
	"sort"

	"github.com/eleven-am/mesbatch/internal/domain"
)

func prepareCreate(batch domain.Batch) (domain.Batch, error) {
	if batch.ID == "" {
		return domain.Batch{}, fmt.Errorf("batch id is required: %w", domain.ErrInvalidInput)
	}
	if batch.Status != domain.BatchStatusReady {
		return domain.Batch{}, &domain.TransitionError{BatchID: batch.ID, From: batch.Status, To: domain.BatchStatusReady}
	}
	if err := domain.CheckBatchInvariants(batch); err != nil {
		return domain.Batch{}, err
	}
	next := batch.Clone()
	next.Version = 1
	return next, nil
}

// prepareSave enforces optimistic versioning, append-only history and the
// batch invariants, then stamps the next version.
func prepareSave(current, batch domain.Batch, expectedVersion int64) (domain.Batch, error) {
	if current.Version != expectedVersion {
		return domain.Batch{}, &domain.VersionMismatchError{
			BatchID:  batch.ID,
			Expected: expectedVersion,
			Actual:   current.Version,
		}
	}
	if err := domain.CheckAppendOnly(current, batch); err != nil {
		return domain.Batch{}, err
	}
	if err := domain.CheckBatchInvariants(batch); err != nil {
		return domain.Batch{}, err
	}
	next := batch.Clone()
	next.Version = current.Version + 1
	return next, nil
}

func sortBatches(batches []domain.Batch) {
	sort.SliceStable(batches, func(i, j int) bool {
		if batches[i].CreatedAt.Equal(batches[j].CreatedAt) {
			return batches[i].ID < batches[j].ID
		}
		return batches[i].CreatedAt.Before(batches[j].CreatedAt)
	})
}
