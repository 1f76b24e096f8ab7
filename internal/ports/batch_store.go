package ports

import (
	"context"

	"github.com/eleven-am/mesbatch/internal/domain"
)

// BatchStore owns the batch records. Get and List return deep copies; Save
// replaces a batch only when expectedVersion matches the stored version and
// assigns the next version.
type BatchStore interface {
	Create(ctx context.Context, batch domain.Batch) (domain.Batch, error)
	Get(ctx context.Context, id string) (domain.Batch, error)
	Save(ctx context.Context, batch domain.Batch, expectedVersion int64) (domain.Batch, error)
	List(ctx context.Context, filter domain.BatchFilter) ([]domain.Batch, error)
}

// ReferenceCatalog is the read-only view of workflows and formulas owned by
// the registries outside the engine.
type ReferenceCatalog interface {
	Workflow(ctx context.Context, id string) (domain.Workflow, error)
	Formula(ctx context.Context, id string) (domain.Formula, error)
}

// Authorizer answers whether an actor may operate at a work station.
type Authorizer interface {
	CanAccessWorkStation(ctx context.Context, actor, workStationID string) (bool, error)
}
