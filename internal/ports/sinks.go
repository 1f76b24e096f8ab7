package ports

import (
	"context"
	"time"

	"github.com/eleven-am/mesbatch/internal/domain"
)

// AuditSink durably records audit entries. It is owned by the compliance
// collaborator; the engine never retries on its behalf.
type AuditSink interface {
	AppendAudit(ctx context.Context, entry domain.AuditEntry) error
}

type AuditReader interface {
	AuditTrail(ctx context.Context, batchID string) ([]domain.AuditEntry, error)
}

// DeviationSink receives deviations for the deviation-management workflow.
type DeviationSink interface {
	SubmitDeviation(ctx context.Context, deviation domain.Deviation) error
}

type DeviationReader interface {
	Deviations(ctx context.Context, batchID string) ([]domain.Deviation, error)
}

type Clock interface {
	Now() time.Time
}
