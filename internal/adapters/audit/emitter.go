package audit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/eleven-am/mesbatch/internal/domain"
	"github.com/eleven-am/mesbatch/internal/ports"
	"github.com/google/uuid"
)

type Emitter struct {
	sink   ports.AuditSink
	logger *slog.Logger
}

func NewEmitter(sink ports.AuditSink, logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{
		sink:   sink,
		logger: logger.With("component", "audit-emitter"),
	}
}

// Emit appends one entry. A failure never undoes the mutation being audited;
// it comes back as *domain.AuditError for the caller to surface.
func (e *Emitter) Emit(ctx context.Context, action, details, actor, batchID string, ts time.Time) error {
	entry := domain.AuditEntry{
		ID:        uuid.New().String(),
		BatchID:   batchID,
		Action:    action,
		Details:   details,
		Actor:     actor,
		Timestamp: ts,
	}

	if e.sink == nil {
		return &domain.AuditError{Action: action, Err: errors.New("no audit sink configured")}
	}
	if err := e.sink.AppendAudit(ctx, entry); err != nil {
		e.logger.Error("audit emission failed",
			"action", action,
			"batch_id", batchID,
			"actor", actor,
			"error", err)
		return &domain.AuditError{Action: action, Err: err}
	}

	e.logger.Debug("audit entry appended", "entry_id", entry.ID, "action", action, "batch_id", batchID)
	return nil
}
