package signature

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/eleven-am/mesbatch/internal/domain"
	"github.com/eleven-am/mesbatch/internal/ports"
	"github.com/google/uuid"
)

// Gate turns a signature request into a validated Signature or a cancellation.
// Any failure leaves nothing behind: the pending request is cancelled and the
// caller must not mutate state.
type Gate struct {
	provider ports.SignatureProvider
	timeout  time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

func NewGate(provider ports.SignatureProvider, timeout time.Duration, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		provider: provider,
		timeout:  timeout,
		now:      time.Now,
		logger:   logger.With("component", "signature-gate"),
	}
}

// WithClock sets the clock used to stamp signatures returned without a time.
func (g *Gate) WithClock(now func() time.Time) *Gate {
	if now != nil {
		g.now = now
	}
	return g
}

func (g *Gate) Acquire(ctx context.Context, req domain.SignatureRequest) (domain.Signature, error) {
	if g.provider == nil {
		return domain.Signature{}, fmt.Errorf("no signature provider configured: %w", domain.ErrSignatureCancelled)
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	if req.Action.IsApproval() {
		req.RequiresReason = true
	}

	pending, err := g.provider.RequestSignature(ctx, req)
	if err != nil {
		return domain.Signature{}, fmt.Errorf("request signature for %s: %w", req.Action, err)
	}

	awaitCtx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		awaitCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	sig, err := pending.Await(awaitCtx)
	if err != nil {
		pending.Cancel()
		g.logger.Warn("signature not obtained",
			"request_id", req.ID,
			"action", req.Action,
			"batch_id", req.BatchID,
			"step_id", req.StepID,
			"error", err)
		if errors.Is(err, domain.ErrSignatureCancelled) {
			return domain.Signature{}, err
		}
		return domain.Signature{}, fmt.Errorf("%w: %w", domain.ErrSignatureCancelled, err)
	}

	sig, err = g.validate(req, sig)
	if err != nil {
		g.logger.Warn("signature rejected", "request_id", req.ID, "action", req.Action, "error", err)
		return domain.Signature{}, err
	}
	return sig, nil
}

func (g *Gate) validate(req domain.SignatureRequest, sig domain.Signature) (domain.Signature, error) {
	sig.SignedBy = strings.TrimSpace(sig.SignedBy)
	sig.Reason = strings.TrimSpace(sig.Reason)

	if sig.SignedBy == "" {
		return domain.Signature{}, &domain.SignatureError{Action: string(req.Action), Reason: "signer identity missing"}
	}
	if req.Actor != "" && sig.SignedBy != req.Actor {
		return domain.Signature{}, &domain.SignatureError{
			Action: string(req.Action),
			Reason: fmt.Sprintf("signed by %s but action belongs to %s", sig.SignedBy, req.Actor),
		}
	}
	if req.RequiresReason && sig.Reason == "" {
		return domain.Signature{}, &domain.SignatureError{Action: string(req.Action), Reason: "reason is required"}
	}
	if sig.Timestamp.IsZero() {
		sig.Timestamp = g.now()
	}
	if sig.Meaning == "" {
		sig.Meaning = string(req.Action)
	}
	return sig, nil
}
