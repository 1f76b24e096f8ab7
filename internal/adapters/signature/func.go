package signature

import (
	"context"

	"github.com/eleven-am/mesbatch/internal/domain"
	"github.com/eleven-am/mesbatch/internal/ports"
	"github.com/google/uuid"
)

// Func adapts a blocking function to a SignatureProvider. The function runs on
// its own goroutine and its result settles the returned request.
type Func func(ctx context.Context, req domain.SignatureRequest) (domain.Signature, error)

func (f Func) RequestSignature(ctx context.Context, req domain.SignatureRequest) (ports.PendingSignature, error) {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	p := newPending(req.ID)

	fnCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.onCancel = cancel

	go func() {
		defer cancel()
		sig, err := f(fnCtx, req)
		if err != nil {
			p.reject(err)
			return
		}
		p.resolve(sig)
	}()
	return p, nil
}
