package ports

import (
	"context"

	"github.com/eleven-am/mesbatch/internal/domain"
)

// PendingSignature is an outstanding signature request. Await blocks until the
// signer signs, declines, or ctx ends; a decline resolves to
// domain.ErrSignatureCancelled.
type PendingSignature interface {
	ID() string
	Await(ctx context.Context) (domain.Signature, error)
	Cancel()
}

type SignatureProvider interface {
	RequestSignature(ctx context.Context, req domain.SignatureRequest) (PendingSignature, error)
}

// OverrideConfirmer asks the operator to accept a value outside its window.
type OverrideConfirmer interface {
	ConfirmOverride(ctx context.Context, prompt domain.OverridePrompt) (bool, error)
}
