package engine

import (
	"errors"

	"github.com/eleven-am/mesbatch/internal/domain"
)

// errorKind names the failure class used in logs.
func errorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, domain.ErrInvalidInput):
		return "input"
	case errors.Is(err, domain.ErrUnauthorized):
		return "authorization"
	case errors.Is(err, domain.ErrOverrideDeclined):
		return "override_declined"
	case errors.Is(err, domain.ErrSignatureCancelled):
		return "signature_cancelled"
	case errors.Is(err, domain.ErrSequenceViolation):
		return "sequence"
	case errors.Is(err, domain.ErrInvalidTransition):
		return "transition"
	case errors.Is(err, domain.ErrConcurrentModification):
		return "concurrent_modification"
	case errors.Is(err, domain.ErrInvariantViolation):
		return "invariant"
	case errors.Is(err, domain.ErrAuditEmission), errors.Is(err, domain.ErrDeviationHandoff):
		return "post_commit"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	}
	return "internal"
}

func errorLogAttrs(err error) []any {
	if err == nil {
		return nil
	}

	attrs := []any{
		"error", err,
		"error_kind", errorKind(err),
		"error_abandoned", domain.IsAbandoned(err),
	}

	var seqErr *domain.SequenceError
	if errors.As(err, &seqErr) {
		attrs = append(attrs, "expected_step", seqErr.ExpectedStep, "current_index", seqErr.CurrentIndex)
	}

	var invErr *domain.InvariantError
	if errors.As(err, &invErr) {
		codes := make([]string, 0, len(invErr.Violations))
		for _, v := range invErr.Violations {
			codes = append(codes, v.Code)
		}
		attrs = append(attrs, "violations", codes)
	}

	var inputErr *domain.InputError
	if errors.As(err, &inputErr) && inputErr.Field != "" {
		attrs = append(attrs, "field", inputErr.Field)
	}

	var postErr *domain.PostCommitError
	if errors.As(err, &postErr) {
		attrs = append(attrs, "post_commit_failures", len(postErr.Errs))
	}

	return attrs
}
