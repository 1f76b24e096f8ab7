package core

import "github.com/eleven-am/mesbatch/internal/ports"

type options struct {
	authorizer ports.Authorizer
	signatures ports.SignatureProvider
	confirmer  ports.OverrideConfirmer
	audit      ports.AuditSink
	deviations ports.DeviationSink
	clock      ports.Clock
}

// Option replaces one of the built-in collaborators.
type Option func(*options)

// WithAuthorizer replaces the built-in station access table.
func WithAuthorizer(a ports.Authorizer) Option {
	return func(o *options) { o.authorizer = a }
}

// WithSignatureProvider replaces the built-in signature broker.
func WithSignatureProvider(p ports.SignatureProvider) Option {
	return func(o *options) { o.signatures = p }
}

// WithOverrideConfirmer sets who is asked to accept out-of-window values.
// Without one every override is declined.
func WithOverrideConfirmer(c ports.OverrideConfirmer) Option {
	return func(o *options) { o.confirmer = c }
}

func WithAuditSink(s ports.AuditSink) Option {
	return func(o *options) { o.audit = s }
}

func WithDeviationSink(s ports.DeviationSink) Option {
	return func(o *options) { o.deviations = s }
}

func WithClock(c ports.Clock) Option {
	return func(o *options) { o.clock = c }
}
