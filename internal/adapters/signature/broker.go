package signature

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/eleven-am/mesbatch/internal/domain"
	"github.com/eleven-am/mesbatch/internal/ports"
	"github.com/google/uuid"
)

// Broker is an in-process SignatureProvider. A host UI lists outstanding
// requests and resolves them by id with Sign or Decline.
type Broker struct {
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	pending  map[string]*brokerEntry
	handlers []func(domain.SignatureRequest)
}

type brokerEntry struct {
	request   domain.SignatureRequest
	pending   *Pending
	createdAt time.Time
}

func NewBroker(logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		logger:  logger.With("component", "signature-broker"),
		now:     time.Now,
		pending: make(map[string]*brokerEntry),
	}
}

// OnRequest registers a handler called for every new request, outside the
// broker lock so handlers may Sign or Decline directly.
func (b *Broker) OnRequest(handler func(domain.SignatureRequest)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, handler)
}

func (b *Broker) RequestSignature(ctx context.Context, req domain.SignatureRequest) (ports.PendingSignature, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	p := newPending(req.ID)
	p.onCancel = func() { b.remove(req.ID) }

	b.mu.Lock()
	if _, exists := b.pending[req.ID]; exists {
		b.mu.Unlock()
		return nil, fmt.Errorf("signature request %s already outstanding: %w", req.ID, domain.ErrInvalidInput)
	}
	b.pending[req.ID] = &brokerEntry{request: req, pending: p, createdAt: b.now()}
	handlers := append([]func(domain.SignatureRequest){}, b.handlers...)
	b.mu.Unlock()

	b.logger.Debug("signature requested", "request_id", req.ID, "action", req.Action, "actor", req.Actor, "batch_id", req.BatchID)

	for _, handler := range handlers {
		b.safeCall(func() { handler(req) })
	}
	return p, nil
}

func (b *Broker) Sign(id string, sig domain.Signature) error {
	entry, err := b.take(id)
	if err != nil {
		return err
	}
	entry.pending.resolve(sig)
	b.logger.Debug("signature supplied", "request_id", id, "signed_by", sig.SignedBy)
	return nil
}

func (b *Broker) Decline(id string) error {
	entry, err := b.take(id)
	if err != nil {
		return err
	}
	entry.pending.reject(domain.ErrSignatureCancelled)
	b.logger.Debug("signature declined", "request_id", id)
	return nil
}

// Outstanding returns unresolved requests, oldest first.
func (b *Broker) Outstanding() []domain.SignatureRequest {
	b.mu.Lock()
	entries := make([]*brokerEntry, 0, len(b.pending))
	for _, entry := range b.pending {
		entries = append(entries, entry)
	}
	b.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].createdAt.Equal(entries[j].createdAt) {
			return entries[i].request.ID < entries[j].request.ID
		}
		return entries[i].createdAt.Before(entries[j].createdAt)
	})

	out := make([]domain.SignatureRequest, 0, len(entries))
	for _, entry := range entries {
		out = append(out, entry.request)
	}
	return out
}

func (b *Broker) take(id string) (*brokerEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry, ok := b.pending[id]
	if !ok {
		return nil, domain.NewNotFoundError("signature request", id)
	}
	delete(b.pending, id)
	return entry, nil
}

func (b *Broker) remove(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.pending, id)
}

func (b *Broker) safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("signature request handler panicked", "panic", r)
		}
	}()
	fn()
}
