package events

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/eleven-am/mesbatch/internal/domain"
	"github.com/google/uuid"
)

const (
	EventBatchStarted      = "batch.started"
	EventStepCompleted     = "step.completed"
	EventBatchCompleted    = "batch.completed"
	EventBatchRejected     = "batch.rejected"
	EventDeviationRecorded = "deviation.recorded"
)

// Manager fans committed batch events out to registered handlers. Handlers
// run on their own goroutines; a panicking handler is logged and dropped.
type Manager struct {
	logger *slog.Logger

	mu       sync.RWMutex
	inflight sync.WaitGroup

	batchStartedHandlers      []func(*domain.BatchStartedEvent)
	stepCompletedHandlers     []func(*domain.StepCompletedEvent)
	batchCompletedHandlers    []func(*domain.BatchCompletedEvent)
	batchRejectedHandlers     []func(*domain.BatchRejectedEvent)
	deviationRecordedHandlers []func(*domain.DeviationRecordedEvent)
	genericHandlers           []genericSubscription
}

type genericSubscription struct {
	id      string
	pattern string
	handler func(string, interface{})
}

func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		logger: logger.With("component", "event-manager"),
	}
}

func (m *Manager) OnBatchStarted(handler func(*domain.BatchStartedEvent)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batchStartedHandlers = append(m.batchStartedHandlers, handler)
	return nil
}

func (m *Manager) OnStepCompleted(handler func(*domain.StepCompletedEvent)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stepCompletedHandlers = append(m.stepCompletedHandlers, handler)
	return nil
}

func (m *Manager) OnBatchCompleted(handler func(*domain.BatchCompletedEvent)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batchCompletedHandlers = append(m.batchCompletedHandlers, handler)
	return nil
}

func (m *Manager) OnBatchRejected(handler func(*domain.BatchRejectedEvent)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batchRejectedHandlers = append(m.batchRejectedHandlers, handler)
	return nil
}

func (m *Manager) OnDeviationRecorded(handler func(*domain.DeviationRecordedEvent)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deviationRecordedHandlers = append(m.deviationRecordedHandlers, handler)
	return nil
}

// Subscribe registers a handler for event names matching pattern: "*", an
// exact name, or a prefix ending in "*".
func (m *Manager) Subscribe(pattern string, handler func(string, interface{})) (string, error) {
	if pattern == "" {
		return "", fmt.Errorf("subscription pattern is empty: %w", domain.ErrInvalidInput)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	sub := genericSubscription{
		id:      uuid.New().String(),
		pattern: pattern,
		handler: handler,
	}
	m.genericHandlers = append(m.genericHandlers, sub)
	return sub.id, nil
}

func (m *Manager) Unsubscribe(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	filtered := m.genericHandlers[:0]
	found := false
	for _, sub := range m.genericHandlers {
		if sub.id == id {
			found = true
			continue
		}
		filtered = append(filtered, sub)
	}
	m.genericHandlers = filtered
	if !found {
		return domain.NewNotFoundError("subscription", id)
	}
	return nil
}

func (m *Manager) PublishBatchStarted(event *domain.BatchStartedEvent) {
	m.mu.RLock()
	handlers := make([]func(*domain.BatchStartedEvent), len(m.batchStartedHandlers))
	copy(handlers, m.batchStartedHandlers)
	m.mu.RUnlock()

	for _, handler := range handlers {
		m.dispatch(func() { handler(event) })
	}
	m.broadcast(EventBatchStarted, event)
}

func (m *Manager) PublishStepCompleted(event *domain.StepCompletedEvent) {
	m.mu.RLock()
	handlers := make([]func(*domain.StepCompletedEvent), len(m.stepCompletedHandlers))
	copy(handlers, m.stepCompletedHandlers)
	m.mu.RUnlock()

	for _, handler := range handlers {
		m.dispatch(func() { handler(event) })
	}
	m.broadcast(EventStepCompleted, event)
}

func (m *Manager) PublishBatchCompleted(event *domain.BatchCompletedEvent) {
	m.mu.RLock()
	handlers := make([]func(*domain.BatchCompletedEvent), len(m.batchCompletedHandlers))
	copy(handlers, m.batchCompletedHandlers)
	m.mu.RUnlock()

	for _, handler := range handlers {
		m.dispatch(func() { handler(event) })
	}
	m.broadcast(EventBatchCompleted, event)
}

func (m *Manager) PublishBatchRejected(event *domain.BatchRejectedEvent) {
	m.mu.RLock()
	handlers := make([]func(*domain.BatchRejectedEvent), len(m.batchRejectedHandlers))
	copy(handlers, m.batchRejectedHandlers)
	m.mu.RUnlock()

	for _, handler := range handlers {
		m.dispatch(func() { handler(event) })
	}
	m.broadcast(EventBatchRejected, event)
}

func (m *Manager) PublishDeviationRecorded(event *domain.DeviationRecordedEvent) {
	m.mu.RLock()
	handlers := make([]func(*domain.DeviationRecordedEvent), len(m.deviationRecordedHandlers))
	copy(handlers, m.deviationRecordedHandlers)
	m.mu.RUnlock()

	for _, handler := range handlers {
		m.dispatch(func() { handler(event) })
	}
	m.broadcast(EventDeviationRecorded, event)
}

// Wait blocks until every dispatched handler has returned.
func (m *Manager) Wait() {
	m.inflight.Wait()
}

func (m *Manager) broadcast(name string, event interface{}) {
	m.mu.RLock()
	var matching []func(string, interface{})
	for _, sub := range m.genericHandlers {
		if m.patternMatches(sub.pattern, name) {
			matching = append(matching, sub.handler)
		}
	}
	m.mu.RUnlock()

	for _, handler := range matching {
		m.dispatch(func() { handler(name, event) })
	}
}

func (m *Manager) patternMatches(pattern, key string) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		prefix := strings.TrimSuffix(pattern, "*")
		return strings.HasPrefix(key, prefix)
	}
	return pattern == key
}

func (m *Manager) dispatch(fn func()) {
	m.inflight.Add(1)
	go func() {
		defer m.inflight.Done()
		m.safeCall(fn)
	}()
}

func (m *Manager) safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("event handler panicked", "panic", r)
		}
	}()
	fn()
}
