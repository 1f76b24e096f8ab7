package engine

import (
	"errors"
	"sync"
	"time"

	"github.com/eleven-am/mesbatch/internal/domain"
)

type MetricsTracker struct {
	counters   MetricsSnapshot
	durations  []time.Duration
	maxSamples int
	mu         sync.RWMutex
}

// MetricsSnapshot is a point-in-time copy of the engine counters.
type MetricsSnapshot struct {
	BatchesCreated   int64
	BatchesStarted   int64
	BatchesCompleted int64
	BatchesRejected  int64

	StepsExecuted     int64
	OverridesAccepted int64
	OverridesDeclined int64
	DeviationsRaised  int64

	InputRejections          int64
	SequenceViolations       int64
	AuthorizationDenials     int64
	SignaturesCancelled      int64
	ConcurrentModifications  int64
	AuditFailures            int64
	DeviationHandoffFailures int64

	AverageStepDuration time.Duration
	LastStepAt          *time.Time
}

func NewMetricsTracker(maxSamples int) *MetricsTracker {
	if maxSamples <= 0 {
		maxSamples = 500
	}
	return &MetricsTracker{
		durations:  make([]time.Duration, 0, maxSamples),
		maxSamples: maxSamples,
	}
}

func (mt *MetricsTracker) RecordBatchCreated() {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	mt.counters.BatchesCreated++
}

func (mt *MetricsTracker) RecordBatchStarted() {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	mt.counters.BatchesStarted++
}

func (mt *MetricsTracker) RecordBatchRejected() {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	mt.counters.BatchesRejected++
}

func (mt *MetricsTracker) RecordOverride(accepted bool) {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	if accepted {
		mt.counters.OverridesAccepted++
		return
	}
	mt.counters.OverridesDeclined++
}

// RecordStep counts a committed step. duration is the time since the previous
// completion (or batch start).
func (mt *MetricsTracker) RecordStep(duration time.Duration, at time.Time, deviation, batchCompleted bool) {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	mt.counters.StepsExecuted++
	if deviation {
		mt.counters.DeviationsRaised++
	}
	if batchCompleted {
		mt.counters.BatchesCompleted++
	}
	mt.counters.LastStepAt = &at

	mt.durations = append(mt.durations, duration)
	if len(mt.durations) > mt.maxSamples {
		mt.durations = mt.durations[1:]
	}
}

// RecordFailure buckets a failed or partially failed operation by its error.
func (mt *MetricsTracker) RecordFailure(err error) {
	if err == nil {
		return
	}
	mt.mu.Lock()
	defer mt.mu.Unlock()

	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		mt.counters.InputRejections++
	case errors.Is(err, domain.ErrSequenceViolation), errors.Is(err, domain.ErrInvalidTransition):
		mt.counters.SequenceViolations++
	case errors.Is(err, domain.ErrUnauthorized):
		mt.counters.AuthorizationDenials++
	case errors.Is(err, domain.ErrSignatureCancelled):
		mt.counters.SignaturesCancelled++
	case errors.Is(err, domain.ErrConcurrentModification):
		mt.counters.ConcurrentModifications++
	}
	if errors.Is(err, domain.ErrAuditEmission) {
		mt.counters.AuditFailures++
	}
	if errors.Is(err, domain.ErrDeviationHandoff) {
		mt.counters.DeviationHandoffFailures++
	}
}

func (mt *MetricsTracker) Snapshot() MetricsSnapshot {
	mt.mu.RLock()
	defer mt.mu.RUnlock()

	snap := mt.counters
	if mt.counters.LastStepAt != nil {
		at := *mt.counters.LastStepAt
		snap.LastStepAt = &at
	}
	if len(mt.durations) > 0 {
		var total time.Duration
		for _, d := range mt.durations {
			total += d
		}
		snap.AverageStepDuration = total / time.Duration(len(mt.durations))
	}
	return snap
}
