package ports

import "github.com/eleven-am/mesbatch/internal/domain"

// EventPublisher receives lifecycle events after the mutation they describe
// has been committed.
type EventPublisher interface {
	PublishBatchStarted(event *domain.BatchStartedEvent)
	PublishStepCompleted(event *domain.StepCompletedEvent)
	PublishBatchCompleted(event *domain.BatchCompletedEvent)
	PublishBatchRejected(event *domain.BatchRejectedEvent)
	PublishDeviationRecorded(event *domain.DeviationRecordedEvent)
}
