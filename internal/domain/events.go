package domain

import "time"

type BatchStartedEvent struct {
	BatchID   string    `json:"batch_id"`
	StartedBy string    `json:"started_by"`
	StartedAt time.Time `json:"started_at"`
}

type StepCompletedEvent struct {
	BatchID    string         `json:"batch_id"`
	Completion StepCompletion `json:"completion"`
	StepIndex  int            `json:"step_index"`
	Progress   int            `json:"progress"`
}

type BatchCompletedEvent struct {
	BatchID     string        `json:"batch_id"`
	CompletedAt time.Time     `json:"completed_at"`
	Duration    time.Duration `json:"duration"`
	Deviations  int           `json:"deviations"`
}

type BatchRejectedEvent struct {
	BatchID    string    `json:"batch_id"`
	RejectedBy string    `json:"rejected_by"`
	RejectedAt time.Time `json:"rejected_at"`
	Reason     string    `json:"reason"`
}

type DeviationRecordedEvent struct {
	Deviation Deviation `json:"deviation"`
}
