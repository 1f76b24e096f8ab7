package domain

// ExecuteStepRequest is one operator attempt at the batch's current step.
type ExecuteStepRequest struct {
	BatchID string    `json:"batch_id"`
	StepID  string    `json:"step_id"`
	Actor   string    `json:"actor"`
	Input   StepInput `json:"input"`
}

// StepOutcome describes a committed step. It is returned even when a
// post-commit side effect failed.
type StepOutcome struct {
	Batch          Batch                 `json:"batch"`
	Completion     StepCompletion        `json:"completion"`
	Consumption    *ConsumptionEntry     `json:"consumption,omitempty"`
	Classification *ClassificationResult `json:"classification,omitempty"`
	Deviation      *Deviation            `json:"deviation,omitempty"`
	BatchCompleted bool                  `json:"batch_completed"`
}
