package domain

import "fmt"

type ViolationSeverity string

const (
	SeverityCritical ViolationSeverity = "critical"
	SeverityHigh     ViolationSeverity = "high"
)

type InvariantViolation struct {
	Code     string            `json:"code"`
	Message  string            `json:"message"`
	StepID   string            `json:"step_id,omitempty"`
	Severity ViolationSeverity `json:"severity"`
}

// CheckBatchInvariants validates the structural guarantees every stored batch
// must satisfy. It returns nil or an *InvariantError listing every violation.
func CheckBatchInvariants(b Batch) error {
	var violations []InvariantViolation
	add := func(code, msg, stepID string, sev ViolationSeverity) {
		violations = append(violations, InvariantViolation{Code: code, Message: msg, StepID: stepID, Severity: sev})
	}

	if b.ID == "" {
		add("MISSING_BATCH_ID", "batch id is required", "", SeverityCritical)
	}
	if !b.Status.Valid() {
		add("INVALID_STATUS", fmt.Sprintf("unknown status %q", b.Status), "", SeverityCritical)
	}
	if b.CurrentStepIndex < 0 || (b.TotalSteps > 0 && b.CurrentStepIndex > b.TotalSteps) {
		add("INDEX_OUT_OF_RANGE", fmt.Sprintf("current step index %d outside 0..%d", b.CurrentStepIndex, b.TotalSteps), "", SeverityCritical)
	}
	if len(b.History) != b.CurrentStepIndex {
		add("HISTORY_INDEX_MISMATCH", fmt.Sprintf("history has %d entries, current step index is %d", len(b.History), b.CurrentStepIndex), "", SeverityCritical)
	}
	if want := ComputeProgress(b.CurrentStepIndex, b.TotalSteps); b.Progress != want {
		add("PROGRESS_MISMATCH", fmt.Sprintf("progress %d, expected %d", b.Progress, want), "", SeverityHigh)
	}

	switch b.Status {
	case BatchStatusReady:
		if b.StartedAt != nil || len(b.History) > 0 {
			add("READY_WITH_EXECUTION", "ready batch carries execution state", "", SeverityCritical)
		}
	case BatchStatusInProgress, BatchStatusCompleted, BatchStatusRejected:
		if b.StartedAt == nil {
			add("MISSING_START_TIME", "started batch has no start time", "", SeverityHigh)
		}
	}
	if (b.Status == BatchStatusCompleted) != (b.CompletedAt != nil) {
		add("COMPLETION_MISMATCH", "completed_at must be set exactly when status is completed", "", SeverityHigh)
	}
	if b.Status == BatchStatusCompleted && b.CurrentStepIndex != b.TotalSteps {
		add("COMPLETED_WITH_PENDING_STEPS", fmt.Sprintf("completed at step %d of %d", b.CurrentStepIndex, b.TotalSteps), "", SeverityCritical)
	}
	if b.Status == BatchStatusInProgress && b.TotalSteps > 0 && b.CurrentStepIndex == b.TotalSteps {
		add("IN_PROGRESS_WITHOUT_STEPS", "all steps executed but batch still in progress", "", SeverityHigh)
	}

	for i, entry := range b.History {
		if entry.Signature.IsZero() || entry.Signature.SignedBy == "" {
			add("UNSIGNED_COMPLETION", "completion has no signature", entry.StepID, SeverityCritical)
		}
		if entry.HasDeviation && entry.DeviationID == "" {
			add("DEVIATION_NOT_RECORDED", "completion flags a deviation without a record id", entry.StepID, SeverityHigh)
		}
		if i > 0 && entry.Timestamp.Before(b.History[i-1].Timestamp) {
			add("HISTORY_OUT_OF_ORDER", "completion timestamp precedes its predecessor", entry.StepID, SeverityHigh)
		}
		if b.StartedAt != nil && entry.Timestamp.Before(*b.StartedAt) {
			add("COMPLETION_BEFORE_START", "completion precedes batch start", entry.StepID, SeverityHigh)
		}
	}

	if len(violations) == 0 {
		return nil
	}
	return &InvariantError{BatchID: b.ID, Violations: violations}
}

// CheckAppendOnly verifies next extends prev without rewriting history,
// consumption, or moving the step index backwards.
func CheckAppendOnly(prev, next Batch) error {
	var violations []InvariantViolation
	if next.CurrentStepIndex < prev.CurrentStepIndex {
		violations = append(violations, InvariantViolation{Code: "INDEX_REGRESSED", Message: "current step index moved backwards", Severity: SeverityCritical})
	}
	if len(next.History) < len(prev.History) {
		violations = append(violations, InvariantViolation{Code: "HISTORY_TRUNCATED", Message: "history entries removed", Severity: SeverityCritical})
	} else {
		for i := range prev.History {
			if !sameCompletion(prev.History[i], next.History[i]) {
				violations = append(violations, InvariantViolation{Code: "HISTORY_REWRITTEN", Message: "history entry changed", StepID: prev.History[i].StepID, Severity: SeverityCritical})
			}
		}
	}
	if len(next.MaterialConsumption) < len(prev.MaterialConsumption) {
		violations = append(violations, InvariantViolation{Code: "CONSUMPTION_TRUNCATED", Message: "consumption entries removed", Severity: SeverityCritical})
	}
	if prev.Status != next.Status && !prev.Status.CanTransition(next.Status) {
		violations = append(violations, InvariantViolation{Code: "ILLEGAL_TRANSITION", Message: fmt.Sprintf("%s -> %s", prev.Status, next.Status), Severity: SeverityCritical})
	}
	if len(violations) == 0 {
		return nil
	}
	return &InvariantError{BatchID: next.ID, Violations: violations}
}

func sameCompletion(a, b StepCompletion) bool {
	return a.StepID == b.StepID &&
		a.CompletedBy == b.CompletedBy &&
		a.Timestamp.Equal(b.Timestamp) &&
		a.Signature.SignedBy == b.Signature.SignedBy &&
		a.Signature.Timestamp.Equal(b.Signature.Timestamp) &&
		a.Signature.Reason == b.Signature.Reason &&
		a.HasDeviation == b.HasDeviation &&
		a.DeviationID == b.DeviationID &&
		a.LotNumber == b.LotNumber
}
