package domain

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

type BatchStatus string

const (
	BatchStatusReady      BatchStatus = "ready"
	BatchStatusInProgress BatchStatus = "in_progress"
	BatchStatusCompleted  BatchStatus = "completed"
	BatchStatusRejected   BatchStatus = "rejected"
)

func (s BatchStatus) IsTerminal() bool {
	return s == BatchStatusCompleted || s == BatchStatusRejected
}

func (s BatchStatus) Valid() bool {
	switch s {
	case BatchStatusReady, BatchStatusInProgress, BatchStatusCompleted, BatchStatusRejected:
		return true
	}
	return false
}

// CanTransition encodes ready -> in_progress -> {completed, rejected}.
func (s BatchStatus) CanTransition(to BatchStatus) bool {
	switch s {
	case BatchStatusReady:
		return to == BatchStatusInProgress
	case BatchStatusInProgress:
		return to == BatchStatusCompleted || to == BatchStatusRejected
	}
	return false
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Batch is one manufacturing run against a target quantity. Once started it is
// owned by the engine; History and MaterialConsumption are append-only.
type Batch struct {
	ID                  string             `json:"id"`
	BatchNumber         string             `json:"batch_number,omitempty"`
	FormulaID           string             `json:"formula_id"`
	WorkflowID          string             `json:"workflow_id"`
	TargetQuantity      decimal.Decimal    `json:"target_quantity"`
	Unit                string             `json:"unit,omitempty"`
	Status              BatchStatus        `json:"status"`
	Priority            Priority           `json:"priority,omitempty"`
	Progress            int                `json:"progress"`
	CurrentStepIndex    int                `json:"current_step_index"`
	TotalSteps          int                `json:"total_steps"`
	History             []StepCompletion   `json:"history"`
	MaterialConsumption []ConsumptionEntry `json:"material_consumption"`
	CreatedAt           time.Time          `json:"created_at"`
	StartedAt           *time.Time         `json:"started_at,omitempty"`
	CompletedAt         *time.Time         `json:"completed_at,omitempty"`
	RejectedAt          *time.Time         `json:"rejected_at,omitempty"`
	CreatedBy           string             `json:"created_by"`
	StartedBy           string             `json:"started_by,omitempty"`
	RejectedBy          string             `json:"rejected_by,omitempty"`
	RejectionReason     string             `json:"rejection_reason,omitempty"`
	RejectionSignature  *Signature         `json:"rejection_signature,omitempty"`
	Version             int64              `json:"version"`
}

// Clone returns a deep copy. Stores hand out clones so callers can never splice
// the persisted collections.
func (b Batch) Clone() Batch {
	cp := b
	cp.History = append([]StepCompletion(nil), b.History...)
	for i := range cp.History {
		cp.History[i] = cp.History[i].clone()
	}
	cp.MaterialConsumption = append([]ConsumptionEntry(nil), b.MaterialConsumption...)
	cp.StartedAt = cloneTime(b.StartedAt)
	cp.CompletedAt = cloneTime(b.CompletedAt)
	cp.RejectedAt = cloneTime(b.RejectedAt)
	if b.RejectionSignature != nil {
		sig := *b.RejectionSignature
		cp.RejectionSignature = &sig
	}
	return cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// ComputeProgress returns round(index/total*100), 0 for an empty workflow.
func ComputeProgress(index, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(index) / float64(total) * 100))
}

// LastTimestamp is the timestamp of the newest history entry, zero when empty.
func (b Batch) LastTimestamp() time.Time {
	if len(b.History) == 0 {
		return time.Time{}
	}
	return b.History[len(b.History)-1].Timestamp
}

type NewBatch struct {
	ID             string          `json:"id,omitempty" yaml:"id,omitempty"`
	BatchNumber    string          `json:"batch_number,omitempty" yaml:"batch_number,omitempty"`
	FormulaID      string          `json:"formula_id" yaml:"formula_id"`
	WorkflowID     string          `json:"workflow_id" yaml:"workflow_id"`
	TargetQuantity decimal.Decimal `json:"target_quantity" yaml:"target_quantity"`
	Unit           string          `json:"unit,omitempty" yaml:"unit,omitempty"`
	Priority       Priority        `json:"priority,omitempty" yaml:"priority,omitempty"`
	CreatedBy      string          `json:"created_by" yaml:"created_by"`
}

type BatchFilter struct {
	Statuses []BatchStatus
}

func (f BatchFilter) Matches(b Batch) bool {
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if b.Status == s {
			return true
		}
	}
	return false
}
