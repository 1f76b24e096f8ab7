package domain

// SignatureAction names the kind of mutation a signature authorizes.
type SignatureAction string

const (
	SignatureActionStepCompletion SignatureAction = "step_completion"
	SignatureActionBatchRejection SignatureAction = "batch_rejection"
	SignatureActionRecordApproval SignatureAction = "record_approval"
)

// IsApproval reports whether the action is approval-type, for which a reason is mandatory.
func (a SignatureAction) IsApproval() bool {
	return a == SignatureActionBatchRejection || a == SignatureActionRecordApproval
}

// SignatureRequest asks the signer to re-assert identity for one action.
type SignatureRequest struct {
	ID              string          `json:"id"`
	Action          SignatureAction `json:"action"`
	Title           string          `json:"title"`
	Description     string          `json:"description"`
	Actor           string          `json:"actor"`
	BatchID         string          `json:"batch_id"`
	StepID          string          `json:"step_id,omitempty"`
	RequiresReason  bool            `json:"requires_reason"`
	SuggestedReason string          `json:"suggested_reason,omitempty"`
}
