package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

type Classification string

const (
	ClassificationInSpec         Classification = "IN_SPEC"
	ClassificationOutOfTolerance Classification = "OUT_OF_TOLERANCE"
	ClassificationOutOfSpec      Classification = "OUT_OF_SPEC"
)

// RequiresOverride reports whether proceeding needs explicit operator confirmation.
func (c Classification) RequiresOverride() bool {
	return c == ClassificationOutOfTolerance || c == ClassificationOutOfSpec
}

// Window is an inclusive acceptance interval.
type Window struct {
	Low  decimal.Decimal `json:"low"`
	High decimal.Decimal `json:"high"`
}

func (w Window) Contains(v decimal.Decimal) bool {
	return v.GreaterThanOrEqual(w.Low) && v.LessThanOrEqual(w.High)
}

func (w Window) String() string {
	return fmt.Sprintf("%s-%s", w.Low, w.High)
}

// ClassificationResult is the validator verdict plus the window it was judged against.
type ClassificationResult struct {
	Classification Classification  `json:"classification"`
	Value          decimal.Decimal `json:"value"`
	Target         decimal.Decimal `json:"target"`
	Window         Window          `json:"window"`
	Unit           string          `json:"unit,omitempty"`
	Parameter      string          `json:"parameter,omitempty"`
}

// OverridePrompt is what the operator is asked to confirm before an
// out-of-window value is accepted.
type OverridePrompt struct {
	BatchID   string               `json:"batch_id"`
	StepID    string               `json:"step_id"`
	StepName  string               `json:"step_name"`
	Actor     string               `json:"actor"`
	Result    ClassificationResult `json:"result"`
	Deviation bool                 `json:"deviation"`
	Message   string               `json:"message"`
}
