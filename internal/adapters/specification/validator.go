package specification

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/eleven-am/mesbatch/internal/domain"
	"github.com/shopspring/decimal"
)

// Request carries everything needed to judge one entered value. Raw is parsed
// unless Value is already set.
type Request struct {
	StepID   string
	StepType domain.StepType
	Field    string
	Raw      string
	Value    *decimal.Decimal
	Target   decimal.Decimal
	BOMItem  *domain.BOMItem
	QC       *domain.QCParams
}

type Validator struct {
	logger *slog.Logger
}

func NewValidator(logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{
		logger: logger.With("component", "specification-validator"),
	}
}

// ParseValue parses an operator-entered number. Failure is an input error
// wrapping domain.ErrNonNumeric.
func ParseValue(stepID, field, raw string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return decimal.Decimal{}, domain.NewInputError(stepID, field, "value is required")
	}
	v, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Decimal{}, domain.NewNonNumericError(stepID, field, raw)
	}
	return v, nil
}

// Classify dispatches on the step type: dispensing and weighing are judged
// against the BOM tolerance window around the target, qc against its range.
func (v *Validator) Classify(req Request) (domain.ClassificationResult, error) {
	value, err := v.resolveValue(req)
	if err != nil {
		return domain.ClassificationResult{}, err
	}

	var result domain.ClassificationResult
	switch req.StepType {
	case domain.StepTypeDispensing, domain.StepTypeWeighing:
		if req.BOMItem == nil {
			return domain.ClassificationResult{}, fmt.Errorf("step %s: %s classification needs a bom item: %w", req.StepID, req.StepType, domain.ErrInvalidInput)
		}
		result = ClassifyTolerance(value, req.Target, *req.BOMItem)
	case domain.StepTypeQC:
		if req.QC == nil {
			return domain.ClassificationResult{}, fmt.Errorf("step %s: qc classification needs a range: %w", req.StepID, domain.ErrInvalidInput)
		}
		result = ClassifyRange(value, *req.QC)
	default:
		return domain.ClassificationResult{}, fmt.Errorf("step %s: %s steps are not classified: %w", req.StepID, req.StepType, domain.ErrInvalidInput)
	}

	v.logger.Debug("value classified",
		"step_id", req.StepID,
		"step_type", req.StepType,
		"value", result.Value.String(),
		"window", result.Window.String(),
		"classification", result.Classification)

	return result, nil
}

func (v *Validator) resolveValue(req Request) (decimal.Decimal, error) {
	if req.Value != nil {
		return *req.Value, nil
	}
	field := req.Field
	if field == "" {
		field = "value"
	}
	return ParseValue(req.StepID, field, req.Raw)
}

// ToleranceWindow is [target - (max-min), target + (max-min)]. The BOM's
// absolute spread is applied around the calculated target, not around the
// BOM's own nominal quantity.
func ToleranceWindow(target decimal.Decimal, item domain.BOMItem) domain.Window {
	width := item.ToleranceWidth()
	return domain.Window{
		Low:  target.Sub(width),
		High: target.Add(width),
	}
}

func ClassifyTolerance(value, target decimal.Decimal, item domain.BOMItem) domain.ClassificationResult {
	window := ToleranceWindow(target, item)
	classification := domain.ClassificationInSpec
	if !window.Contains(value) {
		classification = domain.ClassificationOutOfTolerance
	}
	return domain.ClassificationResult{
		Classification: classification,
		Value:          value,
		Target:         target,
		Window:         window,
		Unit:           item.Unit,
		Parameter:      item.MaterialArticle,
	}
}

func ClassifyRange(value decimal.Decimal, qc domain.QCParams) domain.ClassificationResult {
	window := domain.Window{Low: qc.Min, High: qc.Max}
	classification := domain.ClassificationInSpec
	if !window.Contains(value) {
		classification = domain.ClassificationOutOfSpec
	}
	return domain.ClassificationResult{
		Classification: classification,
		Value:          value,
		Window:         window,
		Unit:           qc.Unit,
		Parameter:      qc.Parameter,
	}
}
