package collector

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/eleven-am/mesbatch/internal/adapters/specification"
	"github.com/eleven-am/mesbatch/internal/domain"
	"github.com/shopspring/decimal"
)

// Collector checks the shape of operator input before anything reaches the
// state machine. Its errors are always *domain.InputError.
type Collector struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		logger: logger.With("component", "input-collector"),
	}
}

func (c *Collector) Collect(step domain.Step, input domain.StepInput) (domain.CollectedInput, error) {
	var (
		collected domain.CollectedInput
		err       error
	)

	switch step.Type {
	case domain.StepTypeDispensing:
		collected, err = c.dispensing(step, input.Dispensing)
	case domain.StepTypeWeighing:
		collected, err = c.weighing(step, input.Weighing)
	case domain.StepTypeProcess:
		collected, err = c.process(step, input.Process)
	case domain.StepTypeMixing:
		collected, err = c.mixing(step, input.Mixing)
	case domain.StepTypeQC:
		collected, err = c.qc(step, input.QC)
	default:
		err = domain.NewInputError(step.ID, "", fmt.Sprintf("unsupported step type %q", step.Type))
	}

	if err != nil {
		c.logger.Debug("input rejected", "step_id", step.ID, "step_type", step.Type, "error", err)
		return domain.CollectedInput{}, err
	}

	collected.StepType = step.Type
	return collected, nil
}

func (c *Collector) dispensing(step domain.Step, in *domain.DispensingInput) (domain.CollectedInput, error) {
	if in == nil {
		return domain.CollectedInput{}, missingVariant(step)
	}
	weight, err := requiredNumber(step.ID, "weight", in.Weight)
	if err != nil {
		return domain.CollectedInput{}, err
	}
	lot := strings.TrimSpace(in.LotNumber)
	if lot == "" {
		return domain.CollectedInput{}, domain.NewInputError(step.ID, "lot_number", "lot number is required")
	}

	return domain.CollectedInput{
		Value: domain.RecordedValue{
			Raw:      in.Weight,
			Quantity: &weight,
			Unit:     materialUnit(step.Params.Dispensing),
		},
		Numeric:   &weight,
		LotNumber: lot,
	}, nil
}

func (c *Collector) weighing(step domain.Step, in *domain.WeighingInput) (domain.CollectedInput, error) {
	if in == nil {
		return domain.CollectedInput{}, missingVariant(step)
	}
	weight, err := requiredNumber(step.ID, "weight", in.Weight)
	if err != nil {
		return domain.CollectedInput{}, err
	}
	balance := strings.TrimSpace(in.BalanceID)
	if balance == "" {
		return domain.CollectedInput{}, domain.NewInputError(step.ID, "balance_id", "balance id is required")
	}

	return domain.CollectedInput{
		Value: domain.RecordedValue{
			Raw:       in.Weight,
			Quantity:  &weight,
			Unit:      materialUnit(step.Params.Weighing),
			BalanceID: balance,
		},
		Numeric:   &weight,
		LotNumber: strings.TrimSpace(in.LotNumber),
	}, nil
}

func (c *Collector) process(step domain.Step, in *domain.ProcessInput) (domain.CollectedInput, error) {
	if in == nil {
		return domain.CollectedInput{}, missingVariant(step)
	}
	confirmation := strings.TrimSpace(in.Confirmation)
	if !strings.EqualFold(confirmation, domain.ProcessConfirmationToken) {
		return domain.CollectedInput{}, domain.NewInputError(step.ID, "confirmation",
			fmt.Sprintf("type %s to confirm the step was performed", domain.ProcessConfirmationToken))
	}

	return domain.CollectedInput{
		Value: domain.RecordedValue{
			Raw:          in.Confirmation,
			Confirmation: domain.ProcessConfirmationToken,
		},
	}, nil
}

func (c *Collector) mixing(step domain.Step, in *domain.MixingInput) (domain.CollectedInput, error) {
	if in == nil {
		return domain.CollectedInput{}, missingVariant(step)
	}
	duration, err := requiredNumber(step.ID, "duration", in.Duration)
	if err != nil {
		return domain.CollectedInput{}, err
	}
	rpm, err := requiredNumber(step.ID, "rpm", in.RPM)
	if err != nil {
		return domain.CollectedInput{}, err
	}
	temperature, err := requiredNumber(step.ID, "temperature", in.Temperature)
	if err != nil {
		return domain.CollectedInput{}, err
	}

	return domain.CollectedInput{
		Value: domain.RecordedValue{
			Mixing: &domain.MixingReading{
				Duration:    duration,
				RPM:         rpm,
				Temperature: temperature,
			},
		},
	}, nil
}

func (c *Collector) qc(step domain.Step, in *domain.QCInput) (domain.CollectedInput, error) {
	if in == nil {
		return domain.CollectedInput{}, missingVariant(step)
	}
	measurement, err := requiredNumber(step.ID, "measurement", in.Measurement)
	if err != nil {
		return domain.CollectedInput{}, err
	}

	unit := ""
	if step.Params.QC != nil {
		unit = step.Params.QC.Unit
	}
	return domain.CollectedInput{
		Value: domain.RecordedValue{
			Raw:         in.Measurement,
			Measurement: &measurement,
			Unit:        unit,
		},
		Numeric: &measurement,
	}, nil
}

func requiredNumber(stepID, field, raw string) (decimal.Decimal, error) {
	return specification.ParseValue(stepID, field, raw)
}

func missingVariant(step domain.Step) error {
	return domain.NewInputError(step.ID, "", fmt.Sprintf("%s input is required", step.Type))
}

func materialUnit(p *domain.MaterialParams) string {
	if p == nil {
		return ""
	}
	return p.Unit
}
