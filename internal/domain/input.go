package domain

import "github.com/shopspring/decimal"

// ProcessConfirmationToken is the literal an operator types to confirm a process step.
const ProcessConfirmationToken = "CONFIRMED"

// StepInput is the raw operator entry for one step. Exactly the variant for the
// step's type is read; values stay strings until the collector parses them.
type StepInput struct {
	Dispensing *DispensingInput `json:"dispensing,omitempty"`
	Weighing   *WeighingInput   `json:"weighing,omitempty"`
	Process    *ProcessInput    `json:"process,omitempty"`
	Mixing     *MixingInput     `json:"mixing,omitempty"`
	QC         *QCInput         `json:"qc,omitempty"`
}

type DispensingInput struct {
	Weight    string `json:"weight"`
	LotNumber string `json:"lot_number"`
}

type WeighingInput struct {
	Weight    string `json:"weight"`
	BalanceID string `json:"balance_id"`
	LotNumber string `json:"lot_number,omitempty"`
}

type ProcessInput struct {
	Confirmation string `json:"confirmation"`
}

type MixingInput struct {
	Duration    string `json:"duration"`
	RPM         string `json:"rpm"`
	Temperature string `json:"temperature"`
}

type QCInput struct {
	Measurement string `json:"measurement"`
}

// CollectedInput is operator input that passed structural validation.
type CollectedInput struct {
	StepType  StepType
	Value     RecordedValue
	Numeric   *decimal.Decimal
	LotNumber string
}
