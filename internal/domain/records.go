package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Signature binds an identity, a time and a reason to the exact record it
// authorizes. It is always embedded by value.
type Signature struct {
	SignedBy  string    `json:"signed_by"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason"`
	Meaning   string    `json:"meaning,omitempty"`
}

func (s Signature) IsZero() bool {
	return s.SignedBy == "" && s.Timestamp.IsZero()
}

type MixingReading struct {
	Duration    decimal.Decimal `json:"duration"`
	RPM         decimal.Decimal `json:"rpm"`
	Temperature decimal.Decimal `json:"temperature"`
}

// RecordedValue is the typed reading captured by a completion. Which fields are
// set depends on the step type.
type RecordedValue struct {
	Raw          string           `json:"raw,omitempty"`
	Quantity     *decimal.Decimal `json:"quantity,omitempty"`
	Unit         string           `json:"unit,omitempty"`
	BalanceID    string           `json:"balance_id,omitempty"`
	Confirmation string           `json:"confirmation,omitempty"`
	Mixing       *MixingReading   `json:"mixing,omitempty"`
	Measurement  *decimal.Decimal `json:"measurement,omitempty"`
}

func (v RecordedValue) clone() RecordedValue {
	cp := v
	if v.Quantity != nil {
		q := *v.Quantity
		cp.Quantity = &q
	}
	if v.Measurement != nil {
		m := *v.Measurement
		cp.Measurement = &m
	}
	if v.Mixing != nil {
		mx := *v.Mixing
		cp.Mixing = &mx
	}
	return cp
}

type StepCompletion struct {
	StepID               string           `json:"step_id"`
	StepName             string           `json:"step_name"`
	StepType             StepType         `json:"step_type"`
	Value                RecordedValue    `json:"value"`
	LotNumber            string           `json:"lot_number,omitempty"`
	CompletedBy          string           `json:"completed_by"`
	Timestamp            time.Time        `json:"timestamp"`
	WorkStation          string           `json:"work_station,omitempty"`
	Classification       Classification   `json:"classification,omitempty"`
	Overridden           bool             `json:"overridden,omitempty"`
	HasDeviation         bool             `json:"has_deviation"`
	DeviationDescription string           `json:"deviation_description,omitempty"`
	DeviationID          string           `json:"deviation_id,omitempty"`
	Signature            Signature        `json:"signature"`
	CalculatedQuantity   *decimal.Decimal `json:"calculated_quantity,omitempty"`
}

func (c StepCompletion) clone() StepCompletion {
	cp := c
	cp.Value = c.Value.clone()
	if c.CalculatedQuantity != nil {
		q := *c.CalculatedQuantity
		cp.CalculatedQuantity = &q
	}
	return cp
}

type ConsumptionEntry struct {
	StepID          string          `json:"step_id"`
	MaterialArticle string          `json:"material_article"`
	Quantity        decimal.Decimal `json:"quantity"`
	Unit            string          `json:"unit"`
	LotNumber       string          `json:"lot_number,omitempty"`
	Timestamp       time.Time       `json:"timestamp"`
}

type DeviationSeverity string

const (
	DeviationSeverityMinor DeviationSeverity = "minor"
	DeviationSeverityMajor DeviationSeverity = "major"
)

type DeviationStatus string

const (
	DeviationStatusOpen DeviationStatus = "open"
)

type Deviation struct {
	ID             string            `json:"id"`
	BatchID        string            `json:"batch_id"`
	StepID         string            `json:"step_id"`
	StepName       string            `json:"step_name"`
	Severity       DeviationSeverity `json:"severity"`
	Classification Classification    `json:"classification"`
	Description    string            `json:"description"`
	RaisedBy       string            `json:"raised_by"`
	CreatedDate    time.Time         `json:"created_date"`
	Status         DeviationStatus   `json:"status"`
}

type AuditEntry struct {
	ID        string    `json:"id"`
	BatchID   string    `json:"batch_id,omitempty"`
	Action    string    `json:"action"`
	Details   string    `json:"details"`
	Actor     string    `json:"actor"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	AuditActionBatchCreated   = "batch.created"
	AuditActionBatchStarted   = "batch.started"
	AuditActionStepCompleted  = "step.completed"
	AuditActionBatchCompleted = "batch.completed"
	AuditActionBatchRejected  = "batch.rejected"
)

// GenealogyEntry aggregates the consumption of one material lot into a batch.
type GenealogyEntry struct {
	MaterialArticle string          `json:"material_article"`
	LotNumber       string          `json:"lot_number,omitempty"`
	Quantity        decimal.Decimal `json:"quantity"`
	Unit            string          `json:"unit"`
	StepIDs         []string        `json:"step_ids"`
}

// Genealogy folds the consumption entries by (material, lot, unit) in first-use order.
func (b Batch) Genealogy() []GenealogyEntry {
	type key struct{ material, lot, unit string }
	index := make(map[key]int)
	var out []GenealogyEntry
	for _, entry := range b.MaterialConsumption {
		k := key{entry.MaterialArticle, entry.LotNumber, entry.Unit}
		i, ok := index[k]
		if !ok {
			index[k] = len(out)
			out = append(out, GenealogyEntry{
				MaterialArticle: entry.MaterialArticle,
				LotNumber:       entry.LotNumber,
				Quantity:        entry.Quantity,
				Unit:            entry.Unit,
				StepIDs:         []string{entry.StepID},
			})
			continue
		}
		out[i].Quantity = out[i].Quantity.Add(entry.Quantity)
		out[i].StepIDs = append(out[i].StepIDs, entry.StepID)
	}
	return out
}
