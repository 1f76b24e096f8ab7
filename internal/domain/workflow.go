package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

type StepType string

const (
	StepTypeDispensing StepType = "dispensing"
	StepTypeWeighing   StepType = "weighing"
	StepTypeProcess    StepType = "process"
	StepTypeMixing     StepType = "mixing"
	StepTypeQC         StepType = "qc"
)

func (t StepType) Valid() bool {
	switch t {
	case StepTypeDispensing, StepTypeWeighing, StepTypeProcess, StepTypeMixing, StepTypeQC:
		return true
	}
	return false
}

// ConsumesMaterial reports whether completions of this step type may draw on a
// BOM line.
func (t StepType) ConsumesMaterial() bool {
	return t == StepTypeDispensing || t == StepTypeWeighing
}

// Workflow is an ordered template of steps. There is no branching: slice order
// is execution order. A workflow referenced by a running batch is treated as
// immutable.
type Workflow struct {
	ID    string `json:"id" yaml:"id"`
	Name  string `json:"name" yaml:"name"`
	Steps []Step `json:"steps" yaml:"steps"`
}

type Step struct {
	ID            string     `json:"id" yaml:"id"`
	Name          string     `json:"name" yaml:"name"`
	Type          StepType   `json:"type" yaml:"type"`
	EquipmentID   string     `json:"equipment_id,omitempty" yaml:"equipment_id,omitempty"`
	WorkStationID string     `json:"work_station_id,omitempty" yaml:"work_station_id,omitempty"`
	FormulaBOMID  string     `json:"formula_bom_id,omitempty" yaml:"formula_bom_id,omitempty"`
	RequiresQC    bool       `json:"requires_qc,omitempty" yaml:"requires_qc,omitempty"`
	Instruction   string     `json:"instruction,omitempty" yaml:"instruction,omitempty"`
	Params        StepParams `json:"params" yaml:"params"`
}

// StepParams is a union keyed by StepType: exactly the variant matching the
// step's type may be set.
type StepParams struct {
	Dispensing *MaterialParams `json:"dispensing,omitempty" yaml:"dispensing,omitempty"`
	Weighing   *MaterialParams `json:"weighing,omitempty" yaml:"weighing,omitempty"`
	Process    *ProcessParams  `json:"process,omitempty" yaml:"process,omitempty"`
	Mixing     *MixingParams   `json:"mixing,omitempty" yaml:"mixing,omitempty"`
	QC         *QCParams       `json:"qc,omitempty" yaml:"qc,omitempty"`
}

type MaterialParams struct {
	Unit string `json:"unit,omitempty" yaml:"unit,omitempty"`
}

type ProcessParams struct {
	SOPReference string `json:"sop_reference,omitempty" yaml:"sop_reference,omitempty"`
}

type MixingParams struct {
	TargetDuration    decimal.NullDecimal `json:"target_duration" yaml:"target_duration"`
	TargetRPM         decimal.NullDecimal `json:"target_rpm" yaml:"target_rpm"`
	TargetTemperature decimal.NullDecimal `json:"target_temperature" yaml:"target_temperature"`
}

type QCParams struct {
	Parameter string          `json:"parameter" yaml:"parameter"`
	Min       decimal.Decimal `json:"min" yaml:"min"`
	Max       decimal.Decimal `json:"max" yaml:"max"`
	Unit      string          `json:"unit,omitempty" yaml:"unit,omitempty"`
}

func (p StepParams) setVariants() []StepType {
	var set []StepType
	if p.Dispensing != nil {
		set = append(set, StepTypeDispensing)
	}
	if p.Weighing != nil {
		set = append(set, StepTypeWeighing)
	}
	if p.Process != nil {
		set = append(set, StepTypeProcess)
	}
	if p.Mixing != nil {
		set = append(set, StepTypeMixing)
	}
	if p.QC != nil {
		set = append(set, StepTypeQC)
	}
	return set
}

// Validate checks the union tag. Process, mixing and material variants may be
// omitted; a qc step must carry its acceptance range.
func (s Step) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("step without id: %w", ErrInvalidInput)
	}
	if !s.Type.Valid() {
		return fmt.Errorf("step %s: unknown type %q: %w", s.ID, s.Type, ErrInvalidInput)
	}
	variants := s.Params.setVariants()
	if len(variants) > 1 {
		return fmt.Errorf("step %s: params carry %d variants: %w", s.ID, len(variants), ErrInvalidInput)
	}
	if len(variants) == 1 && variants[0] != s.Type {
		return fmt.Errorf("step %s: %s params on %s step: %w", s.ID, variants[0], s.Type, ErrInvalidInput)
	}
	if s.Type == StepTypeQC {
		if s.Params.QC == nil {
			return fmt.Errorf("step %s: qc step without acceptance range: %w", s.ID, ErrInvalidInput)
		}
		if s.Params.QC.Min.GreaterThan(s.Params.QC.Max) {
			return fmt.Errorf("step %s: qc min %s above max %s: %w", s.ID, s.Params.QC.Min, s.Params.QC.Max, ErrInvalidInput)
		}
	}
	return nil
}

func (w Workflow) Validate() error {
	if w.ID == "" {
		return fmt.Errorf("workflow without id: %w", ErrInvalidInput)
	}
	if len(w.Steps) == 0 {
		return fmt.Errorf("workflow %s has no steps: %w", w.ID, ErrInvalidInput)
	}
	seen := make(map[string]struct{}, len(w.Steps))
	for _, step := range w.Steps {
		if err := step.Validate(); err != nil {
			return fmt.Errorf("workflow %s: %w", w.ID, err)
		}
		if _, dup := seen[step.ID]; dup {
			return fmt.Errorf("workflow %s: duplicate step %s: %w", w.ID, step.ID, ErrInvalidInput)
		}
		seen[step.ID] = struct{}{}
	}
	return nil
}

// StepAt returns the step at index, false past the end.
func (w Workflow) StepAt(index int) (Step, bool) {
	if index < 0 || index >= len(w.Steps) {
		return Step{}, false
	}
	return w.Steps[index], true
}

// Clone copies the steps and their params so callers never share acceptance
// ranges with the catalog.
func (w Workflow) Clone() Workflow {
	cp := w
	cp.Steps = make([]Step, len(w.Steps))
	for i, step := range w.Steps {
		cp.Steps[i] = step.Clone()
	}
	return cp
}

func (s Step) Clone() Step {
	cp := s
	cp.Params = s.Params.clone()
	return cp
}

func (p StepParams) clone() StepParams {
	var cp StepParams
	if p.Dispensing != nil {
		v := *p.Dispensing
		cp.Dispensing = &v
	}
	if p.Weighing != nil {
		v := *p.Weighing
		cp.Weighing = &v
	}
	if p.Process != nil {
		v := *p.Process
		cp.Process = &v
	}
	if p.Mixing != nil {
		v := *p.Mixing
		cp.Mixing = &v
	}
	if p.QC != nil {
		v := *p.QC
		cp.QC = &v
	}
	return cp
}
