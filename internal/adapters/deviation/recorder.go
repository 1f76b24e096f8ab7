package deviation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/eleven-am/mesbatch/internal/domain"
	"github.com/eleven-am/mesbatch/internal/ports"
	"github.com/google/uuid"
)

// Recorder builds deviation records and hands them to the deviation-management
// workflow. Build is pure; Submit is the only side effect.
type Recorder struct {
	sink   ports.DeviationSink
	logger *slog.Logger
}

func NewRecorder(sink ports.DeviationSink, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		sink:   sink,
		logger: logger.With("component", "deviation-recorder"),
	}
}

// Build returns one open deviation for the step. QC out-of-spec results are
// major; accepted tolerance overrides are minor.
func (r *Recorder) Build(batch domain.Batch, step domain.Step, result domain.ClassificationResult, raisedBy string, details string, at time.Time) domain.Deviation {
	severity := domain.DeviationSeverityMinor
	if result.Classification == domain.ClassificationOutOfSpec {
		severity = domain.DeviationSeverityMajor
	}

	return domain.Deviation{
		ID:             uuid.New().String(),
		BatchID:        batch.ID,
		StepID:         step.ID,
		StepName:       step.Name,
		Severity:       severity,
		Classification: result.Classification,
		Description:    Describe(step, result, details),
		RaisedBy:       raisedBy,
		CreatedDate:    at,
		Status:         domain.DeviationStatusOpen,
	}
}

// Describe renders the human-readable deviation text stored on both the
// completion and the deviation record.
func Describe(step domain.Step, result domain.ClassificationResult, details string) string {
	var b strings.Builder
	switch result.Classification {
	case domain.ClassificationOutOfSpec:
		name := result.Parameter
		if name == "" {
			name = step.Name
		}
		fmt.Fprintf(&b, "QC out of specification: %s = %s%s, acceptance range %s",
			name, result.Value, unitSuffix(result.Unit), result.Window)
	case domain.ClassificationOutOfTolerance:
		fmt.Fprintf(&b, "Tolerance exceeded at %s: %s%s entered, target %s, window %s",
			step.Name, result.Value, unitSuffix(result.Unit), result.Target, result.Window)
	default:
		fmt.Fprintf(&b, "Deviation at %s: %s", step.Name, result.Value)
	}
	if details = strings.TrimSpace(details); details != "" {
		b.WriteString(". ")
		b.WriteString(details)
	}
	return b.String()
}

func unitSuffix(unit string) string {
	if unit == "" {
		return ""
	}
	return " " + unit
}

func (r *Recorder) Submit(ctx context.Context, dev domain.Deviation) error {
	if r.sink == nil {
		r.logger.Error("deviation hand-off failed: no sink configured", "deviation_id", dev.ID, "batch_id", dev.BatchID)
		return fmt.Errorf("deviation %s: no sink: %w", dev.ID, domain.ErrDeviationHandoff)
	}
	if err := r.sink.SubmitDeviation(ctx, dev); err != nil {
		r.logger.Error("deviation hand-off failed",
			"deviation_id", dev.ID,
			"batch_id", dev.BatchID,
			"step_id", dev.StepID,
			"error", err)
		return fmt.Errorf("deviation %s: %w: %w", dev.ID, domain.ErrDeviationHandoff, err)
	}

	r.logger.Info("deviation recorded",
		"deviation_id", dev.ID,
		"batch_id", dev.BatchID,
		"step_id", dev.StepID,
		"severity", dev.Severity)
	return nil
}
