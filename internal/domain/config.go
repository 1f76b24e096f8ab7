package domain

import (
	"log/slog"
	"time"
)

type Config struct {
	Logger *slog.Logger `json:"-" yaml:"-"`

	Storage StorageConfig `json:"storage" yaml:"storage"`
	Engine  EngineConfig  `json:"engine" yaml:"engine"`
	Policy  PolicyConfig  `json:"policy" yaml:"policy"`
}

type StorageDriver string

const (
	StorageMemory StorageDriver = "memory"
	StorageBadger StorageDriver = "badger"
)

type StorageConfig struct {
	Driver     StorageDriver `json:"driver" yaml:"driver"`
	DataDir    string        `json:"data_dir,omitempty" yaml:"data_dir,omitempty"`
	InMemory   bool          `json:"in_memory,omitempty" yaml:"in_memory,omitempty"`
	SyncWrites bool          `json:"sync_writes" yaml:"sync_writes"`
}

type EngineConfig struct {
	// SignatureTimeout bounds how long a step waits for its signature. Zero
	// waits until the caller's context ends.
	SignatureTimeout time.Duration `json:"signature_timeout" yaml:"signature_timeout"`
	LockTimeout      time.Duration `json:"lock_timeout" yaml:"lock_timeout"`
	DurationSamples  int           `json:"duration_samples" yaml:"duration_samples"`
}

type PolicyConfig struct {
	DeviationOnToleranceOverride bool `json:"deviation_on_tolerance_override" yaml:"deviation_on_tolerance_override"`
	RequireStepSignatureReason   bool `json:"require_step_signature_reason" yaml:"require_step_signature_reason"`
}
