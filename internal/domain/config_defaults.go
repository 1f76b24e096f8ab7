package domain

import (
	"fmt"
	"time"
)

func DefaultConfig() *Config {
	return &Config{
		Storage: DefaultStorageConfig(),
		Engine:  DefaultEngineConfig(),
		Policy:  DefaultPolicyConfig(),
	}
}

func DefaultStorageConfig() StorageConfig {
	return StorageConfig{
		Driver:     StorageMemory,
		SyncWrites: true,
	}
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		SignatureTimeout: 0,
		LockTimeout:      0,
		DurationSamples:  500,
	}
}

func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		DeviationOnToleranceOverride: false,
		RequireStepSignatureReason:   false,
	}
}

func (c *Config) WithBadger(dataDir string) *Config {
	c.Storage.Driver = StorageBadger
	c.Storage.DataDir = dataDir
	c.Storage.InMemory = false
	return c
}

func (c *Config) WithSignatureTimeout(timeout time.Duration) *Config {
	c.Engine.SignatureTimeout = timeout
	return c
}

func (c *Config) WithToleranceOverrideDeviation(enabled bool) *Config {
	c.Policy.DeviationOnToleranceOverride = enabled
	return c
}

func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case StorageMemory:
	case StorageBadger:
		if c.Storage.DataDir == "" && !c.Storage.InMemory {
			return NewConfigError("storage.data_dir", ErrInvalidConfig)
		}
	default:
		return NewConfigError("storage.driver", fmt.Errorf("unknown driver %q: %w", c.Storage.Driver, ErrInvalidConfig))
	}

	if c.Engine.SignatureTimeout < 0 {
		return NewConfigError("engine.signature_timeout", ErrInvalidConfig)
	}
	if c.Engine.LockTimeout < 0 {
		return NewConfigError("engine.lock_timeout", ErrInvalidConfig)
	}
	if c.Engine.DurationSamples <= 0 {
		return NewConfigError("engine.duration_samples", ErrInvalidConfig)
	}
	return nil
}

type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config field %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

func NewConfigError(field string, err error) *ConfigError {
	return &ConfigError{
		Field: field,
		Err:   err,
	}
}
