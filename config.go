package mesbatch

import (
	"fmt"
	"os"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"github.com/eleven-am/mesbatch/internal/domain"
)

type Config = domain.Config

type StorageConfig = domain.StorageConfig

type EngineConfig = domain.EngineConfig

type PolicyConfig = domain.PolicyConfig

type StorageDriver = domain.StorageDriver

const (
	StorageMemory StorageDriver = domain.StorageMemory
	StorageBadger StorageDriver = domain.StorageBadger
)

type ConfigError = domain.ConfigError

func DefaultConfig() *Config {
	return domain.DefaultConfig()
}

func DefaultStorageConfig() StorageConfig {
	return domain.DefaultStorageConfig()
}

func DefaultEngineConfig() EngineConfig {
	return domain.DefaultEngineConfig()
}

func DefaultPolicyConfig() PolicyConfig {
	return domain.DefaultPolicyConfig()
}

// LoadConfig reads a YAML configuration file. Keys missing from the file keep
// their defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return ParseConfig(data)
}

func ParseConfig(data []byte) (*Config, error) {
	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// MergeConfig copies every non-zero field of override onto dst. Zero values
// in override never clear a field of dst.
func MergeConfig(dst *Config, override Config) error {
	logger := override.Logger
	override.Logger = nil
	if err := mergo.Merge(dst, override, mergo.WithOverride); err != nil {
		return fmt.Errorf("merge config: %w", err)
	}
	if logger != nil {
		dst.Logger = logger
	}
	return nil
}

type ConfigBuilder struct {
	config *Config
	err    error
}

func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{config: DefaultConfig()}
}

// ConfigBuilderFrom starts from an existing configuration, e.g. one returned
// by LoadConfig.
func ConfigBuilderFrom(config *Config) *ConfigBuilder {
	if config == nil {
		config = DefaultConfig()
	}
	return &ConfigBuilder{config: config}
}

func (cb *ConfigBuilder) WithBadger(dataDir string) *ConfigBuilder {
	cb.config.WithBadger(dataDir)
	return cb
}

func (cb *ConfigBuilder) WithInMemoryBadger() *ConfigBuilder {
	cb.config.Storage.Driver = domain.StorageBadger
	cb.config.Storage.InMemory = true
	cb.config.Storage.DataDir = ""
	return cb
}

func (cb *ConfigBuilder) WithSyncWrites(enabled bool) *ConfigBuilder {
	cb.config.Storage.SyncWrites = enabled
	return cb
}

func (cb *ConfigBuilder) WithSignatureTimeout(timeout time.Duration) *ConfigBuilder {
	cb.config.WithSignatureTimeout(timeout)
	return cb
}

func (cb *ConfigBuilder) WithLockTimeout(timeout time.Duration) *ConfigBuilder {
	cb.config.Engine.LockTimeout = timeout
	return cb
}

func (cb *ConfigBuilder) WithDurationSamples(samples int) *ConfigBuilder {
	cb.config.Engine.DurationSamples = samples
	return cb
}

func (cb *ConfigBuilder) WithToleranceOverrideDeviation(enabled bool) *ConfigBuilder {
	cb.config.WithToleranceOverrideDeviation(enabled)
	return cb
}

func (cb *ConfigBuilder) WithRequiredStepReason(enabled bool) *ConfigBuilder {
	cb.config.Policy.RequireStepSignatureReason = enabled
	return cb
}

func (cb *ConfigBuilder) WithOverrides(override Config) *ConfigBuilder {
	if cb.err == nil {
		cb.err = MergeConfig(cb.config, override)
	}
	return cb
}

// Build validates the accumulated configuration.
func (cb *ConfigBuilder) Build() (*Config, error) {
	if cb.err != nil {
		return nil, cb.err
	}
	if err := cb.config.Validate(); err != nil {
		return nil, err
	}
	return cb.config, nil
}
