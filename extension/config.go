package extension

import (
	"errors"
	"fmt"
	"os"
	"time"

	yaml "go.yaml.in/yaml/v3"

	"github.com/xraph/charter"
)

// Config holds the Charter extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration (under "extensions.charter" or "charter" keys).
type Config struct {
	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// DisableExecutor keeps the background billing loop from running in this
	// process. Registry and subscription operations still work.
	DisableExecutor bool `json:"disable_executor" mapstructure:"disable_executor" yaml:"disable_executor"`

	// PollInterval is the longest the executor sleeps between sweeps (default: 1m).
	PollInterval time.Duration `json:"poll_interval" mapstructure:"poll_interval" yaml:"poll_interval"`

	// RetryInterval is the wait after a sweep that could not make progress (default: 5s).
	RetryInterval time.Duration `json:"retry_interval" mapstructure:"retry_interval" yaml:"retry_interval"`

	// LockTimeout bounds how long a contract or subscription lock is waited for.
	LockTimeout time.Duration `json:"lock_timeout" mapstructure:"lock_timeout" yaml:"lock_timeout"`

	// TransferTimeout bounds a single wallet transfer call.
	TransferTimeout time.Duration `json:"transfer_timeout" mapstructure:"transfer_timeout" yaml:"transfer_timeout"`

	// MaxConsecutiveFailures is how many declined periods in a row lapse a
	// subscription (default: 3).
	MaxConsecutiveFailures int `json:"max_consecutive_failures" mapstructure:"max_consecutive_failures" yaml:"max_consecutive_failures"`

	// SweepBatchSize caps the due subscriptions loaded per sweep.
	SweepBatchSize int `json:"sweep_batch_size" mapstructure:"sweep_batch_size" yaml:"sweep_batch_size"`

	// SweepConcurrency is how many subscriptions are billed in parallel.
	SweepConcurrency int `json:"sweep_concurrency" mapstructure:"sweep_concurrency" yaml:"sweep_concurrency"`

	// TransferRate limits wallet transfers per second. Zero disables throttling.
	TransferRate float64 `json:"transfer_rate" mapstructure:"transfer_rate" yaml:"transfer_rate"`

	// TransferBurst is the burst allowed above TransferRate.
	TransferBurst int `json:"transfer_burst" mapstructure:"transfer_burst" yaml:"transfer_burst"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:           charter.DefaultPollInterval,
		RetryInterval:          charter.DefaultRetryInterval,
		LockTimeout:            charter.DefaultLockTimeout,
		TransferTimeout:        charter.DefaultTransferTimeout,
		MaxConsecutiveFailures: charter.DefaultMaxConsecutiveFailures,
		SweepBatchSize:         charter.DefaultSweepBatchSize,
		SweepConcurrency:       charter.DefaultSweepConcurrency,
	}
}

// ConfigKeys are the Forge config keys searched for extension config, in
// order.
var ConfigKeys = []string{"extensions.charter", "charter"}

// ConfigBinder is the part of the Forge config manager the extension reads.
type ConfigBinder interface {
	IsSet(key string) bool
	Bind(key string, target any) error
}

// BindConfig binds the first of ConfigKeys that is set and binds cleanly,
// returning the key used ("" when none did). Failed binds are returned
// joined, each wrapped with its key, even when a later key succeeds.
func BindConfig(cm ConfigBinder) (Config, string, error) {
	var errs []error
	for _, key := range ConfigKeys {
		if !cm.IsSet(key) {
			continue
		}
		var cfg Config
		if err := cm.Bind(key, &cfg); err != nil {
			errs = append(errs, fmt.Errorf("charter: bind %s: %w", key, err))
			continue
		}
		return cfg, key, errors.Join(errs...)
	}
	return Config{}, "", errors.Join(errs...)
}

// LoadConfigFile reads a YAML file holding the extension config. The config
// may sit under "extensions.charter", under "charter", or at the top level.
// Unset fields are filled from DefaultConfig.
func LoadConfigFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("charter: read config %s: %w", path, err)
	}
	cfg, err := parseConfig(data)
	if err != nil {
		return Config{}, fmt.Errorf("charter: parse config %s: %w", path, err)
	}
	return mergeWithDefaults(cfg), nil
}

func parseConfig(data []byte) (Config, error) {
	var doc map[string]yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Config{}, err
	}

	var cfg Config
	if ext, ok := doc["extensions"]; ok {
		var exts map[string]yaml.Node
		if err := ext.Decode(&exts); err != nil {
			return Config{}, err
		}
		if node, ok := exts["charter"]; ok {
			err := node.Decode(&cfg)
			return cfg, err
		}
	}
	if node, ok := doc["charter"]; ok {
		err := node.Decode(&cfg)
		return cfg, err
	}

	err := yaml.Unmarshal(data, &cfg)
	return cfg, err
}

// mergeWithDefaults fills zero-valued fields with defaults.
func mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.PollInterval == 0 {
		cfg.PollInterval = defaults.PollInterval
	}
	if cfg.RetryInterval == 0 {
		cfg.RetryInterval = defaults.RetryInterval
	}
	if cfg.LockTimeout == 0 {
		cfg.LockTimeout = defaults.LockTimeout
	}
	if cfg.TransferTimeout == 0 {
		cfg.TransferTimeout = defaults.TransferTimeout
	}
	if cfg.MaxConsecutiveFailures == 0 {
		cfg.MaxConsecutiveFailures = defaults.MaxConsecutiveFailures
	}
	if cfg.SweepBatchSize == 0 {
		cfg.SweepBatchSize = defaults.SweepBatchSize
	}
	if cfg.SweepConcurrency == 0 {
		cfg.SweepConcurrency = defaults.SweepConcurrency
	}
	return cfg
}

// mergeConfigurations merges file config with programmatic options.
// File config takes precedence; programmatic values fill gaps and
// programmatic bool flags override when true.
func mergeConfigurations(fileConfig, programmaticConfig Config) Config {
	if programmaticConfig.DisableMigrate {
		fileConfig.DisableMigrate = true
	}
	if programmaticConfig.DisableExecutor {
		fileConfig.DisableExecutor = true
	}

	if fileConfig.PollInterval == 0 {
		fileConfig.PollInterval = programmaticConfig.PollInterval
	}
	if fileConfig.RetryInterval == 0 {
		fileConfig.RetryInterval = programmaticConfig.RetryInterval
	}
	if fileConfig.LockTimeout == 0 {
		fileConfig.LockTimeout = programmaticConfig.LockTimeout
	}
	if fileConfig.TransferTimeout == 0 {
		fileConfig.TransferTimeout = programmaticConfig.TransferTimeout
	}
	if fileConfig.MaxConsecutiveFailures == 0 {
		fileConfig.MaxConsecutiveFailures = programmaticConfig.MaxConsecutiveFailures
	}
	if fileConfig.SweepBatchSize == 0 {
		fileConfig.SweepBatchSize = programmaticConfig.SweepBatchSize
	}
	if fileConfig.SweepConcurrency == 0 {
		fileConfig.SweepConcurrency = programmaticConfig.SweepConcurrency
	}
	if fileConfig.TransferRate == 0 {
		fileConfig.TransferRate = programmaticConfig.TransferRate
		fileConfig.TransferBurst = programmaticConfig.TransferBurst
	}

	return mergeWithDefaults(fileConfig)
}

// EngineOptions converts the config into charter.Option values.
func (c Config) EngineOptions() []charter.Option {
	return []charter.Option{
		charter.WithMigrate(!c.DisableMigrate),
		charter.WithExecutor(!c.DisableExecutor),
		charter.WithPollInterval(c.PollInterval),
		charter.WithRetryInterval(c.RetryInterval),
		charter.WithLockTimeout(c.LockTimeout),
		charter.WithTransferTimeout(c.TransferTimeout),
		charter.WithMaxConsecutiveFailures(c.MaxConsecutiveFailures),
		charter.WithSweepConfig(c.SweepBatchSize, c.SweepConcurrency),
		charter.WithTransferRate(c.TransferRate, c.TransferBurst),
	}
}
