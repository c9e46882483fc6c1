// Package extension provides the Forge extension adapter for Charter.
//
// It implements the forge.Extension interface to integrate Charter
// into a Forge application with DI registration and lifecycle management.
//
// Configuration can be provided programmatically via Option functions,
// via Forge configuration under "extensions.charter" or "charter" keys, or
// from a standalone YAML file (see WithConfigFile).
package extension

import (
	"context"
	"errors"

	"github.com/xraph/forge"
	"github.com/xraph/vessel"

	"github.com/xraph/charter"
	"github.com/xraph/charter/store"
	"github.com/xraph/charter/store/memory"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "charter"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Recurring wallet-to-wallet contract billing"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts Charter as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config     Config
	configFile string
	engine     *charter.Engine
	store      store.Store
	engineOpts []charter.Option
}

// New creates a new Charter Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying Charter engine.
// This is nil until Register is called.
func (e *Extension) Engine() *charter.Engine { return e.engine }

// Register implements [forge.Extension]. It loads configuration,
// initializes the engine, and registers it in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	// Use memory store if no store was provided programmatically.
	if e.store == nil {
		e.store = memory.New()
	}

	e.engine = charter.New(e.store, e.buildEngineOpts()...)

	return vessel.Provide(fapp.Container(), func() (*charter.Engine, error) {
		return e.engine, nil
	})
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("charter: extension not initialized")
	}

	if err := e.engine.Start(ctx); err != nil {
		return err
	}

	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(_ context.Context) error {
	if e.engine != nil {
		if err := e.engine.Stop(); err != nil && !errors.Is(err, charter.ErrNotStarted) {
			e.MarkStopped()
			return err
		}
	}
	e.MarkStopped()
	return nil
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.store == nil {
		return errors.New("charter: store not initialized")
	}
	return e.store.Ping(ctx)
}

// buildEngineOpts puts the config-derived options first so pass-through
// engine options win.
func (e *Extension) buildEngineOpts() []charter.Option {
	return append(e.config.EngineOptions(), e.engineOpts...)
}

// --- Config Loading ---

// loadConfiguration loads config from a YAML file, Forge config, or
// programmatic sources, in that order.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	fileConfig, configLoaded, err := e.tryLoadConfig()
	if err != nil {
		return err
	}

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("charter: configuration is required but not found in config files; " +
				"ensure 'extensions.charter' or 'charter' key exists in your config")
		}
		e.config = mergeWithDefaults(programmaticConfig)
	} else {
		e.config = mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("charter: configuration loaded",
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("disable_executor", e.config.DisableExecutor),
		forge.F("poll_interval", e.config.PollInterval),
		forge.F("lock_timeout", e.config.LockTimeout),
		forge.F("transfer_timeout", e.config.TransferTimeout),
		forge.F("max_consecutive_failures", e.config.MaxConsecutiveFailures),
		forge.F("sweep_batch_size", e.config.SweepBatchSize),
		forge.F("sweep_concurrency", e.config.SweepConcurrency),
		forge.F("transfer_rate", e.config.TransferRate),
	)

	return nil
}

// tryLoadConfig loads the explicit config file when one was given, and
// otherwise looks in the Forge config manager.
func (e *Extension) tryLoadConfig() (Config, bool, error) {
	if e.configFile != "" {
		cfg, err := LoadConfigFile(e.configFile)
		if err != nil {
			return Config{}, false, err
		}
		e.Logger().Debug("charter: loaded config from file",
			forge.F("path", e.configFile),
		)
		return cfg, true, nil
	}

	cfg, key, err := BindConfig(e.App().Config())
	if err != nil {
		e.Logger().Warn("charter: failed to bind config",
			forge.F("error", err),
		)
	}
	if key == "" {
		return Config{}, false, nil
	}
	e.Logger().Debug("charter: loaded config from file",
		forge.F("key", key),
	)
	return cfg, true, nil
}

