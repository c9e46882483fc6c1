package extension

import (
	"log/slog"
	"time"

	"github.com/xraph/charter"
	"github.com/xraph/charter/lock"
	"github.com/xraph/charter/notify"
	"github.com/xraph/charter/plugin"
	"github.com/xraph/charter/store"
	"github.com/xraph/charter/wallet"
)

// Option configures the Charter Forge extension.
type Option func(*Extension)

// WithStore sets the store for the engine.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithEngineOption passes a charter.Option through to the underlying engine.
func WithEngineOption(opt charter.Option) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, opt)
	}
}

// WithPlugin registers a charter plugin.
func WithPlugin(p plugin.Plugin) Option {
	return WithEngineOption(charter.WithPlugin(p))
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return WithEngineOption(charter.WithLogger(logger))
}

// WithWalletLedger sets the wallet ledger the executor charges through.
// Without one the billing loop does not run.
func WithWalletLedger(l wallet.Ledger) Option {
	return WithEngineOption(charter.WithWalletLedger(l))
}

// WithLocker sets the lock backend shared by all executor instances.
func WithLocker(l lock.Locker) Option {
	return WithEngineOption(charter.WithLocker(l))
}

// WithNotifier sets the wake-up notifier.
func WithNotifier(n notify.Notifier) Option {
	return WithEngineOption(charter.WithNotifier(n))
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithConfigFile loads configuration from a YAML file instead of the Forge
// config manager.
func WithConfigFile(path string) Option {
	return func(e *Extension) { e.configFile = path }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithDisableExecutor keeps the billing loop from running in this process.
func WithDisableExecutor() Option {
	return func(e *Extension) { e.config.DisableExecutor = true }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}

// WithPollInterval sets the longest sleep between sweeps.
func WithPollInterval(d time.Duration) Option {
	return func(e *Extension) { e.config.PollInterval = d }
}

// WithMaxConsecutiveFailures sets how many declined periods lapse a subscription.
func WithMaxConsecutiveFailures(n int) Option {
	return func(e *Extension) { e.config.MaxConsecutiveFailures = n }
}

// WithTransferRate throttles wallet transfers.
func WithTransferRate(limit float64, burst int) Option {
	return func(e *Extension) {
		e.config.TransferRate = limit
		e.config.TransferBurst = burst
	}
}
