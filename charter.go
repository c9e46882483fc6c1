package charter

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/xraph/charter/cronclock"
	"github.com/xraph/charter/lock"
	"github.com/xraph/charter/notify"
	"github.com/xraph/charter/plugin"
	"github.com/xraph/charter/store"
	"github.com/xraph/charter/wallet"
)

// Defaults applied by New.
const (
	DefaultPollInterval           = time.Minute
	DefaultLockTimeout            = 5 * time.Second
	DefaultTransferTimeout        = 10 * time.Second
	DefaultMaxConsecutiveFailures = 3
	DefaultSweepBatchSize         = 500
	DefaultSweepConcurrency       = 8
	DefaultRetryInterval          = 5 * time.Second
)

// Engine is the contract billing engine: it owns the contract registry, the
// subscription ledger and the billing executor over a single store.
type Engine struct {
	store    store.Store
	wallets  wallet.Ledger
	plugins  *plugin.Registry
	logger   *slog.Logger
	locker   lock.Locker
	notifier notify.Notifier
	validate *validator.Validate
	clock    func() time.Time
	instance string

	schedules sync.Map // cron expression -> *cronclock.Schedule

	// Configuration
	pollInterval    time.Duration
	retryInterval   time.Duration
	lockTimeout     time.Duration
	transferTimeout time.Duration
	maxFailures     int
	batchSize       int
	concurrency     int
	transferRate    float64
	transferBurst   int
	migrate         bool
	runExecutor     bool

	// Background worker
	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a new Engine instance.
func New(s store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:           s,
		plugins:         plugin.NewRegistry(),
		logger:          slog.Default(),
		locker:          lock.NewLocal(),
		notifier:        notify.NewLocal(),
		validate:        newValidator(),
		clock:           time.Now,
		instance:        uuid.NewString(),
		pollInterval:    DefaultPollInterval,
		retryInterval:   DefaultRetryInterval,
		lockTimeout:     DefaultLockTimeout,
		transferTimeout: DefaultTransferTimeout,
		maxFailures:     DefaultMaxConsecutiveFailures,
		batchSize:       DefaultSweepBatchSize,
		concurrency:     DefaultSweepConcurrency,
		migrate:         true,
		runExecutor:     true,
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.wallets != nil {
		e.wallets = wallet.RateLimit(e.wallets, e.transferRate, e.transferBurst)
	}
	e.logger = e.logger.With("component", "charter", "instance", e.instance)

	return e
}

// Option configures an Engine instance.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
		e.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Engine) {
		_ = e.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithWalletLedger sets the ledger the executor transfers funds through.
// Without one the engine manages offers and subscriptions but never bills.
func WithWalletLedger(l wallet.Ledger) Option {
	return func(e *Engine) {
		e.wallets = l
	}
}

// WithLocker replaces the in-process locker, e.g. with lock/redislock when
// several engines share a store.
func WithLocker(l lock.Locker) Option {
	return func(e *Engine) {
		e.locker = l
	}
}

// WithNotifier replaces the in-process wake-up notifier.
func WithNotifier(n notify.Notifier) Option {
	return func(e *Engine) {
		e.notifier = n
	}
}

// WithClock sets the time source. Tests use it to drive billing periods.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.clock = now
	}
}

// WithInstanceID overrides the generated executor instance id.
func WithInstanceID(instance string) Option {
	return func(e *Engine) {
		e.instance = instance
	}
}

// WithPollInterval sets the longest the executor sleeps between sweeps.
func WithPollInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.pollInterval = d
		}
	}
}

// WithRetryInterval sets how soon the executor re-sweeps when due work was
// left unprocessed by transient failures.
func WithRetryInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.retryInterval = d
		}
	}
}

// WithLockTimeout bounds every contract and subscription lock acquisition.
func WithLockTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.lockTimeout = d
		}
	}
}

// WithTransferTimeout bounds a single wallet transfer.
func WithTransferTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.transferTimeout = d
		}
	}
}

// WithMaxConsecutiveFailures sets how many declined periods in a row lapse
// a subscription.
func WithMaxConsecutiveFailures(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxFailures = n
		}
	}
}

// WithSweepConfig sets how many due subscriptions one sweep loads and how
// many it bills in parallel.
func WithSweepConfig(batchSize, concurrency int) Option {
	return func(e *Engine) {
		if batchSize > 0 {
			e.batchSize = batchSize
		}
		if concurrency > 0 {
			e.concurrency = concurrency
		}
	}
}

// WithTransferRate throttles wallet transfers to limit per second with the
// given burst. A limit of zero disables throttling.
func WithTransferRate(limit float64, burst int) Option {
	return func(e *Engine) {
		e.transferRate = limit
		e.transferBurst = burst
	}
}

// WithMigrate controls whether Start runs store migrations.
func WithMigrate(enabled bool) Option {
	return func(e *Engine) {
		e.migrate = enabled
	}
}

// WithExecutor controls whether Start launches the background billing loop.
func WithExecutor(enabled bool) Option {
	return func(e *Engine) {
		e.runExecutor = enabled
	}
}

// Store returns the underlying store.
func (e *Engine) Store() store.Store { return e.store }

// Plugins returns the plugin registry.
func (e *Engine) Plugins() *plugin.Registry { return e.plugins }

// InstanceID identifies this engine in logs and lock tokens.
func (e *Engine) InstanceID() string { return e.instance }

// Start migrates the store and begins the billing executor.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return ErrAlreadyActive
	}

	if e.migrate {
		if err := e.store.Migrate(ctx); err != nil {
			return err
		}
	}

	e.plugins.EmitInit(ctx, e)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.cancel = cancel
	e.running = true

	if e.runExecutor && e.wallets != nil {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			if err := e.Run(runCtx); err != nil {
				e.logger.Error("billing executor stopped", "error", err)
			}
		}()
	}

	e.logger.Info("charter started",
		"executor", e.runExecutor && e.wallets != nil,
		"poll_interval", e.pollInterval,
		"max_consecutive_failures", e.maxFailures,
		"sweep_batch_size", e.batchSize,
		"sweep_concurrency", e.concurrency,
	)

	return nil
}

// Stop shuts down the executor, waits for in-flight billing to be recorded
// and closes the store.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return ErrNotStarted
	}
	e.running = false
	e.cancel()
	e.mu.Unlock()

	e.wg.Wait()

	e.plugins.EmitShutdown(context.Background())

	return e.store.Close()
}

// schedule returns the parsed schedule for expr, caching by expression.
func (e *Engine) schedule(expr string) (*cronclock.Schedule, error) {
	if s, ok := e.schedules.Load(expr); ok {
		return s.(*cronclock.Schedule), nil //nolint:errcheck // only *Schedule is stored
	}
	s, err := cronclock.Validate(expr)
	if err != nil {
		return nil, err
	}
	e.schedules.Store(expr, s)
	return s, nil
}

func (e *Engine) now() time.Time { return e.clock().UTC() }

// acquire takes key under the configured lock timeout.
func (e *Engine) acquire(ctx context.Context, key string) (lock.Lease, error) {
	lctx, cancel := context.WithTimeout(ctx, e.lockTimeout)
	defer cancel()

	lease, err := e.locker.Acquire(lctx, key)
	if err != nil {
		return nil, wrapLockErr(err)
	}
	return lease, nil
}

func (e *Engine) release(ctx context.Context, lease lock.Lease) {
	if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
		e.logger.Warn("lock release failed", "key", lease.Key(), "error", err)
	}
}

func (e *Engine) wake(ctx context.Context) {
	if err := e.notifier.Notify(ctx); err != nil {
		e.logger.Warn("wake-up notification failed", "error", err)
	}
}
