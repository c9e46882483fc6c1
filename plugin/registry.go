package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/charter/charge"
	"github.com/xraph/charter/contract"
	"github.com/xraph/charter/subscription"
)

// DefaultTimeout bounds a single plugin call.
const DefaultTimeout = 5 * time.Second

// Registry manages all registered plugins and provides efficient dispatch.
// It uses type-cached discovery so emitting never type-asserts.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger
	timeout time.Duration

	onInit                  []OnInit
	onShutdown              []OnShutdown
	onContractCreated       []OnContractCreated
	onContractClosed        []OnContractClosed
	onContractCanceled      []OnContractCanceled
	onSubscriptionCreated   []OnSubscriptionCreated
	onSubscriptionActivated []OnSubscriptionActivated
	onSubscriptionLapsed    []OnSubscriptionLapsed
	onChargeCommitted       []OnChargeCommitted
	onChargeDeclined        []OnChargeDeclined
	onChargeDeferred        []OnChargeDeferred
	onSweepCompleted        []OnSweepCompleted
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger:  slog.Default(),
		timeout: DefaultTimeout,
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// WithTimeout sets the per-call plugin timeout.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	if d > 0 {
		r.timeout = d
	}
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	var hooks []string
	cache := func(ok bool, name string) bool {
		if ok {
			hooks = append(hooks, name)
		}
		return ok
	}

	if v, ok := p.(OnInit); cache(ok, "OnInit") {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := p.(OnShutdown); cache(ok, "OnShutdown") {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := p.(OnContractCreated); cache(ok, "OnContractCreated") {
		r.onContractCreated = append(r.onContractCreated, v)
	}
	if v, ok := p.(OnContractClosed); cache(ok, "OnContractClosed") {
		r.onContractClosed = append(r.onContractClosed, v)
	}
	if v, ok := p.(OnContractCanceled); cache(ok, "OnContractCanceled") {
		r.onContractCanceled = append(r.onContractCanceled, v)
	}
	if v, ok := p.(OnSubscriptionCreated); cache(ok, "OnSubscriptionCreated") {
		r.onSubscriptionCreated = append(r.onSubscriptionCreated, v)
	}
	if v, ok := p.(OnSubscriptionActivated); cache(ok, "OnSubscriptionActivated") {
		r.onSubscriptionActivated = append(r.onSubscriptionActivated, v)
	}
	if v, ok := p.(OnSubscriptionLapsed); cache(ok, "OnSubscriptionLapsed") {
		r.onSubscriptionLapsed = append(r.onSubscriptionLapsed, v)
	}
	if v, ok := p.(OnChargeCommitted); cache(ok, "OnChargeCommitted") {
		r.onChargeCommitted = append(r.onChargeCommitted, v)
	}
	if v, ok := p.(OnChargeDeclined); cache(ok, "OnChargeDeclined") {
		r.onChargeDeclined = append(r.onChargeDeclined, v)
	}
	if v, ok := p.(OnChargeDeferred); cache(ok, "OnChargeDeferred") {
		r.onChargeDeferred = append(r.onChargeDeferred, v)
	}
	if v, ok := p.(OnSweepCompleted); cache(ok, "OnSweepCompleted") {
		r.onSweepCompleted = append(r.onSweepCompleted, v)
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"hooks", hooks,
	)

	return nil
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, engine any) {
	emit(ctx, r, "OnInit", snapshot(r, &r.onInit), func(p OnInit) error {
		return p.OnInit(ctx, engine)
	})
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	emit(ctx, r, "OnShutdown", snapshot(r, &r.onShutdown), func(p OnShutdown) error {
		return p.OnShutdown(ctx)
	})
}

func (r *Registry) EmitContractCreated(ctx context.Context, o *contract.Offer) {
	emit(ctx, r, "OnContractCreated", snapshot(r, &r.onContractCreated), func(p OnContractCreated) error {
		return p.OnContractCreated(ctx, o)
	})
}

func (r *Registry) EmitContractClosed(ctx context.Context, o *contract.Offer) {
	emit(ctx, r, "OnContractClosed", snapshot(r, &r.onContractClosed), func(p OnContractClosed) error {
		return p.OnContractClosed(ctx, o)
	})
}

func (r *Registry) EmitContractCanceled(ctx context.Context, o *contract.Offer, lapsed int) {
	emit(ctx, r, "OnContractCanceled", snapshot(r, &r.onContractCanceled), func(p OnContractCanceled) error {
		return p.OnContractCanceled(ctx, o, lapsed)
	})
}

func (r *Registry) EmitSubscriptionCreated(ctx context.Context, s *subscription.Subscription) {
	emit(ctx, r, "OnSubscriptionCreated", snapshot(r, &r.onSubscriptionCreated), func(p OnSubscriptionCreated) error {
		return p.OnSubscriptionCreated(ctx, s)
	})
}

func (r *Registry) EmitSubscriptionActivated(ctx context.Context, s *subscription.Subscription) {
	emit(ctx, r, "OnSubscriptionActivated", snapshot(r, &r.onSubscriptionActivated), func(p OnSubscriptionActivated) error {
		return p.OnSubscriptionActivated(ctx, s)
	})
}

func (r *Registry) EmitSubscriptionLapsed(ctx context.Context, s *subscription.Subscription) {
	emit(ctx, r, "OnSubscriptionLapsed", snapshot(r, &r.onSubscriptionLapsed), func(p OnSubscriptionLapsed) error {
		return p.OnSubscriptionLapsed(ctx, s)
	})
}

func (r *Registry) EmitChargeCommitted(ctx context.Context, c *charge.Charge) {
	emit(ctx, r, "OnChargeCommitted", snapshot(r, &r.onChargeCommitted), func(p OnChargeCommitted) error {
		return p.OnChargeCommitted(ctx, c)
	})
}

func (r *Registry) EmitChargeDeclined(ctx context.Context, c *charge.Charge) {
	emit(ctx, r, "OnChargeDeclined", snapshot(r, &r.onChargeDeclined), func(p OnChargeDeclined) error {
		return p.OnChargeDeclined(ctx, c)
	})
}

func (r *Registry) EmitChargeDeferred(ctx context.Context, s *subscription.Subscription, period time.Time, cause error) {
	emit(ctx, r, "OnChargeDeferred", snapshot(r, &r.onChargeDeferred), func(p OnChargeDeferred) error {
		return p.OnChargeDeferred(ctx, s, period, cause)
	})
}

func (r *Registry) EmitSweepCompleted(ctx context.Context, report charge.SweepReport) {
	emit(ctx, r, "OnSweepCompleted", snapshot(r, &r.onSweepCompleted), func(p OnSweepCompleted) error {
		return p.OnSweepCompleted(ctx, report)
	})
}

// snapshot copies a hook list under the read lock.
func snapshot[T any](r *Registry, list *[]T) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return *list
}

func emit[T Plugin](ctx context.Context, r *Registry, hook string, plugins []T, call func(T) error) {
	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return call(p)
		}); err != nil {
			r.logger.Warn("plugin "+hook+" failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins should never block the billing pipeline.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- fmt.Errorf("plugin panic: %s: %v", pluginName, rec)
			}
		}()
		done <- fn()
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
