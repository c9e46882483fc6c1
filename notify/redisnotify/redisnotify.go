// Package redisnotify carries executor wake-ups between processes over Redis
// pub/sub.
package redisnotify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/xraph/charter/notify"
)

// DefaultChannel is the pub/sub channel used when none is configured.
const DefaultChannel = "charter:wakeup"

var _ notify.Notifier = (*Notifier)(nil)

type Notifier struct {
	client  redis.UniversalClient
	channel string
	logger  *slog.Logger
}

// Option configures a Notifier.
type Option func(*Notifier)

func WithChannel(channel string) Option {
	return func(n *Notifier) { n.channel = channel }
}

func WithLogger(logger *slog.Logger) Option {
	return func(n *Notifier) { n.logger = logger }
}

func New(client redis.UniversalClient, opts ...Option) *Notifier {
	n := &Notifier{
		client:  client,
		channel: DefaultChannel,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

func (n *Notifier) Notify(ctx context.Context) error {
	if err := n.client.Publish(ctx, n.channel, "1").Err(); err != nil {
		return fmt.Errorf("redisnotify: publish: %w", err)
	}
	return nil
}

// Subscribe opens a pub/sub subscription and relays every message as a
// coalesced wake-up until stop is called or ctx ends.
func (n *Notifier) Subscribe(ctx context.Context) (<-chan struct{}, func(), error) {
	ps := n.client.Subscribe(ctx, n.channel)
	// Wait for the subscription confirmation so no publish is missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, fmt.Errorf("redisnotify: subscribe %s: %w", n.channel, err)
	}

	out := make(chan struct{}, 1)
	ctx, cancel := context.WithCancel(ctx)
	msgs := ps.Channel()

	go func() {
		defer func() { _ = ps.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-msgs:
				if !ok {
					n.logger.Debug("wake-up channel closed", "channel", n.channel)
					return
				}
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()

	return out, cancel, nil
}
