package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/gyaneshwarpardhi/uebax/internal/alert"
	"github.com/gyaneshwarpardhi/uebax/internal/event"
)

// BreakerConfig controls when a backend is considered down.
type BreakerConfig struct {
	Name             string
	FailureThreshold uint32        // consecutive ErrUnavailable failures that open the breaker
	OpenTimeout      time.Duration // how long the breaker stays open before probing
}

func newBreaker(cfg BreakerConfig) *gobreaker.CircuitBreaker[any] {
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	return gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// Only backend outages count. Misses, caller errors and callers that
		// gave up (cancelled or timed-out ctx) do not trip.
		IsSuccessful: func(err error) bool {
			if err == nil || !errors.Is(err, ErrUnavailable) {
				return true
			}
			return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("store breaker state changed", "store", name, "from", from.String(), "to", to.String())
		},
	})
}

func execute[T any](cb *gobreaker.CircuitBreaker[any], fn func() (T, error)) (T, error) {
	out, err := cb.Execute(func() (any, error) { return fn() })
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		var zero T
		return zero, fmt.Errorf("%w: %s: %w", ErrUnavailable, cb.Name(), err)
	}
	v, _ := out.(T)
	return v, err
}

// BreakerEvents fails fast with ErrUnavailable while the wrapped store is down.
type BreakerEvents struct {
	next EventStore
	cb   *gobreaker.CircuitBreaker[any]
}

func NewBreakerEvents(next EventStore, cfg BreakerConfig) *BreakerEvents {
	if cfg.Name == "" {
		cfg.Name = "events"
	}
	return &BreakerEvents{next: next, cb: newBreaker(cfg)}
}

// State reports the breaker state ("closed", "open", "half-open").
func (b *BreakerEvents) State() string { return b.cb.State().String() }

func (b *BreakerEvents) Append(ctx context.Context, ev *event.Event) (*event.Event, error) {
	return execute(b.cb, func() (*event.Event, error) { return b.next.Append(ctx, ev) })
}

func (b *BreakerEvents) CountSince(ctx context.Context, actor string, kind event.Kind, since time.Time) (int, error) {
	return execute(b.cb, func() (int, error) { return b.next.CountSince(ctx, actor, kind, since) })
}

func (b *BreakerEvents) GetEvent(ctx context.Context, id string) (*event.Event, error) {
	return execute(b.cb, func() (*event.Event, error) { return b.next.GetEvent(ctx, id) })
}

func (b *BreakerEvents) ListEvents(ctx context.Context, f Filter) ([]*event.Event, error) {
	return execute(b.cb, func() ([]*event.Event, error) { return b.next.ListEvents(ctx, f) })
}

func (b *BreakerEvents) Ping(ctx context.Context) error {
	if p, ok := b.next.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// BreakerAlerts fails fast with ErrUnavailable while the wrapped store is down.
type BreakerAlerts struct {
	next AlertStore
	cb   *gobreaker.CircuitBreaker[any]
}

func NewBreakerAlerts(next AlertStore, cfg BreakerConfig) *BreakerAlerts {
	if cfg.Name == "" {
		cfg.Name = "alerts"
	}
	return &BreakerAlerts{next: next, cb: newBreaker(cfg)}
}

func (b *BreakerAlerts) State() string { return b.cb.State().String() }

func (b *BreakerAlerts) Create(ctx context.Context, a *alert.Alert) (*alert.Alert, error) {
	return execute(b.cb, func() (*alert.Alert, error) { return b.next.Create(ctx, a) })
}

type latched struct {
	alert   *alert.Alert
	created bool
}

func (b *BreakerAlerts) CreateIfAbsent(ctx context.Context, actor string, kind alert.Kind, build func() *alert.Alert) (*alert.Alert, bool, error) {
	res, err := execute(b.cb, func() (latched, error) {
		a, created, err := b.next.CreateIfAbsent(ctx, actor, kind, build)
		return latched{alert: a, created: created}, err
	})
	return res.alert, res.created, err
}

func (b *BreakerAlerts) ListAlerts(ctx context.Context, f Filter) ([]*alert.Alert, error) {
	return execute(b.cb, func() ([]*alert.Alert, error) { return b.next.ListAlerts(ctx, f) })
}

func (b *BreakerAlerts) Ping(ctx context.Context) error {
	if p, ok := b.next.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}
