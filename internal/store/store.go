// Package store defines the persistence contracts consumed by the rule
// engine and provides in-memory, SQLite and Redis backends.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/gyaneshwarpardhi/uebax/internal/alert"
	"github.com/gyaneshwarpardhi/uebax/internal/event"
)

var (
	// ErrUnavailable wraps every failure to reach or write the backing store.
	ErrUnavailable = errors.New("store unavailable")

	// ErrNotFound is returned when a lookup by id misses.
	ErrNotFound = errors.New("not found")
)

// EventStore is the append-only event log.
type EventStore interface {
	// Append persists ev, assigning ID and OccurredAt, and returns the stored copy.
	Append(ctx context.Context, ev *event.Event) (*event.Event, error)
	// CountSince counts events of kind for actor with OccurredAt >= since.
	CountSince(ctx context.Context, actor string, kind event.Kind, since time.Time) (int, error)
	GetEvent(ctx context.Context, id string) (*event.Event, error)
	ListEvents(ctx context.Context, f Filter) ([]*event.Event, error)
}

// AlertStore persists alerts.
type AlertStore interface {
	// Create always writes a new alert.
	Create(ctx context.Context, a *alert.Alert) (*alert.Alert, error)
	// CreateIfAbsent writes build() only when no alert exists for
	// (actor, kind). It returns the existing alert and false otherwise.
	CreateIfAbsent(ctx context.Context, actor string, kind alert.Kind, build func() *alert.Alert) (*alert.Alert, bool, error)
	ListAlerts(ctx context.Context, f Filter) ([]*alert.Alert, error)
}

// Pinger is implemented by backends that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Filter narrows list queries. Zero fields do not filter. Results are
// ordered newest first.
type Filter struct {
	Kind  string
	Actor string
	Since time.Time // inclusive
	Until time.Time // exclusive
	Limit int
}

func (f Filter) matches(actor, kind string, at time.Time) bool {
	if f.Kind != "" && f.Kind != kind {
		return false
	}
	if f.Actor != "" && f.Actor != actor {
		return false
	}
	if !f.Since.IsZero() && at.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !at.Before(f.Until) {
		return false
	}
	return true
}

// Clock returns the current instant. Stores stamp records with it.
type Clock func() time.Time

// Option configures a store backend.
type Option func(*options)

type options struct {
	clock Clock
}

// WithClock overrides time.Now for timestamp assignment.
func WithClock(c Clock) Option {
	return func(o *options) { o.clock = c }
}

func buildOptions(opts []Option) options {
	o := options{clock: time.Now}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

func (o options) now() time.Time {
	return o.clock().UTC()
}
