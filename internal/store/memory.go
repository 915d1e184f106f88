package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gyaneshwarpardhi/uebax/internal/alert"
	"github.com/gyaneshwarpardhi/uebax/internal/event"
)

// Memory keeps events and alerts in process. It implements both EventStore
// and AlertStore and is safe for concurrent use.
type Memory struct {
	opts options

	mu      sync.RWMutex
	events  []*event.Event
	byID    map[string]*event.Event
	alerts  []*alert.Alert
	latches map[latchKey]*alert.Alert
}

type latchKey struct {
	actor string
	kind  alert.Kind
}

// NewMemory creates an empty in-memory store.
func NewMemory(opts ...Option) *Memory {
	return &Memory{
		opts:    buildOptions(opts),
		byID:    make(map[string]*event.Event),
		latches: make(map[latchKey]*alert.Alert),
	}
}

func (m *Memory) Append(ctx context.Context, ev *event.Event) (*event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: append event: %w", ErrUnavailable, err)
	}
	stored := *ev
	stored.ID = uuid.New().String()
	stored.OccurredAt = m.opts.now()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, &stored)
	m.byID[stored.ID] = &stored
	out := stored
	return &out, nil
}

func (m *Memory) CountSince(ctx context.Context, actor string, kind event.Kind, since time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: count events: %w", ErrUnavailable, err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, ev := range m.events {
		if ev.Actor == actor && ev.Kind == kind && !ev.OccurredAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *Memory) GetEvent(_ context.Context, id string) (*event.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ev, ok := m.byID[id]
	if !ok {
		return nil, fmt.Errorf("event %s: %w", id, ErrNotFound)
	}
	out := *ev
	return &out, nil
}

func (m *Memory) ListEvents(_ context.Context, f Filter) ([]*event.Event, error) {
	m.mu.RLock()
	out := make([]*event.Event, 0)
	for _, ev := range m.events {
		if f.matches(ev.Actor, string(ev.Kind), ev.OccurredAt) {
			cp := *ev
			out = append(out, &cp)
		}
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].OccurredAt.After(out[j].OccurredAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *Memory) Create(ctx context.Context, a *alert.Alert) (*alert.Alert, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: create alert: %w", ErrUnavailable, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertAlertLocked(a), nil
}

func (m *Memory) CreateIfAbsent(ctx context.Context, actor string, kind alert.Kind, build func() *alert.Alert) (*alert.Alert, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, fmt.Errorf("%w: create alert: %w", ErrUnavailable, err)
	}
	key := latchKey{actor: actor, kind: kind}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.latches[key]; ok {
		out := *existing
		return &out, false, nil
	}
	a := build()
	a.Actor, a.Kind = actor, kind
	stored := m.insertAlertLocked(a)
	m.latches[key] = m.alerts[len(m.alerts)-1]
	return stored, true, nil
}

func (m *Memory) insertAlertLocked(a *alert.Alert) *alert.Alert {
	stored := *a
	stored.ID = uuid.New().String()
	stored.OccurredAt = m.opts.now()
	m.alerts = append(m.alerts, &stored)
	out := stored
	return &out
}

func (m *Memory) ListAlerts(_ context.Context, f Filter) ([]*alert.Alert, error) {
	m.mu.RLock()
	out := make([]*alert.Alert, 0)
	for _, a := range m.alerts {
		if f.matches(a.Actor, string(a.Kind), a.OccurredAt) {
			cp := *a
			out = append(out, &cp)
		}
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].OccurredAt.After(out[j].OccurredAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *Memory) Ping(context.Context) error { return nil }
