// Package report builds the dashboard summary from the stores.
package report

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/gyaneshwarpardhi/uebax/internal/alert"
	"github.com/gyaneshwarpardhi/uebax/internal/event"
	"github.com/gyaneshwarpardhi/uebax/internal/store"
)

// HourBucket is the number of logins that started in one local hour.
type HourBucket struct {
	Hour   int `json:"hour"`
	Logins int `json:"logins"`
}

// Connection is an actor's session state, derived from its latest LOGIN and
// LOGOUT. An actor is connected when its latest login is newer than its
// latest logout.
type Connection struct {
	Actor      string     `json:"actor"`
	Connected  bool       `json:"connected"`
	LastLogin  *time.Time `json:"last_login,omitempty"`
	LastLogout *time.Time `json:"last_logout,omitempty"`
}

// Summary is a snapshot for the dashboard. "Today" is the calendar day in
// the configured timezone.
type Summary struct {
	Day          string         `json:"day"`
	LoginsToday  int            `json:"logins_today"`
	AlertsTotal  int            `json:"alerts_total"`
	AlertsToday  int            `json:"alerts_today"`
	LastEvent    *event.Event   `json:"last_event"`
	Connected    int            `json:"connected"`
	Connections  []Connection   `json:"connections"`
	LoginsByHour []HourBucket   `json:"logins_by_hour"`
	RecentAlerts []*alert.Alert `json:"recent_alerts"`
	GeneratedAt  time.Time      `json:"generated_at"`
}

// Reporter reads the stores. It never writes.
type Reporter struct {
	events store.EventStore
	alerts store.AlertStore
	loc    atomic.Pointer[time.Location]
	now    func() time.Time
	recent int
}

// New creates a Reporter for the business timezone loc.
func New(events store.EventStore, alerts store.AlertStore, loc *time.Location) *Reporter {
	r := &Reporter{events: events, alerts: alerts, now: time.Now, recent: 3}
	r.SetLocation(loc)
	return r
}

// SetLocation changes the timezone "today" is judged in (used on reload).
func (r *Reporter) SetLocation(loc *time.Location) {
	if loc == nil {
		loc = time.UTC
	}
	r.loc.Store(loc)
}

// Location returns the current business timezone.
func (r *Reporter) Location() *time.Location { return r.loc.Load() }

// Summary computes the dashboard numbers as of now.
func (r *Reporter) Summary(ctx context.Context) (*Summary, error) {
	loc := r.Location()
	now := r.now().In(loc)
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	dayEnd := dayStart.AddDate(0, 0, 1)
	today := store.Filter{Since: dayStart, Until: dayEnd}

	loginFilter := today
	loginFilter.Kind = string(event.KindLogin)
	logins, err := r.events.ListEvents(ctx, loginFilter)
	if err != nil {
		return nil, fmt.Errorf("list today's logins: %w", err)
	}

	buckets := make([]HourBucket, 24)
	for h := range buckets {
		buckets[h].Hour = h
	}
	for _, ev := range logins {
		buckets[ev.OccurredAt.In(loc).Hour()].Logins++
	}

	all, err := r.alerts.ListAlerts(ctx, store.Filter{})
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	alertsToday := 0
	for _, a := range all {
		if !a.OccurredAt.Before(dayStart) && a.OccurredAt.Before(dayEnd) {
			alertsToday++
		}
	}
	recent := all
	if len(recent) > r.recent {
		recent = recent[:r.recent]
	}

	last, err := r.events.ListEvents(ctx, store.Filter{Limit: 1})
	if err != nil {
		return nil, fmt.Errorf("last event: %w", err)
	}

	conns, err := r.connections(ctx)
	if err != nil {
		return nil, err
	}

	s := &Summary{
		Day:          dayStart.Format(time.DateOnly),
		LoginsToday:  len(logins),
		AlertsTotal:  len(all),
		AlertsToday:  alertsToday,
		LoginsByHour: buckets,
		RecentAlerts: recent,
		Connections:  conns,
		GeneratedAt:  now,
	}
	if len(last) > 0 {
		s.LastEvent = last[0]
	}
	for _, c := range conns {
		if c.Connected {
			s.Connected++
		}
	}
	return s, nil
}

// connections returns every actor that ever logged in or out, by name.
func (r *Reporter) connections(ctx context.Context) ([]Connection, error) {
	byActor := make(map[string]*Connection)
	get := func(actor string) *Connection {
		c, ok := byActor[actor]
		if !ok {
			c = &Connection{Actor: actor}
			byActor[actor] = c
		}
		return c
	}

	for _, kind := range []event.Kind{event.KindLogin, event.KindLogout} {
		evs, err := r.events.ListEvents(ctx, store.Filter{Kind: string(kind)})
		if err != nil {
			return nil, fmt.Errorf("list %s events: %w", kind, err)
		}
		// Newest first: the first event seen per actor is its latest.
		for _, ev := range evs {
			c := get(ev.Actor)
			at := ev.OccurredAt
			if kind == event.KindLogin && c.LastLogin == nil {
				c.LastLogin = &at
			}
			if kind == event.KindLogout && c.LastLogout == nil {
				c.LastLogout = &at
			}
		}
	}

	out := make([]Connection, 0, len(byActor))
	for _, c := range byActor {
		c.Connected = c.LastLogin != nil && (c.LastLogout == nil || c.LastLogin.After(*c.LastLogout))
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Actor < out[j].Actor })
	return out, nil
}
