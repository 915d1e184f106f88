// Package recorder is the single entry point producers call to record user
// activity. Every event is made durable first and then driven synchronously
// through the active rule set before Record returns.
//
// No ordering is enforced between concurrent calls for the same actor: two
// racing LOGIN_FAILURE records may each observe the other or neither, so the
// brute-force count can be off by one near the threshold.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gyaneshwarpardhi/uebax/internal/alert"
	"github.com/gyaneshwarpardhi/uebax/internal/config"
	"github.com/gyaneshwarpardhi/uebax/internal/event"
	"github.com/gyaneshwarpardhi/uebax/internal/metrics"
	"github.com/gyaneshwarpardhi/uebax/internal/rule"
	"github.com/gyaneshwarpardhi/uebax/internal/store"
)

// ErrBatchTooLarge is returned by RecordBatch above engine.max_batch.
var ErrBatchTooLarge = errors.New("batch too large")

// Result is the outcome of recording one event.
type Result struct {
	Event   *event.Event
	Firings []rule.Firing
	// Warnings holds non-fatal *rule.Error values. The event stays recorded
	// whatever they contain.
	Warnings []error
}

// Alerts returns the alerts created for the event.
func (r *Result) Alerts() []*alert.Alert {
	return (&rule.Outcome{Firings: r.Firings}).Created()
}

// Recorder persists events and evaluates rules against them.
type Recorder struct {
	rules  atomic.Pointer[rule.Set]
	events store.EventStore
	alerts store.AlertStore
	conf   config.EngineConf
	log    *slog.Logger
}

// New creates a Recorder. set may be swapped later with SwapRules.
func New(events store.EventStore, alerts store.AlertStore, set *rule.Set, conf config.EngineConf) *Recorder {
	r := &Recorder{
		events: events,
		alerts: alerts,
		conf:   conf,
		log:    slog.Default().With("component", "recorder"),
	}
	r.SwapRules(set)
	return r
}

// SwapRules atomically replaces the rule set (used on hot-reload). Calls
// already evaluating finish with the set they started with.
func (r *Recorder) SwapRules(s *rule.Set) {
	if s == nil {
		s = rule.NewSet()
	}
	r.rules.Store(s)
	metrics.RulesActive.Set(float64(s.Len()))
}

// Rules returns the active rule set.
func (r *Recorder) Rules() *rule.Set {
	return r.rules.Load()
}

// Record persists a new event and runs every rule against it. It fails only
// when kind is unknown (event.ErrInvalidKind, nothing stored) or the event
// cannot be stored (store.ErrUnavailable, no rule runs). Rule and alert
// failures are returned as Result.Warnings.
func (r *Recorder) Record(ctx context.Context, actor string, kind event.Kind, detail string) (*Result, error) {
	if !kind.Valid() {
		metrics.EventsRejected.WithLabelValues("invalid_kind").Inc()
		return nil, fmt.Errorf("%w: %q", event.ErrInvalidKind, kind)
	}

	start := time.Now()
	ev, err := r.events.Append(ctx, &event.Event{Actor: actor, Kind: kind, Detail: detail})
	if err != nil {
		metrics.EventsRejected.WithLabelValues("store").Inc()
		return nil, fmt.Errorf("record %s event: %w", kind, err)
	}
	metrics.EventsRecorded.WithLabelValues(string(kind)).Inc()

	res := r.evaluate(ctx, ev)
	metrics.RecordDuration.Observe(time.Since(start).Seconds())
	return res, nil
}

// Replay runs the current rule set again over a stored event. Latched alerts
// are not duplicated; plain alerts such as OFF_HOURS_ACCESS are.
func (r *Recorder) Replay(ctx context.Context, eventID string) (*Result, error) {
	ev, err := r.events.GetEvent(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("replay %s: %w", eventID, err)
	}
	return r.evaluate(ctx, ev), nil
}

func (r *Recorder) evaluate(ctx context.Context, ev *event.Event) *Result {
	out := r.rules.Load().Evaluate(ctx, ev, r.events, r.alerts)

	for _, f := range out.Firings {
		if f.Created {
			metrics.AlertsCreated.WithLabelValues(string(f.Alert.Kind)).Inc()
			r.log.Info("alert created",
				"rule", f.Rule, "alert_id", f.Alert.ID, "kind", f.Alert.Kind,
				"actor", ev.Actor, "event_id", ev.ID, "detail", f.Alert.Detail)
			continue
		}
		metrics.AlertsDeduplicated.WithLabelValues(string(f.Alert.Kind)).Inc()
		r.log.Debug("alert already latched", "rule", f.Rule, "alert_id", f.Alert.ID, "actor", ev.Actor)
	}
	for _, err := range out.Errors {
		var re *rule.Error
		if errors.As(err, &re) {
			metrics.RuleFailures.WithLabelValues(re.Rule, string(re.Op)).Inc()
		}
		r.log.Warn("rule failed; event kept", "event_id", ev.ID, "actor", ev.Actor, "kind", ev.Kind, "err", err)
	}

	return &Result{Event: ev, Firings: out.Firings, Warnings: out.Errors}
}
