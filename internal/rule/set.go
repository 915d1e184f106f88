package rule

import (
	"context"
	"fmt"

	"github.com/gyaneshwarpardhi/uebax/internal/alert"
	"github.com/gyaneshwarpardhi/uebax/internal/event"
)

// Sink is where intents become alerts.
type Sink interface {
	Create(ctx context.Context, a *alert.Alert) (*alert.Alert, error)
	CreateIfAbsent(ctx context.Context, actor string, kind alert.Kind, build func() *alert.Alert) (*alert.Alert, bool, error)
}

// Set is an ordered, immutable list of rules. A new rule is added by
// building a new Set; nothing else changes.
type Set struct {
	rules []Rule
}

// NewSet returns a Set evaluating rules in the given order.
func NewSet(rules ...Rule) *Set {
	return &Set{rules: append([]Rule(nil), rules...)}
}

// With returns a copy of s with r appended.
func (s *Set) With(r Rule) *Set {
	return NewSet(append(s.Rules(), r)...)
}

// Rules returns the rules in evaluation order.
func (s *Set) Rules() []Rule {
	return append([]Rule(nil), s.rules...)
}

func (s *Set) Len() int { return len(s.rules) }

// Firing is one rule that produced an intent.
type Firing struct {
	Rule    string       `json:"rule"`
	Alert   *alert.Alert `json:"alert"`
	Created bool         `json:"created"` // false when a latched alert already existed
}

// Outcome is the result of one pass over the set.
type Outcome struct {
	Firings []Firing
	Errors  []error // *Error values
}

// Created returns the alerts written during the pass.
func (o *Outcome) Created() []*alert.Alert {
	out := make([]*alert.Alert, 0, len(o.Firings))
	for _, f := range o.Firings {
		if f.Created {
			out = append(out, f.Alert)
		}
	}
	return out
}

// Evaluate runs every rule against ev in order. A failing or panicking rule
// is recorded in Outcome.Errors and the pass continues with the next rule.
func (s *Set) Evaluate(ctx context.Context, ev *event.Event, w Window, sink Sink) *Outcome {
	out := &Outcome{}
	for _, r := range s.rules {
		f, err := evaluateOne(ctx, r, ev, w, sink)
		if err != nil {
			out.Errors = append(out.Errors, err)
			continue
		}
		if f != nil {
			out.Firings = append(out.Firings, *f)
		}
	}
	return out
}

func evaluateOne(ctx context.Context, r Rule, ev *event.Event, w Window, sink Sink) (f *Firing, err error) {
	id := r.Info().ID
	defer func() {
		if p := recover(); p != nil {
			f, err = nil, &Error{Rule: id, Op: OpEvaluate, Err: fmt.Errorf("panic: %v", p)}
		}
	}()

	intent, err := r.Evaluate(ctx, ev, w)
	if err != nil {
		return nil, &Error{Rule: id, Op: OpEvaluate, Err: err}
	}
	if intent == nil {
		return nil, nil
	}

	a, created, err := persist(ctx, sink, ev, intent)
	if err != nil {
		return nil, &Error{Rule: id, Op: OpPersist, Err: err}
	}
	return &Firing{Rule: id, Alert: a, Created: created}, nil
}

func persist(ctx context.Context, sink Sink, ev *event.Event, in *Intent) (*alert.Alert, bool, error) {
	if in.Dedup {
		return sink.CreateIfAbsent(ctx, ev.Actor, in.Kind, func() *alert.Alert {
			return &alert.Alert{Actor: ev.Actor, Kind: in.Kind, Detail: in.Detail}
		})
	}
	a, err := sink.Create(ctx, &alert.Alert{Actor: ev.Actor, Kind: in.Kind, Detail: in.Detail})
	return a, err == nil, err
}
