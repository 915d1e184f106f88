// Package rule holds the policy checks run against every recorded event.
//
// A Rule is stateless: anything it needs beyond the event itself is
// re-derived from the event store through a Window on each call, so the
// engine keeps no counters in memory and can be restarted or replicated
// freely.
package rule

import (
	"context"
	"fmt"
	"time"

	"github.com/gyaneshwarpardhi/uebax/internal/alert"
	"github.com/gyaneshwarpardhi/uebax/internal/event"
)

// Rule inspects one freshly persisted event.
type Rule interface {
	Info() Info
	// Evaluate returns an Intent when ev violates the policy, or nil.
	Evaluate(ctx context.Context, ev *event.Event, w Window) (*Intent, error)
}

// Info describes a rule for listings.
type Info struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// Intent asks for an alert to be written. Dedup selects create-if-absent
// keyed by (actor, Kind) instead of an unconditional create.
type Intent struct {
	Kind   alert.Kind
	Detail string
	Dedup  bool
}

// Window is the look-back query rules may run over committed events. It
// exposes events only, so a rule never observes alerts written by a sibling
// rule in the same pass.
type Window interface {
	CountSince(ctx context.Context, actor string, kind event.Kind, since time.Time) (int, error)
}

// Op names the stage a rule failed in.
type Op string

const (
	OpEvaluate Op = "evaluate"
	OpPersist  Op = "persist"
)

// Error is a non-fatal failure of one rule during a pass.
type Error struct {
	Rule string
	Op   Op
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("rule %s: %s: %v", e.Rule, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
