package rule

import (
	"context"
	"fmt"
	"time"

	"github.com/gyaneshwarpardhi/uebax/internal/alert"
	"github.com/gyaneshwarpardhi/uebax/internal/condition"
	"github.com/gyaneshwarpardhi/uebax/internal/config"
	"github.com/gyaneshwarpardhi/uebax/internal/event"
)

// eventFields are the paths an expression may reference.
var eventFields = map[string]bool{
	"event.id":      true,
	"event.actor":   true,
	"event.kind":    true,
	"event.detail":  true,
	"event.hour":    true,
	"event.weekday": true,
}

// Expression is a config-defined rule: when the event kind is listed and
// the condition holds, it asks for an alert of the configured kind.
type Expression struct {
	ID       string
	Desc     string
	Kinds    map[event.Kind]struct{}
	Expr     condition.Expr
	Alert    alert.Kind
	Dedup    bool
	Location *time.Location
}

func (r *Expression) Info() Info {
	return Info{ID: r.ID, Type: config.RuleTypeExpression, Description: r.Desc}
}

func (r *Expression) Evaluate(_ context.Context, ev *event.Event, _ Window) (*Intent, error) {
	if _, ok := r.Kinds[ev.Kind]; !ok {
		return nil, nil
	}
	ok, err := condition.Evaluate(r.Expr, eventContext{ev: ev, loc: r.Location})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	detail := r.Desc
	if detail == "" {
		detail = "matched rule " + r.ID
	}
	if ev.Detail != "" {
		detail += ": " + ev.Detail
	}
	return &Intent{Kind: r.Alert, Detail: detail, Dedup: r.Dedup}, nil
}

// eventContext exposes an event to condition.Evaluate.
type eventContext struct {
	ev  *event.Event
	loc *time.Location
}

func (c eventContext) Resolve(path []string) (interface{}, bool) {
	if len(path) != 2 || path[0] != "event" {
		return nil, false
	}
	local := c.ev.OccurredAt
	if c.loc != nil {
		local = local.In(c.loc)
	}
	switch path[1] {
	case "id":
		return c.ev.ID, true
	case "actor":
		return c.ev.Actor, true
	case "kind":
		return string(c.ev.Kind), true
	case "detail":
		return c.ev.Detail, true
	case "hour":
		return local.Hour(), true
	case "weekday":
		return local.Weekday().String(), true
	}
	return nil, false
}

func newExpression(def config.RuleDef, env Env) (Rule, error) {
	ast, err := condition.Parse(def.Expression)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", def.Expression, err)
	}
	for _, f := range condition.Fields(ast) {
		if !eventFields[f] {
			return nil, fmt.Errorf("unknown field %q", f)
		}
	}
	ak, err := alert.ParseKind(def.Alert)
	if err != nil {
		return nil, err
	}
	kinds := make(map[event.Kind]struct{}, len(def.EventKinds))
	for _, s := range def.EventKinds {
		k, err := event.ParseKind(s)
		if err != nil {
			return nil, err
		}
		kinds[k] = struct{}{}
	}
	if len(kinds) == 0 {
		return nil, fmt.Errorf("event_kinds must not be empty")
	}
	return &Expression{
		ID:       def.ID,
		Desc:     def.Description,
		Kinds:    kinds,
		Expr:     ast,
		Alert:    ak,
		Dedup:    def.Dedup,
		Location: env.Location,
	}, nil
}
