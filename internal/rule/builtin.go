package rule

import (
	"context"
	"fmt"
	"time"

	"github.com/gyaneshwarpardhi/uebax/internal/alert"
	"github.com/gyaneshwarpardhi/uebax/internal/config"
	"github.com/gyaneshwarpardhi/uebax/internal/event"
)

// OffHoursLogin flags logins whose local hour is before Start or after End.
// End is inclusive of its whole hour: with End 18 a 18:59 login passes and
// 19:00 is flagged. Every qualifying login gets its own alert.
type OffHoursLogin struct {
	ID       string
	Start    int
	End      int
	Location *time.Location
	Desc     string
}

func (r *OffHoursLogin) Info() Info {
	return Info{ID: r.ID, Type: config.RuleTypeOffHoursLogin, Description: r.Desc}
}

func (r *OffHoursLogin) Evaluate(_ context.Context, ev *event.Event, _ Window) (*Intent, error) {
	if ev.Kind != event.KindLogin {
		return nil, nil
	}
	loc := r.Location
	if loc == nil {
		return nil, fmt.Errorf("no business-hours timezone configured")
	}
	hour := ev.OccurredAt.In(loc).Hour()
	if hour >= r.Start && hour <= r.End {
		return nil, nil
	}
	return &Intent{
		Kind:   alert.KindOffHoursAccess,
		Detail: fmt.Sprintf("login outside business hours at hour %d", hour),
	}, nil
}

// BruteForceLogin counts the actor's login failures in the trailing Window
// ending at the triggering failure, which is already stored and therefore
// counted. At Threshold it latches one MULTIPLE_LOGIN_FAILURES alert per
// actor; the latch is never released here.
type BruteForceLogin struct {
	ID        string
	Threshold int
	Window    time.Duration
	Desc      string
}

func (r *BruteForceLogin) Info() Info {
	return Info{ID: r.ID, Type: config.RuleTypeBruteForceLogin, Description: r.Desc}
}

func (r *BruteForceLogin) Evaluate(ctx context.Context, ev *event.Event, w Window) (*Intent, error) {
	if ev.Kind != event.KindLoginFailure {
		return nil, nil
	}
	since := ev.OccurredAt.Add(-r.Window)
	n, err := w.CountSince(ctx, ev.Actor, event.KindLoginFailure, since)
	if err != nil {
		return nil, fmt.Errorf("count login failures: %w", err)
	}
	if n < r.Threshold {
		return nil, nil
	}
	return &Intent{
		Kind:   alert.KindMultipleLoginFailures,
		Detail: fmt.Sprintf("%d failures in %s", n, humanDuration(r.Window)),
		Dedup:  true,
	}, nil
}

// humanDuration renders whole minutes as "10 minutes".
func humanDuration(d time.Duration) string {
	if d%time.Minute != 0 {
		return d.String()
	}
	if m := int(d / time.Minute); m != 1 {
		return fmt.Sprintf("%d minutes", m)
	}
	return "1 minute"
}
