package alert

import (
	"fmt"
	"strings"
	"time"
)

// Kind identifies the policy an alert reports a violation of.
type Kind string

const (
	// KindAccessDenied is not produced by the shipped rules; config-defined
	// expression rules may emit it.
	KindAccessDenied          Kind = "ACCESS_DENIED"
	KindOffHoursAccess        Kind = "OFF_HOURS_ACCESS"
	KindMultipleLoginFailures Kind = "MULTIPLE_LOGIN_FAILURES"
)

// Kinds lists every recognised kind.
var Kinds = []Kind{KindAccessDenied, KindOffHoursAccess, KindMultipleLoginFailures}

// ParseKind maps s (case-insensitive) to a known Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Kinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown alert kind %q", s)
}

// Alert is a derived fact written when a rule fires. ID and OccurredAt are
// assigned by the alert store.
type Alert struct {
	ID         string    `json:"id"`
	Actor      string    `json:"actor"`
	Kind       Kind      `json:"kind"`
	OccurredAt time.Time `json:"occurred_at"`
	Detail     string    `json:"detail"`
}
