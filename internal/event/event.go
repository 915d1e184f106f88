package event

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind identifies what an actor did.
type Kind string

const (
	KindLogin        Kind = "LOGIN"
	KindLogout       Kind = "LOGOUT"
	KindFileAccess   Kind = "FILE_ACCESS"
	KindLoginFailure Kind = "LOGIN_FAILURE"
)

// Kinds lists every recognised kind.
var Kinds = []Kind{KindLogin, KindLogout, KindFileAccess, KindLoginFailure}

// ErrInvalidKind is returned for an unrecognised event kind.
var ErrInvalidKind = errors.New("invalid event kind")

// ParseKind maps s (case-insensitive) to a known Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToUpper(strings.TrimSpace(s)))
	if k.Valid() {
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidKind, s)
}

// Valid reports whether k is one of Kinds.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Event is an immutable record of actor activity. ID and OccurredAt are
// assigned by the event store on append.
type Event struct {
	ID         string    `json:"id"`
	Actor      string    `json:"actor"`
	Kind       Kind      `json:"kind"`
	OccurredAt time.Time `json:"occurred_at"`
	Detail     string    `json:"detail,omitempty"`
}
