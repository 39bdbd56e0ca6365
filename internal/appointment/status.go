package appointment

import (
	"errors"
	"fmt"
	"strings"
)

// Status is the canonical appointment state. Text forms exist only at the
// JSON and SQL boundaries.
type Status uint8

const (
	StatusScheduled Status = iota + 1
	StatusPendingApproval
	StatusCompleted
	StatusCancelled
	StatusNoShow
)

var ErrUnknownStatus = errors.New("unknown appointment status")

var statusNames = map[Status]string{
	StatusScheduled:       "Scheduled",
	StatusPendingApproval: "PendingApproval",
	StatusCompleted:       "Completed",
	StatusCancelled:       "Cancelled",
	StatusNoShow:          "NoShow",
}

// keys are lower-cased
var statusSynonyms = map[string]Status{
	"scheduled":        StatusScheduled,
	"confirmed":        StatusScheduled,
	"pendingapproval":  StatusPendingApproval,
	"pending approval": StatusPendingApproval,
	"pending_approval": StatusPendingApproval,
	"completed":        StatusCompleted,
	"cancelled":        StatusCancelled,
	"noshow":           StatusNoShow,
	"no show":          StatusNoShow,
	"no_show":          StatusNoShow,
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

func (s Status) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

// Blocking reports whether an appointment in this status occupies its
// patient, doctor and room for conflict purposes.
func (s Status) Blocking() bool {
	switch s {
	case StatusCancelled, StatusCompleted, StatusNoShow:
		return false
	}
	return s.Valid()
}

// Terminal statuses have no outgoing transitions.
func (s Status) Terminal() bool {
	return !s.Blocking()
}

func NonBlockingStatuses() []Status {
	return []Status{StatusCancelled, StatusCompleted, StatusNoShow}
}

// ParseStatus resolves a canonical name or a legacy synonym, ignoring case
// and surrounding whitespace.
func ParseStatus(text string) (Status, error) {
	key := strings.ToLower(strings.TrimSpace(text))
	key = strings.Join(strings.Fields(key), " ")
	if s, ok := statusSynonyms[key]; ok {
		return s, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownStatus, text)
}

// ParseStatusOrDefault keeps the historical lenient behaviour for bulk
// imports of legacy rows: unrecognised text maps to def.
func ParseStatusOrDefault(text string, def Status) Status {
	s, err := ParseStatus(text)
	if err != nil {
		return def
	}
	return s
}

func (s Status) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownStatus, uint8(s))
	}
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	parsed, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

var transitions = map[Status][]Status{
	StatusPendingApproval: {StatusScheduled, StatusCancelled},
	StatusScheduled:       {StatusCompleted, StatusCancelled, StatusNoShow},
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
