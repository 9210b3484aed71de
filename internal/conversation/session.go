// Package conversation keeps the per-user conversation context between turns.
package conversation

import "time"

// State is the step of the guided conversation a user is in.
type State string

const (
	// StateChoosing is the home state reached after every completed action.
	StateChoosing State = "CHOOSING"

	// StateAwaitingMeasurement waits for the free-text reading value.
	StateAwaitingMeasurement State = "AWAITING_MEASUREMENT"

	// StateAwaitingSpecificDate waits for a dd.mm.yyyy date.
	StateAwaitingSpecificDate State = "AWAITING_SPECIFIC_DATE"

	// StateAwaitingTimeOfDay waits for Morning or Evening.
	StateAwaitingTimeOfDay State = "AWAITING_TIME_OF_DAY"
)

// String implements fmt.Stringer.
func (s State) String() string {
	return string(s)
}

// Valid reports whether s is one of the known states.
func (s State) Valid() bool {
	switch s {
	case StateChoosing, StateAwaitingMeasurement, StateAwaitingSpecificDate, StateAwaitingTimeOfDay:
		return true
	}
	return false
}

// SessionContext is the scratch state carried between two turns of one user.
type SessionContext struct {
	State       State     `json:"state"`
	PendingDate time.Time `json:"pending_date"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewSessionContext returns a context at the home state with nothing pending.
func NewSessionContext() SessionContext {
	return SessionContext{State: StateChoosing}
}

// HasPendingDate reports whether a date has been chosen but not committed.
func (c SessionContext) HasPendingDate() bool {
	return !c.PendingDate.IsZero()
}
