package types

import "time"

// SessionStatus tracks the lifecycle of a session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionAborted   SessionStatus = "aborted"
)

// Session is a maximal run of consecutive intervals in the same action for
// one system. At most one session is active per system at any time.
type Session struct {
	ID       string        `json:"id"`
	SystemID string        `json:"systemID"`
	Action   Action        `json:"action"`
	Status   SessionStatus `json:"status"`

	StartedAt time.Time `json:"startedAt"`
	// EndedAt is zero while the session is active.
	EndedAt time.Time `json:"endedAt,omitzero"`

	StartSOC float64 `json:"startSOC"`
	EndSOC   float64 `json:"endSOC"`

	// PowerKW is the power of the most recent interval in the session.
	PowerKW float64 `json:"powerKW"`

	// AvgPrice is the energy-weighted mean price over the session's
	// intervals. For zero-energy sessions (idle) it degrades to a plain
	// mean.
	AvgPrice float64 `json:"avgPrice"`

	// EnergyKWH is the total energy moved during the session.
	EnergyKWH float64 `json:"energyKWH"`

	// Intervals counts the member intervals.
	Intervals int `json:"intervals"`

	DecisionContext map[string]string `json:"decisionContext,omitempty"`
}

// Active reports whether the session is still open.
func (s *Session) Active() bool { return s.Status == SessionActive }

// Duration returns the session length, using now for active sessions.
func (s *Session) Duration(now time.Time) time.Duration {
	if s.Status == SessionActive || s.EndedAt.IsZero() {
		return now.Sub(s.StartedAt)
	}
	return s.EndedAt.Sub(s.StartedAt)
}
