package types

import (
	"encoding/json"
	"fmt"
)

// Action represents an instruction issued to the inverter for one quarter.
// The textual values are stable: they are the wire format used by the ledger
// and the inverter adapter. Readers reject anything else.
type Action string

const (
	ActionCharge          Action = "charge"
	ActionDischarge       Action = "discharge"
	ActionIdle            Action = "idle"
	ActionSelfConsume     Action = "selfConsumption"
	ActionSelfConsumeGrid Action = "selfConsumption - grid"
)

// Actions lists every known action in a stable order.
func Actions() []Action {
	return []Action{
		ActionCharge,
		ActionDischarge,
		ActionIdle,
		ActionSelfConsume,
		ActionSelfConsumeGrid,
	}
}

// ParseAction converts a textual mode into an Action.
// Unknown values are an error, never silently coerced.
func ParseAction(s string) (Action, error) {
	a := Action(s)
	if !a.Valid() {
		return "", fmt.Errorf("unknown action: %q", s)
	}
	return a, nil
}

// Valid reports whether the action is a known enum value.
func (a Action) Valid() bool {
	switch a {
	case ActionCharge, ActionDischarge, ActionIdle, ActionSelfConsume, ActionSelfConsumeGrid:
		return true
	}
	return false
}

// Sign returns the cash-flow sign of the action: charging is a negative cash
// flow, discharging positive relative to the grid price. Idle and the
// self-consumption variants settle no energy against the ledger.
func (a Action) Sign() float64 {
	switch a {
	case ActionCharge:
		return -1
	case ActionDischarge:
		return 1
	}
	return 0
}

// Discharging reports whether the action draws from the battery. The
// self-consumption variants count as discharging for schedule summaries.
func (a Action) Discharging() bool {
	switch a {
	case ActionDischarge, ActionSelfConsume, ActionSelfConsumeGrid:
		return true
	}
	return false
}

// MarshalJSON encodes the action using its fixed textual mapping.
func (a Action) MarshalJSON() ([]byte, error) {
	if !a.Valid() {
		return nil, fmt.Errorf("cannot marshal unknown action: %q", string(a))
	}
	return json.Marshal(string(a))
}

// UnmarshalJSON decodes an action and rejects unknown values.
func (a *Action) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseAction(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Confidence expresses how sure the decision maker is about an action.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// Priority names the concern a decision optimizes for.
type Priority string

const (
	PrioritySolar         Priority = "solar"
	PriorityLoadBalancing Priority = "load_balancing"
	PriorityGrid          Priority = "grid"
)

// Decision is the result of the decision logic for a single quarter.
type Decision struct {
	Action     Action     `json:"action"`
	PowerKW    float64    `json:"powerKW"`
	Confidence Confidence `json:"confidence"`
	Reason     string     `json:"reason"`
	Priority   Priority   `json:"priority,omitempty"`

	// Rule names the decision rule that fired, recorded as a
	// decision factor on the persisted interval.
	Rule string `json:"rule,omitempty"`
}
