package inverter

import (
	"context"
	"sync"
	"time"

	"github.com/voltvakt/voltvakt/pkg/types"
)

// ModeCall records one SetMode invocation on the mock.
type ModeCall struct {
	SystemID string
	Action   types.Action
	PowerKW  float64
}

// Mock is a stateful in-memory System for tests. It tracks the last applied
// mode and simulates SOC drift when told to.
type Mock struct {
	mu    sync.Mutex
	soc   types.BatterySOC
	flow  types.EnergyFlow
	calls []ModeCall

	flowErr error
	socErr  error
	modeErr error
}

// NewMock returns a mock with sane defaults: half-full battery, fresh
// telemetry, no load or production.
func NewMock(now time.Time) *Mock {
	return &Mock{
		soc:  types.BatterySOC{SOC: 50, Timestamp: now},
		flow: types.EnergyFlow{Timestamp: now},
	}
}

// SetSOC overrides the reported state of charge.
func (m *Mock) SetSOC(soc types.BatterySOC) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.soc = soc
}

// SetFlow overrides the reported energy flow.
func (m *Mock) SetFlow(flow types.EnergyFlow) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flow = flow
}

// SetErrors injects errors per operation; nil clears.
func (m *Mock) SetErrors(flowErr, socErr, modeErr error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flowErr, m.socErr, m.modeErr = flowErr, socErr, modeErr
}

// Calls returns every SetMode invocation so far.
func (m *Mock) Calls() []ModeCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ModeCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// LastCall returns the most recent SetMode invocation, if any.
func (m *Mock) LastCall() (ModeCall, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return ModeCall{}, false
	}
	return m.calls[len(m.calls)-1], true
}

// GetEnergyFlow implements System.
func (m *Mock) GetEnergyFlow(_ context.Context, _ string) (types.EnergyFlow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.flowErr != nil {
		return types.EnergyFlow{}, m.flowErr
	}
	return m.flow, nil
}

// GetBatterySOC implements System.
func (m *Mock) GetBatterySOC(_ context.Context, _ string) (types.BatterySOC, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.socErr != nil {
		return types.BatterySOC{}, m.socErr
	}
	return m.soc, nil
}

// SetMode implements System.
func (m *Mock) SetMode(_ context.Context, systemID string, action types.Action, powerKW float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.modeErr != nil {
		return m.modeErr
	}
	m.calls = append(m.calls, ModeCall{SystemID: systemID, Action: action, PowerKW: powerKW})
	return nil
}
