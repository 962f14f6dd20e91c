package prices

import (
	"context"
	"sync"
	"time"

	"github.com/voltvakt/voltvakt/pkg/types"
)

// Mock is an in-memory Provider for tests.
type Mock struct {
	mu     sync.Mutex
	days   map[string][]types.PricePoint
	err    error
	calls  int
	format string
}

// NewMock returns an empty mock provider.
func NewMock() *Mock {
	return &Mock{days: map[string][]types.PricePoint{}, format: "2006-01-02"}
}

// SetDay installs a curve for the calendar day containing date (UTC keyed).
func (m *Mock) SetDay(date time.Time, points []types.PricePoint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.days[date.Format(m.format)] = points
}

// SetErr makes every DayCurve call fail with err.
func (m *Mock) SetErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls reports how many times DayCurve was invoked.
func (m *Mock) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// DayCurve implements Provider.
func (m *Mock) DayCurve(_ context.Context, date time.Time) ([]types.PricePoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	pts, ok := m.days[date.Format(m.format)]
	if !ok {
		return nil, ErrNotPublished
	}
	return pts, nil
}
