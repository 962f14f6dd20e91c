package planner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voltvakt/voltvakt/pkg/prices"
	"github.com/voltvakt/voltvakt/pkg/types"
)

func testSettings() *types.Settings {
	s := types.DefaultSettings()
	s.SystemID = "sys-1"
	s.BatteryCapacityKWH = 10
	// Evening peaks in the test curves sit around 0.9 SEK/kWh.
	s.GridDischargeThresholdSEK = 0.60
	return &s
}

func hourlyCurve(start time.Time, hourly []float64) []types.PricePoint {
	pts := make([]types.PricePoint, len(hourly))
	for i, v := range hourly {
		pts[i] = types.PricePoint{
			TSStart:   start.Add(time.Duration(i) * time.Hour),
			TSEnd:     start.Add(time.Duration(i+1) * time.Hour),
			SEKPerKWH: v,
		}
	}
	return prices.UpsampleQuarters(pts)
}

func TestGenerateDaySchedule(t *testing.T) {
	start := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	day := []float64{
		0.30, 0.28, 0.25, 0.23, 0.22, 0.25, 0.35, 0.45,
		0.55, 0.60, 0.65, 0.70, 0.65, 0.60, 0.55, 0.50,
		0.55, 0.75, 0.85, 0.90, 0.80, 0.65, 0.45, 0.35,
	}

	t.Run("typical day charges and discharges", func(t *testing.T) {
		sched, err := GenerateDaySchedule(testSettings(), hourlyCurve(start, day), 50, nil, nil)
		require.NoError(t, err)

		sum := sched.Summary
		assert.Equal(t, 96, sum.TotalIntervals)
		assert.Greater(t, sum.ChargeIntervals, 0)
		assert.Greater(t, sum.DischargeIntervals, 0)
		assert.Equal(t, 96, sum.ChargeIntervals+sum.DischargeIntervals+sum.IdleIntervals)
		assert.Len(t, sched.Slots, 96)
		assert.Greater(t, sum.EstimatedEarnings, 0.0)
	})

	t.Run("soc stays within limits", func(t *testing.T) {
		s := testSettings()
		sched, err := GenerateDaySchedule(s, hourlyCurve(start, day), 50, nil, nil)
		require.NoError(t, err)
		for _, slot := range sched.Slots {
			assert.GreaterOrEqual(t, slot.SOCStart, 0.0)
			assert.LessOrEqual(t, slot.SOCStart, 100.0)
			if slot.SOCStart < s.MinSOC {
				assert.NotEqual(t, types.ActionDischarge, slot.Decision.Action)
			}
			if slot.SOCStart > s.MaxSOC {
				assert.NotEqual(t, types.ActionCharge, slot.Decision.Action)
			}
		}
	})

	t.Run("constant prices make no trades", func(t *testing.T) {
		flat := make([]float64, 24)
		for i := range flat {
			flat[i] = 0.50
		}
		sched, err := GenerateDaySchedule(testSettings(), hourlyCurve(start, flat), 50, nil, nil)
		require.NoError(t, err)
		assert.Equal(t, 96, sched.Summary.IdleIntervals)
		assert.Equal(t, 50.0, sched.EndSOC)
	})

	t.Run("empty curve errors", func(t *testing.T) {
		_, err := GenerateDaySchedule(testSettings(), nil, 50, nil, nil)
		assert.Error(t, err)
	})

	t.Run("solar forecast drives charging", func(t *testing.T) {
		flat := make([]float64, 24)
		for i := range flat {
			flat[i] = 0.50
		}
		solar := make([]float64, 96)
		for i := 40; i < 56; i++ {
			solar[i] = 4.0
		}
		sched, err := GenerateDaySchedule(testSettings(), hourlyCurve(start, flat), 30, solar, nil)
		require.NoError(t, err)
		assert.Greater(t, sched.Summary.ChargeIntervals, 0)
		assert.Greater(t, sched.EndSOC, 30.0)
	})
}
