package tier

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voltvakt/voltvakt/pkg/types"
)

func curve(start time.Time, prices ...float64) []types.PricePoint {
	pts := make([]types.PricePoint, len(prices))
	for i, v := range prices {
		pts[i] = types.PricePoint{
			TSStart:   start.Add(time.Duration(i) * types.Quarter),
			TSEnd:     start.Add(time.Duration(i+1) * types.Quarter),
			SEKPerKWH: v,
		}
	}
	return pts
}

func TestNew(t *testing.T) {
	start := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)

	t.Run("empty curve", func(t *testing.T) {
		_, err := New(nil, Options{})
		assert.ErrorIs(t, err, ErrNoData)
	})

	t.Run("gap in curve", func(t *testing.T) {
		pts := curve(start, 0.1, 0.2, 0.3)
		pts[2].TSStart = pts[2].TSStart.Add(types.Quarter)
		pts[2].TSEnd = pts[2].TSEnd.Add(types.Quarter)
		_, err := New(pts, Options{})
		assert.ErrorIs(t, err, ErrBadCurve)
	})

	t.Run("tertile thresholds", func(t *testing.T) {
		// sorted: 0.1 0.2 0.3 0.4 0.5 0.6 0.7
		tr, err := New(curve(start, 0.4, 0.1, 0.7, 0.2, 0.5, 0.3, 0.6), Options{})
		require.NoError(t, err)
		assert.InDelta(t, 0.3, tr.CheapMax, 0.0001)
		assert.InDelta(t, 0.5, tr.ExpensiveMin, 0.0001)
		assert.InDelta(t, 0.4, tr.DailyAvg, 0.0001)
	})

	t.Run("threshold ordering on a varied day", func(t *testing.T) {
		tr, err := New(curve(start, 1.2, 0.05, 0.9, 0.3, 2.1, 0.4, 0.8, 1.5), Options{})
		require.NoError(t, err)
		assert.Less(t, tr.CheapMax, tr.ExpensiveMin)
	})
}

func TestClassify(t *testing.T) {
	start := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	tr, err := New(curve(start, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7), Options{})
	require.NoError(t, err)

	assert.Equal(t, types.TierCheapest, tr.Classify(0.1))
	assert.Equal(t, types.TierMiddle, tr.Classify(0.4))
	assert.Equal(t, types.TierExpensive, tr.Classify(0.7))

	t.Run("boundary ties go outward", func(t *testing.T) {
		assert.Equal(t, types.TierCheapest, tr.Classify(tr.CheapMax))
		assert.Equal(t, types.TierExpensive, tr.Classify(tr.ExpensiveMin))
	})

	t.Run("constant day is all middle", func(t *testing.T) {
		flat, err := New(curve(start, 0.5, 0.5, 0.5, 0.5), Options{})
		require.NoError(t, err)
		assert.Equal(t, types.TierMiddle, flat.Classify(0.5))
	})

	t.Run("absolute overrides beat percentiles", func(t *testing.T) {
		ceiling, floor := 0.15, 0.65
		tr, err := New(curve(start, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7), Options{
			AbsoluteCheapCeiling:   &ceiling,
			AbsoluteExpensiveFloor: &floor,
		})
		require.NoError(t, err)
		assert.Equal(t, types.TierMiddle, tr.Classify(0.2))
		assert.Equal(t, types.TierExpensive, tr.Classify(0.65))
	})
}

func TestAt(t *testing.T) {
	start := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	tr, err := New(curve(start, 0.1, 0.5, 0.9), Options{})
	require.NoError(t, err)

	tierAt, price, ok := tr.At(start.Add(20 * time.Minute))
	require.True(t, ok)
	assert.Equal(t, 0.5, price)
	assert.Equal(t, types.TierMiddle, tierAt)

	_, _, ok = tr.At(start.Add(2 * time.Hour))
	assert.False(t, ok)
}
