package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRecord() IntervalRecord {
	start := time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC)
	return IntervalRecord{
		SystemID:      "sys-1",
		IntervalStart: start,
		IntervalEnd:   start.Add(Quarter),
		Date:          "2026-01-15",
		Hour:          10,
		SOCStart:      54.2,
		Action:        ActionCharge,
		PowerKW:       3.0,
		Price:         0.25,
	}
}

func TestIntervalRecordValidate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		r := validRecord()
		require.NoError(t, r.Validate())
	})

	t.Run("missing systemID", func(t *testing.T) {
		r := validRecord()
		r.SystemID = ""
		assert.Error(t, r.Validate())
	})

	t.Run("unknown action", func(t *testing.T) {
		r := validRecord()
		r.Action = Action("boost")
		assert.Error(t, r.Validate())
	})

	t.Run("unaligned start", func(t *testing.T) {
		r := validRecord()
		r.IntervalStart = r.IntervalStart.Add(7 * time.Minute)
		assert.Error(t, r.Validate())
	})

	t.Run("end not start plus quarter", func(t *testing.T) {
		r := validRecord()
		r.IntervalEnd = r.IntervalStart.Add(30 * time.Minute)
		assert.Error(t, r.Validate())
	})

	t.Run("soc out of range", func(t *testing.T) {
		r := validRecord()
		r.SOCStart = 101
		assert.Error(t, r.Validate())
	})
}

func TestRoundingScales(t *testing.T) {
	assert.Equal(t, 0.12346, RoundPrice(0.123456789))
	assert.Equal(t, 54.68, RoundSOC(54.6789))
	assert.Equal(t, 3.142, RoundPower(3.14159))
	assert.Equal(t, -1.2346, RoundCost(-1.23456))
}

func TestQuarterHelpers(t *testing.T) {
	ts := time.Date(2026, 1, 15, 10, 37, 12, 0, time.UTC)
	floored := FloorToQuarter(ts)
	assert.Equal(t, time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC), floored)
	assert.True(t, QuarterAligned(floored))
	assert.False(t, QuarterAligned(ts))
}

func TestSettingsValidate(t *testing.T) {
	base := func() Settings {
		s := DefaultSettings()
		s.SystemID = "sys-1"
		s.BatteryCapacityKWH = 10
		return s
	}

	t.Run("defaults with required fields", func(t *testing.T) {
		s := base()
		require.NoError(t, s.Validate())
	})

	t.Run("missing capacity", func(t *testing.T) {
		s := base()
		s.BatteryCapacityKWH = 0
		assert.Error(t, s.Validate())
	})

	t.Run("inverted soc limits", func(t *testing.T) {
		s := base()
		s.MinSOC = 90
		s.MaxSOC = 40
		assert.Error(t, s.Validate())
	})

	t.Run("inverted price thresholds", func(t *testing.T) {
		s := base()
		s.PriceLow = 2.0
		s.PriceHigh = 0.5
		assert.Error(t, s.Validate())
	})

	t.Run("bad timezone", func(t *testing.T) {
		s := base()
		s.Timezone = "Mars/Olympus"
		assert.Error(t, s.Validate())
	})

	t.Run("one way efficiency", func(t *testing.T) {
		s := base()
		assert.InDelta(t, 0.9644, s.OneWayEfficiency(), 0.0001)
	})
}
