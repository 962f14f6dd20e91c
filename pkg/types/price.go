package types

import "time"

// PricePoint represents the day-ahead spot price for one market interval.
// A day's set of points is contiguous, non-overlapping, and covers
// [00:00, 24:00) of the local market timezone.
type PricePoint struct {
	TSStart time.Time `json:"tsStart"`
	TSEnd   time.Time `json:"tsEnd"`

	// SEKPerKWH is the day-ahead spot price in the local currency per kWh.
	SEKPerKWH float64 `json:"sekPerKWH"`
}

// Contains reports whether t falls within the point's interval.
func (p PricePoint) Contains(t time.Time) bool {
	return !t.Before(p.TSStart) && t.Before(p.TSEnd)
}

// Quarter is the market interval length in the Swedish day-ahead market.
const Quarter = 15 * time.Minute

// QuarterHours is the fraction of an hour covered by one market interval.
const QuarterHours = 0.25

// FloorToQuarter truncates t down to the enclosing quarter boundary,
// preserving the location.
func FloorToQuarter(t time.Time) time.Time {
	return t.Truncate(Quarter)
}

// QuarterAligned reports whether t sits exactly on a {:00,:15,:30,:45}
// boundary.
func QuarterAligned(t time.Time) bool {
	return t.Equal(FloorToQuarter(t))
}
