// Package solar provides a clear-sky PV production forecast from sun
// geometry alone. It is intentionally optimistic; the planner uses it only
// when no measured telemetry is available for a slot.
package solar

import (
	"math"
	"time"

	"github.com/sixdouglas/suncalc"

	"github.com/voltvakt/voltvakt/pkg/types"
)

// Forecaster estimates PV output for a fixed installation.
type Forecaster struct {
	Latitude  float64
	Longitude float64
	PeakKW    float64
}

// EstimateKW returns the expected clear-sky production at ts. Zero before
// sunrise, after sunset, or when the installation has no panels configured.
func (f *Forecaster) EstimateKW(ts time.Time) float64 {
	if f.PeakKW <= 0 {
		return 0
	}
	sunTimes := suncalc.GetTimes(ts, f.Latitude, f.Longitude)
	sunrise := sunTimes["sunrise"].Value
	sunset := sunTimes["sunset"].Value
	if ts.Before(sunrise) || ts.After(sunset) {
		return 0
	}

	pos := suncalc.GetPosition(ts, f.Latitude, f.Longitude)
	factor := math.Sin(pos.Altitude)
	if factor <= 0 {
		return 0
	}
	return types.RoundPower(f.PeakKW * factor)
}

// DayCurve returns one estimate per quarter-hour slot of the local calendar
// day containing ts, evaluated at each slot's midpoint.
func (f *Forecaster) DayCurve(ts time.Time, loc *time.Location) []float64 {
	local := ts.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	next := midnight.AddDate(0, 0, 1)

	var out []float64
	for slot := midnight; slot.Before(next); slot = slot.Add(types.Quarter) {
		out = append(out, f.EstimateKW(slot.Add(types.Quarter/2)))
	}
	return out
}
