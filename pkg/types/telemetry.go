package types

import "time"

// EnergyFlow is an instantaneous power snapshot from the inverter. Positive
// GridKW is import, negative is export. Positive BatteryKW is discharge.
type EnergyFlow struct {
	PVKW      float64   `json:"pvKW"`
	LoadKW    float64   `json:"loadKW"`
	GridKW    float64   `json:"gridKW"`
	BatteryKW float64   `json:"batteryKW"`
	Timestamp time.Time `json:"timestamp"`
}

// SurplusKW is production beyond the house load.
func (f EnergyFlow) SurplusKW() float64 {
	s := f.PVKW - f.LoadKW
	if s < 0 {
		return 0
	}
	return s
}

// BatterySOC is a state-of-charge reading in percent.
type BatterySOC struct {
	SOC       float64   `json:"soc"`
	Timestamp time.Time `json:"timestamp"`
}

// MaxTelemetryAge is how old a reading may be before the controller treats
// it as missing and falls back to a safe idle decision.
const MaxTelemetryAge = 10 * time.Minute

// Stale reports whether the reading is too old to act on at time now.
func (b BatterySOC) Stale(now time.Time) bool {
	return b.Timestamp.IsZero() || now.Sub(b.Timestamp) > MaxTelemetryAge
}

// Stale reports whether the flow snapshot is too old to act on at time now.
func (f EnergyFlow) Stale(now time.Time) bool {
	return f.Timestamp.IsZero() || now.Sub(f.Timestamp) > MaxTelemetryAge
}
