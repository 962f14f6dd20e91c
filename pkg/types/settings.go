package types

import (
	"fmt"
	"math"
	"time"
)

// Settings is the static configuration for one controlled system. It is a
// plain record passed at controller construction; there is no module-level
// mutable state.
type Settings struct {
	SystemID string `json:"systemID"`

	// Market
	Timezone  string `json:"timezone"`  // e.g. "Europe/Stockholm"
	PriceArea string `json:"priceArea"` // SE1..SE4

	// Price thresholds (SEK/kWh)
	PriceVeryLow  float64 `json:"priceVeryLow"`
	PriceLow      float64 `json:"priceLow"`
	PriceHigh     float64 `json:"priceHigh"`
	PriceVeryHigh float64 `json:"priceVeryHigh"`

	// Battery limits
	MinSOC               float64 `json:"minSOC"`
	MaxSOC               float64 `json:"maxSOC"`
	EmergencyReserveSOC  float64 `json:"emergencyReserveSOC"`
	SafeChargePowerKW    float64 `json:"safeChargePowerKW"`
	SafeDischargePowerKW float64 `json:"safeDischargePowerKW"`

	// Scheduling
	OptimizationInterval time.Duration `json:"optimizationInterval"`

	// Strategy
	PrioritizeSolar           bool    `json:"prioritizeSolar"`
	ExportExcessSolar         bool    `json:"exportExcessSolar"`
	SelfConsumePreference     bool    `json:"selfConsumePreference"`
	GridChargeThresholdSEK    float64 `json:"gridChargeThresholdSEK"`
	GridDischargeThresholdSEK float64 `json:"gridDischargeThresholdSEK"`

	// Economics
	// BatteryEfficiency is the round-trip efficiency.
	BatteryEfficiency  float64 `json:"batteryEfficiency"`
	BatteryCapacityKWH float64 `json:"batteryCapacityKWH"`

	// Solar installation, used by the clear-sky forecast.
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	SolarPeakKW float64 `json:"solarPeakKW"`

	location *time.Location
}

// DefaultSettings returns settings with the documented defaults filled in.
// SystemID and BatteryCapacityKWH have no defaults and must be provided.
func DefaultSettings() Settings {
	return Settings{
		Timezone:                  "Europe/Stockholm",
		PriceArea:                 "SE3",
		PriceVeryLow:              0.10,
		PriceLow:                  0.30,
		PriceHigh:                 1.00,
		PriceVeryHigh:             2.00,
		MinSOC:                    20,
		MaxSOC:                    95,
		EmergencyReserveSOC:       15,
		SafeChargePowerKW:         3.0,
		SafeDischargePowerKW:      3.0,
		OptimizationInterval:      15 * time.Minute,
		GridChargeThresholdSEK:    0.30,
		GridDischargeThresholdSEK: 1.00,
		BatteryEfficiency:         0.93,
	}
}

// Validate checks the settings for consistency. The process must refuse to
// start on error.
func (s *Settings) Validate() error {
	if s.SystemID == "" {
		return fmt.Errorf("settings: systemID is required")
	}
	if s.BatteryCapacityKWH <= 0 {
		return fmt.Errorf("settings: batteryCapacityKWH is required and must be > 0")
	}
	if s.MinSOC < 0 || s.MaxSOC > 100 || s.MinSOC >= s.MaxSOC {
		return fmt.Errorf("settings: inverted SOC limits: min=%.1f max=%.1f", s.MinSOC, s.MaxSOC)
	}
	if s.EmergencyReserveSOC < 0 || s.EmergencyReserveSOC > s.MinSOC {
		return fmt.Errorf("settings: emergency reserve %.1f must be within [0, minSOC]", s.EmergencyReserveSOC)
	}
	if s.SafeChargePowerKW <= 0 || s.SafeDischargePowerKW <= 0 {
		return fmt.Errorf("settings: safe power limits must be > 0")
	}
	if s.BatteryEfficiency <= 0 || s.BatteryEfficiency > 1 {
		return fmt.Errorf("settings: battery efficiency %.2f outside (0,1]", s.BatteryEfficiency)
	}
	if s.PriceVeryLow > s.PriceLow || s.PriceLow > s.PriceHigh || s.PriceHigh > s.PriceVeryHigh {
		return fmt.Errorf("settings: inverted price thresholds: %.3f/%.3f/%.3f/%.3f",
			s.PriceVeryLow, s.PriceLow, s.PriceHigh, s.PriceVeryHigh)
	}
	if s.GridChargeThresholdSEK > s.GridDischargeThresholdSEK {
		return fmt.Errorf("settings: grid charge threshold %.3f above discharge threshold %.3f",
			s.GridChargeThresholdSEK, s.GridDischargeThresholdSEK)
	}
	if s.OptimizationInterval <= 0 {
		return fmt.Errorf("settings: optimization interval must be > 0")
	}
	if _, err := time.LoadLocation(s.Timezone); err != nil {
		return fmt.Errorf("settings: invalid timezone %q: %w", s.Timezone, err)
	}
	return nil
}

// Location returns the market timezone, falling back to UTC if the settings
// were never validated.
func (s *Settings) Location() *time.Location {
	if s.location == nil {
		loc, err := time.LoadLocation(s.Timezone)
		if err != nil {
			return time.UTC
		}
		s.location = loc
	}
	return s.location
}

// OneWayEfficiency derives the one-way efficiency from the configured
// round-trip efficiency.
func (s *Settings) OneWayEfficiency() float64 {
	if s.BatteryEfficiency <= 0 {
		return 1
	}
	return math.Sqrt(s.BatteryEfficiency)
}
