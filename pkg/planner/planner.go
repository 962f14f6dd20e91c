// Package planner simulates a whole day of quarter decisions. It is a
// preview surface: nothing it produces is executed or persisted.
package planner

import (
	"math"

	"github.com/voltvakt/voltvakt/pkg/decision"
	"github.com/voltvakt/voltvakt/pkg/tier"
	"github.com/voltvakt/voltvakt/pkg/types"
)

// Slot is one simulated quarter of the schedule.
type Slot struct {
	Point    types.PricePoint `json:"point"`
	Tier     types.PriceTier  `json:"tier"`
	SOCStart float64          `json:"socStart"`
	Decision types.Decision   `json:"decision"`
}

// Summary aggregates a simulated day.
type Summary struct {
	TotalIntervals     int     `json:"totalIntervals"`
	ChargeIntervals    int     `json:"chargeIntervals"`
	DischargeIntervals int     `json:"dischargeIntervals"`
	IdleIntervals      int     `json:"idleIntervals"`
	ChargeHours        float64 `json:"chargeHours"`
	DischargeHours     float64 `json:"dischargeHours"`
	EstimatedSavings   float64 `json:"estimatedSavings"`
	EstimatedEarnings  float64 `json:"estimatedEarnings"`
	NetBenefit         float64 `json:"netBenefit"`
	EfficiencyUtilized float64 `json:"efficiencyUtilized"`
}

// Schedule is the planner's output for one day.
type Schedule struct {
	Slots   []Slot  `json:"slots"`
	EndSOC  float64 `json:"endSOC"`
	Summary Summary `json:"summary"`
}

// GenerateDaySchedule walks the day's curve chronologically, feeding each
// slot's simulated SOC back into the decision maker. SolarKW and LoadKW are
// optional per-slot forecasts; short or nil slices read as zero.
func GenerateDaySchedule(s *types.Settings, curve []types.PricePoint, startSOC float64, solarKW, loadKW []float64) (*Schedule, error) {
	tiering, err := tier.New(curve, tier.Options{})
	if err != nil {
		return nil, err
	}

	eta := s.OneWayEfficiency()
	soc := startSOC
	sched := &Schedule{Slots: make([]Slot, 0, len(curve))}
	sum := &sched.Summary

	var chargedKWH, dischargedKWH float64
	for i, p := range curve {
		in := decision.Inputs{
			Now:     p.TSStart,
			Price:   p.SEKPerKWH,
			Tier:    tiering.Classify(p.SEKPerKWH),
			Forward: curve[i:],
			SOC:     types.BatterySOC{SOC: soc, Timestamp: p.TSStart},
			Flow: types.EnergyFlow{
				PVKW:      at(solarKW, i),
				LoadKW:    at(loadKW, i),
				Timestamp: p.TSStart,
			},
		}
		d := decision.Decide(s, in)
		sched.Slots = append(sched.Slots, Slot{
			Point:    p,
			Tier:     in.Tier,
			SOCStart: types.RoundSOC(soc),
			Decision: d,
		})

		energy := d.PowerKW * types.QuarterHours
		switch {
		case d.Action == types.ActionCharge:
			sum.ChargeIntervals++
			sum.ChargeHours += types.QuarterHours
			chargedKWH += energy
			sum.EstimatedSavings += (tiering.DailyAvg - p.SEKPerKWH) * energy
			sum.NetBenefit -= p.SEKPerKWH * energy
			soc += eta * energy / s.BatteryCapacityKWH * 100
		case d.Action.Discharging():
			sum.DischargeIntervals++
			sum.DischargeHours += types.QuarterHours
			dischargedKWH += energy
			sum.EstimatedEarnings += p.SEKPerKWH * energy
			sum.NetBenefit += p.SEKPerKWH * energy
			soc -= eta * energy / s.BatteryCapacityKWH * 100
		default:
			sum.IdleIntervals++
		}
		soc = math.Min(100, math.Max(0, soc))
	}

	sum.TotalIntervals = len(curve)
	sum.EstimatedSavings = types.RoundCost(sum.EstimatedSavings)
	sum.EstimatedEarnings = types.RoundCost(sum.EstimatedEarnings)
	sum.NetBenefit = types.RoundCost(sum.NetBenefit)
	if usable := chargedKWH * s.BatteryEfficiency; usable > 0 {
		sum.EfficiencyUtilized = types.RoundSOC(math.Min(1, dischargedKWH/usable))
	}
	sched.EndSOC = types.RoundSOC(soc)
	return sched, nil
}

func at(vs []float64, i int) float64 {
	if i < len(vs) {
		return vs[i]
	}
	return 0
}
