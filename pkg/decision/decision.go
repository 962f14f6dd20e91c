// Package decision implements the per-quarter action choice. Decide is a
// pure function of its inputs; the controller owns all I/O and persistence.
package decision

import (
	"fmt"
	"math"
	"time"

	"github.com/voltvakt/voltvakt/pkg/types"
)

// Rule names recorded in decision factors.
const (
	RuleExcessSolar     = "excess_solar_charge"
	RuleSolarExport     = "solar_export"
	RuleCheapCharge     = "cheap_window_charge"
	RuleExpensiveOutput = "expensive_window_discharge"
	RuleLoadFollowing   = "load_following"
	RuleNoTrigger       = "no_trigger"
	RuleStaleTelemetry  = "stale_telemetry"
)

// Inputs is everything Decide looks at. Forward must cover at least the
// remaining slots of the current day.
type Inputs struct {
	Now     time.Time
	Price   float64
	Tier    types.PriceTier
	Forward []types.PricePoint

	SOC  types.BatterySOC
	Flow types.EnergyFlow
}

// Decide picks an action for the current quarter. Safety gates come first:
// below min SOC the battery never discharges, above max it never charges,
// and stale telemetry always idles. Rules are evaluated in order and the
// first one that survives its gate wins.
func Decide(s *types.Settings, in Inputs) types.Decision {
	if in.SOC.Stale(in.Now) || in.Flow.Stale(in.Now) {
		return idle(types.ConfidenceLow, RuleStaleTelemetry, "stale telemetry, holding")
	}

	soc := in.SOC.SOC
	solar := in.Flow.PVKW
	load := in.Flow.LoadKW
	price := r3(in.Price)

	// blocked remembers the first rule that triggered but was stopped by a
	// SOC gate, so the fallback idle can say why.
	var blocked string

	// Rule 1: charge from excess solar.
	if surplus := solar - load; surplus >= 0.5 {
		if soc < s.MaxSOC {
			power := math.Min(surplus, s.SafeChargePowerKW)
			return types.Decision{
				Action:     types.ActionCharge,
				PowerKW:    types.RoundPower(power),
				Confidence: types.ConfidenceHigh,
				Reason:     fmt.Sprintf("charging %.1f kW of excess solar", power),
				Priority:   types.PrioritySolar,
				Rule:       RuleExcessSolar,
			}
		}
		if s.ExportExcessSolar {
			return types.Decision{
				Action:     types.ActionSelfConsumeGrid,
				Confidence: types.ConfidenceHigh,
				Reason:     "battery full, exporting excess solar",
				Priority:   types.PrioritySolar,
				Rule:       RuleSolarExport,
			}
		}
		blocked = fmt.Sprintf("solar surplus but soc %.1f above max_soc %.1f", soc, s.MaxSOC)
	}

	// Rule 2: charge from the grid in a cheap window.
	if in.Tier == types.TierCheapest && price <= r3(s.GridChargeThresholdSEK) {
		if soc < s.MaxSOC-5 {
			return types.Decision{
				Action:     types.ActionCharge,
				PowerKW:    types.RoundPower(s.SafeChargePowerKW),
				Confidence: chargeConfidence(s, in, soc, price),
				Reason:     fmt.Sprintf("cheapest tier at %.3f SEK/kWh", price),
				Priority:   types.PriorityGrid,
				Rule:       RuleCheapCharge,
			}
		}
		if blocked == "" {
			blocked = fmt.Sprintf("cheap window but soc %.1f near max_soc %.1f", soc, s.MaxSOC)
		}
	}

	// Rule 3: discharge into an expensive window.
	if in.Tier == types.TierExpensive && price >= r3(s.GridDischargeThresholdSEK) {
		if soc > s.MinSOC+5 {
			power := s.SafeDischargePowerKW
			if s.SelfConsumePreference {
				power = math.Min(power, load)
			}
			if power > 0 {
				return types.Decision{
					Action:     types.ActionDischarge,
					PowerKW:    types.RoundPower(power),
					Confidence: dischargeConfidence(s, in, soc, price),
					Reason:     fmt.Sprintf("expensive tier at %.3f SEK/kWh", price),
					Priority:   types.PriorityGrid,
					Rule:       RuleExpensiveOutput,
				}
			}
		} else if blocked == "" {
			blocked = fmt.Sprintf("expensive window but soc %.1f near min_soc %.1f", soc, s.MinSOC)
		}
	}

	// Rule 4: follow the house load.
	if deficit := load - solar; deficit > 1.0 {
		if soc > s.MinSOC {
			action := types.ActionDischarge
			if s.SelfConsumePreference {
				action = types.ActionSelfConsume
			}
			power := math.Min(deficit, s.SafeDischargePowerKW)
			return types.Decision{
				Action:     action,
				PowerKW:    types.RoundPower(power),
				Confidence: types.ConfidenceMedium,
				Reason:     fmt.Sprintf("covering %.1f kW load deficit", deficit),
				Priority:   types.PriorityLoadBalancing,
				Rule:       RuleLoadFollowing,
			}
		}
		if blocked == "" {
			blocked = fmt.Sprintf("load deficit but soc %.1f at min_soc %.1f", soc, s.MinSOC)
		}
	}

	if blocked != "" {
		return idle(types.ConfidenceMedium, RuleNoTrigger, blocked)
	}
	return idle(types.ConfidenceMedium, RuleNoTrigger, "no trigger")
}

func idle(c types.Confidence, rule, reason string) types.Decision {
	return types.Decision{
		Action:     types.ActionIdle,
		Confidence: c,
		Reason:     reason,
		Rule:       rule,
	}
}

// chargeConfidence is high when the current slot ranks among the N cheapest
// of the next 24 hours, where N is the number of slots needed to fill the
// battery from soc to max at safe charge power.
func chargeConfidence(s *types.Settings, in Inputs, soc, price float64) types.Confidence {
	needKWH := (s.MaxSOC - soc) / 100 * s.BatteryCapacityKWH
	perSlot := s.OneWayEfficiency() * s.SafeChargePowerKW * types.QuarterHours
	return rankConfidence(in, price, needKWH, perSlot, func(other, cur float64) bool {
		return other < cur
	})
}

// dischargeConfidence mirrors chargeConfidence against the N most expensive
// slots, sized by the energy available above min SOC.
func dischargeConfidence(s *types.Settings, in Inputs, soc, price float64) types.Confidence {
	haveKWH := (soc - s.MinSOC) / 100 * s.BatteryCapacityKWH
	perSlot := s.SafeDischargePowerKW * types.QuarterHours
	return rankConfidence(in, price, haveKWH, perSlot, func(other, cur float64) bool {
		return other > cur
	})
}

func rankConfidence(in Inputs, price, energyKWH, perSlotKWH float64, better func(other, cur float64) bool) types.Confidence {
	if perSlotKWH <= 0 {
		return types.ConfidenceMedium
	}
	n := int(math.Ceil(energyKWH / perSlotKWH))
	if n <= 0 {
		return types.ConfidenceMedium
	}
	horizon := in.Now.Add(24 * time.Hour)
	rank := 0
	for _, p := range in.Forward {
		if p.TSStart.Before(in.Now) || !p.TSStart.Before(horizon) {
			continue
		}
		if better(r3(p.SEKPerKWH), price) {
			rank++
		}
	}
	if rank < n {
		return types.ConfidenceHigh
	}
	return types.ConfidenceMedium
}

// r3 rounds to three decimals, the scale used for price comparisons.
func r3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
