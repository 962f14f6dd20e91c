// Package ledger derives the cost accounting fields of interval records.
// The ledger is append-only: past intervals never change except through
// RecomputeForward, which re-derives the cost chain after a backfill.
package ledger

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/voltvakt/voltvakt/pkg/storage"
	"github.com/voltvakt/voltvakt/pkg/types"
)

// resetFraction is the "effectively drained" threshold: when stored energy
// falls below this share of capacity, the next charge starts a fresh cost
// accumulation.
const resetFraction = 0.05

// Ledger computes and persists derived cost fields.
type Ledger struct {
	db       storage.Database
	settings *types.Settings
}

// New returns a ledger over the given database.
func New(db storage.Database, settings *types.Settings) *Ledger {
	return &Ledger{db: db, settings: settings}
}

// IntervalCost is the signed cash flow of one interval: charging pays the
// grid, discharging earns the grid price.
func IntervalCost(action types.Action, powerKW, price float64) float64 {
	return types.RoundCost(action.Sign() * powerKW * types.QuarterHours * price)
}

// Derive fills rec's cost fields from its action and the previous record in
// the chain. prev is nil at the start of history.
//
// cumulativeChargeCost is the signed sum of charge-interval costs since the
// stored charge was acquired. costOfCurrentCharge is the positive
// weighted-average acquisition cost of the energy still in the battery; a
// discharge reduces it proportionally to the energy drawn.
//
// Only the basis shrinks on discharge. cumulativeChargeCost carries
// unchanged so it stays the exact sum of the charge intervals behind the
// stored energy; both reset together once the battery is drained.
func (l *Ledger) Derive(prev *types.IntervalRecord, rec *types.IntervalRecord) {
	capacity := l.settings.BatteryCapacityKWH
	eta := l.settings.OneWayEfficiency()
	energyStart := capacity * rec.SOCStart / 100

	var prevCum, prevBasis float64
	if prev != nil {
		prevCum = prev.CumulativeChargeCost
		prevBasis = prev.CostOfCurrentCharge
	}

	rec.IntervalCost = IntervalCost(rec.Action, rec.PowerKW, rec.Price)

	switch rec.Action {
	case types.ActionCharge:
		in := eta * rec.PowerKW * types.QuarterHours
		rec.EnergyInBatteryKWH = energyStart + in
		if energyStart < resetFraction*capacity {
			// Battery was effectively drained; the old charge is gone.
			rec.CumulativeChargeCost = rec.IntervalCost
			rec.CostOfCurrentCharge = types.RoundCost(rec.Price * in)
		} else {
			rec.CumulativeChargeCost = types.RoundCost(prevCum + rec.IntervalCost)
			rec.CostOfCurrentCharge = types.RoundCost(prevBasis + rec.Price*in)
		}
	case types.ActionDischarge:
		out := rec.PowerKW * types.QuarterHours
		rec.EnergyInBatteryKWH = math.Max(0, energyStart-out)
		rec.CumulativeChargeCost = prevCum
		if energyStart > 0 {
			remaining := 1 - math.Min(1, out/energyStart)
			rec.CostOfCurrentCharge = types.RoundCost(prevBasis * remaining)
		} else {
			rec.CostOfCurrentCharge = 0
		}
	default:
		// Idle and the self-consumption variants settle nothing against
		// the ledger; aggregates carry forward unchanged.
		rec.EnergyInBatteryKWH = energyStart
		rec.CumulativeChargeCost = prevCum
		rec.CostOfCurrentCharge = prevBasis
	}

	rec.EnergyInBatteryKWH = types.RoundPower(rec.EnergyInBatteryKWH)
	if rec.EnergyInBatteryKWH > 0.01 {
		rec.AvgChargePrice = types.RoundPrice(rec.CostOfCurrentCharge / rec.EnergyInBatteryKWH)
	} else {
		rec.AvgChargePrice = 0
	}
}

// Append derives rec's cost fields from the latest persisted record and
// inserts it. The returned record carries the derived values.
func (l *Ledger) Append(ctx context.Context, rec types.IntervalRecord) (types.IntervalRecord, error) {
	prev, err := l.db.GetLatestInterval(ctx, rec.SystemID)
	if err != nil {
		return rec, fmt.Errorf("failed to load latest interval: %w", err)
	}
	if prev != nil && prev.IntervalStart.After(rec.IntervalStart) {
		// Backfill: later records already exist, so the whole chain from
		// this slot onward must be re-derived.
		if err := l.db.InsertInterval(ctx, rec); err != nil {
			return rec, err
		}
		if _, err := l.RecomputeForward(ctx, rec.SystemID, rec.IntervalStart); err != nil {
			return rec, err
		}
		return l.db.GetInterval(ctx, rec.SystemID, rec.IntervalStart)
	}
	l.Derive(prev, &rec)
	if err := l.db.InsertInterval(ctx, rec); err != nil {
		return rec, err
	}
	return rec, nil
}

// RecomputeForward re-derives every record from `from` onward, persisting
// the ones whose derived fields changed. Called after a backfill insert so
// the chain stays consistent.
func (l *Ledger) RecomputeForward(ctx context.Context, systemID string, from time.Time) (int, error) {
	before, err := l.db.GetIntervals(ctx, systemID, from.Add(-types.Quarter), from)
	if err != nil {
		return 0, fmt.Errorf("failed to load predecessor: %w", err)
	}
	var prev *types.IntervalRecord
	if len(before) > 0 {
		prev = &before[len(before)-1]
	}

	recs, err := l.db.GetIntervals(ctx, systemID, from, from.AddDate(0, 0, 365))
	if err != nil {
		return 0, fmt.Errorf("failed to load intervals: %w", err)
	}

	updated := 0
	for i := range recs {
		old := recs[i]
		l.Derive(prev, &recs[i])
		if recs[i].IntervalCost != old.IntervalCost ||
			recs[i].CumulativeChargeCost != old.CumulativeChargeCost ||
			recs[i].CostOfCurrentCharge != old.CostOfCurrentCharge ||
			recs[i].AvgChargePrice != old.AvgChargePrice ||
			recs[i].EnergyInBatteryKWH != old.EnergyInBatteryKWH {
			if err := l.db.UpdateIntervalCosts(ctx, recs[i]); err != nil {
				return updated, err
			}
			updated++
		}
		prev = &recs[i]
	}
	return updated, nil
}
