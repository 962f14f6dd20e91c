package types

import (
	"fmt"
	"math"
	"time"
)

// PriceTier classifies a price against the day's tiering thresholds.
type PriceTier string

const (
	TierCheapest  PriceTier = "cheapest"
	TierMiddle    PriceTier = "middle"
	TierExpensive PriceTier = "expensive"
)

// DecisionSource identifies what produced the action in an interval record.
type DecisionSource string

const (
	SourceController DecisionSource = "controller"
	SourceSafety     DecisionSource = "safety"
	SourceManual     DecisionSource = "manual"
)

// Well-known decision factor keys.
const (
	FactorError            = "error"
	FactorReason           = "reason"
	FactorRule             = "rule"
	FactorIsDryRun         = "is_dry_run"
	FactorExecutionSuccess = "execution_success"
)

// IntervalRecord is one row of the ledger: the decision taken for a single
// 15-minute interval together with its inputs and cost accounting.
// Records are write-once; only the derived cost fields may be recomputed
// forward after a backfill.
type IntervalRecord struct {
	SystemID      string    `json:"systemID"`
	SessionID     string    `json:"sessionID,omitempty"`
	IntervalStart time.Time `json:"intervalStart"`
	IntervalEnd   time.Time `json:"intervalEnd"`

	// Date and Hour are the local-market calendar date ("2006-01-02") and
	// hour of IntervalStart, rotated at the daily rollover.
	Date string `json:"date"`
	Hour int    `json:"hour"`

	SOCStart        float64           `json:"socStart"`
	Action          Action            `json:"action"`
	PowerKW         float64           `json:"powerKW"`
	Price           float64           `json:"price"`
	PriceTier       PriceTier         `json:"priceTier"`
	DailyAvgPrice   float64           `json:"dailyAvgPrice"`
	DecisionSource  DecisionSource    `json:"decisionSource"`
	DecisionFactors map[string]string `json:"decisionFactors,omitempty"`

	// Derived cost fields, recomputed forward by the ledger.
	IntervalCost         float64 `json:"intervalCost"`
	CumulativeChargeCost float64 `json:"cumulativeChargeCost"`
	CostOfCurrentCharge  float64 `json:"costOfCurrentCharge"`
	AvgChargePrice       float64 `json:"avgChargePrice"`
	EnergyInBatteryKWH   float64 `json:"energyInBatteryKWH"`

	// Telemetry snapshot at decision time.
	SolarKW      float64 `json:"solarKW"`
	LoadKW       float64 `json:"loadKW"`
	GridImportKW float64 `json:"gridImportKW"`
	GridExportKW float64 `json:"gridExportKW"`
}

// Validate enforces the write-time invariants of the ledger. A record that
// fails validation must never be persisted.
func (r *IntervalRecord) Validate() error {
	if r.SystemID == "" {
		return fmt.Errorf("interval record missing systemID")
	}
	if !r.Action.Valid() {
		return fmt.Errorf("unknown action: %q", string(r.Action))
	}
	if !QuarterAligned(r.IntervalStart) {
		return fmt.Errorf("interval start %s is not quarter-aligned", r.IntervalStart.Format(time.RFC3339))
	}
	if !r.IntervalEnd.Equal(r.IntervalStart.Add(Quarter)) {
		return fmt.Errorf("interval end %s is not start+15m", r.IntervalEnd.Format(time.RFC3339))
	}
	if r.SOCStart < 0 || r.SOCStart > 100 {
		return fmt.Errorf("soc %.2f outside [0,100]", r.SOCStart)
	}
	return nil
}

// Numeric scales used by the persisted ledger: price 5 decimals, SOC 2,
// power 3, cost 4.

// RoundPrice rounds to the ledger's 5-decimal price scale.
func RoundPrice(v float64) float64 { return roundTo(v, 5) }

// RoundSOC rounds to the ledger's 2-decimal SOC scale.
func RoundSOC(v float64) float64 { return roundTo(v, 2) }

// RoundPower rounds to the ledger's 3-decimal power scale.
func RoundPower(v float64) float64 { return roundTo(v, 3) }

// RoundCost rounds to the ledger's 4-decimal cost scale.
func RoundCost(v float64) float64 { return roundTo(v, 4) }

func roundTo(v float64, decimals int) float64 {
	pow := math.Pow(10, float64(decimals))
	return math.Round(v*pow) / pow
}
