// Package tier partitions a day's price curve into cheapest, middle and
// expensive tiers and answers classification queries for single prices or
// timestamps.
package tier

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/voltvakt/voltvakt/pkg/types"
)

var (
	// ErrNoData is returned when the curve is empty.
	ErrNoData = errors.New("no price data")
	// ErrBadCurve is returned when the curve has gaps or overlaps.
	ErrBadCurve = errors.New("price curve is not contiguous")
)

// Options tune how the thresholds are derived. The zero value uses tertiles.
type Options struct {
	// CheapestFraction is the share of the day classified as cheapest,
	// defaulting to 1/3. ExpensiveFraction works the same from the top.
	CheapestFraction  float64
	ExpensiveFraction float64

	// When set, the absolute bounds override the percentile thresholds.
	AbsoluteCheapCeiling   *float64
	AbsoluteExpensiveFloor *float64
}

// Tiering holds the derived thresholds for one day of prices.
type Tiering struct {
	CheapMax     float64
	ExpensiveMin float64
	DailyAvg     float64

	constant bool
	points   []types.PricePoint
}

// New derives a Tiering from an ordered day of price points. The curve must
// be non-empty and contiguous.
func New(points []types.PricePoint, opts Options) (*Tiering, error) {
	if len(points) == 0 {
		return nil, ErrNoData
	}
	for i := 1; i < len(points); i++ {
		if !points[i].TSStart.Equal(points[i-1].TSEnd) {
			return nil, fmt.Errorf("%w: gap between %s and %s", ErrBadCurve,
				points[i-1].TSEnd.Format(time.RFC3339), points[i].TSStart.Format(time.RFC3339))
		}
	}

	cheapFrac := opts.CheapestFraction
	if cheapFrac <= 0 {
		cheapFrac = 1.0 / 3.0
	}
	expFrac := opts.ExpensiveFraction
	if expFrac <= 0 {
		expFrac = 1.0 / 3.0
	}

	sorted := make([]float64, len(points))
	var sum float64
	for i, p := range points {
		sorted[i] = p.SEKPerKWH
		sum += p.SEKPerKWH
	}
	sort.Float64s(sorted)

	t := &Tiering{
		CheapMax:     percentile(sorted, cheapFrac),
		ExpensiveMin: percentile(sorted, 1-expFrac),
		DailyAvg:     sum / float64(len(points)),
		constant:     sorted[0] == sorted[len(sorted)-1],
		points:       points,
	}
	if opts.AbsoluteCheapCeiling != nil {
		t.CheapMax = *opts.AbsoluteCheapCeiling
		t.constant = false
	}
	if opts.AbsoluteExpensiveFloor != nil {
		t.ExpensiveMin = *opts.AbsoluteExpensiveFloor
		t.constant = false
	}
	return t, nil
}

// percentile returns the linearly-interpolated value at fraction f of the
// sorted slice.
func percentile(sorted []float64, f float64) float64 {
	if f <= 0 {
		return sorted[0]
	}
	if f >= 1 {
		return sorted[len(sorted)-1]
	}
	pos := f * float64(len(sorted)-1)
	lo := int(pos)
	frac := pos - float64(lo)
	if lo+1 >= len(sorted) {
		return sorted[lo]
	}
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}

// Classify places a single price into a tier. Boundary ties classify toward
// the outer tiers. A constant-price day classifies everything as middle.
func (t *Tiering) Classify(price float64) types.PriceTier {
	if t.constant {
		return types.TierMiddle
	}
	if price <= t.CheapMax {
		return types.TierCheapest
	}
	if price >= t.ExpensiveMin {
		return types.TierExpensive
	}
	return types.TierMiddle
}

// At finds the price point covering ts and classifies it. The bool is false
// when ts falls outside the curve.
func (t *Tiering) At(ts time.Time) (types.PriceTier, float64, bool) {
	for _, p := range t.points {
		if p.Contains(ts) {
			return t.Classify(p.SEKPerKWH), p.SEKPerKWH, true
		}
	}
	return "", 0, false
}

// Points returns the underlying curve in order.
func (t *Tiering) Points() []types.PricePoint {
	return t.points
}
