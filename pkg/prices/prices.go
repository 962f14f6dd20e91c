// Package prices fetches and normalizes day-ahead spot prices. Curves are
// always handed to the rest of the system as quarter-hour points in the
// local market timezone.
package prices

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/voltvakt/voltvakt/pkg/types"
)

// ErrNotPublished is returned when the market has not yet released the
// requested day. Day-ahead prices usually appear around 13:00 CET the day
// before.
var ErrNotPublished = errors.New("prices not yet published")

// Provider fetches the spot curve for a calendar day in the market timezone.
type Provider interface {
	// DayCurve returns the full curve for the local calendar day containing
	// date, upsampled to quarter-hour resolution.
	DayCurve(ctx context.Context, date time.Time) ([]types.PricePoint, error)
}

// UpsampleQuarters splits coarser points into quarter-hour slots by
// repetition. Points already at quarter resolution pass through unchanged.
func UpsampleQuarters(points []types.PricePoint) []types.PricePoint {
	out := make([]types.PricePoint, 0, len(points)*4)
	for _, p := range points {
		for start := p.TSStart; start.Before(p.TSEnd); start = start.Add(types.Quarter) {
			end := start.Add(types.Quarter)
			if end.After(p.TSEnd) {
				end = p.TSEnd
			}
			out = append(out, types.PricePoint{TSStart: start, TSEnd: end, SEKPerKWH: p.SEKPerKWH})
		}
	}
	return out
}

// ValidateDayCurve checks that the curve is non-empty, contiguous, and made
// of quarter slots. DST days legitimately have 92 or 100 slots, so only the
// shape is checked, not the count.
func ValidateDayCurve(points []types.PricePoint) error {
	if len(points) == 0 {
		return errors.New("empty price curve")
	}
	for i, p := range points {
		if !p.TSEnd.Equal(p.TSStart.Add(types.Quarter)) {
			return fmt.Errorf("slot %d is not a quarter: %s to %s", i,
				p.TSStart.Format(time.RFC3339), p.TSEnd.Format(time.RFC3339))
		}
		if i > 0 && !p.TSStart.Equal(points[i-1].TSEnd) {
			return fmt.Errorf("gap before slot %d at %s", i, p.TSStart.Format(time.RFC3339))
		}
	}
	return nil
}
