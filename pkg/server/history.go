package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/voltvakt/voltvakt/pkg/log"
	"github.com/voltvakt/voltvakt/pkg/types"
)

func (s *Server) handleHistoryIntervals(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start, end, err := parseTimeRange(r, 7*24*time.Hour)
	if err != nil {
		writeJSONError(w, "invalid time range: "+err.Error(), http.StatusBadRequest)
		return
	}

	recs, err := s.db.GetIntervals(ctx, s.settings.SystemID, start, end)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get intervals", slog.Any("error", err))
		writeJSONError(w, "failed to get intervals", http.StatusInternalServerError)
		return
	}

	setHistoryCache(w, end)
	writeJSON(w, recs)
}

func (s *Server) handleHistorySessions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start, end, err := parseTimeRange(r, 31*24*time.Hour)
	if err != nil {
		writeJSONError(w, "invalid time range: "+err.Error(), http.StatusBadRequest)
		return
	}

	sessions, err := s.db.GetSessions(ctx, s.settings.SystemID, start, end)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get sessions", slog.Any("error", err))
		writeJSONError(w, "failed to get sessions", http.StatusInternalServerError)
		return
	}

	setHistoryCache(w, end)
	writeJSON(w, sessions)
}

// daySummary aggregates one local calendar day of records.
type daySummary struct {
	Date                 string  `json:"date"`
	Intervals            int     `json:"intervals"`
	ChargeIntervals      int     `json:"chargeIntervals"`
	DischargeIntervals   int     `json:"dischargeIntervals"`
	IdleIntervals        int     `json:"idleIntervals"`
	EnergyChargedKWH     float64 `json:"energyChargedKWH"`
	EnergyDischargedKWH  float64 `json:"energyDischargedKWH"`
	TotalCost            float64 `json:"totalCost"`
	AvgPrice             float64 `json:"avgPrice"`
	CumulativeChargeCost float64 `json:"cumulativeChargeCost"`
	AvgChargePrice       float64 `json:"avgChargePrice"`
	EndSOC               float64 `json:"endSOC"`
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	loc := s.settings.Location()
	day, err := parseDay(r, loc)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	recs, err := s.db.GetIntervals(ctx, s.settings.SystemID, day, day.AddDate(0, 0, 1))
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get intervals", slog.Any("error", err))
		writeJSONError(w, "failed to get intervals", http.StatusInternalServerError)
		return
	}

	sum := daySummary{Date: day.Format("2006-01-02")}
	var priceSum float64
	for _, rec := range recs {
		sum.Intervals++
		priceSum += rec.Price
		sum.TotalCost += rec.IntervalCost
		energy := rec.PowerKW * types.QuarterHours
		switch {
		case rec.Action == types.ActionCharge:
			sum.ChargeIntervals++
			sum.EnergyChargedKWH += energy
		case rec.Action.Discharging():
			sum.DischargeIntervals++
			sum.EnergyDischargedKWH += energy
		default:
			sum.IdleIntervals++
		}
	}
	if sum.Intervals > 0 {
		sum.AvgPrice = types.RoundPrice(priceSum / float64(sum.Intervals))
		last := recs[len(recs)-1]
		sum.CumulativeChargeCost = last.CumulativeChargeCost
		sum.AvgChargePrice = last.AvgChargePrice
		sum.EndSOC = last.SOCStart
	}
	sum.TotalCost = types.RoundCost(sum.TotalCost)

	setHistoryCache(w, day.AddDate(0, 0, 1))
	writeJSON(w, sum)
}

// setHistoryCache caches completed days for 24 hours and everything else for
// a minute.
func setHistoryCache(w http.ResponseWriter, end time.Time) {
	today := time.Now().Truncate(24 * time.Hour)
	if end.Before(today) {
		w.Header().Set("Cache-Control", "private, max-age=86400")
	} else {
		w.Header().Set("Cache-Control", "private, max-age=60")
	}
}

func parseTimeRange(r *http.Request, maxRange time.Duration) (time.Time, time.Time, error) {
	startStr := r.URL.Query().Get("start")
	endStr := r.URL.Query().Get("end")

	if startStr == "" || endStr == "" {
		// Default to last 24 hours if not specified
		end := time.Now()
		start := end.Add(-24 * time.Hour)
		return start, end, nil
	}

	start, err := time.Parse(time.RFC3339, startStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid start time: %w", err)
	}

	end, err := time.Parse(time.RFC3339, endStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid end time: %w", err)
	}

	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("start time must be before end time")
	}

	if end.Sub(start) > maxRange {
		return time.Time{}, time.Time{}, fmt.Errorf("time range cannot exceed %s", maxRange)
	}

	return start, end, nil
}

// parseDay reads the date query parameter as a local calendar day, defaulting
// to today.
func parseDay(r *http.Request, loc *time.Location) (time.Time, error) {
	dateStr := r.URL.Query().Get("date")
	if dateStr == "" {
		now := time.Now().In(loc)
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc), nil
	}
	day, err := time.ParseInLocation("2006-01-02", dateStr, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date: %w", err)
	}
	return day, nil
}
