package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/voltvakt/voltvakt/pkg/log"
	"github.com/voltvakt/voltvakt/pkg/planner"
	"github.com/voltvakt/voltvakt/pkg/prices"
	"github.com/voltvakt/voltvakt/pkg/solar"
)

// handlePrices returns the raw quarter curve for one local calendar day.
func (s *Server) handlePrices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	day, err := parseDay(r, s.settings.Location())
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	curve, err := s.provider.DayCurve(ctx, day)
	if errors.Is(err, prices.ErrNotPublished) {
		writeJSONError(w, "prices not yet published for "+day.Format("2006-01-02"), http.StatusNotFound)
		return
	}
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get prices", slog.Any("error", err))
		writeJSONError(w, "failed to get prices", http.StatusInternalServerError)
		return
	}

	setHistoryCache(w, day.AddDate(0, 0, 1))
	writeJSON(w, curve)
}

// handleSchedule returns the simulated day schedule: each quarter's price,
// tier and the decision the controller would take. Nothing here is executed.
func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	loc := s.settings.Location()
	day, err := parseDay(r, loc)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	curve, err := s.provider.DayCurve(ctx, day)
	if errors.Is(err, prices.ErrNotPublished) {
		writeJSONError(w, "prices not yet published for "+day.Format("2006-01-02"), http.StatusNotFound)
		return
	}
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get prices", slog.Any("error", err))
		writeJSONError(w, "failed to get prices", http.StatusInternalServerError)
		return
	}

	// Start from the last known SOC, or mid-pack when the ledger is empty.
	startSOC := 50.0
	if latest, err := s.db.GetLatestInterval(ctx, s.settings.SystemID); err == nil && latest != nil {
		startSOC = latest.SOCStart
	}

	var solarKW []float64
	if s.settings.SolarPeakKW > 0 {
		f := &solar.Forecaster{
			Latitude:  s.settings.Latitude,
			Longitude: s.settings.Longitude,
			PeakKW:    s.settings.SolarPeakKW,
		}
		solarKW = f.DayCurve(day, loc)
	}

	schedule, err := planner.GenerateDaySchedule(s.settings, curve, startSOC, solarKW, nil)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to generate schedule", slog.Any("error", err))
		writeJSONError(w, "failed to generate schedule", http.StatusInternalServerError)
		return
	}

	setHistoryCache(w, day.AddDate(0, 0, 1))
	writeJSON(w, schedule)
}
