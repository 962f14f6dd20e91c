package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voltvakt/voltvakt/pkg/planner"
	"github.com/voltvakt/voltvakt/pkg/prices"
	"github.com/voltvakt/voltvakt/pkg/storage"
	"github.com/voltvakt/voltvakt/pkg/types"
)

func testServer(t *testing.T) (*Server, storage.Database, *prices.Mock) {
	t.Helper()
	db, err := storage.NewSQLite(filepath.Join(t.TempDir(), "server.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s := types.DefaultSettings()
	s.SystemID = "sys-1"
	s.BatteryCapacityKWH = 10
	s.Timezone = "UTC"

	provider := prices.NewMock()
	return New(&s, db, provider), db, provider
}

func testRecord(start time.Time, action types.Action) types.IntervalRecord {
	return types.IntervalRecord{
		SystemID:       "sys-1",
		IntervalStart:  start,
		IntervalEnd:    start.Add(types.Quarter),
		Date:           start.Format("2006-01-02"),
		Hour:           start.Hour(),
		SOCStart:       50,
		Action:         action,
		PowerKW:        3,
		Price:          0.25,
		PriceTier:      types.TierMiddle,
		DecisionSource: types.SourceController,
		IntervalCost:   action.Sign() * 3 * types.QuarterHours * 0.25,
	}
}

func TestHistoryEndpoints(t *testing.T) {
	ctx := context.Background()
	srv, db, _ := testServer(t)
	ts := httptest.NewServer(srv.setupHandler())
	defer ts.Close()

	day := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	require.NoError(t, db.InsertInterval(ctx, testRecord(day.Add(10*time.Hour), types.ActionCharge)))
	require.NoError(t, db.InsertInterval(ctx, testRecord(day.Add(10*time.Hour+types.Quarter), types.ActionDischarge)))

	t.Run("intervals in range", func(t *testing.T) {
		u := fmt.Sprintf("%s/api/history/intervals?start=%s&end=%s", ts.URL,
			day.Format(time.RFC3339), day.AddDate(0, 0, 1).Format(time.RFC3339))
		resp, err := http.Get(u)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var recs []types.IntervalRecord
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&recs))
		require.Len(t, recs, 2)
		assert.Equal(t, types.ActionCharge, recs[0].Action)
	})

	t.Run("range too wide", func(t *testing.T) {
		u := fmt.Sprintf("%s/api/history/intervals?start=%s&end=%s", ts.URL,
			day.Format(time.RFC3339), day.AddDate(0, 0, 8).Format(time.RFC3339))
		resp, err := http.Get(u)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("summary aggregates the day", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/summary?date=2026-01-15")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var sum daySummary
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&sum))
		assert.Equal(t, 2, sum.Intervals)
		assert.Equal(t, 1, sum.ChargeIntervals)
		assert.Equal(t, 1, sum.DischargeIntervals)
		assert.Equal(t, 0.75, sum.EnergyChargedKWH)
		assert.Equal(t, 0.75, sum.EnergyDischargedKWH)
		assert.Equal(t, 0.25, sum.AvgPrice)
		assert.Zero(t, sum.TotalCost, "charge cost and discharge earnings cancel")
	})

	t.Run("sessions", func(t *testing.T) {
		session := types.Session{
			ID:        "sess-1",
			SystemID:  "sys-1",
			Action:    types.ActionCharge,
			Status:    types.SessionCompleted,
			StartedAt: day.Add(10 * time.Hour),
			EndedAt:   day.Add(10*time.Hour + 2*types.Quarter),
			Intervals: 2,
		}
		require.NoError(t, db.UpsertSession(ctx, session))

		u := fmt.Sprintf("%s/api/history/sessions?start=%s&end=%s", ts.URL,
			day.Format(time.RFC3339), day.AddDate(0, 0, 1).Format(time.RFC3339))
		resp, err := http.Get(u)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var sessions []types.Session
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&sessions))
		require.Len(t, sessions, 1)
		assert.Equal(t, "sess-1", sessions[0].ID)
	})
}

func TestScheduleEndpoint(t *testing.T) {
	srv, _, provider := testServer(t)
	ts := httptest.NewServer(srv.setupHandler())
	defer ts.Close()

	t.Run("not published yet", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/schedule?date=2026-01-15")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("full day preview", func(t *testing.T) {
		day := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
		pts := make([]types.PricePoint, 24)
		for i := range pts {
			pts[i] = types.PricePoint{
				TSStart:   day.Add(time.Duration(i) * time.Hour),
				TSEnd:     day.Add(time.Duration(i+1) * time.Hour),
				SEKPerKWH: 0.20 + 0.02*float64(i),
			}
		}
		provider.SetDay(day, prices.UpsampleQuarters(pts))

		resp, err := http.Get(ts.URL + "/api/schedule?date=2026-01-15")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var schedule planner.Schedule
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&schedule))
		assert.Len(t, schedule.Slots, 96)
		assert.Equal(t, 96, schedule.Summary.TotalIntervals)
	})

	t.Run("raw day curve", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/prices?date=2026-01-15")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var curve []types.PricePoint
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&curve))
		require.Len(t, curve, 96)
		assert.Equal(t, 0.20, curve[0].SEKPerKWH)
	})
}

func TestSettingsEndpoint(t *testing.T) {
	srv, _, _ := testServer(t)
	ts := httptest.NewServer(srv.setupHandler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/settings")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got types.Settings
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "sys-1", got.SystemID)
	assert.Equal(t, 95.0, got.MaxSOC)
}

func TestLiveFeed(t *testing.T) {
	srv, _, _ := testServer(t)
	ts := httptest.NewServer(srv.setupHandler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/live"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// registration races the broadcast without this
	require.Eventually(t, func() bool {
		return srv.hub.clientCount() == 1
	}, time.Second, 10*time.Millisecond)

	rec := testRecord(time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC), types.ActionCharge)
	srv.PublishRecord(rec)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var ev liveEvent
	require.NoError(t, json.Unmarshal(msg, &ev))
	assert.Equal(t, "interval", ev.Type)
	assert.Equal(t, types.ActionCharge, ev.Record.Action)
	assert.True(t, ev.Record.IntervalStart.Equal(rec.IntervalStart))
}
