package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voltvakt/voltvakt/pkg/types"
)

func testDB(t *testing.T) *SQLiteDatabase {
	t.Helper()
	db, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testRecord(start time.Time) types.IntervalRecord {
	return types.IntervalRecord{
		SystemID:      "sys-1",
		IntervalStart: start,
		IntervalEnd:   start.Add(types.Quarter),
		Date:          start.Format("2006-01-02"),
		Hour:          start.Hour(),
		SOCStart:      50,
		Action:        types.ActionCharge,
		PowerKW:       3,
		Price:         0.25,
		PriceTier:     types.TierCheapest,
	}
}

func TestSQLiteIntervals(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	start := time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC)

	t.Run("insert and read back", func(t *testing.T) {
		rec := testRecord(start)
		require.NoError(t, db.InsertInterval(ctx, rec))

		got, err := db.GetInterval(ctx, "sys-1", start)
		require.NoError(t, err)
		assert.Equal(t, rec.Action, got.Action)
		assert.Equal(t, rec.Price, got.Price)
		assert.True(t, got.IntervalStart.Equal(start))
	})

	t.Run("duplicate slot rejected", func(t *testing.T) {
		err := db.InsertInterval(ctx, testRecord(start))
		assert.ErrorIs(t, err, ErrDuplicateInterval)
	})

	t.Run("invalid record rejected before write", func(t *testing.T) {
		rec := testRecord(start.Add(types.Quarter))
		rec.Action = types.Action("boost")
		assert.Error(t, db.InsertInterval(ctx, rec))
	})

	t.Run("range query in order", func(t *testing.T) {
		for i := 1; i <= 3; i++ {
			require.NoError(t, db.InsertInterval(ctx, testRecord(start.Add(time.Duration(i)*types.Quarter))))
		}
		recs, err := db.GetIntervals(ctx, "sys-1", start, start.Add(4*types.Quarter))
		require.NoError(t, err)
		require.Len(t, recs, 4)
		for i := 1; i < len(recs); i++ {
			assert.True(t, recs[i-1].IntervalStart.Before(recs[i].IntervalStart))
		}
	})

	t.Run("latest interval", func(t *testing.T) {
		latest, err := db.GetLatestInterval(ctx, "sys-1")
		require.NoError(t, err)
		require.NotNil(t, latest)
		assert.True(t, latest.IntervalStart.Equal(start.Add(3*types.Quarter)))
	})

	t.Run("latest for unknown system is nil", func(t *testing.T) {
		latest, err := db.GetLatestInterval(ctx, "sys-other")
		require.NoError(t, err)
		assert.Nil(t, latest)
	})

	t.Run("cost update rewrites derived fields", func(t *testing.T) {
		rec := testRecord(start)
		rec.IntervalCost = -0.1875
		rec.CumulativeChargeCost = -0.1875
		require.NoError(t, db.UpdateIntervalCosts(ctx, rec))

		got, err := db.GetInterval(ctx, "sys-1", start)
		require.NoError(t, err)
		assert.Equal(t, -0.1875, got.IntervalCost)
	})

	t.Run("cost update on missing slot errors", func(t *testing.T) {
		rec := testRecord(start.Add(50 * types.Quarter))
		assert.ErrorIs(t, db.UpdateIntervalCosts(ctx, rec), ErrIntervalNotFound)
	})
}

func TestSQLiteSessions(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	started := time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC)

	sess := types.Session{
		ID:        "11111111-1111-1111-1111-111111111111",
		SystemID:  "sys-1",
		Action:    types.ActionCharge,
		Status:    types.SessionActive,
		StartedAt: started,
		StartSOC:  50,
	}
	require.NoError(t, db.UpsertSession(ctx, sess))

	t.Run("active session found", func(t *testing.T) {
		got, err := db.GetActiveSession(ctx, "sys-1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, sess.ID, got.ID)
	})

	t.Run("completing clears active", func(t *testing.T) {
		sess.Status = types.SessionCompleted
		sess.EndedAt = started.Add(time.Hour)
		sess.EndSOC = 71.7
		require.NoError(t, db.UpsertSession(ctx, sess))

		got, err := db.GetActiveSession(ctx, "sys-1")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("range query", func(t *testing.T) {
		sessions, err := db.GetSessions(ctx, "sys-1", started.Add(-time.Hour), started.Add(time.Hour))
		require.NoError(t, err)
		require.Len(t, sessions, 1)
		assert.Equal(t, types.SessionCompleted, sessions[0].Status)
	})

	t.Run("empty id rejected", func(t *testing.T) {
		assert.Error(t, db.UpsertSession(ctx, types.Session{SystemID: "sys-1"}))
	})
}
