package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/voltvakt/voltvakt/pkg/storage"
	"github.com/voltvakt/voltvakt/pkg/storage/storagemock"
	"github.com/voltvakt/voltvakt/pkg/types"
)

func testTracker(t *testing.T) (*Tracker, storage.Database) {
	t.Helper()
	db, err := storage.NewSQLite(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db, time.UTC), db
}

func rec(start time.Time, action types.Action, soc, power, price float64) *types.IntervalRecord {
	return &types.IntervalRecord{
		SystemID:      "sys-1",
		IntervalStart: start,
		IntervalEnd:   start.Add(types.Quarter),
		SOCStart:      soc,
		Action:        action,
		PowerKW:       power,
		Price:         price,
	}
}

func TestObserve(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)

	t.Run("first interval opens a session", func(t *testing.T) {
		tr, _ := testTracker(t)
		r := rec(start, types.ActionCharge, 50, 3.0, 0.20)
		s, err := tr.Observe(ctx, r)
		require.NoError(t, err)
		assert.Equal(t, types.SessionActive, s.Status)
		assert.Equal(t, types.ActionCharge, s.Action)
		assert.Equal(t, 1, s.Intervals)
		assert.Equal(t, s.ID, r.SessionID, "record carries the session id")
	})

	t.Run("consecutive same action extends", func(t *testing.T) {
		tr, _ := testTracker(t)
		first, err := tr.Observe(ctx, rec(start, types.ActionCharge, 50, 3.0, 0.20))
		require.NoError(t, err)
		second, err := tr.Observe(ctx, rec(start.Add(types.Quarter), types.ActionCharge, 57.2, 3.0, 0.40))
		require.NoError(t, err)

		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, 2, second.Intervals)
		assert.Equal(t, 1.5, second.EnergyKWH)
		// Equal energies in both slots, so the weighted mean is the midpoint.
		assert.InDelta(t, 0.30, second.AvgPrice, 0.0001)
		assert.Equal(t, 57.2, second.EndSOC)
	})

	t.Run("action change completes and reopens", func(t *testing.T) {
		tr, db := testTracker(t)
		first, err := tr.Observe(ctx, rec(start, types.ActionCharge, 50, 3.0, 0.20))
		require.NoError(t, err)
		next, err := tr.Observe(ctx, rec(start.Add(types.Quarter), types.ActionIdle, 57.2, 0, 0.40))
		require.NoError(t, err)

		assert.NotEqual(t, first.ID, next.ID)
		sessions, err := db.GetSessions(ctx, "sys-1", start.Add(-time.Hour), start.Add(time.Hour))
		require.NoError(t, err)
		require.Len(t, sessions, 2)
		closed := sessions[0]
		assert.Equal(t, types.SessionCompleted, closed.Status)
		assert.True(t, closed.EndedAt.Equal(start.Add(types.Quarter)),
			"completed duration equals its intervals")
	})

	t.Run("gap aborts the old session", func(t *testing.T) {
		tr, db := testTracker(t)
		_, err := tr.Observe(ctx, rec(start, types.ActionCharge, 50, 3.0, 0.20))
		require.NoError(t, err)
		// Two slots missed, same action resumes.
		_, err = tr.Observe(ctx, rec(start.Add(3*types.Quarter), types.ActionCharge, 57.2, 3.0, 0.25))
		require.NoError(t, err)

		sessions, err := db.GetSessions(ctx, "sys-1", start.Add(-time.Hour), start.Add(time.Hour))
		require.NoError(t, err)
		require.Len(t, sessions, 2)
		assert.Equal(t, types.SessionAborted, sessions[0].Status)
		assert.True(t, sessions[0].EndedAt.Equal(start.Add(types.Quarter)))
	})

	t.Run("single missed quarter completes instead of aborting", func(t *testing.T) {
		tr, db := testTracker(t)
		_, err := tr.Observe(ctx, rec(start, types.ActionCharge, 50, 3.0, 0.20))
		require.NoError(t, err)
		_, err = tr.Observe(ctx, rec(start.Add(2*types.Quarter), types.ActionCharge, 57.2, 3.0, 0.25))
		require.NoError(t, err)

		sessions, err := db.GetSessions(ctx, "sys-1", start.Add(-time.Hour), start.Add(time.Hour))
		require.NoError(t, err)
		require.Len(t, sessions, 2)
		assert.Equal(t, types.SessionCompleted, sessions[0].Status)
	})

	t.Run("daily rollover closes across midnight", func(t *testing.T) {
		tr, _ := testTracker(t)
		lastSlot := time.Date(2026, 1, 15, 23, 45, 0, 0, time.UTC)
		first, err := tr.Observe(ctx, rec(lastSlot, types.ActionIdle, 50, 0, 0.40))
		require.NoError(t, err)
		next, err := tr.Observe(ctx, rec(lastSlot.Add(types.Quarter), types.ActionIdle, 50, 0, 0.35))
		require.NoError(t, err)
		assert.NotEqual(t, first.ID, next.ID)
	})

	t.Run("at most one active session", func(t *testing.T) {
		tr, db := testTracker(t)
		for i, action := range []types.Action{types.ActionCharge, types.ActionIdle, types.ActionDischarge} {
			_, err := tr.Observe(ctx, rec(start.Add(time.Duration(i)*types.Quarter), action, 50, 1, 0.40))
			require.NoError(t, err)

			active, err := db.GetActiveSession(ctx, "sys-1")
			require.NoError(t, err)
			require.NotNil(t, active)
			assert.Equal(t, action, active.Action)
		}
	})
}

func TestCloseActive(t *testing.T) {
	ctx := context.Background()
	tr, db := testTracker(t)
	start := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)

	_, err := tr.Observe(ctx, rec(start, types.ActionCharge, 50, 3.0, 0.20))
	require.NoError(t, err)
	require.NoError(t, tr.CloseActive(ctx, "sys-1", start.Add(types.Quarter)))

	active, err := db.GetActiveSession(ctx, "sys-1")
	require.NoError(t, err)
	assert.Nil(t, active)

	t.Run("idempotent with nothing open", func(t *testing.T) {
		assert.NoError(t, tr.CloseActive(ctx, "sys-1", start.Add(2*types.Quarter)))
	})
}

func TestPlanDefersWrites(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)

	mdb := new(storagemock.MockDatabase)
	mdb.On("GetActiveSession", mock.Anything, "sys-1").Return(nil, nil)
	tracker := New(mdb, time.UTC)

	r := rec(start, types.ActionCharge, 50, 3.0, 0.20)
	plan, err := tracker.Plan(ctx, r)
	require.NoError(t, err)
	assert.Equal(t, plan.Session().ID, r.SessionID, "record carries the session id before any write")
	mdb.AssertNotCalled(t, "UpsertSession", mock.Anything, mock.Anything)

	mdb.On("UpsertSession", mock.Anything, mock.Anything).Return(nil)
	s, err := tracker.Commit(ctx, plan)
	require.NoError(t, err)
	assert.Equal(t, types.SessionActive, s.Status)
	mdb.AssertCalled(t, "UpsertSession", mock.Anything, mock.Anything)
}
