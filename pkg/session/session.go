// Package session groups consecutive same-action intervals into sessions
// and maintains their realized aggregates. Transitions are driven only by
// the controller: states go active to completed on a clean action change or
// rollover, and active to aborted when a gap interrupts the run.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/voltvakt/voltvakt/pkg/storage"
	"github.com/voltvakt/voltvakt/pkg/types"
)

// Tracker owns the session state machine for all systems.
type Tracker struct {
	db  storage.Database
	loc *time.Location
}

// New returns a tracker persisting through db. loc is the market timezone
// used for the daily rollover.
func New(db storage.Database, loc *time.Location) *Tracker {
	if loc == nil {
		loc = time.UTC
	}
	return &Tracker{db: db, loc: loc}
}

// Transition is a session state change computed from one interval but not
// yet persisted. The controller writes the interval record between Plan and
// Commit, so an insert failure leaves the tracker untouched.
type Transition struct {
	closed *types.Session
	next   *types.Session
}

// Session returns the session the observed interval belongs to.
func (tr *Transition) Session() *types.Session { return tr.next }

// Plan folds one interval into the session state in memory and returns the
// pending transition. It sets rec.SessionID so the record can carry it but
// writes nothing; call Commit once the record is durable.
func (t *Tracker) Plan(ctx context.Context, rec *types.IntervalRecord) (*Transition, error) {
	active, err := t.db.GetActiveSession(ctx, rec.SystemID)
	if err != nil {
		return nil, fmt.Errorf("failed to load active session: %w", err)
	}

	var tr Transition
	if active != nil {
		expectedNext := active.StartedAt.Add(time.Duration(active.Intervals) * types.Quarter)
		sameDay := active.StartedAt.In(t.loc).Format("2006-01-02") == rec.IntervalStart.In(t.loc).Format("2006-01-02")

		switch {
		case active.Action == rec.Action && rec.IntervalStart.Equal(expectedNext) && sameDay:
			t.extend(active, rec)
			rec.SessionID = active.ID
			tr.next = active
			return &tr, nil

		case rec.IntervalStart.Sub(expectedNext) >= 2*types.Quarter:
			// Two or more quarters went missing; the run was interrupted
			// and the old session cannot be trusted.
			tr.closed = ended(active, types.SessionAborted, expectedNext, rec.SOCStart)

		default:
			tr.closed = ended(active, types.SessionCompleted, expectedNext, rec.SOCStart)
		}
	}

	tr.next = t.open(rec)
	rec.SessionID = tr.next.ID
	return &tr, nil
}

// Commit persists a planned transition and returns the session the interval
// belongs to.
func (t *Tracker) Commit(ctx context.Context, tr *Transition) (*types.Session, error) {
	if tr.closed != nil {
		if err := t.db.UpsertSession(ctx, *tr.closed); err != nil {
			return nil, fmt.Errorf("failed to close session: %w", err)
		}
	}
	if err := t.db.UpsertSession(ctx, *tr.next); err != nil {
		return nil, fmt.Errorf("failed to persist session: %w", err)
	}
	return tr.next, nil
}

// Observe plans and immediately commits, for callers with no intervening
// write.
func (t *Tracker) Observe(ctx context.Context, rec *types.IntervalRecord) (*types.Session, error) {
	tr, err := t.Plan(ctx, rec)
	if err != nil {
		return nil, err
	}
	return t.Commit(ctx, tr)
}

// CloseActive force-closes any open session, used at shutdown and at the
// daily rollover when no new interval follows immediately.
func (t *Tracker) CloseActive(ctx context.Context, systemID string, now time.Time) error {
	active, err := t.db.GetActiveSession(ctx, systemID)
	if err != nil {
		return fmt.Errorf("failed to load active session: %w", err)
	}
	if active == nil {
		return nil
	}
	end := active.StartedAt.Add(time.Duration(active.Intervals) * types.Quarter)
	return t.close(ctx, active, types.SessionCompleted, end, active.EndSOC)
}

func (t *Tracker) open(rec *types.IntervalRecord) *types.Session {
	return &types.Session{
		ID:              uuid.NewString(),
		SystemID:        rec.SystemID,
		Action:          rec.Action,
		Status:          types.SessionActive,
		StartedAt:       rec.IntervalStart,
		StartSOC:        rec.SOCStart,
		EndSOC:          rec.SOCStart,
		PowerKW:         rec.PowerKW,
		AvgPrice:        types.RoundPrice(rec.Price),
		EnergyKWH:       types.RoundPower(rec.PowerKW * types.QuarterHours),
		Intervals:       1,
		DecisionContext: rec.DecisionFactors,
	}
}

// extend folds one more interval into an active session. The average price
// is energy-weighted; zero-energy runs degrade to a plain mean.
func (t *Tracker) extend(s *types.Session, rec *types.IntervalRecord) {
	energy := rec.PowerKW * types.QuarterHours
	if s.EnergyKWH+energy > 0 {
		s.AvgPrice = types.RoundPrice((s.AvgPrice*s.EnergyKWH + rec.Price*energy) / (s.EnergyKWH + energy))
	} else {
		s.AvgPrice = types.RoundPrice((s.AvgPrice*float64(s.Intervals) + rec.Price) / float64(s.Intervals+1))
	}
	s.EnergyKWH = types.RoundPower(s.EnergyKWH + energy)
	s.Intervals++
	s.PowerKW = rec.PowerKW
	s.EndSOC = rec.SOCStart
}

// ended copies a session into its terminal state.
func ended(s *types.Session, status types.SessionStatus, endedAt time.Time, endSOC float64) *types.Session {
	closed := *s
	closed.Status = status
	closed.EndedAt = endedAt
	closed.EndSOC = endSOC
	return &closed
}

func (t *Tracker) close(ctx context.Context, s *types.Session, status types.SessionStatus, endedAt time.Time, endSOC float64) error {
	if err := t.db.UpsertSession(ctx, *ended(s, status, endedAt, endSOC)); err != nil {
		return fmt.Errorf("failed to close session: %w", err)
	}
	return nil
}
