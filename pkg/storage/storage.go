// Package storage persists the interval ledger and session history. Two
// backends exist: Firestore for hosted deployments and SQLite for
// single-site installations.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/voltvakt/voltvakt/pkg/types"
)

var (
	// ErrDuplicateInterval means a record already exists for the
	// (systemID, intervalStart) pair. The ledger is insert-once.
	ErrDuplicateInterval = errors.New("interval already recorded")
	// ErrIntervalNotFound means no record exists for the requested slot.
	ErrIntervalNotFound = errors.New("interval not found")
	// ErrSessionNotFound means no session matches the query.
	ErrSessionNotFound = errors.New("session not found")
)

// Database defines the interface for persisting the ledger and sessions.
type Database interface {
	// Ledger. InsertInterval fails with ErrDuplicateInterval when the slot
	// is already recorded; only UpdateIntervalCosts may touch an existing
	// row, and only its derived cost fields.
	InsertInterval(ctx context.Context, rec types.IntervalRecord) error
	GetInterval(ctx context.Context, systemID string, start time.Time) (types.IntervalRecord, error)
	GetIntervals(ctx context.Context, systemID string, start, end time.Time) ([]types.IntervalRecord, error)
	GetLatestInterval(ctx context.Context, systemID string) (*types.IntervalRecord, error)
	UpdateIntervalCosts(ctx context.Context, rec types.IntervalRecord) error

	// Sessions
	UpsertSession(ctx context.Context, session types.Session) error
	GetActiveSession(ctx context.Context, systemID string) (*types.Session, error)
	GetSessions(ctx context.Context, systemID string, start, end time.Time) ([]types.Session, error)

	// Lifecycle
	Close() error
}

// Configured sets up the storage backend based on flags.
func Configured() Database {
	provider := lflag.String("storage-provider", "sqlite", "Storage provider to use (available: sqlite, firestore)")

	var p struct{ Database }

	fs := configuredFirestore()
	sq := configuredSQLite()

	lflag.Do(func() {
		switch *provider {
		case "firestore":
			if err := fs.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("firestore init failed: %v", err))
			}
			p.Database = fs
		case "sqlite":
			if err := sq.Init(); err != nil {
				panic(fmt.Sprintf("sqlite init failed: %v", err))
			}
			p.Database = sq
		default:
			panic(fmt.Sprintf("unknown storage provider: %s", *provider))
		}
	})

	return &p
}
