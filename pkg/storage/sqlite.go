package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/levenlabs/go-lflag"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/voltvakt/voltvakt/pkg/types"
)

// SQLiteDatabase implements Database on a local SQLite file. It is the
// default backend for single-site installations.
type SQLiteDatabase struct {
	db   *gorm.DB
	path string
}

// intervalRow is the ledger table. Rows keep the full record as JSON; the
// indexed columns exist for the uniqueness constraint and range scans.
type intervalRow struct {
	ID            uint      `gorm:"primarykey"`
	SystemID      string    `gorm:"uniqueIndex:idx_system_interval"`
	IntervalStart time.Time `gorm:"uniqueIndex:idx_system_interval;index"`
	JSON          string
}

type sessionRow struct {
	ID        string `gorm:"primarykey"`
	SystemID  string `gorm:"index"`
	Status    string `gorm:"index"`
	StartedAt time.Time
	JSON      string
}

// configuredSQLite sets up the SQLite backend.
func configuredSQLite() *SQLiteDatabase {
	path := lflag.String("sqlite-path", "voltvakt.db", "path to the SQLite database file")

	s := &SQLiteDatabase{}

	lflag.Do(func() {
		s.path = *path
	})

	return s
}

// NewSQLite opens a database at path without flag registration.
func NewSQLite(path string) (*SQLiteDatabase, error) {
	s := &SQLiteDatabase{path: path}
	if err := s.Init(); err != nil {
		return nil, err
	}
	return s, nil
}

// Init opens the file and migrates the schema.
func (s *SQLiteDatabase) Init() error {
	db, err := gorm.Open(sqlite.Open(s.path), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	if err := db.AutoMigrate(&intervalRow{}, &sessionRow{}); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	s.db = db
	return nil
}

// Close releases the underlying connection.
func (s *SQLiteDatabase) Close() error {
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// InsertInterval writes a new ledger record; the unique index on
// (system_id, interval_start) enforces insert-once.
func (s *SQLiteDatabase) InsertInterval(ctx context.Context, rec types.IntervalRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	jsonBytes, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal interval: %w", err)
	}
	result := s.db.WithContext(ctx).Create(&intervalRow{
		SystemID:      rec.SystemID,
		IntervalStart: rec.IntervalStart.UTC(),
		JSON:          string(jsonBytes),
	})
	if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
		return ErrDuplicateInterval
	}
	return result.Error
}

// UpdateIntervalCosts rewrites an existing record's JSON in place.
func (s *SQLiteDatabase) UpdateIntervalCosts(ctx context.Context, rec types.IntervalRecord) error {
	jsonBytes, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal interval: %w", err)
	}
	result := s.db.WithContext(ctx).Model(&intervalRow{}).
		Where("system_id = ? AND interval_start = ?", rec.SystemID, rec.IntervalStart.UTC()).
		Update("json", string(jsonBytes))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrIntervalNotFound
	}
	return nil
}

// GetInterval fetches a single slot.
func (s *SQLiteDatabase) GetInterval(ctx context.Context, systemID string, start time.Time) (types.IntervalRecord, error) {
	var row intervalRow
	result := s.db.WithContext(ctx).
		Where("system_id = ? AND interval_start = ?", systemID, start.UTC()).
		First(&row)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return types.IntervalRecord{}, ErrIntervalNotFound
	}
	if result.Error != nil {
		return types.IntervalRecord{}, result.Error
	}
	return decodeIntervalRow(row)
}

// GetIntervals returns records with start in [start, end), ordered by time.
func (s *SQLiteDatabase) GetIntervals(ctx context.Context, systemID string, start, end time.Time) ([]types.IntervalRecord, error) {
	var rows []intervalRow
	result := s.db.WithContext(ctx).
		Where("system_id = ? AND interval_start >= ? AND interval_start < ?", systemID, start.UTC(), end.UTC()).
		Order("interval_start asc").
		Find(&rows)
	if result.Error != nil {
		return nil, result.Error
	}
	out := make([]types.IntervalRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := decodeIntervalRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// GetLatestInterval returns the newest record, or nil for an empty ledger.
func (s *SQLiteDatabase) GetLatestInterval(ctx context.Context, systemID string) (*types.IntervalRecord, error) {
	var row intervalRow
	result := s.db.WithContext(ctx).
		Where("system_id = ?", systemID).
		Order("interval_start desc").
		First(&row)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if result.Error != nil {
		return nil, result.Error
	}
	rec, err := decodeIntervalRow(row)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func decodeIntervalRow(row intervalRow) (types.IntervalRecord, error) {
	var rec types.IntervalRecord
	if err := json.Unmarshal([]byte(row.JSON), &rec); err != nil {
		return types.IntervalRecord{}, fmt.Errorf("failed to unmarshal interval json: %w", err)
	}
	return rec, nil
}

// UpsertSession writes a session keyed by its ID.
func (s *SQLiteDatabase) UpsertSession(ctx context.Context, session types.Session) error {
	if session.ID == "" {
		return fmt.Errorf("session ID cannot be empty")
	}
	jsonBytes, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	row := sessionRow{
		ID:        session.ID,
		SystemID:  session.SystemID,
		Status:    string(session.Status),
		StartedAt: session.StartedAt.UTC(),
		JSON:      string(jsonBytes),
	}
	return s.db.WithContext(ctx).Save(&row).Error
}

// GetActiveSession returns the open session, or nil when everything is
// closed.
func (s *SQLiteDatabase) GetActiveSession(ctx context.Context, systemID string) (*types.Session, error) {
	var row sessionRow
	result := s.db.WithContext(ctx).
		Where("system_id = ? AND status = ?", systemID, string(types.SessionActive)).
		First(&row)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if result.Error != nil {
		return nil, result.Error
	}
	sess, err := decodeSessionRow(row)
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// GetSessions returns sessions started in [start, end), oldest first.
func (s *SQLiteDatabase) GetSessions(ctx context.Context, systemID string, start, end time.Time) ([]types.Session, error) {
	var rows []sessionRow
	result := s.db.WithContext(ctx).
		Where("system_id = ? AND started_at >= ? AND started_at < ?", systemID, start.UTC(), end.UTC()).
		Order("started_at asc").
		Find(&rows)
	if result.Error != nil {
		return nil, result.Error
	}
	out := make([]types.Session, 0, len(rows))
	for _, row := range rows {
		sess, err := decodeSessionRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, nil
}

func decodeSessionRow(row sessionRow) (types.Session, error) {
	var sess types.Session
	if err := json.Unmarshal([]byte(row.JSON), &sess); err != nil {
		return types.Session{}, fmt.Errorf("failed to unmarshal session json: %w", err)
	}
	return sess, nil
}
