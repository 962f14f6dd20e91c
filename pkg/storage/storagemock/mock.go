// Package storagemock provides a testify mock of the storage.Database
// interface.
package storagemock

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/voltvakt/voltvakt/pkg/storage"
	"github.com/voltvakt/voltvakt/pkg/types"
)

type MockDatabase struct {
	mock.Mock
}

var _ storage.Database = (*MockDatabase)(nil)

func (m *MockDatabase) InsertInterval(ctx context.Context, rec types.IntervalRecord) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *MockDatabase) GetInterval(ctx context.Context, systemID string, start time.Time) (types.IntervalRecord, error) {
	args := m.Called(ctx, systemID, start)
	return args.Get(0).(types.IntervalRecord), args.Error(1)
}

func (m *MockDatabase) GetIntervals(ctx context.Context, systemID string, start, end time.Time) ([]types.IntervalRecord, error) {
	args := m.Called(ctx, systemID, start, end)
	if recs, ok := args.Get(0).([]types.IntervalRecord); ok {
		return recs, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDatabase) GetLatestInterval(ctx context.Context, systemID string) (*types.IntervalRecord, error) {
	args := m.Called(ctx, systemID)
	if rec, ok := args.Get(0).(*types.IntervalRecord); ok {
		return rec, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDatabase) UpdateIntervalCosts(ctx context.Context, rec types.IntervalRecord) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *MockDatabase) UpsertSession(ctx context.Context, session types.Session) error {
	args := m.Called(ctx, session)
	return args.Error(0)
}

func (m *MockDatabase) GetActiveSession(ctx context.Context, systemID string) (*types.Session, error) {
	args := m.Called(ctx, systemID)
	if sess, ok := args.Get(0).(*types.Session); ok {
		return sess, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDatabase) GetSessions(ctx context.Context, systemID string, start, end time.Time) ([]types.Session, error) {
	args := m.Called(ctx, systemID, start, end)
	if sessions, ok := args.Get(0).([]types.Session); ok {
		return sessions, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDatabase) Close() error {
	args := m.Called()
	return args.Error(0)
}
