package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/levenlabs/go-lflag"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/voltvakt/voltvakt/pkg/types"
)

// FirestoreDatabase implements Database using Google Cloud Firestore.
// Records are stored as JSON strings for portability, with a timestamp field
// alongside for range queries.
type FirestoreDatabase struct {
	client    *firestore.Client
	projectID string
	database  string
}

// configuredFirestore sets up the Firestore backend.
// It registers flags for configuration.
func configuredFirestore() *FirestoreDatabase {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")

	f := &FirestoreDatabase{}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database

		// set this because that's how firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// Init initializes the Firestore client.
// This must be called before using the database methods.
func (f *FirestoreDatabase) Init(ctx context.Context) error {
	projectID := f.projectID
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	database := f.database
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database)
	if err != nil {
		return fmt.Errorf("failed to create firestore client (project=%s, database=%s): %w", projectID, database, err)
	}
	f.client = client
	return nil
}

// Close closes the Firestore client connection.
func (f *FirestoreDatabase) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

func (f *FirestoreDatabase) intervals(systemID string) (*firestore.CollectionRef, error) {
	if systemID == "" {
		return nil, fmt.Errorf("systemID cannot be empty")
	}
	return f.client.Collection("systems").Doc(systemID).Collection("intervals"), nil
}

func (f *FirestoreDatabase) sessions(systemID string) (*firestore.CollectionRef, error) {
	if systemID == "" {
		return nil, fmt.Errorf("systemID cannot be empty")
	}
	return f.client.Collection("systems").Doc(systemID).Collection("sessions"), nil
}

// intervalDocID keys interval docs by their aligned start time.
func intervalDocID(start time.Time) string {
	return start.UTC().Format(time.RFC3339)
}

// InsertInterval writes a new ledger record. Create fails on an existing
// document, which maps to ErrDuplicateInterval.
func (f *FirestoreDatabase) InsertInterval(ctx context.Context, rec types.IntervalRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	coll, err := f.intervals(rec.SystemID)
	if err != nil {
		return err
	}
	jsonBytes, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal interval: %w", err)
	}
	_, err = coll.Doc(intervalDocID(rec.IntervalStart)).Create(ctx, map[string]interface{}{
		"json": string(jsonBytes),
		"ts":   rec.IntervalStart,
	})
	if status.Code(err) == codes.AlreadyExists {
		return ErrDuplicateInterval
	}
	if err != nil {
		return fmt.Errorf("failed to create interval doc: %w", err)
	}
	return nil
}

// UpdateIntervalCosts rewrites an existing record's JSON without touching
// its key, used only by the forward cost recomputation.
func (f *FirestoreDatabase) UpdateIntervalCosts(ctx context.Context, rec types.IntervalRecord) error {
	coll, err := f.intervals(rec.SystemID)
	if err != nil {
		return err
	}
	jsonBytes, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal interval: %w", err)
	}
	_, err = coll.Doc(intervalDocID(rec.IntervalStart)).Update(ctx, []firestore.Update{
		{Path: "json", Value: string(jsonBytes)},
	})
	if status.Code(err) == codes.NotFound {
		return ErrIntervalNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update interval doc: %w", err)
	}
	return nil
}

// GetInterval fetches a single slot.
func (f *FirestoreDatabase) GetInterval(ctx context.Context, systemID string, start time.Time) (types.IntervalRecord, error) {
	coll, err := f.intervals(systemID)
	if err != nil {
		return types.IntervalRecord{}, err
	}
	doc, err := coll.Doc(intervalDocID(start)).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return types.IntervalRecord{}, ErrIntervalNotFound
	}
	if err != nil {
		return types.IntervalRecord{}, fmt.Errorf("failed to fetch interval doc: %w", err)
	}
	return decodeIntervalDoc(doc)
}

// GetIntervals returns records with start in [start, end), ordered by time.
func (f *FirestoreDatabase) GetIntervals(ctx context.Context, systemID string, start, end time.Time) ([]types.IntervalRecord, error) {
	coll, err := f.intervals(systemID)
	if err != nil {
		return nil, err
	}
	iter := coll.Where("ts", ">=", start).Where("ts", "<", end).OrderBy("ts", firestore.Asc).Documents(ctx)
	defer iter.Stop()

	var out []types.IntervalRecord
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate intervals: %w", err)
		}
		rec, err := decodeIntervalDoc(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// GetLatestInterval returns the newest record, or nil when the ledger is
// empty.
func (f *FirestoreDatabase) GetLatestInterval(ctx context.Context, systemID string) (*types.IntervalRecord, error) {
	coll, err := f.intervals(systemID)
	if err != nil {
		return nil, err
	}
	iter := coll.OrderBy("ts", firestore.Desc).Limit(1).Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if err == iterator.Done {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch latest interval: %w", err)
	}
	rec, err := decodeIntervalDoc(doc)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func decodeIntervalDoc(doc *firestore.DocumentSnapshot) (types.IntervalRecord, error) {
	val, err := doc.DataAt("json")
	if err != nil {
		return types.IntervalRecord{}, fmt.Errorf("interval doc missing 'json' field: %w", err)
	}
	jsonStr, ok := val.(string)
	if !ok {
		return types.IntervalRecord{}, fmt.Errorf("interval 'json' field is not a string")
	}
	var rec types.IntervalRecord
	if err := json.Unmarshal([]byte(jsonStr), &rec); err != nil {
		return types.IntervalRecord{}, fmt.Errorf("failed to unmarshal interval json: %w", err)
	}
	return rec, nil
}

// UpsertSession writes a session keyed by its ID.
func (f *FirestoreDatabase) UpsertSession(ctx context.Context, session types.Session) error {
	if session.ID == "" {
		return fmt.Errorf("session ID cannot be empty")
	}
	coll, err := f.sessions(session.SystemID)
	if err != nil {
		return err
	}
	jsonBytes, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	_, err = coll.Doc(session.ID).Set(ctx, map[string]interface{}{
		"json":   string(jsonBytes),
		"ts":     session.StartedAt,
		"status": string(session.Status),
	})
	if err != nil {
		return fmt.Errorf("failed to write session doc: %w", err)
	}
	return nil
}

// GetActiveSession returns the open session, or nil when everything is
// closed. At most one session is active per system.
func (f *FirestoreDatabase) GetActiveSession(ctx context.Context, systemID string) (*types.Session, error) {
	coll, err := f.sessions(systemID)
	if err != nil {
		return nil, err
	}
	iter := coll.Where("status", "==", string(types.SessionActive)).Limit(1).Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if err == iterator.Done {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch active session: %w", err)
	}
	sess, err := decodeSessionDoc(doc)
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// GetSessions returns sessions started in [start, end), oldest first.
func (f *FirestoreDatabase) GetSessions(ctx context.Context, systemID string, start, end time.Time) ([]types.Session, error) {
	coll, err := f.sessions(systemID)
	if err != nil {
		return nil, err
	}
	iter := coll.Where("ts", ">=", start).Where("ts", "<", end).OrderBy("ts", firestore.Asc).Documents(ctx)
	defer iter.Stop()

	var out []types.Session
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate sessions: %w", err)
		}
		sess, err := decodeSessionDoc(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, nil
}

func decodeSessionDoc(doc *firestore.DocumentSnapshot) (types.Session, error) {
	val, err := doc.DataAt("json")
	if err != nil {
		return types.Session{}, fmt.Errorf("session doc missing 'json' field: %w", err)
	}
	jsonStr, ok := val.(string)
	if !ok {
		return types.Session{}, fmt.Errorf("session 'json' field is not a string")
	}
	var sess types.Session
	if err := json.Unmarshal([]byte(jsonStr), &sess); err != nil {
		return types.Session{}, fmt.Errorf("failed to unmarshal session json: %w", err)
	}
	return sess, nil
}
