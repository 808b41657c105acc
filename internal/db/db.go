// Package db is the durable event store. Each confirmed motion event is
// appended once to the events table of a SQLite database whose schema is
// managed by embedded migrations.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/motion.report/internal/evidence"
)

// TimestampFormat is the fixed text layout of events.timestamp.
const TimestampFormat = "2006-01-02T15:04:05.000Z07:00"

// ErrEventNotFound is returned by Event for an unknown id.
var ErrEventNotFound = errors.New("event not found")

// StorageError wraps any failure to persist or read events.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// DB is the SQLite event store. The embedded *sql.DB is limited to one
// connection, so writes from the loop and reads from admin routes serialize.
type DB struct {
	*sql.DB
	path string
}

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
}

// OpenDB opens the database without touching the schema. The migrate
// subcommand uses it so that migrations alone decide the schema.
func OpenDB(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	// a single writer keeps WAL checkpoints and busy retries predictable
	sqlDB.SetMaxOpenConns(1)
	for _, p := range pragmas {
		if _, err := sqlDB.Exec(p); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}
	return &DB{DB: sqlDB, path: path}, nil
}

// NewDB opens the database and applies any pending migrations. Opening an
// existing database never drops or truncates data.
func NewDB(path string) (*DB, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	migrationsFS, err := getMigrationsFS()
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := db.MigrateUp(migrationsFS); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialise schema: %w", err)
	}
	return db, nil
}

// Path is the file the database was opened from.
func (db *DB) Path() string { return db.path }

// AppendEvent stores a bundle and returns its event id. Ids come from
// AUTOINCREMENT and are never reused.
func (db *DB) AppendEvent(ctx context.Context, b *evidence.Bundle) (int64, error) {
	if b == nil {
		return 0, &StorageError{Op: "append", Err: errors.New("nil bundle")}
	}
	if b.ImagePath == "" {
		return 0, &StorageError{Op: "append", Err: errors.New("bundle has no image path")}
	}

	var distanceMM sql.NullInt64
	if b.DistanceMM != nil {
		distanceMM = sql.NullInt64{Int64: int64(*b.DistanceMM), Valid: true}
	}
	var sessionID sql.NullString
	if b.SessionID != "" {
		sessionID = sql.NullString{String: b.SessionID, Valid: true}
	}

	res, err := db.ExecContext(ctx, `
		INSERT INTO events (
			timestamp, image_path, estimated_distance_m, label, confidence,
			distance_mm, speed_mps, spectrum_path, session_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.Timestamp.Format(TimestampFormat),
		b.ImagePath,
		nullFloat(b.EstimatedDistanceM),
		nullString(b.Label),
		nullFloat(b.Confidence),
		distanceMM,
		nullFloat(b.SpeedMPS),
		nullString(b.SpectrumPath),
		sessionID,
	)
	if err != nil {
		return 0, &StorageError{Op: "append", Err: err}
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, &StorageError{Op: "append", Err: err}
	}
	return id, nil
}

// EventRecord is a persisted bundle.
type EventRecord struct {
	EventID            int64     `json:"event_id"`
	Timestamp          time.Time `json:"timestamp"`
	ImagePath          string    `json:"image_path"`
	EstimatedDistanceM *float64  `json:"estimated_distance_m,omitempty"`
	Label              *string   `json:"label,omitempty"`
	Confidence         *float64  `json:"confidence,omitempty"`
	DistanceMM         *int64    `json:"distance_mm,omitempty"`
	SpeedMPS           *float64  `json:"speed_mps,omitempty"`
	SpectrumPath       *string   `json:"spectrum_path,omitempty"`
	SessionID          *string   `json:"session_id,omitempty"`
}

func (e *EventRecord) String() string {
	label := "unlabelled"
	if e.Label != nil {
		label = *e.Label
	}
	return fmt.Sprintf("event %d at %s: %s (%s)", e.EventID, e.Timestamp.Format(TimestampFormat), label, e.ImagePath)
}

const eventColumns = `event_id, timestamp, image_path, estimated_distance_m, label,
	confidence, distance_mm, speed_mps, spectrum_path, session_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (EventRecord, error) {
	var (
		e          EventRecord
		ts         string
		estimated  sql.NullFloat64
		label      sql.NullString
		confidence sql.NullFloat64
		distanceMM sql.NullInt64
		speed      sql.NullFloat64
		spectrum   sql.NullString
		session    sql.NullString
	)
	if err := row.Scan(&e.EventID, &ts, &e.ImagePath, &estimated, &label, &confidence,
		&distanceMM, &speed, &spectrum, &session); err != nil {
		return EventRecord{}, err
	}
	t, err := time.Parse(TimestampFormat, ts)
	if err != nil {
		return EventRecord{}, fmt.Errorf("event %d has malformed timestamp %q: %w", e.EventID, ts, err)
	}
	e.Timestamp = t
	e.EstimatedDistanceM = floatPtr(estimated)
	e.Label = stringPtr(label)
	e.Confidence = floatPtr(confidence)
	if distanceMM.Valid {
		v := distanceMM.Int64
		e.DistanceMM = &v
	}
	e.SpeedMPS = floatPtr(speed)
	e.SpectrumPath = stringPtr(spectrum)
	e.SessionID = stringPtr(session)
	return e, nil
}

// Events returns up to limit events, newest first. A non-positive limit
// returns every event.
func (db *DB) Events(ctx context.Context, limit int) ([]EventRecord, error) {
	q := `SELECT ` + eventColumns + ` FROM events ORDER BY event_id DESC`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, &StorageError{Op: "list", Err: err}
	}
	defer rows.Close()

	var events []EventRecord
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, &StorageError{Op: "list", Err: err}
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "list", Err: err}
	}
	return events, nil
}

// Event returns a single event by id.
func (db *DB) Event(ctx context.Context, id int64) (*EventRecord, error) {
	row := db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE event_id = ?`, id)
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, &StorageError{Op: "get", Err: err}
	}
	return &e, nil
}

// CountEvents returns the number of stored events.
func (db *DB) CountEvents(ctx context.Context) (int64, error) {
	var n int64
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		return 0, &StorageError{Op: "count", Err: err}
	}
	return n, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
