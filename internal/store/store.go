// Package store keeps a history of completed assessments.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/ppiankov/icsrisk/internal/logging"
)

// ErrNotFound is returned by Get for an unknown assessment id.
var ErrNotFound = errors.New("assessment not found")

// Record is one stored assessment. Report holds the full report JSON; the
// other fields are indexed copies for listing.
type Record struct {
	ID           string          `json:"id"`
	Name         string          `json:"name,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	OverallSL    int             `json:"overallSL"`
	Mean         float64         `json:"mean"`
	P90          float64         `json:"p90"`
	PCompromised float64         `json:"pCompromised"`
	Report       json.RawMessage `json:"report,omitempty"`
}

// Repository persists assessment records.
type Repository interface {
	Save(ctx context.Context, rec Record) error
	Get(ctx context.Context, id string) (*Record, error)
	// List returns the newest records first. limit <= 0 means no limit.
	List(ctx context.Context, limit int) ([]Record, error)
	Close() error
}

// timeLayout is fixed-width so created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const schema = `
CREATE TABLE IF NOT EXISTS assessments (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL DEFAULT '',
	created_at    TEXT NOT NULL,
	overall_sl    INTEGER NOT NULL,
	mean          REAL NOT NULL,
	p90           REAL NOT NULL,
	p_compromised REAL NOT NULL,
	report        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS assessments_created_at ON assessments (created_at);
`

// SQLite is a Repository backed by a single SQLite database file.
type SQLite struct {
	db     *sql.DB
	logger *zap.Logger
}

// OpenSQLite opens (creating if needed) the database at path and applies the
// schema. ":memory:" gives a private in-memory database.
func OpenSQLite(ctx context.Context, path string, logger *zap.Logger) (*SQLite, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	// One connection keeps ":memory:" coherent and serializes writers.
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{"PRAGMA busy_timeout = 5000", "PRAGMA journal_mode = WAL", schema} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("initialize store: %w", err)
		}
	}

	return &SQLite{db: db, logger: logging.OrNop(logger)}, nil
}

// Save inserts rec, replacing any record with the same id.
func (s *SQLite) Save(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		return fmt.Errorf("save assessment: empty id")
	}
	report := rec.Report
	if len(report) == 0 {
		report = json.RawMessage("{}")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO assessments
			(id, name, created_at, overall_sl, mean, p90, p_compromised, report)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Name, rec.CreatedAt.UTC().Format(timeLayout),
		rec.OverallSL, rec.Mean, rec.P90, rec.PCompromised, string(report),
	)
	if err != nil {
		return fmt.Errorf("save assessment %s: %w", rec.ID, err)
	}
	s.logger.Debug("assessment stored", zap.String("id", rec.ID))
	return nil
}

// Get returns the record with the given id, or ErrNotFound.
func (s *SQLite) Get(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, created_at, overall_sl, mean, p90, p_compromised, report
		FROM assessments WHERE id = ?`, id)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get assessment %s: %w", id, err)
	}
	return rec, nil
}

// List returns records newest first, without their report bodies.
func (s *SQLite) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, created_at, overall_sl, mean, p90, p_compromised, ''
		FROM assessments ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list assessments: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan assessment: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list assessments: %w", err)
	}
	return records, nil
}

// Close releases the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (*Record, error) {
	var (
		rec     Record
		created string
		report  string
	)
	if err := sc.Scan(&rec.ID, &rec.Name, &created, &rec.OverallSL, &rec.Mean, &rec.P90, &rec.PCompromised, &report); err != nil {
		return nil, err
	}
	t, err := time.Parse(timeLayout, created)
	if err != nil {
		return nil, fmt.Errorf("parse created_at %q: %w", created, err)
	}
	rec.CreatedAt = t
	if report != "" {
		rec.Report = json.RawMessage(report)
	}
	return &rec, nil
}
