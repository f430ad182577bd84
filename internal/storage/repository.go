package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	_ "modernc.org/sqlite"
)

var (
	// ErrNotConfigured indicates the store was not initialised.
	ErrNotConfigured = errors.New("storage: store not configured")
)

const sqliteDateLayout = "2006-01-02"

const (
	upsertSnapshotSQL = `INSERT INTO snapshots (
        day,
        total_usd,
        total_rub,
        updated_at
    ) VALUES (
        ?,?,?,?
    )
    ON CONFLICT (day) DO UPDATE
    SET
        total_usd  = excluded.total_usd,
        total_rub  = excluded.total_rub,
        updated_at = excluded.updated_at;`

	listRecentSnapshotsSQL = `SELECT
        day,
        total_usd,
        total_rub
    FROM snapshots
    ORDER BY day DESC
    LIMIT ?;`
)

// SnapshotStore persists daily portfolio snapshots.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snap Snapshot) error
	// ListRecentSnapshots returns at most limit snapshots, newest first.
	ListRecentSnapshots(ctx context.Context, limit int) ([]Snapshot, error)
	Close() error
}

var _ SnapshotStore = (*SQLiteStore)(nil)

// SQLiteStore keeps snapshots in a local SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	loc    *time.Location
	logger zerolog.Logger
}

// NewSQLiteStore opens (creating if needed) the database at path and applies
// pending migrations.
func NewSQLiteStore(path string, loc *time.Location, logger zerolog.Logger) (*SQLiteStore, error) {
	if path == "" {
		return nil, ErrNotConfigured
	}
	if loc == nil {
		loc = time.UTC
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := RunMigrations(path); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{
		db:     db,
		loc:    loc,
		logger: logger.With().Str("component", "sqlite_store").Logger(),
	}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	if s == nil || s.db == nil {
		return nil, ErrNotConfigured
	}
	return s.db, nil
}

// SaveSnapshot inserts or replaces the snapshot for its calendar day.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snap Snapshot) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	day := snap.Date.In(s.loc).Format(sqliteDateLayout)
	if _, err := db.ExecContext(ctx, upsertSnapshotSQL,
		day,
		snap.USD.StringFixed(2),
		snap.RUB.StringFixed(2),
		time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}

// ListRecentSnapshots lists the most recent snapshots ordered by descending day.
func (s *SQLiteStore) ListRecentSnapshots(ctx context.Context, limit int) ([]Snapshot, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []Snapshot{}, nil
	}

	rows, err := db.QueryContext(ctx, listRecentSnapshotsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent snapshots: %w", err)
	}
	defer rows.Close()

	snaps := make([]Snapshot, 0, limit)
	for rows.Next() {
		var day, usdStr, rubStr string
		if err := rows.Scan(&day, &usdStr, &rubStr); err != nil {
			return nil, err
		}
		snap, err := s.parseRow(day, usdStr, rubStr)
		if err != nil {
			s.logger.Warn().Err(err).Str("day", day).Msg("skipping malformed snapshot row")
			continue
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return snaps, nil
}

func (s *SQLiteStore) parseRow(day, usdStr, rubStr string) (Snapshot, error) {
	date, err := time.ParseInLocation(sqliteDateLayout, day, s.loc)
	if err != nil {
		return Snapshot{}, fmt.Errorf("parse day: %w", err)
	}
	usd, err := decimal.NewFromString(usdStr)
	if err != nil {
		return Snapshot{}, fmt.Errorf("parse usd total: %w", err)
	}
	rub, err := decimal.NewFromString(rubStr)
	if err != nil {
		return Snapshot{}, fmt.Errorf("parse rub total: %w", err)
	}
	return Snapshot{Date: date, USD: usd, RUB: rub}, nil
}
