// Package store caches decoded flights in SQLite keyed by file identity, so
// repeated requests for the same log skip the decode entirely. The core
// decoders stay stateless; this cache is an external optimization layered on
// top of them.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"example.com/uavlog/internal/flight"
)

// CachedFlight is one stored decode result: the summary plus the aligned
// rows in their JSON row form.
type CachedFlight struct {
	Summary flight.Summary
	Rows    []map[string]any
}

// Store persists decoded flights in a single SQLite database. Connections
// open lazily; all writes are transactional.
type Store struct {
	dbPath string

	db     *sql.DB
	dbOnce sync.Once
	dbErr  error

	closeOnce sync.Once
	closeErr  error
}

// New creates a store backed by the SQLite database at dbPath. The schema is
// initialized on first use.
func New(dbPath string) *Store {
	return &Store{dbPath: dbPath}
}

func (s *Store) getDB() (*sql.DB, error) {
	s.dbOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on", s.dbPath))
		if err != nil {
			s.dbErr = fmt.Errorf("opening flight cache: %w", err)
			return
		}
		if _, err := db.Exec(initSchemaSQL); err != nil {
			_ = db.Close()
			s.dbErr = fmt.Errorf("initializing flight cache schema: %w", err)
			return
		}
		s.db = db
	})
	return s.db, s.dbErr
}

// Put stores a decoded flight under its content hash, replacing any earlier
// decode of the same file.
func (s *Store) Put(ctx context.Context, sha256 string, sizeBytes int64, res *flight.Result, sum flight.Summary) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	rows := make([]map[string]any, 0, sum.Rows)
	if !res.Empty() {
		for i := 0; i < res.Table.Len(); i++ {
			rows = append(rows, res.Table.Row(i))
		}
	}
	rowsJSON, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("encoding rows: %w", err)
	}
	sumJSON, err := json.Marshal(sum)
	if err != nil {
		return fmt.Errorf("encoding summary: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, upsertFlightSQL,
		sha256, res.Path, string(res.Firmware), sizeBytes, sum.Rows, sum.Duration, sumJSON, rowsJSON); err != nil {
		return fmt.Errorf("storing flight: %w", err)
	}
	if _, err := tx.ExecContext(ctx, deleteSegmentsSQL, sha256); err != nil {
		return fmt.Errorf("clearing segments: %w", err)
	}
	for i, seg := range sum.Modes {
		if _, err := tx.ExecContext(ctx, insertSegmentSQL, sha256, i, seg.Start, seg.End, seg.Mode); err != nil {
			return fmt.Errorf("storing segment %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// Get fetches a cached flight by content hash. The second return reports
// whether the flight was present.
func (s *Store) Get(ctx context.Context, sha256 string) (*CachedFlight, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, false, err
	}
	var sumJSON, rowsJSON []byte
	err = db.QueryRowContext(ctx, selectFlightSQL, sha256).Scan(&sumJSON, &rowsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("fetching flight: %w", err)
	}
	var cached CachedFlight
	if err := json.Unmarshal(sumJSON, &cached.Summary); err != nil {
		return nil, false, fmt.Errorf("decoding summary: %w", err)
	}
	if err := json.Unmarshal(rowsJSON, &cached.Rows); err != nil {
		return nil, false, fmt.Errorf("decoding rows: %w", err)
	}
	return &cached, true, nil
}

// List returns the summaries of every cached flight, oldest decode first.
func (s *Store) List(ctx context.Context) ([]flight.Summary, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, listFlightsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing flights: %w", err)
	}
	defer rows.Close()
	var out []flight.Summary
	for rows.Next() {
		var sumJSON []byte
		if err := rows.Scan(&sumJSON); err != nil {
			return nil, fmt.Errorf("scanning flight row: %w", err)
		}
		var sum flight.Summary
		if err := json.Unmarshal(sumJSON, &sum); err != nil {
			return nil, fmt.Errorf("decoding summary: %w", err)
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Close releases the database connection. Safe to call more than once.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		if s.db != nil {
			s.closeErr = s.db.Close()
		}
	})
	return s.closeErr
}
