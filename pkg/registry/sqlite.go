package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteStore implements Store using SQLite for persistence. It is suitable
// for single-instance deployments where provider records must survive
// restarts.
//
// Records are serialized as JSON blobs keyed by slug; the store uses a
// write-ahead log for better concurrent performance.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string

	subscribers []ChangeFunc
	subMu       sync.RWMutex
	closeOnce   sync.Once

	putStmt    *sql.Stmt
	getStmt    *sql.Stmt
	deleteStmt *sql.Stmt
	listStmt   *sql.Stmt
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS providers (
	slug       TEXT PRIMARY KEY,
	record     TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
`

// NewSQLiteStore opens (creating if necessary) a SQLite-backed provider
// store at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("dbPath cannot be empty")
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer; WAL for concurrent readers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	s := &SQLiteStore{db: db, dbPath: dbPath}
	if err := s.prepareStatements(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) prepareStatements() error {
	var err error

	s.putStmt, err = s.db.Prepare(
		"INSERT INTO providers (slug, record, updated_at) VALUES (?, ?, ?) " +
			"ON CONFLICT(slug) DO UPDATE SET record = excluded.record, updated_at = excluded.updated_at")
	if err != nil {
		return fmt.Errorf("failed to prepare put statement: %w", err)
	}

	s.getStmt, err = s.db.Prepare("SELECT record FROM providers WHERE slug = ?")
	if err != nil {
		return fmt.Errorf("failed to prepare get statement: %w", err)
	}

	s.deleteStmt, err = s.db.Prepare("DELETE FROM providers WHERE slug = ?")
	if err != nil {
		return fmt.Errorf("failed to prepare delete statement: %w", err)
	}

	s.listStmt, err = s.db.Prepare("SELECT record FROM providers ORDER BY slug")
	if err != nil {
		return fmt.Errorf("failed to prepare list statement: %w", err)
	}

	return nil
}

// List returns all provider records ordered by slug.
func (s *SQLiteStore) List(ctx context.Context) ([]*Provider, error) {
	rows, err := s.listStmt.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list providers: %w", err)
	}
	defer rows.Close()

	var result []*Provider
	for rows.Next() {
		var blob string
		if err := rows.Scan(&blob); err != nil {
			return nil, fmt.Errorf("failed to scan provider row: %w", err)
		}
		var p Provider
		if err := json.Unmarshal([]byte(blob), &p); err != nil {
			return nil, fmt.Errorf("failed to decode provider record: %w", err)
		}
		result = append(result, &p)
	}
	return result, rows.Err()
}

// Get returns the provider with the given slug, or ErrNotFound.
func (s *SQLiteStore) Get(ctx context.Context, slug string) (*Provider, error) {
	var blob string
	err := s.getStmt.QueryRowContext(ctx, slug).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load provider %q: %w", slug, err)
	}

	var p Provider
	if err := json.Unmarshal([]byte(blob), &p); err != nil {
		return nil, fmt.Errorf("failed to decode provider record: %w", err)
	}
	return &p, nil
}

// Put creates or replaces a provider record.
func (s *SQLiteStore) Put(ctx context.Context, p *Provider) error {
	if err := Validate(p); err != nil {
		return err
	}

	cp := clone(p)
	cp.UpdatedAt = time.Now()
	if cp.Health.Status == "" {
		cp.Health.Status = HealthUnknown
	}

	blob, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to encode provider record: %w", err)
	}

	if _, err := s.putStmt.ExecContext(ctx, cp.Slug, string(blob), cp.UpdatedAt.Unix()); err != nil {
		return fmt.Errorf("failed to save provider %q: %w", cp.Slug, err)
	}

	s.notify(cp.Slug)
	return nil
}

// Delete removes a provider record.
func (s *SQLiteStore) Delete(ctx context.Context, slug string) error {
	res, err := s.deleteStmt.ExecContext(ctx, slug)
	if err != nil {
		return fmt.Errorf("failed to delete provider %q: %w", slug, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}

	s.notify(slug)
	return nil
}

// SetHealth updates only the health status of a provider.
func (s *SQLiteStore) SetHealth(ctx context.Context, slug string, hs HealthStatus) error {
	p, err := s.Get(ctx, slug)
	if err != nil {
		return err
	}

	p.Health = hs
	blob, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode provider record: %w", err)
	}

	if _, err := s.putStmt.ExecContext(ctx, slug, string(blob), time.Now().Unix()); err != nil {
		return fmt.Errorf("failed to update health for %q: %w", slug, err)
	}

	s.notify(slug)
	return nil
}

// Subscribe registers a change callback.
func (s *SQLiteStore) Subscribe(fn ChangeFunc) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}

// Close closes the prepared statements and the database.
func (s *SQLiteStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		for _, stmt := range []*sql.Stmt{s.putStmt, s.getStmt, s.deleteStmt, s.listStmt} {
			if stmt != nil {
				stmt.Close()
			}
		}
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteStore) notify(slug string) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	for _, fn := range s.subscribers {
		fn(slug)
	}
}
