package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/dwsmith1983/qualityloop/internal/provider"
)

var (
	_ provider.PatternStore = (*Store)(nil)
	_ provider.HistoryStore = (*Store)(nil)
	_ provider.Lifecycle    = (*Store)(nil)
)

// Store is a SQLite-backed store for learning patterns and the audit log.
type Store struct {
	db *sql.DB
}

// New opens the database at path, verifies its integrity and applies the schema.
// A file that is not a valid database fails with provider.ErrCorrupt.
func New(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	// SQLite serializes writers; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.checkIntegrity(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) checkIntegrity(ctx context.Context) error {
	var result string
	if err := s.db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("%w: integrity check: %v", provider.ErrCorrupt, err)
	}
	if result != "ok" {
		return fmt.Errorf("%w: integrity check: %s", provider.ErrCorrupt, result)
	}
	return nil
}

// Migrate runs the schema DDL to create tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("sqlite migrate: %w", err)
	}
	return nil
}

// Start is a no-op; New already connected.
func (s *Store) Start(_ context.Context) error { return nil }

// Stop closes the database.
func (s *Store) Stop(_ context.Context) error { return s.db.Close() }

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }
