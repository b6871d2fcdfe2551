// Package sqlite implements the mesh graph's default persistence
// backend: the mesh_connections table in a single WAL-mode sqlite file.
// The edge workload is three statements hot (existence probe, insert,
// update), so they are prepared once at open instead of going through a
// generic statement cache.
package sqlite

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Store persists mesh edges in sqlite.
type Store struct {
	db *sql.DB

	existsStmt *sql.Stmt
	insertStmt *sql.Stmt
	updateStmt *sql.Stmt
}

// StoreConfig holds the sqlite backend's configuration.
type StoreConfig struct {
	// Path is the database file. ":memory:" works for throwaway stores.
	Path string
	// MaxConns bounds the connection pool (default 4).
	MaxConns int
}

// NewStore opens (creating if needed) the mesh edge database, runs
// migrations, and prepares the hot edge statements.
func NewStore(cfg StoreConfig) (*Store, error) {
	connStr := cfg.Path + "?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=ON"

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("open mesh database: %w", err)
	}

	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 4
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping mesh database: %w", err)
	}

	mgr := NewMigrationManager(db)
	if err := mgr.RunMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	s := &Store{db: db}
	if err := s.prepareEdgeStatements(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) prepareEdgeStatements() error {
	var err error
	if s.existsStmt, err = s.db.Prepare(edgeExistsSQL); err != nil {
		return fmt.Errorf("prepare edge existence probe: %w", err)
	}
	if s.insertStmt, err = s.db.Prepare(insertEdgeSQL); err != nil {
		return fmt.Errorf("prepare edge insert: %w", err)
	}
	if s.updateStmt, err = s.db.Prepare(updateEdgeSQL); err != nil {
		return fmt.Errorf("prepare edge update: %w", err)
	}
	return nil
}

// Close releases the prepared statements and the database connection.
func (s *Store) Close() error {
	for _, stmt := range []*sql.Stmt{s.existsStmt, s.insertStmt, s.updateStmt} {
		if stmt != nil {
			_ = stmt.Close()
		}
	}
	return s.db.Close()
}

// Ping checks that the database connection is alive.
func (s *Store) Ping() error {
	return s.db.Ping()
}
