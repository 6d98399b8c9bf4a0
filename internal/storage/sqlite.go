// Package storage implements the store adapter over SQLite.
//
// Every operation is owner-scoped: queries always carry an owner_id
// predicate, and writes reject payloads for a different owner. Cross-owner
// lookups surface as not-found so record existence never leaks.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledgerhound/ledgerhound/internal/common"
	"github.com/ledgerhound/ledgerhound/internal/service"

	"github.com/mattn/go-sqlite3"
)

// querier is satisfied by both *sql.DB and *sql.Tx so every query method
// works inside and outside a store transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStorage implements service.Storage using SQLite.
type SQLiteStorage struct {
	db     *sql.DB
	q      querier
	dbPath string
}

// NewSQLiteStorage creates a new SQLite storage instance.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if err := validateString(dbPath, "dbPath"); err != nil {
		return nil, err
	}

	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite doesn't benefit from multiple connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrStoreUnavailable, err)
	}

	return &SQLiteStorage{db: db, q: db, dbPath: dbPath}, nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// Ping verifies the store is reachable.
func (s *SQLiteStorage) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", common.ErrStoreUnavailable, err)
	}
	return nil
}

// RunInTransaction executes fn against a transactional view of the store.
// On error nothing is committed. Nested calls run in the enclosing
// transaction.
func (s *SQLiteStorage) RunInTransaction(ctx context.Context, fn func(tx service.Storage) error) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	if _, nested := s.q.(*sql.Tx); nested {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %v", common.ErrStoreUnavailable, err)
	}
	defer func() { _ = tx.Rollback() }()

	txStore := &SQLiteStorage{db: s.db, q: tx, dbPath: s.dbPath}
	if err := fn(txStore); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return mapSQLiteErr(err, "commit transaction")
	}
	return nil
}

// mapSQLiteErr translates driver errors into the core's typed error kinds.
// Missing tables or indexes are reported distinctly from generic
// unavailability so operators can tell a schema problem from an outage.
func mapSQLiteErr(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return common.NotFoundf("%s", op)
	}

	var se sqlite3.Error
	if errors.As(err, &se) {
		switch se.Code {
		case sqlite3.ErrConstraint:
			return fmt.Errorf("%w: %s: %v", common.ErrConflict, op, err)
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return fmt.Errorf("%w: %s: %v", common.ErrStoreUnavailable, op, err)
		}
	}

	msg := err.Error()
	if strings.Contains(msg, "no such table") ||
		strings.Contains(msg, "no such index") ||
		strings.Contains(msg, "no such column") {
		return fmt.Errorf("%w: %s: %v", common.ErrIndexMissing, op, err)
	}

	return fmt.Errorf("%w: %s: %v", common.ErrStoreUnavailable, op, err)
}
