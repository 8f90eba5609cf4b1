// Package counter provides durable named counters backed by SQLite.
//
// Counters feed AUTOINCREMENT template functions: a value handed out to a
// caller is committed to disk first, so a crash after Increment returns can
// never reissue the same number.
package counter

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - Initial schema (counters table)
const currentSchemaVersion = 1

// Store persists named counters in a SQLite database.
// Safe for concurrent use; writes are serialized on a single connection.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates or opens the counter database at the given path.
// Applies required pragmas and migrations automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - FULL synchronous mode (values must survive power loss once issued)
//   - 5-second busy timeout for lock contention
//
// If the existing file cannot be opened or fails its integrity check, it is
// moved aside with a .corrupt suffix and a fresh database is created in its
// place. Counters then restart from their configured start values.
func Open(path string) (*Store, error) {
	db, err := openAt(path)
	if err != nil {
		if sideErr := sideline(path); sideErr != nil {
			return nil, fmt.Errorf("open counter store: %w", err)
		}
		db, err = openAt(path)
		if err != nil {
			return nil, fmt.Errorf("open counter store after recovery: %w", err)
		}
	}
	return &Store{db: db, path: path}, nil
}

func openAt(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return db, nil
}

// sideline renames an unusable database file out of the way so a fresh one
// can be created at the original path.
func sideline(path string) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}
	backup := fmt.Sprintf("%s.corrupt-%s", path, time.Now().UTC().Format("20060102T150405"))
	return os.Rename(path, backup)
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Increment returns the next value of the named counter.
//
// A counter seen for the first time is initialized to start and start is
// returned. On every subsequent call the stored value is advanced by step
// before being returned. The returned value is committed before this
// function returns.
func (s *Store) Increment(ctx context.Context, name string, start, step int64) (int64, error) {
	if name == "" {
		return 0, fmt.Errorf("increment counter: name must not be empty")
	}
	var value int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO counters (name, value) VALUES (?1, ?2)
		ON CONFLICT(name) DO UPDATE SET value = counters.value + ?3
		RETURNING value
	`, name, start, step).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("increment counter %q: %w", name, err)
	}
	return value, nil
}

// Get returns the current value of the named counter.
// The second return value reports whether the counter exists.
func (s *Store) Get(ctx context.Context, name string) (int64, bool, error) {
	var value int64
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM counters WHERE name = ?1`, name).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get counter %q: %w", name, err)
	}
	return value, true, nil
}

// Set forces the named counter to the given value, creating it if needed.
// The next Increment returns value plus its step.
func (s *Store) Set(ctx context.Context, name string, value int64) error {
	if name == "" {
		return fmt.Errorf("set counter: name must not be empty")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO counters (name, value) VALUES (?1, ?2)
		ON CONFLICT(name) DO UPDATE SET value = ?2
	`, name, value)
	if err != nil {
		return fmt.Errorf("set counter %q: %w", name, err)
	}
	return nil
}

// Delete removes the named counter. It reports whether a counter was removed.
// A deleted counter behaves as brand new on its next Increment.
func (s *Store) Delete(ctx context.Context, name string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM counters WHERE name = ?1`, name)
	if err != nil {
		return false, fmt.Errorf("delete counter %q: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete counter %q: %w", name, err)
	}
	return n > 0, nil
}

// Entry is a counter row as returned by List.
type Entry struct {
	Name  string
	Value int64
}

// List returns all counters ordered by name.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, value FROM counters ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list counters: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Name, &e.Value); err != nil {
			return nil, fmt.Errorf("list counters: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list counters: %w", err)
	}
	return entries, nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported %d", version, currentSchemaVersion)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}
