package registry

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver

	"github.com/soyeahso/loom/internal/domain"
	"github.com/soyeahso/loom/internal/logging"
)

// DB wraps a SQLite database connection with migration support.
type DB struct {
	sql *sql.DB
	log *logging.Logger
}

// Open opens (or creates) a SQLite database at the given path and runs migrations.
// Use ":memory:" for an in-memory database (useful for tests).
func Open(path string, log *logging.Logger) (*DB, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}

	// WAL mode for better concurrent read performance
	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	if _, err := sqlDB.Exec("PRAGMA foreign_keys=ON"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	db := &DB{sql: sqlDB, log: log.Sub("registry-db")}

	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	db.log.Info().Str("path", path).Msg("registry database opened")
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	db.log.Info().Msg("closing registry database")
	return db.sql.Close()
}

// SQL returns the underlying *sql.DB for direct queries.
func (db *DB) SQL() *sql.DB {
	return db.sql
}

// migrate runs all pending migrations.
func (db *DB) migrate() error {
	if _, err := db.sql.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL DEFAULT (datetime('now'))
		)
	`); err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}

	for _, m := range migrations {
		applied, err := db.isMigrationApplied(m.Version)
		if err != nil {
			return err
		}
		if applied {
			continue
		}

		db.log.Info().Int("version", m.Version).Str("name", m.Name).Msg("applying migration")

		tx, err := db.sql.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Name, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.Version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

func (db *DB) isMigrationApplied(version int) (bool, error) {
	var count int
	err := db.sql.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", version).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking migration %d: %w", version, err)
	}
	return count > 0, nil
}

// SQLiteStore implements Store backed by SQLite.
type SQLiteStore struct {
	db *DB
}

// NewSQLiteStore creates a registry store using the given database.
func NewSQLiteStore(db *DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Get(name string) (domain.RegistryEntry, bool, error) {
	var entry domain.RegistryEntry
	var created string
	err := s.db.sql.QueryRow(
		`SELECT name, file_path, description, created_at, usage_count
		 FROM agents WHERE name = ?`, name,
	).Scan(&entry.AgentName, &entry.FilePath, &entry.Description, &created, &entry.UsageCount)
	if err == sql.ErrNoRows {
		return domain.RegistryEntry{}, false, nil
	}
	if err != nil {
		return domain.RegistryEntry{}, false, &IOError{Op: "query", Path: "agents", Err: err}
	}
	entry.Created, _ = time.Parse(time.RFC3339, created)
	return entry, true, nil
}

func (s *SQLiteStore) List() ([]domain.RegistryEntry, error) {
	rows, err := s.db.sql.Query(
		`SELECT name, file_path, description, created_at, usage_count
		 FROM agents ORDER BY name`,
	)
	if err != nil {
		return nil, &IOError{Op: "query", Path: "agents", Err: err}
	}
	defer rows.Close()

	var entries []domain.RegistryEntry
	for rows.Next() {
		var entry domain.RegistryEntry
		var created string
		if err := rows.Scan(&entry.AgentName, &entry.FilePath, &entry.Description, &created, &entry.UsageCount); err != nil {
			return nil, &IOError{Op: "scan", Path: "agents", Err: err}
		}
		entry.Created, _ = time.Parse(time.RFC3339, created)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *SQLiteStore) Put(entry domain.RegistryEntry) error {
	created := entry.Created
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.db.sql.Exec(
		`INSERT INTO agents (name, file_path, description, created_at, usage_count)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET
			file_path = excluded.file_path,
			description = excluded.description,
			usage_count = excluded.usage_count`,
		entry.AgentName, entry.FilePath, entry.Description,
		created.Format(time.RFC3339), entry.UsageCount,
	)
	if err != nil {
		return &IOError{Op: "insert", Path: "agents", Err: err}
	}
	return nil
}

func (s *SQLiteStore) Delete(name string) (bool, error) {
	res, err := s.db.sql.Exec(`DELETE FROM agents WHERE name = ?`, name)
	if err != nil {
		return false, &IOError{Op: "delete", Path: "agents", Err: err}
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *SQLiteStore) IncrementUsage(name string) error {
	_, err := s.db.sql.Exec(
		`UPDATE agents SET usage_count = usage_count + 1 WHERE name = ?`, name,
	)
	if err != nil {
		return &IOError{Op: "update", Path: "agents", Err: err}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
