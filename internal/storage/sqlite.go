package storage

import (
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database holding the long-term knowledge tier.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "orca.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Knowledge ---

// PutKnowledge upserts the entry identified by (category, key). The value is
// marshalled to JSON.
func (s *Store) PutKnowledge(category, key string, value any, at time.Time) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshalling value for %s/%s: %w", category, key, err)
	}
	_, err = s.db.Exec(`
		INSERT INTO knowledge (category, key, value_json, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(category, key) DO UPDATE SET value_json = excluded.value_json, updated_at = excluded.updated_at`,
		category, key, string(raw), at.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("writing %s/%s: %w", category, key, err)
	}
	return nil
}

// GetKnowledge returns a single entry or ErrNotFound.
func (s *Store) GetKnowledge(category, key string) (KnowledgeRow, error) {
	var row KnowledgeRow
	var raw, updatedAt string
	err := s.db.QueryRow(`SELECT category, key, value_json, updated_at FROM knowledge WHERE category = ? AND key = ?`,
		category, key,
	).Scan(&row.Category, &row.Key, &raw, &updatedAt)
	if err == sql.ErrNoRows {
		return KnowledgeRow{}, ErrNotFound
	}
	if err != nil {
		return KnowledgeRow{}, err
	}
	row.Value = json.RawMessage(raw)
	if row.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return KnowledgeRow{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return row, nil
}

// DeleteKnowledge removes one entry. Deleting a missing entry is not an error.
func (s *Store) DeleteKnowledge(category, key string) error {
	if _, err := s.db.Exec(`DELETE FROM knowledge WHERE category = ? AND key = ?`, category, key); err != nil {
		return fmt.Errorf("deleting %s/%s: %w", category, key, err)
	}
	return nil
}

// DeleteCategory removes every entry in category and returns how many were removed.
func (s *Store) DeleteCategory(category string) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM knowledge WHERE category = ?`, category)
	if err != nil {
		return 0, fmt.Errorf("purging category %s: %w", category, err)
	}
	return res.RowsAffected()
}

// LoadKnowledge returns every persisted entry ordered by category then key.
func (s *Store) LoadKnowledge() ([]KnowledgeRow, error) {
	rows, err := s.db.Query(`SELECT category, key, value_json, updated_at FROM knowledge ORDER BY category, key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []KnowledgeRow
	for rows.Next() {
		var row KnowledgeRow
		var raw, updatedAt string
		if err := rows.Scan(&row.Category, &row.Key, &raw, &updatedAt); err != nil {
			return nil, err
		}
		row.Value = json.RawMessage(raw)
		t, err := time.Parse(time.RFC3339Nano, updatedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing updated_at for %s/%s: %w", row.Category, row.Key, err)
		}
		row.UpdatedAt = t
		results = append(results, row)
	}
	return results, rows.Err()
}
