// Package storage persists learner profiles and the interaction log in a
// local SQLite database.
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

	"github.com/codetutor/tutord/internal/profile"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database with methods for profiles and interactions.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (used by
// tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "tutord.db")
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

// IsNotFound reports whether err means a missing record.
func (s *Store) IsNotFound(err error) bool {
	return err == ErrNotFound
}

// migrate applies embedded SQL migrations that haven't been run yet.
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

		var version int
		if _, err := fmt.Sscanf(entry.Name(), "%d_", &version); err != nil {
			return fmt.Errorf("parsing migration version from %q: %w", entry.Name(), err)
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

// --- Profiles ---

// GetProfile returns the stored profile for username, or ErrNotFound.
func (s *Store) GetProfile(username string) (profile.Profile, error) {
	var p profile.Profile
	var languages string
	err := s.db.QueryRow(`
		SELECT username, education_level, standard, coding_level, strong_languages
		FROM profiles WHERE username = ?`, username,
	).Scan(&p.Username, &p.EducationLevel, &p.Standard, &p.CodingLevel, &languages)
	if err == sql.ErrNoRows {
		return profile.Profile{}, ErrNotFound
	}
	if err != nil {
		return profile.Profile{}, err
	}
	if err := json.Unmarshal([]byte(languages), &p.StrongLanguages); err != nil {
		return profile.Profile{}, fmt.Errorf("parsing strong_languages for %q: %w", username, err)
	}
	return p, nil
}

// SaveProfile inserts or replaces the profile row for p.Username.
func (s *Store) SaveProfile(p profile.Profile) error {
	languages, err := json.Marshal(p.StrongLanguages)
	if err != nil {
		return fmt.Errorf("marshalling strong_languages: %w", err)
	}
	if p.StrongLanguages == nil {
		languages = []byte("[]")
	}
	_, err = s.db.Exec(`
		INSERT INTO profiles (username, education_level, standard, coding_level, strong_languages, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(username) DO UPDATE SET
			education_level = excluded.education_level,
			standard = excluded.standard,
			coding_level = excluded.coding_level,
			strong_languages = excluded.strong_languages,
			updated_at = excluded.updated_at`,
		p.Username, p.EducationLevel, p.Standard, p.CodingLevel, string(languages),
		time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// --- Interactions ---

// SaveInteraction records one completed sub-query exchange.
func (s *Store) SaveInteraction(i Interaction) error {
	createdAt := i.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO interactions (id, session_id, created_at, query, intent, response)
		VALUES (?, ?, ?, ?, ?, ?)`,
		i.ID, i.SessionID, createdAt.UTC().Format(time.RFC3339), i.Query, i.Intent, i.Response,
	)
	return err
}

// RecentInteractions returns up to limit interactions for a session, newest
// first. An empty sessionID returns interactions across all sessions.
func (s *Store) RecentInteractions(sessionID string, limit int) ([]Interaction, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT id, session_id, created_at, query, intent, response
		FROM interactions`
	args := []any{}
	if sessionID != "" {
		query += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Interaction
	for rows.Next() {
		var i Interaction
		var createdAt string
		if err := rows.Scan(&i.ID, &i.SessionID, &createdAt, &i.Query, &i.Intent, &i.Response); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at for %s: %w", i.ID, err)
		}
		i.CreatedAt = t
		results = append(results, i)
	}
	return results, rows.Err()
}
