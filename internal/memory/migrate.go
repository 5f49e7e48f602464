package memory

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
)

// schemaVersion is the current expected schema version.
const schemaVersion = 3

// migration is a single schema step, applied exactly once and tracked in
// the schema_version table.
type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "base schema: conversations, turns",
		SQL: `
		CREATE TABLE IF NOT EXISTS conversations (
			sender_id    TEXT PRIMARY KEY,
			display_name TEXT DEFAULT '',
			specialty    TEXT DEFAULT '',
			orientation  TEXT DEFAULT '',
			onboarded    INTEGER DEFAULT 0,
			created_at   DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at   DATETIME DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS turns (
			id         TEXT PRIMARY KEY,
			sender_id  TEXT NOT NULL REFERENCES conversations(sender_id) ON DELETE CASCADE,
			kind       TEXT NOT NULL,
			input      TEXT NOT NULL,
			response   TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_turns_sender ON turns(sender_id, created_at);
		`,
	},
	{
		Version:     2,
		Description: "v2: profiles table for the sqlite session backend",
		SQL: `
		CREATE TABLE IF NOT EXISTS profiles (
			sender_id    TEXT PRIMARY KEY,
			display_name TEXT DEFAULT '',
			specialty    TEXT DEFAULT '',
			orientation  TEXT DEFAULT '',
			onboarded    INTEGER DEFAULT 0,
			created_at   DATETIME NOT NULL,
			updated_at   DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_profiles_updated ON profiles(updated_at);
		`,
	},
	{
		Version:     3,
		Description: "v3: channel column on turns",
		SQL: `
		ALTER TABLE turns ADD COLUMN channel TEXT DEFAULT '';
		`,
	},
}

// RunMigrations applies all pending schema migrations.
func RunMigrations(db *sql.DB, logger *slog.Logger) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version     INTEGER PRIMARY KEY,
			description TEXT,
			applied_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	currentVersion := 0
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&currentVersion); err != nil {
		return fmt.Errorf("query schema version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= currentVersion {
			continue
		}

		logger.Info("applying migration", "version", m.Version, "description", m.Description)

		if err := applyMigrationTx(db, m); err != nil {
			// ALTER TABLE ADD COLUMN fails when an older build already added
			// the column. Fall back to statement-by-statement application.
			logger.Warn("migration failed as a unit, retrying per statement",
				"version", m.Version,
				"err", err,
			)
			if err := applyMigrationStatements(db, m, logger); err != nil {
				return err
			}
		}

		logger.Info("migration applied", "version", m.Version)
	}

	return nil
}

func applyMigrationTx(db *sql.DB, m migration) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration v%d: %w", m.Version, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(m.SQL); err != nil {
		return fmt.Errorf("migration v%d: %w", m.Version, err)
	}
	if err := recordVersion(tx, m); err != nil {
		return err
	}
	return tx.Commit()
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func recordVersion(ex execer, m migration) error {
	if _, err := ex.Exec(
		"INSERT OR REPLACE INTO schema_version (version, description) VALUES (?, ?)",
		m.Version, m.Description,
	); err != nil {
		return fmt.Errorf("record migration v%d: %w", m.Version, err)
	}
	return nil
}

// applyMigrationStatements applies each statement on its own, skipping the
// ones that fail because their effect is already present.
func applyMigrationStatements(db *sql.DB, m migration, logger *slog.Logger) error {
	for _, stmt := range splitSQL(m.SQL) {
		if _, err := db.Exec(stmt); err != nil {
			if alreadyApplied(err) {
				logger.Debug("migration statement skipped (already applied)", "stmt_prefix", truncate(stmt, 60))
				continue
			}
			return fmt.Errorf("migration v%d statement failed: %w\nSQL: %s", m.Version, err, truncate(stmt, 200))
		}
	}
	return recordVersion(db, m)
}

func alreadyApplied(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate column") || strings.Contains(msg, "already exists")
}

// splitSQL splits a multi-statement SQL string on semicolons, dropping blanks.
func splitSQL(script string) []string {
	var result []string
	for _, s := range strings.Split(script, ";") {
		if s = strings.TrimSpace(s); s != "" {
			result = append(result, s)
		}
	}
	return result
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// GetSchemaVersion returns the current schema version, 0 for a fresh database.
func GetSchemaVersion(db *sql.DB) (int, error) {
	var tableName string
	err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='schema_version'").Scan(&tableName)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var version int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version); err != nil {
		return 0, err
	}
	return version, nil
}
