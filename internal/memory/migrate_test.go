package memory

import (
	"database/sql"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestRunMigrations_FreshDB(t *testing.T) {
	db := testDB(t)
	logger := testLogger()

	if err := RunMigrations(db, logger); err != nil {
		t.Fatalf("RunMigrations failed: %v", err)
	}

	version, err := GetSchemaVersion(db)
	if err != nil {
		t.Fatal(err)
	}
	if version != schemaVersion {
		t.Errorf("expected schema version %d, got %d", schemaVersion, version)
	}
}

func TestRunMigrations_Idempotent(t *testing.T) {
	db := testDB(t)
	logger := testLogger()

	if err := RunMigrations(db, logger); err != nil {
		t.Fatalf("first migration failed: %v", err)
	}
	if err := RunMigrations(db, logger); err != nil {
		t.Fatalf("second migration (idempotent) failed: %v", err)
	}

	version, err := GetSchemaVersion(db)
	if err != nil {
		t.Fatal(err)
	}
	if version != schemaVersion {
		t.Errorf("expected schema version %d, got %d", schemaVersion, version)
	}
}

func TestRunMigrations_CreatesExpectedTables(t *testing.T) {
	db := testDB(t)
	if err := RunMigrations(db, testLogger()); err != nil {
		t.Fatal(err)
	}

	for _, table := range []string{"conversations", "turns", "profiles", "schema_version"} {
		var name string
		err := db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found: %v", table, err)
		}
	}
}

func TestRunMigrations_V3_TurnChannel(t *testing.T) {
	db := testDB(t)
	if err := RunMigrations(db, testLogger()); err != nil {
		t.Fatal(err)
	}

	if _, err := db.Exec("INSERT INTO conversations (sender_id) VALUES (?)", "34600111222"); err != nil {
		t.Fatal(err)
	}
	_, err := db.Exec(
		"INSERT INTO turns (id, sender_id, channel, kind, input, response) VALUES (?, ?, ?, ?, ?, ?)",
		"t-1", "34600111222", "whatsapp", "text", "hola", "respuesta",
	)
	if err != nil {
		t.Fatalf("insert into turns failed: %v", err)
	}
}

func TestRunMigrations_UpgradeWithColumnAlreadyPresent(t *testing.T) {
	db := testDB(t)
	logger := testLogger()

	// Simulate a database at v2 whose turns table already has the v3 column.
	if _, err := db.Exec(`CREATE TABLE schema_version (version INTEGER PRIMARY KEY, description TEXT, applied_at DATETIME DEFAULT CURRENT_TIMESTAMP)`); err != nil {
		t.Fatal(err)
	}
	for _, m := range migrations[:2] {
		if _, err := db.Exec(m.SQL); err != nil {
			t.Fatal(err)
		}
		if _, err := db.Exec("INSERT INTO schema_version (version, description) VALUES (?, ?)", m.Version, m.Description); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := db.Exec("ALTER TABLE turns ADD COLUMN channel TEXT DEFAULT ''"); err != nil {
		t.Fatal(err)
	}

	if err := RunMigrations(db, logger); err != nil {
		t.Fatalf("upgrade failed: %v", err)
	}
	version, _ := GetSchemaVersion(db)
	if version != schemaVersion {
		t.Errorf("expected schema version %d, got %d", schemaVersion, version)
	}
}

func TestGetSchemaVersion_NoTable(t *testing.T) {
	db := testDB(t)
	version, err := GetSchemaVersion(db)
	if err != nil {
		t.Fatal(err)
	}
	if version != 0 {
		t.Errorf("expected version 0 for empty db, got %d", version)
	}
}

func TestSplitSQL(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected int
	}{
		{"empty", "", 0},
		{"single", "CREATE TABLE t (id INT)", 1},
		{"multiple", "CREATE TABLE t1 (id INT); CREATE TABLE t2 (id INT)", 2},
		{"trailing semicolon", "CREATE TABLE t (id INT);", 1},
		{"whitespace", "  CREATE TABLE t (id INT)  ;  ", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := splitSQL(tt.input)
			if len(result) != tt.expected {
				t.Errorf("expected %d statements, got %d: %v", tt.expected, len(result), result)
			}
		})
	}
}

func TestAlreadyApplied(t *testing.T) {
	tests := []struct {
		msg  string
		want bool
	}{
		{"duplicate column name: channel", true},
		{"SQL logic error: table turns already exists", true},
		{"DUPLICATE COLUMN", true},
		{"no such table: turns", false},
	}
	for _, tt := range tests {
		if got := alreadyApplied(errors.New(tt.msg)); got != tt.want {
			t.Errorf("alreadyApplied(%q) = %v, want %v", tt.msg, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("hello", 10); got != "hello" {
		t.Errorf("expected 'hello', got %q", got)
	}
	if got := truncate("hello world", 5); got != "hello..." {
		t.Errorf("expected 'hello...', got %q", got)
	}
}
