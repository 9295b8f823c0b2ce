package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed testdata/*.sql
var testMigrations embed.FS

// setupTestDB creates a new in-memory SQLite database for testing
func setupTestDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}

	if err := db.Ping(); err != nil {
		t.Fatalf("Failed to ping test database: %v", err)
	}

	return db
}

func TestNewRunner(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	runner := NewRunner(db, testMigrations, "sqlite3")

	if runner.DB != db {
		t.Error("DB not set correctly")
	}

	if runner.Dialect != "sqlite3" {
		t.Errorf("Expected dialect 'sqlite3', got '%s'", runner.Dialect)
	}

	if runner.Table != "switchboard_migrations" {
		t.Errorf("Expected table 'switchboard_migrations', got '%s'", runner.Table)
	}
}

func TestEnsureTable(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	runner := NewRunner(db, testMigrations, "sqlite3")
	ctx := context.Background()

	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='switchboard_migrations'").Scan(&count)
	if err != nil {
		t.Fatalf("Failed to check for table: %v", err)
	}
	if count != 0 {
		t.Fatal("Table should not exist initially")
	}

	if err := runner.ensureTable(ctx); err != nil {
		t.Fatalf("Failed to ensure table: %v", err)
	}

	err = db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='switchboard_migrations'").Scan(&count)
	if err != nil {
		t.Fatalf("Failed to check for table: %v", err)
	}
	if count != 1 {
		t.Fatal("Table should exist after ensureTable")
	}

	// Calling again should not error
	if err := runner.ensureTable(ctx); err != nil {
		t.Fatalf("ensureTable should be idempotent: %v", err)
	}
}

func TestLoadMigrations(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	runner := NewRunner(db, testMigrations, "sqlite3")

	migrations, err := runner.loadMigrations()
	if err != nil {
		t.Fatalf("Failed to load migrations: %v", err)
	}

	if len(migrations) != 2 {
		t.Fatalf("Expected 2 migrations, got %d", len(migrations))
	}

	if migrations[0].Version != "20240101120000" {
		t.Errorf("Expected version '20240101120000', got '%s'", migrations[0].Version)
	}
	if migrations[0].Name != "create_relays" {
		t.Errorf("Expected name 'create_relays', got '%s'", migrations[0].Name)
	}
	if migrations[0].UpSQL == "" {
		t.Error("UpSQL should not be empty")
	}

	if migrations[1].Version != "20240102093000" {
		t.Errorf("Expected version '20240102093000', got '%s'", migrations[1].Version)
	}
	if migrations[1].Name != "add_relay_labels" {
		t.Errorf("Expected name 'add_relay_labels', got '%s'", migrations[1].Name)
	}

	if migrations[0].Version >= migrations[1].Version {
		t.Error("Migrations should be sorted by version")
	}
}

func TestMigrate(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	runner := NewRunner(db, testMigrations, "sqlite3")
	ctx := context.Background()

	if err := runner.Migrate(ctx); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}

	applied, pending, err := runner.Status(ctx)
	if err != nil {
		t.Fatalf("Failed to get status: %v", err)
	}

	if len(applied) != 2 {
		t.Errorf("Expected 2 applied migrations, got %d", len(applied))
	}
	if len(pending) != 0 {
		t.Errorf("Expected 0 pending migrations, got %d", len(pending))
	}

	var count int
	err = db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='relays'").Scan(&count)
	if err != nil {
		t.Fatalf("Failed to check for relays table: %v", err)
	}
	if count != 1 {
		t.Fatal("Relays table should exist after migration")
	}

	// SQLite doesn't have information_schema, so we use PRAGMA
	rows, err := db.Query("PRAGMA table_info(relays)")
	if err != nil {
		t.Fatalf("Failed to get table info: %v", err)
	}
	defer rows.Close()

	columns := make(map[string]bool)
	for rows.Next() {
		var cid int
		var name, dtype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &dtype, &notnull, &dflt, &pk); err != nil {
			t.Fatalf("Failed to scan column info: %v", err)
		}
		columns[name] = true
	}

	for _, col := range []string{"id", "session_id", "created_at"} {
		if !columns[col] {
			t.Errorf("Column %s should exist", col)
		}
	}

	for _, col := range []string{"label", "region"} {
		if !columns[col] {
			t.Errorf("Column %s from second migration should exist", col)
		}
	}

	// Running migrate again should be idempotent
	if err := runner.Migrate(ctx); err != nil {
		t.Fatalf("Migrate should be idempotent: %v", err)
	}
}

func TestStatus(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	runner := NewRunner(db, testMigrations, "sqlite3")
	ctx := context.Background()

	applied, pending, err := runner.Status(ctx)
	if err != nil {
		t.Fatalf("Failed to get status: %v", err)
	}

	if len(applied) != 0 {
		t.Errorf("Expected 0 applied migrations initially, got %d", len(applied))
	}
	if len(pending) != 2 {
		t.Errorf("Expected 2 pending migrations initially, got %d", len(pending))
	}

	if err := runner.Migrate(ctx); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}

	applied, pending, err = runner.Status(ctx)
	if err != nil {
		t.Fatalf("Failed to get status after migration: %v", err)
	}

	if len(applied) != 2 {
		t.Errorf("Expected 2 applied migrations, got %d", len(applied))
	}
	if len(pending) != 0 {
		t.Errorf("Expected 0 pending migrations, got %d", len(pending))
	}

	expected := []string{
		"20240101120000_create_relays",
		"20240102093000_add_relay_labels",
	}
	for i, name := range expected {
		if applied[i] != name {
			t.Errorf("Expected migration %s, got %s", name, applied[i])
		}
	}
}

func TestAppliedVersions(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	runner := NewRunner(db, testMigrations, "sqlite3")
	ctx := context.Background()

	if err := runner.ensureTable(ctx); err != nil {
		t.Fatalf("Failed to ensure table: %v", err)
	}

	applied, err := runner.appliedVersions(ctx)
	if err != nil {
		t.Fatalf("Failed to get applied migrations: %v", err)
	}
	if len(applied) != 0 {
		t.Errorf("Expected 0 applied migrations, got %d", len(applied))
	}

	now := time.Now()
	_, err = db.Exec(
		fmt.Sprintf("INSERT INTO %s (version, name, applied_at) VALUES (?, ?, ?)", runner.Table),
		"20240101120000", "test_migration", now,
	)
	if err != nil {
		t.Fatalf("Failed to insert test migration: %v", err)
	}

	applied, err = runner.appliedVersions(ctx)
	if err != nil {
		t.Fatalf("Failed to get applied migrations: %v", err)
	}
	if len(applied) != 1 {
		t.Errorf("Expected 1 applied migration, got %d", len(applied))
	}

	migration, exists := applied["20240101120000"]
	if !exists {
		t.Fatal("Migration should exist in map")
	}
	if migration.Name != "test_migration" {
		t.Errorf("Expected name 'test_migration', got '%s'", migration.Name)
	}
}

func TestApply(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	runner := NewRunner(db, testMigrations, "sqlite3")
	ctx := context.Background()

	if err := runner.ensureTable(ctx); err != nil {
		t.Fatalf("Failed to ensure table: %v", err)
	}

	migration := Migration{
		Version: "20240103100000",
		Name:    "test_table",
		UpSQL:   "CREATE TABLE test_table (id INTEGER PRIMARY KEY, name TEXT)",
	}

	if err := runner.apply(ctx, migration); err != nil {
		t.Fatalf("Failed to apply migration: %v", err)
	}

	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='test_table'").Scan(&count)
	if err != nil {
		t.Fatalf("Failed to check for test_table: %v", err)
	}
	if count != 1 {
		t.Fatal("test_table should exist after migration")
	}

	var recordedVersion string
	err = db.QueryRow(
		fmt.Sprintf("SELECT version FROM %s WHERE version = ?", runner.Table),
		"20240103100000",
	).Scan(&recordedVersion)
	if err != nil {
		t.Fatalf("Failed to check migration record: %v", err)
	}
	if recordedVersion != "20240103100000" {
		t.Error("Migration should be recorded in tracking table")
	}
}

func TestDialectSpecificSQL(t *testing.T) {
	testCases := []struct {
		dialect string
	}{
		{"postgres"},
		{"sqlite3"},
		{"sqlite"},
	}

	for _, tc := range testCases {
		t.Run(tc.dialect, func(t *testing.T) {
			db := setupTestDB(t)
			defer db.Close()

			runner := NewRunner(db, testMigrations, tc.dialect)

			if runner.Dialect != tc.dialect {
				t.Errorf("Expected dialect %s, got %s", tc.dialect, runner.Dialect)
			}
		})
	}
}

func TestInvalidDialect(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	runner := NewRunner(db, testMigrations, "invalid")
	ctx := context.Background()

	err := runner.ensureTable(ctx)
	if err == nil {
		t.Fatal("Should error with invalid dialect")
	}
	if err.Error() != "unsupported dialect: invalid" {
		t.Errorf("Expected unsupported dialect error, got: %v", err)
	}
}
