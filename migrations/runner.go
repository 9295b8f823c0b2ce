// Package migrations applies embedded SQL migrations in version order and
// tracks them in a switchboard_migrations table.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Migration is a single schema migration, parsed from a
// {version}_{name}.up.sql file.
type Migration struct {
	Version   string
	Name      string
	UpSQL     string
	AppliedAt time.Time
}

// Runner applies migrations against a database.
type Runner struct {
	DB      *sql.DB
	FS      embed.FS
	Dialect string // "sqlite" or "postgres"
	Table   string
}

// NewRunner creates a migration runner with default settings.
func NewRunner(db *sql.DB, migrationFS embed.FS, dialect string) *Runner {
	return &Runner{
		DB:      db,
		FS:      migrationFS,
		Dialect: dialect,
		Table:   "switchboard_migrations",
	}
}

func (r *Runner) ensureTable(ctx context.Context) error {
	var query string
	switch r.Dialect {
	case "sqlite", "sqlite3":
		query = fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				version TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			)
		`, r.Table)
	case "postgres":
		query = fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				version VARCHAR(14) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
			)
		`, r.Table)
	default:
		return fmt.Errorf("unsupported dialect: %s", r.Dialect)
	}

	_, err := r.DB.ExecContext(ctx, query)
	return err
}

func (r *Runner) appliedVersions(ctx context.Context) (map[string]Migration, error) {
	query := fmt.Sprintf("SELECT version, name, applied_at FROM %s ORDER BY version", r.Table)

	rows, err := r.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]Migration)
	for rows.Next() {
		var m Migration
		if err := rows.Scan(&m.Version, &m.Name, &m.AppliedAt); err != nil {
			return nil, err
		}
		applied[m.Version] = m
	}
	return applied, rows.Err()
}

func (r *Runner) loadMigrations() ([]Migration, error) {
	var migrations []Migration

	err := fs.WalkDir(r.FS, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".up.sql") {
			return nil
		}

		base := filepath.Base(path)
		parts := strings.SplitN(base, "_", 2)
		if len(parts) < 2 {
			return nil
		}
		version := parts[0]
		name := strings.TrimSuffix(parts[1], ".up.sql")

		content, err := fs.ReadFile(r.FS, path)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", path, err)
		}

		migrations = append(migrations, Migration{
			Version: version,
			Name:    name,
			UpSQL:   string(content),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// Migrate applies all pending migrations in order.
func (r *Runner) Migrate(ctx context.Context) error {
	if err := r.ensureTable(ctx); err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}

	applied, err := r.appliedVersions(ctx)
	if err != nil {
		return fmt.Errorf("getting applied migrations: %w", err)
	}

	migrations, err := r.loadMigrations()
	if err != nil {
		return fmt.Errorf("loading migrations: %w", err)
	}

	for _, migration := range migrations {
		if _, exists := applied[migration.Version]; exists {
			continue
		}
		if err := r.apply(ctx, migration); err != nil {
			return fmt.Errorf("applying migration %s_%s: %w", migration.Version, migration.Name, err)
		}
	}
	return nil
}

func (r *Runner) apply(ctx context.Context, migration Migration) (err error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, migration.UpSQL); err != nil {
		return fmt.Errorf("executing migration SQL: %w", err)
	}

	record := fmt.Sprintf("INSERT INTO %s (version, name, applied_at) VALUES ($1, $2, $3)", r.Table)
	if _, err = tx.ExecContext(ctx, record, migration.Version, migration.Name, time.Now()); err != nil {
		return fmt.Errorf("recording migration: %w", err)
	}

	return tx.Commit()
}

// Status returns the applied and pending migration names.
func (r *Runner) Status(ctx context.Context) (applied, pending []string, err error) {
	if err := r.ensureTable(ctx); err != nil {
		return nil, nil, fmt.Errorf("creating migrations table: %w", err)
	}

	appliedMap, err := r.appliedVersions(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("getting applied migrations: %w", err)
	}

	migrations, err := r.loadMigrations()
	if err != nil {
		return nil, nil, fmt.Errorf("loading migrations: %w", err)
	}

	for _, migration := range migrations {
		name := fmt.Sprintf("%s_%s", migration.Version, migration.Name)
		if _, exists := appliedMap[migration.Version]; exists {
			applied = append(applied, name)
		} else {
			pending = append(pending, name)
		}
	}
	return applied, pending, nil
}
