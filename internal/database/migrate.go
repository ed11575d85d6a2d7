package database

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/postgres/*.sql
var postgresMigrations embed.FS

//go:embed migrations/sqlite/schema.sql
var sqliteSchema string

const migrationTable = "schema_migrations"

// Migrate applies the embedded PostgreSQL migrations in file-name order,
// each at most once, recording them in schema_migrations.
func Migrate(ctx context.Context, pool *pgxpool.Pool) ([]string, error) {
	const dir = "migrations/postgres"

	entries, err := fs.ReadDir(postgresMigrations, dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	_, err = pool.Exec(ctx, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    name       TEXT        PRIMARY KEY,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, migrationTable))
	if err != nil {
		return nil, fmt.Errorf("ensure migration table: %w", err)
	}

	var applied []string
	for _, file := range files {
		content, err := fs.ReadFile(postgresMigrations, path.Join(dir, file))
		if err != nil {
			return applied, fmt.Errorf("read migration %s: %w", file, err)
		}
		ran, err := applyMigration(ctx, pool, file, string(content))
		if err != nil {
			return applied, err
		}
		if ran {
			applied = append(applied, file)
		}
	}
	return applied, nil
}

// applyMigration runs one migration in its own transaction. The row lock on
// the migration name keeps two starting instances from both applying it.
func applyMigration(ctx context.Context, pool *pgxpool.Pool, name, sql string) (ran bool, err error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin migration %s: %w", name, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	tag, err := tx.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, migrationTable),
		name,
	)
	if err != nil {
		return false, fmt.Errorf("record migration %s: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		err = tx.Rollback(ctx)
		return false, err
	}

	if _, err = tx.Exec(ctx, sql, pgx.QueryExecModeSimpleProtocol); err != nil {
		return false, fmt.Errorf("apply migration %s: %w", name, err)
	}
	if err = tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit migration %s: %w", name, err)
	}
	return true, nil
}
