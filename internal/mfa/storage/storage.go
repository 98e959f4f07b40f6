package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/avagner/sessionguard/internal/mfa"
	"github.com/avagner/sessionguard/internal/mfa/storage/migrations"
)

// OpenSQLite opens (or creates) a SQLite database at dsn, applies the
// schema migrations and returns a repository bound to it.
func OpenSQLite(ctx context.Context, dsn string) (mfa.Repository, *sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if err := RunSQLiteMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return NewSQLiteRepository(db), db, nil
}

// RunSQLiteMigrations applies the embedded SQLite migrations to db.
func RunSQLiteMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.SQLite)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "sqlite"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// OpenPostgres connects to PostgreSQL with dsn, applies the schema
// migrations and returns a repository bound to it.
func OpenPostgres(ctx context.Context, dsn string) (mfa.Repository, *sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open postgres database: %w", err)
	}
	if err := RunPostgresMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return NewPostgresRepository(db), db, nil
}

// RunPostgresMigrations applies the embedded PostgreSQL migrations to db.
func RunPostgresMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Postgres)
	if err := goose.SetDialect("pgx"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "postgres"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}
