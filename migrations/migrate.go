package migrations

import (
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"
)

// Up executes all pending migrations against the Postgres database.
func Up(db *sql.DB) error {
	goose.SetBaseFS(EmbedMigrations)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("goose set dialect: %w", err)
	}

	if err := goose.Up(db, "."); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}

	return nil
}

// Down rolls back the most recent migration.
func Down(db *sql.DB) error {
	goose.SetBaseFS(EmbedMigrations)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("goose set dialect: %w", err)
	}

	if err := goose.Down(db, "."); err != nil {
		return fmt.Errorf("goose down: %w", err)
	}

	return nil
}

// Status prints the apply state of every known migration.
func Status(db *sql.DB) error {
	goose.SetBaseFS(EmbedMigrations)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("goose set dialect: %w", err)
	}

	if err := goose.Status(db, "."); err != nil {
		return fmt.Errorf("goose status: %w", err)
	}

	return nil
}
