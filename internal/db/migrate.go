package db

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate applies all pending goose migrations embedded in the binary.
func Migrate(db *sql.DB) error {
	goose.SetBaseFS(migrationsFS)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Truncate empties all domain tables. Intended for integration tests.
func Truncate(db *sql.DB) error {
	_, err := db.Exec("TRUNCATE TABLE device_user_links, pairing_codes, users, devices")
	if err != nil {
		return fmt.Errorf("truncate tables: %w", err)
	}
	return nil
}
