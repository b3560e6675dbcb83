package store

import (
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// SchemaVersion is the latest PostgreSQL schema version.
const SchemaVersion = 1

var postgresMigrations = map[int][]string{
	1: {
		`CREATE TABLE IF NOT EXISTS conversations (
			id BIGSERIAL PRIMARY KEY,
			conversation_id VARCHAR(50) UNIQUE NOT NULL,
			creation_date TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id VARCHAR(50) NOT NULL,
			body TEXT NOT NULL,
			sender VARCHAR(10) NOT NULL,
			sent_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, sent_at)`,
		`CREATE TABLE IF NOT EXISTS actions (
			id UUID PRIMARY KEY,
			conversation_id VARCHAR(50) NOT NULL,
			name VARCHAR(50) NOT NULL,
			completed BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_actions_one_active ON actions(conversation_id) WHERE completed = FALSE`,
		`CREATE TABLE IF NOT EXISTS sales (
			id UUID PRIMARY KEY,
			id_sale BIGINT NOT NULL,
			merchant_id BIGINT NOT NULL,
			chip_id BIGINT NOT NULL,
			created_at TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sales_id_sale ON sales(id_sale)`,
		`CREATE TABLE IF NOT EXISTS transactions (
			id UUID PRIMARY KEY,
			transaction_id BIGINT NOT NULL,
			merchant_id BIGINT NOT NULL,
			created_at TEXT NOT NULL DEFAULT '',
			value DOUBLE PRECISION NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_transaction_id ON transactions(transaction_id)`,
		`CREATE TABLE IF NOT EXISTS receipts (
			id UUID PRIMARY KEY,
			merchant_id BIGINT NOT NULL,
			created_at TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			value DOUBLE PRECISION NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_receipts_merchant_id ON receipts(merchant_id)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			name VARCHAR(128) NOT NULL,
			description VARCHAR(128) NOT NULL DEFAULT '',
			progress INTEGER NOT NULL DEFAULT 0,
			message TEXT NOT NULL DEFAULT '',
			complete BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS scheduled_tasks (
			id UUID PRIMARY KEY,
			name VARCHAR(128) NOT NULL,
			description VARCHAR(128) NOT NULL DEFAULT '',
			start_at TIMESTAMPTZ NOT NULL,
			interval_seconds INTEGER NOT NULL,
			repeat_count INTEGER,
			progress INTEGER NOT NULL DEFAULT 0,
			message TEXT NOT NULL DEFAULT '',
			cancelled BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE TABLE IF NOT EXISTS logs (
			id UUID PRIMARY KEY,
			message TEXT NOT NULL,
			level VARCHAR(20) NOT NULL,
			source VARCHAR(50) NOT NULL DEFAULT '',
			platform VARCHAR(50),
			logged_at TIMESTAMPTZ NOT NULL,
			created_on TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			log_file TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_logs_created_on ON logs(created_on)`,
	},
}

// RunMigrations brings the PostgreSQL schema up to SchemaVersion.
func RunMigrations(databaseURL string) error {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("migrate: open: %w", err)
	}
	defer func() { _ = db.Close() }()

	return migrate(db)
}

func migrate(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY)`); err != nil {
		return fmt.Errorf("migrate: create schema_migrations: %w", err)
	}

	var current int
	if err := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("migrate: read current version: %w", err)
	}

	for version := current + 1; version <= SchemaVersion; version++ {
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("migrate: begin v%d: %w", version, err)
		}
		for _, stmt := range postgresMigrations[version] {
			if _, err := tx.Exec(stmt); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("migrate: v%d: %w", version, err)
			}
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (version) VALUES ($1)`, version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migrate: record v%d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migrate: commit v%d: %w", version, err)
		}
	}
	return nil
}
