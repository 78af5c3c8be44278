package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
// If the database cannot be migrated to this version, it's a fatal error.
const ExpectedSchemaVersion = 3

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

func execAll(tx *sql.Tx, queries []string) error {
	for _, query := range queries {
		if _, err := tx.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query '%s': %w", query, err)
		}
	}
	return nil
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Sales and bank entries",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS sales (
					id TEXT PRIMARY KEY,
					date DATETIME NOT NULL,
					amount TEXT NOT NULL,
					client_ref TEXT NOT NULL DEFAULT '',
					version INTEGER NOT NULL DEFAULT 0,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_sales_date ON sales(date)`,

				`CREATE TABLE IF NOT EXISTS bank_entries (
					id TEXT PRIMARY KEY,
					posted_at DATETIME NOT NULL,
					amount TEXT NOT NULL,
					direction TEXT NOT NULL CHECK (direction IN ('inflow', 'outflow')),
					description TEXT NOT NULL DEFAULT '',
					version INTEGER NOT NULL DEFAULT 0,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_bank_entries_posted_at ON bank_entries(posted_at)`,
				`CREATE INDEX idx_bank_entries_direction ON bank_entries(direction)`,
			})
		},
	},
	{
		Version:     2,
		Description: "Reconciliation links and membership",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS reconciliation_links (
					id TEXT PRIMARY KEY,
					candidate_key TEXT NOT NULL,
					status TEXT NOT NULL CHECK (status IN ('proposed', 'confirmed', 'rejected', 'reversed')),
					method TEXT NOT NULL,
					pass TEXT NOT NULL,
					confidence REAL NOT NULL DEFAULT 0,
					sale_total TEXT NOT NULL,
					bank_total TEXT NOT NULL,
					created_by TEXT NOT NULL DEFAULT '',
					confirmed_by TEXT NOT NULL DEFAULT '',
					resolved_by TEXT NOT NULL DEFAULT '',
					reason TEXT NOT NULL DEFAULT '',
					superseded_by TEXT NOT NULL DEFAULT '',
					created_at DATETIME NOT NULL,
					updated_at DATETIME NOT NULL,
					confirmed_at DATETIME,
					resolved_at DATETIME
				)`,
				`CREATE INDEX idx_links_candidate_key ON reconciliation_links(candidate_key)`,
				`CREATE INDEX idx_links_status ON reconciliation_links(status)`,

				`CREATE TABLE IF NOT EXISTS link_sales (
					link_id TEXT NOT NULL REFERENCES reconciliation_links(id),
					sale_id TEXT NOT NULL REFERENCES sales(id),
					position INTEGER NOT NULL,
					version INTEGER NOT NULL,
					PRIMARY KEY (link_id, sale_id)
				)`,
				`CREATE INDEX idx_link_sales_sale ON link_sales(sale_id)`,

				`CREATE TABLE IF NOT EXISTS link_bank_entries (
					link_id TEXT NOT NULL REFERENCES reconciliation_links(id),
					bank_entry_id TEXT NOT NULL REFERENCES bank_entries(id),
					position INTEGER NOT NULL,
					version INTEGER NOT NULL,
					PRIMARY KEY (link_id, bank_entry_id)
				)`,
				`CREATE INDEX idx_link_bank_entries_entry ON link_bank_entries(bank_entry_id)`,
			})
		},
	},
	{
		Version:     3,
		Description: "Append-only audit trail",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS audit_entries (
					id TEXT PRIMARY KEY,
					link_id TEXT NOT NULL,
					from_status TEXT NOT NULL,
					to_status TEXT NOT NULL,
					actor TEXT NOT NULL,
					reason TEXT NOT NULL DEFAULT '',
					at DATETIME NOT NULL,
					sale_total TEXT NOT NULL,
					bank_total TEXT NOT NULL,
					amounts TEXT NOT NULL
				)`,
				`CREATE INDEX idx_audit_entries_link ON audit_entries(link_id)`,
				`CREATE TRIGGER audit_entries_no_update
				BEFORE UPDATE ON audit_entries
				BEGIN
					SELECT RAISE(ABORT, 'audit entries are append-only');
				END`,
				`CREATE TRIGGER audit_entries_no_delete
				BEFORE DELETE ON audit_entries
				BEGIN
					SELECT RAISE(ABORT, 'audit entries are append-only');
				END`,
			})
		},
	},
}

// Migrate applies pending migrations and verifies the resulting schema version.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	var currentVersion int
	err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}

		if upErr := migration.Up(tx); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		if _, execErr := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr)
		}

		slog.Info("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	var finalVersion int
	err = s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&finalVersion)
	if err != nil {
		return fmt.Errorf("failed to verify final schema version: %w", err)
	}

	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("database schema version mismatch: expected %d, got %d", ExpectedSchemaVersion, finalVersion)
	}

	return nil
}

// SchemaVersion reports the schema version recorded in the database.
func (s *SQLiteStorage) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get schema version: %w", err)
	}
	return version, nil
}
