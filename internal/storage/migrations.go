package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application
// expects. If the database cannot be migrated to this version, it's a fatal
// error.
const ExpectedSchemaVersion = 2

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial schema",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS accounts (
					id TEXT PRIMARY KEY,
					owner_id TEXT NOT NULL,
					name TEXT NOT NULL,
					type TEXT NOT NULL,
					institution TEXT,
					last_four TEXT,
					created_at DATETIME NOT NULL,
					updated_at DATETIME NOT NULL
				)`,
				`CREATE INDEX idx_accounts_owner ON accounts(owner_id)`,

				`CREATE TABLE IF NOT EXISTS categories (
					id TEXT PRIMARY KEY,
					owner_id TEXT,
					name TEXT NOT NULL,
					icon TEXT,
					color TEXT,
					is_default INTEGER NOT NULL DEFAULT 0,
					parent_id TEXT,
					sort_order INTEGER NOT NULL DEFAULT 0,
					is_hidden INTEGER NOT NULL DEFAULT 0,
					created_at DATETIME NOT NULL,
					updated_at DATETIME NOT NULL
				)`,
				`CREATE INDEX idx_categories_owner ON categories(owner_id)`,

				`CREATE TABLE IF NOT EXISTS imports (
					id TEXT PRIMARY KEY,
					owner_id TEXT NOT NULL,
					account_id TEXT NOT NULL,
					filename TEXT NOT NULL,
					file_type TEXT NOT NULL,
					status TEXT NOT NULL,
					transaction_count INTEGER NOT NULL DEFAULT 0,
					error_message TEXT,
					created_at DATETIME NOT NULL,
					completed_at DATETIME
				)`,
				`CREATE INDEX idx_imports_owner_created ON imports(owner_id, created_at DESC)`,

				`CREATE TABLE IF NOT EXISTS transactions (
					id TEXT PRIMARY KEY,
					owner_id TEXT NOT NULL,
					account_id TEXT NOT NULL,
					import_id TEXT NOT NULL,
					posted_at DATETIME NOT NULL,
					amount INTEGER NOT NULL,
					description TEXT NOT NULL,
					merchant_raw TEXT NOT NULL DEFAULT '',
					merchant_normalized TEXT NOT NULL DEFAULT '',
					category_id TEXT,
					auto_category TEXT,
					manual_override INTEGER NOT NULL DEFAULT 0,
					explainability TEXT NOT NULL,
					notes TEXT NOT NULL DEFAULT '',
					tags TEXT NOT NULL DEFAULT '[]',
					corrected_at DATETIME,
					is_split_parent INTEGER NOT NULL DEFAULT 0,
					split_parent_id TEXT,
					receipt_line_items TEXT,
					tx_key TEXT NOT NULL,
					created_at DATETIME NOT NULL,
					updated_at DATETIME NOT NULL,
					UNIQUE(owner_id, tx_key)
				)`,
				`CREATE INDEX idx_txn_owner_posted ON transactions(owner_id, posted_at DESC)`,
				`CREATE INDEX idx_txn_owner_category_posted ON transactions(owner_id, category_id, posted_at DESC)`,
				`CREATE INDEX idx_txn_owner_account_posted ON transactions(owner_id, account_id, posted_at DESC)`,
				`CREATE INDEX idx_txn_owner_merchant_posted ON transactions(owner_id, merchant_normalized, posted_at DESC)`,
				`CREATE INDEX idx_txn_owner_manual_posted ON transactions(owner_id, manual_override, posted_at DESC)`,
				`CREATE INDEX idx_txn_owner_split_posted ON transactions(owner_id, is_split_parent, posted_at DESC)`,
				`CREATE INDEX idx_txn_owner_import_posted ON transactions(owner_id, import_id, posted_at DESC)`,
				`CREATE INDEX idx_txn_split_parent ON transactions(split_parent_id)`,

				`CREATE TABLE IF NOT EXISTS rules (
					id TEXT PRIMARY KEY,
					owner_id TEXT NOT NULL,
					name TEXT NOT NULL,
					enabled INTEGER NOT NULL DEFAULT 1,
					priority INTEGER NOT NULL,
					conditions TEXT NOT NULL,
					action TEXT NOT NULL,
					source TEXT NOT NULL,
					match_count INTEGER NOT NULL DEFAULT 0,
					last_matched_at DATETIME,
					created_at DATETIME NOT NULL,
					updated_at DATETIME NOT NULL
				)`,
				`CREATE INDEX idx_rules_owner_enabled_priority ON rules(owner_id, enabled, priority DESC)`,

				`CREATE TABLE IF NOT EXISTS dismissed_suggestions (
					id TEXT PRIMARY KEY,
					owner_id TEXT NOT NULL,
					merchant_normalized TEXT NOT NULL,
					category_id TEXT NOT NULL,
					dismissed_at DATETIME NOT NULL,
					UNIQUE(owner_id, merchant_normalized, category_id)
				)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
	{
		Version:     2,
		Description: "Seed default categories",
		Up: func(tx *sql.Tx) error {
			seed := []struct {
				id    string
				name  string
				icon  string
				color string
				sort  int
			}{
				{"dining", "Dining", "🍽️", "#E4572E", 1},
				{"groceries", "Groceries", "🛒", "#76B041", 2},
				{"shopping", "Shopping", "🛍️", "#F4A259", 3},
				{"transport", "Transport", "🚗", "#4C86A8", 4},
				{"entertainment", "Entertainment", "🎬", "#9B5DE5", 5},
				{"health", "Health", "🏥", "#F15BB5", 6},
				{"utilities", "Utilities", "💡", "#00BBF9", 7},
				{"travel", "Travel", "✈️", "#00F5D4", 8},
				{"housing", "Housing", "🏠", "#8D6A9F", 9},
				{"income", "Income", "💰", "#2E933C", 10},
				{"other", "Other", "📦", "#6C757D", 11},
			}

			stmt, err := tx.Prepare(`
				INSERT OR IGNORE INTO categories (
					id, owner_id, name, icon, color, is_default, sort_order,
					is_hidden, created_at, updated_at
				) VALUES (?, NULL, ?, ?, ?, 1, ?, 0, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
			`)
			if err != nil {
				return fmt.Errorf("failed to prepare seed statement: %w", err)
			}
			defer func() { _ = stmt.Close() }()

			for _, c := range seed {
				if _, err := stmt.Exec(c.id, c.name, c.icon, c.color, c.sort); err != nil {
					return fmt.Errorf("failed to seed category %s: %w", c.id, err)
				}
			}
			return nil
		},
	},
}

// Migrate applies all pending migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	var current int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&current); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}

		slog.Info("Applying migration", "version", m.Version, "description", m.Description)

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin migration transaction: %w", err)
		}

		if err := m.Up(tx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", m.Version, err)
		}

		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", m.Version)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to set schema version %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}
