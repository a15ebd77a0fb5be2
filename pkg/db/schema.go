package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS users (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    login TEXT NOT NULL UNIQUE CHECK (login <> ''),
    balance INTEGER NOT NULL DEFAULT 100000 CHECK (balance >= 0),
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS instruments (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE CHECK (name <> ''),
    purchase_cost INTEGER NOT NULL CHECK (purchase_cost > 0),
    sale_cost INTEGER NOT NULL CHECK (sale_cost > 0),
    last_updated DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS positions (
    user_id INTEGER NOT NULL REFERENCES users(id),
    instrument_id INTEGER NOT NULL REFERENCES instruments(id),
    amount INTEGER NOT NULL CHECK (amount >= 0),
    PRIMARY KEY (user_id, instrument_id)
);

-- An operation can only be recorded against an existing position row.
CREATE TABLE IF NOT EXISTS operations (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id INTEGER NOT NULL,
    instrument_id INTEGER NOT NULL,
    operation_type TEXT NOT NULL CHECK (operation_type IN ('purchase', 'sale')),
    amount INTEGER NOT NULL CHECK (amount >= 0),
    purchase_cost INTEGER NOT NULL CHECK (purchase_cost > 0),
    sale_cost INTEGER NOT NULL CHECK (sale_cost > 0),
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (user_id, instrument_id) REFERENCES positions(user_id, instrument_id)
);

CREATE INDEX IF NOT EXISTS idx_operations_user_created ON operations(user_id, created_at, id);

-- Journal of bus events; written in batches, never read by trading logic.
CREATE TABLE IF NOT EXISTS event_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    event TEXT NOT NULL,
    payload TEXT NOT NULL,
    published_at DATETIME NOT NULL
);
`

// tables lists every table in dependency order (referenced tables first).
var tables = []string{"users", "instruments", "positions", "operations", "event_log"}

// ApplyMigrations bootstraps the schema; keep lightweight for fast startup.
func ApplyMigrations(d *Database) error {
	if d == nil || d.DB == nil {
		return fmt.Errorf("database is not initialized")
	}
	if _, err := d.DB.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// ClearAll deletes every row, children before parents so foreign keys hold.
func (q *Queries) ClearAll(ctx context.Context) error {
	for i := len(tables) - 1; i >= 0; i-- {
		if _, err := q.q.ExecContext(ctx, "DELETE FROM "+tables[i]); err != nil {
			return fmt.Errorf("clear %s: %w", tables[i], err)
		}
	}
	return nil
}

// VerifySchema returns the ledger tables missing from the database.
func VerifySchema(ctx context.Context, d *Database) ([]string, error) {
	var missing []string
	for _, table := range tables {
		var name string
		err := d.DB.QueryRowContext(ctx,
			"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table,
		).Scan(&name)
		if errors.Is(err, sql.ErrNoRows) {
			missing = append(missing, table)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("inspect %s: %w", table, err)
		}
	}
	return missing, nil
}
