// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package offsqlite

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// sqliteNow is the expression used for all metadata timestamps.
// Millisecond-precision UTC keeps queue ordering stable across processes.
const sqliteNow = `strftime('%Y-%m-%dT%H:%M:%fZ','now')`

// initializeDatabase creates the sync metadata tables and configures pragmas.
// Safe to call on every startup.
func initializeDatabase(db *sql.DB) error {
	pragmas := []string{
		`PRAGMA journal_mode = WAL`,
		`PRAGMA foreign_keys = ON`,
		`PRAGMA busy_timeout = 5000`,
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	schema := []string{
		`CREATE TABLE IF NOT EXISTS _sync_client_info (
			user_id    TEXT PRIMARY KEY,
			source_id  TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT (` + sqliteNow + `)
		)`,
		`CREATE TABLE IF NOT EXISTS _sync_pending (
			op_id      TEXT PRIMARY KEY,
			table_name TEXT NOT NULL,
			item_id    TEXT NOT NULL,
			op         TEXT NOT NULL CHECK (op IN ('INSERT','UPDATE','DELETE')),
			payload    TEXT,
			blocked    INTEGER NOT NULL DEFAULT 0,
			queued_at  TEXT NOT NULL DEFAULT (` + sqliteNow + `),
			UNIQUE (table_name, item_id)
		)`,
		`CREATE TABLE IF NOT EXISTS _sync_operation_errors (
			id              TEXT PRIMARY KEY,
			op_id           TEXT NOT NULL,
			op_kind         TEXT NOT NULL,
			table_name      TEXT NOT NULL,
			item_id         TEXT NOT NULL,
			client_item     TEXT,
			error_message   TEXT NOT NULL,
			status_code     INTEGER,
			server_response TEXT,
			server_item     TEXT,
			created_at      TEXT NOT NULL DEFAULT (` + sqliteNow + `),
			resolved        INTEGER NOT NULL DEFAULT 0,
			resolved_at     TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_operation_errors_open
			ON _sync_operation_errors (resolved, created_at)`,
		`CREATE TABLE IF NOT EXISTS _sync_replica (
			table_name     TEXT NOT NULL,
			item_id        TEXT NOT NULL,
			payload        TEXT NOT NULL,
			server_version INTEGER NOT NULL DEFAULT 0,
			synced         INTEGER NOT NULL DEFAULT 0,
			updated_at     TEXT NOT NULL DEFAULT (` + sqliteNow + `),
			PRIMARY KEY (table_name, item_id)
		)`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create sync metadata table: %w", err)
		}
	}
	return nil
}

// EnsureSourceID returns the stable device/source identifier for userID,
// generating and persisting one on first use.
func EnsureSourceID(db *sql.DB, userID string) (string, error) {
	var sourceID string
	err := db.QueryRow(`SELECT source_id FROM _sync_client_info WHERE user_id = ?`, userID).Scan(&sourceID)
	if err == nil {
		return sourceID, nil
	}
	if err != sql.ErrNoRows {
		return "", fmt.Errorf("failed to query client info: %w", err)
	}

	sourceID = uuid.New().String()
	_, err = db.Exec(`INSERT INTO _sync_client_info (user_id, source_id) VALUES (?, ?)`, userID, sourceID)
	if err != nil {
		return "", fmt.Errorf("failed to persist source id: %w", err)
	}
	return sourceID, nil
}
