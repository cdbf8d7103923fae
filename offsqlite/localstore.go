// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package offsqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// LocalStore is the boundary to the local replica. Write methods take the
// active transaction so resolution actions stay atomic across replica, queue
// and operation-error state. Implementations must report failures
// synchronously; the mediator wraps them in LocalStoreError and rolls back.
type LocalStore interface {
	// Put overwrites (or creates) the replica item. synced distinguishes
	// confirmed server state (resolution writes) from unconfirmed local
	// edits (mutation API writes).
	Put(ctx context.Context, tx *sql.Tx, table, itemID string, item json.RawMessage, synced bool) error

	// Delete removes the replica item. Deleting an absent item is not an
	// error.
	Delete(ctx context.Context, tx *sql.Tx, table, itemID string) error

	// MarkSynced flags the replica item as confirmed by the server at the
	// given version.
	MarkSynced(ctx context.Context, tx *sql.Tx, table, itemID string, serverVersion int64) error
}

// replicaStore is the default LocalStore: a JSON document store in the
// _sync_replica table of the same SQLite database as the queue.
type replicaStore struct{}

// NewReplicaStore returns the built-in SQLite-backed replica store.
func NewReplicaStore() LocalStore {
	return replicaStore{}
}

func (replicaStore) Put(ctx context.Context, tx *sql.Tx, table, itemID string, item json.RawMessage, synced bool) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO _sync_replica (table_name, item_id, payload, synced, updated_at)
		VALUES (?, ?, ?, ?, `+sqliteNow+`)
		ON CONFLICT (table_name, item_id) DO UPDATE SET
			payload = excluded.payload,
			synced = excluded.synced,
			updated_at = excluded.updated_at
	`, table, itemID, string(item), synced)
	return err
}

func (replicaStore) Delete(ctx context.Context, tx *sql.Tx, table, itemID string) error {
	_, err := tx.ExecContext(ctx, `
		DELETE FROM _sync_replica WHERE table_name = ? AND item_id = ?
	`, table, itemID)
	return err
}

func (replicaStore) MarkSynced(ctx context.Context, tx *sql.Tx, table, itemID string, serverVersion int64) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE _sync_replica SET synced = 1, server_version = ?
		WHERE table_name = ? AND item_id = ?
	`, serverVersion, table, itemID)
	return err
}

// getReplicaItem reads a replica item directly from the database.
func getReplicaItem(ctx context.Context, db *sql.DB, table, itemID string) (json.RawMessage, error) {
	var payload string
	err := db.QueryRowContext(ctx, `
		SELECT payload FROM _sync_replica WHERE table_name = ? AND item_id = ?
	`, table, itemID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("replica item %s.%s: %w", table, itemID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read replica item %s.%s: %w", table, itemID, err)
	}
	return json.RawMessage(payload), nil
}

// getReplicaVersion returns the last confirmed server version for an item,
// or 0 when the item is unknown locally.
func getReplicaVersion(ctx context.Context, db *sql.DB, table, itemID string) (int64, error) {
	var version int64
	err := db.QueryRowContext(ctx, `
		SELECT server_version FROM _sync_replica WHERE table_name = ? AND item_id = ?
	`, table, itemID).Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read replica version %s.%s: %w", table, itemID, err)
	}
	return version, nil
}
