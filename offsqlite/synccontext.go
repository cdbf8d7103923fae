// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package offsqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// SyncContext is the single choke point for every mutation of the operation
// queue, the local replica and the operation-error store. Each resolution
// action runs inside one SQLite transaction under a per-(table, item) lock,
// so the three stores either move together or not at all.
type SyncContext struct {
	db     *sql.DB
	queue  *OperationQueue
	store  LocalStore
	logger *slog.Logger
	locks  keyedMutex
}

// NewSyncContext creates a mediator over an initialized sync database.
// A nil store selects the built-in SQLite replica store; a nil logger
// selects slog.Default().
func NewSyncContext(db *sql.DB, queue *OperationQueue, store LocalStore, logger *slog.Logger) *SyncContext {
	if store == nil {
		store = NewReplicaStore()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SyncContext{db: db, queue: queue, store: store, logger: logger}
}

// Queue returns the operation queue owned by this mediator.
func (sc *SyncContext) Queue() *OperationQueue {
	return sc.queue
}

// PushFailure describes a push rejected by the sync server. StatusCode and
// ServerItem are optional: network-level or validation failures carry
// neither.
type PushFailure struct {
	OpID           string
	OpKind         string
	Table          string
	ItemID         string
	ClientItem     []byte
	Message        string
	StatusCode     *int
	ServerResponse string
	ServerItem     []byte
}

// RecordPushFailure materializes a durable OperationError for a rejected
// push and blocks the originating operation so the push engine does not
// retry it unattended. Called by the push engine only.
func (sc *SyncContext) RecordPushFailure(ctx context.Context, f PushFailure) (*OperationError, error) {
	unlock := sc.locks.lock(f.Table, f.ItemID)
	defer unlock()

	tx, err := sc.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := sc.queue.setBlockedInTx(ctx, tx, f.OpID, true); err != nil {
		return nil, err
	}

	id := uuid.New().String()
	var statusCode any
	if f.StatusCode != nil {
		statusCode = *f.StatusCode
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO _sync_operation_errors
			(id, op_id, op_kind, table_name, item_id, client_item,
			 error_message, status_code, server_response, server_item)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id, f.OpID, f.OpKind, f.Table, f.ItemID, nullableText(f.ClientItem),
		f.Message, statusCode, f.ServerResponse, nullableText(f.ServerItem))
	if err != nil {
		return nil, fmt.Errorf("failed to record push failure: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit push failure: %w", err)
	}

	sc.logger.Warn("Push rejected; operation blocked pending resolution",
		"table", f.Table, "item_id", f.ItemID, "op", f.OpKind, "message", f.Message)

	return sc.GetOperationError(ctx, id)
}

// CancelAndUpdateItem resolves opErr by removing the pending operation and
// overwriting the local replica item with item. A nil item selects the
// server item captured on the record.
func (sc *SyncContext) CancelAndUpdateItem(ctx context.Context, opErr *OperationError, item []byte) error {
	if item == nil {
		item = opErr.ServerItem
	}
	if item == nil {
		return errors.New("offsqlite: operation error carries no server item; provide one explicitly")
	}
	return sc.resolve(ctx, opErr, func(tx *sql.Tx, op *OperationRecord) error {
		if err := sc.store.Put(ctx, tx, opErr.Table, opErr.ItemID, item, true); err != nil {
			return &LocalStoreError{Op: "put", Table: opErr.Table, ItemID: opErr.ItemID, Err: err}
		}
		return sc.queue.removeInTx(ctx, tx, op.OpID)
	})
}

// CancelAndDiscardItem resolves opErr by removing both the pending operation
// and the local replica item.
func (sc *SyncContext) CancelAndDiscardItem(ctx context.Context, opErr *OperationError) error {
	return sc.resolve(ctx, opErr, func(tx *sql.Tx, op *OperationRecord) error {
		if err := sc.store.Delete(ctx, tx, opErr.Table, opErr.ItemID); err != nil {
			return &LocalStoreError{Op: "delete", Table: opErr.Table, ItemID: opErr.ItemID, Err: err}
		}
		return sc.queue.removeInTx(ctx, tx, op.OpID)
	})
}

// UpdateOperationAndItem resolves opErr by rewriting the pending operation's
// kind and payload in place and unblocking it for a future push attempt. The
// local replica is not touched.
func (sc *SyncContext) UpdateOperationAndItem(ctx context.Context, opErr *OperationError, kind string, item []byte) error {
	if !validKind(kind) {
		return fmt.Errorf("unknown operation kind %q: %w", kind, ErrInvalidTransition)
	}
	if kind == OpDelete {
		item = nil
	}
	return sc.resolve(ctx, opErr, func(tx *sql.Tx, op *OperationRecord) error {
		return sc.queue.updateKindAndItemInTx(ctx, tx, op.OpID, kind, item, true)
	})
}

// resolve runs one resolution transition. The apply callback performs the
// queue/replica work inside the transaction; resolve owns the OPEN check,
// the RESOLVED flip and the commit. Any error from apply rolls everything
// back, so a failed action leaves the system exactly as it was.
func (sc *SyncContext) resolve(ctx context.Context, opErr *OperationError, apply func(tx *sql.Tx, op *OperationRecord) error) error {
	unlock := sc.locks.lock(opErr.Table, opErr.ItemID)
	defer unlock()

	tx, err := sc.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var resolved bool
	err = tx.QueryRowContext(ctx, `
		SELECT resolved FROM _sync_operation_errors WHERE id = ?
	`, opErr.ID).Scan(&resolved)
	if err == sql.ErrNoRows {
		return fmt.Errorf("operation error %s: %w", opErr.ID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to load operation error %s: %w", opErr.ID, err)
	}
	if resolved {
		return fmt.Errorf("operation error %s: %w", opErr.ID, ErrAlreadyResolved)
	}

	op, err := sc.queue.getInTx(ctx, tx, opErr.OpID)
	if errors.Is(err, ErrNotFound) {
		// The operation vanished (e.g. concurrent successful push). There is
		// nothing left to reconcile: mark the record resolved, but report
		// the discrepancy instead of silently succeeding.
		if err := sc.markResolvedInTx(ctx, tx, opErr.ID); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit resolution: %w", err)
		}
		opErr.Resolved = true
		return fmt.Errorf("operation %s no longer pending; error record resolved: %w", opErr.OpID, ErrNotFound)
	}
	if err != nil {
		return err
	}

	if err := apply(tx, op); err != nil {
		return err
	}
	if err := sc.markResolvedInTx(ctx, tx, opErr.ID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit resolution: %w", err)
	}
	opErr.Resolved = true

	sc.logger.Debug("Operation error resolved",
		"id", opErr.ID, "table", opErr.Table, "item_id", opErr.ItemID)
	return nil
}

func (sc *SyncContext) markResolvedInTx(ctx context.Context, tx querier, id string) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE _sync_operation_errors
		SET resolved = 1, resolved_at = `+sqliteNow+`
		WHERE id = ? AND resolved = 0
	`, id)
	if err != nil {
		return fmt.Errorf("failed to mark operation error resolved: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("operation error %s: %w", id, ErrAlreadyResolved)
	}
	return nil
}

// GetOperationError loads one operation error by id.
func (sc *SyncContext) GetOperationError(ctx context.Context, id string) (*OperationError, error) {
	row := sc.db.QueryRowContext(ctx, `
		SELECT `+operationErrorColumns+`
		FROM _sync_operation_errors WHERE id = ?
	`, id)
	e, err := scanOperationError(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("operation error %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load operation error %s: %w", id, err)
	}
	return e, nil
}

// ListOperationErrors returns all open (unresolved) operation errors in
// creation order. This is the application-facing enumeration of current
// conflicts awaiting a resolution decision.
func (sc *SyncContext) ListOperationErrors(ctx context.Context) ([]*OperationError, error) {
	return sc.listOperationErrors(ctx, false)
}

// ListResolvedOperationErrors returns resolved records, retained for audit.
func (sc *SyncContext) ListResolvedOperationErrors(ctx context.Context) ([]*OperationError, error) {
	return sc.listOperationErrors(ctx, true)
}

func (sc *SyncContext) listOperationErrors(ctx context.Context, resolved bool) ([]*OperationError, error) {
	rows, err := sc.db.QueryContext(ctx, `
		SELECT `+operationErrorColumns+`
		FROM _sync_operation_errors WHERE resolved = ?
		ORDER BY created_at, rowid
	`, resolved)
	if err != nil {
		return nil, fmt.Errorf("failed to query operation errors: %w", err)
	}
	defer rows.Close()

	var out []*OperationError
	for rows.Next() {
		e, err := scanOperationError(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan operation error: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// enqueueLocal applies a local mutation: replica write and queue merge in one
// transaction under the item's lock. DELETE removes the replica row.
func (sc *SyncContext) enqueueLocal(ctx context.Context, table, itemID, kind string, item []byte) (string, error) {
	unlock := sc.locks.lock(table, itemID)
	defer unlock()

	tx, err := sc.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if kind == OpDelete {
		if err := sc.store.Delete(ctx, tx, table, itemID); err != nil {
			return "", &LocalStoreError{Op: "delete", Table: table, ItemID: itemID, Err: err}
		}
	} else {
		if err := sc.store.Put(ctx, tx, table, itemID, item, false); err != nil {
			return "", &LocalStoreError{Op: "put", Table: table, ItemID: itemID, Err: err}
		}
	}

	opID, err := sc.queue.enqueueInTx(ctx, tx, table, itemID, kind, item)
	if err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit local mutation: %w", err)
	}
	return opID, nil
}

// markPushApplied removes a confirmed operation from the queue and flags the
// replica row as synced at the server-assigned version. Called by the push
// engine on an "applied" status.
func (sc *SyncContext) markPushApplied(ctx context.Context, op *OperationRecord, newServerVersion *int64) error {
	unlock := sc.locks.lock(op.Table, op.ItemID)
	defer unlock()

	tx, err := sc.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	err = sc.queue.removeInTx(ctx, tx, op.OpID)
	if errors.Is(err, ErrNotFound) {
		// A concurrent resolution already removed it; nothing to confirm.
		return nil
	}
	if err != nil {
		return err
	}

	if op.Kind != OpDelete && newServerVersion != nil {
		if err := sc.store.MarkSynced(ctx, tx, op.Table, op.ItemID, *newServerVersion); err != nil {
			return &LocalStoreError{Op: "put", Table: op.Table, ItemID: op.ItemID, Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit push confirmation: %w", err)
	}
	return nil
}

// keyedMutex serializes work per (table, item id) key. Entries are never
// evicted; the key space is bounded by the number of distinct items a client
// touches between restarts.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(table, itemID string) (unlock func()) {
	key := table + "\x00" + itemID
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
