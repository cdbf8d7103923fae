// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package offsqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// querier is satisfied by both *sql.DB and *sql.Tx so queue operations can
// run standalone or inside a mediator transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// OperationQueue is the durable, ordered set of pending local mutations.
// Records are drained in first-enqueue order; merging a later mutation into
// an existing record preserves the record's original queue position. The
// UNIQUE(table_name, item_id) index backs the one-pending-operation-per-item
// invariant at the storage layer.
type OperationQueue struct {
	db    *sql.DB
	merge MergePolicy
}

// NewOperationQueue creates a queue over an initialized sync database.
// A nil policy selects DefaultMergePolicy.
func NewOperationQueue(db *sql.DB, policy MergePolicy) *OperationQueue {
	if policy == nil {
		policy = DefaultMergePolicy
	}
	return &OperationQueue{db: db, merge: policy}
}

// Enqueue records a local mutation. If an operation for (table, itemID) is
// already pending, the mutation is merged into it per the queue's MergePolicy
// and the surviving record keeps its original position. The returned id is
// the id of the surviving record, or "" when the merge collapsed to a no-op
// and the record was removed.
func (q *OperationQueue) Enqueue(ctx context.Context, table, itemID, kind string, item []byte) (string, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	opID, err := q.enqueueInTx(ctx, tx, table, itemID, kind, item)
	if err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit enqueue: %w", err)
	}
	return opID, nil
}

func (q *OperationQueue) enqueueInTx(ctx context.Context, tx querier, table, itemID, kind string, item []byte) (string, error) {
	if !validKind(kind) {
		return "", fmt.Errorf("unknown operation kind %q: %w", kind, ErrInvalidTransition)
	}
	if kind == OpDelete {
		item = nil
	}

	existing, err := q.getByItemInTx(ctx, tx, table, itemID)
	if err != nil && err != sql.ErrNoRows {
		return "", fmt.Errorf("failed to look up pending operation: %w", err)
	}

	if err == sql.ErrNoRows {
		opID := uuid.New().String()
		_, err := tx.ExecContext(ctx, `
			INSERT INTO _sync_pending (op_id, table_name, item_id, op, payload)
			VALUES (?, ?, ?, ?, ?)
		`, opID, table, itemID, kind, nullableText(item))
		if err != nil {
			return "", fmt.Errorf("failed to enqueue operation: %w", err)
		}
		return opID, nil
	}

	result, err := q.merge(existing.Kind, kind)
	if err != nil {
		return "", err
	}

	switch result {
	case MergeDropRecord:
		if err := q.removeInTx(ctx, tx, existing.OpID); err != nil {
			return "", err
		}
		return "", nil
	case MergeReplacePayload:
		return existing.OpID, q.updateKindAndItemInTx(ctx, tx, existing.OpID, existing.Kind, item, false)
	case MergeBecomeUpdate:
		return existing.OpID, q.updateKindAndItemInTx(ctx, tx, existing.OpID, OpUpdate, item, false)
	case MergeBecomeDelete:
		return existing.OpID, q.updateKindAndItemInTx(ctx, tx, existing.OpID, OpDelete, nil, false)
	default:
		return "", fmt.Errorf("unknown merge result %d", result)
	}
}

// Get returns the pending operation with the given id, or ErrNotFound.
func (q *OperationQueue) Get(ctx context.Context, opID string) (*OperationRecord, error) {
	return q.getInTx(ctx, q.db, opID)
}

// GetByItem returns the pending operation for (table, itemID), or ErrNotFound.
func (q *OperationQueue) GetByItem(ctx context.Context, table, itemID string) (*OperationRecord, error) {
	rec, err := q.getByItemInTx(ctx, q.db, table, itemID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no pending operation for %s.%s: %w", table, itemID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up pending operation: %w", err)
	}
	return rec, nil
}

// Remove deletes the pending operation with the given id.
func (q *OperationQueue) Remove(ctx context.Context, opID string) error {
	return q.removeInTx(ctx, q.db, opID)
}

// UpdateKindAndItem rewrites the kind and payload of a pending operation in
// place, preserving its queue position, and clears its blocked flag.
func (q *OperationQueue) UpdateKindAndItem(ctx context.Context, opID, kind string, item []byte) error {
	if !validKind(kind) {
		return fmt.Errorf("unknown operation kind %q: %w", kind, ErrInvalidTransition)
	}
	if kind == OpDelete {
		item = nil
	}
	return q.updateKindAndItemInTx(ctx, q.db, opID, kind, item, true)
}

// NextBatch returns up to maxCount unblocked operations in first-enqueue
// order. Records are not removed; removal happens on confirmed push success.
func (q *OperationQueue) NextBatch(ctx context.Context, maxCount int) ([]OperationRecord, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT op_id, table_name, item_id, op, payload, blocked, queued_at
		FROM _sync_pending
		WHERE blocked = 0
		ORDER BY queued_at, rowid
		LIMIT ?
	`, maxCount)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending operations: %w", err)
	}
	defer rows.Close()

	var batch []OperationRecord
	for rows.Next() {
		rec, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		batch = append(batch, *rec)
	}
	return batch, rows.Err()
}

// Len returns the number of pending operations, blocked ones included.
func (q *OperationQueue) Len(ctx context.Context) (int, error) {
	var n int
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM _sync_pending`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count pending operations: %w", err)
	}
	return n, nil
}

func (q *OperationQueue) getInTx(ctx context.Context, tx querier, opID string) (*OperationRecord, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT op_id, table_name, item_id, op, payload, blocked, queued_at
		FROM _sync_pending WHERE op_id = ?
	`, opID)
	rec, err := scanOperation(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("operation %s: %w", opID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load operation %s: %w", opID, err)
	}
	return rec, nil
}

func (q *OperationQueue) getByItemInTx(ctx context.Context, tx querier, table, itemID string) (*OperationRecord, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT op_id, table_name, item_id, op, payload, blocked, queued_at
		FROM _sync_pending WHERE table_name = ? AND item_id = ?
	`, table, itemID)
	return scanOperation(row)
}

func (q *OperationQueue) removeInTx(ctx context.Context, tx querier, opID string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM _sync_pending WHERE op_id = ?`, opID)
	if err != nil {
		return fmt.Errorf("failed to remove operation %s: %w", opID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("operation %s: %w", opID, ErrNotFound)
	}
	return nil
}

func (q *OperationQueue) updateKindAndItemInTx(ctx context.Context, tx querier, opID, kind string, item []byte, unblock bool) error {
	blockedExpr := `blocked`
	if unblock {
		blockedExpr = `0`
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE _sync_pending SET op = ?, payload = ?, blocked = `+blockedExpr+`
		WHERE op_id = ?
	`, kind, nullableText(item), opID)
	if err != nil {
		return fmt.Errorf("failed to update operation %s: %w", opID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("operation %s: %w", opID, ErrNotFound)
	}
	return nil
}

func (q *OperationQueue) setBlockedInTx(ctx context.Context, tx querier, opID string, blocked bool) error {
	res, err := tx.ExecContext(ctx, `UPDATE _sync_pending SET blocked = ? WHERE op_id = ?`, blocked, opID)
	if err != nil {
		return fmt.Errorf("failed to set blocked flag on %s: %w", opID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("operation %s: %w", opID, ErrNotFound)
	}
	return nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanOperation(row rowScanner) (*OperationRecord, error) {
	var rec OperationRecord
	var payload sql.NullString
	var queuedAt string
	if err := row.Scan(&rec.OpID, &rec.Table, &rec.ItemID, &rec.Kind, &payload, &rec.Blocked, &queuedAt); err != nil {
		return nil, err
	}
	if payload.Valid {
		rec.Item = []byte(payload.String)
	}
	if t, err := time.Parse(time.RFC3339Nano, queuedAt); err == nil {
		rec.QueuedAt = t
	}
	return &rec, nil
}

// nullableText maps a nil byte slice to SQL NULL.
func nullableText(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}
