package offsqlite

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	// Every pool connection would get its own in-memory database.
	db.SetMaxOpenConns(1)

	err = initializeDatabase(db)
	require.NoError(t, err)
	return db
}

func TestEnqueueCreatesRecord(t *testing.T) {
	ctx := context.Background()
	q := NewOperationQueue(newTestDB(t), nil)

	opID, err := q.Enqueue(ctx, "notes", "1", OpInsert, []byte(`{"title":"hello"}`))
	require.NoError(t, err)
	require.NotEmpty(t, opID)

	rec, err := q.Get(ctx, opID)
	require.NoError(t, err)
	require.Equal(t, "notes", rec.Table)
	require.Equal(t, "1", rec.ItemID)
	require.Equal(t, OpInsert, rec.Kind)
	require.JSONEq(t, `{"title":"hello"}`, string(rec.Item))
	require.False(t, rec.Blocked)
}

func TestPerItemUniqueness(t *testing.T) {
	ctx := context.Background()
	q := NewOperationQueue(newTestDB(t), nil)

	opID1, err := q.Enqueue(ctx, "notes", "1", OpInsert, []byte(`{"v":1}`))
	require.NoError(t, err)

	// A second mutation against the same item merges into the existing record.
	opID2, err := q.Enqueue(ctx, "notes", "1", OpUpdate, []byte(`{"v":2}`))
	require.NoError(t, err)
	require.Equal(t, opID1, opID2)

	n, err := q.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	// Insert followed by update still pushes as INSERT (server never saw it).
	rec, err := q.Get(ctx, opID1)
	require.NoError(t, err)
	require.Equal(t, OpInsert, rec.Kind)
	require.JSONEq(t, `{"v":2}`, string(rec.Item))
}

func TestMergeInsertDeleteCollapses(t *testing.T) {
	ctx := context.Background()
	q := NewOperationQueue(newTestDB(t), nil)

	_, err := q.Enqueue(ctx, "notes", "1", OpInsert, []byte(`{"v":1}`))
	require.NoError(t, err)

	opID, err := q.Enqueue(ctx, "notes", "1", OpDelete, nil)
	require.NoError(t, err)
	require.Empty(t, opID)

	n, err := q.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestMergeUpdateDeleteBecomesDelete(t *testing.T) {
	ctx := context.Background()
	q := NewOperationQueue(newTestDB(t), nil)

	opID, err := q.Enqueue(ctx, "notes", "1", OpUpdate, []byte(`{"v":1}`))
	require.NoError(t, err)

	opID2, err := q.Enqueue(ctx, "notes", "1", OpDelete, nil)
	require.NoError(t, err)
	require.Equal(t, opID, opID2)

	rec, err := q.Get(ctx, opID)
	require.NoError(t, err)
	require.Equal(t, OpDelete, rec.Kind)
	require.Nil(t, rec.Item)
}

func TestMergeDeleteInsertBecomesUpdate(t *testing.T) {
	ctx := context.Background()
	q := NewOperationQueue(newTestDB(t), nil)

	opID, err := q.Enqueue(ctx, "notes", "1", OpDelete, nil)
	require.NoError(t, err)

	opID2, err := q.Enqueue(ctx, "notes", "1", OpInsert, []byte(`{"v":2}`))
	require.NoError(t, err)
	require.Equal(t, opID, opID2)

	// The item still exists remotely, so the net effect is an update.
	rec, err := q.Get(ctx, opID)
	require.NoError(t, err)
	require.Equal(t, OpUpdate, rec.Kind)
	require.JSONEq(t, `{"v":2}`, string(rec.Item))
}

func TestInvalidTransitions(t *testing.T) {
	ctx := context.Background()
	q := NewOperationQueue(newTestDB(t), nil)

	_, err := q.Enqueue(ctx, "notes", "1", OpInsert, []byte(`{"v":1}`))
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, "notes", "1", OpInsert, []byte(`{"v":2}`))
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, err = q.Enqueue(ctx, "notes", "2", OpDelete, nil)
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, "notes", "2", OpUpdate, []byte(`{"v":2}`))
	require.ErrorIs(t, err, ErrInvalidTransition)

	// Rejected mutations leave the queued record untouched.
	rec, err := q.GetByItem(ctx, "notes", "1")
	require.NoError(t, err)
	require.Equal(t, OpInsert, rec.Kind)
	require.JSONEq(t, `{"v":1}`, string(rec.Item))
}

func TestCustomMergePolicy(t *testing.T) {
	ctx := context.Background()
	// A policy that always drops on delete, even over a pending delete.
	policy := func(queued, incoming string) (MergeResult, error) {
		if incoming == OpDelete {
			return MergeDropRecord, nil
		}
		return DefaultMergePolicy(queued, incoming)
	}
	q := NewOperationQueue(newTestDB(t), policy)

	_, err := q.Enqueue(ctx, "notes", "1", OpUpdate, []byte(`{"v":1}`))
	require.NoError(t, err)
	opID, err := q.Enqueue(ctx, "notes", "1", OpDelete, nil)
	require.NoError(t, err)
	require.Empty(t, opID)

	n, err := q.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestNextBatchOrder(t *testing.T) {
	ctx := context.Background()
	q := NewOperationQueue(newTestDB(t), nil)

	opA, err := q.Enqueue(ctx, "notes", "a", OpInsert, []byte(`{"v":1}`))
	require.NoError(t, err)
	opB, err := q.Enqueue(ctx, "notes", "b", OpInsert, []byte(`{"v":1}`))
	require.NoError(t, err)

	// Merging a later mutation into A must not move it behind B.
	_, err = q.Enqueue(ctx, "notes", "a", OpUpdate, []byte(`{"v":9}`))
	require.NoError(t, err)

	batch, err := q.NextBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	require.Equal(t, opA, batch[0].OpID)
	require.Equal(t, opB, batch[1].OpID)
}

func TestNextBatchExcludesBlocked(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	q := NewOperationQueue(db, nil)

	opA, err := q.Enqueue(ctx, "notes", "a", OpInsert, []byte(`{"v":1}`))
	require.NoError(t, err)
	opB, err := q.Enqueue(ctx, "notes", "b", OpInsert, []byte(`{"v":1}`))
	require.NoError(t, err)

	err = q.setBlockedInTx(ctx, db, opA, true)
	require.NoError(t, err)

	batch, err := q.NextBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	require.Equal(t, opB, batch[0].OpID)

	// UpdateKindAndItem unblocks for re-push.
	err = q.UpdateKindAndItem(ctx, opA, OpInsert, []byte(`{"v":2}`))
	require.NoError(t, err)
	batch, err = q.NextBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	require.Equal(t, opA, batch[0].OpID)
}

func TestRemoveNotFound(t *testing.T) {
	ctx := context.Background()
	q := NewOperationQueue(newTestDB(t), nil)

	err := q.Remove(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	err = q.UpdateKindAndItem(ctx, "missing", OpUpdate, []byte(`{}`))
	require.ErrorIs(t, err, ErrNotFound)
}
