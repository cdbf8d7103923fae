package offsqlite

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

func TestInitializeDatabase(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer db.Close()

	err = initializeDatabase(db)
	require.NoError(t, err)

	expectedTables := []string{"_sync_client_info", "_sync_pending", "_sync_operation_errors", "_sync_replica"}
	for _, table := range expectedTables {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		require.NoError(t, err)
		require.Equal(t, 1, count, "Table %s should exist", table)
	}

	// In-memory databases report "memory" instead of "wal"
	var journalMode string
	err = db.QueryRow("PRAGMA journal_mode").Scan(&journalMode)
	require.NoError(t, err)
	require.Contains(t, []string{"wal", "memory"}, journalMode)

	var foreignKeys int
	err = db.QueryRow("PRAGMA foreign_keys").Scan(&foreignKeys)
	require.NoError(t, err)
	require.Equal(t, 1, foreignKeys)

	// Idempotent on restart
	err = initializeDatabase(db)
	require.NoError(t, err)
}

func TestEnsureSourceID(t *testing.T) {
	db := newTestDB(t)

	sourceID1, err := EnsureSourceID(db, "user-a")
	require.NoError(t, err)
	require.NotEmpty(t, sourceID1)

	sourceID2, err := EnsureSourceID(db, "user-a")
	require.NoError(t, err)
	require.Equal(t, sourceID1, sourceID2)

	sourceID3, err := EnsureSourceID(db, "user-b")
	require.NoError(t, err)
	require.NotEqual(t, sourceID1, sourceID3)
}

func TestNewClientGeneratesSourceID(t *testing.T) {
	db := newTestDB(t)
	token := func(ctx context.Context) (string, error) { return "t", nil }

	client, err := NewClient(db, "http://localhost", "test-user", "", token, nil)
	require.NoError(t, err)
	require.NotEmpty(t, client.SourceID)

	// Same database yields the same source id on a second construction.
	client2, err := NewClient(db, "http://localhost", "test-user", "", token, nil)
	require.NoError(t, err)
	require.Equal(t, client.SourceID, client2.SourceID)
}

func TestLocalMutationsWriteReplicaAndQueue(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t, "http://localhost")

	opID, err := client.InsertItem(ctx, "notes", "1", []byte(`{"title":"hello"}`))
	require.NoError(t, err)
	require.NotEmpty(t, opID)

	item, err := client.GetItem(ctx, "notes", "1")
	require.NoError(t, err)
	require.JSONEq(t, `{"title":"hello"}`, string(item))

	rec, err := client.SyncContext().Queue().GetByItem(ctx, "notes", "1")
	require.NoError(t, err)
	require.Equal(t, OpInsert, rec.Kind)

	// Update folds into the pending insert and rewrites the replica.
	_, err = client.UpdateItem(ctx, "notes", "1", []byte(`{"title":"edited"}`))
	require.NoError(t, err)

	item, err = client.GetItem(ctx, "notes", "1")
	require.NoError(t, err)
	require.JSONEq(t, `{"title":"edited"}`, string(item))

	rec, err = client.SyncContext().Queue().GetByItem(ctx, "notes", "1")
	require.NoError(t, err)
	require.Equal(t, OpInsert, rec.Kind)
}

func TestDeleteNeverPushedItemIsNoOp(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t, "http://localhost")

	_, err := client.InsertItem(ctx, "notes", "1", []byte(`{"v":1}`))
	require.NoError(t, err)

	opID, err := client.DeleteItem(ctx, "notes", "1")
	require.NoError(t, err)
	require.Empty(t, opID)

	_, err = client.GetItem(ctx, "notes", "1")
	require.ErrorIs(t, err, ErrNotFound)

	n, err := client.SyncContext().Queue().Len(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestGetItemNotFound(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t, "http://localhost")

	_, err := client.GetItem(ctx, "notes", "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestPauseSwitch(t *testing.T) {
	client := newTestClient(t, "http://localhost")

	client.PauseUploads()
	require.Equal(t, int32(1), client.uploadPaused)
	client.ResumeUploads()
	require.Equal(t, int32(0), client.uploadPaused)
}
