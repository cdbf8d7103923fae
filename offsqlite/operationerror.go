// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package offsqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

// OperationError is the durable record of a push rejected by the sync server.
// It snapshots both sides of the divergence at failure time: the operation id
// and kind as they were (the live operation may be mutated or removed later),
// the client item that was pushed, and the server's view if the server
// returned one.
//
// StatusCode and ServerItem are optional; a nil StatusCode means the failure
// carried no HTTP-level code (e.g. a validation rejection) and a nil
// ServerItem means the server did not report a current item state.
//
// An OperationError is cleared only through one of the resolution actions
// below. Each action takes the SyncContext explicitly; the record itself
// holds no live reference to the mediator.
type OperationError struct {
	ID             string          // Generated id, independent of the operation id
	OpID           string          // Originating operation id at failure time
	OpKind         string          // Operation kind at failure time
	Table          string          // Table name
	ItemID         string          // Item id
	ClientItem     json.RawMessage // Client payload at failure time; nil for DELETE
	ErrorMessage   string          // Human-readable failure description
	StatusCode     *int            // Numeric status from the server, if any
	ServerResponse string          // Raw server response text
	ServerItem     json.RawMessage // Server's current item state, if reported
	CreatedAt      time.Time
	Resolved       bool
}

// CancelAndUpdateItem abandons the local change: the pending operation is
// removed and the local replica item is overwritten with item. A nil item
// selects the server item captured on this record.
func (e *OperationError) CancelAndUpdateItem(ctx context.Context, sc *SyncContext, item json.RawMessage) error {
	return sc.CancelAndUpdateItem(ctx, e, item)
}

// CancelAndDiscardItem abandons the local change and the local copy: the
// pending operation is removed and the replica item is deleted.
func (e *OperationError) CancelAndDiscardItem(ctx context.Context, sc *SyncContext) error {
	return sc.CancelAndDiscardItem(ctx, e)
}

// KeepOperationAndUpdateItem keeps the pending operation with its kind
// unchanged, replaces its payload with item, and unblocks it for re-push.
func (e *OperationError) KeepOperationAndUpdateItem(ctx context.Context, sc *SyncContext, item json.RawMessage) error {
	return sc.UpdateOperationAndItem(ctx, e, e.OpKind, item)
}

// ModifyOperationType rewrites the pending operation's kind, keeping the
// current client payload, and unblocks it for re-push.
func (e *OperationError) ModifyOperationType(ctx context.Context, sc *SyncContext, kind string) error {
	return sc.UpdateOperationAndItem(ctx, e, kind, e.ClientItem)
}

// ModifyOperationTypeAndUpdateItem rewrites both the pending operation's kind
// and payload, and unblocks it for re-push.
func (e *OperationError) ModifyOperationTypeAndUpdateItem(ctx context.Context, sc *SyncContext, kind string, item json.RawMessage) error {
	return sc.UpdateOperationAndItem(ctx, e, kind, item)
}

const operationErrorColumns = `id, op_id, op_kind, table_name, item_id, client_item,
	error_message, status_code, server_response, server_item, created_at, resolved`

func scanOperationError(row rowScanner) (*OperationError, error) {
	var e OperationError
	var clientItem, serverResponse, serverItem sql.NullString
	var statusCode sql.NullInt64
	var createdAt string
	err := row.Scan(&e.ID, &e.OpID, &e.OpKind, &e.Table, &e.ItemID, &clientItem,
		&e.ErrorMessage, &statusCode, &serverResponse, &serverItem, &createdAt, &e.Resolved)
	if err != nil {
		return nil, err
	}
	if clientItem.Valid {
		e.ClientItem = []byte(clientItem.String)
	}
	if statusCode.Valid {
		code := int(statusCode.Int64)
		e.StatusCode = &code
	}
	if serverResponse.Valid {
		e.ServerResponse = serverResponse.String
	}
	if serverItem.Valid {
		e.ServerItem = []byte(serverItem.String)
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		e.CreatedAt = t
	}
	return &e, nil
}
