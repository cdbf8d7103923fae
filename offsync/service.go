// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package offsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SyncService applies client pushes against the authoritative item store.
// Every item carries a server_version; a push whose base version does not
// match the current one is rejected as a conflict and the server's current
// item state is returned so the client can materialize an operation error.
type SyncService struct {
	pool             *pgxpool.Pool
	logger           *slog.Logger
	config           *ServiceConfig
	registeredTables map[string]bool
}

// ServiceConfig holds configuration for the sync service
type ServiceConfig struct {
	AppName            string   // Application name for connection tracking
	RegisteredTables   []string // Table names allowed in push operations (required)
	MaxUploadBatchSize int      // Maximum changes per upload (0 = unlimited)
	MaxPayloadBytes    int      // Maximum JSON payload size per change (0 = unlimited)
}

// NewSyncService creates a sync service over an existing pgx pool.
func NewSyncService(pool *pgxpool.Pool, config *ServiceConfig, logger *slog.Logger) (*SyncService, error) {
	if config == nil || len(config.RegisteredTables) == 0 {
		return nil, errors.New("offsync: at least one registered table is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &SyncService{
		pool:             pool,
		logger:           logger,
		config:           config,
		registeredTables: make(map[string]bool),
	}
	for _, table := range config.RegisteredTables {
		s.registeredTables[strings.ToLower(table)] = true
	}

	if err := s.initializeSchema(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to initialize sync schema: %w", err)
	}
	return s, nil
}

// ProcessUpload applies a batch of changes for one user/device. Each change
// gets an individual verdict; the batch as a whole is rejected only when it
// fails request-level validation (e.g. too large).
func (s *SyncService) ProcessUpload(ctx context.Context, userID, sourceID string, req *UploadRequest) (*UploadResponse, error) {
	if reason, msg := s.validateRequest(req); reason != "" {
		statuses := make([]ChangeUploadStatus, len(req.Changes))
		for i, ch := range req.Changes {
			statuses[i] = statusInvalid(ch.OpID, reason, msg)
		}
		return &UploadResponse{Accepted: false, Statuses: statuses}, nil
	}

	var response *UploadResponse
	err := s.withRetryableTx(ctx, func(tx pgx.Tx) error {
		statuses := make([]ChangeUploadStatus, 0, len(req.Changes))
		for _, change := range req.Changes {
			status, err := s.applyChange(ctx, tx, userID, sourceID, change)
			if err != nil {
				return err
			}
			statuses = append(statuses, status)
		}
		response = &UploadResponse{Accepted: true, Statuses: statuses}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to process upload: %w", err)
	}
	return response, nil
}

// applyChange processes one change inside the request transaction.
func (s *SyncService) applyChange(ctx context.Context, tx pgx.Tx, userID, sourceID string, change ChangeUpload) (ChangeUploadStatus, error) {
	if reason, msg := s.validateChange(change); reason != "" {
		return statusInvalid(change.OpID, reason, msg), nil
	}

	// Idempotency gate: a retried op_id is acknowledged without re-applying.
	var duplicate bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM sync.applied_ops
			WHERE user_id = $1 AND source_id = $2 AND op_id = $3
		)`, userID, sourceID, change.OpID).Scan(&duplicate)
	if err != nil {
		return ChangeUploadStatus{}, fmt.Errorf("idempotency check failed: %w", err)
	}
	if duplicate {
		return statusAppliedIdempotent(change.OpID), nil
	}

	state, err := s.lockItemState(ctx, tx, userID, change.Table, change.ItemID)
	if err != nil {
		return ChangeUploadStatus{}, err
	}

	switch strings.ToUpper(change.Op) {
	case OpInsert:
		if state != nil && !state.Deleted {
			return statusConflict(change.OpID, state.JSON(), "item already exists on server"), nil
		}
	case OpUpdate:
		if state == nil || state.Deleted {
			// No server item to attach: the item was never created or was
			// deleted remotely. The client can cancel-and-discard.
			var serverItem []byte
			if state != nil {
				serverItem = state.JSON()
			}
			return statusConflict(change.OpID, serverItem, "item does not exist on server"), nil
		}
		if change.ServerVersion != state.ServerVersion {
			return statusConflict(change.OpID, state.JSON(),
				fmt.Sprintf("version mismatch: client has %d, server has %d", change.ServerVersion, state.ServerVersion)), nil
		}
	case OpDelete:
		if state == nil || state.Deleted {
			// Already gone; deleting again is a no-op.
			return s.recordApplied(ctx, tx, userID, sourceID, change, currentVersion(state))
		}
		if change.ServerVersion != state.ServerVersion {
			return statusConflict(change.OpID, state.JSON(),
				fmt.Sprintf("version mismatch: client has %d, server has %d", change.ServerVersion, state.ServerVersion)), nil
		}
	}

	newVersion := currentVersion(state) + 1
	deleted := strings.ToUpper(change.Op) == OpDelete
	_, err = tx.Exec(ctx, `
		INSERT INTO sync.item_state (user_id, table_name, item_id, payload, server_version, deleted, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (user_id, table_name, item_id) DO UPDATE SET
			payload = EXCLUDED.payload,
			server_version = EXCLUDED.server_version,
			deleted = EXCLUDED.deleted,
			updated_at = now()
	`, userID, change.Table, change.ItemID, change.Payload, newVersion, deleted)
	if err != nil {
		return ChangeUploadStatus{}, fmt.Errorf("failed to apply change %s: %w", change.OpID, err)
	}

	return s.recordApplied(ctx, tx, userID, sourceID, change, newVersion)
}

func (s *SyncService) recordApplied(ctx context.Context, tx pgx.Tx, userID, sourceID string, change ChangeUpload, newVersion int64) (ChangeUploadStatus, error) {
	_, err := tx.Exec(ctx, `
		INSERT INTO sync.applied_ops (user_id, source_id, op_id)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING
	`, userID, sourceID, change.OpID)
	if err != nil {
		return ChangeUploadStatus{}, fmt.Errorf("failed to record applied op: %w", err)
	}
	return statusApplied(change.OpID, newVersion), nil
}

// itemState is the server's current view of one item.
type itemState struct {
	Payload       []byte
	ServerVersion int64
	Deleted       bool
}

// JSON renders the state in the server_item wire shape.
func (st *itemState) JSON() []byte {
	b, _ := json.Marshal(ServerItemState{
		ServerVersion: st.ServerVersion,
		Deleted:       st.Deleted,
		Payload:       st.Payload,
	})
	return b
}

func currentVersion(st *itemState) int64 {
	if st == nil {
		return 0
	}
	return st.ServerVersion
}

// lockItemState loads and row-locks the item's current state, or returns nil
// when the server has never seen the item.
func (s *SyncService) lockItemState(ctx context.Context, tx pgx.Tx, userID, table, itemID string) (*itemState, error) {
	var st itemState
	err := tx.QueryRow(ctx, `
		SELECT payload, server_version, deleted
		FROM sync.item_state
		WHERE user_id = $1 AND table_name = $2 AND item_id = $3
		FOR UPDATE
	`, userID, table, itemID).Scan(&st.Payload, &st.ServerVersion, &st.Deleted)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load item state %s.%s: %w", table, itemID, err)
	}
	return &st, nil
}
