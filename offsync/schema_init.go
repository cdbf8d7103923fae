// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package offsync

import (
	"context"
	"fmt"
)

// initializeSchema creates the sync schema and tables. Safe to run on every
// startup.
func (s *SyncService) initializeSchema(ctx context.Context) error {
	statements := []string{
		`CREATE SCHEMA IF NOT EXISTS sync`,
		`CREATE TABLE IF NOT EXISTS sync.item_state (
			user_id        TEXT NOT NULL,
			table_name     TEXT NOT NULL,
			item_id        TEXT NOT NULL,
			payload        JSONB,
			server_version BIGINT NOT NULL DEFAULT 0,
			deleted        BOOLEAN NOT NULL DEFAULT FALSE,
			updated_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (user_id, table_name, item_id)
		)`,
		`CREATE TABLE IF NOT EXISTS sync.applied_ops (
			user_id    TEXT NOT NULL,
			source_id  TEXT NOT NULL,
			op_id      TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (user_id, source_id, op_id)
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}
