// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package offsync

import (
	"encoding/json"
	"fmt"
	"strings"
)

// validateRequest checks request-level limits. A non-empty reason rejects
// the whole batch.
func (s *SyncService) validateRequest(req *UploadRequest) (reason, message string) {
	if s.config.MaxUploadBatchSize > 0 && len(req.Changes) > s.config.MaxUploadBatchSize {
		return ReasonBatchTooLarge,
			fmt.Sprintf("batch of %d changes exceeds limit of %d", len(req.Changes), s.config.MaxUploadBatchSize)
	}
	return "", ""
}

// validateChange checks one change. A non-empty reason maps to an "invalid"
// status for that change only.
func (s *SyncService) validateChange(change ChangeUpload) (reason, message string) {
	if change.OpID == "" || change.Table == "" || change.ItemID == "" {
		return ReasonBadPayload, "op_id, table and item_id are required"
	}
	switch strings.ToUpper(change.Op) {
	case OpInsert, OpUpdate, OpDelete:
	default:
		return ReasonBadPayload, fmt.Sprintf("unknown operation %q", change.Op)
	}
	if !s.registeredTables[strings.ToLower(change.Table)] {
		return ReasonUnregisteredTable, fmt.Sprintf("table %q is not registered for sync", change.Table)
	}
	if strings.ToUpper(change.Op) != OpDelete {
		if len(change.Payload) == 0 || !json.Valid(change.Payload) {
			return ReasonBadPayload, "payload must be a valid JSON document"
		}
	}
	if s.config.MaxPayloadBytes > 0 && len(change.Payload) > s.config.MaxPayloadBytes {
		return ReasonPayloadTooLarge,
			fmt.Sprintf("payload of %d bytes exceeds limit of %d", len(change.Payload), s.config.MaxPayloadBytes)
	}
	return "", ""
}
