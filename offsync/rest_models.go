// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package offsync

import (
	"encoding/json"
)

// REST/JSON models for the push exchange between offsqlite clients and the
// sync server.

// UploadRequest is a batch of pending operations pushed by a client.
// User and device identity come from the JWT, not the body.
type UploadRequest struct {
	Changes []ChangeUpload `json:"changes"`
}

// ChangeUpload is one pending operation in an upload request.
type ChangeUpload struct {
	OpID          string          `json:"op_id"`             // Client operation id (idempotency key)
	Table         string          `json:"table"`             // Table name
	ItemID        string          `json:"item_id"`           // Item id within the table
	Op            string          `json:"op"`                // INSERT, UPDATE, DELETE
	ServerVersion int64           `json:"server_version"`    // Version the client based this change on
	Payload       json.RawMessage `json:"payload,omitempty"` // Item document (null for DELETE)
}

// UploadResponse is the server's per-change verdict on an upload.
type UploadResponse struct {
	Accepted bool                 `json:"accepted"` // False when the whole batch was rejected
	Statuses []ChangeUploadStatus `json:"statuses"` // One entry per uploaded change, same order
}

// ChangeUploadStatus is the result of processing a single change.
// Code and ServerItem are optional: Code carries the HTTP-style status the
// server assigned to the failure (e.g. 412 for a version conflict), and
// ServerItem carries the server's current item state when one exists.
type ChangeUploadStatus struct {
	OpID             string          `json:"op_id"`                        // Echo of the client's operation id
	Status           string          `json:"status"`                       // "applied", "conflict" or "invalid"
	NewServerVersion *int64          `json:"new_server_version,omitempty"` // Assigned version if applied
	Code             *int            `json:"code,omitempty"`               // Numeric status for failures
	ServerItem       json.RawMessage `json:"server_item,omitempty"`        // Current server item if conflict
	Message          string          `json:"message,omitempty"`            // Human-readable details
	Invalid          map[string]any  `json:"invalid,omitempty"`            // Structured reason for invalid changes
}

// ServerItemState is the JSON shape of a conflict's server_item field.
type ServerItemState struct {
	ServerVersion int64           `json:"server_version"`
	Deleted       bool            `json:"deleted"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// ErrorResponse is the standardized HTTP error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
