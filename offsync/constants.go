// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package offsync

// Operation constants for pushed mutations
const (
	OpInsert = "INSERT"
	OpUpdate = "UPDATE"
	OpDelete = "DELETE"
)

// Status constants for per-change push results
const (
	StApplied  = "applied"
	StConflict = "conflict"
	StInvalid  = "invalid"
)

// Invalid reason constants
const (
	ReasonBadPayload        = "bad_payload"
	ReasonUnregisteredTable = "unregistered_table"
	ReasonBatchTooLarge     = "batch_too_large"
	ReasonPayloadTooLarge   = "payload_too_large"
	ReasonInternalError     = "internal_error"
)
