// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package offsync

import (
	"encoding/json"
	"net/http"
)

// statusApplied creates a status for a successfully applied change
func statusApplied(opID string, newVer int64) ChangeUploadStatus {
	return ChangeUploadStatus{
		OpID:             opID,
		Status:           StApplied,
		NewServerVersion: &newVer,
	}
}

// statusAppliedIdempotent creates a status for changes already processed
func statusAppliedIdempotent(opID string) ChangeUploadStatus {
	return ChangeUploadStatus{
		OpID:   opID,
		Status: StApplied,
	}
}

// statusConflict creates a status for version conflicts with the server's
// current item state attached when one exists
func statusConflict(opID string, serverItem json.RawMessage, message string) ChangeUploadStatus {
	code := http.StatusPreconditionFailed
	return ChangeUploadStatus{
		OpID:       opID,
		Status:     StConflict,
		Code:       &code,
		ServerItem: serverItem,
		Message:    message,
	}
}

// statusInvalid creates a status for changes rejected by validation
func statusInvalid(opID, reason, message string) ChangeUploadStatus {
	code := http.StatusBadRequest
	return ChangeUploadStatus{
		OpID:    opID,
		Status:  StInvalid,
		Code:    &code,
		Message: message,
		Invalid: map[string]any{"reason": reason},
	}
}
