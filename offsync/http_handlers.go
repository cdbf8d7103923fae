// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package offsync

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/localfirstlab/go-offsync/internal/auth"
)

// ClientAuthenticator extracts both user and device identity from HTTP requests
// Implementations should validate auth (e.g., JWT) and provide both identifiers.
type ClientAuthenticator interface {
	GetUserID(r *http.Request) (string, error)
	GetSourceID(r *http.Request) (string, error)
}

// HTTPSyncHandlers provides HTTP handlers for the push API
type HTTPSyncHandlers struct {
	service       *SyncService
	authenticator ClientAuthenticator
	logger        *slog.Logger
}

// NewHTTPSyncHandlers creates a new instance of sync handlers
func NewHTTPSyncHandlers(service *SyncService, authenticator ClientAuthenticator, logger *slog.Logger) *HTTPSyncHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPSyncHandlers{
		service:       service,
		authenticator: authenticator,
		logger:        logger,
	}
}

// Router returns a chi router with the sync endpoints mounted.
func (h *HTTPSyncHandlers) Router() chi.Router {
	r := chi.NewRouter()
	r.Post("/sync/upload", h.HandleUpload)
	return r
}

// HandleUpload processes a batch push request
func (h *HTTPSyncHandlers) HandleUpload(w http.ResponseWriter, r *http.Request) {
	userID, err := h.authenticator.GetUserID(r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "authentication_failed", err.Error())
		return
	}
	sourceID, err := h.authenticator.GetSourceID(r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "authentication_failed", err.Error())
		return
	}

	var uploadReq UploadRequest
	if err := json.NewDecoder(r.Body).Decode(&uploadReq); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Failed to parse upload request")
		return
	}

	ctx := auth.SetUserID(r.Context(), userID)
	ctx = auth.SetSourceID(ctx, sourceID)

	response, err := h.service.ProcessUpload(ctx, userID, sourceID, &uploadReq)
	if err != nil {
		h.logger.Error("Failed to process upload", "error", err, "source_id", sourceID)
		h.writeError(w, http.StatusInternalServerError, "upload_failed", "Failed to process upload")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// writeError writes a standardized error response
func (h *HTTPSyncHandlers) writeError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResponse := ErrorResponse{
		Error:   errorCode,
		Message: message,
	}
	json.NewEncoder(w).Encode(errorResponse)

	h.logger.Debug("HTTP error response",
		"status_code", statusCode,
		"error_code", errorCode,
		"message", message)
}
