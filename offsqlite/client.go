// Package offsqlite implements the client side of an offline-first sync
// engine on SQLite: a local replica of server-hosted table data, a durable
// queue of pending mutations, and explicit, application-directed resolution
// of push conflicts.
//
// Local mutations are written to the replica and queued in the same
// transaction. A background push engine drains the queue; when the server
// rejects an operation, the engine records a durable OperationError and
// blocks the operation until the application resolves it through one of the
// SyncContext resolution actions.
//
// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package offsqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Client manages the local SQLite replica and push operations
type Client struct {
	DB       *sql.DB
	BaseURL  string
	Token    func(context.Context) (string, error) // returns JWT
	UserID   string
	SourceID string
	HTTP     *http.Client

	config *Config
	logger *slog.Logger
	sc     *SyncContext

	// Pause switch (atomic): allows callers to suspend pushes deterministically
	uploadPaused int32
}

// Config holds configuration for the SQLite sync client
type Config struct {
	UploadLimit int           // Max operations per push batch, e.g. 200
	BackoffMin  time.Duration // 1s
	BackoffMax  time.Duration // 60s
	MergePolicy MergePolicy   // nil selects DefaultMergePolicy
	LocalStore  LocalStore    // nil selects the built-in replica store
	Logger      *slog.Logger  // nil selects slog.Default()
}

// DefaultConfig returns a default configuration.
func DefaultConfig() *Config {
	return &Config{
		UploadLimit: 200,
		BackoffMin:  1 * time.Second,
		BackoffMax:  60 * time.Second,
	}
}

// NewClient initializes the sync metadata tables and wires the queue,
// replica store and mediator. An empty sourceID generates and persists a
// stable one for userID.
func NewClient(db *sql.DB, baseURL, userID, sourceID string, token func(context.Context) (string, error), config *Config) (*Client, error) {
	if config == nil {
		config = DefaultConfig()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if err := initializeDatabase(db); err != nil {
		return nil, fmt.Errorf("failed to initialize sync database: %w", err)
	}

	if sourceID == "" {
		var err error
		sourceID, err = EnsureSourceID(db, userID)
		if err != nil {
			return nil, err
		}
	}

	queue := NewOperationQueue(db, config.MergePolicy)
	sc := NewSyncContext(db, queue, config.LocalStore, logger)

	return &Client{
		DB:       db,
		BaseURL:  baseURL,
		Token:    token,
		UserID:   userID,
		SourceID: sourceID,
		HTTP:     &http.Client{Timeout: 30 * time.Second},
		config:   config,
		logger:   logger,
		sc:       sc,
	}, nil
}

// SyncContext returns the mediator that owns the queue and replica handle.
// Applications use it to enumerate operation errors and invoke resolution
// actions.
func (c *Client) SyncContext() *SyncContext {
	return c.sc
}

// InsertItem queues an INSERT for a new item and writes it to the local
// replica.
func (c *Client) InsertItem(ctx context.Context, table, itemID string, item json.RawMessage) (string, error) {
	return c.sc.enqueueLocal(ctx, table, itemID, OpInsert, item)
}

// UpdateItem queues an UPDATE for an existing item and writes the new payload
// to the local replica.
func (c *Client) UpdateItem(ctx context.Context, table, itemID string, item json.RawMessage) (string, error) {
	return c.sc.enqueueLocal(ctx, table, itemID, OpUpdate, item)
}

// DeleteItem queues a DELETE and removes the item from the local replica.
// If the item only ever existed locally (pending insert), the two mutations
// cancel out and nothing is pushed.
func (c *Client) DeleteItem(ctx context.Context, table, itemID string) (string, error) {
	return c.sc.enqueueLocal(ctx, table, itemID, OpDelete, nil)
}

// GetItem reads an item from the local replica.
func (c *Client) GetItem(ctx context.Context, table, itemID string) (json.RawMessage, error) {
	return getReplicaItem(ctx, c.DB, table, itemID)
}

// ListOperationErrors returns the open operation errors awaiting resolution.
func (c *Client) ListOperationErrors(ctx context.Context) ([]*OperationError, error) {
	return c.sc.ListOperationErrors(ctx)
}

// Start launches the background push engine. It runs until ctx is cancelled.
func (c *Client) Start(ctx context.Context) {
	go c.uploaderLoop(ctx)
}

// PauseUploads suspends the background push engine.
func (c *Client) PauseUploads() {
	atomic.StoreInt32(&c.uploadPaused, 1)
}

// ResumeUploads resumes the background push engine.
func (c *Client) ResumeUploads() {
	atomic.StoreInt32(&c.uploadPaused, 0)
}
