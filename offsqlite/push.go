// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package offsqlite

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/localfirstlab/go-offsync/offsync"
)

// UploadResult summarizes one push attempt.
type UploadResult struct {
	ChangesUploaded int `json:"changes_uploaded"`
	Applied         int `json:"applied"`
	Conflicts       int `json:"conflicts"`
	Invalid         int `json:"invalid"`
}

// uploaderLoop runs the push engine in a loop with backoff
func (c *Client) uploaderLoop(ctx context.Context) {
	backoff := c.config.BackoffMin
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		// Respect pause switch for uploads in background loop
		if atomic.LoadInt32(&c.uploadPaused) == 1 {
			time.Sleep(backoff)
			continue
		}

		_, err := c.UploadOnce(ctx)
		if err != nil {
			// Exponential backoff on transport errors
			time.Sleep(backoff)
			backoff = backoff * 2
			if backoff > c.config.BackoffMax {
				backoff = c.config.BackoffMax
			}
		} else {
			backoff = c.config.BackoffMin
			time.Sleep(backoff)
		}
	}
}

// UploadOnce drains one batch of unblocked pending operations, pushes it to
// the server and applies the per-change verdicts: applied operations are
// removed, rejected ones are blocked behind a durable OperationError.
// Transport failures return an error without touching the queue; blocked
// operations are only re-pushed after a keep/modify resolution.
func (c *Client) UploadOnce(ctx context.Context) (*UploadResult, error) {
	batch, err := c.sc.Queue().NextBatch(ctx, c.config.UploadLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to read pending batch: %w", err)
	}
	if len(batch) == 0 {
		return &UploadResult{}, nil
	}

	changes := make([]offsync.ChangeUpload, 0, len(batch))
	for _, op := range batch {
		version, err := getReplicaVersion(ctx, c.DB, op.Table, op.ItemID)
		if err != nil {
			return nil, err
		}
		changes = append(changes, offsync.ChangeUpload{
			OpID:          op.OpID,
			Table:         op.Table,
			ItemID:        op.ItemID,
			Op:            op.Kind,
			ServerVersion: version,
			Payload:       json.RawMessage(op.Item),
		})
	}

	response, err := c.sendUploadRequest(ctx, &offsync.UploadRequest{Changes: changes})
	if err != nil {
		return nil, fmt.Errorf("failed to send upload request: %w", err)
	}

	return c.processUploadResponse(ctx, batch, response)
}

// processUploadResponse applies the server's verdicts to the local queue.
func (c *Client) processUploadResponse(ctx context.Context, batch []OperationRecord, response *offsync.UploadResponse) (*UploadResult, error) {
	if len(response.Statuses) != len(batch) {
		return nil, fmt.Errorf("status count mismatch: sent %d changes, got %d statuses", len(batch), len(response.Statuses))
	}

	result := &UploadResult{ChangesUploaded: len(batch)}
	for i, status := range response.Statuses {
		op := batch[i]

		switch status.Status {
		case offsync.StApplied:
			if err := c.sc.markPushApplied(ctx, &op, status.NewServerVersion); err != nil {
				return result, err
			}
			result.Applied++

		case offsync.StConflict, offsync.StInvalid:
			if status.Status == offsync.StConflict {
				result.Conflicts++
			} else {
				result.Invalid++
			}
			if err := c.recordRejection(ctx, op, status); err != nil {
				if errors.Is(err, ErrNotFound) {
					// The operation was resolved or confirmed concurrently;
					// there is nothing to block anymore.
					c.logger.Warn("Rejected operation no longer pending",
						"table", op.Table, "item_id", op.ItemID)
					continue
				}
				return result, err
			}

		default:
			c.logger.Warn("Unknown upload status",
				"table", op.Table, "item_id", op.ItemID, "status", status.Status)
		}
	}
	return result, nil
}

// recordRejection materializes an OperationError for a conflict or invalid
// verdict.
func (c *Client) recordRejection(ctx context.Context, op OperationRecord, status offsync.ChangeUploadStatus) error {
	message := status.Message
	if message == "" {
		message = fmt.Sprintf("push rejected with status %q", status.Status)
	}
	raw, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal server status: %w", err)
	}

	_, err = c.sc.RecordPushFailure(ctx, PushFailure{
		OpID:           op.OpID,
		OpKind:         op.Kind,
		Table:          op.Table,
		ItemID:         op.ItemID,
		ClientItem:     op.Item,
		Message:        message,
		StatusCode:     status.Code,
		ServerResponse: string(raw),
		ServerItem:     status.ServerItem,
	})
	return err
}

// sendUploadRequest sends an upload request to the server
func (c *Client) sendUploadRequest(ctx context.Context, req *offsync.UploadRequest) (*offsync.UploadResponse, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal upload request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/sync/upload", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	token, err := c.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get JWT token: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}

	var uploadResp offsync.UploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&uploadResp); err != nil {
		return nil, fmt.Errorf("failed to decode upload response: %w", err)
	}
	return &uploadResp, nil
}
