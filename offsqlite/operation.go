// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package offsqlite

import (
	"encoding/json"
	"fmt"
	"time"
)

// Operation kind constants, matching the wire representation used by the
// sync server.
const (
	OpInsert = "INSERT"
	OpUpdate = "UPDATE"
	OpDelete = "DELETE"
)

// validKind reports whether k is one of the supported operation kinds.
func validKind(k string) bool {
	return k == OpInsert || k == OpUpdate || k == OpDelete
}

// OperationRecord is one pending local mutation against one item in one table.
// At most one non-terminal record exists per (table, item id) pair; a second
// local mutation against an already-queued item merges into the existing
// record according to the configured MergePolicy.
type OperationRecord struct {
	OpID     string          // Generated operation id (UUID)
	Table    string          // Table name
	ItemID   string          // Item id within the table
	Kind     string          // OpInsert, OpUpdate or OpDelete
	Item     json.RawMessage // Client-side payload; nil for DELETE
	Blocked  bool            // Excluded from NextBatch pending resolution
	QueuedAt time.Time       // First enqueue time; preserved across merges
}

// MergeResult describes how an incoming mutation folds into the queued
// operation for the same item.
type MergeResult int

const (
	// MergeReplacePayload keeps the queued kind and replaces the payload.
	MergeReplacePayload MergeResult = iota
	// MergeBecomeUpdate rewrites the queued record as an UPDATE with the
	// incoming payload.
	MergeBecomeUpdate
	// MergeBecomeDelete rewrites the queued record as a DELETE and drops
	// the payload.
	MergeBecomeDelete
	// MergeDropRecord removes the queued record entirely (the mutations
	// cancel out and the server never needs to hear about them).
	MergeDropRecord
)

// MergePolicy decides the merge outcome for a (queued kind, incoming kind)
// combination. Returning an error (conventionally wrapping
// ErrInvalidTransition) rejects the incoming mutation and leaves the queued
// record untouched.
type MergePolicy func(queued, incoming string) (MergeResult, error)

// DefaultMergePolicy collapses double-queued mutations so the single
// surviving record produces the same server-visible effect:
//
//	insert + update -> insert with the new payload (server never saw the item)
//	insert + delete -> drop record (net no-op)
//	update + update -> update with the new payload
//	update + delete -> delete
//	delete + insert -> update with the new payload (item still exists remotely)
//
// All other combinations are nonsensical local sequences and are rejected
// with ErrInvalidTransition.
func DefaultMergePolicy(queued, incoming string) (MergeResult, error) {
	switch queued {
	case OpInsert:
		switch incoming {
		case OpUpdate:
			return MergeReplacePayload, nil
		case OpDelete:
			return MergeDropRecord, nil
		}
	case OpUpdate:
		switch incoming {
		case OpUpdate:
			return MergeReplacePayload, nil
		case OpDelete:
			return MergeBecomeDelete, nil
		}
	case OpDelete:
		if incoming == OpInsert {
			return MergeBecomeUpdate, nil
		}
	}
	return 0, fmt.Errorf("cannot queue %s after pending %s: %w", incoming, queued, ErrInvalidTransition)
}
