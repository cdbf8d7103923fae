// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package offsqlite

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by queue and resolution operations.
// Callers should compare with errors.Is since most failures are wrapped
// with additional context.
var (
	// ErrNotFound is returned when a referenced operation or operation error
	// does not exist. During resolution it is recoverable: the operation error
	// is still marked resolved (there is nothing left to reconcile) and the
	// discrepancy is reported through this error.
	ErrNotFound = errors.New("offsqlite: not found")

	// ErrAlreadyResolved is returned when a resolution action is invoked on an
	// operation error that a previous action already resolved.
	ErrAlreadyResolved = errors.New("offsqlite: operation error already resolved")

	// ErrInvalidTransition is returned when a local mutation cannot be merged
	// into the already-queued operation for the same item (e.g. inserting an
	// item that already has a pending insert).
	ErrInvalidTransition = errors.New("offsqlite: invalid operation transition")
)

// LocalStoreError wraps a failure reported by the local replica store.
// Resolution actions abort without committing any queue or operation-error
// change when the replica write fails, so the error always describes a
// transition that did not happen.
type LocalStoreError struct {
	Op     string // "put" or "delete"
	Table  string
	ItemID string
	Err    error
}

func (e *LocalStoreError) Error() string {
	return fmt.Sprintf("local store %s failed for %s.%s: %v", e.Op, e.Table, e.ItemID, e.Err)
}

func (e *LocalStoreError) Unwrap() error {
	return e.Err
}
