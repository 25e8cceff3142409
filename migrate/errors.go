// Copyright 2026 The matrix-migrate Authors
// SPDX-License-Identifier: Apache-2.0

package migrate

import "errors"

// ErrSyncTimeout reports that the initial full-state sync for an
// account could not be completed. Without a baseline snapshot the
// engine has nothing to diff, so this error is fatal for the run.
var ErrSyncTimeout = errors.New("migrate: initial sync did not complete, no baseline state")

// ErrNoPlan reports that execution or cleanup was invoked with a nil
// plan. Callers must build (or be handed) a plan first.
var ErrNoPlan = errors.New("migrate: no plan")

// A RoomUnavailableError records a room whose state could not be
// resolved within the retry budget during snapshotting. It is never
// fatal: the room is excluded from planning and surfaced in
// [AccountState.Unavailable].
type RoomUnavailableError struct {
	RoomID string
	Err    error
}

func (e *RoomUnavailableError) Error() string {
	return "migrate: room " + e.RoomID + " unavailable: " + e.Err.Error()
}

func (e *RoomUnavailableError) Unwrap() error { return e.Err }

// A CleanupError records a post-migration cleanup failure (leaving a
// source room, restoring a direct-chat flag). Cleanup failures never
// abort the run and never undo applied migration work; they are
// collected and reported per room.
type CleanupError struct {
	RoomID string
	Op     OpKind
	Err    error
}

func (e *CleanupError) Error() string {
	return "migrate: cleanup " + string(e.Op) + " in " + e.RoomID + ": " + e.Err.Error()
}

func (e *CleanupError) Unwrap() error { return e.Err }
