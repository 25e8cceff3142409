// Copyright 2026 The matrix-migrate Authors
// SPDX-License-Identifier: Apache-2.0

package migrate

import (
	"context"

	"github.com/pajowu/matrix-migrate/lib/ref"
	"github.com/pajowu/matrix-migrate/messaging"
)

// Session is the slice of an authenticated homeserver session the
// engine needs. *messaging.DirectSession satisfies it; tests supply
// fakes.
type Session interface {
	// UserID returns the fully qualified user the session
	// authenticates as.
	UserID() ref.UserID

	// Sync performs a client-server /sync with the given options.
	Sync(ctx context.Context, options messaging.SyncOptions) (*messaging.SyncResponse, error)

	// RoomState fetches the full current state of a room.
	RoomState(ctx context.Context, roomID ref.RoomID) ([]messaging.Event, error)

	// JoinRoom joins the session's account to the room.
	JoinRoom(ctx context.Context, roomID ref.RoomID) (ref.RoomID, error)

	// LeaveRoom leaves the room.
	LeaveRoom(ctx context.Context, roomID ref.RoomID) error

	// SetPowerLevel sets member's entry in the room's power-level
	// table, preserving every other field of the event. It is a
	// no-op when the entry already has the requested value.
	SetPowerLevel(ctx context.Context, roomID ref.RoomID, member ref.UserID, level int) error

	// SetDirectFlag adds or removes the room from the account's
	// m.direct entry for partner. It is a no-op when the flag is
	// already in the requested state.
	SetDirectFlag(ctx context.Context, roomID ref.RoomID, partner ref.UserID, direct bool) error
}

var _ Session = (*messaging.DirectSession)(nil)
