// Copyright 2026 The matrix-migrate Authors
// SPDX-License-Identifier: Apache-2.0

package ref

// EventType identifies a Matrix state or timeline event type. The
// migration engine only touches standard Matrix event types
// (m.room.*, m.direct).
//
// EventType is a named string type, not a struct wrapper: event types
// are opaque identifiers that need no parsing or validation. The type
// exists purely for compile-time safety — preventing accidental use of
// a state key where an event type is expected (or vice versa).
type EventType string

// Event types the migration engine reads and writes.
const (
	// EventTypeMember is the m.room.member state event carrying a
	// user's membership in a room (join, invite, leave, ban).
	EventTypeMember EventType = "m.room.member"

	// EventTypeName is the m.room.name state event carrying a room's
	// display name.
	EventTypeName EventType = "m.room.name"

	// EventTypePowerLevels is the m.room.power_levels state event
	// carrying the room's authority table.
	EventTypePowerLevels EventType = "m.room.power_levels"

	// EventTypeDirect is the m.direct account-data event mapping
	// direct-chat partners to room IDs. Account-scoped, not
	// room-scoped.
	EventTypeDirect EventType = "m.direct"
)

// String returns the event type string (e.g., "m.room.power_levels").
func (t EventType) String() string { return string(t) }
