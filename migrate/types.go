// Copyright 2026 The matrix-migrate Authors
// SPDX-License-Identifier: Apache-2.0

package migrate

import (
	"sort"

	"github.com/pajowu/matrix-migrate/lib/ref"
)

// Membership is the calling account's own membership in a room, as
// reported by /sync.
type Membership string

const (
	MembershipJoined  Membership = "join"
	MembershipInvited Membership = "invite"
	MembershipLeft    Membership = "leave"
)

// PowerLevels is the engine's view of an m.room.power_levels event:
// the explicit per-user table, the default applied to everyone else,
// and the event-level requirements. Planning diffs only the user
// table; the event-level fields complete the snapshot record and are
// preserved on write by the messaging layer.
type PowerLevels struct {
	// Users holds only explicit entries from the event's "users"
	// map. Absence means the member falls back to UsersDefault.
	Users map[ref.UserID]int

	// UsersDefault is the event's users_default, zero if unset.
	UsersDefault int

	// Events holds the per-event-type level requirements, with
	// EventsDefault and StateDefault as the fallbacks for message
	// and state events respectively.
	Events        map[string]int
	EventsDefault int
	StateDefault  int
}

// Effective returns the power level governing member: the explicit
// entry if one exists, otherwise UsersDefault.
func (p PowerLevels) Effective(member ref.UserID) int {
	if level, ok := p.Users[member]; ok {
		return level
	}
	return p.UsersDefault
}

// SortedMembers returns the explicit user entries in lexical order.
// Planning iterates this so that identical tables always produce
// identical operation sequences.
func (p PowerLevels) SortedMembers() []ref.UserID {
	members := make([]ref.UserID, 0, len(p.Users))
	for member := range p.Users {
		members = append(members, member)
	}
	sort.Slice(members, func(i, j int) bool {
		return members[i].String() < members[j].String()
	})
	return members
}

// A RoomSnapshot is one room as seen from one account at snapshot
// time. Snapshots are immutable once built: planning and execution
// read them, nothing writes them.
type RoomSnapshot struct {
	RoomID     ref.RoomID
	Name       string
	Membership Membership

	// IsDirect reports whether the account's m.direct data lists
	// this room; DirectPartner is the peer it is filed under, zero
	// when IsDirect is false.
	IsDirect      bool
	DirectPartner ref.UserID

	// PowerLevels is valid only when HasPowerLevels is set. Joined
	// rooms whose power-level state could not be resolved are moved
	// to AccountState.Unavailable instead of carrying a zero table.
	PowerLevels    PowerLevels
	HasPowerLevels bool
}

// An AccountState is the full baseline for one account: every room
// the account can see, keyed by room ID, plus the rooms that had to
// be given up on.
type AccountState struct {
	UserID    ref.UserID
	SyncToken string
	Rooms     map[ref.RoomID]RoomSnapshot

	// Unavailable lists joined rooms whose state could not be
	// resolved within the retry budget. They are excluded from
	// planning and reported, never silently omitted.
	Unavailable []ref.RoomID
}

// SortedRoomIDs returns the snapshot's room IDs in lexical order.
func (s *AccountState) SortedRoomIDs() []ref.RoomID {
	ids := make([]ref.RoomID, 0, len(s.Rooms))
	for id := range s.Rooms {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}
