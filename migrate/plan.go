// Copyright 2026 The matrix-migrate Authors
// SPDX-License-Identifier: Apache-2.0

package migrate

import (
	"sort"

	"github.com/pajowu/matrix-migrate/lib/ref"
)

// OpKind identifies one kind of planned operation.
type OpKind string

const (
	OpJoinRoom      OpKind = "join"
	OpSetPowerLevel OpKind = "set_power_level"
	OpLeaveRoom     OpKind = "leave"
	OpRestoreDirect OpKind = "restore_direct"
)

// An Operation is one intended protocol call against a room. Member
// and Level are meaningful only for OpSetPowerLevel; Partner only
// for OpRestoreDirect. Operations are idempotent: re-applying one to
// an already-correct room is a no-op at the protocol layer.
type Operation struct {
	Kind    OpKind
	RoomID  ref.RoomID
	Member  ref.UserID
	Level   int
	Partner ref.UserID
}

// RoomStatus is a room's terminal status after a run.
type RoomStatus string

const (
	StatusPending RoomStatus = "pending"
	StatusApplied RoomStatus = "applied"
	StatusFailed  RoomStatus = "failed"
	StatusSkipped RoomStatus = "skipped"
)

// A RoomPlan is the ordered operation list for one room: migration
// operations (join before power levels) executed against the
// destination, then cleanup operations (restore the direct flag,
// then leave) split between destination and source.
//
// SourceLevel and DestLevel are the effective power levels the
// source account holds and the destination account will hold in this
// room once the plan applies. Cleanup compares them before leaving:
// leaving while the source still outranks the destination would
// throw away authority that cannot be regained.
type RoomPlan struct {
	RoomID        ref.RoomID
	Name          string
	IsDirect      bool
	DirectPartner ref.UserID

	Operations []Operation
	Cleanup    []Operation

	SourceLevel int
	DestLevel   int
}

// A Plan is the complete, deterministic diff of one snapshot pair.
// Rooms are sorted by identifier and operations within a room follow
// a fixed order, so rendering the same pair twice is byte-identical.
type Plan struct {
	SourceUser ref.UserID
	DestUser   ref.UserID

	// Rooms lists only rooms with at least one operation to apply.
	Rooms []RoomPlan

	// Unavailable lists rooms excluded because their state could
	// not be resolved on either side.
	Unavailable []ref.RoomID
}

// Operations returns the total number of planned operations,
// migration and cleanup combined.
func (p *Plan) Operations() int {
	var n int
	for _, room := range p.Rooms {
		n += len(room.Operations) + len(room.Cleanup)
	}
	return n
}

// BuildPlan diffs a frozen snapshot pair into a Plan. It is pure:
// no network, no clock, no mutation of either state. Rooms present
// only on the destination are untouched — migration is additive.
// When leaveRooms is set, each planned room also carries cleanup
// operations for the coordinator to apply after migration succeeds.
//
// Power levels: only explicit entries in the source table are acted
// on, and an explicit source value always wins, even a lower one. A
// member missing from the source table never has an existing
// destination entry downgraded. The source account's own entry is
// carried over to the destination account, since the destination is
// taking over the source's role in the room; the carried entry only
// raises an existing destination entry, never lowers it, unless the
// source table names the destination account explicitly.
func BuildPlan(source, dest *AccountState, filter *RoomFilter, leaveRooms bool) *Plan {
	plan := &Plan{
		SourceUser: source.UserID,
		DestUser:   dest.UserID,
	}

	// Rooms unresolved on the destination side: present in the
	// source snapshot but impossible to diff against.
	destUnavailable := make(map[ref.RoomID]bool, len(dest.Unavailable))
	for _, roomID := range dest.Unavailable {
		destUnavailable[roomID] = true
	}

	for _, roomID := range source.SortedRoomIDs() {
		snapshot := source.Rooms[roomID]
		if snapshot.Membership != MembershipJoined {
			continue
		}
		if !filter.Includes(roomID, snapshot.Name) {
			continue
		}
		if destUnavailable[roomID] {
			plan.Unavailable = append(plan.Unavailable, roomID)
			continue
		}

		roomPlan := planRoom(roomID, snapshot, source.UserID, dest, leaveRooms)
		if len(roomPlan.Operations) == 0 && len(roomPlan.Cleanup) == 0 {
			continue
		}
		plan.Rooms = append(plan.Rooms, roomPlan)
	}

	// Rooms the source snapshotter gave up on are absent from its
	// Rooms map; surface them so the report never silently drops a
	// room.
	for _, roomID := range source.Unavailable {
		if filter.Includes(roomID, "") {
			plan.Unavailable = append(plan.Unavailable, roomID)
		}
	}
	sort.Slice(plan.Unavailable, func(i, j int) bool {
		return plan.Unavailable[i].String() < plan.Unavailable[j].String()
	})
	return plan
}

func planRoom(roomID ref.RoomID, snapshot RoomSnapshot, sourceUser ref.UserID, dest *AccountState, leaveRooms bool) RoomPlan {
	roomPlan := RoomPlan{
		RoomID:        roomID,
		Name:          snapshot.Name,
		IsDirect:      snapshot.IsDirect,
		DirectPartner: snapshot.DirectPartner,
	}

	destSnapshot, destKnows := dest.Rooms[roomID]
	if !destKnows || destSnapshot.Membership != MembershipJoined {
		roomPlan.Operations = append(roomPlan.Operations, Operation{
			Kind:   OpJoinRoom,
			RoomID: roomID,
		})
	}

	// The destination inherits the source's own entry; everyone
	// else's entry carries over verbatim.
	desired := make(map[ref.UserID]int, len(snapshot.PowerLevels.Users))
	var remapped bool
	for member, level := range snapshot.PowerLevels.Users {
		if member == dest.UserID {
			continue
		}
		if member == sourceUser {
			desired[dest.UserID] = level
			remapped = true
			continue
		}
		desired[member] = level
	}
	if level, ok := snapshot.PowerLevels.Users[dest.UserID]; ok {
		// An explicit entry for the destination account itself
		// outranks the inherited one.
		desired[dest.UserID] = level
		remapped = false
	}

	table := PowerLevels{Users: desired, UsersDefault: snapshot.PowerLevels.UsersDefault}
	for _, member := range table.SortedMembers() {
		level := desired[member]
		if destKnows && destSnapshot.HasPowerLevels {
			if existing, ok := destSnapshot.PowerLevels.Users[member]; ok {
				if existing == level {
					continue
				}
				// The inherited own entry only ratchets up: the
				// source table never names the destination account
				// here, so a higher existing entry stays.
				if member == dest.UserID && remapped && existing > level {
					continue
				}
			}
		}
		roomPlan.Operations = append(roomPlan.Operations, Operation{
			Kind:   OpSetPowerLevel,
			RoomID: roomID,
			Member: member,
			Level:  level,
		})
	}

	roomPlan.SourceLevel = snapshot.PowerLevels.Effective(sourceUser)
	roomPlan.DestLevel = table.Effective(dest.UserID)
	if destKnows && destSnapshot.HasPowerLevels {
		if existing, ok := destSnapshot.PowerLevels.Users[dest.UserID]; ok && existing > roomPlan.DestLevel {
			roomPlan.DestLevel = existing
		}
	}

	if leaveRooms {
		if roomPlan.IsDirect {
			roomPlan.Cleanup = append(roomPlan.Cleanup, Operation{
				Kind:    OpRestoreDirect,
				RoomID:  roomID,
				Partner: roomPlan.DirectPartner,
			})
		}
		roomPlan.Cleanup = append(roomPlan.Cleanup, Operation{
			Kind:   OpLeaveRoom,
			RoomID: roomID,
		})
	}
	return roomPlan
}
