// Copyright 2026 The matrix-migrate Authors
// SPDX-License-Identifier: Apache-2.0

package migrate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pajowu/matrix-migrate/lib/clock"
	"github.com/pajowu/matrix-migrate/lib/ref"
	"github.com/pajowu/matrix-migrate/lib/testutil"
	"github.com/pajowu/matrix-migrate/messaging"
)

func TestSnapshotMaterializesAccountState(t *testing.T) {
	general := roomID("!general:example.org")
	dm := roomID("!dm:example.org")
	invite := roomID("!pending:example.org")
	gone := roomID("!gone:example.org")

	session := newFakeSession("@alice:example.org")
	session.syncResponse = &messaging.SyncResponse{
		NextBatch: "s42",
		Rooms: messaging.RoomsSection{
			Join: map[ref.RoomID]messaging.JoinedRoom{
				general: joinedRoom(
					nameEvent("General"),
					powerEvent(0, map[string]int{"@alice:example.org": 100}),
				),
				dm: joinedRoom(powerEvent(0, nil)),
			},
			Invite: map[ref.RoomID]messaging.InvitedRoom{
				invite: {InviteState: messaging.StateSection{Events: []messaging.Event{nameEvent("Pending")}}},
			},
			Leave: map[ref.RoomID]messaging.LeftRoom{gone: {}},
		},
		AccountData: messaging.AccountDataSection{Events: []messaging.Event{
			directEvent(map[string][]string{"@bob:example.org": {dm.String()}}),
		}},
	}

	state, err := NewSnapshotter(session, clock.Real(), testLogger(), time.Second).Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if state.SyncToken != "s42" {
		t.Errorf("SyncToken = %q, want s42", state.SyncToken)
	}
	if len(state.Rooms) != 4 {
		t.Fatalf("got %d rooms, want 4", len(state.Rooms))
	}
	if len(state.Unavailable) != 0 {
		t.Fatalf("Unavailable = %v, want none", state.Unavailable)
	}

	got := state.Rooms[general]
	if got.Name != "General" || got.Membership != MembershipJoined || !got.HasPowerLevels {
		t.Errorf("general snapshot = %+v", got)
	}
	if level := got.PowerLevels.Effective(userID("@alice:example.org")); level != 100 {
		t.Errorf("alice level = %d, want 100", level)
	}

	got = state.Rooms[dm]
	if !got.IsDirect || got.DirectPartner != userID("@bob:example.org") {
		t.Errorf("dm snapshot = %+v, want direct with @bob", got)
	}

	if state.Rooms[invite].Membership != MembershipInvited {
		t.Errorf("invite membership = %q", state.Rooms[invite].Membership)
	}
	if state.Rooms[invite].Name != "Pending" {
		t.Errorf("invite name = %q, want Pending", state.Rooms[invite].Name)
	}
	if state.Rooms[gone].Membership != MembershipLeft {
		t.Errorf("left membership = %q", state.Rooms[gone].Membership)
	}
}

func TestSnapshotFailedInitialSyncIsSyncTimeout(t *testing.T) {
	session := newFakeSession("@alice:example.org")
	session.syncErr = errors.New("connection refused")

	_, err := NewSnapshotter(session, clock.Real(), testLogger(), time.Second).Snapshot(context.Background())
	if !errors.Is(err, ErrSyncTimeout) {
		t.Fatalf("err = %v, want ErrSyncTimeout", err)
	}
}

func TestSnapshotResolvesMissingStateDirectly(t *testing.T) {
	room := roomID("!lazy:example.org")
	session := newFakeSession("@alice:example.org")
	session.syncResponse = syncResponse(map[ref.RoomID]messaging.JoinedRoom{
		room: joinedRoom(nameEvent("Lazy")),
	})
	session.roomState[room] = []messaging.Event{powerEvent(0, map[string]int{"@alice:example.org": 50})}

	state, err := NewSnapshotter(session, clock.Real(), testLogger(), time.Second).Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	got := state.Rooms[room]
	if !got.HasPowerLevels {
		t.Fatal("power levels not resolved from room state")
	}
	if level := got.PowerLevels.Effective(userID("@alice:example.org")); level != 50 {
		t.Errorf("alice level = %d, want 50", level)
	}
}

func TestSnapshotRetriesTransientStateFailure(t *testing.T) {
	room := roomID("!flaky:example.org")
	session := newFakeSession("@alice:example.org")
	session.syncResponse = syncResponse(map[ref.RoomID]messaging.JoinedRoom{room: joinedRoom()})
	session.stateErrs[room] = []error{errRateLimited}
	session.roomState[room] = []messaging.Event{powerEvent(0, nil)}

	clk := clock.Fake(time.Unix(0, 0))
	type result struct {
		state *AccountState
		err   error
	}
	done := make(chan result, 1)
	go func() {
		state, err := NewSnapshotter(session, clk, testLogger(), time.Second).Snapshot(context.Background())
		done <- result{state, err}
	}()

	// First attempt fails rate-limited; release the backoff wait.
	if err := clk.WaitAdvance(time.Second, 5*time.Second, 1); err != nil {
		t.Fatalf("WaitAdvance: %v", err)
	}

	r := testutil.RequireReceive(t, done, 5*time.Second, "snapshot after retry")
	if r.err != nil {
		t.Fatalf("Snapshot: %v", r.err)
	}
	if !r.state.Rooms[room].HasPowerLevels {
		t.Error("power levels not resolved after retry")
	}
}

func TestSnapshotPermanentStateFailureMarksUnavailable(t *testing.T) {
	room := roomID("!broken:example.org")
	ok := roomID("!fine:example.org")
	session := newFakeSession("@alice:example.org")
	session.syncResponse = syncResponse(map[ref.RoomID]messaging.JoinedRoom{
		room: joinedRoom(),
		ok:   joinedRoom(powerEvent(0, nil)),
	})
	session.stateErrs[room] = []error{errForbidden}

	state, err := NewSnapshotter(session, clock.Real(), testLogger(), time.Second).Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if _, present := state.Rooms[room]; present {
		t.Error("unresolvable room still present in Rooms")
	}
	if len(state.Unavailable) != 1 || state.Unavailable[0] != room {
		t.Errorf("Unavailable = %v, want [%s]", state.Unavailable, room)
	}
	if _, present := state.Rooms[ok]; !present {
		t.Error("healthy room missing from snapshot")
	}
}

func TestParsePowerLevelsSkipsGarbage(t *testing.T) {
	levels := parsePowerLevels(map[string]any{
		"users_default":  float64(10),
		"events_default": float64(25),
		"state_default":  float64(50),
		"events": map[string]any{
			"m.room.name":  float64(100),
			"m.room.topic": "broken",
		},
		"users": map[string]any{
			"@good:example.org": float64(75),
			"not a user id":     float64(50),
			"@bad:example.org":  "fifty",
		},
	})
	if levels.UsersDefault != 10 {
		t.Errorf("UsersDefault = %d, want 10", levels.UsersDefault)
	}
	if levels.EventsDefault != 25 || levels.StateDefault != 50 {
		t.Errorf("defaults = %d/%d, want 25/50", levels.EventsDefault, levels.StateDefault)
	}
	if len(levels.Events) != 1 || levels.Events["m.room.name"] != 100 {
		t.Errorf("Events = %v, want single m.room.name entry at 100", levels.Events)
	}
	if len(levels.Users) != 1 {
		t.Fatalf("Users = %v, want single valid entry", levels.Users)
	}
	if levels.Users[userID("@good:example.org")] != 75 {
		t.Errorf("good level = %d, want 75", levels.Users[userID("@good:example.org")])
	}
	if levels.Effective(userID("@absent:example.org")) != 10 {
		t.Error("absent member did not fall back to users_default")
	}
}
