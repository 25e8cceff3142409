// Copyright 2026 The matrix-migrate Authors
// SPDX-License-Identifier: Apache-2.0

package migrate

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/pajowu/matrix-migrate/lib/ref"
	"github.com/pajowu/matrix-migrate/messaging"
)

// migrationPair builds a source with a direct chat and a group room,
// and a destination that already knows the group room.
func migrationPair() (*fakeSession, *fakeSession) {
	dm := roomID("!dm:example.org")
	group := roomID("!group:example.org")

	source := newFakeSession("@old:example.org")
	source.syncResponse = syncResponse(
		map[ref.RoomID]messaging.JoinedRoom{
			dm: joinedRoom(
				nameEvent("Bob"),
				powerEvent(0, map[string]int{"@old:example.org": 100}),
			),
			group: joinedRoom(
				nameEvent("Group"),
				powerEvent(0, nil),
			),
		},
		directEvent(map[string][]string{"@bob:example.org": {dm.String()}}),
	)

	dest := newFakeSession("@new:example.org")
	dest.syncResponse = syncResponse(map[ref.RoomID]messaging.JoinedRoom{
		group: joinedRoom(powerEvent(0, nil)),
	})
	return source, dest
}

func TestDryRunMakesNoMutatingCalls(t *testing.T) {
	source, dest := migrationPair()
	rendered, err := DryRun(context.Background(), source, dest, Options{Logger: testLogger()})
	if err != nil {
		t.Fatalf("DryRun: %v", err)
	}
	if rendered.Operations == 0 {
		t.Error("dry run planned nothing for a divergent pair")
	}
	if !strings.Contains(rendered.Text, "!dm:example.org") {
		t.Errorf("rendering missing the room needing migration:\n%s", rendered.Text)
	}
	if calls := source.mutations(); len(calls) != 0 {
		t.Errorf("dry run mutated the source: %v", calls)
	}
	if calls := dest.mutations(); len(calls) != 0 {
		t.Errorf("dry run mutated the destination: %v", calls)
	}
}

func TestRunMigratesAndCleansUp(t *testing.T) {
	source, dest := migrationPair()
	report, err := Run(context.Background(), source, dest, Options{
		LeaveRooms: true,
		Logger:     testLogger(),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	dm := roomID("!dm:example.org")
	group := roomID("!group:example.org")
	if got := report.Rooms[dm]; got.Status != StatusApplied {
		t.Errorf("dm = %+v, want applied", got)
	}
	if got := report.Rooms[group]; got.Status != StatusApplied {
		t.Errorf("group = %+v, want applied", got)
	}

	destCalls := strings.Join(dest.mutations(), "\n")
	if !strings.Contains(destCalls, "join !dm:example.org") {
		t.Errorf("destination never joined the dm:\n%s", destCalls)
	}
	if !strings.Contains(destCalls, "power !dm:example.org @new:example.org 100") {
		t.Errorf("destination did not inherit the source's level:\n%s", destCalls)
	}
	if !strings.Contains(destCalls, "direct !dm:example.org @bob:example.org true") {
		t.Errorf("direct flag not restored on destination:\n%s", destCalls)
	}

	sourceCalls := strings.Join(source.mutations(), "\n")
	if !strings.Contains(sourceCalls, "leave !dm:example.org") {
		t.Errorf("source did not leave the dm:\n%s", sourceCalls)
	}
	if !strings.Contains(sourceCalls, "leave !group:example.org") {
		t.Errorf("source did not leave the group:\n%s", sourceCalls)
	}
}

func TestRunWithoutCleanupLeavesNothing(t *testing.T) {
	source, dest := migrationPair()
	if _, err := Run(context.Background(), source, dest, Options{Logger: testLogger()}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if calls := source.mutations(); len(calls) != 0 {
		t.Errorf("source mutated without cleanup enabled: %v", calls)
	}
	for _, call := range dest.mutations() {
		if strings.HasPrefix(call, "direct ") {
			t.Errorf("direct flag touched without cleanup enabled: %s", call)
		}
	}
}

func TestRunAbortsOnSyncTimeout(t *testing.T) {
	source, dest := migrationPair()
	source.syncErr = errors.New("gateway timeout")

	report, err := Run(context.Background(), source, dest, Options{Logger: testLogger()})
	if !errors.Is(err, ErrSyncTimeout) {
		t.Fatalf("err = %v, want ErrSyncTimeout", err)
	}
	if report != nil {
		t.Errorf("report = %+v, want none before a baseline exists", report)
	}
	if calls := dest.mutations(); len(calls) != 0 {
		t.Errorf("destination mutated despite aborted sync: %v", calls)
	}
}

func TestRunRespectsRoomFilter(t *testing.T) {
	source, dest := migrationPair()
	report, err := Run(context.Background(), source, dest, Options{
		RoomsExcluded: []string{"!dm:*"},
		Logger:        testLogger(),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, planned := report.Rooms[roomID("!dm:example.org")]; planned {
		t.Error("excluded room was planned")
	}
	for _, call := range dest.mutations() {
		if strings.Contains(call, "!dm:example.org") {
			t.Errorf("excluded room touched: %s", call)
		}
	}
}

func TestRunRejectsBadFilterPattern(t *testing.T) {
	source, dest := migrationPair()
	if _, err := Run(context.Background(), source, dest, Options{
		Rooms:  []string{"[unclosed"},
		Logger: testLogger(),
	}); err == nil {
		t.Fatal("bad filter pattern accepted")
	}
}
