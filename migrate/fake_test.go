// Copyright 2026 The matrix-migrate Authors
// SPDX-License-Identifier: Apache-2.0

package migrate

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/pajowu/matrix-migrate/lib/ref"
	"github.com/pajowu/matrix-migrate/messaging"
)

// fakeSession is a scriptable Session double. Every call is recorded
// as a one-line string so tests can assert on exact call sequences;
// error queues are consumed one entry per call, letting a test fail
// an operation once and succeed on retry.
type fakeSession struct {
	userID ref.UserID

	mu           sync.Mutex
	syncResponse *messaging.SyncResponse
	syncErr      error
	roomState    map[ref.RoomID][]messaging.Event
	stateErrs    map[ref.RoomID][]error
	joinErrs     map[ref.RoomID][]error
	powerErrs    map[ref.RoomID][]error
	leaveErrs    map[ref.RoomID][]error
	directErrs   map[ref.RoomID][]error
	calls        []string
}

func newFakeSession(user string) *fakeSession {
	return &fakeSession{
		userID:     ref.MustParseUserID(user),
		roomState:  make(map[ref.RoomID][]messaging.Event),
		stateErrs:  make(map[ref.RoomID][]error),
		joinErrs:   make(map[ref.RoomID][]error),
		powerErrs:  make(map[ref.RoomID][]error),
		leaveErrs:  make(map[ref.RoomID][]error),
		directErrs: make(map[ref.RoomID][]error),
	}
}

func (s *fakeSession) UserID() ref.UserID { return s.userID }

func (s *fakeSession) Sync(ctx context.Context, options messaging.SyncOptions) (*messaging.SyncResponse, error) {
	s.record("sync full_state=%v", options.FullState)
	if s.syncErr != nil {
		return nil, s.syncErr
	}
	if s.syncResponse == nil {
		return &messaging.SyncResponse{NextBatch: "s1"}, nil
	}
	return s.syncResponse, nil
}

func (s *fakeSession) RoomState(ctx context.Context, roomID ref.RoomID) ([]messaging.Event, error) {
	s.record("state %s", roomID)
	if err := s.takeErr(s.stateErrs, roomID); err != nil {
		return nil, err
	}
	return s.roomState[roomID], nil
}

func (s *fakeSession) JoinRoom(ctx context.Context, roomID ref.RoomID) (ref.RoomID, error) {
	s.record("join %s", roomID)
	if err := s.takeErr(s.joinErrs, roomID); err != nil {
		return ref.RoomID{}, err
	}
	return roomID, nil
}

func (s *fakeSession) LeaveRoom(ctx context.Context, roomID ref.RoomID) error {
	s.record("leave %s", roomID)
	return s.takeErr(s.leaveErrs, roomID)
}

func (s *fakeSession) SetPowerLevel(ctx context.Context, roomID ref.RoomID, member ref.UserID, level int) error {
	s.record("power %s %s %d", roomID, member, level)
	return s.takeErr(s.powerErrs, roomID)
}

func (s *fakeSession) SetDirectFlag(ctx context.Context, roomID ref.RoomID, partner ref.UserID, direct bool) error {
	s.record("direct %s %s %v", roomID, partner, direct)
	return s.takeErr(s.directErrs, roomID)
}

func (s *fakeSession) record(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, fmt.Sprintf(format, args...))
}

func (s *fakeSession) takeErr(queue map[ref.RoomID][]error, roomID ref.RoomID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	errs := queue[roomID]
	if len(errs) == 0 {
		return nil
	}
	queue[roomID] = errs[1:]
	return errs[0]
}

func (s *fakeSession) callLog() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// mutations filters the call log down to state-changing calls.
func (s *fakeSession) mutations() []string {
	var out []string
	for _, call := range s.callLog() {
		switch {
		case len(call) >= 4 && call[:4] == "sync":
		case len(call) >= 5 && call[:5] == "state":
		default:
			out = append(out, call)
		}
	}
	return out
}

// Error fixtures. Anything that is not a MatrixError with a 4xx
// status classifies as transient, so permanent failures must carry a
// concrete protocol error.
var (
	errForbidden = &messaging.MatrixError{
		Code:       messaging.ErrCodeForbidden,
		Message:    "not allowed",
		StatusCode: http.StatusForbidden,
	}
	errRateLimited = &messaging.MatrixError{
		Code:       messaging.ErrCodeLimitExceeded,
		Message:    "slow down",
		StatusCode: http.StatusTooManyRequests,
	}
	errNotFound = &messaging.MatrixError{
		Code:       messaging.ErrCodeNotFound,
		Message:    "no such room",
		StatusCode: http.StatusNotFound,
	}
)

// Event constructors for sync fixtures.

func nameEvent(name string) messaging.Event {
	return messaging.Event{
		Type:    ref.EventTypeName,
		Content: map[string]any{"name": name},
	}
}

func powerEvent(usersDefault int, users map[string]int) messaging.Event {
	table := make(map[string]any, len(users))
	for user, level := range users {
		table[user] = float64(level)
	}
	return messaging.Event{
		Type: ref.EventTypePowerLevels,
		Content: map[string]any{
			"users_default": float64(usersDefault),
			"users":         table,
		},
	}
}

func directEvent(entries map[string][]string) messaging.Event {
	content := make(map[string]any, len(entries))
	for partner, rooms := range entries {
		list := make([]any, len(rooms))
		for i, room := range rooms {
			list[i] = room
		}
		content[partner] = list
	}
	return messaging.Event{Type: ref.EventTypeDirect, Content: content}
}

func joinedRoom(events ...messaging.Event) messaging.JoinedRoom {
	return messaging.JoinedRoom{State: messaging.StateSection{Events: events}}
}

func syncResponse(join map[ref.RoomID]messaging.JoinedRoom, accountData ...messaging.Event) *messaging.SyncResponse {
	return &messaging.SyncResponse{
		NextBatch:   "s1",
		Rooms:       messaging.RoomsSection{Join: join},
		AccountData: messaging.AccountDataSection{Events: accountData},
	}
}

func roomID(s string) ref.RoomID { return ref.MustParseRoomID(s) }
func userID(s string) ref.UserID { return ref.MustParseUserID(s) }

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }
