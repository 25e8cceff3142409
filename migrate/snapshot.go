// Copyright 2026 The matrix-migrate Authors
// SPDX-License-Identifier: Apache-2.0

package migrate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pajowu/matrix-migrate/lib/clock"
	"github.com/pajowu/matrix-migrate/lib/ref"
	"github.com/pajowu/matrix-migrate/messaging"
)

// syncFilter is the inline /sync filter the snapshotter sends: the
// engine only cares about current state and account data, so the
// timeline is trimmed to nothing and state is narrowed to the three
// event types planning reads.
const syncFilter = `{"room":{"timeline":{"limit":1},"state":{"types":["m.room.member","m.room.name","m.room.power_levels"]}},"account_data":{"types":["m.direct"]}}`

const (
	// stateAttempts and stateBackoff bound the per-room retry loop
	// for rooms whose sync payload lacked a power-level event. The
	// backoff doubles between attempts.
	stateAttempts = 3
	stateBackoff  = 500 * time.Millisecond
)

// A Snapshotter materializes one account's current server-side state
// into an AccountState.
type Snapshotter struct {
	session     Session
	clk         clock.Clock
	logger      *slog.Logger
	callTimeout time.Duration
}

// NewSnapshotter returns a snapshotter for the given session.
// callTimeout bounds each individual homeserver call.
func NewSnapshotter(session Session, clk clock.Clock, logger *slog.Logger, callTimeout time.Duration) *Snapshotter {
	return &Snapshotter{
		session:     session,
		clk:         clk,
		logger:      logger.With("account", session.UserID().String()),
		callTimeout: callTimeout,
	}
}

// Snapshot performs a full-state initial sync and resolves every
// joined room into a RoomSnapshot. A failed initial sync is wrapped
// in ErrSyncTimeout and is fatal: without a baseline there is
// nothing to diff. Individual rooms whose power-level state cannot
// be resolved within the retry budget are recorded in
// AccountState.Unavailable instead of failing the snapshot.
func (s *Snapshotter) Snapshot(ctx context.Context) (*AccountState, error) {
	syncCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	resp, err := s.session.Sync(syncCtx, messaging.SyncOptions{
		Timeout:    0,
		SetTimeout: true,
		FullState:  true,
		Filter:     syncFilter,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSyncTimeout, err)
	}

	state := &AccountState{
		UserID:    s.session.UserID(),
		SyncToken: resp.NextBatch,
		Rooms:     make(map[ref.RoomID]RoomSnapshot),
	}

	directPartners := parseDirect(resp.AccountData)

	for roomID, joined := range resp.Rooms.Join {
		snapshot := RoomSnapshot{
			RoomID:     roomID,
			Membership: MembershipJoined,
		}
		s.applyStateEvents(&snapshot, joined.State.Events)
		// State that only arrived in the timeline still counts.
		s.applyStateEvents(&snapshot, joined.Timeline.Events)

		if partner, ok := directPartners[roomID]; ok {
			snapshot.IsDirect = true
			snapshot.DirectPartner = partner
		}

		if !snapshot.HasPowerLevels {
			if err := s.resolveRoomState(ctx, &snapshot); err != nil {
				s.logger.Warn("room state unavailable, excluding from migration",
					"room_id", roomID.String(), "error", err)
				state.Unavailable = append(state.Unavailable, roomID)
				continue
			}
		}
		state.Rooms[roomID] = snapshot
	}

	for roomID, invited := range resp.Rooms.Invite {
		snapshot := RoomSnapshot{
			RoomID:     roomID,
			Membership: MembershipInvited,
		}
		s.applyStateEvents(&snapshot, invited.InviteState.Events)
		if partner, ok := directPartners[roomID]; ok {
			snapshot.IsDirect = true
			snapshot.DirectPartner = partner
		}
		state.Rooms[roomID] = snapshot
	}

	for roomID := range resp.Rooms.Leave {
		state.Rooms[roomID] = RoomSnapshot{
			RoomID:     roomID,
			Membership: MembershipLeft,
		}
	}

	s.logger.Info("account state snapshotted",
		"rooms", len(state.Rooms),
		"unavailable", len(state.Unavailable))
	return state, nil
}

// resolveRoomState fetches a room's full state directly, retrying
// with doubling backoff, for rooms whose sync payload did not carry
// a usable power-level event.
func (s *Snapshotter) resolveRoomState(ctx context.Context, snapshot *RoomSnapshot) error {
	backoff := stateBackoff
	var lastErr error
	for attempt := 1; attempt <= stateAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return &RoomUnavailableError{RoomID: snapshot.RoomID.String(), Err: ctx.Err()}
			case <-s.clk.After(backoff):
			}
			backoff *= 2
		}

		callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
		events, err := s.session.RoomState(callCtx, snapshot.RoomID)
		cancel()
		if err != nil {
			lastErr = err
			if !messaging.IsTransient(err) {
				break
			}
			s.logger.Debug("room state fetch failed, retrying",
				"room_id", snapshot.RoomID.String(),
				"attempt", attempt, "error", err)
			continue
		}

		s.applyStateEvents(snapshot, events)
		if snapshot.HasPowerLevels {
			return nil
		}
		lastErr = fmt.Errorf("state response carried no %s event", ref.EventTypePowerLevels)
	}
	return &RoomUnavailableError{RoomID: snapshot.RoomID.String(), Err: lastErr}
}

// applyStateEvents folds state events into the snapshot. Later
// events win, matching the server's ordering guarantee for /sync
// state sections.
func (s *Snapshotter) applyStateEvents(snapshot *RoomSnapshot, events []messaging.Event) {
	for _, event := range events {
		switch event.Type {
		case ref.EventTypeName:
			if name, ok := event.Content["name"].(string); ok {
				snapshot.Name = name
			}
		case ref.EventTypePowerLevels:
			snapshot.PowerLevels = parsePowerLevels(event.Content)
			snapshot.HasPowerLevels = true
		}
	}
}

// parsePowerLevels extracts the per-user table, defaults, and
// event-level requirements from an m.room.power_levels content body.
// Entries with malformed user IDs or non-numeric levels are skipped;
// the server should never produce them, and planning must not trip
// over one room's garbage.
func parsePowerLevels(content map[string]any) PowerLevels {
	levels := PowerLevels{Users: make(map[ref.UserID]int)}
	if d, ok := content["users_default"].(float64); ok {
		levels.UsersDefault = int(d)
	}
	if d, ok := content["events_default"].(float64); ok {
		levels.EventsDefault = int(d)
	}
	if d, ok := content["state_default"].(float64); ok {
		levels.StateDefault = int(d)
	}
	if events, ok := content["events"].(map[string]any); ok {
		levels.Events = make(map[string]int, len(events))
		for eventType, value := range events {
			if level, ok := value.(float64); ok {
				levels.Events[eventType] = int(level)
			}
		}
	}
	users, ok := content["users"].(map[string]any)
	if !ok {
		return levels
	}
	for raw, value := range users {
		level, ok := value.(float64)
		if !ok {
			continue
		}
		member, err := ref.ParseUserID(raw)
		if err != nil {
			continue
		}
		levels.Users[member] = int(level)
	}
	return levels
}

// parseDirect inverts the m.direct account-data event (partner user
// to room list) into a room-to-partner lookup.
func parseDirect(accountData messaging.AccountDataSection) map[ref.RoomID]ref.UserID {
	partners := make(map[ref.RoomID]ref.UserID)
	for _, event := range accountData.Events {
		if event.Type != ref.EventTypeDirect {
			continue
		}
		for rawUser, value := range event.Content {
			partner, err := ref.ParseUserID(rawUser)
			if err != nil {
				continue
			}
			rooms, ok := value.([]any)
			if !ok {
				continue
			}
			for _, rawRoom := range rooms {
				roomStr, ok := rawRoom.(string)
				if !ok {
					continue
				}
				roomID, err := ref.ParseRoomID(roomStr)
				if err != nil {
					continue
				}
				partners[roomID] = partner
			}
		}
	}
	return partners
}
