// Copyright 2026 The matrix-migrate Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/pajowu/matrix-migrate/lib/ref"
	"github.com/pajowu/matrix-migrate/lib/secret"
)

// DirectSession is an authenticated Matrix session. It wraps a Client
// with an access token for making authenticated API calls.
//
// The access token is stored in a secret.Buffer (mmap-backed, locked
// against swap, excluded from core dumps). The caller must call Close
// when the DirectSession is no longer needed.
type DirectSession struct {
	client      *Client
	accessToken *secret.Buffer
	userID      ref.UserID
	deviceID    string
}

// UserID returns the fully-qualified Matrix user ID (e.g., "@alice:example.org").
func (s *DirectSession) UserID() ref.UserID {
	return s.userID
}

// DeviceID returns the device ID for this session. Empty when the
// session was created from a token rather than a login.
func (s *DirectSession) DeviceID() string {
	return s.deviceID
}

// CloseIdleConnections closes idle HTTP connections in the underlying
// transport's connection pool. Call this after a sync error to force
// the next request to establish a fresh TCP connection.
func (s *DirectSession) CloseIdleConnections() {
	s.client.CloseIdleConnections()
}

// Close releases the access token memory (zeros, unlocks, unmaps).
// Idempotent — safe to call multiple times.
func (s *DirectSession) Close() error {
	if s.accessToken != nil {
		return s.accessToken.Close()
	}
	return nil
}

// WhoAmI validates the access token and returns the user ID.
// Useful for checking whether a stored token is still valid.
func (s *DirectSession) WhoAmI(ctx context.Context) (ref.UserID, error) {
	body, err := s.client.doRequest(ctx, http.MethodGet, "/_matrix/client/v3/account/whoami", s.accessToken, nil)
	if err != nil {
		return ref.UserID{}, fmt.Errorf("messaging: whoami failed: %w", err)
	}

	var response WhoAmIResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return ref.UserID{}, fmt.Errorf("messaging: failed to parse whoami response: %w", err)
	}
	return response.UserID, nil
}

// Sync performs a sync with the homeserver. For an initial full-state
// sync, leave options.Since empty. For long-polling, set
// options.Timeout to the desired wait in milliseconds.
func (s *DirectSession) Sync(ctx context.Context, options SyncOptions) (*SyncResponse, error) {
	query := url.Values{}
	if options.Since != "" {
		query.Set("since", options.Since)
	}
	if options.SetTimeout {
		query.Set("timeout", strconv.Itoa(options.Timeout))
	}
	if options.FullState {
		query.Set("full_state", "true")
	}
	if options.Filter != "" {
		query.Set("filter", options.Filter)
	}

	body, err := s.client.doRequest(ctx, http.MethodGet, "/_matrix/client/v3/sync", s.accessToken, nil, query)
	if err != nil {
		return nil, fmt.Errorf("messaging: sync failed: %w", err)
	}

	var response SyncResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse sync response: %w", err)
	}
	return &response, nil
}

// JoinRoom joins a room by ID. Joining a room the user is invited to
// accepts the invite; joining an already-joined room is a no-op on the
// server side. Returns the room ID.
func (s *DirectSession) JoinRoom(ctx context.Context, roomID ref.RoomID) (ref.RoomID, error) {
	path := "/_matrix/client/v3/join/" + url.PathEscape(roomID.String())
	body, err := s.client.doRequest(ctx, http.MethodPost, path, s.accessToken, struct{}{})
	if err != nil {
		return ref.RoomID{}, fmt.Errorf("messaging: join room %s failed: %w", roomID, err)
	}

	var response struct {
		RoomID ref.RoomID `json:"room_id"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return ref.RoomID{}, fmt.Errorf("messaging: failed to parse join response: %w", err)
	}
	return response.RoomID, nil
}

// LeaveRoom leaves a room by ID.
func (s *DirectSession) LeaveRoom(ctx context.Context, roomID ref.RoomID) error {
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/leave", url.PathEscape(roomID.String()))
	_, err := s.client.doRequest(ctx, http.MethodPost, path, s.accessToken, struct{}{})
	if err != nil {
		return fmt.Errorf("messaging: leave room %q failed: %w", roomID, err)
	}
	return nil
}

// RoomState fetches all current state events from a room.
// Returns the full event objects including type, state_key, sender, etc.
func (s *DirectSession) RoomState(ctx context.Context, roomID ref.RoomID) ([]Event, error) {
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/state", url.PathEscape(roomID.String()))

	body, err := s.client.doRequest(ctx, http.MethodGet, path, s.accessToken, nil)
	if err != nil {
		return nil, fmt.Errorf("messaging: get room state for %q failed: %w", roomID, err)
	}

	var events []Event
	if err := json.Unmarshal(body, &events); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse room state response: %w", err)
	}
	return events, nil
}

// GetStateEvent fetches a specific state event's content from a room.
// Returns the raw JSON content for the caller to unmarshal.
//
// If the state event does not exist, returns a *MatrixError with code
// M_NOT_FOUND.
func (s *DirectSession) GetStateEvent(ctx context.Context, roomID ref.RoomID, eventType ref.EventType, stateKey string) (json.RawMessage, error) {
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/state/%s/%s",
		url.PathEscape(roomID.String()),
		url.PathEscape(eventType.String()),
		url.PathEscape(stateKey),
	)

	body, err := s.client.doRequest(ctx, http.MethodGet, path, s.accessToken, nil)
	if err != nil {
		return nil, fmt.Errorf("messaging: get state event %s/%s in %q failed: %w", eventType, stateKey, roomID, err)
	}
	return json.RawMessage(body), nil
}

// SendStateEvent sends a state event to a room. State events use PUT
// with the event type and state key in the path. Returns the event ID.
func (s *DirectSession) SendStateEvent(ctx context.Context, roomID ref.RoomID, eventType ref.EventType, stateKey string, content any) (string, error) {
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/state/%s/%s",
		url.PathEscape(roomID.String()),
		url.PathEscape(eventType.String()),
		url.PathEscape(stateKey),
	)

	body, err := s.client.doRequest(ctx, http.MethodPut, path, s.accessToken, content)
	if err != nil {
		return "", fmt.Errorf("messaging: send state event to %q failed: %w", roomID, err)
	}

	var response SendEventResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return "", fmt.Errorf("messaging: failed to parse send state response: %w", err)
	}
	return response.EventID, nil
}

// SetPowerLevel sets one member's power level in a room's
// m.room.power_levels table, preserving every other field of the
// event. Setting a level the member already holds skips the write
// entirely, which is what makes re-applying a migration plan
// idempotent at the protocol layer.
func (s *DirectSession) SetPowerLevel(ctx context.Context, roomID ref.RoomID, member ref.UserID, level int) error {
	raw, err := s.GetStateEvent(ctx, roomID, ref.EventTypePowerLevels, "")
	if err != nil {
		return fmt.Errorf("messaging: reading power levels in %q: %w", roomID, err)
	}

	// Decode into a generic map so fields this tool doesn't model
	// (notifications, ban, kick, ...) round-trip untouched.
	var content map[string]any
	if err := json.Unmarshal(raw, &content); err != nil {
		return fmt.Errorf("messaging: failed to parse power levels in %q: %w", roomID, err)
	}

	users, _ := content["users"].(map[string]any)
	if users == nil {
		users = map[string]any{}
	}
	if current, ok := users[member.String()]; ok {
		// JSON numbers decode as float64.
		if existing, ok := current.(float64); ok && int(existing) == level {
			return nil
		}
	}
	users[member.String()] = level
	content["users"] = users

	if _, err := s.SendStateEvent(ctx, roomID, ref.EventTypePowerLevels, "", content); err != nil {
		return fmt.Errorf("messaging: setting power level of %q in %q to %d: %w", member, roomID, level, err)
	}
	return nil
}

// GetAccountData fetches a global account data event for the session's
// user. Returns the raw JSON content for the caller to unmarshal. If
// the event has never been set, returns a *MatrixError with code
// M_NOT_FOUND.
func (s *DirectSession) GetAccountData(ctx context.Context, eventType ref.EventType) (json.RawMessage, error) {
	path := fmt.Sprintf("/_matrix/client/v3/user/%s/account_data/%s",
		url.PathEscape(s.userID.String()),
		url.PathEscape(eventType.String()),
	)

	body, err := s.client.doRequest(ctx, http.MethodGet, path, s.accessToken, nil)
	if err != nil {
		return nil, fmt.Errorf("messaging: get account data %s failed: %w", eventType, err)
	}
	return json.RawMessage(body), nil
}

// SetAccountData replaces a global account data event for the
// session's user.
func (s *DirectSession) SetAccountData(ctx context.Context, eventType ref.EventType, content any) error {
	path := fmt.Sprintf("/_matrix/client/v3/user/%s/account_data/%s",
		url.PathEscape(s.userID.String()),
		url.PathEscape(eventType.String()),
	)

	_, err := s.client.doRequest(ctx, http.MethodPut, path, s.accessToken, content)
	if err != nil {
		return fmt.Errorf("messaging: set account data %s failed: %w", eventType, err)
	}
	return nil
}

// SetDirectFlag marks or unmarks a room as a direct chat with the
// given partner in the session's m.direct account data. The m.direct
// event maps partner user IDs to room ID lists; server-side joins do
// not carry the flag over, so a migration must re-apply it explicitly.
// Setting a flag that is already in the desired state skips the write.
func (s *DirectSession) SetDirectFlag(ctx context.Context, roomID ref.RoomID, partner ref.UserID, direct bool) error {
	directMap := map[string][]string{}

	raw, err := s.GetAccountData(ctx, ref.EventTypeDirect)
	switch {
	case err == nil:
		if err := json.Unmarshal(raw, &directMap); err != nil {
			return fmt.Errorf("messaging: failed to parse m.direct account data: %w", err)
		}
	case IsMatrixError(err, ErrCodeNotFound):
		// No direct chats recorded yet — start from an empty map.
	default:
		return err
	}

	rooms := directMap[partner.String()]
	index := -1
	for i, id := range rooms {
		if id == roomID.String() {
			index = i
			break
		}
	}

	if direct == (index >= 0) {
		return nil
	}

	if direct {
		directMap[partner.String()] = append(rooms, roomID.String())
	} else {
		directMap[partner.String()] = append(rooms[:index], rooms[index+1:]...)
		if len(directMap[partner.String()]) == 0 {
			delete(directMap, partner.String())
		}
	}

	if err := s.SetAccountData(ctx, ref.EventTypeDirect, directMap); err != nil {
		return fmt.Errorf("messaging: updating m.direct for room %q: %w", roomID, err)
	}
	return nil
}

// Logout invalidates the session's access token on the server. The
// local token buffer remains allocated until Close is called.
func (s *DirectSession) Logout(ctx context.Context) error {
	_, err := s.client.doRequest(ctx, http.MethodPost, "/_matrix/client/v3/logout", s.accessToken, map[string]any{})
	if err != nil {
		return fmt.Errorf("messaging: logout failed: %w", err)
	}
	return nil
}
