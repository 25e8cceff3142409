// Copyright 2026 The matrix-migrate Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"github.com/pajowu/matrix-migrate/lib/ref"
)

// LoginRequest is the request body for password login.
type LoginRequest struct {
	Type                     string `json:"type"`
	User                     string `json:"user"`
	Password                 string `json:"password"`
	DeviceID                 string `json:"device_id,omitempty"`
	InitialDeviceDisplayName string `json:"initial_device_display_name,omitempty"`
}

// AuthResponse is returned by Login.
type AuthResponse struct {
	UserID      ref.UserID `json:"user_id"`
	AccessToken string     `json:"access_token"`
	DeviceID    string     `json:"device_id"`
}

// WhoAmIResponse is returned by WhoAmI.
type WhoAmIResponse struct {
	UserID   ref.UserID `json:"user_id"`
	DeviceID string     `json:"device_id,omitempty"`
}

// SyncOptions controls the behavior of the /sync endpoint.
type SyncOptions struct {
	Since      string // next_batch token from previous sync; empty for initial sync
	Timeout    int    // long-poll timeout in milliseconds; 0 for immediate return
	SetTimeout bool   // if true, send the timeout parameter (needed to distinguish "not set" from "0")
	FullState  bool   // if true, request complete state for all rooms regardless of Since
	Filter     string // filter ID or inline JSON filter
}

// SyncResponse is the top-level response from /sync.
type SyncResponse struct {
	NextBatch   string             `json:"next_batch"`
	Rooms       RoomsSection       `json:"rooms"`
	AccountData AccountDataSection `json:"account_data,omitempty"`
}

// AccountDataSection contains account-scoped events from /sync
// (m.direct lives here).
type AccountDataSection struct {
	Events []Event `json:"events"`
}

// RoomsSection contains per-room sync data grouped by membership
// state. Map keys are room IDs; encoding/json uses ref.RoomID's
// TextUnmarshaler for automatic validation at deserialization.
type RoomsSection struct {
	Join   map[ref.RoomID]JoinedRoom  `json:"join,omitempty"`
	Invite map[ref.RoomID]InvitedRoom `json:"invite,omitempty"`
	Leave  map[ref.RoomID]LeftRoom    `json:"leave,omitempty"`
}

// JoinedRoom contains sync data for a room the user has joined.
type JoinedRoom struct {
	Timeline TimelineSection `json:"timeline"`
	State    StateSection    `json:"state"`
}

// InvitedRoom contains sync data for a room the user was invited to.
// InviteState is the stripped state the server shares with invitees:
// enough to show the room name and the inviter, never power levels.
type InvitedRoom struct {
	InviteState StateSection `json:"invite_state"`
}

// LeftRoom contains sync data for a room the user has left.
type LeftRoom struct {
	Timeline TimelineSection `json:"timeline"`
	State    StateSection    `json:"state"`
}

// TimelineSection contains timeline events from a sync response.
type TimelineSection struct {
	Events    []Event `json:"events"`
	PrevBatch string  `json:"prev_batch"`
	Limited   bool    `json:"limited"`
}

// StateSection contains state events from a sync response.
type StateSection struct {
	Events []Event `json:"events"`
}

// Event represents a Matrix event from the server.
type Event struct {
	EventID        string         `json:"event_id,omitempty"`
	Type           ref.EventType  `json:"type"`
	Sender         ref.UserID     `json:"sender,omitempty"`
	OriginServerTS int64          `json:"origin_server_ts,omitempty"`
	Content        map[string]any `json:"content"`
	RoomID         ref.RoomID     `json:"room_id,omitempty"`
	StateKey       *string        `json:"state_key,omitempty"`
}

// SendEventResponse is returned by SendStateEvent.
type SendEventResponse struct {
	EventID string `json:"event_id"`
}

// WellKnownResponse is the .well-known/matrix/client discovery
// document.
type WellKnownResponse struct {
	Homeserver WellKnownHomeserver `json:"m.homeserver"`
}

// WellKnownHomeserver carries the discovered base URL.
type WellKnownHomeserver struct {
	BaseURL string `json:"base_url"`
}
