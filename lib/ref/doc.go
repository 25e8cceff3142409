// Copyright 2026 The matrix-migrate Authors
// SPDX-License-Identifier: Apache-2.0

// Package ref provides strongly typed, immutable Matrix identifier
// values: room IDs, user IDs, server names, and event types.
//
// Identifiers enter the program from three places — CLI flags, config
// files, and homeserver API responses — and are validated once at that
// boundary. Everything past the boundary works with ref values and
// never re-parses strings.
//
// All constructors validate their inputs and return errors for invalid
// identifiers. Once constructed, a ref is immutable. The zero value of
// every ref type is invalid; use IsZero to check.
//
// JSON marshaling uses the canonical Matrix string form via
// encoding.TextMarshaler, so sync responses keyed by room ID
// deserialize directly into maps keyed by RoomID.
package ref
