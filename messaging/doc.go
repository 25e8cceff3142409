// Copyright 2026 The matrix-migrate Authors
// SPDX-License-Identifier: Apache-2.0

// Package messaging wraps the slice of the Matrix client-server API
// that account migration needs.
//
// The package provides two core types. [Client] is an unauthenticated
// Matrix client that handles homeserver discovery and password login,
// returning authenticated [DirectSession] values. Client holds the
// homeserver URL and HTTP transport, shared across the sessions
// derived from it — a migration run holds two Clients (source and
// destination homeserver) and one DirectSession on each.
//
// [DirectSession] wraps a Client with an access token for the
// authenticated operations the engine consumes: full-state and
// incremental /sync with inline filters, room join and leave, room
// state reads, power-level updates via m.room.power_levels, per-user
// account data (m.direct) for direct-chat bookkeeping, and identity
// verification (WhoAmI). The access token lives in mmap-backed
// secret.Buffer memory (locked against swap, excluded from core
// dumps); callers must call Close to release it.
//
// All API errors are returned as [*MatrixError] with the standard
// Matrix error code (M_FORBIDDEN, M_LIMIT_EXCEEDED, etc.) and HTTP
// status code; rate-limit responses also carry the server's
// retry_after_ms hint. [IsMatrixError] tests for a specific error
// code. Request URLs are built by string concatenation rather than
// url.URL to avoid double-encoding of path segments that contain
// URL-encoded characters.
//
// Homeserver discovery follows the .well-known/matrix/client scheme:
// [DiscoverHomeserver] resolves a server name to a base URL, falling
// back to https://<server> when no well-known document is published.
package messaging
