// Copyright 2026 The matrix-migrate Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil provides HTTP I/O helpers shared by the messaging
// client and homeserver discovery.
//
// Response helpers (ReadResponse, DecodeResponse) bound all response
// body reads at MaxResponseSize to prevent unbounded memory allocation
// from a misbehaving or malicious server. They are for JSON API
// responses (Matrix client-server API, .well-known discovery) — not
// for streaming or large binary downloads.
package netutil

import (
	"encoding/json"
	"fmt"
	"io"
)

// MaxResponseSize is the bound on JSON API response body reads: 256 MB.
// An initial full-state /sync for an account in thousands of rooms is
// large but still orders of magnitude below this; the limit exists
// solely so a pathological response cannot exhaust system memory.
const MaxResponseSize int64 = 256 << 20

// ReadResponse reads a JSON API response body up to MaxResponseSize
// bytes. Use instead of io.ReadAll when reading HTTP response bodies.
func ReadResponse(body io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(body, MaxResponseSize))
}

// DecodeResponse reads a JSON API response body (up to MaxResponseSize
// bytes) and JSON-decodes it into v. Replaces the common
// io.ReadAll + json.Unmarshal pattern.
func DecodeResponse(body io.Reader, v any) error {
	data, err := io.ReadAll(io.LimitReader(body, MaxResponseSize))
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}
	return json.Unmarshal(data, v)
}
