// Copyright 2026 The matrix-migrate Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/pajowu/matrix-migrate/lib/netutil"
	"github.com/pajowu/matrix-migrate/lib/ref"
)

// DiscoverHomeserver resolves a Matrix server name to a client API
// base URL using the .well-known/matrix/client scheme:
//
//	GET https://<server>/.well-known/matrix/client
//	→ {"m.homeserver": {"base_url": "https://matrix.example.org"}}
//
// When the server publishes no well-known document (404), discovery
// falls back to https://<server> — the server name itself is the
// homeserver. Any other failure (network error, malformed document,
// missing base_url) is returned to the caller: proceeding with a
// guessed URL against a server that explicitly publishes discovery
// data would send credentials to the wrong host.
//
// httpClient may be nil, in which case http.DefaultClient is used.
func DiscoverHomeserver(ctx context.Context, serverName ref.ServerName, httpClient *http.Client) (string, error) {
	if serverName.IsZero() {
		return "", fmt.Errorf("messaging: server name is required for discovery")
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	wellKnownURL := "https://" + serverName.String() + "/.well-known/matrix/client"
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, wellKnownURL, nil)
	if err != nil {
		return "", fmt.Errorf("messaging: failed to create discovery request: %w", err)
	}

	response, err := httpClient.Do(request)
	if err != nil {
		return "", fmt.Errorf("messaging: discovery request for %s failed: %w", serverName, err)
	}
	defer response.Body.Close()

	if response.StatusCode == http.StatusNotFound {
		// No delegation published — the server name is the homeserver.
		return "https://" + serverName.String(), nil
	}
	if response.StatusCode != http.StatusOK {
		return "", fmt.Errorf("messaging: discovery for %s returned %d", serverName, response.StatusCode)
	}

	var wellKnown WellKnownResponse
	if err := netutil.DecodeResponse(response.Body, &wellKnown); err != nil {
		return "", fmt.Errorf("messaging: failed to parse well-known document for %s: %w", serverName, err)
	}

	baseURL := strings.TrimRight(wellKnown.Homeserver.BaseURL, "/")
	if baseURL == "" {
		return "", fmt.Errorf("messaging: well-known document for %s has no m.homeserver.base_url", serverName)
	}
	return baseURL, nil
}
