// Copyright 2026 The matrix-migrate Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"fmt"
	"strings"
)

// validateServer checks that a Matrix server name is minimally valid:
// non-empty, no control characters or whitespace, no Matrix sigils.
func validateServer(server string) error {
	if server == "" {
		return fmt.Errorf("server name is empty")
	}
	for i := 0; i < len(server); i++ {
		c := server[i]
		if c <= ' ' || c == '@' || c == '#' || c == '!' {
			return fmt.Errorf("server name %q: invalid character at position %d", server, i)
		}
	}
	return nil
}

// parseMatrixID extracts localpart and server from @localpart:server.
func parseMatrixID(matrixID string) (localpart, server string, err error) {
	if len(matrixID) < 2 || matrixID[0] != '@' {
		return "", "", fmt.Errorf("invalid Matrix user ID %q: must start with @", matrixID)
	}
	colonIndex := strings.Index(matrixID[1:], ":")
	if colonIndex < 0 {
		return "", "", fmt.Errorf("invalid Matrix user ID %q: missing :server", matrixID)
	}
	colonIndex++ // adjust for [1:] offset
	if colonIndex < 2 {
		return "", "", fmt.Errorf("invalid Matrix user ID %q: empty localpart", matrixID)
	}
	localpart = matrixID[1:colonIndex]
	server = matrixID[colonIndex+1:]
	if server == "" {
		return "", "", fmt.Errorf("invalid Matrix user ID %q: empty server", matrixID)
	}
	return localpart, server, nil
}
