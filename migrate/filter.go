// Copyright 2026 The matrix-migrate Authors
// SPDX-License-Identifier: Apache-2.0

package migrate

import (
	"fmt"
	"path"

	"github.com/pajowu/matrix-migrate/lib/ref"
)

// A RoomFilter restricts which rooms a migration touches. Patterns
// are matched with path.Match syntax against both the room ID and
// the room's display name; a room passes when it matches the include
// set (empty means everything) and matches nothing in the exclude
// set. Exclusion always wins over inclusion.
type RoomFilter struct {
	include []string
	exclude []string
}

// NewRoomFilter builds a filter from include and exclude patterns,
// rejecting malformed glob syntax up front so a bad pattern surfaces
// before any snapshot work happens.
func NewRoomFilter(include, exclude []string) (*RoomFilter, error) {
	for _, pattern := range include {
		if _, err := path.Match(pattern, ""); err != nil {
			return nil, fmt.Errorf("migrate: invalid room pattern %q: %w", pattern, err)
		}
	}
	for _, pattern := range exclude {
		if _, err := path.Match(pattern, ""); err != nil {
			return nil, fmt.Errorf("migrate: invalid room exclusion pattern %q: %w", pattern, err)
		}
	}
	return &RoomFilter{include: include, exclude: exclude}, nil
}

// Includes reports whether a room identified by roomID, with display
// name name (possibly empty), should be migrated.
func (f *RoomFilter) Includes(roomID ref.RoomID, name string) bool {
	if f == nil {
		return true
	}
	if matchAny(f.exclude, roomID, name) {
		return false
	}
	if len(f.include) == 0 {
		return true
	}
	return matchAny(f.include, roomID, name)
}

func matchAny(patterns []string, roomID ref.RoomID, name string) bool {
	for _, pattern := range patterns {
		// Patterns were validated at construction, so Match
		// cannot fail here.
		if ok, _ := path.Match(pattern, roomID.String()); ok {
			return true
		}
		if name != "" {
			if ok, _ := path.Match(pattern, name); ok {
				return true
			}
		}
	}
	return false
}
