// Copyright 2026 The matrix-migrate Authors
// SPDX-License-Identifier: Apache-2.0

package migrate

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/pajowu/matrix-migrate/lib/clock"
)

// A Cleaner applies a plan's cleanup operations: restoring
// direct-chat flags on the destination, then leaving rooms on the
// source. It runs only against rooms the executor marked applied —
// leaving a room whose migration failed would strand the user.
type Cleaner struct {
	source      Session
	dest        Session
	clk         clock.Clock
	logger      *slog.Logger
	callTimeout time.Duration
}

// NewCleaner returns a cleaner over the source and destination
// sessions.
func NewCleaner(source, dest Session, clk clock.Clock, logger *slog.Logger, callTimeout time.Duration) *Cleaner {
	return &Cleaner{
		source:      source,
		dest:        dest,
		clk:         clk,
		logger:      logger,
		callTimeout: callTimeout,
	}
}

// Cleanup runs the plan's cleanup operations for every applied room
// and returns the failures. Cleanup errors never abort the run and
// never undo migration work; each failed room's report detail is
// annotated instead. Within a room the direct flag is restored
// before the leave is attempted: leaving first could discard the
// only readable copy of the source's is_direct state mid-operation.
func (c *Cleaner) Cleanup(ctx context.Context, plan *Plan, report *Report) []*CleanupError {
	var failures []*CleanupError
	for _, roomPlan := range plan.Rooms {
		if len(roomPlan.Cleanup) == 0 {
			continue
		}
		result, ok := report.Rooms[roomPlan.RoomID]
		if !ok || result.Status != StatusApplied {
			continue
		}
		if err := c.cleanRoom(ctx, roomPlan); err != nil {
			c.logger.Warn("cleanup failed",
				"room_id", roomPlan.RoomID.String(),
				"operation", string(err.Op), "error", err.Err)
			failures = append(failures, err)
			result.Detail = "cleanup incomplete: " + err.Error()
			report.Rooms[roomPlan.RoomID] = result
		}
	}
	return failures
}

func (c *Cleaner) cleanRoom(ctx context.Context, roomPlan RoomPlan) *CleanupError {
	logger := c.logger.With("room_id", roomPlan.RoomID.String())
	for _, op := range roomPlan.Cleanup {
		if op.Kind == OpLeaveRoom && roomPlan.SourceLevel > roomPlan.DestLevel {
			// Leaving now would abandon authority the destination
			// account does not hold. Keep the source membership and
			// let the user sort the levels out first.
			logger.Warn("not leaving room, source account outranks destination",
				"source_level", roomPlan.SourceLevel,
				"dest_level", roomPlan.DestLevel)
			continue
		}
		err := callWithRetry(ctx, c.clk, logger.With("operation", string(op.Kind)), c.callTimeout, func(callCtx context.Context) error {
			return c.applyCleanup(callCtx, op)
		})
		if err != nil {
			// A failed direct-flag restore stops the room here, so
			// the leave below it is never attempted.
			return &CleanupError{RoomID: roomPlan.RoomID.String(), Op: op.Kind, Err: err}
		}
		logger.Debug("cleanup operation applied", "operation", string(op.Kind))
	}
	return nil
}

func (c *Cleaner) applyCleanup(ctx context.Context, op Operation) error {
	switch op.Kind {
	case OpRestoreDirect:
		return c.dest.SetDirectFlag(ctx, op.RoomID, op.Partner, true)
	case OpLeaveRoom:
		return c.source.LeaveRoom(ctx, op.RoomID)
	default:
		return errors.New("unexpected cleanup operation kind")
	}
}
