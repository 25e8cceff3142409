// Copyright 2026 The matrix-migrate Authors
// SPDX-License-Identifier: Apache-2.0

package migrate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/pajowu/matrix-migrate/lib/clock"
	"github.com/pajowu/matrix-migrate/lib/ref"
)

// DefaultWorkers bounds how many rooms are migrated in flight at
// once. High enough to absorb network latency, low enough not to
// trip homeserver rate limits on every run.
const DefaultWorkers = 4

// A RoomResult is one room's outcome in a Report.
type RoomResult struct {
	Status RoomStatus
	Detail string
}

// A Report maps every planned room to its terminal status. Rooms the
// run was cancelled before reaching stay pending.
type Report struct {
	Rooms map[ref.RoomID]RoomResult
}

// Applied returns the number of rooms that completed successfully.
func (r *Report) Applied() int {
	var n int
	for _, result := range r.Rooms {
		if result.Status == StatusApplied {
			n++
		}
	}
	return n
}

// An Executor applies a plan's migration operations against the
// destination session. Rooms run concurrently under a bounded
// semaphore; operations within a room run strictly in plan order,
// since a power-level grant to a room the account has not joined yet
// is rejected by the server.
type Executor struct {
	session     Session
	clk         clock.Clock
	logger      *slog.Logger
	workers     int64
	callTimeout time.Duration
}

// NewExecutor returns an executor over the destination session.
// workers <= 0 selects DefaultWorkers.
func NewExecutor(session Session, clk clock.Clock, logger *slog.Logger, workers int, callTimeout time.Duration) *Executor {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Executor{
		session:     session,
		clk:         clk,
		logger:      logger,
		workers:     int64(workers),
		callTimeout: callTimeout,
	}
}

// Execute applies every room of the plan and returns a report
// covering all of them. Per-room failures never abort the run: a
// permanent error marks that room failed and the rest continue.
// Cancellation lets in-flight protocol calls finish but starts no
// new operation; rooms never reached stay pending in the report.
// The error return is reserved for being unable to run at all.
func (e *Executor) Execute(ctx context.Context, plan *Plan) (*Report, error) {
	if plan == nil {
		return nil, ErrNoPlan
	}
	report := &Report{Rooms: make(map[ref.RoomID]RoomResult, len(plan.Rooms))}
	for _, roomID := range plan.Unavailable {
		report.Rooms[roomID] = RoomResult{
			Status: StatusSkipped,
			Detail: "room state unavailable at snapshot time",
		}
	}
	if len(plan.Rooms) == 0 {
		return report, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("migrate: execution not started: %w", err)
	}

	sem := semaphore.NewWeighted(e.workers)
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	publish := func(roomID ref.RoomID, result RoomResult) {
		mu.Lock()
		report.Rooms[roomID] = result
		mu.Unlock()
	}

	for _, roomPlan := range plan.Rooms {
		publish(roomPlan.RoomID, RoomResult{Status: StatusPending})

		if err := sem.Acquire(ctx, 1); err != nil {
			publish(roomPlan.RoomID, RoomResult{
				Status: StatusPending,
				Detail: "run cancelled before room was started",
			})
			continue
		}
		wg.Add(1)
		go func(roomPlan RoomPlan) {
			defer wg.Done()
			defer sem.Release(1)
			publish(roomPlan.RoomID, e.migrateRoom(ctx, roomPlan))
		}(roomPlan)
	}
	wg.Wait()
	return report, nil
}

// migrateRoom applies one room's migration operations in order and
// returns its terminal result.
func (e *Executor) migrateRoom(ctx context.Context, roomPlan RoomPlan) RoomResult {
	logger := e.logger.With("room_id", roomPlan.RoomID.String())
	for _, op := range roomPlan.Operations {
		if err := ctx.Err(); err != nil {
			return RoomResult{
				Status: StatusPending,
				Detail: "run cancelled before " + string(op.Kind),
			}
		}
		opLogger := logger.With("operation", string(op.Kind))
		err := callWithRetry(ctx, e.clk, opLogger, e.callTimeout, func(callCtx context.Context) error {
			return e.apply(callCtx, op)
		})
		if err != nil {
			opLogger.Warn("room migration failed", "error", err)
			return RoomResult{
				Status: StatusFailed,
				Detail: string(op.Kind) + ": " + err.Error(),
			}
		}
		opLogger.Debug("operation applied")
	}
	logger.Info("room migrated", "operations", len(roomPlan.Operations))
	return RoomResult{Status: StatusApplied}
}

func (e *Executor) apply(ctx context.Context, op Operation) error {
	switch op.Kind {
	case OpJoinRoom:
		_, err := e.session.JoinRoom(ctx, op.RoomID)
		return err
	case OpSetPowerLevel:
		return e.session.SetPowerLevel(ctx, op.RoomID, op.Member, op.Level)
	default:
		// Cleanup kinds are never in RoomPlan.Operations.
		return fmt.Errorf("migrate: unexpected operation %q", op.Kind)
	}
}
