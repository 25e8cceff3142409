// Copyright 2026 The matrix-migrate Authors
// SPDX-License-Identifier: Apache-2.0

package migrate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pajowu/matrix-migrate/lib/clock"
)

// DefaultCallTimeout bounds a single protocol call when Options does
// not override it.
const DefaultCallTimeout = 30 * time.Second

// Options configures a migration run.
type Options struct {
	// Rooms and RoomsExcluded are glob patterns (path.Match syntax)
	// matched against room IDs and display names. Empty Rooms means
	// every room; exclusion wins over inclusion.
	Rooms         []string
	RoomsExcluded []string

	// LeaveRooms enables cleanup: after a room migrates, restore
	// its direct-chat flag on the destination and leave it on the
	// source.
	LeaveRooms bool

	// CallTimeout bounds each protocol call. Zero selects
	// DefaultCallTimeout.
	CallTimeout time.Duration

	// Workers bounds concurrent room migrations. Zero selects
	// DefaultWorkers.
	Workers int

	// Clock and Logger default to the real clock and slog.Default.
	Clock  clock.Clock
	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.CallTimeout <= 0 {
		o.CallTimeout = DefaultCallTimeout
	}
	if o.Clock == nil {
		o.Clock = clock.Real()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// DryRun snapshots both accounts, builds the plan, and renders it
// without executing anything. The two sessions are only ever read
// from.
func DryRun(ctx context.Context, source, dest Session, options Options) (*RenderedPlan, error) {
	options = options.withDefaults()
	plan, err := buildPlan(ctx, source, dest, options)
	if err != nil {
		return nil, err
	}
	return RenderPlan(plan), nil
}

// Run snapshots both accounts, builds the plan, executes it against
// the destination, and, when Options.LeaveRooms is set, cleans up
// the source. The report covers every planned room; per-room
// failures are recorded there rather than returned as an error.
func Run(ctx context.Context, source, dest Session, options Options) (*Report, error) {
	options = options.withDefaults()
	plan, err := buildPlan(ctx, source, dest, options)
	if err != nil {
		return nil, err
	}

	executor := NewExecutor(dest, options.Clock, options.Logger, options.Workers, options.CallTimeout)
	report, err := executor.Execute(ctx, plan)
	if err != nil {
		return nil, err
	}

	if options.LeaveRooms {
		cleaner := NewCleaner(source, dest, options.Clock, options.Logger, options.CallTimeout)
		if failures := cleaner.Cleanup(ctx, plan, report); len(failures) > 0 {
			options.Logger.Warn("cleanup finished with failures", "failed", len(failures))
		}
	}
	return report, nil
}

// buildPlan snapshots both accounts concurrently and diffs them.
// Either snapshot failing fails the whole run: planning against a
// half-missing baseline would produce a plan that cannot be trusted.
func buildPlan(ctx context.Context, source, dest Session, options Options) (*Plan, error) {
	filter, err := NewRoomFilter(options.Rooms, options.RoomsExcluded)
	if err != nil {
		return nil, err
	}

	var sourceState, destState *AccountState
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		var err error
		sourceState, err = NewSnapshotter(source, options.Clock, options.Logger, options.CallTimeout).Snapshot(groupCtx)
		if err != nil {
			return fmt.Errorf("source account: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		var err error
		destState, err = NewSnapshotter(dest, options.Clock, options.Logger, options.CallTimeout).Snapshot(groupCtx)
		if err != nil {
			return fmt.Errorf("destination account: %w", err)
		}
		return nil
	})
	if err := group.Wait(); err != nil {
		return nil, err
	}

	return BuildPlan(sourceState, destState, filter, options.LeaveRooms), nil
}
