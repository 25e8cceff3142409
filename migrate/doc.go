// Copyright 2026 The matrix-migrate Authors
// SPDX-License-Identifier: Apache-2.0

// Package migrate implements the account-to-account migration engine.
//
// The engine reconciles a destination account's room membership and
// power levels to match a source account. It works in three phases:
//
//  1. Snapshot: a full-state /sync against each account is
//     materialized into an immutable [AccountState] — rooms, own
//     membership, display names, power-level tables, direct-chat
//     flags. Rooms whose state cannot be resolved within the retry
//     budget are reported as unavailable, not silently dropped.
//  2. Plan: [BuildPlan] diffs exactly one pair of snapshots into a
//     deterministic, room-ordered [Plan]. Planning is pure — no
//     network, no clock. The same snapshot pair always produces a
//     byte-identical plan, which is what makes dry-run output
//     trustworthy: what renders is what would execute.
//  3. Execute: [Executor] applies the plan against the destination
//     session, rooms in parallel under a bounded semaphore,
//     operations within a room strictly in order. Transient protocol
//     errors retry with exponential backoff; permanent errors fail
//     that room only. The run always ends with a [Report] covering
//     every room.
//
// Cleanup (leaving source rooms, restoring m.direct flags on the
// destination) is planned alongside migration but executed by
// [Cleaner] only for rooms the executor marked applied.
//
// [DryRun] and [Run] are the two entry points; everything else is
// exported for callers that need finer control.
package migrate
