// Copyright 2026 The matrix-migrate Authors
// SPDX-License-Identifier: Apache-2.0

package migrate

import (
	"fmt"
	"strings"
	"text/tabwriter"
)

// A RenderedPlan is the human-readable form of a plan. Rendering is
// pure and deterministic: the same plan always produces the same
// text, and producing it performs no network calls. A successfully
// computed plan with nothing to do renders as such — that is a
// different outcome from a plan that could not be computed, which
// never yields a RenderedPlan at all.
type RenderedPlan struct {
	Text       string
	Operations int
}

// RenderPlan renders every operation the plan would execute, rooms
// in plan order, one operation per line.
func RenderPlan(plan *Plan) *RenderedPlan {
	rendered := &RenderedPlan{Operations: plan.Operations()}

	var b strings.Builder
	fmt.Fprintf(&b, "Migration plan: %s -> %s\n", plan.SourceUser, plan.DestUser)

	if rendered.Operations == 0 && len(plan.Unavailable) == 0 {
		b.WriteString("\nNothing to do: destination already matches source.\n")
		rendered.Text = b.String()
		return rendered
	}

	w := tabwriter.NewWriter(&b, 2, 0, 2, ' ', 0)
	for _, room := range plan.Rooms {
		fmt.Fprintf(w, "\n%s\t%s\n", room.RoomID, describeRoom(room))
		for _, op := range room.Operations {
			fmt.Fprintf(w, "  %s\n", describeOp(op))
		}
		for _, op := range room.Cleanup {
			fmt.Fprintf(w, "  %s\n", describeOp(op))
		}
	}
	w.Flush()

	if len(plan.Unavailable) > 0 {
		b.WriteString("\nSkipped, state unavailable:\n")
		for _, roomID := range plan.Unavailable {
			fmt.Fprintf(&b, "  %s\n", roomID)
		}
	}

	fmt.Fprintf(&b, "\n%d operation(s) across %d room(s).\n", rendered.Operations, len(plan.Rooms))
	rendered.Text = b.String()
	return rendered
}

func describeRoom(room RoomPlan) string {
	var notes []string
	if room.Name != "" {
		notes = append(notes, fmt.Sprintf("%q", room.Name))
	}
	if room.IsDirect {
		notes = append(notes, "direct chat with "+room.DirectPartner.String())
	}
	if len(notes) == 0 {
		return "(unnamed)"
	}
	return strings.Join(notes, ", ")
}

func describeOp(op Operation) string {
	switch op.Kind {
	case OpJoinRoom:
		return "join room"
	case OpSetPowerLevel:
		return fmt.Sprintf("set power level of %s to %d", op.Member, op.Level)
	case OpRestoreDirect:
		return "restore direct-chat flag for " + op.Partner.String()
	case OpLeaveRoom:
		return "leave room on source account"
	default:
		return string(op.Kind)
	}
}
