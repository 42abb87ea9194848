package domain

import (
	"errors"
	"testing"
)

func TestStateEncodingRoundTrip(t *testing.T) {
	cases := []struct {
		state State
		raw   string
	}{
		{OriginatorState(), "with_originator"},
		{PendingState("toxicology"), "pending:toxicology"},
		{CompletedState(), "completed"},
	}
	for _, tc := range cases {
		if got := tc.state.String(); got != tc.raw {
			t.Fatalf("encode %v: got %q want %q", tc.state, got, tc.raw)
		}
		parsed, err := ParseState(tc.raw)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.raw, err)
		}
		if !parsed.Equal(tc.state) {
			t.Fatalf("parse %q: got %v want %v", tc.raw, parsed, tc.state)
		}
	}
}

func TestParseStateRejectsUnknown(t *testing.T) {
	for _, raw := range []string{"", "done", "pending", "pending:", "PENDING:toxicology", "with_originator "} {
		if _, err := ParseState(raw); err == nil {
			t.Fatalf("expected parse error for %q", raw)
		}
	}
}

func TestTransitionTable(t *testing.T) {
	orig := OriginatorState()
	pendA := PendingState("toxicology")
	pendB := PendingState("regulatory")
	done := CompletedState()

	cases := []struct {
		from, to State
		legal    bool
	}{
		{orig, pendA, true},
		{orig, done, true},
		{pendA, orig, true},
		{pendA, pendB, true},
		{pendA, pendA, true}, // same-team re-assert is a legal no-op
		{pendA, done, false},
		{done, orig, false},
		{done, pendA, false},
		{done, done, false},
		{orig, orig, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.legal {
			t.Fatalf("%s -> %s: got %v want %v", tc.from, tc.to, got, tc.legal)
		}
	}
}

func TestEnsureTransitionCarriesStates(t *testing.T) {
	err := EnsureTransition(CompletedState(), PendingState("ecology"))
	if err == nil {
		t.Fatal("expected error")
	}
	var it *InvalidTransitionError
	if !errors.As(err, &it) {
		t.Fatalf("expected InvalidTransitionError, got %T", err)
	}
	if !it.From.IsCompleted() || it.To.Team != "ecology" {
		t.Fatalf("error lost states: %+v", it)
	}
}

func TestNextOwnerEmptySet(t *testing.T) {
	if got := NextOwner(nil); !got.IsOriginator() {
		t.Fatalf("no open queries must route to originator, got %v", got)
	}
}

func TestNextOwnerEarliestCreatedAtWins(t *testing.T) {
	open := []Query{
		{Seq: 3, AssignedTo: "regulatory", CreatedAt: "2026-03-01T10:00:00Z"},
		{Seq: 1, AssignedTo: "toxicology", CreatedAt: "2026-03-01T09:00:00Z"},
		{Seq: 2, AssignedTo: "ecology", CreatedAt: "2026-03-01T11:00:00Z"},
	}
	got := NextOwner(open)
	if got.Team != "toxicology" {
		t.Fatalf("got %v, want pending:toxicology", got)
	}
}

func TestNextOwnerTieBrokenBySeq(t *testing.T) {
	// Identical timestamps: the lower seq was created first and wins,
	// regardless of slice order.
	ts := "2026-03-01T09:00:00Z"
	open := []Query{
		{Seq: 8, AssignedTo: "regulatory", CreatedAt: ts},
		{Seq: 5, AssignedTo: "toxicology", CreatedAt: ts},
		{Seq: 9, AssignedTo: "ecology", CreatedAt: ts},
	}
	for i := 0; i < len(open); i++ {
		rotated := append(append([]Query{}, open[i:]...), open[:i]...)
		if got := NextOwner(rotated); got.Team != "toxicology" {
			t.Fatalf("rotation %d: got %v, want pending:toxicology", i, got)
		}
	}
}

func TestOwnerString(t *testing.T) {
	if got := OriginatorState().Owner(); got != "originator" {
		t.Fatalf("originator owner: %q", got)
	}
	if got := PendingState("analytics").Owner(); got != "analytics" {
		t.Fatalf("pending owner: %q", got)
	}
	if got := CompletedState().Owner(); got != "originator" {
		t.Fatalf("completed owner: %q", got)
	}
}
