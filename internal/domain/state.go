package domain

import (
	"fmt"
	"strings"
)

// Phase is the discriminant of a review's routing state.
type Phase string

const (
	PhaseOriginator Phase = "with_originator"
	PhasePending    Phase = "pending"
	PhaseCompleted  Phase = "completed"
)

// State is the routing state of a review: with the originator, pending on a
// responding team, or completed. Team is set only when Phase is PhasePending.
type State struct {
	Phase Phase
	Team  TeamID
}

func OriginatorState() State        { return State{Phase: PhaseOriginator} }
func PendingState(t TeamID) State   { return State{Phase: PhasePending, Team: t} }
func CompletedState() State         { return State{Phase: PhaseCompleted} }
func (s State) IsOriginator() bool  { return s.Phase == PhaseOriginator }
func (s State) IsCompleted() bool   { return s.Phase == PhaseCompleted }
func (s State) IsPending() bool     { return s.Phase == PhasePending }
func (s State) Equal(o State) bool  { return s.Phase == o.Phase && s.Team == o.Team }

// Owner returns the party responsible for acting next: a team id, or
// "originator" for the originator-owned and completed phases.
func (s State) Owner() string {
	if s.Phase == PhasePending {
		return string(s.Team)
	}
	return "originator"
}

// String encodes the state for storage and transport: "with_originator",
// "pending:<team>", "completed".
func (s State) String() string {
	if s.Phase == PhasePending {
		return string(PhasePending) + ":" + string(s.Team)
	}
	return string(s.Phase)
}

// ParseState is the strict inverse of String. Unknown encodings are errors so
// that an undecodable row never masquerades as a legal state.
func ParseState(raw string) (State, error) {
	switch {
	case raw == string(PhaseOriginator):
		return OriginatorState(), nil
	case raw == string(PhaseCompleted):
		return CompletedState(), nil
	case strings.HasPrefix(raw, string(PhasePending)+":"):
		team := strings.TrimPrefix(raw, string(PhasePending)+":")
		if team == "" {
			return State{}, fmt.Errorf("state %q has empty team", raw)
		}
		return PendingState(TeamID(team)), nil
	}
	return State{}, fmt.Errorf("unknown review state %q", raw)
}

// CanTransition reports whether moving from one state to another is
// structurally legal, independent of business context.
func CanTransition(from, to State) bool {
	switch from.Phase {
	case PhaseOriginator:
		return to.Phase == PhasePending || to.Phase == PhaseCompleted
	case PhasePending:
		// Includes the same-team no-op re-assert.
		return to.Phase == PhasePending || to.Phase == PhaseOriginator
	case PhaseCompleted:
		return false
	}
	return false
}

// EnsureTransition returns an InvalidTransitionError when the move is not
// legal. Illegal requests are never absorbed or corrected.
func EnsureTransition(from, to State) error {
	if !CanTransition(from, to) {
		return &InvalidTransitionError{From: from, To: to}
	}
	return nil
}

// NextOwner computes the state a review must be in given its open queries:
// originator-owned when none remain, otherwise pending on the team behind the
// earliest-raised open query. Ties on created-at fall back to Seq, which
// increases strictly with creation order, so the result is deterministic.
func NextOwner(open []Query) State {
	if len(open) == 0 {
		return OriginatorState()
	}
	earliest := open[0]
	for _, q := range open[1:] {
		if q.CreatedAt < earliest.CreatedAt ||
			(q.CreatedAt == earliest.CreatedAt && q.Seq < earliest.Seq) {
			earliest = q
		}
	}
	return PendingState(earliest.AssignedTo)
}
