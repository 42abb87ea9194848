package domain

import (
	"errors"
	"fmt"
)

// ErrConcurrentModification signals that the review row changed between read
// and write. The caller retries the whole operation against fresh state; the
// engine never reuses stale inputs.
var ErrConcurrentModification = errors.New("concurrent modification")

// InvalidTransitionError is a state change the state machine forbids.
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid review state transition %s -> %s", e.From, e.To)
}

// QueryAlreadyResolvedError is a resolve call against a non-open query.
// The operation performs no mutation.
type QueryAlreadyResolvedError struct {
	QueryID string
}

func (e *QueryAlreadyResolvedError) Error() string {
	return fmt.Sprintf("query %s already resolved", e.QueryID)
}

// AlreadyCompletedError is any mutation attempted on a completed review.
type AlreadyCompletedError struct {
	ReviewID string
}

func (e *AlreadyCompletedError) Error() string {
	return fmt.Sprintf("review %s already completed", e.ReviewID)
}
