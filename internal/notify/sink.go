package notify

import (
	"context"
	"log/slog"
)

// StateChange describes a committed ownership transition on a review.
type StateChange struct {
	ReviewID    string
	Previous    string
	Next        string
	TriggeredBy string
	At          string
}

// QueryResolution describes a committed query resolution.
type QueryResolution struct {
	QueryID    string
	ReviewID   string
	ResolvedBy string
	At         string
}

// Sink receives state-change notifications after the underlying write has
// committed. Implementations must not block the caller for long; delivery is
// best-effort and never retried by the engine.
type Sink interface {
	OnStateChanged(ctx context.Context, change StateChange)
}

// AuditSink receives query-resolution records under the same contract as Sink.
type AuditSink interface {
	OnQueryResolved(ctx context.Context, res QueryResolution)
}

// LogSink writes notifications to a structured logger.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) OnStateChanged(ctx context.Context, change StateChange) {
	if s.Logger == nil {
		return
	}
	s.Logger.InfoContext(ctx, "review state changed",
		"review_id", change.ReviewID,
		"previous", change.Previous,
		"next", change.Next,
		"triggered_by", change.TriggeredBy)
}

func (s LogSink) OnQueryResolved(ctx context.Context, res QueryResolution) {
	if s.Logger == nil {
		return
	}
	s.Logger.InfoContext(ctx, "query resolved",
		"query_id", res.QueryID,
		"review_id", res.ReviewID,
		"resolved_by", res.ResolvedBy)
}

// Fanout delivers each notification to every sink in order.
type Fanout []Sink

func (f Fanout) OnStateChanged(ctx context.Context, change StateChange) {
	for _, s := range f {
		s.OnStateChanged(ctx, change)
	}
}
