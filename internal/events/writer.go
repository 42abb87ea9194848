package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// Event types appended by the engine.
const (
	TypeReviewOpened    = "review.opened"
	TypeReviewCompleted = "review.completed"
	TypeStateChanged    = "review.state_changed"
	TypeQueryRaised     = "query.raised"
	TypeQueryResolved   = "query.resolved"
)

// Writer appends audit events inside the caller's transaction, so the log is
// exactly as durable as the state change it records. The caller supplies the
// timestamp; an event shares its clock with the row write it describes.
type Writer struct{}

type EventPayload map[string]any

func (w Writer) Append(ctx context.Context, tx *sql.Tx, ts, evtType, reviewID, entityKind, entityID, actorID string, payload EventPayload) error {
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,review_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		ts, evtType, nullable(reviewID), entityKind, nullable(entityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
