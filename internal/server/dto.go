package server

import (
	"encoding/json"

	"queryline/internal/domain"
)

type CreateReviewRequest struct {
	ID         string `json:"id,omitempty"`
	Title      string `json:"title"`
	Originator string `json:"originator,omitempty"`
}

type ReviewResponse struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Originator  string         `json:"originator"`
	State       string         `json:"state"`
	Owner       string         `json:"owner"`
	Version     int64          `json:"version"`
	CreatedAt   string         `json:"created_at"`
	UpdatedAt   string         `json:"updated_at"`
	CompletedAt *string        `json:"completed_at,omitempty"`
	QueryCounts map[string]int `json:"query_counts,omitempty"`
}

func reviewResponse(rev domain.Review) ReviewResponse {
	owner := ""
	if st, err := domain.ParseState(rev.State); err == nil {
		owner = st.Owner()
	}
	return ReviewResponse{
		ID:          rev.ID,
		Title:       rev.Title,
		Originator:  rev.Originator,
		State:       rev.State,
		Owner:       owner,
		Version:     rev.Version,
		CreatedAt:   rev.CreatedAt,
		UpdatedAt:   rev.UpdatedAt,
		CompletedAt: rev.CompletedAt,
	}
}

func mapReviews(items []domain.Review) []ReviewResponse {
	res := make([]ReviewResponse, 0, len(items))
	for _, rev := range items {
		res = append(res, reviewResponse(rev))
	}
	return res
}

type RaiseQueryRequest struct {
	RaisedBy   string `json:"raised_by,omitempty"`
	AssignedTo string `json:"assigned_to"`
	Text       string `json:"text"`
}

type ResolveQueryRequest struct {
	ResolvedBy string `json:"resolved_by,omitempty"`
	Resolution string `json:"resolution,omitempty"`
}

type QueryResponse struct {
	ID         string  `json:"id"`
	Seq        int64   `json:"seq"`
	ReviewID   string  `json:"review_id"`
	RaisedBy   string  `json:"raised_by,omitempty"`
	AssignedTo string  `json:"assigned_to"`
	Status     string  `json:"status"`
	Text       string  `json:"text"`
	Resolution string  `json:"resolution,omitempty"`
	ResolvedBy string  `json:"resolved_by,omitempty"`
	CreatedAt  string  `json:"created_at"`
	ResolvedAt *string `json:"resolved_at,omitempty"`
}

func queryResponse(q domain.Query) QueryResponse {
	return QueryResponse{
		ID:         q.ID,
		Seq:        q.Seq,
		ReviewID:   q.ReviewID,
		RaisedBy:   string(q.RaisedBy),
		AssignedTo: string(q.AssignedTo),
		Status:     q.Status,
		Text:       q.Text,
		Resolution: q.Resolution,
		ResolvedBy: q.ResolvedBy,
		CreatedAt:  q.CreatedAt,
		ResolvedAt: q.ResolvedAt,
	}
}

func mapQueries(items []domain.Query) []QueryResponse {
	res := make([]QueryResponse, 0, len(items))
	for _, q := range items {
		res = append(res, queryResponse(q))
	}
	return res
}

type OwnerResponse struct {
	ReviewID string `json:"review_id"`
	Owner    string `json:"owner"`
	State    string `json:"state"`
}

type EventResponse struct {
	ID         int64           `json:"id"`
	TS         string          `json:"ts"`
	Type       string          `json:"type"`
	ReviewID   string          `json:"review_id,omitempty"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	Payload    json.RawMessage `json:"payload"`
}

func eventResponse(e domain.Event) EventResponse {
	payload := json.RawMessage([]byte("{}"))
	if e.Payload != "" && json.Valid([]byte(e.Payload)) {
		payload = json.RawMessage([]byte(e.Payload))
	}
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		ReviewID:   e.ReviewID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    payload,
	}
}

func mapEvents(items []domain.Event) []EventResponse {
	res := make([]EventResponse, 0, len(items))
	for _, e := range items {
		res = append(res, eventResponse(e))
	}
	return res
}

type AddTeamMemberRequest struct {
	ActorID string `json:"actor_id"`
}
