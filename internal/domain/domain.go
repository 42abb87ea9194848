package domain

// TeamID identifies a responding team. The originator side of a review is not
// a team and never appears as a TeamID.
type TeamID string

// QueryStatus values.
const (
	QueryOpen     = "open"
	QueryResolved = "resolved"
)

// Review is a chemical-safety questionnaire circulating between teams.
// State is the encoded routing state (see State); Version is bumped on every
// state write and guards concurrent mutation.
type Review struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Originator  string  `json:"originator"`
	State       string  `json:"state"`
	Version     int64   `json:"version"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
	CompletedAt *string `json:"completed_at,omitempty" format:"date-time"`
}

// Query is a blocking question one team raises against a review, addressed to
// another team. Seq increases strictly with creation order and breaks
// created-at ties during routing.
type Query struct {
	ID         string  `json:"id"`
	Seq        int64   `json:"seq"`
	ReviewID   string  `json:"review_id"`
	RaisedBy   TeamID  `json:"raised_by"`
	AssignedTo TeamID  `json:"assigned_to"`
	Status     string  `json:"status" enum:"open,resolved"`
	Text       string  `json:"text"`
	Resolution string  `json:"resolution,omitempty"`
	ResolvedBy string  `json:"resolved_by,omitempty"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
	ResolvedAt *string `json:"resolved_at,omitempty" format:"date-time"`
}

// Event is one audit-log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ReviewID   string `json:"review_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// APIKey maps a hashed key to an actor.
type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// TeamMember records which responding team an actor acts for.
type TeamMember struct {
	ActorID   string `json:"actor_id"`
	Team      TeamID `json:"team"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
