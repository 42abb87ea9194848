package querylinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Queryline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Review represents the API review model.
type Review struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Originator  string `json:"originator"`
	State       string `json:"state"`
	Owner       string `json:"owner"`
	Version     int64  `json:"version"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
	CompletedAt string `json:"completed_at,omitempty"`
}

// Query represents a blocking query on a review.
type Query struct {
	ID         string `json:"id"`
	Seq        int64  `json:"seq"`
	ReviewID   string `json:"review_id"`
	RaisedBy   string `json:"raised_by,omitempty"`
	AssignedTo string `json:"assigned_to"`
	Status     string `json:"status"`
	Text       string `json:"text"`
	Resolution string `json:"resolution,omitempty"`
	ResolvedBy string `json:"resolved_by,omitempty"`
	CreatedAt  string `json:"created_at"`
	ResolvedAt string `json:"resolved_at,omitempty"`
}

// Owner says who must act next on a review.
type Owner struct {
	ReviewID string `json:"review_id"`
	Owner    string `json:"owner"`
	State    string `json:"state"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	ReviewID   string         `json:"review_id"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// OpenReview opens a review.
func (c *Client) OpenReview(ctx context.Context, title, originator string) (Review, error) {
	body := map[string]any{
		"title":      title,
		"originator": originator,
	}
	var resp Review
	err := c.do(ctx, http.MethodPost, "v0/reviews", body, &resp)
	return resp, err
}

// GetReview fetches a review by id.
func (c *Client) GetReview(ctx context.Context, id string) (Review, error) {
	var resp Review
	err := c.do(ctx, http.MethodGet, "v0/reviews/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// CurrentOwner returns who must act next on a review.
func (c *Client) CurrentOwner(ctx context.Context, reviewID string) (Owner, error) {
	var resp Owner
	err := c.do(ctx, http.MethodGet, "v0/reviews/"+url.PathEscape(reviewID)+"/owner", nil, &resp)
	return resp, err
}

// RaiseQuery raises a blocking query against a review.
func (c *Client) RaiseQuery(ctx context.Context, reviewID, raisedBy, assignedTo, text string) (Query, error) {
	body := map[string]any{
		"raised_by":   raisedBy,
		"assigned_to": assignedTo,
		"text":        text,
	}
	var resp Query
	err := c.do(ctx, http.MethodPost, "v0/reviews/"+url.PathEscape(reviewID)+"/queries", body, &resp)
	return resp, err
}

// ResolveQuery resolves a query and returns the review's new state.
func (c *Client) ResolveQuery(ctx context.Context, queryID, resolvedBy, resolution string) (Review, error) {
	body := map[string]any{
		"resolved_by": resolvedBy,
		"resolution":  resolution,
	}
	var resp Review
	err := c.do(ctx, http.MethodPost, "v0/queries/"+url.PathEscape(queryID)+"/resolve", body, &resp)
	return resp, err
}

// CompleteReview completes an originator-owned review.
func (c *Client) CompleteReview(ctx context.Context, reviewID string) (Review, error) {
	var resp Review
	err := c.do(ctx, http.MethodPost, "v0/reviews/"+url.PathEscape(reviewID)+"/complete", map[string]any{}, &resp)
	return resp, err
}

// ListOpenQueries returns a review's open queries in routing order.
func (c *Client) ListOpenQueries(ctx context.Context, reviewID string) ([]Query, error) {
	var resp []Query
	endpoint := "v0/reviews/" + url.PathEscape(reviewID) + "/queries?status=open"
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "v0/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
