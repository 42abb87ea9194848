package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"queryline/internal/config"
	"queryline/internal/db"
	"queryline/internal/engine"
	"queryline/internal/migrate"
)

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{AllowLegacyActorHeader: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

var actorHeaders = map[string]string{"X-Actor-Id": "tester"}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func createReview(t *testing.T, srv *testServer, title string) ReviewResponse {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/reviews", map[string]any{
		"title": title,
	}, actorHeaders)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create review status %d: %s", res.StatusCode, string(data))
	}
	var rev ReviewResponse
	if err := json.Unmarshal(data, &rev); err != nil {
		t.Fatalf("unmarshal review: %v", err)
	}
	return rev
}

func raiseQuery(t *testing.T, srv *testServer, reviewID, team string) QueryResponse {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/reviews/"+reviewID+"/queries", map[string]any{
		"raised_by":   team,
		"assigned_to": team,
		"text":        "please clarify section 3",
	}, actorHeaders)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("raise query status %d: %s", res.StatusCode, string(data))
	}
	var q QueryResponse
	if err := json.Unmarshal(data, &q); err != nil {
		t.Fatalf("unmarshal query: %v", err)
	}
	return q
}

func TestReviewLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	rev := createReview(t, srv, "Coating formulation questionnaire")
	if rev.State != "with_originator" || rev.Owner != "originator" {
		t.Fatalf("new review: %+v", rev)
	}

	q1 := raiseQuery(t, srv, rev.ID, "toxicology")
	q2 := raiseQuery(t, srv, rev.ID, "regulatory")

	ownerRes, ownerData := doJSON(t, client, http.MethodGet, srv.URL+"/v0/reviews/"+rev.ID+"/owner", nil, actorHeaders)
	if ownerRes.StatusCode != http.StatusOK {
		t.Fatalf("owner status %d: %s", ownerRes.StatusCode, string(ownerData))
	}
	var owner OwnerResponse
	_ = json.Unmarshal(ownerData, &owner)
	if owner.Owner != "toxicology" {
		t.Fatalf("owner %+v", owner)
	}

	// Completing while queries are open must be rejected as a conflict.
	compRes, compData := doJSON(t, client, http.MethodPost, srv.URL+"/v0/reviews/"+rev.ID+"/complete", nil, actorHeaders)
	if compRes.StatusCode != http.StatusConflict {
		t.Fatalf("complete with open queries status %d: %s", compRes.StatusCode, string(compData))
	}

	for _, q := range []QueryResponse{q1, q2} {
		res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/queries/"+q.ID+"/resolve", map[string]any{
			"resolved_by": q.AssignedTo,
			"resolution":  "addressed",
		}, actorHeaders)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("resolve status %d: %s", res.StatusCode, string(data))
		}
	}

	compRes, compData = doJSON(t, client, http.MethodPost, srv.URL+"/v0/reviews/"+rev.ID+"/complete", nil, actorHeaders)
	if compRes.StatusCode != http.StatusOK {
		t.Fatalf("complete status %d: %s", compRes.StatusCode, string(compData))
	}
	var completed ReviewResponse
	_ = json.Unmarshal(compData, &completed)
	if completed.State != "completed" {
		t.Fatalf("completed review: %+v", completed)
	}
}

func TestResolveTwiceConflictEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	rev := createReview(t, srv, "Solvent blend questionnaire")
	q := raiseQuery(t, srv, rev.ID, "ecology")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/queries/"+q.ID+"/resolve", map[string]any{
		"resolved_by": "ecology",
	}, actorHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("first resolve status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/queries/"+q.ID+"/resolve", map[string]any{
		"resolved_by": "ecology",
	}, actorHeaders)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("second resolve status %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if envelope.Error.Code != "query_already_resolved" {
		t.Fatalf("error code %q: %s", envelope.Error.Code, string(data))
	}
}

func TestRaiseQueryValidation(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	rev := createReview(t, srv, "Pigment questionnaire")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/reviews/"+rev.ID+"/queries", map[string]any{
		"assigned_to": "astrology",
		"text":        "?",
	}, actorHeaders)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown team status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/reviews/"+rev.ID+"/queries", map[string]any{
		"assigned_to": "toxicology",
	}, actorHeaders)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing text status %d: %s", res.StatusCode, string(data))
	}
}

func TestTeamMembershipGate(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	// Register the actor on regulatory only.
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/teams/regulatory/members", map[string]any{
		"actor_id": "tester",
	}, actorHeaders)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("add member status %d: %s", res.StatusCode, string(data))
	}

	rev := createReview(t, srv, "Adhesive questionnaire")

	// Acting for a team the actor does not belong to is forbidden.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/reviews/"+rev.ID+"/queries", map[string]any{
		"raised_by":   "toxicology",
		"assigned_to": "toxicology",
		"text":        "?",
	}, actorHeaders)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("foreign team status %d: %s", res.StatusCode, string(data))
	}

	// Acting for their own team works.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/reviews/"+rev.ID+"/queries", map[string]any{
		"raised_by":   "regulatory",
		"assigned_to": "toxicology",
		"text":        "?",
	}, actorHeaders)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("own team status %d: %s", res.StatusCode, string(data))
	}
}

func TestUnauthenticatedRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/reviews", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.StatusCode)
	}
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health must not require auth, got %d", res.StatusCode)
	}
}

func TestWebhookDispatcherStopsWhenContextEnds(t *testing.T) {
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())

	disabled := false
	d := &webhookDispatcher{
		engine:   e,
		webhooks: []config.WebhookConfig{{URL: "http://127.0.0.1:0/hook", Enabled: &disabled}},
		client:   &http.Client{Timeout: time.Second},
		cursors:  make(map[int]int64),
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher still polling after context ended")
	}
}

func TestEventsEndpointRecordsTransitions(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	rev := createReview(t, srv, "Resin questionnaire")
	q := raiseQuery(t, srv, rev.ID, "analytics")
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/queries/"+q.ID+"/resolve", map[string]any{
		"resolved_by": "analytics",
	}, actorHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("resolve status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?review_id="+rev.ID, nil, actorHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, string(data))
	}
	var events []EventResponse
	if err := json.Unmarshal(data, &events); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	seen := map[string]bool{}
	for _, evt := range events {
		seen[evt.Type] = true
	}
	for _, want := range []string{"review.opened", "query.raised", "query.resolved", "review.state_changed"} {
		if !seen[want] {
			t.Fatalf("missing event type %s in %v", want, seen)
		}
	}
}
