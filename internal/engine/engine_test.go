package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"queryline/internal/config"
	"queryline/internal/db"
	"queryline/internal/domain"
	"queryline/internal/engine"
	"queryline/internal/migrate"
	"queryline/internal/notify"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	Sink   *captureSink

	mu  sync.Mutex
	now time.Time
}

// Advance moves the test clock forward so queries get distinct timestamps.
func (env *testEnv) Advance(d time.Duration) {
	env.mu.Lock()
	env.now = env.now.Add(d)
	env.mu.Unlock()
}

type captureSink struct {
	mu      sync.Mutex
	Changes []notify.StateChange
}

func (s *captureSink) OnStateChanged(_ context.Context, change notify.StateChange) {
	s.mu.Lock()
	s.Changes = append(s.Changes, change)
	s.mu.Unlock()
}

func (s *captureSink) Snapshot() []notify.StateChange {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]notify.StateChange{}, s.Changes...)
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	env := &testEnv{
		Ctx:  context.Background(),
		Sink: &captureSink{},
		now:  time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time {
		env.mu.Lock()
		defer env.mu.Unlock()
		return env.now
	}
	eng.Notify = env.Sink
	env.Engine = eng
	return env
}

func openReview(t *testing.T, env *testEnv) domain.Review {
	t.Helper()
	rev, err := env.Engine.OpenReview(env.Ctx, engine.OpenReviewOptions{
		Title:   "Solvent questionnaire",
		ActorID: "originator-1",
	})
	if err != nil {
		t.Fatalf("open review: %v", err)
	}
	return rev
}

// assertInvariant checks that the persisted state is exactly what the open
// query set dictates.
func assertInvariant(t *testing.T, env *testEnv, reviewID string) {
	t.Helper()
	open, err := env.Engine.ListOpenQueries(env.Ctx, reviewID)
	if err != nil {
		t.Fatalf("list open queries: %v", err)
	}
	st, err := env.Engine.CurrentOwner(env.Ctx, reviewID)
	if err != nil {
		t.Fatalf("current owner: %v", err)
	}
	if st.IsCompleted() {
		if len(open) != 0 {
			t.Fatalf("completed review with %d open queries", len(open))
		}
		return
	}
	want := domain.NextOwner(open)
	if !st.Equal(want) {
		t.Fatalf("state %v inconsistent with open queries (want %v)", st, want)
	}
}

func raise(t *testing.T, env *testEnv, reviewID string, team domain.TeamID) domain.Query {
	t.Helper()
	q, err := env.Engine.RaiseQuery(env.Ctx, engine.RaiseQueryOptions{
		ReviewID:   reviewID,
		RaisedBy:   team,
		AssignedTo: team,
		Text:       "please clarify",
		ActorID:    "member-of-" + string(team),
	})
	if err != nil {
		t.Fatalf("raise query for %s: %v", team, err)
	}
	assertInvariant(t, env, reviewID)
	return q
}

func resolve(t *testing.T, env *testEnv, reviewID, queryID string, team domain.TeamID) domain.Review {
	t.Helper()
	rev, err := env.Engine.ResolveQuery(env.Ctx, engine.ResolveQueryOptions{
		QueryID:    queryID,
		ResolvedBy: string(team),
		Resolution: "answered",
		ActorID:    "member-of-" + string(team),
	})
	if err != nil {
		t.Fatalf("resolve query %s: %v", queryID, err)
	}
	assertInvariant(t, env, reviewID)
	return rev
}

func TestChronologicalRouting(t *testing.T) {
	env := newTestEnv(t)
	rev := openReview(t, env)
	if rev.State != "with_originator" {
		t.Fatalf("new review state %q", rev.State)
	}

	// 09:00 toxicology raises the first query: ownership moves to them.
	q1 := raise(t, env, rev.ID, "toxicology")
	st, _ := env.Engine.CurrentOwner(env.Ctx, rev.ID)
	if st.Team != "toxicology" {
		t.Fatalf("after first query owner %v", st)
	}

	// Later queries from other teams do not steal ownership.
	env.Advance(time.Hour)
	q2 := raise(t, env, rev.ID, "regulatory")
	env.Advance(time.Hour)
	q3 := raise(t, env, rev.ID, "ecology")
	st, _ = env.Engine.CurrentOwner(env.Ctx, rev.ID)
	if st.Team != "toxicology" {
		t.Fatalf("owner moved despite older open query: %v", st)
	}

	// Resolving a non-earliest query leaves ownership alone.
	resolve(t, env, rev.ID, q2.ID, "regulatory")
	st, _ = env.Engine.CurrentOwner(env.Ctx, rev.ID)
	if st.Team != "toxicology" {
		t.Fatalf("owner changed on out-of-order resolve: %v", st)
	}

	// Resolving the earliest hands over to the next oldest, not the resolver.
	resolve(t, env, rev.ID, q1.ID, "toxicology")
	st, _ = env.Engine.CurrentOwner(env.Ctx, rev.ID)
	if st.Team != "ecology" {
		t.Fatalf("expected ecology next, got %v", st)
	}

	// Last resolution returns the review to the originator.
	got := resolve(t, env, rev.ID, q3.ID, "ecology")
	if got.State != "with_originator" {
		t.Fatalf("expected with_originator, got %q", got.State)
	}

	// The originator completes; any further query fails.
	done, err := env.Engine.CompleteReview(env.Ctx, rev.ID, "originator-1")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.State != "completed" || done.CompletedAt == nil {
		t.Fatalf("completed review: %+v", done)
	}
	_, err = env.Engine.RaiseQuery(env.Ctx, engine.RaiseQueryOptions{
		ReviewID:   rev.ID,
		AssignedTo: "toxicology",
		Text:       "too late",
		ActorID:    "member-of-toxicology",
	})
	var ac *domain.AlreadyCompletedError
	if !errors.As(err, &ac) {
		t.Fatalf("expected AlreadyCompletedError, got %v", err)
	}
}

func TestNotificationOrderMatchesTransitions(t *testing.T) {
	env := newTestEnv(t)
	rev := openReview(t, env)
	q1 := raise(t, env, rev.ID, "toxicology")
	env.Advance(time.Minute)
	q2 := raise(t, env, rev.ID, "regulatory")
	resolve(t, env, rev.ID, q1.ID, "toxicology")
	resolve(t, env, rev.ID, q2.ID, "regulatory")
	if _, err := env.Engine.CompleteReview(env.Ctx, rev.ID, "originator-1"); err != nil {
		t.Fatalf("complete: %v", err)
	}

	want := []struct{ prev, next string }{
		{"with_originator", "pending:toxicology"},
		{"pending:toxicology", "pending:regulatory"},
		{"pending:regulatory", "with_originator"},
		{"with_originator", "completed"},
	}
	changes := env.Sink.Snapshot()
	if len(changes) != len(want) {
		t.Fatalf("got %d notifications, want %d: %+v", len(changes), len(want), changes)
	}
	for i, w := range want {
		if changes[i].Previous != w.prev || changes[i].Next != w.next {
			t.Fatalf("notification %d: got %s->%s want %s->%s",
				i, changes[i].Previous, changes[i].Next, w.prev, w.next)
		}
	}
}

func TestResolveOnlyQueryReturnsToOriginator(t *testing.T) {
	env := newTestEnv(t)
	rev := openReview(t, env)
	q := raise(t, env, rev.ID, "analytics")
	got := resolve(t, env, rev.ID, q.ID, "analytics")
	if got.State != "with_originator" {
		t.Fatalf("expected with_originator, got %q", got.State)
	}
}

func TestTieBreakBySequenceUnderEqualTimestamps(t *testing.T) {
	env := newTestEnv(t)
	rev := openReview(t, env)
	// Clock never advances: both queries share created_at.
	q1 := raise(t, env, rev.ID, "ecology")
	raise(t, env, rev.ID, "regulatory")
	st, _ := env.Engine.CurrentOwner(env.Ctx, rev.ID)
	if st.Team != "ecology" {
		t.Fatalf("first-created query must win the tie, got %v", st)
	}
	resolve(t, env, rev.ID, q1.ID, "ecology")
	st, _ = env.Engine.CurrentOwner(env.Ctx, rev.ID)
	if st.Team != "regulatory" {
		t.Fatalf("expected regulatory after tie-break resolve, got %v", st)
	}
}

func TestSameTeamSecondQueryIsNoOp(t *testing.T) {
	env := newTestEnv(t)
	rev := openReview(t, env)
	raise(t, env, rev.ID, "toxicology")
	env.Advance(time.Minute)
	raise(t, env, rev.ID, "toxicology")
	st, _ := env.Engine.CurrentOwner(env.Ctx, rev.ID)
	if st.Team != "toxicology" {
		t.Fatalf("owner %v", st)
	}
	// Only the initial handover notified; the second raise changed nothing.
	if changes := env.Sink.Snapshot(); len(changes) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(changes))
	}
}

func TestResolveTwiceFailsWithoutStateChange(t *testing.T) {
	env := newTestEnv(t)
	rev := openReview(t, env)
	q1 := raise(t, env, rev.ID, "toxicology")
	env.Advance(time.Minute)
	raise(t, env, rev.ID, "regulatory")

	first := resolve(t, env, rev.ID, q1.ID, "toxicology")
	_, err := env.Engine.ResolveQuery(env.Ctx, engine.ResolveQueryOptions{
		QueryID:    q1.ID,
		ResolvedBy: "toxicology",
		ActorID:    "member-of-toxicology",
	})
	var qa *domain.QueryAlreadyResolvedError
	if !errors.As(err, &qa) {
		t.Fatalf("expected QueryAlreadyResolvedError, got %v", err)
	}
	st, _ := env.Engine.CurrentOwner(env.Ctx, rev.ID)
	if st.String() != first.State {
		t.Fatalf("retry moved state from %q to %q", first.State, st)
	}
	assertInvariant(t, env, rev.ID)
}

func TestCompletePendingReviewFails(t *testing.T) {
	env := newTestEnv(t)
	rev := openReview(t, env)
	raise(t, env, rev.ID, "ecology")
	_, err := env.Engine.CompleteReview(env.Ctx, rev.ID, "originator-1")
	var it *domain.InvalidTransitionError
	if !errors.As(err, &it) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
	if !it.From.IsPending() || !it.To.IsCompleted() {
		t.Fatalf("error states: %+v", it)
	}
}

func TestCompleteTwiceFails(t *testing.T) {
	env := newTestEnv(t)
	rev := openReview(t, env)
	if _, err := env.Engine.CompleteReview(env.Ctx, rev.ID, "originator-1"); err != nil {
		t.Fatalf("first complete: %v", err)
	}
	_, err := env.Engine.CompleteReview(env.Ctx, rev.ID, "originator-1")
	var ac *domain.AlreadyCompletedError
	if !errors.As(err, &ac) {
		t.Fatalf("expected AlreadyCompletedError, got %v", err)
	}
}

func TestResolutionOrderIndependence(t *testing.T) {
	perms := [][]int{
		{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0},
	}
	teams := []domain.TeamID{"toxicology", "regulatory", "ecology"}
	for _, perm := range perms {
		env := newTestEnv(t)
		rev := openReview(t, env)
		ids := make([]string, len(teams))
		for i, team := range teams {
			ids[i] = raise(t, env, rev.ID, team).ID
			env.Advance(time.Minute)
		}
		for _, idx := range perm {
			resolve(t, env, rev.ID, ids[idx], teams[idx])
		}
		st, _ := env.Engine.CurrentOwner(env.Ctx, rev.ID)
		if !st.IsOriginator() {
			t.Fatalf("permutation %v ended in %v", perm, st)
		}
	}
}

func TestConcurrentResolutionsSerialize(t *testing.T) {
	env := newTestEnv(t)
	rev := openReview(t, env)
	teams := []domain.TeamID{"toxicology", "regulatory", "ecology", "analytics"}
	ids := make([]string, len(teams))
	for i, team := range teams {
		ids[i] = raise(t, env, rev.ID, team).ID
		env.Advance(time.Second)
	}

	var wg sync.WaitGroup
	errs := make([]error, len(ids))
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.Engine.ResolveQuery(env.Ctx, engine.ResolveQueryOptions{
				QueryID:    ids[i],
				ResolvedBy: string(teams[i]),
				ActorID:    "member-of-" + string(teams[i]),
			})
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("concurrent resolve %d: %v", i, err)
		}
	}
	st, _ := env.Engine.CurrentOwner(env.Ctx, rev.ID)
	if !st.IsOriginator() {
		t.Fatalf("final state %v", st)
	}
	assertInvariant(t, env, rev.ID)
}

func TestRaiseRejectsUnknownAndReservedTeams(t *testing.T) {
	env := newTestEnv(t)
	rev := openReview(t, env)
	if _, err := env.Engine.RaiseQuery(env.Ctx, engine.RaiseQueryOptions{
		ReviewID:   rev.ID,
		AssignedTo: "astrology",
		Text:       "q",
		ActorID:    "x",
	}); err == nil {
		t.Fatal("expected unknown team to be rejected")
	}
	if _, err := env.Engine.RaiseQuery(env.Ctx, engine.RaiseQueryOptions{
		ReviewID:   rev.ID,
		AssignedTo: domain.TeamID(config.OriginatorName),
		Text:       "q",
		ActorID:    "x",
	}); err == nil {
		t.Fatal("expected originator assignment to be rejected")
	}
}

func TestOpenQueriesListedInRoutingOrder(t *testing.T) {
	env := newTestEnv(t)
	rev := openReview(t, env)
	first := raise(t, env, rev.ID, "regulatory")
	env.Advance(time.Minute)
	second := raise(t, env, rev.ID, "toxicology")
	open, err := env.Engine.ListOpenQueries(env.Ctx, rev.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(open) != 2 || open[0].ID != first.ID || open[1].ID != second.ID {
		t.Fatalf("routing order wrong: %+v", open)
	}
}

func TestEventTimestampsFollowEngineClock(t *testing.T) {
	env := newTestEnv(t)
	rev := openReview(t, env)
	env.Advance(time.Hour)
	q := raise(t, env, rev.ID, "toxicology")

	log, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, rev.ID, "")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(log) != 3 {
		t.Fatalf("expected opened+raised+state_changed, got %d: %+v", len(log), log)
	}
	// Newest first: the raise and its reroute carry the advanced clock, the
	// opening event the initial one, same as the rows they describe.
	if log[0].TS != q.CreatedAt || log[1].TS != q.CreatedAt {
		t.Fatalf("raise events ts %q/%q, query created at %q", log[0].TS, log[1].TS, q.CreatedAt)
	}
	if log[2].TS != rev.CreatedAt {
		t.Fatalf("opened event ts %q, review created at %q", log[2].TS, rev.CreatedAt)
	}
}

func TestMissingEntities(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CurrentOwner(env.Ctx, "nope"); err == nil {
		t.Fatal("expected missing review error")
	}
	if _, err := env.Engine.ResolveQuery(env.Ctx, engine.ResolveQueryOptions{
		QueryID: "nope",
		ActorID: "x",
	}); err == nil {
		t.Fatal("expected missing query error")
	}
}
