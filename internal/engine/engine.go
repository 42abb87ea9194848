package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"queryline/internal/config"
	"queryline/internal/domain"
	"queryline/internal/events"
	"queryline/internal/notify"
	"queryline/internal/repo"
)

// Engine is the only component that mutates review state. Every mutation on a
// review runs under that review's lock: the open-query read, the transition
// check, the versioned write, and the post-commit notification form one
// critical section, so concurrent callers against the same review serialize
// and notifications go out in commit order. Reviews do not contend with each
// other.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Notify notify.Sink
	Audit  notify.AuditSink
	Now    func() time.Time

	locks *reviewLocks
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{},
		Config: cfg,
		Now:    time.Now,
		locks:  &reviewLocks{},
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

type reviewLocks struct {
	mu sync.Mutex
	m  map[string]*sync.Mutex
}

func (l *reviewLocks) acquire(id string) func() {
	l.mu.Lock()
	if l.m == nil {
		l.m = make(map[string]*sync.Mutex)
	}
	lk, ok := l.m[id]
	if !ok {
		lk = &sync.Mutex{}
		l.m[id] = lk
	}
	l.mu.Unlock()
	lk.Lock()
	return lk.Unlock
}

func (e Engine) lockReview(id string) func() {
	if e.locks == nil {
		return func() {}
	}
	return e.locks.acquire(id)
}

// OpenReviewOptions are parameters for opening a review.
type OpenReviewOptions struct {
	ID         string
	Title      string
	Originator string
	ActorID    string
}

// OpenReview creates a review in the originator-owned state.
func (e Engine) OpenReview(ctx context.Context, opts OpenReviewOptions) (domain.Review, error) {
	if opts.Title == "" {
		return domain.Review{}, errors.New("title is required")
	}
	if opts.Originator == "" {
		opts.Originator = opts.ActorID
	}
	if opts.Originator == "" {
		return domain.Review{}, errors.New("originator is required")
	}
	now := e.now().UTC().Format(time.RFC3339)
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	rev := domain.Review{
		ID:         id,
		Title:      opts.Title,
		Originator: opts.Originator,
		State:      domain.OriginatorState().String(),
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Review{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertReview(ctx, tx, rev); err != nil {
		return domain.Review{}, fmt.Errorf("insert review: %w", err)
	}
	if err := e.Events.Append(ctx, tx, now, events.TypeReviewOpened, rev.ID, "review", rev.ID, opts.ActorID, events.EventPayload{
		"title": rev.Title,
		"state": rev.State,
	}); err != nil {
		return domain.Review{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Review{}, err
	}
	return rev, nil
}

// RaiseQueryOptions are parameters for raising a blocking query.
type RaiseQueryOptions struct {
	ReviewID   string
	RaisedBy   domain.TeamID
	AssignedTo domain.TeamID
	Text       string
	ActorID    string
}

// RaiseQuery creates an open query against a not-yet-completed review and
// reroutes the review if the new query is now the earliest open one.
func (e Engine) RaiseQuery(ctx context.Context, opts RaiseQueryOptions) (domain.Query, error) {
	if e.Config == nil {
		return domain.Query{}, errors.New("config not loaded")
	}
	if opts.ReviewID == "" {
		return domain.Query{}, errors.New("review is required")
	}
	if opts.Text == "" {
		return domain.Query{}, errors.New("text is required")
	}
	if string(opts.AssignedTo) == config.OriginatorName {
		return domain.Query{}, errors.New("queries cannot be assigned to the originator")
	}
	if !e.Config.KnownTeam(string(opts.AssignedTo)) {
		return domain.Query{}, fmt.Errorf("unknown team %q", opts.AssignedTo)
	}
	if opts.RaisedBy != "" && string(opts.RaisedBy) != config.OriginatorName && !e.Config.KnownTeam(string(opts.RaisedBy)) {
		return domain.Query{}, fmt.Errorf("unknown team %q", opts.RaisedBy)
	}

	unlock := e.lockReview(opts.ReviewID)
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Query{}, err
	}
	defer tx.Rollback()

	rev, err := e.Repo.GetReviewTx(ctx, tx, opts.ReviewID)
	if err != nil {
		return domain.Query{}, err
	}
	cur, err := domain.ParseState(rev.State)
	if err != nil {
		return domain.Query{}, err
	}
	if cur.IsCompleted() {
		return domain.Query{}, &domain.AlreadyCompletedError{ReviewID: rev.ID}
	}

	now := e.now().UTC().Format(time.RFC3339)
	q := domain.Query{
		ID:         uuid.NewString(),
		ReviewID:   rev.ID,
		RaisedBy:   opts.RaisedBy,
		AssignedTo: opts.AssignedTo,
		Status:     domain.QueryOpen,
		Text:       opts.Text,
		CreatedAt:  now,
	}
	seq, err := e.Repo.InsertQuery(ctx, tx, q)
	if err != nil {
		return domain.Query{}, fmt.Errorf("insert query: %w", err)
	}
	q.Seq = seq

	if err := e.Events.Append(ctx, tx, now, events.TypeQueryRaised, rev.ID, "query", q.ID, opts.ActorID, events.EventPayload{
		"raised_by":   string(q.RaisedBy),
		"assigned_to": string(q.AssignedTo),
	}); err != nil {
		return domain.Query{}, err
	}

	change, err := e.reroute(ctx, tx, rev, cur, opts.ActorID, now)
	if err != nil {
		return domain.Query{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Query{}, err
	}
	e.emitStateChange(ctx, change)
	return q, nil
}

// ResolveQueryOptions are parameters for resolving a query.
type ResolveQueryOptions struct {
	QueryID    string
	ResolvedBy string
	Resolution string
	ActorID    string
}

// ResolveQuery marks an open query resolved and moves the review to whichever
// owner the remaining open queries dictate. Resolving a non-open query fails
// with QueryAlreadyResolvedError and mutates nothing.
func (e Engine) ResolveQuery(ctx context.Context, opts ResolveQueryOptions) (domain.Review, error) {
	if opts.QueryID == "" {
		return domain.Review{}, errors.New("query is required")
	}
	// Locate the owning review before taking its lock.
	q, err := e.Repo.GetQuery(ctx, opts.QueryID)
	if err != nil {
		return domain.Review{}, err
	}

	unlock := e.lockReview(q.ReviewID)
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Review{}, err
	}
	defer tx.Rollback()

	q, err = e.Repo.GetQueryTx(ctx, tx, opts.QueryID)
	if err != nil {
		return domain.Review{}, err
	}
	if q.Status != domain.QueryOpen {
		return domain.Review{}, &domain.QueryAlreadyResolvedError{QueryID: q.ID}
	}
	rev, err := e.Repo.GetReviewTx(ctx, tx, q.ReviewID)
	if err != nil {
		return domain.Review{}, err
	}
	cur, err := domain.ParseState(rev.State)
	if err != nil {
		return domain.Review{}, err
	}

	now := e.now().UTC().Format(time.RFC3339)
	q.Status = domain.QueryResolved
	q.Resolution = opts.Resolution
	q.ResolvedBy = opts.ResolvedBy
	q.ResolvedAt = &now
	if err := e.Repo.MarkQueryResolved(ctx, tx, q); err != nil {
		return domain.Review{}, err
	}
	if err := e.Events.Append(ctx, tx, now, events.TypeQueryResolved, rev.ID, "query", q.ID, opts.ActorID, events.EventPayload{
		"resolved_by": opts.ResolvedBy,
		"assigned_to": string(q.AssignedTo),
	}); err != nil {
		return domain.Review{}, err
	}

	change, err := e.reroute(ctx, tx, rev, cur, opts.ActorID, now)
	if err != nil {
		return domain.Review{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Review{}, err
	}
	if change != nil {
		rev.State = change.Next
		rev.Version++
		rev.UpdatedAt = now
	}
	e.emitStateChange(ctx, change)
	if e.Audit != nil {
		e.Audit.OnQueryResolved(ctx, notify.QueryResolution{
			QueryID:    q.ID,
			ReviewID:   rev.ID,
			ResolvedBy: opts.ResolvedBy,
			At:         now,
		})
	}
	return rev, nil
}

// CompleteReview moves an originator-owned review to completed. A completed
// review fails with AlreadyCompletedError; a review still pending on a team
// fails the transition check.
func (e Engine) CompleteReview(ctx context.Context, reviewID, actorID string) (domain.Review, error) {
	unlock := e.lockReview(reviewID)
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Review{}, err
	}
	defer tx.Rollback()

	rev, err := e.Repo.GetReviewTx(ctx, tx, reviewID)
	if err != nil {
		return domain.Review{}, err
	}
	cur, err := domain.ParseState(rev.State)
	if err != nil {
		return domain.Review{}, err
	}
	if cur.IsCompleted() {
		return domain.Review{}, &domain.AlreadyCompletedError{ReviewID: rev.ID}
	}
	next := domain.CompletedState()
	if err := domain.EnsureTransition(cur, next); err != nil {
		return domain.Review{}, err
	}

	now := e.now().UTC().Format(time.RFC3339)
	prevVersion := rev.Version
	rev.State = next.String()
	rev.UpdatedAt = now
	rev.CompletedAt = &now
	if err := e.Repo.UpdateReviewState(ctx, tx, rev, prevVersion); err != nil {
		return domain.Review{}, err
	}
	rev.Version = prevVersion + 1
	if err := e.Events.Append(ctx, tx, now, events.TypeReviewCompleted, rev.ID, "review", rev.ID, actorID, events.EventPayload{
		"previous": cur.String(),
		"state":    rev.State,
	}); err != nil {
		return domain.Review{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Review{}, err
	}
	e.emitStateChange(ctx, &notify.StateChange{
		ReviewID:    rev.ID,
		Previous:    cur.String(),
		Next:        rev.State,
		TriggeredBy: actorID,
		At:          now,
	})
	return rev, nil
}

// CurrentOwner answers who must act next on a review. It reads the persisted
// state field alone; the state column is kept consistent with the open-query
// set on every mutation, so no recomputation is needed here.
func (e Engine) CurrentOwner(ctx context.Context, reviewID string) (domain.State, error) {
	rev, err := e.Repo.GetReview(ctx, reviewID)
	if err != nil {
		return domain.State{}, err
	}
	return domain.ParseState(rev.State)
}

// ListOpenQueries returns a review's open queries in routing order.
func (e Engine) ListOpenQueries(ctx context.Context, reviewID string) ([]domain.Query, error) {
	if _, err := e.Repo.GetReview(ctx, reviewID); err != nil {
		return nil, err
	}
	return e.Repo.ListQueries(ctx, reviewID, domain.QueryOpen)
}

// reroute recomputes the review's owner from its open queries inside the
// caller's transaction and writes the transition when the owner changed.
// The version check on the write surfaces writers that slipped past the
// in-process lock, e.g. another process on the same database.
func (e Engine) reroute(ctx context.Context, tx *sql.Tx, rev domain.Review, cur domain.State, actorID, now string) (*notify.StateChange, error) {
	open, err := e.Repo.OpenQueriesTx(ctx, tx, rev.ID)
	if err != nil {
		return nil, err
	}
	next := domain.NextOwner(open)
	if next.Equal(cur) {
		return nil, nil
	}
	if err := domain.EnsureTransition(cur, next); err != nil {
		return nil, err
	}
	prevVersion := rev.Version
	rev.State = next.String()
	rev.UpdatedAt = now
	if err := e.Repo.UpdateReviewState(ctx, tx, rev, prevVersion); err != nil {
		return nil, err
	}
	if err := e.Events.Append(ctx, tx, now, events.TypeStateChanged, rev.ID, "review", rev.ID, actorID, events.EventPayload{
		"previous": cur.String(),
		"state":    rev.State,
		"owner":    next.Owner(),
	}); err != nil {
		return nil, err
	}
	return &notify.StateChange{
		ReviewID:    rev.ID,
		Previous:    cur.String(),
		Next:        rev.State,
		TriggeredBy: actorID,
		At:          now,
	}, nil
}

// emitStateChange runs after commit, still under the review lock, so sinks
// observe transitions for one review in commit order.
func (e Engine) emitStateChange(ctx context.Context, change *notify.StateChange) {
	if change == nil || e.Notify == nil {
		return
	}
	e.Notify.OnStateChanged(ctx, *change)
}
