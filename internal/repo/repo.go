package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"queryline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func (r Repo) InsertReview(ctx context.Context, tx *sql.Tx, rev domain.Review) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO reviews(id,title,originator,state,version,created_at,updated_at,completed_at)
VALUES (?,?,?,?,?,?,?,?)`,
		rev.ID, rev.Title, rev.Originator, rev.State, rev.Version, rev.CreatedAt, rev.UpdatedAt, nullableStringPtr(rev.CompletedAt))
	return err
}

func scanReview(scan func(dest ...any) error) (domain.Review, error) {
	var rev domain.Review
	var completedAt sql.NullString
	err := scan(&rev.ID, &rev.Title, &rev.Originator, &rev.State, &rev.Version, &rev.CreatedAt, &rev.UpdatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return rev, fmt.Errorf("review: %w", ErrNotFound)
	}
	if err != nil {
		return rev, err
	}
	if completedAt.Valid {
		rev.CompletedAt = &completedAt.String
	}
	return rev, nil
}

const reviewColumns = `id,title,originator,state,version,created_at,updated_at,completed_at`

func (r Repo) GetReview(ctx context.Context, id string) (domain.Review, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+reviewColumns+` FROM reviews WHERE id=?`, id)
	return scanReview(row.Scan)
}

func (r Repo) GetReviewTx(ctx context.Context, tx *sql.Tx, id string) (domain.Review, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+reviewColumns+` FROM reviews WHERE id=?`, id)
	return scanReview(row.Scan)
}

// UpdateReviewState writes the new state only when the stored version still
// matches the version the caller read. Zero rows affected means another
// writer got there first.
func (r Repo) UpdateReviewState(ctx context.Context, tx *sql.Tx, rev domain.Review, expectedVersion int64) error {
	res, err := tx.ExecContext(ctx, `UPDATE reviews SET state=?, version=version+1, updated_at=?, completed_at=? WHERE id=? AND version=?`,
		rev.State, rev.UpdatedAt, nullableStringPtr(rev.CompletedAt), rev.ID, expectedVersion)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrConcurrentModification
	}
	return nil
}

type ReviewFilters struct {
	State           string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListReviews(ctx context.Context, f ReviewFilters) ([]domain.Review, error) {
	var clauses []string
	var args []any
	if f.State != "" {
		clauses = append(clauses, "state=?")
		args = append(args, f.State)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + reviewColumns + ` FROM reviews ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Review
	for rows.Next() {
		rev, err := scanReview(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, rev)
	}
	return res, rows.Err()
}

func (r Repo) InsertQuery(ctx context.Context, tx *sql.Tx, q domain.Query) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO queries(id,review_id,raised_by,assigned_to,status,text,resolution,resolved_by,created_at,resolved_at)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
		q.ID, q.ReviewID, string(q.RaisedBy), string(q.AssignedTo), q.Status, q.Text,
		nullable(q.Resolution), nullable(q.ResolvedBy), q.CreatedAt, nullableStringPtr(q.ResolvedAt))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

const queryColumns = `seq,id,review_id,raised_by,assigned_to,status,text,resolution,resolved_by,created_at,resolved_at`

func scanQuery(scan func(dest ...any) error) (domain.Query, error) {
	var q domain.Query
	var raisedBy, assignedTo string
	var resolution, resolvedBy, resolvedAt sql.NullString
	err := scan(&q.Seq, &q.ID, &q.ReviewID, &raisedBy, &assignedTo, &q.Status, &q.Text, &resolution, &resolvedBy, &q.CreatedAt, &resolvedAt)
	if err == sql.ErrNoRows {
		return q, fmt.Errorf("query: %w", ErrNotFound)
	}
	if err != nil {
		return q, err
	}
	q.RaisedBy = domain.TeamID(raisedBy)
	q.AssignedTo = domain.TeamID(assignedTo)
	if resolution.Valid {
		q.Resolution = resolution.String
	}
	if resolvedBy.Valid {
		q.ResolvedBy = resolvedBy.String
	}
	if resolvedAt.Valid {
		q.ResolvedAt = &resolvedAt.String
	}
	return q, nil
}

func (r Repo) GetQuery(ctx context.Context, id string) (domain.Query, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+queryColumns+` FROM queries WHERE id=?`, id)
	return scanQuery(row.Scan)
}

func (r Repo) GetQueryTx(ctx context.Context, tx *sql.Tx, id string) (domain.Query, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+queryColumns+` FROM queries WHERE id=?`, id)
	return scanQuery(row.Scan)
}

func (r Repo) MarkQueryResolved(ctx context.Context, tx *sql.Tx, q domain.Query) error {
	res, err := tx.ExecContext(ctx, `UPDATE queries SET status=?, resolution=?, resolved_by=?, resolved_at=? WHERE id=? AND status=?`,
		domain.QueryResolved, nullable(q.Resolution), nullable(q.ResolvedBy), nullableStringPtr(q.ResolvedAt), q.ID, domain.QueryOpen)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &domain.QueryAlreadyResolvedError{QueryID: q.ID}
	}
	return nil
}

func (r Repo) ListQueries(ctx context.Context, reviewID, status string) ([]domain.Query, error) {
	return r.listQueries(ctx, r.DB.QueryContext, reviewID, status)
}

func (r Repo) ListQueriesTx(ctx context.Context, tx *sql.Tx, reviewID, status string) ([]domain.Query, error) {
	return r.listQueries(ctx, tx.QueryContext, reviewID, status)
}

// OpenQueriesTx reads the review's open set inside the caller's transaction,
// ordered by the routing key (created_at, seq).
func (r Repo) OpenQueriesTx(ctx context.Context, tx *sql.Tx, reviewID string) ([]domain.Query, error) {
	return r.listQueries(ctx, tx.QueryContext, reviewID, domain.QueryOpen)
}

type queryFn func(ctx context.Context, query string, args ...any) (*sql.Rows, error)

func (r Repo) listQueries(ctx context.Context, run queryFn, reviewID, status string) ([]domain.Query, error) {
	clauses := []string{"review_id=?"}
	args := []any{reviewID}
	if status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, status)
	}
	query := `SELECT ` + queryColumns + ` FROM queries WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at ASC, seq ASC`
	rows, err := run(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Query
	for rows.Next() {
		q, err := scanQuery(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, q)
	}
	return res, rows.Err()
}

func (r Repo) CountQueriesByStatus(ctx context.Context, reviewID string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM queries WHERE review_id=? GROUP BY status`, reviewID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}

// LatestEvents returns recent events newest-first, optionally filtered.
func (r Repo) LatestEvents(ctx context.Context, limit int, reviewID, evtType string) ([]domain.Event, error) {
	return r.LatestEventsFrom(ctx, limit, 0, reviewID, evtType)
}

func (r Repo) LatestEventsFrom(ctx context.Context, limit int, cursor int64, reviewID, evtType string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if reviewID != "" {
		clauses = append(clauses, "review_id=?")
		args = append(args, reviewID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,review_id,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// EventsAfter returns events with IDs greater than the cursor in ascending
// order. Commit order and id order coincide, so consumers see state changes
// in the order they happened.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, reviewID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"1=1"}
	var args []any
	if reviewID != "" {
		clauses = append(clauses, "review_id=?")
		args = append(args, reviewID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id>?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,review_id,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id ASC LIMIT ?`, where)
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var reviewID, entityID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &reviewID, &e.EntityKind, &entityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if reviewID.Valid {
			e.ReviewID = reviewID.String
		}
		if entityID.Valid {
			e.EntityID = entityID.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEventID returns the most recent event id, 0 when the log is empty.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}
