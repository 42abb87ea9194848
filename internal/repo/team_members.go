package repo

import (
	"context"
	"database/sql"

	"queryline/internal/domain"
)

func (r Repo) EnsureActor(ctx context.Context, tx *sql.Tx, actorID string, now string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO actors(id, created_at) VALUES (?,?)`, actorID, now)
	return err
}

func (r Repo) AssignTeam(ctx context.Context, tx *sql.Tx, actorID string, team domain.TeamID, now string) error {
	if err := r.EnsureActor(ctx, tx, actorID, now); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO team_members(actor_id, team, created_at) VALUES (?,?,?)`, actorID, string(team), now)
	return err
}

func (r Repo) RemoveTeam(ctx context.Context, tx *sql.Tx, actorID string, team domain.TeamID) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM team_members WHERE actor_id=? AND team=?`, actorID, string(team))
	return err
}

// TeamsOf returns the teams an actor belongs to.
func (r Repo) TeamsOf(ctx context.Context, actorID string) ([]domain.TeamID, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT team FROM team_members WHERE actor_id=? ORDER BY team ASC`, actorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var teams []domain.TeamID
	for rows.Next() {
		var team string
		if err := rows.Scan(&team); err != nil {
			return nil, err
		}
		teams = append(teams, domain.TeamID(team))
	}
	return teams, rows.Err()
}

// TeamRoster returns the actor IDs belonging to a team.
func (r Repo) TeamRoster(ctx context.Context, team domain.TeamID) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT actor_id FROM team_members WHERE team=? ORDER BY actor_id ASC`, string(team))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var actors []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		actors = append(actors, id)
	}
	return actors, rows.Err()
}
