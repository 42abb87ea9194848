package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"queryline/internal/domain"
)

// NotAMemberError indicates an actor acting for a team they do not belong to.
type NotAMemberError struct {
	ActorID string
	Team    domain.TeamID
}

func (e NotAMemberError) Error() string {
	return fmt.Sprintf("actor %s is not a member of team %s", e.ActorID, e.Team)
}

// Service answers which team an actor acts for, backed by SQL. The engine
// trusts the team arguments it is given; callers at the boundary use this
// service to check them first.
type Service struct {
	DB *sql.DB
}

// TeamsOf returns the teams an actor belongs to.
func (s Service) TeamsOf(ctx context.Context, actorID string) ([]domain.TeamID, error) {
	if actorID == "" {
		return nil, errors.New("actor_id required")
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT team FROM team_members WHERE actor_id=? ORDER BY team ASC`, actorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var teams []domain.TeamID
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		teams = append(teams, domain.TeamID(t))
	}
	return teams, rows.Err()
}

// CurrentTeamOf resolves the single team an actor acts for. When the actor
// belongs to several teams the claimed team disambiguates; it must be one of
// the actor's memberships.
func (s Service) CurrentTeamOf(ctx context.Context, actorID string, claimed domain.TeamID) (domain.TeamID, error) {
	teams, err := s.TeamsOf(ctx, actorID)
	if err != nil {
		return "", err
	}
	if claimed != "" {
		for _, t := range teams {
			if t == claimed {
				return claimed, nil
			}
		}
		return "", NotAMemberError{ActorID: actorID, Team: claimed}
	}
	switch len(teams) {
	case 0:
		return "", fmt.Errorf("actor %s belongs to no team", actorID)
	case 1:
		return teams[0], nil
	}
	return "", fmt.Errorf("actor %s belongs to %d teams, specify one", actorID, len(teams))
}

// IsMember reports whether the actor belongs to the team.
func (s Service) IsMember(ctx context.Context, actorID string, team domain.TeamID) (bool, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT 1 FROM team_members WHERE actor_id=? AND team=? LIMIT 1`, actorID, string(team))
	var n int
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}
