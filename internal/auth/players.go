package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Player is a player account as shown on the admin screens.
type Player struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Nickname  *string   `json:"nickname"`
	AvatarURL *string   `json:"avatar_url"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

type PlayerTeam struct {
	TeamID string `json:"team_id"`
	Name   string `json:"name"`
	Role   string `json:"role"`
	Status string `json:"status"`
}

type PlayerDetail struct {
	Player
	Teams []PlayerTeam `json:"teams"`
}

// ListPlayers returns player accounts newest first.
func (r *PostgresUserStore) ListPlayers(ctx context.Context, skip, limit int) ([]Player, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT u.id, u.email, pp.nickname, u.avatar_url, u.is_active, u.created_at
		FROM users u
		JOIN player_profiles pp ON pp.user_id = u.id
		WHERE u.role = 'player'
		ORDER BY u.created_at DESC
		OFFSET $1 LIMIT $2
	`, skip, limit)
	if err != nil {
		return nil, fmt.Errorf("query players: %w", err)
	}
	defer rows.Close()

	players := make([]Player, 0)
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, err
		}
		players = append(players, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate players: %w", err)
	}
	return players, nil
}

// GetPlayer loads one player with the teams they belong to.
func (r *PostgresUserStore) GetPlayer(ctx context.Context, id string) (PlayerDetail, error) {
	if _, err := uuid.Parse(id); err != nil {
		return PlayerDetail{}, ErrNotFound
	}

	p, err := scanPlayer(r.db.QueryRowContext(ctx, `
		SELECT u.id, u.email, pp.nickname, u.avatar_url, u.is_active, u.created_at
		FROM users u
		JOIN player_profiles pp ON pp.user_id = u.id
		WHERE u.id = $1 AND u.role = 'player'
	`, id))
	if err != nil {
		return PlayerDetail{}, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT t.id, t.name, tm.role, tm.status
		FROM team_members tm
		JOIN teams t ON t.id = tm.team_id
		WHERE tm.user_id = $1
		ORDER BY tm.joined_at DESC
	`, id)
	if err != nil {
		return PlayerDetail{}, fmt.Errorf("query player teams: %w", err)
	}
	defer rows.Close()

	detail := PlayerDetail{Player: p, Teams: make([]PlayerTeam, 0)}
	for rows.Next() {
		var t PlayerTeam
		if err := rows.Scan(&t.TeamID, &t.Name, &t.Role, &t.Status); err != nil {
			return PlayerDetail{}, fmt.Errorf("scan player team: %w", err)
		}
		detail.Teams = append(detail.Teams, t)
	}
	if err := rows.Err(); err != nil {
		return PlayerDetail{}, fmt.Errorf("iterate player teams: %w", err)
	}
	return detail, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlayer(row rowScanner) (Player, error) {
	var (
		p         Player
		nickname  sql.NullString
		avatarURL sql.NullString
	)
	if err := row.Scan(&p.ID, &p.Email, &nickname, &avatarURL, &p.IsActive, &p.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Player{}, ErrNotFound
		}
		return Player{}, fmt.Errorf("scan player: %w", err)
	}
	p.Nickname = nullStringPtr(nickname)
	p.AvatarURL = nullStringPtr(avatarURL)
	return p, nil
}
