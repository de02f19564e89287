package team

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"tournaments-backend/internal/db"
)

const teamColumns = `t.id, t.name, t.owner_user_id, t.coach_user_id, t.status, t.is_active, t.created_at, t.updated_at,
	(SELECT COUNT(*) FROM team_members tm WHERE tm.team_id = t.id AND tm.status <> 'rejected') AS players_count`

const memberColumns = `team_id, user_id, role, status, joined_at`

type Repository struct {
	db  *sql.DB
	now func() time.Time
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

// Create stores a team owned and coached by ownerID.
func (r *Repository) Create(ctx context.Context, ownerID string, input CreateInput) (Team, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Team{}, fmt.Errorf("generate uuid v7: %w", err)
	}

	row := r.db.QueryRowContext(ctx, `
		WITH t AS (
			INSERT INTO teams (id, name, owner_user_id, coach_user_id, status, is_active, created_at, updated_at)
			VALUES ($1, $2, $3, $3, 'active', TRUE, $4, $4)
			RETURNING *
		)
		SELECT `+teamColumns+`
		FROM t
	`, id.String(), input.Name, ownerID, r.now().UTC())
	t, err := scanTeam(row)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return Team{}, ErrUserNotFound
		}
		return Team{}, fmt.Errorf("insert team: %w", err)
	}
	return t, nil
}

// ListManagedBy returns the active teams userID owns or coaches, by name.
func (r *Repository) ListManagedBy(ctx context.Context, userID string) ([]Team, error) {
	return r.query(ctx, `
		SELECT `+teamColumns+`
		FROM teams t
		WHERE (t.owner_user_id = $1 OR t.coach_user_id = $1) AND t.is_active = TRUE
		ORDER BY t.name
	`, userID)
}

// List returns every team, newest first.
func (r *Repository) List(ctx context.Context, page Page) ([]Team, error) {
	return r.query(ctx, `
		SELECT `+teamColumns+`
		FROM teams t
		ORDER BY t.created_at DESC
		OFFSET $1 LIMIT $2
	`, page.Skip, page.Limit)
}

// Get loads the team with its members, including inactive teams.
func (r *Repository) Get(ctx context.Context, id string) (Team, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+teamColumns+`
		FROM teams t
		WHERE t.id = $1
	`, id)
	t, err := scanTeam(row)
	if err != nil {
		return Team{}, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT tm.team_id, tm.user_id, u.email, tm.role, tm.status, tm.joined_at
		FROM team_members tm
		JOIN users u ON u.id = tm.user_id
		WHERE tm.team_id = $1
		ORDER BY tm.joined_at
	`, id)
	if err != nil {
		return Team{}, fmt.Errorf("query team members: %w", err)
	}
	defer rows.Close()

	t.Members = make([]Member, 0)
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.TeamID, &m.UserID, &m.Email, &m.Role, &m.Status, &m.JoinedAt); err != nil {
			return Team{}, fmt.Errorf("scan team member: %w", err)
		}
		t.Members = append(t.Members, m)
	}
	if err := rows.Err(); err != nil {
		return Team{}, fmt.Errorf("iterate team members: %w", err)
	}
	return t, nil
}

func (r *Repository) Update(ctx context.Context, id string, input UpdateInput) (Team, error) {
	row := r.db.QueryRowContext(ctx, `
		WITH t AS (
			UPDATE teams
			SET
				name = COALESCE($2, name),
				coach_user_id = COALESCE($3, coach_user_id),
				is_active = COALESCE($4, is_active),
				updated_at = $5
			WHERE id = $1
			RETURNING *
		)
		SELECT `+teamColumns+`
		FROM t
	`, id, input.Name, input.CoachUserID, input.IsActive, r.now().UTC())
	t, err := scanTeam(row)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			return Team{}, err
		case db.IsForeignKeyViolation(err):
			return Team{}, ErrUserNotFound
		}
		return Team{}, fmt.Errorf("update team: %w", err)
	}
	return t, nil
}

// Deactivate hides the team from coach listings and registration. Members are kept.
func (r *Repository) Deactivate(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE teams
		SET is_active = FALSE, updated_at = $2
		WHERE id = $1 AND is_active = TRUE
	`, id, r.now().UTC())
	if err != nil {
		return fmt.Errorf("deactivate team: %w", err)
	}
	return expectOne(res, ErrNotFound)
}

// AddMember adds userID as pending. Adding an existing member resets it to
// pending with the new role.
func (r *Repository) AddMember(ctx context.Context, teamID string, input MemberInput) (Member, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO team_members (team_id, user_id, role, status, joined_at)
		VALUES ($1, $2, $3, 'pending', $4)
		ON CONFLICT (team_id, user_id) DO UPDATE
		SET role = EXCLUDED.role, status = 'pending', joined_at = EXCLUDED.joined_at
		RETURNING `+memberColumns,
		teamID, input.UserID, input.Role, r.now().UTC(),
	)
	m, err := scanMember(row)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			if db.ConstraintName(err) == "team_members_team_id_fkey" {
				return Member{}, ErrNotFound
			}
			return Member{}, ErrUserNotFound
		}
		return Member{}, fmt.Errorf("insert team member: %w", err)
	}
	return m, nil
}

func (r *Repository) RemoveMember(ctx context.Context, teamID, userID string) error {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM team_members
		WHERE team_id = $1 AND user_id = $2
	`, teamID, userID)
	if err != nil {
		return fmt.Errorf("delete team member: %w", err)
	}
	return expectOne(res, ErrMemberNotFound)
}

func (r *Repository) SetMemberStatus(ctx context.Context, teamID, userID, status string) (Member, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE team_members
		SET status = $3
		WHERE team_id = $1 AND user_id = $2
		RETURNING `+memberColumns,
		teamID, userID, status,
	)
	m, err := scanMember(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Member{}, ErrMemberNotFound
		}
		return Member{}, fmt.Errorf("update team member status: %w", err)
	}
	return m, nil
}

func (r *Repository) query(ctx context.Context, query string, args ...any) ([]Team, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query teams: %w", err)
	}
	defer rows.Close()

	teams := make([]Team, 0)
	for rows.Next() {
		t, err := scanTeam(rows)
		if err != nil {
			return nil, err
		}
		teams = append(teams, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate teams: %w", err)
	}
	return teams, nil
}

func expectOne(res sql.Result, missing error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return missing
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTeam(row rowScanner) (Team, error) {
	var t Team
	var owner, coach sql.NullString
	err := row.Scan(&t.ID, &t.Name, &owner, &coach, &t.Status, &t.IsActive, &t.CreatedAt, &t.UpdatedAt, &t.PlayersCount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Team{}, ErrNotFound
		}
		return Team{}, fmt.Errorf("scan team: %w", err)
	}
	if owner.Valid {
		t.OwnerUserID = &owner.String
	}
	if coach.Valid {
		t.CoachUserID = &coach.String
	}
	return t, nil
}

func scanMember(row rowScanner) (Member, error) {
	var m Member
	if err := row.Scan(&m.TeamID, &m.UserID, &m.Role, &m.Status, &m.JoinedAt); err != nil {
		return Member{}, err
	}
	return m, nil
}
