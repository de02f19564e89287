package registration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"tournaments-backend/internal/db"
)

const participantColumns = `id, tournament_id, team_id, status, applied_at, reviewed_at, reviewed_by, rejection_reason`

type Repository struct {
	db  *sql.DB
	now func() time.Time
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

// Register applies teamID to tournamentID on behalf of userID, who must own,
// coach or belong to the team. Current members are copied as pending.
func (r *Repository) Register(ctx context.Context, tournamentID, teamID, userID string) (Participant, error) {
	return r.apply(ctx, tournamentID, teamID, &userID)
}

// AddParticipant is Register without the membership check.
func (r *Repository) AddParticipant(ctx context.Context, tournamentID, teamID string) (Participant, error) {
	return r.apply(ctx, tournamentID, teamID, nil)
}

func (r *Repository) apply(ctx context.Context, tournamentID, teamID string, actor *string) (Participant, error) {
	var participant Participant

	err := db.WithTx(ctx, r.db, nil, func(ctx context.Context, tx db.DBTX) error {
		var tournamentActive bool
		err := tx.QueryRowContext(ctx, `
			SELECT is_active
			FROM tournaments
			WHERE id = $1
			FOR SHARE
		`, tournamentID).Scan(&tournamentActive)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && !tournamentActive) {
			return ErrTournamentUnavailable
		}
		if err != nil {
			return fmt.Errorf("load tournament: %w", err)
		}

		var owner, coach sql.NullString
		var teamActive bool
		err = tx.QueryRowContext(ctx, `
			SELECT owner_user_id, coach_user_id, is_active
			FROM teams
			WHERE id = $1
			FOR SHARE
		`, teamID).Scan(&owner, &coach, &teamActive)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && !teamActive) {
			return ErrTeamUnavailable
		}
		if err != nil {
			return fmt.Errorf("load team: %w", err)
		}

		if actor != nil && owner.String != *actor && coach.String != *actor {
			var member bool
			if err := tx.QueryRowContext(ctx, `
				SELECT EXISTS (
					SELECT 1 FROM team_members
					WHERE team_id = $1 AND user_id = $2 AND status <> 'rejected'
				)
			`, teamID, *actor).Scan(&member); err != nil {
				return fmt.Errorf("check team membership: %w", err)
			}
			if !member {
				return ErrNotTeamMember
			}
		}

		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate uuid v7: %w", err)
		}
		participant, err = scanParticipant(tx.QueryRowContext(ctx, `
			INSERT INTO tournament_participants (id, tournament_id, team_id, status, applied_at)
			VALUES ($1, $2, $3, 'pending', $4)
			RETURNING `+participantColumns,
			id.String(), tournamentID, teamID, r.now().UTC(),
		))
		if err != nil {
			if db.IsUniqueViolation(err) {
				return ErrAlreadyRegistered
			}
			return fmt.Errorf("insert participant: %w", err)
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO tournament_participant_members (participant_id, user_id, role, status)
			SELECT $1, user_id, role, 'pending'
			FROM team_members
			WHERE team_id = $2 AND status <> 'rejected'
		`, participant.ID, teamID)
		if err != nil {
			return fmt.Errorf("copy team members: %w", err)
		}
		copied, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		members := int(copied)
		participant.MembersRegistered = &members
		return nil
	})
	if err != nil {
		return Participant{}, err
	}
	return participant, nil
}

// EligibleTeams lists active teams coachID owns or coaches that have not
// applied to tournamentID.
func (r *Repository) EligibleTeams(ctx context.Context, tournamentID, coachID string) ([]EligibleTeam, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT t.id, t.name, t.status, t.is_active,
			(SELECT COUNT(*) FROM team_members tm WHERE tm.team_id = t.id AND tm.status <> 'rejected') AS players_count,
			t.created_at
		FROM teams t
		WHERE (t.owner_user_id = $1 OR t.coach_user_id = $1)
			AND t.is_active = TRUE
			AND NOT EXISTS (
				SELECT 1 FROM tournament_participants tp
				WHERE tp.tournament_id = $2 AND tp.team_id = t.id
			)
		ORDER BY t.name
	`, coachID, tournamentID)
	if err != nil {
		return nil, fmt.Errorf("query eligible teams: %w", err)
	}
	defer rows.Close()

	teams := make([]EligibleTeam, 0)
	for rows.Next() {
		var t EligibleTeam
		if err := rows.Scan(&t.ID, &t.Name, &t.Status, &t.IsActive, &t.PlayersCount, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan eligible team: %w", err)
		}
		teams = append(teams, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate eligible teams: %w", err)
	}
	return teams, nil
}

// List returns applications newest first, optionally narrowed to one status.
func (r *Repository) List(ctx context.Context, filter Filter) ([]Participant, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+participantColumns+`
		FROM tournament_participants
		WHERE ($1 = '' OR status = $1)
		ORDER BY applied_at DESC
		OFFSET $2 LIMIT $3
	`, filter.Status, filter.Skip, filter.Limit)
	if err != nil {
		return nil, fmt.Errorf("query participants: %w", err)
	}
	defer rows.Close()

	participants := make([]Participant, 0)
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		participants = append(participants, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate participants: %w", err)
	}
	return participants, nil
}

// Review sets the application status and moves its members to the same status.
// A rejection reason is only kept for rejected applications.
func (r *Repository) Review(ctx context.Context, id, reviewerID string, input ReviewInput) (Participant, error) {
	reason := input.RejectionReason
	if input.Status != StatusRejected {
		reason = nil
	}

	var participant Participant
	err := db.WithTx(ctx, r.db, nil, func(ctx context.Context, tx db.DBTX) error {
		var err error
		participant, err = scanParticipant(tx.QueryRowContext(ctx, `
			UPDATE tournament_participants
			SET status = $2, reviewed_at = $3, reviewed_by = $4, rejection_reason = $5
			WHERE id = $1
			RETURNING `+participantColumns,
			id, input.Status, r.now().UTC(), reviewerID, reason,
		))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("review participant: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE tournament_participant_members
			SET status = $2
			WHERE participant_id = $1
		`, id, input.Status); err != nil {
			return fmt.Errorf("update participant members: %w", err)
		}
		return nil
	})
	if err != nil {
		return Participant{}, err
	}
	return participant, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanParticipant(row rowScanner) (Participant, error) {
	var (
		p          Participant
		reviewedAt sql.NullTime
		reviewedBy sql.NullString
		reason     sql.NullString
	)
	if err := row.Scan(&p.ID, &p.TournamentID, &p.TeamID, &p.Status, &p.AppliedAt, &reviewedAt, &reviewedBy, &reason); err != nil {
		return Participant{}, err
	}
	if reviewedAt.Valid {
		p.ReviewedAt = &reviewedAt.Time
	}
	if reviewedBy.Valid {
		p.ReviewedBy = &reviewedBy.String
	}
	if reason.Valid {
		p.RejectionReason = &reason.String
	}
	return p, nil
}
