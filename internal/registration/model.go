package registration

import (
	"errors"
	"time"
)

var (
	ErrNotFound              = errors.New("registration: participant not found")
	ErrTournamentUnavailable = errors.New("registration: tournament not available")
	ErrTeamUnavailable       = errors.New("registration: team not available")
	ErrNotTeamMember         = errors.New("registration: caller is not on the team")
	ErrAlreadyRegistered     = errors.New("registration: team already registered")
)

const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

// Participant is one team's application to one tournament.
type Participant struct {
	ID                string     `json:"id"`
	TournamentID      string     `json:"tournament_id"`
	TeamID            string     `json:"team_id"`
	Status            string     `json:"status"`
	AppliedAt         time.Time  `json:"applied_at"`
	ReviewedAt        *time.Time `json:"reviewed_at"`
	ReviewedBy        *string    `json:"reviewed_by"`
	RejectionReason   *string    `json:"rejection_reason"`
	MembersRegistered *int       `json:"members_registered,omitempty"`
}

// EligibleTeam is an active team a coach manages that has not applied yet.
type EligibleTeam struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Status       string    `json:"status"`
	IsActive     bool      `json:"is_active"`
	PlayersCount int       `json:"players_count"`
	CreatedAt    time.Time `json:"created_at"`
}

type ApplyInput struct {
	TeamID string `json:"team_id" validate:"required,uuid"`
}

type ReviewInput struct {
	Status          string  `json:"status" validate:"required,oneof=pending approved rejected"`
	RejectionReason *string `json:"rejection_reason" validate:"omitempty,max=500"`
}

type Filter struct {
	Status string
	Skip   int
	Limit  int
}
