package team

import (
	"errors"
	"time"
)

var (
	ErrNotFound       = errors.New("team: not found")
	ErrMemberNotFound = errors.New("team: membership not found")
	ErrUserNotFound   = errors.New("team: user not found")
)

const (
	MemberPending  = "pending"
	MemberActive   = "active"
	MemberRejected = "rejected"

	DefaultMemberRole = "member"
)

type Team struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	OwnerUserID  *string   `json:"owner_user_id"`
	CoachUserID  *string   `json:"coach_user_id"`
	Status       string    `json:"status"`
	IsActive     bool      `json:"is_active"`
	PlayersCount int       `json:"players_count"`
	Members      []Member  `json:"members,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ManagedBy reports whether userID owns or coaches the team.
func (t Team) ManagedBy(userID string) bool {
	return (t.OwnerUserID != nil && *t.OwnerUserID == userID) ||
		(t.CoachUserID != nil && *t.CoachUserID == userID)
}

type Member struct {
	TeamID   string    `json:"team_id"`
	UserID   string    `json:"user_id"`
	Email    string    `json:"email,omitempty"`
	Role     string    `json:"role"`
	Status   string    `json:"status"`
	JoinedAt time.Time `json:"joined_at"`
}

type CreateInput struct {
	Name string `json:"name" validate:"required,max=100"`
}

// UpdateInput is a partial update: nil fields keep their stored value.
type UpdateInput struct {
	Name        *string `json:"name" validate:"omitempty,min=1,max=100"`
	CoachUserID *string `json:"coach_user_id" validate:"omitempty,uuid"`
	IsActive    *bool   `json:"is_active"`
}

type MemberInput struct {
	UserID string `json:"user_id" validate:"required,uuid"`
	Role   string `json:"role" validate:"required,oneof=member captain substitute"`
}

type MemberStatusInput struct {
	Status string `json:"status" validate:"required,oneof=pending active rejected"`
}

type Page struct {
	Skip  int
	Limit int
}
