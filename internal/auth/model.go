package auth

import "time"

type Role string

const (
	RolePlayer Role = "player"
	RoleCoach  Role = "coach"
	RoleAdmin  Role = "admin"
)

func ParseRole(value string) (Role, bool) {
	switch Role(value) {
	case RolePlayer, RoleCoach, RoleAdmin:
		return Role(value), true
	default:
		return "", false
	}
}

type User struct {
	ID           string
	Email        string
	PasswordHash string
	Role         Role
	IsActive     bool
	AvatarURL    *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type NewUser struct {
	Email        string
	PasswordHash string
	Role         Role
	Nickname     *string
}

// RefreshTokenRecord is one ledger row. Rows are only ever revoked, never deleted.
type RefreshTokenRecord struct {
	JTI           string
	UserID        string
	CreatedAt     time.Time
	ExpiresAt     time.Time
	Revoked       bool
	RevokedAt     *time.Time
	ReplacedByJTI *string
	IP            *string
	UserAgent     *string
}

func (r RefreshTokenRecord) ValidAt(now time.Time) bool {
	return !r.Revoked && now.Before(r.ExpiresAt)
}

// ClientInfo is diagnostic data stored alongside an issued refresh token.
type ClientInfo struct {
	IP        string
	UserAgent string
}

type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}
