package auth

import "context"

// UserStore persists credential records and their role profiles.
type UserStore interface {
	Create(ctx context.Context, user NewUser) (User, error)
	FindByEmail(ctx context.Context, email string) (User, error)
	FindByID(ctx context.Context, id string) (User, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	SetAvatarURL(ctx context.Context, id, avatarURL string) (User, error)
	EnsureAdmin(ctx context.Context, email, passwordHash string) error
}

// TokenLedger tracks issued refresh tokens by jti.
type TokenLedger interface {
	Record(ctx context.Context, record RefreshTokenRecord) error
	Find(ctx context.Context, jti string) (RefreshTokenRecord, error)
	IsValid(ctx context.Context, jti string) (bool, error)
	Revoke(ctx context.Context, jti string) error
	RevokeAllForUser(ctx context.Context, userID string) (int64, error)
	// Rotate atomically revokes oldJTI and records next as its successor.
	Rotate(ctx context.Context, oldJTI, userID string, next RefreshTokenRecord) error
	RevokeChain(ctx context.Context, jti string) (int64, error)
}
