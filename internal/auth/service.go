package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"tournaments-backend/internal/validation"
)

const (
	passwordRules     = "required,min=8,max=72"
	dummyPassword     = "tournaments-dummy-password"
	defaultReuseGrace = 10 * time.Second
)

type Service struct {
	users          UserStore
	ledger         TokenLedger
	signer         *Signer
	hasher         PasswordHasher
	now            func() time.Time
	reuseDetection bool
	reuseGrace     time.Duration

	dummyOnce sync.Once
	dummyHash string
}

type ServiceOption func(*Service)

func WithHasher(hasher PasswordHasher) ServiceOption {
	return func(s *Service) {
		if hasher != nil {
			s.hasher = hasher
		}
	}
}

func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithReuseDetection controls whether presenting an already rotated refresh
// token revokes the rest of its rotation chain.
func WithReuseDetection(enabled bool) ServiceOption {
	return func(s *Service) {
		s.reuseDetection = enabled
	}
}

// WithReuseGrace sets how long after a rotation a replay of the rotated token
// is treated as a client retry rather than theft. Zero disables the grace.
func WithReuseGrace(grace time.Duration) ServiceOption {
	return func(s *Service) {
		if grace >= 0 {
			s.reuseGrace = grace
		}
	}
}

func NewService(users UserStore, ledger TokenLedger, signer *Signer, opts ...ServiceOption) *Service {
	s := &Service{
		users:          users,
		ledger:         ledger,
		signer:         signer,
		hasher:         NewBcryptHasher(0),
		now:            time.Now,
		reuseDetection: true,
		reuseGrace:     defaultReuseGrace,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type RegisterInput struct {
	Email    string  `json:"email" validate:"required,email,max=254"`
	Password string  `json:"password" validate:"required,min=8,max=72"`
	Role     string  `json:"role" validate:"required,oneof=player coach admin"`
	Nickname *string `json:"nickname" validate:"omitempty,max=50"`
}

// Register creates a user with its role profile. Emails are trimmed but keep their case.
func (s *Service) Register(ctx context.Context, input RegisterInput) (User, error) {
	input.Email = strings.TrimSpace(input.Email)
	input.Role = strings.TrimSpace(input.Role)

	var nickname *string
	if input.Nickname != nil {
		if value := strings.TrimSpace(*input.Nickname); value != "" {
			nickname = &value
		}
	}
	input.Nickname = nickname

	if err := validation.Struct(input); err != nil {
		return User{}, invalidInput(err)
	}
	role, ok := ParseRole(input.Role)
	if !ok {
		return User{}, fmt.Errorf("%w: role must be one of player, coach, admin", ErrInvalid)
	}

	hash, err := s.hasher.Hash(input.Password)
	if err != nil {
		return User{}, err
	}

	return s.users.Create(ctx, NewUser{
		Email:        input.Email,
		PasswordHash: hash,
		Role:         role,
		Nickname:     nickname,
	})
}

// Authenticate returns ErrInvalidCredentials for unknown emails, inactive
// users and wrong passwords alike.
func (s *Service) Authenticate(ctx context.Context, email, password string) (User, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return User{}, ErrInvalidCredentials
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.burnCompare(password)
			return User{}, ErrInvalidCredentials
		}
		return User{}, err
	}

	match, err := s.hasher.Verify(password, user.PasswordHash)
	if err != nil {
		return User{}, err
	}
	if !match || !user.IsActive {
		return User{}, ErrInvalidCredentials
	}
	return user, nil
}

// IssueSession signs a new access/refresh pair and records the refresh jti.
// No tokens are returned unless the ledger write succeeds.
func (s *Service) IssueSession(ctx context.Context, user User, client ClientInfo) (Session, error) {
	jti := uuid.NewString()
	session, refreshExpiresAt, err := s.signPair(identityOf(user), jti)
	if err != nil {
		return Session{}, err
	}

	record := s.newRecord(jti, user.ID, refreshExpiresAt, client)
	if err := s.ledger.Record(ctx, record); err != nil {
		return Session{}, err
	}
	return session, nil
}

func (s *Service) Login(ctx context.Context, email, password string, client ClientInfo) (Session, error) {
	user, err := s.Authenticate(ctx, email, password)
	if err != nil {
		return Session{}, err
	}
	return s.IssueSession(ctx, user, client)
}

// Refresh exchanges a valid refresh token for a new pair. The presented token
// can succeed at most once.
func (s *Service) Refresh(ctx context.Context, refreshToken string, client ClientInfo) (Session, error) {
	claims, err := s.signer.Verify(refreshToken, TokenRefresh)
	if err != nil {
		return Session{}, err
	}
	if claims.ID == "" || claims.Subject == "" {
		return Session{}, ErrTokenMalformed
	}
	if _, err := uuid.Parse(claims.ID); err != nil {
		return Session{}, ErrTokenMalformed
	}

	user, err := s.users.FindByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Session{}, ErrRefreshInvalid
		}
		return Session{}, err
	}
	if !user.IsActive {
		return Session{}, ErrRefreshInvalid
	}

	nextJTI := uuid.NewString()
	session, refreshExpiresAt, err := s.signPair(identityOf(user), nextJTI)
	if err != nil {
		return Session{}, err
	}

	next := s.newRecord(nextJTI, user.ID, refreshExpiresAt, client)
	if err := s.ledger.Rotate(ctx, claims.ID, user.ID, next); err != nil {
		if errors.Is(err, ErrRefreshReused) && s.reuseDetection && !s.withinReuseGrace(ctx, claims.ID) {
			if _, revokeErr := s.ledger.RevokeChain(ctx, claims.ID); revokeErr != nil {
				return Session{}, fmt.Errorf("revoke reused refresh chain: %w", revokeErr)
			}
		}
		return Session{}, err
	}
	return session, nil
}

// withinReuseGrace reports whether jti was rotated so recently that a second
// presentation is most likely a retried or double-submitted request.
func (s *Service) withinReuseGrace(ctx context.Context, jti string) bool {
	if s.reuseGrace <= 0 {
		return false
	}
	record, err := s.ledger.Find(ctx, jti)
	if err != nil || record.RevokedAt == nil {
		return false
	}
	return s.now().Sub(*record.RevokedAt) < s.reuseGrace
}

// Logout revokes the presented refresh token. Revoking twice is not an error.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	claims, err := s.signer.Verify(refreshToken, TokenRefresh)
	if err != nil {
		return err
	}
	if claims.ID == "" {
		return ErrTokenMalformed
	}
	if _, err := uuid.Parse(claims.ID); err != nil {
		return ErrTokenMalformed
	}
	return s.ledger.Revoke(ctx, claims.ID)
}

// LogoutAll revokes every active refresh token of the token's subject. Access
// tokens already issued stay valid until they expire.
func (s *Service) LogoutAll(ctx context.Context, token string) (int64, error) {
	claims, err := s.signer.Verify(token, TokenRefresh)
	if err != nil {
		var accessErr error
		claims, accessErr = s.signer.Verify(token, TokenAccess)
		if accessErr != nil {
			return 0, err
		}
	}
	if claims.Subject == "" {
		return 0, ErrTokenMalformed
	}
	return s.ledger.RevokeAllForUser(ctx, claims.Subject)
}

// UpdatePassword replaces the stored hash. Existing sessions are kept.
func (s *Service) UpdatePassword(ctx context.Context, userID, newPassword string) error {
	if err := validation.Var("password", newPassword, passwordRules); err != nil {
		return invalidInput(err)
	}
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	return s.users.UpdatePassword(ctx, userID, hash)
}

// ResetPassword is the admin override: it sets a new password without the
// current one and signs the user out everywhere.
func (s *Service) ResetPassword(ctx context.Context, userID, newPassword string) error {
	if err := s.UpdatePassword(ctx, userID, newPassword); err != nil {
		return err
	}
	if _, err := s.ledger.RevokeAllForUser(ctx, userID); err != nil {
		return fmt.Errorf("revoke sessions after password reset: %w", err)
	}
	return nil
}

func (s *Service) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	user, err := s.CurrentUser(ctx, userID)
	if err != nil {
		return err
	}
	match, err := s.hasher.Verify(currentPassword, user.PasswordHash)
	if err != nil {
		return err
	}
	if !match {
		return ErrInvalidCredentials
	}
	return s.UpdatePassword(ctx, user.ID, newPassword)
}

// CurrentUser loads an active user by id; inactive users are reported as ErrNotFound.
func (s *Service) CurrentUser(ctx context.Context, userID string) (User, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return User{}, err
	}
	if !user.IsActive {
		return User{}, ErrNotFound
	}
	return user, nil
}

func (s *Service) SetAvatar(ctx context.Context, userID, avatarURL string) (User, error) {
	avatarURL = strings.TrimSpace(avatarURL)
	if avatarURL == "" {
		return User{}, fmt.Errorf("%w: avatar url is empty", ErrInvalid)
	}
	return s.users.SetAvatarURL(ctx, userID, avatarURL)
}

func (s *Service) VerifyAccess(token string) (*Claims, error) {
	return s.signer.Verify(token, TokenAccess)
}

func (s *Service) BootstrapAdmin(ctx context.Context, email, password string) error {
	email = strings.TrimSpace(email)
	password = strings.TrimSpace(password)

	if email == "" && password == "" {
		return nil
	}
	if email == "" || password == "" {
		return fmt.Errorf("%w: admin email and password are required together", ErrInvalid)
	}

	if err := validation.Var("admin email", email, "required,email"); err != nil {
		return invalidInput(err)
	}
	if err := validation.Var("admin password", password, passwordRules); err != nil {
		return invalidInput(err)
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return err
	}
	return s.users.EnsureAdmin(ctx, email, hash)
}

func (s *Service) signPair(id Identity, jti string) (Session, time.Time, error) {
	access, _, err := s.signer.IssueAccess(id)
	if err != nil {
		return Session{}, time.Time{}, err
	}
	refresh, refreshExpiresAt, err := s.signer.IssueRefresh(id, jti)
	if err != nil {
		return Session{}, time.Time{}, err
	}

	return Session{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresIn:    int64(s.signer.AccessTTL().Seconds()),
	}, refreshExpiresAt, nil
}

func (s *Service) newRecord(jti, userID string, expiresAt time.Time, client ClientInfo) RefreshTokenRecord {
	return RefreshTokenRecord{
		JTI:       jti,
		UserID:    userID,
		CreatedAt: s.now().UTC(),
		ExpiresAt: expiresAt,
		IP:        optionalString(client.IP),
		UserAgent: optionalString(client.UserAgent),
	}
}

// burnCompare spends one bcrypt comparison so unknown emails take as long as known ones.
func (s *Service) burnCompare(password string) {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = s.hasher.Hash(dummyPassword)
	})
	if s.dummyHash != "" {
		_, _ = s.hasher.Verify(password, s.dummyHash)
	}
}

func identityOf(user User) Identity {
	return Identity{UserID: user.ID, Email: user.Email, Role: user.Role}
}

func invalidInput(err error) error {
	return fmt.Errorf("%w: %s", ErrInvalid, err.Error())
}

func optionalString(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
