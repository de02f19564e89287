package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type TokenType string

const (
	TokenAccess  TokenType = "access"
	TokenRefresh TokenType = "refresh"
)

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour
	defaultLeeway     = 30 * time.Second
)

// Identity is the subject data embedded in every signed token.
type Identity struct {
	UserID string
	Email  string
	Role   Role
}

type Claims struct {
	jwt.RegisteredClaims
	Email string    `json:"email,omitempty"`
	Role  Role      `json:"role,omitempty"`
	Type  TokenType `json:"type"`
}

func (c *Claims) Identity() Identity {
	return Identity{UserID: c.Subject, Email: c.Email, Role: c.Role}
}

// Signer issues and verifies HS256 tokens. Access and refresh tokens are
// signed with different secrets.
type Signer struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	leeway        time.Duration
	now           func() time.Time
}

type SignerOption func(*Signer)

func WithTTLs(accessTTL, refreshTTL time.Duration) SignerOption {
	return func(s *Signer) {
		if accessTTL > 0 {
			s.accessTTL = accessTTL
		}
		if refreshTTL > 0 {
			s.refreshTTL = refreshTTL
		}
	}
}

func WithSignerClock(fn func() time.Time) SignerOption {
	return func(s *Signer) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithLeeway tolerates clock skew between instances when checking iat and exp.
func WithLeeway(leeway time.Duration) SignerOption {
	return func(s *Signer) {
		if leeway >= 0 {
			s.leeway = leeway
		}
	}
}

func NewSigner(accessSecret, refreshSecret string, opts ...SignerOption) (*Signer, error) {
	accessSecret = strings.TrimSpace(accessSecret)
	refreshSecret = strings.TrimSpace(refreshSecret)
	if accessSecret == "" || refreshSecret == "" {
		return nil, errors.New("auth: access and refresh secrets are required")
	}
	if accessSecret == refreshSecret {
		return nil, errors.New("auth: access and refresh secrets must differ")
	}

	s := &Signer{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     defaultAccessTTL,
		refreshTTL:    defaultRefreshTTL,
		leeway:        defaultLeeway,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Signer) AccessTTL() time.Duration  { return s.accessTTL }
func (s *Signer) RefreshTTL() time.Duration { return s.refreshTTL }

func (s *Signer) IssueAccess(id Identity) (string, time.Time, error) {
	return s.issue(id, TokenAccess, "")
}

func (s *Signer) IssueRefresh(id Identity, jti string) (string, time.Time, error) {
	if jti == "" {
		return "", time.Time{}, errors.New("auth: refresh token requires a jti")
	}
	return s.issue(id, TokenRefresh, jti)
}

func (s *Signer) issue(id Identity, typ TokenType, jti string) (string, time.Time, error) {
	now := s.now().UTC()
	expiresAt := now.Add(s.ttl(typ))

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Email: id.Email,
		Role:  id.Role,
		Type:  typ,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	encoded, err := token.SignedString(s.secret(typ))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign %s token: %w", typ, err)
	}
	return encoded, expiresAt, nil
}

// Verify checks signature, expiry and the type discriminator. The returned
// error is one of ErrTokenMalformed, ErrTokenSignature, ErrTokenExpired or
// ErrTokenType.
func (s *Signer) Verify(tokenString string, expected TokenType) (*Claims, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return nil, ErrTokenMalformed
	}

	claims, err := s.parse(tokenString, s.secret(expected))
	if err != nil {
		if errors.Is(err, ErrTokenSignature) {
			// A token of the other family is signed with the other secret.
			if other, otherErr := s.parse(tokenString, s.secret(expected.other())); otherErr == nil && other.Type != expected {
				return nil, ErrTokenType
			}
		}
		return nil, err
	}
	if claims.Type != expected {
		return nil, ErrTokenType
	}
	return claims, nil
}

func (s *Signer) parse(tokenString string, secret []byte) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(s.leeway),
	)
	if err != nil {
		return nil, classifyJWTError(err)
	}
	if !token.Valid {
		return nil, ErrTokenSignature
	}
	return claims, nil
}

func (t TokenType) other() TokenType {
	if t == TokenRefresh {
		return TokenAccess
	}
	return TokenRefresh
}

func (s *Signer) ttl(typ TokenType) time.Duration {
	if typ == TokenRefresh {
		return s.refreshTTL
	}
	return s.accessTTL
}

func (s *Signer) secret(typ TokenType) []byte {
	if typ == TokenRefresh {
		return s.refreshSecret
	}
	return s.accessSecret
}

func classifyJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrTokenSignature
	default:
		return ErrTokenMalformed
	}
}
