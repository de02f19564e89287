package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

type principalKey struct{}

// AccessVerifier checks access tokens. *Service satisfies it.
type AccessVerifier interface {
	VerifyAccess(token string) (*Claims, error)
}

// RequireAccess rejects requests without a valid bearer access token and
// stores the token's identity in the request context.
func RequireAccess(verifier AccessVerifier, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing or malformed authorization header")
			return
		}

		claims, err := verifier.VerifyAccess(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, tokenErrorMessage(err))
			return
		}
		if claims.Subject == "" {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), claims.Identity())))
	})
}

// RequireRole must run behind RequireAccess.
func RequireRole(roles ...Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := PrincipalFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}
			for _, role := range roles {
				if principal.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, http.StatusForbidden, "insufficient role")
		})
	}
}

func WithPrincipal(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, principalKey{}, id)
}

func PrincipalFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(principalKey{}).(Identity)
	return id, ok
}

func bearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// tokenErrorMessage keeps expired and tampered tokens indistinguishable in
// status code while still giving the client a readable hint.
func tokenErrorMessage(err error) string {
	switch {
	case errors.Is(err, ErrTokenExpired):
		return "token expired"
	case errors.Is(err, ErrTokenType):
		return "invalid token type"
	default:
		return "invalid token"
	}
}
