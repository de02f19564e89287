package auth

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/getsentry/sentry-go"
)

const maxJSONBodyBytes = 1 << 20

// EventRecorder counts auth outcomes, e.g. ("login", "failure").
type EventRecorder interface {
	AuthEvent(event, outcome string)
}

type noopRecorder struct{}

func (noopRecorder) AuthEvent(string, string) {}

type Handler struct {
	service  *Service
	events   EventRecorder
	resolver *ClientIPResolver
}

type HandlerOption func(*Handler)

func WithEventRecorder(events EventRecorder) HandlerOption {
	return func(h *Handler) {
		if events != nil {
			h.events = events
		}
	}
}

// WithClientIPResolver decides which address is stored with refresh tokens.
func WithClientIPResolver(resolver *ClientIPResolver) HandlerOption {
	return func(h *Handler) { h.resolver = resolver }
}

func NewHandler(service *Service, opts ...HandlerOption) *Handler {
	h := &Handler{service: service, events: noopRecorder{}}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type registerRequest struct {
	Email    string  `json:"email"`
	Password string  `json:"password"`
	Role     string  `json:"role"`
	Nickname *string `json:"nickname"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type UserResponse struct {
	ID        string  `json:"id"`
	Email     string  `json:"email"`
	Role      Role    `json:"role"`
	AvatarURL *string `json:"avatar_url"`
}

func NewUserResponse(user User) UserResponse {
	return UserResponse{ID: user.ID, Email: user.Email, Role: user.Role, AvatarURL: user.AvatarURL}
}

type detailResponse struct {
	Detail string `json:"detail"`
}

// Register is public for players and coaches. Creating an admin requires a
// Bearer access token of an existing admin.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var body registerRequest
	if !decodeJSON(w, r, &body, false) {
		return
	}
	if Role(strings.TrimSpace(body.Role)) == RoleAdmin && !h.callerIsAdmin(r) {
		h.events.AuthEvent("register", "forbidden")
		writeError(w, http.StatusForbidden, "only an admin can create admin accounts")
		return
	}

	user, err := h.service.Register(r.Context(), RegisterInput{
		Email:    body.Email,
		Password: body.Password,
		Role:     body.Role,
		Nickname: body.Nickname,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalid):
			h.events.AuthEvent("register", "invalid")
			writeError(w, http.StatusBadRequest, inputErrorMessage(err))
		case errors.Is(err, ErrConflict):
			h.events.AuthEvent("register", "conflict")
			writeError(w, http.StatusConflict, "email already registered")
		default:
			h.internalError(w, "register", err, "failed to register")
		}
		return
	}

	h.events.AuthEvent("register", "success")
	writeJSON(w, http.StatusCreated, NewUserResponse(user))
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var body loginRequest
	if !decodeJSON(w, r, &body, false) {
		return
	}
	if strings.TrimSpace(body.Email) == "" || body.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	session, err := h.service.Login(r.Context(), body.Email, body.Password, h.clientInfo(r))
	if err != nil {
		if errors.Is(err, ErrUnauthenticated) {
			h.events.AuthEvent("login", "failure")
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		h.internalError(w, "login", err, "failed to login")
		return
	}

	h.events.AuthEvent("login", "success")
	writeJSON(w, http.StatusOK, session)
}

// Refresh rotates the presented token. A token that was already rotated is
// rejected with 401. When it was rotated within the service's reuse grace
// (a retried or double-submitted request) the successor stays valid; a later
// replay revokes every token descended from it, logging that client out.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var body tokenRequest
	if !decodeJSON(w, r, &body, false) {
		return
	}
	body.RefreshToken = strings.TrimSpace(body.RefreshToken)
	if body.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "refresh_token is required")
		return
	}

	session, err := h.service.Refresh(r.Context(), body.RefreshToken, h.clientInfo(r))
	if err != nil {
		if errors.Is(err, ErrUnauthenticated) {
			outcome := "failure"
			if errors.Is(err, ErrRefreshReused) {
				outcome = "reuse"
			}
			h.events.AuthEvent("refresh", outcome)
			writeError(w, http.StatusUnauthorized, refreshErrorMessage(err))
			return
		}
		h.internalError(w, "refresh", err, "failed to refresh token")
		return
	}

	h.events.AuthEvent("refresh", "success")
	writeJSON(w, http.StatusOK, session)
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	var body tokenRequest
	if !decodeJSON(w, r, &body, false) {
		return
	}
	body.RefreshToken = strings.TrimSpace(body.RefreshToken)
	if body.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "refresh_token is required")
		return
	}

	if err := h.service.Logout(r.Context(), body.RefreshToken); err != nil {
		switch {
		case errors.Is(err, ErrTokenType):
			h.events.AuthEvent("logout", "invalid")
			writeError(w, http.StatusBadRequest, "refresh token required")
		case errors.Is(err, ErrUnauthenticated):
			h.events.AuthEvent("logout", "failure")
			writeError(w, http.StatusUnauthorized, tokenErrorMessage(err))
		default:
			h.internalError(w, "logout", err, "failed to logout")
		}
		return
	}

	h.events.AuthEvent("logout", "success")
	writeJSON(w, http.StatusOK, detailResponse{Detail: "logged out"})
}

// LogoutAll reads the token from the refresh_token field and falls back to
// the Authorization header. The body may be empty.
func (h *Handler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	var body tokenRequest
	if !decodeJSON(w, r, &body, true) {
		return
	}
	token := strings.TrimSpace(body.RefreshToken)
	if token == "" {
		token, _ = bearerToken(r)
	}
	if token == "" {
		writeError(w, http.StatusBadRequest, "refresh_token or bearer token is required")
		return
	}

	revoked, err := h.service.LogoutAll(r.Context(), token)
	if err != nil {
		if errors.Is(err, ErrUnauthenticated) {
			h.events.AuthEvent("logout_all", "failure")
			writeError(w, http.StatusUnauthorized, tokenErrorMessage(err))
			return
		}
		h.internalError(w, "logout_all", err, "failed to logout")
		return
	}

	h.events.AuthEvent("logout_all", "success")
	writeJSON(w, http.StatusOK, map[string]any{
		"detail":  "all sessions revoked",
		"revoked": revoked,
	})
}

// Me must be mounted behind RequireAccess.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	user, err := h.service.CurrentUser(r.Context(), principal.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		h.internalError(w, "me", err, "failed to load user")
		return
	}

	writeJSON(w, http.StatusOK, NewUserResponse(user))
}

// ChangePassword must be mounted behind RequireAccess. Existing sessions stay valid.
func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var body changePasswordRequest
	if !decodeJSON(w, r, &body, false) {
		return
	}
	if body.CurrentPassword == "" || body.NewPassword == "" {
		writeError(w, http.StatusBadRequest, "current_password and new_password are required")
		return
	}

	err := h.service.ChangePassword(r.Context(), principal.UserID, body.CurrentPassword, body.NewPassword)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidCredentials):
			h.events.AuthEvent("change_password", "failure")
			writeError(w, http.StatusBadRequest, "current password is incorrect")
		case errors.Is(err, ErrInvalid):
			writeError(w, http.StatusBadRequest, inputErrorMessage(err))
		case errors.Is(err, ErrNotFound):
			writeError(w, http.StatusNotFound, "user not found")
		default:
			h.internalError(w, "change_password", err, "failed to update password")
		}
		return
	}

	h.events.AuthEvent("change_password", "success")
	writeJSON(w, http.StatusOK, detailResponse{Detail: "password updated"})
}

func (h *Handler) callerIsAdmin(r *http.Request) bool {
	token, ok := bearerToken(r)
	if !ok {
		return false
	}
	claims, err := h.service.VerifyAccess(token)
	return err == nil && claims.Role == RoleAdmin
}

func (h *Handler) internalError(w http.ResponseWriter, event string, err error, message string) {
	h.events.AuthEvent(event, "error")
	sentry.CaptureException(err)
	writeError(w, http.StatusInternalServerError, message)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) && allowEmpty {
			return true
		}
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}

func (h *Handler) clientInfo(r *http.Request) ClientInfo {
	return ClientInfo{IP: h.resolver.ClientIP(r), UserAgent: r.UserAgent()}
}

// inputErrorMessage strips the package prefix from validation errors.
func inputErrorMessage(err error) string {
	message := err.Error()
	if _, detail, found := strings.Cut(message, ErrInvalid.Error()+": "); found {
		return detail
	}
	return "invalid input"
}

func refreshErrorMessage(err error) string {
	switch {
	case errors.Is(err, ErrRefreshInvalid):
		return "refresh token invalid or revoked"
	default:
		return tokenErrorMessage(err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
