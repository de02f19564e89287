package team

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"

	"tournaments-backend/internal/auth"
	"tournaments-backend/internal/validation"
)

const (
	maxJSONBodyBytes = 1 << 20
	defaultPageLimit = 20
	maxPageLimit     = 100
)

type Store interface {
	Create(ctx context.Context, ownerID string, input CreateInput) (Team, error)
	ListManagedBy(ctx context.Context, userID string) ([]Team, error)
	List(ctx context.Context, page Page) ([]Team, error)
	Get(ctx context.Context, id string) (Team, error)
	Update(ctx context.Context, id string, input UpdateInput) (Team, error)
	Deactivate(ctx context.Context, id string) error
	AddMember(ctx context.Context, teamID string, input MemberInput) (Member, error)
	RemoveMember(ctx context.Context, teamID, userID string) error
	SetMemberStatus(ctx context.Context, teamID, userID, status string) (Member, error)
}

// Handler serves the coach dashboard and the admin team screens. Every
// method must be mounted behind auth.RequireAccess.
type Handler struct {
	store Store
}

func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// CreateOwn creates a team owned and coached by the caller.
func (h *Handler) CreateOwn(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalOf(w, r)
	if !ok {
		return
	}

	var input CreateInput
	if !decodeJSON(w, r, &input) {
		return
	}
	input.Name = strings.TrimSpace(input.Name)
	if err := validation.Struct(input); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	t, err := h.store.Create(r.Context(), principal.UserID, input)
	if err != nil {
		h.storeError(w, err, "failed to create team")
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (h *Handler) ListOwn(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalOf(w, r)
	if !ok {
		return
	}

	teams, err := h.store.ListManagedBy(r.Context(), principal.UserID)
	if err != nil {
		h.storeError(w, err, "failed to list teams")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"teams": teams})
}

// AddPlayer lets the owner or coach of an active team invite a player.
func (h *Handler) AddPlayer(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalOf(w, r)
	if !ok {
		return
	}
	teamID, ok := parseID(w, r, "id", "invalid team id")
	if !ok {
		return
	}

	t, err := h.store.Get(r.Context(), teamID)
	if err != nil {
		h.storeError(w, err, "failed to load team")
		return
	}
	if !t.IsActive {
		writeError(w, http.StatusNotFound, "team not found")
		return
	}
	if !t.ManagedBy(principal.UserID) && principal.Role != auth.RoleAdmin {
		writeError(w, http.StatusForbidden, "not coach of this team")
		return
	}

	h.addMember(w, r, teamID)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	page, ok := parsePage(w, r)
	if !ok {
		return
	}

	teams, err := h.store.List(r.Context(), page)
	if err != nil {
		h.storeError(w, err, "failed to list teams")
		return
	}
	writeJSON(w, http.StatusOK, teams)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id", "invalid team id")
	if !ok {
		return
	}

	t, err := h.store.Get(r.Context(), id)
	if err != nil {
		h.storeError(w, err, "failed to load team")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id", "invalid team id")
	if !ok {
		return
	}

	var input UpdateInput
	if !decodeJSON(w, r, &input) {
		return
	}
	if input.Name != nil {
		*input.Name = strings.TrimSpace(*input.Name)
	}
	if err := validation.Struct(input); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	t, err := h.store.Update(r.Context(), id, input)
	if err != nil {
		h.storeError(w, err, "failed to update team")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id", "invalid team id")
	if !ok {
		return
	}

	if err := h.store.Deactivate(r.Context(), id); err != nil {
		h.storeError(w, err, "failed to delete team")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) AddMember(w http.ResponseWriter, r *http.Request) {
	teamID, ok := parseID(w, r, "id", "invalid team id")
	if !ok {
		return
	}
	h.addMember(w, r, teamID)
}

func (h *Handler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	teamID, ok := parseID(w, r, "id", "invalid team id")
	if !ok {
		return
	}
	userID, ok := parseID(w, r, "user_id", "invalid user id")
	if !ok {
		return
	}

	if err := h.store.RemoveMember(r.Context(), teamID, userID); err != nil {
		h.storeError(w, err, "failed to remove member")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) SetMemberStatus(w http.ResponseWriter, r *http.Request) {
	teamID, ok := parseID(w, r, "id", "invalid team id")
	if !ok {
		return
	}
	userID, ok := parseID(w, r, "user_id", "invalid user id")
	if !ok {
		return
	}

	var input MemberStatusInput
	if !decodeJSON(w, r, &input) {
		return
	}
	input.Status = strings.TrimSpace(input.Status)
	if err := validation.Struct(input); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	m, err := h.store.SetMemberStatus(r.Context(), teamID, userID, input.Status)
	if err != nil {
		h.storeError(w, err, "failed to update member")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handler) addMember(w http.ResponseWriter, r *http.Request, teamID string) {
	var input MemberInput
	if !decodeJSON(w, r, &input) {
		return
	}
	input.UserID = strings.TrimSpace(input.UserID)
	input.Role = strings.TrimSpace(input.Role)
	if input.Role == "" {
		input.Role = DefaultMemberRole
	}
	if err := validation.Struct(input); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	m, err := h.store.AddMember(r.Context(), teamID, input)
	if err != nil {
		h.storeError(w, err, "failed to add member")
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (h *Handler) storeError(w http.ResponseWriter, err error, message string) {
	switch {
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "team not found")
	case errors.Is(err, ErrMemberNotFound):
		writeError(w, http.StatusNotFound, "membership not found")
	case errors.Is(err, ErrUserNotFound):
		writeError(w, http.StatusNotFound, "user not found")
	default:
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, message)
	}
}

func principalOf(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
	}
	return principal, ok
}

func parsePage(w http.ResponseWriter, r *http.Request) (Page, bool) {
	page := Page{Skip: 0, Limit: defaultPageLimit}
	query := r.URL.Query()

	if raw := query.Get("skip"); raw != "" {
		skip, err := strconv.Atoi(raw)
		if err != nil || skip < 0 {
			writeError(w, http.StatusBadRequest, "skip must be a non-negative integer")
			return Page{}, false
		}
		page.Skip = skip
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > maxPageLimit {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 100")
			return Page{}, false
		}
		page.Limit = limit
	}
	return page, true
}

func parseID(w http.ResponseWriter, r *http.Request, name, message string) (string, bool) {
	id := r.PathValue(name)
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, message)
		return "", false
	}
	return id, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
