package registration

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
	defaultPageLimit = 50
	maxPageLimit     = 100
)

type Store interface {
	Register(ctx context.Context, tournamentID, teamID, userID string) (Participant, error)
	AddParticipant(ctx context.Context, tournamentID, teamID string) (Participant, error)
	EligibleTeams(ctx context.Context, tournamentID, coachID string) ([]EligibleTeam, error)
	List(ctx context.Context, filter Filter) ([]Participant, error)
	Review(ctx context.Context, id, reviewerID string, input ReviewInput) (Participant, error)
}

// Handler must be mounted behind auth.RequireAccess.
type Handler struct {
	store Store
}

func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// Register applies a team the caller belongs to. The team's current members
// are registered as pending alongside it.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalOf(w, r)
	if !ok {
		return
	}
	tournamentID, ok := parseID(w, r, "id", "invalid tournament id")
	if !ok {
		return
	}
	input, ok := decodeApply(w, r)
	if !ok {
		return
	}

	p, err := h.store.Register(r.Context(), tournamentID, input.TeamID, principal.UserID)
	if err != nil {
		h.storeError(w, err, "failed to register team")
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// EligibleTeams is limited to the coach in the path and admins.
func (h *Handler) EligibleTeams(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalOf(w, r)
	if !ok {
		return
	}
	tournamentID, ok := parseID(w, r, "id", "invalid tournament id")
	if !ok {
		return
	}
	coachID, ok := parseID(w, r, "coach_id", "invalid coach id")
	if !ok {
		return
	}
	if principal.UserID != coachID && principal.Role != auth.RoleAdmin {
		writeError(w, http.StatusForbidden, "can only list your own teams")
		return
	}

	teams, err := h.store.EligibleTeams(r.Context(), tournamentID, coachID)
	if err != nil {
		h.storeError(w, err, "failed to list eligible teams")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"teams": teams})
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	filter, ok := parseFilter(w, r)
	if !ok {
		return
	}

	participants, err := h.store.List(r.Context(), filter)
	if err != nil {
		h.storeError(w, err, "failed to list registrations")
		return
	}
	writeJSON(w, http.StatusOK, participants)
}

// Review approves, rejects or reopens an application on behalf of the calling admin.
func (h *Handler) Review(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalOf(w, r)
	if !ok {
		return
	}
	id, ok := parseID(w, r, "id", "invalid participant id")
	if !ok {
		return
	}

	var input ReviewInput
	if !decodeJSON(w, r, &input) {
		return
	}
	input.Status = strings.TrimSpace(input.Status)
	if input.RejectionReason != nil {
		reason := strings.TrimSpace(*input.RejectionReason)
		input.RejectionReason = &reason
		if reason == "" {
			input.RejectionReason = nil
		}
	}
	if err := validation.Struct(input); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	p, err := h.store.Review(r.Context(), id, principal.UserID, input)
	if err != nil {
		h.storeError(w, err, "failed to review registration")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// AddParticipant registers any active team without a membership check.
func (h *Handler) AddParticipant(w http.ResponseWriter, r *http.Request) {
	tournamentID, ok := parseID(w, r, "id", "invalid tournament id")
	if !ok {
		return
	}
	input, ok := decodeApply(w, r)
	if !ok {
		return
	}

	p, err := h.store.AddParticipant(r.Context(), tournamentID, input.TeamID)
	if err != nil {
		h.storeError(w, err, "failed to add participant")
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *Handler) storeError(w http.ResponseWriter, err error, message string) {
	switch {
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "participant not found")
	case errors.Is(err, ErrTournamentUnavailable):
		writeError(w, http.StatusNotFound, "tournament not available")
	case errors.Is(err, ErrTeamUnavailable):
		writeError(w, http.StatusNotFound, "team not available")
	case errors.Is(err, ErrNotTeamMember):
		writeError(w, http.StatusForbidden, "you cannot register this team")
	case errors.Is(err, ErrAlreadyRegistered):
		writeError(w, http.StatusConflict, "team already registered for this tournament")
	default:
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, message)
	}
}

func decodeApply(w http.ResponseWriter, r *http.Request) (ApplyInput, bool) {
	var input ApplyInput
	if !decodeJSON(w, r, &input) {
		return ApplyInput{}, false
	}
	input.TeamID = strings.TrimSpace(input.TeamID)
	if err := validation.Struct(input); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return ApplyInput{}, false
	}
	return input, true
}

func parseFilter(w http.ResponseWriter, r *http.Request) (Filter, bool) {
	filter := Filter{Skip: 0, Limit: defaultPageLimit}
	query := r.URL.Query()

	filter.Status = strings.TrimSpace(query.Get("status"))
	if err := validation.Var("status", filter.Status, "omitempty,oneof=pending approved rejected"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return Filter{}, false
	}
	if raw := query.Get("skip"); raw != "" {
		skip, err := strconv.Atoi(raw)
		if err != nil || skip < 0 {
			writeError(w, http.StatusBadRequest, "skip must be a non-negative integer")
			return Filter{}, false
		}
		filter.Skip = skip
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > maxPageLimit {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 100")
			return Filter{}, false
		}
		filter.Limit = limit
	}
	return filter, true
}

func principalOf(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
	}
	return principal, ok
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
