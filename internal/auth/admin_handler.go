package auth

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
)

const (
	defaultPlayerPageLimit = 50
	maxPlayerPageLimit     = 100
)

// PlayerDirectory is the read side of the admin player screens.
// *PostgresUserStore satisfies it.
type PlayerDirectory interface {
	ListPlayers(ctx context.Context, skip, limit int) ([]Player, error)
	GetPlayer(ctx context.Context, id string) (PlayerDetail, error)
}

// AdminHandler must be mounted behind RequireAccess and RequireRole(RoleAdmin).
type AdminHandler struct {
	service *Service
	players PlayerDirectory
}

func NewAdminHandler(service *Service, players PlayerDirectory) *AdminHandler {
	return &AdminHandler{service: service, players: players}
}

type resetPasswordRequest struct {
	Password string `json:"password"`
}

func (h *AdminHandler) ListPlayers(w http.ResponseWriter, r *http.Request) {
	skip, limit, ok := parsePlayerPage(w, r)
	if !ok {
		return
	}

	players, err := h.players.ListPlayers(r.Context(), skip, limit)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to list players")
		return
	}
	writeJSON(w, http.StatusOK, players)
}

func (h *AdminHandler) GetPlayer(w http.ResponseWriter, r *http.Request) {
	id, ok := playerID(w, r)
	if !ok {
		return
	}

	player, err := h.players.GetPlayer(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "player not found")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to load player")
		return
	}
	writeJSON(w, http.StatusOK, player)
}

// ResetPassword sets a user's password and revokes their sessions. 204 on success.
func (h *AdminHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	id, ok := playerID(w, r)
	if !ok {
		return
	}

	var body resetPasswordRequest
	if !decodeJSON(w, r, &body, false) {
		return
	}

	if err := h.service.ResetPassword(r.Context(), id, body.Password); err != nil {
		switch {
		case errors.Is(err, ErrInvalid):
			writeError(w, http.StatusBadRequest, inputErrorMessage(err))
		case errors.Is(err, ErrNotFound):
			writeError(w, http.StatusNotFound, "user not found")
		default:
			sentry.CaptureException(err)
			writeError(w, http.StatusInternalServerError, "failed to update password")
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func playerID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid player id")
		return "", false
	}
	return id, true
}

func parsePlayerPage(w http.ResponseWriter, r *http.Request) (int, int, bool) {
	skip, limit := 0, defaultPlayerPageLimit
	query := r.URL.Query()

	if raw := query.Get("skip"); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			writeError(w, http.StatusBadRequest, "skip must be a non-negative integer")
			return 0, 0, false
		}
		skip = value
	}
	if raw := query.Get("limit"); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 1 || value > maxPlayerPageLimit {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 100")
			return 0, 0, false
		}
		limit = value
	}
	return skip, limit, true
}
