package tournament

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"

	"tournaments-backend/internal/validation"
)

const (
	maxJSONBodyBytes = 1 << 20
	defaultPageLimit = 50
	maxPageLimit     = 100
)

type Store interface {
	List(ctx context.Context, page Page) ([]Tournament, error)
	Get(ctx context.Context, id string) (Tournament, error)
	Create(ctx context.Context, input CreateInput) (Tournament, error)
	Update(ctx context.Context, id string, input UpdateInput) (Tournament, error)
	Deactivate(ctx context.Context, id string) error
	End(ctx context.Context, id string) error
}

type Handler struct {
	store Store
}

func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	page, ok := parsePage(w, r)
	if !ok {
		return
	}

	tournaments, err := h.store.List(r.Context(), page)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to list tournaments")
		return
	}

	writeJSON(w, http.StatusOK, tournaments)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	t, err := h.store.Get(r.Context(), id)
	if err != nil {
		h.storeError(w, err, "failed to load tournament")
		return
	}

	writeJSON(w, http.StatusOK, t)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var input CreateInput
	if !decodeJSON(w, r, &input) {
		return
	}

	input.Name = strings.TrimSpace(input.Name)
	input.Description = strings.TrimSpace(input.Description)
	input.Status = strings.TrimSpace(input.Status)
	if input.Status == "" {
		input.Status = DefaultStatus
	}

	if err := validation.Struct(input); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	t, err := h.store.Create(r.Context(), input)
	if err != nil {
		h.storeError(w, err, "failed to create tournament")
		return
	}

	writeJSON(w, http.StatusCreated, t)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	var input UpdateInput
	if !decodeJSON(w, r, &input) {
		return
	}

	trim(input.Name)
	trim(input.Description)
	trim(input.Status)
	if err := validation.Struct(input); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	t, err := h.store.Update(r.Context(), id, input)
	if err != nil {
		h.storeError(w, err, "failed to update tournament")
		return
	}

	writeJSON(w, http.StatusOK, t)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	if err := h.store.Deactivate(r.Context(), id); err != nil {
		h.storeError(w, err, "failed to delete tournament")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// End closes a tournament for good: it is marked finished and hidden.
func (h *Handler) End(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	if err := h.store.End(r.Context(), id); err != nil {
		h.storeError(w, err, "failed to end tournament")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) storeError(w http.ResponseWriter, err error, message string) {
	switch {
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "tournament not found")
		return
	case errors.Is(err, ErrInvalidDates):
		writeError(w, http.StatusBadRequest, "end_at must not be before start_at")
		return
	}
	sentry.CaptureException(err)
	writeError(w, http.StatusInternalServerError, message)
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

func parseID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid tournament id")
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

func trim(value *string) {
	if value != nil {
		*value = strings.TrimSpace(*value)
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
