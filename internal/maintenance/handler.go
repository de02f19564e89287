package maintenance

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"

	"tournaments-backend/internal/observability"
)

// Store is the storage the cleanup job touches. Refresh tokens are only counted.
type Store interface {
	PruneRateLimits(ctx context.Context, cutoff time.Time, batchSize int) (int64, error)
	CountExpiredRefreshTokens(ctx context.Context) (int64, error)
}

type Result struct {
	DeletedRateLimits    int64 `json:"deleted_rate_limits"`
	ExpiredRefreshTokens int64 `json:"expired_refresh_tokens"`
}

type CleanupHandler struct {
	store              Store
	logger             *observability.Logger
	cronSecret         string
	rateLimitRetention time.Duration
	batchSize          int
	now                func() time.Time
}

func NewCleanupHandler(
	store Store,
	logger *observability.Logger,
	cronSecret string,
	rateLimitRetention time.Duration,
	batchSize int,
) *CleanupHandler {
	if rateLimitRetention <= 0 {
		rateLimitRetention = 48 * time.Hour
	}
	if batchSize <= 0 {
		batchSize = 500
	}
	return &CleanupHandler{
		store:              store,
		logger:             logger,
		cronSecret:         strings.TrimSpace(cronSecret),
		rateLimitRetention: rateLimitRetention,
		batchSize:          batchSize,
		now:                time.Now,
	}
}

// Handle is mounted for GET and POST. Without CRON_SECRET the endpoint does not exist.
func (h *CleanupHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.cronSecret == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}

	scheme, token, _ := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !strings.EqualFold(scheme, "Bearer") ||
		subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(h.cronSecret)) != 1 {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	result, err := h.Run(r.Context())
	if err != nil {
		sentry.CaptureException(err)
		h.logger.Error("auth_cleanup_failed", map[string]any{"error": err.Error()})
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cleanup failed"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"result": result,
	})
}

func (h *CleanupHandler) Run(ctx context.Context) (Result, error) {
	cutoff := h.now().UTC().Add(-h.rateLimitRetention)

	deleted, err := h.store.PruneRateLimits(ctx, cutoff, h.batchSize)
	if err != nil {
		return Result{}, err
	}

	expired, err := h.store.CountExpiredRefreshTokens(ctx)
	if err != nil {
		return Result{}, err
	}

	result := Result{DeletedRateLimits: deleted, ExpiredRefreshTokens: expired}
	h.logger.Info("auth_cleanup_completed", map[string]any{
		"deleted_rate_limits":    result.DeletedRateLimits,
		"expired_refresh_tokens": result.ExpiredRefreshTokens,
	})
	return result, nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
