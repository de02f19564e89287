package media

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/getsentry/sentry-go"

	"tournaments-backend/internal/auth"
)

const maxUploadSizeBytes = 5 << 20

type AvatarUploader interface {
	UploadAvatar(ctx context.Context, userID, imageSource string) (string, error)
}

type AvatarSetter interface {
	SetAvatar(ctx context.Context, userID, avatarURL string) (auth.User, error)
}

type AvatarHandler struct {
	uploader AvatarUploader
	users    AvatarSetter
}

// NewAvatarHandler accepts a nil uploader; uploads then answer 503.
func NewAvatarHandler(uploader AvatarUploader, users AvatarSetter) *AvatarHandler {
	return &AvatarHandler{uploader: uploader, users: users}
}

// Upload must be mounted behind auth.RequireAccess.
func (h *AvatarHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if h.uploader == nil {
		writeError(w, http.StatusServiceUnavailable, "image uploads are not configured")
		return
	}

	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSizeBytes+(1<<20))
	if err := r.ParseMultipartForm(maxUploadSizeBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadSizeBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read file")
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "file is empty")
		return
	}
	if len(data) > maxUploadSizeBytes {
		writeError(w, http.StatusBadRequest, "file is too large")
		return
	}

	contentType := strings.TrimSpace(header.Header.Get("Content-Type"))
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	if !strings.HasPrefix(strings.ToLower(contentType), "image/") {
		writeError(w, http.StatusBadRequest, "file must be an image")
		return
	}

	imageSource := fmt.Sprintf("data:%s;base64,%s", contentType, base64.StdEncoding.EncodeToString(data))
	secureURL, err := h.uploader.UploadAvatar(r.Context(), principal.UserID, imageSource)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusBadGateway, "failed to upload image")
		return
	}

	user, err := h.users.SetAvatar(r.Context(), principal.UserID, secureURL)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to save avatar")
		return
	}

	writeJSON(w, http.StatusOK, auth.NewUserResponse(user))
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
