package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedEvents struct {
	mu     sync.Mutex
	counts map[string]int
}

func (r *recordedEvents) AuthEvent(event, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts == nil {
		r.counts = make(map[string]int)
	}
	r.counts[event+"/"+outcome]++
}

func (r *recordedEvents) count(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[key]
}

func newTestServer(t *testing.T) (*httptest.Server, *testEnv, *recordedEvents) {
	t.Helper()
	env := newTestEnv(t)
	events := &recordedEvents{}
	h := NewHandler(env.service, WithEventRecorder(events))

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/register", h.Register)
	mux.HandleFunc("POST /auth/login", h.Login)
	mux.HandleFunc("POST /auth/refresh", h.Refresh)
	mux.HandleFunc("POST /auth/logout", h.Logout)
	mux.HandleFunc("POST /auth/logout-all", h.LogoutAll)
	mux.Handle("GET /auth/me", RequireAccess(env.service, http.HandlerFunc(h.Me)))
	mux.Handle("PUT /auth/me/password", RequireAccess(env.service, http.HandlerFunc(h.ChangePassword)))

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, env, events
}

func doJSON(t *testing.T, method, url, bearer string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var reader *bytes.Reader
	switch v := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(v))
	default:
		payload, err := json.Marshal(v)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	decoded := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func TestHandler_RegisterLoginRefreshLogoutScenario(t *testing.T) {
	server, _, events := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, server.URL+"/auth/register", "", map[string]any{
		"email": "alice@example.com", "password": "password123", "role": "player",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.NotEmpty(t, body["id"])
	assert.Equal(t, "alice@example.com", body["email"])
	assert.Equal(t, "player", body["role"])
	assert.Contains(t, body, "avatar_url")
	assert.NotContains(t, body, "password_hash")

	resp, body = doJSON(t, http.MethodPost, server.URL+"/auth/login", "", map[string]any{
		"email": "alice@example.com", "password": "password123",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "bearer", body["token_type"])
	assert.Greater(t, body["expires_in"].(float64), 0.0)
	access := body["access_token"].(string)
	refresh := body["refresh_token"].(string)

	resp, body = doJSON(t, http.MethodGet, server.URL+"/auth/me", access, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "alice@example.com", body["email"])

	resp, body = doJSON(t, http.MethodPost, server.URL+"/auth/refresh", "", map[string]any{"refresh_token": refresh})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	newest := body["refresh_token"].(string)
	assert.NotEqual(t, refresh, newest)

	resp, _ = doJSON(t, http.MethodPost, server.URL+"/auth/refresh", "", map[string]any{"refresh_token": refresh})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body = doJSON(t, http.MethodPost, server.URL+"/auth/logout", "", map[string]any{"refresh_token": newest})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, body["detail"])

	resp, _ = doJSON(t, http.MethodPost, server.URL+"/auth/logout", "", map[string]any{"refresh_token": newest})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, server.URL+"/auth/refresh", "", map[string]any{"refresh_token": newest})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	assert.Equal(t, 1, events.count("register/success"))
	assert.Equal(t, 1, events.count("login/success"))
	assert.Equal(t, 1, events.count("refresh/success"))
	assert.Equal(t, 1, events.count("refresh/reuse"))
}

func TestHandler_RegisterErrors(t *testing.T) {
	server, _, _ := newTestServer(t)
	url := server.URL + "/auth/register"
	valid := map[string]any{"email": "alice@example.com", "password": "password123", "role": "player"}

	resp, _ := doJSON(t, http.MethodPost, url, "", valid)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := doJSON(t, http.MethodPost, url, "", valid)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "email already registered", body["error"])

	resp, body = doJSON(t, http.MethodPost, url, "", map[string]any{"email": "bob@example.com", "password": "short", "role": "player"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["error"], "password")

	resp, _ = doJSON(t, http.MethodPost, url, "", map[string]any{"email": "bob@example.com", "password": "password123", "role": "root"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, url, "", `{"email":`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, url, "", map[string]any{"email": "c@example.com", "password": "password123", "role": "player", "admin": true})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandler_LoginFailuresLookIdentical(t *testing.T) {
	server, _, events := newTestServer(t)
	url := server.URL + "/auth/login"

	resp, _ := doJSON(t, http.MethodPost, server.URL+"/auth/register", "", map[string]any{
		"email": "alice@example.com", "password": "password123", "role": "player",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	_, unknown := doJSON(t, http.MethodPost, url, "", map[string]any{"email": "nobody@example.com", "password": "password123"})
	resp, wrong := doJSON(t, http.MethodPost, url, "", map[string]any{"email": "alice@example.com", "password": "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, unknown, wrong)
	assert.Equal(t, 2, events.count("login/failure"))

	resp, _ = doJSON(t, http.MethodPost, url, "", map[string]any{"email": "alice@example.com"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandler_RefreshAndLogoutValidation(t *testing.T) {
	server, env, _ := newTestServer(t)
	alice := registerAlice(t, env)
	session, err := env.service.IssueSession(t.Context(), alice, ClientInfo{})
	require.NoError(t, err)

	resp, _ := doJSON(t, http.MethodPost, server.URL+"/auth/refresh", "", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, server.URL+"/auth/refresh", "", map[string]any{"refresh_token": session.AccessToken})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, server.URL+"/auth/logout", "", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, server.URL+"/auth/logout", "", map[string]any{"refresh_token": session.AccessToken})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, server.URL+"/auth/logout", "", map[string]any{"refresh_token": "garbage"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandler_LogoutAll(t *testing.T) {
	server, env, _ := newTestServer(t)
	alice := registerAlice(t, env)
	first, err := env.service.IssueSession(t.Context(), alice, ClientInfo{})
	require.NoError(t, err)
	second, err := env.service.IssueSession(t.Context(), alice, ClientInfo{})
	require.NoError(t, err)

	resp, _ := doJSON(t, http.MethodPost, server.URL+"/auth/logout-all", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, server.URL+"/auth/logout-all", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body := doJSON(t, http.MethodPost, server.URL+"/auth/logout-all", first.AccessToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), body["revoked"])

	for _, token := range []string{first.RefreshToken, second.RefreshToken} {
		resp, _ = doJSON(t, http.MethodPost, server.URL+"/auth/refresh", "", map[string]any{"refresh_token": token})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}

	third, err := env.service.IssueSession(t.Context(), alice, ClientInfo{})
	require.NoError(t, err)
	resp, body = doJSON(t, http.MethodPost, server.URL+"/auth/logout-all", "", map[string]any{"refresh_token": third.RefreshToken})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["revoked"])
}

func TestHandler_Me(t *testing.T) {
	server, env, _ := newTestServer(t)
	alice := registerAlice(t, env)
	session, err := env.service.IssueSession(t.Context(), alice, ClientInfo{})
	require.NoError(t, err)

	resp, _ := doJSON(t, http.MethodGet, server.URL+"/auth/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodGet, server.URL+"/auth/me", session.RefreshToken, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	env.users.deactivate(alice.ID)
	resp, _ = doJSON(t, http.MethodGet, server.URL+"/auth/me", session.AccessToken, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandler_ChangePassword(t *testing.T) {
	server, env, _ := newTestServer(t)
	alice := registerAlice(t, env)
	session, err := env.service.IssueSession(t.Context(), alice, ClientInfo{})
	require.NoError(t, err)
	url := server.URL + "/auth/me/password"

	resp, _ := doJSON(t, http.MethodPut, url, session.AccessToken, map[string]any{
		"current_password": "wrong-password", "new_password": "new-password-456",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPut, url, session.AccessToken, map[string]any{
		"current_password": "password123", "new_password": "new-password-456",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, server.URL+"/auth/refresh", "", map[string]any{"refresh_token": session.RefreshToken})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandler_InternalErrorsAreGeneric(t *testing.T) {
	server, env, events := newTestServer(t)
	env.users.failErr = assert.AnError

	resp, body := doJSON(t, http.MethodPost, server.URL+"/auth/register", "", map[string]any{
		"email": "alice@example.com", "password": "password123", "role": "player",
	})
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "failed to register", body["error"])
	assert.False(t, strings.Contains(body["error"].(string), assert.AnError.Error()))
	assert.Equal(t, 1, events.count("register/error"))
}

func TestHandler_RegisterAdminRequiresAdminCaller(t *testing.T) {
	server, env, events := newTestServer(t)
	url := server.URL + "/auth/register"
	adminBody := map[string]any{"email": "second-admin@example.com", "password": "password123", "role": "admin"}

	resp, body := doJSON(t, http.MethodPost, url, "", adminBody)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "only an admin can create admin accounts", body["error"])
	assert.Equal(t, 1, events.count("register/forbidden"))

	resp, _ = doJSON(t, http.MethodPost, url, "", map[string]any{"email": "player@example.com", "password": "password123", "role": "player"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	player, err := env.service.Login(context.Background(), "player@example.com", "password123", ClientInfo{})
	require.NoError(t, err)
	resp, _ = doJSON(t, http.MethodPost, url, player.AccessToken, adminBody)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	require.NoError(t, env.service.BootstrapAdmin(context.Background(), "root@example.com", "root-password"))
	admin, err := env.service.Login(context.Background(), "root@example.com", "root-password", ClientInfo{})
	require.NoError(t, err)
	resp, body = doJSON(t, http.MethodPost, url, admin.AccessToken, adminBody)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "admin", body["role"])
}

func TestHandler_RefreshChainRevokeFailureIsInternal(t *testing.T) {
	server, env, events := newTestServer(t)
	alice := registerAlice(t, env)
	session, err := env.service.Login(context.Background(), alice.Email, "password123", ClientInfo{})
	require.NoError(t, err)
	_, err = env.service.Refresh(context.Background(), session.RefreshToken, ClientInfo{})
	require.NoError(t, err)

	env.ledger.chainErr = assert.AnError
	env.clock.Advance(time.Minute)
	resp, body := doJSON(t, http.MethodPost, server.URL+"/auth/refresh", "", map[string]any{"refresh_token": session.RefreshToken})
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "failed to refresh token", body["error"])
	assert.Equal(t, 1, events.count("refresh/error"))
}
