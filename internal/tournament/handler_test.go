package tournament

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	items    map[string]Tournament
	lastPage Page
	created  CreateInput
	updated  UpdateInput
	ended    []string
	err      error
	writeErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{items: map[string]Tournament{
		tournamentID: {ID: tournamentID, Name: "Spring Cup", Status: "draft", IsActive: true},
	}}
}

func (s *fakeStore) List(_ context.Context, page Page) ([]Tournament, error) {
	s.lastPage = page
	if s.err != nil {
		return nil, s.err
	}
	out := make([]Tournament, 0, len(s.items))
	for _, t := range s.items {
		out = append(out, t)
	}
	return out, nil
}

func (s *fakeStore) Get(_ context.Context, id string) (Tournament, error) {
	if s.err != nil {
		return Tournament{}, s.err
	}
	t, ok := s.items[id]
	if !ok {
		return Tournament{}, ErrNotFound
	}
	return t, nil
}

func (s *fakeStore) Create(_ context.Context, input CreateInput) (Tournament, error) {
	s.created = input
	if s.err != nil {
		return Tournament{}, s.err
	}
	if s.writeErr != nil {
		return Tournament{}, s.writeErr
	}
	return Tournament{ID: "0195f3a0-bbbb-7000-8000-000000000002", Name: input.Name, Status: input.Status, IsActive: true}, nil
}

func (s *fakeStore) Update(_ context.Context, id string, input UpdateInput) (Tournament, error) {
	s.updated = input
	if s.writeErr != nil {
		return Tournament{}, s.writeErr
	}
	t, ok := s.items[id]
	if !ok {
		return Tournament{}, ErrNotFound
	}
	if input.Name != nil {
		t.Name = *input.Name
	}
	return t, nil
}

func (s *fakeStore) Deactivate(_ context.Context, id string) error {
	if _, ok := s.items[id]; !ok {
		return ErrNotFound
	}
	delete(s.items, id)
	return nil
}

func (s *fakeStore) End(_ context.Context, id string) error {
	t, ok := s.items[id]
	if !ok {
		return ErrNotFound
	}
	s.ended = append(s.ended, id)
	t.Status, t.IsActive = FinishedStatus, false
	s.items[id] = t
	return nil
}

func newTestMux(store Store) *http.ServeMux {
	h := NewHandler(store)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /tournaments", h.List)
	mux.HandleFunc("GET /tournaments/{id}", h.Get)
	mux.HandleFunc("POST /tournaments", h.Create)
	mux.HandleFunc("PUT /tournaments/{id}", h.Update)
	mux.HandleFunc("DELETE /tournaments/{id}", h.Delete)
	mux.HandleFunc("DELETE /admin/tournaments/end/{id}", h.End)
	return mux
}

func serve(mux http.Handler, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func errorOf(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["error"]
}

func TestHandler_ListPaging(t *testing.T) {
	store := newFakeStore()
	mux := newTestMux(store)

	rec := serve(mux, http.MethodGet, "/tournaments", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, Page{Skip: 0, Limit: defaultPageLimit}, store.lastPage)

	var list []Tournament
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	rec = serve(mux, http.MethodGet, "/tournaments?skip=20&limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, Page{Skip: 20, Limit: 10}, store.lastPage)

	for _, query := range []string{"skip=-1", "skip=x", "limit=0", "limit=101"} {
		rec = serve(mux, http.MethodGet, "/tournaments?"+query, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, query)
	}
}

func TestHandler_Get(t *testing.T) {
	mux := newTestMux(newFakeStore())

	rec := serve(mux, http.MethodGet, "/tournaments/"+tournamentID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(mux, http.MethodGet, "/tournaments/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(mux, http.MethodGet, "/tournaments/0195f3a0-bbbb-7000-8000-00000000ffff", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "tournament not found", errorOf(t, rec))
}

func TestHandler_CreateDefaultsStatus(t *testing.T) {
	store := newFakeStore()
	mux := newTestMux(store)

	rec := serve(mux, http.MethodPost, "/tournaments", `{"name":"  Autumn Open  ","price_player":12.5}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "Autumn Open", store.created.Name)
	assert.Equal(t, DefaultStatus, store.created.Status)
	assert.Equal(t, 12.5, store.created.PricePlayer)
}

func TestHandler_CreateValidation(t *testing.T) {
	mux := newTestMux(newFakeStore())

	cases := map[string]string{
		`{"name":""}`:                      "name is required",
		`{"name":"Cup","price_client":-1}`: "price_client must be >= 0",
		`{"name":"Cup","start_at":"2026-06-02T00:00:00Z","end_at":"2026-06-01T00:00:00Z"}`: "end_at must not be before start_at",
		`{"name":"Cup","unknown":true}`:                                    "invalid json body",
		`{"name":"` + strings.Repeat("x", 151) + `"}`:                      "name must be at most 150 characters",
		`{"name":"Cup","description":"` + strings.Repeat("d", 2001) + `"}`: "description must be at most 2000 characters",
		`{"name":"Cup","status":"` + strings.Repeat("s", 33) + `"}`:        "status must be at most 32 characters",
	}
	for body, want := range cases {
		rec := serve(mux, http.MethodPost, "/tournaments", body)
		require.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Equal(t, want, errorOf(t, rec), body)
	}
}

func TestHandler_UpdatePartial(t *testing.T) {
	store := newFakeStore()
	mux := newTestMux(store)

	rec := serve(mux, http.MethodPut, "/tournaments/"+tournamentID, `{"name":"Summer Cup"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, store.updated.Name)
	assert.Nil(t, store.updated.Status)

	var got Tournament
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "Summer Cup", got.Name)

	rec = serve(mux, http.MethodPut, "/tournaments/"+tournamentID, `{"name":"   "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "name cannot be empty", errorOf(t, rec))

	rec = serve(mux, http.MethodPut, "/tournaments/"+tournamentID, `{"price_player":-3}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "price_player must be >= 0", errorOf(t, rec))

	rec = serve(mux, http.MethodPut, "/tournaments/0195f3a0-bbbb-7000-8000-00000000ffff", `{}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_DeleteThenGone(t *testing.T) {
	mux := newTestMux(newFakeStore())

	rec := serve(mux, http.MethodDelete, "/tournaments/"+tournamentID, "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())

	rec = serve(mux, http.MethodDelete, "/tournaments/"+tournamentID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(mux, http.MethodGet, "/tournaments/"+tournamentID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_StorageFailureIsGeneric(t *testing.T) {
	store := newFakeStore()
	store.err = errors.New(`pq: relation "tournaments" does not exist`)
	mux := newTestMux(store)

	rec := serve(mux, http.MethodGet, "/tournaments", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "failed to list tournaments", errorOf(t, rec))

	rec = serve(mux, http.MethodGet, "/tournaments/"+tournamentID, "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "relation")
}

func TestHandler_UpdateEndBeforeStoredStart(t *testing.T) {
	store := newFakeStore()
	store.writeErr = ErrInvalidDates
	mux := newTestMux(store)

	rec := serve(mux, http.MethodPut, "/tournaments/"+tournamentID, `{"end_at":"2020-01-01T00:00:00Z"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "end_at must not be before start_at", errorOf(t, rec))

	rec = serve(mux, http.MethodPut, "/tournaments/"+tournamentID,
		`{"start_at":"2026-06-02T00:00:00Z","end_at":"2026-06-01T00:00:00Z"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "end_at must not be before start_at", errorOf(t, rec))
}

func TestHandler_End(t *testing.T) {
	store := newFakeStore()
	mux := newTestMux(store)

	rec := serve(mux, http.MethodDelete, "/admin/tournaments/end/"+tournamentID, "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{tournamentID}, store.ended)
	assert.Equal(t, FinishedStatus, store.items[tournamentID].Status)
	assert.False(t, store.items[tournamentID].IsActive)

	rec = serve(mux, http.MethodDelete, "/admin/tournaments/end/0195f3a0-bbbb-7000-8000-00000000ffff", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(mux, http.MethodDelete, "/admin/tournaments/end/nope", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
