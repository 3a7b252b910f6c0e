package files

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MahdiBaghbani/localbox-go/internal/components/api"
	"github.com/MahdiBaghbani/localbox-go/internal/components/identity"
	"github.com/MahdiBaghbani/localbox-go/internal/components/router"
)

func newTestRouter(fx *fixture) *router.Router {
	h := NewHandler(fx.svc)
	rt := router.New("/lox_api", nil)
	rt.Handle("files", `files(?:/(?P<path>.*))?`, []string{http.MethodGet, http.MethodPost}, h.Files)
	rt.Handle("create_folder", `operations/create_folder`, []string{http.MethodPost}, h.CreateFolder)
	rt.Handle("delete", `operations/delete`, []string{http.MethodPost}, h.Delete)
	rt.Handle("move", `operations/move`, []string{http.MethodPost}, h.Move)
	rt.Handle("copy", `operations/copy`, []string{http.MethodPost}, h.Copy)
	rt.Handle("meta", `meta(?:/(?P<path>.*))?`, []string{http.MethodGet}, h.Meta)
	return rt
}

func do(rt http.Handler, user, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req = req.WithContext(identity.WithUser(req.Context(), user))
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, req)
	return rec
}

func reasonCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var env api.ErrorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env.Error.ReasonCode
}

func TestHandler_UploadDownload(t *testing.T) {
	fx := newFixture(t, Options{})
	rt := newTestRouter(fx)

	rec := do(rt, "alice", http.MethodPost, "/lox_api/files/my%20docs/a.txt", "payload")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "payload", read(t, fx.path("alice", "my docs", "a.txt")))

	rec = do(rt, "alice", http.MethodGet, "/lox_api/files/my%20docs/a.txt", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "payload", rec.Body.String())

	rec = do(rt, "alice", http.MethodGet, "/lox_api/files/my%20docs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var listing Meta
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	assert.Equal(t, "/my docs", listing.Path)
	require.Len(t, listing.Children, 1)
	assert.Equal(t, "/my docs/a.txt", listing.Children[0].Path)
}

func TestHandler_StatusMapping(t *testing.T) {
	fx := newFixture(t, Options{})
	rt := newTestRouter(fx)
	fx.write(t, "alice", "a.txt", "x")
	fx.write(t, "alice", "b.txt", "x")

	tests := []struct {
		name       string
		method     string
		target     string
		body       string
		wantStatus int
		wantReason string
	}{
		{"download missing", http.MethodGet, "/lox_api/files/nope", "", http.StatusNotFound, api.ReasonNotFound},
		{"traversal", http.MethodGet, "/lox_api/files/..%2Fbob", "", http.StatusBadRequest, api.ReasonInvalidPath},
		{"traversal segment", http.MethodGet, "/lox_api/meta/a/../../bob", "", http.StatusBadRequest, api.ReasonInvalidPath},
		{"folder conflict", http.MethodPost, "/lox_api/operations/create_folder", `{"path":"a.txt"}`, http.StatusConflict, api.ReasonConflict},
		{"delete missing", http.MethodPost, "/lox_api/operations/delete", `{"path":"nope"}`, http.StatusNotFound, api.ReasonNotFound},
		{"move conflict", http.MethodPost, "/lox_api/operations/move", `{"from_path":"a.txt","to_path":"b.txt"}`, http.StatusConflict, api.ReasonConflict},
		{"copy missing", http.MethodPost, "/lox_api/operations/copy", `{"from_path":"x","to_path":"y"}`, http.StatusNotFound, api.ReasonNotFound},
		{"missing field", http.MethodPost, "/lox_api/operations/move", `{"from_path":"a.txt"}`, http.StatusBadRequest, api.ReasonBadRequest},
		{"empty body", http.MethodPost, "/lox_api/operations/delete", ``, http.StatusBadRequest, api.ReasonBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(rt, "alice", tt.method, tt.target, tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantReason, reasonCode(t, rec))
		})
	}
}

func TestHandler_Operations(t *testing.T) {
	fx := newFixture(t, Options{})
	rt := newTestRouter(fx)
	fx.write(t, "alice", "a.txt", "x")

	assert.Equal(t, http.StatusOK, do(rt, "alice", http.MethodPost, "/lox_api/operations/create_folder", `{"path":"/new/dir"}`).Code)
	assert.Equal(t, http.StatusOK, do(rt, "alice", http.MethodPost, "/lox_api/operations/copy", `{"from_path":"a.txt","to_path":"new/a.txt"}`).Code)
	assert.Equal(t, http.StatusOK, do(rt, "alice", http.MethodPost, "/lox_api/operations/move", `{"from_path":"new/a.txt","to_path":"new/dir/a.txt"}`).Code)
	assert.Equal(t, http.StatusOK, do(rt, "alice", http.MethodPost, "/lox_api/operations/delete", `{"path":"new"}`).Code)

	rec := do(rt, "alice", http.MethodGet, "/lox_api/meta", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var home Meta
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &home))
	require.Len(t, home.Children, 1)
	assert.Equal(t, "a.txt", home.Children[0].Title)
}
