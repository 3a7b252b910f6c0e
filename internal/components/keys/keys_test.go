package keys

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MahdiBaghbani/localbox-go/internal/components/api"
	"github.com/MahdiBaghbani/localbox-go/internal/components/identity"
	"github.com/MahdiBaghbani/localbox-go/internal/components/router"
	"github.com/MahdiBaghbani/localbox-go/internal/platform/store"
	_ "github.com/MahdiBaghbani/localbox-go/internal/platform/store/sqlite"
	"github.com/MahdiBaghbani/localbox-go/internal/platform/store/storetest"
)

func newTestRouter(t *testing.T) (*router.Router, store.Datastore) {
	t.Helper()
	ds := storetest.Open(t, &store.DriverConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "localbox.db"),
	})
	h := NewHandler(NewService(ds, nil))
	rt := router.New("/lox_api", nil)
	rt.Handle("user_name", `user/(?P<name>.+)`, []string{http.MethodGet}, h.User)
	rt.Handle("user", `user`, []string{http.MethodGet, http.MethodPost}, h.Self)
	rt.Handle("key", `key/(?P<path>.+)`, []string{http.MethodGet, http.MethodPost}, h.Key)
	rt.Handle("key_revoke", `key_revoke/(?P<path>.+)`, []string{http.MethodPost}, h.Revoke)
	rt.Handle("identities", `identities`, []string{http.MethodGet}, h.Identities)
	return rt, ds
}

func do(rt http.Handler, user, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, http.NoBody)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	req = req.WithContext(identity.WithUser(req.Context(), user))
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, req)
	return rec
}

func TestUserKeys(t *testing.T) {
	rt, _ := newTestRouter(t)

	rec := do(rt, "alice", http.MethodGet, "/lox_api/user", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(rt, "alice", http.MethodPost, "/lox_api/user", `{"public_key":"pubA","private_key":"privA"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(rt, "alice", http.MethodGet, "/lox_api/user", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var self UserView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &self))
	assert.Equal(t, UserView{Name: "alice", PublicKey: "pubA", PrivateKey: "privA"}, self)

	rec = do(rt, "bob", http.MethodGet, "/lox_api/user/alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	assert.Equal(t, "pubA", raw["public_key"])
	assert.NotContains(t, raw, "private_key", "private keys are only returned to their owner")

	rec = do(rt, "alice", http.MethodGet, "/lox_api/user/alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "privA")

	rec = do(rt, "alice", http.MethodGet, "/lox_api/user/nobody", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(rt, "alice", http.MethodPost, "/lox_api/user", `{"private_key":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPathKeys(t *testing.T) {
	rt, ds := newTestRouter(t)

	rec := do(rt, "alice", http.MethodGet, "/lox_api/key/docs", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(rt, "alice", http.MethodPost, "/lox_api/key/my%20docs", `{"key":"k1","iv":"iv1"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = do(rt, "alice", http.MethodPost, "/lox_api/key/my%20docs", `{"key":"k2","iv":"iv2"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(rt, "alice", http.MethodGet, "/lox_api/key/my%20docs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var kv KeyView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &kv))
	assert.Equal(t, KeyView{Key: "k2", IV: "iv2"}, kv)

	// deposit for a grantee
	rec = do(rt, "alice", http.MethodPost, "/lox_api/key/my%20docs", `{"key":"kb","iv":"ivb","user":"bob"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	k, err := ds.GetKey(t.Context(), "my docs", "bob")
	require.NoError(t, err)
	assert.Equal(t, "kb", k.Key)

	rec = do(rt, "alice", http.MethodGet, "/lox_api/key/..%2Fetc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestKeyRevoke(t *testing.T) {
	rt, ds := newTestRouter(t)
	require.NoError(t, ds.PutKey(t.Context(), &store.Key{Path: "docs", User: "alice", Key: "k", IV: "iv"}))

	rec := do(rt, "alice", http.MethodPost, "/lox_api/key_revoke/docs", `{"username":"bob"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(rt, "alice", http.MethodPost, "/lox_api/key_revoke/docs", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	_, err := ds.GetKey(t.Context(), "docs", "alice")
	assert.ErrorIs(t, err, store.ErrNotFound)

	rec = do(rt, "alice", http.MethodPost, "/lox_api/key_revoke/docs", `{"username":"alice"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	var env api.ErrorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, api.ReasonNotFound, env.Error.ReasonCode)
}

func TestIdentities(t *testing.T) {
	rt, ds := newTestRouter(t)
	for _, n := range []string{"bob", "alice"} {
		require.NoError(t, ds.PutUser(t.Context(), &store.User{Name: n, PublicKey: "p"}))
	}

	rec := do(rt, "alice", http.MethodGet, "/lox_api/identities", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var ids []IdentityView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ids))
	require.Len(t, ids, 2)
	names := []string{ids[0].Name, ids[1].Name}
	assert.ElementsMatch(t, []string{"alice", "bob"}, names)
	for _, id := range ids {
		assert.Equal(t, "user", id.Type)
		assert.Equal(t, id.Name, id.ID)
		assert.Equal(t, id.Name, id.Title)
	}
}
