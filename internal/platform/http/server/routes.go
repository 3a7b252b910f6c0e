package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/MahdiBaghbani/localbox-go/internal/components/api"
	"github.com/MahdiBaghbani/localbox-go/internal/components/files"
	"github.com/MahdiBaghbani/localbox-go/internal/components/identity"
	"github.com/MahdiBaghbani/localbox-go/internal/components/keys"
	"github.com/MahdiBaghbani/localbox-go/internal/components/router"
	"github.com/MahdiBaghbani/localbox-go/internal/components/shares"
	httpmw "github.com/MahdiBaghbani/localbox-go/internal/platform/http/middleware"
)

// APIPrefix is where the authenticated API is mounted.
const APIPrefix = "/lox_api"

var (
	get     = []string{http.MethodGet}
	post    = []string{http.MethodPost}
	getPost = []string{http.MethodGet, http.MethodPost}
)

// setupRoutes builds the chi tree. Order of the always-on middleware:
// RequestID, request logger, access log, recoverer. Only the API subtree
// sits behind the authentication gate.
func (s *Server) setupRoutes() http.Handler {
	cfg := s.deps.Config
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(httpmw.RequestLogger(s.logger))
	r.Use(httpmw.AccessLog(s.logger))
	r.Use(chimw.Recoverer)

	r.Get("/health", api.HealthHandler)
	if cfg.Metrics.Enabled && s.deps.Metrics != nil {
		r.Method(http.MethodGet, cfg.Metrics.Path, s.deps.Metrics.Handler())
	}

	gate := identity.NewGate(identity.GateConfig{
		Authenticator:  s.deps.Authenticator,
		Codec:          s.deps.Codec,
		RedirectURL:    cfg.OAuth.RedirectURL,
		BackURL:        cfg.OAuth.BackURL,
		PublicOrigin:   s.publicOrigin,
		AllowSensitive: cfg.Logging.AllowSensitive,
		Log:            s.logger,
	})
	apiRouter := s.apiRouter()
	r.Route(APIPrefix, func(r chi.Router) {
		r.Use(gate)
		if d := cfg.RequestTimeout(); d > 0 {
			r.Use(chimw.Timeout(d))
		}
		r.Handle("/*", apiRouter)
	})
	return r
}

// apiRouter registers the API rules. First match wins, so specific rules
// precede the generic ones sharing their prefix (shares/{ref}/edit before
// shares/{path}, user/{name} before user).
func (s *Server) apiRouter() *router.Router {
	d := s.deps
	fh := files.NewHandler(files.NewService(d.Codec, d.Index, d.Store,
		files.Options{MaxUploadBytes: d.Config.Server.MaxUploadBytes}, s.logger))
	sh := shares.NewHandler(shares.NewEngine(d.Codec, d.Index, d.Store, s.logger))
	kh := keys.NewHandler(keys.NewService(d.Store, s.logger))

	rt := router.New(APIPrefix, d.Metrics)
	rt.Handle("files", `files(?:/(?P<path>.*))?`, getPost, fh.Files)
	rt.Handle("invitations", `invitations`, get, sh.Invitations)
	rt.Handle("invite_accept", `invite/(?P<id>[0-9]+)/accept`, getPost, sh.Accept)
	rt.Handle("invite_revoke", `invite/(?P<id>[0-9]+)/revoke`, getPost, sh.Reject)
	rt.Handle("create_folder", `operations/create_folder`, post, fh.CreateFolder)
	rt.Handle("delete", `operations/delete`, post, fh.Delete)
	rt.Handle("move", `operations/move`, post, fh.Move)
	rt.Handle("copy", `operations/copy`, post, fh.Copy)
	rt.Handle("share_create", `share_create/(?P<path>.+)`, post, sh.Create)
	rt.Handle("share_edit", `shares/(?P<ref>.+)/edit`, getPost, sh.Edit)
	rt.Handle("share_revoke", `shares/(?P<ref>.+)/revoke`, getPost, sh.Revoke)
	rt.Handle("share_leave", `shares/(?P<path>.+)/leave`, getPost, sh.Leave)
	rt.Handle("shares_path", `shares/(?P<path>.+)`, get, sh.ForPath)
	rt.Handle("shares", `shares`, get, sh.All)
	rt.Handle("user_name", `user/(?P<name>.+)`, get, kh.User)
	rt.Handle("user", `user`, getPost, kh.Self)
	rt.Handle("key", `key/(?P<path>.+)`, getPost, kh.Key)
	rt.Handle("key_revoke", `key_revoke/(?P<path>.+)`, post, kh.Revoke)
	rt.Handle("meta", `meta(?:/(?P<path>.*))?`, get, fh.Meta)
	rt.Handle("identities", `identities`, get, kh.Identities)
	return rt
}
