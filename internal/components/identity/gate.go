package identity

import (
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/MahdiBaghbani/localbox-go/internal/appctx"
	"github.com/MahdiBaghbani/localbox-go/internal/components/api"
	"github.com/MahdiBaghbani/localbox-go/internal/components/pathcodec"
	"github.com/MahdiBaghbani/localbox-go/internal/platform/logutil"
)

// GateConfig configures the authentication gate middleware.
type GateConfig struct {
	Authenticator *Authenticator

	// Codec creates the home directory of authenticated users.
	Codec *pathcodec.Codec

	// RedirectURL is the login page advertised in the challenge.
	RedirectURL string

	// BackURL overrides the redirect_uri callback.
	BackURL string

	// PublicOrigin is used to build the callback when BackURL is empty.
	// Empty falls back to the scheme and Host of the request.
	PublicOrigin string

	// AllowSensitive permits logging of Authorization headers.
	AllowSensitive bool

	Log *slog.Logger
}

// NewGate returns a middleware that authenticates every request. On success
// the user's home directory exists, the user is in the context and the
// request logger carries a user attribute.
func NewGate(cfg GateConfig) func(http.Handler) http.Handler {
	cfg.Log = logutil.NoopIfNil(cfg.Log)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			log := appctx.GetLogger(ctx)
			authorization := r.Header.Get("Authorization")

			user, err := cfg.Authenticator.Authenticate(ctx, authorization)
			if err != nil {
				reason := ReasonUnreachable
				var failure *AuthFailure
				if errors.As(err, &failure) {
					reason = failure.Reason
				}
				attrs := []any{"reason", reason, "error", err}
				if cfg.AllowSensitive {
					attrs = append(attrs, "authorization", authorization)
				}
				log.Debug("authentication failed", attrs...)
				writeChallenge(w, challengeURL(cfg, r))
				return
			}

			if _, err := cfg.Codec.EnsureHome(user); err != nil {
				log.Error("failed to create home directory", "user", user, "error", err)
				api.WriteInternalError(w, api.ReasonIOError, "failed to prepare home directory")
				return
			}

			ctx = WithUser(ctx, user)
			ctx = appctx.WithFields(ctx, "user", user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// challengeURL builds the login URL carrying the callback to the original request.
func challengeURL(cfg GateConfig, r *http.Request) string {
	back := cfg.BackURL
	if back == "" {
		origin := strings.TrimSuffix(cfg.PublicOrigin, "/")
		if origin == "" {
			scheme := "http"
			if r.TLS != nil {
				scheme = "https"
			}
			origin = scheme + "://" + r.Host
		}
		back = origin + r.URL.RequestURI()
	}
	q := url.Values{"redirect_uri": {back}}.Encode()
	if strings.Contains(cfg.RedirectURL, "?") {
		return cfg.RedirectURL + "&" + q
	}
	return cfg.RedirectURL + "?" + q
}

func writeChallenge(w http.ResponseWriter, redirect string) {
	w.Header().Set("WWW-Authenticate", `Bearer domain="`+redirect+`"`)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	esc := html.EscapeString(redirect)
	fmt.Fprintf(w, `<h1>401: Forbidden.</h1><p>Authorization failed. Please authenticate at <a href="%s">%s</a></p>`, esc, esc)
}
