package identity

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/MahdiBaghbani/localbox-go/internal/components/authcache"
	"github.com/MahdiBaghbani/localbox-go/internal/platform/logutil"
	"github.com/MahdiBaghbani/localbox-go/internal/platform/metrics"
)

// Authenticator validates Authorization headers, consulting the cache before
// the verifier. Verified users are cached for the cache's TTL.
type Authenticator struct {
	cache    *authcache.AuthCache
	verifier Verifier
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewAuthenticator creates an Authenticator. m may be nil.
func NewAuthenticator(cache *authcache.AuthCache, verifier Verifier, m *metrics.Metrics, logger *slog.Logger) *Authenticator {
	return &Authenticator{
		cache:    cache,
		verifier: verifier,
		metrics:  m,
		logger:   logutil.NoopIfNil(logger),
	}
}

// Authenticate returns the user for an Authorization header value.
// Failures are *AuthFailure.
func (a *Authenticator) Authenticate(ctx context.Context, authorization string) (string, error) {
	if !hasToken(authorization) {
		return "", &AuthFailure{Reason: ReasonMissing}
	}

	if user, ok := a.cache.Get(ctx, authorization); ok {
		a.metrics.AuthCacheLookup(true)
		return user, nil
	}
	a.metrics.AuthCacheLookup(false)

	user, err := a.verifier.Verify(ctx, authorization)
	if err != nil {
		var failure *AuthFailure
		if !errors.As(err, &failure) {
			failure = &AuthFailure{Reason: ReasonUnreachable, Err: err}
		}
		a.metrics.AuthVerification(failure.Reason)
		return "", failure
	}
	a.metrics.AuthVerification("ok")

	if err := a.cache.Put(ctx, authorization, user, 0); err != nil {
		a.logger.Warn("failed to cache verified token", "user", user, "error", err)
	}
	return user, nil
}

// hasToken reports whether the header carries a credential. A bare scheme
// such as "Bearer" with nothing after it counts as missing.
func hasToken(authorization string) bool {
	v := strings.TrimSpace(authorization)
	if v == "" {
		return false
	}
	scheme, rest, found := strings.Cut(v, " ")
	if !found {
		return !strings.EqualFold(scheme, "bearer")
	}
	return strings.TrimSpace(rest) != ""
}
