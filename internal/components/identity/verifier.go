package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/MahdiBaghbani/localbox-go/internal/components/pathcodec"
	"github.com/MahdiBaghbani/localbox-go/internal/platform/http/client"
)

// Verifier resolves an Authorization header value to a username.
// It returns *AuthFailure for rejected or unreachable verifications.
type Verifier interface {
	Verify(ctx context.Context, authorization string) (string, error)
}

// HTTPVerifier calls the verification endpoint with the client's
// Authorization header; a 2xx response body is the username.
type HTTPVerifier struct {
	url    string
	client *client.Client
}

// NewHTTPVerifier creates a verifier for verifyURL.
func NewHTTPVerifier(verifyURL string, c *client.Client) *HTTPVerifier {
	return &HTTPVerifier{url: verifyURL, client: c}
}

// Verify implements Verifier.
func (v *HTTPVerifier) Verify(ctx context.Context, authorization string) (string, error) {
	resp, err := v.client.Get(ctx, v.url, http.Header{"Authorization": {authorization}})
	if err != nil {
		if errors.Is(err, client.ErrRedirectBlocked) {
			return "", &AuthFailure{Reason: ReasonRejected, Err: err}
		}
		return "", &AuthFailure{Reason: ReasonUnreachable, Err: err}
	}
	body, err := v.client.ReadBody(resp)
	if err != nil {
		if errors.Is(err, client.ErrResponseTooLarge) {
			return "", &AuthFailure{Reason: ReasonRejected, Err: err}
		}
		return "", &AuthFailure{Reason: ReasonUnreachable, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &AuthFailure{Reason: ReasonRejected, Err: fmt.Errorf("verify endpoint answered %d", resp.StatusCode)}
	}
	name := strings.TrimSpace(string(body))
	if name == "" {
		return "", &AuthFailure{Reason: ReasonRejected, Err: errors.New("empty verification response")}
	}
	if err := pathcodec.ValidUsername(name); err != nil {
		return "", &AuthFailure{Reason: ReasonRejected, Err: err}
	}
	return name, nil
}
