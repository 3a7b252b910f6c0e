// Package client provides the bounded outbound HTTP client used for token
// verification.
package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

var (
	ErrResponseTooLarge = errors.New("response body too large")
	ErrRedirectBlocked  = errors.New("redirect blocked by policy")
)

// Options bounds the behavior of a Client.
type Options struct {
	// Timeout bounds a whole request, including reading the body.
	Timeout time.Duration

	// ConnectTimeout bounds dialing.
	ConnectTimeout time.Duration

	// MaxResponseBytes bounds bodies read through ReadBody.
	MaxResponseBytes int64

	// RootCAs overrides the system roots when non-nil.
	RootCAs *x509.CertPool

	// InsecureSkipVerify disables TLS verification (dev-only).
	InsecureSkipVerify bool
}

func (o *Options) applyDefaults() {
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Second
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 2 * time.Second
	}
	if o.MaxResponseBytes <= 0 {
		o.MaxResponseBytes = 4096
	}
}

// HTTPClient is the interface consumers depend on; *Client implements it.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is an HTTP client with bounded time and response size that never
// follows redirects and ignores proxy environment variables.
type Client struct {
	opts       Options
	httpClient *http.Client
}

// New creates a Client.
func New(opts Options) *Client {
	opts.applyDefaults()

	dialer := &net.Dialer{Timeout: opts.ConnectTimeout}
	transport := &http.Transport{
		// Explicitly ignore proxy environment variables
		Proxy:       nil,
		DialContext: dialer.DialContext,
		TLSClientConfig: &tls.Config{
			MinVersion:         tls.VersionTLS12,
			RootCAs:            opts.RootCAs,
			InsecureSkipVerify: opts.InsecureSkipVerify,
		},
		TLSHandshakeTimeout: opts.ConnectTimeout,
		MaxIdleConns:        10,
		IdleConnTimeout:     30 * time.Second,
	}

	return &Client{
		opts: opts,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   opts.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Do performs req. A 3xx response is closed and reported as ErrRedirectBlocked;
// forwarding credentials to another location is never wanted here.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if isRedirect(resp.StatusCode) {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: received %d", ErrRedirectBlocked, resp.StatusCode)
	}
	return resp, nil
}

// Get performs a GET request with the given headers.
func (c *Client) Get(ctx context.Context, urlStr string, header http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	return c.Do(req)
}

// ReadBody reads and closes resp.Body, failing with ErrResponseTooLarge past
// MaxResponseBytes.
func (c *Client) ReadBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, c.opts.MaxResponseBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > c.opts.MaxResponseBytes {
		return nil, fmt.Errorf("%w: limit %d bytes", ErrResponseTooLarge, c.opts.MaxResponseBytes)
	}
	return body, nil
}

// isRedirect returns true if the status code is a redirect.
func isRedirect(code int) bool {
	return code == http.StatusMovedPermanently ||
		code == http.StatusFound ||
		code == http.StatusSeeOther ||
		code == http.StatusTemporaryRedirect ||
		code == http.StatusPermanentRedirect
}
