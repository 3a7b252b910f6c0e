package client

import (
	"context"
	"crypto/x509"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestClient_ForwardsHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(r.Header.Get("Authorization")))
	}))
	defer server.Close()

	c := New(Options{})
	resp, err := c.Get(context.Background(), server.URL, http.Header{"Authorization": {"Bearer abc"}})
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	body, err := c.ReadBody(resp)
	if err != nil {
		t.Fatalf("ReadBody() error = %v", err)
	}
	if string(body) != "Bearer abc" {
		t.Errorf("expected forwarded header, got %q", body)
	}
}

func TestClient_RejectsRedirects(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("redirect target must not be contacted")
	}))
	defer target.Close()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, target.URL, http.StatusFound)
	}))
	defer server.Close()

	_, err := New(Options{}).Get(context.Background(), server.URL, nil)
	if !errors.Is(err, ErrRedirectBlocked) {
		t.Fatalf("expected ErrRedirectBlocked, got %v", err)
	}
}

func TestClient_BoundsResponseBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 64)))
	}))
	defer server.Close()

	c := New(Options{MaxResponseBytes: 16})
	resp, err := c.Get(context.Background(), server.URL, nil)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if _, err := c.ReadBody(resp); !errors.Is(err, ErrResponseTooLarge) {
		t.Fatalf("expected ErrResponseTooLarge, got %v", err)
	}
}

func TestClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	start := time.Now()
	_, err := New(Options{Timeout: 50 * time.Millisecond}).Get(context.Background(), server.URL, nil)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("timeout not enforced, took %v", time.Since(start))
	}
}

func TestClient_ProxyEnvIgnored(t *testing.T) {
	t.Setenv("HTTP_PROXY", "http://127.0.0.1:1")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	resp, err := New(Options{}).Get(context.Background(), server.URL, nil)
	if err != nil {
		t.Fatalf("expected direct connection, got %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("expected 204, got %d", resp.StatusCode)
	}
}

func TestClient_TLSMinimumVersion(t *testing.T) {
	c := New(Options{})
	tr := c.httpClient.Transport.(*http.Transport)
	if tr.TLSClientConfig.MinVersion < 0x0303 {
		t.Errorf("expected TLS 1.2 minimum, got %x", tr.TLSClientConfig.MinVersion)
	}
}

func TestClient_RootCAs(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("alice"))
	}))
	defer server.Close()

	if _, err := New(Options{}).Get(context.Background(), server.URL, nil); err == nil {
		t.Fatal("expected an unknown authority error without the test root")
	}

	pool := x509.NewCertPool()
	pool.AddCert(server.Certificate())
	resp, err := New(Options{RootCAs: pool}).Get(context.Background(), server.URL, nil)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}
