package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/MahdiBaghbani/localbox-go/internal/appctx"
)

func records(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("invalid log line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func chain(base *slog.Logger, h http.Handler) http.Handler {
	return chimw.RequestID(RequestLogger(base)(AccessLog(base)(h)))
}

func TestAccessLog_CarriesRequestFields(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))

	h := chain(base, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		appctx.GetLogger(r.Context()).Info("inside handler")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("hello"))
	}))

	req := httptest.NewRequest(http.MethodPost, "/lox_api/files/a.txt?secret=1", nil)
	req.RemoteAddr = "192.0.2.7:5555"
	h.ServeHTTP(httptest.NewRecorder(), req)

	recs := records(t, &buf)
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d: %s", len(recs), buf.String())
	}
	for _, rec := range recs {
		if rec["request_id"] == "" || rec["request_id"] == nil {
			t.Errorf("missing request_id in %v", rec)
		}
		if rec["path"] != "/lox_api/files/a.txt" {
			t.Errorf("expected path without query, got %v", rec["path"])
		}
		if rec["client_ip"] != "192.0.2.7" {
			t.Errorf("expected client_ip, got %v", rec["client_ip"])
		}
	}
	access := recs[1]
	if access["msg"] != "request" {
		t.Fatalf("expected access record last, got %v", access["msg"])
	}
	if access["status"] != float64(http.StatusCreated) || access["bytes"] != float64(5) {
		t.Errorf("unexpected response fields: %v", access)
	}
	if access["request_id"] != recs[0]["request_id"] {
		t.Error("handler and access log disagree on request_id")
	}
}

func TestAccessLog_ServerErrorsAreWarnings(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))
	h := chain(base, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	recs := records(t, &buf)
	if len(recs) != 1 || recs[0]["level"] != "WARN" {
		t.Fatalf("expected one WARN record, got %s", buf.String())
	}
}

func TestAccessLog_ImplicitOK(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))
	AccessLog(base)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})).
		ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	recs := records(t, &buf)
	if len(recs) != 1 || recs[0]["status"] != float64(http.StatusOK) {
		t.Fatalf("expected status 200 record, got %s", buf.String())
	}
	if recs[0]["path"] != "/health" {
		t.Errorf("fallback logger lost the path: %v", recs[0])
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct{ remote, want string }{
		{"192.0.2.1:80", "192.0.2.1"},
		{"[2001:db8::1]:443", "2001:db8::1"},
		{"pipe", "pipe"},
		{"", "unknown"},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = tt.remote
		if got := ClientIP(r); got != tt.want {
			t.Errorf("ClientIP(%q) = %q, want %q", tt.remote, got, tt.want)
		}
	}
}
