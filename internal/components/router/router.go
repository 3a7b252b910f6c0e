// Package router dispatches /lox_api requests through an ordered rule table.
//
// Rules are tried top to bottom and the first pattern that matches wins.
// Several patterns are prefixes of others (shares/{x}/edit before shares/{x}),
// so the registration order is part of the routing contract.
package router

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	"github.com/MahdiBaghbani/localbox-go/internal/appctx"
	"github.com/MahdiBaghbani/localbox-go/internal/components/api"
	"github.com/MahdiBaghbani/localbox-go/internal/platform/metrics"
)

// Rule binds a path pattern to a handler.
type Rule struct {
	// Name labels the rule in logs and metrics.
	Name string

	// Pattern is matched against the escaped request path below the
	// router prefix. It is anchored on both ends.
	Pattern string

	// Methods lists the accepted methods; empty accepts any.
	Methods []string

	Handler http.HandlerFunc

	re *regexp.Regexp
}

// Router is an http.Handler over an ordered rule table.
type Router struct {
	prefix  string
	rules   []*Rule
	metrics *metrics.Metrics
}

// New creates a router for paths below prefix (e.g. "/lox_api"). m may be nil.
func New(prefix string, m *metrics.Metrics) *Router {
	return &Router{prefix: strings.TrimSuffix(prefix, "/"), metrics: m}
}

// Handle appends a rule. It panics on an invalid pattern, like http.ServeMux.
func (rt *Router) Handle(name, pattern string, methods []string, h http.HandlerFunc) {
	re, err := regexp.Compile("^(?:" + pattern + ")$")
	if err != nil {
		panic(fmt.Sprintf("router: rule %s: %v", name, err))
	}
	rt.rules = append(rt.rules, &Rule{Name: name, Pattern: pattern, Methods: methods, Handler: h, re: re})
}

// Rules returns the rule names in match order.
func (rt *Router) Rules() []string {
	names := make([]string, len(rt.rules))
	for i, r := range rt.rules {
		names[i] = r.Name
	}
	return names
}

type matchKey struct{}

type match struct {
	rule   string
	params map[string]string
}

// Param returns a named group of the matched pattern, still URL-escaped.
func Param(r *http.Request, name string) string {
	m, _ := r.Context().Value(matchKey{}).(*match)
	if m == nil {
		return ""
	}
	return m.params[name]
}

// RuleName returns the name of the rule that matched r.
func RuleName(r *http.Request) string {
	m, _ := r.Context().Value(matchKey{}).(*match)
	if m == nil {
		return ""
	}
	return m.rule
}

// ServeHTTP implements http.Handler.
func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	sw := &statusWriter{ResponseWriter: w}
	path := strings.TrimPrefix(r.URL.EscapedPath(), rt.prefix)
	path = strings.TrimPrefix(path, "/")

	rule, params := rt.find(path)
	name := ""
	if rule != nil {
		name = rule.Name
	}

	defer func() {
		if rec := recover(); rec != nil {
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			appctx.GetLogger(r.Context()).Error("panic in handler",
				"rule", name, "panic", fmt.Sprint(rec), "stack", string(debug.Stack()))
			if !sw.wroteHeader {
				api.WriteInternalError(sw, api.ReasonInternalError, "internal error")
			}
		}
		rt.metrics.ObserveRequest(name, sw.status(), time.Since(start))
	}()

	if rule == nil {
		appctx.GetLogger(r.Context()).Debug("no rule matched", "path", path)
		api.WriteNotFound(sw, "no such endpoint")
		return
	}
	if !allowed(rule.Methods, r.Method) {
		sw.Header().Set("Allow", strings.Join(allowList(rule.Methods), ", "))
		api.WriteError(sw, http.StatusMethodNotAllowed, api.ReasonMethodNotAllowed, "method not allowed")
		return
	}

	ctx := context.WithValue(r.Context(), matchKey{}, &match{rule: name, params: params})
	rule.Handler(sw, r.WithContext(ctx))
}

func (rt *Router) find(path string) (*Rule, map[string]string) {
	for _, rule := range rt.rules {
		sub := rule.re.FindStringSubmatch(path)
		if sub == nil {
			continue
		}
		params := make(map[string]string)
		for i, group := range rule.re.SubexpNames() {
			if group != "" {
				params[group] = sub[i]
			}
		}
		return rule, params
	}
	return nil, nil
}

func allowed(methods []string, method string) bool {
	if len(methods) == 0 {
		return true
	}
	for _, m := range methods {
		if m == method || (m == http.MethodGet && method == http.MethodHead) {
			return true
		}
	}
	return false
}

func allowList(methods []string) []string {
	out := append([]string(nil), methods...)
	for _, m := range methods {
		if m == http.MethodGet {
			out = append(out, http.MethodHead)
			break
		}
	}
	sort.Strings(out)
	return out
}

type statusWriter struct {
	http.ResponseWriter
	code        int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.code = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) status() int {
	if !w.wroteHeader {
		return http.StatusOK
	}
	return w.code
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
