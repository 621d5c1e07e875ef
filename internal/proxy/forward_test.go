package proxy_test

import (
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/goodtune/pac-router/internal/proxy"
	"github.com/goodtune/pac-router/internal/route"
	"github.com/goodtune/pac-router/internal/rules"
)

// staticRouter implements proxy.Router for testing.
type staticRouter struct {
	route route.Route
	rule  int

	mu    sync.Mutex
	calls []string
}

func (s *staticRouter) Lookup(url, host string) rules.Result {
	s.mu.Lock()
	s.calls = append(s.calls, url)
	s.mu.Unlock()
	return rules.Result{Route: s.route, Rule: s.rule}
}

func (s *staticRouter) seen() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func direct() *staticRouter {
	return &staticRouter{route: route.Direct(), rule: -1}
}

func via(t *testing.T, scheme route.Scheme, addr string) *staticRouter {
	t.Helper()
	host, portText, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatal(err)
	}
	port, err := strconv.Atoi(portText)
	if err != nil {
		t.Fatal(err)
	}
	return &staticRouter{route: route.Proxy(scheme, host, uint16(port)), rule: 0}
}

func TestForwardDirect(t *testing.T) {
	// Origin server
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Test", "ok")
		w.WriteHeader(200)
		w.Write([]byte("hello from origin"))
	}))
	defer origin.Close()

	router := direct()
	handler := proxy.NewHandler(router, nil)

	// Simulate a forward proxy request (absolute URL)
	req := httptest.NewRequest("GET", origin.URL+"/path", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Errorf("status: got %d, want 200", rec.Code)
	}
	if rec.Header().Get("X-Test") != "ok" {
		t.Errorf("header X-Test: got %q, want %q", rec.Header().Get("X-Test"), "ok")
	}
	body, _ := io.ReadAll(rec.Body)
	if string(body) != "hello from origin" {
		t.Errorf("body: got %q, want %q", body, "hello from origin")
	}
	if calls := router.seen(); len(calls) != 1 || calls[0] != origin.URL+"/path" {
		t.Errorf("router calls: got %v", calls)
	}
}

func TestForwardViaUpstream(t *testing.T) {
	// Origin server
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		w.Write([]byte("from origin"))
	}))
	defer origin.Close()

	var sawAbsoluteURL atomic.Bool
	// Upstream proxy that forwards to origin
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawAbsoluteURL.Store(r.URL.IsAbs())
		resp, err := http.Get(origin.URL + r.URL.Path)
		if err != nil {
			http.Error(w, err.Error(), 502)
			return
		}
		defer resp.Body.Close()
		w.WriteHeader(resp.StatusCode)
		io.Copy(w, resp.Body)
	}))
	defer upstream.Close()

	handler := proxy.NewHandler(via(t, route.HTTP, upstream.Listener.Addr().String()), nil)

	req := httptest.NewRequest("GET", origin.URL+"/path", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Errorf("status: got %d, want 200", rec.Code)
	}
	if !sawAbsoluteURL.Load() {
		t.Error("upstream did not receive a proxy-style absolute URL")
	}
}

func TestForwardUpstreamDown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	handler := proxy.NewHandler(via(t, route.HTTP, addr), nil)
	req := httptest.NewRequest("GET", "http://example.invalid/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Errorf("status: got %d, want %d", rec.Code, http.StatusBadGateway)
	}
}

func TestForwardSOCKS4Unsupported(t *testing.T) {
	handler := proxy.NewHandler(via(t, route.SOCKS4, "127.0.0.1:1080"), nil)
	req := httptest.NewRequest("GET", "http://example.invalid/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Errorf("status: got %d, want %d", rec.Code, http.StatusBadGateway)
	}
}
