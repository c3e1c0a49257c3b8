package control

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"entropyqad/internal/entropyqa"
)

func newTestServer(t *testing.T) (*Server, *entropyqa.MonitorRegistry) {
	t.Helper()
	reg := entropyqa.NewMonitorRegistry()
	monitor, err := entropyqa.NewHealthMonitor("dev0", true, reg)
	if err != nil {
		t.Fatalf("NewHealthMonitor: %v", err)
	}
	t.Cleanup(func() { monitor.Close() })

	monitor.Check(make([]byte, entropyqa.FIPSBlockSize))

	s := New(Config{Registry: reg})
	return s, reg
}

func TestHandleIDs(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/ids", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var ids []string
	if err := json.Unmarshal(rec.Body.Bytes(), &ids); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(ids) != 1 || ids[0] != "dev0" {
		t.Errorf("expected [dev0], got %v", ids)
	}
}

func TestHandleStatsAll(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var out map[string]json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := out["dev0"]; !ok {
		t.Errorf("expected dev0 key in stats response, got %v", out)
	}
}

func TestHandleStatsOneUnknownID(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/stats/nonexistent", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var out map[string]json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("expected empty object for unknown id, got %v", out)
	}
}

func TestHandleRawOne(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/raw/dev0", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json content type, got %q", ct)
	}
}

func TestRequestIDHeaderIsStamped(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/ids", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Header().Get("X-Request-Id") == "" {
		t.Error("expected X-Request-Id header to be set")
	}
}

func TestRateLimitMiddlewareRejectsOverBudget(t *testing.T) {
	reg := entropyqa.NewMonitorRegistry()
	s := New(Config{Registry: reg, RateLimit: 1, Burst: 1})

	req := httptest.NewRequest(http.MethodGet, "/ids", nil)

	first := httptest.NewRecorder()
	s.router.ServeHTTP(first, req)
	if first.Code != http.StatusOK {
		t.Fatalf("expected first request to succeed, got %d", first.Code)
	}

	second := httptest.NewRecorder()
	s.router.ServeHTTP(second, req)
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second request to be rate limited, got %d", second.Code)
	}
}
