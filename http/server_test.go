package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"yogai/monitoring"
)

func TestServerServesAPIThroughChain(t *testing.T) {
	api, _, _ := newTestAPI(&fakeManager{verdict: detectorVerdict(), active: 1}, &fakeStore{})
	s := NewServer(ServerConfig{}, api, nil, nil)

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/api/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	// 安全头由中间件链写入
	if got := rr.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("middleware chain not applied, X-Content-Type-Options=%q", got)
	}

	var health map[string]interface{}
	decodeBody(t, rr, &health)
	if health["status"] != "ok" {
		t.Errorf("unexpected health payload: %v", health)
	}
}

func TestServerDefaults(t *testing.T) {
	api, _, _ := newTestAPI(&fakeManager{}, &fakeStore{})
	s := NewServer(ServerConfig{}, api, nil, nil)

	if s.Addr() != ":8080" {
		t.Errorf("expected default addr :8080, got %s", s.Addr())
	}
	if s.config.Timeout == 0 {
		t.Error("expected default timeout to be applied")
	}
	if len(s.config.AllowedOrigins) == 0 {
		t.Error("expected default allowed origins")
	}
}

func TestServerUnknownPath(t *testing.T) {
	api, _, _ := newTestAPI(&fakeManager{}, &fakeStore{})
	s := NewServer(ServerConfig{}, api, nil, nil)

	for _, path := range []string{"/api/nonexistent", "/metrics", "/"} {
		rr := httptest.NewRecorder()
		s.Handler().ServeHTTP(rr, httptest.NewRequest("GET", path, nil))
		if rr.Code != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", path, rr.Code)
		}
	}
}

func TestServerWebSocketRouteRequiresUpgrade(t *testing.T) {
	manager := &fakeManager{verdict: detectorVerdict()}
	api, recorder, metrics := newTestAPI(manager, &fakeStore{})
	hub := monitoring.NewPracticeHub(manager, recorder, metrics, nil)
	s := NewServer(ServerConfig{}, api, hub, nil)

	// 普通GET请求没有Upgrade头，升级应当失败
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/ws/practice", nil))

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for non-websocket request, got %d", rr.Code)
	}
}

func TestServerWebSocketRouteAbsentWithoutHub(t *testing.T) {
	api, _, _ := newTestAPI(&fakeManager{}, &fakeStore{})
	s := NewServer(ServerConfig{}, api, nil, nil)

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/ws/practice", nil))

	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404 without a hub, got %d", rr.Code)
	}
}
