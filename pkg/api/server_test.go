package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/marmos91/agrisync/pkg/connectivity"
	"github.com/marmos91/agrisync/pkg/engine"
	"github.com/marmos91/agrisync/pkg/metrics"
	"github.com/marmos91/agrisync/pkg/provider/providertest"
	"github.com/marmos91/agrisync/pkg/storage/memory"
)

func testEngine(t *testing.T) *engine.Engine {
	t.Helper()
	eng, err := engine.Open(context.Background(), engine.Options{
		Backend:  memory.New(),
		Provider: providertest.New(),
		Monitor:  connectivity.NewStatic(connectivity.Offline),
	})
	if err != nil {
		t.Fatalf("Failed to open engine: %v", err)
	}
	t.Cleanup(func() { _ = eng.Close() })
	return eng
}

func TestAPIServer_Lifecycle(t *testing.T) {
	enabled := true
	cfg := APIConfig{
		Enabled:      &enabled,
		Host:         "127.0.0.1",
		Port:         18790,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  10 * time.Second,
	}
	server := NewServer(cfg, testEngine(t), RouterOptions{})

	ctx, cancel := context.WithCancel(context.Background())

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Start(ctx)
	}()

	// Give server time to start
	time.Sleep(100 * time.Millisecond)

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Port))
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, resp.StatusCode)
	}
	if contentType := resp.Header.Get("Content-Type"); contentType != "application/json" {
		t.Errorf("Expected Content-Type 'application/json', got '%s'", contentType)
	}

	cancel()

	select {
	case err := <-errChan:
		if err != nil {
			t.Errorf("Expected nil on graceful shutdown, got: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Server did not shutdown in time")
	}
}

func TestAPIServer_DefaultConfig(t *testing.T) {
	server := NewServer(APIConfig{}, nil, RouterOptions{})

	if server.Port() != 7070 {
		t.Errorf("Expected default port 7070, got %d", server.Port())
	}
	if server.Addr() != "127.0.0.1:7070" {
		t.Errorf("Expected default addr 127.0.0.1:7070, got %s", server.Addr())
	}
	if server.server.WriteTimeout != 30*time.Second {
		t.Errorf("Expected default write timeout 30s, got %v", server.server.WriteTimeout)
	}
}

func TestAPIConfig_URL(t *testing.T) {
	tests := []struct {
		host string
		want string
	}{
		{"127.0.0.1", "http://127.0.0.1:7070"},
		{"0.0.0.0", "http://localhost:7070"},
		{"", "http://localhost:7070"},
	}
	for _, tt := range tests {
		cfg := APIConfig{Host: tt.host, Port: 7070}
		if got := cfg.URL(); got != tt.want {
			t.Errorf("URL() with host %q = %s, want %s", tt.host, got, tt.want)
		}
	}
}

func TestRouter_Routes(t *testing.T) {
	reg := metrics.NewRegistry()
	metrics.NewMetrics(reg)
	router := NewRouter(testEngine(t), RouterOptions{
		FetchTimeout: time.Second,
		Metrics:      metrics.Handler(reg),
	})

	tests := []struct {
		method string
		path   string
		body   string
		want   int
	}{
		{"GET", "/health", "", http.StatusOK},
		{"GET", "/health/ready", "", http.StatusOK},
		{"GET", "/", "", http.StatusTemporaryRedirect},
		{"GET", "/v1/status", "", http.StatusOK},
		{"PUT", "/v1/entries/price:onion", `{"payload":"eA=="}`, http.StatusOK},
		{"GET", "/v1/entries/price:onion", "", http.StatusOK},
		{"GET", "/v1/entries", "", http.StatusOK},
		{"POST", "/v1/refresh", `{"targets":["weather"]}`, http.StatusAccepted},
		{"GET", "/v1/operations", "", http.StatusOK},
		{"DELETE", "/v1/user-data", `{"keys":["price:onion"]}`, http.StatusOK},
		{"GET", "/v1/entries/price:onion", "", http.StatusNotFound},
		{"POST", "/v1/status", "", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		var body io.Reader
		if tt.body != "" {
			body = strings.NewReader(tt.body)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, body))
		if w.Code != tt.want {
			t.Errorf("%s %s: expected status %d, got %d: %s", tt.method, tt.path, tt.want, w.Code, w.Body.String())
		}
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "agrisync_") {
		t.Errorf("Expected agrisync metrics on /metrics, got %d", w.Code)
	}
}

func TestRouter_NoEngineServesHealthOnly(t *testing.T) {
	router := NewRouter(nil, RouterOptions{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, w.Code)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/v1/status", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status %d, got %d", http.StatusNotFound, w.Code)
	}
}
