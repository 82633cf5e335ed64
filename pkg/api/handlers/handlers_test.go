package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/marmos91/agrisync/pkg/connectivity"
	"github.com/marmos91/agrisync/pkg/engine"
	"github.com/marmos91/agrisync/pkg/provider/providertest"
	"github.com/marmos91/agrisync/pkg/queue"
	"github.com/marmos91/agrisync/pkg/storage/memory"
	"github.com/marmos91/agrisync/pkg/syncer"
)

func newTestEngine(t *testing.T) (*engine.Engine, *providertest.Fake) {
	t.Helper()

	fake := providertest.New()
	eng, err := engine.Open(context.Background(), engine.Options{
		Backend:  memory.New(),
		Provider: fake,
		Monitor:  connectivity.NewStatic(connectivity.Normal),
		Queue: queue.Config{
			Backoff:     queue.Backoff{Base: 10 * time.Millisecond, Max: time.Second},
			MaxAttempts: 3,
		},
		Sync: syncer.Config{Interval: time.Hour, EvictionInterval: time.Hour},
	})
	if err != nil {
		t.Fatalf("Failed to open engine: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	eng.Start(ctx)
	t.Cleanup(func() {
		cancel()
		_ = eng.Close()
	})
	return eng, fake
}

// serve routes req through chi so URL parameters resolve.
func serve(method, pattern string, h http.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.Method(method, pattern, h)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("Failed to decode response: %v (body %q)", err, w.Body.String())
	}
	return v
}

func TestLiveness_ReturnsOK(t *testing.T) {
	handler := NewHealthHandler(nil)
	w := httptest.NewRecorder()

	handler.Liveness(w, httptest.NewRequest("GET", "/health", nil))

	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
	resp := decode[Response](t, w)
	if resp.Status != "healthy" {
		t.Errorf("Expected status 'healthy', got '%s'", resp.Status)
	}
	data, ok := resp.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("Expected Data to be a map, got %T", resp.Data)
	}
	if data["service"] != "agrisync" {
		t.Errorf("Expected service 'agrisync', got '%s'", data["service"])
	}
}

func TestReadiness_NoEngine_Returns503(t *testing.T) {
	handler := NewHealthHandler(nil)
	w := httptest.NewRecorder()

	handler.Readiness(w, httptest.NewRequest("GET", "/health/ready", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status %d, got %d", http.StatusServiceUnavailable, w.Code)
	}
	resp := decode[Response](t, w)
	if resp.Error != "engine not initialized" {
		t.Errorf("Expected error 'engine not initialized', got '%s'", resp.Error)
	}
}

func TestReadiness_ClosedEngine_Returns503(t *testing.T) {
	eng, _ := newTestEngine(t)
	handler := NewHealthHandler(eng)

	w := httptest.NewRecorder()
	handler.Readiness(w, httptest.NewRequest("GET", "/health/ready", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}

	_ = eng.Close()
	w = httptest.NewRecorder()
	handler.Readiness(w, httptest.NewRequest("GET", "/health/ready", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status %d after close, got %d", http.StatusServiceUnavailable, w.Code)
	}
}

func TestEntries_PutThenGet(t *testing.T) {
	eng, _ := newTestEngine(t)
	handler := NewEntryHandler(eng, time.Second)

	body := `{"payload":"` + "MjE1MA==" + `","freshness_window":"2h"}`
	w := serve("PUT", "/v1/entries/{key}", handler.Put,
		httptest.NewRequest("PUT", "/v1/entries/price:onion", strings.NewReader(body)))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}
	written := decode[WriteResponse](t, w)
	if written.Entry.FreshnessWindow != "2h0m0s" {
		t.Errorf("Expected freshness window 2h0m0s, got %s", written.Entry.FreshnessWindow)
	}
	if written.Entry.Priority != 20 {
		t.Errorf("Expected price priority 20, got %d", written.Entry.Priority)
	}

	w = serve("GET", "/v1/entries/{key}", handler.Get,
		httptest.NewRequest("GET", "/v1/entries/price:onion", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
	read := decode[ReadResponse](t, w)
	if !read.Found || read.Entry == nil {
		t.Fatalf("Expected entry to be found: %+v", read)
	}
	if string(read.Entry.Payload) != "2150" {
		t.Errorf("Expected payload 2150, got %q", read.Entry.Payload)
	}
	if read.Entry.Stale {
		t.Error("Expected a fresh entry")
	}
}

func TestEntries_GetEscapedKey(t *testing.T) {
	eng, _ := newTestEngine(t)
	handler := NewEntryHandler(eng, time.Second)

	w := serve("PUT", "/v1/entries/{key}", handler.Put,
		httptest.NewRequest("PUT", "/v1/entries/advice:pest%2Fmaize", strings.NewReader(`{"payload":"eA=="}`)))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}
	if got := decode[WriteResponse](t, w).Entry.Key; got != "advice:pest/maize" {
		t.Errorf("Expected key advice:pest/maize, got %s", got)
	}
}

func TestEntries_GetAbsentReturns404(t *testing.T) {
	eng, _ := newTestEngine(t)
	handler := NewEntryHandler(eng, time.Second)

	w := serve("GET", "/v1/entries/{key}", handler.Get,
		httptest.NewRequest("GET", "/v1/entries/weather:pune", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("Expected status %d, got %d", http.StatusNotFound, w.Code)
	}
	if decode[ReadResponse](t, w).Found {
		t.Error("Expected found=false")
	}
}

func TestEntries_MalformedKeyIsBadRequest(t *testing.T) {
	eng, _ := newTestEngine(t)
	handler := NewEntryHandler(eng, time.Second)

	w := serve("GET", "/v1/entries/{key}", handler.Get,
		httptest.NewRequest("GET", "/v1/entries/nocategory", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != ContentTypeProblemJSON {
		t.Errorf("Expected Content-Type %s, got %s", ContentTypeProblemJSON, ct)
	}
	if p := decode[Problem](t, w); p.Code != "invalid_argument" {
		t.Errorf("Expected code invalid_argument, got %q", p.Code)
	}
}

func TestEntries_ListFiltersByCategory(t *testing.T) {
	eng, _ := newTestEngine(t)
	handler := NewEntryHandler(eng, time.Second)

	for _, key := range []string{"price:onion", "price:maize", "weather:pune"} {
		w := serve("PUT", "/v1/entries/{key}", handler.Put,
			httptest.NewRequest("PUT", "/v1/entries/"+key, strings.NewReader(`{"payload":"eA=="}`)))
		if w.Code != http.StatusOK {
			t.Fatalf("Failed to write %s: %d", key, w.Code)
		}
	}

	w := httptest.NewRecorder()
	handler.List(w, httptest.NewRequest("GET", "/v1/entries?category=price", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
	list := decode[[]EntryResponse](t, w)
	if len(list) != 2 || list[0].Key != "price:maize" || list[1].Key != "price:onion" {
		t.Errorf("Expected the two price keys in order, got %+v", list)
	}
	if list[0].Payload != nil {
		t.Error("Expected listings without payloads")
	}

	w = httptest.NewRecorder()
	handler.List(w, httptest.NewRequest("GET", "/v1/entries?category=seeds", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d for unknown category, got %d", http.StatusBadRequest, w.Code)
	}
}

func TestEntries_FetchMergesFromProvider(t *testing.T) {
	eng, fake := newTestEngine(t)
	fake.Set("scheme:pm-kisan", []byte(`{"amount":6000}`))
	handler := NewEntryHandler(eng, 5*time.Second)

	w := serve("POST", "/v1/entries/{key}/fetch", handler.Fetch,
		httptest.NewRequest("POST", "/v1/entries/scheme:pm-kisan/fetch", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}
	read := decode[ReadResponse](t, w)
	if read.Entry == nil || string(read.Entry.Payload) != `{"amount":6000}` {
		t.Errorf("Expected fetched payload, got %+v", read)
	}
}

func TestEntries_FetchTimeoutIsGatewayTimeout(t *testing.T) {
	eng, fake := newTestEngine(t)
	fake.Set("weather:pune", []byte("rain"))
	release := fake.Hold("weather:pune")
	defer release()
	handler := NewEntryHandler(eng, time.Second)

	w := serve("POST", "/v1/entries/{key}/fetch", handler.Fetch,
		httptest.NewRequest("POST", "/v1/entries/weather:pune/fetch?timeout=20ms", nil))
	if w.Code != http.StatusGatewayTimeout {
		t.Fatalf("Expected status %d, got %d: %s", http.StatusGatewayTimeout, w.Code, w.Body.String())
	}
	if p := decode[Problem](t, w); p.Code != "timeout" || p.Key != "weather:pune" {
		t.Errorf("Expected timeout problem for weather:pune, got %+v", p)
	}
}

func TestSync_RefreshQueuesTargets(t *testing.T) {
	eng, _ := newTestEngine(t)
	handler := NewSyncHandler(eng)

	body := bytes.NewBufferString(`{"targets":["price:onion","weather"]}`)
	w := httptest.NewRecorder()
	handler.Refresh(w, httptest.NewRequest("POST", "/v1/refresh", body))
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected status %d, got %d: %s", http.StatusAccepted, w.Code, w.Body.String())
	}
	resp := decode[RefreshResponse](t, w)
	if resp.Operations["price:onion"] == 0 || resp.Operations["weather"] == 0 {
		t.Errorf("Expected operation ids for both targets, got %+v", resp.Operations)
	}
}

func TestSync_RefreshRejectsInvalidTarget(t *testing.T) {
	eng, _ := newTestEngine(t)
	handler := NewSyncHandler(eng)

	w := httptest.NewRecorder()
	handler.Refresh(w, httptest.NewRequest("POST", "/v1/refresh",
		strings.NewReader(`{"targets":["price:onion","seeds"]}`)))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
	if ops := eng.Operations(); len(ops) != 0 {
		t.Errorf("Expected nothing queued, got %d operations", len(ops))
	}

	w = httptest.NewRecorder()
	handler.Refresh(w, httptest.NewRequest("POST", "/v1/refresh", strings.NewReader(`{"targets":[]}`)))
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d for empty targets, got %d", http.StatusBadRequest, w.Code)
	}
}

func TestUserData_DeleteCategory(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	entries := NewEntryHandler(eng, time.Second)
	for _, key := range []string{"advice:a", "advice:b", "price:onion"} {
		serve("PUT", "/v1/entries/{key}", entries.Put,
			httptest.NewRequest("PUT", "/v1/entries/"+key, strings.NewReader(`{"payload":"eHh4"}`)))
	}

	handler := NewUserDataHandler(eng)
	w := httptest.NewRecorder()
	handler.Delete(w, httptest.NewRequest("DELETE", "/v1/user-data",
		strings.NewReader(`{"categories":["advice"]}`)))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}
	report := decode[engine.DeleteReport](t, w)
	if report.Entries != 2 || report.FreedBytes != 6 {
		t.Errorf("Expected 2 entries and 6 bytes freed, got %+v", report)
	}

	res, err := eng.Read(ctx, "price:onion")
	if err != nil || !res.Found {
		t.Errorf("Expected price:onion to survive, got %+v, %v", res, err)
	}
}

func TestUserData_EmptyScopeIsBadRequest(t *testing.T) {
	eng, _ := newTestEngine(t)
	handler := NewUserDataHandler(eng)

	w := httptest.NewRecorder()
	handler.Delete(w, httptest.NewRequest("DELETE", "/v1/user-data", strings.NewReader(`{}`)))
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
	}

	w = httptest.NewRecorder()
	handler.Delete(w, httptest.NewRequest("DELETE", "/v1/user-data", strings.NewReader(`{"everything":true}`)))
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d for unknown field, got %d", http.StatusBadRequest, w.Code)
	}
}

func TestUserData_Status(t *testing.T) {
	eng, _ := newTestEngine(t)
	entries := NewEntryHandler(eng, time.Second)
	serve("PUT", "/v1/entries/{key}", entries.Put,
		httptest.NewRequest("PUT", "/v1/entries/price:onion", strings.NewReader(`{"payload":"eHh4"}`)))

	handler := NewUserDataHandler(eng)
	w := httptest.NewRecorder()
	handler.Status(w, httptest.NewRequest("GET", "/v1/status", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
	status := decode[engine.Status](t, w)
	if status.UsedBytes != 3 || status.Entries != 1 || status.Connectivity != connectivity.Normal {
		t.Errorf("Unexpected status %+v", status)
	}
}
