package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"fleetcall/internal/cache"
	"fleetcall/internal/calls"
	"fleetcall/internal/dialer"
	"fleetcall/internal/telephony"

	"github.com/gin-gonic/gin"
)

// stubProvider always succeeds; handler tests care about HTTP shape,
// not dispatch mechanics.
type stubProvider struct{}

func (stubProvider) Name() string { return "bolna" }
func (stubProvider) Start(ctx context.Context, req telephony.StartRequest) (string, error) {
	return "prov-1", nil
}
func (stubProvider) Hangup(ctx context.Context, providerCallID string) error { return nil }
func (stubProvider) Health(ctx context.Context) error                        { return nil }
func (stubProvider) Config() telephony.Info {
	return telephony.Info{Name: "bolna", Kind: "voice-ai", Configured: true}
}

func newTestHandlers(t *testing.T, store *calls.MemoryStore) Handlers {
	t.Helper()
	gin.SetMode(gin.TestMode)
	registry, err := telephony.NewRegistry("bolna", stubProvider{})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	lc := calls.NewLifecycle(store, nil)
	return Handlers{
		Store:    store,
		Dialer:   dialer.NewService(store, lc, registry, dialer.NewMemoryGuard(), dialer.Config{}),
		Registry: registry,
		Cache:    cache.New(10),
		StatsTTL: 10 * time.Second,
	}
}

func newHandlerRouter(h Handlers) *gin.Engine {
	r := gin.New()
	r.POST("/v1/calls/start", h.StartCall)
	r.GET("/v1/calls/:id", h.GetCall)
	r.POST("/v1/calls/:id/hangup", h.Hangup)
	r.GET("/v1/stats", h.Stats)
	r.GET("/v1/providers", h.Providers)
	return r
}

func TestStatsCacheHeaders(t *testing.T) {
	store := calls.NewMemoryStore()
	store.AddRecipient(calls.Recipient{Name: "Asha", Phone: "+919876543210"})
	r := newHandlerRouter(newTestHandlers(t, store))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/stats", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d", w.Code)
	}
	if got := w.Header().Get("X-Cache"); got != "MISS" {
		t.Fatalf("first X-Cache = %q, want MISS", got)
	}
	if cc := w.Header().Get("Cache-Control"); !strings.HasPrefix(cc, "max-age=") {
		t.Fatalf("Cache-Control = %q", cc)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/stats", nil))
	if got := w.Header().Get("X-Cache"); got != "HIT" {
		t.Fatalf("second X-Cache = %q, want HIT", got)
	}

	var stats calls.Stats
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("body: %v", err)
	}
	if stats.TotalRecipients != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestStartCallEndpoint(t *testing.T) {
	store := calls.NewMemoryStore()
	rec := store.AddRecipient(calls.Recipient{Name: "Asha", Phone: "+919876543210"})
	r := newHandlerRouter(newTestHandlers(t, store))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/calls/start", strings.NewReader(`{"recipient_id":"`+rec.ID+`"}`))
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d, body = %s", w.Code, w.Body.String())
	}

	var call calls.Call
	if err := json.Unmarshal(w.Body.Bytes(), &call); err != nil {
		t.Fatalf("body: %v", err)
	}
	if call.Status != calls.CallStatusCalling || call.ProviderCallID != "prov-1" {
		t.Fatalf("call = %+v", call)
	}

	// Same recipient again conflicts.
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/v1/calls/start", strings.NewReader(`{"recipient_id":"`+rec.ID+`"}`))
	r.ServeHTTP(w, req)
	if w.Code != http.StatusConflict {
		t.Fatalf("code = %d, want 409", w.Code)
	}
}

func TestStartCallValidation(t *testing.T) {
	r := newHandlerRouter(newTestHandlers(t, calls.NewMemoryStore()))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/calls/start", strings.NewReader(`{}`)))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing recipient_id: code = %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/calls/start",
		strings.NewReader(`{"recipient_id":"r1","provider":"twilio"}`)))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("unknown provider: code = %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/calls/start",
		strings.NewReader(`{"recipient_id":"missing"}`)))
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown recipient: code = %d", w.Code)
	}
}

func TestHangupEndpointNoOpOnUnknown(t *testing.T) {
	r := newHandlerRouter(newTestHandlers(t, calls.NewMemoryStore()))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/calls/never-seen/hangup", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d, want 200 no-op", w.Code)
	}
}

func TestProvidersEndpoint(t *testing.T) {
	r := newHandlerRouter(newTestHandlers(t, calls.NewMemoryStore()))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/providers", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d", w.Code)
	}

	var body struct {
		Providers []telephony.Info `json:"providers"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("body: %v", err)
	}
	if len(body.Providers) != 1 || body.Providers[0].Name != "bolna" {
		t.Fatalf("providers = %+v", body.Providers)
	}
}
