package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/heliumhq/helium-go/internal/config"
	"github.com/heliumhq/helium-go/internal/fetcher"
	"github.com/heliumhq/helium-go/internal/helium"
	"github.com/heliumhq/helium-go/internal/identity"
	"github.com/heliumhq/helium-go/internal/models"
	"github.com/heliumhq/helium-go/internal/storage"
)

type serverFixture struct {
	handler http.Handler
	runtime *helium.Runtime
	events  storage.EventStore
}

func newServerFixture(t *testing.T, fetchURL string) *serverFixture {
	t.Helper()
	logger := zap.NewNop()

	cfg := &config.Config{}
	cfg.Paywall.DefaultLoadingBudgetSeconds = 2
	cfg.Paywall.DefaultFallbackBundle = "default-fallback"
	cfg.Fetch = config.FetchConfig{URL: fetchURL, Timeout: 2 * time.Second}

	rt := helium.NewRuntime(helium.RuntimeOptions{
		DefaultLoadingBudgetSeconds: cfg.Paywall.DefaultLoadingBudgetSeconds,
		Logger:                      logger,
	})
	t.Cleanup(rt.Close)
	rt.MarkInitialized()
	rt.Store().Install(context.Background(), &models.FetchedConfig{
		ConfigID: uuid.New(),
		TriggerToPaywalls: map[string]models.PaywallInfo{
			"onboarding": {
				PaywallID:    "pw-1",
				TemplateName: "premium-v2",
				ProductIDs:   []string{"com.app.monthly"},
			},
		},
	})

	events := storage.NewInMemoryEventStore()
	rt.Bus().AddSink(func(ev models.Event) {
		_ = events.SaveEvent(context.Background(), &ev)
	})

	f := fetcher.NewFetcher(cfg.Fetch, rt.Store(), rt.Bus(), logger, nil)

	handler := NewServer(&Dependencies{
		Runtime:  rt,
		Fetcher:  f,
		Events:   events,
		Identity: identity.NewProvider(nil, 100, time.Minute),
		Config:   cfg,
		Logger:   logger,
	})

	return &serverFixture{handler: handler, runtime: rt, events: events}
}

func (f *serverFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "203.0.113.9:51234"
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *serverFixture) resolveShow(t *testing.T) resolveResponse {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/v1/paywalls/resolve", resolveRequest{
		Trigger: "onboarding",
		UserID:  "u1",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp resolveResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Equal(t, "show", resp.Outcome)
	require.NotEmpty(t, resp.SessionID)
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	f := newServerFixture(t, "http://unused")
	rec := f.do(t, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestResolveShowOutcome(t *testing.T) {
	f := newServerFixture(t, "http://unused")
	resp := f.resolveShow(t)

	require.NotNil(t, resp.Paywall)
	assert.Equal(t, "premium-v2", resp.Paywall.TemplateName)
	assert.Equal(t, int64(2000), resp.LoadingBudgetMS)
	require.NotNil(t, resp.UserContext)
	assert.Equal(t, "u1", resp.UserContext.UserID)
	assert.Equal(t, "203.0.113.9", resp.UserContext.IP)
}

func TestResolveFallbackOutcome(t *testing.T) {
	f := newServerFixture(t, "http://unused")
	rec := f.do(t, http.MethodPost, "/v1/paywalls/resolve", resolveRequest{Trigger: "unknown"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp resolveResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "fallback", resp.Outcome)
	assert.Equal(t, models.FallbackTriggerHasNoPaywall, resp.FallbackReason)
	assert.Equal(t, "default-fallback", resp.FallbackBundle)
	assert.Empty(t, resp.SessionID)
}

func TestResolveRequiresTrigger(t *testing.T) {
	f := newServerFixture(t, "http://unused")
	rec := f.do(t, http.MethodPost, "/v1/paywalls/resolve", resolveRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResolveRejectsGet(t *testing.T) {
	f := newServerFixture(t, "http://unused")
	rec := f.do(t, http.MethodGet, "/v1/paywalls/resolve", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestSessionInteractionEvent(t *testing.T) {
	f := newServerFixture(t, "http://unused")
	resp := f.resolveShow(t)

	rec := f.do(t, http.MethodPost, "/v1/sessions/"+resp.SessionID+"/events", sessionEventRequest{
		Kind:       models.EventButtonPressed,
		ButtonName: "subscribe",
	})
	assert.Equal(t, http.StatusAccepted, rec.Code)

	f.runtime.Bus().Flush()
	stored, err := f.events.ListEventsBySession(context.Background(), resp.SessionID)
	require.NoError(t, err)
	require.NotEmpty(t, stored)

	last := stored[len(stored)-1]
	assert.Equal(t, models.EventButtonPressed, last.Kind)
	assert.Equal(t, "subscribe", last.ButtonName)
	assert.Equal(t, "onboarding", last.Trigger)
}

func TestSessionEventRejectsUnsupportedKind(t *testing.T) {
	f := newServerFixture(t, "http://unused")
	resp := f.resolveShow(t)

	rec := f.do(t, http.MethodPost, "/v1/sessions/"+resp.SessionID+"/events", sessionEventRequest{
		Kind: models.EventPurchaseSucceeded,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "purchase results come from the purchase flow, not raw reports")
}

func TestSessionEventUnknownSession(t *testing.T) {
	f := newServerFixture(t, "http://unused")
	rec := f.do(t, http.MethodPost, "/v1/sessions/nope/events", sessionEventRequest{
		Kind: models.EventPaywallOpen,
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListSessionEvents(t *testing.T) {
	f := newServerFixture(t, "http://unused")
	resp := f.resolveShow(t)

	f.do(t, http.MethodPost, "/v1/sessions/"+resp.SessionID+"/events", sessionEventRequest{
		Kind: models.EventPaywallOpen,
	})
	f.runtime.Bus().Flush()

	rec := f.do(t, http.MethodGet, "/v1/sessions/"+resp.SessionID+"/events", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Events []models.Event `json:"events"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.NotEmpty(t, body.Events)
}

func TestContentLoaded(t *testing.T) {
	f := newServerFixture(t, "http://unused")
	resp := f.resolveShow(t)

	rec := f.do(t, http.MethodPost, "/v1/sessions/"+resp.SessionID+"/content-loaded", contentLoadedRequest{RenderTimeMS: 150})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"accepted":true}`, rec.Body.String())
}

func TestContentFailed(t *testing.T) {
	f := newServerFixture(t, "http://unused")
	resp := f.resolveShow(t)

	rec := f.do(t, http.MethodPost, "/v1/sessions/"+resp.SessionID+"/content-failed", contentFailedRequest{Reason: "bundle 404"})
	require.Equal(t, http.StatusOK, rec.Code)

	session, ok := f.runtime.Session(resp.SessionID)
	require.True(t, ok)
	assert.True(t, session.Fallback().IsFallback)
}

func TestDismissSession(t *testing.T) {
	f := newServerFixture(t, "http://unused")
	resp := f.resolveShow(t)

	rec := f.do(t, http.MethodPost, "/v1/sessions/"+resp.SessionID+"/dismiss", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	_, ok := f.runtime.Session(resp.SessionID)
	assert.False(t, ok)

	rec = f.do(t, http.MethodPost, "/v1/sessions/"+resp.SessionID+"/dismiss", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPurchaseRequiresProductID(t *testing.T) {
	f := newServerFixture(t, "http://unused")
	resp := f.resolveShow(t)

	rec := f.do(t, http.MethodPost, "/v1/sessions/"+resp.SessionID+"/purchase", purchaseRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPurchaseWithoutDelegateFails(t *testing.T) {
	f := newServerFixture(t, "http://unused")
	resp := f.resolveShow(t)

	rec := f.do(t, http.MethodPost, "/v1/sessions/"+resp.SessionID+"/purchase", purchaseRequest{ProductID: "com.app.monthly"})
	require.Equal(t, http.StatusOK, rec.Code)

	var result helium.PurchaseResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&result))
	assert.Equal(t, helium.PurchaseFailed, result.Status)
}

func TestSessionUnknownAction(t *testing.T) {
	f := newServerFixture(t, "http://unused")
	resp := f.resolveShow(t)

	rec := f.do(t, http.MethodPost, "/v1/sessions/"+resp.SessionID+"/frobnicate", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConfigStatus(t *testing.T) {
	f := newServerFixture(t, "http://unused")

	rec := f.do(t, http.MethodGet, "/v1/config/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Contains(t, body, "status")
	assert.Contains(t, body, "config_id")
	assert.EqualValues(t, 1, body["triggers"])
}

func TestConfigRefresh(t *testing.T) {
	payload, err := json.Marshal(models.FetchedConfig{
		ConfigID: uuid.New(),
		TriggerToPaywalls: map[string]models.PaywallInfo{
			"settings": {PaywallID: "pw-2", TemplateName: "pro", ProductIDs: []string{"com.app.pro"}},
		},
	})
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	f := newServerFixture(t, srv.URL)

	rec := f.do(t, http.MethodPost, "/v1/config/refresh", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"refreshed":true}`, rec.Body.String())

	cfg, _ := f.runtime.Store().Snapshot()
	require.NotNil(t, cfg)
	_, ok := cfg.PaywallForTrigger("settings")
	assert.True(t, ok)
}

func TestConfigRefreshFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := newServerFixture(t, srv.URL)
	rec := f.do(t, http.MethodPost, "/v1/config/refresh", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}
