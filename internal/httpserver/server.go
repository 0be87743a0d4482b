package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/heliumhq/helium-go/internal/config"
	"github.com/heliumhq/helium-go/internal/fetcher"
	"github.com/heliumhq/helium-go/internal/helium"
	"github.com/heliumhq/helium-go/internal/identity"
	"github.com/heliumhq/helium-go/internal/metrics"
	"github.com/heliumhq/helium-go/internal/middleware"
	"github.com/heliumhq/helium-go/internal/models"
	"github.com/heliumhq/helium-go/internal/storage"
)

// Dependencies holds all external dependencies for the server.
type Dependencies struct {
	Runtime  *helium.Runtime
	Fetcher  *fetcher.Fetcher
	Events   storage.EventStore
	Identity *identity.Provider
	Config   *config.Config
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
}

// Server exposes the paywall runtime to render layers over HTTP.
type Server struct {
	runtime  *helium.Runtime
	fetcher  *fetcher.Fetcher
	events   storage.EventStore
	identity *identity.Provider
	config   *config.Config
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// NewServer constructs a new http.Handler with all routes registered.
func NewServer(deps *Dependencies) http.Handler {
	s := &Server{
		runtime:  deps.Runtime,
		fetcher:  deps.Fetcher,
		events:   deps.Events,
		identity: deps.Identity,
		config:   deps.Config,
		logger:   deps.Logger,
		metrics:  deps.Metrics,
	}

	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", s.handleHealth)

	// Prometheus metrics
	if deps.Config.Metrics.Enabled {
		mux.Handle(deps.Config.Metrics.Path, metrics.Handler())
	}

	// Resolution
	mux.HandleFunc("/v1/paywalls/resolve", s.handleResolve)

	// Session lifecycle
	mux.HandleFunc("/v1/sessions/", s.handleSession)

	// Config status and refresh
	mux.HandleFunc("/v1/config/status", s.handleConfigStatus)
	mux.HandleFunc("/v1/config/refresh", s.handleConfigRefresh)

	// Middleware chain, outermost first: recovery, logging, auth, rate limit.
	recovery := middleware.NewRecoveryMiddleware(deps.Logger)
	logging := middleware.NewLoggingMiddleware(deps.Logger)
	auth := middleware.NewAuthMiddleware(deps.Config.Auth, deps.Logger)
	rateLimit := middleware.NewRateLimitMiddleware(deps.Config.RateLimit, deps.Logger, deps.Metrics)

	return recovery.Handler(logging.Handler(auth.Handler(rateLimit.Handler(mux))))
}

// ---- Health Check ----

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// ---- Resolution ----

type resolveRequest struct {
	Trigger      string                    `json:"trigger"`
	UserID       string                    `json:"user_id"`
	Traits       map[string]string         `json:"traits,omitempty"`
	Locale       string                    `json:"locale,omitempty"`
	Presentation models.PresentationConfig `json:"presentation"`
}

type resolveResponse struct {
	Outcome         string                `json:"outcome"`
	SessionID       string                `json:"session_id,omitempty"`
	Paywall         *models.PaywallInfo   `json:"paywall,omitempty"`
	FallbackReason  models.FallbackReason `json:"fallback_reason,omitempty"`
	FallbackBundle  string                `json:"fallback_bundle,omitempty"`
	SkipReason      models.SkipReason     `json:"skip_reason,omitempty"`
	LoadingBudgetMS int64                 `json:"loading_budget_ms"`
	UserContext     *identity.UserContext `json:"user_context,omitempty"`
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Trigger == "" {
		s.errorResponse(w, "trigger is required", http.StatusBadRequest)
		return
	}

	pctx := &models.PresentationContext{
		Config:     req.Presentation,
		UserID:     req.UserID,
		UserTraits: req.Traits,
		Locale:     req.Locale,
		IP:         clientIP(r),
	}

	outcome := s.runtime.Present(r.Context(), req.Trigger, pctx)

	resp := resolveResponse{Outcome: string(outcome.Kind)}
	switch outcome.Kind {
	case helium.OutcomeShow:
		sess := outcome.Session
		resp.SessionID = sess.ID()
		resp.Paywall = sess.Paywall()
		resp.LoadingBudgetMS = sess.Budget().AnalyticsMS
		uc := s.identity.FromPresentation(pctx)
		resp.UserContext = &uc
	case helium.OutcomeFallback:
		resp.FallbackReason = outcome.FallbackReason
		resp.FallbackBundle = s.config.Paywall.DefaultFallbackBundle
	case helium.OutcomeSkip:
		resp.SkipReason = outcome.SkipReason
	}

	s.jsonResponse(w, resp, http.StatusOK)
}

// ---- Sessions ----

// handleSession dispatches /v1/sessions/{id}/{action}.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/sessions/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" {
		s.errorResponse(w, "not found", http.StatusNotFound)
		return
	}
	sessionID, action := parts[0], parts[1]

	if action == "events" && r.Method == http.MethodGet {
		s.handleListSessionEvents(w, r, sessionID)
		return
	}

	if r.Method != http.MethodPost {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	switch action {
	case "events":
		s.handleSessionEvent(w, r, sessionID)
	case "content-loaded":
		s.handleContentLoaded(w, r, sessionID)
	case "content-failed":
		s.handleContentFailed(w, r, sessionID)
	case "purchase":
		s.handlePurchase(w, r, sessionID)
	case "restore":
		s.handleRestore(w, r, sessionID)
	case "dismiss":
		s.handleDismiss(w, r, sessionID)
	default:
		s.errorResponse(w, "not found", http.StatusNotFound)
	}
}

type sessionEventRequest struct {
	Kind       models.EventKind `json:"kind"`
	ButtonName string           `json:"button_name,omitempty"`
	ActionName string           `json:"action_name,omitempty"`
	ProductID  string           `json:"product_id,omitempty"`
}

// interactionKinds are the event kinds a render layer may report.
var interactionKinds = map[models.EventKind]bool{
	models.EventPaywallOpen:     true,
	models.EventButtonPressed:   true,
	models.EventCustomAction:    true,
	models.EventProductSelected: true,
}

func (s *Server) handleSessionEvent(w http.ResponseWriter, r *http.Request, sessionID string) {
	var req sessionEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, "invalid json", http.StatusBadRequest)
		return
	}
	if !interactionKinds[req.Kind] {
		s.errorResponse(w, "unsupported event kind", http.StatusBadRequest)
		return
	}

	ev := models.NewEvent(req.Kind)
	ev.ButtonName = req.ButtonName
	ev.ActionName = req.ActionName
	ev.ProductID = req.ProductID

	if !s.runtime.FireSessionEvent(sessionID, ev) {
		s.errorResponse(w, "session not found", http.StatusNotFound)
		return
	}
	s.jsonResponse(w, map[string]bool{"accepted": true}, http.StatusAccepted)
}

func (s *Server) handleListSessionEvents(w http.ResponseWriter, r *http.Request, sessionID string) {
	events, err := s.events.ListEventsBySession(r.Context(), sessionID)
	if err != nil {
		s.logger.Error("failed to list session events", zap.Error(err))
		s.errorResponse(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, map[string]any{"events": events}, http.StatusOK)
}

type contentLoadedRequest struct {
	RenderTimeMS int64 `json:"render_time_ms"`
}

func (s *Server) handleContentLoaded(w http.ResponseWriter, r *http.Request, sessionID string) {
	var req contentLoadedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.errorResponse(w, "invalid json", http.StatusBadRequest)
		return
	}

	if _, ok := s.runtime.Session(sessionID); !ok {
		s.errorResponse(w, "session not found", http.StatusNotFound)
		return
	}

	// accepted=false means the loading budget won the race; the render
	// layer should already be on fallback content.
	accepted := s.runtime.ContentLoaded(sessionID, req.RenderTimeMS)
	s.jsonResponse(w, map[string]bool{"accepted": accepted}, http.StatusOK)
}

type contentFailedRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleContentFailed(w http.ResponseWriter, r *http.Request, sessionID string) {
	var req contentFailedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.errorResponse(w, "invalid json", http.StatusBadRequest)
		return
	}

	if !s.runtime.ContentFailed(sessionID, req.Reason) {
		s.errorResponse(w, "session not found", http.StatusNotFound)
		return
	}
	s.jsonResponse(w, map[string]bool{"accepted": true}, http.StatusOK)
}

type purchaseRequest struct {
	ProductID string `json:"product_id"`
}

func (s *Server) handlePurchase(w http.ResponseWriter, r *http.Request, sessionID string) {
	var req purchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.ProductID == "" {
		s.errorResponse(w, "product_id is required", http.StatusBadRequest)
		return
	}

	session, ok := s.runtime.Session(sessionID)
	if !ok {
		s.errorResponse(w, "session not found", http.StatusNotFound)
		return
	}

	result := s.runtime.Purchases().Purchase(r.Context(), session, req.ProductID)
	s.jsonResponse(w, result, http.StatusOK)
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request, sessionID string) {
	session, ok := s.runtime.Session(sessionID)
	if !ok {
		s.errorResponse(w, "session not found", http.StatusNotFound)
		return
	}

	restored, err := s.runtime.Purchases().Restore(r.Context(), session)
	resp := map[string]any{"restored": restored}
	if err != nil {
		resp["error"] = err.Error()
	}
	s.jsonResponse(w, resp, http.StatusOK)
}

func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request, sessionID string) {
	if !s.runtime.DismissSession(sessionID) {
		s.errorResponse(w, "session not found", http.StatusNotFound)
		return
	}
	s.jsonResponse(w, map[string]bool{"dismissed": true}, http.StatusOK)
}

// ---- Config ----

func (s *Server) handleConfigStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	cfg, status := s.runtime.Store().Snapshot()
	resp := map[string]any{"status": status}
	if cfg != nil {
		resp["config_id"] = cfg.ConfigID
		resp["generated_at"] = cfg.GeneratedAt
		resp["triggers"] = len(cfg.TriggerToPaywalls)
	}
	s.jsonResponse(w, resp, http.StatusOK)
}

func (s *Server) handleConfigRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := s.fetcher.FetchOnce(r.Context()); err != nil {
		s.jsonResponse(w, map[string]any{"refreshed": false, "error": err.Error()}, http.StatusBadGateway)
		return
	}
	s.jsonResponse(w, map[string]bool{"refreshed": true}, http.StatusOK)
}

// ---- Helpers ----

func (s *Server) jsonResponse(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (s *Server) errorResponse(w http.ResponseWriter, msg string, status int) {
	s.jsonResponse(w, map[string]string{"error": msg}, status)
}

// clientIP extracts the requester IP, preferring X-Forwarded-For.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Timeouts returns the recommended http.Server timeouts.
func Timeouts() (read, write, idle time.Duration) {
	return 15 * time.Second, 15 * time.Second, 60 * time.Second
}
