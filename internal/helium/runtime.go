package helium

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/heliumhq/helium-go/internal/metrics"
	"github.com/heliumhq/helium-go/internal/models"
)

// Runtime is the explicit context object holding every piece of core
// state: config store, download status, event bus, delegate, listener
// registry and live sessions. There are no package-level singletons;
// tests construct a fresh isolated runtime per test.
type Runtime struct {
	store        *ConfigStore
	bus          *Bus
	resolver     *Resolver
	entitlements *EntitlementCache
	purchases    *PurchaseService

	defaultBudgetSeconds float64

	mu       sync.Mutex
	sessions map[string]*Session

	logger  *zap.Logger
	metrics *metrics.Metrics
}

// RuntimeOptions configures a runtime.
type RuntimeOptions struct {
	// Redis backs the config mirror and the entitlement cache. Optional.
	Redis *redis.Client

	// DefaultLoadingBudgetSeconds is used when a presentation does not
	// override the budget.
	DefaultLoadingBudgetSeconds float64

	// EntitlementTTL bounds cached entitlement grants.
	EntitlementTTL time.Duration

	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// NewRuntime wires the core components together. The runtime starts in
// the not-initialized state; callers flip it once startup completes.
func NewRuntime(opts RuntimeOptions) *Runtime {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	store := NewConfigStore(opts.Redis, logger)
	bus := NewBus(logger, opts.Metrics)
	entitlements := NewEntitlementCache(opts.Redis, opts.EntitlementTTL, logger)
	resolver := NewResolver(store, bus, entitlements, opts.DefaultLoadingBudgetSeconds, logger, opts.Metrics)

	return &Runtime{
		store:                store,
		bus:                  bus,
		resolver:             resolver,
		entitlements:         entitlements,
		purchases:            NewPurchaseService(bus, entitlements, logger, opts.Metrics),
		defaultBudgetSeconds: opts.DefaultLoadingBudgetSeconds,
		sessions:             make(map[string]*Session),
		logger:               logger,
		metrics:              opts.Metrics,
	}
}

// Store exposes the config store to the fetch pipeline.
func (rt *Runtime) Store() *ConfigStore { return rt.store }

// Bus exposes the event bus.
func (rt *Runtime) Bus() *Bus { return rt.bus }

// Resolver exposes the resolution engine.
func (rt *Runtime) Resolver() *Resolver { return rt.resolver }

// Purchases exposes the purchase service.
func (rt *Runtime) Purchases() *PurchaseService { return rt.purchases }

// Entitlements exposes the entitlement cache.
func (rt *Runtime) Entitlements() *EntitlementCache { return rt.entitlements }

// SetDelegate installs the app-wide purchase delegate.
func (rt *Runtime) SetDelegate(d PurchaseDelegate) { rt.bus.SetDelegate(d) }

// RegisterListener adds a global event listener.
func (rt *Runtime) RegisterListener(l EventListener) *ListenerHandle {
	return rt.bus.Register(l)
}

// MarkInitialized completes startup: fires the initialize event and
// unlocks resolution.
func (rt *Runtime) MarkInitialized() {
	rt.resolver.SetInitialized(true)
	rt.bus.Fire(models.NewEvent(models.EventInitializeEnd), nil)
}

// Present resolves a trigger for presentation. When no config snapshot
// exists yet and the loading budget allows, it waits for the download
// to complete, up to the budget; the budget expiring first forces the
// fallback decision and a download landing later is simply the next
// presentation's gain. On a show outcome the session is registered and
// its content-loading budget timer armed.
func (rt *Runtime) Present(ctx context.Context, trigger string, pctx *models.PresentationContext) Outcome {
	if pctx == nil {
		pctx = &models.PresentationContext{}
	}
	budget := pctx.Config.ResolveLoadingBudget(rt.defaultBudgetSeconds)

	if rt.resolver.Initialized() && !rt.store.HasConfig() && budget.UseLoadingState {
		wait := time.NewTimer(budget.Wait)
		defer wait.Stop()
		select {
		case <-rt.store.Ready():
		case <-wait.C:
			if rt.metrics != nil {
				rt.metrics.BudgetExpiries.Inc()
			}
		case <-ctx.Done():
		}
	}

	out := rt.resolver.Resolve(ctx, trigger, pctx)
	if out.Kind != OutcomeShow {
		return out
	}

	session := out.Session
	rt.mu.Lock()
	rt.sessions[session.ID()] = session
	rt.mu.Unlock()
	if rt.metrics != nil {
		rt.metrics.ActiveSessions.Inc()
	}

	// One timer per presentation: content loading races it from here.
	if budget.UseLoadingState {
		timer := NewBudgetTimer(func() { rt.expireLoading(session) })
		session.attachTimer(timer)
		timer.Arm(budget.Wait)
	}

	return out
}

// expireLoading handles a loading budget that ran out before the render
// layer reported content. The session is reclassified as fallback and
// an open-failed event emitted; a late content-loaded signal after this
// point is discarded by the timer state machine.
func (rt *Runtime) expireLoading(session *Session) {
	if !session.markFallback(models.FallbackPaywallsNotDownloaded) {
		return
	}
	if rt.metrics != nil {
		rt.metrics.BudgetExpiries.Inc()
	}
	rt.metrics.RecordFallback(string(models.FallbackPaywallsNotDownloaded))

	ev := models.NewPaywallEvent(models.EventPaywallOpenFailed, session.Trigger(), session.PaywallName(), session.ID())
	ev.UserID = session.UserID()
	ev.Error = "loading budget exceeded"
	ev.LoadingBudgetMS = session.Budget().AnalyticsMS
	rt.bus.Fire(ev, session)

	rt.logger.Info("loading budget expired, serving fallback",
		zap.String("session_id", session.ID()),
		zap.String("trigger", session.Trigger()),
	)
}

// Session returns a live session by ID.
func (rt *Runtime) Session(id string) (*Session, bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	s, ok := rt.sessions[id]
	return s, ok
}

// ContentLoaded reports that the render layer finished loading content
// for a session, cancelling its budget timer. Returns false when the
// budget already expired or was resolved by an earlier signal: first
// resolution wins, the loser's signal is discarded. The decision rides
// on the timer's own cancel transition, so a concurrent expiry cannot
// slip between a state check and the cancel.
func (rt *Runtime) ContentLoaded(sessionID string, renderTimeMS int64) bool {
	session, ok := rt.Session(sessionID)
	if !ok {
		return false
	}

	session.mu.Lock()
	timer := session.timer
	session.mu.Unlock()

	if timer != nil {
		if !timer.Cancel() {
			return false
		}
		if rt.metrics != nil {
			rt.metrics.BudgetCancels.Inc()
		}
	}

	ev := models.NewPaywallEvent(models.EventContentRendered, session.Trigger(), session.PaywallName(), session.ID())
	ev.UserID = session.UserID()
	ev.RenderTimeMS = renderTimeMS
	ev.LoadingBudgetMS = session.Budget().AnalyticsMS
	rt.bus.Fire(ev, session)
	return true
}

// ContentFailed reports that content loading failed outright. The
// session falls back immediately without waiting for budget expiry.
func (rt *Runtime) ContentFailed(sessionID, reason string) bool {
	session, ok := rt.Session(sessionID)
	if !ok {
		return false
	}

	session.mu.Lock()
	timer := session.timer
	session.mu.Unlock()
	if timer != nil {
		timer.Cancel()
	}

	if session.markFallback(models.FallbackPaywallsNotDownloaded) {
		ev := models.NewPaywallEvent(models.EventPaywallOpenFailed, session.Trigger(), session.PaywallName(), session.ID())
		ev.UserID = session.UserID()
		ev.Error = reason
		rt.bus.Fire(ev, session)
	}
	return true
}

// FireSessionEvent relays a render-layer interaction event onto the bus
// bound to its session.
func (rt *Runtime) FireSessionEvent(sessionID string, ev models.Event) bool {
	session, ok := rt.Session(sessionID)
	if !ok {
		return false
	}
	ev.SessionID = session.ID()
	ev.Trigger = session.Trigger()
	ev.PaywallName = session.PaywallName()
	if ev.UserID == "" {
		ev.UserID = session.UserID()
	}
	rt.bus.Fire(ev, session)
	return true
}

// DismissSession ends a presentation: emits close and dismissed events
// exactly once, tears the session down and drops it from the registry.
// Repeat dismissals are accepted and do nothing.
func (rt *Runtime) DismissSession(sessionID string) bool {
	session, ok := rt.Session(sessionID)
	if !ok {
		return false
	}

	if session.markDismissed() {
		closeEv := models.NewPaywallEvent(models.EventPaywallClose, session.Trigger(), session.PaywallName(), session.ID())
		closeEv.UserID = session.UserID()
		rt.bus.Fire(closeEv, session)

		dismissEv := models.NewPaywallEvent(models.EventPaywallDismissed, session.Trigger(), session.PaywallName(), session.ID())
		dismissEv.UserID = session.UserID()
		rt.bus.Fire(dismissEv, session)

		// Events above are queued before teardown detaches handlers.
		rt.bus.Flush()

		if rt.metrics != nil {
			fallbackLabel := "false"
			if session.Fallback().IsFallback {
				fallbackLabel = "true"
			}
			rt.metrics.SessionDuration.WithLabelValues(fallbackLabel).
				Observe(time.Since(session.CreatedAt()).Seconds())
		}
	}

	session.Teardown()

	rt.mu.Lock()
	_, live := rt.sessions[sessionID]
	delete(rt.sessions, sessionID)
	rt.mu.Unlock()
	if live && rt.metrics != nil {
		rt.metrics.ActiveSessions.Dec()
	}

	return true
}

// Close tears down all live sessions and stops the bus.
func (rt *Runtime) Close() {
	rt.mu.Lock()
	ids := make([]string, 0, len(rt.sessions))
	for id := range rt.sessions {
		ids = append(ids, id)
	}
	rt.mu.Unlock()

	for _, id := range ids {
		rt.DismissSession(id)
	}
	rt.bus.Close()
}
