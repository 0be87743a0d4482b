package helium

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/heliumhq/helium-go/internal/metrics"
	"github.com/heliumhq/helium-go/internal/models"
)

// OutcomeKind classifies a resolution result.
type OutcomeKind string

const (
	// OutcomeShow means a session was created and real content should
	// be presented.
	OutcomeShow OutcomeKind = "show"
	// OutcomeFallback means bundled fallback content should be rendered
	// for the stated reason.
	OutcomeFallback OutcomeKind = "fallback"
	// OutcomeSkip means nothing is shown at all; the caller decides the
	// next step.
	OutcomeSkip OutcomeKind = "skip"
)

// Outcome is the typed result of resolving a trigger. Exactly one of
// the three kinds applies; resolution never returns an error across
// this boundary.
type Outcome struct {
	Kind           OutcomeKind
	Session        *Session
	FallbackReason models.FallbackReason
	SkipReason     models.SkipReason
}

func showOutcome(s *Session) Outcome {
	return Outcome{Kind: OutcomeShow, Session: s}
}

func fallbackOutcome(reason models.FallbackReason) Outcome {
	return Outcome{Kind: OutcomeFallback, FallbackReason: reason}
}

func skipOutcome(reason models.SkipReason) Outcome {
	return Outcome{Kind: OutcomeSkip, SkipReason: reason}
}

// Resolver is the decision engine: given a trigger and the current
// config/download state it determines whether to show a paywall, which
// one, or which fallback or skip reason to report. Resolution itself
// has no side effects beyond event emission; the config store and
// download status are mutated only by the fetch pipeline.
type Resolver struct {
	store        *ConfigStore
	bus          *Bus
	entitlements *EntitlementCache

	defaultBudgetSeconds float64
	initialized          atomic.Bool

	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewResolver constructs a resolver over the given store and bus.
func NewResolver(store *ConfigStore, bus *Bus, entitlements *EntitlementCache, defaultBudgetSeconds float64, logger *zap.Logger, m *metrics.Metrics) *Resolver {
	return &Resolver{
		store:                store,
		bus:                  bus,
		entitlements:         entitlements,
		defaultBudgetSeconds: defaultBudgetSeconds,
		logger:               logger,
		metrics:              m,
	}
}

// SetInitialized marks SDK initialization complete. Until then every
// resolution reports the notInitialized fallback.
func (r *Resolver) SetInitialized(v bool) {
	r.initialized.Store(v)
}

// Initialized reports whether initialization has completed.
func (r *Resolver) Initialized() bool {
	return r.initialized.Load()
}

// Resolve decides the outcome for one trigger. Precedence, first match
// wins: notInitialized, paywallsNotDownloaded, triggerHasNoPaywall,
// then the skip gate (targeting holdout, entitlement), then noProducts,
// forceShowFallback, and finally a session bound to the paywall.
func (r *Resolver) Resolve(ctx context.Context, trigger string, pctx *models.PresentationContext) Outcome {
	start := time.Now()
	if pctx == nil {
		pctx = &models.PresentationContext{}
	}

	if !r.initialized.Load() {
		return r.fallback(trigger, models.FallbackNotInitialized, start)
	}

	cfg, _ := r.store.Snapshot()
	if cfg == nil {
		// No snapshot was ever installed, here or in Redis: nothing to
		// serve from, regardless of how the latest attempt ended.
		return r.fallback(trigger, models.FallbackPaywallsNotDownloaded, start)
	}

	pw, ok := cfg.PaywallForTrigger(trigger)
	if !ok {
		return r.fallback(trigger, models.FallbackTriggerHasNoPaywall, start)
	}

	// Skip gate: server-driven decisions to show nothing at all. These
	// are business logic, never fallback rendering.
	if !pw.Showable() {
		return r.skip(trigger, models.SkipTargetingHoldout, pctx, start)
	}
	if pctx.Config.DontShowIfAlreadyEntitled && r.entitlements != nil &&
		r.entitlements.IsEntitled(ctx, pctx.UserID) {
		if pctx.OnAlreadyEntitled != nil {
			pctx.OnAlreadyEntitled()
		}
		return r.skip(trigger, models.SkipAlreadyEntitled, pctx, start)
	}

	if len(pw.ProductIDs) == 0 {
		return r.fallback(trigger, models.FallbackNoProducts, start)
	}
	if pw.ForceShowFallback {
		return r.fallback(trigger, models.FallbackForceShowFallback, start)
	}

	budget := pctx.Config.ResolveLoadingBudget(r.defaultBudgetSeconds)
	session := newSession(trigger, &pw, models.NotFallback, pctx, budget)

	r.metrics.RecordResolution(string(OutcomeShow), start)
	r.logger.Debug("trigger resolved",
		zap.String("trigger", trigger),
		zap.String("session_id", session.ID()),
		zap.String("paywall", pw.TemplateName),
	)
	return showOutcome(session)
}

func (r *Resolver) fallback(trigger string, reason models.FallbackReason, start time.Time) Outcome {
	r.metrics.RecordResolution(string(OutcomeFallback), start)
	r.metrics.RecordFallback(string(reason))
	r.logger.Debug("trigger resolved to fallback",
		zap.String("trigger", trigger),
		zap.String("reason", string(reason)),
	)
	return fallbackOutcome(reason)
}

func (r *Resolver) skip(trigger string, reason models.SkipReason, pctx *models.PresentationContext, start time.Time) Outcome {
	r.metrics.RecordResolution(string(OutcomeSkip), start)
	r.metrics.RecordSkip(string(reason))

	ev := models.NewSkippedEvent(trigger, reason)
	ev.UserID = pctx.UserID
	r.bus.Fire(ev, nil)

	if pctx.OnNotShown != nil {
		pctx.OnNotShown(reason)
	}

	r.logger.Debug("trigger skipped",
		zap.String("trigger", trigger),
		zap.String("reason", string(reason)),
	)
	return skipOutcome(reason)
}
