package models

import "time"

// ===========================================
// PRESENTATION CONFIG
// ===========================================

// Loading budget clamp bounds. Requested budgets outside this range are
// forced to the nearest bound when loading state is enabled.
const (
	MinLoadingBudget = 1 * time.Second
	MaxLoadingBudget = 20 * time.Second
)

// PresentationConfig is the caller-supplied configuration for one
// presentation attempt.
type PresentationConfig struct {
	// DontShowIfAlreadyEntitled skips the paywall for users with an
	// active entitlement.
	DontShowIfAlreadyEntitled bool `json:"dont_show_if_already_entitled,omitempty"`

	// LoadingBudgetSeconds overrides the process-wide default loading
	// budget. Zero or negative disables the loading state entirely. nil
	// means use the default.
	LoadingBudgetSeconds *float64 `json:"loading_budget_seconds,omitempty"`

	// CustomTraits are caller-supplied values injected into rendered
	// content. Opaque to the decision engine.
	CustomTraits map[string]string `json:"custom_traits,omitempty"`
}

// LoadingBudget describes the effective loading-state decision for one
// presentation.
type LoadingBudget struct {
	// UseLoadingState is false when the requested budget is zero or
	// negative: the presentation decides immediately, no spinner.
	UseLoadingState bool

	// Wait is the clamped effective wait, valid only when
	// UseLoadingState is true.
	Wait time.Duration

	// AnalyticsMS is the pre-clamp requested budget in milliseconds, or
	// 0 when loading state is disabled.
	AnalyticsMS int64
}

// ResolveLoadingBudget computes the effective loading budget from the
// presentation config and the process-wide default (seconds).
func (c PresentationConfig) ResolveLoadingBudget(defaultSeconds float64) LoadingBudget {
	requested := defaultSeconds
	if c.LoadingBudgetSeconds != nil {
		requested = *c.LoadingBudgetSeconds
	}
	if requested <= 0 {
		return LoadingBudget{}
	}

	wait := time.Duration(requested * float64(time.Second))
	if wait < MinLoadingBudget {
		wait = MinLoadingBudget
	}
	if wait > MaxLoadingBudget {
		wait = MaxLoadingBudget
	}

	return LoadingBudget{
		UseLoadingState: true,
		Wait:            wait,
		AnalyticsMS:     int64(requested * 1000),
	}
}

// ===========================================
// EVENT HANDLERS
// ===========================================

// PaywallEventHandlers holds the per-session handler slots. Exactly one
// specific slot matches each event kind; OnAnyEvent additionally fires
// for paywall-context events.
type PaywallEventHandlers struct {
	OnOpen       func(Event)
	OnClose      func(Event)
	OnDismissed  func(Event)
	OnOpenFailed func(Event)

	OnButtonPressed   func(Event)
	OnCustomAction    func(Event)
	OnProductSelected func(Event)

	OnPurchasePressed         func(Event)
	OnPurchaseSucceeded       func(Event)
	OnPurchaseCancelled       func(Event)
	OnPurchaseFailed          func(Event)
	OnPurchaseRestored        func(Event)
	OnPurchaseRestoreFailed   func(Event)
	OnPurchaseAlreadyEntitled func(Event)
	OnPurchasePending         func(Event)

	OnContentRendered func(Event)

	// OnAnyEvent is the catch-all for paywall-context events only.
	OnAnyEvent func(Event)
}

// Handle routes an event to its matching specific slot, then to
// OnAnyEvent when the event carries paywall context. Unset slots are
// skipped.
func (h *PaywallEventHandlers) Handle(ev Event) {
	if h == nil {
		return
	}

	var fn func(Event)
	switch ev.Kind {
	case EventPaywallOpen:
		fn = h.OnOpen
	case EventPaywallClose:
		fn = h.OnClose
	case EventPaywallDismissed:
		fn = h.OnDismissed
	case EventPaywallOpenFailed:
		fn = h.OnOpenFailed
	case EventButtonPressed:
		fn = h.OnButtonPressed
	case EventCustomAction:
		fn = h.OnCustomAction
	case EventProductSelected:
		fn = h.OnProductSelected
	case EventPurchasePressed:
		fn = h.OnPurchasePressed
	case EventPurchaseSucceeded:
		fn = h.OnPurchaseSucceeded
	case EventPurchaseCancelled:
		fn = h.OnPurchaseCancelled
	case EventPurchaseFailed:
		fn = h.OnPurchaseFailed
	case EventPurchaseRestored:
		fn = h.OnPurchaseRestored
	case EventPurchaseRestoreFailed:
		fn = h.OnPurchaseRestoreFailed
	case EventPurchaseAlreadyEntitled:
		fn = h.OnPurchaseAlreadyEntitled
	case EventPurchasePending:
		fn = h.OnPurchasePending
	case EventContentRendered:
		fn = h.OnContentRendered
	}

	if fn != nil {
		fn(ev)
	}
	if h.OnAnyEvent != nil && ev.IsPaywallContext() {
		h.OnAnyEvent(ev)
	}
}

// ===========================================
// PRESENTATION CONTEXT
// ===========================================

// PresentationContext bundles everything the caller supplies for one
// presentation attempt. The session holds a reference only for the
// duration of the presentation; ownership stays with the caller.
type PresentationContext struct {
	Config PresentationConfig

	// EventHandlers are scoped to this presentation's session.
	EventHandlers *PaywallEventHandlers

	// OnNotShown is invoked with the skip reason when resolution decides
	// to show nothing at all.
	OnNotShown func(SkipReason)

	// OnAlreadyEntitled is invoked when the entitlement check short
	// circuits the presentation.
	OnAlreadyEntitled func()

	// User identity and context for targeting and event enrichment.
	UserID     string
	UserTraits map[string]string
	Locale     string
	IP         string
}
