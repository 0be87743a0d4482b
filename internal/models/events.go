package models

import (
	"time"

	"github.com/google/uuid"
)

// ===========================================
// LIFECYCLE EVENTS
// ===========================================

// EventKind tags one variant of the paywall lifecycle event.
type EventKind string

const (
	EventInitializeStart EventKind = "initialize_start"
	EventInitializeEnd   EventKind = "initialize_end"

	EventPaywallOpen       EventKind = "paywall_open"
	EventPaywallClose      EventKind = "paywall_close"
	EventPaywallDismissed  EventKind = "paywall_dismissed"
	EventPaywallOpenFailed EventKind = "paywall_open_failed"
	EventPaywallSkipped    EventKind = "paywall_skipped"

	EventButtonPressed   EventKind = "paywall_button_pressed"
	EventCustomAction    EventKind = "custom_action"
	EventProductSelected EventKind = "product_selected"

	EventPurchasePressed         EventKind = "purchase_pressed"
	EventPurchaseSucceeded       EventKind = "purchase_succeeded"
	EventPurchaseCancelled       EventKind = "purchase_cancelled"
	EventPurchaseFailed          EventKind = "purchase_failed"
	EventPurchaseRestored        EventKind = "purchase_restored"
	EventPurchaseRestoreFailed   EventKind = "purchase_restore_failed"
	EventPurchaseAlreadyEntitled EventKind = "purchase_already_entitled"
	EventPurchasePending         EventKind = "purchase_pending"

	EventConfigDownloadSucceeded EventKind = "config_download_succeeded"
	EventConfigDownloadFailed    EventKind = "config_download_failed"

	EventContentRendered EventKind = "paywall_content_rendered"
)

// Event is a tagged variant over the full paywall lifecycle. Events are
// immutable once constructed; kind-specific fields are left zero for
// kinds that do not carry them.
type Event struct {
	ID        string    `json:"id"`
	Kind      EventKind `json:"kind"`
	Timestamp time.Time `json:"timestamp"`

	Trigger     string `json:"trigger,omitempty"`
	PaywallName string `json:"paywall_name,omitempty"`
	SessionID   string `json:"session_id,omitempty"`
	UserID      string `json:"user_id,omitempty"`

	// Skip events
	SkipReason SkipReason `json:"skip_reason,omitempty"`

	// Interaction events
	ButtonName string `json:"button_name,omitempty"`
	ActionName string `json:"action_name,omitempty"`
	ProductID  string `json:"product_id,omitempty"`

	// Failure events
	Error string `json:"error,omitempty"`

	// Download events
	ConfigID uuid.UUID `json:"config_id,omitempty"`

	// Render timing
	RenderTimeMS int64 `json:"render_time_ms,omitempty"`

	// Pre-clamp requested loading budget, 0 when loading state disabled.
	LoadingBudgetMS int64 `json:"loading_budget_ms,omitempty"`
}

// IsPaywallContext reports whether the event belongs to the paywall
// context sub-family: events that carry both a trigger and the identity
// of a paywall actually shown. Skip, initialize and download-status
// events are outside the family and must not reach onAnyEvent handlers.
func (e Event) IsPaywallContext() bool {
	switch e.Kind {
	case EventPaywallOpen, EventPaywallClose, EventPaywallDismissed,
		EventPaywallOpenFailed, EventButtonPressed, EventCustomAction,
		EventProductSelected, EventPurchasePressed, EventPurchaseSucceeded,
		EventPurchaseCancelled, EventPurchaseFailed, EventPurchaseRestored,
		EventPurchaseRestoreFailed, EventPurchaseAlreadyEntitled,
		EventPurchasePending, EventContentRendered:
		return true
	default:
		return false
	}
}

// NewEvent constructs an event of the given kind with identity and
// timestamp populated. Kind-specific fields are set by the caller.
func NewEvent(kind EventKind) Event {
	return Event{
		ID:        uuid.NewString(),
		Kind:      kind,
		Timestamp: time.Now().UTC(),
	}
}

// NewPaywallEvent constructs a paywall-scoped event.
func NewPaywallEvent(kind EventKind, trigger, paywallName, sessionID string) Event {
	ev := NewEvent(kind)
	ev.Trigger = trigger
	ev.PaywallName = paywallName
	ev.SessionID = sessionID
	return ev
}

// NewSkippedEvent constructs a paywall-skipped event. Skips carry the
// trigger but no shown paywall, so they are not paywall-context events.
func NewSkippedEvent(trigger string, reason SkipReason) Event {
	ev := NewEvent(EventPaywallSkipped)
	ev.Trigger = trigger
	ev.SkipReason = reason
	return ev
}

// NewDownloadEvent constructs a config download status event.
func NewDownloadEvent(kind EventKind, configID uuid.UUID, errMsg string) Event {
	ev := NewEvent(kind)
	ev.ConfigID = configID
	ev.Error = errMsg
	return ev
}
