package models

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ===========================================
// PAYWALL DESCRIPTOR
// ===========================================

// PaywallInfo is the immutable descriptor for one configured paywall
// variant. It is produced by config decoding and owned by the config
// store; callers must treat it as read-only.
type PaywallInfo struct {
	PaywallID    string    `json:"paywall_id"`
	PaywallUUID  uuid.UUID `json:"paywall_uuid"`
	TemplateName string    `json:"template_name"`

	// Product identifiers offered on this paywall. An empty list means
	// there is nothing purchasable on this platform.
	ProductIDs []string `json:"product_ids"`

	// Resolved template configuration. Opaque to the decision engine;
	// passed through to the render layer untouched.
	TemplateConfig json.RawMessage `json:"template_config,omitempty"`

	// ShouldShow is a server-driven targeting decision. nil or true means
	// show; an explicit false is a targeting holdout (skip, not fallback).
	ShouldShow *bool `json:"should_show,omitempty"`

	// ForceShowFallback makes resolution serve fallback content for this
	// paywall regardless of any other state.
	ForceShowFallback bool `json:"force_show_fallback,omitempty"`

	ExperimentID string `json:"experiment_id,omitempty"`
	ModelID      string `json:"model_id,omitempty"`

	// FallbackPaywallName optionally designates which bundled fallback to
	// render when this paywall cannot be shown.
	FallbackPaywallName string `json:"fallback_paywall_name,omitempty"`

	// SecondChancePaywallName optionally names an alternate paywall to
	// offer after a dismissal.
	SecondChancePaywallName string `json:"second_chance_paywall_name,omitempty"`
}

// Showable reports whether the server-driven targeting decision allows
// showing this paywall. nil is treated as true.
func (p *PaywallInfo) Showable() bool {
	return p.ShouldShow == nil || *p.ShouldShow
}

// Validate checks structural invariants of a decoded paywall.
func (p *PaywallInfo) Validate() error {
	if p.PaywallID == "" {
		return errors.New("paywall_id is required")
	}
	if p.TemplateName == "" {
		return errors.New("template_name is required")
	}
	return nil
}

// ===========================================
// FETCHED CONFIG
// ===========================================

// BundleRef points at downloadable paywall bundle content.
type BundleRef struct {
	BundleID string `json:"bundle_id"`
	URL      string `json:"url"`
	Checksum string `json:"checksum,omitempty"`
}

// FetchedConfig is one complete downloaded configuration snapshot. A new
// snapshot replaces the previous one atomically; readers always observe
// a single consistent generation.
type FetchedConfig struct {
	ConfigID    uuid.UUID `json:"config_id"`
	OrgID       string    `json:"org_id"`
	GeneratedAt time.Time `json:"generated_at"`

	// TriggerToPaywalls maps an application trigger name to the paywall
	// configured for it. Trigger names are unique keys.
	TriggerToPaywalls map[string]PaywallInfo `json:"triggers"`

	// Bundles maps bundle identifiers to their content references.
	Bundles map[string]BundleRef `json:"bundles,omitempty"`

	// Analytics transport settings, passed through to the sink layer.
	AnalyticsEndpoint string `json:"analytics_endpoint,omitempty"`
	AnalyticsWriteKey string `json:"analytics_write_key,omitempty"`
}

// PaywallForTrigger returns the paywall configured for a trigger, if any.
func (c *FetchedConfig) PaywallForTrigger(trigger string) (PaywallInfo, bool) {
	pw, ok := c.TriggerToPaywalls[trigger]
	return pw, ok
}

// Validate checks that a decoded config snapshot is usable.
func (c *FetchedConfig) Validate() error {
	if c.ConfigID == uuid.Nil {
		return errors.New("config_id is required")
	}
	for trigger, pw := range c.TriggerToPaywalls {
		if trigger == "" {
			return errors.New("empty trigger name in config")
		}
		if err := pw.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ===========================================
// DOWNLOAD STATUS
// ===========================================

// DownloadState enumerates the config download lifecycle.
type DownloadState string

const (
	DownloadStateNotDownloadedYet DownloadState = "not_downloaded_yet"
	DownloadStateDownloading      DownloadState = "downloading"
	DownloadStateDownloaded       DownloadState = "downloaded"
	DownloadStateFailure          DownloadState = "download_failure"
)

// DownloadStatus captures the state of the most recent fetch attempt.
// Transitions are monotonic within one attempt; a fresh attempt may move
// back to downloading.
type DownloadStatus struct {
	State         DownloadState `json:"state"`
	ConfigID      uuid.UUID     `json:"config_id,omitempty"`
	FailureReason string        `json:"failure_reason,omitempty"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// Downloaded reports whether a config download has completed for the
// current attempt.
func (s DownloadStatus) Downloaded() bool {
	return s.State == DownloadStateDownloaded
}

// ===========================================
// RESOLUTION OUTCOMES
// ===========================================

// FallbackReason enumerates technical failures to obtain real content.
// These are not errors: the caller is expected to render bundled
// fallback content.
type FallbackReason string

const (
	FallbackNotInitialized        FallbackReason = "not_initialized"
	FallbackPaywallsNotDownloaded FallbackReason = "paywalls_not_downloaded"
	FallbackTriggerHasNoPaywall   FallbackReason = "trigger_has_no_paywall"
	FallbackNoProducts            FallbackReason = "no_products"
	FallbackForceShowFallback     FallbackReason = "force_show_fallback"
)

// FallbackType classifies a session as real or fallback content.
type FallbackType struct {
	IsFallback bool           `json:"is_fallback"`
	Reason     FallbackReason `json:"reason,omitempty"`
}

// NotFallback marks a session bound to real downloaded content.
var NotFallback = FallbackType{}

// FallbackWith builds a fallback classification for the given reason.
func FallbackWith(reason FallbackReason) FallbackType {
	return FallbackType{IsFallback: true, Reason: reason}
}

// SkipReason enumerates server-driven decisions to show no paywall at
// all. A skip is business logic, distinct from fallback rendering.
type SkipReason string

const (
	SkipTargetingHoldout SkipReason = "targeting_holdout"
	SkipAlreadyEntitled  SkipReason = "already_entitled"
)
