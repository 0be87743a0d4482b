package helium

import (
	"context"

	"go.uber.org/zap"

	"github.com/heliumhq/helium-go/internal/metrics"
	"github.com/heliumhq/helium-go/internal/models"
)

// PurchaseStatus enumerates delegate-reported purchase outcomes.
type PurchaseStatus string

const (
	PurchasePurchased       PurchaseStatus = "purchased"
	PurchaseCancelled       PurchaseStatus = "cancelled"
	PurchasePending         PurchaseStatus = "pending"
	PurchaseRestored        PurchaseStatus = "restored"
	PurchaseFailed          PurchaseStatus = "failed"
	PurchaseAlreadyEntitled PurchaseStatus = "already_entitled"
)

// PurchaseResult is the delegate's answer to a purchase request.
type PurchaseResult struct {
	Status PurchaseStatus `json:"status"`
	Error  string         `json:"error,omitempty"`
}

// PurchaseDelegate is the app-supplied collaborator that completes
// purchases against the native store and observes every lifecycle
// event. A purchase call may suspend indefinitely while the user
// interacts with a system purchase sheet, so implementations must honor
// context cancellation.
type PurchaseDelegate interface {
	MakePurchase(ctx context.Context, productID string) PurchaseResult
	RestorePurchases(ctx context.Context) (bool, error)
	OnPaywallEvent(ev models.Event)
}

// PurchaseService drives delegate purchase and restore flows and maps
// their results onto lifecycle events. Results arriving after the
// owning session was torn down are still recorded (money may have
// moved) but no session handlers fire.
type PurchaseService struct {
	bus          *Bus
	entitlements *EntitlementCache
	logger       *zap.Logger
	metrics      *metrics.Metrics
}

// NewPurchaseService constructs a purchase service.
func NewPurchaseService(bus *Bus, entitlements *EntitlementCache, logger *zap.Logger, m *metrics.Metrics) *PurchaseService {
	return &PurchaseService{
		bus:          bus,
		entitlements: entitlements,
		logger:       logger,
		metrics:      m,
	}
}

// Purchase runs one delegate purchase for a product selected on the
// given session and returns the delegate's result.
func (p *PurchaseService) Purchase(ctx context.Context, session *Session, productID string) PurchaseResult {
	delegate := p.bus.Delegate()
	if delegate == nil {
		p.logger.Warn("purchase requested with no delegate installed",
			zap.String("product_id", productID),
		)
		return PurchaseResult{Status: PurchaseFailed, Error: "no purchase delegate installed"}
	}

	trigger := session.Trigger()
	paywallName := session.PaywallName()
	sessionID := session.ID()
	userID := session.UserID()

	pressed := models.NewPaywallEvent(models.EventPurchasePressed, trigger, paywallName, sessionID)
	pressed.ProductID = productID
	pressed.UserID = userID
	p.bus.Fire(pressed, session)

	res := delegate.MakePurchase(ctx, productID)
	p.metrics.RecordPurchase(string(res.Status))

	if res.Status == PurchasePurchased || res.Status == PurchaseRestored {
		if err := p.entitlements.Grant(ctx, userID, productID); err != nil {
			p.logger.Warn("failed to record entitlement after purchase",
				zap.String("user_id", userID),
				zap.String("product_id", productID),
				zap.Error(err),
			)
		}
	}

	ev := models.NewPaywallEvent(p.eventKindFor(res.Status), trigger, paywallName, sessionID)
	ev.ProductID = productID
	ev.UserID = userID
	ev.Error = res.Error

	// Validity check: a delegate result landing after dismissal still
	// goes to the delegate, listeners and sinks, but not to the dead
	// session's handlers.
	if session.Valid() {
		p.bus.Fire(ev, session)
	} else {
		p.bus.Fire(ev, nil)
	}

	return res
}

// Restore runs the delegate restore flow for the given session.
func (p *PurchaseService) Restore(ctx context.Context, session *Session) (bool, error) {
	delegate := p.bus.Delegate()
	if delegate == nil {
		p.logger.Warn("restore requested with no delegate installed")
		return false, nil
	}

	trigger := session.Trigger()
	paywallName := session.PaywallName()
	sessionID := session.ID()

	restored, err := delegate.RestorePurchases(ctx)

	var kind models.EventKind
	var label string
	switch {
	case err != nil:
		kind = models.EventPurchaseRestoreFailed
		label = "error"
	case restored:
		kind = models.EventPurchaseRestored
		label = "restored"
	default:
		kind = models.EventPurchaseRestoreFailed
		label = "nothing_to_restore"
	}
	if p.metrics != nil {
		p.metrics.RestoreResults.WithLabelValues(label).Inc()
	}

	ev := models.NewPaywallEvent(kind, trigger, paywallName, sessionID)
	ev.UserID = session.UserID()
	if err != nil {
		ev.Error = err.Error()
	}

	if session.Valid() {
		p.bus.Fire(ev, session)
	} else {
		p.bus.Fire(ev, nil)
	}

	return restored, err
}

func (p *PurchaseService) eventKindFor(status PurchaseStatus) models.EventKind {
	switch status {
	case PurchasePurchased:
		return models.EventPurchaseSucceeded
	case PurchaseCancelled:
		return models.EventPurchaseCancelled
	case PurchasePending:
		return models.EventPurchasePending
	case PurchaseRestored:
		return models.EventPurchaseRestored
	case PurchaseAlreadyEntitled:
		return models.EventPurchaseAlreadyEntitled
	default:
		return models.EventPurchaseFailed
	}
}
