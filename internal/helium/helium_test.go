package helium

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/heliumhq/helium-go/internal/models"
)

// recordingListener captures every event it receives.
type recordingListener struct {
	mu     sync.Mutex
	events []models.Event
}

func (l *recordingListener) OnHeliumEvent(ev models.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *recordingListener) Events() []models.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.Event, len(l.events))
	copy(out, l.events)
	return out
}

func (l *recordingListener) Kinds() []models.EventKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	kinds := make([]models.EventKind, 0, len(l.events))
	for _, ev := range l.events {
		kinds = append(kinds, ev.Kind)
	}
	return kinds
}

// stubDelegate is a scripted purchase delegate.
type stubDelegate struct {
	mu            sync.Mutex
	result        PurchaseResult
	restored      bool
	restoreErr    error
	seen          []models.Event
	purchaseCalls []string
}

func (d *stubDelegate) MakePurchase(ctx context.Context, productID string) PurchaseResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.purchaseCalls = append(d.purchaseCalls, productID)
	return d.result
}

func (d *stubDelegate) RestorePurchases(ctx context.Context) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.restored, d.restoreErr
}

func (d *stubDelegate) OnPaywallEvent(ev models.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen = append(d.seen, ev)
}

func (d *stubDelegate) Seen() []models.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]models.Event, len(d.seen))
	copy(out, d.seen)
	return out
}

func boolPtr(v bool) *bool { return &v }

func floatPtr(v float64) *float64 { return &v }

// testConfig builds an installable snapshot around one trigger.
func testConfig(trigger string, pw models.PaywallInfo) *models.FetchedConfig {
	return &models.FetchedConfig{
		ConfigID: uuid.New(),
		TriggerToPaywalls: map[string]models.PaywallInfo{
			trigger: pw,
		},
	}
}

// showablePaywall is a minimal paywall that resolves to show.
func showablePaywall() models.PaywallInfo {
	return models.PaywallInfo{
		PaywallID:    "pw-1",
		TemplateName: "premium-v2",
		ProductIDs:   []string{"com.app.monthly"},
	}
}

func newTestRuntime(budgetSeconds float64) *Runtime {
	return NewRuntime(RuntimeOptions{
		DefaultLoadingBudgetSeconds: budgetSeconds,
		Logger:                      zap.NewNop(),
	})
}
