package helium

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heliumhq/helium-go/internal/models"
)

type purchaseFixture struct {
	rt       *Runtime
	delegate *stubDelegate
	listener *recordingListener
	session  *Session
}

func newPurchaseFixture(t *testing.T) *purchaseFixture {
	t.Helper()
	rt := newTestRuntime(2)
	t.Cleanup(rt.Close)
	rt.MarkInitialized()
	rt.Store().Install(context.Background(), testConfig("onboarding", showablePaywall()))

	delegate := &stubDelegate{}
	rt.SetDelegate(delegate)

	listener := &recordingListener{}
	rt.RegisterListener(listener)

	return &purchaseFixture{
		rt:       rt,
		delegate: delegate,
		listener: listener,
		session:  presentShow(t, rt, &models.PresentationContext{UserID: "u1"}),
	}
}

func (f *purchaseFixture) kindsOn(kind models.EventKind) int {
	n := 0
	for _, k := range f.listener.Kinds() {
		if k == kind {
			n++
		}
	}
	return n
}

func TestPurchaseSuccessGrantsEntitlement(t *testing.T) {
	f := newPurchaseFixture(t)
	f.delegate.result = PurchaseResult{Status: PurchasePurchased}

	res := f.rt.Purchases().Purchase(context.Background(), f.session, "com.app.monthly")
	require.Equal(t, PurchasePurchased, res.Status)
	f.rt.Bus().Flush()

	assert.Equal(t, []string{"com.app.monthly"}, f.delegate.purchaseCalls)
	assert.Equal(t, 1, f.kindsOn(models.EventPurchasePressed))
	assert.Equal(t, 1, f.kindsOn(models.EventPurchaseSucceeded))
	assert.True(t, f.rt.Entitlements().IsEntitled(context.Background(), "u1"))
}

func TestPurchaseCancelledGrantsNothing(t *testing.T) {
	f := newPurchaseFixture(t)
	f.delegate.result = PurchaseResult{Status: PurchaseCancelled}

	res := f.rt.Purchases().Purchase(context.Background(), f.session, "com.app.monthly")
	assert.Equal(t, PurchaseCancelled, res.Status)
	f.rt.Bus().Flush()

	assert.Equal(t, 1, f.kindsOn(models.EventPurchaseCancelled))
	assert.False(t, f.rt.Entitlements().IsEntitled(context.Background(), "u1"))
}

func TestPurchaseStatusEventMapping(t *testing.T) {
	tests := []struct {
		status PurchaseStatus
		kind   models.EventKind
	}{
		{PurchasePurchased, models.EventPurchaseSucceeded},
		{PurchaseCancelled, models.EventPurchaseCancelled},
		{PurchasePending, models.EventPurchasePending},
		{PurchaseRestored, models.EventPurchaseRestored},
		{PurchaseAlreadyEntitled, models.EventPurchaseAlreadyEntitled},
		{PurchaseFailed, models.EventPurchaseFailed},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			f := newPurchaseFixture(t)
			f.delegate.result = PurchaseResult{Status: tt.status}

			f.rt.Purchases().Purchase(context.Background(), f.session, "com.app.monthly")
			f.rt.Bus().Flush()

			assert.Equal(t, 1, f.kindsOn(tt.kind))
		})
	}
}

func TestPurchaseFailureCarriesError(t *testing.T) {
	f := newPurchaseFixture(t)
	f.delegate.result = PurchaseResult{Status: PurchaseFailed, Error: "card declined"}

	f.rt.Purchases().Purchase(context.Background(), f.session, "com.app.monthly")
	f.rt.Bus().Flush()

	var got string
	for _, ev := range f.listener.Events() {
		if ev.Kind == models.EventPurchaseFailed {
			got = ev.Error
		}
	}
	assert.Equal(t, "card declined", got)
}

func TestPurchaseWithoutDelegate(t *testing.T) {
	rt := newTestRuntime(2)
	defer rt.Close()
	rt.MarkInitialized()
	rt.Store().Install(context.Background(), testConfig("onboarding", showablePaywall()))

	session := presentShow(t, rt, nil)
	res := rt.Purchases().Purchase(context.Background(), session, "com.app.monthly")
	assert.Equal(t, PurchaseFailed, res.Status)
	assert.NotEmpty(t, res.Error)
}

func TestPurchaseResultAfterTeardownSkipsSessionHandlers(t *testing.T) {
	f := newPurchaseFixture(t)
	f.delegate.result = PurchaseResult{Status: PurchasePurchased}

	var handlerHits int
	f.session.mu.Lock()
	f.session.pctx.EventHandlers = &models.PaywallEventHandlers{
		OnPurchaseSucceeded: func(models.Event) { handlerHits++ },
	}
	f.session.mu.Unlock()

	f.session.Teardown()

	res := f.rt.Purchases().Purchase(context.Background(), f.session, "com.app.monthly")
	require.Equal(t, PurchasePurchased, res.Status)
	f.rt.Bus().Flush()

	// The result still reaches delegate, listeners and the entitlement
	// record: money may have moved.
	assert.Equal(t, 1, f.kindsOn(models.EventPurchaseSucceeded))
	assert.True(t, f.rt.Entitlements().IsEntitled(context.Background(), "u1"))
	assert.Zero(t, handlerHits, "dead session handlers stay silent")
}

func TestRestoreOutcomes(t *testing.T) {
	t.Run("restored", func(t *testing.T) {
		f := newPurchaseFixture(t)
		f.delegate.restored = true

		restored, err := f.rt.Purchases().Restore(context.Background(), f.session)
		require.NoError(t, err)
		assert.True(t, restored)
		f.rt.Bus().Flush()
		assert.Equal(t, 1, f.kindsOn(models.EventPurchaseRestored))
	})

	t.Run("nothing to restore", func(t *testing.T) {
		f := newPurchaseFixture(t)

		restored, err := f.rt.Purchases().Restore(context.Background(), f.session)
		require.NoError(t, err)
		assert.False(t, restored)
		f.rt.Bus().Flush()
		assert.Equal(t, 1, f.kindsOn(models.EventPurchaseRestoreFailed))
	})

	t.Run("error", func(t *testing.T) {
		f := newPurchaseFixture(t)
		f.delegate.restoreErr = errors.New("store unreachable")

		_, err := f.rt.Purchases().Restore(context.Background(), f.session)
		require.Error(t, err)
		f.rt.Bus().Flush()

		var got string
		for _, ev := range f.listener.Events() {
			if ev.Kind == models.EventPurchaseRestoreFailed {
				got = ev.Error
			}
		}
		assert.Equal(t, "store unreachable", got)
	})
}

func TestRestoreWithoutDelegate(t *testing.T) {
	rt := newTestRuntime(2)
	defer rt.Close()
	rt.MarkInitialized()
	rt.Store().Install(context.Background(), testConfig("onboarding", showablePaywall()))

	session := presentShow(t, rt, nil)
	restored, err := rt.Purchases().Restore(context.Background(), session)
	assert.NoError(t, err)
	assert.False(t, restored)
}

func TestEntitlementCacheLocalFallback(t *testing.T) {
	f := newPurchaseFixture(t)
	cache := f.rt.Entitlements()

	assert.False(t, cache.IsEntitled(context.Background(), "u2"))
	assert.False(t, cache.IsEntitled(context.Background(), ""), "anonymous users are never entitled")

	require.NoError(t, cache.Grant(context.Background(), "u2", "com.app.yearly"))
	assert.True(t, cache.IsEntitled(context.Background(), "u2"))

	// Empty identifiers are ignored, not recorded.
	require.NoError(t, cache.Grant(context.Background(), "", "com.app.yearly"))
	require.NoError(t, cache.Grant(context.Background(), "u3", ""))
	assert.False(t, cache.IsEntitled(context.Background(), "u3"))
}
