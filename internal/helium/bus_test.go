package helium

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/heliumhq/helium-go/internal/models"
)

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	b := NewBus(zap.NewNop(), nil)
	t.Cleanup(b.Close)
	return b
}

func TestBusDeliversToAllListenersExactlyOnce(t *testing.T) {
	bus := newTestBus(t)

	listeners := []*recordingListener{{}, {}, {}}
	for _, l := range listeners {
		bus.Register(l)
	}

	bus.Fire(models.NewPaywallEvent(models.EventPaywallOpen, "t", "p", "s"), nil)
	bus.Flush()

	for i, l := range listeners {
		assert.Len(t, l.Events(), 1, "listener %d", i)
	}
}

func TestBusDuplicateRegistrationIsNoOp(t *testing.T) {
	bus := newTestBus(t)

	l := &recordingListener{}
	h1 := bus.Register(l)
	h2 := bus.Register(l)
	require.Same(t, h1, h2)

	bus.Fire(models.NewPaywallEvent(models.EventPaywallOpen, "t", "p", "s"), nil)
	bus.Flush()

	assert.Len(t, l.Events(), 1)
}

func TestBusHandleCloseStopsDelivery(t *testing.T) {
	bus := newTestBus(t)

	removed := &recordingListener{}
	kept := &recordingListener{}
	h := bus.Register(removed)
	bus.Register(kept)

	h.Close()
	h.Close() // repeat close is a no-op

	bus.Fire(models.NewPaywallEvent(models.EventPaywallOpen, "t", "p", "s"), nil)
	bus.Flush()

	assert.Empty(t, removed.Events())
	assert.Len(t, kept.Events(), 1)
}

func TestBusReregisterAfterClose(t *testing.T) {
	bus := newTestBus(t)

	l := &recordingListener{}
	bus.Register(l).Close()
	bus.Register(l)

	bus.Fire(models.NewPaywallEvent(models.EventPaywallOpen, "t", "p", "s"), nil)
	bus.Flush()

	assert.Len(t, l.Events(), 1)
}

func TestBusPreservesFireOrder(t *testing.T) {
	bus := newTestBus(t)

	l := &recordingListener{}
	bus.Register(l)

	kinds := []models.EventKind{
		models.EventPaywallOpen,
		models.EventButtonPressed,
		models.EventProductSelected,
		models.EventPaywallClose,
	}
	for _, k := range kinds {
		bus.Fire(models.NewPaywallEvent(k, "t", "p", "s"), nil)
	}
	bus.Flush()

	assert.Equal(t, kinds, l.Kinds())
}

type panickingListener struct{}

func (panickingListener) OnHeliumEvent(models.Event) { panic("listener bug") }

func TestBusIsolatesPanickingListener(t *testing.T) {
	bus := newTestBus(t)

	bus.Register(panickingListener{})
	survivor := &recordingListener{}
	bus.Register(survivor)

	bus.Fire(models.NewPaywallEvent(models.EventPaywallOpen, "t", "p", "s"), nil)
	bus.Fire(models.NewPaywallEvent(models.EventPaywallClose, "t", "p", "s"), nil)
	bus.Flush()

	assert.Len(t, survivor.Events(), 2)
}

func TestBusDelegateReceivesEveryEvent(t *testing.T) {
	bus := newTestBus(t)

	d := &stubDelegate{}
	bus.SetDelegate(d)

	bus.Fire(models.NewPaywallEvent(models.EventPaywallOpen, "t", "p", "s"), nil)
	bus.Fire(models.NewSkippedEvent("t", models.SkipTargetingHoldout), nil)
	bus.Flush()

	assert.Len(t, d.Seen(), 2, "delegate observes skips too")
}

func TestBusDeliveryOrderWithinOneEvent(t *testing.T) {
	bus := newTestBus(t)

	var mu sync.Mutex
	var order []string
	record := func(stage string) {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, stage)
	}

	session := NewSessionForTest("t", nil, models.NotFallback, &models.PresentationContext{
		EventHandlers: &models.PaywallEventHandlers{
			OnOpen: func(models.Event) { record("session") },
		},
	})
	bus.SetDelegate(&orderDelegate{record: record})
	bus.Register(&orderListener{record: record})
	bus.AddSink(func(models.Event) { record("sink") })

	bus.Fire(models.NewPaywallEvent(models.EventPaywallOpen, "t", "p", session.ID()), session)
	bus.Flush()

	assert.Equal(t, []string{"session", "delegate", "listener", "sink"}, order)
}

type orderDelegate struct {
	stubDelegate
	record func(string)
}

func (d *orderDelegate) OnPaywallEvent(models.Event) { d.record("delegate") }

type orderListener struct {
	record func(string)
}

func (l *orderListener) OnHeliumEvent(models.Event) { l.record("listener") }

func TestBusSinkReceivesEvents(t *testing.T) {
	bus := newTestBus(t)

	var mu sync.Mutex
	var got []models.EventKind
	bus.AddSink(func(ev models.Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ev.Kind)
	})

	bus.Fire(models.NewPaywallEvent(models.EventPaywallOpen, "t", "p", "s"), nil)
	bus.Flush()

	assert.Equal(t, []models.EventKind{models.EventPaywallOpen}, got)
}

func TestBusCloseWithConcurrentFires(t *testing.T) {
	bus := NewBus(zap.NewNop(), nil)
	l := &recordingListener{}
	bus.Register(l)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					bus.Fire(models.NewPaywallEvent(models.EventPaywallOpen, "t", "p", "s"), nil)
				}
			}
		}()
	}

	// Close while producers are firing at full rate. Late fires are
	// dropped; none may crash the dispatcher.
	time.Sleep(5 * time.Millisecond)
	assert.NotPanics(t, bus.Close)

	close(stop)
	wg.Wait()

	assert.NotPanics(t, bus.Close, "repeat close is a no-op")
}

func TestBusFireAfterCloseIsDropped(t *testing.T) {
	bus := NewBus(zap.NewNop(), nil)
	l := &recordingListener{}
	bus.Register(l)
	bus.Close()

	assert.NotPanics(t, func() {
		bus.Fire(models.NewPaywallEvent(models.EventPaywallOpen, "t", "p", "s"), nil)
		bus.Flush()
	})
	assert.Empty(t, l.Events())
}
