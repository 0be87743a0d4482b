package helium

import (
	"runtime"
	"sync"

	"go.uber.org/zap"

	"github.com/heliumhq/helium-go/internal/metrics"
	"github.com/heliumhq/helium-go/internal/models"
)

// EventListener receives every lifecycle event fired through the bus.
// Many listeners may be registered at once.
type EventListener interface {
	OnHeliumEvent(ev models.Event)
}

// EventSink is an internal fan-out target (persistence, analytics). Sinks
// run after the public delivery order and must never block for long.
type EventSink func(ev models.Event)

// ListenerHandle is the revocation token for one registration. Closing
// it unregisters the listener; closing twice is a no-op.
type ListenerHandle struct {
	bus   *Bus
	entry *listenerEntry
	once  sync.Once
}

// Close unregisters the listener this handle was issued for.
func (h *ListenerHandle) Close() {
	if h == nil {
		return
	}
	h.once.Do(func() {
		h.bus.unregister(h.entry)
	})
}

type listenerEntry struct {
	seq      uint64
	listener EventListener

	mu     sync.Mutex
	closed bool
}

func (e *listenerEntry) alive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.closed
}

type dispatchJob struct {
	ev      models.Event
	session *Session

	// flush sentinel; nil for regular jobs
	done chan struct{}
}

// Bus fans lifecycle events out to three ordered sinks per fire: the
// session's own handlers, the process-wide purchase delegate, and every
// registered global listener in registration order. Delivery runs on a
// single dispatch goroutine, so events fired in program order arrive at
// each sink in that order. Registration and removal are serialized on
// the bus mutex, distinct from the dispatch path; each dispatch iterates
// a snapshot taken at fire time.
type Bus struct {
	mu         sync.Mutex
	nextSeq    uint64
	entries    []*listenerEntry
	byListener map[EventListener]*ListenerHandle
	delegate   PurchaseDelegate
	sinks      []EventSink
	shutdown   bool

	jobs    chan dispatchJob
	closed  chan struct{}
	stopped sync.WaitGroup

	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewBus constructs a bus and starts its dispatch goroutine.
func NewBus(logger *zap.Logger, m *metrics.Metrics) *Bus {
	b := &Bus{
		byListener: make(map[EventListener]*ListenerHandle),
		jobs:       make(chan dispatchJob, 1024),
		closed:     make(chan struct{}),
		logger:     logger,
		metrics:    m,
	}
	b.stopped.Add(1)
	go b.run()
	return b
}

// SetDelegate installs the single process-wide purchase delegate. It
// receives every event fired through the bus via OnPaywallEvent.
func (b *Bus) SetDelegate(d PurchaseDelegate) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.delegate = d
}

// Delegate returns the currently installed purchase delegate, or nil.
func (b *Bus) Delegate() PurchaseDelegate {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.delegate
}

// AddSink registers an internal delivery target invoked after the
// public sinks. Intended for the event store and the analytics sink.
func (b *Bus) AddSink(sink EventSink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, sink)
}

// Register adds a global listener and returns its revocation handle.
// Registering the same listener a second time is a no-op and returns
// the existing handle.
func (b *Bus) Register(l EventListener) *ListenerHandle {
	if l == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if h, ok := b.byListener[l]; ok {
		return h
	}

	b.nextSeq++
	entry := &listenerEntry{seq: b.nextSeq, listener: l}
	b.entries = append(b.entries, entry)
	h := &ListenerHandle{bus: b, entry: entry}
	b.byListener[l] = h

	if b.metrics != nil {
		b.metrics.ActiveListeners.Set(float64(len(b.entries)))
	}
	return h
}

func (b *Bus) unregister(entry *listenerEntry) {
	entry.mu.Lock()
	entry.closed = true
	entry.mu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()

	for i, e := range b.entries {
		if e == entry {
			b.entries = append(b.entries[:i], b.entries[i+1:]...)
			break
		}
	}
	delete(b.byListener, entry.listener)

	if b.metrics != nil {
		b.metrics.ActiveListeners.Set(float64(len(b.entries)))
	}
}

// Fire enqueues an event for asynchronous delivery. The caller never
// blocks on listener execution; if the dispatch queue is full the event
// is dropped and counted. Events fired after Close are dropped.
//
// The shutdown flag and the enqueue are checked under one mutex hold, so
// a Fire racing Close either lands in the queue before the drain or is
// dropped. The jobs channel is never closed.
func (b *Bus) Fire(ev models.Event, session *Session) {
	b.mu.Lock()
	if b.shutdown {
		b.mu.Unlock()
		return
	}
	select {
	case b.jobs <- dispatchJob{ev: ev, session: session}:
		b.mu.Unlock()
		return
	default:
	}
	b.mu.Unlock()

	if b.metrics != nil {
		b.metrics.EventsDropped.Inc()
	}
	b.logger.Warn("event dropped, dispatch queue full",
		zap.String("kind", string(ev.Kind)),
		zap.String("trigger", ev.Trigger),
	)
}

// Flush blocks until every event enqueued before the call has been
// delivered. Used by shutdown and tests. Returns immediately once the
// bus is closed.
func (b *Bus) Flush() {
	done := make(chan struct{})
	for {
		b.mu.Lock()
		if b.shutdown {
			b.mu.Unlock()
			return
		}
		select {
		case b.jobs <- dispatchJob{done: done}:
			b.mu.Unlock()
			<-done
			return
		default:
		}
		// Queue full. The dispatcher is draining it; yield and retry.
		b.mu.Unlock()
		runtime.Gosched()
	}
}

// Close flushes pending events and stops the dispatch goroutine. After
// Close returns no further events are delivered; repeat calls are no-ops.
func (b *Bus) Close() {
	b.Flush()

	b.mu.Lock()
	if b.shutdown {
		b.mu.Unlock()
		return
	}
	b.shutdown = true
	b.mu.Unlock()

	close(b.closed)
	b.stopped.Wait()
}

func (b *Bus) run() {
	defer b.stopped.Done()
	for {
		select {
		case job := <-b.jobs:
			b.handle(job)
		case <-b.closed:
			// Every producer observed the shutdown flag before b.closed
			// was closed, so the queue can only shrink from here.
			for {
				select {
				case job := <-b.jobs:
					b.handle(job)
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) handle(job dispatchJob) {
	if job.done != nil {
		close(job.done)
		return
	}
	b.deliver(job.ev, job.session)
}

// deliver invokes the three sinks in order. A panicking handler or
// listener is isolated: it never prevents delivery to the rest.
func (b *Bus) deliver(ev models.Event, session *Session) {
	if b.metrics != nil {
		b.metrics.RecordDispatch(string(ev.Kind))
	}

	// 1. Session-scoped handlers.
	if session != nil {
		b.protect("session_handlers", func() {
			session.deliver(ev)
		})
	}

	// 2. Process-wide purchase delegate.
	b.mu.Lock()
	delegate := b.delegate
	listeners := make([]*listenerEntry, len(b.entries))
	copy(listeners, b.entries)
	sinks := make([]EventSink, len(b.sinks))
	copy(sinks, b.sinks)
	b.mu.Unlock()

	if delegate != nil {
		b.protect("delegate", func() {
			delegate.OnPaywallEvent(ev)
		})
	}

	// 3. Global listeners, registration order, snapshot taken above.
	for _, entry := range listeners {
		if !entry.alive() {
			continue
		}
		l := entry.listener
		b.protect("listener", func() {
			l.OnHeliumEvent(ev)
		})
	}

	for _, sink := range sinks {
		s := sink
		b.protect("sink", func() {
			s(ev)
		})
	}
}

func (b *Bus) protect(target string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			if b.metrics != nil {
				b.metrics.ListenerPanics.Inc()
			}
			b.logger.Error("panic in event delivery",
				zap.String("target", target),
				zap.Any("panic", r),
			)
		}
	}()
	fn()
}
