package storage

import (
	"context"
	"sync"
	"time"

	"github.com/heliumhq/helium-go/internal/models"
)

// InMemoryEventStore provides in-memory storage for lifecycle events.
type InMemoryEventStore struct {
	mu     sync.RWMutex
	events map[string]*models.Event
	order  []string

	// Indexes for faster lookups
	bySession map[string][]string // session_id -> []event_id
	byTrigger map[string][]string // trigger -> []event_id
}

// NewInMemoryEventStore creates a new in-memory event store.
func NewInMemoryEventStore() *InMemoryEventStore {
	return &InMemoryEventStore{
		events:    make(map[string]*models.Event),
		bySession: make(map[string][]string),
		byTrigger: make(map[string][]string),
	}
}

// SaveEvent appends one lifecycle event.
func (s *InMemoryEventStore) SaveEvent(ctx context.Context, ev *models.Event) error {
	if ev == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.events[ev.ID]; exists {
		return nil
	}

	cp := *ev
	s.events[ev.ID] = &cp
	s.order = append(s.order, ev.ID)

	if ev.SessionID != "" {
		s.bySession[ev.SessionID] = append(s.bySession[ev.SessionID], ev.ID)
	}
	if ev.Trigger != "" {
		s.byTrigger[ev.Trigger] = append(s.byTrigger[ev.Trigger], ev.ID)
	}
	return nil
}

// GetEvent returns an event by ID.
func (s *InMemoryEventStore) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ev, ok := s.events[id]
	if !ok {
		return nil, nil
	}
	return ev, nil
}

// ListEventsBySession returns events for a session in insertion order.
func (s *InMemoryEventStore) ListEventsBySession(ctx context.Context, sessionID string) ([]*models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.bySession[sessionID]
	result := make([]*models.Event, 0, len(ids))
	for _, id := range ids {
		if ev := s.events[id]; ev != nil {
			result = append(result, ev)
		}
	}
	return result, nil
}

// ListEventsByTrigger returns events for a trigger since the given time.
func (s *InMemoryEventStore) ListEventsByTrigger(ctx context.Context, trigger string, since time.Time) ([]*models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byTrigger[trigger]
	result := make([]*models.Event, 0, len(ids))
	for _, id := range ids {
		ev := s.events[id]
		if ev != nil && ev.Timestamp.After(since) {
			result = append(result, ev)
		}
	}
	return result, nil
}

// CountByKind returns per-kind event counts since the given time.
func (s *InMemoryEventStore) CountByKind(ctx context.Context, since time.Time) (map[models.EventKind]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[models.EventKind]int64)
	for _, id := range s.order {
		ev := s.events[id]
		if ev != nil && ev.Timestamp.After(since) {
			counts[ev.Kind]++
		}
	}
	return counts, nil
}
