package storage

import (
	"context"
	"time"

	"github.com/heliumhq/helium-go/internal/models"
)

// =============================================
// EVENT STORE
// =============================================

// EventStore defines append-only storage for paywall lifecycle events.
type EventStore interface {
	// SaveEvent appends one lifecycle event.
	SaveEvent(ctx context.Context, ev *models.Event) error

	// GetEvent returns an event by ID, or nil when absent.
	GetEvent(ctx context.Context, id string) (*models.Event, error)

	// ListEventsBySession returns all events recorded for a session in
	// insertion order.
	ListEventsBySession(ctx context.Context, sessionID string) ([]*models.Event, error)

	// ListEventsByTrigger returns events for a trigger since the given
	// time, in insertion order.
	ListEventsByTrigger(ctx context.Context, trigger string, since time.Time) ([]*models.Event, error)

	// CountByKind returns per-kind event counts since the given time.
	CountByKind(ctx context.Context, since time.Time) (map[models.EventKind]int64, error)
}
