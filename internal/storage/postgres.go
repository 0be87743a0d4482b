package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/heliumhq/helium-go/internal/models"
)

// PostgresEventStore implements EventStore using PostgreSQL.
type PostgresEventStore struct {
	pool *pgxpool.Pool
}

// NewPostgresEventStore creates a new PostgreSQL-backed event store.
func NewPostgresEventStore(pool *pgxpool.Pool) *PostgresEventStore {
	return &PostgresEventStore{pool: pool}
}

// SaveEvent appends one lifecycle event.
func (s *PostgresEventStore) SaveEvent(ctx context.Context, ev *models.Event) error {
	if ev == nil {
		return nil
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO helium_events (
			id, kind, timestamp, trigger, paywall_name, session_id, user_id,
			skip_reason, button_name, action_name, product_id, error,
			config_id, render_time_ms, loading_budget_ms
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO NOTHING
	`, ev.ID, string(ev.Kind), ev.Timestamp,
		nullString(ev.Trigger), nullString(ev.PaywallName), nullString(ev.SessionID), nullString(ev.UserID),
		nullString(string(ev.SkipReason)), nullString(ev.ButtonName), nullString(ev.ActionName),
		nullString(ev.ProductID), nullString(ev.Error),
		nullUUID(ev.ConfigID.String()), ev.RenderTimeMS, ev.LoadingBudgetMS)

	if err != nil {
		return fmt.Errorf("failed to save event: %w", err)
	}
	return nil
}

// GetEvent retrieves an event by ID.
func (s *PostgresEventStore) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, kind, timestamp, trigger, paywall_name, session_id, user_id,
		       skip_reason, button_name, action_name, product_id, error,
		       render_time_ms, loading_budget_ms
		FROM helium_events WHERE id = $1
	`, id)

	ev, err := scanEvent(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return ev, nil
}

// ListEventsBySession returns events for a session in insertion order.
func (s *PostgresEventStore) ListEventsBySession(ctx context.Context, sessionID string) ([]*models.Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, kind, timestamp, trigger, paywall_name, session_id, user_id,
		       skip_reason, button_name, action_name, product_id, error,
		       render_time_ms, loading_budget_ms
		FROM helium_events WHERE session_id = $1
		ORDER BY timestamp ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list events by session: %w", err)
	}
	defer rows.Close()

	return collectEvents(rows)
}

// ListEventsByTrigger returns events for a trigger since the given time.
func (s *PostgresEventStore) ListEventsByTrigger(ctx context.Context, trigger string, since time.Time) ([]*models.Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, kind, timestamp, trigger, paywall_name, session_id, user_id,
		       skip_reason, button_name, action_name, product_id, error,
		       render_time_ms, loading_budget_ms
		FROM helium_events WHERE trigger = $1 AND timestamp > $2
		ORDER BY timestamp ASC
	`, trigger, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list events by trigger: %w", err)
	}
	defer rows.Close()

	return collectEvents(rows)
}

// CountByKind returns per-kind event counts since the given time.
func (s *PostgresEventStore) CountByKind(ctx context.Context, since time.Time) (map[models.EventKind]int64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT kind, COUNT(*) FROM helium_events
		WHERE timestamp > $1
		GROUP BY kind
	`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.EventKind]int64)
	for rows.Next() {
		var kind string
		var n int64
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("failed to scan event count: %w", err)
		}
		counts[models.EventKind(kind)] = n
	}
	return counts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*models.Event, error) {
	var ev models.Event
	var kind string
	var trigger, paywallName, sessionID, userID *string
	var skipReason, buttonName, actionName, productID, errMsg *string

	err := row.Scan(&ev.ID, &kind, &ev.Timestamp, &trigger, &paywallName, &sessionID, &userID,
		&skipReason, &buttonName, &actionName, &productID, &errMsg,
		&ev.RenderTimeMS, &ev.LoadingBudgetMS)
	if err != nil {
		return nil, err
	}

	ev.Kind = models.EventKind(kind)
	ev.Trigger = deref(trigger)
	ev.PaywallName = deref(paywallName)
	ev.SessionID = deref(sessionID)
	ev.UserID = deref(userID)
	ev.SkipReason = models.SkipReason(deref(skipReason))
	ev.ButtonName = deref(buttonName)
	ev.ActionName = deref(actionName)
	ev.ProductID = deref(productID)
	ev.Error = deref(errMsg)
	return &ev, nil
}

func collectEvents(rows pgx.Rows) ([]*models.Event, error) {
	var result []*models.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		result = append(result, ev)
	}
	return result, rows.Err()
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullUUID(s string) *string {
	if s == "" || s == "00000000-0000-0000-0000-000000000000" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
