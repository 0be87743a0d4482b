package helium

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/heliumhq/helium-go/internal/models"
)

// Session is one in-flight presentation attempt: a trigger bound to its
// resolved paywall (or a fallback classification) and the caller's
// presentation context. Sessions are created only by the resolver (and
// test factories) and live from resolution until dismissal.
type Session struct {
	id        string
	trigger   string
	paywall   *models.PaywallInfo
	budget    models.LoadingBudget
	createdAt time.Time

	timer *BudgetTimer

	mu        sync.Mutex
	fallback  models.FallbackType
	pctx      *models.PresentationContext
	dismissed bool
	tornDown  bool
}

func newSession(trigger string, paywall *models.PaywallInfo, fallback models.FallbackType, pctx *models.PresentationContext, budget models.LoadingBudget) *Session {
	// A nil context is normalized to an empty one, so accessors and
	// event delivery never special-case it.
	if pctx == nil {
		pctx = &models.PresentationContext{}
	}
	return &Session{
		id:        uuid.NewString(),
		trigger:   trigger,
		paywall:   paywall,
		fallback:  fallback,
		pctx:      pctx,
		budget:    budget,
		createdAt: time.Now().UTC(),
	}
}

// NewSessionForTest builds a session outside the resolver. Tests only.
func NewSessionForTest(trigger string, paywall *models.PaywallInfo, fallback models.FallbackType, pctx *models.PresentationContext) *Session {
	return newSession(trigger, paywall, fallback, pctx, models.LoadingBudget{})
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Trigger returns the trigger this session was resolved for.
func (s *Session) Trigger() string { return s.trigger }

// Paywall returns the resolved paywall, or nil for fallback sessions.
func (s *Session) Paywall() *models.PaywallInfo { return s.paywall }

// PaywallName returns the resolved paywall's template name, or the
// empty string for fallback sessions.
func (s *Session) PaywallName() string {
	if s.paywall == nil {
		return ""
	}
	return s.paywall.TemplateName
}

// Budget returns the effective loading budget for this presentation.
func (s *Session) Budget() models.LoadingBudget { return s.budget }

// CreatedAt returns the resolution time.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Fallback returns the current fallback classification.
func (s *Session) Fallback() models.FallbackType {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fallback
}

// UserID returns the presenting user's identifier, if supplied.
func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pctx == nil {
		return ""
	}
	return s.pctx.UserID
}

// Valid reports whether the session is still live: resolved and not yet
// torn down. Late results arriving for an invalid session are dropped
// by their callers.
func (s *Session) Valid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.tornDown
}

// deliver forwards an event to the session's own handlers. Delivery
// after teardown is a silent no-op: the handler references are gone.
func (s *Session) deliver(ev models.Event) {
	s.mu.Lock()
	if s.tornDown {
		s.mu.Unlock()
		return
	}
	handlers := s.pctx.EventHandlers
	s.mu.Unlock()

	handlers.Handle(ev)
}

// attachTimer hands the session ownership of its budget timer.
func (s *Session) attachTimer(t *BudgetTimer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timer = t
}

// markFallback reclassifies the session after its loading budget
// expired without content. Only a not-fallback session transitions.
func (s *Session) markFallback(reason models.FallbackReason) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tornDown || s.fallback.IsFallback {
		return false
	}
	s.fallback = models.FallbackWith(reason)
	return true
}

// markDismissed records the first dismissal. Returns false on repeat
// calls so close/dismiss events are never double-emitted.
func (s *Session) markDismissed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dismissed {
		return false
	}
	s.dismissed = true
	return true
}

// Teardown invalidates the budget timer and detaches the caller's
// handler references so they cannot leak into later sessions. Safe to
// call any number of times.
func (s *Session) Teardown() {
	s.mu.Lock()
	if s.tornDown {
		s.mu.Unlock()
		return
	}
	s.tornDown = true
	timer := s.timer
	s.pctx = &models.PresentationContext{}
	s.mu.Unlock()

	if timer != nil {
		timer.Cancel()
	}
}
