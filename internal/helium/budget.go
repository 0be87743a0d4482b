package helium

import (
	"sync"
	"time"
)

// BudgetState enumerates the loading-budget timer lifecycle.
type BudgetState string

const (
	BudgetIdle      BudgetState = "idle"
	BudgetArmed     BudgetState = "armed"
	BudgetExpired   BudgetState = "expired"
	BudgetCancelled BudgetState = "cancelled"
)

// BudgetTimer bounds how long a presentation waits for remote content.
// It is single-shot: armed once per presentation, then either expires or
// is cancelled. The expiry callback and Cancel race; whichever moves the
// state first wins and the loser is a no-op, so a timer callback firing
// after content already resolved the session has no effect.
type BudgetTimer struct {
	mu       sync.Mutex
	state    BudgetState
	timer    *time.Timer
	onExpire func()
}

// NewBudgetTimer creates an idle timer with the given expiry callback.
func NewBudgetTimer(onExpire func()) *BudgetTimer {
	return &BudgetTimer{
		state:    BudgetIdle,
		onExpire: onExpire,
	}
}

// State returns the current timer state.
func (t *BudgetTimer) State() BudgetState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Arm starts the single-shot countdown. Arming a timer that has already
// left the idle state is a no-op.
func (t *BudgetTimer) Arm(wait time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != BudgetIdle {
		return
	}
	t.state = BudgetArmed
	t.timer = time.AfterFunc(wait, t.fire)
}

func (t *BudgetTimer) fire() {
	t.mu.Lock()
	if t.state != BudgetArmed {
		t.mu.Unlock()
		return
	}
	t.state = BudgetExpired
	cb := t.onExpire
	t.mu.Unlock()

	if cb != nil {
		cb()
	}
}

// Cancel invalidates an armed timer. Safe to call repeatedly and from
// any state; only an armed timer transitions. The return value reports
// whether this call performed the armed to cancelled transition, which
// is the tie-break between content completion and expiry: exactly one
// of Cancel and fire wins the state under the mutex.
func (t *BudgetTimer) Cancel() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != BudgetArmed {
		return false
	}
	t.state = BudgetCancelled
	if t.timer != nil {
		t.timer.Stop()
	}
	return true
}
