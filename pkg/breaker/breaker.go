// Package breaker implements the per-provider circuit breaker state
// machine that gates adapter execution. One breaker exists per provider
// id, created lazily by the Registry, held in process memory for the life
// of the process.
package breaker

import (
	"fmt"
	"sync"
	"time"
)

// State is the circuit breaker state.
type State string

const (
	// StateClosed passes requests through and counts failures.
	StateClosed State = "closed"

	// StateOpen rejects all requests until the cooldown elapses.
	StateOpen State = "open"

	// StateHalfOpen allows at most one trial request in flight.
	StateHalfOpen State = "half_open"
)

// Settings configures a breaker's thresholds.
type Settings struct {
	// FailureThreshold is the consecutive failure count that opens the
	// breaker from closed.
	FailureThreshold int

	// SuccessThreshold is the consecutive half-open success count that
	// closes the breaker.
	SuccessThreshold int

	// Cooldown is how long an open breaker rejects before allowing a trial.
	Cooldown time.Duration
}

// DefaultSettings returns the default breaker thresholds.
func DefaultSettings() Settings {
	return Settings{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Cooldown:         30 * time.Second,
	}
}

// Snapshot is a point-in-time copy of a breaker's state, exposed to the
// admin surface.
type Snapshot struct {
	Provider          string    `json:"provider"`
	State             State     `json:"state"`
	FailureCount      int       `json:"failure_count"`
	FailureThreshold  int       `json:"failure_threshold"`
	SuccessThreshold  int       `json:"success_threshold"`
	OpenedAt          time.Time `json:"opened_at,omitempty"`
	NextAttemptTime   time.Time `json:"next_attempt_time,omitempty"`
	HalfOpenSuccesses int       `json:"half_open_successes"`
}

// OpenError is returned by Allow when the breaker rejects a request.
// It is a fail-fast rejection: the adapter is never invoked.
type OpenError struct {
	// Provider is the slug of the gated provider
	Provider string

	// RetryAt is when the breaker will next allow a trial request
	RetryAt time.Time
}

// Error implements the error interface.
func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit open for provider %q until %s", e.Provider, e.RetryAt.Format(time.RFC3339))
}

// StateChangeFunc is notified on every state transition. It is called
// outside the breaker's lock and must not call back into the breaker.
type StateChangeFunc func(provider string, from, to State)

// Breaker is the state machine for one provider. All transitions happen
// inside a single mutex so the check-and-transition step and the "at most
// one half-open trial" step form one critical section.
type Breaker struct {
	provider string
	settings Settings

	mu                sync.Mutex
	state             State
	failureCount      int
	openedAt          time.Time
	nextAttemptTime   time.Time
	halfOpenSuccesses int
	trialInFlight     bool

	// now is replaceable for tests
	now func() time.Time

	onStateChange StateChangeFunc
}

// New creates a closed breaker for the given provider.
func New(provider string, settings Settings, onStateChange StateChangeFunc) *Breaker {
	if settings.FailureThreshold <= 0 {
		settings.FailureThreshold = DefaultSettings().FailureThreshold
	}
	if settings.SuccessThreshold <= 0 {
		settings.SuccessThreshold = DefaultSettings().SuccessThreshold
	}
	if settings.Cooldown <= 0 {
		settings.Cooldown = DefaultSettings().Cooldown
	}

	return &Breaker{
		provider:      provider,
		settings:      settings,
		state:         StateClosed,
		now:           time.Now,
		onStateChange: onStateChange,
	}
}

// Allow reports whether a request may proceed. It returns nil to allow, or
// an *OpenError to reject without invoking the adapter.
//
// When an open breaker's cooldown has elapsed, the first caller transitions
// it to half-open and is admitted as the single trial; concurrent callers
// are rejected until the trial completes.
func (b *Breaker) Allow() error {
	b.mu.Lock()

	switch b.state {
	case StateClosed:
		b.mu.Unlock()
		return nil

	case StateOpen:
		if b.now().Before(b.nextAttemptTime) {
			err := &OpenError{Provider: b.provider, RetryAt: b.nextAttemptTime}
			b.mu.Unlock()
			return err
		}
		// Cooldown elapsed: this request becomes the half-open trial.
		b.transitionLocked(StateHalfOpen)
		b.trialInFlight = true
		b.mu.Unlock()
		return nil

	default: // StateHalfOpen
		if b.trialInFlight {
			err := &OpenError{Provider: b.provider, RetryAt: b.nextAttemptTime}
			b.mu.Unlock()
			return err
		}
		b.trialInFlight = true
		b.mu.Unlock()
		return nil
	}
}

// RecordSuccess records a successful adapter invocation.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()

	switch b.state {
	case StateClosed:
		b.failureCount = 0

	case StateHalfOpen:
		b.trialInFlight = false
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= b.settings.SuccessThreshold {
			b.failureCount = 0
			b.transitionLocked(StateClosed)
		}
	}

	b.mu.Unlock()
}

// RecordFailure records a provider-attributable failure. In closed state it
// counts toward the failure threshold; in half-open state it immediately
// re-opens the breaker and restarts the cooldown.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()

	switch b.state {
	case StateClosed:
		b.failureCount++
		if b.failureCount >= b.settings.FailureThreshold {
			b.openLocked()
		}

	case StateHalfOpen:
		b.trialInFlight = false
		b.openLocked()
	}

	b.mu.Unlock()
}

// ForceOpen opens the breaker regardless of counters. Exposed to the admin
// surface; safe to call concurrently with live traffic.
func (b *Breaker) ForceOpen() {
	b.mu.Lock()
	if b.state != StateOpen {
		b.openLocked()
	} else {
		b.openedAt = b.now()
		b.nextAttemptTime = b.openedAt.Add(b.settings.Cooldown)
	}
	b.mu.Unlock()
}

// Reset forces the breaker closed and clears all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	b.failureCount = 0
	b.halfOpenSuccesses = 0
	b.trialInFlight = false
	if b.state != StateClosed {
		b.transitionLocked(StateClosed)
	}
	b.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the breaker state.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Snapshot{
		Provider:          b.provider,
		State:             b.state,
		FailureCount:      b.failureCount,
		FailureThreshold:  b.settings.FailureThreshold,
		SuccessThreshold:  b.settings.SuccessThreshold,
		OpenedAt:          b.openedAt,
		NextAttemptTime:   b.nextAttemptTime,
		HalfOpenSuccesses: b.halfOpenSuccesses,
	}
}

// IsOpen reports whether the breaker currently rejects requests without a
// trial slot. An open breaker whose cooldown has elapsed is not considered
// open, since the next request will be admitted as a trial.
func (b *Breaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		return b.now().Before(b.nextAttemptTime)
	}
	return false
}

// openLocked transitions to open and arms the cooldown timer.
// Caller must hold b.mu.
func (b *Breaker) openLocked() {
	b.openedAt = b.now()
	b.nextAttemptTime = b.openedAt.Add(b.settings.Cooldown)
	b.halfOpenSuccesses = 0
	b.transitionLocked(StateOpen)
}

// transitionLocked changes state and fires the change callback after the
// lock is released. Caller must hold b.mu.
func (b *Breaker) transitionLocked(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to

	if b.onStateChange != nil {
		// Fire outside the lock so the callback can query Snapshot.
		go b.onStateChange(b.provider, from, to)
	}
}
