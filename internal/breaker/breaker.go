// Package breaker implements the circuit breaker guarding upstream fetches.
//
// Closed lets calls through and counts consecutive failures. Once the count
// reaches the threshold the breaker opens and rejects calls for the cool-down.
// After the cool-down a single probe is admitted (half-open): success closes
// the breaker and resets the cool-down, failure reopens it with the
// cool-down doubled up to MaxCooldown.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned when a call is rejected without running.
var ErrOpen = errors.New("breaker: circuit open")

// State represents the circuit breaker state.
type State int

const (
	// StateClosed means the circuit is operating normally.
	StateClosed State = iota
	// StateOpen means the circuit is blocking all requests.
	StateOpen
	// StateHalfOpen means a single probe is allowed through.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config configures the breaker.
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens the
	// circuit. Default: 5
	FailureThreshold int

	// Cooldown is the base open duration. Default: 30 seconds
	Cooldown time.Duration

	// MaxCooldown caps the extended cool-down after failed probes.
	// Default: 5 minutes
	MaxCooldown time.Duration

	// OnStateChange is called with the lock released.
	OnStateChange func(from, to State)

	// IsFailure decides whether an error counts against the upstream.
	// Default: every non-nil error.
	IsFailure func(err error) bool

	// Now overrides the time source (tests).
	Now func() time.Time
}

// Breaker is safe for concurrent use.
type Breaker struct {
	cfg Config

	mu       sync.Mutex
	state    State
	failures int
	cooldown time.Duration
	openedAt time.Time
	probing  bool
}

// New creates a closed breaker.
func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.MaxCooldown < cfg.Cooldown {
		cfg.MaxCooldown = max(5*time.Minute, cfg.Cooldown)
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = func(err error) bool { return err != nil }
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Breaker{cfg: cfg, state: StateClosed, cooldown: cfg.Cooldown}
}

// Execute runs op through the breaker.
func (b *Breaker) Execute(ctx context.Context, op func(context.Context) error) error {
	if err := b.Allow(); err != nil {
		return err
	}
	err := op(ctx)
	b.Record(err)
	return err
}

// Allow reports whether a call may proceed. A nil return obliges the caller
// to report the outcome with Record.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	from := b.state
	b.advanceLocked()
	var err error
	switch b.state {
	case StateOpen:
		err = ErrOpen
	case StateHalfOpen:
		if b.probing {
			err = ErrOpen
		} else {
			b.probing = true
		}
	}
	to := b.state
	b.mu.Unlock()

	b.notify(from, to)
	return err
}

// Record reports the outcome of an admitted call.
func (b *Breaker) Record(err error) {
	failed := b.cfg.IsFailure(err)

	b.mu.Lock()
	from := b.state
	switch b.state {
	case StateClosed:
		if !failed {
			b.failures = 0
			break
		}
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.openLocked()
		}
	case StateHalfOpen:
		b.probing = false
		if failed {
			b.cooldown = min(b.cooldown*2, b.cfg.MaxCooldown)
			b.openLocked()
		} else {
			b.state = StateClosed
			b.failures = 0
			b.cooldown = b.cfg.Cooldown
		}
	case StateOpen:
		// A call admitted before the circuit opened finished late.
		if failed {
			b.failures++
		}
	}
	to := b.state
	b.mu.Unlock()

	b.notify(from, to)
}

// State returns the current circuit state.
func (b *Breaker) State() State {
	b.mu.Lock()
	from := b.state
	b.advanceLocked()
	to := b.state
	b.mu.Unlock()

	b.notify(from, to)
	return to
}

// Cooldown returns the cool-down that applies to the current or next open
// period.
func (b *Breaker) Cooldown() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cooldown
}

// Reset closes the breaker and clears its history.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.state = StateClosed
	b.failures = 0
	b.probing = false
	b.cooldown = b.cfg.Cooldown
	b.mu.Unlock()

	b.notify(from, StateClosed)
}

func (b *Breaker) openLocked() {
	b.state = StateOpen
	b.openedAt = b.cfg.Now()
	b.probing = false
}

func (b *Breaker) advanceLocked() {
	if b.state == StateOpen && b.cfg.Now().Sub(b.openedAt) >= b.cooldown {
		b.state = StateHalfOpen
		b.probing = false
	}
}

func (b *Breaker) notify(from, to State) {
	if from != to && b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(from, to)
	}
}
