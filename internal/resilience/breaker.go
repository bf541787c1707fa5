package resilience

import (
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// ErrCircuitOpen is returned by Breaker.Allow while the upstream is inside
// its cool-off window.
var ErrCircuitOpen = eris.New("resilience: circuit open")

// BreakerState is the breaker's position in the closed/open/half-open cycle.
type BreakerState int

const (
	// BreakerClosed lets calls through; the upstream is considered healthy.
	BreakerClosed BreakerState = iota
	// BreakerOpen refuses calls until the cooldown passes.
	BreakerOpen
	// BreakerHalfOpen lets a probe through to test recovery.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig controls when the breaker opens and how long it stays open.
type BreakerConfig struct {
	// Threshold is the number of consecutive trip-worthy failures that opens
	// the breaker. Default: 5.
	Threshold int

	// Cooldown is how long the breaker refuses calls before letting a probe
	// through. Default: 30s.
	Cooldown time.Duration

	// ShouldTrip decides which errors count toward Threshold. Nil means
	// IsTransient, so terminal API answers never open the breaker.
	ShouldTrip func(err error) bool

	// OnStateChange is called on each transition with the breaker lock held;
	// keep it cheap (logging).
	OnStateChange func(from, to BreakerState)
}

// Breaker refuses calls outright after Threshold consecutive failures, so a
// struggling upstream gets its Cooldown without traffic. Retry handles the
// single flaky call; the breaker handles the server that stopped answering.
// After the cooldown one probe decides between closing and another cooldown.
type Breaker struct {
	cfg BreakerConfig

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time

	now func() time.Time // injected in tests
}

// NewBreaker creates a closed breaker, filling unset config with defaults.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.ShouldTrip == nil {
		cfg.ShouldTrip = IsTransient
	}
	return &Breaker{cfg: cfg, now: time.Now}
}

// Allow reports whether a call may proceed, returning ErrCircuitOpen while
// the cooldown is running. The first Allow after the cooldown moves the
// breaker to half-open and lets the probe through.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerOpen {
		if b.now().Sub(b.openedAt) < b.cfg.Cooldown {
			return ErrCircuitOpen
		}
		b.transition(BreakerHalfOpen)
	}
	return nil
}

// Record feeds a call outcome back. Successes and non-trip errors close the
// breaker and clear the failure count; trip-worthy failures count toward
// Threshold, and any such failure during half-open reopens immediately.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil || !b.cfg.ShouldTrip(err) {
		b.failures = 0
		if b.state != BreakerClosed {
			b.transition(BreakerClosed)
		}
		return
	}

	b.failures++
	b.openedAt = b.now()
	switch b.state {
	case BreakerHalfOpen:
		b.transition(BreakerOpen)
	case BreakerClosed:
		if b.failures >= b.cfg.Threshold {
			b.transition(BreakerOpen)
		}
	}
}

// State reports the current state; an expired cooldown reads as half-open
// even before the next Allow performs the transition.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerOpen && b.now().Sub(b.openedAt) >= b.cfg.Cooldown {
		return BreakerHalfOpen
	}
	return b.state
}

// Reset forces the breaker closed and clears the failure count.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	if b.state != BreakerClosed {
		b.transition(BreakerClosed)
	}
}

func (b *Breaker) transition(to BreakerState) {
	from := b.state
	b.state = to
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(from, to)
	}
}
