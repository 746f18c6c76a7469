// Package resilience guards calls to external model APIs. A Breaker fails
// fast once the upstream keeps erroring instead of letting every run stall
// on a flapping dependency.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is the breaker's admission mode.
type State int32

const (
	// StateClosed admits every call and counts outcomes.
	StateClosed State = iota
	// StateOpen rejects every call immediately.
	StateOpen
	// StateHalfOpen admits a limited number of probe calls.
	StateHalfOpen
)

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

var (
	// ErrCircuitOpen is returned while the breaker rejects calls.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrTooManyRequests is returned when the half-open probe budget is
	// already in flight.
	ErrTooManyRequests = errors.New("too many probe requests in half-open state")
)

// Config tunes a Breaker.
type Config struct {
	// Name identifies the breaker in state change notifications.
	Name string

	// MaxRequests is the probe budget while half-open.
	MaxRequests uint32

	// Interval is the closed-state window after which counts reset.
	// Zero keeps counts for the life of the closed state.
	Interval time.Duration

	// Timeout is the open-state cooldown before probing resumes.
	Timeout time.Duration

	// ReadyToTrip is consulted after every failure in the closed state.
	ReadyToTrip func(counts Counts) bool

	// OnStateChange is invoked on every transition.
	OnStateChange func(name string, from, to State)

	// IsSuccessful classifies the call outcome. Nil means err == nil.
	IsSuccessful func(err error) bool
}

// DefaultConfig suits a rate-limited model API: trip once the failure ratio
// reaches 60% over at least five calls, cool down for 30 seconds.
func DefaultConfig(name string) Config {
	return Config{
		Name:        name,
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts Counts) bool {
			if counts.Requests < 5 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
	}
}

// Counts accumulates call outcomes within one breaker generation.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

func (c *Counts) success() {
	c.TotalSuccesses++
	c.ConsecutiveSuccesses++
	c.ConsecutiveFailures = 0
}

func (c *Counts) failure() {
	c.TotalFailures++
	c.ConsecutiveFailures++
	c.ConsecutiveSuccesses = 0
}

// Breaker is a three-state circuit breaker.
//
// Closed admits everything. Once ReadyToTrip fires, the breaker opens and
// rejects calls with ErrCircuitOpen until Timeout passes, then admits up to
// MaxRequests probes. Enough consecutive probe successes close it again;
// any probe failure reopens it.
type Breaker struct {
	name          string
	maxRequests   uint32
	interval      time.Duration
	timeout       time.Duration
	readyToTrip   func(counts Counts) bool
	onStateChange func(name string, from, to State)
	isSuccessful  func(err error) bool

	mu         sync.Mutex
	state      State
	generation uint64
	counts     Counts
	expiry     time.Time
	probes     uint32
}

// NewBreaker builds a breaker from cfg, filling unset fields with defaults.
func NewBreaker(cfg Config) *Breaker {
	b := &Breaker{
		name:          cfg.Name,
		maxRequests:   cfg.MaxRequests,
		interval:      cfg.Interval,
		timeout:       cfg.Timeout,
		readyToTrip:   cfg.ReadyToTrip,
		onStateChange: cfg.OnStateChange,
		isSuccessful:  cfg.IsSuccessful,
	}

	if b.maxRequests == 0 {
		b.maxRequests = 1
	}
	if b.timeout == 0 {
		b.timeout = 30 * time.Second
	}
	if b.readyToTrip == nil {
		b.readyToTrip = func(counts Counts) bool {
			return counts.ConsecutiveFailures > 5
		}
	}
	if b.isSuccessful == nil {
		b.isSuccessful = func(err error) bool { return err == nil }
	}

	b.reset(time.Now())
	return b
}

// State reports the current admission mode, applying any pending
// open-to-half-open transition first.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, _ := b.currentState(time.Now())
	return state
}

// Counts returns a snapshot of the current generation's outcome counters.
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}

// Do runs fn if the breaker admits the call. The outcome feeds the state
// machine unless the generation rolled over mid-flight.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) (any, error)) (any, error) {
	generation, err := b.admit()
	if err != nil {
		return nil, err
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	result, err := fn(ctx)
	b.settle(generation, b.isSuccessful(err))
	return result, err
}

func (b *Breaker) admit() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	state, generation := b.currentState(now)

	switch state {
	case StateOpen:
		return generation, ErrCircuitOpen
	case StateHalfOpen:
		if b.probes >= b.maxRequests {
			return generation, ErrTooManyRequests
		}
		b.probes++
	}

	b.counts.Requests++
	return generation, nil
}

func (b *Breaker) settle(before uint64, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	state, generation := b.currentState(now)

	// A generation rollover cleared the counts this call belonged to.
	if generation != before {
		return
	}

	if success {
		b.onSuccess(state, now)
	} else {
		b.onFailure(state, now)
	}
}

func (b *Breaker) onSuccess(state State, now time.Time) {
	switch state {
	case StateClosed:
		b.counts.success()
	case StateHalfOpen:
		b.counts.success()
		if b.counts.ConsecutiveSuccesses >= b.maxRequests {
			b.transition(StateClosed, now)
		}
	}
}

func (b *Breaker) onFailure(state State, now time.Time) {
	switch state {
	case StateClosed:
		b.counts.failure()
		if b.readyToTrip(b.counts) {
			b.transition(StateOpen, now)
		}
	case StateHalfOpen:
		b.transition(StateOpen, now)
	}
}

func (b *Breaker) currentState(now time.Time) (State, uint64) {
	switch b.state {
	case StateClosed:
		if !b.expiry.IsZero() && b.expiry.Before(now) {
			b.reset(now)
		}
	case StateOpen:
		if b.expiry.Before(now) {
			b.transition(StateHalfOpen, now)
		}
	}
	return b.state, b.generation
}

func (b *Breaker) transition(state State, now time.Time) {
	if b.state == state {
		return
	}

	prev := b.state
	b.state = state
	b.reset(now)

	if b.onStateChange != nil {
		b.onStateChange(b.name, prev, state)
	}
}

// reset rolls the breaker into a fresh generation: counts and probe budget
// clear, and the expiry is rearmed for the current state.
func (b *Breaker) reset(now time.Time) {
	b.generation++
	b.counts = Counts{}
	b.probes = 0

	switch b.state {
	case StateClosed:
		if b.interval > 0 {
			b.expiry = now.Add(b.interval)
		} else {
			b.expiry = time.Time{}
		}
	case StateOpen:
		b.expiry = now.Add(b.timeout)
	case StateHalfOpen:
		b.expiry = time.Time{}
	}
}
