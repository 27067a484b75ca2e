// Package circuitbreaker stops hammering an archive host that keeps failing.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// State represents the circuit breaker state
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String returns the string representation of the state
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

// ErrOpenState is returned without calling fn while the breaker is open.
var ErrOpenState = errors.New("circuit breaker is open")

// Config holds circuit breaker configuration
type Config struct {
	// MaxFailures is the number of consecutive failures that opens the breaker.
	MaxFailures int

	// Cooldown is how long the breaker stays open before letting one probe through.
	Cooldown time.Duration

	// IsFailure classifies fn's error. Nil means every non-nil error counts.
	// A missing archive file (404) is not a host failure.
	IsFailure func(error) bool

	// OnStateChange is called whenever a host's state changes
	OnStateChange func(host string, from, to State)
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		MaxFailures: 5,
		Cooldown:    30 * time.Second,
	}
}

type breaker struct {
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// HostBreaker tracks one breaker per host.
type HostBreaker struct {
	mu       sync.Mutex
	breakers map[string]*breaker
	config   Config
	now      func() time.Time
}

// NewHostBreaker creates a new per-host circuit breaker
func NewHostBreaker(config *Config) *HostBreaker {
	if config == nil {
		config = DefaultConfig()
	}
	c := *config
	if c.MaxFailures <= 0 {
		c.MaxFailures = 5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
	return &HostBreaker{
		breakers: make(map[string]*breaker),
		config:   c,
		now:      time.Now,
	}
}

// Execute runs fn unless host's breaker is open, then records the outcome.
func (hb *HostBreaker) Execute(host string, fn func() error) error {
	if err := hb.before(host); err != nil {
		return err
	}
	err := fn()
	hb.after(host, err)
	return err
}

func (hb *HostBreaker) before(host string) error {
	hb.mu.Lock()
	defer hb.mu.Unlock()

	b := hb.get(host)
	switch b.state {
	case StateOpen:
		if hb.now().Sub(b.openedAt) < hb.config.Cooldown {
			return ErrOpenState
		}
		hb.transition(host, b, StateHalfOpen)
		b.probing = true
	case StateHalfOpen:
		// one probe at a time
		if b.probing {
			return ErrOpenState
		}
		b.probing = true
	}
	return nil
}

func (hb *HostBreaker) after(host string, err error) {
	hb.mu.Lock()
	defer hb.mu.Unlock()

	b := hb.get(host)
	b.probing = false
	if !hb.isFailure(err) {
		b.failures = 0
		if b.state != StateClosed {
			hb.transition(host, b, StateClosed)
		}
		return
	}

	b.failures++
	if b.state == StateHalfOpen || b.failures >= hb.config.MaxFailures {
		b.openedAt = hb.now()
		if b.state != StateOpen {
			hb.transition(host, b, StateOpen)
		}
	}
}

func (hb *HostBreaker) isFailure(err error) bool {
	if err == nil {
		return false
	}
	if hb.config.IsFailure == nil {
		return true
	}
	return hb.config.IsFailure(err)
}

func (hb *HostBreaker) transition(host string, b *breaker, to State) {
	from := b.state
	b.state = to
	if hb.config.OnStateChange != nil {
		hb.config.OnStateChange(host, from, to)
	}
}

// get must be called with mu held.
func (hb *HostBreaker) get(host string) *breaker {
	b, ok := hb.breakers[host]
	if !ok {
		b = &breaker{}
		hb.breakers[host] = b
	}
	return b
}

// State returns the state for a specific host
func (hb *HostBreaker) State(host string) State {
	hb.mu.Lock()
	defer hb.mu.Unlock()
	if b, ok := hb.breakers[host]; ok {
		return b.state
	}
	return StateClosed
}

// Stats returns the state name of every host seen so far.
func (hb *HostBreaker) Stats() map[string]string {
	hb.mu.Lock()
	defer hb.mu.Unlock()
	out := make(map[string]string, len(hb.breakers))
	for host, b := range hb.breakers {
		out[host] = b.state.String()
	}
	return out
}

// Reset resets the circuit breaker for a specific host
func (hb *HostBreaker) Reset(host string) {
	hb.mu.Lock()
	defer hb.mu.Unlock()
	delete(hb.breakers, host)
}
