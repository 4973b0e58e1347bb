package circuitbreaker

import (
	"sort"
	"sync"
	"time"

	"github.com/dronetm/upload-dispatcher/pkg/logger"
)

// DefaultMaxHosts bounds the number of breakers a Registry tracks when
// Settings.MaxHosts is unset
const DefaultMaxHosts = 1024

// Settings configures every breaker created by a Registry
type Settings struct {
	Enabled      bool
	Threshold    int
	Window       time.Duration
	ResetTimeout time.Duration
	MaxHosts     int
}

// CircuitBreaker implements the circuit breaker pattern for one upload host
type CircuitBreaker struct {
	host          string
	enabled       bool
	failureCount  int
	failureWindow time.Duration
	failThreshold int
	resetTimeout  time.Duration
	lastFailure   time.Time
	tripped       bool
	tripTime      time.Time
	logger        logger.Logger
	mu            sync.Mutex
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(host string, s Settings, log logger.Logger) *CircuitBreaker {
	return &CircuitBreaker{
		host:          host,
		enabled:       s.Enabled,
		failThreshold: s.Threshold,
		failureWindow: s.Window,
		resetTimeout:  s.ResetTimeout,
		logger:        log,
	}
}

// RecordFailure records a failure and trips the circuit if threshold is exceeded
func (cb *CircuitBreaker) RecordFailure() bool {
	if !cb.enabled {
		return false
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()

	if cb.tripped {
		if time.Since(cb.tripTime) > cb.resetTimeout {
			cb.logger.Notice("Circuit breaker for %s: attempting to reset after timeout", cb.host)
			cb.tripped = false
			cb.failureCount = 0
		} else {
			return true
		}
	}

	// Reset failure count if outside window
	if time.Since(cb.lastFailure) > cb.failureWindow {
		cb.failureCount = 0
	}

	cb.failureCount++
	cb.lastFailure = now

	if cb.failureCount >= cb.failThreshold {
		cb.tripped = true
		cb.tripTime = now
		cb.logger.Error("Circuit breaker for %s tripped: %d failures in %v window", cb.host, cb.failureCount, cb.failureWindow)
		return true
	}

	return false
}

// RecordSuccess clears the failure count of a closed breaker
func (cb *CircuitBreaker) RecordSuccess() {
	if !cb.enabled {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if !cb.tripped {
		cb.failureCount = 0
	}
}

// IsOpen returns true if the circuit is open (tripped)
func (cb *CircuitBreaker) IsOpen() bool {
	if !cb.enabled {
		return false
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	// If tripped but reset timeout has passed, try again
	if cb.tripped && time.Since(cb.tripTime) > cb.resetTimeout {
		cb.tripped = false
		cb.failureCount = 0
		return false
	}

	return cb.tripped
}

// Reset manually resets the circuit breaker
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.tripped = false
	cb.failureCount = 0
}

// State is a point-in-time view of a breaker, used by the status endpoint
type State struct {
	Host         string    `json:"host"`
	Open         bool      `json:"open"`
	FailureCount int       `json:"failure_count"`
	Threshold    int       `json:"threshold"`
	LastFailure  time.Time `json:"last_failure,omitempty"`
	TripTime     time.Time `json:"trip_time,omitempty"`
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() State {
	open := cb.IsOpen()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	return State{
		Host:         cb.host,
		Open:         open,
		FailureCount: cb.failureCount,
		Threshold:    cb.failThreshold,
		LastFailure:  cb.lastFailure,
		TripTime:     cb.tripTime,
	}
}

func (cb *CircuitBreaker) idle() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.tripped {
		return false
	}
	return cb.failureCount == 0 || time.Since(cb.lastFailure) > cb.failureWindow
}

// IsEnabled returns true if the circuit breaker is enabled
func (cb *CircuitBreaker) IsEnabled() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.enabled
}

// Registry hands out one breaker per destination host. A disabled registry
// tracks nothing, and an enabled one tracks at most MaxHosts hosts.
type Registry struct {
	settings Settings
	logger   logger.Logger
	disabled *CircuitBreaker
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewRegistry creates an empty registry
func NewRegistry(s Settings, log logger.Logger) *Registry {
	if s.MaxHosts <= 0 {
		s.MaxHosts = DefaultMaxHosts
	}
	return &Registry{
		settings: s,
		logger:   log,
		disabled: NewCircuitBreaker("", Settings{}, log),
		breakers: make(map[string]*CircuitBreaker),
	}
}

// Enabled reports whether breakers from this registry ever open
func (r *Registry) Enabled() bool {
	return r.settings.Enabled
}

// For returns the breaker of host, creating it on first use.
// When the registry is full, closed breakers without recent failures are
// evicted; if none can be evicted the returned breaker is not tracked.
func (r *Registry) For(host string) *CircuitBreaker {
	if !r.settings.Enabled {
		return r.disabled
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[host]; ok {
		return cb
	}

	cb := NewCircuitBreaker(host, r.settings, r.logger)
	if len(r.breakers) >= r.settings.MaxHosts && !r.evictIdleLocked() {
		r.logger.Debug("Circuit breaker registry full (%d hosts), not tracking %s", r.settings.MaxHosts, host)
		return cb
	}
	r.breakers[host] = cb
	return cb
}

// evictIdleLocked drops every closed breaker with no failures in its window
func (r *Registry) evictIdleLocked() bool {
	evicted := false
	for host, cb := range r.breakers {
		if cb.idle() {
			delete(r.breakers, host)
			evicted = true
		}
	}
	return evicted
}

// Len returns the number of tracked hosts
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.breakers)
}

// Lookup returns the breaker of host if one exists
func (r *Registry) Lookup(host string) (*CircuitBreaker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.breakers[host]
	return cb, ok
}

// States returns the state of every known breaker, sorted by host
func (r *Registry) States() []State {
	r.mu.Lock()
	breakers := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, cb := range r.breakers {
		breakers = append(breakers, cb)
	}
	r.mu.Unlock()

	states := make([]State, 0, len(breakers))
	for _, cb := range breakers {
		states = append(states, cb.GetState())
	}
	sort.Slice(states, func(i, j int) bool { return states[i].Host < states[j].Host })
	return states
}
