package resilience

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/NikhilSetiya/statsbridge/pkg/logging"
)

// CircuitState represents the state of the circuit breaker
type CircuitState int

const (
	// StateClosed - circuit is closed, requests are allowed
	StateClosed CircuitState = iota
	// StateOpen - circuit is open, requests are rejected
	StateOpen
	// StateHalfOpen - circuit is half-open, a single trial request is allowed
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// BreakerConfig holds configuration for the circuit breaker
type BreakerConfig struct {
	// Name of the circuit breaker for logging/metrics
	Name string
	// FailureThreshold is the number of consecutive failures that trips
	// the breaker from CLOSED to OPEN
	FailureThreshold int
	// Cooldown is the period of the open state, after which a single
	// trial call is allowed
	Cooldown time.Duration
	// OnStateChange is called whenever the state of the circuit breaker changes
	OnStateChange func(name string, from CircuitState, to CircuitState)
}

// BreakerStatus is a point-in-time snapshot of a circuit breaker
type BreakerStatus struct {
	Name                string        `json:"name"`
	State               CircuitState  `json:"-"`
	StateName           string        `json:"state"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	TotalFailures       uint64        `json:"total_failures"`
	TotalSuccesses      uint64        `json:"total_successes"`
	TotalRequests       uint64        `json:"total_requests"`
	ErrorRate           float64       `json:"error_rate"`
	LastFailure         time.Time     `json:"last_failure,omitempty"`
	LastStateChange     time.Time     `json:"last_state_change"`
	NextRetry           time.Time     `json:"next_retry,omitempty"`
	Cooldown            time.Duration `json:"cooldown"`
}

// CircuitBreaker is a state machine that stops attempting an operation
// after repeated failures. The OPEN to HALF_OPEN transition consumes a
// single-use permit under the breaker mutex, so exactly one concurrent
// caller performs the trial while others still observe OPEN.
type CircuitBreaker struct {
	name             string
	failureThreshold int
	cooldown         time.Duration
	onStateChange    func(name string, from CircuitState, to CircuitState)

	mutex               sync.Mutex
	state               CircuitState
	consecutiveFailures int
	totalFailures       uint64
	totalSuccesses      uint64
	totalRequests       uint64
	lastFailure         time.Time
	lastStateChange     time.Time
	nextRetry           time.Time
	trialInFlight       bool

	logger *logging.Logger
}

// NewCircuitBreaker creates a new circuit breaker with the given configuration
func NewCircuitBreaker(config BreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.Cooldown <= 0 {
		config.Cooldown = 30 * time.Second
	}

	return &CircuitBreaker{
		name:             config.Name,
		failureThreshold: config.FailureThreshold,
		cooldown:         config.Cooldown,
		onStateChange:    config.OnStateChange,
		state:            StateClosed,
		lastStateChange:  time.Now(),
		logger:           logging.GetLogger(),
	}
}

// BeforeCall reports whether an attempt is allowed right now. When the
// cooldown of an open breaker has elapsed, the first caller through here
// receives the single HALF_OPEN trial permit; everyone else is rejected
// until the trial resolves. BeforeCall never fails, it only reports.
func (cb *CircuitBreaker) BeforeCall() bool {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	now := time.Now()
	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if now.Before(cb.nextRetry) {
			return false
		}
		cb.setState(StateHalfOpen, now)
		cb.trialInFlight = true
		return true
	case StateHalfOpen:
		if cb.trialInFlight {
			return false
		}
		cb.trialInFlight = true
		return true
	default:
		return false
	}
}

// OnSuccess records a successful attempt outcome
func (cb *CircuitBreaker) OnSuccess() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	now := time.Now()
	cb.totalRequests++
	cb.totalSuccesses++
	cb.consecutiveFailures = 0

	if cb.state == StateHalfOpen {
		cb.trialInFlight = false
		cb.setState(StateClosed, now)
	}
}

// OnFailure records a failed attempt outcome
func (cb *CircuitBreaker) OnFailure() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	now := time.Now()
	cb.totalRequests++
	cb.totalFailures++
	cb.consecutiveFailures++
	cb.lastFailure = now

	switch cb.state {
	case StateClosed:
		if cb.consecutiveFailures >= cb.failureThreshold {
			cb.setState(StateOpen, now)
		}
	case StateHalfOpen:
		cb.trialInFlight = false
		cb.setState(StateOpen, now)
	}
}

// Status returns a point-in-time snapshot of the breaker
func (cb *CircuitBreaker) Status() BreakerStatus {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	var errorRate float64
	if cb.totalRequests > 0 {
		errorRate = float64(cb.totalFailures) / float64(cb.totalRequests)
	}

	return BreakerStatus{
		Name:                cb.name,
		State:               cb.state,
		StateName:           cb.state.String(),
		ConsecutiveFailures: cb.consecutiveFailures,
		TotalFailures:       cb.totalFailures,
		TotalSuccesses:      cb.totalSuccesses,
		TotalRequests:       cb.totalRequests,
		ErrorRate:           errorRate,
		LastFailure:         cb.lastFailure,
		LastStateChange:     cb.lastStateChange,
		NextRetry:           cb.nextRetry,
		Cooldown:            cb.cooldown,
	}
}

// State returns the current state of the circuit breaker
func (cb *CircuitBreaker) State() CircuitState {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.state
}

// Name returns the name of the circuit breaker
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Reset administratively returns the breaker to CLOSED with cleared counters
func (cb *CircuitBreaker) Reset() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	now := time.Now()
	cb.totalFailures = 0
	cb.totalSuccesses = 0
	cb.totalRequests = 0
	cb.trialInFlight = false
	cb.setState(StateClosed, now)
	cb.consecutiveFailures = 0

	cb.logger.Info("Circuit breaker reset", "name", cb.name)
}

// setState transitions the breaker; callers must hold the mutex.
// nextRetry is set only on the transition into OPEN and cleared on the
// way out; the consecutive-failure counter resets on entering CLOSED.
func (cb *CircuitBreaker) setState(state CircuitState, now time.Time) {
	if cb.state == state {
		return
	}

	prev := cb.state
	cb.state = state
	cb.lastStateChange = now

	switch state {
	case StateClosed:
		cb.consecutiveFailures = 0
		cb.nextRetry = time.Time{}
	case StateOpen:
		cb.nextRetry = now.Add(cb.cooldown)
	case StateHalfOpen:
		cb.nextRetry = time.Time{}
	}

	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, prev, state)
	}

	cb.logger.Info("Circuit breaker state changed",
		"name", cb.name,
		"from", prev.String(),
		"to", state.String(),
	)
}

// CircuitBreakerError represents an error when the circuit breaker is open
type CircuitBreakerError struct {
	Name  string
	State CircuitState
}

func (e *CircuitBreakerError) Error() string {
	return fmt.Sprintf("circuit breaker '%s' is %s", e.Name, e.State.String())
}

// IsCircuitBreakerError checks if an error is a circuit breaker error
func IsCircuitBreakerError(err error) bool {
	var cbErr *CircuitBreakerError
	return errors.As(err, &cbErr)
}

// BreakerRegistry holds one circuit breaker per logical operation channel
type BreakerRegistry struct {
	mutex    sync.RWMutex
	config   BreakerConfig
	breakers map[string]*CircuitBreaker
}

// NewBreakerRegistry creates a registry whose breakers share the given
// configuration template (the Name is set per breaker)
func NewBreakerRegistry(config BreakerConfig) *BreakerRegistry {
	return &BreakerRegistry{
		config:   config,
		breakers: make(map[string]*CircuitBreaker),
	}
}

// Get returns the breaker for the named channel, creating it on first use
func (r *BreakerRegistry) Get(name string) *CircuitBreaker {
	r.mutex.RLock()
	cb, ok := r.breakers[name]
	r.mutex.RUnlock()
	if ok {
		return cb
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()
	if cb, ok := r.breakers[name]; ok {
		return cb
	}

	config := r.config
	config.Name = name
	cb = NewCircuitBreaker(config)
	r.breakers[name] = cb
	return cb
}

// Statuses returns snapshots of all registered breakers
func (r *BreakerRegistry) Statuses() map[string]BreakerStatus {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	statuses := make(map[string]BreakerStatus, len(r.breakers))
	for name, cb := range r.breakers {
		statuses[name] = cb.Status()
	}
	return statuses
}
