package resilience

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/NikhilSetiya/statsbridge/pkg/errors"
	"github.com/NikhilSetiya/statsbridge/pkg/logging"
)

// RetryPolicy holds configuration for the retry executor
type RetryPolicy struct {
	// Enabled disables all retry orchestration when false; the operation
	// runs exactly once and the breaker is not consulted
	Enabled bool
	// MaxAttempts is the total number of tries, including the first one
	MaxAttempts int
	// Backoff configures the delay between attempts
	Backoff BackoffConfig
	// NonRetryable lists error types that must never be retried. It takes
	// precedence over Retryable.
	NonRetryable []apperrors.ErrorType
	// Retryable lists error types that must be retried even when the
	// default classification would not
	Retryable []apperrors.ErrorType
	// HistorySize bounds how many operations keep attempt history
	HistorySize int
	// OnRetry is called before each retry attempt
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultRetryPolicy returns a default retry policy
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Enabled:     true,
		MaxAttempts: 3,
		Backoff:     DefaultBackoffConfig(),
		HistorySize: 100,
	}
}

// Attempt is one record per try within one logical call. It is immutable
// once the attempt finishes.
type Attempt struct {
	Number     int             `json:"number"`
	Delay      time.Duration   `json:"delay"`
	Strategy   BackoffStrategy `json:"strategy"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Success    bool            `json:"success"`
	Err        error           `json:"-"`
	ErrMessage string          `json:"error,omitempty"`
}

// RetryResult is the structured outcome of one executor call
type RetryResult struct {
	Success  bool
	Result   interface{}
	Err      error
	Attempts []Attempt
}

// Retrier orchestrates repeated attempts of a caller-supplied operation,
// consulting the backoff calculator and a circuit breaker and classifying
// errors as retryable or not
type Retrier struct {
	policy RetryPolicy
	logger *logging.Logger

	mutex        sync.Mutex
	history      map[string][]Attempt
	historyOrder []string
}

// NewRetrier creates a new retrier with the given policy
func NewRetrier(policy RetryPolicy) *Retrier {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	if policy.Backoff.BaseDelay <= 0 {
		policy.Backoff.BaseDelay = 100 * time.Millisecond
	}
	if policy.Backoff.MaxDelay <= 0 {
		policy.Backoff.MaxDelay = 30 * time.Second
	}
	if policy.Backoff.Strategy == "" {
		policy.Backoff.Strategy = BackoffExponentialJitter
	}
	if policy.HistorySize <= 0 {
		policy.HistorySize = 100
	}

	return &Retrier{
		policy:  policy,
		logger:  logging.GetLogger(),
		history: make(map[string][]Attempt),
	}
}

// Execute runs the operation under the retry policy, gated by the given
// circuit breaker. The breaker may be nil, in which case only retry and
// backoff apply.
func (r *Retrier) Execute(ctx context.Context, operationID string, breaker *CircuitBreaker, operation Operation) RetryResult {
	// Retry disabled: a single straight invocation with no attempt records.
	if !r.policy.Enabled {
		result, err := operation(ctx)
		return RetryResult{Success: err == nil, Result: result, Err: err}
	}

	if breaker != nil && !breaker.BeforeCall() {
		return RetryResult{
			Success: false,
			Err:     apperrors.NewBreakerOpenError(breaker.Name()),
		}
	}

	var attempts []Attempt
	var lastErr error

	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		var delay time.Duration
		if attempt > 1 {
			delay = Delay(attempt-1, r.policy.Backoff)

			if r.policy.OnRetry != nil {
				r.policy.OnRetry(attempt-1, lastErr, delay)
			}

			select {
			case <-ctx.Done():
				r.recordHistory(operationID, attempts)
				return RetryResult{Success: false, Err: ctx.Err(), Attempts: attempts}
			case <-time.After(delay):
			}
		}

		record := Attempt{
			Number:    attempt,
			Delay:     delay,
			Strategy:  r.policy.Backoff.Strategy,
			StartedAt: time.Now(),
		}

		result, err := operation(ctx)
		record.FinishedAt = time.Now()

		if err == nil {
			record.Success = true
			attempts = append(attempts, record)
			if breaker != nil {
				breaker.OnSuccess()
			}
			if attempt > 1 {
				r.logger.Info("Operation succeeded after retry",
					"operation_id", operationID,
					"attempt", attempt,
				)
			}
			r.recordHistory(operationID, attempts)
			return RetryResult{Success: true, Result: result, Attempts: attempts}
		}

		record.Err = err
		record.ErrMessage = err.Error()
		attempts = append(attempts, record)
		lastErr = err
		if breaker != nil {
			breaker.OnFailure()
		}

		if !r.policy.IsRetryable(err) {
			r.logger.Debug("Error is not retryable, stopping",
				"operation_id", operationID,
				"error", err.Error(),
				"attempt", attempt,
			)
			r.recordHistory(operationID, attempts)
			return RetryResult{
				Success:  false,
				Err:      apperrors.NewNonRetryableError(err),
				Attempts: attempts,
			}
		}

		if attempt == r.policy.MaxAttempts {
			break
		}

		if breaker != nil && breaker.State() == StateOpen {
			r.logger.Warn("Circuit breaker opened during retries, stopping",
				"operation_id", operationID,
				"attempt", attempt,
			)
			r.recordHistory(operationID, attempts)
			return RetryResult{
				Success:  false,
				Err:      apperrors.NewBreakerOpenError(breaker.Name()).WithCause(lastErr),
				Attempts: attempts,
			}
		}
	}

	r.logger.Error("Operation failed after all retry attempts",
		"operation_id", operationID,
		"attempts", len(attempts),
		"error", lastErr.Error(),
	)

	r.recordHistory(operationID, attempts)
	return RetryResult{
		Success:  false,
		Err:      apperrors.NewRetryExhaustedError(operationID, len(attempts), lastErr),
		Attempts: attempts,
	}
}

// IsRetryable classifies an error. The explicit non-retryable set takes
// precedence over the explicit retryable set; when neither matches, a
// default set of transient error types applies. The order is deliberate:
// callers can force an error retryable or pin a default-retryable one out.
func (p RetryPolicy) IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if IsCircuitBreakerError(err) {
		return false
	}

	errType := apperrors.GetType(err)
	if errType == apperrors.ErrorTypeBreakerOpen {
		return false
	}
	for _, t := range p.NonRetryable {
		if errType == t {
			return false
		}
	}
	for _, t := range p.Retryable {
		if errType == t {
			return true
		}
	}

	switch errType {
	case apperrors.ErrorTypeTimeout, apperrors.ErrorTypeExternal, apperrors.ErrorTypeRateLimit:
		return true
	default:
		return false
	}
}

// History returns the recorded attempts for an operation ID
func (r *Retrier) History(operationID string) []Attempt {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	attempts := r.history[operationID]
	out := make([]Attempt, len(attempts))
	copy(out, attempts)
	return out
}

// HistorySnapshot returns a copy of the whole retry history map
func (r *Retrier) HistorySnapshot() map[string][]Attempt {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	out := make(map[string][]Attempt, len(r.history))
	for id, attempts := range r.history {
		cp := make([]Attempt, len(attempts))
		copy(cp, attempts)
		out[id] = cp
	}
	return out
}

// recordHistory appends a call's attempts, evicting the oldest operation
// entries once the size cap is exceeded
func (r *Retrier) recordHistory(operationID string, attempts []Attempt) {
	if len(attempts) == 0 {
		return
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.history[operationID]; !exists {
		r.historyOrder = append(r.historyOrder, operationID)
	}
	r.history[operationID] = append(r.history[operationID], attempts...)

	for len(r.historyOrder) > r.policy.HistorySize {
		oldest := r.historyOrder[0]
		r.historyOrder = r.historyOrder[1:]
		delete(r.history, oldest)
	}
}
