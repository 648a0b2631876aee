package resilience

import (
	"math"
	"math/rand"
	"time"
)

// BackoffStrategy selects how retry delays grow between attempts.
type BackoffStrategy string

const (
	// BackoffFixed returns the base delay for every attempt
	BackoffFixed BackoffStrategy = "fixed"
	// BackoffLinear grows the delay linearly with the attempt number
	BackoffLinear BackoffStrategy = "linear"
	// BackoffExponential doubles the delay for each attempt
	BackoffExponential BackoffStrategy = "exponential"
	// BackoffExponentialJitter adds random jitter on top of exponential growth
	BackoffExponentialJitter BackoffStrategy = "exponential_jitter"
)

// BackoffConfig holds the parameters for delay computation
type BackoffConfig struct {
	Strategy     BackoffStrategy `json:"strategy"`
	BaseDelay    time.Duration   `json:"base_delay"`
	MaxDelay     time.Duration   `json:"max_delay"`
	JitterFactor float64         `json:"jitter_factor"`
}

// DefaultBackoffConfig returns a default backoff configuration
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Strategy:     BackoffExponentialJitter,
		BaseDelay:    100 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		JitterFactor: 0.1,
	}
}

// Delay computes the backoff delay for the given attempt number (1-based).
// Inputs are assumed validated by the caller; non-positive attempts are
// treated as attempt 1.
func Delay(attempt int, config BackoffConfig) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	var delay time.Duration
	switch config.Strategy {
	case BackoffFixed:
		delay = config.BaseDelay
	case BackoffLinear:
		delay = config.BaseDelay * time.Duration(attempt)
	case BackoffExponential:
		delay = exponentialDelay(attempt, config.BaseDelay)
	case BackoffExponentialJitter:
		delay = exponentialDelay(attempt, config.BaseDelay)
		if delay < config.MaxDelay {
			jitter := rand.Float64() * config.JitterFactor * float64(delay)
			delay += time.Duration(jitter)
		}
	default:
		delay = config.BaseDelay
	}

	if config.MaxDelay > 0 && delay > config.MaxDelay {
		delay = config.MaxDelay
	}
	return delay
}

func exponentialDelay(attempt int, base time.Duration) time.Duration {
	// Guard the shift against overflow on absurd attempt counts.
	if attempt > 62 {
		return time.Duration(math.MaxInt64)
	}
	return base * time.Duration(int64(1)<<uint(attempt-1))
}
