// Package resilience provides circuit breaking, retry with backoff,
// operation locking, and graceful degradation for calls against an
// unreliable upstream service.
//
// This package implements the following patterns:
//
// # Circuit Breaker Pattern
//
// The circuit breaker stops attempting an operation after repeated
// failures, cools down, and then allows a single trial call before
// reopening or closing the circuit.
//
//	cb := resilience.NewCircuitBreaker(resilience.BreakerConfig{
//		Name:             "authenticate",
//		FailureThreshold: 5,
//		Cooldown:         30 * time.Second,
//	})
//
//	if cb.BeforeCall() {
//		_, err := upstream.Call(ctx, data)
//		if err != nil {
//			cb.OnFailure()
//		} else {
//			cb.OnSuccess()
//		}
//	}
//
// # Retry with Exponential Backoff
//
// The retrier automatically retries failed operations under a configurable
// backoff strategy, classifying errors as retryable or not and recording
// an attempt history per operation.
//
//	retrier := resilience.NewRetrier(resilience.DefaultRetryPolicy())
//	result := retrier.Execute(ctx, "authenticate-1", cb, func(ctx context.Context) (interface{}, error) {
//		return upstream.Authenticate(ctx, creds)
//	})
//
// # Operation Locking
//
// The lock manager grants exclusive access per operation class, resolves
// conflicts by policy, and forcibly reclaims stuck holders in favor of
// waiters.
//
//	lm, _ := resilience.NewLockManager(resilience.LockManagerConfig{
//		Timeout:         30 * time.Second,
//		DeadlockTimeout: 2 * time.Minute,
//	})
//	res := lm.Acquire(ctx, resilience.AcquireRequest{
//		OperationType: resilience.OpAuthenticate,
//		Holder:        "session-worker",
//	})
//	if res.Granted {
//		defer lm.Release(res.LockID)
//	}
//
// # Graceful Degradation
//
// The degradation manager tracks per-operation health, steps the system
// through numbered service levels, and routes disabled or failing
// operations to prioritized fallback strategies.
//
//	dm, _ := resilience.NewDegradationManager(cfg, nil, strategies, nil)
//	value, fallback, err := dm.ExecuteWithFallback(ctx, resilience.OpValidate, op)
//
// # Combined Usage
//
// The orchestrator composes all layers in a fixed order: the lock
// outermost, then retry with the circuit breaker gating each attempt, with
// degradation routing wrapped directly around the raw operation so the
// health counters see every attempt.
//
//	orch := resilience.NewOrchestrator(cfg, lm, retrier, breakers, dm)
//	run := orch.Run(ctx, resilience.OpAuthenticate, op, resilience.Options{})
//
// All types are safe for concurrent use.
package resilience
