package resilience

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/NikhilSetiya/statsbridge/pkg/errors"
)

func newTestOrchestrator(t *testing.T, strategies []FallbackStrategy) *Orchestrator {
	t.Helper()

	locks, err := NewLockManager(LockManagerConfig{
		Timeout:         100 * time.Millisecond,
		DeadlockTimeout: time.Second,
	})
	require.NoError(t, err)

	retrier := NewRetrier(fastRetryPolicy(3))
	breakers := NewBreakerRegistry(BreakerConfig{
		FailureThreshold: 5,
		Cooldown:         time.Minute,
	})

	dm, err := NewDegradationManager(DegradationManagerConfig{
		DegradationThreshold: 0.5,
		RecoveryThreshold:    0.9,
		MinSampleSize:        100,
		HealthCheckInterval:  time.Minute,
	}, nil, strategies, nil)
	require.NoError(t, err)

	return NewOrchestrator(OrchestratorConfig{
		LockEnabled:        true,
		RetryEnabled:       true,
		DegradationEnabled: true,
	}, locks, retrier, breakers, dm)
}

func TestOrchestratorHappyPath(t *testing.T) {
	orch := newTestOrchestrator(t, nil)

	result := orch.Run(context.Background(), OpAuthenticate,
		func(ctx context.Context) (interface{}, error) {
			return "session", nil
		}, Options{})

	require.True(t, result.Success)
	assert.Equal(t, "session", result.Result)
	assert.NoError(t, result.Err)
	assert.NotEmpty(t, result.OperationID)
	assert.Equal(t, OpAuthenticate, result.OperationType)

	assert.True(t, result.Protection.UsedLock)
	assert.True(t, result.Protection.UsedRetry)
	assert.True(t, result.Protection.UsedDegradation)
	assert.False(t, result.Protection.UsedFallback)
	assert.Equal(t, 1, result.Protection.Attempts)
	assert.Equal(t, 0, result.Protection.DegradationLevel)
}

func TestOrchestratorReleasesLock(t *testing.T) {
	orch := newTestOrchestrator(t, nil)

	for i := 0; i < 3; i++ {
		result := orch.Run(context.Background(), OpRefresh,
			func(ctx context.Context) (interface{}, error) {
				return "ok", nil
			}, Options{})
		require.True(t, result.Success, "run %d must not be blocked by a leaked lock", i)
	}

	assert.Empty(t, orch.locks.Snapshot().Active)
}

func TestOrchestratorRetriesTransientFailures(t *testing.T) {
	orch := newTestOrchestrator(t, nil)

	calls := 0
	result := orch.Run(context.Background(), OpAuthenticate,
		func(ctx context.Context) (interface{}, error) {
			calls++
			if calls < 3 {
				return nil, apperrors.NewTimeoutError("upstream")
			}
			return "session", nil
		}, Options{})

	require.True(t, result.Success)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 3, result.Protection.Attempts)
}

func TestOrchestratorFallbackEndsRetryLoop(t *testing.T) {
	strategies := []FallbackStrategy{
		{
			Name:     "anonymous-session",
			Triggers: []OperationType{OpAuthenticate},
			Actions:  []FallbackAction{{Type: ActionAnonymous}},
			Priority: 10,
		},
	}
	orch := newTestOrchestrator(t, strategies)

	calls := 0
	result := orch.Run(context.Background(), OpAuthenticate,
		func(ctx context.Context) (interface{}, error) {
			calls++
			return nil, apperrors.NewExternalError("analytics", "down")
		}, Options{})

	require.True(t, result.Success, "the fallback rescues the run")
	assert.Equal(t, 1, calls, "a successful fallback ends the loop at the first attempt")
	assert.Equal(t, 1, result.Protection.Attempts)
	assert.True(t, result.Protection.UsedFallback)
	assert.Equal(t, "anonymous-session", result.Protection.FallbackStrategy)

	degraded, ok := result.Result.(*DegradedResult)
	require.True(t, ok)
	assert.Equal(t, ActionAnonymous, degraded.Mode)
}

func TestOrchestratorHealthCountersSeeEachAttempt(t *testing.T) {
	orch := newTestOrchestrator(t, nil)

	result := orch.Run(context.Background(), OpAuthenticate,
		func(ctx context.Context) (interface{}, error) {
			return nil, apperrors.NewTimeoutError("upstream")
		}, Options{})

	require.False(t, result.Success)
	assert.Equal(t, 3, result.Protection.Attempts)

	component := orch.degradation.Health().Components[OpAuthenticate]
	assert.Equal(t, 3, component.Requests, "every raw attempt feeds the health counters")
	assert.Equal(t, 1.0, component.ErrorRate)
}

func TestOrchestratorPropagatesFailure(t *testing.T) {
	orch := newTestOrchestrator(t, nil)

	result := orch.Run(context.Background(), OpLogout,
		func(ctx context.Context) (interface{}, error) {
			return nil, apperrors.NewValidationError("no session")
		}, Options{})

	require.False(t, result.Success)
	require.Error(t, result.Err)
	assert.Equal(t, 1, result.Protection.Attempts, "validation errors are not retried")
}

func TestOrchestratorLockContention(t *testing.T) {
	orch := newTestOrchestrator(t, nil)

	blocker := orch.locks.Acquire(context.Background(), AcquireRequest{
		OperationType: OpAuthenticate,
		Holder:        "outside",
	})
	require.True(t, blocker.Granted)

	result := orch.Run(context.Background(), OpAuthenticate,
		func(ctx context.Context) (interface{}, error) {
			t.Fatal("the operation must not run without the lock")
			return nil, nil
		}, Options{LockTimeout: 30 * time.Millisecond})

	require.False(t, result.Success)
	assert.Equal(t, apperrors.ErrorTypeLockUnavailable, apperrors.GetType(result.Err))
	assert.True(t, result.Protection.UsedLock)
	assert.GreaterOrEqual(t, result.Protection.LockWaitTime, 30*time.Millisecond)
	assert.Equal(t, 0, result.Protection.Attempts)
}

func TestOrchestratorObserver(t *testing.T) {
	orch := newTestOrchestrator(t, nil)

	var mu sync.Mutex
	var observed []RunResult
	orch.AddObserver(observerFunc(func(opType OperationType, result RunResult) {
		mu.Lock()
		defer mu.Unlock()
		observed = append(observed, result)
	}))

	orch.Run(context.Background(), OpValidate,
		func(ctx context.Context) (interface{}, error) {
			return true, nil
		}, Options{})

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, observed, 1)
	assert.Equal(t, OpValidate, observed[0].OperationType)
	assert.True(t, observed[0].Success)
}

type observerFunc func(opType OperationType, result RunResult)

func (f observerFunc) OperationCompleted(opType OperationType, result RunResult) {
	f(opType, result)
}

func TestOrchestratorBreakerIsolation(t *testing.T) {
	orch := newTestOrchestrator(t, nil)

	// Trip the authenticate breaker with repeated failing runs.
	for i := 0; i < 2; i++ {
		orch.Run(context.Background(), OpAuthenticate,
			func(ctx context.Context) (interface{}, error) {
				return nil, apperrors.NewExternalError("analytics", "down")
			}, Options{})
	}
	require.Equal(t, StateOpen, orch.breakers.Get(string(OpAuthenticate)).State())

	blocked := orch.Run(context.Background(), OpAuthenticate,
		func(ctx context.Context) (interface{}, error) {
			t.Fatal("the open breaker must reject before the operation runs")
			return nil, nil
		}, Options{})
	require.False(t, blocked.Success)

	healthy := orch.Run(context.Background(), OpRefresh,
		func(ctx context.Context) (interface{}, error) {
			return "ok", nil
		}, Options{})
	assert.True(t, healthy.Success, "other operation channels are unaffected")
}
