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

func newTestLockManager(t *testing.T, policy ConflictPolicy) *LockManager {
	t.Helper()
	lm, err := NewLockManager(LockManagerConfig{
		Timeout:         50 * time.Millisecond,
		DeadlockTimeout: 500 * time.Millisecond,
		ConflictPolicy:  policy,
	})
	require.NoError(t, err)
	return lm
}

func TestLockManagerConfigValidation(t *testing.T) {
	_, err := NewLockManager(LockManagerConfig{
		Timeout:         time.Second,
		DeadlockTimeout: time.Second,
	})
	assert.Error(t, err, "deadlock timeout must exceed the lock timeout")

	_, err = NewLockManager(LockManagerConfig{
		Timeout:         time.Second,
		DeadlockTimeout: 2 * time.Second,
		ConflictPolicy:  "random",
	})
	assert.Error(t, err, "unknown conflict policies are rejected")
}

func TestLockAcquireAndRelease(t *testing.T) {
	lm := newTestLockManager(t, ConflictFirstWins)

	res := lm.Acquire(context.Background(), AcquireRequest{
		OperationType: OpAuthenticate,
		Holder:        "worker-1",
	})
	require.True(t, res.Granted)
	require.NotEmpty(t, res.LockID)

	snapshot := lm.Snapshot()
	require.Len(t, snapshot.Active, 1)
	assert.Equal(t, OpAuthenticate, snapshot.Active[0].OperationType)
	assert.Equal(t, "worker-1", snapshot.Active[0].Holder)

	require.NoError(t, lm.Release(res.LockID))
	assert.Empty(t, lm.Snapshot().Active)

	err := lm.Release(res.LockID)
	assert.Equal(t, apperrors.ErrorTypeNotFound, apperrors.GetType(err), "double release reports not found")
}

func TestLockDifferentOperationTypesDoNotConflict(t *testing.T) {
	lm := newTestLockManager(t, ConflictAbort)

	first := lm.Acquire(context.Background(), AcquireRequest{OperationType: OpAuthenticate, Holder: "a"})
	second := lm.Acquire(context.Background(), AcquireRequest{OperationType: OpRefresh, Holder: "b"})

	assert.True(t, first.Granted)
	assert.True(t, second.Granted)
}

func TestLockValidatesRequest(t *testing.T) {
	lm := newTestLockManager(t, ConflictFirstWins)

	res := lm.Acquire(context.Background(), AcquireRequest{OperationType: OpAuthenticate})
	require.False(t, res.Granted)
	assert.Equal(t, apperrors.ErrorTypeValidation, apperrors.GetType(res.Err))
}

func TestLockFirstWinsQueuesBehindHolder(t *testing.T) {
	lm := newTestLockManager(t, ConflictFirstWins)

	first := lm.Acquire(context.Background(), AcquireRequest{
		OperationType: OpAuthenticate,
		Holder:        "first",
	})
	require.True(t, first.Granted)

	var wg sync.WaitGroup
	wg.Add(1)
	var second AcquireResult
	go func() {
		defer wg.Done()
		second = lm.Acquire(context.Background(), AcquireRequest{
			OperationType: OpAuthenticate,
			Holder:        "second",
			Timeout:       time.Second,
		})
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, lm.Release(first.LockID))
	wg.Wait()

	require.True(t, second.Granted, "waiter is granted once the holder releases")
	assert.GreaterOrEqual(t, second.WaitTime, 10*time.Millisecond)
	assert.Empty(t, lm.DeadlockRecords(), "an orderly handover is not a deadlock")
}

func TestLockFirstWinsTimesOut(t *testing.T) {
	lm := newTestLockManager(t, ConflictFirstWins)

	first := lm.Acquire(context.Background(), AcquireRequest{
		OperationType: OpAuthenticate,
		Holder:        "first",
	})
	require.True(t, first.Granted)

	second := lm.Acquire(context.Background(), AcquireRequest{
		OperationType: OpAuthenticate,
		Holder:        "second",
	})

	require.False(t, second.Granted)
	assert.Equal(t, apperrors.ErrorTypeLockUnavailable, apperrors.GetType(second.Err))
	assert.GreaterOrEqual(t, second.WaitTime, 50*time.Millisecond)
}

func TestLockAbortFailsFast(t *testing.T) {
	lm := newTestLockManager(t, ConflictAbort)

	first := lm.Acquire(context.Background(), AcquireRequest{
		OperationType: OpAuthenticate,
		Holder:        "first",
	})
	require.True(t, first.Granted)

	start := time.Now()
	second := lm.Acquire(context.Background(), AcquireRequest{
		OperationType: OpAuthenticate,
		Holder:        "second",
	})

	require.False(t, second.Granted)
	assert.Equal(t, apperrors.ErrorTypeLockUnavailable, apperrors.GetType(second.Err))
	assert.Less(t, time.Since(start), 20*time.Millisecond, "abort must not wait")
}

func TestLockLastWinsPreemptsHolder(t *testing.T) {
	lm := newTestLockManager(t, ConflictLastWins)

	first := lm.Acquire(context.Background(), AcquireRequest{
		OperationType: OpAuthenticate,
		Holder:        "first",
	})
	require.True(t, first.Granted)

	second := lm.Acquire(context.Background(), AcquireRequest{
		OperationType: OpAuthenticate,
		Holder:        "second",
	})
	require.True(t, second.Granted)

	snapshot := lm.Snapshot()
	require.Len(t, snapshot.Active, 1)
	assert.Equal(t, "second", snapshot.Active[0].Holder)

	err := lm.Release(first.LockID)
	assert.Error(t, err, "the preempted lock is already gone")
}

func TestLockDeadlockDetection(t *testing.T) {
	lm := newTestLockManager(t, ConflictFirstWins)

	// The holder never releases; the waiter outlasts the deadlock timeout
	// and must be granted by force with a record of the resolution.
	first := lm.Acquire(context.Background(), AcquireRequest{
		OperationType: OpAuthenticate,
		Holder:        "stuck",
	})
	require.True(t, first.Granted)

	start := time.Now()
	second := lm.Acquire(context.Background(), AcquireRequest{
		OperationType: OpAuthenticate,
		Holder:        "waiter",
		Timeout:       2 * time.Second,
	})

	require.True(t, second.Granted, "the waiter wins after the deadlock timeout")
	assert.GreaterOrEqual(t, time.Since(start), 500*time.Millisecond)

	records := lm.DeadlockRecords()
	require.Len(t, records, 1)
	assert.Equal(t, OpAuthenticate, records[0].OperationType)
	assert.Equal(t, first.LockID, records[0].ConflictingID)
	assert.Equal(t, second.LockID, records[0].WinningID)
	assert.GreaterOrEqual(t, records[0].ConflictDuration, 500*time.Millisecond)

	snapshot := lm.Snapshot()
	require.Len(t, snapshot.Active, 1)
	assert.Equal(t, "waiter", snapshot.Active[0].Holder)
}

func TestLockCriticalPriorityPreempts(t *testing.T) {
	lm := newTestLockManager(t, ConflictFirstWins)

	first := lm.Acquire(context.Background(), AcquireRequest{
		OperationType: OpAuthenticate,
		Holder:        "stuck",
	})
	require.True(t, first.Granted)

	start := time.Now()
	second := lm.Acquire(context.Background(), AcquireRequest{
		OperationType: OpAuthenticate,
		Holder:        "urgent",
		Priority:      PriorityCritical,
		Timeout:       100 * time.Millisecond,
	})

	require.True(t, second.Granted, "critical requests are never starved")
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
	assert.Less(t, elapsed, 400*time.Millisecond, "critical preemption happens at its own deadline, not the deadlock timeout")
}

func TestLockAcquireCancelled(t *testing.T) {
	lm := newTestLockManager(t, ConflictFirstWins)

	first := lm.Acquire(context.Background(), AcquireRequest{
		OperationType: OpAuthenticate,
		Holder:        "first",
	})
	require.True(t, first.Granted)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	second := lm.Acquire(ctx, AcquireRequest{
		OperationType: OpAuthenticate,
		Holder:        "second",
		Timeout:       time.Second,
	})

	require.False(t, second.Granted)
	assert.Equal(t, apperrors.ErrorTypeLockUnavailable, apperrors.GetType(second.Err))
}

func TestLockSweeperReclaimsExpiredHolds(t *testing.T) {
	lm, err := NewLockManager(LockManagerConfig{
		Timeout:         50 * time.Millisecond,
		DeadlockTimeout: 500 * time.Millisecond,
		SweepInterval:   10 * time.Millisecond,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go lm.Run(ctx)

	res := lm.Acquire(context.Background(), AcquireRequest{
		OperationType: OpAuthenticate,
		Holder:        "leaker",
		HoldTimeout:   30 * time.Millisecond,
	})
	require.True(t, res.Granted)

	assert.Eventually(t, func() bool {
		return len(lm.Snapshot().Active) == 0
	}, time.Second, 10*time.Millisecond, "the sweeper reclaims locks held past their hold timeout")
}

func TestLockMutualExclusionUnderContention(t *testing.T) {
	lm := newTestLockManager(t, ConflictFirstWins)

	var mu sync.Mutex
	inCritical := 0
	maxInCritical := 0

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := lm.Acquire(context.Background(), AcquireRequest{
				OperationType: OpRefresh,
				Holder:        "worker",
				Timeout:       time.Second,
			})
			if !res.Granted {
				return
			}

			mu.Lock()
			inCritical++
			if inCritical > maxInCritical {
				maxInCritical = inCritical
			}
			mu.Unlock()

			time.Sleep(5 * time.Millisecond)

			mu.Lock()
			inCritical--
			mu.Unlock()

			_ = lm.Release(res.LockID)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxInCritical, "at most one holder per operation type at any instant")
}
