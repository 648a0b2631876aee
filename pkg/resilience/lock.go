package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/NikhilSetiya/statsbridge/pkg/errors"
	"github.com/NikhilSetiya/statsbridge/pkg/logging"
)

// LockPriority is a hint for conflict resolution. Critical priority is
// never starved indefinitely; its wait is bounded by the requested timeout.
type LockPriority int

const (
	PriorityLow LockPriority = iota
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

func (p LockPriority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ConflictPolicy decides what happens when a lock is requested while
// another holder is active
type ConflictPolicy string

const (
	// ConflictFirstWins queues the new request until the holder releases
	ConflictFirstWins ConflictPolicy = "first_wins"
	// ConflictLastWins pre-empts the existing holder immediately
	ConflictLastWins ConflictPolicy = "last_wins"
	// ConflictMerge is an extension point for caller-defined merging; at
	// this layer it behaves as a pass-through of the first-wins queue
	ConflictMerge ConflictPolicy = "merge"
	// ConflictAbort fails the new request immediately
	ConflictAbort ConflictPolicy = "abort"
)

// OperationLock represents an exclusive claim on an operation class
type OperationLock struct {
	ID            string            `json:"id"`
	OperationType OperationType     `json:"operation_type"`
	Holder        string            `json:"holder"`
	AcquiredAt    time.Time         `json:"acquired_at"`
	Timeout       time.Duration     `json:"timeout"`
	Priority      LockPriority      `json:"priority"`
	Context       map[string]string `json:"context,omitempty"`
}

// AcquireRequest describes a lock acquisition
type AcquireRequest struct {
	OperationType OperationType
	Holder        string
	Priority      LockPriority
	Context       map[string]string
	// Timeout bounds how long the caller is willing to wait for the grant.
	// Zero means the manager default.
	Timeout time.Duration
	// HoldTimeout bounds how long the granted lock may be held before it
	// is forcibly reclaimed. Zero means the manager default.
	HoldTimeout time.Duration
}

// AcquireResult is the structured outcome of an acquire call; it never
// carries a panic or a thrown error
type AcquireResult struct {
	Granted  bool
	LockID   string
	WaitTime time.Duration
	Err      error
}

// DeadlockRecord is the informational record emitted when a stuck holder
// is forcibly reclaimed in favor of a waiting request
type DeadlockRecord struct {
	OperationType    OperationType `json:"operation_type"`
	ConflictingID    string        `json:"conflicting_id"`
	WinningID        string        `json:"winning_id"`
	ConflictDuration time.Duration `json:"conflict_duration"`
	DetectedAt       time.Time     `json:"detected_at"`
}

// LockSnapshot is a point-in-time view of the lock table for observability
type LockSnapshot struct {
	Active    []OperationLock       `json:"active"`
	Waiters   map[OperationType]int `json:"waiters"`
	Deadlocks []DeadlockRecord      `json:"deadlocks"`
}

// LockManagerConfig holds lock manager configuration
type LockManagerConfig struct {
	// Timeout is the default wait timeout for acquire calls and the
	// default hold timeout for granted locks
	Timeout time.Duration
	// DeadlockTimeout is how long a waiter may be blocked before the
	// blocking lock is forcibly reclaimed; it must exceed Timeout
	DeadlockTimeout time.Duration
	// ConflictPolicy resolves requests against an active holder
	ConflictPolicy ConflictPolicy
	// SweepInterval is how often the expiry sweeper reclaims stale holders
	SweepInterval time.Duration
	// MaxDeadlockRecords bounds the retained deadlock history
	MaxDeadlockRecords int
}

type lockEntry struct {
	lock     *OperationLock
	released chan struct{}
}

// LockManager grants exclusive access to a named operation class, detects
// stuck holders, and resolves conflicts by the configured policy. At most
// one granted lock per operation type exists at any instant.
type LockManager struct {
	config LockManagerConfig
	logger *logging.Logger

	mutex     sync.Mutex
	active    map[OperationType]*lockEntry
	byID      map[string]OperationType
	waiters   map[OperationType]int
	deadlocks []DeadlockRecord
}

// NewLockManager creates a lock manager. It fails on malformed
// configuration rather than at call time.
func NewLockManager(config LockManagerConfig) (*LockManager, error) {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.DeadlockTimeout <= 0 {
		config.DeadlockTimeout = 4 * config.Timeout
	}
	if config.DeadlockTimeout <= config.Timeout {
		return nil, fmt.Errorf("deadlock timeout %v must exceed lock timeout %v",
			config.DeadlockTimeout, config.Timeout)
	}
	if config.ConflictPolicy == "" {
		config.ConflictPolicy = ConflictFirstWins
	}
	switch config.ConflictPolicy {
	case ConflictFirstWins, ConflictLastWins, ConflictMerge, ConflictAbort:
	default:
		return nil, fmt.Errorf("unknown conflict policy %q", config.ConflictPolicy)
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = 1 * time.Second
	}
	if config.MaxDeadlockRecords <= 0 {
		config.MaxDeadlockRecords = 100
	}

	return &LockManager{
		config:  config,
		logger:  logging.GetLogger(),
		active:  make(map[OperationType]*lockEntry),
		byID:    make(map[string]OperationType),
		waiters: make(map[OperationType]int),
	}, nil
}

// Acquire requests exclusive access to the operation type. It returns a
// structured result and never panics; a request that cannot be granted
// within its timeout fails with a lock-unavailable error unless the
// conflict policy or deadlock detection forces a grant first.
func (lm *LockManager) Acquire(ctx context.Context, req AcquireRequest) AcquireResult {
	if req.OperationType == "" || req.Holder == "" {
		return AcquireResult{
			Err: apperrors.NewValidationError("operation type and holder are required"),
		}
	}

	waitTimeout := req.Timeout
	if waitTimeout <= 0 {
		waitTimeout = lm.config.Timeout
	}

	start := time.Now()
	deadline := start.Add(waitTimeout)
	deadlockAt := start.Add(lm.config.DeadlockTimeout)

	for {
		lm.mutex.Lock()

		entry := lm.active[req.OperationType]
		if entry == nil {
			lock := lm.grantLocked(req, start)
			lm.mutex.Unlock()
			return AcquireResult{Granted: true, LockID: lock.ID, WaitTime: time.Since(start)}
		}

		switch lm.config.ConflictPolicy {
		case ConflictAbort:
			holder := entry.lock.Holder
			lm.mutex.Unlock()
			return AcquireResult{
				WaitTime: time.Since(start),
				Err: apperrors.NewLockUnavailableError(string(req.OperationType),
					fmt.Sprintf("lock held by %s and conflict policy is abort", holder)),
			}
		case ConflictLastWins:
			lm.forceReleaseLocked(entry, "preempted by last-wins policy")
			lock := lm.grantLocked(req, start)
			lm.mutex.Unlock()
			return AcquireResult{Granted: true, LockID: lock.ID, WaitTime: time.Since(start)}
		}

		// first-wins and merge both queue behind the current holder
		released := entry.released
		blocking := *entry.lock
		lm.waiters[req.OperationType]++
		lm.mutex.Unlock()

		outcome := lm.waitForRelease(ctx, released, deadline, deadlockAt)

		lm.mutex.Lock()
		lm.waiters[req.OperationType]--
		switch outcome {
		case waitReleased:
			lm.mutex.Unlock()
			continue

		case waitDeadlock:
			lock := lm.reclaimAndGrantLocked(req, blocking, start, "deadlock timeout exceeded")
			lm.mutex.Unlock()
			return AcquireResult{Granted: true, LockID: lock.ID, WaitTime: time.Since(start)}

		case waitDeadline:
			if req.Priority == PriorityCritical {
				// Critical requests are never starved; the wait is bounded
				// by the requested timeout, after which the holder loses.
				lock := lm.reclaimAndGrantLocked(req, blocking, start, "critical priority preemption")
				lm.mutex.Unlock()
				return AcquireResult{Granted: true, LockID: lock.ID, WaitTime: time.Since(start)}
			}
			lm.mutex.Unlock()
			return AcquireResult{
				WaitTime: time.Since(start),
				Err: apperrors.NewLockUnavailableError(string(req.OperationType),
					fmt.Sprintf("could not acquire lock within %v", waitTimeout)),
			}

		default: // waitCancelled
			lm.mutex.Unlock()
			return AcquireResult{
				WaitTime: time.Since(start),
				Err: apperrors.NewLockUnavailableError(string(req.OperationType),
					"acquire cancelled").WithCause(ctx.Err()),
			}
		}
	}
}

type waitOutcome int

const (
	waitReleased waitOutcome = iota
	waitDeadline
	waitDeadlock
	waitCancelled
)

func (lm *LockManager) waitForRelease(ctx context.Context, released <-chan struct{}, deadline, deadlockAt time.Time) waitOutcome {
	deadlineTimer := time.NewTimer(time.Until(deadline))
	defer deadlineTimer.Stop()
	deadlockTimer := time.NewTimer(time.Until(deadlockAt))
	defer deadlockTimer.Stop()

	select {
	case <-released:
		return waitReleased
	case <-deadlockTimer.C:
		return waitDeadlock
	case <-deadlineTimer.C:
		return waitDeadline
	case <-ctx.Done():
		return waitCancelled
	}
}

// Release relinquishes a granted lock by ID
func (lm *LockManager) Release(lockID string) error {
	lm.mutex.Lock()
	defer lm.mutex.Unlock()

	opType, ok := lm.byID[lockID]
	if !ok {
		return apperrors.NewNotFoundError(fmt.Sprintf("lock %s", lockID))
	}

	entry := lm.active[opType]
	if entry == nil || entry.lock.ID != lockID {
		return apperrors.NewNotFoundError(fmt.Sprintf("lock %s", lockID))
	}

	lm.releaseLocked(entry)
	lm.logger.Debug("Lock released",
		"lock_id", lockID,
		"operation_type", string(opType),
	)
	return nil
}

// Run starts the expiry sweeper, which forcibly reclaims locks held past
// their hold timeout. It blocks until the context is cancelled.
func (lm *LockManager) Run(ctx context.Context) {
	ticker := time.NewTicker(lm.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			lm.sweepExpired()
		}
	}
}

func (lm *LockManager) sweepExpired() {
	lm.mutex.Lock()
	defer lm.mutex.Unlock()

	now := time.Now()
	for _, entry := range lm.active {
		if now.After(entry.lock.AcquiredAt.Add(entry.lock.Timeout)) {
			lm.forceReleaseLocked(entry, "hold timeout expired")
		}
	}
}

// Snapshot returns the current lock-table occupancy
func (lm *LockManager) Snapshot() LockSnapshot {
	lm.mutex.Lock()
	defer lm.mutex.Unlock()

	snapshot := LockSnapshot{
		Waiters: make(map[OperationType]int),
	}
	for _, entry := range lm.active {
		snapshot.Active = append(snapshot.Active, *entry.lock)
	}
	for opType, count := range lm.waiters {
		if count > 0 {
			snapshot.Waiters[opType] = count
		}
	}
	snapshot.Deadlocks = make([]DeadlockRecord, len(lm.deadlocks))
	copy(snapshot.Deadlocks, lm.deadlocks)
	return snapshot
}

// DeadlockRecords returns the retained deadlock resolution history
func (lm *LockManager) DeadlockRecords() []DeadlockRecord {
	lm.mutex.Lock()
	defer lm.mutex.Unlock()

	out := make([]DeadlockRecord, len(lm.deadlocks))
	copy(out, lm.deadlocks)
	return out
}

// grantLocked creates and installs a lock; callers must hold the mutex
func (lm *LockManager) grantLocked(req AcquireRequest, requestedAt time.Time) *OperationLock {
	holdTimeout := req.HoldTimeout
	if holdTimeout <= 0 {
		holdTimeout = lm.config.Timeout
	}

	lock := &OperationLock{
		ID:            uuid.New().String(),
		OperationType: req.OperationType,
		Holder:        req.Holder,
		AcquiredAt:    time.Now(),
		Timeout:       holdTimeout,
		Priority:      req.Priority,
		Context:       req.Context,
	}

	lm.active[req.OperationType] = &lockEntry{
		lock:     lock,
		released: make(chan struct{}),
	}
	lm.byID[lock.ID] = req.OperationType

	lm.logger.Debug("Lock granted",
		"lock_id", lock.ID,
		"operation_type", string(req.OperationType),
		"holder", req.Holder,
		"priority", req.Priority.String(),
		"wait_ms", time.Since(requestedAt).Milliseconds(),
	)
	return lock
}

// reclaimAndGrantLocked force-releases the blocking holder (if it is still
// the one we waited on) and grants the lock to the waiter, emitting a
// deadlock-resolved record; callers must hold the mutex
func (lm *LockManager) reclaimAndGrantLocked(req AcquireRequest, blocking OperationLock, requestedAt time.Time, reason string) *OperationLock {
	// The holder may have changed while the waiter slept; whoever holds the
	// lock now is the one reclaimed, and the record names it as conflicting.
	if entry := lm.active[req.OperationType]; entry != nil {
		blocking = *entry.lock
		lm.forceReleaseLocked(entry, reason)
	}

	lock := lm.grantLocked(req, requestedAt)

	record := DeadlockRecord{
		OperationType:    req.OperationType,
		ConflictingID:    blocking.ID,
		WinningID:        lock.ID,
		ConflictDuration: time.Since(requestedAt),
		DetectedAt:       time.Now(),
	}
	lm.deadlocks = append(lm.deadlocks, record)
	if len(lm.deadlocks) > lm.config.MaxDeadlockRecords {
		lm.deadlocks = lm.deadlocks[len(lm.deadlocks)-lm.config.MaxDeadlockRecords:]
	}

	lm.logger.Warn("Deadlock resolved",
		"operation_type", string(req.OperationType),
		"conflicting_id", record.ConflictingID,
		"winning_id", record.WinningID,
		"conflict_ms", record.ConflictDuration.Milliseconds(),
		"reason", reason,
	)
	return lock
}

// forceReleaseLocked reclaims a lock without the holder's cooperation;
// callers must hold the mutex
func (lm *LockManager) forceReleaseLocked(entry *lockEntry, reason string) {
	lm.logger.Warn("Lock forcibly released",
		"lock_id", entry.lock.ID,
		"operation_type", string(entry.lock.OperationType),
		"holder", entry.lock.Holder,
		"held_ms", time.Since(entry.lock.AcquiredAt).Milliseconds(),
		"reason", reason,
	)
	lm.releaseLocked(entry)
}

// releaseLocked removes a lock from the table and wakes waiters; callers
// must hold the mutex
func (lm *LockManager) releaseLocked(entry *lockEntry) {
	delete(lm.active, entry.lock.OperationType)
	delete(lm.byID, entry.lock.ID)
	close(entry.released)
}
