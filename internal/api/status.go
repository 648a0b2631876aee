package api

import (
	"github.com/gin-gonic/gin"

	"github.com/NikhilSetiya/statsbridge/pkg/resilience"
)

// StatusHandler exposes read-only views of the protection layers
type StatusHandler struct {
	breakers    *resilience.BreakerRegistry
	locks       *resilience.LockManager
	degradation *resilience.DegradationManager
	retrier     *resilience.Retrier
}

// NewStatusHandler creates a status handler
func NewStatusHandler(breakers *resilience.BreakerRegistry, locks *resilience.LockManager, degradation *resilience.DegradationManager, retrier *resilience.Retrier) *StatusHandler {
	return &StatusHandler{
		breakers:    breakers,
		locks:       locks,
		degradation: degradation,
		retrier:     retrier,
	}
}

// GetCircuitStatus returns the state of every registered circuit breaker
// GET /api/v1/status/circuit
func (h *StatusHandler) GetCircuitStatus(c *gin.Context) {
	SuccessResponse(c, h.breakers.Statuses())
}

// GetDegradationStatus returns the system health report
// GET /api/v1/status/degradation
func (h *StatusHandler) GetDegradationStatus(c *gin.Context) {
	SuccessResponse(c, h.degradation.Health())
}

// GetLockStatus returns a snapshot of the lock table
// GET /api/v1/status/locks
func (h *StatusHandler) GetLockStatus(c *gin.Context) {
	SuccessResponse(c, h.locks.Snapshot())
}

// GetRetryStatus returns recent retry attempt history per operation
// GET /api/v1/status/retry
func (h *StatusHandler) GetRetryStatus(c *gin.Context) {
	SuccessResponse(c, h.retrier.HistorySnapshot())
}
