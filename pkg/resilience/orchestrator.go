package resilience

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/NikhilSetiya/statsbridge/pkg/logging"
)

// Protection reports which layers participated in one orchestrated run
type Protection struct {
	UsedLock         bool          `json:"used_lock"`
	UsedRetry        bool          `json:"used_retry"`
	UsedDegradation  bool          `json:"used_degradation"`
	UsedFallback     bool          `json:"used_fallback"`
	LockWaitTime     time.Duration `json:"lock_wait_time"`
	Attempts         int           `json:"attempts"`
	DegradationLevel int           `json:"degradation_level"`
	FallbackStrategy string        `json:"fallback_strategy,omitempty"`
}

// RunResult is the structured outcome of one orchestrated operation
type RunResult struct {
	OperationID   string        `json:"operation_id"`
	OperationType OperationType `json:"operation_type"`
	Success       bool          `json:"success"`
	Result        interface{}   `json:"-"`
	Err           error         `json:"-"`
	Duration      time.Duration `json:"duration"`
	Protection    Protection    `json:"protection"`
}

// Options tune a single orchestrated run
type Options struct {
	// Holder identifies the caller for lock ownership; empty means an
	// anonymous per-run identity
	Holder string
	// Priority is the lock priority of the run
	Priority LockPriority
	// LockContext is attached to the granted lock for observability
	LockContext map[string]string
	// LockTimeout overrides the manager's default wait timeout
	LockTimeout time.Duration
}

// ProtectionObserver receives the outcome of every orchestrated run. It is
// the hook the metrics layer attaches to.
type ProtectionObserver interface {
	OperationCompleted(opType OperationType, result RunResult)
}

// OrchestratorConfig enables or disables individual protection layers
type OrchestratorConfig struct {
	LockEnabled        bool
	RetryEnabled       bool
	DegradationEnabled bool
}

// Orchestrator composes the protection layers around a raw operation in a
// fixed order: the lock outermost, then the retry executor with the circuit
// breaker gating each attempt, with degradation routing wrapped directly
// around the raw operation.
type Orchestrator struct {
	config      OrchestratorConfig
	locks       *LockManager
	retrier     *Retrier
	breakers    *BreakerRegistry
	degradation *DegradationManager
	observers   []ProtectionObserver
	tracer      trace.Tracer
	logger      *logging.Logger
}

// NewOrchestrator wires the protection layers together. Any component may
// be nil when its layer is disabled.
func NewOrchestrator(config OrchestratorConfig, locks *LockManager, retrier *Retrier, breakers *BreakerRegistry, degradation *DegradationManager) *Orchestrator {
	return &Orchestrator{
		config:      config,
		locks:       locks,
		retrier:     retrier,
		breakers:    breakers,
		degradation: degradation,
		tracer:      otel.Tracer("statsbridge/resilience"),
		logger:      logging.GetLogger(),
	}
}

// AddObserver registers a protection observer. Not safe to call
// concurrently with Run; register observers during wiring.
func (o *Orchestrator) AddObserver(observer ProtectionObserver) {
	o.observers = append(o.observers, observer)
}

// Run executes the operation under the configured protection layers and
// returns a structured result; it never panics and never loses the error
// in favor of the protection report.
func (o *Orchestrator) Run(ctx context.Context, opType OperationType, operation Operation, opts Options) RunResult {
	operationID := fmt.Sprintf("%s-%s", opType, uuid.New().String()[:8])
	start := time.Now()

	ctx, span := o.tracer.Start(ctx, fmt.Sprintf("resilience.%s", opType),
		trace.WithAttributes(
			attribute.String("operation.id", operationID),
			attribute.String("operation.type", string(opType)),
		),
	)
	defer span.End()

	result := RunResult{
		OperationID:   operationID,
		OperationType: opType,
	}

	if o.config.LockEnabled && o.locks != nil {
		holder := opts.Holder
		if holder == "" {
			holder = operationID
		}

		acquire := o.locks.Acquire(ctx, AcquireRequest{
			OperationType: opType,
			Holder:        holder,
			Priority:      opts.Priority,
			Context:       opts.LockContext,
			Timeout:       opts.LockTimeout,
		})
		result.Protection.UsedLock = true
		result.Protection.LockWaitTime = acquire.WaitTime

		if !acquire.Granted {
			result.Err = acquire.Err
			result.Duration = time.Since(start)
			o.finish(span, &result)
			return result
		}
		defer func() {
			if err := o.locks.Release(acquire.LockID); err != nil {
				o.logger.Warn("Lock release failed",
					"lock_id", acquire.LockID,
					"operation_id", operationID,
					"error", err.Error(),
				)
			}
		}()
	}

	// Degradation routing sits inside the retry loop: the health counters
	// record every raw attempt rather than one flattened outcome per run,
	// and a successful fallback ends the loop at that attempt.
	protected := operation
	if o.config.DegradationEnabled && o.degradation != nil {
		result.Protection.UsedDegradation = true
		protected = func(ctx context.Context) (interface{}, error) {
			value, strategy, err := o.degradation.ExecuteWithFallback(ctx, opType, operation)
			if strategy != "" {
				result.Protection.UsedFallback = true
				result.Protection.FallbackStrategy = strategy
			}
			return value, err
		}
	}

	if o.config.RetryEnabled && o.retrier != nil {
		var breaker *CircuitBreaker
		if o.breakers != nil {
			breaker = o.breakers.Get(string(opType))
		}
		result.Protection.UsedRetry = true
		retry := o.retrier.Execute(ctx, operationID, breaker, protected)
		result.Protection.Attempts = len(retry.Attempts)
		result.Result = retry.Result
		result.Err = retry.Err
	} else {
		value, err := protected(ctx)
		result.Result = value
		result.Err = err
	}

	if o.config.DegradationEnabled && o.degradation != nil {
		result.Protection.DegradationLevel = o.degradation.CurrentLevel()
	}

	result.Success = result.Err == nil
	result.Duration = time.Since(start)
	o.finish(span, &result)
	return result
}

func (o *Orchestrator) finish(span trace.Span, result *RunResult) {
	span.SetAttributes(
		attribute.Bool("operation.success", result.Success),
		attribute.Int("operation.attempts", result.Protection.Attempts),
		attribute.Bool("operation.used_fallback", result.Protection.UsedFallback),
		attribute.Int("operation.degradation_level", result.Protection.DegradationLevel),
	)
	if result.Err != nil {
		span.RecordError(result.Err)
	}

	for _, observer := range o.observers {
		observer.OperationCompleted(result.OperationType, *result)
	}

	if result.Err != nil {
		o.logger.Warn("Protected operation failed",
			"operation_id", result.OperationID,
			"operation_type", string(result.OperationType),
			"attempts", result.Protection.Attempts,
			"used_fallback", result.Protection.UsedFallback,
			"duration_ms", result.Duration.Milliseconds(),
			"error", result.Err.Error(),
		)
		return
	}

	o.logger.Debug("Protected operation completed",
		"operation_id", result.OperationID,
		"operation_type", string(result.OperationType),
		"attempts", result.Protection.Attempts,
		"used_fallback", result.Protection.UsedFallback,
		"duration_ms", result.Duration.Milliseconds(),
	)
}
