package resilience

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/NikhilSetiya/statsbridge/pkg/errors"
	"github.com/NikhilSetiya/statsbridge/pkg/logging"
)

// FallbackActionType tags the kind of substitute behavior an action provides
type FallbackActionType string

const (
	// ActionCache serves the last known result from the cache store
	ActionCache FallbackActionType = "cache"
	// ActionAnonymous grants an anonymous, feature-limited session
	ActionAnonymous FallbackActionType = "anonymous"
	// ActionSimplified performs a simplified variant of the operation
	ActionSimplified FallbackActionType = "simplified"
	// ActionOffline serves a static offline payload
	ActionOffline FallbackActionType = "offline"
	// ActionRetry re-invokes the original operation once more
	ActionRetry FallbackActionType = "retry"
	// ActionAbort fails immediately, ending the strategy
	ActionAbort FallbackActionType = "abort"
)

// FallbackAction is one step of a fallback strategy
type FallbackAction struct {
	Type       FallbackActionType `json:"type"`
	Parameters map[string]string  `json:"parameters,omitempty"`
	Timeout    time.Duration      `json:"timeout"`
}

// FallbackStrategy describes how to substitute for a disabled or failing
// operation. Actions are tried in order; the first success short-circuits
// the remainder.
type FallbackStrategy struct {
	Name     string           `json:"name"`
	Triggers []OperationType  `json:"triggers"`
	Actions  []FallbackAction `json:"actions"`
	Priority int              `json:"priority"`
	Timeout  time.Duration    `json:"timeout"`
}

// Validate checks a strategy at construction time
func (s FallbackStrategy) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("fallback strategy requires a name")
	}
	if len(s.Triggers) == 0 {
		return fmt.Errorf("fallback strategy %q requires trigger operation types", s.Name)
	}
	if len(s.Actions) == 0 {
		return fmt.Errorf("fallback strategy %q requires at least one action", s.Name)
	}
	for _, action := range s.Actions {
		switch action.Type {
		case ActionCache, ActionAnonymous, ActionSimplified, ActionOffline, ActionRetry, ActionAbort:
		default:
			return fmt.Errorf("fallback strategy %q has unknown action type %q", s.Name, action.Type)
		}
	}
	return nil
}

// AppliesTo reports whether the strategy's trigger conditions include the
// operation type
func (s FallbackStrategy) AppliesTo(opType OperationType) bool {
	for _, trigger := range s.Triggers {
		if trigger == opType {
			return true
		}
	}
	return false
}

// FallbackInvocation carries the original call into an action executor
type FallbackInvocation struct {
	OperationType OperationType
	Operation     Operation
	OriginalErr   error
}

// DegradedResult is the substitute value produced by a fallback action
type DegradedResult struct {
	Mode          FallbackActionType `json:"mode"`
	OperationType OperationType      `json:"operation_type"`
	Payload       interface{}        `json:"payload,omitempty"`
}

// CacheStore is the narrow view of a cache the cache action needs
type CacheStore interface {
	Get(ctx context.Context, key string) (interface{}, error)
}

// ActionExecutor runs one fallback action
type ActionExecutor interface {
	Execute(ctx context.Context, action FallbackAction, inv FallbackInvocation) (interface{}, error)
}

// DefaultActionExecutor implements the built-in action types. The cache
// store is optional; without one the cache action reports unavailable.
type DefaultActionExecutor struct {
	cache  CacheStore
	logger *logging.Logger
}

// NewDefaultActionExecutor creates an executor backed by the given cache store
func NewDefaultActionExecutor(cache CacheStore) *DefaultActionExecutor {
	return &DefaultActionExecutor{
		cache:  cache,
		logger: logging.GetLogger(),
	}
}

// Execute runs one action, bounded by the action's timeout
func (e *DefaultActionExecutor) Execute(ctx context.Context, action FallbackAction, inv FallbackInvocation) (interface{}, error) {
	if action.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, action.Timeout)
		defer cancel()
	}

	switch action.Type {
	case ActionCache:
		return e.executeCache(ctx, action, inv)

	case ActionAnonymous:
		return &DegradedResult{
			Mode:          ActionAnonymous,
			OperationType: inv.OperationType,
		}, nil

	case ActionSimplified:
		return &DegradedResult{
			Mode:          ActionSimplified,
			OperationType: inv.OperationType,
		}, nil

	case ActionOffline:
		if payload, ok := action.Parameters["payload"]; ok {
			return &DegradedResult{
				Mode:          ActionOffline,
				OperationType: inv.OperationType,
				Payload:       payload,
			}, nil
		}
		return nil, apperrors.NewNotFoundError("offline payload")

	case ActionRetry:
		if inv.Operation == nil {
			return nil, apperrors.NewInternalError("retry action has no operation to invoke")
		}
		return inv.Operation(ctx)

	case ActionAbort:
		return nil, apperrors.NewInternalError("aborted by fallback policy")

	default:
		return nil, apperrors.NewInternalError(fmt.Sprintf("unknown fallback action type %q", action.Type))
	}
}

func (e *DefaultActionExecutor) executeCache(ctx context.Context, action FallbackAction, inv FallbackInvocation) (interface{}, error) {
	if e.cache == nil {
		return nil, apperrors.NewInternalError("no cache store configured for cache fallback")
	}

	key := action.Parameters["key"]
	if key == "" {
		key = fmt.Sprintf("fallback:%s", inv.OperationType)
	}

	value, err := e.cache.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	e.logger.Debug("Cache fallback served",
		"operation_type", string(inv.OperationType),
		"key", key,
	)
	return &DegradedResult{
		Mode:          ActionCache,
		OperationType: inv.OperationType,
		Payload:       value,
	}, nil
}
