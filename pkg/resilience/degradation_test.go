package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/NikhilSetiya/statsbridge/pkg/errors"
)

func newTestDegradationManager(t *testing.T, strategies []FallbackStrategy, cache CacheStore) *DegradationManager {
	t.Helper()
	var executor ActionExecutor
	if cache != nil {
		executor = NewDefaultActionExecutor(cache)
	}
	dm, err := NewDegradationManager(DegradationManagerConfig{
		DegradationThreshold: 0.5,
		RecoveryThreshold:    0.9,
		MinSampleSize:        4,
		AutoRecovery:         true,
		HealthCheckInterval:  10 * time.Millisecond,
		HistorySize:          5,
	}, nil, strategies, executor)
	require.NoError(t, err)
	return dm
}

type staticCache struct {
	values map[string]interface{}
}

func (c *staticCache) Get(ctx context.Context, key string) (interface{}, error) {
	if v, ok := c.values[key]; ok {
		return v, nil
	}
	return nil, apperrors.NewNotFoundError(key)
}

func TestDegradationLevelValidation(t *testing.T) {
	_, err := NewDegradationManager(DegradationManagerConfig{}, []DegradationLevel{
		{Level: 0, Name: "normal"},
		{Level: 2, Name: "skipped"},
	}, nil, nil)
	assert.Error(t, err, "levels must be contiguous from zero")

	_, err = NewDegradationManager(DegradationManagerConfig{}, []DegradationLevel{
		{Level: 0, Name: "normal", DisabledFeatures: []OperationType{OpValidate}},
		{Level: 1, Name: "reduced"},
	}, nil, nil)
	assert.Error(t, err, "level zero must not disable features")
}

func TestFallbackStrategyValidation(t *testing.T) {
	valid := FallbackStrategy{
		Name:     "cached-auth",
		Triggers: []OperationType{OpAuthenticate},
		Actions:  []FallbackAction{{Type: ActionCache}},
	}
	assert.NoError(t, valid.Validate())

	assert.Error(t, FallbackStrategy{Triggers: valid.Triggers, Actions: valid.Actions}.Validate())
	assert.Error(t, FallbackStrategy{Name: "x", Actions: valid.Actions}.Validate())
	assert.Error(t, FallbackStrategy{Name: "x", Triggers: valid.Triggers}.Validate())
	assert.Error(t, FallbackStrategy{
		Name:     "x",
		Triggers: valid.Triggers,
		Actions:  []FallbackAction{{Type: "teleport"}},
	}.Validate())
}

func TestDegradationStepsOneLevelOnFailures(t *testing.T) {
	dm := newTestDegradationManager(t, nil, nil)

	for i := 0; i < 4; i++ {
		dm.RecordOutcome(OpAuthenticate, false, 10*time.Millisecond)
	}
	assert.Equal(t, 1, dm.CurrentLevel(), "crossing the failure threshold degrades exactly one level")

	// Counters were reset on degrade; a small burst below the sample size
	// must not degrade again.
	dm.RecordOutcome(OpAuthenticate, false, 10*time.Millisecond)
	assert.Equal(t, 1, dm.CurrentLevel())
}

func TestDegradationRequiresMinimumSample(t *testing.T) {
	dm := newTestDegradationManager(t, nil, nil)

	dm.RecordOutcome(OpAuthenticate, false, time.Millisecond)
	dm.RecordOutcome(OpAuthenticate, false, time.Millisecond)
	dm.RecordOutcome(OpAuthenticate, false, time.Millisecond)

	assert.Equal(t, 0, dm.CurrentLevel(), "three samples are below the minimum of four")
}

func TestDegradationCapsAtMaxLevel(t *testing.T) {
	dm := newTestDegradationManager(t, nil, nil)

	for round := 0; round < 6; round++ {
		for i := 0; i < 4; i++ {
			dm.RecordOutcome(OpAuthenticate, false, time.Millisecond)
		}
	}

	assert.Equal(t, dm.MaxLevel(), dm.CurrentLevel())
}

func TestDegradationAutoRecovery(t *testing.T) {
	dm := newTestDegradationManager(t, nil, nil)

	for i := 0; i < 4; i++ {
		dm.RecordOutcome(OpAuthenticate, false, time.Millisecond)
	}
	require.Equal(t, 1, dm.CurrentLevel())

	for i := 0; i < 4; i++ {
		dm.RecordOutcome(OpAuthenticate, true, time.Millisecond)
	}
	assert.Equal(t, 0, dm.CurrentLevel(), "a healthy window recovers one level")
}

func TestShouldFallbackFollowsLevelConfig(t *testing.T) {
	dm := newTestDegradationManager(t, nil, nil)

	assert.False(t, dm.ShouldFallback(OpValidate))

	for i := 0; i < 4; i++ {
		dm.RecordOutcome(OpAuthenticate, false, time.Millisecond)
	}
	require.Equal(t, 1, dm.CurrentLevel())

	assert.True(t, dm.ShouldFallback(OpValidate), "validate is disabled at level one")
	assert.False(t, dm.ShouldFallback(OpAuthenticate), "authenticate stays enabled at level one")
}

func TestExecuteWithFallbackPassThroughOnSuccess(t *testing.T) {
	dm := newTestDegradationManager(t, nil, nil)

	value, strategy, err := dm.ExecuteWithFallback(context.Background(), OpAuthenticate,
		func(ctx context.Context) (interface{}, error) {
			return "session", nil
		})

	require.NoError(t, err)
	assert.Equal(t, "session", value)
	assert.Empty(t, strategy)
}

func TestExecuteWithFallbackPriorityOrder(t *testing.T) {
	strategies := []FallbackStrategy{
		{
			Name:     "low",
			Triggers: []OperationType{OpAuthenticate},
			Actions:  []FallbackAction{{Type: ActionAnonymous}},
			Priority: 5,
		},
		{
			Name:     "high",
			Triggers: []OperationType{OpAuthenticate},
			Actions:  []FallbackAction{{Type: ActionAnonymous}},
			Priority: 10,
		},
	}
	dm := newTestDegradationManager(t, strategies, nil)

	_, strategy, err := dm.ExecuteWithFallback(context.Background(), OpAuthenticate,
		func(ctx context.Context) (interface{}, error) {
			return nil, apperrors.NewExternalError("analytics", "down")
		})

	require.NoError(t, err)
	assert.Equal(t, "high", strategy, "the higher-priority strategy wins")
}

func TestExecuteWithFallbackActionOrder(t *testing.T) {
	cache := &staticCache{values: map[string]interface{}{}}
	strategies := []FallbackStrategy{
		{
			Name:     "cache-then-anonymous",
			Triggers: []OperationType{OpAuthenticate},
			Actions: []FallbackAction{
				{Type: ActionCache},
				{Type: ActionAnonymous},
			},
			Priority: 10,
		},
	}
	dm := newTestDegradationManager(t, strategies, cache)

	value, strategy, err := dm.ExecuteWithFallback(context.Background(), OpAuthenticate,
		func(ctx context.Context) (interface{}, error) {
			return nil, apperrors.NewExternalError("analytics", "down")
		})

	require.NoError(t, err)
	assert.Equal(t, "cache-then-anonymous", strategy)
	degraded, ok := value.(*DegradedResult)
	require.True(t, ok)
	assert.Equal(t, ActionAnonymous, degraded.Mode, "the empty cache falls through to the next action")

	cache.values["fallback:authenticate"] = "cached-session"
	value, _, err = dm.ExecuteWithFallback(context.Background(), OpAuthenticate,
		func(ctx context.Context) (interface{}, error) {
			return nil, apperrors.NewExternalError("analytics", "down")
		})
	require.NoError(t, err)
	degraded, ok = value.(*DegradedResult)
	require.True(t, ok)
	assert.Equal(t, ActionCache, degraded.Mode)
	assert.Equal(t, "cached-session", degraded.Payload)
}

func TestExecuteWithFallbackNoApplicableStrategy(t *testing.T) {
	strategies := []FallbackStrategy{
		{
			Name:     "refresh-only",
			Triggers: []OperationType{OpRefresh},
			Actions:  []FallbackAction{{Type: ActionAnonymous}},
			Priority: 10,
		},
	}
	dm := newTestDegradationManager(t, strategies, nil)

	original := apperrors.NewExternalError("analytics", "down")
	_, strategy, err := dm.ExecuteWithFallback(context.Background(), OpAuthenticate,
		func(ctx context.Context) (interface{}, error) {
			return nil, original
		})

	assert.Empty(t, strategy)
	assert.Same(t, original, err, "with no applicable strategy the original error propagates")
}

func TestExecuteWithFallbackExhaustion(t *testing.T) {
	strategies := []FallbackStrategy{
		{
			Name:     "doomed",
			Triggers: []OperationType{OpAuthenticate},
			Actions:  []FallbackAction{{Type: ActionAbort}},
			Priority: 10,
		},
	}
	dm := newTestDegradationManager(t, strategies, nil)

	original := apperrors.NewExternalError("analytics", "down")
	_, strategy, err := dm.ExecuteWithFallback(context.Background(), OpAuthenticate,
		func(ctx context.Context) (interface{}, error) {
			return nil, original
		})

	assert.Empty(t, strategy)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrorTypeFallbackExhausted, apperrors.GetType(err))
	assert.ErrorIs(t, err, original, "the exhaustion error wraps the original failure")
}

func TestComponentHealthDerivation(t *testing.T) {
	dm := newTestDegradationManager(t, nil, nil)

	dm.RecordOutcome(OpRefresh, true, time.Millisecond)
	dm.RecordOutcome(OpRefresh, true, time.Millisecond)
	dm.RecordOutcome(OpRefresh, true, time.Millisecond)
	dm.RecordOutcome(OpRefresh, false, time.Millisecond)

	health := dm.Health()
	component := health.Components[OpRefresh]
	assert.Equal(t, ComponentHealthy, component.Status, "25 percent error rate is still healthy")
	assert.Equal(t, 4, component.Requests)

	dm.RecordOutcome(OpLogout, false, time.Millisecond)
	dm.RecordOutcome(OpLogout, true, time.Millisecond)
	dm.RecordOutcome(OpLogout, false, time.Millisecond)

	health = dm.Health()
	assert.Equal(t, ComponentCritical, health.Components[OpLogout].Status, "over half the calls failing is critical")
	assert.Equal(t, StatusCritical, health.Status)
}

func TestHealthCheckHistoryBounded(t *testing.T) {
	dm := newTestDegradationManager(t, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go dm.Run(ctx)

	assert.Eventually(t, func() bool {
		history := dm.Health().History
		return len(history) > 0 && len(history) <= 5
	}, time.Second, 10*time.Millisecond)

	time.Sleep(150 * time.Millisecond)
	assert.LessOrEqual(t, len(dm.Health().History), 5, "history never exceeds the configured cap")
}

func TestFallbackDeactivatedOnHealthCheck(t *testing.T) {
	strategies := []FallbackStrategy{
		{
			Name:     "anonymous-auth",
			Triggers: []OperationType{OpValidate},
			Actions:  []FallbackAction{{Type: ActionAnonymous}},
			Priority: 10,
		},
	}
	dm := newTestDegradationManager(t, strategies, nil)

	// Disable validate by degrading a level, route it to fallback, then
	// verify the health check clears the active marker after recovery.
	for i := 0; i < 4; i++ {
		dm.RecordOutcome(OpAuthenticate, false, time.Millisecond)
	}
	require.True(t, dm.ShouldFallback(OpValidate))

	_, strategy, err := dm.ExecuteWithFallback(context.Background(), OpValidate,
		func(ctx context.Context) (interface{}, error) {
			t.Fatal("a disabled operation must not run")
			return nil, nil
		})
	require.NoError(t, err)
	require.Equal(t, "anonymous-auth", strategy)
	require.Contains(t, dm.Health().ActiveFallbacks, "anonymous-auth")

	for i := 0; i < 4; i++ {
		dm.RecordOutcome(OpAuthenticate, true, time.Millisecond)
	}
	require.Equal(t, 0, dm.CurrentLevel())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go dm.Run(ctx)

	assert.Eventually(t, func() bool {
		return len(dm.Health().ActiveFallbacks) == 0
	}, time.Second, 10*time.Millisecond, "health checks retire fallbacks whose triggers recovered")
}
