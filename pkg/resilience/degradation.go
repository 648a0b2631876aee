package resilience

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	apperrors "github.com/NikhilSetiya/statsbridge/pkg/errors"
	"github.com/NikhilSetiya/statsbridge/pkg/logging"
)

// ComponentStatus classifies the health of one operation channel
type ComponentStatus string

const (
	ComponentHealthy  ComponentStatus = "healthy"
	ComponentDegraded ComponentStatus = "degraded"
	ComponentCritical ComponentStatus = "critical"
	ComponentOffline  ComponentStatus = "offline"
)

// OverallStatus classifies the health of the whole system
type OverallStatus string

const (
	StatusHealthy  OverallStatus = "healthy"
	StatusDegraded OverallStatus = "degraded"
	StatusCritical OverallStatus = "critical"
	StatusOffline  OverallStatus = "offline"
)

// DegradationLevel is a static configuration entry describing one numbered
// operating mode. Levels are totally ordered 0..maxLevel; level 0 must have
// an empty disabled set.
type DegradationLevel struct {
	Level            int             `json:"level"`
	Name             string          `json:"name"`
	EnabledFeatures  []OperationType `json:"enabled_features,omitempty"`
	DisabledFeatures []OperationType `json:"disabled_features,omitempty"`
	MaxResponseTime  time.Duration   `json:"max_response_time"`
	MaxErrorRate     float64         `json:"max_error_rate"`
	MinSuccessRate   float64         `json:"min_success_rate"`
	UseCache         bool            `json:"use_cache"`
	AllowAnonymous   bool            `json:"allow_anonymous"`
	SkipValidation   bool            `json:"skip_validation"`
	SimplifiedAuth   bool            `json:"simplified_auth"`
}

// DefaultDegradationLevels returns the built-in four-step ladder
func DefaultDegradationLevels() []DegradationLevel {
	return []DegradationLevel{
		{
			Level:           0,
			Name:            "normal",
			MaxResponseTime: 2 * time.Second,
			MaxErrorRate:    0.05,
			MinSuccessRate:  0.95,
		},
		{
			Level:            1,
			Name:             "reduced",
			DisabledFeatures: []OperationType{OpValidate},
			MaxResponseTime:  5 * time.Second,
			MaxErrorRate:     0.15,
			MinSuccessRate:   0.85,
			UseCache:         true,
			SkipValidation:   true,
		},
		{
			Level:            2,
			Name:             "minimal",
			DisabledFeatures: []OperationType{OpValidate, OpRefresh},
			MaxResponseTime:  10 * time.Second,
			MaxErrorRate:     0.30,
			MinSuccessRate:   0.70,
			UseCache:         true,
			SkipValidation:   true,
			SimplifiedAuth:   true,
		},
		{
			Level:            3,
			Name:             "survival",
			DisabledFeatures: []OperationType{OpValidate, OpRefresh, OpLogout},
			MaxResponseTime:  30 * time.Second,
			MaxErrorRate:     0.50,
			MinSuccessRate:   0.50,
			UseCache:         true,
			AllowAnonymous:   true,
			SkipValidation:   true,
			SimplifiedAuth:   true,
		},
	}
}

// ComponentHealth is a snapshot of one operation channel's health
type ComponentHealth struct {
	Status          ComponentStatus `json:"status"`
	AvgResponseTime time.Duration   `json:"avg_response_time"`
	ErrorRate       float64         `json:"error_rate"`
	SuccessRate     float64         `json:"success_rate"`
	Requests        int             `json:"requests"`
	LastCheck       time.Time       `json:"last_check"`
}

// HealthSnapshot is one entry of the periodic health-check history
type HealthSnapshot struct {
	Status          OverallStatus                     `json:"status"`
	Level           int                               `json:"level"`
	TakenAt         time.Time                         `json:"taken_at"`
	Components      map[OperationType]ComponentHealth `json:"components"`
	ActiveFallbacks []string                          `json:"active_fallbacks"`
}

// SystemHealth is the live health model exposed to observability callers
type SystemHealth struct {
	Status          OverallStatus                     `json:"status"`
	Level           int                               `json:"level"`
	LevelName       string                            `json:"level_name"`
	Components      map[OperationType]ComponentHealth `json:"components"`
	ActiveFallbacks []string                          `json:"active_fallbacks"`
	History         []HealthSnapshot                  `json:"history"`
}

// DegradationManagerConfig holds degradation manager configuration
type DegradationManagerConfig struct {
	// DegradationThreshold is the rolling failure rate that pushes the
	// system one level down
	DegradationThreshold float64
	// RecoveryThreshold is the rolling success rate that lifts the system
	// one level up when auto recovery is enabled
	RecoveryThreshold float64
	// MinSampleSize is the minimum rolling sample before either threshold
	// is evaluated
	MinSampleSize int
	// AutoRecovery enables automatic level decrements
	AutoRecovery bool
	// HealthCheckInterval drives the periodic health check
	HealthCheckInterval time.Duration
	// HistorySize bounds the retained health-check snapshots
	HistorySize int
}

type rollingCounter struct {
	successes     int
	failures      int
	totalDuration time.Duration
}

func (c *rollingCounter) total() int { return c.successes + c.failures }

func (c *rollingCounter) failureRate() float64 {
	if c.total() == 0 {
		return 0
	}
	return float64(c.failures) / float64(c.total())
}

func (c *rollingCounter) successRate() float64 {
	if c.total() == 0 {
		return 0
	}
	return float64(c.successes) / float64(c.total())
}

func (c *rollingCounter) avgDuration() time.Duration {
	if c.total() == 0 {
		return 0
	}
	return c.totalDuration / time.Duration(c.total())
}

func (c *rollingCounter) reset() {
	c.successes = 0
	c.failures = 0
	c.totalDuration = 0
}

// DegradationManager maintains the system-health model, the current
// degradation level, and the ordered fallback strategies. It decides when
// an operation is routed to a fallback instead of the real implementation
// and when failures push the system to a lower service level.
type DegradationManager struct {
	config     DegradationManagerConfig
	levels     []DegradationLevel
	strategies []FallbackStrategy
	executor   ActionExecutor
	logger     *logging.Logger

	mutex           sync.Mutex
	currentLevel    int
	counters        map[OperationType]*rollingCounter
	components      map[OperationType]ComponentHealth
	activeFallbacks map[string]struct{}
	history         []HealthSnapshot
}

// NewDegradationManager creates a degradation manager. Malformed level or
// strategy configuration is fatal here, never at call time.
func NewDegradationManager(config DegradationManagerConfig, levels []DegradationLevel, strategies []FallbackStrategy, executor ActionExecutor) (*DegradationManager, error) {
	if config.DegradationThreshold <= 0 || config.DegradationThreshold > 1 {
		config.DegradationThreshold = 0.5
	}
	if config.RecoveryThreshold <= 0 || config.RecoveryThreshold > 1 {
		config.RecoveryThreshold = 0.9
	}
	if config.MinSampleSize <= 0 {
		config.MinSampleSize = 10
	}
	if config.HealthCheckInterval <= 0 {
		config.HealthCheckInterval = 30 * time.Second
	}
	if config.HistorySize <= 0 {
		config.HistorySize = 100
	}

	if len(levels) == 0 {
		levels = DefaultDegradationLevels()
	}
	for i, level := range levels {
		if level.Level != i {
			return nil, fmt.Errorf("degradation levels must be contiguous from 0, got %d at index %d", level.Level, i)
		}
	}
	if len(levels[0].DisabledFeatures) != 0 {
		return nil, fmt.Errorf("degradation level 0 must not disable features")
	}

	for _, strategy := range strategies {
		if err := strategy.Validate(); err != nil {
			return nil, err
		}
	}
	sorted := make([]FallbackStrategy, len(strategies))
	copy(sorted, strategies)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority > sorted[j].Priority
	})

	if executor == nil {
		executor = NewDefaultActionExecutor(nil)
	}

	dm := &DegradationManager{
		config:          config,
		levels:          levels,
		strategies:      sorted,
		executor:        executor,
		logger:          logging.GetLogger(),
		counters:        make(map[OperationType]*rollingCounter),
		components:      make(map[OperationType]ComponentHealth),
		activeFallbacks: make(map[string]struct{}),
	}
	return dm, nil
}

// MaxLevel returns the highest configured degradation level
func (dm *DegradationManager) MaxLevel() int {
	return len(dm.levels) - 1
}

// CurrentLevel returns the current degradation level
func (dm *DegradationManager) CurrentLevel() int {
	dm.mutex.Lock()
	defer dm.mutex.Unlock()
	return dm.currentLevel
}

// RecordOutcome updates the rolling counters and the component health for
// one raw operation outcome, degrading or recovering the service level
// when the configured thresholds are crossed
func (dm *DegradationManager) RecordOutcome(opType OperationType, success bool, duration time.Duration) {
	dm.mutex.Lock()
	defer dm.mutex.Unlock()

	counter := dm.counters[opType]
	if counter == nil {
		counter = &rollingCounter{}
		dm.counters[opType] = counter
	}
	if success {
		counter.successes++
	} else {
		counter.failures++
	}
	counter.totalDuration += duration

	dm.components[opType] = dm.deriveComponentLocked(counter)

	if counter.total() < dm.config.MinSampleSize {
		return
	}

	if counter.failureRate() > dm.config.DegradationThreshold {
		dm.degradeLocked(opType, counter)
		return
	}

	if dm.config.AutoRecovery && dm.currentLevel > 0 &&
		counter.successRate() >= dm.config.RecoveryThreshold {
		dm.recoverLocked(opType, counter)
	}
}

// deriveComponentLocked computes component status from the rolling window;
// callers must hold the mutex
func (dm *DegradationManager) deriveComponentLocked(counter *rollingCounter) ComponentHealth {
	health := ComponentHealth{
		Status:          ComponentHealthy,
		AvgResponseTime: counter.avgDuration(),
		ErrorRate:       counter.failureRate(),
		SuccessRate:     counter.successRate(),
		Requests:        counter.total(),
		LastCheck:       time.Now(),
	}

	target := dm.levels[dm.currentLevel].MaxResponseTime
	switch {
	case health.ErrorRate > 0.5:
		health.Status = ComponentCritical
	case health.ErrorRate > 0.25:
		health.Status = ComponentDegraded
	case target > 0 && health.AvgResponseTime > target:
		health.Status = ComponentDegraded
	}
	return health
}

func (dm *DegradationManager) degradeLocked(opType OperationType, counter *rollingCounter) {
	if dm.currentLevel >= dm.MaxLevel() {
		counter.reset()
		return
	}

	from := dm.currentLevel
	dm.currentLevel++
	counter.reset()

	dm.logger.Warn("Service level degraded",
		"operation_type", string(opType),
		"from_level", from,
		"to_level", dm.currentLevel,
		"level_name", dm.levels[dm.currentLevel].Name,
	)
}

func (dm *DegradationManager) recoverLocked(opType OperationType, counter *rollingCounter) {
	from := dm.currentLevel
	dm.currentLevel--
	counter.reset()

	dm.logger.Info("Service level recovered",
		"operation_type", string(opType),
		"from_level", from,
		"to_level", dm.currentLevel,
		"level_name", dm.levels[dm.currentLevel].Name,
	)
}

// ShouldFallback reports whether the current degradation level disables
// the operation type, forcing it straight to fallback routing
func (dm *DegradationManager) ShouldFallback(opType OperationType) bool {
	dm.mutex.Lock()
	defer dm.mutex.Unlock()
	return dm.shouldFallbackLocked(opType)
}

func (dm *DegradationManager) shouldFallbackLocked(opType OperationType) bool {
	for _, disabled := range dm.levels[dm.currentLevel].DisabledFeatures {
		if disabled == opType {
			return true
		}
	}
	return false
}

// ExecuteWithFallback runs the operation with degradation routing. When
// the operation type is disabled at the current level, or when the raw
// operation fails, the applicable fallback strategies are tried in
// descending priority order, each strategy's actions in order, until one
// succeeds. The name of the winning strategy is returned and recorded as
// active. With no surviving strategy, the original failure propagates.
func (dm *DegradationManager) ExecuteWithFallback(ctx context.Context, opType OperationType, operation Operation) (interface{}, string, error) {
	var originalErr error

	if !dm.ShouldFallback(opType) {
		start := time.Now()
		result, err := operation(ctx)
		dm.RecordOutcome(opType, err == nil, time.Since(start))
		if err == nil {
			return result, "", nil
		}
		originalErr = err
	}

	inv := FallbackInvocation{
		OperationType: opType,
		Operation:     operation,
		OriginalErr:   originalErr,
	}

	tried := 0
	for _, strategy := range dm.strategies {
		if !strategy.AppliesTo(opType) {
			continue
		}
		tried++

		result, err := dm.runStrategy(ctx, strategy, inv)
		if err == nil {
			dm.markFallbackActive(strategy.Name)
			return result, strategy.Name, nil
		}

		dm.logger.Debug("Fallback strategy failed",
			"strategy", strategy.Name,
			"operation_type", string(opType),
			"error", err.Error(),
		)
	}

	if tried == 0 && originalErr != nil {
		return nil, "", originalErr
	}
	return nil, "", apperrors.NewFallbackExhaustedError(string(opType), originalErr)
}

func (dm *DegradationManager) runStrategy(ctx context.Context, strategy FallbackStrategy, inv FallbackInvocation) (interface{}, error) {
	if strategy.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, strategy.Timeout)
		defer cancel()
	}

	var lastErr error
	for _, action := range strategy.Actions {
		result, err := dm.executor.Execute(ctx, action, inv)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

func (dm *DegradationManager) markFallbackActive(name string) {
	dm.mutex.Lock()
	defer dm.mutex.Unlock()

	if _, exists := dm.activeFallbacks[name]; !exists {
		dm.activeFallbacks[name] = struct{}{}
		dm.logger.Info("Fallback strategy activated", "strategy", name)
	}
}

// Health returns the current system-health snapshot
func (dm *DegradationManager) Health() SystemHealth {
	dm.mutex.Lock()
	defer dm.mutex.Unlock()
	return dm.healthLocked()
}

func (dm *DegradationManager) healthLocked() SystemHealth {
	components := make(map[OperationType]ComponentHealth, len(dm.components))
	for opType, health := range dm.components {
		components[opType] = health
	}

	fallbacks := make([]string, 0, len(dm.activeFallbacks))
	for name := range dm.activeFallbacks {
		fallbacks = append(fallbacks, name)
	}
	sort.Strings(fallbacks)

	history := make([]HealthSnapshot, len(dm.history))
	copy(history, dm.history)

	return SystemHealth{
		Status:          dm.overallStatusLocked(),
		Level:           dm.currentLevel,
		LevelName:       dm.levels[dm.currentLevel].Name,
		Components:      components,
		ActiveFallbacks: fallbacks,
		History:         history,
	}
}

// overallStatusLocked derives the system status from the component
// statuses and the current level; callers must hold the mutex
func (dm *DegradationManager) overallStatusLocked() OverallStatus {
	worst := StatusHealthy
	for _, component := range dm.components {
		switch component.Status {
		case ComponentOffline:
			return StatusOffline
		case ComponentCritical:
			worst = StatusCritical
		case ComponentDegraded:
			if worst == StatusHealthy {
				worst = StatusDegraded
			}
		}
	}

	if dm.currentLevel >= dm.MaxLevel() && dm.MaxLevel() > 0 {
		return StatusCritical
	}
	if dm.currentLevel > 0 && worst == StatusHealthy {
		return StatusDegraded
	}
	return worst
}

// Run drives the periodic health check until the context is cancelled
func (dm *DegradationManager) Run(ctx context.Context) {
	ticker := time.NewTicker(dm.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			dm.healthCheck()
		}
	}
}

// healthCheck recomputes overall status, appends a bounded history
// snapshot, and prunes fallback names whose trigger conditions no longer
// hold at the current level
func (dm *DegradationManager) healthCheck() {
	dm.mutex.Lock()
	defer dm.mutex.Unlock()

	snapshot := HealthSnapshot{
		Status:  dm.overallStatusLocked(),
		Level:   dm.currentLevel,
		TakenAt: time.Now(),
	}
	snapshot.Components = make(map[OperationType]ComponentHealth, len(dm.components))
	for opType, health := range dm.components {
		snapshot.Components[opType] = health
	}

	for name := range dm.activeFallbacks {
		if !dm.fallbackStillTriggeredLocked(name) {
			delete(dm.activeFallbacks, name)
			dm.logger.Info("Fallback strategy deactivated", "strategy", name)
		}
	}
	for name := range dm.activeFallbacks {
		snapshot.ActiveFallbacks = append(snapshot.ActiveFallbacks, name)
	}
	sort.Strings(snapshot.ActiveFallbacks)

	dm.history = append(dm.history, snapshot)
	if len(dm.history) > dm.config.HistorySize {
		dm.history = dm.history[len(dm.history)-dm.config.HistorySize:]
	}
}

func (dm *DegradationManager) fallbackStillTriggeredLocked(name string) bool {
	for _, strategy := range dm.strategies {
		if strategy.Name != name {
			continue
		}
		for _, trigger := range strategy.Triggers {
			if dm.shouldFallbackLocked(trigger) {
				return true
			}
		}
	}
	return false
}
