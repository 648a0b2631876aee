package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/NikhilSetiya/statsbridge/pkg/resilience"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight *prometheus.GaugeVec

	// Operation metrics
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	RetryAttempts     *prometheus.CounterVec

	// Circuit breaker metrics
	BreakerState *prometheus.GaugeVec
	BreakerTrips *prometheus.CounterVec

	// Lock metrics
	LockAcquisitions *prometheus.CounterVec
	LockWaitDuration *prometheus.HistogramVec
	LocksHeld        *prometheus.GaugeVec
	DeadlocksTotal   *prometheus.CounterVec

	// Degradation metrics
	DegradationLevel   *prometheus.GaugeVec
	FallbackExecutions *prometheus.CounterVec

	// Cache metrics
	CacheOperationDuration *prometheus.HistogramVec
	CacheHitRatio          *prometheus.GaugeVec

	// Error metrics
	ErrorsTotal *prometheus.CounterVec
	PanicsTotal *prometheus.CounterVec
}

// Config holds metrics configuration
type Config struct {
	Namespace string `json:"namespace"`
	Subsystem string `json:"subsystem"`
	Enabled   bool   `json:"enabled"`
}

// DefaultConfig returns default metrics configuration
func DefaultConfig() *Config {
	return &Config{
		Namespace: "statsbridge",
		Subsystem: "",
		Enabled:   true,
	}
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(config *Config) *Metrics {
	if config == nil {
		config = DefaultConfig()
	}

	if !config.Enabled {
		return &Metrics{}
	}

	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestsInFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "http_requests_in_flight",
				Help:      "Number of HTTP requests currently being processed",
			},
			[]string{"method", "path"},
		),

		OperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "operations_total",
				Help:      "Total number of protected operations",
			},
			[]string{"operation_type", "status", "used_fallback"},
		),
		OperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "operation_duration_seconds",
				Help:      "End-to-end protected operation duration in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"operation_type", "status"},
		),
		RetryAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "retry_attempts_total",
				Help:      "Total number of operation attempts, including first tries",
			},
			[]string{"operation_type"},
		),

		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state (0 closed, 1 open, 2 half-open)",
			},
			[]string{"breaker"},
		),
		BreakerTrips: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "circuit_breaker_trips_total",
				Help:      "Total number of circuit breaker transitions to open",
			},
			[]string{"breaker"},
		),

		LockAcquisitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "lock_acquisitions_total",
				Help:      "Total number of lock acquisition outcomes",
			},
			[]string{"operation_type", "outcome"},
		),
		LockWaitDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "lock_wait_duration_seconds",
				Help:      "Time spent waiting for operation locks",
				Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
			},
			[]string{"operation_type"},
		),
		LocksHeld: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "locks_held",
				Help:      "Number of operation locks currently held",
			},
			[]string{"operation_type"},
		),
		DeadlocksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "deadlocks_resolved_total",
				Help:      "Total number of forcibly resolved lock conflicts",
			},
			[]string{"operation_type"},
		),

		DegradationLevel: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "degradation_level",
				Help:      "Current service degradation level",
			},
			[]string{"system"},
		),
		FallbackExecutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "fallback_executions_total",
				Help:      "Total number of operations served by a fallback strategy",
			},
			[]string{"operation_type", "strategy"},
		),

		CacheOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "cache_operation_duration_seconds",
				Help:      "Cache operation duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"operation", "cache_type"},
		),
		CacheHitRatio: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "cache_hit_ratio",
				Help:      "Cache hit ratio",
			},
			[]string{"cache_type"},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "errors_total",
				Help:      "Total number of errors",
			},
			[]string{"component", "error_type"},
		),
		PanicsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "panics_total",
				Help:      "Total number of panics",
			},
			[]string{"component"},
		),
	}

	prometheus.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.OperationsTotal,
		m.OperationDuration,
		m.RetryAttempts,
		m.BreakerState,
		m.BreakerTrips,
		m.LockAcquisitions,
		m.LockWaitDuration,
		m.LocksHeld,
		m.DeadlocksTotal,
		m.DegradationLevel,
		m.FallbackExecutions,
		m.CacheOperationDuration,
		m.CacheHitRatio,
		m.ErrorsTotal,
		m.PanicsTotal,
	)

	return m
}

// RecordHTTPRequest records HTTP request metrics
func (m *Metrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	if m.HTTPRequestsTotal == nil {
		return
	}

	statusStr := strconv.Itoa(statusCode)
	m.HTTPRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, statusStr).Observe(duration.Seconds())
}

// OperationCompleted implements resilience.ProtectionObserver, folding the
// outcome of every orchestrated run into the operation counters
func (m *Metrics) OperationCompleted(opType resilience.OperationType, result resilience.RunResult) {
	if m.OperationsTotal == nil {
		return
	}

	status := "success"
	if !result.Success {
		status = "failure"
	}

	m.OperationsTotal.WithLabelValues(string(opType), status,
		strconv.FormatBool(result.Protection.UsedFallback)).Inc()
	m.OperationDuration.WithLabelValues(string(opType), status).Observe(result.Duration.Seconds())

	if result.Protection.Attempts > 0 {
		m.RetryAttempts.WithLabelValues(string(opType)).Add(float64(result.Protection.Attempts))
	}
	if result.Protection.UsedLock {
		outcome := "granted"
		if result.Err != nil && result.Protection.Attempts == 0 && !result.Protection.UsedFallback {
			outcome = "rejected"
		}
		m.LockAcquisitions.WithLabelValues(string(opType), outcome).Inc()
		m.LockWaitDuration.WithLabelValues(string(opType)).Observe(result.Protection.LockWaitTime.Seconds())
	}
	if result.Protection.UsedFallback {
		m.FallbackExecutions.WithLabelValues(string(opType), result.Protection.FallbackStrategy).Inc()
	}
}

// BreakerStateChanged is wired as the breaker OnStateChange callback
func (m *Metrics) BreakerStateChanged(name string, from, to resilience.CircuitState) {
	if m.BreakerState == nil {
		return
	}

	m.BreakerState.WithLabelValues(name).Set(float64(to))
	if to == resilience.StateOpen {
		m.BreakerTrips.WithLabelValues(name).Inc()
	}
}

// RecordCacheOperation records cache operation metrics
func (m *Metrics) RecordCacheOperation(operation, cacheType string, duration time.Duration) {
	if m.CacheOperationDuration == nil {
		return
	}

	m.CacheOperationDuration.WithLabelValues(operation, cacheType).Observe(duration.Seconds())
}

// UpdateCacheHitRatio updates cache hit ratio metrics
func (m *Metrics) UpdateCacheHitRatio(cacheType string, ratio float64) {
	if m.CacheHitRatio == nil {
		return
	}

	m.CacheHitRatio.WithLabelValues(cacheType).Set(ratio)
}

// RecordError records error metrics
func (m *Metrics) RecordError(component, errorType string) {
	if m.ErrorsTotal == nil {
		return
	}

	m.ErrorsTotal.WithLabelValues(component, errorType).Inc()
}

// RecordPanic records panic metrics
func (m *Metrics) RecordPanic(component string) {
	if m.PanicsTotal == nil {
		return
	}

	m.PanicsTotal.WithLabelValues(component).Inc()
}

// PrometheusMiddleware creates a middleware for Prometheus metrics collection
func (m *Metrics) PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m.HTTPRequestsInFlight != nil {
			m.HTTPRequestsInFlight.WithLabelValues(c.Request.Method, c.FullPath()).Inc()
			defer m.HTTPRequestsInFlight.WithLabelValues(c.Request.Method, c.FullPath()).Dec()
		}

		start := time.Now()
		c.Next()
		duration := time.Since(start)

		m.RecordHTTPRequest(c.Request.Method, c.FullPath(), c.Writer.Status(), duration)
	}
}

// Handler returns the Prometheus metrics HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}

// Collector periodically samples the lock table and the degradation
// manager into gauges that have no natural event hook
type Collector struct {
	metrics     *Metrics
	locks       *resilience.LockManager
	degradation *resilience.DegradationManager
	interval    time.Duration
	stopCh      chan struct{}

	lastDeadlocks map[resilience.OperationType]int
}

// NewCollector creates a new gauge collector
func NewCollector(metrics *Metrics, locks *resilience.LockManager, degradation *resilience.DegradationManager, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		metrics:       metrics,
		locks:         locks,
		degradation:   degradation,
		interval:      interval,
		stopCh:        make(chan struct{}),
		lastDeadlocks: make(map[resilience.OperationType]int),
	}
}

// Start begins metrics collection
func (c *Collector) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.collect()
		}
	}
}

// Stop stops metrics collection
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	if c.metrics.LocksHeld == nil {
		return
	}

	if c.locks != nil {
		snapshot := c.locks.Snapshot()
		held := make(map[resilience.OperationType]int)
		for _, lock := range snapshot.Active {
			held[lock.OperationType]++
		}
		for _, opType := range resilience.OperationTypes() {
			c.metrics.LocksHeld.WithLabelValues(string(opType)).Set(float64(held[opType]))
		}

		byType := make(map[resilience.OperationType]int)
		for _, record := range snapshot.Deadlocks {
			byType[record.OperationType]++
		}
		for opType, count := range byType {
			if delta := count - c.lastDeadlocks[opType]; delta > 0 {
				c.metrics.DeadlocksTotal.WithLabelValues(string(opType)).Add(float64(delta))
			}
			c.lastDeadlocks[opType] = count
		}
	}

	if c.degradation != nil {
		c.metrics.DegradationLevel.WithLabelValues("statsbridge").Set(float64(c.degradation.CurrentLevel()))
	}
}
