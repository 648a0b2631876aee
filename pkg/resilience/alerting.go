package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/NikhilSetiya/statsbridge/pkg/errors"
	"github.com/NikhilSetiya/statsbridge/pkg/logging"
)

// AlertSeverity represents the severity level of an alert
type AlertSeverity int

const (
	// SeverityInfo - informational alerts
	SeverityInfo AlertSeverity = iota
	// SeverityWarning - warning alerts that need attention
	SeverityWarning
	// SeverityError - error alerts that need immediate attention
	SeverityError
	// SeverityCritical - critical alerts that need urgent attention
	SeverityCritical
)

func (s AlertSeverity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityError:
		return "ERROR"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Alert represents an alert that needs to be sent
type Alert struct {
	ID          string                 `json:"id"`
	Severity    AlertSeverity          `json:"severity"`
	Title       string                 `json:"title"`
	Description string                 `json:"description"`
	Source      string                 `json:"source"`
	Timestamp   time.Time              `json:"timestamp"`
	Tags        map[string]string      `json:"tags"`
	Metadata    map[string]interface{} `json:"metadata"`
}

// AlertHandler defines the interface for handling alerts
type AlertHandler interface {
	HandleAlert(ctx context.Context, alert Alert) error
	Name() string
}

// AlertManager manages alert generation and routing with per-source rate
// limiting
type AlertManager struct {
	handlers []AlertHandler
	mutex    sync.Mutex
	logger   *logging.Logger

	alertCounts   map[string]int
	lastReset     time.Time
	rateLimit     int
	resetInterval time.Duration
}

// NewAlertManager creates a new alert manager
func NewAlertManager() *AlertManager {
	return &AlertManager{
		logger:        logging.GetLogger(),
		alertCounts:   make(map[string]int),
		lastReset:     time.Now(),
		rateLimit:     100,
		resetInterval: time.Hour,
	}
}

// AddHandler adds an alert handler
func (am *AlertManager) AddHandler(handler AlertHandler) {
	am.mutex.Lock()
	defer am.mutex.Unlock()

	am.handlers = append(am.handlers, handler)
	am.logger.Info("Alert handler added", "handler", handler.Name())
}

// SendAlert sends an alert to all registered handlers
func (am *AlertManager) SendAlert(ctx context.Context, alert Alert) error {
	am.mutex.Lock()
	if !am.checkRateLimitLocked(alert.Source) {
		am.mutex.Unlock()
		am.logger.Warn("Alert rate limit exceeded",
			"source", alert.Source,
			"title", alert.Title,
		)
		return fmt.Errorf("alert rate limit exceeded for source: %s", alert.Source)
	}
	handlers := make([]AlertHandler, len(am.handlers))
	copy(handlers, am.handlers)
	am.mutex.Unlock()

	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now()
	}
	if alert.ID == "" {
		alert.ID = fmt.Sprintf("%s-%d", alert.Source, alert.Timestamp.UnixNano())
	}

	am.logger.Info("Sending alert",
		"id", alert.ID,
		"severity", alert.Severity.String(),
		"source", alert.Source,
		"title", alert.Title,
	)

	var lastErr error
	successCount := 0

	for _, handler := range handlers {
		if err := handler.HandleAlert(ctx, alert); err != nil {
			am.logger.Error("Alert handler failed",
				"handler", handler.Name(),
				"alert_id", alert.ID,
				"error", err,
			)
			lastErr = err
		} else {
			successCount++
		}
	}

	if successCount == 0 && lastErr != nil {
		return fmt.Errorf("all alert handlers failed: %w", lastErr)
	}
	return nil
}

func (am *AlertManager) checkRateLimitLocked(source string) bool {
	now := time.Now()
	if now.Sub(am.lastReset) >= am.resetInterval {
		am.alertCounts = make(map[string]int)
		am.lastReset = now
	}

	count := am.alertCounts[source]
	if count >= am.rateLimit {
		return false
	}

	am.alertCounts[source] = count + 1
	return true
}

// LoggingAlertHandler logs alerts to the application logger
type LoggingAlertHandler struct {
	logger *logging.Logger
}

// NewLoggingAlertHandler creates a new logging alert handler
func NewLoggingAlertHandler() *LoggingAlertHandler {
	return &LoggingAlertHandler{
		logger: logging.GetLogger(),
	}
}

// HandleAlert handles an alert by logging it
func (h *LoggingAlertHandler) HandleAlert(ctx context.Context, alert Alert) error {
	fields := []interface{}{
		"alert_id", alert.ID,
		"severity", alert.Severity.String(),
		"source", alert.Source,
		"title", alert.Title,
		"description", alert.Description,
		"timestamp", alert.Timestamp,
	}

	for key, value := range alert.Tags {
		fields = append(fields, fmt.Sprintf("tag_%s", key), value)
	}
	for key, value := range alert.Metadata {
		fields = append(fields, fmt.Sprintf("meta_%s", key), value)
	}

	switch alert.Severity {
	case SeverityInfo:
		h.logger.Info("ALERT: "+alert.Title, fields...)
	case SeverityWarning:
		h.logger.Warn("ALERT: "+alert.Title, fields...)
	case SeverityError:
		h.logger.Error("ALERT: "+alert.Title, fields...)
	case SeverityCritical:
		h.logger.Error("CRITICAL ALERT: "+alert.Title, fields...)
	}
	return nil
}

// Name returns the name of the handler
func (h *LoggingAlertHandler) Name() string {
	return "logging"
}

// ErrorAlertGenerator generates alerts from operation errors
type ErrorAlertGenerator struct {
	alertManager *AlertManager
	logger       *logging.Logger
}

// NewErrorAlertGenerator creates a new error alert generator
func NewErrorAlertGenerator(alertManager *AlertManager) *ErrorAlertGenerator {
	return &ErrorAlertGenerator{
		alertManager: alertManager,
		logger:       logging.GetLogger(),
	}
}

// HandleError processes an error and generates an appropriate alert
func (eag *ErrorAlertGenerator) HandleError(ctx context.Context, err error, source string, metadata map[string]interface{}) {
	if err == nil {
		return
	}

	alert := Alert{
		Severity:    eag.determineSeverity(err),
		Title:       eag.generateTitle(err),
		Description: err.Error(),
		Source:      source,
		Tags:        eag.generateTags(err),
		Metadata:    metadata,
	}

	if alertErr := eag.alertManager.SendAlert(ctx, alert); alertErr != nil {
		eag.logger.Error("Failed to send error alert",
			"original_error", err,
			"alert_error", alertErr,
			"source", source,
		)
	}
}

// OperationCompleted implements ProtectionObserver, turning every failed
// orchestrated run into an alert
func (eag *ErrorAlertGenerator) OperationCompleted(opType OperationType, result RunResult) {
	if result.Err == nil {
		return
	}

	eag.HandleError(context.Background(), result.Err,
		fmt.Sprintf("operation:%s", opType),
		map[string]interface{}{
			"operation_id":      result.OperationID,
			"attempts":          result.Protection.Attempts,
			"used_fallback":     result.Protection.UsedFallback,
			"degradation_level": result.Protection.DegradationLevel,
			"duration_ms":       result.Duration.Milliseconds(),
		})
}

func (eag *ErrorAlertGenerator) determineSeverity(err error) AlertSeverity {
	if IsCircuitBreakerError(err) {
		return SeverityError
	}

	switch apperrors.GetType(err) {
	case apperrors.ErrorTypeTimeout, apperrors.ErrorTypeExternal, apperrors.ErrorTypeRateLimit:
		return SeverityWarning
	case apperrors.ErrorTypeBreakerOpen, apperrors.ErrorTypeRetryExhausted:
		return SeverityError
	case apperrors.ErrorTypeFallbackExhausted:
		return SeverityCritical
	case apperrors.ErrorTypeLockUnavailable:
		return SeverityWarning
	case apperrors.ErrorTypeValidation:
		return SeverityInfo
	case apperrors.ErrorTypeAuthentication, apperrors.ErrorTypeAuthorization:
		return SeverityWarning
	default:
		return SeverityError
	}
}

func (eag *ErrorAlertGenerator) generateTitle(err error) string {
	switch apperrors.GetType(err) {
	case apperrors.ErrorTypeTimeout:
		return "Operation Timeout"
	case apperrors.ErrorTypeExternal:
		return "External Service Error"
	case apperrors.ErrorTypeRateLimit:
		return "Rate Limited"
	case apperrors.ErrorTypeBreakerOpen:
		return "Circuit Breaker Open"
	case apperrors.ErrorTypeRetryExhausted:
		return "Retry Attempts Exhausted"
	case apperrors.ErrorTypeFallbackExhausted:
		return "All Fallbacks Exhausted"
	case apperrors.ErrorTypeLockUnavailable:
		return "Operation Lock Unavailable"
	case apperrors.ErrorTypeValidation:
		return "Validation Error"
	case apperrors.ErrorTypeAuthentication:
		return "Authentication Error"
	case apperrors.ErrorTypeAuthorization:
		return "Authorization Error"
	default:
		return fmt.Sprintf("Error: %s", apperrors.GetCode(err))
	}
}

func (eag *ErrorAlertGenerator) generateTags(err error) map[string]string {
	tags := map[string]string{
		"error_type": string(apperrors.GetType(err)),
		"error_code": apperrors.GetCode(err),
	}
	if IsCircuitBreakerError(err) {
		tags["circuit_breaker"] = "true"
	}
	return tags
}

// SystemHealthMonitor watches the degradation manager and raises alerts
// when the service level or a component's health changes for the worse
type SystemHealthMonitor struct {
	alertManager *AlertManager
	degradation  *DegradationManager
	logger       *logging.Logger

	checkInterval time.Duration

	mutex     sync.Mutex
	lastLevel int
	running   bool
	stopChan  chan struct{}
}

// NewSystemHealthMonitor creates a new system health monitor
func NewSystemHealthMonitor(alertManager *AlertManager, degradation *DegradationManager) *SystemHealthMonitor {
	return &SystemHealthMonitor{
		alertManager:  alertManager,
		degradation:   degradation,
		logger:        logging.GetLogger(),
		checkInterval: 30 * time.Second,
		stopChan:      make(chan struct{}),
	}
}

// Start starts the health monitoring
func (shm *SystemHealthMonitor) Start(ctx context.Context) {
	shm.mutex.Lock()
	defer shm.mutex.Unlock()

	if shm.running {
		return
	}
	shm.running = true
	go shm.monitorLoop(ctx)
	shm.logger.Info("System health monitor started")
}

// Stop stops the health monitoring
func (shm *SystemHealthMonitor) Stop() {
	shm.mutex.Lock()
	defer shm.mutex.Unlock()

	if !shm.running {
		return
	}
	close(shm.stopChan)
	shm.running = false
	shm.logger.Info("System health monitor stopped")
}

func (shm *SystemHealthMonitor) monitorLoop(ctx context.Context) {
	ticker := time.NewTicker(shm.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-shm.stopChan:
			return
		case <-ticker.C:
			shm.checkSystemHealth(ctx)
		}
	}
}

func (shm *SystemHealthMonitor) checkSystemHealth(ctx context.Context) {
	health := shm.degradation.Health()

	shm.mutex.Lock()
	previous := shm.lastLevel
	shm.lastLevel = health.Level
	shm.mutex.Unlock()

	if health.Level != previous {
		shm.sendLevelAlert(ctx, previous, health)
	}

	for opType, component := range health.Components {
		if component.Status == ComponentCritical || component.Status == ComponentOffline {
			shm.sendComponentAlert(ctx, opType, component)
		}
	}
}

func (shm *SystemHealthMonitor) sendLevelAlert(ctx context.Context, from int, health SystemHealth) {
	severity := SeverityInfo
	switch {
	case health.Level > from && health.Status == StatusCritical:
		severity = SeverityCritical
	case health.Level > from:
		severity = SeverityWarning
	}

	alert := Alert{
		Severity: severity,
		Title:    "Service Level Changed",
		Description: fmt.Sprintf("Degradation level changed from %d to %d (%s)",
			from, health.Level, health.LevelName),
		Source: "system_health_monitor",
		Tags: map[string]string{
			"component":      "system",
			"previous_level": fmt.Sprintf("%d", from),
			"current_level":  fmt.Sprintf("%d", health.Level),
			"level_name":     health.LevelName,
		},
		Metadata: map[string]interface{}{
			"status":           string(health.Status),
			"active_fallbacks": health.ActiveFallbacks,
		},
	}

	if err := shm.alertManager.SendAlert(ctx, alert); err != nil {
		shm.logger.Error("Failed to send level alert", "error", err)
	}
}

func (shm *SystemHealthMonitor) sendComponentAlert(ctx context.Context, opType OperationType, component ComponentHealth) {
	alert := Alert{
		Severity: SeverityError,
		Title:    "Component Health Alert",
		Description: fmt.Sprintf("Operation channel %q is %s (error rate %.0f%%)",
			opType, component.Status, component.ErrorRate*100),
		Source: "system_health_monitor",
		Tags: map[string]string{
			"component":      "operation_channel",
			"operation_type": string(opType),
			"status":         string(component.Status),
		},
		Metadata: map[string]interface{}{
			"error_rate":        component.ErrorRate,
			"avg_response_time": component.AvgResponseTime.String(),
			"requests":          component.Requests,
			"last_check":        component.LastCheck,
		},
	}

	if err := shm.alertManager.SendAlert(ctx, alert); err != nil {
		shm.logger.Error("Failed to send component alert", "error", err)
	}
}
