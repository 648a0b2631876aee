package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/NikhilSetiya/statsbridge/internal/analytics"
	"github.com/NikhilSetiya/statsbridge/internal/cache"
	"github.com/NikhilSetiya/statsbridge/pkg/metrics"
	"github.com/NikhilSetiya/statsbridge/pkg/resilience"
)

// Dependencies holds everything the router wires together
type Dependencies struct {
	Sessions    *analytics.SessionService
	Breakers    *resilience.BreakerRegistry
	Locks       *resilience.LockManager
	Degradation *resilience.DegradationManager
	Retrier     *resilience.Retrier
	Cache       *cache.Service
	Metrics     *metrics.Metrics
	Tracing     gin.HandlerFunc
}

// NewRouter creates the HTTP router with all routes and middleware
func NewRouter(deps Dependencies) *gin.Engine {
	router := gin.New()

	router.Use(RecoveryMiddleware())
	router.Use(RequestIDMiddleware())
	router.Use(SecurityHeadersMiddleware())
	router.Use(CORSMiddleware())
	router.Use(LoggingMiddleware())
	if deps.Tracing != nil {
		router.Use(deps.Tracing)
	}
	if deps.Metrics != nil {
		router.Use(deps.Metrics.PrometheusMiddleware())
	}

	router.GET("/health", healthHandler(deps.Cache))
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	v1 := router.Group("/api/v1")
	{
		sessions := NewSessionHandler(deps.Sessions)
		v1.POST("/sessions", sessions.Authenticate)
		v1.POST("/sessions/refresh", sessions.Refresh)
		v1.POST("/sessions/logout", sessions.Logout)
		v1.POST("/sessions/validate", sessions.Validate)

		status := NewStatusHandler(deps.Breakers, deps.Locks, deps.Degradation, deps.Retrier)
		v1.GET("/status/circuit", status.GetCircuitStatus)
		v1.GET("/status/degradation", status.GetDegradationStatus)
		v1.GET("/status/locks", status.GetLockStatus)
		v1.GET("/status/retry", status.GetRetryStatus)
	}

	return router
}

// healthHandler reports service liveness and cache reachability
func healthHandler(cacheService *cache.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		health := gin.H{
			"status":    "healthy",
			"timestamp": time.Now(),
		}

		if cacheService != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := cacheService.Ping(ctx); err != nil {
				health["status"] = "degraded"
				health["cache"] = "unreachable"
				c.JSON(http.StatusServiceUnavailable, health)
				return
			}
			health["cache"] = "ok"
		}

		c.JSON(http.StatusOK, health)
	}
}
