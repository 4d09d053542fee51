package health

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"quote-funnel-service/internal/metrics"
	"quote-funnel-service/internal/models"
)

const serviceName = "quote-funnel-service"

// Pinger is a dependency that answers a liveness ping
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker manages health check state
type HealthChecker struct {
	db        *gorm.DB
	cache     Pinger
	ready     atomic.Bool
	startTime time.Time
	version   string
}

// NewHealthChecker creates a new health checker instance. cache may be nil.
func NewHealthChecker(db *gorm.DB, cache Pinger, version string) *HealthChecker {
	hc := &HealthChecker{
		db:        db,
		cache:     cache,
		startTime: time.Now(),
		version:   version,
	}
	metrics.ServiceInfo.WithLabelValues(version).Set(1)
	return hc
}

// SetReady marks the service as ready to receive traffic
func (h *HealthChecker) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady returns whether the service is ready
func (h *HealthChecker) IsReady() bool {
	return h.ready.Load()
}

// CheckDatabase verifies database connectivity
func (h *HealthChecker) CheckDatabase(ctx context.Context) error {
	sqlDB, err := h.db.DB()
	if err != nil {
		metrics.DBConnectionStatus.Set(0)
		return err
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		metrics.DBConnectionStatus.Set(0)
		return err
	}

	metrics.DBConnectionStatus.Set(1)
	return nil
}

// CheckCache verifies the session store
func (h *HealthChecker) CheckCache(ctx context.Context) error {
	if h.cache == nil {
		return nil
	}
	return h.cache.Ping(ctx)
}

// LivezHandler returns 200 while the process runs
func (h *HealthChecker) LivezHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "alive",
	})
}

// ReadyzHandler returns 200 only if the database and session store answer
func (h *HealthChecker) ReadyzHandler(c *gin.Context) {
	if !h.IsReady() {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not_ready",
			"reason": "service not initialized",
		})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]string{"database": "ok", "cache": "ok"}
	ready := true
	if err := h.CheckDatabase(ctx); err != nil {
		checks["database"] = err.Error()
		ready = false
	}
	if err := h.CheckCache(ctx); err != nil {
		checks["cache"] = err.Error()
		ready = false
	}

	resp := models.HealthResponse{
		Status:    "ready",
		Service:   serviceName,
		Timestamp: time.Now().UTC(),
		Checks:    checks,
	}
	if !ready {
		resp.Status = "not_ready"
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HealthHandler reports dependency status without failing the probe
func (h *HealthChecker) HealthHandler(c *gin.Context) {
	dbStatus := "connected"
	if err := h.CheckDatabase(c.Request.Context()); err != nil {
		dbStatus = "disconnected"
	}
	cacheStatus := "connected"
	if err := h.CheckCache(c.Request.Context()); err != nil {
		cacheStatus = "disconnected"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": serviceName,
		"version": h.version,
		"uptime":  time.Since(h.startTime).String(),
		"database": gin.H{
			"status": dbStatus,
		},
		"cache": gin.H{
			"status": cacheStatus,
		},
	})
}

// MetricsHandler returns Prometheus metrics handler
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// MetricsMiddleware records HTTP request metrics
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		c.Next()

		duration := time.Since(start).Seconds()
		statusStr := http.StatusText(c.Writer.Status())
		if statusStr == "" {
			statusStr = "unknown"
		}

		// Skip metrics for probes to avoid noise
		if path != "/livez" && path != "/ready" && path != "/metrics" && path != "/health" {
			metrics.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, statusStr).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(duration)
		}
	}
}
