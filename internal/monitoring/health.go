package monitoring

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"

	checkTimeout = 5 * time.Second
)

type HealthCheckFunc func(ctx context.Context) error

type HealthCheck struct {
	Name     string    `json:"name"`
	Status   string    `json:"status"`
	Critical bool      `json:"critical"`
	Message  string    `json:"message,omitempty"`
	Duration string    `json:"duration"`
	LastRun  time.Time `json:"last_run"`
}

type registeredCheck struct {
	fn       HealthCheckFunc
	critical bool
}

type HealthChecker struct {
	mu     sync.RWMutex
	checks map[string]registeredCheck
}

var globalHealthChecker = &HealthChecker{
	checks: make(map[string]registeredCheck),
}

// RegisterHealthCheck adds or replaces a named critical check. Checks run on
// every health and readiness request; a failing critical check takes the
// instance out of readiness.
func RegisterHealthCheck(name string, checkFunc HealthCheckFunc) {
	register(name, checkFunc, true)
}

// RegisterOptionalHealthCheck adds a check for a dependency the service can
// run without. A failure degrades /health but leaves readiness alone.
func RegisterOptionalHealthCheck(name string, checkFunc HealthCheckFunc) {
	register(name, checkFunc, false)
}

func register(name string, checkFunc HealthCheckFunc, critical bool) {
	globalHealthChecker.mu.Lock()
	defer globalHealthChecker.mu.Unlock()
	globalHealthChecker.checks[name] = registeredCheck{fn: checkFunc, critical: critical}
}

func ResetHealthChecks() {
	globalHealthChecker.mu.Lock()
	defer globalHealthChecker.mu.Unlock()
	globalHealthChecker.checks = make(map[string]registeredCheck)
}

// RunHealthChecks runs every registered check concurrently, each bounded by
// its own timeout derived from ctx.
func RunHealthChecks(ctx context.Context) map[string]HealthCheck {
	globalHealthChecker.mu.RLock()
	names := make([]string, 0, len(globalHealthChecker.checks))
	registered := make([]registeredCheck, 0, len(globalHealthChecker.checks))
	for name, check := range globalHealthChecker.checks {
		names = append(names, name)
		registered = append(registered, check)
	}
	globalHealthChecker.mu.RUnlock()

	results := make([]HealthCheck, len(names))
	var wg sync.WaitGroup
	for i := range names {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = runCheck(ctx, names[i], registered[i])
		}(i)
	}
	wg.Wait()

	out := make(map[string]HealthCheck, len(results))
	for _, result := range results {
		out[result.Name] = result
	}
	return out
}

func runCheck(ctx context.Context, name string, registered registeredCheck) HealthCheck {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	start := time.Now()
	check := HealthCheck{
		Name:     name,
		Status:   StatusHealthy,
		Critical: registered.critical,
		LastRun:  start.UTC(),
	}
	if err := registered.fn(ctx); err != nil {
		check.Status = StatusUnhealthy
		check.Message = err.Error()
	}
	check.Duration = time.Since(start).String()
	return check
}

func allHealthy(checks map[string]HealthCheck) bool {
	return len(failing(checks, false)) == 0
}

// failing lists the unhealthy checks by name, only critical ones when
// criticalOnly is set.
func failing(checks map[string]HealthCheck, criticalOnly bool) []string {
	var names []string
	for name, check := range checks {
		if check.Status != StatusHealthy && (check.Critical || !criticalOnly) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func HealthHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := RunHealthChecks(c.Request.Context())

		overallStatus := StatusHealthy
		status := http.StatusOK
		switch {
		case len(failing(checks, true)) > 0:
			overallStatus = StatusUnhealthy
			status = http.StatusServiceUnavailable
		case !allHealthy(checks):
			overallStatus = StatusDegraded
		}

		c.JSON(status, gin.H{
			"status":    overallStatus,
			"timestamp": time.Now().UTC(),
			"checks":    checks,
			"uptime":    uptime().String(),
		})
	}
}

func ReadinessHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := RunHealthChecks(c.Request.Context())

		critical := failing(checks, true)
		if len(critical) == 0 {
			c.JSON(http.StatusOK, gin.H{
				"status":    "ready",
				"timestamp": time.Now().UTC(),
			})
			return
		}

		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":    "not ready",
			"failing":   critical,
			"timestamp": time.Now().UTC(),
		})
	}
}

func LivenessHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "alive",
			"timestamp": time.Now().UTC(),
			"uptime":    uptime().String(),
		})
	}
}

// RegisterRoutes mounts the health and metrics endpoints on r.
func RegisterRoutes(r gin.IRouter) {
	r.GET("/health", HealthHandler())
	r.GET("/health/ready", ReadinessHandler())
	r.GET("/health/live", LivenessHandler())
	r.GET("/metrics", MetricsHandler())
}
