// Package monitoring exposes request metrics and health endpoints.
package monitoring

import (
	"net/http"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

type Metrics struct {
	mu             sync.RWMutex
	RequestCount   int64            `json:"request_count"`
	AvgDurationMs  float64          `json:"avg_request_duration_ms"`
	ActiveRequests int64            `json:"active_requests"`
	ErrorCount     int64            `json:"error_count"`
	StatusCodes    map[string]int64 `json:"status_codes"`
	Endpoints      map[string]int64 `json:"endpoint_calls"`
	StartTime      time.Time        `json:"start_time"`
	LastRequest    time.Time        `json:"last_request"`
	totalDuration  time.Duration
}

// StatsProvider reports a named section of the /metrics response.
type StatsProvider func() interface{}

var globalMetrics = newMetrics()

var (
	providersMu sync.RWMutex
	providers   = make(map[string]StatsProvider)
)

func newMetrics() *Metrics {
	return &Metrics{
		StatusCodes: make(map[string]int64),
		Endpoints:   make(map[string]int64),
		StartTime:   time.Now(),
	}
}

// MetricsMiddleware records one sample per request. Unmatched routes are
// grouped under their method alone.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		globalMetrics.mu.Lock()
		globalMetrics.ActiveRequests++
		globalMetrics.mu.Unlock()

		c.Next()

		duration := time.Since(start)
		statusCode := c.Writer.Status()
		endpoint := c.Request.Method + " " + c.FullPath()
		if c.FullPath() == "" {
			endpoint = c.Request.Method + " unmatched"
		}

		globalMetrics.mu.Lock()
		defer globalMetrics.mu.Unlock()

		globalMetrics.RequestCount++
		globalMetrics.ActiveRequests--
		globalMetrics.totalDuration += duration
		globalMetrics.AvgDurationMs = float64(globalMetrics.totalDuration.Microseconds()) /
			float64(globalMetrics.RequestCount) / 1000
		globalMetrics.LastRequest = time.Now()

		if statusCode >= http.StatusBadRequest {
			globalMetrics.ErrorCount++
		}
		globalMetrics.StatusCodes[strconv.Itoa(statusCode)]++
		globalMetrics.Endpoints[endpoint]++
	}
}

func GetMetrics() *Metrics {
	globalMetrics.mu.RLock()
	defer globalMetrics.mu.RUnlock()

	metrics := &Metrics{
		RequestCount:   globalMetrics.RequestCount,
		AvgDurationMs:  globalMetrics.AvgDurationMs,
		ActiveRequests: globalMetrics.ActiveRequests,
		ErrorCount:     globalMetrics.ErrorCount,
		StatusCodes:    make(map[string]int64, len(globalMetrics.StatusCodes)),
		Endpoints:      make(map[string]int64, len(globalMetrics.Endpoints)),
		StartTime:      globalMetrics.StartTime,
		LastRequest:    globalMetrics.LastRequest,
	}

	for k, v := range globalMetrics.StatusCodes {
		metrics.StatusCodes[k] = v
	}
	for k, v := range globalMetrics.Endpoints {
		metrics.Endpoints[k] = v
	}

	return metrics
}

// ResetMetrics clears request counters and registered stats providers.
func ResetMetrics() {
	fresh := newMetrics()

	globalMetrics.mu.Lock()
	globalMetrics.RequestCount = 0
	globalMetrics.AvgDurationMs = 0
	globalMetrics.ActiveRequests = 0
	globalMetrics.ErrorCount = 0
	globalMetrics.StatusCodes = fresh.StatusCodes
	globalMetrics.Endpoints = fresh.Endpoints
	globalMetrics.StartTime = fresh.StartTime
	globalMetrics.LastRequest = time.Time{}
	globalMetrics.totalDuration = 0
	globalMetrics.mu.Unlock()

	providersMu.Lock()
	providers = make(map[string]StatsProvider)
	providersMu.Unlock()
}

func RegisterStatsProvider(name string, provider StatsProvider) {
	providersMu.Lock()
	defer providersMu.Unlock()
	providers[name] = provider
}

type SystemMetrics struct {
	Uptime         string      `json:"uptime"`
	MemoryUsage    MemoryStats `json:"memory"`
	GoroutineCount int         `json:"goroutine_count"`
	CPUCount       int         `json:"cpu_count"`
	GoVersion      string      `json:"go_version"`
}

type MemoryStats struct {
	Alloc        uint64 `json:"alloc_mb"`
	TotalAlloc   uint64 `json:"total_alloc_mb"`
	Sys          uint64 `json:"sys_mb"`
	NumGC        uint32 `json:"num_gc"`
	NextGC       uint64 `json:"next_gc_mb"`
	GCPauseTotal string `json:"gc_pause_total"`
}

func GetSystemMetrics() SystemMetrics {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return SystemMetrics{
		Uptime: uptime().String(),
		MemoryUsage: MemoryStats{
			Alloc:        bToMb(m.Alloc),
			TotalAlloc:   bToMb(m.TotalAlloc),
			Sys:          bToMb(m.Sys),
			NumGC:        m.NumGC,
			NextGC:       bToMb(m.NextGC),
			GCPauseTotal: time.Duration(m.PauseTotalNs).String(),
		},
		GoroutineCount: runtime.NumGoroutine(),
		CPUCount:       runtime.NumCPU(),
		GoVersion:      runtime.Version(),
	}
}

func bToMb(b uint64) uint64 {
	return b / 1024 / 1024
}

func uptime() time.Duration {
	globalMetrics.mu.RLock()
	defer globalMetrics.mu.RUnlock()
	return time.Since(globalMetrics.StartTime).Round(time.Second)
}

func MetricsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		response := gin.H{
			"application": GetMetrics(),
			"system":      GetSystemMetrics(),
			"timestamp":   time.Now().UTC(),
		}

		providersMu.RLock()
		for name, provider := range providers {
			response[name] = provider()
		}
		providersMu.RUnlock()

		c.JSON(http.StatusOK, response)
	}
}
