package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ResetMetrics()
	ResetHealthChecks()
	t.Cleanup(func() {
		ResetMetrics()
		ResetHealthChecks()
	})

	router := gin.New()
	router.Use(MetricsMiddleware())
	RegisterRoutes(router)
	router.GET("/api/todos/:id/", func(c *gin.Context) {
		if c.Param("id") == "404" {
			c.JSON(http.StatusNotFound, gin.H{"error": "todo not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": c.Param("id")})
	})
	return router
}

func get(router *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestMetricsMiddleware_CountsRequests(t *testing.T) {
	router := setupRouter(t)

	get(router, "/api/todos/1/")
	get(router, "/api/todos/2/")
	get(router, "/api/todos/404/")
	get(router, "/nowhere")

	metrics := GetMetrics()
	assert.Equal(t, int64(4), metrics.RequestCount)
	assert.Equal(t, int64(2), metrics.ErrorCount)
	assert.Equal(t, int64(0), metrics.ActiveRequests)
	assert.Equal(t, int64(2), metrics.StatusCodes["200"])
	assert.Equal(t, int64(2), metrics.StatusCodes["404"])
	assert.Equal(t, int64(3), metrics.Endpoints["GET /api/todos/:id/"])
	assert.Equal(t, int64(1), metrics.Endpoints["GET unmatched"])
}

func TestMetricsHandler_IncludesProviders(t *testing.T) {
	router := setupRouter(t)
	RegisterStatsProvider("cache", func() interface{} {
		return map[string]interface{}{"hits": 3}
	})

	w := get(router, "/metrics")

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Contains(t, body, "application")
	assert.Contains(t, body, "system")
	assert.Equal(t, float64(3), body["cache"].(map[string]interface{})["hits"])
}

func TestHealthHandler_RerunsChecks(t *testing.T) {
	router := setupRouter(t)

	var calls atomic.Int32
	var broken atomic.Bool
	RegisterHealthCheck("database", func(ctx context.Context) error {
		calls.Add(1)
		if broken.Load() {
			return errors.New("connection refused")
		}
		return nil
	})

	w := get(router, "/health")
	assert.Equal(t, http.StatusOK, w.Code)

	broken.Store(true)
	w = get(router, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var body struct {
		Status string                 `json:"status"`
		Checks map[string]HealthCheck `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, StatusUnhealthy, body.Status)
	assert.Equal(t, "connection refused", body.Checks["database"].Message)
	assert.Equal(t, int32(2), calls.Load())
}

func TestReadinessHandler(t *testing.T) {
	router := setupRouter(t)
	RegisterHealthCheck("database", func(context.Context) error { return nil })

	w := get(router, "/health/ready")
	assert.Equal(t, http.StatusOK, w.Code)

	RegisterHealthCheck("queue", func(context.Context) error { return errors.New("down") })

	w = get(router, "/health/ready")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"failing":["queue"]`)
}

func TestReadinessHandler_OptionalCheckFailureStaysReady(t *testing.T) {
	router := setupRouter(t)
	RegisterHealthCheck("database", func(context.Context) error { return nil })
	RegisterOptionalHealthCheck("cache", func(context.Context) error { return errors.New("redis down") })

	w := get(router, "/health/ready")
	assert.Equal(t, http.StatusOK, w.Code)

	w = get(router, "/health")
	assert.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Status string                 `json:"status"`
		Checks map[string]HealthCheck `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, StatusDegraded, body.Status)
	assert.False(t, body.Checks["cache"].Critical)
	assert.Equal(t, StatusUnhealthy, body.Checks["cache"].Status)
	assert.True(t, body.Checks["database"].Critical)
}

func TestLivenessHandler_IgnoresChecks(t *testing.T) {
	router := setupRouter(t)
	RegisterHealthCheck("database", func(context.Context) error { return errors.New("down") })

	w := get(router, "/health/live")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"alive"`)
}

func TestRunHealthChecks_NoChecksIsHealthy(t *testing.T) {
	setupRouter(t)

	checks := RunHealthChecks(context.Background())
	assert.Empty(t, checks)
	assert.True(t, allHealthy(checks))
}
