package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsMiddlewareRecordsRequestCounts(t *testing.T) {
	router := gin.New()
	router.Use(MetricsMiddleware())
	router.GET("/widgets", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	before := GetMetrics().TotalRequests

	req := httptest.NewRequest(http.MethodGet, "/widgets", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	after := GetMetrics()
	assert.Equal(t, before+1, after.TotalRequests)
	assert.Equal(t, int64(1), after.RequestCount["GET /widgets"])
}

func TestMetricsMiddlewareSkipsHealthCheckPaths(t *testing.T) {
	router := gin.New()
	router.Use(MetricsMiddleware())
	router.GET("/health", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	before := GetMetrics().TotalRequests

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	after := GetMetrics().TotalRequests
	assert.Equal(t, before, after)
}

func TestMetricsMiddlewareCountsErrors(t *testing.T) {
	router := gin.New()
	router.Use(MetricsMiddleware())
	router.GET("/broken", func(c *gin.Context) {
		c.Status(http.StatusInternalServerError)
	})

	beforeErrors := GetMetrics().TotalErrors

	req := httptest.NewRequest(http.MethodGet, "/broken", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	after := GetMetrics()
	assert.Equal(t, beforeErrors+1, after.TotalErrors)
}

func TestPerformanceMetricsMiddlewareCompletesRequest(t *testing.T) {
	router := gin.New()
	router.Use(PerformanceMetricsMiddleware())
	router.GET("/ok", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAnalyzePerformanceClassifiesSlowAndError(t *testing.T) {
	data := analyzePerformance(6*time.Second, 500, 1024)
	assert.True(t, data.IsSlow)
	assert.True(t, data.IsError)
	assert.Equal(t, "very_slow", data.Category)
}

func TestAnalyzePerformanceClassifiesFastSuccess(t *testing.T) {
	data := analyzePerformance(10*time.Millisecond, 200, 1024)
	assert.False(t, data.IsSlow)
	assert.False(t, data.IsError)
	assert.Equal(t, "fast", data.Category)
}

func TestGetStatusCategoryMapsRanges(t *testing.T) {
	assert.Equal(t, "success", getStatusCategory(200))
	assert.Equal(t, "redirect", getStatusCategory(301))
	assert.Equal(t, "client_error", getStatusCategory(404))
	assert.Equal(t, "server_error", getStatusCategory(500))
	assert.Equal(t, "unknown", getStatusCategory(99))
}

func TestGetPerformanceTierBuckets(t *testing.T) {
	assert.Equal(t, "excellent", getPerformanceTier(10))
	assert.Equal(t, "good", getPerformanceTier(100))
	assert.Equal(t, "acceptable", getPerformanceTier(500))
	assert.Equal(t, "slow", getPerformanceTier(2000))
	assert.Equal(t, "very_slow", getPerformanceTier(9000))
}

func TestMetricsCollectorRecordRequestComputesAverages(t *testing.T) {
	m := &MetricsCollector{
		RequestCount:    make(map[string]int64),
		RequestDuration: make(map[string][]float64),
		StatusCodeCount: make(map[int]int64),
		EndpointMetrics: make(map[string]*EndpointMetrics),
		StartTime:       time.Now(),
	}

	m.recordRequest("GET /x", 100, 200)
	m.recordRequest("GET /x", 300, 500)

	require.Contains(t, m.EndpointMetrics, "GET /x")
	ep := m.EndpointMetrics["GET /x"]
	assert.Equal(t, int64(2), ep.Count)
	assert.Equal(t, int64(1), ep.ErrorCount)
	assert.Equal(t, 100.0, ep.MinDuration)
	assert.Equal(t, 300.0, ep.MaxDuration)
	assert.Equal(t, 200.0, ep.AverageDuration)
	assert.Equal(t, int64(1), m.StatusCodeCount[500])
}

func TestRecordToolCallTracksRPCEndpointSeparatelyFromHTTP(t *testing.T) {
	before := GetMetrics().RequestCount["rpc:list_emails"]

	RecordToolCall("list_emails", 42*time.Millisecond, nil)
	RecordToolCall("list_emails", 10*time.Millisecond, assert.AnError)

	after := GetMetrics()
	assert.Equal(t, before+2, after.RequestCount["rpc:list_emails"])
	assert.Equal(t, int64(1), after.EndpointMetrics["rpc:list_emails"].ErrorCount)
}

func TestGetMetricsReturnsIndependentCopy(t *testing.T) {
	m1 := GetMetrics()
	m1.RequestCount["forged"] = 999

	m2 := GetMetrics()
	assert.NotContains(t, m2.RequestCount, "forged")
}
