package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestRequestIDMiddlewareGeneratesIDWhenAbsent(t *testing.T) {
	router := gin.New()
	router.Use(RequestIDMiddleware())
	router.GET("/ok", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"request_id": GetRequestID(c)})
	})

	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	id := rec.Header().Get("X-Request-ID")
	assert.NotEmpty(t, id)
	assert.Contains(t, rec.Body.String(), id)
}

func TestRequestIDMiddlewarePreservesIncomingID(t *testing.T) {
	router := gin.New()
	router.Use(RequestIDMiddleware())
	router.GET("/ok", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	req.Header.Set("X-Request-ID", "fixed-id")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, "fixed-id", rec.Header().Get("X-Request-ID"))
}

func TestGetRequestIDFallsBackWhenUnset(t *testing.T) {
	router := gin.New()
	router.GET("/ok", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"request_id": GetRequestID(c)})
	})

	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.NotContains(t, rec.Body.String(), `"request_id":""`)
}

func TestAdvancedRequestResponseLoggerCompletesNormally(t *testing.T) {
	router := gin.New()
	router.Use(AdvancedRequestResponseLogger())
	router.GET("/ok", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok":true`)
}

func TestDetailedRequestResponseLoggerCapturesJSONBody(t *testing.T) {
	router := gin.New()
	router.Use(DetailedRequestResponseLogger())
	router.POST("/echo", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"received": true})
	})

	req := httptest.NewRequest(http.MethodPost, "/echo", nil)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestIsJSONContentRecognizesJSON(t *testing.T) {
	assert.True(t, isJSONContent("application/json; charset=utf-8"))
	assert.False(t, isJSONContent("text/plain"))
}

func TestIsSensitiveHeaderMasksKnownHeaders(t *testing.T) {
	assert.True(t, isSensitiveHeader("Authorization"))
	assert.True(t, isSensitiveHeader("X-Api-Key"))
	assert.False(t, isSensitiveHeader("User-Agent"))
}

func TestRedactQueryParamsMasksOAuthCode(t *testing.T) {
	redacted := redactQueryParams(map[string][]string{
		"code":  {"4/0Adeu5B..."},
		"state": {"user-1"},
	})
	assert.Equal(t, []string{"[MASKED]"}, redacted["code"])
	assert.Equal(t, []string{"user-1"}, redacted["state"])
}

func TestGetLogLevelForStatusMapsRanges(t *testing.T) {
	assert.Equal(t, "error", getLogLevelForStatus(500))
	assert.Equal(t, "warn", getLogLevelForStatus(404))
	assert.Equal(t, "info", getLogLevelForStatus(200))
}

func TestGetPerformanceCategoryBuckets(t *testing.T) {
	assert.Equal(t, "fast", getPerformanceCategory(10*time.Millisecond))
	assert.Equal(t, "normal", getPerformanceCategory(200*time.Millisecond))
	assert.Equal(t, "slow", getPerformanceCategory(1*time.Second))
	assert.Equal(t, "very_slow", getPerformanceCategory(3*time.Second))
}

func TestShouldLogRequestBodySkipsLargePayloads(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/x", nil)
	req.Header.Set("Content-Type", "application/json")
	req.ContentLength = 2 * 1024 * 1024
	c := &gin.Context{Request: req}
	assert.False(t, shouldLogRequestBody(c))
}

func TestShouldLogRequestBodyAcceptsSmallJSON(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/x", nil)
	req.Header.Set("Content-Type", "application/json")
	req.ContentLength = 128
	c := &gin.Context{Request: req}
	assert.True(t, shouldLogRequestBody(c))
}
