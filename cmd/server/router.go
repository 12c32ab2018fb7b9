package main

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/oauth2"

	"gmaildispatch/internal/config"
	"gmaildispatch/internal/dispatch"
	"gmaildispatch/internal/middleware"
	"gmaildispatch/pkg/auth"
)

// setupDebugRouter builds the debug/admin HTTP surface: health, metrics,
// and the OAuth login/callback pair that exchanges a Google auth code for
// a Gmail token, stashes it in the TokenStore, and mints a dispatcher
// session. The JSON-RPC tool surface over stdio remains the primary
// interface; this router exists for operability and for acquiring the
// credential the worker pool and scheduler need to act on a user's behalf.
func setupDebugRouter(cfg *config.AppConfig, bundle *dispatch.Bundle, tokens *auth.TokenStore) *gin.Engine {
	r := gin.New()

	r.Use(middleware.RequestIDMiddleware())
	r.Use(middleware.SecurityHeadersMiddleware())
	r.Use(middleware.AdvancedRecoveryWithLogger())
	r.Use(middleware.ErrorHandlingMiddleware())
	r.Use(middleware.DetailedRequestResponseLogger())
	r.Use(middleware.MetricsMiddleware())
	r.Use(middleware.PerformanceMetricsMiddleware())
	r.Use(middleware.MetricsReportingMiddleware(5 * time.Minute))
	r.Use(middleware.HealthCheckMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"service":   "gmaildispatch",
		})
	})
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/live", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "alive"}) })
	r.GET("/metrics", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"http":      middleware.GetMetrics(),
			"queue":     gin.H{"length": bundle.Queue.Length()},
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	})
	r.GET("/info", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"service":     "gmaildispatch",
			"description": "Gmail tool-dispatch JSON-RPC server",
			"transport":   "jsonrpc2/stdio",
			"job_workers": cfg.JobWorkerCount,
		})
	})

	r.GET("/auth/login", func(c *gin.Context) {
		conf, err := auth.NewGoogleOAuth2Config()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		userID := c.Query("user_id")
		if userID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "user_id query param is required"})
			return
		}
		url := conf.AuthCodeURL(userID, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
		c.Redirect(http.StatusTemporaryRedirect, url)
	})

	r.GET("/auth/callback", func(c *gin.Context) {
		conf, err := auth.NewGoogleOAuth2Config()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		code := c.Query("code")
		userID := c.Query("state")
		if code == "" || userID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing code or state"})
			return
		}

		token, err := auth.ExchangeCode(c, conf, code)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "token exchange failed: " + err.Error()})
			return
		}
		if err := tokens.Put(userID, token); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "storing token: " + err.Error()})
			return
		}

		sess := bundle.Sessions.Create(userID)
		c.JSON(http.StatusOK, gin.H{
			"user_id":    userID,
			"session_id": sess.SessionID,
			"expires_at": sess.ExpiresAt,
		})
	})

	return r
}
