// Package api wires the detection engine's HTTP façade: a gin
// router exposing the Detection Service (C8), the Progress Bus (C6), the
// Model Sync Pipeline (C7), and the Scheduler (C9), grounded on
// codeready-toolchain-tarsy's cmd/tarsy/main.go gin-router shape and
// yszxh-CLIProxyAPI's bearer-token management-auth middleware.
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/suiyueqingqian/model-check-sub000/internal/apierr"
	"github.com/suiyueqingqian/model-check-sub000/internal/detect"
	"github.com/suiyueqingqian/model-check-sub000/internal/modelsync"
	"github.com/suiyueqingqian/model-check-sub000/internal/progress"
	"github.com/suiyueqingqian/model-check-sub000/internal/scheduler"
)

var log = logrus.WithField("component", "api")

// Server bundles the engine's dependent components behind the HTTP façade.
type Server struct {
	detect    *detect.Service
	bus       *progress.Bus
	hub       *progress.Hub
	sync      *modelsync.Pipeline
	scheduler *scheduler.Scheduler
	authToken string
}

// NewServer builds a Server. authToken, when non-empty, is required as a
// bearer token on every route except /healthz and /metrics.
func NewServer(d *detect.Service, bus *progress.Bus, hub *progress.Hub, sync *modelsync.Pipeline, sched *scheduler.Scheduler, authToken string) *Server {
	return &Server{detect: d, bus: bus, hub: hub, sync: sync, scheduler: sched, authToken: authToken}
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger())
	r.Use(corsMiddleware())

	r.GET("/healthz", s.handleHealthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authorized := r.Group("/")
	authorized.Use(s.bearerAuth())
	{
		authorized.POST("/detect", s.handleTriggerDetect)
		authorized.DELETE("/detect", s.handleStopDetect)
		authorized.GET("/detect", s.handleDetectStatus)
		authorized.GET("/sse/progress", s.handleSSEProgress)
		authorized.GET("/ws/progress", s.handleWSProgress)
		authorized.POST("/channel/:id/sync", s.handleChannelSync)
		authorized.GET("/scheduler/config", s.handleGetSchedulerConfig)
		authorized.PUT("/scheduler/config", s.handlePutSchedulerConfig)
		authorized.GET("/scheduler", s.handleSchedulerStatus)
	}

	return r
}

// corsMiddleware allows the dashboard frontend to call this API from a
// different origin, adapted from control_plane/middleware's
// CORSMiddleware (net/http wrapper rewritten as a gin.HandlerFunc).
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		c.Header("Access-Control-Max-Age", "3600")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}
		c.Next()
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithField("method", c.Request.Method).
			WithField("path", c.Request.URL.Path).
			WithField("status", c.Writer.Status()).
			WithField("latency_ms", time.Since(start).Milliseconds()).
			Info("request")
	}
}

// bearerAuth requires "Authorization: Bearer <token>" to match s.authToken
// when one is configured; an empty authToken disables
// the check (single-tenant/dev deployments).
func (s *Server) bearerAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.authToken == "" {
			c.Next()
			return
		}
		header := c.GetHeader("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(header, prefix) || strings.TrimPrefix(header, prefix) != s.authToken {
			writeError(c, apierr.New(apierr.CodeValidationError, "missing or invalid bearer token"))
			c.Abort()
			return
		}
		c.Next()
	}
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// writeError renders the {error, code} envelope at the status the code
// maps to.
func writeError(c *gin.Context, err error) {
	if apiErr, ok := apierr.As(err); ok {
		c.JSON(apierr.StatusFor(apiErr.Code), gin.H{"error": apiErr.Message, "code": apiErr.Code})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "code": apierr.CodeInternalError})
}
