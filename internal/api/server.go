// Package api hosts the HTTP command surface. Every platform operation is
// available as POST /api/v1/commands with a {command, params} body; the
// response mirrors the orchestrator's uniform {ok, ...} shape with an HTTP
// status derived from the error code.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/S-Corkum/caching-platform/internal/config"
	"github.com/S-Corkum/caching-platform/internal/core"
	"github.com/S-Corkum/caching-platform/internal/platform"
	"github.com/S-Corkum/caching-platform/pkg/observability"
)

// Server is the HTTP front end for the orchestrator
type Server struct {
	router    *gin.Engine
	server    *http.Server
	orch      *core.Orchestrator
	logger    observability.Logger
	validator *JWTValidator
}

// commandRequest is the body of POST /api/v1/commands
type commandRequest struct {
	Command string          `json:"command"`
	Params  json.RawMessage `json:"params"`
}

// NewServer wires routes and middleware around an orchestrator. The metrics
// client is mounted at /metrics when it carries a Prometheus registry.
func NewServer(orch *core.Orchestrator, cfg *config.Config, logger observability.Logger, metrics observability.MetricsClient) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLogger(logger))

	s := &Server{
		router: router,
		orch:   orch,
		logger: logger,
		server: &http.Server{
			Addr:         cfg.API.ListenAddr,
			Handler:      router,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  90 * time.Second,
		},
	}

	router.GET("/healthz", s.healthHandler)
	router.GET("/status", s.statusHandler)

	if cfg.Metrics.Enabled {
		if pm, ok := metrics.(*observability.PrometheusMetricsClient); ok {
			router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(pm.Registry(), promhttp.HandlerOpts{})))
		}
	}

	v1 := router.Group("/api/v1")
	if cfg.Security.AuthenticationEnabled {
		s.validator = NewJWTValidator(cfg.Security.JWTSecret, cfg.Security.JWTExpiryHours)
		v1.Use(AuthMiddleware(s.validator))
	}
	v1.POST("/commands", s.commandHandler)

	return s
}

// Start begins serving. It blocks until the listener fails or Shutdown is
// called; a clean shutdown returns nil.
func (s *Server) Start() error {
	s.logger.Info("api server listening", map[string]interface{}{"addr": s.server.Addr})
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and stops the listener
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler exposes the router for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthHandler(c *gin.Context) {
	health := s.orch.Health()
	status := http.StatusOK
	if !health.Healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, health)
}

func (s *Server) statusHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.orch.Status())
}

func (s *Server) commandHandler(c *gin.Context) {
	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, core.Fail(
			platform.Wrap(err, platform.CodeInvalidArgument, "malformed request body")))
		return
	}

	cmd := core.Command(req.Command)
	params, err := core.DecodeParams(cmd, req.Params)
	if err != nil {
		c.JSON(statusForCode(platform.CodeOf(err)), core.Fail(err))
		return
	}

	resp := s.orch.Execute(c.Request.Context(), cmd, params)
	status := http.StatusOK
	if ok, _ := resp["ok"].(bool); !ok {
		if code, _ := resp["error"].(string); code != "" {
			status = statusForCode(platform.Code(code))
		} else {
			status = http.StatusInternalServerError
		}
	}
	c.JSON(status, resp)
}

// statusForCode maps the error taxonomy onto HTTP statuses
func statusForCode(code platform.Code) int {
	switch code {
	case platform.CodeInvalidArgument, platform.CodeInvalidValue, platform.CodeUnknownCommand:
		return http.StatusBadRequest
	case platform.CodeNotFound:
		return http.StatusNotFound
	case platform.CodeAlreadyExists, platform.CodeConflict:
		return http.StatusConflict
	case platform.CodeQuotaExceeded, platform.CodeRateLimited:
		return http.StatusTooManyRequests
	case platform.CodeTimeout:
		return http.StatusGatewayTimeout
	case platform.CodeBackendUnavailable, platform.CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
