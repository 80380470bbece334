// File: control/httpapi/server.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Admin HTTP surface of a running pipeline: prometheus metrics, health,
// debug state and configuration reload.

package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/momentics/hioload-nf/api"
)

// Config wires the server to a runtime.
type Config struct {
	Addr     string
	Control  api.Control
	Gatherer prometheus.Gatherer // nil serves no /metrics route
	Health   func() error        // nil always reports healthy
	Logger   *zap.Logger
}

// Server serves the admin routes.
type Server struct {
	cfg    Config
	router *gin.Engine
	log    *zap.Logger

	mu  sync.Mutex
	srv *http.Server
	ln  net.Listener
}

// New builds the router. Nothing listens until Start.
func New(cfg Config) (*Server, error) {
	if cfg.Control == nil {
		return nil, api.NewError(api.ErrCodeInvalidArgument, "httpapi: nil control")
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if gin.Mode() == gin.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}
	s := &Server{cfg: cfg, log: log.Named("httpapi")}

	router := gin.New()
	router.Use(gin.Recovery(), s.accessLog())
	if cfg.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}
	router.GET("/healthz", s.health)
	router.GET("/debug/state", s.debugState)
	router.GET("/config", s.getConfig)
	router.POST("/reload", s.reload)
	s.router = router
	return s, nil
}

// Handler exposes the router for embedding and tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start listens on Config.Addr and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return api.NewError(api.ErrCodeAlreadyExists, "httpapi: already started")
	}
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return api.NewError(api.ErrCodeResourceExhausted, "httpapi: listen").
			WithContext("addr", s.cfg.Addr).Wrap(err)
	}
	s.ln = ln
	s.srv = &http.Server{Handler: s.router, ReadHeaderTimeout: 5 * time.Second}
	srv := s.srv
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("admin endpoint stopped", zap.Error(err))
		}
	}()
	s.log.Info("admin endpoint listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound address, empty before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Shutdown stops the listener and waits for in-flight requests. Safe to
// call more than once.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.srv, s.ln = nil, nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)))
	}
}

func (s *Server) health(c *gin.Context) {
	if s.cfg.Health != nil {
		if err := s.cfg.Health(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) debugState(c *gin.Context) {
	c.JSON(http.StatusOK, s.cfg.Control.Stats())
}

func (s *Server) getConfig(c *gin.Context) {
	c.JSON(http.StatusOK, s.cfg.Control.GetConfig())
}

func (s *Server) reload(c *gin.Context) {
	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.cfg.Control.SetConfig(body); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, api.ErrConfig) || errors.Is(err, api.ErrInvalidArgument) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	s.log.Info("configuration reloaded", zap.Int("keys", len(body)))
	c.JSON(http.StatusOK, s.cfg.Control.GetConfig())
}
