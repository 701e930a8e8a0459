package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/isdmx/runbox/config"
	"github.com/isdmx/runbox/execution"
	"github.com/isdmx/runbox/plan"
)

const (
	defaultLanguage = "java"
	readTimeout     = 30 * time.Second
	idleTimeout     = 120 * time.Second
)

// Executor runs source units. It is satisfied by *engine.Engine.
type Executor interface {
	Execute(ctx context.Context, unit execution.SourceUnit) execution.Outcome
	Languages() []plan.LanguageInfo
}

// Server is the REST front end of the engine.
type Server struct {
	logger     *zap.Logger
	executor   Executor
	router     *gin.Engine
	httpServer *http.Server
}

// New creates the server and registers its routes. Metrics are served from
// gatherer; a nil gatherer disables /metrics.
func New(cfg *config.Config, logger *zap.Logger, executor Executor, gatherer prometheus.Gatherer) *Server {
	s := &Server{
		logger:   logger,
		executor: executor,
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(s.requestLogger())

	api := router.Group("/api")
	api.Use(limitBody(cfg.API.MaxBodyBytes))
	api.POST("/execute", s.execute)
	api.GET("/languages", s.languages)

	router.GET("/health", s.health)
	if gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})

	s.router = router
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.API.Port),
		Handler:           router,
		ReadHeaderTimeout: readTimeout,
		IdleTimeout:       idleTimeout,
	}

	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	s.logger.Info("starting REST API", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		s.logger.Debug("request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()))
	}
}

func limitBody(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if n > 0 {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		}
		c.Next()
	}
}
