package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/isdmx/runbox/config"
	"github.com/isdmx/runbox/engine"
	"github.com/isdmx/runbox/httpapi"
	"github.com/isdmx/runbox/logger"
	"github.com/isdmx/runbox/mcpserver"
	"github.com/isdmx/runbox/sandbox"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server and REST API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app := fx.New(serveOptions(configPath))
			if err := app.Err(); err != nil {
				return err
			}

			startCtx, cancel := context.WithTimeout(cmd.Context(), app.StartTimeout())
			defer cancel()
			if err := app.Start(startCtx); err != nil {
				return err
			}

			sig := <-app.Wait()

			stopCtx, cancel := context.WithTimeout(context.Background(), app.StopTimeout())
			defer cancel()
			if err := app.Stop(stopCtx); err != nil {
				return err
			}

			if sig.ExitCode != 0 {
				return fmt.Errorf("server exited with code %d", sig.ExitCode)
			}
			return nil
		},
	}
}

func serveOptions(path string) fx.Option {
	return fx.Options(
		// Provide dependencies
		fx.Provide(
			// Config
			func() (*config.Config, error) { return config.Load(path) },

			// Logger with configuration
			logger.NewFromConfig,

			// Metrics
			newRegistry,
			newMetrics,

			// Sandbox provider and engine based on config
			newProvider,
			newEngine,

			// Transports
			newMCPServer,
			newAPIServer,
		),

		fx.Invoke(
			logConfiguration,
			registerMCPServer,
			registerAPIServer,
		),

		// Use the application logger for fx logs
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
	)
}

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func newMetrics(reg *prometheus.Registry) *engine.Metrics {
	return engine.NewMetrics(reg)
}

func newProvider(log *zap.Logger, cfg *config.Config) (sandbox.Provider, error) {
	return sandbox.NewProvider(log, cfg.Sandbox)
}

func newEngine(log *zap.Logger, cfg *config.Config, provider sandbox.Provider, metrics *engine.Metrics) (*engine.Engine, error) {
	return engine.New(log, cfg, provider, engine.WithMetrics(metrics))
}

func newMCPServer(cfg *config.Config, log *zap.Logger, e *engine.Engine) (*mcpserver.MCPServer, error) {
	return mcpserver.New(cfg, log, e)
}

func newAPIServer(cfg *config.Config, log *zap.Logger, e *engine.Engine, reg *prometheus.Registry) *httpapi.Server {
	if cfg.Logging.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	return httpapi.New(cfg, log, e, reg)
}

func logConfiguration(cfg *config.Config, log *zap.Logger, provider sandbox.Provider, e *engine.Engine) {
	languages := make([]string, 0)
	for _, l := range e.Languages() {
		languages = append(languages, l.Name)
	}

	log.Info("configuration loaded",
		zap.String("server.transport", cfg.Server.Transport),
		zap.Int("server.http_port", cfg.Server.HTTPPort),
		zap.Bool("api.enabled", cfg.API.Enabled),
		zap.Int("api.port", cfg.API.Port),
		zap.String("sandbox.backend", provider.Name()),
		zap.Bool("sandbox.isolation_enabled", cfg.Sandbox.IsolationEnabled),
		zap.Int("sandbox.execution_timeout_ms", cfg.Sandbox.ExecutionTimeoutMs),
		zap.Int("sandbox.plan_ceiling_ms", cfg.Sandbox.PlanCeilingMs),
		zap.Int("sandbox.memory_mb", cfg.Sandbox.MemoryMB),
		zap.Int("sandbox.max_concurrent", cfg.Sandbox.MaxConcurrent),
		zap.Bool("sandbox.dependency_network", cfg.Sandbox.DependencyNetwork),
		zap.Strings("languages", languages),
	)

	if !cfg.Sandbox.IsolationEnabled {
		log.Warn("isolation is disabled, submissions run directly on the host")
	}
}

// registerMCPServer starts the configured MCP transport. The stdio transport
// stops the application when its input closes.
func registerMCPServer(lc fx.Lifecycle, sd fx.Shutdowner, cfg *config.Config, log *zap.Logger, srv *mcpserver.MCPServer) {
	switch cfg.Server.Transport {
	case "stdio":
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				go func() {
					if err := srv.ServeStdio(); err != nil {
						log.Error("MCP stdio transport failed", zap.Error(err))
					}
					_ = sd.Shutdown()
				}()
				return nil
			},
		})
	case "http":
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				go func() {
					if err := srv.ServeHTTP(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						log.Error("MCP HTTP transport failed", zap.Error(err))
						_ = sd.Shutdown(fx.ExitCode(1))
					}
				}()
				return nil
			},
			OnStop: srv.Shutdown,
		})
	}
}

func registerAPIServer(lc fx.Lifecycle, sd fx.Shutdowner, cfg *config.Config, log *zap.Logger, srv *httpapi.Server) {
	if !cfg.API.Enabled {
		return
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil {
					log.Error("REST API failed", zap.Error(err))
					_ = sd.Shutdown(fx.ExitCode(1))
				}
			}()
			return nil
		},
		OnStop: srv.Shutdown,
	})
}
