package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gatekeeper/internal/api"
	"gatekeeper/internal/config"
	"gatekeeper/internal/logger"
	"gatekeeper/internal/models"
	"gatekeeper/internal/observability"
	"gatekeeper/internal/ratelimit"
	"gatekeeper/internal/version"

	"github.com/gorilla/mux"
)

var configFile = flag.String("config", "", "Path to configuration file")

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	ver := version.GetInfo()

	// Initialize structured logging
	log, closer, err := logger.Setup(cfg.Logging, ver)
	if err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	if closer != nil {
		defer closer.Close()
	}
	slog.SetDefault(log)

	slog.Info("Starting gatekeeper",
		"version", ver.Version,
		"commit", ver.GitCommit,
		"instance_id", ver.InstanceID,
	)

	// Initialize observability (OpenTelemetry)
	otelProvider, err := observability.Setup(cfg.Metrics, cfg.Observability, ver)
	if err != nil {
		slog.Error("Failed to initialize observability", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := otelProvider.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shutdown observability", "error", err)
		}
	}()

	// Wire up admission control. The store probe decides the engine's
	// starting mode: an unreachable store is not fatal, the engine begins
	// on local fallback buckets instead.
	handlerOpts := []api.HandlerOption{}
	var admission mux.MiddlewareFunc

	if cfg.RateLimit.Enabled {
		var store ratelimit.BucketStore
		raw, err := ratelimit.NewStore(cfg.Store)
		if err != nil {
			slog.Warn("Bucket store unavailable at startup, starting on local fallback buckets",
				"type", cfg.Store.Type,
				"error", err,
			)
		} else {
			slog.Info("Connected to bucket store", "type", cfg.Store.Type)
			store = raw
			if cfg.Metrics.Enabled {
				instrumented, err := observability.NewInstrumentedStore(raw)
				if err != nil {
					slog.Error("Failed to create instrumented store", "error", err)
					os.Exit(1)
				}
				store = instrumented
			}
			defer store.Close()
		}

		metrics, err := ratelimit.NewMetrics()
		if err != nil {
			slog.Error("Failed to create admission metrics", "error", err)
			os.Exit(1)
		}

		resolver := ratelimit.NewResolver(defaultPolicy(cfg.RateLimit), routePolicies(cfg.RateLimit))
		engine := ratelimit.NewEngine(resolver, store,
			ratelimit.WithInstanceCount(cfg.RateLimit.InstanceCount),
			ratelimit.WithStoreTimeout(cfg.Store.OpTimeout),
			ratelimit.WithMetrics(metrics),
		)
		defer engine.Close()

		admission = ratelimit.Middleware(engine, cfg.RateLimit.UserHeader, metrics)
		handlerOpts = append(handlerOpts, api.WithEngine(engine), api.WithStoreType(cfg.Store.Type))
	} else {
		slog.Warn("Rate limiting is disabled, all requests will be admitted")
	}

	// Initialize HTTP handlers
	handlers := api.NewHandlers(ver, handlerOpts...)

	// Setup routes with middleware
	routeOpts := []api.RouteOption{}
	if cfg.Observability.Tracing.Enabled {
		routeOpts = append(routeOpts, api.WithOTelMiddleware(cfg.Observability.ServiceName))
	}

	router := api.SetupRoutes(handlers, admission, routeOpts...)

	// Start metrics server if enabled
	var metricsServer *observability.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = observability.NewMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path, otelProvider)
		go func() {
			if err := metricsServer.Start(); err != nil && err != http.ErrServerClosed {
				slog.Error("Metrics server failed", "error", err)
			}
		}()
	}

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in a goroutine
	go func() {
		slog.Info("Starting server", "addr", server.Addr)

		var err error
		if cfg.Server.TLSEnabled {
			if cfg.Server.TLSCertFile == "" || cfg.Server.TLSKeyFile == "" {
				slog.Error("TLS is enabled but cert file or key file is not specified")
				os.Exit(1)
			}
			slog.Info("Starting HTTPS server with TLS")
			err = server.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		} else {
			slog.Info("Starting HTTP server")
			err = server.ListenAndServe()
		}

		if err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down server")

	// Create a deadline to wait for shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Shutdown metrics server
	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			slog.Error("Metrics server forced to shutdown", "error", err)
		}
	}

	// Attempt graceful shutdown
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server shutdown complete")
}

// defaultPolicy converts the configured defaults into the engine's policy.
func defaultPolicy(cfg models.RateLimitConfig) ratelimit.Policy {
	return ratelimit.Policy{
		Window:      cfg.Window,
		MaxRequests: cfg.MaxRequests,
		Burst:       cfg.Burst,
	}
}

// routePolicies converts per-route overrides into engine policies.
func routePolicies(cfg models.RateLimitConfig) map[string]ratelimit.Policy {
	routes := make(map[string]ratelimit.Policy, len(cfg.Routes))
	for route, rc := range cfg.Routes {
		routes[route] = ratelimit.Policy{
			Window:      rc.Window,
			MaxRequests: rc.MaxRequests,
			Burst:       rc.Burst,
		}
	}
	return routes
}
