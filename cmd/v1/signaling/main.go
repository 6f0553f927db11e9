package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/meshrelay/signaling/internal/v1/config"
	"github.com/meshrelay/signaling/internal/v1/health"
	"github.com/meshrelay/signaling/internal/v1/logging"
	"github.com/meshrelay/signaling/internal/v1/middleware"
	"github.com/meshrelay/signaling/internal/v1/ratelimit"
	"github.com/meshrelay/signaling/internal/v1/signaling"
	"github.com/meshrelay/signaling/internal/v1/tracing"
	"github.com/meshrelay/signaling/internal/v1/transport"
)

const serviceName = "signaling"

func main() {
	// Load .env file for local development.
	// Try multiple paths to handle different ways of running the app
	envPaths := []string{".env", "../../../.env", "../../.env"}
	var envLoaded bool

	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			slog.Info("Loaded environment from", "path", path)
			envLoaded = true
			break
		}
	}

	if !envLoaded {
		slog.Warn("No .env file found in any expected location, relying on environment variables")
	}

	// Validate environment variables before starting the server
	cfg, err := config.ValidateEnv()
	if err != nil {
		slog.Error("Environment validation failed", "error", err)
		os.Exit(1)
	}

	logging.Initialize(cfg.DevelopmentMode || cfg.GoEnv != "production")
	defer logging.Sync()

	if cfg.DevelopmentMode {
		slog.Info("Running in DEVELOPMENT MODE")
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Tracing (Optional) ---
	if cfg.OtelEnabled {
		tp, err := tracing.InitTracer(rootCtx, serviceName, cfg.OtelCollectorAddr)
		if err != nil {
			slog.Error("Failed to initialize tracer", "error", err)
			os.Exit(1)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(shutdownCtx); err != nil {
				slog.Error("Failed to shut down tracer", "error", err)
			}
		}()
		slog.Info("✅ Tracing initialized", "collector", cfg.OtelCollectorAddr)
	} else {
		slog.Info("Tracing disabled")
	}

	// --- Signaling Core ---
	core, err := signaling.New(signaling.Config{
		MaxClients:      cfg.MaxClients,
		MaxRooms:        cfg.MaxRooms,
		ClientTimeout:   cfg.ClientTimeout,
		IngressCapacity: cfg.IngressCapacity,
	}, nil)
	if err != nil {
		slog.Error("Failed to initialize signaling core", "error", err)
		os.Exit(1)
	}

	dispatcherDone := make(chan struct{})
	go func() {
		core.Run(rootCtx)
		close(dispatcherDone)
	}()

	// --- Rate Limiting ---
	rateLimiter, err := ratelimit.New(cfg.RateLimitWsIP, cfg.RateLimitAPI)
	if err != nil {
		slog.Error("Failed to initialize rate limiter", "error", err)
		os.Exit(1)
	}

	hub := transport.NewHub(core, rateLimiter, transport.Options{
		AllowedOrigins: cfg.AllowedOrigins,
	})

	// --- Set up Server ---
	if cfg.GoEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	router.Use(otelgin.Middleware(serviceName))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.AllowedOrigins
	router.Use(cors.New(corsConfig))

	// Routing
	router.GET("/ws", hub.ServeWs)

	// Prometheus metrics endpoint
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Health check and stats endpoints
	healthHandler := health.NewHandler(core, cfg.IngressCapacity)
	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)
	router.GET("/stats", rateLimiter.Middleware(), healthHandler.Stats)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// --- Graceful Shutdown ---
	// Start the server in a goroutine so it doesn't block.
	go func() {
		slog.Info("Signaling server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Failed to run server", "error", err)
			syscall.Kill(os.Getpid(), syscall.SIGTERM)
		}
	}()

	<-rootCtx.Done()
	slog.Info("Shutting down server...")

	// In-flight requests get 30 seconds to finish.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown:", "error", err)
	}

	// The dispatcher stops with the root context; wait so the final drain
	// completes before the process exits.
	select {
	case <-dispatcherDone:
	case <-shutdownCtx.Done():
		slog.Warn("Dispatcher did not stop before shutdown deadline")
	}

	slog.Info("Server exiting")
}
