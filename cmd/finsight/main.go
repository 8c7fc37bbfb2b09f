// Command finsight runs the FinSight analysis streaming server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	fshttp "github.com/Strob0t/FinSight/internal/adapter/http"
	fsnats "github.com/Strob0t/FinSight/internal/adapter/nats"
	"github.com/Strob0t/FinSight/internal/adapter/otel"
	"github.com/Strob0t/FinSight/internal/adapter/ristretto"
	"github.com/Strob0t/FinSight/internal/adapter/simrun"
	"github.com/Strob0t/FinSight/internal/adapter/ws"
	"github.com/Strob0t/FinSight/internal/config"
	"github.com/Strob0t/FinSight/internal/logger"
	"github.com/Strob0t/FinSight/internal/middleware"
	"github.com/Strob0t/FinSight/internal/port/broadcast"
	"github.com/Strob0t/FinSight/internal/resilience"
	"github.com/Strob0t/FinSight/internal/service"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser := logger.New(cfg.Logging)
	slog.SetDefault(log)
	defer logCloser.Close()

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"admission_cap", cfg.Stream.AdmissionCap,
	)

	ctx := context.Background()

	// --- Observability ---
	otelShutdown, err := otel.Setup(ctx, cfg.Logging.Service, cfg.Otel.Endpoint)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = otelShutdown(shutdownCtx)
	}()

	metrics, err := otel.NewMetrics()
	if err != nil {
		return fmt.Errorf("otel metrics: %w", err)
	}

	// --- Core ---
	registry := service.NewRegistry()
	hub := ws.NewHub(registry, ws.Config{
		BatchSize:         cfg.Stream.BatchSize,
		BatchInterval:     cfg.Stream.BatchInterval,
		SendBuffer:        cfg.Stream.SendBuffer,
		HeartbeatInterval: cfg.Stream.HeartbeatInterval,
		HistoryCapacity:   cfg.Stream.HistoryCapacity,
		MaxSessions:       cfg.Stream.MaxTrackedSessions,
	}, metrics)

	// Optional NATS mirror: broadcast events are also published for
	// external consumers when NATS is configured.
	var broadcaster broadcast.Broadcaster = hub
	var queue *fsnats.Queue
	var breaker *resilience.Breaker
	if cfg.NATS.URL != "" {
		queue, err = fsnats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() { _ = queue.Drain() }()

		breaker = resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
		mirror := service.NewMirroredBroadcaster(hub, queue, breaker)
		defer mirror.Close()
		broadcaster = mirror
	}

	runner := simrun.New(cfg.Pipeline.StepDelay, cfg.Pipeline.StepsPerStage)
	bridge := service.NewBridge(registry, broadcaster, runner, cfg.Stream.AdmissionCap, metrics)

	// --- Sweeps ---
	stopHeartbeat := hub.StartHeartbeat()
	defer stopHeartbeat()

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go sessionSweep(sweepCtx, cfg.Stream.SweepInterval, cfg.Stream.SessionIdleTimeout, registry, bridge, hub)

	rl := middleware.NewRateLimiter(map[string]middleware.Limit{
		middleware.ClassRunStart:   {Rate: cfg.Rate.RunStart.RequestsPerSecond, Burst: cfg.Rate.RunStart.Burst},
		middleware.ClassAttach:     {Rate: cfg.Rate.Attach.RequestsPerSecond, Burst: cfg.Rate.Attach.Burst},
		middleware.ClassConfigRead: {Rate: cfg.Rate.ConfigRead.RequestsPerSecond, Burst: cfg.Rate.ConfigRead.Burst},
		middleware.ClassDefault:    {Rate: cfg.Rate.Default.RequestsPerSecond, Burst: cfg.Rate.Default.Burst},
	})
	stopRateCleanup := rl.StartCleanup(cfg.Rate.CleanupInterval, cfg.Rate.MaxIdleTime)
	defer stopRateCleanup()

	// --- HTTP ---
	readCache, err := ristretto.New(cfg.Cache.MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer readCache.Close()

	handlers := fshttp.NewHandlers(registry, bridge, hub, readCache, cfg.Cache.TTL)
	if queue != nil {
		handlers.WithMirror(queue, breaker)
	}

	r := chi.NewRouter()
	r.Use(fshttp.CORS(cfg.Server.CORSOrigin))
	r.Use(fshttp.SecurityHeaders)
	r.Use(fshttp.Logger)
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(otel.HTTPMiddleware(cfg.Logging.Service))

	fshttp.MountRoutes(r, handlers, rl)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-done
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

// sessionSweep periodically evicts idle sessions, cancelling their runs
// and releasing their viewers.
func sessionSweep(ctx context.Context, interval, idleTimeout time.Duration, registry *service.Registry, bridge *service.Bridge, hub *ws.Hub) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, token := range registry.EvictExpired(idleTimeout, bridge) {
				hub.CloseSession(token)
			}
		}
	}
}
