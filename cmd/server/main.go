package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"CapIot.telemetry/internal/alert"
	"CapIot.telemetry/internal/cache"
	"CapIot.telemetry/internal/config"
	"CapIot.telemetry/internal/controller"
	"CapIot.telemetry/internal/logging"
	"CapIot.telemetry/internal/metrics"
	"CapIot.telemetry/internal/middleware"
	"CapIot.telemetry/internal/notifier"
	"CapIot.telemetry/internal/repository"
	"CapIot.telemetry/internal/routes"
	"CapIot.telemetry/internal/service"
	"CapIot.telemetry/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	logging.Init(logging.ParseLevel(cfg.LogLevel), cfg.LogJSON)
	log := logging.Component("main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	openCtx, cancelOpen := context.WithTimeout(ctx, 15*time.Second)
	defer cancelOpen()

	repo, err := repository.Open(openCtx, cfg.Store)
	if err != nil {
		return fmt.Errorf("opening %s store: %w", cfg.Store.Driver, err)
	}
	defer repo.Close()
	log.Info("durable store ready", "driver", cfg.Store.Driver)

	store, err := openCacheStore(openCtx, cfg.Cache)
	if err != nil {
		return fmt.Errorf("opening %s cache: %w", cfg.Cache.Driver, err)
	}
	adapter := cache.NewAdapter(store, cfg.Cache.LatestTTL, m)
	defer adapter.Close()
	log.Info("cache ready", "driver", cfg.Cache.Driver)

	hub := notifier.NewHub()
	defer hub.Close()
	outbound := notifier.Multi{hub}
	if cfg.Alert.WebhookURL != "" {
		webhook := notifier.NewWebhookNotifier(cfg.Alert.WebhookURL, cfg.Alert.Timeout)
		defer webhook.Close()
		outbound = append(outbound, webhook)
	} else {
		log.Warn("ALERT_WEBHOOK_URL not set, alerts are only logged and streamed")
		outbound = append(outbound, notifier.NewLogNotifier())
	}

	dispatcher := alert.NewDispatcher(adapter, outbound, alert.Options{
		DedupWindow: cfg.Alert.DedupWindow,
		Timeout:     cfg.Alert.Timeout,
		Atomic:      cfg.Alert.AtomicDedup,
	}, m)

	pool := worker.NewPool(cfg.Worker.Count, cfg.Worker.QueueSize, m)
	svc := service.NewDataService(repo, adapter, dispatcher, pool, m)
	dataController := controller.NewDataController(svc)

	opts := routes.Options{
		Metrics: promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		Alerts:  hub.ServeWS,
	}
	if cfg.Auth.JWTSecret != "" {
		auth, err := middleware.NewJWTMiddleware(middleware.JWTConfig{
			Secret:   cfg.Auth.JWTSecret,
			Issuer:   cfg.Auth.JWTIssuer,
			Audience: cfg.Auth.JWTAudience,
		})
		if err != nil {
			return fmt.Errorf("configuring jwt auth: %w", err)
		}
		opts.Auth = auth
		log.Info("jwt authentication enabled", "issuer", cfg.Auth.JWTIssuer)
	}
	router := routes.RegisterRoutes(dataController, opts)

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	handler := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	}).Handler(router)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run()
		return nil
	})
	g.Go(func() error {
		log.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// In-flight requests, and with them their durable writes, finish first.
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("http shutdown", "error", err)
		}
		if err := pool.Close(shutdownCtx); err != nil {
			log.Warn("background tasks abandoned", "error", err)
		}
		hub.Close()
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	stats := pool.Stats()
	log.Info("stopped",
		"tasks_completed", stats.Completed.Load(),
		"tasks_failed", stats.Failed.Load(),
		"tasks_dropped", stats.Dropped.Load())
	return nil
}

func openCacheStore(ctx context.Context, cfg config.CacheConfig) (cache.Store, error) {
	switch cfg.Driver {
	case "memory":
		return cache.NewMemoryStore(), nil
	case "redis":
		return cache.NewRedisStore(ctx, cache.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}), nil
	default:
		return nil, fmt.Errorf("unknown cache driver %q", cfg.Driver)
	}
}
