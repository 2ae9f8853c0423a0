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

	"github.com/Adithya-Monish-Kumar-K/subseq-matcher/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/subseq-matcher/internal/cache"
	"github.com/Adithya-Monish-Kumar-K/subseq-matcher/internal/handler"
	"github.com/Adithya-Monish-Kumar-K/subseq-matcher/internal/registry"
	"github.com/Adithya-Monish-Kumar-K/subseq-matcher/internal/store"
	"github.com/Adithya-Monish-Kumar-K/subseq-matcher/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/subseq-matcher/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/subseq-matcher/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/subseq-matcher/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/subseq-matcher/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/subseq-matcher/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/subseq-matcher/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/subseq-matcher/pkg/redis"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting matcher service", "port", cfg.Server.Port, "data_dir", cfg.Matcher.DataDir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	if cfg.Metrics.Enabled {
		shutdownMetrics := m.StartServer(cfg.Metrics.Port)
		defer shutdownMetrics(context.Background())
	}

	checker := health.NewChecker()

	var refStore store.Store = store.NewMemoryStore()
	if cfg.Postgres.Enabled {
		pg, err := postgres.New(cfg.Postgres)
		if err != nil {
			slog.Warn("postgres unavailable, reference metadata kept in memory", "error", err)
		} else {
			defer pg.Close()
			pgStore := store.NewPostgresStore(pg)
			if err := pgStore.Migrate(ctx); err != nil {
				slog.Error("failed to migrate reference store", "error", err)
				os.Exit(1)
			}
			refStore = pgStore
			checker.Register("postgres", func(ctx context.Context) health.ComponentHealth {
				if err := pg.Ping(ctx); err != nil {
					return health.ComponentHealth{Status: health.StatusDown, Message: err.Error()}
				}
				return health.ComponentHealth{Status: health.StatusUp}
			})
		}
	}

	reg, err := registry.New(cfg.Matcher, refStore, m)
	if err != nil {
		slog.Error("failed to create registry", "error", err)
		os.Exit(1)
	}
	if _, err := reg.Recover(ctx); err != nil {
		slog.Warn("store recovery failed", "error", err)
	}
	checker.Register("registry", func(ctx context.Context) health.ComponentHealth {
		return health.ComponentHealth{Status: health.StatusUp, Message: fmt.Sprintf("%d references", reg.Len())}
	})

	var resultCache *cache.ResultCache
	if cfg.Redis.Enabled {
		redisClient, err := pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, match caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			resultCache = cache.New(redisClient, cfg.Redis.CacheTTL)
			slog.Info("match cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
			checker.RegisterOptional("redis", func(ctx context.Context) health.ComponentHealth {
				if err := redisClient.Ping(ctx); err != nil {
					return health.ComponentHealth{Status: health.StatusDown, Message: err.Error()}
				}
				return health.ComponentHealth{Status: health.StatusUp}
			})
		}
	}

	var collector *analytics.Collector
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.MatchEvents)
		defer producer.Close()
		collector = analytics.NewCollector(producer, cfg.Kafka.BufferSize)
		collector.Start(ctx)
		defer collector.Close()
		slog.Info("analytics collector started", "topic", cfg.Kafka.MatchEvents)
	}

	mux := http.NewServeMux()
	handler.New(reg, resultCache, collector, m, cfg.Matcher).Routes(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	chain = middleware.Metrics(m)(chain)
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("matcher service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	<-shutdownDone

	slog.Info("matcher service stopped")
}
