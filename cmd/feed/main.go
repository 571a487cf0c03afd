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

	"github.com/worklogapp/feed-platform/internal/activity"
	"github.com/worklogapp/feed-platform/internal/engage"
	"github.com/worklogapp/feed-platform/internal/feed"
	feedcache "github.com/worklogapp/feed-platform/internal/feed/cache"
	"github.com/worklogapp/feed-platform/internal/feed/handler"
	"github.com/worklogapp/feed-platform/internal/logsvc"
	"github.com/worklogapp/feed-platform/internal/scrollpos"
	"github.com/worklogapp/feed-platform/internal/store"
	"github.com/worklogapp/feed-platform/pkg/config"
	"github.com/worklogapp/feed-platform/pkg/health"
	"github.com/worklogapp/feed-platform/pkg/kafka"
	"github.com/worklogapp/feed-platform/pkg/logger"
	"github.com/worklogapp/feed-platform/pkg/metrics"
	"github.com/worklogapp/feed-platform/pkg/middleware"
	"github.com/worklogapp/feed-platform/pkg/postgres"
	pkgredis "github.com/worklogapp/feed-platform/pkg/redis"
	"github.com/worklogapp/feed-platform/pkg/resilience"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting feed service", "port", cfg.Server.Port)

	pgClient, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pgClient.Close()
	slog.Info("postgres connected", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)

	breaker := resilience.NewCircuitBreaker("store", resilience.CircuitBreakerConfig{})
	st := store.NewBreaker(store.NewPostgres(pgClient), breaker)

	var pageCache *feedcache.PageCache
	var scrollCache scrollpos.Cache
	redisClient, err := pkgredis.NewClient(cfg.Redis)
	if err != nil {
		slog.Warn("redis unavailable, feed page caching disabled", "error", err)
		scrollCache = scrollpos.NewMemoryCache(0)
	} else {
		defer redisClient.Close()
		pageCache = feedcache.New(redisClient, cfg.Redis)
		scrollCache = scrollpos.NewRedisCache(redisClient, 0)
		slog.Info("feed page cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	activityProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.FeedActivity)
	defer activityProducer.Close()
	collector := activity.NewCollector(activityProducer, 4096)
	collector.Start(ctx)
	defer collector.Close()
	slog.Info("activity collector started", "topic", cfg.Kafka.Topics.FeedActivity)

	aggregator := activity.NewAggregator()
	activityConsumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.FeedActivity, aggregator.HandleMessage)
	go func() {
		if err := activityConsumer.Start(ctx); err != nil {
			slog.Error("activity consumer error", "error", err)
		}
	}()
	defer activityConsumer.Close()
	slog.Info("activity aggregator started")

	fetcher := feed.NewFetcher(st, feed.Options{
		PageSize:                cfg.Feed.PageSize,
		OverfetchFactor:         cfg.Feed.OverfetchFactor,
		RecentInteractionWindow: cfg.Feed.RecentInteractionWindow,
	})
	engageSvc := engage.NewService(st, engage.NewState())
	logSvc := logsvc.New(st)

	m := metrics.New()
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.CircuitBreakerState.WithLabelValues("store").Set(float64(breaker.GetState()))
			}
		}
	}()

	h := handler.New(handler.Options{
		Fetcher:      fetcher,
		Cache:        pageCache,
		Engage:       engageSvc,
		Logs:         logSvc,
		Scroll:       scrollCache,
		Collector:    collector,
		Metrics:      m,
		DefaultLimit: cfg.Feed.PageSize,
		MaxLimit:     cfg.Feed.MaxPageSize,
		FetchBudget:  cfg.Feed.RequestTimeout,
	})

	checker := health.NewChecker()
	checker.Register("postgres", func(ctx context.Context) health.ComponentHealth {
		if err := pgClient.Ping(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDown, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})
	checker.Register("redis", func(ctx context.Context) health.ComponentHealth {
		if redisClient == nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "not configured"}
		}
		if err := redisClient.Ping(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})

	mux := http.NewServeMux()
	h.Register(mux)
	mux.HandleFunc("GET /api/v1/activity/stats", aggregator.StatsHandler())
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	limiter := middleware.NewLimiter(cfg.Server.RateLimitWindow)
	defer limiter.Stop()

	var chain http.Handler = mux
	chain = middleware.CORS(middleware.DefaultCORSConfig())(chain)
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	chain = middleware.Metrics(m)(chain)
	chain = middleware.RateLimit(limiter, cfg.Server.RateLimitBurst)(chain)
	chain = middleware.RequestID(chain)

	var stopMetrics func(context.Context) error
	if cfg.Metrics.Enabled {
		stopMetrics = metrics.StartServer(cfg.Metrics.Port)
		slog.Info("metrics server started", "port", cfg.Metrics.Port)
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
		if stopMetrics != nil {
			if err := stopMetrics(shutdownCtx); err != nil {
				slog.Error("metrics server shutdown error", "error", err)
			}
		}
	}()

	slog.Info("feed service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("feed service stopped")
}
