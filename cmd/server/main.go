package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	apihttp "bookshelf/catalogservice/internal/api/http"
	"bookshelf/catalogservice/internal/app"
	"bookshelf/catalogservice/internal/domain"
	"bookshelf/catalogservice/internal/jobs"
	"bookshelf/catalogservice/internal/metrics"
	"bookshelf/catalogservice/internal/providers/googlebooks"
	"bookshelf/catalogservice/internal/providers/isbndb"
	"bookshelf/catalogservice/internal/providers/openlibrary"
	"bookshelf/catalogservice/internal/providers/vision"
	"bookshelf/catalogservice/internal/search"
	"bookshelf/catalogservice/internal/telemetry"
)

func main() {
	cfg := app.LoadConfig()
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), "catalog-service")
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("service", "catalog-service"),
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("logFormat", cfg.LogFormat),
		slog.Duration("providerTimeout", cfg.ProviderTimeout),
		slog.Bool("hasGoogleBooksKey", cfg.GoogleBooksAPIKey != ""),
		slog.Bool("hasISBNdbKey", cfg.ISBNdbAPIKey != ""),
		slog.Bool("hasVision", strings.TrimSpace(cfg.VisionEndpoint) != ""),
		slog.Bool("hasRedis", strings.TrimSpace(cfg.RedisURL) != ""),
		slog.Bool("cacheDisabled", cfg.CacheDisabled),
	)

	redisClient := buildRedisClient(cfg, logger)

	googleBooksClient := &http.Client{Timeout: cfg.ProviderTimeout, Transport: otelhttp.NewTransport(http.DefaultTransport)}
	openLibraryClient := &http.Client{Timeout: cfg.ProviderTimeout, Transport: otelhttp.NewTransport(http.DefaultTransport)}
	isbndbClient := &http.Client{Timeout: cfg.ProviderTimeout, Transport: otelhttp.NewTransport(http.DefaultTransport)}

	searchService := search.NewService([]search.Provider{
		googlebooks.NewProvider(googlebooks.Config{
			Endpoint:  cfg.GoogleBooksEndpoint,
			APIKey:    cfg.GoogleBooksAPIKey,
			UserAgent: cfg.UserAgent,
			Client:    googleBooksClient,
		}),
		openlibrary.NewProvider(openlibrary.Config{
			Endpoint:  cfg.OpenLibraryEndpoint,
			UserAgent: cfg.UserAgent,
			Client:    openLibraryClient,
		}),
		isbndb.NewProvider(isbndb.Config{
			Endpoint:    cfg.ISBNdbEndpoint,
			APIKey:      cfg.ISBNdbAPIKey,
			UserAgent:   cfg.UserAgent,
			MinInterval: cfg.ISBNdbMinInterval,
			Client:      isbndbClient,
		}),
	}, cfg.ProviderTimeout, buildServiceOptions(cfg, redisClient, logger)...)

	registryOpts := []jobs.RegistryOption{
		jobs.WithReadyTimeout(cfg.ReadyTimeout),
		jobs.WithRegistryLogger(logger),
	}
	if redisClient != nil {
		registryOpts = append(registryOpts, jobs.WithCancelStore(jobs.NewRedisCancelStore(redisClient)))
	}
	registry := jobs.NewRegistry(registryOpts...)

	var detector jobs.Detector
	visionClient := vision.NewClient(vision.Config{
		Endpoint:  cfg.VisionEndpoint,
		APIKey:    cfg.VisionAPIKey,
		UserAgent: cfg.UserAgent,
		Timeout:   cfg.VisionTimeout,
		Client:    &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	})
	if visionClient.Enabled() {
		detector = visionClient
	} else {
		logger.Info("vision endpoint not configured, scan jobs disabled")
	}

	pipeline := jobs.NewPipeline(registry, searchService, detector,
		jobs.WithEnrichParallelism(cfg.EnrichParallelism),
		jobs.WithConfidenceThreshold(cfg.ConfidenceThreshold),
		jobs.WithPipelineLogger(logger),
	)

	handler := apihttp.NewServer(searchService, registry, pipeline, apihttp.WithLogger(logger)).Handler()
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Progress sockets stay open for the life of a job; no server-level
		// write timeout, the transport enforces per-frame deadlines.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	logger.Info("catalog service started", slog.String("addr", cfg.HTTPAddr))

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", slog.String("error", err.Error()))
	}
	logger.Info("catalog service stopped")
}

func newLogger(levelRaw, formatRaw string) *slog.Logger {
	level := parseLogLevel(levelRaw)
	options := &slog.HandlerOptions{Level: level}
	format := strings.ToLower(strings.TrimSpace(formatRaw))
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, options))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, options))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func buildRedisClient(cfg app.Config, logger *slog.Logger) *redis.Client {
	redisURL := strings.TrimSpace(cfg.RedisURL)
	if redisURL == "" {
		return nil
	}
	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Warn("invalid redis url, falling back to in-memory stores", slog.String("error", err.Error()))
		return nil
	}
	client := redis.NewClient(redisOpts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		logger.Warn("redis not reachable, falling back to in-memory stores", slog.String("error", err.Error()))
		return nil
	}
	logger.Info("redis connected", slog.String("addr", redisOpts.Addr))
	return client
}

func buildServiceOptions(cfg app.Config, redisClient *redis.Client, logger *slog.Logger) []search.ServiceOption {
	opts := []search.ServiceOption{
		search.WithLogger(logger),
		search.WithWeights(search.Weights{
			ItemCount:    cfg.ScoreWeights.ItemCount,
			Completeness: cfg.ScoreWeights.Completeness,
			Affinity:     cfg.ScoreWeights.Affinity,
			Relevance:    cfg.ScoreWeights.Relevance,
		}),
		search.WithContextTTL(domain.ContextTitle, cfg.CacheTTLTitle),
		search.WithContextTTL(domain.ContextAuthor, cfg.CacheTTLAuthor),
		search.WithContextTTL(domain.ContextSubject, cfg.CacheTTLSubject),
		search.WithContextTTL(domain.ContextISBN, cfg.CacheTTLISBN),
	}

	if cfg.CacheDisabled {
		opts = append(opts, search.WithCacheDisabled(true))
		return opts
	}
	if redisClient != nil {
		opts = append(opts, search.WithRedisCache(search.NewRedisCacheBackend(redisClient)))
	}
	return opts
}
