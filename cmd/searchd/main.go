// Command searchd runs the embedded search engine behind an HTTP API,
// with optional PostgreSQL document archiving, Redis query caching, and
// Kafka document-event ingestion.
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

	"golang.org/x/sync/errgroup"

	"github.com/wfertman/quarry/internal/archive"
	"github.com/wfertman/quarry/internal/engine"
	"github.com/wfertman/quarry/internal/ingest"
	"github.com/wfertman/quarry/internal/server"
	"github.com/wfertman/quarry/internal/server/cache"
	"github.com/wfertman/quarry/internal/store"
	"github.com/wfertman/quarry/pkg/config"
	"github.com/wfertman/quarry/pkg/health"
	"github.com/wfertman/quarry/pkg/kafka"
	"github.com/wfertman/quarry/pkg/logger"
	"github.com/wfertman/quarry/pkg/metrics"
	"github.com/wfertman/quarry/pkg/middleware"
	"github.com/wfertman/quarry/pkg/postgres"
	pkgredis "github.com/wfertman/quarry/pkg/redis"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	seed := flag.Bool("seed", false, "seed demo documents when the index is empty")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting searchd", "port", cfg.Server.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng := engine.New(cfg.Search)

	var arch *archive.Archive
	pgClient, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Warn("postgres unavailable, document archiving disabled", "error", err)
	} else {
		defer pgClient.Close()
		arch, err = archive.New(ctx, pgClient)
		if err != nil {
			slog.Error("archive init failed", "error", err)
			os.Exit(1)
		}
		docs, err := arch.LoadAll(ctx)
		if err != nil {
			slog.Error("archive replay failed", "error", err)
			os.Exit(1)
		}
		added, failures := eng.BulkImport(docs)
		slog.Info("index rebuilt from archive", "added", added, "failed", len(failures))
	}

	var queryCache *cache.QueryCache
	redisClient, err := pkgredis.NewClient(cfg.Redis)
	if err != nil {
		slog.Warn("redis unavailable, query caching disabled", "error", err)
	} else {
		defer redisClient.Close()
		queryCache = cache.New(redisClient, cfg.Redis)
		slog.Info("query cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
	}

	if *seed && eng.Stats().DocumentCount == 0 {
		added, _ := eng.BulkImport(seedDocuments())
		slog.Info("seeded demo documents", "added", added)
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	h := server.New(eng, queryCache, arch, m, cfg.Search)

	checker := health.NewChecker()
	checker.Register("engine", func(ctx context.Context) health.ComponentHealth {
		stats := eng.Stats()
		return health.ComponentHealth{
			Status:  health.StatusUp,
			Message: fmt.Sprintf("%d documents, %d terms", stats.DocumentCount, stats.TermCount),
		}
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
	checker.Register("postgres", func(ctx context.Context) health.ComponentHealth {
		if arch == nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "not configured"}
		}
		if err := arch.Ping(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})

	mux := http.NewServeMux()
	h.Routes(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	if m != nil {
		chain = middleware.Metrics(m)(chain)
	}
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	chain = middleware.RequestID(chain)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		slog.Info("searchd listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
		group.Go(func() error {
			<-groupCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			return shutdownMetrics(shutdownCtx)
		})
	}

	if cfg.Kafka.Enabled {
		completed := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IndexComplete)
		defer completed.Close()
		handler := ingest.Handler(eng, completed, func(ctx context.Context, ev ingest.DocumentEvent) {
			h.AfterIngest(ctx, ev.ID, ev.Action == ingest.ActionDelete)
		})
		consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.DocumentEvents, handler)
		group.Go(func() error {
			return consumer.Start(groupCtx)
		})
		slog.Info("document-event consumer started", "topic", cfg.Kafka.Topics.DocumentEvents)
	}

	if err := group.Wait(); err != nil {
		slog.Error("searchd stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("searchd stopped")
}

// seedDocuments returns a small demo corpus for local development.
func seedDocuments() []*store.Document {
	return []*store.Document{
		{
			ID:      "rust-guide",
			Title:   "The Rust Programming Language Guide",
			Content: "Rust is a systems programming language that runs blazingly fast, prevents segfaults, and guarantees thread safety. It accomplishes these goals by being memory safe without using garbage collection.",
			Metadata: map[string]string{
				"category":   "programming",
				"difficulty": "intermediate",
			},
		},
		{
			ID:      "web-dev-trends",
			Title:   "Modern Web Development Trends",
			Content: "Web development continues to evolve with new frameworks, tools, and best practices. React, Vue, and Angular dominate the frontend landscape while Node.js powers many backend applications.",
			Metadata: map[string]string{
				"category": "web",
				"year":     "2024",
			},
		},
		{
			ID:      "search-algorithms",
			Title:   "Understanding Search Algorithms",
			Content: "Search algorithms are fundamental to computer science. From simple linear search to complex full-text search engines, understanding how search works is crucial for building efficient applications.",
			Metadata: map[string]string{
				"category":   "algorithms",
				"difficulty": "advanced",
			},
		},
	}
}
