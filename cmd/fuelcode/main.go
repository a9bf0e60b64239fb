// Command fuelcode runs the full fuel-code server: the Ingest Endpoint,
// Consumer Loop, Transcript Pipeline, Recovery Subsystem, WebSocket Hub, and
// query surface, wired together over Postgres and Redis.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/fuel-code/server/pkg/api"
	"github.com/fuel-code/server/pkg/config"
	"github.com/fuel-code/server/pkg/consumer"
	"github.com/fuel-code/server/pkg/database"
	"github.com/fuel-code/server/pkg/eventstore"
	"github.com/fuel-code/server/pkg/objectstore"
	"github.com/fuel-code/server/pkg/processor"
	"github.com/fuel-code/server/pkg/realtime"
	"github.com/fuel-code/server/pkg/recovery"
	"github.com/fuel-code/server/pkg/streamqueue"
	"github.com/fuel-code/server/pkg/summarizer"
	"github.com/fuel-code/server/pkg/transcript"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("no .env file loaded, continuing with existing environment", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbClient, err := database.NewClient(ctx, cfg.Database)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbClient.Close()
	store := eventstore.New(dbClient.Pool())

	objects, err := newObjectStore(ctx, cfg.Object)
	if err != nil {
		slog.Error("failed to initialize object store", "error", err)
		os.Exit(1)
	}

	// Per spec §9, the Consumer's blocking XREADGROUP call runs on its own
	// connection, separate from the client short commands (ingest XADD,
	// health PING) run against, so a blocked consumer read never starves
	// unrelated Redis traffic.
	ingestRDB, err := newRedisClient(cfg.Queue.URL)
	if err != nil {
		slog.Error("failed to connect to queue (ingest)", "error", err)
		os.Exit(1)
	}
	defer ingestRDB.Close()
	consumerRDB, err := newRedisClient(cfg.Queue.URL)
	if err != nil {
		slog.Error("failed to connect to queue (consumer)", "error", err)
		os.Exit(1)
	}
	defer consumerRDB.Close()

	ingestQueue := streamqueue.New(ingestRDB, cfg.Queue.Stream, cfg.Queue.ConsumerGroup)
	consumerQueue := streamqueue.New(consumerRDB, cfg.Queue.Stream, cfg.Queue.ConsumerGroup)
	if err := ingestQueue.EnsureGroup(ctx); err != nil {
		slog.Error("failed to ensure consumer group", "error", err)
		os.Exit(1)
	}

	pricing, err := transcript.LoadTable(cfg.Pipeline.PricingTablePath)
	if err != nil {
		slog.Error("failed to load pricing table", "error", err)
		os.Exit(1)
	}

	var summarize transcript.Summarizer
	if cfg.Summary.Enabled {
		s, err := summarizer.NewFromAPIKey(os.Getenv("ANTHROPIC_API_KEY"), cfg.Summary.Model)
		if err != nil {
			slog.Error("failed to initialize summarizer", "error", err)
			os.Exit(1)
		}
		summarize = s
	}

	hub := realtime.NewHub(cfg.APIKey)

	pipeline := transcript.New(store, objects, hub, summarize, pricing, transcript.Config{
		PoolSize:        cfg.Pipeline.PoolSize,
		PendingMax:      cfg.Pipeline.PendingMax,
		DownloadRetries: cfg.Pipeline.DownloadRetry,
		StageTimeout:    cfg.Pipeline.StageTimeout,
		SummaryEnabled:  cfg.Summary.Enabled,
	})

	registry := processor.NewRegistry(store, hub, pipeline)
	consumerName := fmt.Sprintf("consumer-%d", os.Getpid())
	consumerLoop := consumer.New(consumerQueue, registry, consumer.Config{
		ConsumerName: consumerName,
		BlockMs:      cfg.Queue.BlockMs,
		ReadCount:    cfg.Queue.ReadCount,
		ClaimIdle:    time.Duration(cfg.Queue.ClaimIdleMs) * time.Millisecond,
		ClaimCount:   cfg.Queue.ClaimCount,
		MaxRetries:   cfg.Queue.ConsumerMaxRetries,
		StatsEvery:   time.Minute,
	}, nil)

	hub.Start(ctx)
	pipeline.Start(ctx)
	consumerLoop.Start(ctx)
	go recovery.Run(ctx, store, pipeline, recovery.Config{
		StartupDelay:  cfg.Pipeline.RecoveryDelay,
		StuckCooldown: cfg.Pipeline.StuckCooldown,
	})

	server := api.NewServer(cfg.APIKey, store, objects, ingestQueue, pipeline, hub)

	errc := make(chan error, 1)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("received signal: %s", <-c)
	}()
	go func() {
		slog.Info("fuel-code server listening", "port", cfg.Port)
		errc <- server.Start(":" + cfg.Port)
	}()

	slog.Info("shutting down", "reason", <-errc)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("error during HTTP shutdown", "error", err)
	}
	consumerLoop.Stop()
	pipeline.Stop(10 * time.Second)
	hub.Stop()
}

func newRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing QUEUE_URL: %w", err)
	}
	return redis.NewClient(opts), nil
}

// newObjectStore builds an S3Store for a configured bucket, or an in-process
// MemoryStore when no bucket is configured — convenient for local
// development, never used when OBJECT_STORE_BUCKET is set.
func newObjectStore(ctx context.Context, cfg config.ObjectStoreConfig) (objectstore.Store, error) {
	if cfg.Bucket == "" {
		slog.Warn("OBJECT_STORE_BUCKET not set, using in-memory object store (data lost on restart)")
		return objectstore.NewMemoryStore(), nil
	}
	return objectstore.NewS3Store(ctx, cfg)
}
