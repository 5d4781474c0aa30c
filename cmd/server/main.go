package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"

	"github.com/alicebob/miniredis/v2"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/LegendarySumit/MediaDL/internal/api"
	"github.com/LegendarySumit/MediaDL/internal/cleanup"
	"github.com/LegendarySumit/MediaDL/internal/config"
	"github.com/LegendarySumit/MediaDL/internal/downloader"
	"github.com/LegendarySumit/MediaDL/internal/jobs"
	"github.com/LegendarySumit/MediaDL/internal/logger"
	"github.com/LegendarySumit/MediaDL/internal/retry"
	"github.com/LegendarySumit/MediaDL/internal/semaphore"
	"github.com/LegendarySumit/MediaDL/internal/server"
	"github.com/LegendarySumit/MediaDL/internal/store"
	"github.com/LegendarySumit/MediaDL/internal/stream"
	"github.com/LegendarySumit/MediaDL/internal/ws"
)

func main() {
	godotenv.Load()
	cfg := config.Load()
	logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	if err := server.PrepareFilesystem(cfg); err != nil {
		log.Fatalf("error preparing filesystem: %v", err)
	}

	rdb, err := connectRedis(cfg)
	if err != nil {
		log.Fatalf("error connecting to redis: %v", err)
	}

	ctx := context.Background()
	st := store.New(rdb, cfg.JobTTL)
	sem := semaphore.New(rdb, cfg.MaxConcurrentDownloads, cfg.MaxQueueSize)

	// Orphaned slots from a previous crash would shrink capacity forever;
	// the ledger is rebuilt from scratch on every start.
	if err := sem.Reset(ctx); err != nil {
		log.Fatalf("error resetting semaphore: %v", err)
	}

	hub := ws.New(st, sem)
	orch := jobs.New(cfg, st, sem, downloader.NewSelector(cfg.TempDir), hub.Broadcast)
	retries := retry.New(st, cfg.MaxRetries)
	sub := stream.New(st, cfg.StreamPollInterval, cfg.StreamMaxDuration, cfg.StallTicks)
	cleaner := cleanup.New(cfg.DownloadDir, cfg.CleanupAge, cfg.MinFreeDiskGB)

	jobs.StartJanitor(cfg, cleaner)

	handler := api.NewHandler(cfg, st, sem, retries, orch, sub, cleaner, hub)
	router := api.NewRouter(handler)

	slog.Info("MediaDL server started",
		"port", cfg.Port,
		"max_concurrent_downloads", cfg.MaxConcurrentDownloads,
		"downloads", cfg.DownloadDir)

	log.Fatal(http.ListenAndServe(cfg.Port, router))
}

// connectRedis dials the configured Redis, or boots an embedded
// in-process instance for development when USE_MINIREDIS is set.
func connectRedis(cfg *config.Config) (*redis.Client, error) {
	addr := cfg.RedisAddr
	if cfg.UseMiniredis {
		m, err := miniredis.Run()
		if err != nil {
			return nil, err
		}
		addr = m.Addr()
		slog.Info("redis: embedded in-memory instance", "addr", addr)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   cfg.RedisDB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	if !cfg.UseMiniredis {
		slog.Info("redis: connected", "addr", addr)
	}
	return rdb, nil
}
