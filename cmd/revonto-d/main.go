package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/rmax-ai/revonto/pkg/api"
	"github.com/rmax-ai/revonto/pkg/blob"
	"github.com/rmax-ai/revonto/pkg/config"
	"github.com/rmax-ai/revonto/pkg/corpus"
	"github.com/rmax-ai/revonto/pkg/logging"
	"github.com/rmax-ai/revonto/pkg/store"
	"github.com/rmax-ai/revonto/pkg/store/redis"
)

var Version = "dev"

func main() {
	cfg, err := LoadConfig(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		logging.New(logging.Config{}).Error("invalid_config", "error", err)
		os.Exit(2)
	}

	logger := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Service: "revonto-d"})
	logger.Info("system_started", "version", Version)

	analysis, err := config.Load(cfg.AnalysisPath)
	if err != nil {
		logger.Error("failed_to_load_analysis_config", "path", cfg.AnalysisPath, "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := corpus.Load(ctx, analysis, corpus.Resolver(analysis), logger)
	if err != nil {
		logger.Error("failed_to_load_corpus", "error", err)
		os.Exit(1)
	}
	eng, err := corpus.NewEngine(c, analysis, logger)
	if err != nil {
		logger.Error("failed_to_init_engine", "error", err)
		os.Exit(1)
	}

	st, err := store.NewStore(cfg.DBPath)
	if err != nil {
		logger.Error("failed_to_init_store", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	logger.Info("store_initialized", "path", cfg.DBPath)

	srv := api.NewServer(eng, cfg.Addr)
	srv.SetLogger(logger)
	srv.SetVersion(Version)
	srv.SetArchive(st)
	srv.SetBlobStore(blob.NewLocalBlobStore(cfg.BlobDir))
	if cfg.TLSCertFile != "" {
		srv.SetTLS(cfg.TLSCertFile, cfg.TLSKeyFile)
	}

	var rc *goredis.Client
	if cfg.RedisAddr != "" {
		rc = goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		if err := rc.Ping(ctx).Err(); err != nil {
			// the cache treats failures as misses, so keep going
			logger.Warn("redis_unavailable", "addr", cfg.RedisAddr, "error", err)
		}
		srv.SetCache(redis.NewCache(rc, cfg.CacheTTL, logger))
		logger.Info("cache_enabled", "addr", cfg.RedisAddr, "ttl", cfg.CacheTTL)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown_initiated")
	case err := <-errCh:
		if err != nil {
			logger.Error("server_failed", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Error("failed_to_stop_server", "error", err)
	}

	if rc != nil {
		if err := rc.Close(); err != nil {
			logger.Error("failed_to_close_redis", "error", err)
		}
	}
	if err := st.Close(); err != nil {
		logger.Error("failed_to_close_store", "error", err)
	} else {
		logger.Info("store_closed")
	}

	logger.Info("shutdown_complete")
}
