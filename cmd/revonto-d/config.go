package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	defaultAddr     = "127.0.0.1:8095"
	defaultCacheTTL = 24 * time.Hour
)

type Config struct {
	DBPath       string
	AnalysisPath string
	BlobDir      string
	Addr         string
	RedisAddr    string
	CacheTTL     time.Duration
	LogLevel     string
	LogFormat    string
	TLSCertFile  string
	TLSKeyFile   string
}

func LoadConfig(args []string) (Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return Config{}, fmt.Errorf("failed to get cwd: %w", err)
	}

	defaultDBPath := filepath.Join(cwd, "revonto.db")
	defaultAnalysisPath := filepath.Join(cwd, "revonto.yaml")
	defaultBlobDir := filepath.Join(cwd, "revonto-blobs")

	dbPath := envOrDefault("REVONTO_DB_PATH", defaultDBPath)
	analysisPath := envOrDefaultWithFallback([]string{"REVONTO_CONFIG_PATH", "REVONTO_ANALYSIS_PATH"}, defaultAnalysisPath)
	blobDir := envOrDefault("REVONTO_BLOB_DIR", defaultBlobDir)
	addr := addrFromEnv(defaultAddr)
	redisAddr := os.Getenv("REVONTO_REDIS_ADDR")
	cacheTTL := defaultCacheTTL
	if ttlEnv := os.Getenv("REVONTO_CACHE_TTL"); ttlEnv != "" {
		parsed, err := time.ParseDuration(ttlEnv)
		if err != nil {
			return Config{}, fmt.Errorf("invalid REVONTO_CACHE_TTL: %w", err)
		}
		if parsed <= 0 {
			return Config{}, errors.New("REVONTO_CACHE_TTL must be positive")
		}
		cacheTTL = parsed
	}
	logLevel := envOrDefault("REVONTO_LOG_LEVEL", "info")
	logFormat := envOrDefault("REVONTO_LOG_FORMAT", "json")

	flagSet := flag.NewFlagSet("revonto-d", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	flagDB := flagSet.String("db", dbPath, "path to SQLite study archive")
	flagAnalysis := flagSet.String("config", analysisPath, "path to analysis YAML")
	flagBlobDir := flagSet.String("blob-dir", blobDir, "directory for report files")
	flagAddr := flagSet.String("addr", addr, "HTTP listen address")
	flagRedis := flagSet.String("redis", redisAddr, "Redis address for the study cache (empty disables)")
	flagCacheTTL := flagSet.String("cache-ttl", cacheTTL.String(), "study cache TTL")
	flagLogLevel := flagSet.String("log-level", logLevel, "log level: debug|info|warn|error")
	flagLogFormat := flagSet.String("log-format", logFormat, "log format: json|text")
	flagTLSCert := flagSet.String("tls-cert", os.Getenv("REVONTO_TLS_CERT"), "TLS certificate file")
	flagTLSKey := flagSet.String("tls-key", os.Getenv("REVONTO_TLS_KEY"), "TLS key file")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			flagSet.SetOutput(os.Stdout)
			flagSet.PrintDefaults()
			return Config{}, err
		}
		return Config{}, err
	}

	ttlParsed, err := time.ParseDuration(*flagCacheTTL)
	if err != nil {
		return Config{}, fmt.Errorf("invalid cache ttl: %w", err)
	}
	if ttlParsed <= 0 {
		return Config{}, errors.New("cache ttl must be positive")
	}

	config := Config{
		DBPath:       resolvePath(*flagDB, cwd),
		AnalysisPath: resolvePath(*flagAnalysis, cwd),
		BlobDir:      resolvePath(*flagBlobDir, cwd),
		Addr:         strings.TrimSpace(*flagAddr),
		RedisAddr:    strings.TrimSpace(*flagRedis),
		CacheTTL:     ttlParsed,
		LogLevel:     strings.TrimSpace(*flagLogLevel),
		LogFormat:    strings.ToLower(strings.TrimSpace(*flagLogFormat)),
		TLSCertFile:  resolvePath(*flagTLSCert, cwd),
		TLSKeyFile:   resolvePath(*flagTLSKey, cwd),
	}

	if config.Addr == "" {
		return Config{}, errors.New("addr cannot be empty")
	}
	if (config.TLSCertFile == "") != (config.TLSKeyFile == "") {
		return Config{}, errors.New("tls-cert and tls-key must be set together")
	}
	if config.LogFormat != "json" && config.LogFormat != "text" {
		return Config{}, fmt.Errorf("unsupported log format: %s", config.LogFormat)
	}

	return config, nil
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envOrDefaultWithFallback(keys []string, fallback string) string {
	for _, key := range keys {
		if value := os.Getenv(key); value != "" {
			return value
		}
	}
	return fallback
}

func addrFromEnv(fallback string) string {
	if value := os.Getenv("REVONTO_ADDR"); value != "" {
		return value
	}
	if port := os.Getenv("REVONTO_PORT"); port != "" {
		return fmt.Sprintf("127.0.0.1:%s", port)
	}
	return fallback
}

func resolvePath(path string, cwd string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return trimmed
	}
	if filepath.IsAbs(trimmed) {
		return trimmed
	}
	return filepath.Join(cwd, trimmed)
}
