// Package redis caches study results in Redis so that repeated queries with
// the same parameters skip the engine.
package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rmax-ai/revonto/pkg/engine"
)

const (
	keyPrefix  = "revonto:study:"
	studiesSet = "revonto:studies"
)

// DefaultTTL bounds how long a cached study is served.
const DefaultTTL = 24 * time.Hour

// Entry is a cached study.
type Entry struct {
	StudyID string           `json:"study_id"`
	Records []*engine.Record `json:"records"`
}

// Cache stores study results keyed by their parameters. Failures are logged
// and reported as misses; the cache never fails a study.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewCache wraps client. A non-positive ttl uses DefaultTTL.
func NewCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{client: client, ttl: ttl, logger: logger}
}

// StudyKey derives the cache key for a study. Query terms and methods are
// deduplicated and sorted so that equivalent requests share a key.
func StudyKey(query, methods []string, alpha float64, pvalue string) string {
	h := sha256.New()
	h.Write([]byte(strings.Join(canonical(query), ",")))
	h.Write([]byte{'|'})
	h.Write([]byte(strings.Join(canonical(methods), ",")))
	h.Write([]byte{'|'})
	h.Write([]byte(strconv.FormatFloat(alpha, 'g', -1, 64)))
	h.Write([]byte{'|'})
	h.Write([]byte(strings.ToLower(pvalue)))
	return keyPrefix + hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached entry for key.
func (c *Cache) Get(ctx context.Context, key string) (Entry, bool) {
	data, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("cache_get_failed", "key", key, "error", err)
		}
		return Entry{}, false
	}
	var entry Entry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		c.logger.Warn("cache_entry_corrupt", "key", key, "error", err)
		return Entry{}, false
	}
	return entry, true
}

// Set stores entry under key with the cache TTL.
func (c *Cache) Set(ctx context.Context, key string, entry Entry) {
	data, err := json.Marshal(entry)
	if err != nil {
		c.logger.Warn("cache_marshal_failed", "key", key, "error", err)
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Warn("cache_set_failed", "key", key, "error", err)
		return
	}
	if err := c.client.SAdd(ctx, studiesSet, key).Err(); err != nil {
		c.logger.Warn("cache_index_failed", "key", key, "error", err)
	}
}

// Clear drops every cached study, e.g. after the corpus is reloaded.
func (c *Cache) Clear(ctx context.Context) error {
	keys, err := c.client.SMembers(ctx, studiesSet).Result()
	if err != nil {
		return fmt.Errorf("failed to list cached studies: %w", err)
	}
	if len(keys) > 0 {
		if err := c.client.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("failed to delete cached studies: %w", err)
		}
	}
	if err := c.client.Del(ctx, studiesSet).Err(); err != nil {
		return fmt.Errorf("failed to delete %s: %w", studiesSet, err)
	}
	return nil
}

func canonical(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
