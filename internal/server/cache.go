package server

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chatvault/chatvault/config"
	"github.com/chatvault/chatvault/internal/query"
)

// AnswerCache memoises full query responses in Redis, keyed by a hash of the
// normalized question and retrieval parameters. Cache failures degrade to a
// miss; they never fail the query.
type AnswerCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *log.Logger
}

// NewAnswerCache connects the optional Redis answer cache. Returns nil (cache
// disabled) when no host is configured or the server is unreachable.
func NewAnswerCache(ctx context.Context, cfg config.RedisConfig, logger *log.Logger) *AnswerCache {
	if cfg.Host == "" {
		return nil
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[CACHE] ", log.LstdFlags)
	}
	port := cfg.Port
	if port == "" {
		port = "6379"
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Printf("redis unreachable, answer cache disabled: %v", err)
		return nil
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &AnswerCache{rdb: rdb, ttl: ttl, logger: logger}
}

func cacheKey(req query.Request) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%.3f|%d", req.Query, req.Threshold, req.Limit)))
	return "chatvault:answer:" + hex.EncodeToString(sum[:])
}

// Get returns a cached response and whether one existed.
func (c *AnswerCache) Get(ctx context.Context, req query.Request) (query.Response, bool) {
	if c == nil {
		return query.Response{}, false
	}
	raw, err := c.rdb.Get(ctx, cacheKey(req)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Printf("cache get failed: %v", err)
		}
		return query.Response{}, false
	}
	var resp query.Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return query.Response{}, false
	}
	return resp, true
}

// cacheable reports whether a response may be memoised. Ungrounded answers
// are cheap to regenerate; meta answers track the newest session and go
// stale the moment another transcript is archived.
func cacheable(resp query.Response) bool {
	return resp.HasSourceContext && resp.Intent != query.IntentMeta
}

// Put stores a response; only context-grounded, non-meta answers are cached.
func (c *AnswerCache) Put(ctx context.Context, req query.Request, resp query.Response) {
	if c == nil || !cacheable(resp) {
		return
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, cacheKey(req), raw, c.ttl).Err(); err != nil {
		c.logger.Printf("cache put failed: %v", err)
	}
}

// Flush drops all cached answers. Called after deletes so stale sources do
// not outlive their sessions.
func (c *AnswerCache) Flush(ctx context.Context) {
	if c == nil {
		return
	}
	iter := c.rdb.Scan(ctx, 0, "chatvault:answer:*", 0).Iterator()
	for iter.Next(ctx) {
		if err := c.rdb.Del(ctx, iter.Val()).Err(); err != nil {
			c.logger.Printf("cache flush failed: %v", err)
			return
		}
	}
	if err := iter.Err(); err != nil {
		c.logger.Printf("cache flush scan failed: %v", err)
	}
}
