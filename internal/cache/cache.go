// 包 cache：查询结果的 Redis 缓存层
// 背景：索引每次被写入后递增代数，键中携带代数，旧结果随 TTL 自然过期而无需逐条失效
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/redis/go-redis/v9"

	"geo-index/internal/logger"
	"geo-index/internal/metrics"
	"geo-index/internal/query"
)

const (
	keyPrefix = "geoidx:q:"
	genKey    = "geoidx:gen"
)

// Cached：包装查询器；rc 为 nil 时直接透传
type Cached struct {
	next query.Querier
	rc   *redis.Client
	ttl  time.Duration
}

// New：ttl 非正时回退到 300 秒
func New(next query.Querier, rc *redis.Client, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = 300 * time.Second
	}
	return &Cached{next: next, rc: rc, ttl: ttl}
}

func (c *Cached) Polygon(ctx context.Context, geojson string, r query.Request) ([]string, error) {
	return lookup(ctx, c, "shape", []any{geojson, r}, func() ([]string, error) {
		return c.next.Polygon(ctx, geojson, r)
	})
}

func (c *Cached) Distance(ctx context.Context, lon, lat, radiusKm float64, r query.Request) ([]string, error) {
	return lookup(ctx, c, "distance", []any{lon, lat, radiusKm, r}, func() ([]string, error) {
		return c.next.Distance(ctx, lon, lat, radiusKm, r)
	})
}

func (c *Cached) Heatmap(ctx context.Context, geojson string, depth int) ([]query.Cell, error) {
	return lookup(ctx, c, "heatmap", []any{geojson, depth}, func() ([]query.Cell, error) {
		return c.next.Heatmap(ctx, geojson, depth)
	})
}

// Bump：递增索引代数，使此前缓存的结果不再命中
// 约束：未启用缓存时为空操作
func (c *Cached) Bump(ctx context.Context) error {
	if c.rc == nil {
		return nil
	}
	return c.rc.Incr(ctx, genKey).Err()
}

// Key：由查询类别、参数与代数推出缓存键
func Key(gen int64, kind string, args any) (string, error) {
	b, err := json.Marshal(struct {
		Kind string `json:"k"`
		Args any    `json:"a"`
	}{kind, args})
	if err != nil {
		return "", err
	}
	return keyPrefix + strconv.FormatInt(gen, 10) + ":" + strconv.FormatUint(xxhash.Sum64(b), 16), nil
}

func (c *Cached) generation(ctx context.Context) (int64, error) {
	n, err := c.rc.Get(ctx, genKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

// lookup：命中则解码返回；Redis 异常时记录日志并回源，不影响查询本身
func lookup[T any](ctx context.Context, c *Cached, kind string, args any, fill func() (T, error)) (T, error) {
	if c.rc == nil {
		return fill()
	}
	gen, err := c.generation(ctx)
	if err != nil {
		logger.L().Debug("query_cache_unavailable", "kind", kind, "err", err)
		return fill()
	}
	key, err := Key(gen, kind, args)
	if err != nil {
		return fill()
	}
	if s, err := c.rc.Get(ctx, key).Result(); err == nil {
		var out T
		if json.Unmarshal([]byte(s), &out) == nil {
			metrics.CacheHitsTotal.Inc()
			return out, nil
		}
	}
	metrics.CacheMissesTotal.Inc()
	out, err := fill()
	if err != nil {
		return out, err
	}
	if b, err := json.Marshal(out); err == nil {
		if err := c.rc.Set(ctx, key, b, c.ttl).Err(); err != nil {
			logger.L().Debug("query_cache_set_error", "kind", kind, "err", err)
		}
	}
	return out, nil
}
