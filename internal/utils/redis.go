// 包 utils：外部连接工具（Redis、PostgreSQL、自签名证书），统一从配置读取参数
package utils

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"geo-index/internal/config"
	"geo-index/internal/logger"
)

// OpenRedis：按配置打开 Redis 客户端，未配置主机或显式禁用时返回 nil
// 背景：查询缓存可选；探活失败只记录告警，缓存层在 Redis 异常时回源
func OpenRedis(ctx context.Context, cfg config.Config) *redis.Client {
	addr := cfg.RedisAddr()
	if addr == "" {
		return nil
	}
	rc := redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    cfg.Redis.Pass,
		DB:          cfg.Redis.DB,
		DialTimeout: 2 * time.Second,
	})
	pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rc.Ping(pctx).Err(); err != nil {
		logger.L().Warn("redis_unavailable", "addr", addr, "err", err)
	} else {
		logger.L().Debug("redis_ok", "addr", addr, "db", cfg.Redis.DB)
	}
	return rc
}
