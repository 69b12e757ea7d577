package middleware

import (
	"net/http"

	"golang.org/x/time/rate"

	"geo-index/internal/config"
	"geo-index/internal/logger"
	"geo-index/internal/metrics"
)

// 文档注释：令牌桶限流中间件（每秒）
// 背景：在流量峰值时对查询入口限速，避免遍历把存储打满；桶容量等于每秒速率，允许一秒内的突发。
// 约束：不排队，超限直接返回 429；未启用时原样返回 next。
func Wrap(next http.Handler, cfg config.RateLimitConfig) http.Handler {
	if !cfg.Enabled || cfg.QPS < 1 {
		return next
	}
	lim := rate.NewLimiter(rate.Limit(cfg.QPS), cfg.QPS)
	logger.L().Info("rate_limit_enabled", "qps", cfg.QPS)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !lim.Allow() {
			metrics.RateLimitedTotal.Inc()
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"too many requests"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}
