package utils

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"geo-index/internal/config"
	"geo-index/internal/logger"
)

// OpenPostgres：按配置打开连接池并探活
// 约束：连接池上限来自 PG_MAX_OPEN_CONNS/PG_MAX_IDLE_CONNS；探活超时 5 秒
func OpenPostgres(ctx context.Context, cfg config.StoreConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.PGMaxOpen)
	db.SetMaxIdleConns(cfg.PGMaxIdle)
	db.SetConnMaxIdleTime(5 * time.Minute)
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	logger.L().Info("store_open_ok", "backend", "postgres", "max_open", cfg.PGMaxOpen, "max_idle", cfg.PGMaxIdle)
	return db, nil
}
