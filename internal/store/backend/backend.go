// 包 backend：按配置选择并打开索引存储后端
package backend

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"geo-index/internal/config"
	"geo-index/internal/logger"
	"geo-index/internal/store"
	"geo-index/internal/store/badgerstore"
	"geo-index/internal/store/memstore"
	"geo-index/internal/store/sqlstore"
	"geo-index/internal/utils"
)

// badgerGCInterval：Badger 值日志回收周期
const badgerGCInterval = 10 * time.Minute

// Open：打开 cfg.Backend 指定的后端；返回的 Store 由调用方关闭
func Open(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Backend {
	case config.BackendMemory, "":
		return memstore.Open(cfg.SnapshotPath)
	case config.BackendSQLite:
		if cfg.SQLitePath != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
				return nil, err
			}
		}
		s, err := sqlstore.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("sqlite %s: %w", cfg.SQLitePath, err)
		}
		logger.L().Info("store_open_ok", "backend", "sqlite", "path", cfg.SQLitePath)
		return s, nil
	case config.BackendPostgres:
		db, err := utils.OpenPostgres(ctx, cfg)
		if err != nil {
			return nil, err
		}
		s, err := sqlstore.AttachDB(db, sqlstore.DialectPostgres)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		if err := s.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		return s, nil
	case config.BackendBadger:
		s, err := badgerstore.Open(badgerstore.Options{Dir: cfg.BadgerDir, GCInterval: badgerGCInterval})
		if err != nil {
			return nil, err
		}
		logger.L().Info("store_open_ok", "backend", "badger", "dir", cfg.BadgerDir)
		return s, nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
}
