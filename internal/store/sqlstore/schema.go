package sqlstore

import (
	"context"

	"geo-index/internal/logger"
)

// EnsureSchema：首次运行自动创建所需表与索引，并写入根瓦片
// 约束：使用 IF NOT EXISTS 与 ON CONFLICT DO NOTHING，重复执行无副作用；语句同时兼容 PostgreSQL 与 SQLite
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS geo_tiles (
            tile_key TEXT PRIMARY KEY,
            usage_count BIGINT NOT NULL DEFAULT 0,
            last_updated BIGINT NOT NULL DEFAULT 0
        )`,
		`CREATE TABLE IF NOT EXISTS geo_tile_links (
            parent TEXT NOT NULL,
            child TEXT NOT NULL,
            min_lon DOUBLE PRECISION NOT NULL,
            max_lon DOUBLE PRECISION NOT NULL,
            min_lat DOUBLE PRECISION NOT NULL,
            max_lat DOUBLE PRECISION NOT NULL,
            PRIMARY KEY (parent, child)
        )`,
		`CREATE TABLE IF NOT EXISTS geo_entries (
            id TEXT PRIMARY KEY,
            collection_id TEXT NOT NULL DEFAULT '',
            from_ts BIGINT NOT NULL DEFAULT 0,
            to_ts BIGINT NOT NULL DEFAULT 0,
            tags TEXT NOT NULL DEFAULT '[]',
            lons TEXT NOT NULL DEFAULT '[]',
            lats TEXT NOT NULL DEFAULT '[]'
        )`,
		`CREATE TABLE IF NOT EXISTS geo_intersects (
            tile_key TEXT NOT NULL,
            entry_id TEXT NOT NULL,
            PRIMARY KEY (tile_key, entry_id)
        )`,
		`CREATE INDEX IF NOT EXISTS idx_geo_intersects_entry ON geo_intersects(entry_id, tile_key)`,
		`INSERT INTO geo_tiles(tile_key) VALUES('0') ON CONFLICT (tile_key) DO NOTHING`,
	}
	for i, q := range stmts {
		logger.L().Debug("schema_exec", "idx", i, "dialect", s.dialect)
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	logger.L().Debug("schema_done")
	return nil
}
