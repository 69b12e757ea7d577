// 包 sqlstore：基于 database/sql 的索引后端，支持 PostgreSQL（lib/pq）与 SQLite（go-sqlite3）
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"geo-index/internal/store"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite3"
)

// Store：数据库访问入口，持有连接池
type Store struct {
	db      *sql.DB
	dialect string
}

var _ store.Store = (*Store)(nil)

// AttachDB：包装已打开的连接池；调用方负责随后执行 EnsureSchema
func AttachDB(db *sql.DB, dialect string) (*Store, error) {
	switch dialect {
	case DialectPostgres, DialectSQLite:
	default:
		return nil, fmt.Errorf("sqlstore: unsupported dialect %q", dialect)
	}
	return &Store{db: db, dialect: dialect}, nil
}

// OpenSQLite：打开 SQLite 文件（":memory:" 为内存库）并完成建表
// 约束：SQLite 单写者，连接池限制为 1 以避免 database is locked
func OpenSQLite(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open(DialectSQLite, path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	s, err := AttachDB(db, DialectSQLite)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close：关闭数据库连接
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Update(ctx context.Context, fn func(store.Tx) error) error {
	return s.run(ctx, true, fn)
}

func (s *Store) View(ctx context.Context, fn func(store.Tx) error) error {
	return s.run(ctx, false, fn)
}

func (s *Store) run(ctx context.Context, write bool, fn func(store.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	t := &tx{tx: sqlTx, write: write, rebind: s.rebind}
	if err := fn(t); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if !write {
		return sqlTx.Rollback()
	}
	return sqlTx.Commit()
}

var placeholder = regexp.MustCompile(`\$(\d+)`)

// rebind：SQLite 使用 ?N 形式的编号参数
func (s *Store) rebind(q string) string {
	if s.dialect == DialectSQLite {
		return placeholder.ReplaceAllString(q, "?$1")
	}
	return q
}

type tx struct {
	tx     *sql.Tx
	write  bool
	rebind func(string) string
}

func (t *tx) exec(ctx context.Context, q string, args ...any) (sql.Result, error) {
	if !t.write {
		return nil, store.ErrReadOnly
	}
	return t.tx.ExecContext(ctx, t.rebind(q), args...)
}

// created：按影响行数判断 INSERT ... ON CONFLICT DO NOTHING 是否真正写入
func created(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (t *tx) strings(ctx context.Context, q string, arg string) ([]string, error) {
	rows, err := t.tx.QueryContext(ctx, t.rebind(q), arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (t *tx) EnsureTile(ctx context.Context, key string) (bool, error) {
	if !t.write {
		if _, err := t.Tile(ctx, key); err == nil {
			return false, nil
		}
		return false, store.ErrReadOnly
	}
	return created(t.exec(ctx, `INSERT INTO geo_tiles(tile_key) VALUES($1) ON CONFLICT (tile_key) DO NOTHING`, key))
}

func (t *tx) Tile(ctx context.Context, key string) (store.TileRecord, error) {
	r := store.TileRecord{Key: key}
	err := t.tx.QueryRowContext(ctx, t.rebind(`SELECT usage_count, last_updated FROM geo_tiles WHERE tile_key=$1`), key).
		Scan(&r.Count, &r.LastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return store.TileRecord{}, store.ErrNotFound
	}
	return r, err
}

func (t *tx) AdjustTile(ctx context.Context, key string, delta, at int64) error {
	res, err := t.exec(ctx, `UPDATE geo_tiles SET usage_count = usage_count + $2, last_updated = $3 WHERE tile_key=$1`, key, delta, at)
	ok, err := created(res, err)
	if err != nil {
		return err
	}
	if !ok {
		return store.ErrNotFound
	}
	return nil
}

func (t *tx) EnsureLink(ctx context.Context, parent, child string, r store.Rect) (bool, error) {
	return created(t.exec(ctx,
		`INSERT INTO geo_tile_links(parent, child, min_lon, max_lon, min_lat, max_lat)
         VALUES($1,$2,$3,$4,$5,$6) ON CONFLICT (parent, child) DO NOTHING`,
		parent, child, r.MinLon, r.MaxLon, r.MinLat, r.MaxLat))
}

func (t *tx) Links(ctx context.Context, parent string) ([]store.Link, error) {
	rows, err := t.tx.QueryContext(ctx, t.rebind(
		`SELECT child, min_lon, max_lon, min_lat, max_lat FROM geo_tile_links WHERE parent=$1 ORDER BY child`), parent)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []store.Link{}
	for rows.Next() {
		l := store.Link{Parent: parent}
		if err := rows.Scan(&l.Child, &l.Rect.MinLon, &l.Rect.MaxLon, &l.Rect.MinLat, &l.Rect.MaxLat); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (t *tx) AddIntersect(ctx context.Context, tileKey, entryID string) (bool, error) {
	return created(t.exec(ctx,
		`INSERT INTO geo_intersects(tile_key, entry_id) VALUES($1,$2) ON CONFLICT (tile_key, entry_id) DO NOTHING`,
		tileKey, entryID))
}

func (t *tx) Intersects(ctx context.Context, tileKey string) ([]string, error) {
	return t.strings(ctx, `SELECT entry_id FROM geo_intersects WHERE tile_key=$1 ORDER BY entry_id`, tileKey)
}

func (t *tx) EnsureEntry(ctx context.Context, id string) (bool, error) {
	return created(t.exec(ctx, `INSERT INTO geo_entries(id) VALUES($1) ON CONFLICT (id) DO NOTHING`, id))
}

func (t *tx) PutEntry(ctx context.Context, e store.Entry) error {
	tags, err := json.Marshal(nonNil(e.Tags))
	if err != nil {
		return err
	}
	lons, err := json.Marshal(nonNil(e.Lons))
	if err != nil {
		return err
	}
	lats, err := json.Marshal(nonNil(e.Lats))
	if err != nil {
		return err
	}
	_, err = t.exec(ctx,
		`INSERT INTO geo_entries(id, collection_id, from_ts, to_ts, tags, lons, lats)
         VALUES($1,$2,$3,$4,$5,$6,$7)
         ON CONFLICT (id) DO UPDATE SET collection_id=EXCLUDED.collection_id, from_ts=EXCLUDED.from_ts,
             to_ts=EXCLUDED.to_ts, tags=EXCLUDED.tags, lons=EXCLUDED.lons, lats=EXCLUDED.lats`,
		e.ID, e.CollectionID, e.From, e.To, string(tags), string(lons), string(lats))
	return err
}

func (t *tx) Entry(ctx context.Context, id string) (store.Entry, error) {
	e := store.Entry{ID: id}
	var tags, lons, lats string
	err := t.tx.QueryRowContext(ctx, t.rebind(
		`SELECT collection_id, from_ts, to_ts, tags, lons, lats FROM geo_entries WHERE id=$1`), id).
		Scan(&e.CollectionID, &e.From, &e.To, &tags, &lons, &lats)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Entry{}, store.ErrNotFound
	}
	if err != nil {
		return store.Entry{}, err
	}
	if err := decodeList(tags, &e.Tags); err != nil {
		return store.Entry{}, err
	}
	if err := decodeList(lons, &e.Lons); err != nil {
		return store.Entry{}, err
	}
	if err := decodeList(lats, &e.Lats); err != nil {
		return store.Entry{}, err
	}
	return e, nil
}

func (t *tx) EntryTiles(ctx context.Context, id string) ([]string, error) {
	return t.strings(ctx, `SELECT tile_key FROM geo_intersects WHERE entry_id=$1 ORDER BY tile_key`, id)
}

func (t *tx) DetachEntry(ctx context.Context, id string) ([]string, error) {
	if !t.write {
		return nil, store.ErrReadOnly
	}
	tiles, err := t.EntryTiles(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := t.exec(ctx, `DELETE FROM geo_intersects WHERE entry_id=$1`, id); err != nil {
		return nil, err
	}
	return tiles, nil
}

func (t *tx) DeleteEntry(ctx context.Context, id string) (bool, error) {
	if _, err := t.DetachEntry(ctx, id); err != nil {
		return false, err
	}
	return created(t.exec(ctx, `DELETE FROM geo_entries WHERE id=$1`, id))
}

func nonNil[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}

// decodeList：空数组解码为 nil，与内存后端保持一致
func decodeList[T any](s string, out *[]T) error {
	var v []T
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return fmt.Errorf("sqlstore: decode list: %w", err)
	}
	if len(v) > 0 {
		*out = v
	}
	return nil
}
