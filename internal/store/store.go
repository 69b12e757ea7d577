// 包 store：瓦片层级索引的持久化抽象，屏蔽内存、SQL 与 Badger 三种后端的差异
package store

import (
	"context"
	"errors"

	"github.com/paulmach/orb"
)

// RootKey：根瓦片键，所有后端在打开时保证其存在
const RootKey = "0"

var (
	ErrNotFound = errors.New("not found")
	ErrReadOnly = errors.New("write in read-only transaction")
)

// Rect：链接边上记录的子瓦片外包矩形
type Rect struct {
	MinLon float64 `json:"min_lon"`
	MaxLon float64 `json:"max_lon"`
	MinLat float64 `json:"min_lat"`
	MaxLat float64 `json:"max_lat"`
}

// RectOf：由 orb.Bound 构造
func RectOf(b orb.Bound) Rect {
	return Rect{MinLon: b.Min[0], MaxLon: b.Max[0], MinLat: b.Min[1], MaxLat: b.Max[1]}
}

// Overlaps：与查询外包矩形有公共点（闭区间）
func (r Rect) Overlaps(b orb.Bound) bool {
	return !(b.Max[0] < r.MinLon || b.Max[1] < r.MinLat || b.Min[0] > r.MaxLon || b.Min[1] > r.MaxLat)
}

// Center：矩形中心，热力图单元使用
func (r Rect) Center() orb.Point {
	return orb.Point{(r.MinLon + r.MaxLon) / 2, (r.MinLat + r.MaxLat) / 2}
}

// Link：父瓦片到子瓦片的有向边
type Link struct {
	Parent string
	Child  string
	Rect   Rect
}

// TileRecord：瓦片节点及其使用计数
type TileRecord struct {
	Key         string `json:"key"`
	Count       int64  `json:"count"`
	LastUpdated int64  `json:"last_updated"`
}

// Entry：被索引的业务记录
// Lons/Lats 为各连通部件的质心，下标一一对应
type Entry struct {
	ID           string    `json:"id"`
	CollectionID string    `json:"collection_id"`
	From         int64     `json:"from"`
	To           int64     `json:"to"`
	Tags         []string  `json:"tags"`
	Lons         []float64 `json:"lons"`
	Lats         []float64 `json:"lats"`
}

// Tx：事务内可见的图操作
// 约束：Ensure* 为幂等的取或建，返回值表示本次是否新建；列表结果按键升序返回
type Tx interface {
	EnsureTile(ctx context.Context, key string) (bool, error)
	Tile(ctx context.Context, key string) (TileRecord, error)
	AdjustTile(ctx context.Context, key string, delta, at int64) error
	EnsureLink(ctx context.Context, parent, child string, r Rect) (bool, error)
	Links(ctx context.Context, parent string) ([]Link, error)
	AddIntersect(ctx context.Context, tileKey, entryID string) (bool, error)
	Intersects(ctx context.Context, tileKey string) ([]string, error)
	EnsureEntry(ctx context.Context, id string) (bool, error)
	PutEntry(ctx context.Context, e Entry) error
	Entry(ctx context.Context, id string) (Entry, error)
	EntryTiles(ctx context.Context, id string) ([]string, error)
	DetachEntry(ctx context.Context, id string) ([]string, error)
	DeleteEntry(ctx context.Context, id string) (bool, error)
}

// Store：事务入口
// Update 在写事务中执行 fn，fn 返回错误时整体回滚；View 为只读事务
type Store interface {
	Update(ctx context.Context, fn func(Tx) error) error
	View(ctx context.Context, fn func(Tx) error) error
	Close() error
}
