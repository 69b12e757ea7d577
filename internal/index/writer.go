// 包 index：把条目几何分解到瓦片层级并维护索引边与瓦片计数
package index

import (
	"context"
	"sort"
	"time"

	"github.com/paulmach/orb"

	"geo-index/internal/geom"
	"geo-index/internal/logger"
	"geo-index/internal/metrics"
	"geo-index/internal/store"
	"geo-index/internal/tile"
)

// Document：一次写入请求
// GeoJSON 为几何文本；From/To 为毫秒时间戳
type Document struct {
	ID           string
	CollectionID string
	From         int64
	To           int64
	Tags         []string
	GeoJSON      string
}

// Result：写入结果
// Chains 为写入的瓦片链条数（每条链以一条相交边结尾），Tiles 为链上不同瓦片的数量（不含根）
type Result struct {
	EntryID string
	Created bool
	Parts   int
	Chains  int
	Tiles   int
}

type Writer struct {
	grid *tile.Grid
	now  func() time.Time
}

type Option func(*Writer)

// WithClock：替换瓦片 lastUpdated 使用的时钟
func WithClock(now func() time.Time) Option { return func(w *Writer) { w.now = now } }

func NewWriter(g *tile.Grid, opts ...Option) *Writer {
	w := &Writer{grid: g, now: time.Now}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Index：在调用方提供的事务内写入或重建一个条目
// 背景：已存在的条目先摘除全部相交边与计数，再按新几何重新分解，重复写入结果一致
// 约束：几何非法时返回 geom.ErrInvalidGeometry 且不做任何修改
func (w *Writer) Index(ctx context.Context, tx store.Tx, doc Document) (*Result, error) {
	start := time.Now()
	g, err := geom.Parse(doc.GeoJSON)
	if err != nil {
		return nil, err
	}
	created, err := tx.EnsureEntry(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	if !created {
		if err := w.detach(ctx, tx, doc.ID); err != nil {
			return nil, err
		}
	}
	e := store.Entry{
		ID:           doc.ID,
		CollectionID: doc.CollectionID,
		From:         doc.From,
		To:           doc.To,
		Tags:         append([]string(nil), doc.Tags...),
	}
	in := &inserter{
		ctx:     ctx,
		tx:      tx,
		grid:    w.grid,
		entryID: doc.ID,
		ensured: make(map[string]bool),
		touched: make(map[string]struct{}),
	}
	parts := geom.Parts(g)
	for _, p := range parts {
		c := geom.Centroid(p)
		e.Lons = append(e.Lons, c[0])
		e.Lats = append(e.Lats, c[1])
		for t := range w.grid.TopLevel() {
			if err := w.decompose(in, p, t); err != nil {
				return nil, err
			}
		}
	}
	if err := tx.PutEntry(ctx, e); err != nil {
		return nil, err
	}
	if in.chains > 0 {
		keys := make([]string, 0, len(in.touched))
		for k := range in.touched {
			keys = append(keys, k)
		}
		if err := w.adjust(ctx, tx, withRoot(keys), 1); err != nil {
			return nil, err
		}
	}
	metrics.ChainsInsertedTotal.Add(float64(in.chains))
	metrics.IndexDurationMs.Observe(float64(time.Since(start).Milliseconds()))
	res := &Result{EntryID: doc.ID, Created: created, Parts: len(parts), Chains: in.chains, Tiles: len(in.touched)}
	logger.L().Debug("index_entry_done", "id", doc.ID, "created", created, "parts", res.Parts, "chains", res.Chains, "tiles", res.Tiles)
	return res, nil
}

// Delete：删除条目及其相交边；条目不存在时返回 false 且不报错
func (w *Writer) Delete(ctx context.Context, tx store.Tx, id string) (bool, error) {
	tiles, err := tx.EntryTiles(ctx, id)
	if err != nil {
		return false, err
	}
	ok, err := tx.DeleteEntry(ctx, id)
	if err != nil || !ok {
		return false, err
	}
	if err := w.adjust(ctx, tx, counterKeys(tiles), -1); err != nil {
		return false, err
	}
	logger.L().Debug("index_entry_deleted", "id", id, "tiles", len(tiles))
	return true, nil
}

func (w *Writer) detach(ctx context.Context, tx store.Tx, id string) error {
	tiles, err := tx.DetachEntry(ctx, id)
	if err != nil {
		return err
	}
	return w.adjust(ctx, tx, counterKeys(tiles), -1)
}

// counterKeys：由相交瓦片推出需要调整计数的全部瓦片（含根，去重）
func counterKeys(tiles []string) []string {
	if len(tiles) == 0 {
		return nil
	}
	seen := map[string]struct{}{}
	var keys []string
	for _, t := range tiles {
		for _, k := range tile.PrefixKeys(t) {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	return withRoot(keys)
}

// withRoot：根在前，其余按键升序，保证并发写入时行锁顺序一致
func withRoot(keys []string) []string {
	sort.Strings(keys)
	return append([]string{store.RootKey}, keys...)
}

func (w *Writer) adjust(ctx context.Context, tx store.Tx, keys []string, delta int64) error {
	at := w.now().UnixMilli()
	for _, k := range keys {
		if err := tx.AdjustTile(ctx, k, delta, at); err != nil {
			return err
		}
	}
	return nil
}

// decompose：覆盖则整块写入；相交且已到阈值则写入；相交未到阈值则继续细分
func (w *Writer) decompose(in *inserter, part orb.Geometry, t tile.Tile) error {
	b := t.Bound()
	if geom.Contains(part, b) {
		return in.insert(t)
	}
	if !geom.Intersects(part, b) {
		return nil
	}
	if w.grid.Terminal(t) {
		return in.insert(t)
	}
	if err := in.ctx.Err(); err != nil {
		return err
	}
	for c := range w.grid.Children(t) {
		if err := w.decompose(in, part, c); err != nil {
			return err
		}
	}
	return nil
}

type inserter struct {
	ctx     context.Context
	tx      store.Tx
	grid    *tile.Grid
	entryID string
	ensured map[string]bool
	touched map[string]struct{}
	chains  int
}

// insert：从根起逐层取或建瓦片与链接边，末端挂相交边
func (in *inserter) insert(t tile.Tile) error {
	parent := store.RootKey
	for _, a := range in.grid.Lineage(t) {
		k := a.Key()
		if !in.ensured[k] {
			if _, err := in.tx.EnsureTile(in.ctx, k); err != nil {
				return err
			}
			if _, err := in.tx.EnsureLink(in.ctx, parent, k, store.RectOf(a.Bound())); err != nil {
				return err
			}
			in.ensured[k] = true
		}
		in.touched[k] = struct{}{}
		parent = k
	}
	if _, err := in.tx.AddIntersect(in.ctx, parent, in.entryID); err != nil {
		return err
	}
	in.chains++
	return nil
}
