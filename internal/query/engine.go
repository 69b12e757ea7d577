package query

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sort"
	"time"

	"github.com/paulmach/orb"

	"geo-index/internal/geom"
	"geo-index/internal/logger"
	"geo-index/internal/metrics"
	"geo-index/internal/store"
)

// Request：查询公共参数
// From/To 为闭区间；Tags 为空表示不过滤；Depth 为最大遍历深度；Count/Offset 为去重后的分页窗口
type Request struct {
	From   int64    `json:"from"`
	To     int64    `json:"to"`
	Tags   []string `json:"tags"`
	Depth  int      `json:"depth"`
	Count  int      `json:"count"`
	Offset int      `json:"offset"`
}

// Accepts：标签与时间区间过滤
func (r Request) Accepts(e store.Entry) bool {
	if !(r.From <= e.To && r.To >= e.From) {
		return false
	}
	if len(r.Tags) == 0 {
		return true
	}
	for _, want := range r.Tags {
		for _, have := range e.Tags {
			if want == have {
				return true
			}
		}
	}
	return false
}

// Cell：热力图单元，JSON 编码为 [lon, lat, count, lastUpdated]
type Cell struct {
	Lon         float64
	Lat         float64
	Count       int64
	LastUpdated int64
}

func (c Cell) MarshalJSON() ([]byte, error) {
	return json.Marshal([4]any{c.Lon, c.Lat, c.Count, c.LastUpdated})
}

func (c *Cell) UnmarshalJSON(b []byte) error {
	var raw [4]json.Number
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	var err error
	if c.Lon, err = raw[0].Float64(); err != nil {
		return err
	}
	if c.Lat, err = raw[1].Float64(); err != nil {
		return err
	}
	if c.Count, err = raw[2].Int64(); err != nil {
		return err
	}
	c.LastUpdated, err = raw[3].Int64()
	return err
}

// Querier：HTTP 层与缓存层依赖的查询能力
type Querier interface {
	Polygon(ctx context.Context, geojson string, r Request) ([]string, error)
	Distance(ctx context.Context, lon, lat, radiusKm float64, r Request) ([]string, error)
	Heatmap(ctx context.Context, geojson string, depth int) ([]Cell, error)
}

// Engine：查询入口；每次查询独立开启只读事务，不占用写入许可
type Engine struct {
	st store.Store
}

func NewEngine(st store.Store) *Engine { return &Engine{st: st} }

// Polygon：GeoJSON 多边形查询；几何非法时返回空结果
func (e *Engine) Polygon(ctx context.Context, geojson string, r Request) ([]string, error) {
	g, err := geom.Parse(geojson)
	if err != nil {
		logger.L().Debug("query_invalid_geometry", "err", err)
		return []string{}, nil
	}
	return e.run(ctx, "shape", g, r)
}

// Distance：以 32 边形近似半径圆后按多边形查询
func (e *Engine) Distance(ctx context.Context, lon, lat, radiusKm float64, r Request) ([]string, error) {
	return e.run(ctx, "distance", geom.Circle(lon, lat, radiusKm, geom.CircleSides), r)
}

// Geometry：已解析几何的查询入口
func (e *Engine) Geometry(ctx context.Context, g orb.Geometry, r Request) ([]string, error) {
	return e.run(ctx, "geometry", g, r)
}

type hit struct {
	entry   store.Entry
	dist    float64
	overlap int64
}

func (e *Engine) run(ctx context.Context, kind string, g orb.Geometry, r Request) ([]string, error) {
	start := time.Now()
	metrics.QueriesTotal.WithLabelValues(kind).Inc()
	env := geom.Envelope(g)
	center := geom.Centroid(g)
	var hits []hit
	err := e.st.View(ctx, func(tx store.Tx) error {
		hits = hits[:0]
		return Traverse(ctx, tx, true, entryEvaluator(env, r), func(s Step) error {
			hits = append(hits, hit{
				entry:   *s.Entry,
				dist:    minDistance(*s.Entry, center),
				overlap: min(r.To, s.Entry.To) - max(r.From, s.Entry.From),
			})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	out := rank(hits, r)
	metrics.QueryDurationMs.WithLabelValues(kind).Observe(float64(time.Since(start).Milliseconds()))
	metrics.QueryResults.WithLabelValues(kind).Observe(float64(len(out)))
	logger.L().Debug("query_done", "kind", kind, "candidates", len(hits), "results", len(out))
	return out, nil
}

// entryEvaluator：根节点继续；链接矩形不与外包矩形相交或超出深度则剪枝；条目按过滤条件收录
func entryEvaluator(env orb.Bound, r Request) Evaluator {
	return func(s Step) Verdict {
		if s.Entry != nil {
			if r.Accepts(*s.Entry) {
				return AcceptStop
			}
			return Prune
		}
		if s.Depth == 0 {
			return Continue
		}
		if s.Link != nil && !s.Link.Rect.Overlaps(env) {
			return Prune
		}
		if s.Depth > r.Depth {
			return Prune
		}
		return Continue
	}
}

func minDistance(e store.Entry, c orb.Point) float64 {
	d := math.Inf(1)
	for i := range e.Lons {
		if i >= len(e.Lats) {
			break
		}
		d = min(d, geom.Distance(orb.Point{e.Lons[i], e.Lats[i]}, c))
	}
	return d
}

// rank：距离升序，重叠长度降序，条目 id 升序；按集合去重后分页
func rank(hits []hit, r Request) []string {
	sort.Slice(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.dist != b.dist {
			return a.dist < b.dist
		}
		if a.overlap != b.overlap {
			return a.overlap > b.overlap
		}
		return a.entry.ID < b.entry.ID
	})
	seen := make(map[string]struct{}, len(hits))
	ids := make([]string, 0, len(hits))
	for _, h := range hits {
		if _, ok := seen[h.entry.CollectionID]; ok {
			continue
		}
		seen[h.entry.CollectionID] = struct{}{}
		ids = append(ids, h.entry.CollectionID)
	}
	offset := max(r.Offset, 0)
	if offset >= len(ids) || r.Count <= 0 {
		return []string{}
	}
	end := min(offset+r.Count, len(ids))
	return ids[offset:end]
}

// Heatmap：收录恰好位于 depth 层且与几何外包矩形相交的瓦片
func (e *Engine) Heatmap(ctx context.Context, geojson string, depth int) ([]Cell, error) {
	start := time.Now()
	metrics.QueriesTotal.WithLabelValues("heatmap").Inc()
	cells := []Cell{}
	g, err := geom.Parse(geojson)
	if err != nil {
		logger.L().Debug("query_invalid_geometry", "err", err)
		return cells, nil
	}
	if depth < 1 {
		return cells, nil
	}
	env := geom.Envelope(g)
	eval := func(s Step) Verdict {
		if s.Depth == 0 {
			return Continue
		}
		if s.Link != nil && !s.Link.Rect.Overlaps(env) {
			return Prune
		}
		switch {
		case s.Depth < depth:
			return Continue
		case s.Depth == depth:
			return AcceptStop
		}
		return Prune
	}
	err = e.st.View(ctx, func(tx store.Tx) error {
		cells = cells[:0]
		return Traverse(ctx, tx, false, eval, func(s Step) error {
			rec, err := tx.Tile(ctx, s.TileKey)
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			c := s.Link.Rect.Center()
			cells = append(cells, Cell{Lon: c[0], Lat: c[1], Count: rec.Count, LastUpdated: rec.LastUpdated})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	metrics.QueryDurationMs.WithLabelValues("heatmap").Observe(float64(time.Since(start).Milliseconds()))
	metrics.QueryResults.WithLabelValues("heatmap").Observe(float64(len(cells)))
	return cells, nil
}
