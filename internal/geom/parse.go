// 包 geom：GeoJSON 解析与平面几何判定，供瓦片分解与查询共用
package geom

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// ErrInvalidGeometry：几何文本无法解析或结构不合法
var ErrInvalidGeometry = errors.New("invalid geometry")

// Parse：解析 GeoJSON 文本
// 背景：上游可能写入裸几何、Feature 或 FeatureCollection，统一归一为 orb.Geometry
// 约束：空坐标、非有限数值、少于 3 个顶点的环、少于 2 个点的线均视为非法
func Parse(s string) (orb.Geometry, error) {
	raw := []byte(strings.TrimSpace(s))
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrInvalidGeometry)
	}
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidGeometry, err)
	}
	var g orb.Geometry
	switch strings.ToLower(probe.Type) {
	case "feature":
		f, err := geojson.UnmarshalFeature(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidGeometry, err)
		}
		g = f.Geometry
	case "featurecollection":
		fc, err := geojson.UnmarshalFeatureCollection(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidGeometry, err)
		}
		var c orb.Collection
		for _, f := range fc.Features {
			if f.Geometry != nil {
				c = append(c, f.Geometry)
			}
		}
		g = c
	default:
		gj, err := geojson.UnmarshalGeometry(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidGeometry, err)
		}
		g = gj.Geometry()
	}
	if err := validate(g); err != nil {
		return nil, err
	}
	return g, nil
}

func validate(g orb.Geometry) error {
	if g == nil {
		return fmt.Errorf("%w: no geometry", ErrInvalidGeometry)
	}
	parts := Parts(g)
	if len(parts) == 0 {
		return fmt.Errorf("%w: no coordinates", ErrInvalidGeometry)
	}
	for _, p := range parts {
		switch v := p.(type) {
		case orb.Point:
			if !finite(v) {
				return fmt.Errorf("%w: non-finite coordinate", ErrInvalidGeometry)
			}
		case orb.LineString:
			if len(v) < 2 {
				return fmt.Errorf("%w: line with %d points", ErrInvalidGeometry, len(v))
			}
			if !allFinite(v) {
				return fmt.Errorf("%w: non-finite coordinate", ErrInvalidGeometry)
			}
		case orb.Polygon:
			if len(v) == 0 {
				return fmt.Errorf("%w: polygon without rings", ErrInvalidGeometry)
			}
			for _, r := range v {
				if len(r) < 3 {
					return fmt.Errorf("%w: ring with %d points", ErrInvalidGeometry, len(r))
				}
				if !allFinite(r) {
					return fmt.Errorf("%w: non-finite coordinate", ErrInvalidGeometry)
				}
			}
		}
	}
	return nil
}

func finite(p orb.Point) bool {
	return !math.IsNaN(p[0]) && !math.IsNaN(p[1]) && !math.IsInf(p[0], 0) && !math.IsInf(p[1], 0)
}

func allFinite(ps []orb.Point) bool {
	for _, p := range ps {
		if !finite(p) {
			return false
		}
	}
	return true
}

// Parts：拆分为连通分量；多部件几何与集合逐层展开
func Parts(g orb.Geometry) []orb.Geometry {
	var out []orb.Geometry
	switch v := g.(type) {
	case nil:
	case orb.Point:
		out = append(out, v)
	case orb.MultiPoint:
		for _, p := range v {
			out = append(out, p)
		}
	case orb.LineString:
		if len(v) > 0 {
			out = append(out, v)
		}
	case orb.MultiLineString:
		for _, l := range v {
			if len(l) > 0 {
				out = append(out, l)
			}
		}
	case orb.Ring:
		if len(v) > 0 {
			out = append(out, orb.Polygon{v})
		}
	case orb.Polygon:
		if len(v) > 0 {
			out = append(out, v)
		}
	case orb.MultiPolygon:
		for _, p := range v {
			if len(p) > 0 {
				out = append(out, p)
			}
		}
	case orb.Bound:
		out = append(out, v.ToPolygon())
	case orb.Collection:
		for _, c := range v {
			out = append(out, Parts(c)...)
		}
	}
	return out
}
