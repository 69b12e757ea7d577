package geom

import "github.com/paulmach/orb"

// Contains：几何部件是否覆盖整个闭矩形
// 背景：只有面能覆盖正面积的瓦片；矩形四角均落在面内（含边界）且没有任何环边穿过矩形开内部时判定为覆盖
// 约束：点与线总是返回 false
func Contains(part orb.Geometry, b orb.Bound) bool {
	poly, ok := part.(orb.Polygon)
	if !ok || len(poly) == 0 {
		return false
	}
	if !poly.Bound().Intersects(b) {
		return false
	}
	corners := [4]orb.Point{b.Min, {b.Max[0], b.Min[1]}, b.Max, {b.Min[0], b.Max[1]}}
	for _, c := range corners {
		if !pointInPolygon(c, poly) {
			return false
		}
	}
	for _, ring := range poly {
		n := len(ring)
		for i, j := 0, n-1; i < n; j, i = i, i+1 {
			if crossesInterior(ring[j], ring[i], b) {
				return false
			}
		}
	}
	return true
}

// Intersects：几何部件与闭矩形是否有公共点（接触边界也算）
func Intersects(part orb.Geometry, b orb.Bound) bool {
	switch v := part.(type) {
	case orb.Point:
		return b.Contains(v)
	case orb.LineString:
		if !v.Bound().Intersects(b) {
			return false
		}
		if len(v) == 1 {
			return b.Contains(v[0])
		}
		for i := 1; i < len(v); i++ {
			if _, _, ok := clip(v[i-1], v[i], b); ok {
				return true
			}
		}
		return false
	case orb.Polygon:
		if len(v) == 0 || !v.Bound().Intersects(b) {
			return false
		}
		for _, ring := range v {
			n := len(ring)
			for i, j := 0, n-1; i < n; j, i = i, i+1 {
				if _, _, ok := clip(ring[j], ring[i], b); ok {
					return true
				}
			}
		}
		// 无边相交时只剩互相包含两种情况
		if pointInPolygon(b.Min, v) {
			return true
		}
		return b.Contains(v[0][0])
	}
	return false
}

// clip：Liang-Barsky 线段裁剪，返回线段落在闭矩形内部分的参数区间
func clip(a, c orb.Point, b orb.Bound) (t0, t1 float64, ok bool) {
	t0, t1 = 0, 1
	dx := c[0] - a[0]
	dy := c[1] - a[1]
	p := [4]float64{-dx, dx, -dy, dy}
	q := [4]float64{a[0] - b.Min[0], b.Max[0] - a[0], a[1] - b.Min[1], b.Max[1] - a[1]}
	for i := 0; i < 4; i++ {
		if p[i] == 0 {
			if q[i] < 0 {
				return 0, 0, false
			}
			continue
		}
		t := q[i] / p[i]
		if p[i] < 0 {
			if t > t1 {
				return 0, 0, false
			}
			if t > t0 {
				t0 = t
			}
		} else {
			if t < t0 {
				return 0, 0, false
			}
			if t < t1 {
				t1 = t
			}
		}
	}
	return t0, t1, true
}

// crossesInterior：线段是否进入矩形开内部
// 裁剪后的子线段是凸集中的一段，其中点严格在内部当且仅当子线段不全在边界上
func crossesInterior(a, c orb.Point, b orb.Bound) bool {
	t0, t1, ok := clip(a, c, b)
	if !ok {
		return false
	}
	tm := (t0 + t1) / 2
	x := a[0] + tm*(c[0]-a[0])
	y := a[1] + tm*(c[1]-a[1])
	return x > b.Min[0] && x < b.Max[0] && y > b.Min[1] && y < b.Max[1]
}

// pointInPolygon：闭集语义的点入多边形（Even-Odd）
// 背景：落在任一环边界上的点视为命中；否则需在外环内且不在任何洞内
func pointInPolygon(pt orb.Point, poly orb.Polygon) bool {
	if len(poly) == 0 {
		return false
	}
	for _, r := range poly {
		if onRing(pt, r) {
			return true
		}
	}
	if !pointInRing(pt, poly[0]) {
		return false
	}
	for i := 1; i < len(poly); i++ {
		if pointInRing(pt, poly[i]) {
			return false
		}
	}
	return true
}

// 射线法判定点是否在环内
func pointInRing(pt orb.Point, ring orb.Ring) bool {
	n := len(ring)
	if n < 3 {
		return false
	}
	inside := false
	x, y := pt[0], pt[1]
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		xi, yi := ring[i][0], ring[i][1]
		xj, yj := ring[j][0], ring[j][1]
		if (yi > y) != (yj > y) && x < (xj-xi)*(y-yi)/(yj-yi)+xi {
			inside = !inside
		}
	}
	return inside
}

func onRing(pt orb.Point, ring orb.Ring) bool {
	n := len(ring)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		if onSegment(pt, ring[j], ring[i]) {
			return true
		}
	}
	return false
}

func onSegment(p, a, c orb.Point) bool {
	cross := (c[0]-a[0])*(p[1]-a[1]) - (c[1]-a[1])*(p[0]-a[0])
	if cross != 0 {
		return false
	}
	return p[0] >= min(a[0], c[0]) && p[0] <= max(a[0], c[0]) &&
		p[1] >= min(a[1], c[1]) && p[1] <= max(a[1], c[1])
}
