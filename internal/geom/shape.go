package geom

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/planar"
)

// CircleSides：距离查询使用的近似圆边数
const CircleSides = 32

// Centroid：平面质心，面按面积加权、线按长度加权
func Centroid(g orb.Geometry) orb.Point {
	if p, ok := g.(orb.Point); ok {
		return p
	}
	c, _ := planar.CentroidArea(g)
	return c
}

// Envelope：外包矩形
func Envelope(g orb.Geometry) orb.Bound { return g.Bound() }

// Distance：平面欧氏距离（单位为度），仅用于排序
func Distance(a, b orb.Point) float64 { return planar.Distance(a, b) }

// Circle：以大圆目的点近似的圆形多边形
// 约束：第 i 个顶点的方位角为 180 - i*360/sides，首尾闭合
func Circle(lon, lat, radiusKm float64, sides int) orb.Polygon {
	if sides < 3 {
		sides = CircleSides
	}
	center := orb.Point{lon, lat}
	meters := radiusKm * 1000
	ring := make(orb.Ring, 0, sides+1)
	for i := 0; i < sides; i++ {
		bearing := 180 - float64(i)*360/float64(sides)
		ring = append(ring, geo.PointAtBearingAndDistance(center, bearing, meters))
	}
	ring = append(ring, ring[0])
	return orb.Polygon{ring}
}
