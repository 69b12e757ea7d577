package geom

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func square(minX, minY, maxX, maxY float64) orb.Polygon {
	return orb.Bound{Min: orb.Point{minX, minY}, Max: orb.Point{maxX, maxY}}.ToPolygon()
}

func bound(minX, minY, maxX, maxY float64) orb.Bound {
	return orb.Bound{Min: orb.Point{minX, minY}, Max: orb.Point{maxX, maxY}}
}

func TestParseVariants(t *testing.T) {
	g, err := Parse(`{"type":"Point","coordinates":[10.5,20.5]}`)
	require.NoError(t, err)
	assert.Equal(t, orb.Point{10.5, 20.5}, g)

	g, err = Parse(`{"type":"Feature","properties":{},"geometry":{"type":"LineString","coordinates":[[0,0],[1,1]]}}`)
	require.NoError(t, err)
	assert.IsType(t, orb.LineString{}, g)

	g, err = Parse(`{"type":"FeatureCollection","features":[
		{"type":"Feature","properties":{},"geometry":{"type":"Point","coordinates":[1,2]}},
		{"type":"Feature","properties":{},"geometry":{"type":"Point","coordinates":[3,4]}}]}`)
	require.NoError(t, err)
	assert.Len(t, Parts(g), 2)
}

func TestParseRejects(t *testing.T) {
	for _, s := range []string{
		``,
		`not json`,
		`{"type":"Polygon","coordinates":[]}`,
		`{"type":"Polygon","coordinates":[[[0,0],[1,1]]]}`,
		`{"type":"LineString","coordinates":[[0,0]]}`,
		`{"type":"Feature","properties":{},"geometry":null}`,
		`{"type":"Blob","coordinates":[1,2]}`,
	} {
		_, err := Parse(s)
		assert.ErrorIs(t, err, ErrInvalidGeometry, s)
	}
}

func TestParts(t *testing.T) {
	mp := orb.MultiPolygon{square(0, 0, 1, 1), square(5, 5, 6, 6)}
	assert.Len(t, Parts(mp), 2)
	assert.Len(t, Parts(orb.MultiPoint{{0, 0}, {1, 1}, {2, 2}}), 3)
	assert.Len(t, Parts(orb.Collection{orb.Point{0, 0}, orb.MultiLineString{{{0, 0}, {1, 1}}, {{2, 2}, {3, 3}}}}), 3)
	assert.Empty(t, Parts(nil))
}

func TestContains(t *testing.T) {
	poly := square(10, 20, 12, 22)
	assert.True(t, Contains(poly, bound(10.5, 20.5, 11.5, 21.5)))
	// 与面完全重合的矩形视为被覆盖
	assert.True(t, Contains(poly, bound(10, 20, 12, 22)))
	assert.True(t, Contains(poly, bound(10, 20, 11, 21)))
	assert.False(t, Contains(poly, bound(11, 21, 13, 23)))
	assert.False(t, Contains(poly, bound(30, 30, 31, 31)))
	assert.False(t, Contains(orb.Point{10.5, 20.5}, bound(10, 20, 11, 21)))
	assert.False(t, Contains(orb.LineString{{10, 20}, {11, 21}}, bound(10, 20, 11, 21)))
}

func TestContainsRespectsHolesAndConcavity(t *testing.T) {
	withHole := orb.Polygon{square(0, 0, 10, 10)[0], square(4, 4, 6, 6)[0]}
	assert.False(t, Contains(withHole, bound(3, 3, 7, 7)))
	assert.False(t, Contains(withHole, bound(4.5, 4.5, 5.5, 5.5)))
	assert.True(t, Contains(withHole, bound(0, 0, 4, 4)))

	// U 形：四角都在面内，但缺口边穿过矩形内部
	u := orb.Polygon{{{0, 0}, {10, 0}, {10, 10}, {6, 10}, {6, 2}, {4, 2}, {4, 10}, {0, 10}, {0, 0}}}
	assert.False(t, Contains(u, bound(3, 1, 7, 9.5)))
	assert.True(t, Contains(u, bound(0, 0, 10, 2)))
}

func TestIntersects(t *testing.T) {
	poly := square(10, 20, 12, 22)
	assert.True(t, Intersects(poly, bound(11, 21, 13, 23)))
	assert.True(t, Intersects(poly, bound(12, 22, 13, 23)), "corner touch")
	assert.True(t, Intersects(poly, bound(10.5, 20.5, 11, 21)), "rect inside")
	assert.True(t, Intersects(poly, bound(0, 0, 50, 50)), "polygon inside")
	assert.False(t, Intersects(poly, bound(12.001, 20, 13, 21)))

	withHole := orb.Polygon{square(0, 0, 10, 10)[0], square(4, 4, 6, 6)[0]}
	assert.False(t, Intersects(withHole, bound(4.5, 4.5, 5.5, 5.5)))

	assert.True(t, Intersects(orb.Point{10, 20}, bound(10, 20, 11, 21)))
	assert.True(t, Intersects(orb.Point{11, 21}, bound(10, 20, 11, 21)))
	assert.False(t, Intersects(orb.Point{11.5, 21}, bound(10, 20, 11, 21)))

	line := orb.LineString{{0, 0}, {5, 5}}
	assert.True(t, Intersects(line, bound(2, 2, 3, 3)))
	assert.True(t, Intersects(line, bound(1, 0, 2, 1)), "touches corner (1,1)")
	assert.False(t, Intersects(line, bound(3, 0, 4, 1)))
}

func TestCentroid(t *testing.T) {
	c := Centroid(square(10, 20, 12, 22))
	assert.InDelta(t, 11, c[0], 1e-9)
	assert.InDelta(t, 21, c[1], 1e-9)
	assert.Equal(t, orb.Point{1, 2}, Centroid(orb.Point{1, 2}))
}

func TestCircle(t *testing.T) {
	center := orb.Point{10, 20}
	c := Circle(center[0], center[1], 10, CircleSides)
	require.Len(t, c, 1)
	require.Len(t, c[0], CircleSides+1)
	assert.Equal(t, c[0][0], c[0][CircleSides])
	for _, p := range c[0] {
		assert.InDelta(t, 10000, geo.Distance(center, p), 10)
	}
	// 第一个顶点朝正南
	assert.Less(t, c[0][0][1], center[1])
	assert.True(t, Intersects(c, bound(9.99, 19.99, 10.01, 20.01)))
}
