package index

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geo-index/internal/geom"
	"geo-index/internal/store"
	"geo-index/internal/store/memstore"
	"geo-index/internal/tile"
)

const (
	pointKey = "+10.000,+20.000:+10.000,+20.000:+10.500,+20.500:+10.550,+20.550:+10.555,+20.555"
	topKey   = "+10.000,+20.000"
)

var fixedNow = time.UnixMilli(1700000000000)

func newWriter() *Writer {
	return NewWriter(tile.MustGrid(tile.DefaultOptions()), WithClock(func() time.Time { return fixedNow }))
}

func index(t *testing.T, s store.Store, w *Writer, doc Document) *Result {
	t.Helper()
	var res *Result
	require.NoError(t, s.Update(context.Background(), func(tx store.Tx) error {
		var err error
		res, err = w.Index(context.Background(), tx, doc)
		return err
	}))
	return res
}

func count(t *testing.T, s store.Store, key string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, s.View(context.Background(), func(tx store.Tx) error {
		r, err := tx.Tile(context.Background(), key)
		n = r.Count
		return err
	}))
	return n
}

func entryTiles(t *testing.T, s store.Store, id string) []string {
	t.Helper()
	var out []string
	require.NoError(t, s.View(context.Background(), func(tx store.Tx) error {
		var err error
		out, err = tx.EntryTiles(context.Background(), id)
		return err
	}))
	return out
}

func TestIndexPointBuildsFullChain(t *testing.T) {
	s := memstore.New()
	res := index(t, s, newWriter(), Document{
		ID: "doc1", CollectionID: "colA", From: 1900, To: 1950, Tags: []string{"x"},
		GeoJSON: `{"type":"Point","coordinates":[10.5555,20.5555]}`,
	})
	assert.True(t, res.Created)
	assert.Equal(t, 1, res.Parts)
	assert.Equal(t, 1, res.Chains)
	assert.Equal(t, 5, res.Tiles)
	assert.Equal(t, []string{pointKey}, entryTiles(t, s, "doc1"))

	ctx := context.Background()
	require.NoError(t, s.View(ctx, func(tx store.Tx) error {
		links, err := tx.Links(ctx, store.RootKey)
		require.NoError(t, err)
		require.Len(t, links, 1)
		assert.Equal(t, topKey, links[0].Child)
		assert.Equal(t, store.Rect{MinLon: 10, MaxLon: 20, MinLat: 20, MaxLat: 30}, links[0].Rect)

		e, err := tx.Entry(ctx, "doc1")
		require.NoError(t, err)
		assert.Equal(t, "colA", e.CollectionID)
		assert.Equal(t, []float64{10.5555}, e.Lons)
		assert.Equal(t, []float64{20.5555}, e.Lats)
		return nil
	}))
	for _, k := range append([]string{store.RootKey}, tile.PrefixKeys(pointKey)...) {
		assert.EqualValues(t, 1, count(t, s, k), k)
	}
}

// coarseWriter：终止阈值 1°，使贴边瓦片的数量可以逐一数清
func coarseWriter() *Writer {
	o := tile.DefaultOptions()
	o.MinSize = "1"
	return NewWriter(tile.MustGrid(o), WithClock(func() time.Time { return fixedNow }))
}

const boxGeoJSON = `{"type":"Polygon","coordinates":[[[10,20],[20,20],[20,30],[10,30],[10,20]]]}`

func TestIndexCoveredTileAlsoTouchesNeighbours(t *testing.T) {
	s := memstore.New()
	res := index(t, s, coarseWriter(), Document{ID: "box", GeoJSON: boxGeoJSON})

	// 覆盖的顶层瓦片 1 条；四条边上的邻居各 10 个 1° 终止瓦片；四个角各 1 个
	assert.Equal(t, 45, res.Chains)
	tiles := entryTiles(t, s, "box")
	require.Len(t, tiles, 45)
	assert.Contains(t, tiles, topKey)
	assert.Contains(t, tiles, "+0.000,+20.000:+9.000,+20.000")
	assert.Contains(t, tiles, "+20.000,+20.000:+20.000,+29.000")
	assert.Contains(t, tiles, "+0.000,+10.000:+9.000,+19.000")
	assert.Contains(t, tiles, "+20.000,+30.000:+20.000,+30.000")
	assert.NotContains(t, tiles, "+0.000,+20.000:+8.000,+20.000")
	for _, k := range tiles {
		if k != topKey {
			assert.Len(t, tile.PrefixKeys(k), 2, k)
		}
	}

	assert.EqualValues(t, 1, count(t, s, store.RootKey))
	assert.EqualValues(t, 1, count(t, s, topKey))
	assert.EqualValues(t, 1, count(t, s, "+0.000,+20.000"))
	assert.EqualValues(t, 1, count(t, s, "+0.000,+20.000:+9.000,+20.000"))
}

func TestIndexInvalidGeometryLeavesStoreUntouched(t *testing.T) {
	s := memstore.New()
	w := newWriter()
	err := s.Update(context.Background(), func(tx store.Tx) error {
		_, err := w.Index(context.Background(), tx, Document{ID: "bad", GeoJSON: `{"type":"Polygon","coordinates":[[[0,0],[1,1]]]}`})
		return err
	})
	require.ErrorIs(t, err, geom.ErrInvalidGeometry)
	require.NoError(t, s.View(context.Background(), func(tx store.Tx) error {
		_, err := tx.Entry(context.Background(), "bad")
		assert.ErrorIs(t, err, store.ErrNotFound)
		return nil
	}))
	assert.EqualValues(t, 0, count(t, s, store.RootKey))
}

func TestReindexReplacesTiles(t *testing.T) {
	const coarsePoint = "+10.000,+20.000:+10.000,+20.000"
	s := memstore.New()
	w := coarseWriter()
	index(t, s, w, Document{ID: "doc1", GeoJSON: `{"type":"Point","coordinates":[10.5555,20.5555]}`})
	assert.Equal(t, []string{coarsePoint}, entryTiles(t, s, "doc1"))

	res := index(t, s, w, Document{ID: "doc1", GeoJSON: boxGeoJSON})
	assert.False(t, res.Created)
	tiles := entryTiles(t, s, "doc1")
	assert.Len(t, tiles, 45)
	assert.Contains(t, tiles, topKey)
	assert.NotContains(t, tiles, coarsePoint)
	assert.EqualValues(t, 1, count(t, s, store.RootKey))
	assert.EqualValues(t, 1, count(t, s, topKey))
	assert.EqualValues(t, 0, count(t, s, coarsePoint))
}

func TestReindexSameDocumentIsStable(t *testing.T) {
	s := memstore.New()
	w := newWriter()
	doc := Document{ID: "doc1", GeoJSON: `{"type":"Point","coordinates":[10.5555,20.5555]}`}
	index(t, s, w, doc)
	index(t, s, w, doc)
	assert.Equal(t, []string{pointKey}, entryTiles(t, s, "doc1"))
	assert.EqualValues(t, 1, count(t, s, pointKey))
}

func TestCountersTrackEntriesAndTimestamp(t *testing.T) {
	s := memstore.New()
	w := newWriter()
	index(t, s, w, Document{ID: "a", GeoJSON: `{"type":"Point","coordinates":[10.5555,20.5555]}`})
	index(t, s, w, Document{ID: "b", GeoJSON: `{"type":"Point","coordinates":[10.5556,20.5556]}`})
	assert.EqualValues(t, 2, count(t, s, store.RootKey))
	assert.EqualValues(t, 2, count(t, s, pointKey))

	require.NoError(t, s.View(context.Background(), func(tx store.Tx) error {
		r, err := tx.Tile(context.Background(), pointKey)
		require.NoError(t, err)
		assert.Equal(t, fixedNow.UnixMilli(), r.LastUpdated)
		return nil
	}))
}

func TestDeleteIsIdempotent(t *testing.T) {
	s := memstore.New()
	w := newWriter()
	index(t, s, w, Document{ID: "doc1", GeoJSON: `{"type":"Point","coordinates":[10.5555,20.5555]}`})

	del := func() bool {
		var ok bool
		require.NoError(t, s.Update(context.Background(), func(tx store.Tx) error {
			var err error
			ok, err = w.Delete(context.Background(), tx, "doc1")
			return err
		}))
		return ok
	}
	assert.True(t, del())
	assert.False(t, del())
	assert.Empty(t, entryTiles(t, s, "doc1"))
	assert.EqualValues(t, 0, count(t, s, store.RootKey))
	assert.EqualValues(t, 0, count(t, s, pointKey))
}

func TestMultiPartGeometryRecordsCentroidPerPart(t *testing.T) {
	s := memstore.New()
	res := index(t, s, newWriter(), Document{
		ID:      "multi",
		GeoJSON: `{"type":"MultiPoint","coordinates":[[10.5555,20.5555],[-73.9855,40.7485]]}`,
	})
	assert.Equal(t, 2, res.Parts)
	assert.Equal(t, 2, res.Chains)
	require.NoError(t, s.View(context.Background(), func(tx store.Tx) error {
		e, err := tx.Entry(context.Background(), "multi")
		require.NoError(t, err)
		assert.Equal(t, []float64{10.5555, -73.9855}, e.Lons)
		assert.Equal(t, []float64{20.5555, 40.7485}, e.Lats)
		return nil
	}))
}

func TestCounterKeys(t *testing.T) {
	assert.Nil(t, counterKeys(nil))
	keys := counterKeys([]string{"b:c", "a:c", "a:b"})
	assert.Equal(t, []string{store.RootKey, "a", "a:b", "a:c", "b", "b:c"}, keys)
}

func TestEntryOutsideGridLeavesCountersAlone(t *testing.T) {
	s := memstore.New()
	w := newWriter()
	doc := Document{ID: "far", GeoJSON: `{"type":"Point","coordinates":[200,20]}`}
	for range 3 {
		res := index(t, s, w, doc)
		assert.Zero(t, res.Chains)
	}
	assert.EqualValues(t, 0, count(t, s, store.RootKey))

	require.NoError(t, s.Update(context.Background(), func(tx store.Tx) error {
		_, err := w.Delete(context.Background(), tx, "far")
		return err
	}))
	assert.EqualValues(t, 0, count(t, s, store.RootKey))
}

func TestIndexHonoursCancelledContext(t *testing.T) {
	s := memstore.New()
	w := newWriter()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.Update(context.Background(), func(tx store.Tx) error {
		_, err := w.Index(ctx, tx, Document{
			ID:      "big",
			GeoJSON: `{"type":"Polygon","coordinates":[[[10.1,20.1],[10.9,20.1],[10.9,20.9],[10.1,20.9],[10.1,20.1]]]}`,
		})
		return err
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, entryTiles(t, s, "big"))
}
