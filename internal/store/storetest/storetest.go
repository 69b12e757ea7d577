// 包 storetest：各存储后端共用的行为测试
package storetest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geo-index/internal/store"
)

// Run：对 open 返回的新后端执行全部用例；每个用例使用独立实例
func Run(t *testing.T, open func(t *testing.T) store.Store) {
	cases := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"RootExists", testRootExists},
		{"EnsureIsIdempotent", testEnsureIsIdempotent},
		{"LinksSorted", testLinksSorted},
		{"EntryRoundTrip", testEntryRoundTrip},
		{"IntersectsAndDetach", testIntersectsAndDetach},
		{"DeleteEntry", testDeleteEntry},
		{"AdjustTile", testAdjustTile},
		{"RollbackOnError", testRollbackOnError},
		{"ViewIsReadOnly", testViewIsReadOnly},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			s := open(t)
			t.Cleanup(func() { _ = s.Close() })
			c.fn(t, s)
		})
	}
}

var rect = store.Rect{MinLon: 10, MaxLon: 20, MinLat: 20, MaxLat: 30}

func testRootExists(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.View(ctx, func(tx store.Tx) error {
		r, err := tx.Tile(ctx, store.RootKey)
		require.NoError(t, err)
		assert.Equal(t, store.RootKey, r.Key)
		_, err = tx.Tile(ctx, "missing")
		assert.ErrorIs(t, err, store.ErrNotFound)
		return nil
	}))
}

func testEnsureIsIdempotent(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Update(ctx, func(tx store.Tx) error {
		created, err := tx.EnsureTile(ctx, "a")
		require.NoError(t, err)
		assert.True(t, created)
		created, err = tx.EnsureTile(ctx, "a")
		require.NoError(t, err)
		assert.False(t, created)

		created, err = tx.EnsureLink(ctx, store.RootKey, "a", rect)
		require.NoError(t, err)
		assert.True(t, created)
		created, err = tx.EnsureLink(ctx, store.RootKey, "a", store.Rect{})
		require.NoError(t, err)
		assert.False(t, created)

		created, err = tx.EnsureEntry(ctx, "e1")
		require.NoError(t, err)
		assert.True(t, created)
		created, err = tx.EnsureEntry(ctx, "e1")
		require.NoError(t, err)
		assert.False(t, created)

		added, err := tx.AddIntersect(ctx, "a", "e1")
		require.NoError(t, err)
		assert.True(t, added)
		added, err = tx.AddIntersect(ctx, "a", "e1")
		require.NoError(t, err)
		assert.False(t, added)
		return nil
	}))
	require.NoError(t, s.View(ctx, func(tx store.Tx) error {
		links, err := tx.Links(ctx, store.RootKey)
		require.NoError(t, err)
		require.Len(t, links, 1)
		assert.Equal(t, rect, links[0].Rect, "first rectangle wins")
		return nil
	}))
}

func testLinksSorted(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Update(ctx, func(tx store.Tx) error {
		for _, k := range []string{"c", "a", "b"} {
			if _, err := tx.EnsureTile(ctx, k); err != nil {
				return err
			}
			if _, err := tx.EnsureLink(ctx, store.RootKey, k, rect); err != nil {
				return err
			}
		}
		return nil
	}))
	require.NoError(t, s.View(ctx, func(tx store.Tx) error {
		links, err := tx.Links(ctx, store.RootKey)
		require.NoError(t, err)
		var kids []string
		for _, l := range links {
			assert.Equal(t, store.RootKey, l.Parent)
			kids = append(kids, l.Child)
		}
		assert.Equal(t, []string{"a", "b", "c"}, kids)
		none, err := tx.Links(ctx, "a")
		require.NoError(t, err)
		assert.Empty(t, none)
		return nil
	}))
}

func testEntryRoundTrip(t *testing.T, s store.Store) {
	ctx := context.Background()
	e := store.Entry{
		ID: "e1", CollectionID: "c1", From: 10, To: 20,
		Tags: []string{"x", "y"}, Lons: []float64{1.5, 2.5}, Lats: []float64{3.5, 4.5},
	}
	require.NoError(t, s.Update(ctx, func(tx store.Tx) error {
		if _, err := tx.EnsureEntry(ctx, e.ID); err != nil {
			return err
		}
		return tx.PutEntry(ctx, e)
	}))
	require.NoError(t, s.View(ctx, func(tx store.Tx) error {
		got, err := tx.Entry(ctx, "e1")
		require.NoError(t, err)
		assert.Equal(t, e, got)
		_, err = tx.Entry(ctx, "nope")
		assert.ErrorIs(t, err, store.ErrNotFound)
		return nil
	}))
}

func testIntersectsAndDetach(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Update(ctx, func(tx store.Tx) error {
		for _, k := range []string{"t1", "t2"} {
			if _, err := tx.EnsureTile(ctx, k); err != nil {
				return err
			}
		}
		for _, id := range []string{"e2", "e1"} {
			if _, err := tx.EnsureEntry(ctx, id); err != nil {
				return err
			}
			if _, err := tx.AddIntersect(ctx, "t1", id); err != nil {
				return err
			}
		}
		_, err := tx.AddIntersect(ctx, "t2", "e1")
		return err
	}))
	require.NoError(t, s.Update(ctx, func(tx store.Tx) error {
		ids, err := tx.Intersects(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, []string{"e1", "e2"}, ids)
		tiles, err := tx.EntryTiles(ctx, "e1")
		require.NoError(t, err)
		assert.Equal(t, []string{"t1", "t2"}, tiles)

		detached, err := tx.DetachEntry(ctx, "e1")
		require.NoError(t, err)
		assert.Equal(t, []string{"t1", "t2"}, detached)
		return nil
	}))
	require.NoError(t, s.View(ctx, func(tx store.Tx) error {
		ids, err := tx.Intersects(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, []string{"e2"}, ids)
		tiles, err := tx.EntryTiles(ctx, "e1")
		require.NoError(t, err)
		assert.Empty(t, tiles)
		_, err = tx.Entry(ctx, "e1")
		assert.NoError(t, err, "detach keeps the entry")
		return nil
	}))
}

func testDeleteEntry(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Update(ctx, func(tx store.Tx) error {
		if _, err := tx.EnsureTile(ctx, "t1"); err != nil {
			return err
		}
		if _, err := tx.EnsureEntry(ctx, "e1"); err != nil {
			return err
		}
		_, err := tx.AddIntersect(ctx, "t1", "e1")
		return err
	}))
	require.NoError(t, s.Update(ctx, func(tx store.Tx) error {
		ok, err := tx.DeleteEntry(ctx, "e1")
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = tx.DeleteEntry(ctx, "e1")
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	}))
	require.NoError(t, s.View(ctx, func(tx store.Tx) error {
		_, err := tx.Entry(ctx, "e1")
		assert.ErrorIs(t, err, store.ErrNotFound)
		ids, err := tx.Intersects(ctx, "t1")
		require.NoError(t, err)
		assert.Empty(t, ids)
		return nil
	}))
}

func testAdjustTile(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Update(ctx, func(tx store.Tx) error {
		if err := tx.AdjustTile(ctx, store.RootKey, 2, 100); err != nil {
			return err
		}
		return tx.AdjustTile(ctx, store.RootKey, -1, 200)
	}))
	require.NoError(t, s.View(ctx, func(tx store.Tx) error {
		r, err := tx.Tile(ctx, store.RootKey)
		require.NoError(t, err)
		assert.Equal(t, int64(1), r.Count)
		assert.Equal(t, int64(200), r.LastUpdated)
		return nil
	}))
}

func testRollbackOnError(t *testing.T, s store.Store) {
	ctx := context.Background()
	boom := errors.New("boom")
	err := s.Update(ctx, func(tx store.Tx) error {
		if _, err := tx.EnsureTile(ctx, "t1"); err != nil {
			return err
		}
		if _, err := tx.EnsureLink(ctx, store.RootKey, "t1", rect); err != nil {
			return err
		}
		if _, err := tx.EnsureEntry(ctx, "e1"); err != nil {
			return err
		}
		if _, err := tx.AddIntersect(ctx, "t1", "e1"); err != nil {
			return err
		}
		if err := tx.AdjustTile(ctx, store.RootKey, 5, 1); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.NoError(t, s.View(ctx, func(tx store.Tx) error {
		_, err := tx.Tile(ctx, "t1")
		assert.ErrorIs(t, err, store.ErrNotFound)
		_, err = tx.Entry(ctx, "e1")
		assert.ErrorIs(t, err, store.ErrNotFound)
		links, err := tx.Links(ctx, store.RootKey)
		require.NoError(t, err)
		assert.Empty(t, links)
		r, err := tx.Tile(ctx, store.RootKey)
		require.NoError(t, err)
		assert.Zero(t, r.Count)
		return nil
	}))
}

func testViewIsReadOnly(t *testing.T, s store.Store) {
	ctx := context.Background()
	err := s.View(ctx, func(tx store.Tx) error {
		_, err := tx.EnsureTile(ctx, "t1")
		return err
	})
	assert.Error(t, err)
}
