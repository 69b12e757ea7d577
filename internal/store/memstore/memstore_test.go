package memstore

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geo-index/internal/store"
	"geo-index/internal/store/storetest"
)

func TestContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return New() })
}

func seed(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.Update(ctx, func(tx store.Tx) error {
		if _, err := tx.EnsureTile(ctx, "a"); err != nil {
			return err
		}
		if _, err := tx.EnsureLink(ctx, store.RootKey, "a", store.Rect{MinLon: 1, MaxLon: 2, MinLat: 3, MaxLat: 4}); err != nil {
			return err
		}
		if _, err := tx.EnsureEntry(ctx, "e1"); err != nil {
			return err
		}
		if err := tx.PutEntry(ctx, store.Entry{ID: "e1", CollectionID: "c", Tags: []string{"t"}, Lons: []float64{1.5}, Lats: []float64{3.5}}); err != nil {
			return err
		}
		if _, err := tx.AddIntersect(ctx, "a", "e1"); err != nil {
			return err
		}
		return tx.AdjustTile(ctx, "a", 1, 42)
	}))
}

func TestSnapshotRestore(t *testing.T) {
	src := New()
	seed(t, src)
	var buf bytes.Buffer
	require.NoError(t, src.Snapshot(&buf))

	dst := New()
	require.NoError(t, dst.Restore(&buf))
	ctx := context.Background()
	require.NoError(t, dst.View(ctx, func(tx store.Tx) error {
		r, err := tx.Tile(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, int64(1), r.Count)
		assert.Equal(t, int64(42), r.LastUpdated)
		links, err := tx.Links(ctx, store.RootKey)
		require.NoError(t, err)
		require.Len(t, links, 1)
		assert.Equal(t, 2.0, links[0].Rect.MaxLon)
		ids, err := tx.Intersects(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, []string{"e1"}, ids)
		tiles, err := tx.EntryTiles(ctx, "e1")
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, tiles)
		e, err := tx.Entry(ctx, "e1")
		require.NoError(t, err)
		assert.Equal(t, "c", e.CollectionID)
		return nil
	}))
}

func TestOpenCloseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap", "index.zst")
	s, err := Open(path)
	require.NoError(t, err)
	seed(t, s)
	require.NoError(t, s.Close())

	again, err := Open(path)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, again.View(ctx, func(tx store.Tx) error {
		_, err := tx.Entry(ctx, "e1")
		return err
	}))
}

func TestRestoreRejectsGarbage(t *testing.T) {
	s := New()
	assert.Error(t, s.Restore(bytes.NewReader([]byte("definitely not zstd"))))
}

func TestUpdateHonoursCancelledContext(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := s.Update(ctx, func(store.Tx) error { called = true; return nil })
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}
