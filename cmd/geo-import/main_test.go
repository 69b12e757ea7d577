package main

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geo-index/internal/config"
	"geo-index/internal/store"
	"geo-index/internal/store/backend"
)

func TestImportDocsIntoSQLite(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Backend = config.BackendSQLite
	cfg.Store.SQLitePath = filepath.Join(t.TempDir(), "idx.db")

	in := strings.NewReader(`{"meta":{"id":"a"},"json":{"collection_id":"colA","from":1900,"to":1950,"tags":["x"],"geojson":{"type":"Point","coordinates":[10.5,20.5]}}}
{"meta":{"id":"b"},"json":{"collection_id":"colB","from":1900,"to":1950,"tags":[],"geojson":{"type":"Point","coordinates":[11.5,20.5]}}}
`)
	require.NoError(t, importDocs(context.Background(), cfg, in, 1))

	st, err := backend.Open(context.Background(), cfg.Store)
	require.NoError(t, err)
	defer st.Close()
	require.NoError(t, st.View(context.Background(), func(tx store.Tx) error {
		root, err := tx.Tile(context.Background(), store.RootKey)
		require.NoError(t, err)
		assert.EqualValues(t, 2, root.Count)
		_, err = tx.Entry(context.Background(), "a")
		return err
	}))
}

func TestImportDocsReportsBadLine(t *testing.T) {
	cfg := config.Default()
	cfg.Store.SnapshotPath = filepath.Join(t.TempDir(), "snap.zst")
	in := strings.NewReader("{\"meta\":{\"id\":\"a\"}}\nnot json\n")
	err := importDocs(context.Background(), cfg, in, 10)
	assert.ErrorContains(t, err, "ndjson line 2")
}

func TestImportDocsRejectsVolatileMemoryStore(t *testing.T) {
	in := strings.NewReader(`{"meta":{"id":"a"},"json":{"geojson":{"type":"Point","coordinates":[10.5,20.5]}}}` + "\n")
	err := importDocs(context.Background(), config.Default(), in, 10)
	assert.ErrorIs(t, err, errVolatileStore)
}

func TestImportDocsPersistsMemorySnapshot(t *testing.T) {
	cfg := config.Default()
	cfg.Store.SnapshotPath = filepath.Join(t.TempDir(), "snap.zst")
	in := strings.NewReader(`{"meta":{"id":"a"},"json":{"collection_id":"colA","geojson":{"type":"Point","coordinates":[10.5,20.5]}}}` + "\n")
	require.NoError(t, importDocs(context.Background(), cfg, in, 10))

	st, err := backend.Open(context.Background(), cfg.Store)
	require.NoError(t, err)
	defer st.Close()
	require.NoError(t, st.View(context.Background(), func(tx store.Tx) error {
		e, err := tx.Entry(context.Background(), "a")
		require.NoError(t, err)
		assert.Equal(t, "colA", e.CollectionID)
		return nil
	}))
}
