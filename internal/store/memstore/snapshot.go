package memstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"geo-index/internal/logger"
	"geo-index/internal/store"
)

// snapshot：落盘格式，zstd 压缩的 JSON
type snapshot struct {
	Version    int                 `json:"version"`
	Tiles      []store.TileRecord  `json:"tiles"`
	Links      []snapLink          `json:"links"`
	Entries    []store.Entry       `json:"entries"`
	Intersects map[string][]string `json:"intersects"`
}

type snapLink struct {
	Parent string     `json:"parent"`
	Child  string     `json:"child"`
	Rect   store.Rect `json:"rect"`
}

const snapshotVersion = 1

// Snapshot：写出完整索引
// 约束：持有读锁期间编码，写事务在此期间阻塞
func (s *Store) Snapshot(w io.Writer) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := snapshot{Version: snapshotVersion, Intersects: make(map[string][]string, len(s.d.tileEnts))}
	for _, t := range s.d.tiles {
		snap.Tiles = append(snap.Tiles, *t)
	}
	for parent, kids := range s.d.links {
		for child, r := range kids {
			snap.Links = append(snap.Links, snapLink{Parent: parent, Child: child, Rect: r})
		}
	}
	for _, e := range s.d.entries {
		snap.Entries = append(snap.Entries, *e)
	}
	for k, ents := range s.d.tileEnts {
		snap.Intersects[k] = sortedKeys(ents)
	}
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(zw).Encode(&snap); err != nil {
		_ = zw.Close()
		return err
	}
	return zw.Close()
}

// Restore：以快照内容替换当前索引
func (s *Store) Restore(r io.Reader) error {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return err
	}
	defer zr.Close()
	var snap snapshot
	if err := json.NewDecoder(zr).Decode(&snap); err != nil {
		return fmt.Errorf("memstore: decode snapshot: %w", err)
	}
	if snap.Version != snapshotVersion {
		return fmt.Errorf("memstore: unsupported snapshot version %d", snap.Version)
	}
	d := newDB()
	for i := range snap.Tiles {
		t := snap.Tiles[i]
		d.tiles[t.Key] = &t
	}
	for _, l := range snap.Links {
		if d.links[l.Parent] == nil {
			d.links[l.Parent] = make(map[string]store.Rect)
		}
		d.links[l.Parent][l.Child] = l.Rect
	}
	for i := range snap.Entries {
		e := snap.Entries[i]
		d.entries[e.ID] = &e
	}
	t := &tx{d: d}
	for k, ids := range snap.Intersects {
		for _, id := range ids {
			t.link(k, id)
		}
	}
	s.mu.Lock()
	s.d = d
	s.mu.Unlock()
	return nil
}

func (s *Store) load(path string) (bool, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer f.Close()
	if err := s.Restore(f); err != nil {
		return false, err
	}
	return true, nil
}

// save：先写临时文件再改名，避免中途失败留下半截快照
func (s *Store) save(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := s.Snapshot(f); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	logger.L().Info("memstore_snapshot_saved", "path", path)
	return os.Rename(tmp, path)
}
