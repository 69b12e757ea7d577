// 包 memstore：进程内索引后端
// 背景：单机部署与测试使用；瓦片、链接、条目与双向关联均保存在 map 中，读写锁保护
package memstore

import (
	"context"
	"sort"
	"sync"

	"geo-index/internal/logger"
	"geo-index/internal/store"
)

type db struct {
	tiles      map[string]*store.TileRecord
	links      map[string]map[string]store.Rect
	entries    map[string]*store.Entry
	tileEnts   map[string]map[string]struct{}
	entryTiles map[string]map[string]struct{}
}

// Store：内存后端
// 约束：写事务互斥执行；读事务可并发；path 非空时在打开时恢复、关闭时落盘快照
type Store struct {
	mu   sync.RWMutex
	d    *db
	path string
}

var _ store.Store = (*Store)(nil)

func newDB() *db {
	d := &db{
		tiles:      make(map[string]*store.TileRecord),
		links:      make(map[string]map[string]store.Rect),
		entries:    make(map[string]*store.Entry),
		tileEnts:   make(map[string]map[string]struct{}),
		entryTiles: make(map[string]map[string]struct{}),
	}
	d.tiles[store.RootKey] = &store.TileRecord{Key: store.RootKey}
	return d
}

// New：空索引，仅包含根瓦片
func New() *Store { return &Store{d: newDB()} }

// Open：带快照文件的内存后端；文件不存在时从空索引开始
func Open(path string) (*Store, error) {
	s := &Store{d: newDB(), path: path}
	if path == "" {
		return s, nil
	}
	ok, err := s.load(path)
	if err != nil {
		return nil, err
	}
	logger.L().Info("memstore_open", "path", path, "restored", ok, "tiles", len(s.d.tiles), "entries", len(s.d.entries))
	return s, nil
}

// Close：配置了快照路径时写出快照
func (s *Store) Close() error {
	if s.path == "" {
		return nil
	}
	return s.save(s.path)
}

func (s *Store) Update(ctx context.Context, fn func(store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &tx{d: s.d, write: true}
	if err := fn(t); err != nil {
		t.rollback()
		return err
	}
	return nil
}

func (s *Store) View(ctx context.Context, fn func(store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&tx{d: s.d})
}

// tx：在共享 map 上原地修改，并记录逆操作以便回滚
type tx struct {
	d     *db
	write bool
	undo  []func()
}

func (t *tx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *tx) EnsureTile(_ context.Context, key string) (bool, error) {
	if _, ok := t.d.tiles[key]; ok {
		return false, nil
	}
	if !t.write {
		return false, store.ErrReadOnly
	}
	t.d.tiles[key] = &store.TileRecord{Key: key}
	t.undo = append(t.undo, func() { delete(t.d.tiles, key) })
	return true, nil
}

func (t *tx) Tile(_ context.Context, key string) (store.TileRecord, error) {
	r, ok := t.d.tiles[key]
	if !ok {
		return store.TileRecord{}, store.ErrNotFound
	}
	return *r, nil
}

func (t *tx) AdjustTile(_ context.Context, key string, delta, at int64) error {
	if !t.write {
		return store.ErrReadOnly
	}
	r, ok := t.d.tiles[key]
	if !ok {
		return store.ErrNotFound
	}
	prev := *r
	r.Count += delta
	r.LastUpdated = at
	t.undo = append(t.undo, func() { *r = prev })
	return nil
}

func (t *tx) EnsureLink(_ context.Context, parent, child string, rect store.Rect) (bool, error) {
	kids := t.d.links[parent]
	if _, ok := kids[child]; ok {
		return false, nil
	}
	if !t.write {
		return false, store.ErrReadOnly
	}
	if kids == nil {
		kids = make(map[string]store.Rect)
		t.d.links[parent] = kids
	}
	kids[child] = rect
	t.undo = append(t.undo, func() {
		delete(kids, child)
		if len(kids) == 0 {
			delete(t.d.links, parent)
		}
	})
	return true, nil
}

func (t *tx) Links(_ context.Context, parent string) ([]store.Link, error) {
	kids := t.d.links[parent]
	out := make([]store.Link, 0, len(kids))
	for child, r := range kids {
		out = append(out, store.Link{Parent: parent, Child: child, Rect: r})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Child < out[j].Child })
	return out, nil
}

func (t *tx) AddIntersect(_ context.Context, tileKey, entryID string) (bool, error) {
	if _, ok := t.d.tileEnts[tileKey][entryID]; ok {
		return false, nil
	}
	if !t.write {
		return false, store.ErrReadOnly
	}
	t.link(tileKey, entryID)
	t.undo = append(t.undo, func() { t.unlink(tileKey, entryID) })
	return true, nil
}

func (t *tx) link(tileKey, entryID string) {
	if t.d.tileEnts[tileKey] == nil {
		t.d.tileEnts[tileKey] = make(map[string]struct{})
	}
	t.d.tileEnts[tileKey][entryID] = struct{}{}
	if t.d.entryTiles[entryID] == nil {
		t.d.entryTiles[entryID] = make(map[string]struct{})
	}
	t.d.entryTiles[entryID][tileKey] = struct{}{}
}

func (t *tx) unlink(tileKey, entryID string) {
	delete(t.d.tileEnts[tileKey], entryID)
	if len(t.d.tileEnts[tileKey]) == 0 {
		delete(t.d.tileEnts, tileKey)
	}
	delete(t.d.entryTiles[entryID], tileKey)
	if len(t.d.entryTiles[entryID]) == 0 {
		delete(t.d.entryTiles, entryID)
	}
}

func (t *tx) Intersects(_ context.Context, tileKey string) ([]string, error) {
	return sortedKeys(t.d.tileEnts[tileKey]), nil
}

func (t *tx) EnsureEntry(_ context.Context, id string) (bool, error) {
	if _, ok := t.d.entries[id]; ok {
		return false, nil
	}
	if !t.write {
		return false, store.ErrReadOnly
	}
	t.d.entries[id] = &store.Entry{ID: id}
	t.undo = append(t.undo, func() { delete(t.d.entries, id) })
	return true, nil
}

func (t *tx) PutEntry(_ context.Context, e store.Entry) error {
	if !t.write {
		return store.ErrReadOnly
	}
	prev, had := t.d.entries[e.ID]
	cp := cloneEntry(e)
	t.d.entries[e.ID] = &cp
	t.undo = append(t.undo, func() {
		if had {
			t.d.entries[e.ID] = prev
		} else {
			delete(t.d.entries, e.ID)
		}
	})
	return nil
}

func (t *tx) Entry(_ context.Context, id string) (store.Entry, error) {
	e, ok := t.d.entries[id]
	if !ok {
		return store.Entry{}, store.ErrNotFound
	}
	return cloneEntry(*e), nil
}

func (t *tx) EntryTiles(_ context.Context, id string) ([]string, error) {
	return sortedKeys(t.d.entryTiles[id]), nil
}

func (t *tx) DetachEntry(_ context.Context, id string) ([]string, error) {
	if !t.write {
		return nil, store.ErrReadOnly
	}
	tiles := sortedKeys(t.d.entryTiles[id])
	for _, k := range tiles {
		t.unlink(k, id)
		t.undo = append(t.undo, func() { t.link(k, id) })
	}
	return tiles, nil
}

func (t *tx) DeleteEntry(ctx context.Context, id string) (bool, error) {
	if !t.write {
		return false, store.ErrReadOnly
	}
	prev, ok := t.d.entries[id]
	if !ok {
		return false, nil
	}
	if _, err := t.DetachEntry(ctx, id); err != nil {
		return false, err
	}
	delete(t.d.entries, id)
	t.undo = append(t.undo, func() { t.d.entries[id] = prev })
	return true, nil
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func cloneEntry(e store.Entry) store.Entry {
	e.Tags = append([]string(nil), e.Tags...)
	e.Lons = append([]float64(nil), e.Lons...)
	e.Lats = append([]float64(nil), e.Lats...)
	return e
}
