// 包 badgerstore：基于 Badger 的嵌入式持久化索引后端
// 键布局：
//
//	t\x00<tile>               → TileRecord(JSON)
//	l\x00<parent>\x00<child>  → Rect(JSON)
//	i\x00<tile>\x00<entry>    → 空值
//	b\x00<entry>\x00<tile>    → 空值（反向关联）
//	e\x00<entry>              → Entry(JSON)
package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"geo-index/internal/logger"
	"geo-index/internal/store"
)

const sep = "\x00"

// maxConflictRetries：乐观事务冲突时的最大重试次数
const maxConflictRetries = 8

// Options：Dir 为空时使用内存模式；GCInterval 为 0 时不启动值日志回收
type Options struct {
	Dir        string
	SyncWrites bool
	GCInterval time.Duration
}

// Store：Badger 后端
type Store struct {
	db     *badger.DB
	stop   chan struct{}
	wg     sync.WaitGroup
	closed sync.Once
}

var _ store.Store = (*Store)(nil)

// badgerLogger：将 Badger 内部日志转接到 slog
type badgerLogger struct{ l *slog.Logger }

func (b badgerLogger) Errorf(f string, a ...any)   { b.l.Error("badger", "msg", fmt.Sprintf(f, a...)) }
func (b badgerLogger) Warningf(f string, a ...any) { b.l.Warn("badger", "msg", fmt.Sprintf(f, a...)) }
func (b badgerLogger) Infof(f string, a ...any)    { b.l.Debug("badger", "msg", fmt.Sprintf(f, a...)) }
func (b badgerLogger) Debugf(f string, a ...any)   { b.l.Debug("badger", "msg", fmt.Sprintf(f, a...)) }

// Open：打开数据库并确保根瓦片存在
func Open(o Options) (*Store, error) {
	var opts badger.Options
	if o.Dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(o.Dir, 0o750); err != nil {
			return nil, fmt.Errorf("badgerstore: create dir %s: %w", o.Dir, err)
		}
		opts = badger.DefaultOptions(o.Dir)
	}
	opts = opts.WithSyncWrites(o.SyncWrites).WithLogger(badgerLogger{l: logger.L()})
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badgerstore: open: %w", err)
	}
	s := &Store{db: db, stop: make(chan struct{})}
	err = s.Update(context.Background(), func(tx store.Tx) error {
		_, err := tx.EnsureTile(context.Background(), store.RootKey)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if o.GCInterval > 0 && o.Dir != "" {
		s.wg.Add(1)
		go s.gcLoop(o.GCInterval)
	}
	return s, nil
}

func (s *Store) gcLoop(every time.Duration) {
	defer s.wg.Done()
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-t.C:
			err := s.db.RunValueLogGC(0.5)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				logger.L().Warn("badger_gc_error", "err", err)
			}
		}
	}
}

func (s *Store) Close() error {
	var err error
	s.closed.Do(func() {
		close(s.stop)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// Update：冲突时整体重跑 fn，fn 需无外部副作用
func (s *Store) Update(ctx context.Context, fn func(store.Tx) error) error {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.db.Update(func(txn *badger.Txn) error { return fn(&tx{txn: txn, write: true}) })
		if !errors.Is(err, badger.ErrConflict) || attempt >= maxConflictRetries {
			return err
		}
		logger.L().Debug("badger_txn_conflict_retry", "attempt", attempt+1)
	}
}

func (s *Store) View(ctx context.Context, fn func(store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(txn *badger.Txn) error { return fn(&tx{txn: txn}) })
}

type tx struct {
	txn   *badger.Txn
	write bool
}

func key(prefix string, parts ...string) []byte {
	return []byte(prefix + sep + strings.Join(parts, sep))
}

func (t *tx) has(k []byte) (bool, error) {
	_, err := t.txn.Get(k)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (t *tx) getJSON(k []byte, v any) error {
	item, err := t.txn.Get(k)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return store.ErrNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(b []byte) error { return json.Unmarshal(b, v) })
}

func (t *tx) setJSON(k []byte, v any) error {
	if !t.write {
		return store.ErrReadOnly
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return t.txn.Set(k, b)
}

// suffixes：列出前缀下的键尾部，Badger 按字节序返回
func (t *tx) suffixes(prefix []byte) []string {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := t.txn.NewIterator(opts)
	defer it.Close()
	out := []string{}
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		out = append(out, string(it.Item().Key()[len(prefix):]))
	}
	return out
}

func (t *tx) EnsureTile(_ context.Context, k string) (bool, error) {
	tk := key("t", k)
	ok, err := t.has(tk)
	if err != nil || ok {
		return false, err
	}
	return true, t.setJSON(tk, store.TileRecord{Key: k})
}

func (t *tx) Tile(_ context.Context, k string) (store.TileRecord, error) {
	var r store.TileRecord
	if err := t.getJSON(key("t", k), &r); err != nil {
		return store.TileRecord{}, err
	}
	return r, nil
}

func (t *tx) AdjustTile(ctx context.Context, k string, delta, at int64) error {
	if !t.write {
		return store.ErrReadOnly
	}
	r, err := t.Tile(ctx, k)
	if err != nil {
		return err
	}
	r.Count += delta
	r.LastUpdated = at
	return t.setJSON(key("t", k), r)
}

func (t *tx) EnsureLink(_ context.Context, parent, child string, r store.Rect) (bool, error) {
	lk := key("l", parent, child)
	ok, err := t.has(lk)
	if err != nil || ok {
		return false, err
	}
	return true, t.setJSON(lk, r)
}

func (t *tx) Links(_ context.Context, parent string) ([]store.Link, error) {
	prefix := key("l", parent, "")
	out := []store.Link{}
	for _, child := range t.suffixes(prefix) {
		l := store.Link{Parent: parent, Child: child}
		if err := t.getJSON(key("l", parent, child), &l.Rect); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}

func (t *tx) AddIntersect(_ context.Context, tileKey, entryID string) (bool, error) {
	ik := key("i", tileKey, entryID)
	ok, err := t.has(ik)
	if err != nil || ok {
		return false, err
	}
	if !t.write {
		return false, store.ErrReadOnly
	}
	if err := t.txn.Set(ik, []byte{}); err != nil {
		return false, err
	}
	return true, t.txn.Set(key("b", entryID, tileKey), []byte{})
}

func (t *tx) Intersects(_ context.Context, tileKey string) ([]string, error) {
	return t.suffixes(key("i", tileKey, "")), nil
}

func (t *tx) EnsureEntry(_ context.Context, id string) (bool, error) {
	ek := key("e", id)
	ok, err := t.has(ek)
	if err != nil || ok {
		return false, err
	}
	return true, t.setJSON(ek, store.Entry{ID: id})
}

func (t *tx) PutEntry(_ context.Context, e store.Entry) error {
	return t.setJSON(key("e", e.ID), e)
}

func (t *tx) Entry(_ context.Context, id string) (store.Entry, error) {
	var e store.Entry
	if err := t.getJSON(key("e", id), &e); err != nil {
		return store.Entry{}, err
	}
	return e, nil
}

func (t *tx) EntryTiles(_ context.Context, id string) ([]string, error) {
	return t.suffixes(key("b", id, "")), nil
}

func (t *tx) DetachEntry(ctx context.Context, id string) ([]string, error) {
	if !t.write {
		return nil, store.ErrReadOnly
	}
	tiles, err := t.EntryTiles(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, k := range tiles {
		if err := t.txn.Delete(key("i", k, id)); err != nil {
			return nil, err
		}
		if err := t.txn.Delete(key("b", id, k)); err != nil {
			return nil, err
		}
	}
	return tiles, nil
}

func (t *tx) DeleteEntry(ctx context.Context, id string) (bool, error) {
	if !t.write {
		return false, store.ErrReadOnly
	}
	ek := key("e", id)
	ok, err := t.has(ek)
	if err != nil || !ok {
		return false, err
	}
	if _, err := t.DetachEntry(ctx, id); err != nil {
		return false, err
	}
	return true, t.txn.Delete(ek)
}
