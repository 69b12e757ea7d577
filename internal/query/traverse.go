// 包 query：在瓦片层级上做广度优先遍历，实现多边形、半径与热力图查询
package query

import (
	"context"
	"errors"

	"geo-index/internal/store"
)

// Verdict：评估器对一步遍历的裁决
type Verdict int

const (
	// Continue：不收录，继续向下
	Continue Verdict = iota
	// AcceptContinue：收录并继续向下
	AcceptContinue
	// AcceptStop：收录但不再向下
	AcceptStop
	// Prune：不收录，剪掉整个分支
	Prune
)

// Step：遍历中的一步
// 到达瓦片时 Link 为经过的链接边（根为 nil）；到达条目时 Entry 非空，Depth 与 TileKey 取其所挂瓦片
type Step struct {
	Depth   int
	TileKey string
	Link    *store.Link
	Entry   *store.Entry
}

// Evaluator：纯函数形式的裁决，不应有副作用
type Evaluator func(Step) Verdict

// Traverse：显式工作队列的广度优先遍历，每个节点至多访问一次
// 约束：entries 为 false 时只沿链接边展开；每步检查 ctx，超时或取消时返回 ctx 错误
func Traverse(ctx context.Context, tx store.Tx, entries bool, eval Evaluator, visit func(Step) error) error {
	queue := []Step{{Depth: 0, TileKey: store.RootKey}}
	seenTiles := map[string]struct{}{store.RootKey: {}}
	seenEntries := map[string]struct{}{}
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		s := queue[0]
		queue = queue[1:]
		v := eval(s)
		if v == AcceptContinue || v == AcceptStop {
			if err := visit(s); err != nil {
				return err
			}
		}
		if v == Prune || v == AcceptStop || s.Entry != nil {
			continue
		}
		links, err := tx.Links(ctx, s.TileKey)
		if err != nil {
			return err
		}
		for i := range links {
			l := links[i]
			if _, ok := seenTiles[l.Child]; ok {
				continue
			}
			seenTiles[l.Child] = struct{}{}
			queue = append(queue, Step{Depth: s.Depth + 1, TileKey: l.Child, Link: &l})
		}
		if !entries {
			continue
		}
		ids, err := tx.Intersects(ctx, s.TileKey)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if _, ok := seenEntries[id]; ok {
				continue
			}
			seenEntries[id] = struct{}{}
			e, err := tx.Entry(ctx, id)
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			queue = append(queue, Step{Depth: s.Depth, TileKey: s.TileKey, Entry: &e})
		}
	}
	return nil
}
