// 包 ingest：接收复制批次，解码文档并按许可数受限地写入索引
package ingest

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"geo-index/internal/geom"
	"geo-index/internal/index"
	"geo-index/internal/logger"
	"geo-index/internal/metrics"
	"geo-index/internal/store"
)

// ErrTooBusy：等待写入许可时上下文结束，整批未被处理
var ErrTooBusy = errors.New("too many concurrent requests")

// localPrefix：复制端检查点伪文档的 id 前缀
const localPrefix = "_local/"

// Doc：复制端推送的单个文档
// Meta 含 id 与 deleted；正文为 JSON 对象或 Base64 编码的 JSON
type Doc struct {
	Meta   map[string]any `json:"meta"`
	JSON   map[string]any `json:"json,omitempty"`
	Base64 string         `json:"base64,omitempty"`
}

// DocResult：已处理文档的应答，rev 恒为 null
type DocResult struct {
	ID  string  `json:"id"`
	Rev *string `json:"rev"`
}

type Coordinator struct {
	st        store.Store
	w         *index.Writer
	sem       *semaphore.Weighted
	onApplied func(context.Context)
}

type Option func(*Coordinator)

// WithOnApplied：批次内至少一个文档改动了索引时回调（用于递增缓存代数）
// 约束：回调收到的上下文不会因请求取消而结束
func WithOnApplied(fn func(context.Context)) Option {
	return func(c *Coordinator) { c.onApplied = fn }
}

// New：permits 为同时处理的批次数上限，非正时取 1
func New(st store.Store, w *index.Writer, permits int, opts ...Option) *Coordinator {
	if permits < 1 {
		permits = 1
	}
	c := &Coordinator{st: st, w: w, sem: semaphore.NewWeighted(int64(permits))}
	for _, o := range opts {
		o(c)
	}
	return c
}

// BulkDocs：持有一个许可顺序处理整批文档
// 背景：每个文档独立事务；单个文档的解码、几何或存储错误只记录日志并跳过该文档
// 约束：许可等待被取消时返回 ErrTooBusy 且不处理任何文档；许可在返回前无条件释放
func (c *Coordinator) BulkDocs(ctx context.Context, docs []Doc) ([]DocResult, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		metrics.IngestBusyTotal.Inc()
		logger.L().Warn("ingest_batch_busy", "docs", len(docs), "err", err)
		return nil, fmt.Errorf("%w: %w", ErrTooBusy, err)
	}
	defer c.sem.Release(1)

	start := time.Now()
	metrics.IngestBatchesTotal.Inc()
	l := logger.L()
	l.Debug("ingest_batch_begin", "docs", len(docs))
	results := make([]DocResult, 0, len(docs))
	applied := 0
	for i := range docs {
		id, outcome, err := c.apply(ctx, &docs[i])
		metrics.IngestDocsTotal.WithLabelValues(outcome).Inc()
		if err != nil {
			l.Error("ingest_doc_error", "id", id, "err", err)
			continue
		}
		switch outcome {
		case "indexed", "deleted", "absent":
			results = append(results, DocResult{ID: id})
		}
		if outcome == "indexed" || outcome == "deleted" {
			applied++
		}
	}
	// 文档已提交，回调不随请求取消而中断
	if applied > 0 && c.onApplied != nil {
		c.onApplied(context.WithoutCancel(ctx))
	}
	l.Info("ingest_batch_done", "docs", len(docs), "applied", applied, "results", len(results), "duration_ms", time.Since(start).Milliseconds())
	return results, nil
}

// apply：处理单个文档，返回 id 与结果类别
func (c *Coordinator) apply(ctx context.Context, d *Doc) (string, string, error) {
	if d.Meta == nil {
		logger.L().Warn("ingest_doc_without_meta")
		return "", "skipped", nil
	}
	id, _ := d.Meta["id"].(string)
	if id == "" {
		logger.L().Warn("ingest_doc_without_id")
		return "", "skipped", nil
	}
	if strings.HasPrefix(id, localPrefix) {
		return id, "local", nil
	}
	if deleted, _ := d.Meta["deleted"].(bool); deleted {
		var found bool
		err := c.st.Update(ctx, func(tx store.Tx) error {
			var err error
			found, err = c.w.Delete(ctx, tx, id)
			return err
		})
		if err != nil {
			return id, "error", err
		}
		if !found {
			return id, "absent", nil
		}
		return id, "deleted", nil
	}
	body := decodeBody(id, d)
	raw, ok := body["geojson"]
	if !ok || raw == nil {
		return id, "skipped", nil
	}
	doc := index.Document{
		ID:           id,
		CollectionID: str(body["collection_id"]),
		From:         num(body["from"]),
		To:           num(body["to"]),
		Tags:         strs(body["tags"]),
	}
	switch g := raw.(type) {
	case string:
		doc.GeoJSON = g
	default:
		b, err := json.Marshal(g)
		if err != nil {
			return id, "invalid", nil
		}
		doc.GeoJSON = string(b)
	}
	err := c.st.Update(ctx, func(tx store.Tx) error {
		_, err := c.w.Index(ctx, tx, doc)
		return err
	})
	if errors.Is(err, geom.ErrInvalidGeometry) {
		logger.L().Warn("ingest_invalid_geometry", "id", id, "err", err)
		return id, "invalid", nil
	}
	if err != nil {
		return id, "error", err
	}
	return id, "indexed", nil
}

// decodeBody：非 JSON 正文视为空对象；Base64 解码或解析失败时记录日志并视为空对象
func decodeBody(id string, d *Doc) map[string]any {
	if reason, _ := d.Meta["att_reason"].(string); reason == "non-JSON mode" {
		return map[string]any{}
	}
	if d.JSON != nil {
		return d.JSON
	}
	if d.Base64 == "" {
		return map[string]any{}
	}
	raw, err := base64.StdEncoding.DecodeString(d.Base64)
	if err != nil {
		logger.L().Error("ingest_body_decode_error", "id", id, "err", err)
		return map[string]any{}
	}
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil || body == nil {
		logger.L().Error("ingest_body_decode_error", "id", id, "body", string(raw), "err", err)
		return map[string]any{}
	}
	return body
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

// num：兼容 float64 与 json.Number 两种数值表示，其它类型取 0
func num(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i
		}
		f, _ := n.Float64()
		return int64(f)
	case int64:
		return n
	case int:
		return int64(n)
	}
	return 0
}

func strs(v any) []string {
	list, _ := v.([]any)
	out := make([]string, 0, len(list))
	for _, x := range list {
		if s, ok := x.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
