package ingest

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"geo-index/internal/logger"
)

// ReadNDJSON：逐行读取复制文档，每凑满 batch 个调用一次 fn，末尾不足一批也会提交
// 约束：空行忽略；单行最大 16MB；解析失败返回带行号的错误
func ReadNDJSON(r io.Reader, batch int, fn func([]Doc) error) (int, error) {
	if batch < 1 {
		batch = 500
	}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	buf := make([]Doc, 0, batch)
	total, line := 0, 0
	flush := func() error {
		if len(buf) == 0 {
			return nil
		}
		if err := fn(buf); err != nil {
			return err
		}
		total += len(buf)
		logger.L().Info("ingest_progress", "count", total)
		buf = make([]Doc, 0, batch)
		return nil
	}
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var d Doc
		if err := json.Unmarshal([]byte(text), &d); err != nil {
			return total, fmt.Errorf("ndjson line %d: %w", line, err)
		}
		buf = append(buf, d)
		if len(buf) >= batch {
			if err := flush(); err != nil {
				return total, err
			}
		}
	}
	if err := sc.Err(); err != nil {
		return total, err
	}
	return total, flush()
}
