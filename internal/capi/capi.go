// 包 capi：复制端（XDCR）对接的 HTTP 接口
// 背景：对端只需要集群发现信息与 _bulk_docs 写入；检查点与普通文档读写均不落库
package capi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"geo-index/internal/ingest"
)

// ErrUnsupported：索引流程之外的文档、附件与库级操作
var ErrUnsupported = errors.New("operation not supported")

// Buckets：对外声明的桶，顺序即 /pools/default/buckets 的返回顺序
var Buckets = []string{"collections", "places", "repos", "entries"}

const poolName = "default"

// Ingester：_bulk_docs 的处理方
type Ingester interface {
	BulkDocs(ctx context.Context, docs []ingest.Doc) ([]ingest.DocResult, error)
}

type Server struct {
	host string
	port int
	ing  Ingester
	pool uuid.UUID
}

// New：host/port 为对端回连使用的对外地址
func New(host string, port int, ing Ingester) *Server {
	return &Server{
		host: host,
		port: port,
		ing:  ing,
		pool: uuid.NewMD5(uuid.NameSpaceDNS, []byte(host)),
	}
}

// Handler：按首段路径分发到集群发现或库级路由
func (s *Server) Handler() http.Handler {
	pools := s.poolRoutes()
	dbs := s.dbRoutes()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/pools" || strings.HasPrefix(r.URL.Path, "/pools/") {
			pools.ServeHTTP(w, r)
			return
		}
		dbs.ServeHTTP(w, r)
	})
}

func (s *Server) hostPort() string { return s.host + ":" + strconv.Itoa(s.port) }

func compact(u uuid.UUID) string { return strings.ReplaceAll(u.String(), "-", "") }

// bucketUUID：以池 UUID 为命名空间派生，同一主机上稳定
func (s *Server) bucketUUID(bucket string) string {
	return compact(uuid.NewSHA1(s.pool, []byte(bucket)))
}

func knownBucket(name string) bool {
	for _, b := range Buckets {
		if b == name {
			return true
		}
	}
	return false
}

// bucketOf：库名形如 "entries/12;uuid"，取第一个 "/" 之前的部分作为桶名
func bucketOf(db string) string {
	if i := strings.IndexByte(db, '/'); i >= 0 {
		db = db[:i]
	}
	if i := strings.IndexByte(db, ';'); i >= 0 {
		db = db[:i]
	}
	return db
}

// nameWithoutUUID：去掉 ";" 之后的 UUID 后缀
func nameWithoutUUID(db string) string {
	if i := strings.IndexByte(db, ';'); i >= 0 {
		return db[:i]
	}
	return db
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func couchError(w http.ResponseWriter, status int, code, reason string) {
	writeJSON(w, status, map[string]string{"error": code, "reason": reason})
}
