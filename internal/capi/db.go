package capi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"geo-index/internal/ingest"
	"geo-index/internal/logger"
)

// maxBatch：单个 _bulk_docs 请求体上限
const maxBatch = 64 << 20

func (s *Server) dbRoutes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"couchdb": "Welcome", "version": "1.1.0"})
	})
	mux.HandleFunc("GET /{db}", s.withDB(s.dbDetails))
	mux.HandleFunc("HEAD /{db}", s.withDB(func(w http.ResponseWriter, r *http.Request, _ string) {
		w.WriteHeader(http.StatusOK)
	}))
	mux.HandleFunc("POST /{db}/_bulk_docs", s.withDB(s.bulkDocs))
	mux.HandleFunc("POST /{db}/_revs_diff", s.withDB(s.revsDiff))
	mux.HandleFunc("POST /{db}/_ensure_full_commit", s.withDB(func(w http.ResponseWriter, r *http.Request, _ string) {
		writeJSON(w, http.StatusCreated, map[string]any{"ok": true})
	}))
	mux.HandleFunc("GET /{db}/_local/{id}", s.withDB(missing))
	mux.HandleFunc("PUT /{db}/_local/{id}", s.withDB(func(w http.ResponseWriter, r *http.Request, _ string) {
		_, _ = io.Copy(io.Discard, r.Body)
		writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "id": "_local/" + r.PathValue("id")})
	}))
	mux.HandleFunc("GET /{db}/{doc}", s.withDB(missing))
	mux.HandleFunc("/{db}", unsupported)
	mux.HandleFunc("/{db}/{rest...}", unsupported)
	return mux
}

// withDB：校验库名对应已声明的桶，未知库返回 404
func (s *Server) withDB(h func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		db := r.PathValue("db")
		if !knownBucket(bucketOf(db)) {
			couchError(w, http.StatusNotFound, "not_found", "no_db_file")
			return
		}
		h(w, r, db)
	}
}

func (s *Server) dbDetails(w http.ResponseWriter, _ *http.Request, db string) {
	writeJSON(w, http.StatusOK, map[string]any{"db_name": nameWithoutUUID(db)})
}

func missing(w http.ResponseWriter, _ *http.Request, _ string) {
	couchError(w, http.StatusNotFound, "not_found", "missing")
}

func unsupported(w http.ResponseWriter, r *http.Request) {
	logger.L().Debug("capi_unsupported", "method", r.Method, "path", r.URL.Path)
	couchError(w, http.StatusNotImplemented, "not_implemented", ErrUnsupported.Error())
}

type bulkRequest struct {
	Docs     []ingest.Doc `json:"docs"`
	NewEdits *bool        `json:"new_edits,omitempty"`
}

func (s *Server) bulkDocs(w http.ResponseWriter, r *http.Request, db string) {
	var req bulkRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBatch))
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		couchError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	logger.L().Debug("capi_bulk_docs", "db", db, "docs", len(req.Docs))
	res, err := s.ing.BulkDocs(r.Context(), req.Docs)
	if errors.Is(err, ingest.ErrTooBusy) {
		couchError(w, http.StatusServiceUnavailable, "service_unavailable", err.Error())
		return
	}
	if err != nil {
		logger.L().Error("capi_bulk_docs_error", "db", db, "err", err)
		couchError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// revsDiff：不保存修订历史，请求中的每个修订都报告为缺失
func (s *Server) revsDiff(w http.ResponseWriter, r *http.Request, _ string) {
	var req map[string]json.RawMessage
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBatch)).Decode(&req); err != nil {
		couchError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	out := make(map[string]any, len(req))
	for id, revs := range req {
		out[id] = map[string]json.RawMessage{"missing": revs}
	}
	writeJSON(w, http.StatusOK, out)
}
