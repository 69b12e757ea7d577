package capi

import (
	"net/http"
)

// vBuckets：对端按 vBucket 分片推送，单节点时全部映射到本机
const vBuckets = 1024

func (s *Server) poolRoutes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /pools", func(w http.ResponseWriter, r *http.Request) {
		id := compact(s.pool)
		writeJSON(w, http.StatusOK, map[string]any{
			"pools": []any{map[string]any{"name": poolName, "uri": "/pools/" + poolName + "?uuid=" + id}},
			"uuid":  id,
		})
	})
	mux.HandleFunc("GET /pools/{pool}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("pool") != poolName {
			couchError(w, http.StatusNotFound, "not_found", "no such pool")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"buckets": map[string]any{"uri": "/pools/" + poolName + "/buckets?uuid=" + compact(s.pool)},
			"nodes":   s.nodes(),
		})
	})
	mux.HandleFunc("GET /pools/{pool}/buckets", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("pool") != poolName {
			couchError(w, http.StatusNotFound, "not_found", "no such pool")
			return
		}
		out := make([]any, 0, len(Buckets))
		for _, b := range Buckets {
			out = append(out, s.bucket(b))
		}
		writeJSON(w, http.StatusOK, out)
	})
	mux.HandleFunc("GET /pools/{pool}/buckets/{bucket}", func(w http.ResponseWriter, r *http.Request) {
		b := r.PathValue("bucket")
		if r.PathValue("pool") != poolName || !knownBucket(b) {
			couchError(w, http.StatusNotFound, "not_found", "no such bucket")
			return
		}
		writeJSON(w, http.StatusOK, s.bucket(b))
	})
	return mux
}

// nodes：唯一节点即本进程
func (s *Server) nodes() []any {
	hp := s.hostPort()
	return []any{map[string]any{
		"couchApiBase": "http://" + hp + "/",
		"hostname":     hp,
		"ports":        map[string]any{"direct": s.port},
	}}
}

func (s *Server) bucket(name string) map[string]any {
	id := s.bucketUUID(name)
	vmap := make([][]int, vBuckets)
	for i := range vmap {
		vmap[i] = []int{0}
	}
	return map[string]any{
		"name":               name,
		"uri":                "/pools/" + poolName + "/buckets/" + name + "?bucket_uuid=" + id,
		"uuid":               id,
		"bucketType":         "membase",
		"bucketCapabilities": []string{"couchapi"},
		"nodes":              s.nodes(),
		"vBucketServerMap": map[string]any{
			"hashAlgorithm": "CRC",
			"numReplicas":   0,
			"serverList":    []string{s.hostPort()},
			"vBucketMap":    vmap,
		},
	}
}
