// 包 api：查询 HTTP 接口；集中注册路由，请求体校验与错误格式在此统一
package api

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"

	"geo-index/internal/geoip"
	"geo-index/internal/logger"
	"geo-index/internal/metrics"
	"geo-index/internal/query"
)

// Locator：由 IP 推出坐标，/nearby 使用
type Locator interface {
	Lookup(ip net.IP) (geoip.Location, error)
}

var windowFields = []field{
	{"from", typeInt},
	{"to", typeInt},
	{"tags", typeList},
	{"depth", typeInt},
	{"count", typeInt},
	{"offset", typeInt},
}

var (
	shapeFields    = append([]field{{"geojson", typeString}}, windowFields...)
	distanceFields = append([]field{{"lon", typeDouble}, {"lat", typeDouble}, {"radius", typeDouble}}, windowFields...)
	nearbyFields   = append([]field{{"radius", typeDouble}}, windowFields...)
	heatmapFields  = []field{{"geojson", typeString}, {"depth", typeInt}}
)

// BuildRoutes：构建查询路由；loc 为 nil 时 /nearby 返回 503
func BuildRoutes(q query.Querier, loc Locator) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /shape", func(w http.ResponseWriter, r *http.Request) {
		p, ok := readParams(w, r, shapeFields)
		if !ok {
			return
		}
		ids, err := q.Polygon(r.Context(), p.str("geojson"), window(p))
		writeResult(w, r, "shape", ids, err)
	})
	mux.HandleFunc("POST /distance", func(w http.ResponseWriter, r *http.Request) {
		p, ok := readParams(w, r, distanceFields)
		if !ok {
			return
		}
		ids, err := q.Distance(r.Context(), p.double("lon"), p.double("lat"), p.double("radius"), window(p))
		writeResult(w, r, "distance", ids, err)
	})
	mux.HandleFunc("POST /heatmap", func(w http.ResponseWriter, r *http.Request) {
		p, ok := readParams(w, r, heatmapFields)
		if !ok {
			return
		}
		cells, err := q.Heatmap(r.Context(), p.str("geojson"), int(p.int("depth")))
		writeResult(w, r, "heatmap", cells, err)
	})
	mux.HandleFunc("POST /nearby", func(w http.ResponseWriter, r *http.Request) {
		if loc == nil {
			writeJSON(w, http.StatusServiceUnavailable, errorBody("geoip database not configured"))
			return
		}
		body, err := decodeBody(r.Body)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
			return
		}
		p, err := extractParams(nearbyFields, body)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
			return
		}
		ipText := getClientIP(r)
		if v, ok := body["ip"]; ok {
			s, isStr := v.(string)
			if !isStr {
				writeJSON(w, http.StatusBadRequest, errorBody((&ValidationError{Field: "ip", Type: typeString}).Error()))
				return
			}
			ipText = s
		}
		ip := net.ParseIP(ipText)
		if ip == nil {
			writeJSON(w, http.StatusBadRequest, errorBody((&ValidationError{Field: "ip", Type: typeString}).Error()))
			return
		}
		center, err := loc.Lookup(ip)
		if errors.Is(err, geoip.ErrNoLocation) {
			writeJSON(w, http.StatusNotFound, errorBody("no location for "+ip.String()))
			return
		}
		if err != nil {
			writeResult(w, r, "nearby", nil, err)
			return
		}
		ids, err := q.Distance(r.Context(), center.Lon, center.Lat, p.double("radius"), window(p))
		writeResult(w, r, "nearby", ids, err)
	})
	mux.HandleFunc("POST /cypher", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotImplemented, errorBody("cypher queries are not supported"))
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	mux.Handle("GET /metrics", metrics.Handler())
	return mux
}

func window(p params) query.Request {
	return query.Request{
		From:   p.int("from"),
		To:     p.int("to"),
		Tags:   p.list("tags"),
		Depth:  int(p.int("depth")),
		Count:  int(p.int("count")),
		Offset: int(p.int("offset")),
	}
}

// readParams：解码并校验请求体；失败时已写出 400 响应
func readParams(w http.ResponseWriter, r *http.Request, fields []field) (params, bool) {
	body, err := decodeBody(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return nil, false
	}
	p, err := extractParams(fields, body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return nil, false
	}
	return p, true
}

func writeResult(w http.ResponseWriter, r *http.Request, kind string, v any, err error) {
	if err != nil {
		logger.L().Error("query_error", "kind", kind, "path", r.URL.Path, "err", err)
		writeJSON(w, http.StatusInternalServerError, errorBody(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func errorBody(msg string) map[string]string { return map[string]string{"error": msg} }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.Header().Set("cache-control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
