// 包 metrics：索引服务的 Prometheus 指标，统一在 init 中注册
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var durationBuckets = []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000, 5000}

var (
	QueriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geoindex_queries_total",
		Help: "Total number of queries by kind",
	}, []string{"kind"})
	QueryDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "geoindex_query_duration_ms",
		Help:    "Query duration in milliseconds",
		Buckets: durationBuckets,
	}, []string{"kind"})
	QueryResults = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "geoindex_query_results",
		Help:    "Number of ids or cells returned per query",
		Buckets: []float64{0, 1, 5, 10, 50, 100, 500, 1000},
	}, []string{"kind"})
	CacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geoindex_cache_hits_total",
		Help: "Total query cache hits",
	})
	CacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geoindex_cache_misses_total",
		Help: "Total query cache misses",
	})
	IngestBatchesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geoindex_ingest_batches_total",
		Help: "Total replication batches accepted",
	})
	IngestBusyTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geoindex_ingest_busy_total",
		Help: "Total replication batches rejected while waiting for a permit",
	})
	IngestDocsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geoindex_ingest_docs_total",
		Help: "Replication documents by outcome",
	}, []string{"outcome"})
	IndexDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "geoindex_index_duration_ms",
		Help:    "Per-document indexing duration in milliseconds",
		Buckets: durationBuckets,
	})
	ChainsInsertedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geoindex_chains_inserted_total",
		Help: "Total tile chains written by the index writer",
	})
	RateLimitedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geoindex_rate_limited_total",
		Help: "Total requests rejected by the rate limiter",
	})
)

func init() {
	prometheus.MustRegister(QueriesTotal)
	prometheus.MustRegister(QueryDurationMs)
	prometheus.MustRegister(QueryResults)
	prometheus.MustRegister(CacheHitsTotal)
	prometheus.MustRegister(CacheMissesTotal)
	prometheus.MustRegister(IngestBatchesTotal)
	prometheus.MustRegister(IngestBusyTotal)
	prometheus.MustRegister(IngestDocsTotal)
	prometheus.MustRegister(IndexDurationMs)
	prometheus.MustRegister(ChainsInsertedTotal)
	prometheus.MustRegister(RateLimitedTotal)
}

// 文档注释：返回 Prometheus 指标监听器
// 背景：统一暴露注册指标到 /metrics 路径，供 Prometheus 抓取；在查询入口挂载。
func Handler() http.Handler { return promhttp.Handler() }
