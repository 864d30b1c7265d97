// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 割り当てエンジン・申請ワークフロー・ワーカーから利用する。
type MetricsCollector interface {
	RecordAllocationSuccess()
	RecordAllocationFailure(reason string)
	RecordReservationConflict()
	RecordRelease()
	RecordRequestDecision(decision string)
	RecordCommitLatency(duration time.Duration)
	RecordIndexRebuild(entries int)
	RecordIndexDrift(count int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	allocSuccess    prometheus.Counter
	allocFail       *prometheus.CounterVec
	reserveConflict prometheus.Counter
	releases        prometheus.Counter
	decisions       *prometheus.CounterVec
	commitLatency   prometheus.Histogram
	indexRebuilds   prometheus.Counter
	indexEntries    prometheus.Gauge
	indexDrift      prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		allocSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agrishare_allocation_success_total",
			Help: "区画割り当て成功の合計数",
		}),
		allocFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agrishare_allocation_fail_total",
			Help: "区画割り当て失敗の合計数（理由別）",
		}, []string{"reason"}),
		reserveConflict: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agrishare_reservation_conflict_total",
			Help: "排他制約による予約競合の合計数",
		}),
		releases: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agrishare_release_total",
			Help: "割り当て解放の合計数",
		}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agrishare_request_decision_total",
			Help: "申請裁定の合計数（結果別）",
		}, []string{"decision"}),
		commitLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "agrishare_commit_latency_seconds",
			Help:    "割り当てコミットのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		indexRebuilds: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agrishare_index_rebuild_total",
			Help: "占有インデックス再構築の合計数",
		}),
		indexEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "agrishare_index_entries",
			Help: "占有インデックスの現在のエントリ数",
		}),
		indexDrift: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agrishare_index_drift_total",
			Help: "検出された占有インデックス乖離エントリの合計数",
		}),
	}

	reg.MustRegister(
		c.allocSuccess,
		c.allocFail,
		c.reserveConflict,
		c.releases,
		c.decisions,
		c.commitLatency,
		c.indexRebuilds,
		c.indexEntries,
		c.indexDrift,
	)

	return c
}

// RecordAllocationSuccess は割り当て成功を記録する。
func (c *Collector) RecordAllocationSuccess() {
	c.allocSuccess.Inc()
}

// RecordAllocationFailure は割り当て失敗を理由付きで記録する。
func (c *Collector) RecordAllocationFailure(reason string) {
	c.allocFail.WithLabelValues(reason).Inc()
}

// RecordReservationConflict は予約競合を記録する。
func (c *Collector) RecordReservationConflict() {
	c.reserveConflict.Inc()
}

// RecordRelease は割り当て解放を記録する。
func (c *Collector) RecordRelease() {
	c.releases.Inc()
}

// RecordRequestDecision は申請裁定の結果を記録する。
func (c *Collector) RecordRequestDecision(decision string) {
	c.decisions.WithLabelValues(decision).Inc()
}

// RecordCommitLatency はコミットのレイテンシを記録する。
func (c *Collector) RecordCommitLatency(duration time.Duration) {
	c.commitLatency.Observe(duration.Seconds())
}

// RecordIndexRebuild はインデックス再構築とエントリ数を記録する。
func (c *Collector) RecordIndexRebuild(entries int) {
	c.indexRebuilds.Inc()
	c.indexEntries.Set(float64(entries))
}

// RecordIndexDrift は検出された乖離エントリ数を記録する。
func (c *Collector) RecordIndexDrift(count int) {
	c.indexDrift.Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
