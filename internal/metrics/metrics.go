// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// パイプラインの各段から利用する。
type MetricsCollector interface {
	RecordCollectSuccess(sourceType string)
	RecordCollectFailure(sourceType string, errorCode string)
	RecordCollectLatency(sourceType string, duration time.Duration)
	RecordPostsSaved(count int)
	RecordPostsDeduplicated(count int)
	RecordSourcePaused(sourceType string)
	RecordMediaTransferred()
	RecordMediaFailed()
	SetQueueDepth(queue string, depth int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	collectSuccess *prometheus.CounterVec
	collectFail    *prometheus.CounterVec
	collectLatency *prometheus.HistogramVec
	postsSaved     prometheus.Counter
	postsDedup     prometheus.Counter
	sourcesPaused  *prometheus.CounterVec
	mediaOK        prometheus.Counter
	mediaFail      prometheus.Counter
	queueDepth     *prometheus.GaugeVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		collectSuccess: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvester_collect_success_total",
			Help: "ソース種別ごとの収集成功の合計数",
		}, []string{"source_type"}),
		collectFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvester_collect_fail_total",
			Help: "ソース種別・エラーコードごとの収集失敗の合計数",
		}, []string{"source_type", "error_code"}),
		collectLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "harvester_collect_latency_seconds",
			Help:    "収集処理のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"source_type"}),
		postsSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harvester_posts_saved_total",
			Help: "保存された投稿の合計数",
		}),
		postsDedup: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harvester_posts_deduplicated_total",
			Help: "重複排除でスキップされた投稿の合計数",
		}),
		sourcesPaused: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvester_sources_paused_total",
			Help: "恒久エラーで一時停止されたソースの合計数",
		}, []string{"source_type"}),
		mediaOK: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harvester_media_transferred_total",
			Help: "転送に成功したメディアの合計数",
		}),
		mediaFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harvester_media_failed_total",
			Help: "転送に失敗したメディアの合計数",
		}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "harvester_queue_depth",
			Help: "キューごとの滞留ジョブ数",
		}, []string{"queue"}),
	}

	reg.MustRegister(
		c.collectSuccess,
		c.collectFail,
		c.collectLatency,
		c.postsSaved,
		c.postsDedup,
		c.sourcesPaused,
		c.mediaOK,
		c.mediaFail,
		c.queueDepth,
	)

	return c
}

// RecordCollectSuccess は収集成功を記録する。
func (c *Collector) RecordCollectSuccess(sourceType string) {
	c.collectSuccess.WithLabelValues(sourceType).Inc()
}

// RecordCollectFailure は収集失敗をエラーコード付きで記録する。
func (c *Collector) RecordCollectFailure(sourceType string, errorCode string) {
	c.collectFail.WithLabelValues(sourceType, errorCode).Inc()
}

// RecordCollectLatency は収集処理のレイテンシを記録する。
func (c *Collector) RecordCollectLatency(sourceType string, duration time.Duration) {
	c.collectLatency.WithLabelValues(sourceType).Observe(duration.Seconds())
}

// RecordPostsSaved は保存された投稿数を記録する。
func (c *Collector) RecordPostsSaved(count int) {
	c.postsSaved.Add(float64(count))
}

// RecordPostsDeduplicated は重複排除でスキップされた投稿数を記録する。
func (c *Collector) RecordPostsDeduplicated(count int) {
	c.postsDedup.Add(float64(count))
}

// RecordSourcePaused は恒久エラーによるソース一時停止を記録する。
func (c *Collector) RecordSourcePaused(sourceType string) {
	c.sourcesPaused.WithLabelValues(sourceType).Inc()
}

// RecordMediaTransferred はメディア転送成功を記録する。
func (c *Collector) RecordMediaTransferred() {
	c.mediaOK.Inc()
}

// RecordMediaFailed はメディア転送失敗を記録する。
func (c *Collector) RecordMediaFailed() {
	c.mediaFail.Inc()
}

// SetQueueDepth はキューの滞留ジョブ数を記録する。
func (c *Collector) SetQueueDepth(queue string, depth int) {
	c.queueDepth.WithLabelValues(queue).Set(float64(depth))
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
