// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 判定エンジン、Webhookハンドラー、ワーカーから利用する。
type MetricsCollector interface {
	RecordAdmission(op string, outcome string)
	RecordStoreLatency(op string, duration time.Duration)
	RecordStoreFailure(op string)
	RecordWebhook(source string, statusCode int)
	RecordEvents(source string, count int)
	RecordRetentionDeleted(kind string, count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	admissions       *prometheus.CounterVec
	storeLatency     *prometheus.HistogramVec
	storeFailures    *prometheus.CounterVec
	webhooks         *prometheus.CounterVec
	events           *prometheus.CounterVec
	retentionDeleted *prometheus.CounterVec
}

var _ MetricsCollector = (*Collector)(nil)

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roomgate_admission_outcomes_total",
			Help: "入退室判定の結果別件数",
		}, []string{"op", "outcome"}),
		storeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "roomgate_store_latency_seconds",
			Help:    "ログストア操作のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		storeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roomgate_store_failures_total",
			Help: "ログストア操作の失敗数",
		}, []string{"op"}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roomgate_webhook_requests_total",
			Help: "Webhookリクエストの送信元・ステータスコード別件数",
		}, []string{"source", "status_code"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roomgate_webhook_events_total",
			Help: "処理したWebhookイベント数",
		}, []string{"source"}),
		retentionDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roomgate_retention_deleted_total",
			Help: "保持期間超過で削除した件数",
		}, []string{"kind"}),
	}

	reg.MustRegister(
		c.admissions,
		c.storeLatency,
		c.storeFailures,
		c.webhooks,
		c.events,
		c.retentionDeleted,
	)

	return c
}

// RecordAdmission は判定結果を記録する。
func (c *Collector) RecordAdmission(op string, outcome string) {
	c.admissions.WithLabelValues(op, outcome).Inc()
}

// RecordStoreLatency はストア操作のレイテンシを記録する。
func (c *Collector) RecordStoreLatency(op string, duration time.Duration) {
	c.storeLatency.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordStoreFailure はストア操作の失敗を記録する。
func (c *Collector) RecordStoreFailure(op string) {
	c.storeFailures.WithLabelValues(op).Inc()
}

// RecordWebhook はWebhookリクエストの応答ステータスを記録する。
func (c *Collector) RecordWebhook(source string, statusCode int) {
	c.webhooks.WithLabelValues(source, strconv.Itoa(statusCode)).Inc()
}

// RecordEvents は処理したイベント数を記録する。
func (c *Collector) RecordEvents(source string, count int) {
	c.events.WithLabelValues(source).Add(float64(count))
}

// RecordRetentionDeleted は削除件数を記録する。
func (c *Collector) RecordRetentionDeleted(kind string, count int64) {
	c.retentionDeleted.WithLabelValues(kind).Add(float64(count))
}

// Nop は何も記録しないMetricsCollector。
type Nop struct{}

func (Nop) RecordAdmission(string, string) {}
func (Nop) RecordStoreLatency(string, time.Duration) {}
func (Nop) RecordStoreFailure(string) {}
func (Nop) RecordWebhook(string, int) {}
func (Nop) RecordEvents(string, int) {}
func (Nop) RecordRetentionDeleted(string, int64) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
