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
// ミドルウェア、サービス層、ワーカーから利用する。
type MetricsCollector interface {
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
	RecordAuthFailure(code string)
	RecordCartMutation(op string)
	RecordCartConflict()
	RecordCheckout(itemCount int)
	RecordCartsPruned(count int)
	RecordImageCheck(reachable bool)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	httpStatus     *prometheus.CounterVec
	requestLatency prometheus.Histogram
	authFailures   *prometheus.CounterVec
	cartMutations  *prometheus.CounterVec
	cartConflicts  prometheus.Counter
	checkouts      prometheus.Counter
	checkoutItems  prometheus.Counter
	cartsPruned    prometheus.Counter
	imageChecks    *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lunore_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "lunore_http_request_duration_seconds",
			Help:    "リクエスト処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		authFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lunore_auth_failures_total",
			Help: "エラーコード別の認証失敗数",
		}, []string{"code"}),
		cartMutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lunore_cart_mutations_total",
			Help: "操作別のカート更新数",
		}, []string{"op"}),
		cartConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lunore_cart_version_conflicts_total",
			Help: "カート保存時のバージョン競合数",
		}),
		checkouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lunore_checkouts_total",
			Help: "チェックアウトの合計数",
		}),
		checkoutItems: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lunore_checkout_items_total",
			Help: "チェックアウトされた商品点数の合計",
		}),
		cartsPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lunore_carts_pruned_total",
			Help: "削除済み商品の行を除去したカート数",
		}),
		imageChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lunore_image_checks_total",
			Help: "商品画像の到達確認結果",
		}, []string{"result"}),
	}

	reg.MustRegister(
		c.httpStatus,
		c.requestLatency,
		c.authFailures,
		c.cartMutations,
		c.cartConflicts,
		c.checkouts,
		c.checkoutItems,
		c.cartsPruned,
		c.imageChecks,
	)

	return c
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はリクエスト処理時間を記録する。
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

// RecordAuthFailure は認証失敗をエラーコード別に記録する。
func (c *Collector) RecordAuthFailure(code string) {
	c.authFailures.WithLabelValues(code).Inc()
}

// RecordCartMutation はカート更新を操作別に記録する。
func (c *Collector) RecordCartMutation(op string) {
	c.cartMutations.WithLabelValues(op).Inc()
}

// RecordCartConflict はカートのバージョン競合を記録する。
func (c *Collector) RecordCartConflict() {
	c.cartConflicts.Inc()
}

// RecordCheckout はチェックアウトを記録する。
func (c *Collector) RecordCheckout(itemCount int) {
	c.checkouts.Inc()
	c.checkoutItems.Add(float64(itemCount))
}

// RecordCartsPruned はクリーンアップで行を除去したカート数を記録する。
func (c *Collector) RecordCartsPruned(count int) {
	c.cartsPruned.Add(float64(count))
}

// RecordImageCheck は画像到達確認の結果を記録する。
func (c *Collector) RecordImageCheck(reachable bool) {
	result := "reachable"
	if !reachable {
		result = "unreachable"
	}
	c.imageChecks.WithLabelValues(result).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使用する。
type Nop struct{}

func (Nop) RecordHTTPStatus(int)               {}
func (Nop) RecordRequestLatency(time.Duration) {}
func (Nop) RecordAuthFailure(string)           {}
func (Nop) RecordCartMutation(string)          {}
func (Nop) RecordCartConflict()                {}
func (Nop) RecordCheckout(int)                 {}
func (Nop) RecordCartsPruned(int)              {}
func (Nop) RecordImageCheck(bool)              {}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
