// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ストアエラーの理由ラベル。
const (
	StoreErrorTimeout = "timeout"
	StoreErrorFailure = "error"
)

// ログイン試行の結果ラベル。
const (
	LoginSuccess     = "success"
	LoginInvalid     = "invalid"
	LoginNonAdmin    = "non_admin"
	LoginRateLimited = "rate_limited"
	LoginStoreError  = "store_error"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ゲート・認証・HTTP層から利用する。
type MetricsCollector interface {
	RecordGateDecision(routeClass, state string)
	RecordStoreLookup(duration time.Duration)
	RecordStoreError(reason string)
	RecordLoginAttempt(result string)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	gateDecisions *prometheus.CounterVec
	storeLookup   prometheus.Histogram
	storeErrors   *prometheus.CounterVec
	loginAttempts *prometheus.CounterVec
	httpStatus    *prometheus.CounterVec
}

var _ MetricsCollector = (*Collector)(nil)

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		gateDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cmsgate_gate_decisions_total",
			Help: "ルート分類とアクセス状態ごとのゲート判定数",
		}, []string{"route_class", "state"}),
		storeLookup: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cmsgate_store_lookup_seconds",
			Help:    "資格情報ストア参照のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		storeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cmsgate_store_errors_total",
			Help: "資格情報ストア参照の失敗数",
		}, []string{"reason"}),
		loginAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cmsgate_login_attempts_total",
			Help: "結果別のログイン試行数",
		}, []string{"result"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cmsgate_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"code"}),
	}

	reg.MustRegister(
		c.gateDecisions,
		c.storeLookup,
		c.storeErrors,
		c.loginAttempts,
		c.httpStatus,
	)

	return c
}

// RecordGateDecision はゲートの判定を記録する。
func (c *Collector) RecordGateDecision(routeClass, state string) {
	c.gateDecisions.WithLabelValues(routeClass, state).Inc()
}

// RecordStoreLookup はストア参照のレイテンシを記録する。
func (c *Collector) RecordStoreLookup(duration time.Duration) {
	c.storeLookup.Observe(duration.Seconds())
}

// RecordStoreError はストア参照の失敗を記録する。
func (c *Collector) RecordStoreError(reason string) {
	c.storeErrors.WithLabelValues(reason).Inc()
}

// RecordLoginAttempt はログイン試行の結果を記録する。
func (c *Collector) RecordLoginAttempt(result string) {
	c.loginAttempts.WithLabelValues(result).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使う。
type Nop struct{}

var _ MetricsCollector = Nop{}

func (Nop) RecordGateDecision(string, string) {}
func (Nop) RecordStoreLookup(time.Duration) {}
func (Nop) RecordStoreError(string) {}
func (Nop) RecordLoginAttempt(string) {}
func (Nop) RecordHTTPStatus(int) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
