// Package metrics 監視セッションのPrometheusメトリクスを提供する
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "drowsewatch"

// ティックをスキップした理由
const (
	SkipNotReady = "not_ready" // 表示面にフレームが無い
	SkipInFlight = "in_flight" // 送信中のサンプルが上限に達している
	SkipEncode   = "encode"    // フレームの取得・エンコードに失敗
)

// Metrics はセッション制御のメトリクスを保持する
// インスタンス毎に独立したレジストリを持つ
type Metrics struct {
	registry *prometheus.Registry

	ticksIssued        prometheus.Counter
	ticksSkipped       *prometheus.CounterVec
	responsesApplied   prometheus.Counter
	responsesDiscarded prometheus.Counter
	scoreFailures      prometheus.Counter
	alertsRaised       *prometheus.CounterVec
	sessionsStarted    prometheus.Counter
	cameraErrors       *prometheus.CounterVec

	scoreLatency prometheus.Histogram
	inFlight     prometheus.Gauge
	monitoring   prometheus.Gauge
	backendUp    prometheus.Gauge
}

// New は新しいMetricsを作成する
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		ticksIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_issued_total",
			Help:      "Total sampling ticks issued",
		}),
		ticksSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_skipped_total",
			Help:      "Total sampling ticks skipped without sending",
		}, []string{"reason"}),
		responsesApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "responses_applied_total",
			Help:      "Total scoring responses applied to session state",
		}),
		responsesDiscarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "responses_discarded_total",
			Help:      "Total scoring responses discarded as stale",
		}),
		scoreFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "score_failures_total",
			Help:      "Total failed scoring calls",
		}),
		alertsRaised: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_raised_total",
			Help:      "Total alerts reported by the scoring service",
		}, []string{"type"}),
		sessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Total monitoring sessions started",
		}),
		cameraErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "camera_errors_total",
			Help:      "Total camera acquisition failures",
		}, []string{"kind"}),

		scoreLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "score_duration_seconds",
			Help:      "Scoring call latency",
			Buckets:   []float64{0.025, 0.05, 0.1, 0.2, 0.4, 0.8, 1.6, 3.2},
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "score_in_flight",
			Help:      "Scoring calls currently in flight",
		}),
		monitoring: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "monitoring",
			Help:      "Monitoring active (0=idle, 1=monitoring)",
		}),
		backendUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backend_up",
			Help:      "Scoring service reachable (0=offline, 1=online)",
		}),
	}

	m.registry.MustRegister(
		m.ticksIssued,
		m.ticksSkipped,
		m.responsesApplied,
		m.responsesDiscarded,
		m.scoreFailures,
		m.alertsRaised,
		m.sessionsStarted,
		m.cameraErrors,
		m.scoreLatency,
		m.inFlight,
		m.monitoring,
		m.backendUp,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry はメトリクスのレジストリを返す
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler はPrometheus形式で出力するHTTPハンドラを返す
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) TickIssued() {
	m.ticksIssued.Inc()
}

func (m *Metrics) TickSkipped(reason string) {
	m.ticksSkipped.WithLabelValues(reason).Inc()
}

func (m *Metrics) ResponseApplied() {
	m.responsesApplied.Inc()
}

func (m *Metrics) ResponseDiscarded() {
	m.responsesDiscarded.Inc()
}

func (m *Metrics) ScoreFailed() {
	m.scoreFailures.Inc()
}

// AlertRaised は警告を記録する。種別が空の場合は unknown とする
func (m *Metrics) AlertRaised(alertType string) {
	if alertType == "" {
		alertType = "unknown"
	}
	m.alertsRaised.WithLabelValues(alertType).Inc()
}

func (m *Metrics) SessionStarted() {
	m.sessionsStarted.Inc()
}

func (m *Metrics) CameraError(kind string) {
	m.cameraErrors.WithLabelValues(kind).Inc()
}

// ScoreStarted は送信開始を記録し、完了時に呼ぶ関数を返す
func (m *Metrics) ScoreStarted() func() {
	start := time.Now()
	m.inFlight.Inc()
	return func() {
		m.inFlight.Dec()
		m.scoreLatency.Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) SetMonitoring(active bool) {
	m.monitoring.Set(boolToFloat(active))
}

func (m *Metrics) SetBackendOnline(online bool) {
	m.backendUp.Set(boolToFloat(online))
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
