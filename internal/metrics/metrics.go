// Package metrics 将转录核心的计数信号和宿主层的连接状态暴露为 Prometheus 指标。
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/multi-agent/agent-shell/internal/transcript"
)

const namespace = "agent_shell"

// Metrics 持有全部指标, 同时实现 transcript.Observer。
type Metrics struct {
	gatherer prometheus.Gatherer

	eventsDecoded    *prometheus.CounterVec
	eventsRejected   *prometheus.CounterVec
	anomalies        *prometheus.CounterVec
	entriesFinalized *prometheus.CounterVec
	entriesDropped   prometheus.Counter

	viewsPublished  prometheus.Counter
	viewsDropped    prometheus.Counter
	historyWritten  prometheus.Counter
	historyDropped  prometheus.Counter
	wsConnections   *prometheus.GaugeVec
	sseSubscribers  prometheus.Gauge
	requestDuration *prometheus.HistogramVec
}

var _ transcript.Observer = (*Metrics)(nil)

// New 在 reg 上注册指标。reg 为 nil 时使用独立注册表 (测试用)。
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		gatherer: reg,
		eventsDecoded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transcript",
			Name:      "events_decoded_total",
			Help:      "Backend events decoded, by kind.",
		}, []string{"kind"}),
		eventsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transcript",
			Name:      "events_rejected_total",
			Help:      "Backend events discarded by the decoder, by reason.",
		}, []string{"reason"}),
		anomalies: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transcript",
			Name:      "anomalies_total",
			Help:      "Out-of-order or unmatched events tolerated by the store.",
		}, []string{"name"}),
		entriesFinalized: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transcript",
			Name:      "entries_finalized_total",
			Help:      "Transcript entries finalized, by role.",
		}, []string{"role"}),
		entriesDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transcript",
			Name:      "entries_dropped_total",
			Help:      "Blank entries removed at finalization.",
		}),
		viewsPublished: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "views_published_total",
			Help:      "Transcript views fanned out to subscribers.",
		}),
		viewsDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "views_dropped_total",
			Help:      "Views dropped because a subscriber buffer was full.",
		}),
		historyWritten: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "entries_written_total",
			Help:      "Finalized entries persisted to PostgreSQL.",
		}),
		historyDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "entries_dropped_total",
			Help:      "Finalized entries not persisted (queue full or write error).",
		}),
		wsConnections: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "apiserver",
			Name:      "ws_connections_active",
			Help:      "Open WebSocket connections, by endpoint.",
		}, []string{"endpoint"}),
		sseSubscribers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "apiserver",
			Name:      "sse_subscribers_active",
			Help:      "Open server-sent event streams.",
		}),
		requestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "apiserver",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
}

// NewDefault 创建带 Go 运行时与进程采集器的注册表。
func NewDefault() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return New(reg)
}

// Handler 返回 /metrics 处理器。
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Gatherer 暴露底层注册表。
func (m *Metrics) Gatherer() prometheus.Gatherer { return m.gatherer }

// ========================================
// transcript.Observer
// ========================================

func (m *Metrics) EventDecoded(kind transcript.Kind) {
	m.eventsDecoded.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) EventRejected(reason string) {
	m.eventsRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) Anomaly(name string) {
	m.anomalies.WithLabelValues(name).Inc()
}

func (m *Metrics) EntryFinalized(role transcript.Role) {
	m.entriesFinalized.WithLabelValues(string(role)).Inc()
}

func (m *Metrics) EntryDropped() { m.entriesDropped.Inc() }

// ========================================
// 宿主层
// ========================================

// ViewPublished 记录一次扇出; dropped 为未送达的订阅者数。
func (m *Metrics) ViewPublished(dropped int) {
	m.viewsPublished.Inc()
	if dropped > 0 {
		m.viewsDropped.Add(float64(dropped))
	}
}

// HistoryWritten 记录持久化结果。
func (m *Metrics) HistoryWritten(ok bool) {
	if ok {
		m.historyWritten.Inc()
		return
	}
	m.historyDropped.Inc()
}

// WSConnected 调整连接计数; delta 为 +1 或 -1。
func (m *Metrics) WSConnected(endpoint string, delta int) {
	m.wsConnections.WithLabelValues(endpoint).Add(float64(delta))
}

// SSESubscribers 设置当前 SSE 订阅数。
func (m *Metrics) SSESubscribers(n int) { m.sseSubscribers.Set(float64(n)) }

// ObserveRequest 记录一次 HTTP 请求耗时。
func (m *Metrics) ObserveRequest(method, route, status string, seconds float64) {
	m.requestDuration.WithLabelValues(method, route, status).Observe(seconds)
}
