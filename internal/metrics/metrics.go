package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry 创建自定义 Prometheus Registry，并注册常用采集器
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler 返回 Prometheus 指标 HTTP 处理器
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// AppMetrics 模拟器业务指标
type AppMetrics struct {
	WSConnectTotal     prometheus.Counter
	WSConnectFailTotal prometheus.Counter
	OnlineGauge        prometheus.Gauge       // 当前在线会话数
	CallsTotal         *prometheus.CounterVec // labels: action, direction, result
	CallTimeoutTotal   prometheus.Counter
	HeartbeatTotal     prometheus.Counter
	ConnectLatency     prometheus.Histogram // 建连耗时（秒）
	CallLatency        prometheus.Histogram // 出站 CALL 往返耗时（秒）
	TransactionsActive prometheus.Gauge
}

// NewAppMetrics 注册并返回业务指标
func NewAppMetrics(reg *prometheus.Registry) *AppMetrics {
	m := &AppMetrics{
		WSConnectTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ws_connect_total",
			Help: "Total attempted WebSocket connections.",
		}),
		WSConnectFailTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ws_connect_fail_total",
			Help: "Total failed WebSocket connection attempts.",
		}),
		OnlineGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "session_online_count",
			Help: "Current number of connected simulated charge points.",
		}),
		CallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ocpp_calls_total",
			Help: "OCPP calls by action, direction and result.",
		}, []string{"action", "direction", "result"}),
		CallTimeoutTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ocpp_call_timeout_total",
			Help: "Outgoing calls that timed out waiting for a result.",
		}),
		HeartbeatTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "session_heartbeat_total",
			Help: "Total heartbeats sent.",
		}),
		ConnectLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ws_connect_latency_seconds",
			Help:    "WebSocket connect latency.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		CallLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ocpp_call_latency_seconds",
			Help:    "Round-trip latency of outgoing OCPP calls.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		TransactionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "transactions_active",
			Help: "Currently running simulated transactions.",
		}),
	}
	reg.MustRegister(m.WSConnectTotal, m.WSConnectFailTotal, m.OnlineGauge, m.CallsTotal,
		m.CallTimeoutTotal, m.HeartbeatTotal, m.ConnectLatency, m.CallLatency, m.TransactionsActive)
	return m
}
