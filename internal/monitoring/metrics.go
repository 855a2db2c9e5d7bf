package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 监控指标
type Metrics struct {
	registry *prometheus.Registry

	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestSize     *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// 地址指标
	AddressesCreated   prometheus.Counter
	AddressesActive    prometheus.Gauge
	AddressesReclaimed prometheus.Counter

	// 入站指标
	MessagesIngested *prometheus.CounterVec
	IngestRejected   *prometheus.CounterVec
	MessageSize      *prometheus.HistogramVec
	IngestDuration   *prometheus.HistogramVec
	MessagesTotal    prometheus.Gauge

	// 回收指标
	ReclaimCycles   *prometheus.CounterVec
	ReclaimSkipped  prometheus.Counter
	ReclaimRows     *prometheus.CounterVec
	ReclaimErrors   *prometheus.CounterVec
	ReclaimDuration *prometheus.HistogramVec

	// 外发指标
	OutboundTotal *prometheus.CounterVec

	// 实时推送
	WebSocketClients prometheus.Gauge

	// 错误指标
	ErrorsTotal *prometheus.CounterVec
	PanicsTotal prometheus.Counter

	// 限流指标
	RateLimitBlocks *prometheus.CounterVec

	SystemUptime prometheus.Gauge
}

// NewMetrics 创建监控指标，使用独立的注册表，并附带 Go 运行时与进程指标
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		// HTTP 请求指标
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "burnbox_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "burnbox_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		HTTPRequestSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "burnbox_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "endpoint"},
		),

		HTTPResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "burnbox_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "endpoint"},
		),

		// 地址指标
		AddressesCreated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "burnbox_addresses_created_total",
				Help: "Total number of disposable addresses created",
			},
		),

		AddressesActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "burnbox_addresses_active",
				Help: "Number of active addresses at the last reclamation cycle",
			},
		),

		AddressesReclaimed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "burnbox_addresses_reclaimed_total",
				Help: "Total number of address rows removed by reclamation",
			},
		),

		// 入站指标
		MessagesIngested: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "burnbox_messages_ingested_total",
				Help: "Total number of inbound messages stored",
			},
			[]string{"source"},
		),

		IngestRejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "burnbox_ingest_rejected_total",
				Help: "Total number of rejected inbound messages",
			},
			[]string{"source", "reason"},
		),

		MessageSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "burnbox_message_size_bytes",
				Help:    "Stored message size in bytes",
				Buckets: prometheus.ExponentialBuckets(1024, 2, 15),
			},
			[]string{"source"},
		),

		IngestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "burnbox_ingest_duration_seconds",
				Help:    "Inbound message processing duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"source"},
		),

		MessagesTotal: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "burnbox_messages_total",
				Help: "Number of stored messages at the last reclamation cycle",
			},
		),

		// 回收指标
		ReclaimCycles: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "burnbox_reclaim_cycles_total",
				Help: "Total number of reclamation cycles by result",
			},
			[]string{"result"},
		),

		ReclaimSkipped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "burnbox_reclaim_skipped_total",
				Help: "Ticks dropped because a cycle was still running",
			},
		),

		ReclaimRows: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "burnbox_reclaim_rows_total",
				Help: "Rows affected by each reclamation step",
			},
			[]string{"step"},
		),

		ReclaimErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "burnbox_reclaim_step_errors_total",
				Help: "Failed reclamation steps",
			},
			[]string{"step"},
		),

		ReclaimDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "burnbox_reclaim_step_duration_seconds",
				Help:    "Reclamation step duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"step"},
		),

		// 外发指标
		OutboundTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "burnbox_outbound_total",
				Help: "Outbound delivery attempts by kind and result",
			},
			[]string{"kind", "result"},
		),

		WebSocketClients: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "burnbox_websocket_clients",
				Help: "Number of connected websocket clients",
			},
		),

		// 错误指标
		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "burnbox_errors_total",
				Help: "Total number of errors",
			},
			[]string{"type", "component"},
		),

		PanicsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "burnbox_panics_total",
				Help: "Total number of recovered panics",
			},
		),

		RateLimitBlocks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "burnbox_rate_limit_blocks_total",
				Help: "Total number of requests or sessions blocked by rate limiting",
			},
			[]string{"scope"},
		),

		SystemUptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "burnbox_system_uptime_seconds",
				Help: "System uptime in seconds",
			},
		),
	}
}

// RecordHTTPRequest 记录 HTTP 请求指标
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration, requestSize, responseSize int64) {
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
	m.HTTPRequestSize.WithLabelValues(method, endpoint).Observe(float64(requestSize))
	m.HTTPResponseSize.WithLabelValues(method, endpoint).Observe(float64(responseSize))
}

// RecordAddressCreated 记录地址创建
func (m *Metrics) RecordAddressCreated() {
	m.AddressesCreated.Inc()
}

// RecordMessageIngested 记录入站邮件保存成功
func (m *Metrics) RecordMessageIngested(source string, size int64) {
	m.MessagesIngested.WithLabelValues(source).Inc()
	m.MessageSize.WithLabelValues(source).Observe(float64(size))
}

// RecordIngestRejected 记录入站邮件被拒绝
func (m *Metrics) RecordIngestRejected(source, reason string) {
	m.IngestRejected.WithLabelValues(source, reason).Inc()
}

// RecordIngestDuration 记录入站处理耗时
func (m *Metrics) RecordIngestDuration(source string, duration time.Duration) {
	m.IngestDuration.WithLabelValues(source).Observe(duration.Seconds())
}

// RecordReclaimCycle 记录回收周期结果: ok、partial、skipped、unavailable
func (m *Metrics) RecordReclaimCycle(result string) {
	m.ReclaimCycles.WithLabelValues(result).Inc()
}

// RecordReclaimSkipped 记录因上一周期未结束而丢弃的触发
func (m *Metrics) RecordReclaimSkipped() {
	m.ReclaimSkipped.Inc()
}

// RecordReclaimStep 记录回收步骤
func (m *Metrics) RecordReclaimStep(step string, rows int64, duration time.Duration, err error) {
	m.ReclaimRows.WithLabelValues(step).Add(float64(rows))
	m.ReclaimDuration.WithLabelValues(step).Observe(duration.Seconds())
	if err != nil {
		m.ReclaimErrors.WithLabelValues(step).Inc()
	}
}

// RecordAddressesReclaimed 记录被删除的地址行
func (m *Metrics) RecordAddressesReclaimed(n int) {
	m.AddressesReclaimed.Add(float64(n))
}

// RecordOutbound 记录外发结果
func (m *Metrics) RecordOutbound(kind string, err error) {
	result := "sent"
	if err != nil {
		result = "failed"
	}
	m.OutboundTotal.WithLabelValues(kind, result).Inc()
}

// RecordError 记录错误
func (m *Metrics) RecordError(errorType, component string) {
	m.ErrorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordPanic 记录 panic
func (m *Metrics) RecordPanic() {
	m.PanicsTotal.Inc()
}

// RecordRateLimitBlock 记录限流阻止
func (m *Metrics) RecordRateLimitBlock(scope string) {
	m.RateLimitBlocks.WithLabelValues(scope).Inc()
}

// UpdateSystemStats 用回收周期结束时的统计刷新存量指标
func (m *Metrics) UpdateSystemStats(activeAddresses, totalMessages int64) {
	m.AddressesActive.Set(float64(activeAddresses))
	m.MessagesTotal.Set(float64(totalMessages))
}

// UpdateSystemUptime 更新系统运行时间
func (m *Metrics) UpdateSystemUptime(uptime time.Duration) {
	m.SystemUptime.Set(uptime.Seconds())
}

// UpdateWebSocketClients 更新在线 WebSocket 客户端数
func (m *Metrics) UpdateWebSocketClients(n int) {
	m.WebSocketClients.Set(float64(n))
}

// Registry 返回指标注册表（测试使用）
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// HTTPHandler 返回 Prometheus HTTP 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
