package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mailrelay"

// 发送触发方式
const (
	TriggerSendNow  = "send_now"
	TriggerDispatch = "dispatch"
)

// Metrics 监控指标
//
// 所有 Record 方法允许 nil 接收者，未启用监控时调用方无需判断。
type Metrics struct {
	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// 业务指标
	UsersCreated        *prometheus.CounterVec
	EmailsCreated       *prometheus.CounterVec
	SendOutcomes        *prometheus.CounterVec
	SendDuration        *prometheus.HistogramVec
	DispatchRuns        prometheus.Counter
	DispatchItems       *prometheus.CounterVec
	AttachmentsUploaded prometheus.Counter
	AttachmentsRejected prometheus.Counter
	AttachmentSize      prometheus.Histogram

	// 错误指标
	ErrorsTotal *prometheus.CounterVec
	PanicsTotal prometheus.Counter

	gatherer prometheus.Gatherer
}

// NewMetrics 在 reg 上注册全部指标；reg 为 nil 时使用新的独立注册表
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		UsersCreated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "users_created_total",
				Help:      "Users created, by origin (register or implicit)",
			},
			[]string{"origin"},
		),

		EmailsCreated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "emails_created_total",
				Help:      "Emails created, by mode (send_now or queued)",
			},
			[]string{"mode"},
		),

		SendOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "send_outcomes_total",
				Help:      "Delivery attempts by outcome and trigger",
			},
			[]string{"outcome", "trigger"},
		),

		SendDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "send_duration_seconds",
				Help:      "Transport call duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"trigger"},
		),

		DispatchRuns: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatch_runs_total",
				Help:      "Batch dispatch invocations",
			},
		),

		DispatchItems: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatch_items_total",
				Help:      "Pending emails handled by batch dispatch, by result",
			},
			[]string{"result"},
		),

		AttachmentsUploaded: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "attachments_uploaded_total",
				Help:      "Attachments stored",
			},
		),

		AttachmentsRejected: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "attachments_rejected_total",
				Help:      "Uploads rejected by screening",
			},
		),

		AttachmentSize: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "attachment_size_bytes",
				Help:      "Attachment size in bytes",
				Buckets:   prometheus.ExponentialBuckets(1024, 2, 16),
			},
		),

		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of errors",
			},
			[]string{"type", "component"},
		),

		PanicsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "panics_total",
				Help:      "Total number of panics",
			},
		),

		gatherer: reg,
	}
}

// RecordHTTPRequest 记录 HTTP 请求指标
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordUserCreated 记录用户创建
func (m *Metrics) RecordUserCreated(origin string) {
	if m == nil {
		return
	}
	m.UsersCreated.WithLabelValues(origin).Inc()
}

// RecordEmailCreated 记录邮件创建
func (m *Metrics) RecordEmailCreated(sendNow bool) {
	if m == nil {
		return
	}
	mode := "queued"
	if sendNow {
		mode = TriggerSendNow
	}
	m.EmailsCreated.WithLabelValues(mode).Inc()
}

// RecordSend 记录一次投递结果
func (m *Metrics) RecordSend(outcome, trigger string, duration time.Duration) {
	if m == nil {
		return
	}
	m.SendOutcomes.WithLabelValues(outcome, trigger).Inc()
	m.SendDuration.WithLabelValues(trigger).Observe(duration.Seconds())
}

// RecordDispatch 记录一次批量派发
func (m *Metrics) RecordDispatch(sent, failed, skipped, errored int) {
	if m == nil {
		return
	}
	m.DispatchRuns.Inc()
	m.DispatchItems.WithLabelValues("sent").Add(float64(sent))
	m.DispatchItems.WithLabelValues("failed").Add(float64(failed))
	m.DispatchItems.WithLabelValues("skipped").Add(float64(skipped))
	m.DispatchItems.WithLabelValues("errored").Add(float64(errored))
}

// RecordAttachment 记录附件上传
func (m *Metrics) RecordAttachment(size int64) {
	if m == nil {
		return
	}
	m.AttachmentsUploaded.Inc()
	m.AttachmentSize.Observe(float64(size))
}

// RecordAttachmentRejected 记录附件被拒绝
func (m *Metrics) RecordAttachmentRejected() {
	if m == nil {
		return
	}
	m.AttachmentsRejected.Inc()
}

// RecordError 记录错误
func (m *Metrics) RecordError(errorType, component string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordPanic 记录 panic
func (m *Metrics) RecordPanic() {
	if m == nil {
		return
	}
	m.PanicsTotal.Inc()
}

// HTTPHandler 返回 Prometheus HTTP 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
