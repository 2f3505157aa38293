package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 는 dispatcher 와 주변 컴포넌트의 운영 지표 모음이다.
//
// 전역 default registry 가 아니라 인스턴스마다 private registry 를 쓴다.
// 테스트마다 New() 를 불러도 중복 등록 panic 이 나지 않는다.
//
// 모든 메서드는 nil receiver 에서 아무 것도 하지 않는다.
// 지표가 필요 없는 테스트는 nil 을 넘기면 된다.
type Metrics struct {
	Registry *prometheus.Registry

	// ======================
	// invocation 레벨 지표
	// ======================

	// InvocationsTotal
	// - Dispatch 진입 1 회당 1 증가.
	// - category: http|sns|s3|cron|dynamodb|background|unknown
	// - outcome:
	//   handled    : handler 까지 실행되고 실패 경계에 걸리지 않음
	//   no_handler : registry 에 맞는 항목 없음 (multi-purpose 배포에서는 정상)
	//   disabled   : 설정으로 꺼진 카테고리
	//   unknown    : 분류 실패
	//   error      : handler / filter 에서 에러 또는 panic
	InvocationsTotal *prometheus.CounterVec

	// InvocationDuration
	// - Dispatch 전체 소요 시간 (초).
	InvocationDuration *prometheus.HistogramVec

	// ======================
	// HTTP 레벨 지표
	// ======================

	// HTTPResponsesTotal
	// - web.Handler 가 돌려준 응답 수. code 는 상태 코드 문자열.
	// - 5xx 비율로 handler 품질을, 4xx 비율로 클라이언트 이상을 본다.
	HTTPResponsesTotal *prometheus.CounterVec

	// FilterHaltsTotal
	// - filter 가 false 를 돌려주거나 에러로 chain 이 멈춘 횟수.
	// - phase: pre|post|error
	FilterHaltsTotal *prometheus.CounterVec

	// ======================
	// 스케줄 / 백그라운드 지표
	// ======================

	// ScheduleFiredTotal
	// - 스케줄 항목이 trigger 에 매칭되어 실행된 횟수.
	// - mode: direct|enqueue|fire_immediate
	ScheduleFiredTotal *prometheus.CounterVec

	// BackgroundTasksTotal
	// - background processor 실행 수. status: ok|error|no_processor
	BackgroundTasksTotal *prometheus.CounterVec

	// ======================
	// 큐 / S3 지표
	// ======================

	// QueueSendErrorsTotal
	// - SQS SendMessage / SNS Publish 실패 수. op: enqueue|fire_immediate|drain
	QueueSendErrorsTotal *prometheus.CounterVec

	// OffloadPutErrorsTotal
	// - S3 PutObject 실패 "시도" 수. 재시도 3 회가 모두 실패하면 +3.
	OffloadPutErrorsTotal prometheus.Counter

	// OffloadedBytesTotal
	// - S3 로 offload 된 압축 payload 의 누적 바이트.
	OffloadedBytesTotal prometheus.Counter

	// ======================
	// 로컬 서버 지표
	// ======================

	// LocalRateLimitedTotal
	// - 로컬 서버에서 rate limit 으로 429 를 돌려준 요청 수.
	LocalRateLimitedTotal prometheus.Counter
}

// New 는 private registry 에 모든 지표를 등록해서 돌려준다.
// Go runtime / process collector 도 함께 등록한다.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		InvocationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_invocations_total",
			Help: "Total number of dispatched invocations, labelled by category and outcome.",
		}, []string{"category", "outcome"}),

		InvocationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dispatch_invocation_duration_seconds",
			Help:    "End-to-end dispatch latency in seconds.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"category"}),

		HTTPResponsesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_http_responses_total",
			Help: "Total number of HTTP responses produced, labelled by status code.",
		}, []string{"code"}),

		FilterHaltsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_filter_halts_total",
			Help: "Total number of filter chains that stopped early, labelled by phase.",
		}, []string{"phase"}),

		ScheduleFiredTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_schedule_fired_total",
			Help: "Total number of schedule entries fired, labelled by mode.",
		}, []string{"mode"}),

		BackgroundTasksTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_background_tasks_total",
			Help: "Total number of background tasks processed, labelled by status.",
		}, []string{"status"}),

		QueueSendErrorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_queue_send_errors_total",
			Help: "Total number of failed queue submissions, labelled by operation.",
		}, []string{"op"}),

		OffloadPutErrorsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_offload_put_errors_total",
			Help: "Total number of failed S3 PutObject attempts for offloaded payloads.",
		}),

		OffloadedBytesTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_offloaded_bytes_total",
			Help: "Total compressed bytes offloaded to S3.",
		}),

		LocalRateLimitedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_local_rate_limited_total",
			Help: "Total number of local server requests rejected by the rate limiter.",
		}),
	}
}

func (m *Metrics) ObserveInvocation(category, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.InvocationsTotal.WithLabelValues(category, outcome).Inc()
	m.InvocationDuration.WithLabelValues(category).Observe(d.Seconds())
}

func (m *Metrics) ObserveHTTPResponse(code int) {
	if m == nil {
		return
	}
	m.HTTPResponsesTotal.WithLabelValues(strconv.Itoa(code)).Inc()
}

func (m *Metrics) FilterHalted(phase string) {
	if m == nil {
		return
	}
	m.FilterHaltsTotal.WithLabelValues(phase).Inc()
}

func (m *Metrics) ScheduleFired(mode string) {
	if m == nil {
		return
	}
	m.ScheduleFiredTotal.WithLabelValues(mode).Inc()
}

func (m *Metrics) BackgroundTask(status string) {
	if m == nil {
		return
	}
	m.BackgroundTasksTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) QueueSendFailed(op string) {
	if m == nil {
		return
	}
	m.QueueSendErrorsTotal.WithLabelValues(op).Inc()
}

func (m *Metrics) OffloadPutFailed() {
	if m == nil {
		return
	}
	m.OffloadPutErrorsTotal.Inc()
}

func (m *Metrics) Offloaded(n int) {
	if m == nil {
		return
	}
	m.OffloadedBytesTotal.Add(float64(n))
}

func (m *Metrics) RateLimited() {
	if m == nil {
		return
	}
	m.LocalRateLimitedTotal.Inc()
}
