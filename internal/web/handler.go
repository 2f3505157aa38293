// internal/web/handler.go
package web

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"lambda-dispatch/internal/event"
	"lambda-dispatch/internal/filter"
	"lambda-dispatch/internal/httperr"
	"lambda-dispatch/internal/metrics"
	"lambda-dispatch/internal/tracing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// Handler
//
// HTTP 이벤트 하나를 filter chain 으로 감싸서 처리한다.
//
//	pre filters ──(true)──▶ route ──▶ post filters ──▶ 응답
//	     │                    │              │
//	     └──── 에러 / panic ──┴──────────────┴──▶ error filters ──▶ 실패 응답
//
// pre 단계가 false 로 멈추면 route 와 post 는 실행되지 않고
// filter 가 채워 둔 Result 가 그대로 응답이 된다.
//
// error filters 는 best-effort 다. 여기서 난 에러는 로그만 남기고 버린다.
// 원래 실패를 가리지 않기 위해서다.
type Handler struct {
	router  Router
	chain   filter.Chain
	margin  time.Duration
	metrics *metrics.Metrics
}

type Option func(*Handler)

// WithChain 은 기본 filter 목록 대신 c 를 쓴다.
func WithChain(c filter.Chain) Option {
	return func(h *Handler) { h.chain = c }
}

// WithTimeoutMargin 은 Lambda deadline 에서 뺄 여유 시간.
func WithTimeoutMargin(d time.Duration) Option {
	return func(h *Handler) { h.margin = d }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

func NewHandler(r Router, opts ...Option) *Handler {
	h := &Handler{
		router: r,
		chain:  filter.DefaultChain(),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Handle
//
// 응답은 항상 non-nil 이다.
// 두 번째 반환값은 응답으로 이미 변환된 원래 실패이며, 로그와 지표 용도다.
func (h *Handler) Handle(ctx context.Context, req *event.HTTPRequest, lc *lambdacontext.LambdaContext) (*events.APIGatewayProxyResponse, error) {
	fc := &filter.Context{Event: req, Lambda: lc}
	log := zerolog.Ctx(ctx)

	err := h.run(ctx, fc)
	if err == nil && fc.Result == nil {
		err = httperr.Misconfigured("Filter chain finished without a result")
	}
	if err != nil {
		h.fail(ctx, fc, err)
	}

	log.Debug().
		Str("method", req.HTTPMethod).
		Str("path", req.Path).
		Int("status", fc.Result.StatusCode).
		Msg("http request handled")
	h.metrics.ObserveHTTPResponse(fc.Result.StatusCode)
	return fc.Result, err
}

func (h *Handler) run(ctx context.Context, fc *filter.Context) error {

	// ------------------------------------------------------------
	// 1) pre filters
	// ------------------------------------------------------------
	cont, err := h.phase(ctx, "pre", fc, h.chain.Pre)
	if err != nil {
		return err
	}
	if !cont {
		if fc.Result == nil {
			return httperr.Misconfigured("Filter chain halted without producing a result")
		}
		return nil
	}

	// ------------------------------------------------------------
	// 2) route (시간 예산 안에서)
	// ------------------------------------------------------------
	res, err := h.route(ctx, fc)
	if err != nil {
		return err
	}
	fc.Result = res

	// ------------------------------------------------------------
	// 3) post filters
	// ------------------------------------------------------------
	_, err = h.phase(ctx, "post", fc, h.chain.Post)
	return err
}

func (h *Handler) route(ctx context.Context, fc *filter.Context) (*events.APIGatewayProxyResponse, error) {
	ctx, span := tracing.Start(ctx, "web.route",
		attribute.String("http.method", fc.Event.HTTPMethod),
		attribute.String("http.path", fc.Event.Path),
	)

	rh, err := h.resolve(ctx, fc.Event)
	if err != nil {
		tracing.End(span, err)
		return nil, err
	}

	bctx, cancel := Budget(ctx, h.margin)
	defer cancel()

	// handler 는 사본으로 돈다. 시간 초과 뒤에도 handler goroutine 이 남아 있을 수 있으므로
	// error filter 가 보는 fc.Event 와 map 을 공유하면 안 된다.
	req := fc.Event.Clone()
	v, err := RunWithin(bctx, func(c context.Context) (any, error) {
		return rh(c, req)
	})
	if errors.Is(err, ErrBudgetExceeded) {
		err = fmt.Errorf("%w: %w", httperr.RequestTimeout("Request timed out"), err)
	}
	if err != nil {
		tracing.End(span, err)
		return nil, err
	}
	// handler 가 끝났으므로 handler 가 바꾼 요청을 post filter 에 넘겨도 안전하다.
	fc.Event = req

	res, err := toResponse(v)
	tracing.End(span, err)
	return res, err
}

// resolve 는 Router 를 호출한다. Router 의 panic 도 *PanicError 로 바꿔
// 다른 실패와 같이 error 단계를 거치게 한다.
func (h *Handler) resolve(ctx context.Context, req *event.HTTPRequest) (rh RouteHandler, err error) {
	defer func() {
		if p := recover(); p != nil {
			rh, err = nil, &PanicError{Value: p, Stack: debug.Stack()}
		}
	}()
	return h.router.Route(ctx, req)
}

func (h *Handler) phase(ctx context.Context, name string, fc *filter.Context, filters []filter.Filter) (bool, error) {
	ctx, span := tracing.Start(ctx, "web.filter."+name, attribute.Int("filter.count", len(filters)))
	cont, err := filter.Combine(ctx, fc, filters)
	tracing.End(span, err)
	if !cont {
		h.metrics.FilterHalted(name)
	}
	return cont, err
}

// fail 은 err 를 실패 응답으로 바꾼 뒤 error filters 를 돌린다.
func (h *Handler) fail(ctx context.Context, fc *filter.Context, err error) {
	log := zerolog.Ctx(ctx)
	status := httperr.StatusOf(err)

	ev := log.Error()
	if status < 500 {
		ev = log.Info()
	}
	var pe *PanicError
	if errors.As(err, &pe) {
		ev = ev.Bytes("stack", pe.Stack)
	}
	ev.Err(err).Int("status", status).Msg("http request failed")

	fc.Err = err
	fc.Result = ErrorResponse(err, fc.RequestID())

	if _, ferr := h.phase(ctx, "error", fc, h.chain.Error); ferr != nil {
		log.Warn().Err(ferr).Msg("error filter failed, ignoring")
	}
	if fc.Result == nil {
		fc.Result = ErrorResponse(err, fc.RequestID())
	}
}
