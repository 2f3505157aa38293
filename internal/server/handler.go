// Package server 는 로컬 개발용 HTTP 서버다.
//
// net/http 요청을 API Gateway proxy 이벤트로 바꿔 Dispatcher 에 넘기고,
// 돌아온 proxy 응답을 그대로 HTTP 응답으로 쓴다.
// Lambda 에 올리지 않고도 filter chain, route, background 흐름을 확인할 수 있다.
package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"sync"
	"time"
	"unicode/utf8"

	"lambda-dispatch/internal/httperr"
	"lambda-dispatch/internal/metrics"
	"lambda-dispatch/internal/pool"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambdacontext"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Dispatcher 는 raw 이벤트 하나를 처리한다. dispatch.Dispatcher 가 구현한다.
type Dispatcher interface {
	Dispatch(ctx context.Context, raw []byte) any
}

// Options 는 로컬 서버 동작 설정.
type Options struct {
	// 초당 허용 요청 수. 0 이하면 제한하지 않는다.
	RatePerSec float64

	// invocation 하나에 주는 시간. Lambda timeout 을 흉내 낸다. 0 이면 30 초.
	InvocationTimeout time.Duration

	// 읽어 들일 request body 최대 크기. 0 이면 응답 한도(5,140,480)의 두 배.
	MaxBodySize int64
}

type Handler struct {
	// invoke 를 한 번에 하나씩만 돌린다. Lambda sandbox 와 같은 조건이며,
	// dispatcher 의 로그 레벨 scope 가 전역이라 겹치면 레벨이 섞인다.
	mu sync.Mutex

	dispatcher Dispatcher
	metrics    *metrics.Metrics
	limiter    *rate.Limiter
	opts       Options
}

func NewHandler(d Dispatcher, m *metrics.Metrics, opts Options) *Handler {
	if opts.InvocationTimeout <= 0 {
		opts.InvocationTimeout = 30 * time.Second
	}
	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = 2 * int64(httperr.MaxResponseBodyBytes)
	}

	lim := rate.NewLimiter(rate.Inf, 0)
	if opts.RatePerSec > 0 {
		burst := int(opts.RatePerSec)
		if burst < 1 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(opts.RatePerSec), burst)
	}

	return &Handler{dispatcher: d, metrics: m, limiter: lim, opts: opts}
}

// Routes
//
//   - /health  : 단순 "ok"
//   - /metrics : Prometheus exposition (private registry)
//   - /events  : POST 로 받은 raw 이벤트(SNS, S3, cron ...)를 그대로 dispatch
//   - 그 외    : API Gateway proxy 이벤트로 변환해서 dispatch
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	if h.metrics != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(h.metrics.Registry, promhttp.HandlerOpts{}))
	}
	mux.HandleFunc("/events", h.limited(h.HandleRawEvent))
	mux.HandleFunc("/", h.limited(h.HandleProxy))
	return mux
}

// limited 는 rate limit 을 넘으면 429 를 돌려준다.
func (h *Handler) limited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.limiter.Allow() {
			h.metrics.RateLimited()
			writeJSON(w, http.StatusTooManyRequests, map[string]any{
				"errors":         []string{"Too Many Requests"},
				"httpStatusCode": http.StatusTooManyRequests,
			})
			return
		}
		next(w, r)
	}
}

// HandleProxy
//
// 요청을 API Gateway proxy 이벤트로 바꿔 dispatch 한다.
//
// 동작:
//  1. body 최대 크기 제한 (MaxBytesReader)
//  2. pool.Body 버퍼로 body 읽기. UTF-8 이 아니면 base64 로 싣는다
//  3. request id 발급 (uuid), lambdacontext 에 심기
//  4. dispatch 결과가 proxy 응답이면 그대로 쓰고, 아니면 502
func (h *Handler) HandleProxy(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}

	requestID := uuid.NewString()
	ev := toProxyRequest(r, body, requestID)

	raw, err := json.Marshal(ev)
	if err != nil {
		zlog.Error().Err(err).Msg("encode proxy request failed")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	res := h.invoke(r.Context(), requestID, raw)
	resp, isProxy := res.(*events.APIGatewayProxyResponse)
	if !isProxy || resp == nil {
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"errors":         []string{"Dispatcher did not produce an HTTP response"},
			"httpStatusCode": http.StatusBadGateway,
			"result":         res,
		})
		return
	}
	writeProxyResponse(w, resp)
}

// HandleRawEvent 는 body 를 Lambda 이벤트 그대로 dispatch 하고 결과를 JSON 으로 쓴다.
func (h *Handler) HandleRawEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}

	res := h.invoke(r.Context(), uuid.NewString(), body)
	writeJSON(w, http.StatusOK, map[string]any{"result": res})
}

func (h *Handler) invoke(ctx context.Context, requestID string, raw []byte) any {
	// 기다린 시간은 invocation timeout 에 넣지 않는다
	h.mu.Lock()
	defer h.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, h.opts.InvocationTimeout)
	defer cancel()

	deadline, _ := ctx.Deadline()
	ctx = lambdacontext.NewContext(ctx, &lambdacontext.LambdaContext{
		AwsRequestID:       requestID,
		InvokedFunctionArn: "arn:aws:lambda:local:000000000000:function:lambda-dispatch",
	})

	zlog.Debug().Str("request_id", requestID).Time("deadline", deadline).Int("bytes", len(raw)).Msg("local invoke")
	return h.dispatcher.Dispatch(ctx, raw)
}

// readBody 는 pool.Body 버퍼로 body 를 읽는다. 실패하면 응답을 쓰고 false.
// 반환된 슬라이스는 버퍼와 분리된 복사본이다.
func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxBodySize)
	defer r.Body.Close()

	buf := pool.Body.Get()
	defer pool.Body.Put(buf)

	if _, err := io.Copy(buf, r.Body); err != nil {
		w.WriteHeader(http.StatusRequestEntityTooLarge)
		return nil, false
	}
	return bytes.Clone(buf.Bytes()), true
}

// toProxyRequest 는 net/http 요청을 API Gateway REST proxy 이벤트 모양으로 바꾼다.
// 같은 이름의 header / query 가 여러 개면 단일 값 map 에는 마지막 값을 넣는다.
func toProxyRequest(r *http.Request, body []byte, requestID string) events.APIGatewayProxyRequest {
	headers := make(map[string]string, len(r.Header))
	multiHeaders := make(map[string][]string, len(r.Header))
	for k, vs := range r.Header {
		multiHeaders[k] = vs
		headers[k] = vs[len(vs)-1]
	}
	if r.Host != "" {
		headers["Host"] = r.Host
	}

	var query map[string]string
	var multiQuery map[string][]string
	if q := r.URL.Query(); len(q) > 0 {
		query = make(map[string]string, len(q))
		multiQuery = make(map[string][]string, len(q))
		for k, vs := range q {
			multiQuery[k] = vs
			query[k] = vs[len(vs)-1]
		}
	}

	ev := events.APIGatewayProxyRequest{
		Resource:                        r.URL.Path,
		Path:                            r.URL.Path,
		HTTPMethod:                      r.Method,
		Headers:                         headers,
		MultiValueHeaders:               multiHeaders,
		QueryStringParameters:           query,
		MultiValueQueryStringParameters: multiQuery,
		RequestContext: events.APIGatewayProxyRequestContext{
			RequestID:        requestID,
			Stage:            "local",
			HTTPMethod:       r.Method,
			Path:             r.URL.Path,
			RequestTimeEpoch: time.Now().UnixMilli(),
			Identity: events.APIGatewayRequestIdentity{
				SourceIP:  sourceIP(r),
				UserAgent: r.UserAgent(),
			},
		},
	}

	if len(body) > 0 {
		if utf8.Valid(body) {
			ev.Body = string(body)
		} else {
			ev.Body = base64.StdEncoding.EncodeToString(body)
			ev.IsBase64Encoded = true
		}
	}
	return ev
}

func writeProxyResponse(w http.ResponseWriter, resp *events.APIGatewayProxyResponse) {
	for k, vs := range resp.MultiValueHeaders {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}

	body := []byte(resp.Body)
	if resp.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(resp.Body)
		if err != nil {
			zlog.Error().Err(err).Msg("response body is not valid base64")
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		body = decoded
	}

	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if len(body) > 0 {
		_, _ = w.Write(body)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
