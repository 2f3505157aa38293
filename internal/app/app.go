// Package app 은 Lambda 진입점과 로컬 서버가 공유하는 조립 코드다.
// 어떤 Queue 구현을 꽂느냐만 다르고 나머지 배선은 같다.
package app

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"lambda-dispatch/internal/auth"
	"lambda-dispatch/internal/background"
	"lambda-dispatch/internal/config"
	"lambda-dispatch/internal/dispatch"
	"lambda-dispatch/internal/event"
	"lambda-dispatch/internal/filter"
	"lambda-dispatch/internal/httperr"
	"lambda-dispatch/internal/logger"
	"lambda-dispatch/internal/metrics"
	"lambda-dispatch/internal/queue"
	"lambda-dispatch/internal/registry"
	"lambda-dispatch/internal/schedule"
	"lambda-dispatch/internal/token"
	"lambda-dispatch/internal/web"

	"github.com/aws/aws-lambda-go/events"
	json "github.com/goccy/go-json"
	zlog "github.com/rs/zerolog/log"
)

// App
//
// cold start 에 한 번 만들어지는 협력자 묶음.
// 이벤트 카테고리별 registry 는 비어 있는 상태로 열어 두고,
// 배포하는 쪽이 Dispatcher() 호출 전에 handler 를 등록한다.
type App struct {
	Config     config.Config
	Metrics    *metrics.Metrics
	Tokens     *token.Manager
	Background *background.Handler

	SNS      *registry.Registry[dispatch.NotificationHandler]
	S3Create *registry.Registry[dispatch.ObjectHandler]
	S3Remove *registry.Registry[dispatch.ObjectHandler]
	DynamoDB *registry.Registry[dispatch.StreamHandler]

	// DirectEntries 는 코드에서 등록하는 in-process 스케줄.
	// SCHEDULE_FILE 의 항목보다 먼저 평가된다.
	DirectEntries []schedule.Entry
}

// New 는 토큰 매니저와 background handler(기본 processor 포함)를 만든다.
func New(cfg config.Config, m *metrics.Metrics, bgOpts ...background.Option) (*App, error) {
	encKey, err := token.DecodeHexKey(cfg.TokenEncryptionKey)
	if err != nil {
		return nil, config.Errorf("TOKEN_ENCRYPTION_KEY", "%v", err)
	}
	var tokOpts []token.Option
	if encKey != nil {
		tokOpts = append(tokOpts, token.WithEncryptionKey(encKey))
	}
	tokens, err := token.NewManager(cfg.TokenSigningKey, cfg.TokenIssuer, tokOpts...)
	if err != nil {
		return nil, config.Errorf("TOKEN_SIGNING_KEY", "%v", err)
	}

	bg := background.NewHandler(append([]background.Option{background.WithMetrics(m)}, bgOpts...)...)
	if err := background.RegisterBuiltins(bg); err != nil {
		return nil, err
	}

	return &App{
		Config:     cfg,
		Metrics:    m,
		Tokens:     tokens,
		Background: bg,
		SNS:        registry.New[dispatch.NotificationHandler](),
		S3Create:   registry.New[dispatch.ObjectHandler](),
		S3Remove:   registry.New[dispatch.ObjectHandler](),
		DynamoDB:   registry.New[dispatch.StreamHandler](),
	}, nil
}

// Dispatcher
//
// q 를 스케줄 runner 와 HTTP route 에 연결하고 Dispatcher 를 만든다.
// 스케줄 timezone 이나 cron 문자열이 잘못되어 있으면 config.Error 를 돌려준다.
func (a *App) Dispatcher(q queue.Queue) (*dispatch.Dispatcher, error) {
	runner, err := a.scheduleRunner(q)
	if err != nil {
		return nil, err
	}

	mux, err := a.routes(q)
	if err != nil {
		return nil, err
	}

	chain := filter.DefaultChain()
	chain.Pre = append(chain.Pre, auth.OptionalToken(a.Tokens))

	return dispatch.New(&dispatch.Config{
		Web: web.NewHandler(mux,
			web.WithChain(chain),
			web.WithTimeoutMargin(a.Config.TimeoutMargin),
			web.WithMetrics(a.Metrics),
		),
		SNS:        a.SNS,
		S3Create:   a.S3Create,
		S3Remove:   a.S3Remove,
		DynamoDB:   a.DynamoDB,
		Schedule:   runner,
		Background: a.Background,
		Disabled:   a.Config.Disabled,
		LevelParams: logger.LevelParams{
			QueryParamLevel: a.Config.LogLevelQueryParam,
			QueryParamTrace: a.Config.LogTraceQueryParam,
			EnvParamLevel:   a.Config.LogLevelEnvParam,
		},
		TimeoutMargin: a.Config.TimeoutMargin,
		Metrics:       a.Metrics,
	}), nil
}

// scheduleRunner 는 DirectEntries + SCHEDULE_FILE 항목으로 Runner 를 만든다.
// 항목이 하나도 없으면 nil (cron 이벤트는 "handler 없음").
func (a *App) scheduleRunner(q queue.Queue) (*schedule.Runner, error) {
	entries := append([]schedule.Entry(nil), a.DirectEntries...)
	tz := a.Config.Timezone

	if a.Config.ScheduleFile != "" {
		f, err := config.LoadScheduleFile(a.Config.ScheduleFile)
		if err != nil {
			return nil, config.Errorf("SCHEDULE_FILE", "%v", err)
		}
		fileEntries, fileTZ, err := schedule.FromFile(f)
		if err != nil {
			return nil, err
		}
		entries = append(entries, fileEntries...)
		if tz == "" {
			tz = fileTZ
		}
	}

	if len(entries) == 0 {
		return nil, nil
	}
	r, err := schedule.NewRunner(tz, entries, q, schedule.WithMetrics(a.Metrics))
	if err != nil {
		return nil, err
	}
	zlog.Info().Int("entries", r.Len()).Str("timezone", tz).Msg("schedule loaded")
	return r, nil
}

// ------------------------------------------------------------
// 기본 HTTP route
//
//	GET  /health              상태 확인 (인증 없음)
//	GET  /me                  토큰의 claim
//	POST /token/refresh       같은 claim 으로 새 토큰 발급 (?ttl=초)
//	POST /tasks/{type}        body 를 data 로 background task 제출 (ADMIN)
//	                          ?immediate=true 면 FireImmediate
// ------------------------------------------------------------

// 테스트에서 바꿔 끼운다.
var timeNow = time.Now

func (a *App) routes(q queue.Queue) (*web.Mux, error) {
	mux := web.NewMux()
	for _, r := range []struct {
		method, path string
		h            web.RouteHandler
	}{
		{http.MethodGet, "/health", a.health},
		{http.MethodGet, "/me", a.me},
		{http.MethodPost, "/token/refresh", a.refresh},
		{http.MethodPost, "/tasks/[A-Za-z0-9_.-]+", a.submitTask(q)},
	} {
		if err := mux.Handle(r.method, r.path, r.h); err != nil {
			return nil, fmt.Errorf("register route %s %s: %w", r.method, r.path, err)
		}
	}
	return mux, nil
}

func (a *App) health(context.Context, *event.HTTPRequest) (any, error) {
	return map[string]any{"status": "ok", "service": a.Config.ServiceName}, nil
}

func (a *App) me(_ context.Context, req *event.HTTPRequest) (any, error) {
	if req.Authorization == nil {
		return nil, httperr.Unauthorized("Authentication required")
	}
	return req.Authorization, nil
}

func (a *App) refresh(_ context.Context, req *event.HTTPRequest) (any, error) {
	raw, ok := token.ExtractBearer(req.Headers)
	if !ok || req.Authorization == nil {
		return nil, httperr.Unauthorized("Authentication required")
	}

	ttl := 0
	if v := req.QueryStringParameters["ttl"]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, httperr.BadRequest("ttl must be a positive number of seconds")
		}
		ttl = n
	}

	next, err := a.Tokens.Refresh(raw, ttl)
	if err != nil {
		return nil, httperr.Unauthorized("Token cannot be refreshed")
	}
	return map[string]string{"token": next}, nil
}

func (a *App) submitTask(q queue.Queue) web.RouteHandler {
	requireAdmin := auth.RequireAnyRole("ADMIN")

	return func(ctx context.Context, req *event.HTTPRequest) (any, error) {
		if ok, err := requireAdmin(ctx, &filter.Context{Event: req}); !ok {
			return nil, err
		}
		if q == nil {
			return nil, httperr.Misconfigured("No background queue configured")
		}

		taskType := req.Path[len("/tasks/"):]
		t := queue.NewTask(taskType, req.ParsedBody, map[string]any{
			"submittedBy": req.Authorization.Subject,
		}, timeNow())

		submit := q.Enqueue
		if req.QueryStringParameters["immediate"] == "true" {
			submit = q.FireImmediate
		}
		if err := submit(ctx, t); err != nil {
			return nil, err
		}

		body, err := json.Marshal(map[string]any{"accepted": true, "type": taskType, "created": t.Created})
		if err != nil {
			return nil, err
		}
		return &events.APIGatewayProxyResponse{
			StatusCode: http.StatusAccepted,
			Headers:    map[string]string{"Content-Type": "application/json"},
			Body:       string(body),
		}, nil
	}
}
