// Package dispatch 는 Lambda invocation 하나를 받아 분류하고
// 알맞은 handler 로 보내는 진입점이다.
//
// 어떤 이벤트가 들어와도 Dispatch 는 실패하지 않는다.
// 분류 실패, 설정으로 꺼진 카테고리, handler 없음, handler 에러, panic 은
// 모두 로그를 남기고 false 를 돌려준다.
// 같은 함수가 HTTP, SNS, S3, cron, DynamoDB stream 을 함께 받는
// multi-purpose 배포에서는 handler 가 없는 이벤트가 흔하기 때문이다.
package dispatch

import (
	"context"
	stdjson "encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"lambda-dispatch/internal/background"
	"lambda-dispatch/internal/config"
	"lambda-dispatch/internal/event"
	"lambda-dispatch/internal/logger"
	"lambda-dispatch/internal/metrics"
	"lambda-dispatch/internal/queue"
	"lambda-dispatch/internal/registry"
	"lambda-dispatch/internal/schedule"
	"lambda-dispatch/internal/tracing"
	"lambda-dispatch/internal/web"

	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

// non-HTTP handler 시그니처. 반환값은 그대로 Lambda 결과가 된다.
type (
	NotificationHandler func(ctx context.Context, ev *event.Notification) (any, error)
	ObjectHandler       func(ctx context.Context, ev *event.ObjectStorageChange) (any, error)
	StreamHandler       func(ctx context.Context, ev *event.StreamRecord) (any, error)
)

// Config
//
// Dispatcher 가 쓰는 협력자 묶음. cold start 에 한 번 만들고 이후 읽기만 한다.
// nil 인 항목은 "handler 없음" 으로 취급한다.
type Config struct {
	Web *web.Handler

	SNS      *registry.Registry[NotificationHandler]
	S3Create *registry.Registry[ObjectHandler]
	S3Remove *registry.Registry[ObjectHandler]
	DynamoDB *registry.Registry[StreamHandler]

	Schedule   *schedule.Runner
	Background *background.Handler

	Disabled    config.Disabled
	LevelParams logger.LevelParams

	// non-HTTP handler 를 기다릴 때 Lambda deadline 에서 뺄 여유 시간.
	TimeoutMargin time.Duration

	Metrics *metrics.Metrics
}

// Dispatcher 는 invocation 진입점.
// 로그 레벨 scope 가 전역이므로 호출은 한 번에 하나씩이어야 한다.
// Lambda sandbox 는 원래 그렇고, 로컬 서버(internal/server)는 mutex 로 직렬화한다.
//
// 시간 예산을 넘긴 non-HTTP handler 는 goroutine 으로 남아 계속 돌 수 있으므로
// 각 handler 는 ctx 를 지켜야 한다. schedule.Runner 는 항목마다 ctx 를 확인한다.
type Dispatcher struct {
	cfg *Config
}

// New 는 cfg 로 Dispatcher 를 만든다. cfg 가 nil 이어도 되며,
// 그때 모든 invocation 은 false 가 된다.
func New(cfg *Config) *Dispatcher {
	return &Dispatcher{cfg: cfg}
}

// Handle 은 lambda.Start 에 넘기는 adapter. 에러는 항상 nil 이다.
func (d *Dispatcher) Handle(ctx context.Context, raw stdjson.RawMessage) (any, error) {
	return d.Dispatch(ctx, raw), nil
}

// outcome 라벨
const (
	outcomeHandled   = "handled"
	outcomeNoHandler = "no_handler"
	outcomeDisabled  = "disabled"
	outcomeUnknown   = "unknown"
	outcomeError     = "error"
)

// invocation 은 Dispatch 한 번 동안의 상태.
type invocation struct {
	category string
	outcome  string
}

// Dispatch
//
// raw 이벤트 하나를 처리하고 결과를 돌려준다.
//
//  1. 설정이 없으면 false
//  2. 분류. Unknown 이거나 꺼진 카테고리면 false
//  3. handler 가 없으면 false (info 로그)
//  4. 실행. HTTP 는 web.Handler, 나머지는 시간 예산 안에서 직접 호출
//  5. 2~4 에서 난 에러와 panic 은 로그 후 false
//  6. 로그 레벨 / trace prefix scope 는 항상 원래대로 되돌린다
func (d *Dispatcher) Dispatch(ctx context.Context, raw []byte) (result any) {
	start := time.Now()

	lc, _ := lambdacontext.FromContext(ctx)
	requestID := ""
	if lc != nil {
		requestID = lc.AwsRequestID
	}
	if requestID == "" {
		requestID = uuid.NewString()
	}

	log := zlog.Logger.With().Str("request_id", requestID).Logger()
	ctx = log.WithContext(ctx)

	ctx, span := tracing.Start(ctx, "dispatch", attribute.String("faas.invocation_id", requestID))
	inv := &invocation{category: event.CategoryUnknown.String(), outcome: outcomeHandled}

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("stack", string(debug.Stack())).Msg("dispatch panicked")
			inv.outcome = outcomeError
			result = false
		}
		var spanErr error
		if inv.outcome == outcomeError {
			spanErr = errors.New("dispatch failed")
		}
		span.SetAttributes(
			attribute.String("dispatch.category", inv.category),
			attribute.String("dispatch.outcome", inv.outcome),
		)
		tracing.End(span, spanErr)
		if d.cfg != nil {
			d.cfg.Metrics.ObserveInvocation(inv.category, inv.outcome, time.Since(start))
		}
	}()

	if d.cfg == nil {
		log.Error().Msg("dispatcher has no configuration; ignoring event")
		inv.outcome = outcomeNoHandler
		return false
	}

	ev, err := event.Decode(raw)
	if err != nil {
		log.Error().Err(err).Msg("event decode failed")
		inv.outcome = outcomeError
		return false
	}
	inv.category = ev.Category().String()
	tracing.Event(ctx, "classified", attribute.String("dispatch.category", inv.category))

	// 트랜잭션 로그 레벨. query 는 HTTP 이벤트에만 있다.
	var query map[string]string
	if req, ok := ev.(*event.HTTPRequest); ok {
		query = req.QueryStringParameters
	}
	level, trace := logger.TransactionSettings(d.cfg.LevelParams, query)
	restore := logger.Scope(level, trace)
	defer restore()

	res, err := d.route(ctx, ev, lc, inv)
	if err != nil {
		inv.outcome = outcomeError
		if errors.Is(err, web.ErrBudgetExceeded) {
			log.Error().Err(err).Str("category", inv.category).Msg("handler timed out")
		} else {
			le := log.Error().Err(err).Str("category", inv.category)
			var pe *web.PanicError
			if errors.As(err, &pe) {
				le = le.Bytes("stack", pe.Stack)
			}
			le.Msg("handler failed")
		}
		return false
	}
	return res
}

// route 는 분류된 이벤트를 카테고리별 handler 로 보낸다.
// neutral 한 결과(꺼짐, handler 없음)는 inv.outcome 만 바꾸고 false, nil 을 돌려준다.
func (d *Dispatcher) route(ctx context.Context, ev event.Event, lc *lambdacontext.LambdaContext, inv *invocation) (any, error) {
	log := zerolog.Ctx(ctx)
	cfg := d.cfg

	neutral := func(outcome, msg string) (any, error) {
		inv.outcome = outcome
		e := log.Info()
		if outcome == outcomeUnknown {
			e = log.Warn()
		}
		e.Str("category", inv.category).Str("key", ev.LookupKey()).Msg(msg)
		return false, nil
	}

	switch e := ev.(type) {

	case *event.HTTPRequest:
		if cfg.Disabled.HTTP {
			return neutral(outcomeDisabled, "http events are disabled")
		}
		if cfg.Web == nil {
			return neutral(outcomeNoHandler, "no http handler configured")
		}
		res, herr := cfg.Web.Handle(ctx, e, lc)
		if herr != nil {
			// 실패는 이미 응답으로 바뀌었다. 지표만 error 로 남긴다.
			inv.outcome = outcomeError
		}
		return res, nil

	case *event.Notification:
		if handled, res, err := d.background(ctx, e, inv); handled {
			return res, err
		}
		if cfg.Disabled.SNS {
			return neutral(outcomeDisabled, "sns events are disabled")
		}
		entry, ok := cfg.SNS.Lookup(e.LookupKey())
		if !ok {
			return neutral(outcomeNoHandler, "no sns handler matched")
		}
		return d.within(ctx, func(c context.Context) (any, error) { return entry.Handler(c, e) })

	case *event.ObjectStorageChange:
		if cfg.Disabled.S3 {
			return neutral(outcomeDisabled, "s3 events are disabled")
		}
		reg := cfg.S3Create
		if e.IsRemove() {
			reg = cfg.S3Remove
		}
		entry, ok := reg.Lookup(e.LookupKey())
		if !ok {
			return neutral(outcomeNoHandler, "no s3 handler matched")
		}
		return d.within(ctx, func(c context.Context) (any, error) { return entry.Handler(c, e) })

	case *event.ScheduledTrigger:
		if cfg.Disabled.Cron {
			return neutral(outcomeDisabled, "cron events are disabled")
		}
		if cfg.Schedule == nil {
			return neutral(outcomeNoHandler, "no schedule configured")
		}
		return d.within(ctx, func(c context.Context) (any, error) {
			if err := cfg.Schedule.Process(c, e); err != nil {
				return nil, err
			}
			return true, nil
		})

	case *event.StreamRecord:
		if cfg.Disabled.DynamoDB {
			return neutral(outcomeDisabled, "dynamodb events are disabled")
		}
		entry, ok := cfg.DynamoDB.Lookup(e.LookupKey())
		if !ok {
			return neutral(outcomeNoHandler, "no dynamodb handler matched")
		}
		return d.within(ctx, func(c context.Context) (any, error) { return entry.Handler(c, e) })

	default:
		return neutral(outcomeUnknown, "unrecognized event shape")
	}
}

// background
//
// SNS 메시지가 이 모듈의 background envelope 이면 SNS registry 보다 먼저 처리한다.
// envelope 이 아니면 handled=false.
func (d *Dispatcher) background(ctx context.Context, e *event.Notification, inv *invocation) (bool, any, error) {
	cfg := d.cfg
	if cfg.Background == nil || len(e.Records) == 0 {
		return false, nil, nil
	}
	msg := e.Records[0].SNS.Message
	if _, ok := queue.ParseEnvelope(msg); !ok {
		return false, nil, nil
	}

	inv.category = "background"
	if cfg.Disabled.Background {
		inv.outcome = outcomeDisabled
		zerolog.Ctx(ctx).Info().Msg("background tasks are disabled")
		return true, false, nil
	}

	res, err := d.within(ctx, func(c context.Context) (any, error) {
		_, r, err := cfg.Background.HandleMessage(c, msg)
		return r, err
	})
	if err != nil {
		return true, nil, fmt.Errorf("background: %w", err)
	}
	return true, res, nil
}

// within 은 fn 을 Lambda 남은 시간 - margin 안에서 실행한다.
func (d *Dispatcher) within(ctx context.Context, fn func(context.Context) (any, error)) (any, error) {
	bctx, cancel := web.Budget(ctx, d.cfg.TimeoutMargin)
	defer cancel()
	return web.RunWithin(bctx, fn)
}
