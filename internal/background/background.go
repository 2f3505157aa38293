// internal/background/background.go
package background

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"lambda-dispatch/internal/metrics"
	"lambda-dispatch/internal/queue"
	"lambda-dispatch/internal/tracing"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// Processor 는 task type 하나를 처리하는 함수.
// data 는 JSON 디코딩된 값(map / slice / string / float64 ...) 그대로다.
type Processor func(ctx context.Context, data any, metadata map[string]any) error

// Typed 는 data 를 T 로 다시 디코딩한 뒤 fn 을 부르는 Processor 를 만든다.
func Typed[T any](fn func(ctx context.Context, data T, metadata map[string]any) error) Processor {
	return func(ctx context.Context, data any, metadata map[string]any) error {
		var v T
		if data != nil {
			raw, err := json.Marshal(data)
			if err != nil {
				return fmt.Errorf("re-encode task data: %w", err)
			}
			if err := json.Unmarshal(raw, &v); err != nil {
				return fmt.Errorf("decode task data into %T: %w", v, err)
			}
		}
		return fn(ctx, v, metadata)
	}
}

var (
	// ErrNoProcessor 는 등록되지 않은 task type 을 만났을 때의 에러.
	ErrNoProcessor = errors.New("background: no processor for task type")

	// ErrDuplicate 는 같은 type 을 두 번 등록하려 할 때의 에러.
	ErrDuplicate = errors.New("background: processor already registered")
)

// Source
//
// 큐에서 task 를 꺼내 오는 쪽. queue.AWSQueue 가 구현한다.
//   - Resolve: envelope → task (offload 된 경우 S3 에서 읽기)
//   - Receive / Delete: drain 신호를 받았을 때 SQS 를 비우는 데 쓴다
type Source interface {
	Resolve(ctx context.Context, env queue.Envelope) (queue.Task, error)
	Receive(ctx context.Context, limit int32, wait time.Duration) ([]queue.Message, error)
	Delete(ctx context.Context, receiptHandle string) error
}

// Handler
//
// task type → Processor 레지스트리와 실행기.
// 등록은 cold start 에서 끝내고 이후에는 읽기만 하지만,
// 로컬 서버에서는 worker goroutine 과 동시에 읽히므로 RWMutex 로 보호한다.
type Handler struct {
	mu         sync.RWMutex
	processors map[string]Processor

	source  Source
	metrics *metrics.Metrics

	// drain 1 회에 SQS 를 몇 번까지 당겨 올지. 각 Receive 는 최대 10 건.
	maxRounds int
}

// Option 은 Handler 생성 옵션.
type Option func(*Handler)

// WithSource 는 envelope 해석과 drain 에 쓸 Source 를 지정한다.
func WithSource(s Source) Option { return func(h *Handler) { h.source = s } }

// WithMetrics 는 실행 결과를 기록할 Metrics 를 지정한다.
func WithMetrics(m *metrics.Metrics) Option { return func(h *Handler) { h.metrics = m } }

// WithMaxRounds 는 drain 1 회의 Receive 횟수 상한을 바꾼다.
func WithMaxRounds(n int) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxRounds = n
		}
	}
}

func NewHandler(opts ...Option) *Handler {
	h := &Handler{
		processors: make(map[string]Processor),
		maxRounds:  10,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Register 는 taskType 에 Processor 를 등록한다. 같은 type 은 한 번만.
func (h *Handler) Register(taskType string, p Processor) error {
	if taskType == "" {
		return errors.New("background: empty task type")
	}
	if p == nil {
		return fmt.Errorf("background: nil processor for %q", taskType)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.processors[taskType]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, taskType)
	}
	h.processors[taskType] = p
	return nil
}

// MustRegister 는 Register 실패 시 panic 한다. 초기화 코드용.
func (h *Handler) MustRegister(taskType string, p Processor) {
	if err := h.Register(taskType, p); err != nil {
		panic(err)
	}
}

// Types 는 등록된 task type 을 정렬해서 돌려준다.
func (h *Handler) Types() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.processors))
	for t := range h.processors {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Run
//
// task 하나를 해당 Processor 로 실행한다.
// processor 의 panic 은 에러로 바꿔 돌려준다.
func (h *Handler) Run(ctx context.Context, t queue.Task) (err error) {
	h.mu.RLock()
	p, ok := h.processors[t.Type]
	h.mu.RUnlock()
	if !ok {
		h.metrics.BackgroundTask("no_processor")
		return fmt.Errorf("%w: %q", ErrNoProcessor, t.Type)
	}

	ctx, span := tracing.Start(ctx, "background.run", attribute.String("task.type", t.Type))
	defer func() { tracing.End(span, err) }()

	log := zerolog.Ctx(ctx).With().Str("task", t.Type).Logger()
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("stack", string(debug.Stack())).Msg("processor panicked")
			err = fmt.Errorf("panic in processor %s: %v", t.Type, r)
		}
		if err != nil {
			h.metrics.BackgroundTask("error")
			return
		}
		h.metrics.BackgroundTask("ok")
		log.Debug().Dur("elapsed", time.Since(start)).Msg("task processed")
	}()

	return p(log.WithContext(ctx), t.Data, t.Metadata)
}

// Sink 는 로컬 큐에 넘길 수 있는 형태로 Run 을 돌려준다.
func (h *Handler) Sink() queue.Sink { return h.Run }

// HandleMessage
//
// SNS 메시지 본문을 보고 이 모듈의 envelope 이면 처리한다.
// envelope 이 아니면 handled=false 를 돌려주고 SNS registry 로 넘어간다.
//
//   - Task / Offloaded: task 하나를 실행 (fire-immediate)
//   - Drain: 큐를 비운다. 반환값은 처리한 건수
func (h *Handler) HandleMessage(ctx context.Context, message string) (handled bool, result any, err error) {
	env, ok := queue.ParseEnvelope(message)
	if !ok {
		return false, nil, nil
	}

	if env.Drain {
		n, derr := h.Drain(ctx)
		return true, n, derr
	}

	t, err := h.resolve(ctx, env)
	if err != nil {
		return true, nil, err
	}
	if err := h.Run(ctx, t); err != nil {
		return true, nil, err
	}
	return true, true, nil
}

func (h *Handler) resolve(ctx context.Context, env queue.Envelope) (queue.Task, error) {
	if h.source != nil {
		return h.source.Resolve(ctx, env)
	}
	if env.Task != nil {
		return *env.Task, nil
	}
	return queue.Task{}, errors.New("background: offloaded task but no source configured")
}

// Drain
//
// SQS 에서 메시지를 당겨 와 순서대로 실행한다.
//   - 성공한 메시지만 Delete. 실패한 메시지는 visibility timeout 후 다시 보인다
//   - 큐가 비었거나 maxRounds 에 도달하거나 ctx 가 끝나면 멈춘다
//
// 개별 task 실패는 로그로만 남기고 계속 진행한다.
// Receive 자체가 실패하면 에러를 돌려준다.
func (h *Handler) Drain(ctx context.Context) (int, error) {
	log := zerolog.Ctx(ctx)
	if h.source == nil {
		log.Warn().Msg("drain requested but no queue source is configured")
		return 0, nil
	}

	processed := 0
	for round := 0; round < h.maxRounds; round++ {
		if err := ctx.Err(); err != nil {
			return processed, nil
		}

		msgs, err := h.source.Receive(ctx, 10, 0)
		if err != nil {
			return processed, err
		}
		if len(msgs) == 0 {
			break
		}

		for _, m := range msgs {
			if ctx.Err() != nil {
				break
			}
			t, err := h.source.Resolve(ctx, m.Envelope)
			if err == nil {
				err = h.Run(ctx, t)
			}
			if err != nil {
				log.Error().Err(err).Str("task", t.Type).Msg("queued task failed; leaving on queue")
				continue
			}
			if err := h.source.Delete(ctx, m.ReceiptHandle); err != nil {
				log.Warn().Err(err).Str("task", t.Type).Msg("delete after success failed")
			}
			processed++
		}
	}

	log.Info().Int("processed", processed).Msg("queue drained")
	return processed, nil
}
