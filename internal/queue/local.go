// internal/queue/local.go
package queue

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

// Sink 는 로컬 큐가 task 를 넘겨줄 처리 함수. 보통 background.Handler.Run.
type Sink func(ctx context.Context, t Task) error

// ErrQueueFull 은 로컬 큐 버퍼가 가득 찼을 때 Enqueue 가 돌려준다.
var ErrQueueFull = errors.New("queue: local buffer full")

// ErrClosed 는 Shutdown 이후 제출된 task 에 대한 에러.
var ErrClosed = errors.New("queue: closed")

// LocalQueue
//
// 로컬 개발 서버용 in-process Queue.
// AWS 없이도 스케줄 / background 흐름 전체를 돌려 볼 수 있다.
//
// 구성:
//   - taskCh: Enqueue → worker 로 task 전달 (buffered, full 이면 drop)
//   - runLoop: taskCh 에서 하나씩 꺼내 Sink 호출
//
// FireImmediate 는 큐를 거치지 않고 호출한 goroutine 에서 바로 Sink 를 부른다.
// Shutdown 은 남은 task 를 모두 처리한 뒤 반환한다.
type LocalQueue struct {
	sink   Sink
	taskCh chan Task

	mu     sync.RWMutex
	closed bool

	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewLocalQueue 는 buffer 크기만큼의 채널을 가진 LocalQueue 를 만든다.
func NewLocalQueue(sink Sink, buffer int) *LocalQueue {
	if buffer <= 0 {
		buffer = 64
	}
	return &LocalQueue{sink: sink, taskCh: make(chan Task, buffer)}
}

// Start 는 worker goroutine 을 실행한다.
func (q *LocalQueue) Start() {
	q.wg.Add(1)
	go q.runLoop()
}

// Shutdown 은 채널을 닫고 worker 가 남은 task 를 다 처리할 때까지 기다린다.
// 여러 번 호출해도 안전하다.
func (q *LocalQueue) Shutdown() {
	q.stopOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		close(q.taskCh)
		q.mu.Unlock()
	})
	q.wg.Wait()
}

// Enqueue 는 task 를 버퍼에 넣는다. 가득 차 있으면 기다리지 않고 ErrQueueFull.
func (q *LocalQueue) Enqueue(ctx context.Context, t Task) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}

	select {
	case q.taskCh <- t:
		zerolog.Ctx(ctx).Debug().Str("task", t.Type).Msg("task enqueued locally")
		return nil
	default:
		return ErrQueueFull
	}
}

// FireImmediate 는 Sink 를 동기 호출한다.
func (q *LocalQueue) FireImmediate(ctx context.Context, t Task) error {
	return q.sink(ctx, t)
}

// runLoop 는 taskCh 가 닫힐 때까지 task 를 하나씩 처리한다.
// Sink 에러는 로그만 남긴다. 로컬 큐에는 재시도가 없다.
func (q *LocalQueue) runLoop() {
	defer q.wg.Done()

	ctx := zlog.Logger.WithContext(context.Background())
	for t := range q.taskCh {
		if err := q.sink(ctx, t); err != nil {
			zlog.Error().Err(err).Str("task", t.Type).Msg("local task failed")
		}
	}
	zlog.Info().Msg("local queue worker exiting")
}

var _ Queue = (*LocalQueue)(nil)
