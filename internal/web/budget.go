package web

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"
)

// ErrBudgetExceeded 는 남은 invocation 시간 안에 handler 가 끝나지 않은 경우.
var ErrBudgetExceeded = errors.New("invocation time budget exceeded")

// Budget
//
// ctx 의 deadline(Lambda 남은 시간)에서 margin 을 뺀 deadline 을 가진 ctx 를 만든다.
// margin 은 응답 직렬화와 로그 flush 에 쓸 여유 시간이다.
// deadline 이 없는 ctx(로컬 실행 등)는 취소만 가능한 ctx 를 돌려준다.
func Budget(ctx context.Context, margin time.Duration) (context.Context, context.CancelFunc) {
	dl, ok := ctx.Deadline()
	if !ok {
		return context.WithCancel(ctx)
	}
	return context.WithDeadline(ctx, dl.Add(-margin))
}

// PanicError 는 handler goroutine 안에서 발생한 panic 을 감싼다.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("handler panicked: %v", e.Value)
}

// RunWithin
//
// fn 을 별도 goroutine 에서 실행하고 ctx 가 끝나기 전까지만 기다린다.
//   - fn 이 먼저 끝나면 그 결과
//   - ctx 가 먼저 끝나면 ErrBudgetExceeded
//   - fn 안의 panic 은 *PanicError 로 바뀐다
//
// 시간 초과 후에도 fn 은 ctx 취소를 보고 스스로 멈출 때까지 계속 돈다.
// 결과 채널은 버퍼가 있으므로 goroutine 이 막혀 남지는 않는다.
// 그래서 fn 은 ctx 를 지켜야 하고, 호출자와 공유하는 상태를 건드리면 안 된다.
// 공유가 필요하면 호출자가 사본을 넘긴다.
func RunWithin[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)

	go func() {
		var r result
		defer func() {
			if p := recover(); p != nil {
				r.err = &PanicError{Value: p, Stack: debug.Stack()}
			}
			done <- r
		}()
		r.v, r.err = fn(ctx)
	}()

	select {
	case r := <-done:
		// ctx 취소를 보고 스스로 멈춘 경우도 시간 초과로 본다.
		if r.err != nil && ctx.Err() != nil && errors.Is(r.err, ctx.Err()) {
			return r.v, fmt.Errorf("%w: %v", ErrBudgetExceeded, r.err)
		}
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, fmt.Errorf("%w: %v", ErrBudgetExceeded, ctx.Err())
	}
}
