// internal/filter/filter.go
package filter

import (
	"context"
	"fmt"
	"runtime/debug"

	"lambda-dispatch/internal/event"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambdacontext"
)

// Context
//
// invocation 하나 동안만 살아 있는 filter chain 공유 상태.
// pre → route → post (실패 시 error) 단계가 같은 Context 를 순서대로 변경한다.
// 다른 invocation 과 공유하거나 재사용하지 않는다.
type Context struct {
	Event  *event.HTTPRequest
	Lambda *lambdacontext.LambdaContext // 없을 수 있음 (로컬 테스트 등)
	Result *events.APIGatewayProxyResponse
	Err    error // error 단계에서만 채워진다
}

// RequestID 는 Lambda request id. 없으면 "".
func (fc *Context) RequestID() string {
	if fc.Lambda == nil {
		return ""
	}
	return fc.Lambda.AwsRequestID
}

// Filter
//
// chain 의 한 단계. false 를 돌려주면 해당 단계의 나머지 filter 와
// 그 뒤의 route handler 는 실행되지 않는다.
// 에러는 삼키지 않고 caller(web.Handler) 에게 그대로 전달한다.
type Filter func(ctx context.Context, fc *Context) (bool, error)

// Combine
//
// filters 를 선언 순서대로 하나씩 실행한다. 병렬 실행은 없다.
//   - 어떤 filter 가 false → 즉시 (false, nil)
//   - 어떤 filter 가 에러 / panic → 즉시 (false, err)
//   - 전부 true (또는 빈 목록) → (true, nil)
//
// panic 은 에러로 바꿔서 돌려준다.
// 그래야 error 단계와 dispatcher 의 실패 경계가 동일하게 처리할 수 있다.
func Combine(ctx context.Context, fc *Context, filters []Filter) (bool, error) {
	for i, f := range filters {
		if f == nil {
			continue
		}
		cont, err := run(ctx, fc, f, i)
		if err != nil {
			return false, err
		}
		if !cont {
			return false, nil
		}
	}
	return true, nil
}

func run(ctx context.Context, fc *Context, f Filter, idx int) (cont bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			cont = false
			err = &PanicError{Index: idx, Value: r, Stack: debug.Stack()}
		}
	}()
	return f(ctx, fc)
}

// PanicError 는 filter 안에서 발생한 panic 을 감싼다.
type PanicError struct {
	Index int
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("filter[%d] panicked: %v", e.Index, e.Value)
}

// Chain 은 세 단계의 filter 목록 묶음.
type Chain struct {
	Pre   []Filter
	Post  []Filter
	Error []Filter
}

// DefaultChain 은 기본 pre / post / error 목록을 가진 Chain.
func DefaultChain() Chain {
	return Chain{
		Pre:   DefaultPreFilters(),
		Post:  DefaultPostFilters(),
		Error: DefaultErrorFilters(),
	}
}
