package web

import (
	"context"
	"strings"

	"lambda-dispatch/internal/event"
	"lambda-dispatch/internal/httperr"
	"lambda-dispatch/internal/registry"
)

// RouteHandler 는 route matcher 가 찾아 준 business handler.
//
// 반환값은 다음 중 하나로 응답이 된다.
//   - *events.APIGatewayProxyResponse / events.APIGatewayProxyResponse: 그대로
//   - nil: 204 No Content
//   - 그 외: 200 + JSON body
//
// handler 는 ctx 를 지켜야 한다. 시간 예산을 넘기면 응답은 먼저 나가고
// handler goroutine 은 ctx 취소를 볼 때까지 계속 돈다.
// req 는 handler 전용 사본이라 바꿔도 error 응답에는 영향이 없다.
type RouteHandler func(ctx context.Context, req *event.HTTPRequest) (any, error)

// Router
//
// 요청에 맞는 business handler 를 찾는 외부 route matcher 계약.
// OpenAPI 기반 matcher, body schema 검증 같은 것은 이 interface 뒤에 숨는다.
// 못 찾으면 httperr.NotFound / MethodNotAllowed 같은 typed 에러를 돌려준다.
type Router interface {
	Route(ctx context.Context, req *event.HTTPRequest) (RouteHandler, error)
}

// RouterFunc 는 함수를 Router 로 쓰기 위한 adapter.
type RouterFunc func(ctx context.Context, req *event.HTTPRequest) (RouteHandler, error)

func (f RouterFunc) Route(ctx context.Context, req *event.HTTPRequest) (RouteHandler, error) {
	return f(ctx, req)
}

// Mux
//
// registry 기반의 단순 Router.
// 키는 "METHOD path" (예: "GET /users/42") 이고,
// 패턴은 전체 일치 정규식이다 (예: "GET /users/[^/]+").
// 먼저 등록된 패턴이 이긴다.
//
// 로컬 서버와 테스트에서 쓴다. 운영에서는 보통 별도 matcher 를 Router 로 꽂는다.
type Mux struct {
	routes *registry.Registry[RouteHandler]
}

func NewMux() *Mux {
	return &Mux{routes: registry.New[RouteHandler]()}
}

// Handle 은 method 와 path 패턴으로 handler 를 등록한다.
func (m *Mux) Handle(method, pathPattern string, h RouteHandler) error {
	return m.routes.Register(strings.ToUpper(method)+" "+pathPattern, h)
}

func (m *Mux) Route(_ context.Context, req *event.HTTPRequest) (RouteHandler, error) {
	key := strings.ToUpper(req.HTTPMethod) + " " + req.Path
	e, ok := m.routes.Lookup(key)
	if !ok {
		return nil, httperr.NotFound("No route for %s %s", req.HTTPMethod, req.Path)
	}
	return e.Handler, nil
}
