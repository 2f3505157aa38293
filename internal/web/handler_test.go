package web

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"lambda-dispatch/internal/event"
	"lambda-dispatch/internal/filter"
	"lambda-dispatch/internal/httperr"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambdacontext"
	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRequest(method, path string) *event.HTTPRequest {
	return &event.HTTPRequest{APIGatewayProxyRequest: events.APIGatewayProxyRequest{
		HTTPMethod: method,
		Path:       path,
	}}
}

func routeTo(h RouteHandler) Router {
	return RouterFunc(func(context.Context, *event.HTTPRequest) (RouteHandler, error) {
		return h, nil
	})
}

func decodeError(t *testing.T, res *events.APIGatewayProxyResponse) errorBody {
	t.Helper()
	var b errorBody
	require.NoError(t, json.Unmarshal([]byte(res.Body), &b))
	return b
}

func TestHandleSuccessRunsAllPhases(t *testing.T) {
	var order []string
	track := func(name string) filter.Filter {
		return func(context.Context, *filter.Context) (bool, error) {
			order = append(order, name)
			return true, nil
		}
	}

	h := NewHandler(routeTo(func(context.Context, *event.HTTPRequest) (any, error) {
		order = append(order, "route")
		return map[string]string{"hello": "world"}, nil
	}), WithChain(filter.Chain{
		Pre:   []filter.Filter{track("pre")},
		Post:  []filter.Filter{track("post")},
		Error: []filter.Filter{track("error")},
	}))

	res, err := h.Handle(context.Background(), newRequest("GET", "/"), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"pre", "route", "post"}, order)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.JSONEq(t, `{"hello":"world"}`, res.Body)
}

func TestHandleDefaultChain(t *testing.T) {
	h := NewHandler(routeTo(func(_ context.Context, req *event.HTTPRequest) (any, error) {
		return req.ParsedBody, nil
	}))

	req := newRequest("POST", "/echo")
	req.Body = `{"n":1}`
	req.Headers = map[string]string{"Origin": "https://a.example"}

	res, err := h.Handle(context.Background(), req, &lambdacontext.LambdaContext{AwsRequestID: "rid-1"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.JSONEq(t, `{"n":1}`, res.Body)
	assert.Equal(t, "rid-1", res.Headers["X-REQUEST-ID"])
	assert.Equal(t, "https://a.example", res.Headers["Access-Control-Allow-Origin"])
	assert.NotNil(t, req.QueryStringParameters)
}

func TestHandleNullPathParameterIs400WithErrorFilters(t *testing.T) {
	routeRan := false
	h := NewHandler(routeTo(func(context.Context, *event.HTTPRequest) (any, error) {
		routeRan = true
		return "x", nil
	}))

	req := newRequest("GET", "/users/null")
	req.PathParameters = map[string]string{"id": "null"}

	res, err := h.Handle(context.Background(), req, &lambdacontext.LambdaContext{AwsRequestID: "rid-2"})
	require.Error(t, err)
	assert.False(t, routeRan)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, "rid-2", res.Headers["X-REQUEST-ID"])
	assert.Equal(t, "*", res.Headers["Access-Control-Allow-Origin"])

	body := decodeError(t, res)
	assert.Equal(t, 400, body.HTTPStatusCode)
	assert.Equal(t, "rid-2", body.RequestID)
	assert.Contains(t, body.Errors[0], "id")
}

func TestHandlePreFilterHaltUsesFilterResult(t *testing.T) {
	routeRan := false
	h := NewHandler(routeTo(func(context.Context, *event.HTTPRequest) (any, error) {
		routeRan = true
		return nil, nil
	}), WithChain(filter.Chain{
		Pre: []filter.Filter{func(_ context.Context, fc *filter.Context) (bool, error) {
			fc.Result = &events.APIGatewayProxyResponse{StatusCode: http.StatusNoContent}
			return false, nil
		}},
	}))

	res, err := h.Handle(context.Background(), newRequest("OPTIONS", "/"), nil)
	require.NoError(t, err)
	assert.False(t, routeRan)
	assert.Equal(t, http.StatusNoContent, res.StatusCode)
}

func TestHandlePreFilterHaltWithoutResultIs500(t *testing.T) {
	h := NewHandler(routeTo(nil), WithChain(filter.Chain{
		Pre: []filter.Filter{func(context.Context, *filter.Context) (bool, error) { return false, nil }},
	}))

	res, err := h.Handle(context.Background(), newRequest("GET", "/"), nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusInternalServerError, res.StatusCode)
}

func TestHandleRouteErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		msg    string
	}{
		{"typed", httperr.Conflict("already exists"), http.StatusConflict, "already exists"},
		{"forbidden", httperr.Forbidden("no"), http.StatusForbidden, "no"},
		{"generic hides message", errors.New("db password wrong"), http.StatusInternalServerError, "Internal Server Error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(routeTo(func(context.Context, *event.HTTPRequest) (any, error) {
				return nil, tt.err
			}))
			res, err := h.Handle(context.Background(), newRequest("GET", "/"), nil)
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, tt.status, res.StatusCode)
			assert.Equal(t, []string{tt.msg}, decodeError(t, res).Errors)
		})
	}
}

func TestHandleRoutePanicIs500(t *testing.T) {
	h := NewHandler(routeTo(func(context.Context, *event.HTTPRequest) (any, error) {
		panic("nil map write")
	}))
	res, err := h.Handle(context.Background(), newRequest("GET", "/"), nil)

	var pe *PanicError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, http.StatusInternalServerError, res.StatusCode)
}

func TestHandleRouterPanicIs500(t *testing.T) {
	errorPhase := false
	h := NewHandler(RouterFunc(func(context.Context, *event.HTTPRequest) (RouteHandler, error) {
		panic("route table not built")
	}), WithChain(filter.Chain{
		Error: []filter.Filter{func(context.Context, *filter.Context) (bool, error) {
			errorPhase = true
			return true, nil
		}},
	}))

	var res *events.APIGatewayProxyResponse
	var err error
	require.NotPanics(t, func() {
		res, err = h.Handle(context.Background(), newRequest("GET", "/"), nil)
	})

	var pe *PanicError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "route table not built", pe.Value)
	assert.True(t, errorPhase)
	assert.Equal(t, http.StatusInternalServerError, res.StatusCode)
}

func TestHandlePostFilterClearingResultIs500(t *testing.T) {
	h := NewHandler(routeTo(func(context.Context, *event.HTTPRequest) (any, error) {
		return "ok", nil
	}), WithChain(filter.Chain{
		Post: []filter.Filter{func(_ context.Context, fc *filter.Context) (bool, error) {
			fc.Result = nil
			return true, nil
		}},
	}))

	var res *events.APIGatewayProxyResponse
	var err error
	require.NotPanics(t, func() {
		res, err = h.Handle(context.Background(), newRequest("GET", "/"), nil)
	})
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, http.StatusInternalServerError, res.StatusCode)
}

func TestHandleRouteChangesReachPostFilters(t *testing.T) {
	var seen string
	h := NewHandler(routeTo(func(_ context.Context, req *event.HTTPRequest) (any, error) {
		req.Headers["X-Tenant"] = "t-1"
		return "ok", nil
	}), WithChain(filter.Chain{
		Post: []filter.Filter{func(_ context.Context, fc *filter.Context) (bool, error) {
			seen = fc.Event.Headers["X-Tenant"]
			return true, nil
		}},
	}))

	req := newRequest("GET", "/")
	req.Headers = map[string]string{}
	_, err := h.Handle(context.Background(), req, nil)
	require.NoError(t, err)
	assert.Equal(t, "t-1", seen)
}

// ctx 를 무시하는 handler 가 시간 초과 뒤에 요청을 고쳐도
// error filter 와 호출자가 가진 요청은 바뀌지 않는다. -race 로 돌려야 의미가 있다.
func TestHandleTimedOutRouteDoesNotTouchEvent(t *testing.T) {
	done := make(chan struct{})
	h := NewHandler(routeTo(func(_ context.Context, req *event.HTTPRequest) (any, error) {
		defer close(done)
		time.Sleep(150 * time.Millisecond)
		req.Headers["Origin"] = "mutated-after-timeout"
		req.QueryStringParameters["page"] = "99"
		return "late", nil
	}), WithTimeoutMargin(50*time.Millisecond), WithChain(filter.Chain{
		Error: []filter.Filter{func(_ context.Context, fc *filter.Context) (bool, error) {
			// handler goroutine 이 쓰는 동안 읽는다
			time.Sleep(120 * time.Millisecond)
			fc.Result.Headers["X-Origin-Seen"] = fc.Event.Headers["Origin"]
			return true, nil
		}},
	}))

	req := newRequest("GET", "/slow")
	req.Headers = map[string]string{"Origin": "https://a.example"}
	req.QueryStringParameters = map[string]string{"page": "1"}

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()

	res, err := h.Handle(ctx, req, nil)
	assert.ErrorIs(t, err, ErrBudgetExceeded)
	assert.Equal(t, "https://a.example", res.Headers["X-Origin-Seen"])

	<-done
	assert.Equal(t, "https://a.example", req.Headers["Origin"])
	assert.Equal(t, "1", req.QueryStringParameters["page"])
}

func TestHandleErrorFilterFailureDoesNotMaskOriginal(t *testing.T) {
	h := NewHandler(routeTo(func(context.Context, *event.HTTPRequest) (any, error) {
		return nil, httperr.NotFound("no such user")
	}), WithChain(filter.Chain{
		Error: []filter.Filter{
			func(context.Context, *filter.Context) (bool, error) { return false, errors.New("error filter broke") },
		},
	}))

	res, err := h.Handle(context.Background(), newRequest("GET", "/users/1"), nil)
	assert.Equal(t, http.StatusNotFound, httperr.StatusOf(err))
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.Equal(t, []string{"no such user"}, decodeError(t, res).Errors)
}

func TestHandlePostFilterErrorReplacesResult(t *testing.T) {
	big := strings.Repeat("a", httperr.MaxResponseBodyBytes+10)
	h := NewHandler(routeTo(func(context.Context, *event.HTTPRequest) (any, error) {
		return &events.APIGatewayProxyResponse{StatusCode: 200, Body: big}, nil
	}))

	res, err := h.Handle(context.Background(), newRequest("GET", "/big"), nil)
	var pe *httperr.PayloadTooLarge
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 10, pe.Overage)
	assert.Equal(t, http.StatusInternalServerError, res.StatusCode)
	assert.Contains(t, decodeError(t, res).Errors[0], "10 bytes too large")
}

func TestHandleGzip(t *testing.T) {
	h := NewHandler(routeTo(func(context.Context, *event.HTTPRequest) (any, error) {
		return &events.APIGatewayProxyResponse{StatusCode: 200, Body: strings.Repeat("z", 4096)}, nil
	}))
	req := newRequest("GET", "/")
	req.Headers = map[string]string{"accept-encoding": "gzip"}

	res, err := h.Handle(context.Background(), req, nil)
	require.NoError(t, err)
	assert.True(t, res.IsBase64Encoded)
	assert.Equal(t, "gzip", res.Headers["Content-Encoding"])
	_, err = base64.StdEncoding.DecodeString(res.Body)
	assert.NoError(t, err)
}

func TestHandleTimeoutBudget(t *testing.T) {
	h := NewHandler(routeTo(func(ctx context.Context, _ *event.HTTPRequest) (any, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return "late", nil
		}
	}), WithTimeoutMargin(50*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	res, err := h.Handle(ctx, newRequest("GET", "/slow"), nil)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.ErrorIs(t, err, ErrBudgetExceeded)
	assert.Equal(t, http.StatusInternalServerError, res.StatusCode)
}

func TestHandleNilRouteResultIs204(t *testing.T) {
	h := NewHandler(routeTo(func(context.Context, *event.HTTPRequest) (any, error) {
		return nil, nil
	}))
	res, err := h.Handle(context.Background(), newRequest("DELETE", "/x"), nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, res.StatusCode)
}

func TestMuxFirstRegisteredWins(t *testing.T) {
	m := NewMux()
	require.NoError(t, m.Handle("get", "/users/.*", func(context.Context, *event.HTTPRequest) (any, error) { return "broad", nil }))
	require.NoError(t, m.Handle("GET", "/users/me", func(context.Context, *event.HTTPRequest) (any, error) { return "me", nil }))

	rh, err := m.Route(context.Background(), newRequest("GET", "/users/me"))
	require.NoError(t, err)
	v, _ := rh(context.Background(), nil)
	assert.Equal(t, "broad", v)

	_, err = m.Route(context.Background(), newRequest("POST", "/users/me"))
	assert.Equal(t, http.StatusNotFound, httperr.StatusOf(err))
}
