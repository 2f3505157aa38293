package server

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"lambda-dispatch/internal/dispatch"
	"lambda-dispatch/internal/event"
	"lambda-dispatch/internal/metrics"
	"lambda-dispatch/internal/web"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambdacontext"
	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingDispatcher 는 받은 이벤트를 기록하고 고정 결과를 돌려준다.
type recordingDispatcher struct {
	raw       []byte
	requestID string
	result    any
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, raw []byte) any {
	d.raw = raw
	if lc, ok := lambdacontext.FromContext(ctx); ok {
		d.requestID = lc.AwsRequestID
	}
	return d.result
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(NewHandler(&recordingDispatcher{}, nil, Options{}).Routes())
	defer srv.Close()

	res, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer res.Body.Close()
	b, _ := io.ReadAll(res.Body)
	assert.Equal(t, "ok", string(b))
}

func TestProxyConvertsRequest(t *testing.T) {
	d := &recordingDispatcher{result: &events.APIGatewayProxyResponse{
		StatusCode: 201,
		Headers:    map[string]string{"X-Test": "yes"},
		Body:       `{"ok":true}`,
	}}
	h := NewHandler(d, nil, Options{})

	req := httptest.NewRequest(http.MethodPost, "/items/7?verbose=true&tag=a&tag=b", strings.NewReader(`{"name":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-For", "10.0.0.1, 203.0.113.9")
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	assert.Equal(t, 201, rec.Code)
	assert.Equal(t, "yes", rec.Header().Get("X-Test"))
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())

	// 변환된 이벤트는 HTTP 로 분류되어야 한다.
	assert.Equal(t, event.CategoryHTTP, event.Classify(d.raw))

	var ev events.APIGatewayProxyRequest
	require.NoError(t, json.Unmarshal(d.raw, &ev))
	assert.Equal(t, "POST", ev.HTTPMethod)
	assert.Equal(t, "/items/7", ev.Path)
	assert.Equal(t, "true", ev.QueryStringParameters["verbose"])
	assert.Equal(t, []string{"a", "b"}, ev.MultiValueQueryStringParameters["tag"])
	assert.Equal(t, `{"name":"x"}`, ev.Body)
	assert.False(t, ev.IsBase64Encoded)
	assert.Equal(t, "203.0.113.9", ev.RequestContext.Identity.SourceIP)
	assert.Equal(t, d.requestID, ev.RequestContext.RequestID)
	assert.NotEmpty(t, d.requestID)
}

func TestProxyWithoutQueryIsStillHTTP(t *testing.T) {
	d := &recordingDispatcher{result: &events.APIGatewayProxyResponse{StatusCode: 204}}
	rec := httptest.NewRecorder()
	NewHandler(d, nil, Options{}).Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, 204, rec.Code)
	assert.Equal(t, event.CategoryHTTP, event.Classify(d.raw))
}

func TestProxyBinaryBodyIsBase64(t *testing.T) {
	d := &recordingDispatcher{result: &events.APIGatewayProxyResponse{StatusCode: 200}}
	rec := httptest.NewRecorder()
	NewHandler(d, nil, Options{}).Routes().ServeHTTP(rec,
		httptest.NewRequest(http.MethodPut, "/bin", strings.NewReader("\xff\xfe\x00")))

	var ev events.APIGatewayProxyRequest
	require.NoError(t, json.Unmarshal(d.raw, &ev))
	assert.True(t, ev.IsBase64Encoded)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("\xff\xfe\x00")), ev.Body)
}

func TestProxyDecodesBase64Response(t *testing.T) {
	d := &recordingDispatcher{result: &events.APIGatewayProxyResponse{
		StatusCode:      200,
		Body:            base64.StdEncoding.EncodeToString([]byte("raw bytes")),
		IsBase64Encoded: true,
	}}
	rec := httptest.NewRecorder()
	NewHandler(d, nil, Options{}).Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, "raw bytes", rec.Body.String())
}

func TestProxyNonHTTPResultIs502(t *testing.T) {
	d := &recordingDispatcher{result: false}
	rec := httptest.NewRecorder()
	NewHandler(d, nil, Options{}).Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestProxyBodyTooLarge(t *testing.T) {
	d := &recordingDispatcher{}
	rec := httptest.NewRecorder()
	NewHandler(d, nil, Options{MaxBodySize: 4}).Routes().ServeHTTP(rec,
		httptest.NewRequest(http.MethodPost, "/x", strings.NewReader("too long")))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Nil(t, d.raw)
}

func TestRawEvent(t *testing.T) {
	d := &recordingDispatcher{result: "done"}
	h := NewHandler(d, nil, Options{}).Routes()

	raw := `{"resources":["arn:aws:events:x:1:rule/tick"],"time":"2024-03-11T00:00:00Z"}`
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(raw)))
	assert.Equal(t, 200, rec.Code)
	assert.JSONEq(t, `{"result":"done"}`, rec.Body.String())
	assert.Equal(t, raw, string(d.raw))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRateLimit(t *testing.T) {
	m := metrics.New()
	d := &recordingDispatcher{result: &events.APIGatewayProxyResponse{StatusCode: 200}}
	h := NewHandler(d, m, Options{RatePerSec: 1}).Routes()

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, 200, codes[0])
	assert.Contains(t, codes[1:], http.StatusTooManyRequests)
	assert.GreaterOrEqual(t, testutil.ToFloat64(m.LocalRateLimitedTotal), 1.0)
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New()
	m.RateLimited()
	rec := httptest.NewRecorder()
	NewHandler(&recordingDispatcher{}, m, Options{}).Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "dispatch_local_rate_limited_total")
}

func TestEndToEndWithDispatcher(t *testing.T) {
	mux := web.NewMux()
	require.NoError(t, mux.Handle("GET", "/hello/[^/]+", func(_ context.Context, req *event.HTTPRequest) (any, error) {
		return map[string]string{"path": req.Path}, nil
	}))
	d := dispatch.New(&dispatch.Config{Web: web.NewHandler(mux)})

	srv := httptest.NewServer(NewHandler(d, nil, Options{}).Routes())
	defer srv.Close()

	res, err := http.Get(srv.URL + "/hello/world")
	require.NoError(t, err)
	defer res.Body.Close()
	b, _ := io.ReadAll(res.Body)

	assert.Equal(t, 200, res.StatusCode)
	assert.JSONEq(t, `{"path":"/hello/world"}`, string(b))
	assert.NotEmpty(t, res.Header.Get("X-Request-Id"))

	res2, err := http.Get(srv.URL + "/nope")
	require.NoError(t, err)
	res2.Body.Close()
	assert.Equal(t, 404, res2.StatusCode)
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name   string
		header map[string]string
		remote string
		want   string
	}{
		{"xff first public", map[string]string{"X-Forwarded-For": "10.0.0.1, 198.51.100.7"}, "10.0.0.2:1", "198.51.100.7"},
		{"cloudfront", map[string]string{"CloudFront-Viewer-Address": "203.0.113.55:44321"}, "10.0.0.2:1", "203.0.113.55"},
		{"remote public", nil, "198.51.100.1:5000", "198.51.100.1"},
		{"all private", map[string]string{"X-Forwarded-For": "192.168.0.1"}, "127.0.0.1:5000", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.header {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, clientIP(r))
		})
	}

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "127.0.0.1:5000"
	assert.Equal(t, "127.0.0.1", sourceIP(r))
}

// overlapDispatcher 는 동시에 Dispatch 안에 있는 호출 수의 최댓값을 기록한다.
type overlapDispatcher struct {
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (d *overlapDispatcher) Dispatch(context.Context, []byte) any {
	n := d.inFlight.Add(1)
	defer d.inFlight.Add(-1)
	for {
		m := d.maxSeen.Load()
		if n <= m || d.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	time.Sleep(10 * time.Millisecond)
	return true
}

func TestInvocationsAreSerialized(t *testing.T) {
	d := &overlapDispatcher{}
	h := NewHandler(d, nil, Options{})

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := httptest.NewRecorder()
			h.HandleRawEvent(rec, httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(`{}`)))
			assert.Equal(t, http.StatusOK, rec.Code)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), d.maxSeen.Load())
}
