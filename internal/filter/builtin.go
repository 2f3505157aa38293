// internal/filter/builtin.go
package filter

import (
	"context"
	"encoding/base64"
	"net/url"
	"regexp"
	"strings"

	"lambda-dispatch/internal/event"
	"lambda-dispatch/internal/httperr"
	"lambda-dispatch/internal/pool"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

const (
	// DefaultRequestIDHeader 는 AddRequestIDHeader 의 기본 header 이름.
	DefaultRequestIDHeader = "X-REQUEST-ID"

	// MissingRequestID 는 Lambda context 가 없을 때 넣는 값.
	MissingRequestID = "Request-Id-Missing"
)

// ------------------------------------------------------------
// pre filters
// ------------------------------------------------------------

// EnsureEventMaps 는 query / header / path parameter map 이 nil 이면
// 빈 map 으로 바꾼다. 이후 filter 와 handler 는 nil 검사를 하지 않아도 된다.
func EnsureEventMaps(_ context.Context, fc *Context) (bool, error) {
	ev := fc.Event
	if ev.QueryStringParameters == nil {
		ev.QueryStringParameters = map[string]string{}
	}
	if ev.Headers == nil {
		ev.Headers = map[string]string{}
	}
	if ev.PathParameters == nil {
		ev.PathParameters = map[string]string{}
	}
	return true, nil
}

// ParseBody
//
// body 가 있으면 ParsedBody 에 구조화된 값으로 붙인다.
//   - IsBase64Encoded 면 먼저 base64 decode
//   - Content-Type 이 없거나 json 계열이면 JSON 으로 파싱 (실패 시 400)
//   - 그 외 Content-Type 은 문자열 그대로
func ParseBody(_ context.Context, fc *Context) (bool, error) {
	ev := fc.Event
	if ev.Body == "" {
		return true, nil
	}

	raw := []byte(ev.Body)
	if ev.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(ev.Body)
		if err != nil {
			return false, httperr.BadRequest("Body was flagged base64 but could not be decoded")
		}
		raw = decoded
	}

	ct := strings.ToLower(ev.Header("Content-Type"))
	if ct != "" && !strings.Contains(ct, "json") {
		ev.ParsedBody = string(raw)
		return true, nil
	}

	var parsed any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return false, httperr.BadRequest("Could not parse body as JSON: %v", err)
	}
	ev.ParsedBody = parsed
	return true, nil
}

var stillEncoded = regexp.MustCompile(`%[0-9A-Fa-f]{2}`)

// FixStillEncodedQueryParams
//
// 두 번 percent-encoding 된 query 값은 API Gateway 가 한 번 풀어 준 뒤에도
// "%20" 같은 escape 가 남아 있다. 그런 값만 한 번 더 decode 한다.
// decode 에 실패하면 원래 값을 유지한다.
func FixStillEncodedQueryParams(_ context.Context, fc *Context) (bool, error) {
	ev := fc.Event
	for k, v := range ev.QueryStringParameters {
		ev.QueryStringParameters[k] = decodeOnce(v)
	}
	for k, vs := range ev.MultiValueQueryStringParameters {
		for i, v := range vs {
			vs[i] = decodeOnce(v)
		}
		ev.MultiValueQueryStringParameters[k] = vs
	}
	return true, nil
}

func decodeOnce(v string) string {
	if !stillEncoded.MatchString(v) {
		return v
	}
	d, err := url.PathUnescape(v)
	if err != nil {
		return v
	}
	return d
}

// DisallowStringNullAsPathParameter 는 path parameter 값이 문자열 "null" 이면 400.
func DisallowStringNullAsPathParameter(_ context.Context, fc *Context) (bool, error) {
	if k, found := findStringNull(fc.Event.PathParameters); found {
		return false, httperr.BadRequest("Path parameter %s was string -null-", k)
	}
	return true, nil
}

// DisallowStringNullAsQueryStringParameter 는 query 값이 문자열 "null" 이면 400.
func DisallowStringNullAsQueryStringParameter(_ context.Context, fc *Context) (bool, error) {
	if k, found := findStringNull(fc.Event.QueryStringParameters); found {
		return false, httperr.BadRequest("Query parameter %s was string -null-", k)
	}
	return true, nil
}

func findStringNull(m map[string]string) (string, bool) {
	for k, v := range m {
		if strings.ToLower(strings.TrimSpace(v)) == "null" {
			return k, true
		}
	}
	return "", false
}

// ------------------------------------------------------------
// post / error filters
// ------------------------------------------------------------

// AddConstantHeaders 는 headers 를 응답에 합친다.
// handler 가 이미 설정한 header 는 (이름 대소문자 무시) 덮어쓰지 않는다.
func AddConstantHeaders(headers map[string]string) Filter {
	return func(ctx context.Context, fc *Context) (bool, error) {
		if fc.Result == nil || len(headers) == 0 {
			zerolog.Ctx(ctx).Warn().Msg("could not add headers, result or headers missing")
			return true, nil
		}
		mergeHeaders(fc, headers)
		return true, nil
	}
}

// AddRequestIDHeader
//
// Lambda request id 를 name header 로 붙인다.
// name 은 "X-" 로 시작해야 하며, 아니면 경고만 남기고 통과한다.
// request id 가 없으면 "Request-Id-Missing".
func AddRequestIDHeader(name string) Filter {
	return func(ctx context.Context, fc *Context) (bool, error) {
		h := strings.TrimSpace(name)
		if fc.Result == nil || h == "" || !strings.HasPrefix(h, "X-") {
			zerolog.Ctx(ctx).Warn().Str("header", name).Msg("could not add request id header")
			return true, nil
		}
		id := fc.RequestID()
		if id == "" {
			id = MissingRequestID
		}
		mergeHeaders(fc, map[string]string{h: id})
		return true, nil
	}
}

// AddAllowEverythingCORSHeaders 는 모든 origin / method / header 를 허용한다.
func AddAllowEverythingCORSHeaders(ctx context.Context, fc *Context) (bool, error) {
	return AddConstantHeaders(map[string]string{
		"Access-Control-Allow-Origin":  "*",
		"Access-Control-Allow-Methods": "*",
		"Access-Control-Allow-Headers": "*",
	})(ctx, fc)
}

// AddAllowReflectionCORSHeaders
//
// wildcard 대신 요청의 값을 그대로 되돌려준다.
//
//	Origin                         → Access-Control-Allow-Origin
//	Access-Control-Request-Method  → Access-Control-Allow-Methods
//	Access-Control-Request-Headers → Access-Control-Allow-Headers
//
// 요청에 값이 없으면 "*".
func AddAllowReflectionCORSHeaders(ctx context.Context, fc *Context) (bool, error) {
	reflect := func(name string) string {
		if fc.Event == nil {
			return "*"
		}
		if v := fc.Event.Header(name); v != "" {
			return v
		}
		return "*"
	}
	return AddConstantHeaders(map[string]string{
		"Access-Control-Allow-Origin":  reflect("Origin"),
		"Access-Control-Allow-Methods": reflect("Access-Control-Request-Method"),
		"Access-Control-Allow-Headers": reflect("Access-Control-Request-Headers"),
	})(ctx, fc)
}

// ApplyGzipIfPossible
//
// Accept-Encoding 이 gzip 을 허용하면 응답 body 를 gzip + base64 로 바꾸고
// Content-Encoding: gzip 을 붙인다.
// body 가 비어 있거나 이미 Content-Encoding 이 있으면 그대로 둔다.
func ApplyGzipIfPossible(ctx context.Context, fc *Context) (bool, error) {
	res := fc.Result
	if res == nil || fc.Event == nil || res.Body == "" {
		return true, nil
	}
	if !acceptsGzip(fc.Event.Header("Accept-Encoding")) {
		return true, nil
	}
	if _, ok := event.LookupHeader(res.Headers, "Content-Encoding"); ok {
		return true, nil
	}

	plain := []byte(res.Body)
	if res.IsBase64Encoded {
		b, err := base64.StdEncoding.DecodeString(res.Body)
		if err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("response flagged base64 but not decodable, skipping gzip")
			return true, nil
		}
		plain = b
	}

	z, err := pool.Gzip(plain)
	if err != nil {
		return false, err
	}

	res.Body = base64.StdEncoding.EncodeToString(z)
	res.IsBase64Encoded = true
	if res.Headers == nil {
		res.Headers = map[string]string{}
	}
	res.Headers["Content-Encoding"] = "gzip"

	zerolog.Ctx(ctx).Debug().Int("plain", len(plain)).Int("gzipped", len(z)).Msg("applied gzip")
	return true, nil
}

// acceptsGzip 은 "gzip, deflate;q=0.5" 같은 값에서 gzip(또는 *) 허용 여부를 본다.
// q=0 은 거부로 해석한다.
func acceptsGzip(header string) bool {
	for _, part := range strings.Split(header, ",") {
		name, params, _ := strings.Cut(part, ";")
		name = strings.ToLower(strings.TrimSpace(name))
		if name != "gzip" && name != "*" {
			continue
		}
		q := strings.ReplaceAll(strings.ToLower(params), " ", "")
		if q == "q=0" || q == "q=0.0" || q == "q=0.00" || q == "q=0.000" {
			return false
		}
		return true
	}
	return false
}

// CheckMaximumBodySize 는 응답 body 가 httperr.MaxResponseBodyBytes 를 넘으면
// 초과 바이트 수를 담은 PayloadTooLarge 로 실패한다.
func CheckMaximumBodySize(_ context.Context, fc *Context) (bool, error) {
	if fc.Result == nil {
		return true, nil
	}
	size := len(fc.Result.Body)
	if size > httperr.MaxResponseBodyBytes {
		return false, &httperr.PayloadTooLarge{
			Size:    size,
			Limit:   httperr.MaxResponseBodyBytes,
			Overage: size - httperr.MaxResponseBodyBytes,
		}
	}
	return true, nil
}

func mergeHeaders(fc *Context, add map[string]string) {
	if fc.Result.Headers == nil {
		fc.Result.Headers = make(map[string]string, len(add))
	}
	for k, v := range add {
		if _, exists := event.LookupHeader(fc.Result.Headers, k); exists {
			continue
		}
		fc.Result.Headers[k] = v
	}
}

// ------------------------------------------------------------
// 기본 목록
// ------------------------------------------------------------

func DefaultPreFilters() []Filter {
	return []Filter{
		EnsureEventMaps,
		ParseBody,
		FixStillEncodedQueryParams,
		DisallowStringNullAsPathParameter,
		DisallowStringNullAsQueryStringParameter,
	}
}

func DefaultPostFilters() []Filter {
	return []Filter{
		AddRequestIDHeader(DefaultRequestIDHeader),
		AddAllowReflectionCORSHeaders,
		ApplyGzipIfPossible,
		CheckMaximumBodySize,
	}
}

func DefaultErrorFilters() []Filter {
	return []Filter{
		AddRequestIDHeader(DefaultRequestIDHeader),
		AddAllowReflectionCORSHeaders,
	}
}
