// Package httperr 는 상태 코드를 가진 HTTP 실패 타입을 정의한다.
//
// filter 나 route handler 가 이 타입을 반환하면 체인은 중단되고
// 응답 상태 코드는 이 에러가 정한다. 그 외의 에러는 모두 500 이다.
package httperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Error 는 상태 코드를 지닌 HTTP 실패.
type Error struct {
	StatusCode int
	Messages   []string
	Details    any
}

func (e *Error) Error() string {
	if len(e.Messages) == 0 {
		return http.StatusText(e.StatusCode)
	}
	return strings.Join(e.Messages, ", ")
}

// HTTPStatusCode 는 StatusOf 가 읽어 가는 상태 코드.
func (e *Error) HTTPStatusCode() int { return e.StatusCode }

// WithDetails 는 응답 body 에 함께 실을 부가 정보를 붙인다.
func (e *Error) WithDetails(d any) *Error {
	e.Details = d
	return e
}

// New 는 임의 상태 코드의 Error 를 만든다.
func New(status int, format string, args ...any) *Error {
	return &Error{StatusCode: status, Messages: []string{fmt.Sprintf(format, args...)}}
}

func BadRequest(format string, args ...any) *Error {
	return New(http.StatusBadRequest, format, args...)
}

func Unauthorized(format string, args ...any) *Error {
	return New(http.StatusUnauthorized, format, args...)
}

func Forbidden(format string, args ...any) *Error {
	return New(http.StatusForbidden, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return New(http.StatusNotFound, format, args...)
}

func MethodNotAllowed(format string, args ...any) *Error {
	return New(http.StatusMethodNotAllowed, format, args...)
}

func Conflict(format string, args ...any) *Error {
	return New(http.StatusConflict, format, args...)
}

func TooManyRequests(format string, args ...any) *Error {
	return New(http.StatusTooManyRequests, format, args...)
}

// RequestTimeout 은 invocation 시간 예산을 넘긴 경우. 클라이언트 잘못이 아니므로 500.
func RequestTimeout(format string, args ...any) *Error {
	return New(http.StatusInternalServerError, format, args...)
}

// Misconfigured 는 서버 설정 문제로 요청을 처리할 수 없는 경우.
func Misconfigured(format string, args ...any) *Error {
	return New(http.StatusInternalServerError, format, args...)
}

// MaxResponseBodyBytes 는 Lambda 응답 한도(6MB)보다 보수적으로 잡은 body 한도.
// 5MiB 에서 100KiB 를 여유분으로 뺀 값.
const MaxResponseBodyBytes = 1024*1024*5 - 1024*100

// PayloadTooLarge 는 응답 body 가 한도를 넘은 경우. 서버 측 문제이므로 500.
type PayloadTooLarge struct {
	Size    int
	Limit   int
	Overage int
}

func (e *PayloadTooLarge) Error() string {
	return fmt.Sprintf("Response size is %d bytes, which is %d bytes too large for this handler", e.Size, e.Overage)
}

func (e *PayloadTooLarge) HTTPStatusCode() int { return http.StatusInternalServerError }

// StatusOf
//
// 에러 체인에서 HTTPStatusCode() 를 가진 첫 에러의 상태 코드를 돌려준다.
// 없으면 500.
func StatusOf(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var sc interface{ HTTPStatusCode() int }
	if errors.As(err, &sc) {
		if code := sc.HTTPStatusCode(); code > 0 {
			return code
		}
	}
	return http.StatusInternalServerError
}

// IsTyped 는 err 가 상태 코드를 스스로 정하는 에러인지 알려 준다.
func IsTyped(err error) bool {
	var sc interface{ HTTPStatusCode() int }
	return errors.As(err, &sc)
}
