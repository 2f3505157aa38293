package config

import "fmt"

// Error
//
// 설정 로드 시점에 발견되는 치명적인 설정 오류.
// 런타임(invocation) 에러가 아니라 startup 에러이므로
// 호출자는 이 에러를 받으면 프로세스를 띄우지 말아야 한다.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

// Errorf 는 Field 와 포맷된 Reason 으로 *Error 를 만든다.
func Errorf(field, format string, args ...any) *Error {
	return &Error{Field: field, Reason: fmt.Sprintf(format, args...)}
}
