package logger

import (
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// ------------------------------------------------------------
// 트랜잭션 단위 로그 레벨 / trace prefix
//
// 한 invocation 동안만 전역 로그 레벨과 trace prefix 를 바꾸고 싶을 때 쓴다.
// Lambda sandbox 는 같은 프로세스로 다음 invocation 을 처리하므로
// 바꾼 값을 되돌리지 않으면 다음 요청의 로그 동작이 조용히 오염된다.
//
// 그래서 직접 전역 값을 쓰지 않고 항상 Scope() 로만 바꾸며,
// 반환된 restore 를 defer 로 호출한다.
//
//	restore := logger.Scope(zerolog.DebugLevel, "abc")
//	defer restore()
// ------------------------------------------------------------

var tracePrefix atomic.Value // string

// TracePrefix 는 현재 설정된 trace prefix 를 돌려준다.
func TracePrefix() string {
	v, _ := tracePrefix.Load().(string)
	return v
}

// Scope 는 현재 전역 레벨과 trace prefix 를 snapshot 한 뒤 새 값으로 바꾸고,
// snapshot 으로 되돌리는 restore 함수를 반환한다.
// restore 는 여러 번 호출해도 한 번만 동작한다.
func Scope(level zerolog.Level, trace string) (restore func()) {
	prevLevel := zerolog.GlobalLevel()
	prevTrace := TracePrefix()

	zerolog.SetGlobalLevel(level)
	tracePrefix.Store(trace)

	var once sync.Once
	return func() {
		once.Do(func() {
			zerolog.SetGlobalLevel(prevLevel)
			tracePrefix.Store(prevTrace)
		})
	}
}

// LevelParams
//
// 트랜잭션 레벨을 어디서 읽을지에 대한 설정.
// 비어 있는 항목은 무시한다.
type LevelParams struct {
	QueryParamLevel string // 예: "logLevel" → ?logLevel=debug
	QueryParamTrace string // 예: "tracePrefix" → ?tracePrefix=abc
	EnvParamLevel   string // 예: "TX_LOG_LEVEL"
}

// TransactionSettings 는 이번 invocation 에 적용할 레벨과 trace prefix 를 계산한다.
//
// 우선순위:
//  1. query parameter (HTTP 이벤트일 때만 query 가 non-nil)
//  2. env parameter
//  3. 현재 전역 레벨 (변경 없음)
func TransactionSettings(p LevelParams, query map[string]string) (zerolog.Level, string) {
	level := zerolog.GlobalLevel()

	if p.EnvParamLevel != "" {
		level = ParseLevel(os.Getenv(p.EnvParamLevel), level)
	}
	if p.QueryParamLevel != "" {
		if v, ok := lookupIgnoreCase(query, p.QueryParamLevel); ok {
			level = ParseLevel(v, level)
		}
	}

	trace := ""
	if p.QueryParamTrace != "" {
		if v, ok := lookupIgnoreCase(query, p.QueryParamTrace); ok {
			trace = strings.TrimSpace(v)
		}
	}
	return level, trace
}

func lookupIgnoreCase(m map[string]string, key string) (string, bool) {
	if v, ok := m[key]; ok {
		return v, true
	}
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return "", false
}
