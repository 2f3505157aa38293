// internal/logger/log.go
package logger

import (
	"io"
	"os"
	"strings"

	"lambda-dispatch/internal/config"

	stdlog "log"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

// Init
//
// cold start 시 한 번만 호출되는 로거 초기화 함수.
// Config 설정(환경변수)에 따라 '개발자용 화면' 또는 'CloudWatch 용 JSON'으로
// 출력 형태를 바꾼다.
//
// [주요 기능]
//
//  1. 로그 포맷 자동 전환:
//     - 로컬 (LOG_PRETTY=true): ConsoleWriter (가독성 위주)
//     - Lambda (LOG_PRETTY=false): JSON (CloudWatch Logs Insights 검색용)
//
//  2. 공통 필드 자동 추가:
//     - 모든 로그에 "service", "instance" 가 붙는다.
//
//  3. 로그 샘플링:
//     - Debug/Info 는 LOG_SAMPLE_N 에 따라 일부만 기록한다.
//     - Warn/Error 는 샘플링하지 않는다.
//
//  4. 레벨 제어는 전역 레벨(zerolog.SetGlobalLevel)로만 한다.
//     - base logger 자체는 Trace 로 열어 두고,
//       트랜잭션 단위로 Scope() 가 전역 레벨을 올리고/내린다.
func Init(cfg config.Config) {

	// -------------------------------------------------------------------
	// 1) 전역 레벨 결정
	// -------------------------------------------------------------------
	zerolog.SetGlobalLevel(ParseLevel(cfg.LogLevel, zerolog.InfoLevel))

	// -------------------------------------------------------------------
	// 2) 출력 방식 결정 (사람 vs 기계)
	// -------------------------------------------------------------------
	var w io.Writer
	if cfg.LogPretty {
		w = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		}
	} else {
		w = os.Stdout
	}

	// -------------------------------------------------------------------
	// 3) 기본 Logger 생성 (공통 태그 부착)
	// -------------------------------------------------------------------
	base := zerolog.New(w).
		With().
		Timestamp().
		Str("service", cfg.ServiceName).
		Str("instance", cfg.InstanceID).
		Logger().
		Hook(traceHook{})

	// -------------------------------------------------------------------
	// 4) 샘플링 설정
	// -------------------------------------------------------------------
	logger := base
	if cfg.LogSampleN > 1 {
		logger = base.Sample(&zerolog.LevelSampler{
			DebugSampler: &zerolog.BasicSampler{N: cfg.LogSampleN},
			InfoSampler:  &zerolog.BasicSampler{N: cfg.LogSampleN},
		})
	}

	// -------------------------------------------------------------------
	// 5) 전역 Logger 교체 + 표준 log 패키지 연결
	// -------------------------------------------------------------------
	zlog.Logger = logger
	zerolog.DefaultContextLogger = &zlog.Logger

	stdlog.SetFlags(0)
	stdlog.SetOutput(zlog.Logger)
}

// ParseLevel 은 대소문자/공백을 무시하고 레벨 이름을 해석한다.
// 해석할 수 없으면 def 를 돌려준다.
func ParseLevel(name string, def zerolog.Level) zerolog.Level {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return def
	}
	l, err := zerolog.ParseLevel(name)
	if err != nil {
		return def
	}
	return l
}

// traceHook 은 현재 트랜잭션의 trace prefix 가 있으면 "trace" 필드로 붙인다.
type traceHook struct{}

func (traceHook) Run(e *zerolog.Event, _ zerolog.Level, _ string) {
	if p := TracePrefix(); p != "" {
		e.Str("trace", p)
	}
}
