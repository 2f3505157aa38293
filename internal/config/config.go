// internal/config/config.go
package config

import (
	"crypto/rand"
	"encoding/hex"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config
//
// Lambda 프로세스가 cold start 시점에 한 번 읽어 들이는 환경 변수 설정.
// Load() 이후에는 변경되지 않는 read-only 값이며,
// 여러 invocation 이 동시에 읽어도 안전하다.
type Config struct {

	// ---------------------------
	// 서비스 식별 / 로깅
	// ---------------------------

	ServiceName string // 로그 service 필드 (예: lambda-dispatch)
	InstanceID  string // 실행 환경 식별자 (호스트명 기반, 실패 시 랜덤 hex)

	LogLevel   string // 기본 로그 레벨 (trace|debug|info|warn|error)
	LogPretty  bool   // true 면 ConsoleWriter, false 면 JSON (CloudWatch)
	LogSampleN uint32 // Debug/Info 샘플링 (N 개 중 1 개만 기록, 0/1 이면 전부)

	// 트랜잭션 단위 로그 레벨 / trace prefix 를 요청에서 받아오는 파라미터 이름.
	// 비어 있으면 해당 기능은 꺼진다.
	LogLevelQueryParam string
	LogTraceQueryParam string
	LogLevelEnvParam   string

	// ---------------------------
	// AWS 기본 환경
	// ---------------------------

	AWSRegion string

	// ---------------------------
	// 스케줄 (EventBridge cron)
	// ---------------------------

	Timezone     string // 전역 스케줄 timezone (IANA, 예: Asia/Seoul)
	ScheduleFile string // YAML 스케줄 정의 파일 경로 (선택)

	// ---------------------------
	// 카테고리별 비활성화 스위치
	// ---------------------------

	Disabled Disabled

	// ---------------------------
	// 토큰 (JWT)
	// ---------------------------

	TokenSigningKey    string // HS256 서명 키 (필수)
	TokenEncryptionKey string // 32 바이트 hex. 설정 시 토큰을 JWE 로 한 번 더 감싼다
	TokenIssuer        string

	// ---------------------------
	// 백그라운드 큐 (SQS / SNS / S3 offload)
	// ---------------------------

	QueueURL              string
	FireImmediateTopicARN string
	OffloadBucket         string
	OffloadPrefix         string
	OffloadThreshold      int // 이 크기(바이트)를 넘는 task payload 는 S3 로 offload

	// S3 업로드 재시도 정책
	// SDK retry 는 0 으로 고정하고 애플리케이션 레벨(S3AppRetries)만 사용한다.
	S3Timeout    time.Duration
	S3AppRetries int

	// ---------------------------
	// invocation 시간 예산
	// ---------------------------

	// Lambda deadline 에서 이 만큼을 빼고 handler 를 기다린다.
	// 남은 시간 안에 응답을 직렬화해서 돌려줄 여유를 확보하기 위함.
	TimeoutMargin time.Duration

	// ---------------------------
	// 로컬 개발 서버
	// ---------------------------

	HTTPAddr        string
	LocalRatePerSec float64
}

// Disabled
//
// 멀티 목적 배포에서 특정 이벤트 카테고리를 운영 중에 끄기 위한 스위치.
// 꺼진 카테고리의 이벤트는 로그만 남기고 neutral 결과(false)를 반환한다.
type Disabled struct {
	HTTP       bool
	SNS        bool
	S3         bool
	Cron       bool
	DynamoDB   bool
	Background bool
}

// Load
//
// 환경 변수 기반으로 Config 값을 초기화한다.
// 필수 env 가 비어 있으면 즉시 프로세스를 종료(fail-fast)한다.
// Lambda 에서는 init 실패가 곧 cold start 실패로 드러나므로
// 잘못된 배포를 가장 빨리 발견할 수 있다.
func Load() Config {
	return Config{
		ServiceName: opt("SERVICE_NAME", "lambda-dispatch"),
		InstanceID:  fallbackInstanceID(),

		LogLevel:   opt("LOG_LEVEL", "info"),
		LogPretty:  optBool("LOG_PRETTY", false),
		LogSampleN: uint32(optInt("LOG_SAMPLE_N", 0)),

		LogLevelQueryParam: opt("LOG_LEVEL_QUERY_PARAM", ""),
		LogTraceQueryParam: opt("LOG_TRACE_QUERY_PARAM", ""),
		LogLevelEnvParam:   opt("LOG_LEVEL_ENV_PARAM", ""),

		AWSRegion: opt("AWS_REGION", "ap-northeast-2"),

		Timezone:     opt("CRON_TIMEZONE", ""),
		ScheduleFile: opt("SCHEDULE_FILE", ""),

		Disabled: Disabled{
			HTTP:       optBool("DISABLE_HTTP", false),
			SNS:        optBool("DISABLE_SNS", false),
			S3:         optBool("DISABLE_S3", false),
			Cron:       optBool("DISABLE_CRON", false),
			DynamoDB:   optBool("DISABLE_DYNAMODB", false),
			Background: optBool("DISABLE_BACKGROUND", false),
		},

		TokenSigningKey:    must("TOKEN_SIGNING_KEY"),
		TokenEncryptionKey: opt("TOKEN_ENCRYPTION_KEY", ""),
		TokenIssuer:        opt("TOKEN_ISSUER", "lambda-dispatch"),

		QueueURL:              opt("QUEUE_URL", ""),
		FireImmediateTopicARN: opt("FIRE_IMMEDIATE_TOPIC_ARN", ""),
		OffloadBucket:         opt("OFFLOAD_BUCKET", ""),
		OffloadPrefix:         opt("OFFLOAD_PREFIX", "background"),
		OffloadThreshold:      optInt("OFFLOAD_THRESHOLD_BYTES", 200*1024),

		S3Timeout:    optDur("S3_TIMEOUT", 5*time.Second),
		S3AppRetries: optInt("S3_APP_RETRIES", 3),

		TimeoutMargin: optDur("TIMEOUT_MARGIN", 500*time.Millisecond),

		HTTPAddr:        opt("HTTP_ADDR", ":8080"),
		LocalRatePerSec: optFloat("LOCAL_RATE_PER_SEC", 50),
	}
}

// must
//
// 필수 환경변수가 없으면 즉시 로그 출력 후 종료(fail-fast).
func must(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("missing required env: %s", key)
	}
	return v
}

// opt / optInt / optFloat / optBool / optDur
//
// 선택 환경변수. 비어 있으면 default 를 쓰고,
// 값은 있는데 형식이 틀리면 must 계열과 동일하게 fail-fast.
func opt(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func optInt(key string, def int) int {
	v := opt(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Fatalf("invalid int env %s=%q: %v", key, v, err)
	}
	return n
}

func optFloat(key string, def float64) float64 {
	v := opt(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Fatalf("invalid float env %s=%q: %v", key, v, err)
	}
	return f
}

func optBool(key string, def bool) bool {
	v := opt(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Fatalf("invalid bool env %s=%q: %v", key, v, err)
	}
	return b
}

func optDur(key string, def time.Duration) time.Duration {
	v := opt(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Fatalf("invalid duration env %s=%q: %v", key, v, err)
	}
	return d
}

// fallbackInstanceID
//
// 실행 환경 식별 값.
//   - 기본: hostname (Lambda 에서는 sandbox 별로 고유)
//   - fallback: 12자리 랜덤 hex
func fallbackInstanceID() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	var b [6]byte
	if _, err := rand.Read(b[:]); err == nil {
		return hex.EncodeToString(b[:])
	}
	return strconv.FormatInt(time.Now().UnixNano(), 10)
}
