package main

import (
	"context"
	"errors"

	"lambda-dispatch/internal/app"
	"lambda-dispatch/internal/background"
	"lambda-dispatch/internal/config"
	"lambda-dispatch/internal/logger"
	"lambda-dispatch/internal/metrics"
	"lambda-dispatch/internal/queue"

	"github.com/aws/aws-lambda-go/lambda"
	zlog "github.com/rs/zerolog/log"
)

func main() {

	// ====================================================================
	// Config & Logger
	// ====================================================================
	//
	// cold start 에서 한 번만 실행된다.
	// 필수 env 가 없으면 config.Load 가 바로 종료한다 (fail-fast).
	// Lambda 에서는 init 실패가 곧 배포 실패로 드러나므로
	// 잘못된 설정이 트래픽을 받기 전에 발견된다.
	// ====================================================================
	cfg := config.Load()
	logger.Init(cfg)

	// Lambda 에는 scrape 할 곳이 없으므로 지표는 프로세스 안에서만 쌓인다.
	// 로컬 서버와 같은 코드 경로를 쓰기 위해 그대로 만든다.
	m := metrics.New()

	// ====================================================================
	// AWS Queue (SQS enqueue + SNS fire-immediate/drain + S3 offload)
	// ====================================================================
	q, err := queue.NewAWSQueueFromConfig(context.Background(), cfg, m)
	if err != nil {
		zlog.Fatal().Err(err).Msg("aws queue init failed")
	}

	// ====================================================================
	// App 조립
	// ====================================================================
	//
	// background handler 는 같은 AWSQueue 를 Source 로 써서
	// drain 신호를 받으면 SQS 를 비우고, offload 된 task 는 S3 에서 읽는다.
	// ====================================================================
	a, err := app.New(cfg, m, background.WithSource(q))
	if err != nil {
		fatalConfig(err)
	}

	d, err := a.Dispatcher(q)
	if err != nil {
		fatalConfig(err)
	}

	zlog.Info().
		Strs("background_types", a.Background.Types()).
		Msg("lambda dispatcher ready")

	lambda.Start(d.Handle)
}

func fatalConfig(err error) {
	var ce *config.Error
	if errors.As(err, &ce) {
		zlog.Fatal().Str("field", ce.Field).Str("reason", ce.Reason).Msg("invalid configuration")
	}
	zlog.Fatal().Err(err).Msg("startup failed")
}
