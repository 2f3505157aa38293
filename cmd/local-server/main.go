package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"lambda-dispatch/internal/app"
	"lambda-dispatch/internal/config"
	"lambda-dispatch/internal/logger"
	"lambda-dispatch/internal/metrics"
	"lambda-dispatch/internal/queue"
	"lambda-dispatch/internal/server"

	zlog "github.com/rs/zerolog/log"
)

func main() {

	// ====================================================================
	// CPU 설정
	// ====================================================================
	//
	// Lambda 는 메모리 설정에 비례해 vCPU 를 나눠 준다 (1,769MB 당 1 vCPU).
	// 로컬에서도 같은 조건으로 돌려 보려면 GOMAXPROCS 를 맞춘다.
	// 지정하지 않으면 1.
	// ====================================================================
	if v := os.Getenv("GOMAXPROCS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			runtime.GOMAXPROCS(n)
		}
	} else {
		runtime.GOMAXPROCS(1)
	}

	// ====================================================================
	// Config & Logger & Metrics
	// ====================================================================
	cfg := config.Load()
	logger.Init(cfg)
	m := metrics.New()

	// ====================================================================
	// App + 로컬 큐
	// ====================================================================
	//
	// 로컬에서는 SQS / SNS 대신 in-process 큐를 쓴다.
	// Enqueue 는 worker goroutine 이, FireImmediate 는 호출한 goroutine 이
	// background handler 를 바로 실행한다.
	// ====================================================================
	a, err := app.New(cfg, m)
	if err != nil {
		fatalConfig(err)
	}

	lq := queue.NewLocalQueue(a.Background.Sink(), 256)
	lq.Start()

	d, err := a.Dispatcher(lq)
	if err != nil {
		fatalConfig(err)
	}

	// ====================================================================
	// HTTP 서버
	// ====================================================================
	//
	// 엔드포인트:
	//  - /health  : 프로세스 생존 확인
	//  - /metrics : Prometheus 지표
	//  - /events  : raw Lambda 이벤트(SNS, S3, cron ...) 주입
	//  - 그 외    : API Gateway proxy 이벤트로 변환 후 dispatch
	// ====================================================================
	h := server.NewHandler(d, m, server.Options{
		RatePerSec:        cfg.LocalRatePerSec,
		InvocationTimeout: 30 * time.Second,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           h.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       35 * time.Second,
		WriteTimeout:      35 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// ====================================================================
	// Graceful Shutdown
	// ====================================================================
	//
	// SIGTERM / SIGINT 수신 시:
	//   1. HTTP 서버를 먼저 멈춰 새 요청을 받지 않고
	//   2. 로컬 큐에 남은 task 를 모두 처리한 뒤 종료한다
	// ====================================================================
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

		sig := <-sigCh
		zlog.Info().Str("signal", sig.String()).Msg("shutdown signal received")

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		if err := srv.Shutdown(ctx); err != nil {
			zlog.Error().Err(err).Msg("http shutdown")
		}
		cancel()

		zlog.Info().Msg("draining local queue...")
		lq.Shutdown()
	}()

	zlog.Info().Str("addr", cfg.HTTPAddr).Msg("local server listening")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		zlog.Fatal().Err(err).Msg("http server terminated")
	}

	// 이미 종료되어 있어도 다시 호출해도 안전하다.
	lq.Shutdown()
	zlog.Info().Msg("shutdown complete")
}

func fatalConfig(err error) {
	var ce *config.Error
	if errors.As(err, &ce) {
		zlog.Fatal().Str("field", ce.Field).Str("reason", ce.Reason).Msg("invalid configuration")
	}
	zlog.Fatal().Err(err).Msg("startup failed")
}
