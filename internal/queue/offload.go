// internal/queue/offload.go
package queue

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"lambda-dispatch/internal/metrics"
	"lambda-dispatch/internal/pool"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// S3API 는 offload 에 필요한 S3 client 의 부분집합.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// OffloadConfig 는 Offloader 설정.
type OffloadConfig struct {
	Bucket     string
	Prefix     string
	InstanceID string

	// 1 회 시도당 timeout. 0 이면 5 초.
	Timeout time.Duration

	// 애플리케이션 레벨 재시도 횟수. SDK 재시도는 0 으로 두고 이것만 쓴다.
	Retries int
}

// Offloader
//
// SQS(256KB) / SNS(256KB) 메시지 한도를 넘는 task 를 S3 에 gzip JSON 으로 올리고,
// 메시지에는 위치(Pointer)만 싣는다. 처리하는 쪽은 Fetch 로 다시 꺼낸다.
//
// 모든 S3 호출은 ctx 기반(timeout + cancel-safe)이며
// PutObject 는 exponential backoff 재시도를 한다.
type Offloader struct {
	cfg     OffloadConfig
	client  S3API
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewOffloader(client S3API, cfg OffloadConfig, m *metrics.Metrics) *Offloader {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 1
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "background"
	}
	return &Offloader{cfg: cfg, client: client, metrics: m, now: time.Now}
}

// Store 는 task 를 gzip JSON 으로 S3 에 올리고 위치를 돌려준다.
func (o *Offloader) Store(ctx context.Context, t Task) (*Pointer, error) {
	body, err := pool.GzipJSON(t)
	if err != nil {
		return nil, fmt.Errorf("offload encode: %w", err)
	}

	now := o.now()
	key := buildKey(o.cfg.Prefix, newFilename(o.cfg.InstanceID, now), now)

	if err := o.putWithRetry(ctx, key, body); err != nil {
		return nil, fmt.Errorf("offload put s3://%s/%s: %w", o.cfg.Bucket, key, err)
	}
	o.metrics.Offloaded(len(body))

	zerolog.Ctx(ctx).Debug().Str("key", key).Int("bytes", len(body)).Msg("task offloaded to s3")
	return &Pointer{Bucket: o.cfg.Bucket, Key: key, Bytes: len(body)}, nil
}

// Fetch 는 Pointer 가 가리키는 task 를 읽어 온다.
func (o *Offloader) Fetch(ctx context.Context, p *Pointer) (Task, error) {
	ctx2, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	out, err := o.client.GetObject(ctx2, &s3.GetObjectInput{
		Bucket: aws.String(p.Bucket),
		Key:    aws.String(p.Key),
	})
	if err != nil {
		return Task{}, fmt.Errorf("offload get s3://%s/%s: %w", p.Bucket, p.Key, err)
	}
	defer out.Body.Close()

	z, err := io.ReadAll(out.Body)
	if err != nil {
		return Task{}, fmt.Errorf("offload read: %w", err)
	}
	raw, err := pool.Gunzip(z)
	if err != nil {
		return Task{}, err
	}

	var t Task
	if err := json.Unmarshal(raw, &t); err != nil {
		return Task{}, fmt.Errorf("offload decode: %w", err)
	}
	return t, nil
}

// putWithRetry
// -----------------------
// 메모리에 있는 gzip 바이트를 S3 로 올린다.
//   - 각 시도는 cfg.Timeout
//   - 200ms 부터 두 배씩, 최대 2 초 backoff
//   - ctx.Done() 이면 즉시 중단
//
// body 는 시도마다 reader 를 새로 만든다.
func (o *Offloader) putWithRetry(ctx context.Context, key string, body []byte) error {
	var lastErr error
	backoff := 200 * time.Millisecond

	for attempt := 1; attempt <= o.cfg.Retries; attempt++ {

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := o.putObject(ctx, key, bytes.NewReader(body), int64(len(body)))
		if err == nil {
			return nil
		}
		lastErr = err
		o.metrics.OffloadPutFailed()
		zerolog.Ctx(ctx).Warn().Err(err).Int("attempt", attempt).Str("key", key).Msg("offload put failed")

		if attempt == o.cfg.Retries {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
			if backoff > 2*time.Second {
				backoff = 2 * time.Second
			}
		}
	}
	return lastErr
}

// putObject 는 PutObject 1 회 호출. 재시도는 caller 가 한다.
func (o *Offloader) putObject(ctx context.Context, key string, body io.Reader, size int64) error {
	ctx2, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	_, err := o.client.PutObject(ctx2, &s3.PutObjectInput{
		Bucket:          aws.String(o.cfg.Bucket),
		Key:             aws.String(key),
		Body:            body,
		ContentLength:   aws.Int64(size),
		ContentType:     aws.String("application/json"),
		ContentEncoding: aws.String("gzip"),
	})
	return err
}
