// internal/queue/aws.go
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lambda-dispatch/internal/metrics"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// SQSAPI 는 background 큐에 필요한 SQS client 의 부분집합.
type SQSAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, opts ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, opts ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, opts ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SNSAPI 는 fire-immediate / drain 신호 발행에 필요한 SNS client 의 부분집합.
type SNSAPI interface {
	Publish(ctx context.Context, in *sns.PublishInput, opts ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// ErrNotConfigured 는 필요한 큐 / topic 설정이 비어 있을 때 돌려준다.
var ErrNotConfigured = errors.New("queue: not configured")

// AWSConfig 는 AWSQueue 설정.
type AWSConfig struct {
	QueueURL string
	TopicARN string

	// Threshold 바이트를 넘는 task 는 Offloader 로 S3 에 올린다.
	// 0 이하면 offload 하지 않는다.
	Threshold int
}

// AWSQueue
//
// SQS + SNS 기반 Queue 구현.
//
//	Enqueue       → SQS SendMessage(envelope) → SNS Publish(drain)
//	FireImmediate → SNS Publish(envelope)
//
// Lambda 는 SQS 메시지를 직접 받지 않는다. drain 신호가 SNS 로 같은 함수를 깨우면
// background handler 가 Receive / Delete 로 큐를 비운다.
// 큰 payload 는 S3 에 offload 하고 envelope 에는 Pointer 만 싣는다.
type AWSQueue struct {
	cfg       AWSConfig
	sqs       SQSAPI
	sns       SNSAPI
	offloader *Offloader
	metrics   *metrics.Metrics
}

// NewAWSQueue 는 client 들을 묶어서 AWSQueue 를 만든다. offloader 는 nil 이어도 된다.
func NewAWSQueue(cfg AWSConfig, sqsClient SQSAPI, snsClient SNSAPI, off *Offloader, m *metrics.Metrics) *AWSQueue {
	return &AWSQueue{cfg: cfg, sqs: sqsClient, sns: snsClient, offloader: off, metrics: m}
}

// Enqueue 는 task 를 SQS 에 넣고 drain 신호를 발행한다.
func (q *AWSQueue) Enqueue(ctx context.Context, t Task) error {
	if q.cfg.QueueURL == "" || q.sqs == nil {
		return fmt.Errorf("%w: QUEUE_URL", ErrNotConfigured)
	}

	body, err := q.wrap(ctx, t)
	if err != nil {
		q.metrics.QueueSendFailed("enqueue")
		return err
	}

	if _, err := q.sqs.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.cfg.QueueURL),
		MessageBody: aws.String(body),
	}); err != nil {
		q.metrics.QueueSendFailed("enqueue")
		return fmt.Errorf("sqs send %s: %w", t.Type, err)
	}
	zerolog.Ctx(ctx).Debug().Str("task", t.Type).Msg("task enqueued")

	if q.cfg.TopicARN != "" && q.sns != nil {
		q.signal(ctx, Envelope{Drain: true})
	}
	return nil
}

// signal 은 drain 같은 신호 envelope 를 SNS 로 발행한다.
// 실패는 치명적이지 않다. 메시지는 이미 큐에 있고 다음 신호 때 처리된다.
// 인코딩에 실패하면 빈 메시지를 보내지 않고 건너뛴다.
func (q *AWSQueue) signal(ctx context.Context, env Envelope) {
	msg, err := encodeEnvelope(env)
	if err != nil {
		q.metrics.QueueSendFailed("drain")
		zerolog.Ctx(ctx).Warn().Err(err).Msg("drain signal encode failed, skipping publish")
		return
	}
	if _, err := q.sns.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(q.cfg.TopicARN),
		Message:  aws.String(msg),
	}); err != nil {
		q.metrics.QueueSendFailed("drain")
		zerolog.Ctx(ctx).Warn().Err(err).Msg("drain signal publish failed")
	}
}

// FireImmediate 는 큐를 거치지 않고 SNS 로 task 를 바로 발행한다.
func (q *AWSQueue) FireImmediate(ctx context.Context, t Task) error {
	if q.cfg.TopicARN == "" || q.sns == nil {
		return fmt.Errorf("%w: FIRE_IMMEDIATE_TOPIC_ARN", ErrNotConfigured)
	}

	body, err := q.wrap(ctx, t)
	if err != nil {
		q.metrics.QueueSendFailed("fire_immediate")
		return err
	}

	if _, err := q.sns.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(q.cfg.TopicARN),
		Message:  aws.String(body),
	}); err != nil {
		q.metrics.QueueSendFailed("fire_immediate")
		return fmt.Errorf("sns publish %s: %w", t.Type, err)
	}
	zerolog.Ctx(ctx).Debug().Str("task", t.Type).Msg("task fired")
	return nil
}

// wrap 은 task 를 envelope 문자열로 만든다. threshold 를 넘으면 offload 한다.
func (q *AWSQueue) wrap(ctx context.Context, t Task) (string, error) {
	raw, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("encode task %s: %w", t.Type, err)
	}

	if q.cfg.Threshold > 0 && len(raw) > q.cfg.Threshold {
		if q.offloader == nil {
			return "", fmt.Errorf("task %s is %d bytes (limit %d) and no offload bucket is configured", t.Type, len(raw), q.cfg.Threshold)
		}
		p, err := q.offloader.Store(ctx, t)
		if err != nil {
			return "", err
		}
		return encodeEnvelope(Envelope{Offloaded: p})
	}
	return encodeEnvelope(Envelope{Task: &t})
}

// Resolve 는 envelope 에서 task 를 꺼낸다. offload 된 경우 S3 에서 읽어 온다.
func (q *AWSQueue) Resolve(ctx context.Context, env Envelope) (Task, error) {
	switch {
	case env.Task != nil:
		return *env.Task, nil
	case env.Offloaded != nil:
		if q.offloader == nil {
			return Task{}, fmt.Errorf("%w: offload bucket", ErrNotConfigured)
		}
		return q.offloader.Fetch(ctx, env.Offloaded)
	default:
		return Task{}, errors.New("queue: envelope carries no task")
	}
}

// Message 는 SQS 에서 받은 메시지 한 건.
type Message struct {
	Envelope      Envelope
	ReceiptHandle string
}

// Receive 는 SQS 에서 최대 limit 건(1..10)을 받는다.
// envelope 가 아닌 메시지는 경고만 남기고 건너뛴다 (삭제하지 않는다).
func (q *AWSQueue) Receive(ctx context.Context, limit int32, wait time.Duration) ([]Message, error) {
	if q.cfg.QueueURL == "" || q.sqs == nil {
		return nil, fmt.Errorf("%w: QUEUE_URL", ErrNotConfigured)
	}
	limit = min(max(limit, 1), 10)

	out, err := q.sqs.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.cfg.QueueURL),
		MaxNumberOfMessages: limit,
		WaitTimeSeconds:     int32(wait / time.Second),
	})
	if err != nil {
		return nil, fmt.Errorf("sqs receive: %w", err)
	}

	msgs := make([]Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		env, ok := ParseEnvelope(aws.ToString(m.Body))
		if !ok {
			zerolog.Ctx(ctx).Warn().Str("message_id", aws.ToString(m.MessageId)).Msg("skipping foreign sqs message")
			continue
		}
		msgs = append(msgs, Message{Envelope: env, ReceiptHandle: aws.ToString(m.ReceiptHandle)})
	}
	return msgs, nil
}

// Delete 는 처리가 끝난 메시지를 큐에서 지운다.
func (q *AWSQueue) Delete(ctx context.Context, receiptHandle string) error {
	_, err := q.sqs.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.cfg.QueueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("sqs delete: %w", err)
	}
	return nil
}

// 컴파일 타임 확인.
var _ Queue = (*AWSQueue)(nil)
