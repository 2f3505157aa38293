// internal/queue/clients.go
package queue

import (
	"context"
	"fmt"

	"lambda-dispatch/internal/config"
	"lambda-dispatch/internal/metrics"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsCfgLib "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// NewAWSQueueFromConfig
//
// cold start 시 AWS SDK 설정을 로드하고 SQS / SNS / S3 client 를 만들어
// AWSQueue 를 조립한다.
//
// S3 client 는 SDK 재시도를 끄고(NopRetryer) Offloader 의
// 애플리케이션 레벨 재시도만 쓴다. 둘이 겹치면 시도 횟수가 곱해진다.
//
// OffloadBucket 이 비어 있으면 offload 없이 동작하고,
// threshold 를 넘는 task 는 제출 시점에 에러가 된다.
func NewAWSQueueFromConfig(ctx context.Context, cfg config.Config, m *metrics.Metrics) (*AWSQueue, error) {
	awsCfg, err := awsCfgLib.LoadDefaultConfig(ctx, awsCfgLib.WithRegion(cfg.AWSRegion))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	var off *Offloader
	if cfg.OffloadBucket != "" {
		s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.Retryer = aws.NopRetryer{}
		})
		off = NewOffloader(s3Client, OffloadConfig{
			Bucket:     cfg.OffloadBucket,
			Prefix:     cfg.OffloadPrefix,
			InstanceID: cfg.InstanceID,
			Timeout:    cfg.S3Timeout,
			Retries:    cfg.S3AppRetries,
		}, m)
	}

	return NewAWSQueue(AWSConfig{
		QueueURL:  cfg.QueueURL,
		TopicARN:  cfg.FireImmediateTopicARN,
		Threshold: cfg.OffloadThreshold,
	}, sqs.NewFromConfig(awsCfg), sns.NewFromConfig(awsCfg), off, m), nil
}
