// internal/queue/queue.go
package queue

import (
	"context"
	"time"
)

// Task
//
// 비동기로 처리될 background 작업 한 건.
// 큐(SQS) 메시지 body, fire-immediate SNS 메시지, 로컬 큐 모두 같은 모양을 쓴다.
//
// Created 는 epoch millisecond.
type Task struct {
	Type     string         `json:"type"`
	Created  int64          `json:"created"`
	Data     any            `json:"data"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// NewTask 는 now 시각으로 Task 를 만든다. data 가 nil 이면 빈 객체.
func NewTask(taskType string, data any, metadata map[string]any, now time.Time) Task {
	if data == nil {
		data = map[string]any{}
	}
	return Task{
		Type:     taskType,
		Created:  now.UnixMilli(),
		Data:     data,
		Metadata: metadata,
	}
}

// Queue
//
// background 작업 제출 계약.
//   - Enqueue: 큐에 넣고 나중에 worker 가 처리
//   - FireImmediate: 큐를 거치지 않고 즉시 처리 요청 (out-of-band)
type Queue interface {
	Enqueue(ctx context.Context, t Task) error
	FireImmediate(ctx context.Context, t Task) error
}
