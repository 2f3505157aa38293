package queue

import (
	json "github.com/goccy/go-json"
)

// EnvelopeKind 는 이 모듈이 보낸 background 메시지를 알아보기 위한 표식.
// SNS 알림 중 Message 가 이 kind 를 가진 envelope 이면
// SNS handler registry 보다 background 처리가 먼저다.
const EnvelopeKind = "lambda-dispatch/background"

// Envelope
//
// SQS / SNS 로 실제 전송되는 메시지 body.
// 셋 중 하나만 채워진다.
//   - Task: task 본문이 그대로 들어 있음
//   - Offloaded: 본문이 커서 S3 에 있고 위치만 들어 있음
//   - Drain: "큐를 비워라" 는 신호 (Enqueue 직후 worker 를 깨운다)
type Envelope struct {
	Kind      string   `json:"kind"`
	Task      *Task    `json:"task,omitempty"`
	Offloaded *Pointer `json:"offloaded,omitempty"`
	Drain     bool     `json:"drain,omitempty"`
}

// Pointer 는 S3 에 offload 된 task 의 위치.
type Pointer struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
	Bytes  int    `json:"bytes"`
}

// ParseEnvelope 는 body 가 이 모듈의 envelope 인지 확인하고 해석한다.
// JSON 이 아니거나 kind 가 다르면 ok=false. 에러가 아니다.
func ParseEnvelope(body string) (Envelope, bool) {
	var env Envelope
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		return Envelope{}, false
	}
	if env.Kind != EnvelopeKind {
		return Envelope{}, false
	}
	return env, true
}

func encodeEnvelope(env Envelope) (string, error) {
	env.Kind = EnvelopeKind
	b, err := json.Marshal(env)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
