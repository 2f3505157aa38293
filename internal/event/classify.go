package event

import (
	"fmt"

	json "github.com/goccy/go-json"
)

// ------------------------------------------------------------
// 구조 기반 분류
//
// Lambda 로 들어오는 payload 는 타입 태그가 없고 모양이 서로 겹친다.
// 예: S3 변경 알림을 SNS fan-out 으로 받으면 Records[0] 안에 Sns 가 있고
// 그 Message 안에 다시 S3 이벤트가 들어 있다.
//
// 그래서 필드 존재/모양만 보고 아래 고정 우선순위로 판정한다.
// 먼저 맞는 조건이 이긴다. 이 순서 자체가 계약이다.
//
//	HTTP > SNS > S3 > Scheduled > DynamoDB > Unknown
// ------------------------------------------------------------

// Classify 는 raw 이벤트의 Category 를 정한다. 절대 실패하지 않는다.
// JSON 객체가 아니면 Unknown.
func Classify(raw []byte) Category {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil || m == nil {
		return CategoryUnknown
	}
	return classifyMap(m)
}

func classifyMap(m map[string]any) Category {
	switch {
	case isHTTP(m):
		return CategoryHTTP
	case firstRecordHasObject(m, "Sns"):
		return CategoryNotification
	case firstRecordHasObject(m, "s3"):
		return CategoryObjectStorage
	case isScheduled(m):
		return CategoryScheduled
	case isStream(m):
		return CategoryStream
	default:
		return CategoryUnknown
	}
}

// isHTTP: httpMethod 가 비어 있지 않은 문자열이고
// queryStringParameters 키(값이 null 이어도 됨) 또는 requestContext 객체가 있다.
func isHTTP(m map[string]any) bool {
	method, _ := m["httpMethod"].(string)
	if method == "" {
		return false
	}
	if _, ok := m["queryStringParameters"]; ok {
		return true
	}
	_, ok := m["requestContext"].(map[string]any)
	return ok
}

// isScheduled: resources 가 비어 있지 않은 배열이고 Records 키가 없다.
func isScheduled(m map[string]any) bool {
	if _, ok := m["Records"]; ok {
		return false
	}
	res, ok := m["resources"].([]any)
	return ok && len(res) > 0
}

// isStream: 첫 레코드에 dynamodb 객체가 있거나 eventSource 가 aws:dynamodb.
func isStream(m map[string]any) bool {
	r := firstRecord(m)
	if r == nil {
		return false
	}
	if _, ok := r["dynamodb"].(map[string]any); ok {
		return true
	}
	src, _ := r["eventSource"].(string)
	return src == "aws:dynamodb"
}

func firstRecord(m map[string]any) map[string]any {
	recs, ok := m["Records"].([]any)
	if !ok || len(recs) == 0 {
		return nil
	}
	r, _ := recs[0].(map[string]any)
	return r
}

func firstRecordHasObject(m map[string]any, key string) bool {
	r := firstRecord(m)
	if r == nil {
		return false
	}
	_, ok := r[key].(map[string]any)
	return ok
}

// Decode 는 분류 후 해당 variant 로 역직렬화한다.
// 분류는 성공했지만 typed 디코딩이 실패하면 에러를 돌려준다.
// (분류 결과는 에러와 무관하게 항상 존재한다)
func Decode(raw []byte) (Event, error) {
	cat := Classify(raw)

	var (
		ev  Event
		dst any
	)
	switch cat {
	case CategoryHTTP:
		r := &HTTPRequest{}
		ev, dst = r, &r.APIGatewayProxyRequest
	case CategoryNotification:
		n := &Notification{}
		ev, dst = n, &n.SNSEvent
	case CategoryObjectStorage:
		o := &ObjectStorageChange{}
		ev, dst = o, &o.S3Event
	case CategoryScheduled:
		s := &ScheduledTrigger{}
		ev, dst = s, &s.CloudWatchEvent
	case CategoryStream:
		s := &StreamRecord{}
		ev, dst = s, &s.DynamoDBEvent
	default:
		return &Unknown{Raw: raw}, nil
	}

	if err := json.Unmarshal(raw, dst); err != nil {
		return nil, fmt.Errorf("decode %s event: %w", cat, err)
	}
	return ev, nil
}
