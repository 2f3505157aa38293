// internal/event/event.go
package event

import (
	"maps"
	"strings"

	"lambda-dispatch/internal/token"

	"github.com/aws/aws-lambda-go/events"
)

// Category
// ------------------------------------------------------------
// invocation 하나에 들어온 이벤트의 종류.
// 모든 이벤트는 정확히 하나의 Category 로 분류된다 (Unknown 포함).
type Category int

const (
	CategoryUnknown Category = iota
	CategoryHTTP
	CategoryNotification
	CategoryObjectStorage
	CategoryScheduled
	CategoryStream
)

func (c Category) String() string {
	switch c {
	case CategoryHTTP:
		return "http"
	case CategoryNotification:
		return "sns"
	case CategoryObjectStorage:
		return "s3"
	case CategoryScheduled:
		return "cron"
	case CategoryStream:
		return "dynamodb"
	default:
		return "unknown"
	}
}

// Event
// ------------------------------------------------------------
// 분류가 끝난 inbound 이벤트. 아래 variant 중 정확히 하나다.
//
//	*HTTPRequest, *Notification, *ObjectStorageChange,
//	*ScheduledTrigger, *StreamRecord, *Unknown
//
// 외부 패키지가 variant 를 추가할 수 없도록 sealed 로 둔다.
// dispatcher 는 type switch 로 분기한다.
type Event interface {
	Category() Category

	// LookupKey 는 handler registry 조회에 쓰이는 파생 키.
	// 키 개념이 없는 variant 는 "" 를 돌려준다.
	LookupKey() string

	sealed()
}

// HTTPRequest 는 API Gateway proxy 이벤트.
// filter 가 채우는 필드(ParsedBody, Authorization)를 함께 들고 다닌다.
type HTTPRequest struct {
	events.APIGatewayProxyRequest

	ParsedBody    any           `json:"-"`
	Authorization *token.Claims `json:"-"`
}

func (*HTTPRequest) Category() Category { return CategoryHTTP }
func (*HTTPRequest) LookupKey() string  { return "" }
func (*HTTPRequest) sealed()            {}

// Header 는 이름 대소문자를 무시하고 request header 를 찾는다.
func (r *HTTPRequest) Header(name string) string {
	v, _ := LookupHeader(r.Headers, name)
	return v
}

// Clone
//
// header / query / path map 을 새로 만든 사본을 돌려준다.
// 사본을 고쳐도 원본의 map 은 바뀌지 않는다.
// ParsedBody 와 Authorization 은 그대로 공유한다.
func (r *HTTPRequest) Clone() *HTTPRequest {
	c := *r
	c.Headers = maps.Clone(r.Headers)
	c.MultiValueHeaders = cloneMulti(r.MultiValueHeaders)
	c.QueryStringParameters = maps.Clone(r.QueryStringParameters)
	c.MultiValueQueryStringParameters = cloneMulti(r.MultiValueQueryStringParameters)
	c.PathParameters = maps.Clone(r.PathParameters)
	c.StageVariables = maps.Clone(r.StageVariables)
	return &c
}

func cloneMulti(m map[string][]string) map[string][]string {
	if m == nil {
		return nil
	}
	out := make(map[string][]string, len(m))
	for k, vs := range m {
		out[k] = append([]string(nil), vs...)
	}
	return out
}

// Notification 은 SNS 이벤트. 키는 첫 레코드의 TopicArn.
type Notification struct {
	events.SNSEvent
}

func (*Notification) Category() Category { return CategoryNotification }
func (n *Notification) LookupKey() string {
	if len(n.Records) == 0 {
		return ""
	}
	return n.Records[0].SNS.TopicArn
}
func (*Notification) sealed() {}

// RemovePrefix 로 시작하는 eventName 은 삭제 이벤트다.
const RemovePrefix = "ObjectRemoved"

// ObjectStorageChange 는 S3 이벤트. 키는 "bucket/objectKey".
type ObjectStorageChange struct {
	events.S3Event
}

func (*ObjectStorageChange) Category() Category { return CategoryObjectStorage }
func (o *ObjectStorageChange) LookupKey() string {
	if len(o.Records) == 0 {
		return ""
	}
	r := o.Records[0]
	return r.S3.Bucket.Name + "/" + r.S3.Object.Key
}
func (*ObjectStorageChange) sealed() {}

// IsRemove 는 첫 레코드가 삭제 계열 이벤트인지 알려 준다.
func (o *ObjectStorageChange) IsRemove() bool {
	return len(o.Records) > 0 && strings.HasPrefix(o.Records[0].EventName, RemovePrefix)
}

// ScheduledTrigger 는 EventBridge(CloudWatch Events) scheduled 이벤트.
// 키는 첫 resource(rule ARN).
type ScheduledTrigger struct {
	events.CloudWatchEvent
}

func (*ScheduledTrigger) Category() Category { return CategoryScheduled }
func (s *ScheduledTrigger) LookupKey() string {
	if len(s.Resources) == 0 {
		return ""
	}
	return s.Resources[0]
}
func (*ScheduledTrigger) sealed() {}

// StreamRecord 는 DynamoDB stream 이벤트. 키는 첫 레코드의 eventSourceARN.
type StreamRecord struct {
	events.DynamoDBEvent
}

func (*StreamRecord) Category() Category { return CategoryStream }
func (s *StreamRecord) LookupKey() string {
	if len(s.Records) == 0 {
		return ""
	}
	return s.Records[0].EventSourceArn
}
func (*StreamRecord) sealed() {}

// Unknown 은 어떤 구조 조건에도 맞지 않은 이벤트. 원본 바이트를 보관한다.
type Unknown struct {
	Raw []byte
}

func (*Unknown) Category() Category { return CategoryUnknown }
func (*Unknown) LookupKey() string  { return "" }
func (*Unknown) sealed()            {}

// LookupHeader 는 header map 에서 이름 대소문자를 무시하고 값을 찾는다.
func LookupHeader(headers map[string]string, name string) (string, bool) {
	if v, ok := headers[name]; ok {
		return v, true
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}
