package web

import (
	"errors"
	"fmt"
	"net/http"

	"lambda-dispatch/internal/httperr"

	"github.com/aws/aws-lambda-go/events"
	json "github.com/goccy/go-json"
)

// errorBody 는 실패 응답의 JSON 형태.
type errorBody struct {
	Errors         []string `json:"errors"`
	HTTPStatusCode int      `json:"httpStatusCode"`
	RequestID      string   `json:"requestId,omitempty"`
	Details        any      `json:"details,omitempty"`
}

// ErrorResponse
//
// err 를 JSON 실패 응답으로 바꾼다.
// 상태 코드는 httperr.StatusOf 가 정한다.
// 상태 코드를 스스로 정하지 않는 generic 에러의 메시지는 밖으로 내보내지 않는다.
func ErrorResponse(err error, requestID string) *events.APIGatewayProxyResponse {
	status := httperr.StatusOf(err)
	body := errorBody{HTTPStatusCode: status, RequestID: requestID}

	var he *httperr.Error
	switch {
	case errors.As(err, &he):
		body.Errors = he.Messages
		body.Details = he.Details
		if len(body.Errors) == 0 {
			body.Errors = []string{http.StatusText(status)}
		}
	case httperr.IsTyped(err):
		body.Errors = []string{err.Error()}
	default:
		body.Errors = []string{http.StatusText(http.StatusInternalServerError)}
	}

	b, mErr := json.Marshal(body)
	if mErr != nil {
		b = []byte(fmt.Sprintf(`{"errors":[%q],"httpStatusCode":%d}`, http.StatusText(status), status))
	}
	return &events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(b),
	}
}

// toResponse 는 RouteHandler 의 반환값을 proxy 응답으로 바꾼다.
func toResponse(v any) (*events.APIGatewayProxyResponse, error) {
	switch r := v.(type) {
	case nil:
		return &events.APIGatewayProxyResponse{StatusCode: http.StatusNoContent}, nil
	case *events.APIGatewayProxyResponse:
		if r == nil {
			return &events.APIGatewayProxyResponse{StatusCode: http.StatusNoContent}, nil
		}
		return r, nil
	case events.APIGatewayProxyResponse:
		return &r, nil
	}

	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode route result: %w", err)
	}
	return &events.APIGatewayProxyResponse{
		StatusCode: http.StatusOK,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(b),
	}, nil
}
