package event

import (
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
)

func TestHTTPRequestCloneDetachesMaps(t *testing.T) {
	orig := &HTTPRequest{
		APIGatewayProxyRequest: events.APIGatewayProxyRequest{
			Path:                            "/users/42",
			Headers:                         map[string]string{"Origin": "https://a.example"},
			MultiValueHeaders:               map[string][]string{"Accept": {"text/html", "application/json"}},
			QueryStringParameters:           map[string]string{"page": "1"},
			MultiValueQueryStringParameters: map[string][]string{"tag": {"a"}},
			PathParameters:                  map[string]string{"id": "42"},
		},
		ParsedBody: map[string]any{"n": 1},
	}

	c := orig.Clone()
	c.Headers["Origin"] = "changed"
	c.MultiValueHeaders["Accept"][0] = "changed"
	c.QueryStringParameters["page"] = "2"
	c.MultiValueQueryStringParameters["tag"] = append(c.MultiValueQueryStringParameters["tag"], "b")
	c.PathParameters["id"] = "7"
	c.Path = "/other"

	assert.Equal(t, "https://a.example", orig.Headers["Origin"])
	assert.Equal(t, "text/html", orig.MultiValueHeaders["Accept"][0])
	assert.Equal(t, "1", orig.QueryStringParameters["page"])
	assert.Equal(t, []string{"a"}, orig.MultiValueQueryStringParameters["tag"])
	assert.Equal(t, "42", orig.PathParameters["id"])
	assert.Equal(t, "/users/42", orig.Path)
	assert.Equal(t, orig.ParsedBody, c.ParsedBody)

	// nil map 은 nil 로 남는다
	assert.Nil(t, (&HTTPRequest{}).Clone().Headers)
}
