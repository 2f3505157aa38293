package httperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"bad request", BadRequest("Path parameter %s was string -null-", "id"), http.StatusBadRequest},
		{"wrapped forbidden", fmt.Errorf("auth: %w", Forbidden("nope")), http.StatusForbidden},
		{"conflict", Conflict("dup"), http.StatusConflict},
		{"too many", TooManyRequests("slow down"), http.StatusTooManyRequests},
		{"timeout", RequestTimeout("late"), http.StatusInternalServerError},
		{"payload", &PayloadTooLarge{Size: 10, Limit: 9, Overage: 1}, http.StatusInternalServerError},
		{"generic", errors.New("boom"), http.StatusInternalServerError},
		{"context", context.DeadlineExceeded, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StatusOf(tt.err))
		})
	}
}

func TestIsTyped(t *testing.T) {
	assert.True(t, IsTyped(NotFound("x")))
	assert.True(t, IsTyped(fmt.Errorf("wrap: %w", MethodNotAllowed("x"))))
	assert.False(t, IsTyped(errors.New("plain")))
}

func TestMaxResponseBodyBytes(t *testing.T) {
	assert.Equal(t, 5140480, MaxResponseBodyBytes)
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "Unauthorized", (&Error{StatusCode: 401}).Error())
	assert.Equal(t, "a, b", (&Error{StatusCode: 400, Messages: []string{"a", "b"}}).Error())

	e := BadRequest("bad").WithDetails(map[string]string{"field": "id"})
	assert.Equal(t, map[string]string{"field": "id"}, e.Details)
}

func TestPayloadTooLargeMessage(t *testing.T) {
	e := &PayloadTooLarge{Size: 5140481, Limit: MaxResponseBodyBytes, Overage: 1}
	assert.Equal(t, "Response size is 5140481 bytes, which is 1 bytes too large for this handler", e.Error())
}
