package resilience

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "dial timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"explicit", NewTransientError(errors.New("x"), 503), true},
		{"wrapped explicit", fmt.Errorf("fetch: %w", NewTransientError(errors.New("x"), 429)), true},
		{"net timeout", timeoutErr{}, true},
		{"conn reset", fmt.Errorf("read: %w", syscall.ECONNRESET), true},
		{"conn refused", syscall.ECONNREFUSED, true},
		{"string pattern", errors.New("read tcp: i/o timeout"), true},
		{"unexpected eof", errors.New("unexpected EOF"), true},
		{"permanent", errors.New("json: cannot unmarshal"), false},
		{"context cancelled", context.Canceled, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, IsTransientHTTPStatus(code), "status %d", code)
	}
	for _, code := range []int{200, 400, 404, 422} {
		assert.False(t, IsTransientHTTPStatus(code), "status %d", code)
	}
}

func TestStatusError(t *testing.T) {
	err := StatusError(http.StatusServiceUnavailable, "models/accessibility")
	assert.True(t, IsTransient(err))
	var te *TransientError
	assert.True(t, errors.As(err, &te))
	assert.Equal(t, 503, te.StatusCode)
	assert.Contains(t, err.Error(), "http 503 from models/accessibility")

	err = StatusError(http.StatusNotFound, "models/empty.parquet")
	assert.False(t, IsTransient(err))
	assert.Contains(t, err.Error(), "http 404")
}
