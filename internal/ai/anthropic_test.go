package ai

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func anthropicFor(t *testing.T, handler http.HandlerFunc) *AnthropicClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewAnthropicClient("test-key", srv.URL, time.Second)
}

func TestAnthropic429IsRateLimited(t *testing.T) {
	c := anthropicFor(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	_, err := c.Do(context.Background(), Request{Model: "m", Instruction: "go"})
	assert.True(t, IsRateLimited(err))
}

func TestAnthropicRateLimitBodyIsRateLimited(t *testing.T) {
	c := anthropicFor(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error": {"type": "invalid_request_error", "message": "Rate limit exceeded for this organization"}}`))
	})
	_, err := c.Do(context.Background(), Request{Model: "m", Instruction: "go"})
	assert.True(t, IsRateLimited(err))
}

func TestAnthropicOtherErrorIsNotRateLimited(t *testing.T) {
	c := anthropicFor(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error": {"message": "overloaded"}}`))
	})
	_, err := c.Do(context.Background(), Request{Model: "m", Instruction: "go"})
	require.Error(t, err)
	assert.False(t, IsRateLimited(err))
}

func TestAnthropicSuccess(t *testing.T) {
	c := anthropicFor(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"content": [{"text": "{\"years\": [\"2023\"]}"}], "usage": {"input_tokens": 12, "output_tokens": 5}}`))
	})
	resp, err := c.Do(context.Background(), Request{Model: "m", Instruction: "go"})
	require.NoError(t, err)
	assert.Equal(t, `{"years": ["2023"]}`, resp.Text)
	assert.Equal(t, 12, resp.TokensIn)
	assert.Equal(t, 5, resp.TokensOut)
}
