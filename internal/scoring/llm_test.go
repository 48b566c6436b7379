package scoring

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbti-rec/server/internal/config"
)

func TestLLMClient_RetriesOn429ThenSucceeds(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		resp := chatCompletionResponse{}
		resp.Choices = []struct {
			Message chatMessage `json:"message"`
		}{{Message: chatMessage{Role: "assistant", Content: "ok"}}}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	c := newLLMClient(config.LLMConfig{BaseURL: server.URL, Timeout: time.Second}, testLogger())
	content, err := c.complete(t.Context(), "hello", 2)
	require.NoError(t, err)
	assert.Equal(t, "ok", content)
	assert.Equal(t, int32(2), atomic.LoadInt32(&attempts))
}

func TestLLMClient_NonRetryableStatusFailsImmediately(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	c := newLLMClient(config.LLMConfig{BaseURL: server.URL, Timeout: time.Second}, testLogger())
	_, err := c.complete(t.Context(), "hello", 3)
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}
