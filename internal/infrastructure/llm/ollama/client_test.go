package ollama

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/culinara/v2/internal/infrastructure/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(config.AIConfig{
		OllamaHost:  srv.URL,
		OllamaModel: "test-model",
		MaxTokens:   128,
		Temperature: 0.1,
	}, zaptest.NewLogger(t))
}

func TestStreamChatDeliversChunksInOrder(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		require.Equal(t, "POST", r.Method)

		w.Header().Set("Content-Type", "application/x-ndjson")
		fmt.Fprintln(w, `{"model":"test-model","message":{"role":"assistant","content":"{\"data\""},"done":false}`)
		fmt.Fprintln(w, `{"model":"test-model","message":{"role":"assistant","content":":{}}"},"done":false}`)
		fmt.Fprintln(w, `{"model":"test-model","message":{"role":"assistant","content":""},"done":true,"eval_count":3}`)
	})

	stream, err := client.StreamChat(context.Background(), "system", "user")
	require.NoError(t, err)
	defer stream.Close()

	var assembled string
	for {
		chunk, err := stream.Recv(context.Background())
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		assembled += chunk
	}
	assert.Equal(t, `{"data":{}}`, assembled)
}

func TestStreamChatPropagatesAPIError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
	})

	_, err := client.StreamChat(context.Background(), "system", "user")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestHealthCheck(t *testing.T) {
	healthy := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/tags", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	})
	assert.NoError(t, healthy.HealthCheck(context.Background()))

	unhealthy := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	assert.Error(t, unhealthy.HealthCheck(context.Background()))
}
