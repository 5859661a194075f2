package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warrenet/nebula/pkg/config"
)

func testClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := NewClient(&config.Config{
		APIKey:     "test-key",
		APIBaseURL: baseURL,
	})
	require.NoError(t, err)
	return c
}

func chatOK(content string, promptTokens, completionTokens int) []byte {
	body, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
		"usage": map[string]any{
			"prompt_tokens":     promptTokens,
			"completion_tokens": completionTokens,
		},
	})
	return body
}

func TestNewClient_MissingKey(t *testing.T) {
	_, err := NewClient(&config.Config{})
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestCall_Success(t *testing.T) {
	var gotAuth, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path

		var req ChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "free-model", req.Model)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, RoleSystem, req.Messages[0].Role)

		w.Write(chatOK("the answer [CONFIDENCE: 0.80]", 42, 17))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	resp, err := c.Call(context.Background(), ChatRequest{
		Model: "free-model",
		Messages: []ChatMessage{
			{Role: RoleSystem, Content: "you are agent-1"},
			{Role: RoleUser, Content: "do the thing"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, "/chat/completions", gotPath)
	assert.Equal(t, "the answer [CONFIDENCE: 0.80]", resp.Content)
	assert.Equal(t, 42, resp.Usage.PromptTokens)
	assert.Equal(t, 17, resp.Usage.CompletionTokens)
}

func TestCall_RetriesOn429(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write(chatOK("recovered", 1, 1))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	resp, err := c.Call(context.Background(), ChatRequest{Model: "m"})
	require.NoError(t, err)
	assert.Equal(t, "recovered", resp.Content)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCall_RetriesOn500(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "upstream exploded", http.StatusInternalServerError)
			return
		}
		w.Write(chatOK("recovered", 1, 1))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	resp, err := c.Call(context.Background(), ChatRequest{Model: "m"})
	require.NoError(t, err)
	assert.Equal(t, "recovered", resp.Content)
}

func TestCall_NoRetryOn400(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	_, err := c.Call(context.Background(), ChatRequest{Model: "m"})
	require.Error(t, err)

	var upstreamErr *UpstreamError
	require.ErrorAs(t, err, &upstreamErr)
	assert.Equal(t, http.StatusBadRequest, upstreamErr.Status)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCall_ContextCancellationAbortsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := testClient(t, srv.URL)
	_, err := c.Call(ctx, ChatRequest{Model: "m"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCall_EmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices": [], "usage": {}}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	_, err := c.Call(context.Background(), ChatRequest{Model: "m"})
	require.Error(t, err)

	var upstreamErr *UpstreamError
	assert.ErrorAs(t, err, &upstreamErr)
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, int64(0), int64(parseRetryAfter("")))
	assert.Equal(t, int64(0), int64(parseRetryAfter("garbage")))
	assert.Equal(t, int64(0), int64(parseRetryAfter("-2")))
	assert.Equal(t, int64(3e9), int64(parseRetryAfter("3")))
}
