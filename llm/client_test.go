package llm

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/ralph/classify"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewClient(srv.URL, "test-model", "test-key", logger, WithHTTPClient(srv.Client()))
}

func TestComplete(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req wireRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		require.Len(t, req.Messages, 2)

		json.NewEncoder(w).Encode(map[string]any{
			"model": "test-model-v2",
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "done"}, "finish_reason": "stop"},
			},
			"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
		})
	}))

	resp, err := c.Complete(context.Background(), Request{
		Messages: []Message{
			{Role: "system", Content: "You are a planner."},
			{Role: "user", Content: "Plan this."},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "done", resp.Content)
	assert.Equal(t, "test-model-v2", resp.Model)
	assert.Equal(t, 15, resp.Usage.TotalTokens)
}

func TestComplete_NoMessagesIsFatal(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("request should not reach the endpoint")
	}))

	_, err := c.Complete(context.Background(), Request{})
	require.Error(t, err)
	assert.True(t, classify.IsFatal(err))
}

func TestComplete_StatusClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   classify.Category
	}{
		{"rate limited", http.StatusTooManyRequests, classify.CategoryRateLimit},
		{"unauthorized", http.StatusUnauthorized, classify.CategoryAuth},
		{"server error", http.StatusInternalServerError, classify.CategoryTransient},
		{"bad request", http.StatusBadRequest, classify.CategoryValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, `{"error":"nope"}`, tt.status)
			}))
			_, err := c.Complete(context.Background(), Request{Messages: []Message{{Role: "user", Content: "x"}}})
			require.Error(t, err)
			assert.Equal(t, tt.want, classify.Classify(err))
		})
	}
}

func TestComplete_EmptyChoicesIsTransient(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"model":"m","choices":[]}`))
	}))

	_, err := c.Complete(context.Background(), Request{Messages: []Message{{Role: "user", Content: "x"}}})
	require.Error(t, err)
	assert.True(t, classify.IsTransient(err))
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			"fenced json block",
			"Here is the result:\n```json\n{\"decision\": \"approve\"}\n```\nDone.",
			`{"decision": "approve"}`,
		},
		{
			"unfenced object",
			`The answer is {"a": 1} as requested.`,
			`{"a": 1}`,
		},
		{
			"trailing comma removed",
			"```json\n{\"items\": [1, 2,],}\n```",
			`{"items": [1, 2]}`,
		},
		{
			"line comment stripped",
			"```json\n{\n\"url\": \"http://example.com\", // not a comment inside the string\n\"n\": 2\n}\n```",
			"{\n\"url\": \"http://example.com\",\n\"n\": 2\n}",
		},
		{"no json", "I cannot answer that.", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractJSON(tt.content))
		})
	}
}

func TestExtractJSON_CommentInsideStringSurvives(t *testing.T) {
	got := ExtractJSON(`{"url": "https://example.com//path"}`)
	var decoded map[string]string
	require.NoError(t, json.Unmarshal([]byte(got), &decoded))
	assert.Equal(t, "https://example.com//path", decoded["url"])
}

func TestExtractJSONArray(t *testing.T) {
	got := ExtractJSONArray("```json\n[{\"id\": \"wb-1\"},]\n```")
	assert.Equal(t, `[{"id": "wb-1"}]`, got)

	assert.Empty(t, ExtractJSONArray("no array here"))
}
