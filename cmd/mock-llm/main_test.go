package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/ralph/formalspec"
)

func postChat(t *testing.T, s *server, systemPrompt string) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(chatRequest{
		Model: "mock",
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: "do the thing"},
		},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.handleChatCompletions(rec, req)
	return rec
}

func responseContent(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp chatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Choices, 1)
	return resp.Choices[0].Message.Content
}

func TestDetectRole(t *testing.T) {
	tests := []struct {
		name   string
		system string
		want   string
	}{
		{"spec generator", "You are a software planning agent. Produce YAML.", roleSpec},
		{"executor", "You are a code execution agent.", roleExecutor},
		{"reviewer", "You are a code review agent.", roleReviewer},
		{"decider", "You are a merge gatekeeper.", roleDecider},
		{"unknown", "You are a poet.", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := detectRole([]chatMessage{{Role: "system", Content: tt.system}})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDefaultSpecResponseParses(t *testing.T) {
	s := newServer(nil)

	rec := postChat(t, s, "You are a software planning agent.")
	require.Equal(t, http.StatusOK, rec.Code)

	spec, err := formalspec.ParseAndValidate(responseContent(t, rec))
	require.NoError(t, err)
	assert.Equal(t, "spec-mock-0001", spec.SpecID)
	require.Len(t, spec.WorkBreakdown, 1)
}

func TestDefaultExecutorResponseIsJSON(t *testing.T) {
	s := newServer(nil)

	rec := postChat(t, s, "You are a code execution agent.")
	require.Equal(t, http.StatusOK, rec.Code)

	var result map[string]any
	require.NoError(t, json.Unmarshal([]byte(responseContent(t, rec)), &result))
	assert.Equal(t, "completed", result["status"])
}

func TestUnknownRoleRejected(t *testing.T) {
	s := newServer(nil)

	rec := postChat(t, s, "You are a poet.")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSequentialFixtures(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "executor.1.json"), []byte("first"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "executor.2.json"), []byte("second"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "executor.json"), []byte("fallback"), 0o644))

	fixtures, err := loadFixtures(dir)
	require.NoError(t, err)
	require.Len(t, fixtures["executor"], 3)

	s := newServer(fixtures)
	system := "You are a code execution agent."

	assert.Equal(t, "first", responseContent(t, postChat(t, s, system)))
	assert.Equal(t, "second", responseContent(t, postChat(t, s, system)))
	assert.Equal(t, "fallback", responseContent(t, postChat(t, s, system)))
	assert.Equal(t, "fallback", responseContent(t, postChat(t, s, system)), "base fixture repeats after the sequence")
}

func TestFixtureOverridesDefault(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "reviewer.txt"), []byte("custom review"), 0o644))

	fixtures, err := loadFixtures(dir)
	require.NoError(t, err)

	s := newServer(fixtures)
	assert.Equal(t, "custom review", responseContent(t, postChat(t, s, "You are a code review agent.")))

	// Roles without fixtures still get the built-in response.
	assert.Equal(t, defaultResponses[roleDecider], responseContent(t, postChat(t, s, "You are a merge gatekeeper.")))
}

func TestStats(t *testing.T) {
	s := newServer(nil)
	postChat(t, s, "You are a code execution agent.")
	postChat(t, s, "You are a code execution agent.")
	postChat(t, s, "You are a merge gatekeeper.")

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	s.handleStats(rec, req)

	var stats struct {
		TotalCalls  int64            `json:"total_calls"`
		CallsByRole map[string]int64 `json:"calls_by_role"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, int64(3), stats.TotalCalls)
	assert.Equal(t, int64(2), stats.CallsByRole[roleExecutor])
	assert.Equal(t, int64(1), stats.CallsByRole[roleDecider])
}
