package hosting

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

func newTestGitHub(t *testing.T, handler http.Handler) *GitHub {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewGitHub("c360studio", "ralph", "test-token", logger,
		WithBaseURL(srv.URL, srv.URL+"/graphql"),
		WithHTTPClient(srv.Client()))
}

func TestGetIssueContext(t *testing.T) {
	g := newTestGitHub(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/c360studio/ralph/issues/7", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]any{
			"number": 7,
			"title":  "Add retry budget",
			"body":   "Tasks should stop retrying at some point.",
			"state":  "open",
			"labels": []map[string]string{{"name": "ralph"}, {"name": "bug"}},
		})
	}))

	issue, err := g.GetIssueContext(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 7, issue.Number)
	assert.Equal(t, "Add retry budget", issue.Title)
	assert.Equal(t, []string{"ralph", "bug"}, issue.Labels)
}

func TestGetIssueContext_NotFoundSurfacesHTTPError(t *testing.T) {
	g := newTestGitHub(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"Not Found"}`, http.StatusNotFound)
	}))

	_, err := g.GetIssueContext(context.Background(), 99)
	require.Error(t, err)

	var httpErr *classify.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusNotFound, httpErr.Status)
	assert.Equal(t, classify.CategoryPermanent, classify.Classify(err))
}

func TestGetBranchSHA(t *testing.T) {
	g := newTestGitHub(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/c360studio/ralph/branches/main", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{"commit": map[string]string{"sha": "abc123"}})
	}))

	sha, err := g.GetBranchSHA(context.Background(), "main")
	require.NoError(t, err)
	assert.Equal(t, "abc123", sha)
}

func TestFindOpenPullRequest(t *testing.T) {
	pulls := []map[string]any{
		{"number": 1, "node_id": "PR_1", "title": "Unrelated", "body": "nothing", "head": map[string]string{"ref": "feature-x", "sha": "s1"}},
		{"number": 2, "node_id": "PR_2", "title": "Fix retries", "body": "Closes #7", "head": map[string]string{"ref": "fix-retries", "sha": "s2"}},
	}
	g := newTestGitHub(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "open", r.URL.Query().Get("state"))
		json.NewEncoder(w).Encode(pulls)
	}))

	pr, err := g.FindOpenPullRequest(context.Background(), 7)
	require.NoError(t, err)
	require.NotNil(t, pr)
	assert.Equal(t, 2, pr.Number)
	assert.Equal(t, "s2", pr.HeadSHA)

	missing, err := g.FindOpenPullRequest(context.Background(), 55)
	require.NoError(t, err)
	assert.Nil(t, missing, "no match must be (nil, nil), not an error")
}

func TestFindOpenPullRequest_BranchNaming(t *testing.T) {
	g := newTestGitHub(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]any{
			{"number": 3, "node_id": "PR_3", "title": "WIP", "body": "", "head": map[string]string{"ref": "ralph/issue-42", "sha": "s3"}},
		})
	}))

	pr, err := g.FindOpenPullRequest(context.Background(), 42)
	require.NoError(t, err)
	require.NotNil(t, pr)
	assert.Equal(t, 3, pr.Number)
}

func TestHasRequiredChecksPassed(t *testing.T) {
	tests := []struct {
		name string
		runs []map[string]string
		want bool
	}{
		{"all passing", []map[string]string{
			{"status": "completed", "conclusion": "success"},
			{"status": "completed", "conclusion": "skipped"},
		}, true},
		{"one failing", []map[string]string{
			{"status": "completed", "conclusion": "success"},
			{"status": "completed", "conclusion": "failure"},
		}, false},
		{"still running", []map[string]string{
			{"status": "in_progress", "conclusion": ""},
		}, false},
		{"no checks", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGitHub(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(map[string]any{"check_runs": tt.runs})
			}))
			passed, err := g.HasRequiredChecksPassed(context.Background(), "abc")
			require.NoError(t, err)
			assert.Equal(t, tt.want, passed)
		})
	}
}

func TestRequestChanges_IncludesFindings(t *testing.T) {
	var got struct {
		Event string `json:"event"`
		Body  string `json:"body"`
	}
	g := newTestGitHub(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/c360studio/ralph/pulls/5/reviews", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))

	err := g.RequestChanges(context.Background(), 5, "Needs work before merge.", []string{"missing tests", "unchecked error"})
	require.NoError(t, err)
	assert.Equal(t, "REQUEST_CHANGES", got.Event)
	assert.Contains(t, got.Body, "missing tests")
	assert.Contains(t, got.Body, "unchecked error")
}

func TestEnableAutoMerge(t *testing.T) {
	g := newTestGitHub(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/graphql", r.URL.Path)
		var req struct {
			Query     string            `json:"query"`
			Variables map[string]string `json:"variables"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Contains(t, req.Query, "enablePullRequestAutoMerge")
		assert.Equal(t, "PR_9", req.Variables["id"])
		w.Write([]byte(`{"data":{"enablePullRequestAutoMerge":{"pullRequest":{"number":9}}}}`))
	}))

	err := g.EnableAutoMerge(context.Background(), &PullRequest{Number: 9, NodeID: "PR_9"})
	require.NoError(t, err)
}

func TestEnableAutoMerge_GraphQLError(t *testing.T) {
	g := newTestGitHub(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"errors":[{"message":"Pull request is in clean status"}]}`))
	}))

	err := g.EnableAutoMerge(context.Background(), &PullRequest{Number: 9, NodeID: "PR_9"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "clean status")
}

func TestRateLimitClassifiesRetriable(t *testing.T) {
	g := newTestGitHub(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"API rate limit exceeded"}`, http.StatusTooManyRequests)
	}))

	err := g.AddIssueComment(context.Background(), 1, "hello")
	require.Error(t, err)
	assert.Equal(t, classify.CategoryRateLimit, classify.Classify(err))
	assert.True(t, classify.Classify(err).Retriable())
}
