package hosting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/c360studio/ralph/classify"
)

// maxResponseSize caps hosting API response bodies.
const maxResponseSize = 10 * 1024 * 1024 // 10MB

// GitHub talks to the GitHub REST (and, for auto-merge, GraphQL) API for a
// single repository. It satisfies Provider.
type GitHub struct {
	baseURL    string
	graphqlURL string
	owner      string
	repo       string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// GitHubOption configures the adapter.
type GitHubOption func(*GitHub)

// WithBaseURL points the adapter at a non-default API endpoint, such as a
// test server or a GitHub Enterprise instance.
func WithBaseURL(api, graphql string) GitHubOption {
	return func(g *GitHub) {
		g.baseURL = strings.TrimRight(api, "/")
		g.graphqlURL = graphql
	}
}

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(c *http.Client) GitHubOption {
	return func(g *GitHub) { g.httpClient = c }
}

// NewGitHub creates an adapter for owner/repo authenticated with token.
func NewGitHub(owner, repo, token string, logger *slog.Logger, opts ...GitHubOption) *GitHub {
	g := &GitHub{
		baseURL:    "https://api.github.com",
		graphqlURL: "https://api.github.com/graphql",
		owner:      owner,
		repo:       repo,
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger.With("component", "hosting.github"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *GitHub) repoPath(format string, args ...any) string {
	return fmt.Sprintf("%s/repos/%s/%s%s", g.baseURL, g.owner, g.repo, fmt.Sprintf(format, args...))
}

// do issues a request and decodes the 2xx response into out (when non-nil).
// Non-2xx statuses surface as *classify.HTTPError so the caller's
// classifier sees the status code.
func (g *GitHub) do(ctx context.Context, method, url string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+g.token)
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call github: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classify.NewHTTPError(resp.StatusCode, string(data))
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// GetIssueContext fetches the issue the workflow run is about.
func (g *GitHub) GetIssueContext(ctx context.Context, number int) (*IssueContext, error) {
	var raw struct {
		Number int    `json:"number"`
		Title  string `json:"title"`
		Body   string `json:"body"`
		State  string `json:"state"`
		URL    string `json:"html_url"`
		Labels []struct {
			Name string `json:"name"`
		} `json:"labels"`
	}
	if err := g.do(ctx, http.MethodGet, g.repoPath("/issues/%d", number), nil, &raw); err != nil {
		return nil, fmt.Errorf("get issue %d: %w", number, err)
	}

	issue := &IssueContext{
		Number: raw.Number,
		Title:  raw.Title,
		Body:   raw.Body,
		State:  raw.State,
		URL:    raw.URL,
	}
	for _, l := range raw.Labels {
		issue.Labels = append(issue.Labels, l.Name)
	}
	return issue, nil
}

// GetBranchSHA resolves a branch name to its head commit SHA.
func (g *GitHub) GetBranchSHA(ctx context.Context, branch string) (string, error) {
	var raw struct {
		Commit struct {
			SHA string `json:"sha"`
		} `json:"commit"`
	}
	if err := g.do(ctx, http.MethodGet, g.repoPath("/branches/%s", branch), nil, &raw); err != nil {
		return "", fmt.Errorf("get branch %s: %w", branch, err)
	}
	return raw.Commit.SHA, nil
}

// FindOpenPullRequest scans open pull requests for one referencing the
// issue, either "#<n>" in title or body or an "issue-<n>" head branch.
// Returns (nil, nil) when none matches.
func (g *GitHub) FindOpenPullRequest(ctx context.Context, issueNumber int) (*PullRequest, error) {
	var raw []struct {
		Number int    `json:"number"`
		NodeID string `json:"node_id"`
		Title  string `json:"title"`
		Body   string `json:"body"`
		URL    string `json:"html_url"`
		Draft  bool   `json:"draft"`
		Head   struct {
			Ref string `json:"ref"`
			SHA string `json:"sha"`
		} `json:"head"`
	}
	url := g.repoPath("/pulls") + "?state=open&per_page=100"
	if err := g.do(ctx, http.MethodGet, url, nil, &raw); err != nil {
		return nil, fmt.Errorf("list open pull requests: %w", err)
	}

	ref := fmt.Sprintf("#%d", issueNumber)
	branch := fmt.Sprintf("issue-%d", issueNumber)
	for _, pr := range raw {
		if strings.Contains(pr.Title, ref) || strings.Contains(pr.Body, ref) || strings.Contains(pr.Head.Ref, branch) {
			return &PullRequest{
				Number:     pr.Number,
				NodeID:     pr.NodeID,
				Title:      pr.Title,
				HeadSHA:    pr.Head.SHA,
				HeadBranch: pr.Head.Ref,
				URL:        pr.URL,
				Draft:      pr.Draft,
			}, nil
		}
	}
	return nil, nil
}

// HasRequiredChecksPassed reports whether every check run on the commit
// has completed with a passing conclusion. A commit with no check runs
// counts as passed.
func (g *GitHub) HasRequiredChecksPassed(ctx context.Context, sha string) (bool, error) {
	var raw struct {
		CheckRuns []struct {
			Status     string `json:"status"`
			Conclusion string `json:"conclusion"`
		} `json:"check_runs"`
	}
	if err := g.do(ctx, http.MethodGet, g.repoPath("/commits/%s/check-runs", sha), nil, &raw); err != nil {
		return false, fmt.Errorf("get check runs for %s: %w", sha, err)
	}

	for _, run := range raw.CheckRuns {
		if run.Status != "completed" {
			return false, nil
		}
		switch run.Conclusion {
		case "success", "neutral", "skipped":
		default:
			return false, nil
		}
	}
	return true, nil
}

// AddIssueComment posts a comment on an issue.
func (g *GitHub) AddIssueComment(ctx context.Context, number int, body string) error {
	payload := map[string]string{"body": body}
	if err := g.do(ctx, http.MethodPost, g.repoPath("/issues/%d/comments", number), payload, nil); err != nil {
		return fmt.Errorf("comment on issue %d: %w", number, err)
	}
	return nil
}

// ApprovePullRequest submits an approving review.
func (g *GitHub) ApprovePullRequest(ctx context.Context, number int, body string) error {
	payload := map[string]string{"event": "APPROVE", "body": body}
	if err := g.do(ctx, http.MethodPost, g.repoPath("/pulls/%d/reviews", number), payload, nil); err != nil {
		return fmt.Errorf("approve pull request %d: %w", number, err)
	}
	return nil
}

// EnableAutoMerge turns on auto-merge for the pull request. The REST API
// has no endpoint for this, so it goes through the GraphQL mutation.
func (g *GitHub) EnableAutoMerge(ctx context.Context, pr *PullRequest) error {
	query := map[string]any{
		"query": `mutation($id: ID!) {
  enablePullRequestAutoMerge(input: {pullRequestId: $id, mergeMethod: SQUASH}) {
    pullRequest { number }
  }
}`,
		"variables": map[string]string{"id": pr.NodeID},
	}

	var raw struct {
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := g.do(ctx, http.MethodPost, g.graphqlURL, query, &raw); err != nil {
		return fmt.Errorf("enable auto-merge on pull request %d: %w", pr.Number, err)
	}
	if len(raw.Errors) > 0 {
		return fmt.Errorf("enable auto-merge on pull request %d: %s", pr.Number, raw.Errors[0].Message)
	}
	return nil
}

// RequestChanges submits a changes-requested review listing the blocking
// findings.
func (g *GitHub) RequestChanges(ctx context.Context, number int, body string, findings []string) error {
	var sb strings.Builder
	sb.WriteString(body)
	if len(findings) > 0 {
		sb.WriteString("\n\nBlocking findings:\n")
		for _, f := range findings {
			fmt.Fprintf(&sb, "- %s\n", f)
		}
	}

	payload := map[string]string{"event": "REQUEST_CHANGES", "body": sb.String()}
	if err := g.do(ctx, http.MethodPost, g.repoPath("/pulls/%d/reviews", number), payload, nil); err != nil {
		return fmt.Errorf("request changes on pull request %d: %w", number, err)
	}
	return nil
}
