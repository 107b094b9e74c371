// Package hosting abstracts the source-code hosting service the
// orchestrator talks to. The core depends only on the Provider interface;
// the GitHub adapter lives alongside it.
package hosting

import "context"

// IssueContext is the task description the spec generator works from.
type IssueContext struct {
	Number int      `json:"number"`
	Title  string   `json:"title"`
	Body   string   `json:"body"`
	Labels []string `json:"labels"`
	State  string   `json:"state"`
	URL    string   `json:"url"`
}

// PullRequest is the subset of a hosted pull request the orchestrator
// needs. NodeID is the provider's opaque identifier for mutations that
// require it.
type PullRequest struct {
	Number     int    `json:"number"`
	NodeID     string `json:"node_id"`
	Title      string `json:"title"`
	HeadSHA    string `json:"head_sha"`
	HeadBranch string `json:"head_branch"`
	URL        string `json:"url"`
	Draft      bool   `json:"draft"`
}

// Provider is the outbound contract to the hosting service. Every call is
// made through the orchestration boundary so failures are classified and
// instrumented uniformly. FindOpenPullRequest returns (nil, nil) when no
// open pull request references the issue.
type Provider interface {
	GetIssueContext(ctx context.Context, number int) (*IssueContext, error)
	GetBranchSHA(ctx context.Context, branch string) (string, error)
	FindOpenPullRequest(ctx context.Context, issueNumber int) (*PullRequest, error)
	HasRequiredChecksPassed(ctx context.Context, sha string) (bool, error)
	AddIssueComment(ctx context.Context, number int, body string) error
	ApprovePullRequest(ctx context.Context, number int, body string) error
	EnableAutoMerge(ctx context.Context, pr *PullRequest) error
	RequestChanges(ctx context.Context, number int, body string, findings []string) error
}
