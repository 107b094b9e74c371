// Package hostingtest provides an in-memory Provider for tests.
package hostingtest

import (
	"context"
	"sync"

	"github.com/c360studio/ralph/hosting"
)

// Fake is a scriptable hosting.Provider. Zero value is usable: lookups
// succeed with zero results and mutations are recorded. Set Err to make
// every call fail.
type Fake struct {
	mu sync.Mutex

	Issue        *hosting.IssueContext
	BranchSHA    string
	OpenPR       *hosting.PullRequest
	ChecksPassed bool
	Err          error

	Comments        []string
	Approvals       []int
	AutoMerged      []int
	ChangesRequests []ChangesRequest
}

// ChangesRequest records one RequestChanges call.
type ChangesRequest struct {
	PRNumber int
	Body     string
	Findings []string
}

var _ hosting.Provider = (*Fake)(nil)

func (f *Fake) GetIssueContext(_ context.Context, number int) (*hosting.IssueContext, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	if f.Issue != nil {
		return f.Issue, nil
	}
	return &hosting.IssueContext{Number: number, Title: "fake issue", State: "open"}, nil
}

func (f *Fake) GetBranchSHA(_ context.Context, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return "", f.Err
	}
	if f.BranchSHA == "" {
		return "0000000000000000000000000000000000000000", nil
	}
	return f.BranchSHA, nil
}

func (f *Fake) FindOpenPullRequest(_ context.Context, _ int) (*hosting.PullRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	return f.OpenPR, nil
}

func (f *Fake) HasRequiredChecksPassed(_ context.Context, _ string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return false, f.Err
	}
	return f.ChecksPassed, nil
}

func (f *Fake) AddIssueComment(_ context.Context, _ int, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.Comments = append(f.Comments, body)
	return nil
}

func (f *Fake) ApprovePullRequest(_ context.Context, number int, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.Approvals = append(f.Approvals, number)
	return nil
}

func (f *Fake) EnableAutoMerge(_ context.Context, pr *hosting.PullRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.AutoMerged = append(f.AutoMerged, pr.Number)
	return nil
}

func (f *Fake) RequestChanges(_ context.Context, number int, body string, findings []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.ChangesRequests = append(f.ChangesRequests, ChangesRequest{PRNumber: number, Body: body, Findings: findings})
	return nil
}
