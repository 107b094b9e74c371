package formalspec

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
spec_version: 1
spec_id: spec-123
source:
  github:
    repo: c360studio/ralph
    issue: 42
    commit_baseline: abc123def
objective: Add pagination to the runs list endpoint
acceptance_criteria:
  - List endpoint accepts page and per_page parameters
  - Responses include a total count
work_breakdown:
  - id: wb-1
    title: Add pagination parameters
    owner_role: developer
    definition_of_done:
      - Parameters parsed and validated
  - id: wb-2
    title: Wire pagination into the store query
    owner_role: developer
    definition_of_done:
      - Query respects page bounds
    depends_on: [wb-1]
constraints:
  allowed_paths:
    - "server/**"
    - "store/**"
  forbidden_paths:
    - "**/*_secret.go"
`

func TestParseAndValidate_Valid(t *testing.T) {
	spec, err := ParseAndValidate(validYAML)
	require.NoError(t, err)

	assert.Equal(t, "spec-123", spec.SpecID)
	assert.Equal(t, 42, spec.Source.GitHub.Issue)
	assert.Len(t, spec.WorkBreakdown, 2)
	assert.Equal(t, []string{"wb-1"}, spec.WorkBreakdown[1].DependsOn)
}

func TestParseAndValidate_Malformed(t *testing.T) {
	_, err := ParseAndValidate("{not yaml: [")
	assert.Error(t, err)
}

func TestValidate_RequiredFields(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Spec)
		wantErr string
	}{
		{"wrong version", func(s *Spec) { s.SpecVersion = 2 }, "spec_version"},
		{"missing spec_id", func(s *Spec) { s.SpecID = "" }, "spec_id"},
		{"missing repo", func(s *Spec) { s.Source.GitHub.Repo = "" }, "source.github.repo"},
		{"missing issue", func(s *Spec) { s.Source.GitHub.Issue = 0 }, "source.github.issue"},
		{"missing baseline", func(s *Spec) { s.Source.GitHub.CommitBaseline = "" }, "commit_baseline"},
		{"missing objective", func(s *Spec) { s.Objective = "" }, "objective"},
		{"no acceptance criteria", func(s *Spec) { s.AcceptanceCriteria = nil }, "acceptance"},
		{"empty work breakdown", func(s *Spec) { s.WorkBreakdown = nil }, "work_breakdown"},
		{"item missing id", func(s *Spec) { s.WorkBreakdown[0].ID = "" }, "id is required"},
		{"item missing title", func(s *Spec) { s.WorkBreakdown[0].Title = "" }, "title is required"},
		{"item missing owner_role", func(s *Spec) { s.WorkBreakdown[0].OwnerRole = "" }, "owner_role"},
		{"duplicate id", func(s *Spec) { s.WorkBreakdown[1].ID = "wb-1" }, "duplicate id"},
		{"unknown dependency", func(s *Spec) { s.WorkBreakdown[1].DependsOn = []string{"wb-9"} }, "unknown id"},
		{"self dependency", func(s *Spec) { s.WorkBreakdown[1].DependsOn = []string{"wb-2"} }, "itself"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, err := Parse(validYAML)
			require.NoError(t, err)
			tt.mutate(spec)

			err = spec.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_RejectsCycle(t *testing.T) {
	spec, err := Parse(validYAML)
	require.NoError(t, err)

	spec.WorkBreakdown = append(spec.WorkBreakdown, WorkItem{
		ID:        "wb-3",
		Title:     "Third item",
		OwnerRole: "developer",
		DependsOn: []string{"wb-2"},
	})
	// wb-1 -> wb-3 -> wb-2 -> wb-1 closes the loop.
	spec.WorkBreakdown[0].DependsOn = []string{"wb-3"}

	err = spec.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestValidate_AcceptsDiamond(t *testing.T) {
	spec, err := Parse(validYAML)
	require.NoError(t, err)

	spec.WorkBreakdown = append(spec.WorkBreakdown,
		WorkItem{ID: "wb-3", Title: "Left", OwnerRole: "developer", DependsOn: []string{"wb-1"}},
		WorkItem{ID: "wb-4", Title: "Join", OwnerRole: "developer", DependsOn: []string{"wb-2", "wb-3"}},
	)

	assert.NoError(t, spec.Validate())
}

func TestMarshal_RoundTrip(t *testing.T) {
	spec, err := ParseAndValidate(validYAML)
	require.NoError(t, err)

	out, err := spec.Marshal()
	require.NoError(t, err)
	assert.True(t, strings.Contains(out, "spec_id: spec-123"))

	again, err := ParseAndValidate(out)
	require.NoError(t, err)
	assert.Equal(t, spec.WorkBreakdown, again.WorkBreakdown)
}

func TestCheckPathConstraints(t *testing.T) {
	c := &Constraints{
		AllowedPaths:   []string{"server/**", "store/**"},
		ForbiddenPaths: []string{"**/*_secret.go"},
	}

	assert.NoError(t, c.CheckPathConstraints([]string{"server/handler.go", "store/runs.go"}))

	err := c.CheckPathConstraints([]string{"cmd/main.go"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no allowed pattern")

	err = c.CheckPathConstraints([]string{"server/api_secret.go"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "forbidden")
}

func TestCheckPathConstraints_NilAndEmpty(t *testing.T) {
	var c *Constraints
	assert.NoError(t, c.CheckPathConstraints([]string{"anything/at/all.go"}))

	empty := &Constraints{}
	assert.NoError(t, empty.CheckPathConstraints([]string{"anything/at/all.go"}))
}
