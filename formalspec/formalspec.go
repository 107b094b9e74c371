// Package formalspec defines the versioned YAML schema for generated formal
// specifications and validates documents before they are persisted. The
// work-breakdown graph is topologically checked here so the runtime
// scheduler can assume acyclicity.
package formalspec

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// SpecVersion is the only schema version this build understands.
const SpecVersion = 1

// Spec is a parsed formal specification document.
type Spec struct {
	SpecVersion        int                 `yaml:"spec_version"`
	SpecID             string              `yaml:"spec_id"`
	Source             Source              `yaml:"source"`
	Objective          string              `yaml:"objective"`
	AcceptanceCriteria []string            `yaml:"acceptance_criteria"`
	NonGoals           []string            `yaml:"non_goals,omitempty"`
	Constraints        *Constraints        `yaml:"constraints,omitempty"`
	WorkBreakdown      []WorkItem          `yaml:"work_breakdown"`
	DesignNotes        []string            `yaml:"design_notes,omitempty"`
	RiskChecks         []string            `yaml:"risk_checks,omitempty"`
	ValidationPlan     *ValidationPlan     `yaml:"validation_plan,omitempty"`
	StopConditions     []string            `yaml:"stop_conditions,omitempty"`
}

// Source identifies where the task request came from.
type Source struct {
	GitHub GitHubSource `yaml:"github"`
}

// GitHubSource pins the repository, issue, and baseline commit for the run.
type GitHubSource struct {
	Repo           string `yaml:"repo"`
	Issue          int    `yaml:"issue"`
	CommitBaseline string `yaml:"commit_baseline"`
}

// Constraints narrows what the executor agents may touch.
type Constraints struct {
	Languages      []string `yaml:"languages,omitempty"`
	AllowedPaths   []string `yaml:"allowed_paths,omitempty"`
	ForbiddenPaths []string `yaml:"forbidden_paths,omitempty"`
}

// ValidationPlan lists CI jobs expected to gate the change.
type ValidationPlan struct {
	CIJobs []string `yaml:"ci_jobs,omitempty"`
}

// WorkItem is one node of the work-breakdown dependency graph.
type WorkItem struct {
	ID               string   `yaml:"id"`
	Title            string   `yaml:"title"`
	OwnerRole        string   `yaml:"owner_role"`
	DefinitionOfDone []string `yaml:"definition_of_done"`
	DependsOn        []string `yaml:"depends_on,omitempty"`
}

// Parse unmarshals a YAML document into a Spec without validating it.
func Parse(raw string) (*Spec, error) {
	var spec Spec
	if err := yaml.Unmarshal([]byte(raw), &spec); err != nil {
		return nil, fmt.Errorf("parse formal spec: %w", err)
	}
	return &spec, nil
}

// ParseAndValidate round-trips a YAML document: parse then full validation.
// This is the check the repository applies at store time.
func ParseAndValidate(raw string) (*Spec, error) {
	spec, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}

// Validate checks required fields, reference integrity, and graph
// acyclicity.
func (s *Spec) Validate() error {
	if s.SpecVersion != SpecVersion {
		return fmt.Errorf("spec_version must be %d, got %d", SpecVersion, s.SpecVersion)
	}
	if s.SpecID == "" {
		return fmt.Errorf("spec_id is required")
	}
	if s.Source.GitHub.Repo == "" {
		return fmt.Errorf("source.github.repo is required")
	}
	if s.Source.GitHub.Issue <= 0 {
		return fmt.Errorf("source.github.issue is required")
	}
	if s.Source.GitHub.CommitBaseline == "" {
		return fmt.Errorf("source.github.commit_baseline is required")
	}
	if s.Objective == "" {
		return fmt.Errorf("objective is required")
	}
	if len(s.AcceptanceCriteria) == 0 {
		return fmt.Errorf("at least one acceptance criterion is required")
	}
	if len(s.WorkBreakdown) == 0 {
		return fmt.Errorf("work_breakdown must contain at least one item")
	}

	seen := make(map[string]bool, len(s.WorkBreakdown))
	for i, item := range s.WorkBreakdown {
		if item.ID == "" {
			return fmt.Errorf("work_breakdown[%d]: id is required", i)
		}
		if seen[item.ID] {
			return fmt.Errorf("work_breakdown: duplicate id %q", item.ID)
		}
		seen[item.ID] = true
		if item.Title == "" {
			return fmt.Errorf("work_breakdown[%s]: title is required", item.ID)
		}
		if item.OwnerRole == "" {
			return fmt.Errorf("work_breakdown[%s]: owner_role is required", item.ID)
		}
	}

	for _, item := range s.WorkBreakdown {
		for _, dep := range item.DependsOn {
			if !seen[dep] {
				return fmt.Errorf("work_breakdown[%s]: depends_on references unknown id %q", item.ID, dep)
			}
			if dep == item.ID {
				return fmt.Errorf("work_breakdown[%s]: depends_on references itself", item.ID)
			}
		}
	}

	if cycle := findCycle(s.WorkBreakdown); cycle != "" {
		return fmt.Errorf("work_breakdown contains a dependency cycle through %q", cycle)
	}

	return nil
}

// findCycle runs a depth-first three-color walk over the dependency graph
// and returns an id on a cycle, or "" when the graph is acyclic.
func findCycle(items []WorkItem) string {
	deps := make(map[string][]string, len(items))
	for _, item := range items {
		deps[item.ID] = item.DependsOn
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(items))

	var visit func(id string) string
	visit = func(id string) string {
		color[id] = gray
		for _, dep := range deps[id] {
			switch color[dep] {
			case gray:
				return dep
			case white:
				if hit := visit(dep); hit != "" {
					return hit
				}
			}
		}
		color[id] = black
		return ""
	}

	for _, item := range items {
		if color[item.ID] == white {
			if hit := visit(item.ID); hit != "" {
				return hit
			}
		}
	}
	return ""
}

// Marshal renders the spec back to YAML.
func (s *Spec) Marshal() (string, error) {
	out, err := yaml.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("marshal formal spec: %w", err)
	}
	return string(out), nil
}
