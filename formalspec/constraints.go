package formalspec

import (
	"fmt"

	"github.com/bmatcuk/doublestar/v4"
)

// CheckPathConstraints verifies a set of changed file paths against the
// spec's allowed/forbidden glob lists. An empty allowed list permits
// everything not explicitly forbidden. Forbidden globs win over allowed
// ones. The returned error names the first offending path; callers treat it
// as a validation-category failure.
func (c *Constraints) CheckPathConstraints(files []string) error {
	if c == nil {
		return nil
	}

	for _, file := range files {
		for _, pattern := range c.ForbiddenPaths {
			ok, err := doublestar.Match(pattern, file)
			if err != nil {
				return fmt.Errorf("forbidden_paths pattern %q: %w", pattern, err)
			}
			if ok {
				return fmt.Errorf("path %q matches forbidden pattern %q", file, pattern)
			}
		}

		if len(c.AllowedPaths) == 0 {
			continue
		}

		allowed := false
		for _, pattern := range c.AllowedPaths {
			ok, err := doublestar.Match(pattern, file)
			if err != nil {
				return fmt.Errorf("allowed_paths pattern %q: %w", pattern, err)
			}
			if ok {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Errorf("path %q matches no allowed pattern", file)
		}
	}

	return nil
}
