package store

import (
	"fmt"

	"github.com/c360studio/ralph/classify"
	"github.com/c360studio/ralph/formalspec"
)

// validateSpecYAML round-trips a formal spec document. Failures surface as
// validation-category errors so the retry engine never re-attempts them.
func validateSpecYAML(raw string) (*formalspec.Spec, error) {
	spec, err := formalspec.ParseAndValidate(raw)
	if err != nil {
		return nil, classify.Fatal(fmt.Errorf("spec validation: %w", err))
	}
	return spec, nil
}
