// Package utils provides shared low-level helpers used across the ICN core
// packages: environment lookups and error-wrapping. Taxonomy-aware errors
// live in pkg/classify.
package utils

import "fmt"

// Wrap adds context to an error message. It returns nil if err is nil.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
