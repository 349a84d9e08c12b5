// Package services holds the shared error taxonomy for scour components.
package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrCapacity marks failures meaning "try again later": the remote service
	// refused the run for quota or concurrency reasons, not because the request
	// was invalid. Capacity failures are queueable and never consume retries.
	ErrCapacity = errors.New("capacity exhausted")
	// ErrValidation marks caller mistakes that must surface synchronously.
	ErrValidation = errors.New("validation error")
	// ErrConfiguration marks unusable configuration discovered at runtime.
	ErrConfiguration = errors.New("configuration error")
	// ErrNotFound marks lookups for rows or runs that do not exist.
	ErrNotFound = errors.New("not found")
	// ErrTransient marks failures worth retrying through the queue budget.
	ErrTransient = errors.New("transient failure")
)

// Wrap builds an error message that includes component context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
