package github

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound marks a 404 from the host. README and dependency-manifest
	// probing consume it internally; callers treat it as absence, not failure.
	ErrNotFound = errors.New("not found")

	// ErrTransient marks rate-limit and connectivity failures that are worth
	// retrying with backoff.
	ErrTransient = errors.New("transient host error")
)

// BranchNotFoundError reports a ref that the repository does not have,
// carrying the branch list when it could be fetched.
type BranchNotFoundError struct {
	Requested string
	Available []string
}

func (e *BranchNotFoundError) Error() string {
	if len(e.Available) == 0 {
		return fmt.Sprintf("branch %q not found", e.Requested)
	}
	return fmt.Sprintf("branch %q not found (known branches: %s)", e.Requested, strings.Join(e.Available, ", "))
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
