// internal/errors/errors.go
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"time"
)

// ErrNotFound is returned by lookups that find nothing.
var ErrNotFound = stderrors.New("not found")

// ErrInvalidRepoFormat is returned when a repository string is not in 'owner/name' format.
type ErrInvalidRepoFormat struct {
	Repo string
}

func (e *ErrInvalidRepoFormat) Error() string {
	return fmt.Sprintf("invalid repository format: %q, expected 'owner/name'", e.Repo)
}

// StatusError carries a non-2xx HTTP response out of a transport.
type StatusError struct {
	Code       int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d %s", e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("unexpected status %d %s: %s", e.Code, http.StatusText(e.Code), e.Body)
}

// RateLimitError reports that a credential hit a primary or secondary rate limit.
type RateLimitError struct {
	Token      string
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited on token %s (retry after %s): %v", Redact(e.Token), e.RetryAfter, e.Err)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// AuthError is terminal for the unit of work that triggered it.
type AuthError struct {
	Status int
	Err    error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed (status %d): %v", e.Status, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// RepositoryNotFoundError is returned when GitHub cannot resolve a repository.
type RepositoryNotFoundError struct {
	Owner string
	Name  string
}

func (e *RepositoryNotFoundError) Error() string {
	return fmt.Sprintf("repository not found: %s/%s", e.Owner, e.Name)
}

// IsTerminal reports whether err should stop work on the current unit without retrying.
func IsTerminal(err error) bool {
	var authErr *AuthError
	var notFound *RepositoryNotFoundError
	var repoFmt *ErrInvalidRepoFormat
	return stderrors.As(err, &authErr) || stderrors.As(err, &notFound) || stderrors.As(err, &repoFmt)
}

// Redact keeps only the last four characters of a credential.
func Redact(token string) string {
	if token == "" {
		return "<anonymous>"
	}
	if len(token) <= 4 {
		return "..." + token
	}
	return "..." + token[len(token)-4:]
}
