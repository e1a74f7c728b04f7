// Package reasoning adapts language-model backends that read clinical notes
// and propose claim corrections.
package reasoning

import (
	"context"
	"errors"
	"fmt"

	"github.com/claimsense/claimsense/internal/domain/claim"
	"github.com/claimsense/claimsense/internal/domain/coding"
	"github.com/claimsense/claimsense/internal/domain/validation"
)

// Provider extracts entities from notes and suggests claim fixes.
type Provider interface {
	Name() string
	ExtractEntities(ctx context.Context, note string) (coding.Entities, error)
	SuggestFixes(ctx context.Context, req FixRequest) ([]claim.Fix, error)
}

// FixRequest is the context handed to a provider when asking for fixes.
type FixRequest struct {
	Claim     claim.Claim        `json:"claim"`
	Issues    []validation.Issue `json:"validation_issues"`
	Citations []string           `json:"policy_citations"`
}

// Class tells callers whether a failed call is worth retrying.
type Class int

const (
	Permanent Class = iota
	Transient
)

func (c Class) String() string {
	if c == Transient {
		return "transient"
	}
	return "permanent"
}

// Error is returned by every adapter. StatusCode is set for HTTP failures.
type Error struct {
	Op         string
	Class      Class
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("reasoning %s: %s (status %d): %v", e.Op, e.Class, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("reasoning %s: %s: %v", e.Op, e.Class, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsTransient reports whether err carries a transient reasoning failure.
func IsTransient(err error) bool {
	var re *Error
	return errors.As(err, &re) && re.Class == Transient
}

func transient(op string, status int, err error) error {
	return &Error{Op: op, Class: Transient, StatusCode: status, Err: err}
}

func permanent(op string, status int, err error) error {
	return &Error{Op: op, Class: Permanent, StatusCode: status, Err: err}
}
