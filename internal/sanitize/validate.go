package sanitize

import (
	"errors"
	"fmt"
	"regexp"
)

// Validation errors for identifier checks.
var (
	// ErrInvalidPrincipal indicates the principal format is invalid.
	ErrInvalidPrincipal = errors.New("invalid principal format")

	// ErrInvalidTaskID indicates the task ID format is invalid.
	ErrInvalidTaskID = errors.New("invalid task ID format")
)

const maxIdentifierLen = 128

// identifierPattern allows alphanumeric, hyphen, underscore, dot.
var identifierPattern = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// ValidatePrincipal checks a principal identifier. Principals flow into
// rate-limit keys and log fields, so they must stay within a tight charset.
func ValidatePrincipal(principal string) error {
	if principal == "" {
		return fmt.Errorf("%w: empty", ErrInvalidPrincipal)
	}
	if len(principal) > maxIdentifierLen {
		return fmt.Errorf("%w: exceeds %d characters", ErrInvalidPrincipal, maxIdentifierLen)
	}
	if !identifierPattern.MatchString(principal) {
		return fmt.Errorf("%w: %q", ErrInvalidPrincipal, principal)
	}
	return nil
}

// ValidateTaskID checks a caller-supplied task identifier.
func ValidateTaskID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidTaskID)
	}
	if len(id) > maxIdentifierLen {
		return fmt.Errorf("%w: exceeds %d characters", ErrInvalidTaskID, maxIdentifierLen)
	}
	if !identifierPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidTaskID, id)
	}
	return nil
}
