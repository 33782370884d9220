/*
errors.go - Shared error types for the payout engine

PURPOSE:
  Storage-level and structural errors used by every layer. The payout
  package wraps these with domain context (batch keys, writer ids).

ERROR CATEGORIES:
  1. Store errors - uniqueness violations, missing rows, lost updates
  2. Validation errors - malformed periods and records at the boundary

USAGE:
    if errors.Is(err, generic.ErrDuplicateKey) {
        return &payout.BatchExistsError{Key: key}
    }

SEE ALSO:
  - payout/errors.go: domain errors (batch exists, integrity, discrepancy)
  - store/sqlite/sqlite.go: maps driver constraint errors to these
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrDuplicateKey is returned by stores when a unique index rejects a row.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrNotFound is returned when a referenced row doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrConcurrentModification is returned when a compare-and-set update
	// finds the row in a different state than expected.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrInvalidPeriod is returned when a period is malformed (end before start).
	ErrInvalidPeriod = errors.New("invalid period: end before start")

	// ErrInvalidRecord is returned when an external record fails validation.
	ErrInvalidRecord = errors.New("invalid record")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// FieldError describes one invalid field of an external record.
type FieldError struct {
	Record string // e.g. "order", "tip"
	ID     string
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("invalid %s %s: %s %s", e.Record, e.ID, e.Field, e.Reason)
}

func (e *FieldError) Unwrap() error { return ErrInvalidRecord }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing row.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
