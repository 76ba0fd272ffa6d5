package verifier

import (
	"errors"
	"fmt"
)

// Verification outcomes are values, not control flow: each check returns one
// of the typed errors below and verifyExist sequences primary → reconcile →
// terminal status by inspecting them with errors.As. Store I/O errors pass
// through untyped and are treated as operational failures.

// NotFoundError reports that no record matched the exists record's keys.
type NotFoundError struct {
	Object string // "InstanceUsage", "InstanceDelete", "InstanceReconcile"
	Query  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("Couldn't find %s for %s", e.Object, e.Query)
}

// AmbiguousResultsError reports that more than one record matched where the
// verification needs exactly one.
type AmbiguousResultsError struct {
	Object string
	Query  string
	Count  int
}

func (e *AmbiguousResultsError) Error() string {
	return fmt.Sprintf("Ambiguous results: %d %s records match %s", e.Count, e.Object, e.Query)
}

// FieldMismatchError reports the first field whose value disagreed between
// the exists record and the record it was checked against.
type FieldMismatchError struct {
	Field    string
	Expected string
	Actual   string
}

func (e *FieldMismatchError) Error() string {
	return fmt.Sprintf("Expected %s to be '%s' got '%s'", e.Field, e.Expected, e.Actual)
}

// VerificationError reports a structural precondition failure, e.g. an
// exists record with no launched_at at all.
type VerificationError struct {
	Reason string
}

func (e *VerificationError) Error() string {
	return e.Reason
}

// isVerificationFailure distinguishes the typed verification outcomes from
// operational errors (store I/O, cancelled contexts). Only the former route
// through the reconcile fallback.
func isVerificationFailure(err error) bool {
	var (
		nf *NotFoundError
		ar *AmbiguousResultsError
		fm *FieldMismatchError
		ve *VerificationError
	)
	return errors.As(err, &nf) || errors.As(err, &ar) || errors.As(err, &fm) || errors.As(err, &ve)
}
