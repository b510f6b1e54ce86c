// Package errs defines AutoDBAudit's error taxonomy: one sentinel per kind
// the system distinguishes, plus the wrap helpers every layer uses to attach
// operation context with %w so callers can errors.Is/As up the stack.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrTargetUnreachable: Collect could not connect to a target at all.
	// Recovered — the target's facts are simply absent this run.
	ErrTargetUnreachable = errors.New("target unreachable")

	// ErrQueryFailed: one rule's query failed against a reachable target.
	// Recovered per-rule.
	ErrQueryFailed = errors.New("query failed")

	// ErrSchemaMismatch: the history database's schema version does not
	// match and no migration is available. Fatal; refuse to open.
	ErrSchemaMismatch = errors.New("schema mismatch")

	// ErrReportLocked: the report file is held open by an external viewer.
	// Fatal for this invocation (exit code 4).
	ErrReportLocked = errors.New("report locked")

	// ErrUUIDCollision: a newly minted row UUID collided with an existing
	// one. Recovered by regeneration.
	ErrUUIDCollision = errors.New("uuid collision")

	// ErrDuplicateUUIDInReport: the same UUID appeared on two data rows in
	// one sheet. Recovered: keep the first, regenerate the second.
	ErrDuplicateUUIDInReport = errors.New("duplicate uuid in report")

	// ErrAnnotationParse: a single annotation row could not be parsed.
	// Recovered per-row; the prior annotation is preserved.
	ErrAnnotationParse = errors.New("annotation parse error")

	// ErrActionDedupConflict: an action already exists for this
	// (row_uuid, change_type, sync_run_id). Silently suppressed by the
	// store — this error is retained for tests and logging only.
	ErrActionDedupConflict = errors.New("action already recorded")

	// ErrNotFound is the generic "no such row" condition used by the
	// history store's read paths.
	ErrNotFound = errors.New("not found")
)

// Wrap attaches an operation label to err with %w, so errors.Is/As keep
// working through the wrapper. It returns nil if err is nil.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Wrapf is Wrap with a formatted label.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// IsRecoverable reports whether err is one of the kinds marked as
// "recovered" — the caller should log a warning and continue rather than
// abort the invocation.
func IsRecoverable(err error) bool {
	switch {
	case errors.Is(err, ErrTargetUnreachable),
		errors.Is(err, ErrQueryFailed),
		errors.Is(err, ErrUUIDCollision),
		errors.Is(err, ErrDuplicateUUIDInReport),
		errors.Is(err, ErrAnnotationParse),
		errors.Is(err, ErrActionDedupConflict):
		return true
	default:
		return false
	}
}

// ExitCode maps a fatal error to its CLI exit code.
// Returns 0 if err is nil, 3 (internal error) as the default for anything
// not specifically classified.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrReportLocked):
		return 4
	case errors.Is(err, ErrTargetUnreachable), errors.Is(err, ErrQueryFailed):
		return 2
	default:
		return 3
	}
}
