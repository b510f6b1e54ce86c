// Package statemachine is the authoritative classifier that turns a
// diffengine.Transition into a ChangeType. It is pure: same inputs always
// produce the same output, and it never touches storage — the Sync
// Orchestrator feeds it post-persistence annotations explicitly so
// classification always sees current findings rather than a stale
// baseline.
package statemachine

import "github.com/autodbaudit/autodbaudit/internal/types"

// Input is everything the classifier needs, already resolved by the
// caller. No field here is derived internally — the Sync Orchestrator
// computes HasException/HadException from the post-persistence annotation
// so that ordering bug class cannot reappear.
type Input struct {
	BaselineStatus     types.Status // zero value (empty) means no baseline fact existed
	BaselineExists     bool
	CurrentStatus      types.Status
	CurrentExists      bool
	HasException       bool // current fact is FAIL/WARN and its (post-persistence) annotation documents an exception
	HadException       bool // same computation against the baseline fact/annotation pairing
	InstanceWasScanned bool // false if the target was unreachable this run

	// BaselineAnnotationExists reports whether an annotation already had
	// content (justification, notes, or an explicit review status)
	// attached to this row as of the baseline, regardless of the baseline
	// fact's status. This is deliberately NOT the same thing as
	// HadException: IsException is always false against a PASS baseline
	// status, so Rule 3's "a pre-existing note on a PASS row" promotion
	// check needs a signal that isn't gated on discrepancy.
	BaselineAnnotationExists bool
}

// Result is the classifier's output: the change type plus the two flags
// every classification must carry.
type Result struct {
	ChangeType          types.ChangeType
	IsLoggableAction    bool
	CountsAsActiveIssue bool

	// PromoteAnnotationException is set when a REGRESSION auto-promotes a
	// pre-existing PASS-row annotation into an exception: the caller must
	// also emit EXCEPTION_ADDED and set review_status = "Exception" on the
	// annotation.
	PromoteAnnotationException bool
}

// Classify applies the priority rules in order, stopping at the first
// that matches.
func Classify(in Input) Result {
	countsActive := in.CurrentExists && in.CurrentStatus.Discrepant() && !in.HasException

	// Rule 1: instance unreachable this run and a baseline fact existed.
	if !in.InstanceWasScanned && in.BaselineExists {
		return Result{ChangeType: types.ChangeGone, IsLoggableAction: true, CountsAsActiveIssue: countsActive}
	}

	// Rule 2: baseline discrepant, current passing -> FIXED. Wins over
	// EXCEPTION_REMOVED even when HadException was true.
	if in.BaselineExists && in.BaselineStatus.Discrepant() && in.CurrentExists && in.CurrentStatus == types.StatusPass {
		return Result{ChangeType: types.ChangeFixed, IsLoggableAction: true, CountsAsActiveIssue: false}
	}

	// Rule 3: baseline passing, current discrepant -> REGRESSION, with
	// auto-promotion of a pre-existing annotation.
	if in.BaselineExists && in.BaselineStatus == types.StatusPass && in.CurrentExists && in.CurrentStatus.Discrepant() {
		return Result{
			ChangeType:                 types.ChangeRegression,
			IsLoggableAction:           true,
			CountsAsActiveIssue:        countsActive,
			PromoteAnnotationException: in.BaselineAnnotationExists, // a note existed on the PASS row
		}
	}

	// Rule 4: no baseline fact at all, current discrepant -> NEW_ISSUE.
	if !in.BaselineExists && in.CurrentExists && in.CurrentStatus.Discrepant() {
		return Result{ChangeType: types.ChangeNewIssue, IsLoggableAction: true, CountsAsActiveIssue: countsActive}
	}

	// Rule 5: exception flag transitioned.
	if in.HasException != in.HadException {
		if in.HasException {
			return Result{ChangeType: types.ChangeExceptionAdded, IsLoggableAction: true, CountsAsActiveIssue: countsActive}
		}
		return Result{ChangeType: types.ChangeExceptionRemoved, IsLoggableAction: true, CountsAsActiveIssue: countsActive}
	}

	// Rule 5b: exception stayed true but its text changed is signaled by
	// the caller via exceptionTextChanged (see ClassifyWithTextChange);
	// Classify alone cannot see annotation text, only the boolean flags.

	// Rule 6: entity present in both runs, still discrepant (whether its
	// exact status value moved between FAIL and WARN or held steady), and
	// neither FIXED, REGRESSION, NEW, nor GONE applied above.
	if in.CurrentExists && in.BaselineExists && in.CurrentStatus.Discrepant() {
		return Result{ChangeType: types.ChangeStillFailing, IsLoggableAction: false, CountsAsActiveIssue: countsActive}
	}

	return Result{ChangeType: types.ChangeNoChange, IsLoggableAction: false, CountsAsActiveIssue: countsActive}
}

// ClassifyWithTextChange is Classify plus the exception-text-changed
// signal ("text changed -> EXCEPTION_UPDATED"), which Classify's
// boolean-only Input cannot express on its own.
func ClassifyWithTextChange(in Input, exceptionTextChanged bool) Result {
	res := Classify(in)
	if res.ChangeType == types.ChangeStillFailing && in.HasException && in.HadException && exceptionTextChanged {
		res.ChangeType = types.ChangeExceptionUpdated
		res.IsLoggableAction = true
	}
	return res
}
