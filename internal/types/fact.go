package types

import "time"

// Fact is one observation about one entity during one audit run. Facts are
// immutable once recorded: a later run produces a new Fact for the same
// entity rather than mutating this one.
type Fact struct {
	RunID        int64
	EntityKind   EntityKind
	CompositeKey CompositeKey
	RowUUID      string // 8-character lowercase hex, minted by internal/identity
	Attributes   map[string]string
	Status       Status
	RuleID       string
	RiskLevel    RiskLevel
	CollectedAt  time.Time
}

// AttributeOrEmpty returns the attribute value for key, distinguishing
// "present and empty" from "absent" the way the caller needs it: ok is
// false only when the key was never set (i.e. the source value was NULL).
func (f Fact) AttributeOrEmpty(key string) (value string, ok bool) {
	value, ok = f.Attributes[key]
	return value, ok
}

// AuditRunStatus is the lifecycle state of an AuditRun.
type AuditRunStatus string

const (
	RunRunning   AuditRunStatus = "running"
	RunCompleted AuditRunStatus = "completed"
	RunFailed    AuditRunStatus = "failed"
)

// AuditRun records one execution of the Collect phase (standalone audit or
// the re-audit inside a sync).
type AuditRun struct {
	ID          int64
	StartedAt   time.Time
	EndedAt     *time.Time
	Status      AuditRunStatus
	Organization string
	ConfigHash  string
	BaselineRef *int64 // previous completed run, if any
	Finalized   bool   // frozen for archival; baseline selection does not consult this flag
	FinalizedAt *time.Time
}

// ReviewStatus is the operator-facing exception workflow state stored on an
// Annotation. "Exception" is the only value the state machine treats
// specially; other values round-trip but carry no semantics here.
type ReviewStatus string

const (
	ReviewNone      ReviewStatus = ""
	ReviewException ReviewStatus = "Exception"
)

// Annotation is an operator-authored record keyed primarily by RowUUID, with
// CompositeKey as a fallback for pre-UUID data. Annotations outlive facts:
// when the underlying fact disappears the annotation becomes orphaned
// rather than being deleted.
type Annotation struct {
	RowUUID      string
	CompositeKey CompositeKey
	Purpose      string // aka "notes"
	Justification string
	ReviewStatus ReviewStatus
	LastReviewed *time.Time
	Indicator    string
	Orphaned     bool
}

// IsException reports whether, combined with the current fact's status,
// this annotation designates a documented exception. A PASS+exception
// combination is stored but never counted.
func (a Annotation) IsException(currentStatus Status) bool {
	if !currentStatus.Discrepant() {
		return false
	}
	return a.Justification != "" || a.ReviewStatus == ReviewException
}

// HasContent reports whether an operator has attached anything to this
// annotation at all — justification, notes, or an explicit review
// status — independent of any fact's status. Unlike IsException this is
// not gated on the row being currently discrepant: it is what lets a
// documentation-only note on a PASS row (not an exception, since PASS+note
// is stored but not counted) be recognized as "there was already a note
// here" once that row regresses.
func (a Annotation) HasContent() bool {
	return a.Justification != "" || a.Purpose != "" || a.ReviewStatus != ReviewNone
}

// ChangeType is the state machine's classification of a transition between
// two runs. The set is closed; see internal/statemachine for the classifier.
type ChangeType string

const (
	ChangeNewIssue         ChangeType = "NEW_ISSUE"
	ChangeFixed            ChangeType = "FIXED"
	ChangeRegression       ChangeType = "REGRESSION"
	ChangeStillFailing     ChangeType = "STILL_FAILING"
	ChangeNoChange         ChangeType = "NO_CHANGE"
	ChangeExceptionAdded   ChangeType = "EXCEPTION_ADDED"
	ChangeExceptionRemoved ChangeType = "EXCEPTION_REMOVED"
	ChangeExceptionUpdated ChangeType = "EXCEPTION_UPDATED"
	ChangeGone             ChangeType = "GONE"
)

// Action is an entry in the append-only action log produced by the sync
// engine. At most one Action exists per (RowUUID, ChangeType, SyncRunID).
type Action struct {
	ID                int64
	EntityKind        EntityKind
	RowUUID           string
	CompositeKey      CompositeKey
	ChangeType        ChangeType
	RiskLevel         RiskLevel
	Description       string
	DetectedAt        time.Time
	UserDateOverride  *time.Time
	UserNotes         string
	SyncRunID         int64
}

// RemediationRun is a snapshot of the facts and pre-change values for which
// scripts were generated at a given aggressiveness level.
type RemediationRun struct {
	ID              int64
	SourceRunID     int64
	Aggressiveness  int
	GeneratedAt     time.Time
	Items           []RemediationItem
}

// RemediationItem is one generated change: the entity it targets, the
// pre-change value snapshotted for rollback, and whether it was skipped as
// a documented exception.
type RemediationItem struct {
	ID            int64
	EntityKind    EntityKind
	RowUUID       string
	CompositeKey  CompositeKey
	ScriptKind    string // "tsql" or "os"
	PreChangeValue string
	Activated     bool
	SkippedReason string // non-empty iff the item was skipped (documented exception, connecting identity, no recipe, or manual action); skipped items are never activated
}
