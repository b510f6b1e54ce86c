// Package stats is the single source of truth for every user-visible
// count AutoDBAudit reports: CLI summaries, the report's cover sheet,
// and finalize validation all read from here rather than recomputing
// counts independently.
package stats

import "github.com/autodbaudit/autodbaudit/internal/types"

// Snapshot is the full set of counts derived from one run's facts plus
// the actions recorded when that run was produced by a sync.
type Snapshot struct {
	TotalFindings        int
	ActiveIssues         int
	DocumentedExceptions int
	CompliantItems       int

	// ByChangeType counts actions recorded for this sync run, keyed by
	// change type. On a first audit (no baseline to diff against) every
	// discrepant finding is counted under NEW_ISSUE.
	ByChangeType map[types.ChangeType]int
}

// FromFacts computes the status-derived counts (total/active/exception/
// compliant) from one run's facts plus their resolved annotations. It
// does not need actions, so it applies equally to a first audit (no
// sync has happened yet) and to a post-sync run.
func FromFacts(facts []types.Fact, annotations map[string]types.Annotation) Snapshot {
	s := Snapshot{ByChangeType: make(map[types.ChangeType]int)}
	for _, f := range facts {
		if f.EntityKind.InformationalOnly() {
			continue
		}
		s.TotalFindings++

		ann := annotations[f.RowUUID]
		hasException := ann.IsException(f.Status)

		switch {
		case !f.Status.Discrepant():
			s.CompliantItems++
		case hasException:
			s.DocumentedExceptions++
		default:
			s.ActiveIssues++
		}
	}
	return s
}

// WithActions folds a sync run's action log into an existing snapshot's
// per-change-type counts. Call this after FromFacts; Sync does so for
// every run, a first audit included.
func (s Snapshot) WithActions(actions []types.Action) Snapshot {
	if s.ByChangeType == nil {
		s.ByChangeType = make(map[types.ChangeType]int, len(actions))
	}
	for _, a := range actions {
		s.ByChangeType[a.ChangeType]++
	}
	return s
}
