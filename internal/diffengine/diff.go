// Package diffengine computes per-entity transitions between a baseline
// run and a current run. Like the corpus's three-way merge, it indexes
// both sides by their primary key, falls back to a secondary key when the
// primary one is unavailable, and performs a full outer join so every
// entity on either side is visited exactly once.
package diffengine

import "github.com/autodbaudit/autodbaudit/internal/types"

// Transition carries everything the State Machine needs to classify one
// entity's change between two runs.
type Transition struct {
	EntityKind   types.EntityKind
	RowUUID      string
	CompositeKey types.CompositeKey
	Baseline     *types.Fact
	Current      *types.Fact
	Annotation   *types.Annotation
}

// Diff joins baselineFacts and currentFacts by row UUID, falling back to
// composite key for rows that predate UUID assignment, and attaches the
// matching annotation from annotations (keyed by row UUID). This is the
// only place in the system permitted to use composite-key fallback
// matching — everything downstream (the state machine, the sync
// orchestrator) works exclusively in terms of row UUIDs.
func Diff(baselineFacts, currentFacts []types.Fact, annotations map[string]types.Annotation) []Transition {
	baselineByUUID := make(map[string]types.Fact)
	baselineByKey := make(map[string]types.Fact)
	for _, f := range baselineFacts {
		if f.RowUUID != "" {
			baselineByUUID[f.RowUUID] = f
		} else {
			baselineByKey[f.CompositeKey.Canonical()] = f
		}
	}

	currentByUUID := make(map[string]types.Fact)
	currentByKey := make(map[string]types.Fact)
	for _, f := range currentFacts {
		if f.RowUUID != "" {
			currentByUUID[f.RowUUID] = f
		} else {
			currentByKey[f.CompositeKey.Canonical()] = f
		}
	}

	// visitedUUID / visitedKey prevent emitting the same entity twice when
	// it appears in both the UUID-indexed and key-indexed maps (a fact that
	// gained a UUID between runs matches by key on one side, by UUID on
	// the other).
	visitedUUID := make(map[string]bool)
	visitedKey := make(map[string]bool)

	var out []Transition

	emit := func(uuid string, baseline, current *types.Fact) {
		var kind types.EntityKind
		var key types.CompositeKey
		switch {
		case current != nil:
			kind, key = current.EntityKind, current.CompositeKey
		case baseline != nil:
			kind, key = baseline.EntityKind, baseline.CompositeKey
		}
		var ann *types.Annotation
		if uuid != "" {
			if a, ok := annotations[uuid]; ok {
				a := a
				ann = &a
			}
		}
		out = append(out, Transition{
			EntityKind:   kind,
			RowUUID:      uuid,
			CompositeKey: key,
			Baseline:     baseline,
			Current:      current,
			Annotation:   ann,
		})
	}

	// Pass 1: every UUID seen on either side.
	allUUIDs := make(map[string]bool)
	for uuid := range baselineByUUID {
		allUUIDs[uuid] = true
	}
	for uuid := range currentByUUID {
		allUUIDs[uuid] = true
	}
	for uuid := range allUUIDs {
		if visitedUUID[uuid] {
			continue
		}
		visitedUUID[uuid] = true
		var b, c *types.Fact
		if f, ok := baselineByUUID[uuid]; ok {
			f := f
			b = &f
		}
		if f, ok := currentByUUID[uuid]; ok {
			f := f
			c = &f
		}
		if b == nil && c != nil {
			k := c.CompositeKey.Canonical()
			if f, ok := baselineByKey[k]; ok && !visitedKey[k] {
				f := f
				b = &f
				visitedKey[k] = true
			}
		}
		emit(uuid, b, c)
	}

	// Pass 2: pre-UUID rows, matched by composite key fallback.
	allKeys := make(map[string]bool)
	for k := range baselineByKey {
		allKeys[k] = true
	}
	for k := range currentByKey {
		allKeys[k] = true
	}
	for k := range allKeys {
		if visitedKey[k] {
			continue
		}
		visitedKey[k] = true
		var b, c *types.Fact
		if f, ok := baselineByKey[k]; ok {
			f := f
			b = &f
		}
		if f, ok := currentByKey[k]; ok {
			f := f
			c = &f
		}
		emit("", b, c)
	}

	return out
}
