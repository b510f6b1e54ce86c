// Package rules holds the immutable compliance policy: rule id,
// description, severity, entity kind, and evaluation predicate. Per spec
// §9 ("dynamic dispatch over rules"), rules are data in a registry table,
// never a class hierarchy — the catalog is built once at startup and never
// mutated at runtime.
package rules

import "github.com/autodbaudit/autodbaudit/internal/types"

// Predicate evaluates a fact's attributes and returns the status the rule
// assigns. Attributes are the kind-specific key/value map the Fact
// Normalizer built; predicates never see raw driver rows.
type Predicate func(attrs map[string]string) types.Status

// Rule is one row of policy: a stable id, a human description, a declared
// severity, the entity kind it applies to, and the predicate that turns raw
// attributes into PASS/WARN/FAIL.
type Rule struct {
	ID          string
	Description string
	Kind        types.EntityKind
	RiskLevel   types.RiskLevel
	Eval        Predicate

	// FixTemplate names the remediation template (internal/remediate) that
	// knows how to generate a script line for a FAIL/WARN fact under this
	// rule. Empty means the rule is informational and has no remediation.
	FixTemplate string
}

// Catalog is an immutable, in-memory table of rules keyed by ID. Construct
// one with NewCatalog and never mutate it after construction — concurrent
// Collect workers read it without locking.
type Catalog struct {
	byID   map[string]Rule
	byKind map[types.EntityKind][]Rule
}

// NewCatalog builds a Catalog from a rule list, indexing by ID and by kind.
// It panics on a duplicate rule ID — that is a programming error in the
// catalog definition, not a runtime condition.
func NewCatalog(rs []Rule) *Catalog {
	c := &Catalog{
		byID:   make(map[string]Rule, len(rs)),
		byKind: make(map[types.EntityKind][]Rule),
	}
	for _, r := range rs {
		if _, dup := c.byID[r.ID]; dup {
			panic("rules: duplicate rule id " + r.ID)
		}
		c.byID[r.ID] = r
		c.byKind[r.Kind] = append(c.byKind[r.Kind], r)
	}
	return c
}

// Get returns the rule with id, if present.
func (c *Catalog) Get(id string) (Rule, bool) {
	r, ok := c.byID[id]
	return r, ok
}

// ForKind returns every rule registered against kind, in registration
// order.
func (c *Catalog) ForKind(kind types.EntityKind) []Rule {
	return c.byKind[kind]
}

// All returns every rule in the catalog, in no particular order.
func (c *Catalog) All() []Rule {
	out := make([]Rule, 0, len(c.byID))
	for _, r := range c.byID {
		out = append(out, r)
	}
	return out
}
