// Package normalize turns raw driver rows into the uniform Fact model:
// building the canonical composite key, extracting kind-specific
// attributes, evaluating the rule predicate, and stamping rule/risk
// metadata. It is the only package that knows how each entity
// kind's key is shaped.
package normalize

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/autodbaudit/autodbaudit/internal/rules"
	"github.com/autodbaudit/autodbaudit/internal/types"
)

// RawRow is one row returned by the Target Driver: column name -> value,
// with nil meaning SQL NULL (as opposed to an empty string, which is a
// present-but-empty value).
type RawRow map[string]any

// KeyBuilder produces the composite key for one row of a given kind. Each
// entity kind has exactly one builder; see builders.go.
type KeyBuilder func(server, instance string, row RawRow) types.CompositeKey

// AttributeExtractor turns a raw row into the kind-specific attribute map a
// Rule predicate consumes. Values are stringified; nil stays absent from
// the map (the null/empty distinction), everything else is rendered to its
// canonical string form.
type AttributeExtractor func(row RawRow) map[string]string

// Normalizer maps raw rows from one rule's query into Fact records.
type Normalizer struct {
	catalog  *rules.Catalog
	builders map[types.EntityKind]KeyBuilder
	extract  map[types.EntityKind]AttributeExtractor
}

// New constructs a Normalizer bound to catalog, with the built-in key
// builders and attribute extractors for every entity kind in the closed
// set (see builders.go).
func New(catalog *rules.Catalog) *Normalizer {
	return &Normalizer{
		catalog:  catalog,
		builders: defaultBuilders(),
		extract:  defaultExtractors(),
	}
}

// Normalize converts one raw row, collected under ruleID against server and
// instance, into a Fact tagged with runID and collectedAt.
func (n *Normalizer) Normalize(runID int64, server, instance, ruleID string, row RawRow, collectedAt time.Time) (types.Fact, error) {
	rule, ok := n.catalog.Get(ruleID)
	if !ok {
		return types.Fact{}, fmt.Errorf("normalize: unknown rule id %s", ruleID)
	}

	build, ok := n.builders[rule.Kind]
	if !ok {
		return types.Fact{}, fmt.Errorf("normalize: no key builder registered for kind %s", rule.Kind)
	}
	extract, ok := n.extract[rule.Kind]
	if !ok {
		return types.Fact{}, fmt.Errorf("normalize: no attribute extractor registered for kind %s", rule.Kind)
	}

	key := build(server, instance, row)
	attrs := extract(row)

	status := rule.Eval(attrs)
	if rule.Kind.InformationalOnly() {
		status = types.StatusInfo
	}

	return types.Fact{
		RunID:        runID,
		EntityKind:   rule.Kind,
		CompositeKey: key,
		Attributes:   attrs,
		Status:       status,
		RuleID:       rule.ID,
		RiskLevel:    rule.RiskLevel,
		CollectedAt:  collectedAt,
	}, nil
}

// StripIcon removes any leading decorative glyphs (non-ASCII runes that are
// not letters or digits; every ASCII rune is kept) from a
// display-oriented string so the remainder matches the SQL-visible
// canonical form — e.g. "🔌 CONNECT" -> "CONNECT".
func StripIcon(s string) string {
	trimmed := strings.TrimLeftFunc(s, func(r rune) bool {
		if r <= unicode.MaxASCII {
			return false
		}
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	return strings.TrimSpace(trimmed)
}

// NFC normalizes text to Unicode Normalization Form C, preserving case.
func NFC(s string) string {
	return norm.NFC.String(s)
}

// CanonicalAttr normalizes a raw value the way an attribute destined for
// key construction or comparison should be: icon-stripped, NFC-normalized.
// Display-only attributes (e.g. free-text descriptions) should not
// generally go through this — only values that participate in keys or
// status comparisons.
func CanonicalAttr(s string) string {
	return NFC(StripIcon(s))
}

// stringify renders a raw driver value to its canonical string attribute
// form. nil (SQL NULL) is handled by the caller before reaching here — this
// only runs on non-nil values.
func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return CanonicalAttr(t)
	case bool:
		if t {
			return "true"
		}
		return "false"
	case fmt.Stringer:
		return CanonicalAttr(t.String())
	default:
		return CanonicalAttr(fmt.Sprintf("%v", t))
	}
}
