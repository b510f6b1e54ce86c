// Package queryprovider selects the SQL text for a rule given a target's
// detected major version. The registration pattern (string/int key ->
// constructor, looked up at runtime) follows the storage-backend factory
// pattern: providers register themselves by version family, and callers
// never switch on version directly.
package queryprovider

import "fmt"

// Provider selects query text for a rule id. Implementations are
// version-family specific; GetQuery must return syntax valid for every
// version in that family.
type Provider interface {
	// Name identifies the provider for logging ("sql2008", "sql2019plus").
	Name() string

	// GetQuery returns the SQL text for ruleID, or an error if this
	// provider has no query for that rule.
	GetQuery(ruleID string) (string, error)
}

// staticProvider is a Provider backed by a fixed map; both built-in
// providers use this shape. New version-specific providers are additions
// to the registry, never new Provider implementations.
type staticProvider struct {
	name    string
	queries map[string]string
}

func (p *staticProvider) Name() string { return p.name }

func (p *staticProvider) GetQuery(ruleID string) (string, error) {
	q, ok := p.queries[ruleID]
	if !ok {
		return "", fmt.Errorf("queryprovider: %s: no query registered for rule %s", p.name, ruleID)
	}
	return q, nil
}

// Registry selects a Provider for a target's detected major version.
// versionMajor follows SERVERPROPERTY('ProductMajorVersion'): 10 = SQL
// Server 2008/2008 R2, 11 = 2012, ... 16 = 2022.
type Registry struct {
	// families is kept as an ordered slice (not a map) so registration
	// order is deterministic and the first matching family wins — the
	// same "most specific first" discipline the rest of the corpus uses
	// for backend/parser registries.
	families []family
}

type family struct {
	matches  func(versionMajor int) bool
	provider Provider
}

// NewRegistry returns an empty registry. Use RegisterFamily to add
// providers; see NewDefaultRegistry for AutoDBAudit's built-in 2008/2019+
// split.
func NewRegistry() *Registry {
	return &Registry{}
}

// RegisterFamily adds a provider for every version where matches returns
// true. Families are tried in registration order; register the narrowest
// match first.
func (r *Registry) RegisterFamily(matches func(versionMajor int) bool, provider Provider) {
	r.families = append(r.families, family{matches: matches, provider: provider})
}

// ProviderFor returns the first registered provider whose family matches
// versionMajor.
func (r *Registry) ProviderFor(versionMajor int) (Provider, error) {
	for _, f := range r.families {
		if f.matches(versionMajor) {
			return f.provider, nil
		}
	}
	return nil, fmt.Errorf("queryprovider: no provider registered for major version %d", versionMajor)
}

// GetQuery is a convenience that resolves the provider for versionMajor and
// fetches ruleID's query in one call — the shape callers (the Target
// Driver) actually use.
func (r *Registry) GetQuery(ruleID string, versionMajor int) (string, error) {
	p, err := r.ProviderFor(versionMajor)
	if err != nil {
		return "", err
	}
	return p.GetQuery(ruleID)
}
