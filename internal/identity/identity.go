// Package identity bridges the composite-key world (the only identity
// known at collection time) and the row-UUID world (the only identity
// stable across schema drift in the report). Every other package either
// mints/validates through here or falls back to a composite-key lookup
// explicitly — callers never invent their own bridging logic.
package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/autodbaudit/autodbaudit/internal/errs"
	"github.com/autodbaudit/autodbaudit/internal/idgen"
	"github.com/autodbaudit/autodbaudit/internal/types"
)

// Lookup is the minimal read surface the Identity Service needs from the
// History Store. It is satisfied by internal/history.Store, and by fakes in
// tests.
type Lookup interface {
	// UUIDExists reports whether uuid is already assigned to any row in the
	// entire history (uniqueness is global, not per-run).
	UUIDExists(ctx context.Context, uuid string) (bool, error)

	// ExistingUUIDForKey returns the UUID previously assigned to this
	// composite key, if any fact has ever carried it.
	ExistingUUIDForKey(ctx context.Context, key types.CompositeKey) (uuid string, found bool, err error)
}

// Options configures minting behavior.
type Options struct {
	// ReuseUUIDOnResurface controls whether an entity that disappears and
	// later reappears (FIXED then regressed, or GONE then re-scanned) keeps
	// its prior UUID or mints a new one. The spec's dominant design
	// document favors minting a new UUID on resurfacing; that is the
	// default here. Set true to reuse instead.
	ReuseUUIDOnResurface bool

	// MaxCollisionRetries bounds how many times Mint will regenerate before
	// giving up. At a fleet of <=10^6 rows the chance of needing more than a
	// couple of retries is negligible; this is a backstop, not a tuning
	// knob.
	MaxCollisionRetries int
}

// DefaultOptions returns the conservative defaults: never reuse a UUID
// across a disappear/resurface gap unless the caller opts in.
func DefaultOptions() Options {
	return Options{
		ReuseUUIDOnResurface: false,
		MaxCollisionRetries:  8,
	}
}

// Service mints and validates row UUIDs against a Lookup.
type Service struct {
	lookup Lookup
	opts   Options
}

// New constructs a Service bound to lookup with opts.
func New(lookup Lookup, opts Options) *Service {
	return &Service{lookup: lookup, opts: opts}
}

// ResolveUUID returns the row UUID a collected fact should carry, given
// whether its composite key was present in the immediately preceding run
// (continuing is the caller's signal for that, typically "found in
// baseline facts"). A continuing entity always reuses its existing
// UUID — that is the entire point of the Identity Subsystem — regardless
// of ReuseUUIDOnResurface, which governs only the disappear/reappear gap.
// Only entities absent from the immediately preceding run (a fresh
// discovery, or one resurfacing after a GONE/FIXED gap) go through
// MintForNewEntity's reuse-or-mint decision.
func (s *Service) ResolveUUID(ctx context.Context, key types.CompositeKey, firstSeen time.Time, continuing bool) (string, error) {
	if continuing {
		prior, found, err := s.lookup.ExistingUUIDForKey(ctx, key)
		if err != nil {
			return "", errs.Wrap("identity: checking existing uuid for key", err)
		}
		if found {
			return prior, nil
		}
		// The caller believed this entity continuing but the store has no
		// record of it (e.g. its prior fact predates UUID assignment).
		// Fall through to ordinary new-entity resolution rather than fail.
	}
	return s.MintForNewEntity(ctx, key, firstSeen)
}

// MintForNewEntity returns the UUID a freshly observed entity (no prior
// fact, no prior annotation) should carry. It first checks whether the
// composite key has a UUID from a previous appearance, honoring
// ReuseUUIDOnResurface; otherwise it derives a fresh one and resolves any
// collision by regenerating with an incrementing nonce, then falling back
// to pure randomness.
func (s *Service) MintForNewEntity(ctx context.Context, key types.CompositeKey, firstSeen time.Time) (string, error) {
	if prior, found, err := s.lookup.ExistingUUIDForKey(ctx, key); err != nil {
		return "", errs.Wrap("identity: checking existing uuid for key", err)
	} else if found && s.opts.ReuseUUIDOnResurface {
		return prior, nil
	}

	for attempt := 0; attempt < s.opts.MaxCollisionRetries; attempt++ {
		candidate := idgen.NewRowUUID(key.Canonical(), firstSeen, attempt)
		exists, err := s.lookup.UUIDExists(ctx, candidate)
		if err != nil {
			return "", errs.Wrap("identity: checking uuid existence", err)
		}
		if !exists {
			return candidate, nil
		}
	}

	// Deterministic derivation is exhausted; fall back to randomness rather
	// than fail the audit outright.
	for attempt := 0; attempt < s.opts.MaxCollisionRetries; attempt++ {
		candidate, err := idgen.RandomRowUUID()
		if err != nil {
			return "", errs.Wrap("identity: minting random uuid", err)
		}
		exists, err := s.lookup.UUIDExists(ctx, candidate)
		if err != nil {
			return "", errs.Wrap("identity: checking uuid existence", err)
		}
		if !exists {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("identity: %w: exhausted %d retries for key %s", errs.ErrUUIDCollision, s.opts.MaxCollisionRetries, key)
}

// ResolveReportUUID handles the operator-induced anomalies an annotation
// reader watches for in a UUID cell read back from an edited report:
// empty, malformed, or already seen elsewhere in the same sheet this
// pass. It returns the UUID to use and whether a warning action should be
// logged.
func (s *Service) ResolveReportUUID(ctx context.Context, raw string, key types.CompositeKey, firstSeen time.Time, seenThisSheet map[string]bool) (uuid string, warn bool, warnReason string, err error) {
	normalized := idgen.Normalize(raw)

	switch {
	case normalized == "":
		uuid, err = s.MintForNewEntity(ctx, key, firstSeen)
		if err != nil {
			return "", false, "", err
		}
		return uuid, true, "empty uuid on data row; regenerated", nil

	case !idgen.Valid(normalized):
		uuid, err = s.MintForNewEntity(ctx, key, firstSeen)
		if err != nil {
			return "", false, "", err
		}
		return uuid, true, "malformed uuid on data row; regenerated", nil

	case seenThisSheet[normalized]:
		uuid, err = s.MintForNewEntity(ctx, key, firstSeen)
		if err != nil {
			return "", false, "", err
		}
		return uuid, true, fmt.Sprintf("duplicate uuid %s in sheet; kept first occurrence, regenerated this one", normalized), nil

	default:
		return normalized, false, "", nil
	}
}
