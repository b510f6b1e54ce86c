// Package syncorch is the Sync Orchestrator: it runs the full audit-and-
// reconcile pipeline end to end — read operator edits, collect fresh
// facts, diff against the baseline, classify every change, record it, and
// write the next report — inside one history-store transaction boundary
// per phase, never all at once, so a crash mid-run leaves a diagnosable
// partial state instead of a torn one.
package syncorch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"github.com/autodbaudit/autodbaudit/internal/annotate"
	"github.com/autodbaudit/autodbaudit/internal/config"
	"github.com/autodbaudit/autodbaudit/internal/diffengine"
	"github.com/autodbaudit/autodbaudit/internal/driver"
	"github.com/autodbaudit/autodbaudit/internal/errs"
	"github.com/autodbaudit/autodbaudit/internal/history"
	"github.com/autodbaudit/autodbaudit/internal/identity"
	"github.com/autodbaudit/autodbaudit/internal/normalize"
	"github.com/autodbaudit/autodbaudit/internal/queryprovider"
	"github.com/autodbaudit/autodbaudit/internal/rules"
	"github.com/autodbaudit/autodbaudit/internal/stats"
	"github.com/autodbaudit/autodbaudit/internal/statemachine"
	"github.com/autodbaudit/autodbaudit/internal/types"
)

// CredentialResolver turns a target's credential_ref into a SQL login and
// password at connect time. Implementations live outside this package
// (DPAPI vault, interactive prompt, environment) — the orchestrator never
// sees or stores the resolved secret beyond one connection attempt.
type CredentialResolver func(ref string) (user, password string, err error)

// Orchestrator wires together every component the sync pipeline touches.
// Construct one with New per invocation; it is not meant to be reused
// across report paths.
type Orchestrator struct {
	Store      *history.Store
	Registry   *queryprovider.Registry
	Catalog    *rules.Catalog
	Identity   *identity.Service
	Normalizer *normalize.Normalizer
	KeyBuilders map[types.EntityKind]annotate.KeyBuilder
	Resolver   CredentialResolver
	Log        *slog.Logger
}

// New constructs an Orchestrator from its collaborators. keyBuilders must
// cover every entity kind the report round-trips; internal/normalize's
// built-in set satisfies this.
func New(store *history.Store, registry *queryprovider.Registry, catalog *rules.Catalog,
	idSvc *identity.Service, keyBuilders map[types.EntityKind]annotate.KeyBuilder,
	resolver CredentialResolver, log *slog.Logger) *Orchestrator {
	return &Orchestrator{
		Store:       store,
		Registry:    registry,
		Catalog:     catalog,
		Identity:    idSvc,
		Normalizer:  normalize.New(catalog),
		KeyBuilders: keyBuilders,
		Resolver:    resolver,
		Log:         log,
	}
}

// Result summarizes one sync invocation for the CLI layer.
type Result struct {
	RunID     int64
	BaselineID int64
	HasBaseline bool
	Stats     stats.Snapshot
	Actions   []types.Action
	Warnings  []string
}

// targetFacts pairs one target's collected facts with the errors
// encountered reaching it, so a single unreachable target never aborts
// the whole sync.
type targetFacts struct {
	target driver.Target
	facts  []types.Fact
	err    error
}

// Sync runs the nine-phase pipeline: preflight, read annotations, persist
// annotations, collect, diff, classify, record actions, apply forward
// effects, write report.
func (o *Orchestrator) Sync(ctx context.Context, organization string, targets []config.Target, maxParallel int, reportPath string) (Result, error) {
	var result Result

	// Phase 1: preflight.
	if err := o.preflight(ctx); err != nil {
		return result, err
	}
	reportLock, err := o.lockReportFile(reportPath)
	if err != nil {
		return result, err
	}
	defer reportLock.Unlock() //nolint:errcheck

	baselineID, hasBaseline, err := o.Store.LatestCompletedRun(ctx)
	if err != nil {
		return result, errs.Wrap("syncorch: latest completed run", err)
	}
	result.BaselineID, result.HasBaseline = baselineID, hasBaseline

	configHash := configFingerprint(organization, targets)
	runID, err := o.Store.BeginRun(ctx, organization, configHash)
	if err != nil {
		return result, errs.Wrap("syncorch: begin run", err)
	}
	result.RunID = runID

	// Phase 2: read operator edits from the existing report, if any.
	var deltas []annotate.AnnotationDelta
	if _, statErr := os.Stat(reportPath); statErr == nil {
		deltas, err = o.readAnnotations(ctx, reportPath)
		if err != nil {
			_ = o.Store.CompleteRun(ctx, runID, types.RunFailed)
			return result, err
		}
	}

	// Phase 3: persist those edits before collection, so Collect's facts
	// are diffed against the operator's latest intent, not stale state.
	// textChanged records, per row UUID, whether this sync's edit altered
	// the justification text of an annotation that was already an
	// exception on both sides — the only signal ClassifyWithTextChange
	// needs to tell EXCEPTION_UPDATED apart from STILL_FAILING.
	textChanged := make(map[string]bool, len(deltas))
	for _, d := range deltas {
		prior, err := o.Store.UpsertAnnotation(ctx, d.RowUUID, d.CompositeKey, d.Fields)
		if err != nil {
			_ = o.Store.CompleteRun(ctx, runID, types.RunFailed)
			return result, errs.Wrap("syncorch: persist annotation", err)
		}
		if prior.Justification != d.Fields.Justification {
			textChanged[d.RowUUID] = true
		}
		if d.Warning != "" {
			result.Warnings = append(result.Warnings, d.Warning)
		}
	}

	// Baseline facts are loaded before Collect, not after: the Identity
	// Service needs to know, while minting each fresh fact's uuid, whether
	// its composite key was already present in the immediately preceding
	// run (a continuing entity, which must always reuse its prior uuid)
	// or absent from it (a fresh discovery or a resurfacing one, which
	// goes through the reuse-or-mint-new decision instead).
	var baselineFacts []types.Fact
	if hasBaseline {
		baselineFacts, err = o.Store.LoadBaseline(ctx, baselineID)
		if err != nil {
			_ = o.Store.CompleteRun(ctx, runID, types.RunFailed)
			return result, errs.Wrap("syncorch: load baseline", err)
		}
	}
	continuingKeys := make(map[string]bool, len(baselineFacts))
	for _, f := range baselineFacts {
		continuingKeys[f.CompositeKey.Canonical()] = true
	}

	// Phase 4: collect, bounded to maxParallel targets at a time.
	facts, collectWarnings, unreachable, err := o.collect(ctx, runID, targets, maxParallel, continuingKeys)
	if err != nil {
		_ = o.Store.CompleteRun(ctx, runID, types.RunFailed)
		return result, err
	}
	result.Warnings = append(result.Warnings, collectWarnings...)

	if err := o.Store.RecordFacts(ctx, facts); err != nil {
		_ = o.Store.CompleteRun(ctx, runID, types.RunFailed)
		return result, errs.Wrap("syncorch: record facts", err)
	}

	annotations, err := o.Store.LoadAnnotationsByUUID(ctx)
	if err != nil {
		_ = o.Store.CompleteRun(ctx, runID, types.RunFailed)
		return result, errs.Wrap("syncorch: load annotations", err)
	}

	// Phase 5: diff.
	transitions := diffengine.Diff(baselineFacts, facts, annotations)

	// Phase 6: classify, phase 7: record actions, phase 8: apply forward
	// effects (exception promotion carried into the annotation store).
	var actions []types.Action
	for _, t := range transitions {
		res := classify(t, textChanged[t.RowUUID], unreachable)
		if res.PromoteAnnotationException && t.Annotation != nil {
			promoted := *t.Annotation
			promoted.ReviewStatus = types.ReviewException
			if _, err := o.Store.UpsertAnnotation(ctx, t.RowUUID, t.CompositeKey, promoted); err != nil {
				_ = o.Store.CompleteRun(ctx, runID, types.RunFailed)
				return result, errs.Wrap("syncorch: promote exception", err)
			}
			annotations[t.RowUUID] = promoted
		}
		if !res.IsLoggableAction {
			continue
		}
		action := types.Action{
			EntityKind:   t.EntityKind,
			RowUUID:      t.RowUUID,
			CompositeKey: t.CompositeKey,
			ChangeType:   res.ChangeType,
			DetectedAt:   time.Now().UTC(),
			SyncRunID:    runID,
		}
		if t.Current != nil {
			action.RiskLevel = t.Current.RiskLevel
		} else if t.Baseline != nil {
			action.RiskLevel = t.Baseline.RiskLevel
		}
		action.Description = fmt.Sprintf("%s: %s", res.ChangeType, t.CompositeKey.String())

		id, err := o.Store.RecordAction(ctx, action)
		switch {
		case err == nil:
			action.ID = id
			actions = append(actions, action)
		case errs.IsRecoverable(err):
			o.Log.Warn("syncorch: action dedup conflict", "row_uuid", t.RowUUID, "change_type", res.ChangeType)
		default:
			_ = o.Store.CompleteRun(ctx, runID, types.RunFailed)
			return result, errs.Wrap("syncorch: record action", err)
		}
	}
	result.Actions = actions

	// Phase 9: write report.
	changeByUUID := make(map[string]types.ChangeType, len(transitions))
	for _, t := range transitions {
		changeByUUID[t.RowUUID] = classify(t, textChanged[t.RowUUID], unreachable).ChangeType
	}
	rowsByKind := buildReportRows(facts, annotations, changeByUUID)
	if err := annotate.WriteReport(reportPath, rowsByKind, actions); err != nil {
		_ = o.Store.CompleteRun(ctx, runID, types.RunFailed)
		return result, errs.Wrap("syncorch: write report", err)
	}

	if err := o.Store.CompleteRun(ctx, runID, types.RunCompleted); err != nil {
		return result, errs.Wrap("syncorch: complete run", err)
	}

	result.Stats = stats.FromFacts(facts, annotations).WithActions(actions)
	return result, nil
}

// preflight marks any run left "running" by a crashed prior invocation as
// failed, so it never gets mistaken for a valid baseline.
func (o *Orchestrator) preflight(ctx context.Context) error {
	running, err := o.Store.RunsLeftRunning(ctx)
	if err != nil {
		return errs.Wrap("syncorch: preflight", err)
	}
	for _, id := range running {
		o.Log.Warn("syncorch: marking crashed run failed", "run_id", id)
		if err := o.Store.CompleteRun(ctx, id, types.RunFailed); err != nil {
			return errs.Wrap("syncorch: preflight: mark failed", err)
		}
	}
	return nil
}

// lockReportFile acquires the report's own exclusive-write lock, distinct
// from the history database's write lock: an external viewer holding the
// workbook open must fail this sync early rather than race WriteReport.
func (o *Orchestrator) lockReportFile(reportPath string) (*flock.Flock, error) {
	lock := flock.New(reportPath + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, errs.Wrap("syncorch: report lock", err)
	}
	if !locked {
		return nil, fmt.Errorf("syncorch: %w: %s is open in another process", errs.ErrReportLocked, reportPath)
	}
	return lock, nil
}

func (o *Orchestrator) readAnnotations(ctx context.Context, reportPath string) ([]annotate.AnnotationDelta, error) {
	deltas, err := annotate.ReadReport(ctx, reportPath, types.AllEntityKinds, o.KeyBuilders, o.Identity, time.Now().UTC())
	if err != nil {
		return nil, errs.Wrap("syncorch: read report", err)
	}
	return deltas, nil
}

// collect runs the Target Driver against every target with bounded
// parallelism, normalizing rows into facts and assigning each a row UUID.
// A target that cannot be reached contributes a warning, not a failure —
// the rest of the fleet still gets audited this run.
func (o *Orchestrator) collect(ctx context.Context, runID int64, targets []config.Target, maxParallel int, continuingKeys map[string]bool) ([]types.Fact, []string, map[string]bool, error) {
	if maxParallel <= 0 {
		maxParallel = config.DefaultMaxParallelTargets
	}

	results := make([]targetFacts, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallel)

	for i, cfgTarget := range targets {
		i, cfgTarget := i, cfgTarget
		g.Go(func() error {
			facts, err := o.collectOneTarget(gctx, runID, cfgTarget, continuingKeys)
			results[i] = targetFacts{target: toDriverTarget(cfgTarget), facts: facts, err: err}
			return nil // per-target errors are recovered, never abort the group
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, nil, errs.Wrap("syncorch: collect", err)
	}

	var allFacts []types.Fact
	var warnings []string
	// unreachable keys every (server, instance) that failed to connect this
	// run, so the classify phase can tell "this entity's target was down"
	// (GONE) apart from "this entity simply no longer exists" — both look
	// identical from the fact set alone.
	unreachable := make(map[string]bool)
	for _, r := range results {
		if r.err != nil {
			o.Log.Warn("syncorch: target unreachable or partially failed", "server", r.target.Server, "instance", r.target.Instance, "error", r.err)
			warnings = append(warnings, fmt.Sprintf("%s\\%s: %v", r.target.Server, r.target.Instance, r.err))
			unreachable[targetKey(r.target.Server, r.target.Instance)] = true
			continue
		}
		allFacts = append(allFacts, r.facts...)
	}
	return allFacts, warnings, unreachable, nil
}

// targetKey renders the (server, instance) pair the same way for both the
// unreachable set and a composite key's leading two parts, so the two can
// be compared directly.
func targetKey(server, instance string) string {
	return server + "\\" + instance
}

func (o *Orchestrator) collectOneTarget(ctx context.Context, runID int64, cfgTarget config.Target, continuingKeys map[string]bool) ([]types.Fact, error) {
	dTarget := toDriverTarget(cfgTarget)
	if o.Resolver != nil && cfgTarget.Auth == config.AuthSQL {
		user, pass, err := o.Resolver(cfgTarget.CredentialRef)
		if err != nil {
			return nil, errs.Wrap("syncorch: resolve credential", err)
		}
		dTarget.SQLUser, dTarget.SQLPassword = user, pass
	}

	d := driver.New(dTarget, o.Registry)
	if err := d.Connect(ctx); err != nil {
		return nil, err
	}
	defer d.Close() //nolint:errcheck

	now := time.Now().UTC()
	var facts []types.Fact
	for _, rule := range o.Catalog.All() {
		rows, err := d.ExecuteRule(ctx, rule.ID)
		if err != nil {
			if errs.IsRecoverable(err) {
				o.Log.Warn("syncorch: rule query failed", "rule", rule.ID, "server", dTarget.Server, "error", err)
				continue
			}
			return nil, err
		}
		for _, row := range rows {
			fact, err := o.Normalizer.Normalize(runID, dTarget.Server, dTarget.Instance, rule.ID, row, now)
			if err != nil {
				o.Log.Warn("syncorch: normalize failed", "rule", rule.ID, "error", err)
				continue
			}
			uuid, err := o.resolveRowUUID(ctx, fact.CompositeKey, now, continuingKeys[fact.CompositeKey.Canonical()])
			if err != nil {
				return nil, err
			}
			fact.RowUUID = uuid
			facts = append(facts, fact)
		}
	}
	return facts, nil
}

// resolveRowUUID delegates to the Identity Service, telling it whether
// this composite key continued from the immediately preceding run so a
// continuing entity's uuid is always reused instead of re-minted.
func (o *Orchestrator) resolveRowUUID(ctx context.Context, key types.CompositeKey, firstSeen time.Time, continuing bool) (string, error) {
	return o.Identity.ResolveUUID(ctx, key, firstSeen, continuing)
}

func toDriverTarget(t config.Target) driver.Target {
	return driver.Target{
		Server:         t.Server,
		Instance:       t.Instance,
		Port:           t.Port,
		AuthWindows:    t.Auth == config.AuthWindows,
		ConnectTimeout: t.ConnectTimeout,
		QueryTimeout:   t.QueryTimeout,
		Tags:           t.Tags,
	}
}

// classify translates one diffengine.Transition into statemachine.Input and
// applies the classifier. instanceWasScanned is derived from the target's
// reachability this run, not merely from whether a current fact exists:
// an entity that was legitimately dropped (e.g. a revoked permission) on a
// reachable target is a different case from one whose whole target went
// unreachable, even though both leave Current nil.
func classify(t diffengine.Transition, exceptionTextChanged bool, unreachableTargets map[string]bool) statemachine.Result {
	in := statemachine.Input{
		BaselineExists: t.Baseline != nil,
		CurrentExists:  t.Current != nil,
	}
	if t.Baseline != nil {
		in.BaselineStatus = t.Baseline.Status
	}
	if t.Current != nil {
		in.CurrentStatus = t.Current.Status
	}
	in.InstanceWasScanned = !unreachableTargets[targetKey(t.CompositeKey.Parts[0], t.CompositeKey.Parts[1])]
	if t.Annotation != nil {
		in.HasException = t.Annotation.IsException(in.CurrentStatus)
		in.HadException = t.Annotation.IsException(in.BaselineStatus)
		// Deliberately not gated on BaselineStatus being discrepant: a
		// justification/notes attached while the row was still PASS is
		// documentation only (IsException(PASS) is always false) but must
		// still be recognized here so Rule 3 can promote it on regression.
		in.BaselineAnnotationExists = t.Annotation.HasContent()
	}
	return statemachine.ClassifyWithTextChange(in, exceptionTextChanged)
}

func buildReportRows(facts []types.Fact, annotations map[string]types.Annotation, changeByUUID map[string]types.ChangeType) map[types.EntityKind][]annotate.ReportRow {
	out := make(map[types.EntityKind][]annotate.ReportRow)
	for _, f := range facts {
		row := annotate.ReportRow{Fact: f, ChangeType: changeByUUID[f.RowUUID]}
		if a, ok := annotations[f.RowUUID]; ok {
			row.Annotation = &a
		}
		out[f.EntityKind] = append(out[f.EntityKind], row)
	}
	return out
}

// configFingerprint renders a stable hash-free fingerprint of the target
// list so AuditRun.ConfigHash documents what was audited without needing a
// cryptographic digest — operators read this column directly.
func configFingerprint(organization string, targets []config.Target) string {
	s := organization
	for _, t := range targets {
		s += fmt.Sprintf("|%s\\%s", t.Server, t.Instance)
	}
	return s
}
