// Package remediate is the Remediation Generator: given a run's facts and
// their annotations, it produces a reviewable T-SQL/OS script per
// discrepant, non-excepted finding, activating the lines aggressiveness
// permits and leaving the rest as commented suggestions. Nothing here
// talks to a live instance — the script is always applied by hand or by a
// separate execution step outside this package.
package remediate

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"github.com/autodbaudit/autodbaudit/internal/errs"
	"github.com/autodbaudit/autodbaudit/internal/types"
)

// connectingIdentityAttr names the attribute holding the principal name on
// login/sa_account facts, used by the safeguard that never targets the
// identity the audit itself connected as.
const connectingIdentityAttr = "name"

// fixTemplate is one entity kind's remediation recipe: the idempotency-
// guarded T-SQL (or OS command) to apply the fix, and its inverse for the
// rollback comment. Templates execute against the fact's Attributes map.
type fixTemplate struct {
	scriptKind      string // "tsql" or "os"
	restartRequired bool
	apply           *template.Template
	rollback        *template.Template
}

func mustParse(name, body string) *template.Template {
	return template.Must(template.New(name).Parse(body))
}

// registry is the fixed set of remediation recipes this generator knows,
// keyed by entity kind. Adding a kind means adding a template here and,
// if it should auto-activate at aggressiveness 2, a row in level2Matrix.
var registry = map[types.EntityKind]fixTemplate{
	types.KindSAAccount: {
		scriptKind: "tsql",
		apply:      mustParse("sa_account.apply", `IF EXISTS (SELECT 1 FROM sys.server_principals WHERE name = '{{.name}}' AND is_disabled = 0)
    ALTER LOGIN [{{.name}}] DISABLE;`),
		rollback: mustParse("sa_account.rollback", `ALTER LOGIN [{{.name}}] ENABLE;`),
	},
	types.KindLogin: {
		scriptKind: "tsql",
		apply:      mustParse("login.apply", `IF EXISTS (SELECT 1 FROM sys.sql_logins WHERE name = '{{.name}}' AND is_policy_checked = 0)
    ALTER LOGIN [{{.name}}] WITH CHECK_POLICY = ON;`),
		rollback: mustParse("login.rollback", `ALTER LOGIN [{{.name}}] WITH CHECK_POLICY = OFF;`),
	},
	types.KindConfig: {
		scriptKind: "tsql",
		apply:      mustParse("config.apply", `IF EXISTS (SELECT 1 FROM sys.configurations WHERE name = '{{.name}}')
BEGIN
    EXEC sp_configure '{{.name}}', {{.config_value}};
    RECONFIGURE;
END`),
		rollback: mustParse("config.rollback", `EXEC sp_configure '{{.name}}', {{.run_value}}; RECONFIGURE;`),
	},
	types.KindService: {
		scriptKind:      "os",
		restartRequired: true,
		apply:           mustParse("service.apply", `sc.exe config "{{.service_name}}" start= demand`),
		rollback:        mustParse("service.rollback", `sc.exe config "{{.service_name}}" start= auto`),
	},
	types.KindPermission: {
		scriptKind: "tsql",
		apply:      mustParse("permission.apply", `IF EXISTS (SELECT 1 FROM sys.database_permissions WHERE state_desc = '{{.state}}')
    REVOKE {{.permission_name}} ON {{.entity_name}} FROM [{{.grantee}}];`),
		rollback: mustParse("permission.rollback", `GRANT {{.permission_name}} ON {{.entity_name}} TO [{{.grantee}}];`),
	},
}

// render executes tmpl against attrs, converting the template's map[string]any
// requirement from the fact's map[string]string attributes.
func render(tmpl *template.Template, attrs map[string]string) (string, error) {
	data := make(map[string]string, len(attrs))
	for k, v := range attrs {
		data[k] = v
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// commentOut prefixes every line of s with "-- " so an inactive suggestion
// round-trips through a .sql file as a no-op the operator can uncomment.
func commentOut(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = "-- " + l
	}
	return strings.Join(lines, "\n")
}

// Finding is one discrepant fact paired with its resolved annotation, the
// unit the generator decides on.
type Finding struct {
	Fact       types.Fact
	Annotation *types.Annotation
}

// Script is the rendered output for one script kind (tsql or os), plus the
// items that went into it, in the order they were generated.
type Script struct {
	Kind  string
	Text  string
	Items []types.RemediationItem
}

// Generate produces one Script per script kind represented among findings,
// skipping PASS/INFO facts, documented exceptions, and anything targeting
// connectingIdentity. restartStanza is appended to the "os" script when at
// least one activated item requires a service restart. windowsHost must be
// false for any target whose OS-level fixes (service start-mode, service
// account) cannot be expressed as the sc.exe commands this package knows;
// those items are emitted as a manual-action placeholder instead.
func Generate(level Aggressiveness, connectingIdentity string, windowsHost bool, findings []Finding) ([]Script, error) {
	byKind := make(map[string]*Script)
	var needsRestart bool

	for _, f := range findings {
		if !f.Fact.Status.Discrepant() {
			continue
		}

		item := types.RemediationItem{
			EntityKind:   f.Fact.EntityKind,
			RowUUID:      f.Fact.RowUUID,
			CompositeKey: f.Fact.CompositeKey,
		}

		if f.Annotation != nil && f.Annotation.IsException(f.Fact.Status) {
			item.Activated = false
			item.SkippedReason = "documented exception"
			sc := scriptFor(byKind, "tsql")
			sc.Text += fmt.Sprintf("-- [SKIPPED: exception] %s: %s (risk=%s)\n\n", f.Fact.EntityKind, f.Fact.CompositeKey.String(), f.Fact.RiskLevel)
			sc.Items = append(sc.Items, item)
			continue
		}

		if isConnectingIdentity(f.Fact, connectingIdentity) {
			item.Activated = false
			item.SkippedReason = "targets the connecting identity; never auto-remediated"
			sc := scriptFor(byKind, "tsql")
			sc.Text += fmt.Sprintf("-- [SKIPPED: connecting identity] %s: %s (risk=%s)\n-- no fix is generated for the login this audit connects as\n\n", f.Fact.EntityKind, f.Fact.CompositeKey.String(), f.Fact.RiskLevel)
			sc.Items = append(sc.Items, item)
			continue
		}

		tmpl, ok := registry[f.Fact.EntityKind]
		if !ok {
			item.Activated = false
			item.SkippedReason = "no remediation recipe for this entity kind"
			appendItem(byKind, "tsql", item)
			continue
		}
		item.ScriptKind = tmpl.scriptKind

		if tmpl.scriptKind == "os" && !windowsHost {
			item.Activated = false
			item.SkippedReason = "manual action required: non-Windows host has no scripted fix"
			sc := scriptFor(byKind, "os")
			sc.Text += manualActionStanza(f.Fact) + "\n\n"
			sc.Items = append(sc.Items, item)
			continue
		}

		applyText, err := render(tmpl.apply, f.Fact.Attributes)
		if err != nil {
			return nil, errs.Wrap(fmt.Sprintf("remediate: render apply for %s", f.Fact.RowUUID), err)
		}
		rollbackText, err := render(tmpl.rollback, f.Fact.Attributes)
		if err != nil {
			return nil, errs.Wrap(fmt.Sprintf("remediate: render rollback for %s", f.Fact.RowUUID), err)
		}
		item.PreChangeValue = preChangeValue(f.Fact)

		activated := autoActivates(level, f.Fact.EntityKind, f.Fact.RiskLevel)
		item.Activated = activated

		stanza := buildStanza(f.Fact, applyText, rollbackText, activated)
		if activated && tmpl.restartRequired {
			needsRestart = true
		}

		sc := scriptFor(byKind, tmpl.scriptKind)
		sc.Text += stanza + "\n\n"
		sc.Items = append(sc.Items, item)
	}

	if needsRestart {
		if sc, ok := byKind["os"]; ok {
			sc.Text += restartStanza
		}
	}

	out := make([]Script, 0, len(byKind))
	for _, kind := range []string{"tsql", "os"} {
		if sc, ok := byKind[kind]; ok {
			out = append(out, *sc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out, nil
}

func scriptFor(byKind map[string]*Script, kind string) *Script {
	sc, ok := byKind[kind]
	if !ok {
		sc = &Script{Kind: kind}
		byKind[kind] = sc
	}
	return sc
}

func appendItem(byKind map[string]*Script, kind string, item types.RemediationItem) {
	sc := scriptFor(byKind, kind)
	sc.Items = append(sc.Items, item)
}

func isConnectingIdentity(f types.Fact, connectingIdentity string) bool {
	if connectingIdentity == "" {
		return false
	}
	if f.EntityKind != types.KindLogin && f.EntityKind != types.KindSAAccount {
		return false
	}
	name, ok := f.AttributeOrEmpty(connectingIdentityAttr)
	return ok && strings.EqualFold(name, connectingIdentity)
}

func preChangeValue(f types.Fact) string {
	switch f.EntityKind {
	case types.KindConfig:
		v, _ := f.AttributeOrEmpty("run_value")
		return v
	case types.KindService:
		v, _ := f.AttributeOrEmpty("start_account")
		return v
	default:
		return ""
	}
}

// buildStanza wraps a rendered fix in a header naming the finding and its
// rollback, commenting out the body entirely when it isn't activated.
func buildStanza(f types.Fact, applyText, rollbackText string, activated bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "-- %s: %s (risk=%s)\n", f.EntityKind, f.CompositeKey.String(), f.RiskLevel)
	fmt.Fprintf(&b, "-- rollback: %s\n", oneLine(rollbackText))
	if activated {
		b.WriteString(applyText)
	} else {
		b.WriteString(commentOut(applyText))
	}
	return b.String()
}

// manualActionStanza is what the OS script carries in place of a scripted
// fix when the target host isn't Windows: there is no sc.exe equivalent
// this package can emit blindly, so the operator gets a pointer instead.
func manualActionStanza(f types.Fact) string {
	return fmt.Sprintf("# %s: %s (risk=%s)\n# MANUAL ACTION REQUIRED: non-Windows host; apply the equivalent service-hardening change by hand",
		f.EntityKind, f.CompositeKey.String(), f.RiskLevel)
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// restartStanza documents the graceful-restart sequence a service fix
// requires before it takes effect: stop with a bounded drain, then start
// with verification, rather than a bare service restart.
const restartStanza = `-- restart sequence: stop (60s graceful timeout), verify drained, start (up to 3 retries), verify running
-- sc.exe stop "%SERVICE_NAME%"
-- (wait up to 60s for SERVICE_STOPPED, then escalate to an operator page rather than force-kill)
-- sc.exe start "%SERVICE_NAME%"
-- (retry start up to 3 times, then verify the service reports SERVICE_RUNNING)
`
