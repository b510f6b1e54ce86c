// Package driver connects to one SQL Server instance, detects its version,
// selects a query provider, and executes rule queries with bounded
// timeouts, yielding raw rows to the Fact Normalizer. Connection retry uses
// an exponential backoff, the same shape the corpus reaches for whenever a
// remote endpoint might be transiently unavailable.
package driver

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/microsoft/go-mssqldb"

	"github.com/autodbaudit/autodbaudit/internal/errs"
	"github.com/autodbaudit/autodbaudit/internal/normalize"
	"github.com/autodbaudit/autodbaudit/internal/queryprovider"
)

// Target describes one SQL Server instance to connect to and audit.
type Target struct {
	Server         string
	Instance       string
	Port           int
	AuthWindows    bool
	SQLUser        string
	SQLPassword    string // resolved by the external credential collaborator; never persisted here
	ConnectTimeout time.Duration
	QueryTimeout   time.Duration
	Tags           []string
}

// dsn builds a SQL Server connection string for Target. go-mssqldb accepts
// either Windows-integrated auth (when user/password are empty, relying on
// the process's Windows identity) or SQL auth.
func (t Target) dsn() string {
	var b strings.Builder
	fmt.Fprintf(&b, "server=%s", t.Server)
	if t.Instance != "" {
		fmt.Fprintf(&b, "\\%s", t.Instance)
	}
	if t.Port != 0 {
		fmt.Fprintf(&b, ";port=%d", t.Port)
	}
	if t.AuthWindows {
		b.WriteString(";trusted_connection=true")
	} else {
		fmt.Fprintf(&b, ";user id=%s;password=%s", t.SQLUser, t.SQLPassword)
	}
	connectTimeout := t.ConnectTimeout
	if connectTimeout == 0 {
		connectTimeout = DefaultConnectTimeout
	}
	fmt.Fprintf(&b, ";dial timeout=%d", int(connectTimeout.Seconds()))
	return b.String()
}

// Default timeouts used when a target does not override them.
const (
	DefaultConnectTimeout = 15 * time.Second
	DefaultQueryTimeout   = 60 * time.Second
)

// Driver connects to one target and executes rule queries against it.
type Driver struct {
	target   Target
	registry *queryprovider.Registry
	db       *sql.DB

	// VersionMajor is populated by Connect and used to pick a query
	// provider family.
	VersionMajor int
}

// New returns a Driver for target using registry to resolve queries. It
// does not connect yet — call Connect first.
func New(target Target, registry *queryprovider.Registry) *Driver {
	return &Driver{target: target, registry: registry}
}

// Connect opens the connection, retrying transient failures with
// exponential backoff bounded by target.ConnectTimeout, then detects the
// instance's major version via SERVERPROPERTY. A failure here is
// ErrTargetUnreachable — recoverable at the Collect phase level.
func (d *Driver) Connect(ctx context.Context) error {
	connectTimeout := d.target.ConnectTimeout
	if connectTimeout == 0 {
		connectTimeout = DefaultConnectTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	bo := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)

	var db *sql.DB
	openAndPing := func() error {
		var err error
		db, err = sql.Open("sqlserver", d.target.dsn())
		if err != nil {
			return backoff.Permanent(err)
		}
		return db.PingContext(ctx)
	}
	if err := backoff.Retry(openAndPing, bo); err != nil {
		return fmt.Errorf("%s/%s: %w: %v", d.target.Server, d.target.Instance, errs.ErrTargetUnreachable, err)
	}
	d.db = db

	versionMajor, err := d.detectVersion(ctx)
	if err != nil {
		return fmt.Errorf("%s/%s: %w: %v", d.target.Server, d.target.Instance, errs.ErrTargetUnreachable, err)
	}
	d.VersionMajor = versionMajor
	return nil
}

func (d *Driver) detectVersion(ctx context.Context) (int, error) {
	var productVersion string
	row := d.db.QueryRowContext(ctx, `SELECT CAST(SERVERPROPERTY('ProductVersion') AS varchar(32))`)
	if err := row.Scan(&productVersion); err != nil {
		return 0, err
	}
	parts := strings.SplitN(productVersion, ".", 2)
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("driver: parsing product version %q: %w", productVersion, err)
	}
	return major, nil
}

// Close releases the underlying connection pool. Safe to call even if
// Connect was never called or failed.
func (d *Driver) Close() error {
	if d.db == nil {
		return nil
	}
	return d.db.Close()
}

// ExecuteRule runs ruleID's query (selected for d.VersionMajor) and returns
// its rows as RawRows, bounded by target.QueryTimeout. A failure here is
// ErrQueryFailed — recoverable per-rule at the Collect phase level.
func (d *Driver) ExecuteRule(ctx context.Context, ruleID string) ([]normalize.RawRow, error) {
	queryText, err := d.registry.GetQuery(ruleID, d.VersionMajor)
	if err != nil {
		return nil, fmt.Errorf("rule %s: %w: %v", ruleID, errs.ErrQueryFailed, err)
	}

	queryTimeout := d.target.QueryTimeout
	if queryTimeout == 0 {
		queryTimeout = DefaultQueryTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := d.db.QueryContext(ctx, queryText)
	if err != nil {
		return nil, fmt.Errorf("rule %s: %w: %v", ruleID, errs.ErrQueryFailed, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("rule %s: %w: %v", ruleID, errs.ErrQueryFailed, err)
	}

	var out []normalize.RawRow
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("rule %s: %w: %v", ruleID, errs.ErrQueryFailed, err)
		}
		row := make(normalize.RawRow, len(cols))
		for i, c := range cols {
			row[c] = vals[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rule %s: %w: %v", ruleID, errs.ErrQueryFailed, err)
	}
	return out, nil
}
