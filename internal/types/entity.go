// Package types defines the entity kinds, facts, annotations, and run
// records that make up AutoDBAudit's data model. Nothing in this package
// touches storage, SQL, or reports — it is the shared vocabulary every other
// package builds on.
package types

// EntityKind is the closed set of security-relevant entity classes
// AutoDBAudit collects and classifies. The set is closed by design: adding a
// kind means extending this list, the key builder in internal/normalize, and
// the rule catalog together, never inferring kinds dynamically.
type EntityKind string

const (
	KindSAAccount        EntityKind = "sa_account"
	KindLogin            EntityKind = "login"
	KindServerRoleMember EntityKind = "server_role_member"
	KindConfig           EntityKind = "config"
	KindService          EntityKind = "service"
	KindDatabase         EntityKind = "database"
	KindDBUser           EntityKind = "db_user"
	KindDBRoleMember     EntityKind = "db_role_member"
	KindOrphanedUser     EntityKind = "orphaned_user"
	KindPermission       EntityKind = "permission"
	KindLinkedServer     EntityKind = "linked_server"
	KindTrigger          EntityKind = "trigger"
	KindBackup           EntityKind = "backup"
	KindProtocol         EntityKind = "protocol"
	KindEncryptionKey    EntityKind = "encryption_key"
	KindAuditSetting     EntityKind = "audit_setting"
	KindInstance         EntityKind = "instance"
)

// AllEntityKinds lists every kind in the closed set, in the order they are
// normally collected (roughly least to most dependent).
var AllEntityKinds = []EntityKind{
	KindInstance,
	KindSAAccount,
	KindLogin,
	KindServerRoleMember,
	KindConfig,
	KindService,
	KindDatabase,
	KindDBUser,
	KindDBRoleMember,
	KindOrphanedUser,
	KindPermission,
	KindLinkedServer,
	KindTrigger,
	KindBackup,
	KindProtocol,
	KindEncryptionKey,
	KindAuditSetting,
}

// Valid reports whether k is one of the closed set of entity kinds.
func (k EntityKind) Valid() bool {
	for _, valid := range AllEntityKinds {
		if k == valid {
			return true
		}
	}
	return false
}

// InformationalOnly reports whether facts of this kind are always INFO
// status rather than PASS/WARN/FAIL (instance metadata, key inventory).
func (k EntityKind) InformationalOnly() bool {
	return k == KindInstance || k == KindEncryptionKey
}

// Status is the three-valued compliance classification a rule assigns to a
// fact, plus the informational fourth value for kinds that carry no
// pass/fail judgement.
type Status string

const (
	StatusPass Status = "PASS"
	StatusWarn Status = "WARN"
	StatusFail Status = "FAIL"
	StatusInfo Status = "INFO"
)

// Discrepant reports whether a status represents a finding that could be
// the subject of an exception (FAIL or WARN).
func (s Status) Discrepant() bool {
	return s == StatusFail || s == StatusWarn
}

// RiskLevel is the declared severity of a rule, independent of the status
// any particular fact evaluates to.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// CompositeKey is the ordered tuple of SQL-visible names that identifies an
// entity within (server, instance). The shape is fixed per EntityKind; see
// internal/normalize for the per-kind builders. It is comparable, so it can
// be used directly as a map key.
type CompositeKey struct {
	Kind  EntityKind
	Parts [8]string // fixed-size so CompositeKey stays comparable; unused parts are "".
	N     int        // number of meaningful entries in Parts
}

// NewCompositeKey builds a key for kind from an ordered list of SQL-visible
// name parts. It panics if more than 8 parts are given — the widest entity
// key (permission) uses all 8.
func NewCompositeKey(kind EntityKind, parts ...string) CompositeKey {
	if len(parts) > 8 {
		panic("types: composite key has more than 8 parts")
	}
	var ck CompositeKey
	ck.Kind = kind
	ck.N = len(parts)
	copy(ck.Parts[:], parts)
	return ck
}

// String renders the key in a stable, human-readable form used in logs and
// action descriptions (never used for identity comparisons — use the struct
// itself, or its Canonical() string, for that).
func (k CompositeKey) String() string {
	out := string(k.Kind)
	for i := 0; i < k.N; i++ {
		out += "/" + k.Parts[i]
	}
	return out
}

// Canonical returns a string suitable as a map key or fallback lookup key;
// unlike String it is not meant for display.
func (k CompositeKey) Canonical() string {
	return k.String()
}
