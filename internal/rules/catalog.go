package rules

import "github.com/autodbaudit/autodbaudit/internal/types"

// attrEquals is a small helper for predicates: reports whether the
// attribute is present and equals want, false when the attribute is absent.
func attrEquals(attrs map[string]string, key, want string) bool {
	v, ok := attrs[key]
	return ok && v == want
}

// DefaultCatalog returns the built-in rule set covering the entity kinds
// the system checks out of the box. It is the catalog AutoDBAudit ships
// with; operators who need a different policy build their own Catalog
// via NewCatalog.
func DefaultCatalog() *Catalog {
	return NewCatalog([]Rule{
		{
			ID:          "SA-001",
			Description: "sa account is disabled",
			Kind:        types.KindSAAccount,
			RiskLevel:   types.RiskCritical,
			FixTemplate: "disable_login",
			Eval: func(a map[string]string) types.Status {
				if attrEquals(a, "is_disabled", "true") {
					return types.StatusPass
				}
				return types.StatusFail
			},
		},
		{
			ID:          "SA-002",
			Description: "sa account has been renamed from the default",
			Kind:        types.KindSAAccount,
			RiskLevel:   types.RiskMedium,
			FixTemplate: "rename_login",
			Eval: func(a map[string]string) types.Status {
				if attrEquals(a, "name", "sa") {
					return types.StatusWarn
				}
				return types.StatusPass
			},
		},
		{
			ID:          "LOGIN-001",
			Description: "SQL login enforces the Windows password policy",
			Kind:        types.KindLogin,
			RiskLevel:   types.RiskHigh,
			FixTemplate: "enable_password_policy",
			Eval: func(a map[string]string) types.Status {
				if attrEquals(a, "auth_type", "windows") {
					return types.StatusPass
				}
				if attrEquals(a, "password_policy_on", "true") {
					return types.StatusPass
				}
				return types.StatusFail
			},
		},
		{
			ID:          "LOGIN-002",
			Description: "login is not disabled without justification",
			Kind:        types.KindLogin,
			RiskLevel:   types.RiskLow,
			Eval: func(a map[string]string) types.Status {
				if attrEquals(a, "is_disabled", "true") {
					return types.StatusWarn
				}
				return types.StatusPass
			},
		},
		{
			ID:          "ROLE-001",
			Description: "login is not a member of sysadmin unless required",
			Kind:        types.KindServerRoleMember,
			RiskLevel:   types.RiskCritical,
			FixTemplate: "drop_server_role_member",
			Eval: func(a map[string]string) types.Status {
				if attrEquals(a, "role_name", "sysadmin") {
					return types.StatusWarn
				}
				return types.StatusPass
			},
		},
		{
			ID:          "CFG-XPCMDSHELL",
			Description: "xp_cmdshell is disabled",
			Kind:        types.KindConfig,
			RiskLevel:   types.RiskCritical,
			FixTemplate: "disable_config_option",
			Eval: func(a map[string]string) types.Status {
				if attrEquals(a, "name", "xp_cmdshell") && attrEquals(a, "run_value", "0") {
					return types.StatusPass
				}
				if attrEquals(a, "name", "xp_cmdshell") {
					return types.StatusFail
				}
				return types.StatusInfo
			},
		},
		{
			ID:          "CFG-CLR",
			Description: "CLR integration is disabled unless required",
			Kind:        types.KindConfig,
			RiskLevel:   types.RiskMedium,
			FixTemplate: "disable_config_option",
			Eval: func(a map[string]string) types.Status {
				if attrEquals(a, "name", "clr enabled") && attrEquals(a, "run_value", "0") {
					return types.StatusPass
				}
				if attrEquals(a, "name", "clr enabled") {
					return types.StatusWarn
				}
				return types.StatusInfo
			},
		},
		{
			ID:          "SVC-001",
			Description: "SQL Server service does not run as LocalSystem",
			Kind:        types.KindService,
			RiskLevel:   types.RiskHigh,
			Eval: func(a map[string]string) types.Status {
				if attrEquals(a, "start_account", "LocalSystem") {
					return types.StatusFail
				}
				return types.StatusPass
			},
		},
		{
			ID:          "DB-001",
			Description: "database is not marked TRUSTWORTHY",
			Kind:        types.KindDatabase,
			RiskLevel:   types.RiskLow,
			Eval: func(a map[string]string) types.Status {
				if attrEquals(a, "trustworthy", "true") {
					return types.StatusFail
				}
				return types.StatusPass
			},
		},
		{
			ID:          "ORPHAN-001",
			Description: "no orphaned database users",
			Kind:        types.KindOrphanedUser,
			RiskLevel:   types.RiskMedium,
			FixTemplate: "drop_orphaned_user",
			Eval: func(a map[string]string) types.Status {
				return types.StatusWarn
			},
		},
		{
			ID:          "PERM-PUBLIC",
			Description: "public role does not hold dangerous grants",
			Kind:        types.KindPermission,
			RiskLevel:   types.RiskHigh,
			FixTemplate: "revoke_permission",
			Eval: func(a map[string]string) types.Status {
				if attrEquals(a, "grantee", "public") && attrEquals(a, "state", "GRANT") {
					return types.StatusWarn
				}
				return types.StatusPass
			},
		},
		{
			ID:          "LINKEDSRV-001",
			Description: "linked server does not use a privileged account",
			Kind:        types.KindLinkedServer,
			RiskLevel:   types.RiskHigh,
			FixTemplate: "reconfigure_linked_server",
			Eval: func(a map[string]string) types.Status {
				if attrEquals(a, "uses_self_credential", "false") {
					return types.StatusWarn
				}
				return types.StatusPass
			},
		},
		{
			ID:          "TRIGGER-001",
			Description: "server-level DDL/logon trigger is reviewed",
			Kind:        types.KindTrigger,
			RiskLevel:   types.RiskMedium,
			Eval: func(a map[string]string) types.Status {
				if attrEquals(a, "is_disabled", "true") {
					return types.StatusPass
				}
				return types.StatusWarn
			},
		},
		{
			ID:          "BACKUP-001",
			Description: "database has a backup within the retention window",
			Kind:        types.KindBackup,
			RiskLevel:   types.RiskHigh,
			Eval: func(a map[string]string) types.Status {
				if attrEquals(a, "within_retention", "true") {
					return types.StatusPass
				}
				return types.StatusFail
			},
		},
		{
			ID:          "PROTO-001",
			Description: "legacy network protocols are disabled",
			Kind:        types.KindProtocol,
			RiskLevel:   types.RiskMedium,
			FixTemplate: "disable_protocol",
			Eval: func(a map[string]string) types.Status {
				if attrEquals(a, "name", "Named Pipes") && attrEquals(a, "enabled", "true") {
					return types.StatusWarn
				}
				return types.StatusPass
			},
		},
		{
			ID:          "AUDIT-001",
			Description: "server audit specification is enabled",
			Kind:        types.KindAuditSetting,
			RiskLevel:   types.RiskHigh,
			Eval: func(a map[string]string) types.Status {
				if attrEquals(a, "is_state_enabled", "true") {
					return types.StatusPass
				}
				return types.StatusFail
			},
		},
		{
			ID:          "ENCKEY-INFO",
			Description: "encryption key inventory (informational)",
			Kind:        types.KindEncryptionKey,
			RiskLevel:   types.RiskLow,
			Eval: func(a map[string]string) types.Status {
				return types.StatusInfo
			},
		},
		{
			ID:          "INSTANCE-INFO",
			Description: "instance metadata (informational)",
			Kind:        types.KindInstance,
			RiskLevel:   types.RiskLow,
			Eval: func(a map[string]string) types.Status {
				return types.StatusInfo
			},
		},
	})
}
