package normalize

import "github.com/autodbaudit/autodbaudit/internal/types"

// str reads a raw column as a string, returning "" for both a missing
// column and a SQL NULL — used only where the value participates in key
// construction, where a NULL is treated as an empty key segment rather than
// omitted entirely (composite keys are always fully positional).
func str(row RawRow, col string) string {
	v, ok := row[col]
	if !ok || v == nil {
		return ""
	}
	return stringify(v)
}

// DefaultKeyBuilders exposes the same per-kind key builders Normalize uses
// internally, for callers (the Annotation Reader, the Sync Orchestrator)
// that need to build a composite key from a report row rather than a raw
// database row.
func DefaultKeyBuilders() map[types.EntityKind]KeyBuilder {
	return defaultBuilders()
}

// defaultBuilders returns the key builder for every entity kind in the
// closed set, matching the composite key shapes each rule expects.
func defaultBuilders() map[types.EntityKind]KeyBuilder {
	return map[types.EntityKind]KeyBuilder{
		types.KindInstance: func(server, instance string, row RawRow) types.CompositeKey {
			return types.NewCompositeKey(types.KindInstance, server, instance)
		},
		types.KindSAAccount: func(server, instance string, row RawRow) types.CompositeKey {
			return types.NewCompositeKey(types.KindSAAccount, server, instance)
		},
		types.KindLogin: func(server, instance string, row RawRow) types.CompositeKey {
			return types.NewCompositeKey(types.KindLogin, server, instance, str(row, "name"))
		},
		types.KindServerRoleMember: func(server, instance string, row RawRow) types.CompositeKey {
			return types.NewCompositeKey(types.KindServerRoleMember, server, instance, str(row, "role_name"), str(row, "login_name"))
		},
		types.KindConfig: func(server, instance string, row RawRow) types.CompositeKey {
			return types.NewCompositeKey(types.KindConfig, server, instance, str(row, "name"))
		},
		types.KindService: func(server, instance string, row RawRow) types.CompositeKey {
			return types.NewCompositeKey(types.KindService, server, instance, str(row, "service_name"))
		},
		types.KindDatabase: func(server, instance string, row RawRow) types.CompositeKey {
			return types.NewCompositeKey(types.KindDatabase, server, instance, str(row, "name"))
		},
		types.KindDBUser: func(server, instance string, row RawRow) types.CompositeKey {
			return types.NewCompositeKey(types.KindDBUser, server, instance, str(row, "database_name"), str(row, "user_name"))
		},
		types.KindDBRoleMember: func(server, instance string, row RawRow) types.CompositeKey {
			return types.NewCompositeKey(types.KindDBRoleMember, server, instance, str(row, "database_name"), str(row, "role_name"), str(row, "user_name"))
		},
		types.KindOrphanedUser: func(server, instance string, row RawRow) types.CompositeKey {
			return types.NewCompositeKey(types.KindOrphanedUser, server, instance, str(row, "database_name"), str(row, "user_name"))
		},
		types.KindPermission: func(server, instance string, row RawRow) types.CompositeKey {
			return types.NewCompositeKey(types.KindPermission, server, instance,
				str(row, "scope"), str(row, "database_name"), str(row, "grantee"),
				str(row, "permission_name"), str(row, "state"), str(row, "entity_name"))
		},
		types.KindLinkedServer: func(server, instance string, row RawRow) types.CompositeKey {
			return types.NewCompositeKey(types.KindLinkedServer, server, instance, str(row, "name"))
		},
		types.KindTrigger: func(server, instance string, row RawRow) types.CompositeKey {
			return types.NewCompositeKey(types.KindTrigger, server, instance, str(row, "name"))
		},
		types.KindBackup: func(server, instance string, row RawRow) types.CompositeKey {
			return types.NewCompositeKey(types.KindBackup, server, instance, str(row, "database_name"))
		},
		types.KindProtocol: func(server, instance string, row RawRow) types.CompositeKey {
			return types.NewCompositeKey(types.KindProtocol, server, instance, str(row, "protocol_desc")+str(row, "name"))
		},
		types.KindEncryptionKey: func(server, instance string, row RawRow) types.CompositeKey {
			return types.NewCompositeKey(types.KindEncryptionKey, server, instance, str(row, "name"))
		},
		types.KindAuditSetting: func(server, instance string, row RawRow) types.CompositeKey {
			return types.NewCompositeKey(types.KindAuditSetting, server, instance, str(row, "name"))
		},
	}
}

// defaultExtractors returns the attribute extractor for every entity kind.
// Each extractor copies the columns that matter to that kind's rules into a
// string-valued map, preserving the null/empty distinction: a
// SQL NULL column is omitted entirely, a present empty string stays
// present.
func defaultExtractors() map[types.EntityKind]AttributeExtractor {
	copyCols := func(cols ...string) AttributeExtractor {
		return func(row RawRow) map[string]string {
			out := make(map[string]string, len(cols))
			for _, c := range cols {
				v, ok := row[c]
				if !ok || v == nil {
					continue
				}
				out[c] = stringify(v)
			}
			return out
		}
	}

	return map[types.EntityKind]AttributeExtractor{
		types.KindInstance:          copyCols("product_version", "edition", "machine_name"),
		types.KindSAAccount:         copyCols("name", "is_disabled"),
		types.KindLogin:             copyCols("name", "auth_type", "password_policy_on", "is_disabled"),
		types.KindServerRoleMember:  copyCols("login_name", "role_name"),
		types.KindConfig:            copyCols("name", "config_value", "run_value"),
		types.KindService:           copyCols("service_name", "start_account", "state"),
		types.KindDatabase:          copyCols("name", "recovery_model", "trustworthy", "compatibility_level"),
		types.KindDBUser:            copyCols("database_name", "user_name", "type_desc"),
		types.KindDBRoleMember:      copyCols("database_name", "role_name", "user_name"),
		types.KindOrphanedUser:      copyCols("database_name", "user_name"),
		types.KindPermission:        copyCols("scope", "database_name", "grantee", "permission_name", "state", "entity_name"),
		types.KindLinkedServer:      copyCols("name", "uses_self_credential"),
		types.KindTrigger:           copyCols("name", "is_disabled"),
		types.KindBackup:            copyCols("database_name", "within_retention", "last_backup_finish"),
		types.KindProtocol:          copyCols("name", "protocol_desc", "enabled"),
		types.KindEncryptionKey:     copyCols("name", "algorithm_desc", "crypt_type_desc"),
		types.KindAuditSetting:      copyCols("name", "is_state_enabled"),
	}
}
