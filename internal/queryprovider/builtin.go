package queryprovider

// sql2008Queries holds query text valid on SQL Server 2008/2008 R2 (major
// version 10) and every later version, since that is the oldest target
// instance this tool supports. It deliberately avoids STRING_AGG,
// CONCAT_WS, TRY_CAST, OFFSET/FETCH, and any DMV introduced after 2008.
var sql2008Queries = map[string]string{
	"SA-001": `SELECT name, is_disabled FROM sys.server_principals WHERE sid = 0x01`,
	"SA-002": `SELECT name FROM sys.server_principals WHERE sid = 0x01`,
	"LOGIN-001": `SELECT sp.name, sp.type_desc AS auth_type,
	CASE WHEN sp.type = 'S' THEN CAST(LOGINPROPERTY(sp.name, 'IsPolicyChecked') AS int) ELSE 1 END AS password_policy_on
FROM sys.server_principals sp
WHERE sp.type IN ('S','U') AND sp.is_disabled = 0`,
	"LOGIN-002": `SELECT name, is_disabled FROM sys.server_principals WHERE type IN ('S','U','G')`,
	"ROLE-001": `SELECT sp.name AS login_name, r.name AS role_name
FROM sys.server_role_members m
JOIN sys.server_principals sp ON sp.principal_id = m.member_principal_id
JOIN sys.server_principals r ON r.principal_id = m.role_principal_id
WHERE r.name = 'sysadmin'`,
	"CFG-XPCMDSHELL": `SELECT name, CAST(value AS int) AS config_value, CAST(value_in_use AS int) AS run_value
FROM sys.configurations WHERE name = 'xp_cmdshell'`,
	"CFG-CLR": `SELECT name, CAST(value AS int) AS config_value, CAST(value_in_use AS int) AS run_value
FROM sys.configurations WHERE name = 'clr enabled'`,
	"SVC-001": `EXEC master..xp_servicecontrol N'QUERYSTATE', N'MSSQLSERVER'`,
	"DB-001": `SELECT name, is_trustworthy_on AS trustworthy FROM sys.databases`,
	"ORPHAN-001": `SELECT dp.name AS user_name, DB_NAME() AS database_name
FROM sys.database_principals dp
LEFT JOIN sys.server_principals sp ON dp.sid = sp.sid
WHERE dp.type IN ('S','U') AND sp.sid IS NULL AND dp.sid NOT IN (0x00)`,
	"PERM-PUBLIC": `SELECT pr.name AS grantee, p.permission_name, p.state_desc AS state,
	p.class_desc AS scope, OBJECT_NAME(p.major_id) AS entity_name
FROM sys.database_permissions p
JOIN sys.database_principals pr ON p.grantee_principal_id = pr.principal_id
WHERE pr.name = 'public'`,
	"LINKEDSRV-001": `SELECT s.name, ll.uses_self_credential
FROM sys.servers s
LEFT JOIN sys.linked_logins ll ON ll.server_id = s.server_id
WHERE s.is_linked = 1`,
	"TRIGGER-001": `SELECT name, is_disabled FROM sys.server_triggers`,
	"BACKUP-001": `SELECT d.name AS database_name,
	CASE WHEN MAX(b.backup_finish_date) >= DATEADD(day, -7, GETDATE()) THEN 1 ELSE 0 END AS within_retention
FROM sys.databases d
LEFT JOIN msdb..backupset b ON b.database_name = d.name
GROUP BY d.name`,
	"PROTO-001": `EXEC xp_instance_regread N'HKEY_LOCAL_MACHINE',
	N'SOFTWARE\Microsoft\MSSQLServer\SuperSocketNetLib\Np', N'Enabled'`,
	"AUDIT-001": `SELECT name, is_state_enabled FROM sys.server_audits`,
	"ENCKEY-INFO": `SELECT name, algorithm_desc, crypt_type_desc FROM sys.key_encryptions`,
	"INSTANCE-INFO": `SELECT CAST(SERVERPROPERTY('ProductVersion') AS varchar(32)) AS product_version,
	CAST(SERVERPROPERTY('Edition') AS varchar(128)) AS edition,
	CAST(SERVERPROPERTY('MachineName') AS varchar(128)) AS machine_name`,
}

// sql2019PlusQueries overrides or extends the 2008 baseline with variants
// that take advantage of DMVs and syntax introduced in 2012+ (string
// aggregation, TRY_CAST, etc.). Any rule not listed here falls through to
// the 2008 text, which remains valid.
var sql2019PlusQueries = map[string]string{
	"LOGIN-001": `SELECT sp.name, sp.type_desc AS auth_type,
	CASE WHEN sp.type = 'S' THEN TRY_CAST(LOGINPROPERTY(sp.name, 'IsPolicyChecked') AS int) ELSE 1 END AS password_policy_on
FROM sys.server_principals sp
WHERE sp.type IN ('S','U') AND sp.is_disabled = 0`,
	"PERM-PUBLIC": `SELECT pr.name AS grantee, p.permission_name,
	p.state_desc AS state, p.class_desc AS scope,
	STRING_AGG(OBJECT_NAME(p.major_id), ',') AS entity_name
FROM sys.database_permissions p
JOIN sys.database_principals pr ON p.grantee_principal_id = pr.principal_id
WHERE pr.name = 'public'
GROUP BY pr.name, p.permission_name, p.state_desc, p.class_desc, p.major_id`,
	"PROTO-001": `SELECT protocol_desc, is_enabled AS enabled
FROM sys.dm_server_registry
WHERE registry_key LIKE '%SuperSocketNetLib\Np%'`,
}

func newStaticProvider(name string, base map[string]string, overrides map[string]string) *staticProvider {
	merged := make(map[string]string, len(base)+len(overrides))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return &staticProvider{name: name, queries: merged}
}

// Sql2008Provider serves query text valid against SQL Server 2008/2008 R2
// (major version 10).
func Sql2008Provider() Provider {
	return newStaticProvider("sql2008", sql2008Queries, nil)
}

// Sql2019PlusProvider serves query text for SQL Server 2019 and later
// (major version >= 15), preferring modern syntax where it simplifies the
// query.
func Sql2019PlusProvider() Provider {
	return newStaticProvider("sql2019plus", sql2008Queries, sql2019PlusQueries)
}

// NewDefaultRegistry returns the registry AutoDBAudit ships with: a 2008
// family (major version 10 and the 2012/2014/2016/2017 versions that carry
// the same conservative syntax, major versions 10-14) and a 2019+ family
// (major version >= 15). New providers (2022-specific, Azure) are added
// with RegisterFamily without touching callers.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.RegisterFamily(func(v int) bool { return v >= 15 }, Sql2019PlusProvider())
	r.RegisterFamily(func(v int) bool { return v >= 10 }, Sql2008Provider())
	return r
}
