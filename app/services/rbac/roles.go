package rbac

// Permissions are matched by pure string comparison; "*" grants all.
// Roles are extensible through configuration without code changes.
const (
	PermAll = "*"

	PermDeviceRead  = "device:read"
	PermDeviceWrite = "device:write"
	PermActionRead  = "action:read"
	PermActionWrite = "action:write"
	PermAlertRead   = "alert:read"
	PermAlertWrite  = "alert:write"
	PermReportRead  = "report:read"
	PermAuditRead   = "audit:read"
)

const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
	RoleViewer   = "viewer"
)

// BuiltinRoles is the default role->permission map.
func BuiltinRoles() map[string][]string {
	return map[string][]string{
		RoleAdmin: {PermAll},
		RoleOperator: {
			PermDeviceRead, PermDeviceWrite,
			PermActionRead, PermActionWrite,
			PermAlertRead, PermAlertWrite,
			PermReportRead,
		},
		RoleViewer: {
			PermDeviceRead, PermActionRead, PermAlertRead, PermReportRead,
		},
	}
}
