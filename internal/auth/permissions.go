package auth

// Permission represents a named capability in the gateway.
type Permission string

// Permission constants.
const (
	PermConfigManage     Permission = "config.manage"
	PermConfigRead       Permission = "config.read"
	PermDevicePairManage Permission = "device.pair.manage"
	PermTokensManage     Permission = "tokens.manage"
	PermInvitesManage    Permission = "invites.manage"
	PermChatSend         Permission = "chat.send"
	PermChatRead         Permission = "chat.read"
	PermSessionsRead     Permission = "sessions.read"
	PermSessionsDelete   Permission = "sessions.delete"
	PermAgentsRun        Permission = "agents.run"
	PermNodesManage      Permission = "nodes.manage"
	PermCronManage       Permission = "cron.manage"
	PermAuditRead        Permission = "audit.read"
	PermPresenceRead     Permission = "presence.read"
)

// AllPermissions is the closed permission set.
var AllPermissions = []Permission{
	PermConfigManage, PermConfigRead,
	PermDevicePairManage, PermTokensManage, PermInvitesManage,
	PermChatSend, PermChatRead,
	PermSessionsRead, PermSessionsDelete,
	PermAgentsRun, PermNodesManage, PermCronManage,
	PermAuditRead, PermPresenceRead,
}

// rolePermissions maps each role to its granted permissions.
// This is the single source of truth for the authorisation model.
var rolePermissions = map[Role][]Permission{
	RoleAdmin: AllPermissions,
	RoleOperator: {
		PermConfigRead,
		PermChatSend,
		PermChatRead,
		PermSessionsRead,
		PermSessionsDelete,
		PermAgentsRun,
		PermNodesManage,
		PermCronManage,
		PermPresenceRead,
	},
	RoleViewer: {
		PermConfigRead,
		PermChatRead,
		PermSessionsRead,
		PermPresenceRead,
	},
	RoleChatOnly: {
		PermChatSend,
		PermChatRead,
	},
}

// HasPermission returns true if the given role has the specified permission.
func HasPermission(role Role, perm Permission) bool {
	for _, p := range rolePermissions[role] {
		if p == perm {
			return true
		}
	}
	return false
}

// PermissionsForRole returns all permissions granted to a role.
// Returns nil for unknown roles.
func PermissionsForRole(role Role) []Permission {
	perms := rolePermissions[role]
	if perms == nil {
		return nil
	}
	result := make([]Permission, len(perms))
	copy(result, perms)
	return result
}
