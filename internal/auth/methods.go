package auth

import "sort"

// lifecycleMethods stay reachable for every caller, authenticated or not.
var lifecycleMethods = map[string]struct{}{
	"connect": {},
	"hello":   {},
	"tick":    {},
	"health":  {},
	"status":  {},
}

// methodPermissions maps RPC methods to the permission they require.
// Methods not listed here are allowed for every role.
var methodPermissions = map[string]Permission{
	"config.get":    PermConfigRead,
	"config.schema": PermConfigRead,
	"config.set":    PermConfigManage,
	"config.apply":  PermConfigManage,
	"config.patch":  PermConfigManage,

	"device.pair.list":      PermDevicePairManage,
	"device.pair.approve":   PermDevicePairManage,
	"device.pair.reject":    PermDevicePairManage,
	"device.pair.remove":    PermDevicePairManage,
	"device.token.revoke":   PermDevicePairManage,
	"pairing.code.generate": PermDevicePairManage,

	"tokens.create": PermTokensManage,
	"tokens.list":   PermTokensManage,
	"tokens.revoke": PermTokensManage,

	"invite.create": PermInvitesManage,
	"invite.list":   PermInvitesManage,
	"invite.revoke": PermInvitesManage,

	"chat.send":    PermChatSend,
	"chat.abort":   PermChatSend,
	"chat.history": PermChatRead,

	"sessions.list":    PermSessionsRead,
	"sessions.preview": PermSessionsRead,
	"sessions.delete":  PermSessionsDelete,
	"sessions.reset":   PermSessionsDelete,

	"agent":      PermAgentsRun,
	"agent.wait": PermAgentsRun,

	"node.list":     PermNodesManage,
	"node.describe": PermNodesManage,
	"node.invoke":   PermNodesManage,
	"node.rename":   PermNodesManage,

	"cron.list":   PermCronManage,
	"cron.add":    PermCronManage,
	"cron.remove": PermCronManage,
	"cron.run":    PermCronManage,

	"audit.query": PermAuditRead,

	"presence.list": PermPresenceRead,
}

// IsLifecycleMethod reports whether method bypasses role checks.
func IsLifecycleMethod(method string) bool {
	_, ok := lifecycleMethods[method]
	return ok
}

// RequiredPermission returns the permission mapped to method, if any.
func RequiredPermission(method string) (Permission, bool) {
	p, ok := methodPermissions[method]
	return p, ok
}

// MappedMethods returns every method with a permission mapping, sorted.
func MappedMethods() []string {
	out := make([]string, 0, len(methodPermissions))
	for m := range methodPermissions {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// UnmappedMethods returns the methods in methods that are neither lifecycle
// methods nor mapped to a permission, sorted. These fall through to
// default-allow in Authorize.
func UnmappedMethods(methods []string) []string {
	var out []string
	for _, m := range methods {
		if IsLifecycleMethod(m) {
			continue
		}
		if _, ok := methodPermissions[m]; ok {
			continue
		}
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}
