package auth

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nerrad567/gray-logic-gateway/internal/audit"
)

// CallerContext identifies who is making a call. It is built per request and
// never persisted.
type CallerContext struct {
	Role      Role
	DeviceID  string
	TokenName string
	ClientIP  string
	ClientID  string
}

// actor attributes the caller for audit purposes: deviceId > tokenName >
// clientId > "unknown".
func (c CallerContext) actor() (actorType, actorID string) {
	switch {
	case c.DeviceID != "":
		return audit.ActorDevice, c.DeviceID
	case c.TokenName != "":
		return audit.ActorToken, c.TokenName
	case c.ClientID != "":
		return audit.ActorClient, c.ClientID
	}
	return audit.ActorUnknown, audit.ActorUnknown
}

// Decision is the result of Authorize.
type Decision struct {
	Allowed bool
	// Reason is set on denial.
	Reason string
	// Permission is the permission that was checked, if the method is mapped.
	Permission Permission
}

// DenialObserver is notified of every denial (metrics, telemetry).
type DenialObserver interface {
	ObserveDenial(method, role string)
}

// Authorizer is the per-method authorization gate.
//
// Thread Safety:
//   - Authorize is safe for concurrent use; the permission tables are read-only.
type Authorizer struct {
	audit    *audit.BestEffort
	logger   *slog.Logger
	observer DenialObserver
}

// NewAuthorizer creates an Authorizer. Any argument may be nil.
func NewAuthorizer(auditLog *audit.BestEffort, logger *slog.Logger, observer DenialObserver) *Authorizer {
	return &Authorizer{audit: auditLog, logger: logger, observer: observer}
}

// Authorize decides whether caller may invoke method.
//
// Order of checks:
//  1. Lifecycle methods are always allowed.
//  2. A role outside ValidRoles is denied.
//  3. A method with no permission mapping is allowed.
//  4. Otherwise the role must hold the mapped permission.
//
// Every denial is logged and sent to the audit sink; neither can fail the call.
func (a *Authorizer) Authorize(ctx context.Context, method string, caller CallerContext) Decision {
	if IsLifecycleMethod(method) {
		return Decision{Allowed: true}
	}

	if !caller.Role.Valid() {
		return a.deny(ctx, method, caller, Decision{Reason: "invalid role"})
	}

	perm, mapped := methodPermissions[method]
	if !mapped {
		return Decision{Allowed: true}
	}
	if HasPermission(caller.Role, perm) {
		return Decision{Allowed: true, Permission: perm}
	}

	return a.deny(ctx, method, caller, Decision{
		Permission: perm,
		Reason:     fmt.Sprintf("role %q lacks permission %q for method %q", caller.Role, perm, method),
	})
}

func (a *Authorizer) deny(ctx context.Context, method string, caller CallerContext, d Decision) Decision {
	if a == nil {
		return d
	}
	actorType, actorID := caller.actor()

	if a.logger != nil {
		a.logger.Warn("authorization denied",
			"method", method,
			"role", string(caller.Role),
			"actor", actorID,
			"reason", d.Reason,
		)
	}
	if a.observer != nil {
		a.observer.ObserveDenial(method, string(caller.Role))
	}

	details := map[string]any{
		"method": method,
		"role":   string(caller.Role),
		"reason": d.Reason,
	}
	if d.Permission != "" {
		details["permission"] = string(d.Permission)
	}
	a.audit.Log(ctx, audit.Entry{
		ActorType: actorType,
		ActorID:   actorID,
		Action:    audit.ActionAuthzDenied,
		Resource:  method,
		IP:        caller.ClientIP,
		Result:    audit.ResultDenied,
		Details:   details,
	})
	return d
}

// ResolveCallerRole picks the effective security role for a connection:
// the device's security role, then the API token's role, then admin.
//
// The admin fallback keeps clients that predate security roles working.
func ResolveCallerRole(deviceRole, tokenRole Role) Role {
	if deviceRole.Valid() {
		return deviceRole
	}
	if tokenRole.Valid() {
		return tokenRole
	}
	return RoleAdmin
}
