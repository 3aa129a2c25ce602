package gateway

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-gateway/internal/audit"
	"github.com/nerrad567/gray-logic-gateway/internal/auth"
	"github.com/nerrad567/gray-logic-gateway/internal/credential"
	"github.com/nerrad567/gray-logic-gateway/internal/pairing"
)

// methodTable lists every method served after the handshake. Authorization
// happens before lookup, in Handle.
func (g *Gateway) methodTable() map[string]methodHandler {
	return map[string]methodHandler{
		"health":      g.handleHealth,
		"status":      g.handleStatus,
		"auth.whoami": g.handleWhoami,

		"presence.list": g.handlePresenceList,
		"node.list":     g.handleNodeList,

		"tokens.create": g.handleTokensCreate,
		"tokens.list":   g.handleTokensList,
		"tokens.revoke": g.handleTokensRevoke,

		"invite.create": g.handleInviteCreate,
		"invite.list":   g.handleInviteList,
		"invite.revoke": g.handleInviteRevoke,

		"pairing.code.generate": g.handlePairingCodeGenerate,

		"device.pair.list":    g.handlePairList,
		"device.pair.approve": g.handlePairApprove,
		"device.pair.reject":  g.handlePairReject,
		"device.pair.remove":  g.handlePairRemove,
		"device.token.revoke": g.handleDeviceTokenRevoke,

		"audit.query": g.handleAuditQuery,
	}
}

func (g *Gateway) handleHealth(ctx context.Context, _ *Session, _ json.RawMessage) (any, error) {
	resp := map[string]any{"status": "ok", "ts": g.now().UnixMilli()}
	if g.health != nil {
		if err := g.health(ctx); err != nil {
			resp["status"] = "degraded"
			resp["error"] = err.Error()
		}
	}
	return resp, nil
}

func (g *Gateway) handleStatus(_ context.Context, s *Session, _ json.RawMessage) (any, error) {
	return map[string]any{
		"version":     g.server.Version,
		"host":        g.server.Host,
		"protocol":    ProtocolVersion,
		"connId":      s.ConnID,
		"uptimeMs":    g.uptime().Milliseconds(),
		"connections": g.presence.Len(),
	}, nil
}

// handleWhoami reports what the session was granted. It has no permission
// mapping, so every role may call it.
func (g *Gateway) handleWhoami(_ context.Context, s *Session, _ json.RawMessage) (any, error) {
	return map[string]any{
		"connId":       s.ConnID,
		"role":         s.Role,
		"securityRole": s.SecurityRole,
		"scopes":       s.Scopes,
		"authMode":     s.AuthMode,
		"deviceId":     s.DeviceID,
		"tokenName":    s.TokenName,
		"permissions":  auth.PermissionsForRole(s.SecurityRole),
	}, nil
}

func (g *Gateway) handlePresenceList(context.Context, *Session, json.RawMessage) (any, error) {
	return map[string]any{"presence": g.presence.List()}, nil
}

func (g *Gateway) handleNodeList(context.Context, *Session, json.RawMessage) (any, error) {
	return map[string]any{"nodes": g.presence.Nodes()}, nil
}

type tokensCreateParams struct {
	Name      string     `json:"name"`
	Role      string     `json:"role"`
	Scopes    []string   `json:"scopes"`
	ExpiresAt *time.Time `json:"expiresAt"`
}

func (g *Gateway) handleTokensCreate(ctx context.Context, s *Session, raw json.RawMessage) (any, error) {
	var p tokensCreateParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	created, err := g.tokens.Create(ctx, credential.CreateTokenParams{
		Name:      p.Name,
		Role:      p.Role,
		Scopes:    p.Scopes,
		ExpiresAt: p.ExpiresAt,
	})
	if err != nil {
		return nil, err
	}
	g.auditCaller(ctx, s, audit.ActionTokenCreated, created.Record.Name, map[string]any{
		"id":   created.Record.ID,
		"role": string(created.Record.Role),
	})
	return created, nil
}

func (g *Gateway) handleTokensList(ctx context.Context, _ *Session, _ json.RawMessage) (any, error) {
	tokens, err := g.tokens.List(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"tokens": tokens}, nil
}

type revokeParams struct {
	ID string `json:"id"`
}

func (g *Gateway) handleTokensRevoke(ctx context.Context, s *Session, raw json.RawMessage) (any, error) {
	var p revokeParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.ID) == "" {
		return nil, invalidParams("id is required")
	}
	res, err := g.tokens.Revoke(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	if !res.AlreadyRevoked {
		g.auditCaller(ctx, s, audit.ActionTokenRevoked, res.Token.Name, map[string]any{"id": res.Token.ID})
	}
	return map[string]any{"token": res.Token, "alreadyRevoked": res.AlreadyRevoked}, nil
}

type inviteCreateParams struct {
	Role      string     `json:"role"`
	ExpiresAt *time.Time `json:"expiresAt"`
	MaxUses   *int       `json:"maxUses"`
}

func (g *Gateway) handleInviteCreate(ctx context.Context, s *Session, raw json.RawMessage) (any, error) {
	var p inviteCreateParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if p.MaxUses != nil && *p.MaxUses < 1 {
		return nil, invalidParams("maxUses must be at least 1")
	}
	_, actorID := s.actor()
	inv, err := g.invites.Create(ctx, credential.CreateInviteParams{
		Role:      p.Role,
		ExpiresAt: p.ExpiresAt,
		MaxUses:   p.MaxUses,
		CreatedBy: actorID,
	})
	if err != nil {
		return nil, err
	}
	g.auditCaller(ctx, s, audit.ActionInviteCreated, inv.Display, map[string]any{
		"id":   inv.ID,
		"role": string(inv.Role),
	})
	return inv, nil
}

func (g *Gateway) handleInviteList(ctx context.Context, _ *Session, _ json.RawMessage) (any, error) {
	invites, err := g.invites.List(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"invites": invites}, nil
}

func (g *Gateway) handleInviteRevoke(ctx context.Context, s *Session, raw json.RawMessage) (any, error) {
	var p revokeParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.ID) == "" {
		return nil, invalidParams("id is required")
	}
	res, err := g.invites.Revoke(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	if !res.AlreadyRevoked {
		g.auditCaller(ctx, s, audit.ActionInviteRevoked, res.Invite.Display, map[string]any{"id": res.Invite.ID})
	}
	return map[string]any{"invite": res.Invite, "alreadyRevoked": res.AlreadyRevoked}, nil
}

type pairingCodeParams struct {
	Role string `json:"role"`
}

func (g *Gateway) handlePairingCodeGenerate(ctx context.Context, s *Session, raw json.RawMessage) (any, error) {
	p := pairingCodeParams{Role: string(auth.RoleOperator)}
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	role, err := auth.ParseRole(p.Role)
	if err != nil {
		return nil, err
	}
	_, actorID := s.actor()
	code, err := g.pairingCodes.Generate(role, actorID)
	if err != nil {
		return nil, err
	}
	g.auditCaller(ctx, s, audit.ActionPairingCodeIssued, "", map[string]any{"role": string(role)})
	return map[string]any{
		"code":      code.Code,
		"role":      code.Role,
		"expiresAt": code.ExpiresAt,
		"ttlMs":     code.TTLRemaining(g.now()).Milliseconds(),
	}, nil
}

func (g *Gateway) handlePairList(ctx context.Context, _ *Session, _ json.RawMessage) (any, error) {
	pending, err := g.pairing.ListPairingRequests(ctx, pairing.StatusPending)
	if err != nil {
		return nil, err
	}
	paired, err := g.pairing.ListPairedDevices(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"pending": pending, "paired": paired}, nil
}

type pairDecisionParams struct {
	RequestID string `json:"requestId"`
	Role      string `json:"role"`
}

func (g *Gateway) handlePairApprove(ctx context.Context, s *Session, raw json.RawMessage) (any, error) {
	var p pairDecisionParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if p.RequestID == "" {
		return nil, invalidParams("requestId is required")
	}
	var role auth.Role
	if p.Role != "" {
		r, err := auth.ParseRole(p.Role)
		if err != nil {
			return nil, err
		}
		role = r
	}

	device, err := g.pairing.ApproveDevicePairing(ctx, p.RequestID, role)
	if err != nil {
		return nil, err
	}
	g.auditCaller(ctx, s, audit.ActionPairApproved, device.DeviceID, map[string]any{
		"requestId": p.RequestID,
		"role":      string(device.SecurityRole),
	})
	g.telemetry.ObservePairing(PairingApproved)
	g.events.Emit(EventPairResolved, pairResolved(p.RequestID, device.DeviceID, pairing.StatusApproved, g.now()), auth.PermDevicePairManage)
	return map[string]any{"requestId": p.RequestID, "device": device}, nil
}

func (g *Gateway) handlePairReject(ctx context.Context, s *Session, raw json.RawMessage) (any, error) {
	var p pairDecisionParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if p.RequestID == "" {
		return nil, invalidParams("requestId is required")
	}
	req, err := g.pairing.RejectDevicePairing(ctx, p.RequestID)
	if err != nil {
		return nil, err
	}
	g.auditCaller(ctx, s, audit.ActionPairRejected, req.DeviceID, map[string]any{"requestId": req.ID})
	g.telemetry.ObservePairing(PairingRejected)
	g.events.Emit(EventPairResolved, pairResolved(req.ID, req.DeviceID, pairing.StatusRejected, g.now()), auth.PermDevicePairManage)
	return map[string]any{"requestId": req.ID, "deviceId": req.DeviceID}, nil
}

type pairRemoveParams struct {
	DeviceID string `json:"deviceId"`
}

func (g *Gateway) handlePairRemove(ctx context.Context, s *Session, raw json.RawMessage) (any, error) {
	var p pairRemoveParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if p.DeviceID == "" {
		return nil, invalidParams("deviceId is required")
	}
	if err := g.pairing.RemovePairedDevice(ctx, p.DeviceID); err != nil {
		return nil, err
	}
	g.auditCaller(ctx, s, audit.ActionPairRemoved, p.DeviceID, nil)
	return map[string]any{"deviceId": p.DeviceID, "removed": true}, nil
}

// handleDeviceTokenRevoke invalidates a device's tokens but keeps it paired.
// The device must sign in again with another credential to get a new one.
func (g *Gateway) handleDeviceTokenRevoke(ctx context.Context, s *Session, raw json.RawMessage) (any, error) {
	var p pairRemoveParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if p.DeviceID == "" {
		return nil, invalidParams("deviceId is required")
	}
	if _, err := g.pairing.GetPairedDevice(ctx, p.DeviceID); err != nil {
		return nil, err
	}
	if err := g.pairing.RevokeDeviceTokens(ctx, p.DeviceID); err != nil {
		return nil, err
	}
	g.auditCaller(ctx, s, audit.ActionDeviceTokenRevoked, p.DeviceID, nil)
	return map[string]any{"deviceId": p.DeviceID, "revoked": true}, nil
}

type auditQueryParams struct {
	Action    string `json:"action"`
	ActorType string `json:"actorType"`
	ActorID   string `json:"actorId"`
	Result    string `json:"result"`
	Limit     int    `json:"limit"`
	Offset    int    `json:"offset"`
}

func (g *Gateway) handleAuditQuery(ctx context.Context, _ *Session, raw json.RawMessage) (any, error) {
	if g.auditLog == nil {
		return nil, &methodError{code: CodeUnavailable, message: "audit log unavailable"}
	}
	var p auditQueryParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	return g.auditLog.List(ctx, audit.Filter{
		Action:    p.Action,
		ActorType: p.ActorType,
		ActorID:   p.ActorID,
		Result:    p.Result,
		Limit:     p.Limit,
		Offset:    p.Offset,
	})
}

// auditCaller records an administrative action taken by s.
func (g *Gateway) auditCaller(ctx context.Context, s *Session, action, resource string, details map[string]any) {
	actorType, actorID := s.actor()
	g.audit.Log(ctx, audit.Entry{
		ActorType: actorType,
		ActorID:   actorID,
		Action:    action,
		Resource:  resource,
		IP:        s.RemoteIP,
		Result:    audit.ResultSuccess,
		Details:   details,
	})
}
