package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-gateway/internal/audit"
	"github.com/nerrad567/gray-logic-gateway/internal/auth"
	"github.com/nerrad567/gray-logic-gateway/internal/credential"
	"github.com/nerrad567/gray-logic-gateway/internal/deviceid"
	"github.com/nerrad567/gray-logic-gateway/internal/pairing"
	"github.com/nerrad567/gray-logic-gateway/internal/ratelimit"
)

// ConnMeta is what the transport knows about a connection before connect.
type ConnMeta struct {
	ConnID   string
	RemoteIP string
	IsLocal  bool
	// Host is the Host header of the upgrade request.
	Host   string
	Origin string
	// Nonce is the value sent in connect.challenge.
	Nonce     string
	StartedAt time.Time
}

// Outcome is the result of a handshake: exactly one of Session or Rejection is set.
type Outcome struct {
	// FrameID is the id of the connect request, empty if none could be read.
	FrameID   string
	Session   *Session
	Hello     *HelloOK
	Rejection *Rejection
}

// Response returns the frame to send back, or nil when the request carried no id.
func (o *Outcome) Response() *ResponseFrame {
	if o.FrameID == "" {
		return nil
	}
	if o.Rejection != nil {
		return errorResponse(o.FrameID, o.Rejection.Shape())
	}
	return okResponse(o.FrameID, o.Hello)
}

// handshakeState flows through the steps by value.
type handshakeState struct {
	meta    ConnMeta
	raw     []byte
	frameID string
	params  ConnectParams
	client  ClientInfo
	creds   AuthParams

	protocol int
	role     string
	scopes   []string

	authenticated bool
	authMode      string
	// reason is the most specific authentication failure seen so far.
	reason       string
	secretFailed bool
	// secretLocked holds the shared-secret lockout, deferred while auth.token
	// can still be tried as a device token.
	secretLocked *ratelimit.Decision

	token  *credential.TokenGrant
	device *deviceid.Verification

	// codeKind is AuthModeInvite or AuthModePairingCode when a valid code was presented.
	codeKind string
	code     string
	codeRole auth.Role

	securityRole auth.Role
	deviceToken  string
	// paired is set once the device matched or gained a pairing record.
	paired bool
}

type step func(ctx context.Context, st handshakeState) (handshakeState, *Rejection)

// Handshake runs the connect request raw through the handshake pipeline.
// A rejection is terminal: the transport sends Response() and closes with
// Rejection.CloseCode.
func (g *Gateway) Handshake(ctx context.Context, raw []byte, meta ConnMeta) *Outcome {
	if meta.StartedAt.IsZero() {
		meta.StartedAt = g.now()
	}
	steps := []step{
		g.parseFrame,
		g.negotiateProtocol,
		g.parseRole,
		g.requestScopes,
		g.checkOrigin,
		g.authenticate,
		g.clampScopes,
		g.pair,
	}

	st := handshakeState{meta: meta, raw: raw}
	for _, next := range steps {
		var rej *Rejection
		st, rej = next(ctx, st)
		if rej != nil {
			return g.rejected(st, rej)
		}
	}
	return g.finalize(ctx, st)
}

func (g *Gateway) rejected(st handshakeState, rej *Rejection) *Outcome {
	g.logger.Info("handshake rejected",
		"conn_id", st.meta.ConnID,
		"remote_ip", st.meta.RemoteIP,
		"client_id", st.client.ID,
		"code", rej.Code,
		"reason", rej.Message,
	)
	g.telemetry.ObserveHandshake(OutcomeRejected, st.authMode, rej.Code, g.now().Sub(st.meta.StartedAt))
	return &Outcome{FrameID: st.frameID, Rejection: rej}
}

func (g *Gateway) parseFrame(_ context.Context, st handshakeState) (handshakeState, *Rejection) {
	var frame RequestFrame
	if err := json.Unmarshal(st.raw, &frame); err != nil {
		return st, reject(CodeInvalidRequest, "invalid request frame")
	}
	st.frameID = frame.ID
	if frame.Type != FrameRequest || frame.ID == "" {
		return st, reject(CodeInvalidRequest, "invalid request frame")
	}
	if frame.Method != "connect" {
		return st, reject(CodeInvalidRequest, "invalid handshake: first request must be connect")
	}

	if len(frame.Params) == 0 {
		return st, reject(CodeInvalidRequest, "invalid connect params: minProtocol")
	}
	if err := json.Unmarshal(frame.Params, &st.params); err != nil {
		return st, reject(CodeInvalidRequest, "invalid connect params: "+err.Error())
	}
	if field := missingConnectField(st.params); field != "" {
		return st, reject(CodeInvalidRequest, "invalid connect params: "+field)
	}
	st.client = *st.params.Client
	if st.params.Auth != nil {
		st.creds = *st.params.Auth
	}
	return st, nil
}

func missingConnectField(p ConnectParams) string {
	switch {
	case p.MinProtocol == nil:
		return "minProtocol"
	case p.MaxProtocol == nil:
		return "maxProtocol"
	case p.Client == nil || p.Client.ID == "":
		return "client.id"
	case p.Client.Version == "":
		return "client.version"
	case p.Client.Platform == "":
		return "client.platform"
	case p.Client.Mode == "":
		return "client.mode"
	}
	return ""
}

func (g *Gateway) negotiateProtocol(_ context.Context, st handshakeState) (handshakeState, *Rejection) {
	if *st.params.MinProtocol > ProtocolVersion || *st.params.MaxProtocol < ProtocolVersion {
		rej := reject(CodeProtocolMismatch, "protocol mismatch").
			withDetails(map[string]any{"expectedProtocol": ProtocolVersion})
		rej.CloseCode = CloseProtocolError
		return st, rej
	}
	st.protocol = ProtocolVersion
	return st, nil
}

func (g *Gateway) parseRole(_ context.Context, st handshakeState) (handshakeState, *Rejection) {
	switch st.params.Role {
	case "":
		st.role = RoleOperator
	case RoleOperator, RoleNode:
		st.role = st.params.Role
	default:
		return st, reject(CodeInvalidRequest, "invalid role")
	}
	return st, nil
}

func (g *Gateway) requestScopes(_ context.Context, st handshakeState) (handshakeState, *Rejection) {
	seen := make(map[string]bool, len(st.params.Scopes))
	scopes := []string{}
	for _, s := range st.params.Scopes {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		scopes = append(scopes, s)
	}
	st.scopes = scopes
	return st, nil
}

func (g *Gateway) checkOrigin(_ context.Context, st handshakeState) (handshakeState, *Rejection) {
	if !isBrowserClient(st.client) {
		return st, nil
	}
	if st.meta.Origin == "" || !originAllowed(st.meta.Origin, st.meta.Host, g.policy.AllowedOrigins) {
		return st, reject(CodeInvalidRequest, "origin not allowed")
	}
	return st, nil
}

// authenticate tries each credential in turn; the first success wins.
func (g *Gateway) authenticate(ctx context.Context, st handshakeState) (handshakeState, *Rejection) {
	for _, attempt := range []step{
		g.authAPIToken,
		g.authSharedSecret,
		g.authDevice,
		g.authCode,
	} {
		var rej *Rejection
		if st, rej = attempt(ctx, st); rej != nil {
			if st.secretFailed {
				g.limiter.RecordFailure(ctx, st.meta.RemoteIP, ratelimit.ScopeSharedSecret)
			}
			return st, rej
		}
	}

	if st.secretFailed && st.authMode != AuthModeDeviceToken {
		g.limiter.RecordFailure(ctx, st.meta.RemoteIP, ratelimit.ScopeSharedSecret)
	}

	if !st.authenticated && st.secretLocked != nil {
		return st, g.limited(ratelimit.ScopeSharedSecret, *st.secretLocked)
	}
	if !st.authenticated {
		reason := st.reason
		if reason == "" {
			reason = "unauthorized"
		}
		return st, reject(CodeUnauthorized, reason)
	}
	if st.role == RoleNode && st.device == nil && st.token == nil {
		return st, reject(CodeUnauthorized, "device identity required")
	}
	return st, nil
}

func (g *Gateway) authAPIToken(ctx context.Context, st handshakeState) (handshakeState, *Rejection) {
	if !credential.IsAPIToken(st.creds.Token) {
		return st, nil
	}
	grant, err := g.tokens.Validate(ctx, st.creds.Token)
	switch {
	case errors.Is(err, credential.ErrInvalid):
		return st, reject(CodeUnauthorized, "api token invalid")
	case err != nil:
		g.logger.Error("validating api token", "conn_id", st.meta.ConnID, "error", err)
		return st, reject(CodeUnavailable, "credential store unavailable")
	}
	st.token = grant
	st.authenticated = true
	st.authMode = AuthModeToken
	return st, nil
}

func (g *Gateway) authSharedSecret(ctx context.Context, st handshakeState) (handshakeState, *Rejection) {
	if st.authenticated {
		return st, nil
	}
	if g.secret.Open() {
		st.authenticated = true
		st.authMode = auth.AuthModeNone
		return st, nil
	}
	if st.creds.Token == "" && st.creds.Password == "" {
		if st.reason == "" {
			st.reason = auth.ErrSecretMissing.Error()
		}
		return st, nil
	}

	if d := g.limiter.Check(ctx, st.meta.RemoteIP, ratelimit.ScopeSharedSecret); !d.Allowed {
		if st.params.Device == nil || st.creds.Token == "" {
			return st, g.limited(ratelimit.ScopeSharedSecret, d)
		}
		st.secretLocked = &d
		return st, nil
	}
	mode, err := g.secret.Check(st.creds.Token, st.creds.Password)
	switch {
	case err == nil:
		g.limiter.Reset(ctx, st.meta.RemoteIP, ratelimit.ScopeSharedSecret)
		st.authenticated = true
		st.authMode = mode
	case errors.Is(err, auth.ErrSecretMismatch):
		st.secretFailed = true
		st.reason = err.Error()
	default:
		if st.reason == "" {
			st.reason = err.Error()
		}
	}
	return st, nil
}

// authDevice verifies a presented device identity, then tries auth.token as
// a device-bound token if nothing else has authenticated the connection.
func (g *Gateway) authDevice(ctx context.Context, st handshakeState) (handshakeState, *Rejection) {
	d := st.params.Device
	if d == nil {
		return st, nil
	}
	v, err := g.verifier.Verify(deviceid.Claim{
		DeviceID:   d.ID,
		PublicKey:  d.PublicKey,
		Signature:  d.Signature,
		SignedAt:   d.SignedAt,
		Nonce:      d.Nonce,
		ClientID:   st.client.ID,
		ClientMode: st.client.Mode,
		Role:       st.role,
		Scopes:     st.scopes,
		Token:      st.creds.Token,
	}, deviceid.Context{
		IssuedNonce: st.meta.Nonce,
		IsLocal:     st.meta.IsLocal,
		Now:         g.now(),
	})
	if err != nil {
		return st, reject(CodeUnauthorized, err.Error())
	}
	if v.Legacy {
		g.logger.Warn("device signed without nonce", "conn_id", st.meta.ConnID, "device_id", v.DeviceID)
	}
	st.device = v

	if st.authenticated || st.creds.Token == "" || credential.IsAPIToken(st.creds.Token) {
		return st, nil
	}

	ip := st.meta.RemoteIP
	if rej := g.checkLimit(ctx, ip, ratelimit.ScopeDeviceToken); rej != nil {
		return st, rej
	}
	ok, err := g.pairing.VerifyDeviceToken(ctx, v.DeviceID, st.creds.Token, st.role, st.scopes)
	if err != nil {
		g.logger.Error("verifying device token", "conn_id", st.meta.ConnID, "error", err)
		return st, reject(CodeUnavailable, "pairing store unavailable")
	}
	if !ok {
		g.limiter.RecordFailure(ctx, ip, ratelimit.ScopeDeviceToken)
		if st.reason == "" || st.secretFailed {
			st.reason = "device token mismatch"
		}
		return st, nil
	}
	g.limiter.Reset(ctx, ip, ratelimit.ScopeDeviceToken)
	st.authenticated = true
	st.authMode = AuthModeDeviceToken
	return st, nil
}

// authCode peeks at an invite or pairing code. Consumption happens in pair,
// once the device is known to be unpaired.
func (g *Gateway) authCode(ctx context.Context, st handshakeState) (handshakeState, *Rejection) {
	kind, code := AuthModeInvite, strings.TrimSpace(st.creds.InviteCode)
	if code == "" {
		kind, code = AuthModePairingCode, strings.TrimSpace(st.creds.PairingCode)
	}
	if code == "" {
		return st, nil
	}

	ip := st.meta.RemoteIP
	if rej := g.checkLimit(ctx, ip, ratelimit.ScopePairingCode); rej != nil {
		return st, rej
	}

	var role auth.Role
	if kind == AuthModeInvite {
		r, err := g.invites.Validate(ctx, code)
		switch {
		case errors.Is(err, credential.ErrInvalid):
			g.limiter.RecordFailure(ctx, ip, ratelimit.ScopePairingCode)
			return st, reject(CodeUnauthorized, "invite code invalid")
		case err != nil:
			g.logger.Error("validating invite code", "conn_id", st.meta.ConnID, "error", err)
			return st, reject(CodeUnavailable, "credential store unavailable")
		}
		role = r
	} else {
		r, ok := g.pairingCodes.Validate(code)
		if !ok {
			g.limiter.RecordFailure(ctx, ip, ratelimit.ScopePairingCode)
			return st, reject(CodeUnauthorized, "pairing code invalid")
		}
		role = r
	}
	g.limiter.Reset(ctx, ip, ratelimit.ScopePairingCode)

	st.codeKind, st.code, st.codeRole = kind, code, role
	switch {
	case st.authenticated:
	case st.device != nil:
		st.authenticated = true
		st.authMode = kind
	default:
		st.reason = "device identity required"
	}
	return st, nil
}

func (g *Gateway) checkLimit(ctx context.Context, ip, scope string) *Rejection {
	d := g.limiter.Check(ctx, ip, scope)
	if d.Allowed {
		return nil
	}
	return g.limited(scope, d)
}

func (g *Gateway) limited(scope string, d ratelimit.Decision) *Rejection {
	g.telemetry.ObserveRateLimited(scope)
	return reject(CodeRateLimited, "too many failed authentication attempts").
		withDetails(map[string]any{"retryAfterMs": d.RetryAfter.Milliseconds()})
}

// clampScopes drops scopes that no credential backs.
func (g *Gateway) clampScopes(_ context.Context, st handshakeState) (handshakeState, *Rejection) {
	switch {
	case st.token != nil:
		if len(st.token.Scopes) > 0 {
			st.scopes = intersect(st.scopes, st.token.Scopes)
		}
	case st.device != nil:
	default:
		st.scopes = []string{}
	}
	return st, nil
}

func intersect(requested, granted []string) []string {
	allowed := make(map[string]bool, len(granted))
	for _, s := range granted {
		allowed[s] = true
	}
	out := []string{}
	for _, s := range requested {
		if allowed[s] {
			out = append(out, s)
		}
	}
	return out
}

// pair resolves the device against the pairing records. Only connections
// with a verified device get here with work to do.
func (g *Gateway) pair(ctx context.Context, st handshakeState) (handshakeState, *Rejection) {
	if st.device == nil {
		return st, nil
	}
	paired, err := g.pairing.GetPairedDevice(ctx, st.device.DeviceID)
	if err != nil && !errors.Is(err, pairing.ErrDeviceNotFound) {
		g.logger.Error("loading paired device", "conn_id", st.meta.ConnID, "error", err)
		return st, reject(CodeUnavailable, "pairing store unavailable")
	}
	if st.token != nil {
		return g.pairWithToken(ctx, st, paired), nil
	}
	if paired != nil {
		return g.pairKnown(ctx, st, paired)
	}
	return g.pairNew(ctx, st)
}

// pairWithToken handles a device presented alongside a valid API token. The
// token already authorises the connection, so no pairing request is raised.
// A pairing that covers the request still applies its security role.
func (g *Gateway) pairWithToken(ctx context.Context, st handshakeState, paired *pairing.PairedDevice) handshakeState {
	if paired == nil || !paired.HasRole(st.role) || !paired.CoversScopes(st.scopes) {
		g.logger.Debug("device not paired for request, using api token role",
			"conn_id", st.meta.ConnID,
			"device_id", st.device.DeviceID,
			"token_name", st.token.Name,
		)
		return st
	}
	g.touchDevice(ctx, st, paired.DeviceID)
	st.securityRole = paired.SecurityRole
	st.paired = true
	return st
}

func (g *Gateway) pairKnown(ctx context.Context, st handshakeState, paired *pairing.PairedDevice) (handshakeState, *Rejection) {
	var upgrades []string
	if !paired.HasRole(st.role) {
		upgrades = append(upgrades, "role-upgrade")
		g.auditDevice(ctx, st, audit.ActionRoleUpgrade, audit.ResultDenied, map[string]any{
			"requested": st.role,
			"paired":    paired.Roles,
		})
	}
	if !paired.CoversScopes(st.scopes) {
		upgrades = append(upgrades, "scope-upgrade")
		g.auditDevice(ctx, st, audit.ActionScopeUpgrade, audit.ResultDenied, map[string]any{
			"requested": st.scopes,
			"paired":    paired.Scopes,
		})
	}

	if len(upgrades) > 0 {
		res, err := g.pairing.RequestDevicePairing(ctx, g.requestParams(st, "", false))
		if err != nil {
			g.logger.Error("requesting pairing upgrade", "conn_id", st.meta.ConnID, "error", err)
			return st, reject(CodeUnavailable, "pairing store unavailable")
		}
		g.announceRequest(res)
		reason := strings.Join(upgrades, ",")
		return st, reject(CodeNotPaired, "pairing required").
			withDetails(map[string]any{"requestId": res.Request.ID, "reason": reason})
	}

	g.touchDevice(ctx, st, paired.DeviceID)
	st.securityRole = paired.SecurityRole
	st.paired = true
	return st, nil
}

func (g *Gateway) touchDevice(ctx context.Context, st handshakeState, deviceID string) {
	if err := g.pairing.UpdatePairedDeviceMetadata(ctx, deviceID, pairing.MetadataUpdate{
		RemoteIP:    st.meta.RemoteIP,
		DisplayName: st.client.DisplayName,
		Platform:    st.client.Platform,
		ClientID:    st.client.ID,
		ClientMode:  st.client.Mode,
	}); err != nil {
		g.logger.Warn("updating paired device metadata", "device_id", deviceID, "error", err)
	}
}

func (g *Gateway) pairNew(ctx context.Context, st handshakeState) (handshakeState, *Rejection) {
	var (
		silent bool
		via    string
		role   auth.Role
	)
	switch {
	case st.codeKind != "":
		if rej := g.consumeCode(ctx, st); rej != nil {
			return st, rej
		}
		silent, via, role = true, st.codeKind, st.codeRole
	case st.meta.IsLocal && g.policy.LocalAutoApprove:
		silent, via, role = true, "local", g.policy.LocalRole
	case isLAN(st.meta.RemoteIP) && g.policy.LANAutoApprove:
		silent, via, role = true, "lan", g.policy.LANRole
	}

	res, err := g.pairing.RequestDevicePairing(ctx, g.requestParams(st, role, silent))
	if err != nil {
		g.logger.Error("requesting pairing", "conn_id", st.meta.ConnID, "error", err)
		return st, reject(CodeUnavailable, "pairing store unavailable")
	}
	if res.FirstDevice {
		silent, via, role = true, "first-device", auth.RoleAdmin
	}

	if !silent {
		g.announceRequest(res)
		return st, reject(CodeNotPaired, "pairing required").
			withDetails(map[string]any{"requestId": res.Request.ID, "reason": "not-paired"})
	}

	device, err := g.pairing.ApproveDevicePairing(ctx, res.Request.ID, role)
	if err != nil {
		g.logger.Error("auto-approving pairing", "conn_id", st.meta.ConnID, "error", err)
		return st, reject(CodeUnavailable, "pairing store unavailable")
	}
	g.auditDevice(ctx, st, audit.ActionPairAutoApproved, audit.ResultSuccess, map[string]any{
		"requestId": res.Request.ID,
		"role":      string(device.SecurityRole),
		"via":       via,
	})
	g.telemetry.ObservePairing(PairingAutoApproved)
	g.events.Emit(EventPairResolved, pairResolved(res.Request.ID, device.DeviceID, pairing.StatusApproved, g.now()), auth.PermDevicePairManage)
	g.logger.Info("device paired", "device_id", device.DeviceID, "role", device.SecurityRole, "via", via)

	st.securityRole = device.SecurityRole
	st.paired = true
	return st, nil
}

// consumeCode spends the code that was validated in authCode.
func (g *Gateway) consumeCode(ctx context.Context, st handshakeState) *Rejection {
	if st.codeKind == AuthModeInvite {
		if err := g.invites.Use(ctx, st.code); err != nil {
			if errors.Is(err, credential.ErrInvalid) || errors.Is(err, credential.ErrNotFound) {
				return reject(CodeUnauthorized, "invite code invalid")
			}
			g.logger.Error("using invite code", "conn_id", st.meta.ConnID, "error", err)
			return reject(CodeUnavailable, "credential store unavailable")
		}
		g.auditDevice(ctx, st, audit.ActionInviteUsed, audit.ResultSuccess, map[string]any{"role": string(st.codeRole)})
		return nil
	}

	if _, ok := g.pairingCodes.Consume(st.code); !ok {
		return reject(CodeUnauthorized, "pairing code invalid")
	}
	g.auditDevice(ctx, st, audit.ActionPairingCodeConsumed, audit.ResultSuccess, map[string]any{"role": string(st.codeRole)})
	return nil
}

func (g *Gateway) requestParams(st handshakeState, role auth.Role, silent bool) pairing.RequestParams {
	return pairing.RequestParams{
		DeviceID:     st.device.DeviceID,
		PublicKey:    deviceid.EncodePublicKey(st.device.PublicKey),
		Role:         st.role,
		Scopes:       st.scopes,
		SecurityRole: role,
		RemoteIP:     st.meta.RemoteIP,
		DisplayName:  st.client.DisplayName,
		Platform:     st.client.Platform,
		ClientID:     st.client.ID,
		ClientMode:   st.client.Mode,
		Silent:       silent,
	}
}

func (g *Gateway) announceRequest(res *pairing.RequestResult) {
	g.telemetry.ObservePairing(PairingRequested)
	g.events.Emit(EventPairRequested, res.Request, auth.PermDevicePairManage)
}

func pairResolved(requestID, deviceID, decision string, at time.Time) map[string]any {
	return map[string]any{
		"requestId": requestID,
		"deviceId":  deviceID,
		"decision":  decision,
		"ts":        at.UnixMilli(),
	}
}

func (g *Gateway) auditDevice(ctx context.Context, st handshakeState, action, result string, details map[string]any) {
	g.audit.Log(ctx, audit.Entry{
		ActorType: audit.ActorDevice,
		ActorID:   st.device.DeviceID,
		Action:    action,
		Resource:  st.device.DeviceID,
		IP:        st.meta.RemoteIP,
		Result:    result,
		Details:   details,
	})
}

// finalize registers the session and builds hello-ok.
func (g *Gateway) finalize(ctx context.Context, st handshakeState) *Outcome {
	if st.paired {
		tok, err := g.pairing.EnsureDeviceToken(ctx, st.device.DeviceID, st.role, st.scopes)
		if err != nil {
			g.logger.Warn("issuing device token", "device_id", st.device.DeviceID, "error", err)
		}
		st.deviceToken = tok
	}

	var tokenRole auth.Role
	sess := &Session{
		ConnID:      st.meta.ConnID,
		Protocol:    st.protocol,
		Role:        st.role,
		Scopes:      st.scopes,
		AuthMode:    st.authMode,
		DeviceToken: st.deviceToken,
		Client:      st.client,
		RemoteIP:    st.meta.RemoteIP,
		IsLocal:     st.meta.IsLocal,
		ConnectedAt: g.now(),
	}
	if st.token != nil {
		tokenRole = st.token.Role
		sess.TokenName = st.token.Name
	}
	if st.device != nil {
		sess.DeviceID = st.device.DeviceID
	}
	sess.SecurityRole = auth.ResolveCallerRole(st.securityRole, tokenRole)
	sess.PresenceKey = presenceKey(sess.DeviceID, sess.Client, sess.ConnID)

	entry := g.presence.Register(sess)
	g.telemetry.ConnectionOpened()
	g.events.Emit(EventPresence, map[string]any{"type": "join", "entry": entry}, auth.PermPresenceRead)

	hello := &HelloOK{
		Type:     "hello-ok",
		Protocol: st.protocol,
		Server: HelloServer{
			Version: g.server.Version,
			Host:    g.server.Host,
			ConnID:  sess.ConnID,
		},
		Features: HelloFeatures{
			Methods: g.Methods(),
			Events:  EventNames(),
		},
		Snapshot: HelloSnapshot{
			Presence: g.presence.List(),
			UptimeMs: g.uptime().Milliseconds(),
		},
		Auth: HelloAuth{
			Role:         sess.Role,
			SecurityRole: string(sess.SecurityRole),
			Scopes:       sess.Scopes,
			AuthMode:     sess.AuthMode,
			DeviceToken:  sess.DeviceToken,
		},
		Policy: HelloPolicy{
			MaxPayload:       g.policy.MaxPayload,
			MaxBufferedBytes: g.policy.MaxBufferedBytes,
			TickIntervalMs:   g.policy.TickInterval.Milliseconds(),
		},
	}

	g.telemetry.ObserveHandshake(OutcomeSuccess, st.authMode, "", g.now().Sub(st.meta.StartedAt))
	g.logger.Info("handshake complete",
		"conn_id", sess.ConnID,
		"remote_ip", sess.RemoteIP,
		"client_id", sess.Client.ID,
		"role", sess.Role,
		"security_role", sess.SecurityRole,
		"auth_mode", sess.AuthMode,
		"device_id", sess.DeviceID,
	)
	return &Outcome{FrameID: st.frameID, Session: sess, Hello: hello}
}
