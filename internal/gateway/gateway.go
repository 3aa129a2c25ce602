package gateway

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/nerrad567/gray-logic-gateway/internal/audit"
	"github.com/nerrad567/gray-logic-gateway/internal/auth"
	"github.com/nerrad567/gray-logic-gateway/internal/credential"
	"github.com/nerrad567/gray-logic-gateway/internal/deviceid"
	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-gateway/internal/pairing"
	"github.com/nerrad567/gray-logic-gateway/internal/pairingcode"
	"github.com/nerrad567/gray-logic-gateway/internal/ratelimit"
)

// Auth modes reported in hello-ok, beyond the shared-secret modes in package auth.
const (
	AuthModeToken       = "token"
	AuthModeDeviceToken = "device-token"
	AuthModeInvite      = "invite"
	AuthModePairingCode = "pairing-code"
)

// PairingRecords is the pairing persistence the handshake needs.
type PairingRecords interface {
	GetPairedDevice(ctx context.Context, deviceID string) (*pairing.PairedDevice, error)
	RequestDevicePairing(ctx context.Context, p pairing.RequestParams) (*pairing.RequestResult, error)
	ApproveDevicePairing(ctx context.Context, requestID string, securityRole auth.Role) (*pairing.PairedDevice, error)
	UpdatePairedDeviceMetadata(ctx context.Context, deviceID string, u pairing.MetadataUpdate) error
	EnsureDeviceToken(ctx context.Context, deviceID, role string, scopes []string) (string, error)
	VerifyDeviceToken(ctx context.Context, deviceID, token, role string, scopes []string) (bool, error)
}

// PairingStore adds the administrative operations behind the device.pair.* methods.
type PairingStore interface {
	PairingRecords
	ListPairingRequests(ctx context.Context, status string) ([]pairing.PairingRequest, error)
	ListPairedDevices(ctx context.Context) ([]pairing.PairedDevice, error)
	RejectDevicePairing(ctx context.Context, requestID string) (*pairing.PairingRequest, error)
	RemovePairedDevice(ctx context.Context, deviceID string) error
	RevokeDeviceTokens(ctx context.Context, deviceID string) error
}

// AuditQuerier reads back the audit trail for audit.query.
type AuditQuerier interface {
	List(ctx context.Context, filter audit.Filter) (*audit.ListResult, error)
}

// Policy holds the connection settings taken from configuration.
type Policy struct {
	AllowedOrigins   []string
	LocalAutoApprove bool
	LocalRole        auth.Role
	LANAutoApprove   bool
	LANRole          auth.Role
	MaxPayload       int
	MaxBufferedBytes int
	TickInterval     time.Duration
}

// ServerInfo identifies this gateway in hello-ok and status.
type ServerInfo struct {
	Version string
	Host    string
}

// Deps contains the dependencies for the Gateway.
type Deps struct {
	Tokens       *credential.TokenStore
	Invites      *credential.InviteStore
	PairingCodes *pairingcode.Store
	Pairing      PairingStore
	Limiter      ratelimit.Limiter
	Verifier     *deviceid.Verifier
	Secret       auth.SharedSecret
	Authorizer   *auth.Authorizer
	Audit        *audit.BestEffort
	AuditLog     AuditQuerier
	Events       *Events
	Presence     *Presence
	Telemetry    Telemetry
	// Health, when set, backs the health method.
	Health func(ctx context.Context) error
	Policy Policy
	Server ServerInfo
	Logger *logging.Logger
}

// Gateway runs the connect handshake and serves requests on established sessions.
//
// Thread Safety:
//   - Handshake, Handle and Disconnect are safe for concurrent use across
//     connections. Calls for one connection must be sequential.
type Gateway struct {
	tokens       *credential.TokenStore
	invites      *credential.InviteStore
	pairingCodes *pairingcode.Store
	pairing      PairingStore
	limiter      ratelimit.Limiter
	verifier     *deviceid.Verifier
	secret       auth.SharedSecret
	authz        *auth.Authorizer
	audit        *audit.BestEffort
	auditLog     AuditQuerier
	events       *Events
	presence     *Presence
	telemetry    Telemetry
	health       func(ctx context.Context) error
	policy       Policy
	server       ServerInfo
	logger       *logging.Logger

	methods map[string]methodHandler
	started time.Time
	now     func() time.Time
}

// Errors returned by New.
var (
	ErrMissingStore   = errors.New("gateway: credential and pairing stores are required")
	ErrMissingLimiter = errors.New("gateway: limiter is required")
)

// New creates a Gateway from deps. Optional dependencies get no-op defaults.
func New(deps Deps) (*Gateway, error) {
	if deps.Tokens == nil || deps.Invites == nil || deps.PairingCodes == nil || deps.Pairing == nil {
		return nil, ErrMissingStore
	}
	if deps.Limiter == nil {
		return nil, ErrMissingLimiter
	}

	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	telemetry := deps.Telemetry
	if telemetry == nil {
		telemetry = nopTelemetry{}
	}
	verifier := deps.Verifier
	if verifier == nil {
		verifier = deviceid.NewVerifier()
	}
	presence := deps.Presence
	if presence == nil {
		presence = NewPresence()
	}
	authz := deps.Authorizer
	if authz == nil {
		authz = auth.NewAuthorizer(deps.Audit, logger.Logger, telemetry)
	}
	policy := deps.Policy
	if !policy.LocalRole.Valid() {
		policy.LocalRole = auth.RoleOperator
	}
	if !policy.LANRole.Valid() {
		policy.LANRole = auth.RoleOperator
	}

	g := &Gateway{
		tokens:       deps.Tokens,
		invites:      deps.Invites,
		pairingCodes: deps.PairingCodes,
		pairing:      deps.Pairing,
		limiter:      deps.Limiter,
		verifier:     verifier,
		secret:       deps.Secret,
		authz:        authz,
		audit:        deps.Audit,
		auditLog:     deps.AuditLog,
		events:       deps.Events,
		presence:     presence,
		telemetry:    telemetry,
		health:       deps.Health,
		policy:       policy,
		server:       deps.Server,
		logger:       logger.Component("gateway"),
		now:          time.Now,
	}
	g.methods = g.methodTable()
	g.started = g.now()
	return g, nil
}

// Presence returns the presence registry.
func (g *Gateway) Presence() *Presence { return g.presence }

// Methods returns the names of every method served after the handshake, sorted.
func (g *Gateway) Methods() []string {
	names := make([]string, 0, len(g.methods))
	for name := range g.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EventNames lists the events a client may receive.
func EventNames() []string {
	return []string{EventConnectChallenge, EventTick, EventPresence, EventPairRequested, EventPairResolved}
}

// Disconnect unregisters a session and announces its departure.
func (g *Gateway) Disconnect(s *Session) {
	if s == nil {
		return
	}
	entry, ok := g.presence.Unregister(s.ConnID)
	if !ok {
		return
	}
	g.telemetry.ConnectionClosed()
	g.events.Emit(EventPresence, map[string]any{"type": "leave", "entry": entry}, auth.PermPresenceRead)
	g.logger.Info("session closed", "conn_id", s.ConnID, "role", s.Role, "device_id", s.DeviceID)
}

func (g *Gateway) uptime() time.Duration {
	return g.now().Sub(g.started)
}
