package gateway

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-gateway/internal/audit"
	"github.com/nerrad567/gray-logic-gateway/internal/auth"
	"github.com/nerrad567/gray-logic-gateway/internal/credential"
	"github.com/nerrad567/gray-logic-gateway/internal/deviceid"
	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-gateway/internal/pairing"
	"github.com/nerrad567/gray-logic-gateway/internal/pairingcode"
	"github.com/nerrad567/gray-logic-gateway/internal/ratelimit"
	"github.com/nerrad567/gray-logic-gateway/migrations"
)

const (
	testSecret       = "device-token-secret-at-least-32-chars!"
	testGatewayToken = "shared-gateway-token"
	remoteIP         = "203.0.113.7"
)

// captureFanout records broadcasts instead of writing to sockets.
type captureFanout struct {
	mu     sync.Mutex
	frames []capturedFrame
}

type capturedFrame struct {
	frame EventFrame
	match func(*Session) bool
}

func (f *captureFanout) Broadcast(data []byte, match func(*Session) bool) {
	var frame EventFrame
	_ = json.Unmarshal(data, &frame) //nolint:errcheck // frames come from Events.Emit
	f.mu.Lock()
	f.frames = append(f.frames, capturedFrame{frame: frame, match: match})
	f.mu.Unlock()
}

func (f *captureFanout) events(name string) []capturedFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []capturedFrame
	for _, c := range f.frames {
		if c.frame.Event == name {
			out = append(out, c)
		}
	}
	return out
}

type harness struct {
	gw       *Gateway
	tokens   *credential.TokenStore
	invites  *credential.InviteStore
	codes    *pairingcode.Store
	pairing  *pairing.SQLiteStore
	limiter  *ratelimit.Memory
	auditLog *audit.SQLiteRepository
	fanout   *captureFanout
}

func newHarness(t *testing.T, mutate func(*Deps)) *harness {
	t.Helper()
	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{
		Path:        filepath.Join(t.TempDir(), "gateway.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	store, err := pairing.NewSQLiteStore(db.DB, testSecret)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}

	h := &harness{
		tokens:   credential.NewTokenStore(ctx, db.DB),
		invites:  credential.NewInviteStore(ctx, db.DB),
		codes:    pairingcode.NewStore(),
		pairing:  store,
		limiter:  ratelimit.NewMemory(ratelimit.Config{MaxAttempts: 2, Window: time.Minute, Lockout: time.Minute, ExemptLoopback: true}),
		auditLog: audit.NewSQLiteRepository(db.DB),
		fanout:   &captureFanout{},
	}
	deps := Deps{
		Tokens:       h.tokens,
		Invites:      h.invites,
		PairingCodes: h.codes,
		Pairing:      h.pairing,
		Limiter:      h.limiter,
		Secret:       auth.NewSharedSecret(auth.AuthModeSharedToken, testGatewayToken, ""),
		Audit:        audit.NewBestEffort(h.auditLog, nil),
		AuditLog:     h.auditLog,
		Events:       NewEvents(h.fanout, nil, nil),
		Policy: Policy{
			MaxPayload:       512 * 1024,
			MaxBufferedBytes: 1024 * 1024,
			TickInterval:     30 * time.Second,
		},
		Server: ServerInfo{Version: "test", Host: "gw-test"},
	}
	if mutate != nil {
		mutate(&deps)
	}
	h.gw, err = New(deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return h
}

func intPtr(n int) *int { return &n }

func baseParams(role string, scopes ...string) ConnectParams {
	return ConnectParams{
		MinProtocol: intPtr(ProtocolVersion),
		MaxProtocol: intPtr(ProtocolVersion),
		Client:      &ClientInfo{ID: "cli", Version: "1.0.0", Platform: "linux", Mode: "cli"},
		Role:        role,
		Scopes:      scopes,
	}
}

func withToken(p ConnectParams, token string) ConnectParams {
	if p.Auth == nil {
		p.Auth = &AuthParams{}
	}
	a := *p.Auth
	a.Token = token
	p.Auth = &a
	return p
}

func connectFrame(t *testing.T, id string, p ConnectParams) []byte {
	t.Helper()
	params, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal params: %v", err)
	}
	data, err := json.Marshal(RequestFrame{Type: FrameRequest, ID: id, Method: "connect", Params: params})
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	return data
}

func remoteMeta(nonce string) ConnMeta {
	return ConnMeta{ConnID: "conn-" + nonce, RemoteIP: remoteIP, Host: "gw.example.com", Nonce: nonce}
}

type testDevice struct {
	id   string
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
}

func newDevice(t *testing.T) testDevice {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	return testDevice{id: deviceid.Fingerprint(pub), pub: pub, priv: priv}
}

// sign attaches a device block signed over p as the handshake will see it.
func (d testDevice) sign(p ConnectParams, nonce string) ConnectParams {
	role := p.Role
	if role == "" {
		role = RoleOperator
	}
	var token string
	if p.Auth != nil {
		token = p.Auth.Token
	}
	signedAt := time.Now().UnixMilli()
	payload := deviceid.Payload{
		DeviceID:   d.id,
		ClientID:   p.Client.ID,
		ClientMode: p.Client.Mode,
		Role:       role,
		Scopes:     p.Scopes,
		SignedAtMs: signedAt,
		Token:      token,
		Nonce:      nonce,
	}
	p.Device = &DeviceParams{
		ID:        d.id,
		PublicKey: deviceid.EncodePublicKey(d.pub),
		Signature: deviceid.Sign(d.priv, payload.Build()),
		SignedAt:  signedAt,
		Nonce:     nonce,
	}
	return p
}

// connect runs a handshake that is expected to succeed.
func (h *harness) connect(t *testing.T, p ConnectParams, meta ConnMeta) *Outcome {
	t.Helper()
	out := h.gw.Handshake(context.Background(), connectFrame(t, "c1", p), meta)
	if out.Rejection != nil {
		t.Fatalf("Handshake() rejected: %v", out.Rejection)
	}
	return out
}

// reject runs a handshake that is expected to fail with code.
func (h *harness) reject(t *testing.T, p ConnectParams, meta ConnMeta, code string) *Rejection {
	t.Helper()
	out := h.gw.Handshake(context.Background(), connectFrame(t, "c1", p), meta)
	if out.Rejection == nil {
		t.Fatalf("Handshake() succeeded, want %s", code)
	}
	if out.Rejection.Code != code {
		t.Fatalf("Rejection = %v, want code %s", out.Rejection, code)
	}
	return out.Rejection
}

// pairAdmin pairs a throwaway first device so later devices are not the
// gateway's first.
func (h *harness) pairAdmin(t *testing.T) testDevice {
	t.Helper()
	d := newDevice(t)
	p := d.sign(withToken(baseParams(RoleOperator, "operator.admin"), testGatewayToken), "n-admin")
	out := h.connect(t, p, remoteMeta("n-admin"))
	if out.Session.SecurityRole != auth.RoleAdmin {
		t.Fatalf("first device SecurityRole = %q, want admin", out.Session.SecurityRole)
	}
	h.gw.Disconnect(out.Session)
	return d
}

func (h *harness) auditActions(t *testing.T, action string) []audit.Entry {
	t.Helper()
	res, err := h.auditLog.List(context.Background(), audit.Filter{Action: action})
	if err != nil {
		t.Fatalf("audit List() error = %v", err)
	}
	return res.Entries
}

func sessionWithRole(role auth.Role) *Session {
	return &Session{ConnID: "s-" + string(role), Role: RoleOperator, SecurityRole: role, RemoteIP: remoteIP}
}
