package gateway

import (
	"encoding/json"
	"unicode/utf8"
)

// ProtocolVersion is the only protocol this server speaks.
const ProtocolVersion = 3

// Frame types.
const (
	FrameRequest  = "req"
	FrameResponse = "res"
	FrameEvent    = "event"
)

// Error codes carried in ErrorShape.Code.
const (
	CodeInvalidRequest   = "INVALID_REQUEST"
	CodeProtocolMismatch = "PROTOCOL_MISMATCH"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeNotPaired        = "NOT_PAIRED"
	CodeRateLimited      = "RATE_LIMITED"
	CodeForbidden        = "FORBIDDEN"
	CodeUnavailable      = "UNAVAILABLE"
)

// WebSocket close codes used after a failed handshake.
const (
	CloseProtocolError   = 1002
	ClosePolicyViolation = 1008

	maxCloseReasonBytes = 120
)

// Connection roles a client may request.
const (
	RoleOperator = "operator"
	RoleNode     = "node"
)

// Events emitted by the gateway.
const (
	EventConnectChallenge = "connect.challenge"
	EventTick             = "tick"
	EventPresence         = "presence"
	EventPairRequested    = "device.pair.requested"
	EventPairResolved     = "device.pair.resolved"
)

// RequestFrame is a client request.
type RequestFrame struct {
	Type   string          `json:"type"`
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// ResponseFrame answers one RequestFrame.
type ResponseFrame struct {
	Type    string      `json:"type"`
	ID      string      `json:"id"`
	OK      bool        `json:"ok"`
	Payload any         `json:"payload,omitempty"`
	Error   *ErrorShape `json:"error,omitempty"`
}

// EventFrame is a server-initiated message.
type EventFrame struct {
	Type    string `json:"type"`
	Event   string `json:"event"`
	Payload any    `json:"payload,omitempty"`
	Seq     uint64 `json:"seq,omitempty"`
}

// ErrorShape is the error object in a failed response.
type ErrorShape struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func okResponse(id string, payload any) *ResponseFrame {
	return &ResponseFrame{Type: FrameResponse, ID: id, OK: true, Payload: payload}
}

func errorResponse(id string, e *ErrorShape) *ResponseFrame {
	return &ResponseFrame{Type: FrameResponse, ID: id, OK: false, Error: e}
}

// ClientInfo describes the connecting client.
type ClientInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName,omitempty"`
	Version     string `json:"version"`
	Platform    string `json:"platform"`
	Mode        string `json:"mode"`
	InstanceID  string `json:"instanceId,omitempty"`
}

// DeviceParams is the device identity block of a connect request.
type DeviceParams struct {
	ID        string `json:"id"`
	PublicKey string `json:"publicKey"`
	Signature string `json:"signature"`
	SignedAt  int64  `json:"signedAt"`
	Nonce     string `json:"nonce,omitempty"`
}

// AuthParams carries the credentials of a connect request.
type AuthParams struct {
	Token       string `json:"token,omitempty"`
	Password    string `json:"password,omitempty"`
	InviteCode  string `json:"inviteCode,omitempty"`
	PairingCode string `json:"pairingCode,omitempty"`
}

// ConnectParams are the params of the connect request.
type ConnectParams struct {
	MinProtocol *int          `json:"minProtocol"`
	MaxProtocol *int          `json:"maxProtocol"`
	Client      *ClientInfo   `json:"client"`
	Role        string        `json:"role,omitempty"`
	Scopes      []string      `json:"scopes,omitempty"`
	Device      *DeviceParams `json:"device,omitempty"`
	Auth        *AuthParams   `json:"auth,omitempty"`
}

// HelloOK is the payload of a successful connect response.
type HelloOK struct {
	Type     string        `json:"type"`
	Protocol int           `json:"protocol"`
	Server   HelloServer   `json:"server"`
	Features HelloFeatures `json:"features"`
	Snapshot HelloSnapshot `json:"snapshot"`
	Auth     HelloAuth     `json:"auth"`
	Policy   HelloPolicy   `json:"policy"`
}

// HelloServer identifies the gateway and the connection.
type HelloServer struct {
	Version string `json:"version"`
	Host    string `json:"host"`
	ConnID  string `json:"connId"`
}

// HelloFeatures lists what the gateway supports.
type HelloFeatures struct {
	Methods []string `json:"methods"`
	Events  []string `json:"events"`
}

// HelloSnapshot is the state a client needs to render immediately.
type HelloSnapshot struct {
	Presence []PresenceEntry `json:"presence"`
	UptimeMs int64           `json:"uptimeMs"`
}

// HelloAuth reports what the connection was granted.
type HelloAuth struct {
	Role         string   `json:"role"`
	SecurityRole string   `json:"securityRole"`
	Scopes       []string `json:"scopes"`
	AuthMode     string   `json:"authMode"`
	DeviceToken  string   `json:"deviceToken,omitempty"`
}

// HelloPolicy tells the client the connection limits.
type HelloPolicy struct {
	MaxPayload       int   `json:"maxPayload"`
	MaxBufferedBytes int   `json:"maxBufferedBytes"`
	TickIntervalMs   int64 `json:"tickIntervalMs"`
}

// Challenge is the payload of the connect.challenge event.
type Challenge struct {
	Nonce string `json:"nonce"`
	TS    int64  `json:"ts"`
}

// Rejection is a terminal handshake failure.
type Rejection struct {
	Code      string
	Message   string
	Details   map[string]any
	CloseCode int
}

func reject(code, message string) *Rejection {
	return &Rejection{Code: code, Message: message, CloseCode: ClosePolicyViolation}
}

func (r *Rejection) withDetails(details map[string]any) *Rejection {
	r.Details = details
	return r
}

func (r *Rejection) Error() string { return r.Code + ": " + r.Message }

// Shape converts r into the wire error object.
func (r *Rejection) Shape() *ErrorShape {
	return &ErrorShape{Code: r.Code, Message: r.Message, Details: r.Details}
}

// CloseReason is the message truncated to the 120 bytes a close frame allows
// for its reason, without splitting a UTF-8 sequence.
func (r *Rejection) CloseReason() string {
	return truncateUTF8(r.Message, maxCloseReasonBytes)
}

func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
