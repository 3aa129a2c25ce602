package gateway

import (
	"time"

	"github.com/nerrad567/gray-logic-gateway/internal/audit"
	"github.com/nerrad567/gray-logic-gateway/internal/auth"
)

// Session is a connection that completed the handshake.
// It is immutable once hello-ok has been sent.
type Session struct {
	ConnID       string
	Protocol     int
	Role         string
	SecurityRole auth.Role
	Scopes       []string
	AuthMode     string
	DeviceID     string
	DeviceToken  string
	TokenName    string
	Client       ClientInfo
	RemoteIP     string
	IsLocal      bool
	PresenceKey  string
	ConnectedAt  time.Time
}

// Caller returns the authorization context for requests on this session.
func (s *Session) Caller() auth.CallerContext {
	return auth.CallerContext{
		Role:      s.SecurityRole,
		DeviceID:  s.DeviceID,
		TokenName: s.TokenName,
		ClientIP:  s.RemoteIP,
		ClientID:  s.Client.ID,
	}
}

// Can reports whether the session's security role holds perm.
// The empty permission is held by everyone.
func (s *Session) Can(perm auth.Permission) bool {
	return perm == "" || auth.HasPermission(s.SecurityRole, perm)
}

// actor returns the audit attribution for actions taken by this session.
func (s *Session) actor() (actorType, actorID string) {
	switch {
	case s.DeviceID != "":
		return audit.ActorDevice, s.DeviceID
	case s.TokenName != "":
		return audit.ActorToken, s.TokenName
	case s.Client.ID != "":
		return audit.ActorClient, s.Client.ID
	}
	return audit.ActorUnknown, audit.ActorUnknown
}

// presenceKey picks a stable key for a client: device, then client
// instance, then the connection itself.
func presenceKey(deviceID string, client ClientInfo, connID string) string {
	switch {
	case deviceID != "":
		return deviceID
	case client.InstanceID != "":
		return client.InstanceID
	}
	return connID
}
