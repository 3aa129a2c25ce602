// Package audit records security-relevant gateway activity.
//
// Entries flow through a Sink. Production wiring fans out to SQLite (queryable
// via audit.query) and MQTT (off-box archiving) with MultiSink, and every call
// site goes through BestEffort so a failing sink can never abort a handshake
// or an authorization decision.
package audit

import (
	"context"
	"errors"
	"time"
)

// Actor types.
const (
	ActorDevice  = "device"
	ActorToken   = "token"
	ActorClient  = "client"
	ActorSystem  = "system"
	ActorUnknown = "unknown"
)

// Results.
const (
	ResultSuccess = "success"
	ResultDenied  = "denied"
	ResultFailure = "failure"
)

// Actions written by the gateway.
const (
	ActionAuthzDenied         = "authz.denied"
	ActionRoleUpgrade         = "security.role-upgrade"
	ActionScopeUpgrade        = "security.scope-upgrade"
	ActionPairAutoApproved    = "device.pair.auto-approved"
	ActionPairApproved        = "device.pair.approved"
	ActionPairRejected        = "device.pair.rejected"
	ActionPairRemoved         = "device.pair.removed"
	ActionDeviceTokenRevoked  = "device.token.revoked"
	ActionInviteUsed          = "invite.used"
	ActionPairingCodeConsumed = "pairing-code.consumed"
	ActionTokenCreated        = "tokens.created"
	ActionTokenRevoked        = "tokens.revoked"
	ActionInviteCreated       = "invite.created"
	ActionInviteRevoked       = "invite.revoked"
	ActionPairingCodeIssued   = "pairing-code.issued"
)

// ErrNoSink is returned by MultiSink when it has nothing to write to.
var ErrNoSink = errors.New("audit: no sink configured")

// Entry is a single audit trail record.
type Entry struct {
	ID        string         `json:"id"`
	ActorType string         `json:"actor_type"`
	ActorID   string         `json:"actor_id"`
	Action    string         `json:"action"`
	Resource  string         `json:"resource,omitempty"`
	IP        string         `json:"ip,omitempty"`
	Result    string         `json:"result"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Sink persists or forwards audit entries.
type Sink interface {
	Log(ctx context.Context, entry *Entry) error
}

// MultiSink writes each entry to every sink in order. All sinks are attempted;
// the errors are joined.
type MultiSink []Sink

// Log implements Sink.
func (m MultiSink) Log(ctx context.Context, entry *Entry) error {
	if len(m) == 0 {
		return ErrNoSink
	}
	var errs []error
	for _, s := range m {
		if err := s.Log(ctx, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
