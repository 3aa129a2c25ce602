package pairing

import (
	"slices"
	"time"

	"github.com/nerrad567/gray-logic-gateway/internal/auth"
)

// Request statuses.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

// PairedDevice is a device whose identity has been approved.
type PairedDevice struct {
	DeviceID  string `json:"deviceId"`
	PublicKey string `json:"publicKey"`
	// Roles are the connection roles (operator, node) the device was approved for.
	Roles []string `json:"roles"`
	// Scopes are the scopes the device was approved for.
	Scopes       []string   `json:"scopes"`
	SecurityRole auth.Role  `json:"securityRole"`
	DisplayName  string     `json:"displayName,omitempty"`
	Platform     string     `json:"platform,omitempty"`
	ClientID     string     `json:"clientId,omitempty"`
	ClientMode   string     `json:"clientMode,omitempty"`
	RemoteIP     string     `json:"remoteIp,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	ApprovedAt   time.Time  `json:"approvedAt"`
	LastSeenAt   *time.Time `json:"lastSeenAt,omitempty"`
}

// HasRole reports whether the device was approved for connection role.
func (d *PairedDevice) HasRole(role string) bool {
	return slices.Contains(d.Roles, role)
}

// CoversScopes reports whether every scope in scopes was approved.
func (d *PairedDevice) CoversScopes(scopes []string) bool {
	return isSubset(scopes, d.Scopes)
}

// PairingRequest is a pending or resolved request to pair a device.
type PairingRequest struct {
	ID           string     `json:"requestId"`
	DeviceID     string     `json:"deviceId"`
	PublicKey    string     `json:"publicKey"`
	Role         string     `json:"role"`
	Scopes       []string   `json:"scopes"`
	SecurityRole auth.Role  `json:"securityRole,omitempty"`
	RemoteIP     string     `json:"remoteIp,omitempty"`
	DisplayName  string     `json:"displayName,omitempty"`
	Platform     string     `json:"platform,omitempty"`
	ClientID     string     `json:"clientId,omitempty"`
	ClientMode   string     `json:"clientMode,omitempty"`
	Silent       bool       `json:"silent"`
	Status       string     `json:"status"`
	CreatedAt    time.Time  `json:"createdAt"`
	ResolvedAt   *time.Time `json:"resolvedAt,omitempty"`
}

// RequestParams describes a device asking to be paired.
type RequestParams struct {
	DeviceID     string
	PublicKey    string
	Role         string
	Scopes       []string
	SecurityRole auth.Role
	RemoteIP     string
	DisplayName  string
	Platform     string
	ClientID     string
	ClientMode   string
	Silent       bool
}

// RequestResult is returned by RequestDevicePairing.
type RequestResult struct {
	Request *PairingRequest
	// Created is false when an existing pending request was refreshed.
	Created bool
	// FirstDevice is true when no device has ever been paired with this gateway.
	FirstDevice bool
}

// MetadataUpdate carries the fields refreshed each time a paired device connects.
type MetadataUpdate struct {
	RemoteIP    string
	DisplayName string
	Platform    string
	ClientID    string
	ClientMode  string
}

// normalizeScopes returns a sorted, de-duplicated copy of scopes, never nil.
func normalizeScopes(scopes []string) []string {
	out := make([]string, 0, len(scopes))
	for _, s := range scopes {
		if s != "" {
			out = append(out, s)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func isSubset(sub, set []string) bool {
	for _, s := range sub {
		if !slices.Contains(set, s) {
			return false
		}
	}
	return true
}
