package gateway

import (
	"sort"
	"sync"
	"time"
)

// PresenceEntry describes one connected client.
type PresenceEntry struct {
	ConnID      string    `json:"connId"`
	PresenceKey string    `json:"key"`
	ClientID    string    `json:"clientId"`
	DisplayName string    `json:"displayName,omitempty"`
	Mode        string    `json:"mode"`
	Platform    string    `json:"platform"`
	Version     string    `json:"version"`
	Role        string    `json:"role"`
	DeviceID    string    `json:"deviceId,omitempty"`
	RemoteIP    string    `json:"remoteIp,omitempty"`
	ConnectedAt time.Time `json:"connectedAt"`
}

// Presence tracks connected sessions. Sessions with connection role node
// also appear in the node registry.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Presence struct {
	mu      sync.RWMutex
	entries map[string]PresenceEntry
}

// NewPresence creates an empty registry.
func NewPresence() *Presence {
	return &Presence{entries: make(map[string]PresenceEntry)}
}

// Register adds s and returns its entry.
func (p *Presence) Register(s *Session) PresenceEntry {
	e := PresenceEntry{
		ConnID:      s.ConnID,
		PresenceKey: s.PresenceKey,
		ClientID:    s.Client.ID,
		DisplayName: s.Client.DisplayName,
		Mode:        s.Client.Mode,
		Platform:    s.Client.Platform,
		Version:     s.Client.Version,
		Role:        s.Role,
		DeviceID:    s.DeviceID,
		RemoteIP:    s.RemoteIP,
		ConnectedAt: s.ConnectedAt,
	}
	p.mu.Lock()
	p.entries[s.ConnID] = e
	p.mu.Unlock()
	return e
}

// Unregister removes a connection. It reports false if it was not registered.
func (p *Presence) Unregister(connID string) (PresenceEntry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[connID]
	delete(p.entries, connID)
	return e, ok
}

// List returns every entry, oldest connection first.
func (p *Presence) List() []PresenceEntry {
	return p.filter(func(PresenceEntry) bool { return true })
}

// Nodes returns the entries for node connections.
func (p *Presence) Nodes() []PresenceEntry {
	return p.filter(func(e PresenceEntry) bool { return e.Role == RoleNode })
}

// Len returns the number of connected sessions.
func (p *Presence) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entries)
}

func (p *Presence) filter(keep func(PresenceEntry) bool) []PresenceEntry {
	p.mu.RLock()
	out := make([]PresenceEntry, 0, len(p.entries))
	for _, e := range p.entries {
		if keep(e) {
			out = append(out, e)
		}
	}
	p.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].ConnID < out[j].ConnID
		}
		return out[i].ConnectedAt.Before(out[j].ConnectedAt)
	})
	return out
}
