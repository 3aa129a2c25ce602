package gateway

import (
	"net"
	"net/url"
	"strings"
)

// Browser-hosted clients are the ones whose Origin is checked.
var browserClientIDs = map[string]bool{"control-ui": true, "webchat": true}

var browserClientModes = map[string]bool{"webchat": true, "ui": true}

// App shells that serve their UI from a custom secure-context scheme.
var appSchemes = map[string]bool{"tauri": true, "capacitor": true, "app": true}

func isBrowserClient(c ClientInfo) bool {
	return browserClientIDs[c.ID] || browserClientModes[c.Mode]
}

// originAllowed reports whether origin may open a session on a gateway
// reached at host.
func originAllowed(origin, host string, allowed []string) bool {
	normalized := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(origin)), "/")
	for _, a := range allowed {
		if a == "*" || strings.TrimSuffix(strings.ToLower(a), "/") == normalized {
			return true
		}
	}

	u, err := url.Parse(normalized)
	if err != nil || u.Scheme == "" {
		return false
	}
	if appSchemes[u.Scheme] {
		return true
	}
	if u.Host == "" {
		return false
	}
	if host != "" && strings.EqualFold(u.Host, host) {
		return true
	}
	return isLoopbackHost(u.Hostname())
}

func isLoopbackHost(h string) bool {
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}

// isLAN reports whether ip is a private (RFC 1918 or ULA) or link-local address.
func isLAN(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	return parsed.IsPrivate() || parsed.IsLinkLocalUnicast()
}
