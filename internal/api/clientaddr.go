package api

import (
	"net"
	"net/http"
	"strings"
)

// clientAddr is the resolved address of the caller.
type clientAddr struct {
	IP string
	// Local is true for loopback callers that did not come through an
	// untrusted forwarder.
	Local bool
}

// proxyList holds the peers whose forwarding headers are believed.
type proxyList []*net.IPNet

// parseProxies accepts plain IPs and CIDRs; config validation has already
// rejected anything else, so unparseable entries are skipped.
func parseProxies(entries []string) proxyList {
	var out proxyList
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if _, n, err := net.ParseCIDR(e); err == nil {
			out = append(out, n)
			continue
		}
		ip := net.ParseIP(e)
		if ip == nil {
			continue
		}
		bits := 8 * net.IPv6len
		if v4 := ip.To4(); v4 != nil {
			ip, bits = v4, 8*net.IPv4len
		}
		out = append(out, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
	}
	return out
}

func (p proxyList) trusted(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, n := range p {
		if n.Contains(parsed) {
			return true
		}
	}
	return false
}

// resolve works out who is on the other end of r.
func (p proxyList) resolve(r *http.Request) clientAddr {
	peer := remoteHost(r.RemoteAddr)
	xff := r.Header.Get("X-Forwarded-For")
	realIP := strings.TrimSpace(r.Header.Get("X-Real-IP"))
	forwarded := xff != "" || realIP != "" || r.Header.Get("Forwarded") != ""

	if !p.trusted(peer) {
		return clientAddr{IP: peer, Local: isLoopback(peer) && !forwarded}
	}

	ip := peer
	if xff != "" {
		ip = p.fromForwardedFor(xff, peer)
	} else if net.ParseIP(realIP) != nil {
		ip = realIP
	}
	return clientAddr{IP: ip, Local: isLoopback(ip)}
}

// fromForwardedFor walks the X-Forwarded-For chain from the right and
// returns the first hop that is not itself a trusted proxy.
func (p proxyList) fromForwardedFor(xff, fallback string) string {
	hops := strings.Split(xff, ",")
	ip := fallback
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if net.ParseIP(hop) == nil {
			break
		}
		ip = hop
		if !p.trusted(hop) {
			break
		}
	}
	return ip
}

func remoteHost(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

func isLoopback(ip string) bool {
	parsed := net.ParseIP(ip)
	return parsed != nil && parsed.IsLoopback()
}
