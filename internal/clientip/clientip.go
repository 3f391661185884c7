// Package clientip derives the client identity used for rate limiting,
// access logging and session bookkeeping.
package clientip

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// Unknown is returned when no address can be derived.
const Unknown = "Unknown"

// Resolver applies the precedence X-Forwarded-For (first entry), X-Real-IP,
// then the transport peer address. When TrustedProxies is non-empty the
// headers are only honoured for peers inside one of the prefixes.
type Resolver struct {
	TrustedProxies []netip.Prefix
}

// NewResolver parses CIDR strings, skipping invalid entries.
func NewResolver(cidrs []string) Resolver {
	var prefixes []netip.Prefix
	for _, raw := range cidrs {
		if p, err := netip.ParsePrefix(strings.TrimSpace(raw)); err == nil {
			prefixes = append(prefixes, p)
		}
	}
	return Resolver{TrustedProxies: prefixes}
}

// FromRequest resolves the client identity of an HTTP request or websocket handshake.
func (res Resolver) FromRequest(r *http.Request) string {
	if r == nil {
		return Unknown
	}
	return res.FromHeaders(r.Header, r.RemoteAddr)
}

// FromHeaders resolves the client identity from raw headers and a peer address.
func (res Resolver) FromHeaders(h http.Header, remoteAddr string) string {
	peer := hostOnly(remoteAddr)

	if res.trusts(peer) {
		if forwarded := h.Get("X-Forwarded-For"); forwarded != "" {
			first, _, _ := strings.Cut(forwarded, ",")
			if ip := normalize(first); ip != "" {
				return ip
			}
		}
		if realIP := normalize(h.Get("X-Real-IP")); realIP != "" {
			return realIP
		}
	}

	if peer == "" {
		return Unknown
	}
	return peer
}

func (res Resolver) trusts(peer string) bool {
	if len(res.TrustedProxies) == 0 {
		return true
	}
	addr, err := netip.ParseAddr(peer)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range res.TrustedProxies {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// FromRequest resolves with a Resolver that trusts every peer.
func FromRequest(r *http.Request) string {
	return Resolver{}.FromRequest(r)
}

func hostOnly(remoteAddr string) string {
	remoteAddr = strings.TrimSpace(remoteAddr)
	if remoteAddr == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		remoteAddr = host
	}
	if ip := normalize(remoteAddr); ip != "" {
		return ip
	}
	return remoteAddr
}

// normalize trims a header candidate and canonicalises it when it parses as
// an address. Non-IP tokens are kept verbatim.
func normalize(raw string) string {
	s := strings.Trim(strings.TrimSpace(raw), "\"")
	if s == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	if i := strings.IndexByte(s, '%'); i >= 0 {
		s = s[:i]
	}
	if addr, err := netip.ParseAddr(s); err == nil {
		return addr.Unmap().String()
	}
	return s
}
