// Package metadata puts client IP and User-Agent on the request context.
package metadata

import (
	"net"
	"net/http"
	"net/netip"
	"strings"

	"optin/pkg/requestcontext"
)

// ClientMetadata extracts the client IP and User-Agent and stores them via
// requestcontext. Apply it early in the chain. Forwarding headers are only
// read when the socket peer is inside one of the trusted prefixes.
func ClientMetadata(trusted []netip.Prefix) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := requestcontext.WithClientMetadata(r.Context(), ClientIPFromRequest(r, trusted), r.Header.Get("User-Agent"))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientIPFromRequest returns the originating client IP.
//
// An untrusted peer is the client, whatever its headers say. Behind a trusted
// peer, X-Forwarded-For is walked right to left and the first hop outside the
// trusted prefixes wins; when every hop is trusted the left-most one is used.
// X-Real-IP is consulted only when there is no X-Forwarded-For.
func ClientIPFromRequest(r *http.Request, trusted []netip.Prefix) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	peer, ok := parseIP(host)
	if !ok {
		return ""
	}
	if !isTrusted(peer, trusted) {
		return peer.String()
	}

	if hops := forwardedHops(r); len(hops) > 0 {
		client := peer
		for i := len(hops) - 1; i >= 0; i-- {
			hop, ok := parseIP(hops[i])
			if !ok {
				// Nothing left of a malformed hop can be attributed.
				break
			}
			if !isTrusted(hop, trusted) {
				return hop.String()
			}
			client = hop
		}
		return client.String()
	}

	if ip, ok := parseIP(r.Header.Get("X-Real-IP")); ok {
		return ip.String()
	}
	return peer.String()
}

// forwardedHops flattens every X-Forwarded-For line into one hop list.
func forwardedHops(r *http.Request) []string {
	var hops []string
	for _, line := range r.Header.Values("X-Forwarded-For") {
		for _, hop := range strings.Split(line, ",") {
			if hop = strings.TrimSpace(hop); hop != "" {
				hops = append(hops, hop)
			}
		}
	}
	return hops
}

func isTrusted(addr netip.Addr, trusted []netip.Prefix) bool {
	for _, p := range trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func parseIP(s string) (netip.Addr, bool) {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}
