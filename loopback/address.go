package loopback

import (
	"net"
	"net/netip"
	"strings"
)

// IsLocal reports whether address (host, host:port, or [v6]:port) names a
// loopback endpoint and therefore goes through credential tagging.
func IsLocal(address string) bool {
	host := address
	if h, _, err := net.SplitHostPort(address); err == nil {
		host = h
	}
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}

	ip, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	return ip.Unmap().IsLoopback()
}
