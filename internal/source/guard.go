package source

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"
	"syscall"
)

// ErrBlockedHost is returned when a remote source targets a private or
// reserved address and the guard is enabled.
var ErrBlockedHost = errors.New("blocked host")

var blockedHostnames = map[string]bool{
	"localhost":                true,
	"metadata.google.internal": true,
}

var privatePrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),      // current network
	netip.MustParsePrefix("10.0.0.0/8"),     // private
	netip.MustParsePrefix("127.0.0.0/8"),    // loopback
	netip.MustParsePrefix("169.254.0.0/16"), // link-local
	netip.MustParsePrefix("172.16.0.0/12"),  // private
	netip.MustParsePrefix("192.168.0.0/16"), // private
	netip.MustParsePrefix("100.64.0.0/10"),  // carrier-grade NAT
	netip.MustParsePrefix("::/128"),         // unspecified
	netip.MustParsePrefix("::1/128"),        // loopback
	netip.MustParsePrefix("fe80::/10"),      // link-local
	netip.MustParsePrefix("fec0::/10"),      // site-local (deprecated)
	netip.MustParsePrefix("fc00::/7"),       // unique local
}

func isBlockedHostname(hostname string) bool {
	hostname = strings.ToLower(strings.TrimSuffix(hostname, "."))
	if blockedHostnames[hostname] {
		return true
	}
	return strings.HasSuffix(hostname, ".localhost") ||
		strings.HasSuffix(hostname, ".local") ||
		strings.HasSuffix(hostname, ".internal")
}

func isPrivateAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, p := range privatePrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// checkURLHost rejects URLs whose hostname is blocked by name or is a
// literal private address. Resolved addresses are checked at dial time.
func checkURLHost(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("missing hostname")
	}
	if isBlockedHostname(host) {
		return fmt.Errorf("%w: %s", ErrBlockedHost, host)
	}
	if addr, err := netip.ParseAddr(host); err == nil && isPrivateAddr(addr) {
		return fmt.Errorf("%w: private address %s", ErrBlockedHost, host)
	}
	return nil
}

// guardDialControl runs after DNS resolution, so it also catches hostnames
// that resolve (or rebind) to private addresses.
func guardDialControl(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return fmt.Errorf("%w: unparseable address %s", ErrBlockedHost, host)
	}
	if isPrivateAddr(addr) {
		return fmt.Errorf("%w: private address %s", ErrBlockedHost, host)
	}
	return nil
}
