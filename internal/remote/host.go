package remote

import (
	"net/netip"
	"strings"
)

// Host identifies a remote account on a peer.
type Host struct {
	User string
	Addr string
}

// NewHost builds a Host from an overlay address.
func NewHost(user string, addr netip.Addr) Host {
	return Host{User: user, Addr: addr.String()}
}

// Target returns the ssh destination ("user@addr"). ssh takes IPv6 literals bare.
func (h Host) Target() string {
	if h.User == "" {
		return h.Addr
	}
	return h.User + "@" + h.Addr
}

// PathSpec returns the "user@host:path" form used by rsync and scp, bracketing
// IPv6 literals so the colon separator stays unambiguous.
func (h Host) PathSpec(path string) string {
	addr := h.Addr
	if strings.Contains(addr, ":") && !strings.HasPrefix(addr, "[") {
		addr = "[" + addr + "]"
	}
	if h.User != "" {
		addr = h.User + "@" + addr
	}
	return addr + ":" + path
}

// String implements fmt.Stringer.
func (h Host) String() string { return h.Target() }

// ParsedAddr returns the address as netip.Addr when it is an IP literal.
func (h Host) ParsedAddr() (netip.Addr, bool) {
	a, err := netip.ParseAddr(strings.Trim(h.Addr, "[]"))
	if err != nil {
		return netip.Addr{}, false
	}
	return a.Unmap(), true
}

// ShellQuote quotes s for a POSIX shell.
func ShellQuote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("@%+=:,./-_", r)) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
