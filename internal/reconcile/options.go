package reconcile

import (
	"net/netip"
	"strconv"
	"strings"

	"git.home.luguber.info/inful/handoff/internal/foundation/errors"
	"git.home.luguber.info/inful/handoff/internal/remote"
)

// Compression selects whether a transport compresses data on the wire.
type Compression int

const (
	// CompressionOff is used inside the overlay, where links are fast and
	// already encrypted; compressing only burns CPU.
	CompressionOff Compression = iota
	CompressionOn
)

func (c Compression) String() string {
	if c == CompressionOn {
		return "compressed"
	}
	return "uncompressed"
}

// MarshalText renders the mode by name in reports.
func (c Compression) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

var overlayRanges = []netip.Prefix{
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("fd7a:115c:a1e0::/48"),
}

// overlayDNSSuffix is the MagicDNS domain of overlay peers.
const overlayDNSSuffix = ".ts.net"

// IsOverlayAddress reports whether addr lies in an overlay-internal range.
func IsOverlayAddress(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, p := range overlayRanges {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// CompressionFor picks the compression mode for host.
func CompressionFor(host remote.Host) Compression {
	if a, ok := host.ParsedAddr(); ok {
		if IsOverlayAddress(a) {
			return CompressionOff
		}
		return CompressionOn
	}
	if strings.HasSuffix(strings.TrimSuffix(host.Addr, "."), overlayDNSSuffix) {
		return CompressionOff
	}
	return CompressionOn
}

// RsyncOptions is the structured form of an rsync mirror invocation.
type RsyncOptions struct {
	Binary      string
	RemoteShell string
	Compression Compression
	// Source and Dest are directories; both get a trailing slash so contents are mirrored.
	Source string
	Dest   string
}

// Args returns the validated rsync argument list.
func (o RsyncOptions) Args() ([]string, error) {
	if err := requireFields(map[string]string{"rsync binary": o.Binary, "remote shell": o.RemoteShell, "source": o.Source, "destination": o.Dest}); err != nil {
		return nil, err
	}
	args := []string{"-a", "--delete", "--partial", "--stats"}
	if o.Compression == CompressionOn {
		args = append(args, "-z")
	}
	return append(args, "-e", o.RemoteShell, withSlash(o.Source), withSlash(o.Dest)), nil
}

// SCPOptions is the structured form of a recursive scp copy.
type SCPOptions struct {
	Binary      string
	SSH         remote.SSHOptions
	Compression Compression
	Source      string
	Dest        string
}

// Args returns the validated scp argument list.
func (o SCPOptions) Args() ([]string, error) {
	if err := requireFields(map[string]string{"scp binary": o.Binary, "source": o.Source, "destination": o.Dest}); err != nil {
		return nil, err
	}
	if err := o.SSH.Validate(); err != nil {
		return nil, err
	}
	args := []string{"-r", "-p", "-q", "-S", o.SSH.Binary}
	if o.Compression == CompressionOn {
		args = append(args, "-C")
	}
	args = append(args, o.SSH.Flags()...)
	if o.SSH.Port > 0 {
		args = append(args, "-P", strconv.Itoa(o.SSH.Port))
	}
	return append(args, o.Source, o.Dest), nil
}

func requireFields(fields map[string]string) error {
	var missing []string
	for name, v := range fields {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return errors.ValidationError("incomplete transfer options").
			WithContext("missing", strings.Join(missing, ",")).
			Build()
	}
	return nil
}

func withSlash(p string) string {
	if strings.HasSuffix(p, "/") {
		return p
	}
	return p + "/"
}
