package overlay

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"net"
	"net/netip"
	"sort"
	"time"

	"git.home.luguber.info/inful/handoff/internal/foundation/errors"
	"git.home.luguber.info/inful/handoff/internal/process"
)

// ErrDirectoryUnavailable is returned when the peer directory cannot be queried.
// Callers treat it as "no peers".
var ErrDirectoryUnavailable = errors.NetworkError("peer directory unavailable").
	WithHint("check that tailscaled is running and this node is logged in (tailscale status)").
	Build()

// Directory lists overlay peers.
type Directory interface {
	// ListPeers returns online peers, self excluded, in a deterministic order.
	ListPeers(ctx context.Context) ([]PeerRecord, error)
	// SelfAddresses returns the overlay addresses of the local node.
	SelfAddresses(ctx context.Context) ([]netip.Addr, error)
}

// Status is the parsed directory dump.
type Status struct {
	BackendState string
	Self         PeerRecord
	// Peers holds every peer in the dump, online or not, sorted by ID.
	Peers []PeerRecord
}

// TailscaleDirectory reads peers from `tailscale status --json`.
type TailscaleDirectory struct {
	runner  process.Runner
	binary  string
	timeout time.Duration
}

// NewTailscaleDirectory returns a Directory backed by the tailscale CLI.
func NewTailscaleDirectory(runner process.Runner, binary string) *TailscaleDirectory {
	if binary == "" {
		binary = "tailscale"
	}
	return &TailscaleDirectory{runner: runner, binary: binary, timeout: 15 * time.Second}
}

// Status runs the status command and parses its dump.
func (d *TailscaleDirectory) Status(ctx context.Context) (Status, error) {
	res, err := d.runner.Run(ctx, process.Command{
		Name:    d.binary,
		Args:    []string{"status", "--json"},
		Timeout: d.timeout,
	})
	if err != nil {
		return Status{}, ErrDirectoryUnavailable.WithCause(err)
	}
	if !res.Success() {
		return Status{}, ErrDirectoryUnavailable.
			WithCause(fmt.Errorf("%s status exited %d: %s", d.binary, res.ExitCode, process.FirstLine(res.Stderr))).
			WithContext("exit_code", res.ExitCode)
	}
	st, err := parseStatus([]byte(res.Stdout))
	if err != nil {
		return Status{}, ErrDirectoryUnavailable.WithCause(err)
	}
	return st, nil
}

// ListPeers implements Directory.
func (d *TailscaleDirectory) ListPeers(ctx context.Context) ([]PeerRecord, error) {
	st, err := d.Status(ctx)
	if err != nil {
		return nil, err
	}
	online := make([]PeerRecord, 0, len(st.Peers))
	for _, p := range st.Peers {
		if p.Online {
			online = append(online, p)
		}
	}
	return online, nil
}

// SelfAddresses implements Directory.
func (d *TailscaleDirectory) SelfAddresses(ctx context.Context) ([]netip.Addr, error) {
	st, err := d.Status(ctx)
	if err != nil {
		return nil, err
	}
	return st.Self.Addresses, nil
}

// Ready reports whether the local node is connected to the overlay.
func (d *TailscaleDirectory) Ready(ctx context.Context) error {
	st, err := d.Status(ctx)
	if err != nil {
		return err
	}
	if st.BackendState != "Running" {
		return errors.NetworkError("overlay not connected").
			WithContext("backend_state", st.BackendState).
			WithHint("provide HANDOFF_OVERLAY_AUTHKEY so the node can join, or run tailscale up beforehand").
			Build()
	}
	return nil
}

// IsUnavailable reports whether err means the directory could not be queried.
func IsUnavailable(err error) bool {
	return stdErrors.Is(err, ErrDirectoryUnavailable)
}

// LocalAddresses returns the addresses bound to local interfaces. Self
// exclusion uses them in addition to the directory's view of the node.
func LocalAddresses() []netip.Addr {
	ifaddrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil
	}
	out := make([]netip.Addr, 0, len(ifaddrs))
	for _, a := range ifaddrs {
		prefix, err := netip.ParsePrefix(a.String())
		if err != nil {
			continue
		}
		addr := prefix.Addr().Unmap()
		if addr.IsLoopback() {
			continue
		}
		out = append(out, addr)
	}
	return out
}

// statusDump mirrors the subset of `tailscale status --json` in use.
type statusDump struct {
	BackendState string               `json:"BackendState"`
	Self         *peerDump            `json:"Self"`
	Peer         map[string]*peerDump `json:"Peer"`
}

type peerDump struct {
	ID           string    `json:"ID"`
	HostName     string    `json:"HostName"`
	DNSName      string    `json:"DNSName"`
	TailscaleIPs []string  `json:"TailscaleIPs"`
	Tags         []string  `json:"Tags"`
	Online       bool      `json:"Online"`
	Created      time.Time `json:"Created"`
	LastSeen     time.Time `json:"LastSeen"`
}

// parseStatus converts a status dump into PeerRecords. Peers are sorted by ID
// because the dump keys them in a map.
func parseStatus(data []byte) (Status, error) {
	var dump statusDump
	if err := json.Unmarshal(data, &dump); err != nil {
		return Status{}, fmt.Errorf("decode status dump: %w", err)
	}
	st := Status{BackendState: dump.BackendState}
	if dump.Self != nil {
		st.Self = dump.Self.record()
	}
	for key, p := range dump.Peer {
		if p == nil {
			continue
		}
		rec := p.record()
		if rec.ID == "" {
			rec.ID = key
		}
		st.Peers = append(st.Peers, rec)
	}
	sort.Slice(st.Peers, func(i, j int) bool { return st.Peers[i].ID < st.Peers[j].ID })
	return st, nil
}

func (p *peerDump) record() PeerRecord {
	addrs := make([]netip.Addr, 0, len(p.TailscaleIPs))
	for _, raw := range p.TailscaleIPs {
		a, err := netip.ParseAddr(raw)
		if err != nil {
			continue
		}
		addrs = append(addrs, a.Unmap())
	}
	return PeerRecord{
		ID:        p.ID,
		Hostname:  p.HostName,
		DNSName:   p.DNSName,
		Addresses: addrs,
		Tags:      NewTagSet(p.Tags...),
		Online:    p.Online,
		Created:   p.Created,
		LastSeen:  p.LastSeen,
	}
}
