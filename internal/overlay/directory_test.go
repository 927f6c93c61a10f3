package overlay

import (
	"context"
	"errors"
	"net/netip"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	ferrors "git.home.luguber.info/inful/handoff/internal/foundation/errors"
	"git.home.luguber.info/inful/handoff/internal/process/processtest"
)

func loadFixture(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile("testdata/status.json")
	require.NoError(t, err)
	return string(data)
}

func TestParseStatus(t *testing.T) {
	st, err := parseStatus([]byte(loadFixture(t)))
	require.NoError(t, err)

	require.Equal(t, "Running", st.BackendState)
	require.Equal(t, "runner-new", st.Self.Hostname)
	require.Equal(t, []netip.Addr{
		netip.MustParseAddr("100.101.1.10"),
		netip.MustParseAddr("fd7a:115c:a1e0::a"),
	}, st.Self.Addresses)

	require.Len(t, st.Peers, 3)
	// sorted by ID regardless of map order
	require.Equal(t, []string{"n2", "n3", "n4"}, []string{st.Peers[0].ID, st.Peers[1].ID, st.Peers[2].ID})

	b := st.Peers[1]
	require.True(t, b.Tags.Has("ci"))
	require.True(t, b.Tags.Has("tag:linux"))
	require.Equal(t, time.Date(2025, 2, 28, 10, 0, 0, 0, time.UTC), b.Created.UTC())
	require.Empty(t, st.Peers[0].Tags)
}

func TestParseStatusRejectsGarbage(t *testing.T) {
	_, err := parseStatus([]byte("not json"))
	require.Error(t, err)
}

func TestListPeersOnlyOnline(t *testing.T) {
	fake := processtest.New().On(processtest.Contains("status --json"), processtest.Response{Stdout: loadFixture(t)})
	dir := NewTailscaleDirectory(fake, "")

	peers, err := dir.ListPeers(context.Background())
	require.NoError(t, err)
	require.Len(t, peers, 2)
	for _, p := range peers {
		require.True(t, p.Online, p.ID)
	}

	self, err := dir.SelfAddresses(context.Background())
	require.NoError(t, err)
	require.Len(t, self, 2)
	require.NoError(t, dir.Ready(context.Background()))
}

func TestDirectoryUnavailable(t *testing.T) {
	tests := []struct {
		name string
		resp processtest.Response
	}{
		{"not running", processtest.Response{ExitCode: 1, Stderr: "failed to connect to local tailscaled"}},
		{"missing binary", processtest.Response{Err: errors.New("exec: not found")}},
		{"bad dump", processtest.Response{Stdout: "{"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := NewTailscaleDirectory(processtest.New().On(processtest.Any(), tt.resp), "tailscale")
			_, err := dir.ListPeers(context.Background())
			require.Error(t, err)
			require.True(t, IsUnavailable(err))
			require.True(t, ferrors.HasCategory(err, ferrors.CategoryNetwork))
		})
	}
}

func TestReadyRequiresRunningBackend(t *testing.T) {
	fake := processtest.New().On(processtest.Any(), processtest.Response{Stdout: `{"BackendState":"NeedsLogin"}`})
	err := NewTailscaleDirectory(fake, "").Ready(context.Background())
	require.Error(t, err)
	require.False(t, IsUnavailable(err))
}

func TestExcludeSelfByAddressSet(t *testing.T) {
	peers := []PeerRecord{
		{ID: "a", Addresses: []netip.Addr{netip.MustParseAddr("100.64.0.2")}},
		// shares only its IPv6 address with us
		{ID: "b", Addresses: []netip.Addr{netip.MustParseAddr("100.64.0.3"), netip.MustParseAddr("fd7a:115c:a1e0::1")}},
		{ID: "c", Addresses: []netip.Addr{netip.MustParseAddr("::ffff:100.64.0.9")}},
		{ID: "d", Addresses: []netip.Addr{netip.MustParseAddr("100.64.0.4")}},
	}
	self := []netip.Addr{
		netip.MustParseAddr("100.64.0.1"),
		netip.MustParseAddr("fd7a:115c:a1e0::1"),
		netip.MustParseAddr("100.64.0.9"),
	}

	got := ExcludeSelf(peers, self)
	ids := make([]string, 0, len(got))
	for _, p := range got {
		ids = append(ids, p.ID)
	}
	require.Equal(t, []string{"a", "d"}, ids)
}

func TestTags(t *testing.T) {
	require.Equal(t, "tag:ci", NormalizeTag("ci"))
	require.Equal(t, "tag:ci", NormalizeTag(" tag:ci "))
	require.Equal(t, "", NormalizeTag("  "))

	s := NewTagSet("ci", "tag:ci", "linux")
	require.Equal(t, []string{"tag:ci", "tag:linux"}, s.Sorted())
	require.True(t, s.Has("tag:linux"))
	require.False(t, s.Has("gpu"))
}

func TestPeerRecordHelpers(t *testing.T) {
	p := PeerRecord{
		ID:        "n9",
		DNSName:   "runner-9.tail.ts.net.",
		Addresses: []netip.Addr{netip.MustParseAddr("fd7a:115c:a1e0::9"), netip.MustParseAddr("100.64.0.9")},
	}
	require.Equal(t, "runner-9.tail.ts.net", p.Name())
	addr, ok := p.PrimaryAddress()
	require.True(t, ok)
	require.Equal(t, "100.64.0.9", addr.String())

	_, ok = PeerRecord{}.PrimaryAddress()
	require.False(t, ok)
}
