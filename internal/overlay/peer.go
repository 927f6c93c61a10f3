package overlay

import (
	"net/netip"
	"sort"
	"strings"
	"time"
)

// TagPrefix is the prefix every overlay ACL tag carries.
const TagPrefix = "tag:"

// TagSet is a set of normalized tags.
type TagSet map[string]struct{}

// NewTagSet normalizes and collects tags.
func NewTagSet(tags ...string) TagSet {
	s := make(TagSet, len(tags))
	for _, t := range tags {
		if t = NormalizeTag(t); t != "" {
			s[t] = struct{}{}
		}
	}
	return s
}

// Has reports whether tag (normalized) is in the set.
func (s TagSet) Has(tag string) bool {
	_, ok := s[NormalizeTag(tag)]
	return ok
}

// Sorted returns the tags in lexical order.
func (s TagSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for t := range s {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// NormalizeTag returns tag with exactly one "tag:" prefix. Blank input yields "".
func NormalizeTag(tag string) string {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return ""
	}
	if strings.HasPrefix(tag, TagPrefix) {
		return tag
	}
	return TagPrefix + tag
}

// PeerRecord is an immutable snapshot of one directory entry.
type PeerRecord struct {
	ID        string
	Hostname  string
	DNSName   string
	Addresses []netip.Addr
	Tags      TagSet
	Online    bool
	Created   time.Time
	LastSeen  time.Time
}

// Name returns the most descriptive identifier for logs.
func (p PeerRecord) Name() string {
	if p.Hostname != "" {
		return p.Hostname
	}
	if p.DNSName != "" {
		return strings.TrimSuffix(p.DNSName, ".")
	}
	return p.ID
}

// PrimaryAddress returns the first IPv4 address, else the first address.
func (p PeerRecord) PrimaryAddress() (netip.Addr, bool) {
	for _, a := range p.Addresses {
		if a.Is4() {
			return a, true
		}
	}
	if len(p.Addresses) > 0 {
		return p.Addresses[0], true
	}
	return netip.Addr{}, false
}

// SharesAddress reports whether any of the peer's addresses is in set.
func (p PeerRecord) SharesAddress(set map[netip.Addr]struct{}) bool {
	for _, a := range p.Addresses {
		if _, ok := set[a.Unmap()]; ok {
			return true
		}
	}
	return false
}

// AddressSet builds a lookup set from addrs, unmapping IPv4-in-IPv6 forms.
func AddressSet(addrs ...[]netip.Addr) map[netip.Addr]struct{} {
	set := map[netip.Addr]struct{}{}
	for _, list := range addrs {
		for _, a := range list {
			if a.IsValid() {
				set[a.Unmap()] = struct{}{}
			}
		}
	}
	return set
}

// ExcludeSelf drops every peer whose address set intersects self.
func ExcludeSelf(peers []PeerRecord, self []netip.Addr) []PeerRecord {
	set := AddressSet(self)
	out := make([]PeerRecord, 0, len(peers))
	for _, p := range peers {
		if p.SharesAddress(set) {
			continue
		}
		out = append(out, p)
	}
	return out
}
