package config

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
)

// Snapshot computes a stable hash of the behavior-affecting settings, recorded
// with every run so history entries can be compared. Secrets are excluded and
// list fields are order-insensitive except where order carries meaning.
func (c *Config) Snapshot() string {
	if c == nil {
		return ""
	}
	h := sha256.New()
	w := func(parts ...string) { h.Write([]byte(strings.Join(parts, "="))); h.Write([]byte{0}) }
	sorted := func(in []string) string {
		cp := append([]string(nil), in...)
		sort.Strings(cp)
		return strings.Join(cp, ",")
	}

	w("overlay.enabled", strconv.FormatBool(c.Overlay.Enabled))
	w("overlay.join", strconv.FormatBool(c.Overlay.Join))
	w("overlay.tags", sorted(c.Overlay.Tags))
	// user order is the escalation order
	w("ssh.users", strings.Join(c.SSH.Users, ","))
	w("discovery.search_roots", strings.Join(c.Discovery.SearchRoots, ","))
	w("quiesce.services", sorted(c.Quiesce.Services))
	w("publish.enabled", strconv.FormatBool(c.Publish.Enabled))
	w("publish.branch", c.Publish.Branch)
	w("publish.remote", c.Publish.Remote)
	w("data_dir", c.DataDir)
	return hex.EncodeToString(h.Sum(nil))
}
