package logfields

import (
	"log/slog"
	"strings"
)

// Canonical log field name constants to avoid drift across packages.
const (
	KeyRunID     = "run_id"
	KeyStage     = "stage"
	KeyDuration  = "duration_ms"
	KeyPeer      = "peer"
	KeyHost      = "host"
	KeyUser      = "user"
	KeyPath      = "path"
	KeyService   = "service"
	KeyTransport = "transport"
	KeyBytes     = "bytes"
	KeyCommand   = "command"
	KeyExitCode  = "exit_code"
	KeyBranch    = "branch"
	KeyError     = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func RunID(id string) slog.Attr        { return slog.String(KeyRunID, id) }
func Stage(name string) slog.Attr      { return slog.String(KeyStage, name) }
func DurationMS(ms int64) slog.Attr    { return slog.Int64(KeyDuration, ms) }
func Peer(name string) slog.Attr       { return slog.String(KeyPeer, name) }
func Host(h string) slog.Attr          { return slog.String(KeyHost, h) }
func User(u string) slog.Attr          { return slog.String(KeyUser, u) }
func Path(p string) slog.Attr          { return slog.String(KeyPath, p) }
func Service(s string) slog.Attr       { return slog.String(KeyService, s) }
func Transport(t string) slog.Attr     { return slog.String(KeyTransport, t) }
func Bytes(n int64) slog.Attr          { return slog.Int64(KeyBytes, n) }
func ExitCode(code int) slog.Attr      { return slog.Int(KeyExitCode, code) }
func Branch(b string) slog.Attr        { return slog.String(KeyBranch, b) }
func Command(argv []string) slog.Attr  { return slog.String(KeyCommand, strings.Join(Redact(argv), " ")) }
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}

const masked = "****"

// secretFlags are argv flags whose following value must never be logged.
var secretFlags = map[string]bool{
	"--authkey":  true,
	"--auth-key": true,
	"--token":    true,
}

// Redact returns a copy of argv with secret flag values masked, handling both
// "--authkey value" and "--authkey=value" forms.
func Redact(argv []string) []string {
	out := make([]string, len(argv))
	copy(out, argv)
	for i := 0; i < len(out); i++ {
		if name, _, ok := strings.Cut(out[i], "="); ok && secretFlags[name] {
			out[i] = name + "=" + masked
			continue
		}
		if secretFlags[out[i]] && i+1 < len(out) {
			out[i+1] = masked
			i++
		}
	}
	return out
}

// secretKeys are attribute keys whose values are masked by MaskSecrets.
var secretKeys = []string{"authkey", "auth_key", "token", "password", "secret"}

// MaskSecrets is a slog ReplaceAttr hook masking attributes that look like credentials.
func MaskSecrets(_ []string, a slog.Attr) slog.Attr {
	key := strings.ToLower(a.Key)
	for _, s := range secretKeys {
		if strings.Contains(key, s) && a.Value.String() != "" {
			return slog.String(a.Key, masked)
		}
	}
	return a
}
