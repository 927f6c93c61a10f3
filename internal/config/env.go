package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"git.home.luguber.info/inful/handoff/internal/foundation/normalization"
)

// Environment variable names.
const (
	EnvOverlay         = "HANDOFF_OVERLAY"
	EnvOverlayJoin     = "HANDOFF_OVERLAY_JOIN"
	EnvOverlayAuthKey  = "HANDOFF_OVERLAY_AUTHKEY"
	EnvOverlayHostname = "HANDOFF_OVERLAY_HOSTNAME"
	EnvTags            = "HANDOFF_TAGS"
	EnvStopServices    = "HANDOFF_STOP_SERVICES"
	EnvPublish         = "HANDOFF_PUBLISH"
	EnvPublishBranch   = "HANDOFF_PUBLISH_BRANCH"
	EnvPublishRemote   = "HANDOFF_PUBLISH_REMOTE"
	EnvPublishToken    = "HANDOFF_PUBLISH_TOKEN"
	EnvPublishTimeout  = "HANDOFF_PUBLISH_TIMEOUT"
	EnvWorkDir         = "HANDOFF_WORKDIR"
	EnvDataDir         = "HANDOFF_DATA_DIR"
	EnvSSHUsers        = "HANDOFF_SSH_USERS"
	EnvSSHBin          = "HANDOFF_SSH_BIN"
	EnvRsyncBin        = "HANDOFF_RSYNC_BIN"
	EnvSCPBin          = "HANDOFF_SCP_BIN"
	EnvTailscaleBin    = "HANDOFF_TAILSCALE_BIN"
	EnvConnectTimeout  = "HANDOFF_SSH_CONNECT_TIMEOUT"
	EnvTransferTimeout = "HANDOFF_TRANSFER_TIMEOUT"
	EnvMetadataPath    = "HANDOFF_METADATA_PATH"
	EnvHistoryDB       = "HANDOFF_HISTORY_DB"
	EnvMetricsFile     = "HANDOFF_METRICS_FILE"
	EnvNATSURL         = "HANDOFF_NATS_URL"
	EnvNATSSubject     = "HANDOFF_NATS_SUBJECT"
)

// ciEnvPrefixes select the variables captured as the CI provider fingerprint.
var ciEnvPrefixes = []string{"GITHUB_", "RUNNER_", "GITEA_", "CI_"}

// ciEnvKeys are captured verbatim.
var ciEnvKeys = []string{"CI"}

// EnvironMap turns an os.Environ style slice into a map. Later entries win.
func EnvironMap(environ []string) map[string]string {
	out := make(map[string]string, len(environ))
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		out[k] = v
	}
	return out
}

// readEnvFiles reads the existing files among paths with godotenv. Missing
// files are skipped; later files override earlier ones.
func readEnvFiles(paths []string) (map[string]string, error) {
	merged := map[string]string{}
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); os.IsNotExist(err) {
			continue
		}
		vals, err := godotenv.Read(p)
		if err != nil {
			return nil, fmt.Errorf("read env file %s: %w", p, err)
		}
		for k, v := range vals {
			merged[k] = v
		}
	}
	return merged, nil
}

// layerEnv overlays the process snapshot on top of the .env values; the real
// environment always wins.
func layerEnv(dotenv, snapshot map[string]string) map[string]string {
	out := make(map[string]string, len(dotenv)+len(snapshot))
	for k, v := range dotenv {
		out[k] = v
	}
	for k, v := range snapshot {
		out[k] = v
	}
	return out
}

// applyEnv maps HANDOFF_* variables onto cfg. Blank values leave fields untouched.
func applyEnv(cfg *Config, env map[string]string) error {
	var errs []string
	flag := func(key string, dst *bool) {
		v, set, err := normalization.ParseFlag(env[key])
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
			return
		}
		if set {
			*dst = v
		}
	}
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(env[key]); v != "" {
			*dst = v
		}
	}
	list := func(key string, dst *[]string) {
		if _, ok := env[key]; ok {
			*dst = normalization.SplitList(env[key])
		}
	}
	dur := func(key string, dst *time.Duration) {
		raw := strings.TrimSpace(env[key])
		if raw == "" {
			return
		}
		if d, err := time.ParseDuration(raw); err == nil {
			*dst = d
			return
		}
		secs, err := strconv.Atoi(raw)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: invalid duration %q", key, raw))
			return
		}
		*dst = time.Duration(secs) * time.Second
	}

	flag(EnvOverlay, &cfg.Overlay.Enabled)
	flag(EnvOverlayJoin, &cfg.Overlay.Join)
	str(EnvOverlayAuthKey, &cfg.Overlay.AuthKey)
	str(EnvOverlayHostname, &cfg.Overlay.Hostname)
	list(EnvTags, &cfg.Overlay.Tags)
	str(EnvTailscaleBin, &cfg.Overlay.Binary)

	list(EnvStopServices, &cfg.Quiesce.Services)

	flag(EnvPublish, &cfg.Publish.Enabled)
	str(EnvPublishBranch, &cfg.Publish.Branch)
	str(EnvPublishRemote, &cfg.Publish.Remote)
	str(EnvPublishToken, &cfg.Publish.Token)
	dur(EnvPublishTimeout, &cfg.Publish.Timeout)

	str(EnvWorkDir, &cfg.WorkDir)
	str(EnvDataDir, &cfg.DataDir)

	if _, ok := env[EnvSSHUsers]; ok {
		if users := normalization.SplitList(env[EnvSSHUsers]); len(users) > 0 {
			cfg.SSH.Users = users
		}
	}
	str(EnvSSHBin, &cfg.SSH.Binary)
	dur(EnvConnectTimeout, &cfg.SSH.ConnectTimeout)

	str(EnvRsyncBin, &cfg.Transfer.RsyncBinary)
	str(EnvSCPBin, &cfg.Transfer.SCPBinary)
	dur(EnvTransferTimeout, &cfg.Transfer.AttemptTimeout)

	str(EnvMetadataPath, &cfg.Metadata.Path)
	str(EnvHistoryDB, &cfg.History.DBPath)
	str(EnvMetricsFile, &cfg.Metrics.File)
	str(EnvNATSURL, &cfg.Notify.NATSURL)
	str(EnvNATSSubject, &cfg.Notify.Subject)

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// captureCIEnv extracts the CI provider fingerprint from env.
func captureCIEnv(env map[string]string) map[string]string {
	out := map[string]string{}
	for k, v := range env {
		for _, key := range ciEnvKeys {
			if k == key {
				out[k] = v
			}
		}
		for _, p := range ciEnvPrefixes {
			if strings.HasPrefix(k, p) && !isSecretKey(k) {
				out[k] = v
			}
		}
	}
	return out
}

func isSecretKey(k string) bool {
	k = strings.ToUpper(k)
	return strings.Contains(k, "TOKEN") || strings.Contains(k, "SECRET") || strings.Contains(k, "PASSWORD") || strings.Contains(k, "KEY")
}
