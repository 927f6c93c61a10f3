package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/handoff/internal/foundation/errors"
)

// Source describes where configuration layers come from.
type Source struct {
	// File is an optional YAML configuration file. A missing explicit file is an error.
	File string
	// EnvFiles are optional .env files; missing ones are skipped.
	EnvFiles []string
	// Environ is the process environment snapshot (os.Environ format).
	Environ []string
	// Hostname is the fallback overlay hostname.
	Hostname string
}

// Override mutates the configuration after every other layer (CLI flags).
type Override func(*Config)

// WithWorkDir overrides the work directory.
func WithWorkDir(dir string) Override {
	return func(c *Config) {
		if dir != "" {
			c.WorkDir = dir
		}
	}
}

// ProcessSource returns the Source for the running process.
func ProcessSource(file string) Source {
	host, _ := os.Hostname()
	return Source{
		File:     file,
		EnvFiles: []string{".env", ".env.local"},
		Environ:  os.Environ(),
		Hostname: host,
	}
}

// Load assembles the configuration from src and applies overrides. It does not
// validate; call Validate with the operation about to run.
func Load(src Source, overrides ...Override) (*Config, error) {
	cfg := Defaults()

	if src.File != "" {
		data, err := os.ReadFile(src.File)
		if err != nil {
			return nil, errors.ConfigError(fmt.Sprintf("failed to read config file %s", src.File)).
				WithCause(err).
				WithContext("path", src.File).
				Build()
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.ConfigError("failed to parse config file").
				WithCause(err).
				WithContext("path", src.File).
				Build()
		}
	}

	snapshot := EnvironMap(src.Environ)
	dotenv, err := readEnvFiles(envFilesFor(src, snapshot))
	if err != nil {
		return nil, errors.ConfigError("failed to load .env file").WithCause(err).Build()
	}
	env := layerEnv(dotenv, snapshot)
	if err := applyEnv(cfg, env); err != nil {
		return nil, errors.ConfigError("invalid environment configuration").WithCause(err).Build()
	}

	for _, o := range overrides {
		if o != nil {
			o(cfg)
		}
	}

	if cfg.Overlay.Hostname == "" {
		cfg.Overlay.Hostname = src.Hostname
	}
	cfg.CIEnv = captureCIEnv(env)
	cfg.User = env["USER"]
	if cfg.User == "" {
		cfg.User = env["LOGNAME"]
	}
	if err := cfg.deriveDefaults(); err != nil {
		return nil, errors.ConfigError("failed to resolve work directory").WithCause(err).Build()
	}
	return cfg, nil
}

// envFilesFor resolves relative .env paths against HANDOFF_WORKDIR when set.
func envFilesFor(src Source, snapshot map[string]string) []string {
	base := snapshot[EnvWorkDir]
	if base == "" {
		return src.EnvFiles
	}
	out := make([]string, 0, len(src.EnvFiles))
	for _, f := range src.EnvFiles {
		if !filepath.IsAbs(f) {
			f = filepath.Join(base, f)
		}
		out = append(out, f)
	}
	return out
}
