package config

import (
	"net/url"
	"strings"

	"git.home.luguber.info/inful/handoff/internal/foundation"
)

// Operation names the command a configuration is validated for. Each operation
// only requires the settings it uses.
type Operation string

const (
	OpRun      Operation = "run"
	OpDiscover Operation = "discover"
	OpPublish  Operation = "publish"
	OpStatus   Operation = "status"
	OpRecord   Operation = "record"
)

func (op Operation) joinsOverlay() bool { return op == OpRun || op == OpDiscover }
func (op Operation) publishes() bool { return op == OpRun || op == OpPublish }
func (op Operation) usesRemote() bool { return op == OpRun || op == OpDiscover }

// Validate checks the configuration for op and returns a classified validation
// error listing every problem found.
func (c *Config) Validate(op Operation) error {
	chain := foundation.NewValidatorChain[*Config](
		foundation.Required("workdir", func(c *Config) string { return c.WorkDir }),
		foundation.Required("data_dir", func(c *Config) string { return c.DataDir }),
	)

	if op.joinsOverlay() {
		chain.Add(foundation.When(
			func(c *Config) bool { return c.Overlay.Enabled && c.Overlay.Join },
			foundation.Required(EnvOverlayAuthKey, func(c *Config) string { return c.Overlay.AuthKey }),
		))
		chain.Add(validateTags)
	}
	if op.usesRemote() {
		chain.Add(validateRemote)
	}
	if op.publishes() {
		chain.Add(foundation.When(
			func(c *Config) bool { return c.Publish.Enabled || op == OpPublish },
			validatePublish,
		))
	}
	if op == OpRun {
		chain.Add(validateQuiesce)
	}

	return chain.Validate(c).ToError()
}

func validateTags(c *Config) foundation.ValidationResult {
	for _, t := range c.Overlay.Tags {
		name := strings.TrimPrefix(t, "tag:")
		if name == "" || strings.ContainsAny(name, " \t:") {
			return foundation.Invalid(foundation.NewValidationError(EnvTags, "format", "invalid tag "+`"`+t+`"`))
		}
	}
	return foundation.Valid()
}

func validateRemote(c *Config) foundation.ValidationResult {
	result := foundation.Valid()
	if len(c.SSH.Users) == 0 {
		result = result.Combine(foundation.Invalid(foundation.NewValidationError(EnvSSHUsers, "required", "at least one remote user is required")))
	}
	if c.SSH.ConnectTimeout <= 0 {
		result = result.Combine(foundation.Invalid(foundation.NewValidationError("ssh.connect_timeout", "range", "must be positive")))
	}
	if c.SSH.CommandTimeout <= 0 {
		result = result.Combine(foundation.Invalid(foundation.NewValidationError("ssh.command_timeout", "range", "must be positive")))
	}
	if c.Transfer.AttemptTimeout <= 0 {
		result = result.Combine(foundation.Invalid(foundation.NewValidationError(EnvTransferTimeout, "range", "must be positive")))
	}
	if c.Discovery.Concurrency <= 0 {
		result = result.Combine(foundation.Invalid(foundation.NewValidationError("discovery.concurrency", "range", "must be positive")))
	}
	for _, bin := range []struct{ field, value string }{
		{EnvSSHBin, c.SSH.Binary},
		{EnvRsyncBin, c.Transfer.RsyncBinary},
		{EnvSCPBin, c.Transfer.SCPBinary},
	} {
		if strings.TrimSpace(bin.value) == "" {
			result = result.Combine(foundation.Invalid(foundation.NewValidationError(bin.field, "required", "executable must not be empty")))
		}
	}
	return result
}

func validatePublish(c *Config) foundation.ValidationResult {
	if strings.TrimSpace(c.Publish.Remote) == "" {
		return foundation.Invalid(foundation.NewValidationError(EnvPublishRemote, "required", "a git remote is required when publishing"))
	}
	result := foundation.Valid()
	if strings.Contains(c.Publish.Remote, "://") {
		if _, err := url.Parse(c.Publish.Remote); err != nil {
			result = result.Combine(foundation.Invalid(foundation.NewValidationError(EnvPublishRemote, "format", err.Error())))
		}
	}
	if strings.ContainsAny(c.Publish.Branch, " ~^:?*[\\") || strings.HasPrefix(c.Publish.Branch, "-") {
		result = result.Combine(foundation.Invalid(foundation.NewValidationError(EnvPublishBranch, "format", "not a valid branch name")))
	}
	if c.Publish.Timeout <= 0 {
		result = result.Combine(foundation.Invalid(foundation.NewValidationError(EnvPublishTimeout, "range", "must be positive")))
	}
	if c.Publish.Retries < 0 {
		result = result.Combine(foundation.Invalid(foundation.NewValidationError("publish.retries", "range", "must not be negative")))
	}
	return result
}

func validateQuiesce(c *Config) foundation.ValidationResult {
	for _, s := range c.Quiesce.Services {
		if strings.ContainsAny(s, " \t;&|$`'\"") {
			return foundation.Invalid(foundation.NewValidationError(EnvStopServices, "format", "invalid service name "+`"`+s+`"`))
		}
	}
	return foundation.Valid()
}
