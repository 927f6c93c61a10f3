package remote

import (
	"fmt"
	"strings"
	"time"

	"git.home.luguber.info/inful/handoff/internal/foundation/errors"
)

// SSHOptions is the structured form of an ssh invocation.
type SSHOptions struct {
	Binary         string
	ConnectTimeout time.Duration
	Port           int
	IdentityFile   string
	// ServerAliveInterval, when positive, detects dead connections during long commands.
	ServerAliveInterval time.Duration
}

// DefaultSSHOptions returns options with a 10s connect timeout.
func DefaultSSHOptions() SSHOptions {
	return SSHOptions{Binary: "ssh", ConnectTimeout: 10 * time.Second, ServerAliveInterval: 15 * time.Second}
}

// Validate rejects option records that cannot produce a working command line.
func (o SSHOptions) Validate() error {
	switch {
	case strings.TrimSpace(o.Binary) == "":
		return errors.ValidationError("ssh binary must not be empty").Build()
	case o.ConnectTimeout < time.Second:
		return errors.ValidationError("ssh connect timeout must be at least 1s").
			WithContext("connect_timeout", o.ConnectTimeout.String()).
			Build()
	case o.Port < 0 || o.Port > 65535:
		return errors.ValidationError(fmt.Sprintf("invalid ssh port %d", o.Port)).Build()
	}
	return nil
}

// Flags returns the option flags shared by every ssh based transport.
func (o SSHOptions) Flags() []string {
	flags := []string{
		"-o", "StrictHostKeyChecking=no",
		"-o", "UserKnownHostsFile=/dev/null",
		"-o", "BatchMode=yes",
		"-o", "LogLevel=ERROR",
		"-o", fmt.Sprintf("ConnectTimeout=%d", int(o.ConnectTimeout/time.Second)),
	}
	if o.ServerAliveInterval > 0 {
		flags = append(flags,
			"-o", fmt.Sprintf("ServerAliveInterval=%d", int(o.ServerAliveInterval/time.Second)),
			"-o", "ServerAliveCountMax=3")
	}
	if o.IdentityFile != "" {
		flags = append(flags, "-i", o.IdentityFile)
	}
	return flags
}

// Args returns the ssh argument list running command on host.
func (o SSHOptions) Args(host Host, command string) ([]string, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}
	if host.Addr == "" {
		return nil, errors.ValidationError("remote host address must not be empty").Build()
	}
	args := o.Flags()
	if o.Port > 0 {
		args = append(args, "-p", fmt.Sprint(o.Port))
	}
	return append(args, "--", host.Target(), command), nil
}

// RemoteShell renders the ssh command line for tools that take it as a single
// string, such as rsync -e.
func (o SSHOptions) RemoteShell() (string, error) {
	if err := o.Validate(); err != nil {
		return "", err
	}
	parts := []string{ShellQuote(o.Binary)}
	for _, f := range o.Flags() {
		parts = append(parts, ShellQuote(f))
	}
	if o.Port > 0 {
		parts = append(parts, "-p", fmt.Sprint(o.Port))
	}
	return strings.Join(parts, " "), nil
}
