package selector

import (
	"context"
	"strings"

	"git.home.luguber.info/inful/handoff/internal/remote"
)

// ReadStrategy is one way of reading the metadata record of a peer. Strategies
// are evaluated top-down until one yields a record.
type ReadStrategy struct {
	Name string
	User string
	// Command builds the remote command printing the file at path.
	Command func(path string) string
}

func catCommand(path string) string { return "cat " + remote.ShellQuote(path) }

func sudoCatCommand(path string) string { return "sudo -n cat " + remote.ShellQuote(path) }

// DefaultStrategies reads the record as each configured account in order,
// then escalates with non-interactive sudo as the first account.
func DefaultStrategies(users []string) []ReadStrategy {
	out := make([]ReadStrategy, 0, len(users)+1)
	for _, u := range users {
		out = append(out, ReadStrategy{Name: "as-" + u, User: u, Command: catCommand})
	}
	if len(users) > 0 && users[0] != "root" {
		out = append(out, ReadStrategy{Name: "sudo-" + users[0], User: users[0], Command: sudoCatCommand})
	}
	return out
}

// readResult is the outcome of evaluating the strategy list.
type readResult struct {
	raw      string
	strategy ReadStrategy
}

// readFirst evaluates strategies against the peer address in order.
func readFirst(ctx context.Context, shell RemoteShell, addr, path string, strategies []ReadStrategy) (readResult, bool) {
	for _, st := range strategies {
		if ctx.Err() != nil {
			return readResult{}, false
		}
		out := shell.Capture(ctx, remote.Host{User: st.User, Addr: addr}, st.Command(path))
		if out == nil || strings.TrimSpace(*out) == "" {
			continue
		}
		return readResult{raw: *out, strategy: st}, true
	}
	return readResult{}, false
}
