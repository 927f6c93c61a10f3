// Package processtest provides a scripted process.Runner for tests.
package processtest

import (
	"context"
	"strings"
	"sync"
	"time"

	"git.home.luguber.info/inful/handoff/internal/process"
)

// Response scripts the outcome of one matched command.
type Response struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Err      error
	// Delay holds the call until it elapses or the context ends.
	Delay time.Duration
	// Do runs before the response is returned, e.g. to create files a real tool would write.
	Do func(process.Command)
}

// Matcher selects commands.
type Matcher func(process.Command) bool

type rule struct {
	match     Matcher
	responses []Response
	handler   func(process.Command) Response
	used      int
}

// Fake is a process.Runner returning scripted responses. Rules are evaluated in
// registration order; the first match wins. Unmatched commands get Default.
// It is safe for concurrent use.
type Fake struct {
	mu      sync.Mutex
	rules   []*rule
	calls   []process.Command
	Default Response
}

// New returns a Fake whose unmatched commands exit with status 127.
func New() *Fake {
	return &Fake{Default: Response{ExitCode: 127, Stderr: "command not scripted"}}
}

// On registers responses for commands matching m. Responses are consumed in
// order; the last one repeats.
func (f *Fake) On(m Matcher, responses ...Response) *Fake {
	if len(responses) == 0 {
		responses = []Response{{}}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, &rule{match: m, responses: responses})
	return f
}

// Handle registers a dynamic handler for commands matching m.
func (f *Fake) Handle(m Matcher, h func(process.Command) Response) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, &rule{match: m, handler: h})
	return f
}

// Run implements process.Runner.
func (f *Fake) Run(ctx context.Context, cmd process.Command) (process.Result, error) {
	resp := f.respond(cmd)
	if resp.Delay > 0 {
		if cmd.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, cmd.Timeout)
			defer cancel()
		}
		timer := time.NewTimer(resp.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return process.Result{ExitCode: -1}, ctx.Err()
		case <-timer.C:
		}
	}
	if resp.Do != nil {
		resp.Do(cmd)
	}
	if resp.Err != nil {
		return process.Result{ExitCode: -1, Stderr: resp.Stderr}, resp.Err
	}
	return process.Result{Stdout: resp.Stdout, Stderr: resp.Stderr, ExitCode: resp.ExitCode}, nil
}

func (f *Fake) respond(cmd process.Command) Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, cmd)
	for _, r := range f.rules {
		if !r.match(cmd) {
			continue
		}
		if r.handler != nil {
			h := r.handler
			// handlers may call back into the fake
			f.mu.Unlock()
			resp := h(cmd)
			f.mu.Lock()
			return resp
		}
		idx := r.used
		if idx >= len(r.responses) {
			idx = len(r.responses) - 1
		}
		r.used++
		return r.responses[idx]
	}
	return f.Default
}

// Calls returns a copy of every command received so far.
func (f *Fake) Calls() []process.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]process.Command, len(f.calls))
	copy(out, f.calls)
	return out
}

// Count returns how many received commands match m.
func (f *Fake) Count(m Matcher) int {
	n := 0
	for _, c := range f.Calls() {
		if m(c) {
			n++
		}
	}
	return n
}

// Line joins the argv of cmd with spaces.
func Line(cmd process.Command) string {
	return strings.Join(cmd.Argv(), " ")
}

// Contains matches commands whose joined argv contains every substring.
func Contains(substrs ...string) Matcher {
	return func(cmd process.Command) bool {
		line := Line(cmd)
		for _, s := range substrs {
			if !strings.Contains(line, s) {
				return false
			}
		}
		return true
	}
}

// Named matches commands by executable name.
func Named(name string) Matcher {
	return func(cmd process.Command) bool { return cmd.Name == name }
}

// All matches when every matcher does.
func All(ms ...Matcher) Matcher {
	return func(cmd process.Command) bool {
		for _, m := range ms {
			if !m(cmd) {
				return false
			}
		}
		return true
	}
}

// Any matches every command.
func Any() Matcher {
	return func(process.Command) bool { return true }
}
