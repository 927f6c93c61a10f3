package remote

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Dispatch protocol markers printed by the remote wrapper.
const (
	markerDispatched = "handoff:dispatched"
	markerRunning    = "handoff:running"
	markerExitPrefix = "handoff:exit:"
)

var exitMarker = regexp.MustCompile(`handoff:exit:(\d+)`)

// DispatchOutcome describes a detached remote job.
type DispatchOutcome struct {
	// Dispatched is true once the remote side confirmed the job was started.
	Dispatched bool
	// Completed is true when the job finished within the foreground wait.
	Completed bool
	ExitCode  int
	// Detail carries the failure text when the job was not dispatched.
	Detail string
}

// Succeeded reports whether the job is running or finished with status 0.
func (d DispatchOutcome) Succeeded() bool {
	return d.Dispatched && (!d.Completed || d.ExitCode == 0)
}

// dispatchScript wraps command so it keeps running after the ssh session ends.
// The job runs under nohup with its output discarded; the wrapper waits up to
// waitSecs for it before reporting it as still running.
func dispatchScript(command string, waitSecs int) string {
	return strings.Join([]string{
		"nohup sh -c " + ShellQuote(command) + " >/dev/null 2>&1 </dev/null &",
		"pid=$!",
		"echo " + markerDispatched,
		"i=0",
		"while kill -0 $pid 2>/dev/null; do",
		"  if [ $i -ge " + strconv.Itoa(waitSecs) + " ]; then echo " + markerRunning + "; exit 0; fi",
		"  sleep 1; i=$((i+1))",
		"done",
		"wait $pid; echo " + markerExitPrefix + "$?",
	}, "\n")
}

// Dispatch starts command on host as a detached background job and waits up
// to wait for it. A connection lost after the dispatch marker still counts as
// dispatched: the remote side carries on unattended.
func (e *Executor) Dispatch(ctx context.Context, host Host, command string, wait time.Duration) DispatchOutcome {
	waitSecs := int(math.Ceil(wait.Seconds()))
	if waitSecs < 0 {
		waitSecs = 0
	}
	timeout := wait + e.opts.ConnectTimeout + 5*time.Second
	out, err := e.Execute(ctx, host, dispatchScript(command, waitSecs), timeout)
	return interpretDispatch(out, err)
}

func interpretDispatch(out Outcome, err error) DispatchOutcome {
	res := DispatchOutcome{Dispatched: strings.Contains(out.Stdout, markerDispatched)}
	if m := exitMarker.FindStringSubmatch(out.Stdout); m != nil && res.Dispatched {
		res.Completed = true
		res.ExitCode, _ = strconv.Atoi(m[1])
		return res
	}
	if res.Dispatched {
		return res
	}
	switch {
	case err != nil:
		res.Detail = err.Error()
	case out.ExitCode != 0:
		res.Detail = fmt.Sprintf("exit %d: %s", out.ExitCode, strings.TrimSpace(out.Stderr))
	default:
		res.Detail = "no dispatch confirmation received"
	}
	res.ExitCode = out.ExitCode
	return res
}
