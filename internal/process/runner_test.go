package process

import (
	"context"
	"os/exec"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/handoff/internal/foundation/errors"
)

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestExecRunnerCapturesOutput(t *testing.T) {
	requireShell(t)
	res, err := NewExecRunner().Run(context.Background(), Command{
		Name: "sh",
		Args: []string{"-c", "echo out; echo err >&2; exit 3"},
	})
	require.NoError(t, err)
	require.Equal(t, 3, res.ExitCode)
	require.False(t, res.Success())
	require.Equal(t, "out\n", res.Stdout)
	require.Equal(t, "err\n", res.Stderr)
}

func TestExecRunnerMissingExecutable(t *testing.T) {
	_, err := NewExecRunner().Run(context.Background(), Command{Name: "handoff-definitely-missing-tool"})
	require.Error(t, err)
	require.True(t, errors.HasCategory(err, errors.CategoryProcess))

	ce, ok := errors.AsClassified(err)
	require.True(t, ok)
	require.Contains(t, ce.Hint(), "HANDOFF_")
}

func TestExecRunnerTimeoutKillsGroup(t *testing.T) {
	requireShell(t)
	start := time.Now()
	// the background sleep holds stdout open; only a group kill ends it promptly
	_, err := NewExecRunner().Run(context.Background(), Command{
		Name:    "sh",
		Args:    []string{"-c", "sleep 30 & sleep 30"},
		Timeout: 200 * time.Millisecond,
	})
	require.Error(t, err)
	require.True(t, IsTerminated(err))
	require.Less(t, time.Since(start), 10*time.Second)
}

func TestCommandStringRedacts(t *testing.T) {
	c := Command{Name: "tailscale", Args: []string{"up", "--authkey", "tskey-secret"}}
	require.False(t, strings.Contains(c.String(), "tskey-secret"))
	require.Equal(t, []string{"tailscale", "up", "--authkey", "tskey-secret"}, c.Argv())
}

func TestFirstLine(t *testing.T) {
	require.Equal(t, "ssh: connect to host", FirstLine("\n  ssh: connect to host \nmore"))
	require.Equal(t, "", FirstLine("   \n"))
}
