//go:build !unix

package process

import "os/exec"

// isolate falls back to killing the direct child only.
func isolate(cmd *exec.Cmd) {
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return cmd.Process.Kill()
	}
}
