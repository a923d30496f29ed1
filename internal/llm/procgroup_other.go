//go:build !unix

package llm

import (
	"os/exec"
	"runtime"
	"strconv"
	"time"
)

// setProcessGroup kills the process tree on cancellation. Windows needs
// taskkill /T; elsewhere only the direct child can be reached.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		if runtime.GOOS == "windows" {
			return exec.Command("taskkill", "/PID", strconv.Itoa(cmd.Process.Pid), "/T", "/F").Run()
		}
		return cmd.Process.Kill()
	}
	cmd.WaitDelay = 5 * time.Second
}
