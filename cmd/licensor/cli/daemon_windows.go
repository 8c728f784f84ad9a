//go:build windows

package cli

import (
	"os"
	"os/exec"

	"golang.org/x/sys/windows"
)

// setSysProcAttr is a no-op on Windows. Run the server under a service
// wrapper such as NSSM for production deployments.
func setSysProcAttr(cmd *exec.Cmd) {}

// isProcessRunning opens the process and checks its exit code.
func isProcessRunning(pid int) bool {
	h, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err != nil {
		return false
	}
	defer windows.CloseHandle(h)

	var code uint32
	if err := windows.GetExitCodeProcess(h, &code); err != nil {
		return false
	}
	const stillActive = 259
	return code == stillActive
}

// stopProcess kills the process. Windows has no SIGTERM, so queued usage
// entries that have not been flushed are lost.
func stopProcess(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Kill()
}
