package daemon

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// StopRunning sends SIGTERM to the monitor recorded in pidFile and waits up
// to timeout for it to exit.
func StopRunning(pidFile string, timeout time.Duration) error {
	pid, err := readPidFile(pidFile)
	if err != nil {
		return fmt.Errorf("monitor not running: %w", err)
	}

	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to signal pid %d: %w", pid, err)
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !processAlive(pid) {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("pid %d still running after %s", pid, timeout)
}

// ReloadRunning sends SIGHUP to the monitor recorded in pidFile.
func ReloadRunning(pidFile string) error {
	pid, err := readPidFile(pidFile)
	if err != nil {
		return fmt.Errorf("monitor not running: %w", err)
	}
	if err := syscall.Kill(pid, syscall.SIGHUP); err != nil {
		return fmt.Errorf("failed to signal pid %d: %w", pid, err)
	}
	return nil
}

func processAlive(pid int) bool {
	// Signal 0 checks existence without delivering anything
	return syscall.Kill(pid, 0) == nil
}

func readPidFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid PID file %s", path)
	}
	return pid, nil
}
