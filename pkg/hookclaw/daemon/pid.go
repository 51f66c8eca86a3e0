package daemon

import (
	"os"
	"strconv"
	"strings"
	"syscall"
)

// WritePidFile records the current process id at path. An empty path
// disables pid tracking.
func WritePidFile(path string) error {
	if path == "" {
		return nil
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
}

// ReadPidFile returns the pid recorded at path and whether that process
// is still alive. A missing or malformed file reads as (0, false); a
// valid pid whose process is gone reads as (pid, false), which lets
// `hookclaw status` report a stale file.
func ReadPidFile(path string) (pid int, running bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err = strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, processAlive(pid)
}

// RemovePidFile deletes the pid file, ignoring a missing one.
func RemovePidFile(path string) {
	if path == "" {
		return
	}
	_ = os.Remove(path)
}

// processAlive probes the pid with signal 0, which tests for existence
// without touching the process.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
