package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/jamesainslie/ramen/pkg/ramen/logging"
)

// ErrInUse is returned by Open when another live process owns the store.
var ErrInUse = errors.New("store in use")

const pidFile = "ramen.pid"

// writePID records the current process as the store owner.
func writePID(path string) error {
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

// readPID reads the owner recorded at path.
func readPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

// processRunning reports whether pid names a live process. A process we
// may not signal still exists.
func processRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = p.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}

// claim checks the owner of the store at dir. A live owner other than this
// process yields ErrInUse; files left behind by a dead owner are removed.
func claim(dir string) error {
	pidPath := filepath.Join(dir, pidFile)
	pid, err := readPID(pidPath)
	if err != nil {
		return nil //nolint:nilerr // no owner recorded
	}
	if pid == os.Getpid() {
		return nil
	}
	if processRunning(pid) {
		return fmt.Errorf("%w: %s is owned by pid %d", ErrInUse, dir, pid)
	}

	logging.Get("store").Warn("cleaning up stale store owner", "stale_pid", pid, "path", dir)
	_ = os.Remove(pidPath)
	_ = os.Remove(filepath.Join(dir, "LOCK"))
	return nil
}
