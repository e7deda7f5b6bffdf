package store

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

// A pid above any kernel's pid_max.
const deadPID = 99999999

func TestClaimNoOwner(t *testing.T) {
	if err := claim(t.TempDir()); err != nil {
		t.Errorf("claim() error = %v, want nil", err)
	}
	if err := claim(filepath.Join(t.TempDir(), "missing")); err != nil {
		t.Errorf("claim(missing) error = %v, want nil", err)
	}
}

func TestClaimLiveOwner(t *testing.T) {
	dir := t.TempDir()
	pidPath := filepath.Join(dir, pidFile)

	// The parent of the test binary is alive for the duration of the test.
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getppid())), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := claim(dir); !errors.Is(err, ErrInUse) {
		t.Fatalf("claim() error = %v, want ErrInUse", err)
	}
	if _, err := os.Stat(pidPath); err != nil {
		t.Error("pid file of a live owner was removed")
	}
	if _, err := Open(dir); !errors.Is(err, ErrInUse) {
		t.Errorf("Open() error = %v, want ErrInUse", err)
	}
}

func TestClaimStaleOwner(t *testing.T) {
	dir := t.TempDir()
	pidPath := filepath.Join(dir, pidFile)
	lockPath := filepath.Join(dir, "LOCK")

	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(deadPID)), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(lockPath, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	if err := claim(dir); err != nil {
		t.Fatalf("claim() error = %v, want nil", err)
	}
	for _, p := range []string{pidPath, lockPath} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("%s was not removed", filepath.Base(p))
		}
	}
}

func TestOpenRecordsOwner(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	pid, err := readPID(filepath.Join(dir, pidFile))
	if err != nil || pid != os.Getpid() {
		t.Errorf("owner = %d, %v; want %d", pid, err, os.Getpid())
	}
	if err := claim(dir); err != nil {
		t.Errorf("claim() by the owner error = %v", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, pidFile)); !os.IsNotExist(err) {
		t.Error("Close() left the pid file behind")
	}
}
