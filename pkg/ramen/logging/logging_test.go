package logging_test

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jamesainslie/ramen/pkg/ramen/logging"
)

// Note: tests in this file share the global logging state and do not run in parallel.

func TestInit(t *testing.T) {
	validDir := t.TempDir()
	componentsDir := t.TempDir()
	invalidDir := t.TempDir()

	tests := []struct {
		name    string
		cfg     logging.Config
		wantErr error
	}{
		{
			name: "valid config",
			cfg: logging.Config{
				Level: "info",
				Path:  filepath.Join(validDir, "test.log"),
			},
		},
		{
			name: "component overrides",
			cfg: logging.Config{
				Level:      "info",
				Path:       filepath.Join(componentsDir, "components.log"),
				Components: map[string]string{"scanner": "debug", "store": "warn"},
			},
		},
		{
			name: "invalid level",
			cfg: logging.Config{
				Level: "loud",
				Path:  filepath.Join(invalidDir, "invalid.log"),
			},
			wantErr: logging.ErrInvalidLevel,
		},
		{
			name: "invalid component level",
			cfg: logging.Config{
				Level:      "info",
				Path:       filepath.Join(invalidDir, "invalid.log"),
				Components: map[string]string{"scanner": "chatty"},
			},
			wantErr: logging.ErrInvalidLevel,
		},
		{
			name: "invalid format",
			cfg: logging.Config{
				Level:  "info",
				Format: "xml",
				Path:   filepath.Join(invalidDir, "invalid.log"),
			},
			wantErr: logging.ErrInvalidFormat,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := logging.Init(tt.cfg)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Init() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Init() error = %v", err)
			}
			if err := logging.Close(); err != nil {
				t.Errorf("Close() error = %v", err)
			}
		})
	}
}

func TestGetBeforeInitIsSilent(t *testing.T) {
	_ = logging.Close()

	logger := logging.Get("early")
	if logger == nil {
		t.Fatal("Get() returned nil")
	}
	logger.Info("discarded")

	if logger.Component() != "early" {
		t.Errorf("Component() = %q, want early", logger.Component())
	}
}

func TestLogLevelsAndComponents(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "levels.log")

	cfg := logging.Config{
		Level:      "warn",
		Path:       logPath,
		Components: map[string]string{"scanner": "debug"},
	}
	if err := logging.Init(cfg); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	store := logging.Get("store")
	store.Info("store info hidden")
	store.Warn("store warn shown")

	scanner := logging.Get("scanner").With("host", "10.0.0.1")
	scanner.Debug("scanner debug shown")

	if err := logging.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("reading log: %v", err)
	}
	out := string(content)

	if strings.Contains(out, "store info hidden") {
		t.Error("info record written below warn level")
	}
	for _, want := range []string{"store warn shown", "scanner debug shown", "10.0.0.1"} {
		if !strings.Contains(out, want) {
			t.Errorf("log missing %q:\n%s", want, out)
		}
	}
}

func TestJSONFormat(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "json.log")

	if err := logging.Init(logging.Config{Level: "info", Format: "json", Path: logPath}); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	logging.Get("target").Info("resolved", "targets", 3)
	if err := logging.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("reading log: %v", err)
	}

	line := strings.TrimSpace(strings.Split(string(content), "\n")[0])
	var rec map[string]interface{}
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		t.Fatalf("log line is not JSON: %v: %s", err, line)
	}
	if rec["msg"] != "resolved" {
		t.Errorf("msg = %v, want resolved", rec["msg"])
	}
}

func TestReinitRebuildsExistingLoggers(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "first.log")
	second := filepath.Join(dir, "second.log")

	if err := logging.Init(logging.Config{Level: "info", Path: first}); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	_ = logging.Get("scheduler")

	if err := logging.Init(logging.Config{Level: "info", Path: second}); err != nil {
		t.Fatalf("second Init() error = %v", err)
	}
	logging.Get("scheduler").Info("after reinit")
	if err := logging.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	content, err := os.ReadFile(second)
	if err != nil {
		t.Fatalf("reading log: %v", err)
	}
	if !strings.Contains(string(content), "after reinit") {
		t.Errorf("second log missing record: %s", content)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    logging.Level
		wantErr bool
	}{
		{"debug", logging.LevelDebug, false},
		{"INFO", logging.LevelInfo, false},
		{"warning", logging.LevelWarn, false},
		{"error", logging.LevelError, false},
		{"", logging.LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := logging.ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
