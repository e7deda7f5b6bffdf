package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const defaultConfigTemplate = `# Ramen Crawler Configuration

# Concurrent target scans (0 = size from CPU and memory)
max_threads: %d

# Target file used when none is given on the command line
targets: ""

store:
  path: %s
  # Remove entries a finished target did not see in this run
  prune_stale: false

scheduler:
  pop_timeout: %s
  poll_interval: %s
  max_attempts: %d

scanner:
  # Glob patterns matched against full paths and base names
  exclude: []
  max_consecutive_errors: %d
  # Entries written between commits (0 = tuned)
  commit_every: 0

plugins:
  actions: []
  extensions:
    - secrets
  hash:
    algorithm: %s
    max_size: %s
  secrets:
    patterns:
      - "*.{config,ini,eml}"

validate:
  enabled: true
  # 0 = tuned
  concurrency: 0
  timeout: %s
  probe_ports: false
  ports: [21, 80, 443, 8080, 8443]

resolver:
  # Hosts one CIDR line may expand to
  max_expand: %d

filesystems:
  local_disk:
    root: /
  ftp:
    port: 21
    username: anonymous
    password: anonymous@
    timeout: 10s
  http:
    scheme: http
    max_pages: 10000
    requests_per_second: 10
    timeout: 15s
    discover_siblings: false
  webdav:
    scheme: https
    path: /
    timeout: 15s
  sharepoint:
    scheme: https
    path: /
    timeout: 15s

logging:
  # Log level: debug, info, warn, error
  level: info
  # File format: text, json, logfmt
  format: text
  # Mirror records at or above this level to stderr ("" disables)
  console: warn
  # Log file path (empty means use default: $XDG_STATE_HOME/ramen/ramen.log)
  path: ""
  rotation:
    max_size: %s
    max_age: 30       # days
    max_backups: 5
    daily: true

manifest:
  enabled: true
  path: %s
  retention_days: %d
`

// WriteDefault writes a commented default config file to path, or to the
// default location when path is empty. An existing file is left untouched
// and reported with created == false.
func WriteDefault(path string) (written string, created bool, err error) {
	if path == "" {
		path, err = ConfigFile()
		if err != nil {
			return "", false, err
		}
	}

	if _, err := os.Stat(path); err == nil {
		return path, false, nil
	} else if !os.IsNotExist(err) {
		return "", false, fmt.Errorf("failed to check config file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", false, fmt.Errorf("failed to create config directory: %w", err)
	}

	content := fmt.Sprintf(defaultConfigTemplate,
		DefaultMaxThreads,
		DefaultStorePath(),
		DefaultPopTimeout, DefaultPollInterval, DefaultMaxAttempts,
		DefaultMaxConsecutiveErrors,
		DefaultHashAlgorithm, DefaultHashMaxSize,
		DefaultValidateTimeout,
		DefaultMaxExpand,
		DefaultLogMaxSize,
		DefaultManifestPath(), DefaultRetentionDays,
	)

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", false, fmt.Errorf("failed to write default config: %w", err)
	}
	return path, true, nil
}
