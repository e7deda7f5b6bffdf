package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jamesainslie/ramen/pkg/ramen/fsys/ftp"
	"github.com/jamesainslie/ramen/pkg/ramen/fsys/httpfs"
	"github.com/jamesainslie/ramen/pkg/ramen/fsys/local"
	"github.com/jamesainslie/ramen/pkg/ramen/fsys/webdav"
	"github.com/jamesainslie/ramen/pkg/ramen/logging"
	"github.com/jamesainslie/ramen/pkg/ramen/plugin/builtin"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides (RAMEN_MAX_THREADS, RAMEN_STORE_PATH).
const EnvPrefix = "RAMEN"

// StoreConfig configures the entry store.
type StoreConfig struct {
	Path string `mapstructure:"path"`
	// PruneStale removes entries a finished target did not see this run.
	PruneStale bool `mapstructure:"prune_stale"`
}

// SchedulerConfig configures the worker pool.
type SchedulerConfig struct {
	PopTimeout   time.Duration `mapstructure:"pop_timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
}

// ScannerConfig configures per-target scans.
type ScannerConfig struct {
	Exclude              []string `mapstructure:"exclude"`
	MaxConsecutiveErrors int      `mapstructure:"max_consecutive_errors"`
	// CommitEvery of zero lets the tuner choose.
	CommitEvery int `mapstructure:"commit_every"`
}

// HashConfig configures the hash plugin. MaxSize is a byte size ("64MiB").
type HashConfig struct {
	Algorithm string `mapstructure:"algorithm"`
	MaxSize   string `mapstructure:"max_size"`
}

// SecretsConfig configures the secrets plugin.
type SecretsConfig struct {
	Patterns []string `mapstructure:"patterns"`
}

// PluginsConfig selects and configures plugins.
type PluginsConfig struct {
	Actions    []string      `mapstructure:"actions"`
	Extensions []string      `mapstructure:"extensions"`
	Hash       HashConfig    `mapstructure:"hash"`
	Secrets    SecretsConfig `mapstructure:"secrets"`
}

// ValidateConfig configures target validation.
type ValidateConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Concurrency of zero lets the tuner choose.
	Concurrency int           `mapstructure:"concurrency"`
	Timeout     time.Duration `mapstructure:"timeout"`
	ProbePorts  bool          `mapstructure:"probe_ports"`
	Ports       []int         `mapstructure:"ports"`
}

// ResolverConfig configures target file parsing.
type ResolverConfig struct {
	MaxExpand int `mapstructure:"max_expand"`
}

// FilesystemsConfig holds per-adapter settings.
type FilesystemsConfig struct {
	LocalDisk  local.Config  `mapstructure:"local_disk"`
	FTP        ftp.Config    `mapstructure:"ftp"`
	HTTP       httpfs.Config `mapstructure:"http"`
	WebDAV     webdav.Config `mapstructure:"webdav"`
	SharePoint webdav.Config `mapstructure:"sharepoint"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSize    string `mapstructure:"max_size"`
	MaxAge     int    `mapstructure:"max_age"`
	MaxBackups int    `mapstructure:"max_backups"`
	Daily      bool   `mapstructure:"daily"`
}

// LoggingConfig configures application logging.
type LoggingConfig struct {
	Level      string            `mapstructure:"level"`
	Format     string            `mapstructure:"format"`
	Console    string            `mapstructure:"console"`
	Path       string            `mapstructure:"path"`
	Rotation   RotationConfig    `mapstructure:"rotation"`
	Components map[string]string `mapstructure:"components"`
}

// ManifestConfig configures run records.
type ManifestConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Path          string `mapstructure:"path"`
	RetentionDays int    `mapstructure:"retention_days"`
}

// Config represents the application configuration.
type Config struct {
	// MaxThreads is the worker count. Zero sizes the pool from the host.
	MaxThreads int `mapstructure:"max_threads"`
	// Targets is the default target file.
	Targets string `mapstructure:"targets"`

	Store       StoreConfig       `mapstructure:"store"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	Scanner     ScannerConfig     `mapstructure:"scanner"`
	Plugins     PluginsConfig     `mapstructure:"plugins"`
	Validate    ValidateConfig    `mapstructure:"validate"`
	Resolver    ResolverConfig    `mapstructure:"resolver"`
	Filesystems FilesystemsConfig `mapstructure:"filesystems"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Manifest    ManifestConfig    `mapstructure:"manifest"`
}

// New returns a viper instance with defaults, RAMEN_ environment binding
// and the config file read in. An explicit path must exist; the default
// locations are optional:
//   - $XDG_CONFIG_HOME/ramen/config.yaml
//   - $HOME/.config/ramen/config.yaml
func New(path string) (*viper.Viper, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		dir, err := ConfigDir()
		if err != nil {
			return nil, err
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(dir)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return v, nil
}

// SetDefaults registers a default for every key so that environment
// overrides apply to keys absent from the config file.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("max_threads", DefaultMaxThreads)
	v.SetDefault("targets", "")

	v.SetDefault("store.path", DefaultStorePath())
	v.SetDefault("store.prune_stale", false)

	v.SetDefault("scheduler.pop_timeout", DefaultPopTimeout)
	v.SetDefault("scheduler.poll_interval", DefaultPollInterval)
	v.SetDefault("scheduler.max_attempts", DefaultMaxAttempts)

	v.SetDefault("scanner.exclude", []string{})
	v.SetDefault("scanner.max_consecutive_errors", DefaultMaxConsecutiveErrors)
	v.SetDefault("scanner.commit_every", 0)

	v.SetDefault("plugins.actions", DefaultActions)
	v.SetDefault("plugins.extensions", DefaultExtensions)
	v.SetDefault("plugins.hash.algorithm", DefaultHashAlgorithm)
	v.SetDefault("plugins.hash.max_size", DefaultHashMaxSize)
	v.SetDefault("plugins.secrets.patterns", builtin.DefaultSecretPatterns)

	v.SetDefault("validate.enabled", true)
	v.SetDefault("validate.concurrency", 0)
	v.SetDefault("validate.timeout", DefaultValidateTimeout)
	v.SetDefault("validate.probe_ports", false)
	v.SetDefault("validate.ports", DefaultProbePorts)

	v.SetDefault("resolver.max_expand", DefaultMaxExpand)

	v.SetDefault("filesystems.local_disk.root", "/")

	ftpDefaults := ftp.DefaultConfig()
	v.SetDefault("filesystems.ftp.port", ftpDefaults.Port)
	v.SetDefault("filesystems.ftp.username", ftpDefaults.Username)
	v.SetDefault("filesystems.ftp.password", ftpDefaults.Password)
	v.SetDefault("filesystems.ftp.timeout", ftpDefaults.Timeout)

	httpDefaults := httpfs.DefaultConfig()
	v.SetDefault("filesystems.http.scheme", httpDefaults.Scheme)
	v.SetDefault("filesystems.http.port", httpDefaults.Port)
	v.SetDefault("filesystems.http.max_pages", httpDefaults.MaxPages)
	v.SetDefault("filesystems.http.requests_per_second", httpDefaults.RequestsPerSecond)
	v.SetDefault("filesystems.http.burst", httpDefaults.Burst)
	v.SetDefault("filesystems.http.user_agent", httpDefaults.UserAgent)
	v.SetDefault("filesystems.http.username", "")
	v.SetDefault("filesystems.http.password", "")
	v.SetDefault("filesystems.http.timeout", httpDefaults.Timeout)
	v.SetDefault("filesystems.http.max_redirects", httpDefaults.MaxRedirects)
	v.SetDefault("filesystems.http.clock_skew", httpDefaults.ClockSkew)
	v.SetDefault("filesystems.http.discover_siblings", httpDefaults.DiscoverSiblings)

	davDefaults := webdav.DefaultConfig()
	for _, product := range []string{"webdav", "sharepoint"} {
		prefix := "filesystems." + product + "."
		v.SetDefault(prefix+"scheme", davDefaults.Scheme)
		v.SetDefault(prefix+"port", davDefaults.Port)
		v.SetDefault(prefix+"path", davDefaults.Path)
		v.SetDefault(prefix+"username", "")
		v.SetDefault(prefix+"password", "")
		v.SetDefault(prefix+"timeout", davDefaults.Timeout)
	}

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.console", "warn")
	v.SetDefault("logging.path", "") // Empty means use DefaultLogPath
	v.SetDefault("logging.rotation.max_size", DefaultLogMaxSize)
	v.SetDefault("logging.rotation.max_age", 30)
	v.SetDefault("logging.rotation.max_backups", 5)
	v.SetDefault("logging.rotation.daily", true)
	v.SetDefault("logging.components", map[string]string{
		"scanner":   "info",
		"scheduler": "info",
		"store":     "info",
		"plugin":    "warn",
		"target":    "info",
	})

	v.SetDefault("manifest.enabled", true)
	v.SetDefault("manifest.path", DefaultManifestPath())
	v.SetDefault("manifest.retention_days", DefaultRetentionDays)
}

// Decode unmarshals v into a Config, expands ~ in paths and validates it.
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	for _, p := range []*string{&cfg.Targets, &cfg.Store.Path, &cfg.Manifest.Path, &cfg.Logging.Path} {
		expanded, err := ExpandPath(*p)
		if err != nil {
			return nil, err
		}
		*p = expanded
	}
	if cfg.Logging.Path == "" {
		cfg.Logging.Path = DefaultLogPath()
	}

	if err := cfg.Check(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load loads configuration from file and environment variables.
func Load(path string) (*Config, error) {
	v, err := New(path)
	if err != nil {
		return nil, err
	}
	return Decode(v)
}

// Check reports settings that cannot work.
func (c *Config) Check() error {
	var errs []error
	if c.MaxThreads < 0 {
		errs = append(errs, fmt.Errorf("max_threads must not be negative, got %d", c.MaxThreads))
	}
	if c.Store.Path == "" {
		errs = append(errs, errors.New("store.path is empty"))
	}
	if c.Scheduler.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("scheduler.max_attempts must be at least 1, got %d", c.Scheduler.MaxAttempts))
	}
	if c.Resolver.MaxExpand < 1 {
		errs = append(errs, fmt.Errorf("resolver.max_expand must be at least 1, got %d", c.Resolver.MaxExpand))
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	if c.Plugins.Hash.MaxSize != "" {
		if _, err := ParseSize(c.Plugins.Hash.MaxSize); err != nil {
			errs = append(errs, fmt.Errorf("plugins.hash.max_size: %w", err))
		}
	}
	for _, port := range c.Validate.Ports {
		if port < 1 || port > 65535 {
			errs = append(errs, fmt.Errorf("validate.ports: %d is not a port", port))
		}
	}
	return errors.Join(errs...)
}

// Builtin returns the settings of the builtin plugins.
func (c *Config) Builtin() (builtin.Config, error) {
	var maxSize int64
	if c.Plugins.Hash.MaxSize != "" {
		n, err := ParseSize(c.Plugins.Hash.MaxSize)
		if err != nil {
			return builtin.Config{}, fmt.Errorf("plugins.hash.max_size: %w", err)
		}
		maxSize = n
	}
	return builtin.Config{
		Hash:    builtin.HashConfig{Algorithm: c.Plugins.Hash.Algorithm, MaxSize: maxSize},
		Secrets: builtin.SecretsConfig{Patterns: c.Plugins.Secrets.Patterns},
	}, nil
}

// ParseSize parses a byte size such as "10MB", "64MiB" or "1G".
func ParseSize(s string) (int64, error) {
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, err
	}
	if n > 1<<62 {
		return 0, fmt.Errorf("size %q is too large", s)
	}
	return int64(n), nil
}
