package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/jamesainslie/ramen/pkg/ramen/config"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long: `Manage ramen configuration settings.

Configuration is loaded from:
  1. --config, if given
  2. $XDG_CONFIG_HOME/ramen/config.yaml (if set)
  3. ~/.config/ramen/config.yaml

Environment variables override config file settings using the RAMEN_ prefix:
  RAMEN_MAX_THREADS=16
  RAMEN_STORE_PATH=/var/lib/ramen
  RAMEN_FILESYSTEMS_FTP_PASSWORD=secret`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the effective configuration from all sources. Passwords are masked.`,
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create default configuration file",
	Long:  `Create a default configuration file if one doesn't exist.`,
	Args:  cobra.NoArgs,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show configuration file path",
	Args:  cobra.NoArgs,
	RunE:  runConfigPath,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
	rootCmd.AddCommand(configCmd)
}

func configPath() (string, error) {
	if cfgFile != "" {
		return cfgFile, nil
	}
	return config.ConfigFile()
}

func runConfigShow(_ *cobra.Command, _ []string) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("Config file: %s\n\n", path)
	} else {
		fmt.Println("Config file: (using defaults, no file found)")
		fmt.Println()
	}

	fs := cfg.Filesystems
	rows := []struct {
		key   string
		value any
	}{
		{"max_threads", cfg.MaxThreads},
		{"targets", cfg.Targets},
		{"store.path", cfg.Store.Path},
		{"store.prune_stale", cfg.Store.PruneStale},
		{"scheduler.pop_timeout", cfg.Scheduler.PopTimeout},
		{"scheduler.max_attempts", cfg.Scheduler.MaxAttempts},
		{"scanner.exclude", cfg.Scanner.Exclude},
		{"scanner.max_consecutive_errors", cfg.Scanner.MaxConsecutiveErrors},
		{"plugins.actions", cfg.Plugins.Actions},
		{"plugins.extensions", cfg.Plugins.Extensions},
		{"validate.enabled", cfg.Validate.Enabled},
		{"validate.timeout", cfg.Validate.Timeout},
		{"filesystems.ftp.username", fs.FTP.Username},
		{"filesystems.ftp.password", mask(fs.FTP.Password)},
		{"filesystems.webdav.username", fs.WebDAV.Username},
		{"filesystems.webdav.password", mask(fs.WebDAV.Password)},
		{"filesystems.sharepoint.username", fs.SharePoint.Username},
		{"filesystems.sharepoint.password", mask(fs.SharePoint.Password)},
		{"logging.level", cfg.Logging.Level},
		{"logging.path", cfg.Logging.Path},
		{"manifest.enabled", cfg.Manifest.Enabled},
		{"manifest.path", cfg.Manifest.Path},
		{"manifest.retention_days", cfg.Manifest.RetentionDays},
	}

	fmt.Println("Current Configuration:")
	fmt.Println("----------------------")
	for _, r := range rows {
		fmt.Printf("%-34s %v\n", r.key+":", r.value)
	}

	fmt.Println("\nEnvironment Overrides:")
	fmt.Println("----------------------")
	overridden := false
	for _, kv := range os.Environ() {
		name, val, _ := strings.Cut(kv, "=")
		if !strings.HasPrefix(name, config.EnvPrefix+"_") {
			continue
		}
		if strings.HasSuffix(name, "_PASSWORD") {
			val = mask(val)
		}
		fmt.Printf("%s=%s\n", name, val)
		overridden = true
	}
	if !overridden {
		fmt.Println("(none)")
	}
	return nil
}

// mask hides a secret while still showing whether it is set.
func mask(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}

func runConfigInit(_ *cobra.Command, _ []string) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	written, created, err := config.WriteDefault(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	if !created {
		printInfo("Config file already exists: %s", written)
		return nil
	}
	printInfo("Created config file: %s", written)
	return nil
}

func runConfigPath(_ *cobra.Command, _ []string) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	fmt.Println(path)
	return nil
}
