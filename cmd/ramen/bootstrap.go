package main

import (
	"fmt"

	"github.com/jamesainslie/ramen/pkg/ramen/config"
	"github.com/jamesainslie/ramen/pkg/ramen/logging"
	"github.com/spf13/cobra"
)

// initializeLogging is the PersistentPreRunE hook: it loads configuration,
// creates the XDG directories and starts file logging.
func initializeLogging(cmd *cobra.Command, _ []string) error {
	loaded, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	cfg = loaded

	if err := config.EnsureDirs(); err != nil {
		return err
	}

	console := cfg.Logging.Console
	switch {
	case getVerbose():
		console = "debug"
	case getQuiet():
		console = "error"
	}

	return logging.Init(logging.Config{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		Path:         cfg.Logging.Path,
		Rotation:     parseRotationConfig(cfg.Logging.Rotation),
		Components:   cfg.Logging.Components,
		ConsoleLevel: console,
	})
}

func closeLogging(*cobra.Command, []string) {
	_ = logging.Close()
}

// parseRotationConfig converts the configured rotation settings. A missing
// or unparseable max_size falls back to the logging default.
func parseRotationConfig(rc config.RotationConfig) logging.RotationConfig {
	out := logging.RotationConfig{
		MaxSize:    logging.DefaultRotationConfig().MaxSize,
		MaxAge:     rc.MaxAge,
		MaxBackups: rc.MaxBackups,
		Daily:      rc.Daily,
	}
	if rc.MaxSize != "" {
		if n, err := config.ParseSize(rc.MaxSize); err == nil && n > 0 {
			out.MaxSize = n
		}
	}
	return out
}
