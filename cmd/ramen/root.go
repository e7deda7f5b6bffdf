package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/jamesainslie/ramen/pkg/ramen/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	// cfg is loaded by initializeLogging before any command runs.
	cfg     *config.Config
	rootCmd = &cobra.Command{
		Use:   "ramen [targets-file]",
		Short: "Crawl hosts and index their files",
		Long: `Ramen crawls the filesystems of many hosts and records every folder and
file it finds in a local store.

A target file lists one host per line, optionally followed by the products
to crawl it with:

  10.0.0.1 local_disk
  ftp.example.com ftp
  intranet.example.com http,webdav
  192.168.1.0/28

A host without products is tried with every adapter; targets that fail
validation are dropped before the crawl starts.

Examples:
  ramen targets.txt              # Crawl every target in targets.txt
  ramen scan -w 8 targets.txt    # Crawl with 8 workers
  ramen ls ftp.example.com ftp   # List what was stored
  ramen hosts                    # Show crawled hosts
  ramen history                  # View past runs`,
		Args:              cobra.MaximumNArgs(1),
		RunE:              runScan,
		PersistentPreRunE: initializeLogging,
		PersistentPostRun: closeLogging,
		SilenceUsage:      true,
		SilenceErrors:     true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.config/ramen/config.yaml)")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "minimal output")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "debug output")
	rootCmd.PersistentFlags().String("store", "", "store directory")

	addScanFlags(rootCmd)
}

// bindings maps config keys to the flags that override them. Scan
// bindings apply only to commands carrying the scan flags.
var (
	bindings = map[string]string{
		"store.path": "store",
	}
	scanBindings = map[string]string{
		"max_threads":       "workers",
		"targets":           "targets",
		"scanner.exclude":   "exclude",
		"store.prune_stale": "prune",
	}
)

// loadConfig reads the config file and environment, then applies flags of
// cmd that were set explicitly.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v, err := config.New(cfgFile)
	if err != nil {
		return nil, err
	}
	if cmd == nil {
		return config.Decode(v)
	}

	bind := func(m map[string]string) error {
		for key, name := range m {
			if f := cmd.Flags().Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return fmt.Errorf("binding --%s: %w", name, err)
				}
			}
		}
		return nil
	}
	if err := bind(bindings); err != nil {
		return nil, err
	}
	if f := cmd.Flags().Lookup("no-validate"); f != nil {
		if err := bind(scanBindings); err != nil {
			return nil, err
		}
		if f.Changed {
			v.Set("validate.enabled", false)
		}
	}
	return config.Decode(v)
}

// exitError carries a process exit code.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

// Execute runs the root command.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		var ee *exitError
		if !errors.As(err, &ee) || ee.code != exitInterrupted {
			printError("%v", err)
		}
	}
	return err
}

// getVerbose returns true if verbose mode is enabled.
func getVerbose() bool {
	return viper.GetBool("verbose")
}

// getQuiet returns true if quiet mode is enabled.
func getQuiet() bool {
	return viper.GetBool("quiet")
}

func init() {
	_ = viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

// printVerbose prints a message if verbose mode is enabled.
func printVerbose(format string, args ...interface{}) {
	if getVerbose() && !getQuiet() {
		fmt.Fprintf(os.Stderr, "[DEBUG] "+format+"\n", args...)
	}
}

// printInfo prints a message if quiet mode is not enabled.
func printInfo(format string, args ...interface{}) {
	if !getQuiet() {
		fmt.Printf(format+"\n", args...)
	}
}

// printError prints an error message to stderr.
func printError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
}
