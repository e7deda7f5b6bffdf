package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/jamesainslie/ramen/pkg/ramen/manifest"
	"github.com/jamesainslie/ramen/pkg/ramen/output"
	"github.com/jamesainslie/ramen/pkg/ramen/scheduler"
	"github.com/jamesainslie/ramen/pkg/ramen/store"
	"github.com/jamesainslie/ramen/pkg/ramen/tuner"
	"github.com/spf13/cobra"
)

// Exit codes.
const (
	exitFailure     = 1
	exitUsage       = 2
	exitInterrupted = 130
)

var scanCmd = &cobra.Command{
	Use:   "scan [targets-file]",
	Short: "Crawl the targets in a target file",
	Long: `Crawl every valid target listed in the target file and store the folders
and files found. Use "-" to read targets from stdin.

The run exits non-zero when the target list is missing, when no target
passes validation, or when the store fails. Per-entry problems are logged
and do not change the exit code.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runScan,
}

func init() {
	addScanFlags(scanCmd)
	rootCmd.AddCommand(scanCmd)
}

func addScanFlags(cmd *cobra.Command) {
	cmd.Flags().IntP("workers", "w", 0, "concurrent target scans (0=auto)")
	cmd.Flags().StringP("targets", "t", "", "target file")
	cmd.Flags().StringSliceP("exclude", "e", nil, "exclude glob patterns (can be specified multiple times)")
	cmd.Flags().Bool("no-validate", false, "skip target validation")
	cmd.Flags().Bool("prune", false, "remove entries not seen by this run")
}

// runScan is the scan command handler.
func runScan(cmd *cobra.Command, args []string) error {
	targetsPath := cfg.Targets
	if len(args) > 0 {
		targetsPath = args[0]
	}
	if targetsPath == "" {
		return &exitError{code: exitUsage, err: errors.New("no target list given (pass a file or set targets in the config)")}
	}

	in, closeIn, err := openTargets(targetsPath)
	if err != nil {
		return &exitError{code: exitUsage, err: err}
	}
	defer closeIn()

	resources, err := tuner.Detect()
	if err != nil {
		printVerbose("Failed to detect system resources, using defaults: %v", err)
		resources = tuner.SystemResources{
			CPUCores:     4,
			TotalRAM:     8 << 30,
			AvailableRAM: 4 << 30,
		}
	}
	tuned := tuner.CalculateWithOverrides(resources, cfg.MaxThreads)
	printVerbose("System: %d CPUs, %s RAM, %s available",
		resources.CPUCores,
		humanize.IBytes(uint64(resources.TotalRAM)),
		humanize.IBytes(uint64(resources.AvailableRAM)))
	printVerbose("Config: %d workers, %d validators, commit every %d entries",
		tuned.Workers, tuned.ValidateConcurrency, tuned.CommitEvery)

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			printError("closing store: %v", err)
		}
	}()

	var progress io.Writer = os.Stdout
	if getQuiet() {
		progress = nil
	}
	c, err := newCrawl(cfg, st, tuned, progress)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	started := time.Now()
	rep, runErr := c.run(ctx, in)

	switch {
	case errors.Is(runErr, errNoTargets), errors.Is(runErr, errNoValidTargets):
		return &exitError{code: exitUsage, err: runErr}
	case rep == nil && runErr != nil:
		if ctx.Err() != nil {
			return &exitError{code: exitInterrupted, err: runErr}
		}
		return runErr
	}

	recordRun(c.manifestEntry(rep, started, runErr))
	if !getQuiet() {
		fmt.Println(formatSummary(rep, runErr))
	}

	switch {
	case scheduler.IsFatal(runErr):
		return runErr
	case runErr != nil:
		return &exitError{code: exitInterrupted, err: runErr}
	}
	return nil
}

// openTargets opens path, or stdin for "-".
func openTargets(path string) (io.Reader, func(), error) {
	if path == "-" {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening target list: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}

// recordRun writes the run manifest and expires old runs. Failures are
// reported but do not fail the run.
func recordRun(e *manifest.Entry) {
	if !cfg.Manifest.Enabled {
		return
	}
	m, err := manifest.New(cfg.Manifest.Path)
	if err != nil {
		printError("run history: %v", err)
		return
	}
	if err := m.Record(e); err != nil {
		printError("run history: %v", err)
		return
	}
	if cfg.Manifest.RetentionDays > 0 {
		if _, err := m.Cleanup(time.Duration(cfg.Manifest.RetentionDays) * 24 * time.Hour); err != nil {
			printVerbose("run history cleanup: %v", err)
		}
	}
	printVerbose("Recorded run %s", e.ID)
}

// formatSummary renders the closing summary box.
func formatSummary(rep *scheduler.Report, runErr error) string {
	parts := []string{
		output.LabelStyle.Render("Done:") + " " + output.SuccessStyle.Render(fmt.Sprint(rep.Done)),
		output.LabelStyle.Render("Failed:") + " " + failedStyle(rep.Failed).Render(fmt.Sprint(rep.Failed)),
	}
	if rep.Pending > 0 {
		parts = append(parts, output.LabelStyle.Render("Pending:")+" "+output.WarningStyle.Render(fmt.Sprint(rep.Pending)))
	}
	if rep.Crashes > 0 {
		parts = append(parts, output.LabelStyle.Render("Crashes:")+" "+output.WarningStyle.Render(fmt.Sprint(rep.Crashes)))
	}
	parts = append(parts, output.LabelStyle.Render("Elapsed:")+" "+output.ValueStyle.Render(rep.Duration.Round(time.Millisecond).String()))

	lines := []string{strings.Join(parts, "  ")}
	switch {
	case scheduler.IsFatal(runErr):
		lines = append(lines, output.ErrorStyle.Render("Run aborted: "+runErr.Error()))
	case runErr != nil:
		lines = append(lines, output.WarningStyle.Bold(true).Render("Run interrupted; progress so far was committed"))
	}
	return output.FooterBox.Render(strings.Join(lines, "\n"))
}

func failedStyle(n int) lipgloss.Style {
	if n > 0 {
		return output.ErrorStyle
	}
	return output.MutedStyle
}
