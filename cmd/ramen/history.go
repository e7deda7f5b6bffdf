package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jamesainslie/ramen/pkg/ramen/manifest"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show crawl run history",
	Long: `Show the history of crawl runs.

Each run records the targets it processed, their final state and the
number of folders and files scanned.`,
	Args: cobra.NoArgs,
	RunE: runHistoryList,
}

var historyShowCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Show details of a run",
	Long:  `Show one run in detail. A unique prefix of the run id is accepted.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var historyCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove old run records",
	Long:  `Remove run records older than the configured retention period.`,
	Args:  cobra.NoArgs,
	RunE:  runHistoryClean,
}

var historyLimit int

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "l", 20, "maximum number of runs to show")
	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyCleanCmd)
	rootCmd.AddCommand(historyCmd)
}

func openManifest() (*manifest.Manifest, error) {
	m, err := manifest.New(cfg.Manifest.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize manifest: %w", err)
	}
	return m, nil
}

func runHistoryList(_ *cobra.Command, _ []string) error {
	m, err := openManifest()
	if err != nil {
		return err
	}

	entries, err := m.List(historyLimit)
	if err != nil {
		return fmt.Errorf("failed to list history: %w", err)
	}
	if len(entries) == 0 {
		printInfo("No crawl runs recorded.")
		return nil
	}

	fmt.Printf("%-8s  %-19s  %-9s  %7s  %5s  %6s  %10s  %s\n",
		"ID", "STARTED", "STATUS", "TARGETS", "DONE", "FAILED", "FILES", "DURATION")
	fmt.Println(strings.Repeat("-", 86))
	for _, e := range entries {
		fmt.Printf("%-8s  %-19s  %-9s  %7d  %5d  %6d  %10s  %s\n",
			truncateString(e.ID, 8),
			e.StartedAt.Local().Format("2006-01-02 15:04:05"),
			e.Status,
			e.Summary.Targets,
			e.Summary.Done,
			e.Summary.Failed,
			humanize.Comma(int64(e.Summary.Files)),
			e.Duration().Round(time.Millisecond))
	}
	return nil
}

func runHistoryShow(_ *cobra.Command, args []string) error {
	m, err := openManifest()
	if err != nil {
		return err
	}

	e, err := m.Get(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("ID:        %s\n", e.ID)
	fmt.Printf("Started:   %s\n", e.StartedAt.Local().Format("2006-01-02 15:04:05 MST"))
	fmt.Printf("Duration:  %s\n", e.Duration().Round(time.Millisecond))
	fmt.Printf("Status:    %s\n", e.Status)
	fmt.Printf("Store:     %s\n", e.StorePath)
	fmt.Printf("Workers:   %d\n", e.Workers)
	fmt.Printf("Folders:   %s\n", humanize.Comma(int64(e.Summary.Folders)))
	fmt.Printf("Files:     %s\n", humanize.Comma(int64(e.Summary.Files)))
	if e.Error != "" {
		fmt.Printf("Error:     %s\n", e.Error)
	}

	if len(e.Targets) > 0 {
		fmt.Println("\nTargets:")
		fmt.Println(strings.Repeat("-", 72))
		fmt.Printf("%-32s  %-9s  %8s  %8s  %6s\n", "TARGET", "STATE", "FOLDERS", "FILES", "ERRORS")
		fmt.Println(strings.Repeat("-", 72))
		for _, t := range e.Targets {
			fmt.Printf("%-32s  %-9s  %8d  %8d  %6d\n",
				truncateString(t.Target, 32), t.State, t.Folders, t.Files, t.Errors)
			if t.Error != "" {
				fmt.Printf("    %s\n", t.Error)
			}
		}
	}
	return nil
}

func runHistoryClean(_ *cobra.Command, _ []string) error {
	m, err := openManifest()
	if err != nil {
		return err
	}

	days := cfg.Manifest.RetentionDays
	printInfo("Cleaning run records older than %d days...", days)

	n, err := m.Cleanup(time.Duration(days) * 24 * time.Hour)
	if err != nil {
		return fmt.Errorf("failed to clean history: %w", err)
	}
	printInfo("Removed %d run records.", n)
	return nil
}

// truncateString truncates a string to maxLen, adding "..." if truncated.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
