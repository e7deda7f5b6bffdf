package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/jamesainslie/ramen/pkg/ramen/output"
	"github.com/jamesainslie/ramen/pkg/ramen/store"
	"github.com/spf13/cobra"
)

var hostsCmd = &cobra.Command{
	Use:   "hosts",
	Short: "List crawled hosts",
	Long:  `List every host in the store with its products, entry counts and last commit.`,
	Args:  cobra.NoArgs,
	RunE:  runHosts,
}

func init() {
	rootCmd.AddCommand(hostsCmd)
}

func runHosts(_ *cobra.Command, _ []string) error {
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	hosts, err := st.Hosts()
	if err != nil {
		return err
	}
	if len(hosts) == 0 {
		printInfo("No hosts crawled yet.")
		printInfo("Run 'ramen scan <targets-file>' to start.")
		return nil
	}

	for _, host := range hosts {
		fmt.Println(output.TitleStyle.Render(host))
		subtrees, err := st.Subtrees(host)
		if err != nil {
			return err
		}
		for _, info := range subtrees {
			n, err := st.Count(host, info.Product)
			if err != nil {
				return err
			}
			committed := "never"
			if !info.LastCommit.IsZero() {
				committed = humanize.Time(info.LastCommit)
			}
			fmt.Printf("  %-12s %s  %s\n",
				info.Product,
				output.ValueStyle.Render(fmt.Sprintf("%10s entries", humanize.Comma(int64(n)))),
				output.MutedStyle.Render("committed "+committed))
		}
	}
	return nil
}
