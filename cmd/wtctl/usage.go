package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/codeinterfacex/core/internal/config"
	"github.com/codeinterfacex/core/internal/usageindex"
)

// usageCmd groups the usage index's operator-facing operations: a manual
// sync and tabular stats, in the teacher's tabwriter style (cmd/wt/main.go's
// timelineCmd).
func usageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Sync and inspect the usage index",
	}
	cmd.AddCommand(usageSyncCmd(), usageStatsCmd())
	return cmd
}

func usageSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Index any new or changed transcript files",
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := openUsageIndexer()
			if err != nil {
				return err
			}
			defer idx.Close()

			if !idx.TryStart() {
				return fmt.Errorf("a sync is already in progress")
			}
			outcome, err := idx.Sync()
			if err != nil {
				return fmt.Errorf("sync usage index: %w", err)
			}

			fmt.Printf("files: %d/%d processed, %d lines, %d entries indexed, %d ignored, %d parse errors\n",
				outcome.FilesProcessed, outcome.FilesTotal, outcome.LinesProcessed,
				outcome.EntriesIndexed, outcome.EntriesIgnored, outcome.ParseErrors)
			if outcome.Cancelled {
				fmt.Println("sync was cancelled before completion")
			}
			return nil
		},
	}
}

func usageStatsCmd() *cobra.Command {
	var startDate, endDate string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show aggregate cost and token usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := openUsageIndexer()
			if err != nil {
				return err
			}
			defer idx.Close()

			stats, err := idx.Stats(startDate, endDate)
			if err != nil {
				return fmt.Errorf("query usage stats: %w", err)
			}

			fmt.Printf("total: %s tokens, $%.2f across %d sessions\n",
				humanize.Comma(stats.TotalTokens), stats.TotalCost, stats.TotalSessions)

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "MODEL\tTOKENS\tCOST\tSESSIONS")
			for _, m := range stats.ByModel {
				fmt.Fprintf(w, "%s\t%s\t$%.2f\t%d\n", m.Model, humanize.Comma(m.TotalTokens), m.TotalCost, m.SessionCount)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&startDate, "since", "", "Start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&endDate, "until", "", "End date (YYYY-MM-DD)")
	return cmd
}

// openUsageIndexer resolves the usage index's database path and transcripts
// root independently of the agent store, since the two databases serve
// unrelated concerns (spec §4.6 vs §4.4).
func openUsageIndexer() (*usageindex.Indexer, error) {
	userDir, err := config.GetUserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("resolve user config dir: %w", err)
	}
	projectDir, err := config.GetProjectDir()
	if err != nil {
		return nil, fmt.Errorf("resolve project dir: %w", err)
	}

	mgr := config.NewManager()
	if err := mgr.Load(userDir, projectDir); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg := mgr.Get()

	dbPath := cfg.UsageDBPath
	if dbPath == "" {
		dbPath = filepath.Join(userDir, "usage_index.sqlite")
	}

	transcriptsRoot := cfg.UsageTranscriptsRoot
	if transcriptsRoot == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		transcriptsRoot = filepath.Join(home, ".claude", "projects")
	}

	return usageindex.Open(dbPath, transcriptsRoot)
}
