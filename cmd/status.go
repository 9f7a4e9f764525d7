package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/marquee/marquee/internal/config"
	"github.com/marquee/marquee/internal/history"
	"github.com/marquee/marquee/internal/lock"
	"github.com/marquee/marquee/internal/state"
	"github.com/marquee/marquee/internal/store"
	"github.com/marquee/marquee/internal/warehouse"
)

var (
	statusCounts  bool
	statusHistory int
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of the last run",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		st, err := state.Load(cfg.Paths.StateFile)
		if err != nil {
			return fmt.Errorf("loading state: %w", err)
		}

		fmt.Println(titleStyle.Render("Marquee Status"))
		if held, pid, _ := lock.IsHeld(cfg.Paths.LockFile); held {
			fmt.Println(warnStyle.Render(fmt.Sprintf("A run is in progress (PID %d)", pid)))
		}

		if st.RunID == "" {
			fmt.Println(dimStyle.Render("No run recorded yet."))
		} else {
			fmt.Printf("%s %s\n", labelStyle.Render("Last run"), st.RunID)
			fmt.Printf("%s %s\n", labelStyle.Render("Status"), statusBadge(st.Status))
			if !st.CompletedAt.IsZero() {
				fmt.Printf("%s %s\n", labelStyle.Render("Finished"), st.CompletedAt.Local().Format(time.RFC1123))
			}
			fmt.Println()
			for _, stage := range state.Stages {
				ss := st.Stages[stage]
				if ss == nil {
					fmt.Printf("  %s %s\n", labelStyle.Render(string(stage)), statusBadge(state.StatusPending))
					continue
				}
				line := fmt.Sprintf("  %s %s", labelStyle.Render(string(stage)), statusBadge(ss.Status))
				if ss.Attempts > 1 {
					line += dimStyle.Render(fmt.Sprintf("  attempts=%d", ss.Attempts))
				}
				if ss.Error != "" {
					line += "  " + failStyle.Render(ss.Error)
				}
				fmt.Println(line)
			}
			if st.ReportPath != "" {
				fmt.Printf("\n%s %s\n", labelStyle.Render("Report"), st.ReportPath)
			}
		}

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		if statusCounts {
			if err := printCounts(ctx, cfg); err != nil {
				return err
			}
		}
		if statusHistory > 0 && cfg.History.MongoURI != "" {
			if err := printHistory(ctx, cfg, statusHistory); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusCounts, "counts", false, "connect to the database and show warehouse row counts")
	statusCmd.Flags().IntVar(&statusHistory, "history", 0, "show the last N runs from the run history")
	rootCmd.AddCommand(statusCmd)
}

func printCounts(ctx context.Context, cfg *config.Config) error {
	s, err := store.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer s.Close()

	counts, err := warehouse.Counts(ctx, s)
	if err != nil {
		return fmt.Errorf("warehouse not built: %w", err)
	}
	fmt.Println()
	for _, t := range warehouse.Tables {
		fmt.Printf("  %s %d\n", labelStyle.Render(t), counts[t])
	}
	return nil
}

func printHistory(ctx context.Context, cfg *config.Config, n int) error {
	rec, err := history.NewMongoRecorder(ctx, cfg.History.MongoURI, cfg.History.Database, cfg.History.Collection)
	if err != nil {
		return err
	}
	defer rec.Close(ctx)

	entries, err := rec.Recent(ctx, n)
	if err != nil {
		return err
	}
	fmt.Println()
	fmt.Println(titleStyle.Render("Recent Runs"))
	for _, e := range entries {
		fmt.Printf("  %s %s %s\n", e.RunID, statusBadge(e.Status),
			dimStyle.Render(fmt.Sprintf("%.0fs", e.Seconds)))
	}
	return nil
}
