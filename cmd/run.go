package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marquee/marquee/internal/pipeline"
	"github.com/marquee/marquee/internal/report"
	"github.com/marquee/marquee/internal/state"
)

var runNoRetry bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the whole pipeline once",
	Long: `Run load, transform, quality, warehouse and analytics in order. A failing
stage is retried schedule.retries times, then the run stops and exits non-zero.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStages(cmd.Context(), state.Stages, printReport)
	},
}

func init() {
	runCmd.Flags().BoolVar(&runNoRetry, "no-retry", false, "do not retry failed stages")
	rootCmd.AddCommand(runCmd)
}

// runStages bootstraps the app and runs stages through the pipeline runner,
// then hands the result to print.
func runStages(parent context.Context, stages []state.Stage, print func(*pipeline.Result)) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signalContext(parent)
	defer cancel()

	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	if runNoRetry {
		a.cfg.Schedule.NoRetry = true
	}

	res, err := a.runner(ctx).RunStages(ctx, stages)
	if res != nil && print != nil {
		print(res)
	}
	return err
}

func printReport(res *pipeline.Result) {
	if res.Report == nil {
		return
	}
	fmt.Println()
	fmt.Println(titleStyle.Render("Marquee Run " + res.RunID))
	fmt.Printf("%s %s\n", labelStyle.Render("Status"), statusBadge(res.Report.Status))
	for _, s := range res.Report.Stages {
		line := fmt.Sprintf("%s %s", labelStyle.Render(s.Name), statusBadge(s.Status))
		if s.Attempts > 1 {
			line += dimStyle.Render(fmt.Sprintf("  (%d attempts)", s.Attempts))
		}
		fmt.Println(line)
	}
	fmt.Println()
	fmt.Print(dimStyle.Render(report.FormatText(res.Report)))
	fmt.Println()
}
