package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marquee/marquee/internal/pipeline"
	"github.com/marquee/marquee/internal/quality"
	"github.com/marquee/marquee/internal/state"
)

var qualityCmd = &cobra.Command{
	Use:   "quality",
	Short: "Run the data quality checks against the cleaned relations",
	Long: `Run every quality check and write quality_report.json to the output
directory. In enforce mode any failed check makes the command exit non-zero.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStages(cmd.Context(), []state.Stage{state.StageQuality}, func(res *pipeline.Result) {
			printQuality(res.Quality)
		})
	},
}

func init() {
	rootCmd.AddCommand(qualityCmd)
}

func printQuality(s *quality.Summary) {
	if s == nil {
		return
	}
	fmt.Println()
	fmt.Println(titleStyle.Render("Data Quality"))
	for _, r := range s.Results {
		badge := passStyle.Render("PASS")
		if !r.Passed {
			badge = failStyle.Render("FAIL")
		}
		value := "null"
		if r.Value != nil {
			value = fmt.Sprintf("%g", *r.Value)
		}
		line := fmt.Sprintf("  [%s] %-32s %s", badge, r.Name, dimStyle.Render(value))
		if r.Error != "" {
			line += "  " + warnStyle.Render(r.Error)
		}
		fmt.Println(line)
	}
	fmt.Printf("\n%s %d/%d passed\n", statusBadge(s.Status), s.Passed, s.Total)
}
