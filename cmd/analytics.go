package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marquee/marquee/internal/pipeline"
	"github.com/marquee/marquee/internal/state"
)

var analyticsCmd = &cobra.Command{
	Use:   "analytics",
	Short: "Write the analytic CSV extracts from the warehouse",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStages(cmd.Context(), []state.Stage{state.StageAnalytics}, func(res *pipeline.Result) {
			for _, a := range res.Artifacts {
				fmt.Printf("%-36s %3d rows  %s\n", a.Name, a.Rows, dimStyle.Render(a.Path))
			}
			for _, uri := range res.Published {
				fmt.Printf("published %s\n", uri)
			}
		})
	},
}

func init() {
	rootCmd.AddCommand(analyticsCmd)
}
