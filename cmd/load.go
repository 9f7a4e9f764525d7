package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marquee/marquee/internal/pipeline"
	"github.com/marquee/marquee/internal/state"
)

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load the movies and ratings files into staging relations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStages(cmd.Context(), []state.Stage{state.StageLoad}, func(res *pipeline.Result) {
			for _, l := range res.Loaded {
				fmt.Printf("%s %d rows\n", labelStyle.Render(l.Table), l.Rows)
			}
		})
	},
}

func init() {
	rootCmd.AddCommand(loadCmd)
}
