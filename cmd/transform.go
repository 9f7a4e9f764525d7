package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marquee/marquee/internal/pipeline"
	"github.com/marquee/marquee/internal/state"
	"github.com/marquee/marquee/internal/transform"
)

var transformCmd = &cobra.Command{
	Use:   "transform",
	Short: "Clean staging data into cleaned_movies and cleaned_ratings",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStages(cmd.Context(), []state.Stage{state.StageTransform}, func(res *pipeline.Result) {
			if res.Transform == nil {
				return
			}
			for _, p := range res.Transform.Profiles {
				fmt.Printf("%s rows=%d duplicate_keys=%d\n", labelStyle.Render(p.Table), p.Rows, p.DuplicateKeys)
			}
			fmt.Printf("%s %d rows\n", labelStyle.Render(transform.CleanedMovies), res.Transform.Movies)
			fmt.Printf("%s %d rows\n", labelStyle.Render(transform.CleanedRatings), res.Transform.Ratings)
		})
	},
}

func init() {
	rootCmd.AddCommand(transformCmd)
}
