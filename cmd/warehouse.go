package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marquee/marquee/internal/pipeline"
	"github.com/marquee/marquee/internal/state"
	"github.com/marquee/marquee/internal/warehouse"
)

var warehousePlanOut string

var warehouseCmd = &cobra.Command{
	Use:   "warehouse",
	Short: "Build the star-schema warehouse from the cleaned relations",
	RunE: func(cmd *cobra.Command, args []string) error {
		if warehousePlanOut != "" {
			if err := warehouse.Plan.WriteYAML(warehousePlanOut); err != nil {
				return err
			}
			fmt.Printf("%s %s\n", labelStyle.Render("index plan"), warehousePlanOut)
		}
		return runStages(cmd.Context(), []state.Stage{state.StageWarehouse}, func(res *pipeline.Result) {
			if res.Warehouse == nil {
				return
			}
			for _, t := range warehouse.Tables {
				fmt.Printf("%s %d rows\n", labelStyle.Render(t), res.Warehouse.Counts[t])
			}
			fmt.Printf("%s %s\n", labelStyle.Render("genres"), strings.Join(res.Warehouse.Genres, ", "))
		})
	},
}

func init() {
	warehouseCmd.Flags().StringVar(&warehousePlanOut, "plan-out", "", "also write the warehouse index plan as YAML to this path")
	rootCmd.AddCommand(warehouseCmd)
}
