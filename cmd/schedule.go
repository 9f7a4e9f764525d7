package cmd

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/marquee/marquee/internal/config"
	"github.com/marquee/marquee/internal/schedule"
	"github.com/marquee/marquee/internal/state"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the pipeline every day at schedule.daily_at",
	Long: `Stay in the foreground and run the whole pipeline once a day at the
configured local time. A failed run is logged and the next day's run still
happens. Stop with Ctrl-C or SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext(cmd.Context())
		defer cancel()

		a, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		hour, minute, err := config.ParseClock(a.cfg.Schedule.DailyAt)
		if err != nil {
			return err
		}
		r := a.runner(ctx)

		daily := schedule.NewDaily(hour, minute, a.logger)
		err = daily.Run(ctx, func(ctx context.Context) error {
			_, err := r.RunStages(ctx, state.Stages)
			return err
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(scheduleCmd)
}
