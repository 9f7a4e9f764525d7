package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marquee/marquee/internal/config"
	"github.com/marquee/marquee/internal/history"
	"github.com/marquee/marquee/internal/store"
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check connectivity to the database and optional history store",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		s, err := store.Open(ctx, cfg.Database)
		if err != nil {
			fmt.Printf("%s %s\n", labelStyle.Render("database"), failStyle.Render("FAIL"))
			return err
		}
		defer s.Close()
		if err := s.Ping(ctx); err != nil {
			fmt.Printf("%s %s\n", labelStyle.Render("database"), failStyle.Render("FAIL"))
			return err
		}
		fmt.Printf("%s %s %s\n", labelStyle.Render("database"), statusBadge("OK"), dimStyle.Render(s.Dialect().Name()))

		if cfg.History.MongoURI != "" {
			rec, err := history.NewMongoRecorder(ctx, cfg.History.MongoURI, cfg.History.Database, cfg.History.Collection)
			if err != nil {
				fmt.Printf("%s %s\n", labelStyle.Render("history"), failStyle.Render("FAIL"))
				return err
			}
			rec.Close(ctx)
			fmt.Printf("%s %s\n", labelStyle.Render("history"), statusBadge("OK"))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pingCmd)
}
