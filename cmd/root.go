package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marquee/marquee/internal/config"
	"github.com/marquee/marquee/internal/history"
	"github.com/marquee/marquee/internal/logging"
	"github.com/marquee/marquee/internal/metrics"
	"github.com/marquee/marquee/internal/metrics/prompush"
	"github.com/marquee/marquee/internal/pipeline"
	"github.com/marquee/marquee/internal/publish"
	"github.com/marquee/marquee/internal/store"
)

var (
	cfgFile  string
	logLevel string
	version  = "dev"
	commit   = "none"
	date     = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "marquee",
	Short: "Marquee: MovieLens batch ELT pipeline",
	Long: `Marquee loads the MovieLens movies and ratings files into a relational
database, cleans them, checks data quality, builds a star-schema warehouse and
writes analytic CSV extracts.

Run "marquee run" for the whole pipeline or one of the stage commands.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	rootCmd.Version = fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.marquee/marquee.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error); overrides the config file")
}

// app holds what every pipeline command needs.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   store.Store
	history history.Recorder
	closers []io.Closer
}

// bootstrap loads config, sets up logging and metrics, and connects to the
// database.
func bootstrap(ctx context.Context) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	logger, closer, err := logging.Setup(cfg.Logging.Level, cfg.Logging.Directory)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, closers: []io.Closer{closer}}

	if cfg.Metrics.Backend == "pushgateway" {
		b, err := prompush.NewBackend(cfg.Metrics.Job, cfg.Metrics.PushgatewayURL)
		if err != nil {
			a.Close()
			return nil, err
		}
		metrics.SetBackend(b)
	}

	s, err := store.Open(ctx, cfg.Database)
	if err != nil {
		logger.Error("connecting to database failed", "driver", cfg.Database.Driver, "error", err)
		a.Close()
		return nil, err
	}
	a.store = s

	if cfg.History.MongoURI != "" {
		rec, err := history.NewMongoRecorder(ctx, cfg.History.MongoURI, cfg.History.Database, cfg.History.Collection)
		if err != nil {
			logger.Warn("run history disabled", "error", err)
		} else {
			a.history = rec
		}
	}
	return a, nil
}

// newPublishClient builds the S3 client used for artifact publishing.
var newPublishClient = func(ctx context.Context, profile, region string) (publish.Client, error) {
	return publish.NewS3Client(ctx, profile, region)
}

// runner builds a pipeline runner with the optional publisher and history.
// A publisher that cannot be set up is skipped with a warning.
func (a *app) runner(ctx context.Context) *pipeline.Runner {
	r := pipeline.New(a.cfg, a.store, a.logger)
	r.History = a.history

	if a.cfg.Publish.S3Bucket != "" {
		client, err := newPublishClient(ctx, a.cfg.Publish.Profile, a.cfg.Publish.Region)
		if err != nil {
			a.logger.Warn("artifact publishing disabled", "bucket", a.cfg.Publish.S3Bucket, "error", err)
		} else {
			r.Publisher = publish.New(client, a.cfg.Publish.S3Bucket, a.cfg.Publish.S3Prefix, a.logger)
		}
	}
	return r
}

// Close releases the database, history and log file.
func (a *app) Close() {
	if a.store != nil {
		a.store.Close()
	}
	if a.history != nil {
		a.history.Close(context.Background())
	}
	for _, c := range a.closers {
		c.Close()
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
