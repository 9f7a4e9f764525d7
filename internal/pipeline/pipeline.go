// Package pipeline sequences the stages of a run: load, transform, quality,
// warehouse and analytics. Each stage is retried a bounded number of times
// and the first stage that still fails ends the run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/marquee/marquee/internal/analytics"
	"github.com/marquee/marquee/internal/config"
	"github.com/marquee/marquee/internal/history"
	"github.com/marquee/marquee/internal/loader"
	"github.com/marquee/marquee/internal/lock"
	"github.com/marquee/marquee/internal/metrics"
	"github.com/marquee/marquee/internal/publish"
	"github.com/marquee/marquee/internal/quality"
	"github.com/marquee/marquee/internal/report"
	"github.com/marquee/marquee/internal/state"
	"github.com/marquee/marquee/internal/store"
	"github.com/marquee/marquee/internal/transform"
	"github.com/marquee/marquee/internal/warehouse"
)

// Result collects the outputs of every stage that ran.
type Result struct {
	RunID     string
	Loaded    []loader.Result
	Transform *transform.Result
	Quality   *quality.Summary
	Warehouse *warehouse.Result
	Artifacts []analytics.Artifact
	Published []string
	Report    *report.RunReport
}

// Runner executes pipeline stages against one store.
type Runner struct {
	Config    *config.Config
	Store     store.Store
	Logger    *slog.Logger
	Publisher *publish.Publisher // optional
	History   history.Recorder   // optional

	// Callback is invoked after every stage attempt.
	Callback func(stage state.Stage, attempt int, err error)

	now  func() time.Time
	exec func(ctx context.Context, stage state.Stage, res *Result) error
}

// New creates a Runner.
func New(cfg *config.Config, s store.Store, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runner{Config: cfg, Store: s, Logger: logger, now: time.Now}
	r.exec = r.execute
	return r
}

// Run executes every stage in order.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	return r.RunStages(ctx, state.Stages)
}

// RunStages executes the given stages in pipeline order under the run lock,
// then writes the run report and state, records history, and flushes metrics.
func (r *Runner) RunStages(ctx context.Context, stages []state.Stage) (*Result, error) {
	if err := lock.Acquire(r.Config.Paths.LockFile); err != nil {
		return nil, err
	}
	defer func() {
		if err := lock.Release(r.Config.Paths.LockFile); err != nil {
			r.Logger.Warn("releasing lock failed", "error", err)
		}
	}()

	start := r.now()
	runID := start.UTC().Format("20060102T150405Z")
	log := r.Logger.With("run_id", runID)
	res := &Result{RunID: runID}

	st, err := r.initialState(runID, stages, log)
	if err != nil {
		return nil, err
	}
	st.StartedAt = start.UTC()

	rep := report.New(runID, start.UTC(), report.DatabaseSummary{
		Driver:   r.Config.Database.Driver,
		Location: location(r.Config.Database),
	})
	res.Report = rep

	log.Info("run started", "stages", stages, "driver", r.Config.Database.Driver)

	var runErr error
	for _, stage := range ordered(stages) {
		if runErr != nil {
			st.SkipStage(stage)
			rep.AddStage(report.StageSummary{Name: string(stage), Status: state.StatusSkipped})
			continue
		}
		runErr = r.runStage(ctx, stage, st, rep, res, log)
	}

	r.collect(res, rep)

	if runErr == nil && r.Publisher != nil && len(res.Artifacts) > 0 {
		uris, err := r.Publisher.Publish(ctx, start, r.publishFiles(res))
		res.Published = uris
		rep.Published = uris
		if err != nil {
			log.Warn("publishing artifacts failed", "error", err)
		}
	}

	rep.Finish(r.now().UTC(), runErr)
	reportPath := filepath.Join(r.Config.Paths.OutputDir, report.FileName)
	if err := report.WriteJSON(rep, reportPath); err != nil {
		log.Warn("writing run report failed", "error", err)
	} else {
		st.ReportPath = reportPath
	}

	st.Finish(runErr)
	if err := st.Save(r.Config.Paths.StateFile); err != nil {
		log.Warn("saving state failed", "error", err)
	}

	if r.History != nil {
		if err := r.History.Record(ctx, history.FromReport(rep)); err != nil {
			log.Warn("recording run history failed", "error", err)
		}
	}
	if err := metrics.Flush(); err != nil {
		log.Warn("flushing metrics failed", "error", err)
	}

	duration := r.now().Sub(start).Round(time.Millisecond)
	if runErr != nil {
		log.Error("run failed", "status", rep.Status, "duration", duration, "error", runErr)
		return res, runErr
	}
	log.Info("run complete", "status", rep.Status, "duration", duration)
	return res, nil
}

// initialState starts from a fresh state for a full run. A partial run keeps
// the recorded status of the other stages and warns about incomplete
// upstream stages.
func (r *Runner) initialState(runID string, stages []state.Stage, log *slog.Logger) (*state.State, error) {
	if len(stages) == len(state.Stages) {
		return state.New(runID), nil
	}
	st, err := state.Load(r.Config.Paths.StateFile)
	if err != nil {
		return nil, err
	}
	st.RunID = runID
	st.CompletedAt = time.Time{}

	first := ordered(stages)
	if len(first) == 0 {
		return st, nil
	}
	for _, up := range state.Stages {
		if up == first[0] {
			break
		}
		if !st.IsStageComplete(up) {
			log.Warn("upstream stage has not completed", "stage", first[0], "upstream", up)
		}
	}
	return st, nil
}

func (r *Runner) runStage(ctx context.Context, stage state.Stage, st *state.State, rep *report.RunReport, res *Result, log *slog.Logger) error {
	log = log.With("stage", string(stage))
	started := r.now()
	attempts := 0

	op := func() error {
		attempts++
		st.StartStage(stage)
		if err := st.Save(r.Config.Paths.StateFile); err != nil {
			log.Warn("saving state failed", "error", err)
		}

		t0 := r.now()
		err := r.exec(ctx, stage, res)
		metrics.RecordStage(string(stage), err, r.now().Sub(t0))
		if r.Callback != nil {
			r.Callback(stage, attempts, err)
		}
		if err != nil && permanent(ctx, err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		log.Warn("stage failed, retrying", "attempt", attempts, "retry_in", wait, "error", err)
	}

	err := backoff.RetryNotify(op, r.retryPolicy(ctx), notify)
	summary := report.StageSummary{
		Name:     string(stage),
		Attempts: attempts,
		Duration: r.now().Sub(started),
	}
	if err != nil {
		st.FailStage(stage, err)
		summary.Status = state.StatusFailed
		summary.Error = err.Error()
		rep.AddStage(summary)
		log.Error("stage failed", "attempts", attempts, "error", err)
		return fmt.Errorf("%s stage: %w", stage, err)
	}

	st.CompleteStage(stage)
	if err := st.Save(r.Config.Paths.StateFile); err != nil {
		log.Warn("saving state failed", "error", err)
	}
	summary.Status = state.StatusComplete
	rep.AddStage(summary)
	log.Info("stage complete", "attempts", attempts, "duration", summary.Duration.Round(time.Millisecond))
	return nil
}

func (r *Runner) retryPolicy(ctx context.Context) backoff.BackOff {
	retries := r.Config.Schedule.Retries
	if r.Config.Schedule.NoRetry || retries < 0 {
		retries = 0
	}
	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(r.Config.Schedule.RetryDelay), uint64(retries))
	return backoff.WithContext(b, ctx)
}

// permanent reports errors that a retry cannot fix.
func permanent(ctx context.Context, err error) bool {
	return ctx.Err() != nil ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, quality.ErrGateFailed) ||
		errors.Is(err, loader.ErrMalformed) ||
		errors.Is(err, fs.ErrNotExist)
}

func (r *Runner) execute(ctx context.Context, stage state.Stage, res *Result) error {
	cfg := r.Config
	switch stage {
	case state.StageLoad:
		loaded, err := loader.New(r.Store, cfg.Loader.ChunkSize, r.Logger).
			LoadAll(ctx, cfg.Paths.MoviesFile, cfg.Paths.RatingsFile)
		if err != nil {
			return err
		}
		res.Loaded = loaded
	case state.StageTransform:
		out, err := transform.New(r.Store, r.Logger).Run(ctx)
		if err != nil {
			return err
		}
		res.Transform = out
	case state.StageQuality:
		summary, err := quality.New(r.Store, cfg.Quality, cfg.Paths.OutputDir, r.Logger).Run(ctx)
		if err != nil {
			return err
		}
		res.Quality = summary
		return quality.Enforce(summary, cfg.Quality.Mode)
	case state.StageWarehouse:
		out, err := warehouse.New(r.Store, r.Logger).Build(ctx)
		if err != nil {
			return err
		}
		res.Warehouse = out
	case state.StageAnalytics:
		artifacts, err := analytics.New(r.Store, cfg.Analytics, cfg.Paths.OutputDir, r.Logger).Run(ctx)
		if err != nil {
			return err
		}
		res.Artifacts = artifacts
	default:
		return fmt.Errorf("unknown stage %q", stage)
	}
	return nil
}

// collect copies stage outputs into the report.
func (r *Runner) collect(res *Result, rep *report.RunReport) {
	for _, l := range res.Loaded {
		rep.Tables[l.Table] = l.Rows
	}
	if res.Transform != nil {
		rep.Tables[transform.CleanedMovies] = res.Transform.Movies
		rep.Tables[transform.CleanedRatings] = res.Transform.Ratings
	}
	rep.SetQuality(res.Quality)
	if res.Warehouse != nil {
		rep.AddTables(res.Warehouse.Counts)
	}
	rep.Artifacts = res.Artifacts
}

func (r *Runner) publishFiles(res *Result) []string {
	files := make([]string, 0, len(res.Artifacts)+1)
	for _, a := range res.Artifacts {
		files = append(files, a.Path)
	}
	qr := filepath.Join(r.Config.Paths.OutputDir, quality.ReportFile)
	if _, err := os.Stat(qr); err == nil {
		files = append(files, qr)
	}
	return files
}

// ordered returns the requested stages in pipeline order without duplicates.
func ordered(stages []state.Stage) []state.Stage {
	want := make(map[state.Stage]bool, len(stages))
	for _, s := range stages {
		want[s] = true
	}
	out := make([]state.Stage, 0, len(stages))
	for _, s := range state.Stages {
		if want[s] {
			out = append(out, s)
		}
	}
	return out
}

func location(d config.DatabaseConfig) string {
	if d.Driver == "sqlite" {
		return d.DSN
	}
	if d.DSN != "" {
		return "dsn"
	}
	return fmt.Sprintf("%s:%d/%s", d.Host, d.Port, d.Database)
}
