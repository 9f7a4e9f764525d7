// Package schedule triggers a job once a day at a fixed local wall-clock time.
package schedule

import (
	"context"
	"log/slog"
	"time"
)

// NextRun returns the first instant strictly after now at hour:minute in
// now's location.
func NextRun(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = time.Date(now.Year(), now.Month(), now.Day()+1, hour, minute, 0, 0, now.Location())
	}
	return next
}

// Job is the unit of work run on every tick.
type Job func(ctx context.Context) error

// Daily runs a Job once a day.
type Daily struct {
	Hour   int
	Minute int
	Logger *slog.Logger

	now   func() time.Time
	after func(time.Duration) <-chan time.Time
}

// NewDaily creates a Daily trigger at hour:minute local time.
func NewDaily(hour, minute int, logger *slog.Logger) *Daily {
	if logger == nil {
		logger = slog.Default()
	}
	return &Daily{
		Hour:   hour,
		Minute: minute,
		Logger: logger,
		now:    time.Now,
		after:  time.After,
	}
}

// Run waits for each trigger time and invokes job. A failing job is logged
// and the schedule continues. Run returns when ctx is done.
func (d *Daily) Run(ctx context.Context, job Job) error {
	log := d.Logger.With("component", "schedule")
	for {
		if err := ctx.Err(); err != nil {
			log.Info("scheduler stopped")
			return err
		}
		next := NextRun(d.now(), d.Hour, d.Minute)
		log.Info("next run scheduled", "at", next.Format(time.RFC3339))

		select {
		case <-ctx.Done():
			log.Info("scheduler stopped")
			return ctx.Err()
		case <-d.after(next.Sub(d.now())):
		}

		start := d.now()
		if err := job(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Error("scheduled run failed", "error", err, "duration", d.now().Sub(start).Round(time.Second))
			continue
		}
		log.Info("scheduled run complete", "duration", d.now().Sub(start).Round(time.Second))
	}
}
