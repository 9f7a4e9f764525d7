package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/marquee/marquee/internal/analytics"
	"github.com/marquee/marquee/internal/quality"
)

// FileName is the run report written into the output directory.
const FileName = "run_report.json"

// RunReport summarizes one pipeline run.
type RunReport struct {
	Version     string               `json:"version"`
	RunID       string               `json:"run_id"`
	Status      string               `json:"status"`
	StartedAt   time.Time            `json:"started_at"`
	CompletedAt time.Time            `json:"completed_at"`
	Database    DatabaseSummary      `json:"database"`
	Stages      []StageSummary       `json:"stages"`
	Tables      map[string]int64     `json:"tables,omitempty"`
	Quality     *QualitySummary      `json:"quality,omitempty"`
	Artifacts   []analytics.Artifact `json:"artifacts,omitempty"`
	Published   []string             `json:"published,omitempty"`
	NextSteps   []string             `json:"next_steps,omitempty"`
}

// DatabaseSummary describes the warehouse database.
type DatabaseSummary struct {
	Driver   string `json:"driver"`
	Location string `json:"location"`
}

// StageSummary describes one stage execution.
type StageSummary struct {
	Name     string        `json:"name"`
	Status   string        `json:"status"`
	Attempts int           `json:"attempts"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// QualitySummary condenses the gate result.
type QualitySummary struct {
	Status   string   `json:"status"`
	Total    int      `json:"total"`
	Passed   int      `json:"passed"`
	Failed   int      `json:"failed"`
	Failures []string `json:"failures,omitempty"`
}

// New creates an empty report for runID.
func New(runID string, started time.Time, db DatabaseSummary) *RunReport {
	return &RunReport{
		Version:   "1",
		RunID:     runID,
		StartedAt: started,
		Database:  db,
		Tables:    make(map[string]int64),
	}
}

// AddStage appends a stage summary.
func (r *RunReport) AddStage(s StageSummary) {
	r.Stages = append(r.Stages, s)
}

// SetQuality records the gate outcome.
func (r *RunReport) SetQuality(s *quality.Summary) {
	if s == nil {
		return
	}
	q := &QualitySummary{Status: s.Status, Total: s.Total, Passed: s.Passed, Failed: s.Failed}
	for _, c := range s.Results {
		if !c.Passed {
			q.Failures = append(q.Failures, c.Name)
		}
	}
	r.Quality = q
}

// AddTables merges relation row counts into the report.
func (r *RunReport) AddTables(counts map[string]int64) {
	for k, v := range counts {
		r.Tables[k] = v
	}
}

// Finish sets the overall status and next steps.
func (r *RunReport) Finish(completed time.Time, runErr error) {
	r.CompletedAt = completed
	r.Status = "SUCCESS"
	r.NextSteps = nil

	if runErr != nil {
		r.Status = "FAILED"
		for _, s := range r.Stages {
			if s.Status == "failed" {
				r.NextSteps = append(r.NextSteps,
					fmt.Sprintf("Fix the %s stage (%s) and re-run `marquee run`", s.Name, s.Error))
			}
		}
		if len(r.NextSteps) == 0 {
			r.NextSteps = append(r.NextSteps, fmt.Sprintf("Investigate: %v", runErr))
		}
	}
	if r.Quality != nil && r.Quality.Failed > 0 {
		if r.Status == "SUCCESS" {
			r.Status = "SUCCESS_WITH_WARNINGS"
		}
		r.NextSteps = append(r.NextSteps,
			fmt.Sprintf("Review failed quality checks: %s", strings.Join(r.Quality.Failures, ", ")))
	}
}

// WriteJSON writes the report as JSON.
func WriteJSON(report *RunReport, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating report directory: %w", err)
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling report: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadJSON reads a report from a JSON file.
func ReadJSON(path string) (*RunReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading report: %w", err)
	}
	r := &RunReport{}
	if err := json.Unmarshal(data, r); err != nil {
		return nil, fmt.Errorf("parsing report: %w", err)
	}
	return r, nil
}

// FormatText renders the report as human-readable text.
func FormatText(report *RunReport) string {
	var b strings.Builder

	b.WriteString("=== Marquee Run Report ===\n")
	b.WriteString(fmt.Sprintf("Run:       %s\n", report.RunID))
	b.WriteString(fmt.Sprintf("Status:    %s\n", report.Status))
	b.WriteString(fmt.Sprintf("Started:   %s\n", report.StartedAt.Format(time.RFC3339)))
	if !report.CompletedAt.IsZero() {
		b.WriteString(fmt.Sprintf("Completed: %s (%s)\n",
			report.CompletedAt.Format(time.RFC3339), report.CompletedAt.Sub(report.StartedAt).Round(time.Second)))
	}
	b.WriteString(fmt.Sprintf("Database:  %s (%s)\n\n", report.Database.Location, report.Database.Driver))

	b.WriteString("Stages:\n")
	for _, s := range report.Stages {
		line := fmt.Sprintf("  %-10s %-9s attempts=%d %s", s.Name, s.Status, s.Attempts, s.Duration.Round(time.Millisecond))
		if s.Error != "" {
			line += "  error: " + s.Error
		}
		b.WriteString(line + "\n")
	}
	b.WriteString("\n")

	if len(report.Tables) > 0 {
		names := make([]string, 0, len(report.Tables))
		for name := range report.Tables {
			names = append(names, name)
		}
		sort.Strings(names)
		b.WriteString("Relations:\n")
		for _, name := range names {
			b.WriteString(fmt.Sprintf("  %-22s %d\n", name, report.Tables[name]))
		}
		b.WriteString("\n")
	}

	if report.Quality != nil {
		b.WriteString(fmt.Sprintf("Quality: %s (%d/%d passed)\n", report.Quality.Status, report.Quality.Passed, report.Quality.Total))
		for _, f := range report.Quality.Failures {
			b.WriteString(fmt.Sprintf("  [FAIL] %s\n", f))
		}
		b.WriteString("\n")
	}

	if len(report.Artifacts) > 0 {
		b.WriteString("Artifacts:\n")
		for _, a := range report.Artifacts {
			b.WriteString(fmt.Sprintf("  %s (%d rows)\n", a.Path, a.Rows))
		}
		b.WriteString("\n")
	}

	for _, p := range report.Published {
		b.WriteString(fmt.Sprintf("Published: %s\n", p))
	}

	if len(report.NextSteps) > 0 {
		b.WriteString("Next Steps:\n")
		for i, s := range report.NextSteps {
			b.WriteString(fmt.Sprintf("  %d. %s\n", i+1, s))
		}
	}

	return b.String()
}
