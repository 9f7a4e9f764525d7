// Package quality runs the assertion battery over the cleaned relations and
// reports the outcome of every check.
package quality

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/marquee/marquee/internal/config"
	"github.com/marquee/marquee/internal/metrics"
	"github.com/marquee/marquee/internal/store"
)

const (
	ModeObserve = "observe"
	ModeEnforce = "enforce"

	ReportFile = "quality_report.json"
)

// ErrGateFailed is returned in enforce mode when any check fails.
var ErrGateFailed = errors.New("quality gate failed")

// CheckResult is the outcome of one check.
type CheckResult struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Value       *float64 `json:"value"`
	Passed      bool     `json:"passed"`
	Error       string   `json:"error,omitempty"`
}

// Summary aggregates a battery run.
type Summary struct {
	Status      string        `json:"status"` // PASS, FAIL, PARTIAL
	Total       int           `json:"total"`
	Passed      int           `json:"passed"`
	Failed      int           `json:"failed"`
	AllPassed   bool          `json:"all_passed"`
	Results     []CheckResult `json:"results"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
}

// Gate runs the battery against a store.
type Gate struct {
	Store     store.Store
	Config    config.QualityConfig
	OutputDir string
	Logger    *slog.Logger
	Callback  func(r CheckResult)
}

// New creates a Gate. When outputDir is empty no report file is written.
func New(s store.Store, cfg config.QualityConfig, outputDir string, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{Store: s, Config: cfg, OutputDir: outputDir, Logger: logger}
}

// Run executes every check in order. A check whose query fails is recorded as
// failed and the battery continues; only context cancellation aborts the run.
// Failed checks are not an error here; see Enforce.
func (g *Gate) Run(ctx context.Context) (*Summary, error) {
	log := g.Logger.With("stage", "quality")
	summary := &Summary{StartedAt: time.Now()}

	for _, c := range Battery(g.Config, g.Store.Dialect()) {
		r := g.run(ctx, c)
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("quality gate interrupted at %s: %w", c.Name, err)
		}

		summary.Results = append(summary.Results, r)
		if r.Passed {
			summary.Passed++
			log.Info("check passed", "check", r.Name, "value", formatValue(r.Value))
		} else {
			summary.Failed++
			log.Warn("check failed", "check", r.Name, "description", r.Description,
				"value", formatValue(r.Value), "error", r.Error)
		}
		if g.Callback != nil {
			g.Callback(r)
		}
	}

	summary.Total = len(summary.Results)
	summary.AllPassed = summary.Failed == 0
	summary.Status = computeOverallStatus(summary.Results)
	summary.CompletedAt = time.Now()
	metrics.SetQualityFailures(summary.Failed)

	log.Info("quality summary", "status", summary.Status, "total", summary.Total,
		"passed", summary.Passed, "failed", summary.Failed)

	if g.OutputDir != "" {
		path := filepath.Join(g.OutputDir, ReportFile)
		if err := WriteJSON(summary, path); err != nil {
			log.Error("writing quality report failed", "path", path, "error", err)
			return summary, err
		}
		log.Info("quality report written", "path", path)
	}
	return summary, nil
}

func (g *Gate) run(ctx context.Context, c Check) CheckResult {
	r := CheckResult{Name: c.Name, Description: c.Description}
	v, err := store.QueryScalar(ctx, g.Store, c.Query)
	if err != nil {
		r.Error = err.Error()
		return r
	}
	f, ok := store.Float(v)
	if !ok {
		r.Error = "query returned no value"
		return r
	}
	r.Value = &f
	r.Passed = c.Pass(f)
	return r
}

// Enforce returns ErrGateFailed when mode is enforce and any check failed.
func Enforce(s *Summary, mode string) error {
	if mode != ModeEnforce || s == nil || s.AllPassed {
		return nil
	}
	return fmt.Errorf("%w: %d of %d checks failed", ErrGateFailed, s.Failed, s.Total)
}

func computeOverallStatus(results []CheckResult) string {
	if len(results) == 0 {
		return "PASS"
	}
	failCount := 0
	for _, r := range results {
		if !r.Passed {
			failCount++
		}
	}
	if failCount == 0 {
		return "PASS"
	}
	if failCount == len(results) {
		return "FAIL"
	}
	return "PARTIAL"
}

func formatValue(v *float64) any {
	if v == nil {
		return "NULL"
	}
	return *v
}

// WriteJSON writes the summary to path.
func WriteJSON(s *Summary, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating report directory: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling quality report: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadJSON reads a summary written by WriteJSON.
func ReadJSON(path string) (*Summary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading quality report: %w", err)
	}
	s := &Summary{}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parsing quality report: %w", err)
	}
	return s, nil
}
