// Package state persists pipeline progress between invocations so that
// `marquee status` can report the last run and individual stage commands can
// warn when an upstream stage has not completed.
package state

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Stage names a pipeline stage.
type Stage string

const (
	StageLoad      Stage = "load"
	StageTransform Stage = "transform"
	StageQuality   Stage = "quality"
	StageWarehouse Stage = "warehouse"
	StageAnalytics Stage = "analytics"
)

// Stages lists the pipeline stages in execution order.
var Stages = []Stage{StageLoad, StageTransform, StageQuality, StageWarehouse, StageAnalytics}

// Stage and run statuses.
const (
	StatusPending  = "pending"
	StatusRunning  = "running"
	StatusComplete = "complete"
	StatusFailed   = "failed"
	StatusSkipped  = "skipped"
)

// State holds the progress of the most recent run.
type State struct {
	RunID       string                `yaml:"run_id,omitempty"`
	Status      string                `yaml:"status"`
	StartedAt   time.Time             `yaml:"started_at,omitempty"`
	CompletedAt time.Time             `yaml:"completed_at,omitempty"`
	LastUpdated time.Time             `yaml:"last_updated"`
	Stages      map[Stage]*StageState `yaml:"stages,omitempty"`
	ReportPath  string                `yaml:"report_path,omitempty"`
}

// StageState tracks a single stage.
type StageState struct {
	Status      string    `yaml:"status"`
	Attempts    int       `yaml:"attempts,omitempty"`
	StartedAt   time.Time `yaml:"started_at,omitempty"`
	CompletedAt time.Time `yaml:"completed_at,omitempty"`
	Error       string    `yaml:"error,omitempty"`
}

// Load reads state from disk. A missing file yields a fresh state.
func Load(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return New(""), nil
		}
		return nil, fmt.Errorf("reading state: %w", err)
	}

	s := &State{}
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parsing state: %w", err)
	}
	if s.Stages == nil {
		s.Stages = make(map[Stage]*StageState)
	}
	return s, nil
}

// Save writes state to disk.
func (s *State) Save(path string) error {
	s.LastUpdated = time.Now().UTC()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshaling state: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// New creates a state for a run with every stage pending.
func New(runID string) *State {
	s := &State{
		RunID:       runID,
		Status:      StatusPending,
		LastUpdated: time.Now().UTC(),
		Stages:      make(map[Stage]*StageState, len(Stages)),
	}
	for _, st := range Stages {
		s.Stages[st] = &StageState{Status: StatusPending}
	}
	return s
}

func (s *State) stage(st Stage) *StageState {
	ss, ok := s.Stages[st]
	if !ok {
		ss = &StageState{Status: StatusPending}
		s.Stages[st] = ss
	}
	return ss
}

// StartStage marks a stage attempt as running.
func (s *State) StartStage(st Stage) {
	ss := s.stage(st)
	if ss.Status != StatusRunning {
		ss.StartedAt = time.Now().UTC()
	}
	ss.Status = StatusRunning
	ss.Attempts++
	ss.Error = ""
	s.Status = StatusRunning
}

// CompleteStage marks a stage as complete.
func (s *State) CompleteStage(st Stage) {
	ss := s.stage(st)
	ss.Status = StatusComplete
	ss.CompletedAt = time.Now().UTC()
	ss.Error = ""
}

// FailStage marks a stage as failed with err.
func (s *State) FailStage(st Stage, err error) {
	ss := s.stage(st)
	ss.Status = StatusFailed
	ss.CompletedAt = time.Now().UTC()
	if err != nil {
		ss.Error = err.Error()
	}
}

// SkipStage marks a stage as skipped.
func (s *State) SkipStage(st Stage) {
	s.stage(st).Status = StatusSkipped
}

// IsStageComplete reports whether st completed in the recorded run.
func (s *State) IsStageComplete(st Stage) bool {
	ss, ok := s.Stages[st]
	return ok && ss.Status == StatusComplete
}

// Finish records the overall outcome of the run.
func (s *State) Finish(err error) {
	s.CompletedAt = time.Now().UTC()
	if err != nil {
		s.Status = StatusFailed
		return
	}
	s.Status = StatusComplete
}
