// Package history records a summary of every pipeline run in MongoDB.
package history

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/marquee/marquee/internal/report"
)

// Entry is the document stored for one run.
type Entry struct {
	RunID         string           `bson:"run_id" json:"run_id"`
	Status        string           `bson:"status" json:"status"`
	StartedAt     time.Time        `bson:"started_at" json:"started_at"`
	CompletedAt   time.Time        `bson:"completed_at" json:"completed_at"`
	Seconds       float64          `bson:"duration_seconds" json:"duration_seconds"`
	Driver        string           `bson:"driver" json:"driver"`
	Stages        []StageEntry     `bson:"stages" json:"stages"`
	Tables        map[string]int64 `bson:"tables,omitempty" json:"tables,omitempty"`
	QualityStatus string           `bson:"quality_status,omitempty" json:"quality_status,omitempty"`
	QualityFailed []string         `bson:"quality_failed,omitempty" json:"quality_failed,omitempty"`
	Artifacts     int              `bson:"artifacts" json:"artifacts"`
}

// StageEntry is one stage within an Entry.
type StageEntry struct {
	Name     string  `bson:"name" json:"name"`
	Status   string  `bson:"status" json:"status"`
	Attempts int     `bson:"attempts" json:"attempts"`
	Seconds  float64 `bson:"duration_seconds" json:"duration_seconds"`
	Error    string  `bson:"error,omitempty" json:"error,omitempty"`
}

// Recorder stores and lists run entries.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
	Recent(ctx context.Context, limit int) ([]Entry, error)
	Close(ctx context.Context) error
}

// FromReport converts a finished run report into an Entry.
func FromReport(r *report.RunReport) Entry {
	e := Entry{
		RunID:       r.RunID,
		Status:      r.Status,
		StartedAt:   r.StartedAt.UTC(),
		CompletedAt: r.CompletedAt.UTC(),
		Driver:      r.Database.Driver,
		Tables:      r.Tables,
		Artifacts:   len(r.Artifacts),
	}
	if !r.CompletedAt.IsZero() {
		e.Seconds = r.CompletedAt.Sub(r.StartedAt).Seconds()
	}
	for _, s := range r.Stages {
		e.Stages = append(e.Stages, StageEntry{
			Name:     s.Name,
			Status:   s.Status,
			Attempts: s.Attempts,
			Seconds:  s.Duration.Seconds(),
			Error:    s.Error,
		})
	}
	if r.Quality != nil {
		e.QualityStatus = r.Quality.Status
		e.QualityFailed = r.Quality.Failures
	}
	return e
}

// MemoryRecorder keeps entries in memory. It backs tests and runs without a
// configured history store.
type MemoryRecorder struct {
	RecordErr error

	mu      sync.Mutex
	entries []Entry
}

// Record appends e.
func (m *MemoryRecorder) Record(_ context.Context, e Entry) error {
	if m.RecordErr != nil {
		return m.RecordErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

// Recent returns up to limit entries, newest first.
func (m *MemoryRecorder) Recent(_ context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive")
	}
	m.mu.Lock()
	out := append([]Entry(nil), m.entries...)
	m.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Close is a no-op.
func (m *MemoryRecorder) Close(context.Context) error { return nil }
