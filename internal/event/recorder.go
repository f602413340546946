package event

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Recorder appends one timestamped JSONL line per event to the session log.
// Thread-safe; the file is opened in append mode so multiple process runs
// accumulate into the same log.
type Recorder struct {
	mu   sync.Mutex
	file *os.File
}

// recordLine is the persisted shape of one event.
type recordLine struct {
	Timestamp string            `json:"ts"`
	Kind      Kind              `json:"kind"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// NewRecorder opens (or creates) the session log at path.
func NewRecorder(path string) (*Recorder, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("cannot open session log: %w", err)
	}
	return &Recorder{file: f}, nil
}

// Record writes one event as a single JSON line.
func (r *Recorder) Record(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	line := recordLine{
		Timestamp: time.Now().Format(time.RFC3339Nano),
		Kind:      e.Kind,
		Content:   e.Content,
		Metadata:  e.Metadata,
	}
	data, err := json.Marshal(line)
	if err != nil {
		return
	}
	r.file.Write(append(data, '\n'))
}

// Sink adapts the recorder into an event sink.
func (r *Recorder) Sink() Sink {
	return r.Record
}

// Close closes the underlying file.
func (r *Recorder) Close() error {
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}

// Trajectory accumulates decision points (tool selections, failovers, error
// recoveries) for one session and writes them out as a single JSON document.
type Trajectory struct {
	mu     sync.Mutex
	path   string
	points []trajectoryPoint
}

type trajectoryPoint struct {
	Timestamp string `json:"ts"`
	Kind      string `json:"kind"`
	Detail    string `json:"detail"`
}

// NewTrajectory creates a trajectory writer targeting path. Nothing is
// written until Flush.
func NewTrajectory(path string) *Trajectory {
	return &Trajectory{path: path}
}

// Add records one decision point.
func (t *Trajectory) Add(kind, detail string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.points = append(t.points, trajectoryPoint{
		Timestamp: time.Now().Format(time.RFC3339Nano),
		Kind:      kind,
		Detail:    detail,
	})
}

// Flush writes the accumulated decision points to disk, replacing any prior
// content. Called when a turn drains, including on abort.
func (t *Trajectory) Flush() error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	data, err := json.MarshalIndent(struct {
		Points []trajectoryPoint `json:"points"`
	}{Points: t.points}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal trajectory: %w", err)
	}
	if err := os.WriteFile(t.path, data, 0o644); err != nil {
		return fmt.Errorf("write trajectory: %w", err)
	}
	return nil
}
