// Package events defines ralph's run-level event stream and a daily
// rotated JSONL writer for it. Grounded on the teacher's eventlog.Writer:
// same mutex-guarded rotate-on-write-with-fsync discipline, carrying
// ralph's own typed event union instead of agent protocol messages.
package events

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Kind tags the event union named in SPEC_FULL.md §6.
type Kind string

const (
	KindStoryStarted            Kind = "story_started"
	KindIterationUpdate         Kind = "iteration_update"
	KindGateUpdate              Kind = "gate_update"
	KindStoryCompleted          Kind = "story_completed"
	KindStoryFailed             Kind = "story_failed"
	KindConflictDeferred        Kind = "conflict_deferred"
	KindReconciliationStatus    Kind = "reconciliation_status"
	KindSequentialRetryStarted  Kind = "sequential_retry_started"
	KindGracefulQuitRequested   Kind = "graceful_quit_requested"
	KindImmediateInterrupt      Kind = "immediate_interrupt"
)

// Event is one run-level notification. Fields beyond Kind/StoryID/Message
// are carried loosely in Data so the union doesn't need one Go type per
// kind.
type Event struct {
	Time    time.Time      `json:"time"`
	Kind    Kind           `json:"kind"`
	StoryID string         `json:"storyId,omitempty"`
	Message string         `json:"message,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// Writer appends events to a daily rotated JSONL log.
type Writer struct {
	dir         string
	mu          sync.Mutex
	currentFile *os.File
	currentDate string
}

// NewWriter creates a Writer rooted at dir, creating it if necessary.
func NewWriter(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create event log dir: %w", err)
	}
	w := &Writer{dir: dir}
	if err := w.rotateIfNeeded(); err != nil {
		return nil, fmt.Errorf("init event log: %w", err)
	}
	return w, nil
}

// Write appends one event, rotating the log file at day boundaries and
// fsyncing after every write.
func (w *Writer) Write(evt Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.rotateIfNeeded(); err != nil {
		return fmt.Errorf("rotate event log: %w", err)
	}

	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := w.currentFile.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return w.currentFile.Sync()
}

func (w *Writer) rotateIfNeeded() error {
	today := time.Now().UTC().Format("2006-01-02")
	if w.currentFile != nil && w.currentDate == today {
		return nil
	}
	if w.currentFile != nil {
		if err := w.currentFile.Close(); err != nil {
			return err
		}
	}
	path := filepath.Join(w.dir, fmt.Sprintf("events-%s.jsonl", today))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	w.currentFile = f
	w.currentDate = today
	return nil
}

// Close closes the active log file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.currentFile == nil {
		return nil
	}
	err := w.currentFile.Close()
	w.currentFile = nil
	return err
}

// Bus is an in-process fan-out of events to a single buffered channel, the
// "message-passing alternative architecture" named in spec.md §9: THE CORE
// only emits; an embedding CLI/TUI (out of scope here) would be the
// consumer.
type Bus struct {
	ch chan Event
}

// NewBus creates a Bus with the given channel capacity.
func NewBus(capacity int) *Bus {
	return &Bus{ch: make(chan Event, capacity)}
}

// Emit sends non-blockingly; a full channel drops the event rather than
// stalling the scheduler.
func (b *Bus) Emit(evt Event) {
	select {
	case b.ch <- evt:
	default:
	}
}

// Subscribe returns the receive side of the bus's channel.
func (b *Bus) Subscribe() <-chan Event { return b.ch }
